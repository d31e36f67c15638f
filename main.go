// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Command chatwire is a minimal demonstration client for the chatwire
// core: it sends one message through a stream session, merges the reply
// into the conversation cache, and (optionally) follows live events on
// the bus. The real consumer of this module is a chat UI; this binary
// exists to exercise the full surface from a terminal.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"

	"github.com/morganforge/chatwire/internal/auth"
	"github.com/morganforge/chatwire/internal/bus"
	"github.com/morganforge/chatwire/internal/config"
	"github.com/morganforge/chatwire/internal/convo"
	"github.com/morganforge/chatwire/internal/model"
	"github.com/morganforge/chatwire/internal/stream"
)

func main() {
	var (
		configPath   = flag.String("config", config.DefaultPath(), "config file path")
		conversation = flag.String("conversation", "", "conversation id (empty starts a new one)")
		message      = flag.String("message", "", "message text to send")
		attach       = flag.String("attach", "", "path of a file to attach (disables streaming)")
		follow       = flag.Bool("follow", false, "stay connected to the event bus after the reply")
	)
	flag.Parse()

	if *message == "" {
		fmt.Fprintln(os.Stderr, "usage: chatwire -message \"...\" [-conversation id] [-attach file] [-follow]")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := run(cfg, *conversation, *message, *attach, *follow); err != nil {
		log.Fatalf("chatwire: %v", err)
	}
}

func run(cfg *config.Config, conversationID, message, attachPath string, follow bool) error {
	tokens := auth.Env{Var: "CHATWIRE_TOKEN"}

	key := conversationID
	if key == "" {
		key = model.NewLocalID()
	}

	cache := convo.NewCache(convo.Config{
		TTL:         cfg.Cache.TTL(),
		MaxMessages: cfg.Cache.MaxMessages,
	})

	client := stream.NewClient(stream.Config{
		BaseURL:    cfg.Stream.BaseURL,
		Tokens:     tokens,
		Timeout:    cfg.Stream.Timeout(),
		TokenDelay: cfg.Stream.TokenDelay(),
	})

	payload := stream.SendPayload{ConversationID: conversationID, Message: message}
	if attachPath != "" {
		data, err := os.ReadFile(attachPath)
		if err != nil {
			return fmt.Errorf("failed to read attachment: %w", err)
		}
		payload.Attachment = data
	}

	local := model.NewLocalMessage(key, message)
	cache.OptimisticInsert(key, local)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	session, err := client.Open(ctx, payload)
	if err != nil {
		cache.MarkFailed(key, local.ID, err.Error())
		return err
	}

	placeholderID, err := cache.BeginStream(key)
	if err != nil {
		session.Cancel()
		return err
	}

	go func() {
		<-ctx.Done()
		session.Cancel()
	}()

	for {
		tok, err := session.Next()
		if err == io.EOF {
			cache.ApplyStreamPatch(key, placeholderID, "", true, session.Metadata(), session.Stats())
			cache.ConfirmSend(key, local.ID, "")
			break
		}
		if err != nil {
			cache.MarkFailed(key, placeholderID, err.Error())
			return err
		}
		cache.ApplyStreamPatch(key, placeholderID, tok, false, nil, nil)
		fmt.Print(tok)
	}
	fmt.Println()

	if stats := session.Stats(); stats != nil && stats.TokenCount > 0 {
		fmt.Printf("[%d tokens, %.1f tok/s, ttft %s]\n",
			stats.TokenCount, stats.TokensPerSecond, stats.TTFT)
	}

	if !follow {
		return nil
	}
	return followEvents(ctx, cfg, tokens, cache, key)
}

// followEvents keeps the bus connection open, merging push events into
// the cache until interrupted.
func followEvents(ctx context.Context, cfg *config.Config, tokens auth.TokenProvider, cache *convo.Cache, key string) error {
	client := bus.NewClient(bus.Config{
		URL:              cfg.Bus.URL,
		Tokens:           tokens,
		TokenInQuery:     cfg.Bus.TokenInQuery,
		ReconnectBase:    cfg.Bus.ReconnectBase(),
		ReconnectMax:     cfg.Bus.ReconnectMax(),
		HeartbeatTimeout: cfg.Bus.HeartbeatTimeout(),
	})
	defer client.Disconnect()

	for _, eventType := range []string{
		model.EventMessageCreated,
		model.EventMessageDelivered,
		model.EventMessageRead,
	} {
		client.On(eventType, func(ev model.Event) {
			cache.ApplyExternalEvent(key, ev)
			fmt.Printf("\n[event] %s\n", ev.Type)
		})
	}

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("bus connect: %w", err)
	}
	<-ctx.Done()
	return nil
}
