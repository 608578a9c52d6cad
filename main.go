// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// wolfchat serves the WolfChat backend: persisted chat sessions, a
// cancellable streaming engine over OpenRouter, Groq and Gemini, and the
// browser-facing HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jeranaias/wolfchat/internal/chat"
	"github.com/jeranaias/wolfchat/internal/commands"
	"github.com/jeranaias/wolfchat/internal/config"
	"github.com/jeranaias/wolfchat/internal/logger"
	"github.com/jeranaias/wolfchat/internal/provider"
	"github.com/jeranaias/wolfchat/internal/server"
	"github.com/jeranaias/wolfchat/internal/session"
	"github.com/jeranaias/wolfchat/internal/settings"
	"github.com/jeranaias/wolfchat/internal/storage"
	"github.com/jeranaias/wolfchat/internal/stream"
)

const version = "0.3.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "config file path (default ~/.wolfchat/config.toml)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("wolfchat", version)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	log, logCleanup, err := logger.Setup(cfg.Log.Level, cfg.LogFilePath())
	if err != nil {
		return err
	}
	defer logCleanup()

	store, err := storage.Open(cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer store.Close()

	repo := session.NewRepository(store)

	svc := settings.NewService(store).
		WithFallbackKeys(cfg.Keys.OpenRouter, cfg.Keys.Groq, cfg.Keys.Gemini)

	resolver := provider.NewResolver()
	if cfg.Providers.OpenRouterURL != "" {
		resolver.OpenRouterURL = cfg.Providers.OpenRouterURL
	}
	if cfg.Providers.GroqURL != "" {
		resolver.GroqURL = cfg.Providers.GroqURL
	}
	if cfg.Providers.GeminiBaseURL != "" {
		resolver.GeminiBaseURL = cfg.Providers.GeminiBaseURL
	}

	engine := stream.NewEngine(log).WithReferer(cfg.Providers.Referer)
	registry := commands.NewRegistry(store)

	controller := chat.NewController(repo, resolver, engine, svc, log).
		WithExpander(registry)

	srv := server.New(cfg.Addr(), controller, repo, svc, registry, log)

	// Hot reload: API-key fallbacks apply live, the rest needs a restart.
	stopWatch, err := config.Watch(*configPath, log, func(next *config.Config) {
		svc.WithFallbackKeys(next.Keys.OpenRouter, next.Keys.Groq, next.Keys.Gemini)
	})
	if err != nil {
		log.Warn("config watch unavailable", "error", err)
	} else {
		defer stopWatch()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
	}

	controller.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
