// orchid - streaming backend for AI character chat.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/morganforge/orchid/internal/cloud"
	"github.com/morganforge/orchid/internal/config"
	"github.com/morganforge/orchid/internal/keypool"
	"github.com/morganforge/orchid/internal/server"
	"github.com/morganforge/orchid/internal/storage"
)

// shutdownGrace is how long in-flight requests get to finish on shutdown.
const shutdownGrace = 10 * time.Second

func main() {
	// A local .env is a development convenience; absence is not an error.
	if err := godotenv.Load(); err == nil {
		log.Printf("ENV_LOADED | file=.env")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Printf("CONFIG_INVALID | error=%v", err)
		os.Exit(1)
	}

	pool := keypool.New(cfg.APIKeys)
	if !pool.IsConfigured() {
		log.Printf("KEYS_MISSING | set %s to enable upstream calls", keypool.EnvVar)
	} else {
		log.Printf("KEYS_LOADED | count=%d", pool.Size())
	}

	client := cloud.NewClient(pool).
		WithBaseURL(cfg.Upstream.BaseURL).
		WithSite(cfg.Upstream.SiteURL, cfg.Upstream.SiteName).
		WithRequestTimeout(time.Duration(cfg.Upstream.RequestTimeoutSecs) * time.Second).
		WithStreamTimeout(time.Duration(cfg.Upstream.StreamTimeoutSecs) * time.Second)

	settings, err := storage.NewSettingsStore(cfg.Storage.DataDir)
	if err != nil {
		log.Printf("SETTINGS_INIT_FAILED | error=%v", err)
		os.Exit(1)
	}

	watcher, err := storage.NewSettingsWatcher(settings)
	if err != nil {
		// Hot reload is optional; the server still works with the snapshot
		// loaded at startup.
		log.Printf("SETTINGS_WATCH_UNAVAILABLE | error=%v", err)
	} else {
		defer watcher.Close()
	}

	conversations, err := storage.NewConversationStore(cfg.Storage.DataDir, cfg.Storage.MaxConversations)
	if err != nil {
		log.Printf("STORAGE_INIT_FAILED | error=%v", err)
		os.Exit(1)
	}

	srv := server.NewServer(cfg, client, settings, conversations)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Printf("SERVER_FAILED | error=%v", err)
		os.Exit(1)
	case sig := <-stop:
		log.Printf("SIGNAL_RECEIVED | signal=%v", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("SHUTDOWN_ERROR | error=%v", err)
		os.Exit(1)
	}
	log.Printf("SHUTDOWN_COMPLETE")
}
