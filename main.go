// doctor-assist - Clinical chat relay between doctors and Gemini.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jeranaias/doctor-assist/internal/auth"
	"github.com/jeranaias/doctor-assist/internal/config"
	"github.com/jeranaias/doctor-assist/internal/gemini"
	"github.com/jeranaias/doctor-assist/internal/ratelimit"
	"github.com/jeranaias/doctor-assist/internal/server"
	"github.com/jeranaias/doctor-assist/internal/storage"
)

// Version information (set at build time)
var (
	Version   = "1.0.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

const (
	sessionSweepInterval = 15 * time.Minute
	shutdownTimeout      = 10 * time.Second
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to config file (TOML or JSON)")
		addr        = flag.String("addr", "", "listen address (overrides config)")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("doctor-assist %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
		return
	}

	if err := run(*configPath, *addr); err != nil {
		log.Printf("FATAL | error=%v", err)
		os.Exit(1)
	}
}

func run(configPath, addrOverride string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	config.SetGlobal(cfg)

	addr := cfg.Server.Addr
	if addrOverride != "" {
		addr = addrOverride
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Account storage.
	dbPath, err := cfg.DBPath()
	if err != nil {
		return fmt.Errorf("resolve db path: %w", err)
	}
	store, err := storage.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()
	log.Printf("STORAGE_READY | path=%s", dbPath)

	// Sessions.
	sessions := auth.NewManager(time.Duration(cfg.Server.SessionTTLHours) * time.Hour)
	sessions.StartSweeper(ctx, sessionSweepInterval)

	// Admission control.
	limiter := ratelimit.New(cfg.RateLimit.Limit, time.Duration(cfg.RateLimit.WindowSecs)*time.Second)
	if cfg.RateLimit.EvictionEnabled {
		limiter.StartEviction(ctx)
	}

	// Upstream provider.
	client := gemini.NewClient(cfg.Gemini.APIKey).
		WithModel(cfg.Gemini.Model).
		WithTimeout(time.Duration(cfg.Gemini.TimeoutSecs) * time.Second).
		WithMaxRetries(cfg.Gemini.MaxRetries).
		WithRequestsPerMinute(cfg.Gemini.RequestsPerMinute)
	if cfg.Gemini.BaseURL != "" {
		client = client.WithBaseURL(cfg.Gemini.BaseURL)
	}
	if !client.IsConfigured() {
		// The server still starts: account endpoints work, the relay
		// answers 500 until a key is configured.
		log.Printf("GEMINI_NOT_CONFIGURED | set GEMINI_API_KEY to enable the relay")
	} else {
		log.Printf("GEMINI_READY | model=%s key=%s", client.Model(), client.APIKeyMasked())
	}

	srv := server.NewServer(addr).
		WithGenerator(client).
		WithStore(store).
		WithSessions(sessions).
		WithLimiter(limiter)

	// Hot-reload rate limits when the config file changes on disk.
	if watchPath := configFileToWatch(configPath); watchPath != "" {
		watcher, err := config.NewWatcher(watchPath, func(updated *config.Config) {
			srv.Limiter().SetLimits(
				updated.RateLimit.Limit,
				time.Duration(updated.RateLimit.WindowSecs)*time.Second)
		})
		if err != nil {
			log.Printf("CONFIG_WATCH_UNAVAILABLE | path=%s error=%v", watchPath, err)
		} else if err := watcher.Watch(); err != nil {
			log.Printf("CONFIG_WATCH_UNAVAILABLE | path=%s error=%v", watchPath, err)
		} else {
			defer watcher.Close()
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Printf("SERVER_STOPPING | reason=signal")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// loadConfig resolves the effective configuration: an explicit path wins,
// otherwise the standard lookup order applies.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

// configFileToWatch picks the file the hot-reload watcher should track.
func configFileToWatch(explicit string) string {
	if explicit != "" {
		return explicit
	}
	path, err := config.ConfigPathTOML()
	if err != nil {
		return ""
	}
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}
