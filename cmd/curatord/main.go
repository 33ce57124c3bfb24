// Package main provides the curator daemon entry point.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/goodpocket/curator/internal/batch"
	"github.com/goodpocket/curator/internal/cluster"
	"github.com/goodpocket/curator/internal/config"
	"github.com/goodpocket/curator/internal/db"
	"github.com/goodpocket/curator/internal/embedding"
	"github.com/goodpocket/curator/internal/server"
	"github.com/goodpocket/curator/internal/topic"
	"github.com/goodpocket/curator/internal/watcher"
	"gorm.io/gorm/logger"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	// Parse flags
	addr := flag.String("addr", "", "HTTP listen address (default from settings)")
	dbURL := flag.String("db", "", "Database URL or sqlite path (default from settings)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

	if err := config.EnsureAll(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure data directory")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
		cfg = config.Default()
	}
	if !*debug && cfg.LogLevel != "" {
		if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
			zerolog.SetGlobalLevel(level)
		}
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}
	if *dbURL != "" {
		cfg.DatabaseURL = *dbURL
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("Shutting down")
		cancel()
	}()

	store, err := db.NewStore(db.Config{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.MaxConns,
		LogLevel: logger.Silent,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize store")
	}
	defer store.Close()

	embedder := embedding.NewHTTPEmbedder(cfg.EmbedderURL, cfg.EmbedDim, 30*time.Second)
	adapter, err := embedding.NewAdapter(embedder, cfg.MaxTokens)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize embedding adapter")
	}

	stores := batch.NewStores(store)
	orch := batch.NewOrchestrator(batch.Config{
		ChunkSize: cfg.ChunkSize,
		Cluster: cluster.Config{
			MinCorpus:      cfg.Cluster.MinCorpus,
			MinClusterSize: cfg.Cluster.MinClusterSize,
			NeighborCount:  cfg.Cluster.NeighborCount,
			TargetDim:      cfg.Cluster.TargetDim,
			MaxFullCorpus:  cfg.Cluster.MaxFullCorpus,
		},
		Topic: topic.Config{
			MaxFanout:        cfg.Topic.MaxFanout,
			JaccardThreshold: cfg.Topic.JaccardThreshold,
			TopTags:          cfg.Topic.TopTags,
		},
	}, stores, adapter, log.Logger)

	// Reload on settings edits. Pipeline tunables apply on the next daemon
	// start; the watcher covers log level, which is safe to flip live.
	settingsWatcher, err := watcher.New(config.SettingsPath(), func() {
		fresh, err := config.Load()
		if err != nil {
			return
		}
		if level, err := zerolog.ParseLevel(fresh.LogLevel); err == nil {
			zerolog.SetGlobalLevel(level)
			log.Info().Str("level", level.String()).Msg("Log level updated")
		}
	})
	if err != nil {
		log.Warn().Err(err).Msg("Settings watcher unavailable")
	} else if err := settingsWatcher.Start(); err == nil {
		defer settingsWatcher.Stop()
	}

	sched := batch.NewScheduler(orch, cfg.SweepInterval, cfg.SweepConcurrency, log.Logger)
	go sched.Start(ctx)

	svc := server.NewService(orch, stores, log.Logger)
	log.Info().Str("version", Version).Str("addr", cfg.HTTPAddr).Msg("curator daemon starting")
	if err := svc.Start(ctx, cfg.HTTPAddr); err != nil {
		log.Fatal().Err(err).Msg("HTTP server failed")
	}
}
