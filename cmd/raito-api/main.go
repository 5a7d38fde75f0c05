package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"raito/internal/billing"
	"raito/internal/concurrency"
	"raito/internal/config"
	server "raito/internal/http"
	"raito/internal/index"
	"raito/internal/jobs"
	"raito/internal/migrate"
	"raito/internal/redisutil"
	"raito/internal/store"
	"raito/internal/zdr"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	cfg := config.Load(*configPath)

	// Run migrations on a short-lived connection
	if err := migrate.Run(cfg.Database.DSN); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	// Create a shared *sql.DB with pooling for the Store
	db, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		log.Fatalf("open db failed: %v", err)
	}
	// Basic pool settings; adjust as needed
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	st := store.New(db)

	// Ensure initial admin API key if configured
	if cfg.Auth.Enabled && cfg.Auth.InitialAdminKey != "" {
		if err := st.EnsureAdminAPIKey(context.Background(), cfg.Auth.InitialAdminKey, "initial-admin"); err != nil {
			log.Fatalf("ensure admin api key failed: %v", err)
		}
	}

	// Set up logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))

	// A nil client means no Redis is configured; every dependent
	// component degrades to its inline/no-op behavior.
	rdb := redisutil.NewFromURL(cfg.Redis.URL)

	rootCtx := context.Background()

	// The result index is Postgres-backed and works without Redis; the
	// governor coordinates across processes through Redis and stays nil
	// (no per-team cap) without it. The batcher queues through Redis
	// when present and otherwise debits each op inline.
	cache := index.NewFromConfig(cfg, st)

	var governor *concurrency.Governor
	if rdb != nil {
		governor = concurrency.NewFromConfig(cfg, rdb)
	}
	batcher := billing.NewFromConfig(cfg, rdb, st, logger)
	go batcher.StartLoop(rootCtx)

	sweeper := zdr.NewFromConfig(cfg, st, logger)
	go sweeper.StartLoop(rootCtx)

	deps := server.WorkerDeps{Governor: governor, Cache: cache, Billing: batcher}
	execs := jobs.Executors{
		Scrape:      server.NewScrapeExecutor(cfg, st, deps),
		Crawl:       server.NewCrawlExecutor(cfg, st, deps),
		Map:         server.NewMapExecutor(cfg, st),
		Extract:     server.NewExtractExecutor(cfg, st),
		BatchScrape: server.NewBatchScrapeExecutor(cfg, st, deps),
	}
	runner := jobs.NewRunner(cfg, st, execs, logger)
	go runner.Start(rootCtx)

	s := server.NewServer(cfg, st, logger, rdb)

	// On shutdown, flush queued billing ops before the process exits so
	// usage recorded in the final window is never dropped.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		if batcher != nil {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = batcher.Flush(flushCtx)
			cancel()
		}
		os.Exit(0)
	}()

	if err := s.Listen(); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
