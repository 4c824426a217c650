// Sentinel - real-time transaction compliance pipeline
package main

import (
	"context"
	"database/sql"
	"os"

	_ "github.com/lib/pq"

	"github.com/sentinelhq/sentinel/internal/alert"
	"github.com/sentinelhq/sentinel/internal/config"
	"github.com/sentinelhq/sentinel/internal/enrich"
	"github.com/sentinelhq/sentinel/internal/logging"
	"github.com/sentinelhq/sentinel/internal/pipeline"
	"github.com/sentinelhq/sentinel/internal/realtime"
	"github.com/sentinelhq/sentinel/internal/server"
	"github.com/sentinelhq/sentinel/internal/traces"
	"github.com/sentinelhq/sentinel/internal/watchlist"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "text")

	logger.Info("starting sentinel",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger = logging.New(cfg.LogLevel, logFormat(cfg))

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"transactions", cfg.TransactionsPath,
		"watchlist", cfg.WatchlistPath,
		"window", cfg.WindowDuration,
		"hop", cfg.WindowHop,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTraces, err := traces.Init(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTraces(context.Background()) }()

	table, err := watchlist.Load(cfg.WatchlistPath)
	if err != nil {
		logger.Error("failed to load watchlist", "error", err)
		os.Exit(1)
	}
	if len(table.Duplicates) > 0 {
		logger.Warn("duplicate watchlist entities, first occurrence wins",
			"entities", table.Duplicates)
	}
	if table.Len() == 0 {
		logger.Warn("watchlist is empty, no account will be flagged by the watchlist rule")
	}
	logger.Info("watchlist loaded", "entries", table.Len())

	var db *sql.DB
	var store alert.Store
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		if err := db.Ping(); err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		store = alert.NewPostgresStore(db)
		logger.Info("using postgres alert store")
	} else {
		store = alert.NewMemoryStore()
		logger.Info("using in-memory alert store")
	}

	var narrator enrich.Narrator
	if cfg.GeminiAPIKey != "" {
		gemini, err := enrich.NewGeminiNarrator(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			logger.Warn("gemini narrator unavailable, using rule-based analysis", "error", err)
		} else {
			narrator = gemini
			logger.Info("gemini enrichment enabled", "model", cfg.GeminiModel)
		}
	}
	enricher := enrich.New(narrator, cfg.EnrichTimeout, cfg.EnrichAttempts, logger)

	hub := realtime.NewHub(logger)
	sink := alert.NewSink(cfg.AlertsPath, logging.Component(logger, "sink"))

	pipe := pipeline.New(pipeline.Options{
		Config:   cfg,
		Table:    table,
		Store:    store,
		Sink:     sink,
		Enricher: enricher,
		Hub:      hub,
		Logger:   logging.Component(logger, "pipeline"),
	})
	pipeDone := make(chan struct{})
	go func() {
		pipe.Run(ctx)
		close(pipeDone)
	}()

	srv := server.New(server.Options{
		Config:   cfg,
		Store:    store,
		Table:    table,
		Hub:      hub,
		Pipeline: pipe,
		DB:       db,
		Logger:   logger,
	})

	runErr := srv.Run(ctx)

	// Stop the pipeline after the HTTP server has drained; pipeline shutdown
	// flushes the final window and publishes the sink. This happens even when
	// the server failed so no in-flight alert is dropped.
	cancel()
	<-pipeDone

	if runErr != nil {
		logger.Error("server error", "error", runErr)
		_ = shutdownTraces(context.Background())
		os.Exit(1)
	}
}

func logFormat(cfg *config.Config) string {
	if cfg.IsProduction() {
		return "json"
	}
	return "text"
}
