package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"onebreath/internal/analysis"
	"onebreath/internal/api"
	"onebreath/internal/auth"
	"onebreath/internal/blob"
	"onebreath/internal/config"
	"onebreath/internal/export"
	"onebreath/internal/lifecycle"
	"onebreath/internal/llm"
	"onebreath/internal/notify"
	"onebreath/internal/observability"
	"onebreath/internal/persistence"
	"onebreath/pkg/domain"
)

// app holds the wired service graph shared by every subcommand.
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	logs     *observability.LogSink
	metrics  *observability.Metrics
	clock    domain.Clock
	store    domain.Store
	blobs    blob.Store
	notifier notify.Notifier
	monitor  *lifecycle.Monitor
	backuper *export.Backuper
}

func loadConfig(opts *rootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return config.Config{}, err
	}
	if opts.verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// newApp opens the store, blob backend and notifier. Callers must Close it.
func newApp(ctx context.Context, cfg config.Config, logOut io.Writer) (*app, error) {
	logger, logs, err := observability.NewLogger(cfg.Logging, writeSyncer(logOut))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a := &app{
		cfg:     cfg,
		logger:  logger,
		logs:    logs,
		metrics: observability.NewMetrics(),
		clock:   domain.SystemClock{},
	}
	store, err := persistence.Open(ctx, cfg.Store, a.clock)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	a.store = persistence.Instrument(store, a.metrics)
	a.blobs, err = blob.Open(ctx, cfg.Blob)
	if err != nil {
		_ = store.Close(ctx)
		return nil, fmt.Errorf("open %s blob store: %w", cfg.Blob.Driver, err)
	}
	a.notifier, err = notify.FromConfig(cfg.Mail, cfg.SMS, logger)
	if err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("init notifier: %w", err)
	}
	a.monitor = lifecycle.NewMonitor(a.store, a.notifier, lifecycle.Config{
		Interval:        cfg.Monitor.Interval,
		NudgeInterval:   cfg.Monitor.NudgeInterval,
		SweepTimeout:    cfg.Monitor.SweepTimeout,
		NotifyOnFailure: cfg.Monitor.NotifyOnFailure,
	},
		lifecycle.WithClock(a.clock),
		lifecycle.WithLogger(logger.Named("lifecycle")),
		lifecycle.WithRecorder(a.metrics),
	)
	a.backuper = export.NewBackuper(a.store, a.blobs, a.clock, cfg.Blob.BackupPrefix, logger.Named("backup"))
	logger.Info("service wired",
		zap.String("store", cfg.Store.Driver),
		zap.String("blob", string(a.blobs.Driver())),
		zap.String("auth", cfg.Auth.Driver))
	return a, nil
}

// server builds the HTTP API including the verifier and the summarizer.
func (a *app) server(ctx context.Context) (*api.Server, error) {
	verifier, err := auth.FromConfig(ctx, a.cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("init auth: %w", err)
	}
	provider, err := llm.New(ctx, a.cfg.LLM, a.logger.Named("llm"))
	if err != nil {
		return nil, fmt.Errorf("init llm: %w", err)
	}
	cache, err := analysis.NewCache(a.cfg.Analysis.CacheCapacity, a.cfg.Analysis.CacheTTL, a.clock)
	if err != nil {
		return nil, fmt.Errorf("init analysis cache: %w", err)
	}
	analyzer := analysis.NewAnalyzer(a.store, cache, provider, analysis.Options{
		MaxRecords:   a.cfg.Analysis.MaxRecords,
		Timeout:      a.cfg.LLM.Timeout,
		MaxRetries:   a.cfg.LLM.MaxRetries,
		RetryBackoff: a.cfg.LLM.RetryBackoff,
	},
		analysis.WithLogger(a.logger.Named("analysis")),
		analysis.WithRecorder(a.metrics),
	)
	return api.NewServer(api.Deps{
		Store:    a.store,
		Blobs:    a.blobs,
		Verifier: verifier,
		Notifier: a.notifier,
		Analyzer: analyzer,
		Monitor:  a.monitor,
		Backuper: a.backuper,
		Logs:     a.logs,
		Metrics:  a.metrics,
		Clock:    a.clock,
		Logger:   a.logger.Named("api"),
	}, api.Config{
		CORSOrigins:        a.cfg.Server.CORSOrigins,
		RequestTimeout:     a.cfg.Server.RequestTimeout,
		RequestHistory:     a.cfg.Server.RequestHistory,
		PresignExpiry:      a.cfg.Blob.PresignExpiry,
		ProcessingDuration: a.cfg.Monitor.ProcessingDuration,
	})
}

// Close releases the store and blob backend.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close(ctx))
	}
	if c, ok := a.blobs.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
