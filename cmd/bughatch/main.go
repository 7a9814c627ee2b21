package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"bughatch/internal/app"
	"bughatch/internal/blob"
	"bughatch/internal/config"
	"bughatch/internal/demo"
	"bughatch/internal/email"
	"bughatch/internal/export"
	"bughatch/internal/outbox"
	"bughatch/internal/search"
	"bughatch/internal/store"
	"bughatch/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		slog.Error("bughatch stopped", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Options{
		Enabled:     cfg.OTelEnabled,
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: cfg.OTelServiceName,
	})
	if err != nil {
		return fmt.Errorf("telemetry setup: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown", "err", err)
		}
	}()

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	docs := store.NewDocuments(backend, nil)
	defer func() {
		if err := docs.Close(); err != nil {
			logger.Warn("close backend", "err", err)
		}
	}()
	logger.Info("storage ready", "backend", cfg.Backend)

	for _, id := range []store.StoreID{store.Primary, store.Demo} {
		if _, err := docs.Load(ctx, id); err != nil {
			return fmt.Errorf("load %s document: %w", id, err)
		}
	}
	if cfg.SeedDemo {
		seeded, err := demo.Seed(ctx, docs, cfg.ForceSeed)
		if err != nil {
			return fmt.Errorf("seed demo: %w", err)
		}
		logger.Info("demo dataset", "seeded", seeded)
	}

	remover, err := openRemover(cfg)
	if err != nil {
		return err
	}

	var (
		meiliClient *search.Meili
		sinks       []outbox.Sink
	)
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
		sinks = append(sinks, search.NewIndexSink(meiliClient, docs))
	} else {
		sinks = append(sinks, outbox.LogSink{Logger: logger})
	}

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if mailer.IsConfigured() {
		sinks = append(sinks, email.NewInvitationSink(mailer, docs, cfg.PublicURL))
	}

	var searchService *search.Service
	if meiliClient != nil {
		searchService = search.NewService(meiliClient, docs, logger)
		if n, err := searchService.Reindex(ctx); err != nil {
			logger.Warn("initial reindex failed", "err", err)
		} else {
			logger.Info("search index ready", "issues", n)
		}
	} else {
		searchService = search.NewService(nil, docs, logger)
	}

	exporter := export.NewService(
		export.WithChromePath(cfg.ChromePath),
		export.WithPaper(export.ParsePaper(cfg.ExportPaper)),
	)
	service := app.New(docs,
		app.WithRemover(remover),
		app.WithSearch(searchService),
		app.WithExporter(exporter),
		app.WithBootstrapAdmins(cfg.AdminEmails...),
		app.WithLogger(logger),
	)
	if err := service.Ping(ctx); err != nil {
		return fmt.Errorf("ping storage: %w", err)
	}

	relay := outbox.NewRelay(docs, sinks,
		outbox.WithInterval(cfg.OutboxInterval),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetention(cfg.OutboxRetention),
		outbox.WithLogger(logger),
	)
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		relay.Run(ctx)
	}()

	logger.Info("bughatch running")
	<-ctx.Done()
	logger.Info("shutting down")
	<-relayDone
	return nil
}

func openBackend(ctx context.Context, cfg config.Config) (store.Backend, error) {
	if cfg.Backend != config.BackendPostgres && cfg.Backend != config.BackendRedis {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	switch cfg.Backend {
	case config.BackendFile:
		return store.NewFileBackend(cfg.DataDir)
	case config.BackendSQLite:
		return store.NewSQLiteBackend(ctx, filepath.Join(cfg.DataDir, "bughatch.db"))
	case config.BackendPostgres:
		return store.NewPostgresBackend(ctx, cfg.DatabaseURL)
	case config.BackendBolt:
		return store.NewBoltBackend(filepath.Join(cfg.DataDir, "bughatch.bolt"))
	case config.BackendRedis:
		return store.NewRedisBackend(cfg.RedisURL)
	case config.BackendGit:
		return store.NewGitBackend(filepath.Join(cfg.DataDir, "repo"), cfg.GitAuthor)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func openRemover(cfg config.Config) (blob.Remover, error) {
	if strings.TrimSpace(cfg.MinioEndpoint) == "" {
		return blob.NewFSRemover(cfg.UploadDir), nil
	}
	remover, err := blob.NewMinioRemover(blob.MinioConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		Region:    cfg.MinioRegion,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("attachment storage: %w", err)
	}
	return remover, nil
}
