package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maiazelda/vinted-lens-project/internal/config"
	"github.com/maiazelda/vinted-lens-project/internal/fingerprint"
	"github.com/maiazelda/vinted-lens-project/internal/infrastructure/embedding"
	"github.com/maiazelda/vinted-lens-project/internal/infrastructure/images"
	"github.com/maiazelda/vinted-lens-project/internal/infrastructure/scheduler"
	"github.com/maiazelda/vinted-lens-project/internal/infrastructure/storage"
	"github.com/maiazelda/vinted-lens-project/internal/infrastructure/telegram"
	"github.com/maiazelda/vinted-lens-project/internal/infrastructure/vinted"
	"github.com/maiazelda/vinted-lens-project/internal/logging"
	"github.com/maiazelda/vinted-lens-project/internal/ports"
	"github.com/maiazelda/vinted-lens-project/internal/usecase"
)

// Application wires config to the ingestion pipeline and its collaborators.
type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	pipeline *usecase.Pipeline
	targets  []usecase.Target
	notifier ports.Notifier
	closeFn  func()
}

// New builds a runnable application. Store connectivity and configuration
// problems are the only fatal construction errors.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	client := vinted.NewClient(cfg.Source.BaseURL, cfg.Source.MinInterval,
		cfg.Source.RequestTimeout, nil, baseLogger.With("component", "vinted"))

	var (
		store   ports.VectorStore
		closeFn func()
	)
	if cfg.Database.DSN != "" {
		pg, err := storage.NewPostgres(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("open vector store: %w", err)
		}
		store = pg
		closeFn = pg.Close
	} else {
		baseLogger.Warn("no database DSN configured, using in-memory store")
		store = storage.NewMemory()
	}

	fetcher := images.NewFetcher(cfg.Source.BaseURL+"/catalog", cfg.Images.Timeout, nil)
	generator := fingerprint.NewGenerator(embedding.NewClient(cfg.Embedding.Endpoint, cfg.Embedding.APIKey))

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Searcher:      client,
		Store:         store,
		Images:        fetcher,
		Generator:     generator,
		Logger:        baseLogger.With("component", "pipeline"),
		ImageWorkers:  cfg.Images.Workers,
		DownloadDelay: cfg.Images.DownloadDelay,
	})

	var notifier ports.Notifier
	if cfg.Notifications.Telegram.BotToken != "" && cfg.Notifications.Telegram.ChatID != "" {
		notifier = telegram.NewNotifier(cfg.Notifications.Telegram.BotToken, cfg.Notifications.Telegram.ChatID)
	}

	lookback := time.Duration(cfg.Ingest.LookbackDays) * 24 * time.Hour
	targets := make([]usecase.Target, 0, len(cfg.Ingest.Targets))
	for _, t := range cfg.Ingest.Targets {
		targets = append(targets, usecase.Target{
			Name:      t.Name,
			Query:     t.Query,
			CatalogID: t.CatalogID,
			PerPage:   cfg.Ingest.PerPage,
			MaxPages:  cfg.Ingest.MaxPages,
			Lookback:  lookback,
		})
	}

	return &Application{
		cfg:      cfg,
		logger:   baseLogger,
		pipeline: pipeline,
		targets:  targets,
		notifier: notifier,
		closeFn:  closeFn,
	}, nil
}

// Run executes one ingestion pass over all targets, or keeps re-running on the
// configured interval until the context is cancelled.
func (a *Application) Run(ctx context.Context) error {
	defer a.close()

	if a.cfg.Ingest.Interval <= 0 {
		return a.runOnce(ctx)
	}

	driver := scheduler.NewIntervalScheduler(a.cfg.Ingest.Interval)
	if err := driver.Start(ctx, func() {
		if err := a.runOnce(ctx); err != nil {
			a.logger.Error("ingestion pass failed", "error", err)
		}
	}); err != nil {
		return err
	}
	<-ctx.Done()
	return driver.Stop(context.Background())
}

func (a *Application) runOnce(ctx context.Context) error {
	aggregate := &usecase.Summary{}
	var firstErr error
	for _, target := range a.targets {
		summary, err := a.pipeline.Run(ctx, target)
		if summary != nil {
			aggregate.Merge(summary)
		}
		if err != nil {
			a.logger.Error("target failed", "target", target.Name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		a.logger.Info("target done", "target", target.Name, "counts", summary.String())
	}

	a.logger.Info("run complete", "counts", aggregate.String())
	if a.notifier != nil {
		if err := a.notifier.PublishSummary(ctx, "vinted-lens ingest: "+aggregate.String()); err != nil {
			a.logger.Warn("summary notification failed", "error", err)
		}
	}
	return firstErr
}

func (a *Application) close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
