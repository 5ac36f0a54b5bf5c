package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/maiazelda/vinted-lens-project/internal/config"
	"github.com/maiazelda/vinted-lens-project/internal/infrastructure/crawler"
	"github.com/maiazelda/vinted-lens-project/internal/infrastructure/vinted"
	"github.com/maiazelda/vinted-lens-project/internal/logging"
)

// catalogcrawl walks the portal's catalog pages and exports the category
// hierarchy as a flat CSV.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	logger := logging.New(cfg.Logging.Level)

	client := vinted.NewClient(cfg.Source.BaseURL, cfg.Crawler.Delay,
		cfg.Source.RequestTimeout, nil, logger.With("component", "vinted"))
	c := crawler.New(client, cfg.Crawler.MaxPages, cfg.Crawler.Delay,
		logger.With("component", "crawler"))

	nodes, err := c.Run(ctx, cfg.Crawler.SeedURL)
	if err != nil {
		logger.Error("crawl interrupted", "error", err, "categories", len(nodes))
	}

	if err := crawler.WriteCSV(cfg.Crawler.OutputPath, nodes); err != nil {
		logger.Error("export failed", "error", err)
		os.Exit(1)
	}
	logger.Info("hierarchy exported", "path", cfg.Crawler.OutputPath, "categories", len(nodes))
}
