package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dcarver/catcrawl/internal/api"
	"github.com/dcarver/catcrawl/internal/config"
	"github.com/dcarver/catcrawl/internal/crawl"
	uuidgen "github.com/dcarver/catcrawl/internal/id/uuid"
	"github.com/dcarver/catcrawl/internal/imgmeta"
	"github.com/dcarver/catcrawl/internal/logging"
	"github.com/dcarver/catcrawl/internal/progress"
	"github.com/dcarver/catcrawl/internal/store/jsonl"
	"github.com/dcarver/catcrawl/internal/store/sqlite"
)

func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Run one crawl over the configured catalog source",
		Long: `Discovers product URLs from the configured sitemap or listing,
processes them with the worker pool, and writes items, images, and the
optional JSONL export. The command exits once every discovered URL has
been processed and the store has been flushed.`,
		RunE: runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	logging.InitLogger(cfg.Logging.Development)
	runID, err := uuidgen.NewGenerator().NewID()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}
	logger := logging.L.With(zap.String("run_id", runID))
	defer logger.Sync() //nolint:errcheck

	target, err := cfg.Target()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	throttle := crawl.NewThrottle(target.Delay)
	retry := crawl.NewExponentialRetryPolicy(cfg.Crawler.MaxRetries, cfg.Crawler.RetryBackoff)

	fetcher, err := crawl.NewCollyFetcher(target, throttle, logger)
	if err != nil {
		return fmt.Errorf("init fetcher: %w", err)
	}

	var source crawl.URLSource
	if target.SitemapURL != "" {
		source = crawl.NewSitemapResolver(target, throttle, retry, logger)
	} else {
		source = crawl.NewListingResolver(target, fetcher, 0, logger)
	}

	renderer, err := buildRenderer(cfg, target, throttle, logger)
	if err != nil {
		return err
	}
	if renderer != nil {
		defer func() {
			if cerr := renderer.Close(context.Background()); cerr != nil {
				logger.Warn("close renderer", zap.Error(cerr))
			}
		}()
	}
	detector := crawl.NewRenderDetector(cfg.Detector.MinHTMLBytes, cfg.Detector.Selectors, cfg.Detector.Keywords)

	if dir := filepath.Dir(target.StorePath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create store dir: %w", err)
		}
	}
	store, err := sqlite.Open(target.StorePath, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Warn("close store", zap.Error(cerr))
		}
	}()

	var exporter crawl.Exporter
	if target.ExportPath != "" {
		jsonlExporter, err := jsonl.Create(target.ExportPath)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := jsonlExporter.Close(); cerr != nil {
				logger.Warn("close export file", zap.Error(cerr))
			}
		}()
		exporter = jsonlExporter
	}

	images := crawl.NewImageDownloader(target, throttle, imgmeta.New(), logger)
	tracker := progress.NewTracker(logger, target.ProgressInterval)

	if cfg.Metrics.Enabled {
		metricsServer := api.NewServer(cfg.Metrics.Addr, tracker, logger)
		go func() {
			if serr := metricsServer.Start(); serr != nil {
				logger.Warn("metrics listener stopped", zap.Error(serr))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if serr := metricsServer.Shutdown(shutdownCtx); serr != nil {
				logger.Warn("metrics listener shutdown", zap.Error(serr))
			}
		}()
	}

	engine, err := crawl.NewEngine(target, crawl.EngineDeps{
		Source:    source,
		Fetcher:   fetcher,
		Renderer:  renderer,
		Detector:  detector,
		Extractor: crawl.NewExtractor(target, logger),
		Images:    images,
		Store:     store,
		Exporter:  exporter,
		Tracker:   tracker,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	summary, err := engine.Run(ctx)
	logger.Info("crawl summary",
		zap.String("state", string(summary.State)),
		zap.Int("discovered", summary.Discovered),
		zap.Int("processed", summary.Processed),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("images", summary.Images),
		zap.Duration("duration", summary.Duration),
	)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run crawl: %w", err)
	}
	return nil
}

func buildRenderer(cfg config.Config, target crawl.CrawlTarget, throttle *crawl.Throttle, logger *zap.Logger) (crawl.Renderer, error) {
	if !cfg.Render.Enabled {
		return nil, nil
	}
	renderer, err := crawl.NewChromedpRenderer(target, cfg.RenderOptions(), throttle, logger)
	switch {
	case err == nil:
		return renderer, nil
	case errors.Is(err, crawl.ErrRendererDisabled):
		logger.Warn("renderer disabled despite render.enabled; continuing with direct fetches only")
		return nil, nil
	default:
		return nil, fmt.Errorf("init renderer: %w", err)
	}
}
