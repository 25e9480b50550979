package crawl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dcarver/catcrawl/internal/progress"
)

// Summary is the result of one completed (or aborted) crawl run.
type Summary struct {
	State      RunState
	Discovered int
	Processed  int
	Succeeded  int
	Failed     int
	Images     int
	Duration   time.Duration
}

// fatalError marks failures that must abort the whole run rather than
// count against a single item. Store writes are the main producer.
type fatalError struct{ err error }

func (f *fatalError) Error() string { return f.err.Error() }
func (f *fatalError) Unwrap() error { return f.err }

// EngineDeps carries the collaborators an Engine drives. Renderer,
// Exporter, and Images are optional.
type EngineDeps struct {
	Source    URLSource
	Fetcher   Fetcher
	Renderer  Renderer
	Detector  *RenderDetector
	Extractor *Extractor
	Images    ImageFetcher
	Store     Store
	Exporter  Exporter
	Tracker   *progress.Tracker
	Logger    *zap.Logger
}

// Engine is the run controller: it discovers candidate URLs, fans them out
// across a fixed worker pool, and drives each URL through fetch, extract,
// image resolution, and storage. One item failing never stops the run;
// a store failure does.
type Engine struct {
	target CrawlTarget
	deps   EngineDeps
	logger *zap.Logger
}

func NewEngine(target CrawlTarget, deps EngineDeps) (*Engine, error) {
	if deps.Source == nil {
		return nil, errors.New("engine requires a url source")
	}
	if deps.Fetcher == nil {
		return nil, errors.New("engine requires a fetcher")
	}
	if deps.Extractor == nil {
		return nil, errors.New("engine requires an extractor")
	}
	if deps.Store == nil {
		return nil, errors.New("engine requires a store")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Tracker == nil {
		deps.Tracker = progress.NewTracker(deps.Logger, 0)
	}
	return &Engine{target: target, deps: deps, logger: deps.Logger}, nil
}

// Run executes the crawl until every discovered URL is processed, the
// context is canceled, or a fatal error occurs. The store is flushed in
// every exit path so already-processed items survive an abort.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	started := time.Now()
	tracker := e.deps.Tracker

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go tracker.Run(runCtx)

	tracker.SetState(string(StateDiscovering))
	urls, err := e.deps.Source.Discover(runCtx)
	if err != nil {
		tracker.SetState(string(StateFailed))
		return Summary{State: StateFailed, Duration: time.Since(started)}, fmt.Errorf("discovery: %w", err)
	}
	tracker.SetDiscovered(int64(len(urls)))
	e.logger.Info("discovery complete", zap.Int("urls", len(urls)))

	tracker.SetState(string(StateProcessing))

	var next, succeeded, failed, imageCount atomic.Int64
	var wg sync.WaitGroup
	workers := e.target.Concurrency
	if workers < 1 {
		workers = 1
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if runCtx.Err() != nil {
					return
				}
				idx := int(next.Add(1)) - 1
				if idx >= len(urls) {
					return
				}
				activeWorkers.Inc()
				images, perr := e.processURL(runCtx, urls[idx])
				activeWorkers.Dec()

				var fatal *fatalError
				if errors.As(perr, &fatal) {
					cancel(fatal.err)
					return
				}
				if runCtx.Err() != nil && perr != nil {
					// Canceled mid-item: do not count it either way.
					return
				}
				tracker.AddProcessed()
				if perr != nil {
					failed.Add(1)
					tracker.AddFailed()
					itemsProcessed.WithLabelValues("failed").Inc()
					e.logger.Warn("item failed", zap.String("url", urls[idx]), zap.Error(perr))
					continue
				}
				succeeded.Add(1)
				imageCount.Add(int64(images))
				tracker.AddSucceeded()
				tracker.AddImages(int64(images))
				itemsProcessed.WithLabelValues("succeeded").Inc()
			}
		}()
	}
	wg.Wait()

	tracker.SetState(string(StateDraining))
	flushErr := e.deps.Store.Flush(context.WithoutCancel(runCtx))

	summary := Summary{
		Discovered: len(urls),
		Processed:  int(succeeded.Load() + failed.Load()),
		Succeeded:  int(succeeded.Load()),
		Failed:     int(failed.Load()),
		Images:     int(imageCount.Load()),
		Duration:   time.Since(started),
	}

	// Nil when the run finished naturally, the fatal cause when a worker
	// aborted it, or context.Canceled when the caller did.
	runErr := context.Cause(runCtx)

	switch {
	case runErr != nil:
		summary.State = StateFailed
		tracker.SetState(string(StateFailed))
		tracker.LogFinal()
		return summary, runErr
	case flushErr != nil:
		summary.State = StateFailed
		tracker.SetState(string(StateFailed))
		tracker.LogFinal()
		return summary, fmt.Errorf("final flush: %w", flushErr)
	default:
		summary.State = StateCompleted
		tracker.SetState(string(StateCompleted))
		tracker.LogFinal()
		return summary, nil
	}
}

// processURL drives one URL through the full pipeline. The returned error
// is a per-item failure unless wrapped in fatalError.
func (e *Engine) processURL(ctx context.Context, rawURL string) (images int, err error) {
	page, err := e.fetchPage(ctx, rawURL)
	if err != nil {
		fetchErrors.Inc()
		return 0, fmt.Errorf("fetch: %w", err)
	}

	var descBody []byte
	if ref := e.deps.Extractor.DescriptionRef(page.Body); ref != "" {
		if descPage, derr := e.deps.Fetcher.Fetch(ctx, ref); derr == nil {
			descBody = descPage.Body
		} else {
			e.logger.Debug("description fetch failed", zap.String("url", ref), zap.Error(derr))
		}
	}

	sourceURL := page.FinalURL
	if sourceURL == "" {
		sourceURL = rawURL
	}
	item, err := e.deps.Extractor.Extract(sourceURL, page.Body, descBody)
	if err != nil {
		return 0, fmt.Errorf("extract: %w", err)
	}

	var assets []ImageAsset
	if e.deps.Images != nil {
		assets = e.deps.Images.FetchImages(ctx, item)
	}

	if err := e.deps.Store.UpsertItem(ctx, item); err != nil {
		return 0, &fatalError{err: fmt.Errorf("upsert item %s: %w", item.ID, err)}
	}
	itemsUpserted.Inc()
	if len(assets) > 0 {
		if err := e.deps.Store.UpsertImages(ctx, assets); err != nil {
			return 0, &fatalError{err: fmt.Errorf("upsert images for %s: %w", item.ID, err)}
		}
	}
	if e.deps.Exporter != nil {
		if err := e.deps.Exporter.Export(item); err != nil {
			e.logger.Warn("export failed", zap.String("item_id", item.ID), zap.Error(err))
		}
	}
	return len(assets), nil
}

// fetchPage retrieves the URL directly and promotes it to headless
// rendering when the direct fetch fails or the body looks script-assembled.
func (e *Engine) fetchPage(ctx context.Context, rawURL string) (Page, error) {
	canRender := e.target.RenderPages && e.deps.Renderer != nil

	page, err := e.deps.Fetcher.Fetch(ctx, rawURL)
	if err != nil {
		if !canRender {
			return Page{}, err
		}
		renderPromotions.Inc()
		rendered, rerr := e.deps.Renderer.Render(ctx, rawURL)
		if rerr != nil {
			return Page{}, fmt.Errorf("direct fetch (%v) and render both failed: %w", err, rerr)
		}
		pagesFetched.WithLabelValues("rendered").Inc()
		return rendered, nil
	}

	if canRender && e.deps.Detector != nil && e.deps.Detector.NeedsRender(page) {
		renderPromotions.Inc()
		rendered, rerr := e.deps.Renderer.Render(ctx, rawURL)
		if rerr == nil {
			pagesFetched.WithLabelValues("rendered").Inc()
			return rendered, nil
		}
		e.logger.Debug("render promotion failed, keeping direct body",
			zap.String("url", rawURL), zap.Error(rerr))
	}
	pagesFetched.WithLabelValues("direct").Inc()
	return page, nil
}
