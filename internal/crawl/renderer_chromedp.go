package crawl

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrRendererDisabled indicates rendering has been disabled via configuration.
var ErrRendererDisabled = errors.New("renderer disabled")

// RenderConfig tunes the headless rendering fallback.
type RenderConfig struct {
	Timeout time.Duration
	// MarkerSelector is waited for best-effort after navigation; a timeout
	// here is non-fatal and the best-available DOM is still captured.
	MarkerSelector string
	MarkerTimeout  time.Duration
	// ScrollSteps and ScrollSettle trigger lazy-loaded content.
	ScrollSteps    int
	ScrollSettle   time.Duration
	MaxConcurrency int
	DomainQPS      float64
}

// ChromedpRenderer renders pages using headless Chrome via chromedp. It is
// the fallback Fetch strategy for script-heavy catalog sites.
type ChromedpRenderer struct {
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	throttle        *Throttle
	logger          *zap.Logger
	sem             chan struct{}
	cfg             RenderConfig
	domainLimiters  sync.Map
	userAgent       string
}

// NewChromedpRenderer creates a renderer and warms the shared browser.
func NewChromedpRenderer(target CrawlTarget, cfg RenderConfig, throttle *Throttle, logger *zap.Logger) (*ChromedpRenderer, error) {
	if cfg.MaxConcurrency <= 0 {
		return nil, ErrRendererDisabled
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	if cfg.MarkerTimeout <= 0 {
		cfg.MarkerTimeout = 5 * time.Second
	}
	if cfg.ScrollSettle <= 0 {
		cfg.ScrollSettle = 400 * time.Millisecond
	}

	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.UserAgent(target.UserAgent),
	)
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		allocatorCancel()
		browserCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &ChromedpRenderer{
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		throttle:        throttle,
		logger:          logger,
		sem:             make(chan struct{}, cfg.MaxConcurrency),
		cfg:             cfg,
		userAgent:       target.UserAgent,
	}, nil
}

// Close tears down the chromedp allocator and browser contexts.
func (r *ChromedpRenderer) Close(context.Context) error {
	if r == nil {
		return nil
	}
	r.browserCancel()
	r.allocatorCancel()
	return nil
}

// Render executes the page with JavaScript enabled and returns the DOM
// snapshot. Like the direct fetcher it takes a throttle turn first.
func (r *ChromedpRenderer) Render(ctx context.Context, rawURL string) (Page, error) {
	if r == nil {
		return Page{}, ErrRendererDisabled
	}

	release, err := r.acquireSlot(ctx)
	if err != nil {
		return Page{}, err
	}
	defer release()

	if err := r.throttle.Wait(ctx); err != nil {
		return Page{}, err
	}
	if err := r.waitDomainBudget(ctx, rawURL); err != nil {
		return Page{}, fmt.Errorf("render rate limit: %w", err)
	}

	tabCtx, cancelTab := chromedp.NewContext(r.browserCtx)
	defer cancelTab()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, r.cfg.Timeout)
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	meta := newResponseMeta()
	r.recordResponse(tabCtx, meta)

	html, err := r.runChromedp(taskCtx, rawURL)
	if err != nil {
		return Page{}, fmt.Errorf("chromedp run: %w", err)
	}

	return Page{
		URL:        rawURL,
		FinalURL:   meta.finalURL(rawURL),
		StatusCode: meta.statusCode,
		Body:       []byte(html),
		Rendered:   true,
	}, nil
}

func (r *ChromedpRenderer) runChromedp(ctx context.Context, rawURL string) (string, error) {
	var html string
	tasks := chromedp.Tasks{
		network.Enable(),
		emulation.SetUserAgentOverride(r.userAgent),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		r.waitForMarker(),
		r.scrollTask(),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, tasks); err != nil {
		return "", err
	}
	return html, nil
}

// waitForMarker blocks until the configured marker element appears or its
// bounded timeout elapses. The timeout is deliberately swallowed: a missing
// marker means we capture whatever DOM exists.
func (r *ChromedpRenderer) waitForMarker() chromedp.ActionFunc {
	return func(ctx context.Context) error {
		if r.cfg.MarkerSelector == "" {
			return nil
		}
		markerCtx, cancel := context.WithTimeout(ctx, r.cfg.MarkerTimeout)
		defer cancel()
		err := chromedp.WaitReady(r.cfg.MarkerSelector, chromedp.ByQuery).Do(markerCtx)
		if err != nil && ctx.Err() == nil {
			r.logger.Debug("render marker did not appear; capturing best-available DOM",
				zap.String("selector", r.cfg.MarkerSelector))
		}
		return ctx.Err()
	}
}

// scrollTask performs the configured number of scroll steps with settle
// delays so lazy-loaded galleries populate before the snapshot.
func (r *ChromedpRenderer) scrollTask() chromedp.ActionFunc {
	return func(ctx context.Context) error {
		for i := 0; i < r.cfg.ScrollSteps; i++ {
			if err := chromedp.Evaluate(`window.scrollBy(0, document.body.scrollHeight);`, nil).Do(ctx); err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.cfg.ScrollSettle):
			}
		}
		return nil
	}
}

func (r *ChromedpRenderer) acquireSlot(ctx context.Context) (func(), error) {
	if r.sem == nil {
		return func() {}, nil
	}
	select {
	case r.sem <- struct{}{}:
		return func() { <-r.sem }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire render slot: %w", ctx.Err())
	}
}

func (r *ChromedpRenderer) waitDomainBudget(ctx context.Context, rawURL string) error {
	if r.cfg.DomainQPS <= 0 {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse render url: %w", err)
	}
	host := strings.ToLower(parsed.Host)
	val, _ := r.domainLimiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(r.cfg.DomainQPS), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait limiter: %w", err)
	}
	return nil
}

type responseMeta struct {
	once       sync.Once
	statusCode int
	url        string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) finalURL(raw string) string {
	if m.url == "" {
		return raw
	}
	return m.url
}

func (r *ChromedpRenderer) recordResponse(tabCtx context.Context, meta *responseMeta) {
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok || resp.Type != network.ResourceTypeDocument {
			return
		}
		meta.once.Do(func() {
			meta.statusCode = int(resp.Response.Status)
			meta.url = resp.Response.URL
		})
	})
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
