package crawl

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// CollyFetcher implements Fetcher for sites that serve complete HTML
// without script execution. Every fetch passes the shared Throttle before
// touching the network.
type CollyFetcher struct {
	baseCollector *colly.Collector
	throttle      *Throttle
	logger        *zap.Logger
}

// NewCollyFetcher constructs a configured Colly-based Fetcher.
func NewCollyFetcher(target CrawlTarget, throttle *Throttle, logger *zap.Logger) (*CollyFetcher, error) {
	if target.UserAgent == "" {
		return nil, errors.New("user agent must be set")
	}
	base := colly.NewCollector(
		colly.UserAgent(target.UserAgent),
		colly.IgnoreRobotsTxt(),
	)
	base.AllowURLRevisit = true
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		MaxConnsPerHost:       target.Concurrency * 2,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: target.RequestTimeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(target.RequestTimeout)

	return &CollyFetcher{
		baseCollector: base,
		throttle:      throttle,
		logger:        logger,
	}, nil
}

// Fetch retrieves a page after acquiring a throttle turn. Errors (timeout,
// non-2xx, network) are returned to the caller to count as a per-item
// failure, never propagated as run-fatal.
func (f *CollyFetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	if err := f.throttle.Wait(ctx); err != nil {
		return Page{}, err
	}

	collector := f.baseCollector.Clone()
	resultCh := make(chan fetchResult, 1)
	var once sync.Once
	send := func(res fetchResult) {
		once.Do(func() { resultCh <- res })
	}

	collector.OnResponse(func(r *colly.Response) {
		send(fetchResult{page: Page{
			URL:        rawURL,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
		}})
	})
	collector.OnError(func(r *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		if r != nil && r.StatusCode != 0 {
			err = fmt.Errorf("status %d: %w", r.StatusCode, err)
		}
		send(fetchResult{err: err})
	})
	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
	})

	// The collector runs on its own goroutine so a canceled context
	// returns immediately instead of waiting out a slow response.
	done := make(chan error, 1)
	go func() {
		err := collector.Request(http.MethodGet, rawURL, nil, nil, nil)
		collector.Wait()
		done <- err
	}()

	select {
	case <-ctx.Done():
		return Page{}, fmt.Errorf("fetch %s canceled: %w", rawURL, ctx.Err())
	case err := <-done:
		if err != nil {
			return Page{}, fmt.Errorf("fetch %s: %w", rawURL, err)
		}
	}

	select {
	case res := <-resultCh:
		if res.err != nil {
			return Page{}, fmt.Errorf("fetch %s: %w", rawURL, res.err)
		}
		return res.page, nil
	default:
		return Page{}, fmt.Errorf("fetch %s produced no result", rawURL)
	}
}

type fetchResult struct {
	page Page
	err  error
}
