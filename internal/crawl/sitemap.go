package crawl

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"
)

const (
	maxSitemapBytes    = 64 << 20
	parsePreviewBytes  = 120
	gzipMagicByteOne   = 0x1f
	gzipMagicByteTwo   = 0x8b
	sitemapFetchBudget = 2 * time.Minute
)

// SitemapResolver discovers candidate product URLs from a root sitemap.
// The root may be a sitemap index (recursed exactly one level into its
// children) or a leaf sitemap. Discovery failure is fatal to the run, so
// every fetch gets bounded exponential-backoff retries.
type SitemapResolver struct {
	target   CrawlTarget
	client   *http.Client
	throttle *Throttle
	retry    RetryPolicy
	logger   *zap.Logger
}

// NewSitemapResolver builds a resolver for the target's root sitemap.
func NewSitemapResolver(target CrawlTarget, throttle *Throttle, retry RetryPolicy, logger *zap.Logger) *SitemapResolver {
	timeout := target.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SitemapResolver{
		target:   target,
		client:   &http.Client{Timeout: timeout},
		throttle: throttle,
		retry:    retry,
		logger:   logger,
	}
}

// Discover fetches the root document, recurses into child sitemaps when the
// root is an index, and returns the filtered, normalized, deduplicated URL
// set. An optional MaxItems cap stops collection early.
func (r *SitemapResolver) Discover(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, sitemapFetchBudget)
	defer cancel()

	body, err := r.fetchWithRetry(ctx, r.target.SitemapURL)
	if err != nil {
		return nil, fmt.Errorf("root sitemap %s: %w", r.target.SitemapURL, err)
	}
	children, locs, err := parseSitemap(body)
	if err != nil {
		return nil, fmt.Errorf("root sitemap %s: %w", r.target.SitemapURL, err)
	}

	collector := newURLCollector(r.target)
	collector.addAll(locs)

	// At most two levels: index -> leaf sitemaps. Children of a child
	// index are ignored rather than recursed further.
	for _, child := range children {
		if collector.full() {
			break
		}
		childBody, err := r.fetchWithRetry(ctx, child)
		if err != nil {
			return nil, fmt.Errorf("child sitemap %s: %w", child, err)
		}
		_, childLocs, err := parseSitemap(childBody)
		if err != nil {
			return nil, fmt.Errorf("child sitemap %s: %w", child, err)
		}
		collector.addAll(childLocs)
	}

	urls := collector.urls
	r.logger.Info("sitemap discovery complete",
		zap.String("root", r.target.SitemapURL),
		zap.Int("child_sitemaps", len(children)),
		zap.Int("urls", len(urls)),
	)
	return urls, nil
}

func (r *SitemapResolver) fetchWithRetry(ctx context.Context, rawURL string) ([]byte, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		body, err := r.fetchOnce(ctx, rawURL)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !r.retry.ShouldRetry(err, attempt+1) {
			break
		}
		backoff := r.retry.Backoff(attempt)
		r.logger.Warn("sitemap fetch failed; retrying",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("retry wait: %w", ctx.Err())
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("retries exhausted: %w", lastErr)
}

func (r *SitemapResolver) fetchOnce(ctx context.Context, rawURL string) ([]byte, error) {
	if err := r.throttle.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", r.target.UserAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			r.logger.Debug("failed to close sitemap body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSitemapBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return maybeGunzip(rawURL, resp.Header, body)
}

// maybeGunzip transparently decompresses gzip payloads, detected via the
// content-encoding header, a .gz URL suffix, the content type, or the gzip
// magic bytes. Sitemap hosts frequently mislabel compressed files.
func maybeGunzip(rawURL string, header http.Header, body []byte) ([]byte, error) {
	compressed := strings.EqualFold(header.Get("Content-Encoding"), "gzip") ||
		strings.HasSuffix(strings.ToLower(strings.SplitN(rawURL, "?", 2)[0]), ".gz") ||
		strings.Contains(strings.ToLower(header.Get("Content-Type")), "gzip")
	if !compressed {
		compressed = len(body) >= 2 && body[0] == gzipMagicByteOne && body[1] == gzipMagicByteTwo
	}
	if !compressed {
		return body, nil
	}
	// Go's transport may already have decompressed a gzip content-encoding
	// response; trust the magic bytes over the headers.
	if len(body) < 2 || body[0] != gzipMagicByteOne || body[1] != gzipMagicByteTwo {
		return body, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gunzip: %w", err)
	}
	defer zr.Close()
	plain, err := io.ReadAll(io.LimitReader(zr, maxSitemapBytes))
	if err != nil {
		return nil, fmt.Errorf("gunzip read: %w", err)
	}
	return plain, nil
}

// parseSitemap returns child sitemap URLs (index documents) and page URLs
// (leaf documents). A document that is neither yields a descriptive parse
// error including a content preview, never a silent empty set.
func parseSitemap(body []byte) (children []string, locs []string, err error) {
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("parse sitemap xml (preview %q): %w", preview(body), err)
	}
	for _, node := range xmlquery.Find(doc, "//sitemap/loc") {
		if loc := strings.TrimSpace(node.InnerText()); loc != "" {
			children = append(children, loc)
		}
	}
	for _, node := range xmlquery.Find(doc, "//url/loc") {
		if loc := strings.TrimSpace(node.InnerText()); loc != "" {
			locs = append(locs, loc)
		}
	}
	if len(children) == 0 && len(locs) == 0 {
		return nil, nil, fmt.Errorf("document is not a sitemap (preview %q)", preview(body))
	}
	return children, locs, nil
}

func preview(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > parsePreviewBytes {
		trimmed = trimmed[:parsePreviewBytes]
	}
	return string(trimmed)
}

// urlCollector applies the product predicate, normalization, dedup, and the
// optional total cap while preserving discovery order.
type urlCollector struct {
	target CrawlTarget
	seen   map[string]struct{}
	urls   []string
}

func newURLCollector(target CrawlTarget) *urlCollector {
	return &urlCollector{
		target: target,
		seen:   make(map[string]struct{}),
	}
}

func (c *urlCollector) full() bool {
	return c.target.MaxItems > 0 && len(c.urls) >= c.target.MaxItems
}

func (c *urlCollector) addAll(raw []string) {
	for _, candidate := range raw {
		if c.full() {
			return
		}
		if !isLikelyProductURL(candidate, c.target.ProductURLHints, c.target.ExcludeURLHints) {
			continue
		}
		normalized, err := NormalizeURL(candidate)
		if err != nil {
			continue
		}
		if _, dup := c.seen[normalized]; dup {
			continue
		}
		c.seen[normalized] = struct{}{}
		c.urls = append(c.urls, normalized)
	}
}
