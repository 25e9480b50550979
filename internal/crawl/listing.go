package crawl

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

const defaultListingPageCap = 200

// ListingResolver discovers product URLs by walking a paginated listing
// endpoint when the site exposes no sitemap. Iteration stops after two
// consecutive pages that contribute no new URLs, or at the page cap.
type ListingResolver struct {
	target  CrawlTarget
	fetcher Fetcher
	pageCap int
	logger  *zap.Logger
}

// NewListingResolver builds a resolver over the target's listing URL. The
// fetcher is the same throttled direct fetcher used for product pages.
func NewListingResolver(target CrawlTarget, fetcher Fetcher, pageCap int, logger *zap.Logger) *ListingResolver {
	if pageCap <= 0 {
		pageCap = defaultListingPageCap
	}
	return &ListingResolver{
		target:  target,
		fetcher: fetcher,
		pageCap: pageCap,
		logger:  logger,
	}
}

// Discover iterates listing pages, collecting product links with the same
// predicate and normalization the sitemap path uses.
func (r *ListingResolver) Discover(ctx context.Context) ([]string, error) {
	collector := newURLCollector(r.target)
	emptyStreak := 0

	for page := 1; page <= r.pageCap; page++ {
		if collector.full() {
			break
		}
		pageURL := listingPageURL(r.target.ListingURL, page)
		fetched, err := r.fetcher.Fetch(ctx, pageURL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("listing discovery: %w", ctx.Err())
			}
			// A single bad page is not fatal; it counts toward the
			// two-empty-pages stop condition.
			r.logger.Warn("listing page fetch failed",
				zap.String("url", pageURL), zap.Error(err))
			emptyStreak++
			if emptyStreak >= 2 {
				break
			}
			continue
		}

		before := len(collector.urls)
		collector.addAll(extractLinks(pageURL, fetched.Body))
		if len(collector.urls) == before {
			emptyStreak++
			if emptyStreak >= 2 {
				break
			}
		} else {
			emptyStreak = 0
		}
	}

	if len(collector.urls) == 0 {
		return nil, fmt.Errorf("listing discovery: no product URLs found under %s", r.target.ListingURL)
	}
	r.logger.Info("listing discovery complete",
		zap.String("listing", r.target.ListingURL),
		zap.Int("urls", len(collector.urls)),
	)
	return collector.urls, nil
}

// listingPageURL substitutes %d when the pattern carries one, otherwise
// appends a page query parameter.
func listingPageURL(listing string, page int) string {
	if strings.Contains(listing, "%d") {
		return fmt.Sprintf(listing, page)
	}
	u, err := url.Parse(listing)
	if err != nil {
		return listing
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}

// extractLinks resolves every anchor href on the page against its base URL.
func extractLinks(pageURL string, body []byte) []string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "#") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		links = append(links, base.ResolveReference(ref).String())
	})
	return links
}
