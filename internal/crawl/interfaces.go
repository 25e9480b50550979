package crawl

import (
	"context"
	"time"

	"github.com/dcarver/catcrawl/internal/imgmeta"
)

// Fetcher retrieves a page over plain HTTP.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (Page, error)
}

// Renderer retrieves a page through a headless browser, executing scripts.
type Renderer interface {
	Render(ctx context.Context, rawURL string) (Page, error)
	Close(ctx context.Context) error
}

// Store persists catalog items and image assets with upsert semantics.
// Implementations must serialize concurrent upserts internally; a write or
// flush failure is fatal to the run.
type Store interface {
	UpsertItem(ctx context.Context, item *CatalogItem) error
	UpsertImages(ctx context.Context, assets []ImageAsset) error
	Flush(ctx context.Context) error
}

// Exporter optionally mirrors upserted items to a streaming consumer.
type Exporter interface {
	Export(item *CatalogItem) error
}

// ImageFetcher downloads the images of one item, returning the assets it
// could resolve. Download failures never fail the item.
type ImageFetcher interface {
	FetchImages(ctx context.Context, item *CatalogItem) []ImageAsset
}

// URLSource yields the deduplicated set of candidate product URLs.
type URLSource interface {
	Discover(ctx context.Context) ([]string, error)
}

// RetryPolicy decides whether and when a failed operation is retried.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// DimensionProber is satisfied by imgmeta.Prober; aliased here so the
// pipeline depends only on this package's contracts.
type DimensionProber = imgmeta.Prober
