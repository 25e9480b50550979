package crawl

import (
	"regexp"
	"time"
)

// IDConfidence describes which source established an item identifier.
// Hash-derived identifiers are storable but lower confidence.
type IDConfidence string

// Identifier sources, strongest first.
const (
	IDFromStructuredData IDConfidence = "structured_data"
	IDFromStateBlob      IDConfidence = "state_blob"
	IDFromURL            IDConfidence = "url"
	IDFromHash           IDConfidence = "hash"
)

// CrawlTarget is the immutable configuration for one run. It is constructed
// once from Config and never mutated afterwards.
type CrawlTarget struct {
	// SitemapURL is the root sitemap (index or leaf). When empty,
	// ListingURL drives discovery instead.
	SitemapURL string
	// ListingURL is a paginated listing endpoint, used when no sitemap
	// exists. %d in the URL is replaced with the page number; otherwise a
	// page query parameter is appended.
	ListingURL string

	Concurrency      int
	Delay            time.Duration
	MaxImagesPerItem int
	UserAgent        string
	RenderPages      bool
	DownloadImages   bool
	ImageDir         string
	StorePath        string
	ExportPath       string
	RequestTimeout   time.Duration
	MaxItems         int
	ProgressInterval time.Duration

	// ImageHostPattern restricts the raw-HTML image fallback to URLs
	// matching this expression. Nil disables the fallback.
	ImageHostPattern *regexp.Regexp

	// ProductURLHints and ExcludeURLHints drive the isLikelyProductURL
	// predicate applied during discovery.
	ProductURLHints []string
	ExcludeURLHints []string
}

// Specific is one ordered key/value pair of item specifics (spec tables,
// labeled attributes). Order preserves the on-page presentation.
type Specific struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// CatalogItem is the canonical extracted entity. ID is the natural key for
// storage; every other field is overwritten on re-crawl.
type CatalogItem struct {
	ID           string       `json:"id"`
	IDConfidence IDConfidence `json:"id_confidence"`
	SourceURL    string       `json:"source_url"`
	Name         string       `json:"name,omitempty"`
	Brand        string       `json:"brand,omitempty"`
	Model        string       `json:"model,omitempty"`
	Category     string       `json:"category,omitempty"`
	Price        string       `json:"price,omitempty"`
	Currency     string       `json:"currency,omitempty"`
	Condition    string       `json:"condition,omitempty"`
	Seller       string       `json:"seller,omitempty"`
	Description  string       `json:"description,omitempty"`
	Specifics    []Specific   `json:"specifics,omitempty"`
	ImageURLs    []string     `json:"image_urls,omitempty"`
	// RawDocument keeps the structured source document (JSON-LD or state
	// blob extract) for audit and debugging.
	RawDocument string `json:"raw_document,omitempty"`
}

// ImageAsset describes one image of an item. (ItemID, URL) is unique.
type ImageAsset struct {
	ItemID      string `json:"item_id"`
	URL         string `json:"url"`
	Position    int    `json:"position"`
	Primary     bool   `json:"primary"`
	LocalPath   string `json:"local_path,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
}

// Page is the raw result of fetching a URL with either strategy.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Body       []byte
	Rendered   bool
}

// RunState is the lifecycle phase of a crawl run.
type RunState string

// Run lifecycle phases.
const (
	StateDiscovering RunState = "discovering"
	StateProcessing  RunState = "processing"
	StateDraining    RunState = "draining"
	StateCompleted   RunState = "completed"
	StateFailed      RunState = "failed"
)
