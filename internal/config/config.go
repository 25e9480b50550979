// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dcarver/catcrawl/internal/crawl"
)

// Config captures every knob of a crawl run, loaded from file, environment
// variables (CATCRAWL_ prefix), or defaults.
type Config struct {
	Source   SourceConfig   `mapstructure:"source"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Render   RenderConfig   `mapstructure:"render"`
	Detector DetectorConfig `mapstructure:"detector"`
	Images   ImagesConfig   `mapstructure:"images"`
	Store    StoreConfig    `mapstructure:"store"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// SourceConfig selects how candidate product URLs are discovered.
type SourceConfig struct {
	SitemapURL      string   `mapstructure:"sitemap_url"`
	ListingURL      string   `mapstructure:"listing_url"`
	MaxItems        int      `mapstructure:"max_items"`
	ProductURLHints []string `mapstructure:"product_url_hints"`
	ExcludeURLHints []string `mapstructure:"exclude_url_hints"`
}

// CrawlerConfig governs the worker pool and request pacing.
type CrawlerConfig struct {
	Concurrency      int           `mapstructure:"concurrency"`
	Delay            time.Duration `mapstructure:"delay"`
	UserAgent        string        `mapstructure:"user_agent"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	MaxRetries       int           `mapstructure:"max_retries"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff"`
	ProgressInterval time.Duration `mapstructure:"progress_interval"`
}

// RenderConfig configures the headless rendering fallback.
type RenderConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MarkerSelector string        `mapstructure:"marker_selector"`
	MarkerTimeout  time.Duration `mapstructure:"marker_timeout"`
	ScrollSteps    int           `mapstructure:"scroll_steps"`
	ScrollSettle   time.Duration `mapstructure:"scroll_settle"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	DomainQPS      float64       `mapstructure:"domain_qps"`
}

// DetectorConfig tunes the heuristic deciding when a directly fetched body
// needs rendering.
type DetectorConfig struct {
	MinHTMLBytes int      `mapstructure:"min_html_bytes"`
	Selectors    []string `mapstructure:"selectors"`
	Keywords     []string `mapstructure:"keywords"`
}

// ImagesConfig controls the image pipeline.
type ImagesConfig struct {
	Download    bool   `mapstructure:"download"`
	Dir         string `mapstructure:"dir"`
	MaxPerItem  int    `mapstructure:"max_per_item"`
	HostPattern string `mapstructure:"host_pattern"`
}

// StoreConfig sets persistence paths.
type StoreConfig struct {
	Path       string `mapstructure:"path"`
	ExportPath string `mapstructure:"export_path"`
}

// MetricsConfig toggles the optional observability listener.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk and environment. An empty path searches
// the usual locations for a catcrawl config file; a missing file is not an
// error because defaults and environment variables may suffice.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CATCRAWL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindOptionalEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("catcrawl")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/catcrawl/")
		v.AddConfigPath("$HOME/.catcrawl")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// bindOptionalEnv registers the keys that carry no default. AutomaticEnv
// only resolves keys viper already knows about, so without an explicit
// binding these never reach Unmarshal when set purely through CATCRAWL_*
// variables.
func bindOptionalEnv(v *viper.Viper) {
	for _, key := range []string{
		"source.sitemap_url",
		"source.listing_url",
		"source.max_items",
		"source.product_url_hints",
		"source.exclude_url_hints",
		"images.host_pattern",
		"store.export_path",
		"render.marker_selector",
		"detector.selectors",
	} {
		_ = v.BindEnv(key)
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.delay", "1s")
	v.SetDefault("crawler.user_agent", "catcrawl/1.0 (+https://github.com/dcarver/catcrawl)")
	v.SetDefault("crawler.request_timeout", "30s")
	v.SetDefault("crawler.max_retries", 3)
	v.SetDefault("crawler.retry_backoff", "500ms")
	v.SetDefault("crawler.progress_interval", "10s")

	v.SetDefault("render.enabled", false)
	v.SetDefault("render.timeout", "45s")
	v.SetDefault("render.marker_timeout", "5s")
	v.SetDefault("render.scroll_steps", 3)
	v.SetDefault("render.scroll_settle", "600ms")
	v.SetDefault("render.max_concurrency", 2)
	v.SetDefault("render.domain_qps", 0.5)

	v.SetDefault("detector.min_html_bytes", 2048)
	v.SetDefault("detector.keywords", []string{
		"__NEXT_DATA__",
		"data-reactroot",
		"window.__APOLLO_STATE__",
		"window.__INITIAL_STATE__",
	})

	v.SetDefault("images.download", true)
	v.SetDefault("images.dir", "data/images")
	v.SetDefault("images.max_per_item", 12)

	v.SetDefault("store.path", "data/catalog.db")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Source.SitemapURL == "" && c.Source.ListingURL == "" {
		return fmt.Errorf("one of source.sitemap_url or source.listing_url must be set")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.Delay < 0 {
		return fmt.Errorf("crawler.delay must be >= 0")
	}
	if c.Crawler.UserAgent == "" {
		return fmt.Errorf("crawler.user_agent must be set")
	}
	if c.Crawler.RequestTimeout <= 0 {
		return fmt.Errorf("crawler.request_timeout must be > 0")
	}
	if c.Render.Enabled && c.Render.MaxConcurrency <= 0 {
		return fmt.Errorf("render.max_concurrency must be > 0 when rendering is enabled")
	}
	if c.Images.Download && c.Images.Dir == "" {
		return fmt.Errorf("images.dir must be set when image downloads are enabled")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path must be set")
	}
	if c.Images.HostPattern != "" {
		if _, err := regexp.Compile(c.Images.HostPattern); err != nil {
			return fmt.Errorf("images.host_pattern is not a valid regexp: %w", err)
		}
	}
	return nil
}

// Target assembles the immutable run configuration the pipeline consumes.
func (c Config) Target() (crawl.CrawlTarget, error) {
	target := crawl.CrawlTarget{
		SitemapURL:       c.Source.SitemapURL,
		ListingURL:       c.Source.ListingURL,
		Concurrency:      c.Crawler.Concurrency,
		Delay:            c.Crawler.Delay,
		MaxImagesPerItem: c.Images.MaxPerItem,
		UserAgent:        c.Crawler.UserAgent,
		RenderPages:      c.Render.Enabled,
		DownloadImages:   c.Images.Download,
		ImageDir:         c.Images.Dir,
		StorePath:        c.Store.Path,
		ExportPath:       c.Store.ExportPath,
		RequestTimeout:   c.Crawler.RequestTimeout,
		MaxItems:         c.Source.MaxItems,
		ProgressInterval: c.Crawler.ProgressInterval,
		ProductURLHints:  c.Source.ProductURLHints,
		ExcludeURLHints:  c.Source.ExcludeURLHints,
	}
	if c.Images.HostPattern != "" {
		pattern, err := regexp.Compile(c.Images.HostPattern)
		if err != nil {
			return crawl.CrawlTarget{}, fmt.Errorf("compile images.host_pattern: %w", err)
		}
		target.ImageHostPattern = pattern
	}
	return target, nil
}

// RenderOptions maps the render section onto the renderer's own config.
func (c Config) RenderOptions() crawl.RenderConfig {
	return crawl.RenderConfig{
		Timeout:        c.Render.Timeout,
		MarkerSelector: c.Render.MarkerSelector,
		MarkerTimeout:  c.Render.MarkerTimeout,
		ScrollSteps:    c.Render.ScrollSteps,
		ScrollSettle:   c.Render.ScrollSettle,
		MaxConcurrency: c.Render.MaxConcurrency,
		DomainQPS:      c.Render.DomainQPS,
	}
}
