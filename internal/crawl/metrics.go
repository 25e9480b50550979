package crawl

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catcrawl_pages_fetched_total",
			Help: "Total number of product pages retrieved, labeled by fetch mode.",
		},
		[]string{"mode"},
	)

	fetchErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "catcrawl_fetch_errors_total",
			Help: "Total number of page fetches that failed after the fetch strategy gave up.",
		},
	)

	renderPromotions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "catcrawl_render_promotions_total",
			Help: "Total number of pages promoted from direct fetch to headless rendering.",
		},
	)

	itemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catcrawl_items_processed_total",
			Help: "Total number of catalog items processed, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	itemsUpserted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "catcrawl_items_upserted_total",
			Help: "Total number of catalog items written to the store.",
		},
	)

	imagesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "catcrawl_images_downloaded_total",
			Help: "Total number of image files downloaded to disk.",
		},
	)

	imagesSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "catcrawl_images_skipped_total",
			Help: "Total number of image downloads skipped because the file already existed.",
		},
	)

	imagesFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "catcrawl_images_failed_total",
			Help: "Total number of image downloads that failed and were dropped.",
		},
	)

	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catcrawl_active_workers",
			Help: "Number of crawl workers currently processing a URL.",
		},
	)
)
