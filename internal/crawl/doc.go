// Package crawl implements the catalog crawl-and-ingest pipeline: sitemap
// discovery, throttled page fetching (direct or rendered), product
// extraction, image downloading, and the worker pool that drives an entire
// run against the embedded store.
package crawl
