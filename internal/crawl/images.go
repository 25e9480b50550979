package crawl

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dcarver/catcrawl/internal/hash/sha256"
)

// maxImageBytes bounds a single image download.
const maxImageBytes = 32 << 20

const defaultRequestTimeout = 30 * time.Second

var extensionByContentType = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"image/avif": ".avif",
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// ImageDownloader resolves an item's image URLs into assets on disk.
// Downloads share the run's throttle with page fetches so the crawl
// presents one request rate to the host. Individual failures are logged
// and the asset is kept without a local path; they never fail the item.
type ImageDownloader struct {
	target   CrawlTarget
	client   *http.Client
	throttle *Throttle
	prober   DimensionProber
	logger   *zap.Logger
}

func NewImageDownloader(target CrawlTarget, throttle *Throttle, prober DimensionProber, logger *zap.Logger) *ImageDownloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := target.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &ImageDownloader{
		target:   target,
		client:   &http.Client{Timeout: timeout},
		throttle: throttle,
		prober:   prober,
		logger:   logger,
	}
}

// FetchImages materializes assets for every image URL of the item. When
// downloading is disabled the assets carry URL and position only.
func (d *ImageDownloader) FetchImages(ctx context.Context, item *CatalogItem) []ImageAsset {
	assets := make([]ImageAsset, 0, len(item.ImageURLs))
	for pos, rawURL := range item.ImageURLs {
		asset := ImageAsset{
			ItemID:   item.ID,
			URL:      rawURL,
			Position: pos,
			Primary:  pos == 0,
		}
		if d.target.DownloadImages {
			if err := d.materialize(ctx, &asset); err != nil {
				if ctx.Err() != nil {
					assets = append(assets, asset)
					return assets
				}
				imagesFailed.Inc()
				d.logger.Warn("image download failed",
					zap.String("item_id", item.ID),
					zap.String("url", rawURL),
					zap.Error(err))
			}
		}
		assets = append(assets, asset)
	}
	return assets
}

// materialize downloads the asset unless its file already exists from a
// previous run, then fills in local path, content type, and dimensions.
func (d *ImageDownloader) materialize(ctx context.Context, asset *ImageAsset) error {
	dir := filepath.Join(d.target.ImageDir, safeFileComponent(asset.ItemID))
	stem := fmt.Sprintf("%s-%d-%s",
		safeFileComponent(asset.ItemID), asset.Position, sha256.Short(asset.URL, 8))

	// The extension depends on the response content type, so re-crawl
	// detection matches on the stem alone.
	if existing := findExisting(dir, stem); existing != "" {
		imagesSkipped.Inc()
		asset.LocalPath = existing
		asset.ContentType = contentTypeForExtension(filepath.Ext(existing))
		if data, err := os.ReadFile(existing); err == nil {
			d.probe(asset, data)
		}
		return nil
	}

	if err := d.throttle.Wait(ctx); err != nil {
		return err
	}
	data, contentType, err := d.download(ctx, asset.URL)
	if err != nil {
		return err
	}

	ext := imageExtension(asset.URL, contentType)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create image dir: %w", err)
	}
	local := filepath.Join(dir, stem+ext)
	if err := os.WriteFile(local, data, 0o644); err != nil {
		return fmt.Errorf("write image: %w", err)
	}

	imagesDownloaded.Inc()
	asset.LocalPath = local
	asset.ContentType = contentType
	d.probe(asset, data)
	return nil
}

func (d *ImageDownloader) download(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	if d.target.UserAgent != "" {
		req.Header.Set("User-Agent", d.target.UserAgent)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}
	contentType := resp.Header.Get("Content-Type")
	if idx := strings.IndexByte(contentType, ';'); idx >= 0 {
		contentType = strings.TrimSpace(contentType[:idx])
	}
	return data, contentType, nil
}

func (d *ImageDownloader) probe(asset *ImageAsset, data []byte) {
	if d.prober == nil {
		return
	}
	if dims, ok := d.prober.Probe(data); ok {
		asset.Width = dims.Width
		asset.Height = dims.Height
	}
}

// findExisting returns the path of a previously downloaded file for the
// stem, regardless of which extension it was stored under.
func findExisting(dir, stem string) string {
	matches, err := filepath.Glob(filepath.Join(dir, stem+".*"))
	if err != nil || len(matches) == 0 {
		return ""
	}
	return matches[0]
}

// imageExtension picks the file extension from the URL path when it names
// a known image format, falling back to the response content type.
func imageExtension(rawURL, contentType string) string {
	if ext := strings.ToLower(path.Ext(strings.SplitN(rawURL, "?", 2)[0])); ext != "" {
		if _, ok := imageExtensions[ext]; ok {
			return ext
		}
	}
	if ext, ok := extensionByContentType[contentType]; ok {
		return ext
	}
	return ".jpg"
}

func contentTypeForExtension(ext string) string {
	if ct := mime.TypeByExtension(strings.ToLower(ext)); ct != "" {
		return ct
	}
	return ""
}

func safeFileComponent(s string) string {
	cleaned := unsafeFileChars.ReplaceAllString(s, "_")
	if cleaned == "" {
		return "item"
	}
	return cleaned
}
