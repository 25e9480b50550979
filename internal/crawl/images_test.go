package crawl

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dcarver/catcrawl/internal/imgmeta"
)

// 1x1 transparent PNG.
const tinyPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="

func pngBytes(t *testing.T) []byte {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(tinyPNG)
	require.NoError(t, err)
	return raw
}

func newImageServer(t *testing.T, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	png := pngBytes(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "missing") {
			http.NotFound(w, r)
			return
		}
		if hits != nil {
			hits.Add(1)
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(png)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestFetchImagesDownloadsAndProbes(t *testing.T) {
	server := newImageServer(t, nil)
	dir := t.TempDir()

	d := NewImageDownloader(CrawlTarget{
		DownloadImages: true,
		ImageDir:       dir,
		UserAgent:      "catcrawl-test/1.0",
	}, nil, imgmeta.New(), zap.NewNop())

	item := &CatalogItem{
		ID:        "SKU-IMG",
		ImageURLs: []string{server.URL + "/img/one", server.URL + "/img/two.png"},
	}
	assets := d.FetchImages(context.Background(), item)
	require.Len(t, assets, 2)

	require.True(t, assets[0].Primary)
	require.False(t, assets[1].Primary)
	require.Equal(t, 0, assets[0].Position)
	require.Equal(t, 1, assets[1].Position)

	for i, asset := range assets {
		require.Equal(t, "SKU-IMG", asset.ItemID)
		require.NotEmpty(t, asset.LocalPath)
		require.Regexp(t,
			fmt.Sprintf(`^SKU-IMG-%d-[0-9a-f]{8}\.png$`, i),
			filepath.Base(asset.LocalPath))
		require.Equal(t, "image/png", asset.ContentType)
		require.Equal(t, 1, asset.Width)
		require.Equal(t, 1, asset.Height)
		require.FileExists(t, asset.LocalPath)
		require.Equal(t, filepath.Join(dir, "SKU-IMG"), filepath.Dir(asset.LocalPath))
	}
}

func TestFetchImagesSkipsExistingFiles(t *testing.T) {
	var hits atomic.Int64
	server := newImageServer(t, &hits)
	dir := t.TempDir()

	target := CrawlTarget{DownloadImages: true, ImageDir: dir, UserAgent: "catcrawl-test/1.0"}
	item := &CatalogItem{ID: "SKU-RE", ImageURLs: []string{server.URL + "/img/stable.png"}}

	first := NewImageDownloader(target, nil, imgmeta.New(), zap.NewNop()).
		FetchImages(context.Background(), item)
	require.Len(t, first, 1)
	require.Equal(t, int64(1), hits.Load())

	second := NewImageDownloader(target, nil, imgmeta.New(), zap.NewNop()).
		FetchImages(context.Background(), item)
	require.Len(t, second, 1)

	// Re-crawl reused the on-disk file instead of fetching again.
	require.Equal(t, int64(1), hits.Load())
	require.Equal(t, first[0].LocalPath, second[0].LocalPath)
	require.Equal(t, 1, second[0].Width)
}

func TestFetchImagesFailuresAreIsolated(t *testing.T) {
	server := newImageServer(t, nil)
	dir := t.TempDir()

	d := NewImageDownloader(CrawlTarget{
		DownloadImages: true,
		ImageDir:       dir,
		UserAgent:      "catcrawl-test/1.0",
	}, nil, imgmeta.New(), zap.NewNop())

	item := &CatalogItem{
		ID:        "SKU-PART",
		ImageURLs: []string{server.URL + "/img/missing.png", server.URL + "/img/good.png"},
	}
	assets := d.FetchImages(context.Background(), item)
	require.Len(t, assets, 2)

	require.Empty(t, assets[0].LocalPath)
	require.NotEmpty(t, assets[1].LocalPath)
}

func TestFetchImagesDownloadDisabled(t *testing.T) {
	d := NewImageDownloader(CrawlTarget{DownloadImages: false}, nil, imgmeta.New(), zap.NewNop())

	item := &CatalogItem{ID: "SKU-DRY", ImageURLs: []string{"https://img.example/a.jpg"}}
	assets := d.FetchImages(context.Background(), item)
	require.Len(t, assets, 1)
	require.Empty(t, assets[0].LocalPath)
	require.Equal(t, "https://img.example/a.jpg", assets[0].URL)
	require.True(t, assets[0].Primary)
}
