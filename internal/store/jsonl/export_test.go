package jsonl

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dcarver/catcrawl/internal/crawl"
)

func TestExportWritesOneLinePerItem(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.jsonl")
	exporter, err := Create(path)
	require.NoError(t, err)

	items := []*crawl.CatalogItem{
		{ID: "A-1", IDConfidence: crawl.IDFromStructuredData, SourceURL: "https://x.example/a", Name: "First"},
		{ID: "B-2", IDConfidence: crawl.IDFromURL, SourceURL: "https://x.example/b", Name: "Second", Price: "4.99"},
	}
	for _, item := range items {
		require.NoError(t, exporter.Export(item))
	}
	require.NoError(t, exporter.Close())

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var got []*crawl.CatalogItem
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var item crawl.CatalogItem
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &item))
		got = append(got, &item)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, got, 2)
	require.Equal(t, "A-1", got[0].ID)
	require.Equal(t, "4.99", got[1].Price)
}

func TestCreateTruncatesPreviousExport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("stale line\n"), 0o644))

	exporter, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, exporter.Export(&crawl.CatalogItem{ID: "C-3", SourceURL: "https://x.example/c"}))
	require.NoError(t, exporter.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(data), "stale")
	require.Contains(t, string(data), `"C-3"`)
}
