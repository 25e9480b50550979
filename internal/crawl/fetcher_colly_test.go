package crawl

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newCollyTestFetcher(t *testing.T) *CollyFetcher {
	t.Helper()
	fetcher, err := NewCollyFetcher(CrawlTarget{
		UserAgent:      "catcrawl-test/1.0",
		Concurrency:    2,
		RequestTimeout: 10 * time.Second,
	}, nil, zap.NewNop())
	require.NoError(t, err)
	return fetcher
}

func TestCollyFetcherReturnsPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>listing</body></html>"))
	}))
	defer server.Close()

	fetcher := newCollyTestFetcher(t)
	page, err := fetcher.Fetch(context.Background(), server.URL+"/item/1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, page.StatusCode)
	require.Contains(t, string(page.Body), "listing")
}

func TestCollyFetcherHonorsCancellation(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	fetcher := newCollyTestFetcher(t)
	start := time.Now()
	_, err := fetcher.Fetch(ctx, server.URL+"/item/2")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	// Cancellation must not wait for the server.
	require.Less(t, time.Since(start), 2*time.Second)
}
