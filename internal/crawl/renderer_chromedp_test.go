package crawl

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestChromedpRendererRender(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<!doctype html><html><body><script>document.body.innerHTML = '<div id="gallery">late content</div>';</script></body></html>`)
	}))
	defer srv.Close()

	target := CrawlTarget{UserAgent: "catcrawl-test"}
	cfg := RenderConfig{
		MaxConcurrency: 1,
		Timeout:        10 * time.Second,
		MarkerSelector: "#gallery",
		MarkerTimeout:  2 * time.Second,
		ScrollSteps:    1,
		ScrollSettle:   50 * time.Millisecond,
		DomainQPS:      5,
	}

	renderer, err := NewChromedpRenderer(target, cfg, NewThrottle(0), zap.NewNop())
	if errors.Is(err, ErrRendererDisabled) {
		t.Skip("renderer disabled")
	}
	if err != nil {
		t.Skipf("chromedp unavailable: %v", err)
	}
	defer renderer.Close(context.Background())

	page, err := renderer.Render(context.Background(), srv.URL)
	if err != nil {
		t.Skipf("render failed: %v", err)
	}
	if !page.Rendered {
		t.Fatal("page should be marked as rendered")
	}
	if !strings.Contains(string(page.Body), "late content") {
		t.Fatal("rendered body missing dynamic content")
	}
}

func TestNewChromedpRendererDisabled(t *testing.T) {
	_, err := NewChromedpRenderer(CrawlTarget{}, RenderConfig{MaxConcurrency: 0}, NewThrottle(0), zap.NewNop())
	if !errors.Is(err, ErrRendererDisabled) {
		t.Fatalf("expected ErrRendererDisabled, got %v", err)
	}
}
