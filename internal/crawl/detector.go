package crawl

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// RenderDetector decides whether a directly fetched page needs the headless
// rendering fallback: a suspiciously small body, framework bootstrap
// markers, or a missing must-have selector all promote the page.
type RenderDetector struct {
	minHTMLBytes int
	selectors    []string
	keywords     [][]byte
}

// NewRenderDetector constructs a detector with the configured thresholds.
func NewRenderDetector(minBytes int, selectors, keywords []string) *RenderDetector {
	lowered := make([][]byte, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		lowered = append(lowered, bytes.ToLower([]byte(kw)))
	}
	return &RenderDetector{
		minHTMLBytes: minBytes,
		selectors:    selectors,
		keywords:     lowered,
	}
}

// NeedsRender inspects the page for signals that script execution is
// required to obtain the product markup.
func (d *RenderDetector) NeedsRender(page Page) bool {
	if d == nil {
		return false
	}
	switch {
	case d.bodyBelowThreshold(page.Body):
		return true
	case d.containsKeywords(page.Body):
		return true
	default:
		return d.missingSelectors(page.Body)
	}
}

func (d *RenderDetector) bodyBelowThreshold(body []byte) bool {
	return d.minHTMLBytes > 0 && len(body) < d.minHTMLBytes
}

func (d *RenderDetector) containsKeywords(body []byte) bool {
	if len(body) == 0 || len(d.keywords) == 0 {
		return false
	}
	lowerBody := bytes.ToLower(body)
	for _, kw := range d.keywords {
		if bytes.Contains(lowerBody, kw) {
			return true
		}
	}
	return false
}

func (d *RenderDetector) missingSelectors(body []byte) bool {
	if len(d.selectors) == 0 || len(body) == 0 {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return true
	}
	for _, sel := range d.selectors {
		if sel == "" {
			continue
		}
		if doc.Find(sel).Length() == 0 {
			return true
		}
	}
	return false
}
