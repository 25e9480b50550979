package crawl

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// pageFetcher serves canned listing pages keyed by URL.
type pageFetcher struct {
	pages map[string]string
	calls []string
}

func (f *pageFetcher) Fetch(_ context.Context, rawURL string) (Page, error) {
	f.calls = append(f.calls, rawURL)
	body, ok := f.pages[rawURL]
	if !ok {
		return Page{}, errors.New("not found")
	}
	return Page{URL: rawURL, FinalURL: rawURL, StatusCode: 200, Body: []byte(body)}, nil
}

func listingHTML(links ...string) string {
	html := "<html><body>"
	for _, l := range links {
		html += fmt.Sprintf(`<a href="%s">item</a>`, l)
	}
	return html + "</body></html>"
}

func TestListingDiscoverStopsAfterTwoEmptyPages(t *testing.T) {
	t.Parallel()

	base := "https://shop.test/catalog"
	fetcher := &pageFetcher{pages: map[string]string{
		base + "?page=1": listingHTML("/p/one", "/p/two", "/category/skip"),
		base + "?page=2": listingHTML("/p/two", "/p/three"),
		base + "?page=3": listingHTML("/p/one"),          // nothing new
		base + "?page=4": listingHTML("/about", "/help"), // nothing new
		base + "?page=5": listingHTML("/p/never-reached"),
	}}

	resolver := NewListingResolver(CrawlTarget{
		ListingURL:      base,
		ProductURLHints: []string{"/p/"},
	}, fetcher, 0, zap.NewNop())

	urls, err := resolver.Discover(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://shop.test/p/one",
		"https://shop.test/p/two",
		"https://shop.test/p/three",
	}, urls)
	require.Len(t, fetcher.calls, 4, "two consecutive no-new-URL pages end the walk")
}

func TestListingDiscoverHonorsPageCap(t *testing.T) {
	t.Parallel()

	base := "https://shop.test/catalog?page=%d"
	fetcher := &pageFetcher{pages: map[string]string{
		"https://shop.test/catalog?page=1": listingHTML("/p/a1"),
		"https://shop.test/catalog?page=2": listingHTML("/p/a2"),
		"https://shop.test/catalog?page=3": listingHTML("/p/a3"),
	}}

	resolver := NewListingResolver(CrawlTarget{
		ListingURL:      base,
		ProductURLHints: []string{"/p/"},
	}, fetcher, 2, zap.NewNop())

	urls, err := resolver.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, urls, 2)
	require.Len(t, fetcher.calls, 2)
}

func TestListingPageURL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://s.test/c?page=3", listingPageURL("https://s.test/c", 3))
	require.Equal(t, "https://s.test/c/page/3", listingPageURL("https://s.test/c/page/%d", 3))
	require.Equal(t, "https://s.test/c?page=2&sort=new",
		listingPageURL("https://s.test/c?sort=new", 2))
}
