package crawl

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const jsonLDPage = `<!doctype html><html><head>
<script type="application/ld+json">
{
  "@context": "https://schema.org",
  "@graph": [
    {"@type": "BreadcrumbList"},
    {
      "@type": "Product",
      "sku": "CAM-4411",
      "name": "Vintage Rangefinder Camera",
      "brand": {"@type": "Brand", "name": "Leitz"},
      "model": "IIIf",
      "category": "Cameras > Film Cameras",
      "description": "A clean example with recent CLA.",
      "image": ["https://img.example.com/cam/1.jpg", {"url": "https://img.example.com/cam/2.jpg"}],
      "offers": {
        "@type": "Offer",
        "price": 499.5,
        "priceCurrency": "USD",
        "itemCondition": "https://schema.org/UsedCondition",
        "seller": {"@type": "Organization", "name": "Midtown Camera"}
      }
    }
  ]
}
</script>
</head><body><h1>Vintage Rangefinder Camera</h1></body></html>`

func TestExtractJSONLD(t *testing.T) {
	e := NewExtractor(CrawlTarget{}, zap.NewNop())

	item, err := e.Extract("https://shop.example.com/product/cam-4411", []byte(jsonLDPage), nil)
	require.NoError(t, err)

	require.Equal(t, "CAM-4411", item.ID)
	require.Equal(t, IDFromStructuredData, item.IDConfidence)
	require.Equal(t, "Vintage Rangefinder Camera", item.Name)
	require.Equal(t, "Leitz", item.Brand)
	require.Equal(t, "IIIf", item.Model)
	require.Equal(t, "Cameras > Film Cameras", item.Category)
	require.Equal(t, "499.5", item.Price)
	require.Equal(t, "USD", item.Currency)
	require.Equal(t, "Used", item.Condition)
	require.Equal(t, "Midtown Camera", item.Seller)
	require.Equal(t, []string{
		"https://img.example.com/cam/1.jpg",
		"https://img.example.com/cam/2.jpg",
	}, item.ImageURLs)
	require.Contains(t, item.RawDocument, `"sku":"CAM-4411"`)
}

const nextDataPage = `<!doctype html><html><head>
<script id="__NEXT_DATA__" type="application/json">
{
  "props": {
    "pageProps": {
      "product": {
        "productId": 887712,
        "title": "Mechanical Keyboard TKL",
        "brand": "Keysmith",
        "price": "129.00",
        "currencyCode": "EUR",
        "gallery": ["https://cdn.example.net/kb/front.jpg", "https://cdn.example.net/kb/side.jpg"]
      },
      "related": ["https://cdn.example.net/other/rel.jpg"]
    }
  }
}
</script>
</head><body></body></html>`

func TestExtractStateBlob(t *testing.T) {
	e := NewExtractor(CrawlTarget{}, zap.NewNop())

	item, err := e.Extract("https://shop.example.net/kb-tkl", []byte(nextDataPage), nil)
	require.NoError(t, err)

	require.Equal(t, "887712", item.ID)
	require.Equal(t, IDFromStateBlob, item.IDConfidence)
	require.Equal(t, "Mechanical Keyboard TKL", item.Name)
	require.Equal(t, "Keysmith", item.Brand)
	require.Equal(t, "129.00", item.Price)
	require.Equal(t, "EUR", item.Currency)

	// Gallery-key URLs come before image-shaped strings found elsewhere.
	require.Equal(t, "https://cdn.example.net/kb/front.jpg", item.ImageURLs[0])
	require.Equal(t, "https://cdn.example.net/kb/side.jpg", item.ImageURLs[1])
	require.Contains(t, item.ImageURLs, "https://cdn.example.net/other/rel.jpg")
}

func TestExtractWindowStateAssignment(t *testing.T) {
	page := `<html><head><script>
window.__INITIAL_STATE__ = {"item":{"sku":"SKU-9","name":"Desk Lamp","price":30}};
window.start();
</script></head><body></body></html>`
	e := NewExtractor(CrawlTarget{}, zap.NewNop())

	item, err := e.Extract("https://example.org/lamp", []byte(page), nil)
	require.NoError(t, err)
	require.Equal(t, "SKU-9", item.ID)
	require.Equal(t, IDFromStateBlob, item.IDConfidence)
	require.Equal(t, "Desk Lamp", item.Name)
	require.Equal(t, "30", item.Price)
}

const metaOnlyPage = `<!doctype html><html><head>
<title>Fallback Title | Shop</title>
<meta property="og:title" content="Walnut Side Table">
<meta property="og:description" content="Solid walnut, mid-century lines.">
<meta property="og:image" content="https://img.example.org/table/main.jpg">
<meta property="product:price:amount" content="240.00">
<meta property="product:price:currency" content="GBP">
</head><body>
<ol class="breadcrumb"><li>Home</li><li>Furniture</li><li>Tables</li></ol>
<table>
<tr><th>Material</th><td>Walnut</td></tr>
<tr><td>Height</td><td>55 cm</td></tr>
</table>
</body></html>`

func TestExtractFallsBackToMetaTags(t *testing.T) {
	e := NewExtractor(CrawlTarget{}, zap.NewNop())

	item, err := e.Extract("https://shop.example.org/item/99120", []byte(metaOnlyPage), nil)
	require.NoError(t, err)
	require.NotNil(t, item)

	require.Equal(t, "Walnut Side Table", item.Name)
	require.Equal(t, "240.00", item.Price)
	require.Equal(t, "GBP", item.Currency)
	require.Equal(t, "Home > Furniture > Tables", item.Category)
	require.Equal(t, []string{"https://img.example.org/table/main.jpg"}, item.ImageURLs)
	require.Equal(t, []Specific{
		{Key: "Material", Value: "Walnut"},
		{Key: "Height", Value: "55 cm"},
	}, item.Specifics)

	// No structured identifier on the page, so it comes from the URL.
	require.Equal(t, "99120", item.ID)
	require.Equal(t, IDFromURL, item.IDConfidence)
}

func TestExtractHashIdentifierWhenNothingMatches(t *testing.T) {
	page := `<html><head><title>Mystery</title></head><body></body></html>`
	e := NewExtractor(CrawlTarget{}, zap.NewNop())

	item, err := e.Extract("https://example.com/some/opaque/path", []byte(page), nil)
	require.NoError(t, err)
	require.Equal(t, IDFromHash, item.IDConfidence)
	require.Len(t, item.ID, 17)
	require.Equal(t, byte('u'), item.ID[0])

	// Same URL always hashes to the same identifier.
	again, err := e.Extract("https://example.com/some/opaque/path", []byte(page), nil)
	require.NoError(t, err)
	require.Equal(t, item.ID, again.ID)
}

func TestExtractHostPatternImageFallback(t *testing.T) {
	page := `<html><head><title>Gallery</title></head><body>
<script>var imgs = ["https://i.cdnshop.example/v1/77281_a.jpg","https://i.cdnshop.example/v1/77281_b.jpg"];</script>
<a href="https://elsewhere.example/x.jpg">off-host</a>
</body></html>`
	target := CrawlTarget{ImageHostPattern: regexp.MustCompile(`^https://i\.cdnshop\.example/`)}
	e := NewExtractor(target, zap.NewNop())

	item, err := e.Extract("https://shop.example/p/77281", []byte(page), nil)
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://i.cdnshop.example/v1/77281_a.jpg",
		"https://i.cdnshop.example/v1/77281_b.jpg",
	}, item.ImageURLs)
}

func TestExtractImageCapAndDedupe(t *testing.T) {
	page := `<html><head>
<meta property="og:image" content="https://img.example/1.jpg">
<meta property="og:image" content="https://img.example/1.jpg">
<meta property="og:image" content="https://img.example/2.jpg">
<meta property="og:image" content="https://img.example/3.jpg">
</head><body></body></html>`
	e := NewExtractor(CrawlTarget{MaxImagesPerItem: 2}, zap.NewNop())

	item, err := e.Extract("https://shop.example/p/1", []byte(page), nil)
	require.NoError(t, err)
	require.Equal(t, []string{"https://img.example/1.jpg", "https://img.example/2.jpg"}, item.ImageURLs)
}

func TestExtractDescriptionDocument(t *testing.T) {
	page := `<html><head><title>Listing</title></head><body>
<iframe id="desc_ifr" src="https://desc.example.com/itemdescv2?id=4451"></iframe>
</body></html>`
	desc := `<html><body>
<table><tr><th>Voltage</th><td>230V</td></tr></table>
<img src="https://desc.example.com/pics/4451-extra.jpg">
<img src="relative/skip.jpg">
</body></html>`

	e := NewExtractor(CrawlTarget{}, zap.NewNop())

	ref := e.DescriptionRef([]byte(page))
	require.Equal(t, "https://desc.example.com/itemdescv2?id=4451", ref)

	item, err := e.Extract("https://shop.example/itm/4451", []byte(page), []byte(desc))
	require.NoError(t, err)
	require.Contains(t, item.Specifics, Specific{Key: "Voltage", Value: "230V"})
	require.Contains(t, item.ImageURLs, "https://desc.example.com/pics/4451-extra.jpg")
	require.NotContains(t, item.ImageURLs, "relative/skip.jpg")
}

func TestStateWalkerBounds(t *testing.T) {
	// A self-similar document deeper than the walker's budget must not
	// recurse forever and must simply yield nothing.
	deep := map[string]any{}
	cursor := deep
	for i := 0; i < 40; i++ {
		next := map[string]any{}
		cursor["nested"] = next
		cursor = next
	}
	cursor["sku"] = "DEEP-1"
	cursor["name"] = "Too Deep"

	w := newStateWalker(12, 5000)
	require.Nil(t, w.findProduct(deep))

	wide := make([]any, 0, 6000)
	for i := 0; i < 6000; i++ {
		wide = append(wide, map[string]any{"filler": i})
	}
	w = newStateWalker(12, 5000)
	require.Nil(t, w.findProduct(map[string]any{"rows": wide, "sku": 1}))
}

func TestStateWalkerImageOrderIsStable(t *testing.T) {
	doc := map[string]any{
		"related":     map[string]any{"href": "https://cdn.example.net/p/rel.png"},
		"imageAlt":    "https://cdn.example.net/p/alt.jpg",
		"galleryMain": "https://cdn.example.net/p/main.jpg",
		"mediaExtra": []any{
			"https://cdn.example.net/p/extra1.jpg",
			"https://cdn.example.net/p/extra2.jpg",
		},
	}

	// Sorted-key traversal, image-suggestive keys first. Without it the
	// position suffix baked into image filenames shuffles between crawls.
	want := []string{
		"https://cdn.example.net/p/main.jpg",
		"https://cdn.example.net/p/alt.jpg",
		"https://cdn.example.net/p/extra1.jpg",
		"https://cdn.example.net/p/extra2.jpg",
		"https://cdn.example.net/p/rel.png",
	}
	for i := 0; i < 25; i++ {
		w := newStateWalker(12, 5000)
		require.Equal(t, want, w.collectImages(doc), "walk %d", i)
	}
}

const skuLessJSONLDPage = `<!doctype html><html><head>
<script type="application/ld+json">
{
  "@context": "https://schema.org",
  "@type": "Product",
  "name": "Studio Monitor Pair",
  "brand": {"@type": "Brand", "name": "Acoustics Co"},
  "image": ["https://img.example.com/mon/1.jpg"],
  "offers": {"@type": "Offer", "price": 349, "priceCurrency": "USD"}
}
</script>
<script id="__NEXT_DATA__" type="application/json">
{"props":{"pageProps":{"product":{"sku":"BLOB-77","name":"Studio Monitor Pair"}}}}
</script>
</head><body></body></html>`

func TestExtractBlobSuppliesMissingIdentifier(t *testing.T) {
	// Structured data covering name, price, and images but no SKU must
	// still reach the state blob for the identifier.
	e := NewExtractor(CrawlTarget{}, zap.NewNop())

	item, err := e.Extract("https://example.com/opaque/path", []byte(skuLessJSONLDPage), nil)
	require.NoError(t, err)

	require.Equal(t, "BLOB-77", item.ID)
	require.Equal(t, IDFromStateBlob, item.IDConfidence)
	require.Equal(t, "Studio Monitor Pair", item.Name)
	require.Equal(t, "349", item.Price)
	require.Equal(t, "Acoustics Co", item.Brand)
}
