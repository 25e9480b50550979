package crawl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/dcarver/catcrawl/internal/hash/sha256"
)

// Extractor turns a fetched product page into a CatalogItem. Sources are
// tried richest-first: JSON-LD product blocks, then embedded state blobs,
// then meta tags and visible DOM, then a host-pattern sweep over the raw
// markup for images. Later sources only fill fields earlier ones left
// empty; images accumulate across all sources.
type Extractor struct {
	target CrawlTarget
	logger *zap.Logger

	walkMaxDepth int
	walkMaxNodes int
}

func NewExtractor(target CrawlTarget, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		target:       target,
		logger:       logger,
		walkMaxDepth: defaultWalkMaxDepth,
		walkMaxNodes: defaultWalkMaxNodes,
	}
}

// Extract parses body (and the optional secondary description document)
// and returns an item. The returned item always carries an identifier;
// when no source yields one it is derived from the normalized page URL
// and flagged with IDFromHash.
func (e *Extractor) Extract(pageURL string, body, descBody []byte) (*CatalogItem, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse page %s: %w", pageURL, err)
	}

	item := &CatalogItem{SourceURL: pageURL, IDConfidence: IDFromHash}
	var images []string

	if product := productFromJSONLD(doc); product != nil {
		e.applyStructured(item, product, &images)
	}

	// The blob can supply any field structured data left blank, the
	// identifier included, so gate on all of them rather than just the
	// headline fields.
	if item.ID == "" || item.Name == "" || item.Price == "" || item.Brand == "" ||
		item.Condition == "" || len(images) == 0 {
		if blob := findStateBlob(doc); blob != nil {
			e.applyStateBlob(item, blob, &images)
		}
	}

	e.applyDOM(item, doc, &images)

	if descBody != nil {
		if descDoc, derr := goquery.NewDocumentFromReader(bytes.NewReader(descBody)); derr == nil {
			e.applyDescription(item, descDoc, &images)
		} else {
			e.logger.Debug("description document unparseable", zap.String("url", pageURL), zap.Error(derr))
		}
	}

	if e.target.ImageHostPattern != nil {
		images = append(images, hostPatternImages(body, e.target.ImageHostPattern)...)
	}

	e.resolveID(item)
	item.ImageURLs = dedupeImageURLs(images, e.target.MaxImagesPerItem)
	return item, nil
}

// DescriptionRef reports the URL of an embedded description document
// (listing-style sources render the seller description in an iframe).
// Empty when the page has none.
func (e *Extractor) DescriptionRef(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	var ref string
	doc.Find("iframe[src]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		src, _ := sel.Attr("src")
		id, _ := sel.Attr("id")
		if strings.Contains(strings.ToLower(id), "desc") || strings.Contains(strings.ToLower(src), "desc") {
			ref = src
			return false
		}
		return true
	})
	if ref != "" && !strings.HasPrefix(ref, "http") {
		return ""
	}
	return ref
}

// --- JSON-LD ---

func productFromJSONLD(doc *goquery.Document) map[string]any {
	var product map[string]any
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		var v any
		if err := json.Unmarshal([]byte(sel.Text()), &v); err != nil {
			return true
		}
		if p := findProductNode(v, 0); p != nil {
			product = p
			return false
		}
		return true
	})
	return product
}

// findProductNode descends through @graph arrays and mainEntity wrappers
// looking for an object typed Product.
func findProductNode(v any, depth int) map[string]any {
	if depth > 6 {
		return nil
	}
	switch node := v.(type) {
	case map[string]any:
		if ldTypeIs(node["@type"], "Product") {
			return node
		}
		for _, key := range []string{"@graph", "mainEntity", "mainEntityOfPage"} {
			if found := findProductNode(node[key], depth+1); found != nil {
				return found
			}
		}
	case []any:
		for _, child := range node {
			if found := findProductNode(child, depth+1); found != nil {
				return found
			}
		}
	}
	return nil
}

func ldTypeIs(v any, want string) bool {
	switch t := v.(type) {
	case string:
		return strings.EqualFold(t, want)
	case []any:
		for _, entry := range t {
			if s, ok := entry.(string); ok && strings.EqualFold(s, want) {
				return true
			}
		}
	}
	return false
}

func (e *Extractor) applyStructured(item *CatalogItem, product map[string]any, images *[]string) {
	if id := firstScalarString(product, []string{"sku", "productID", "productId", "mpn", "gtin13", "gtin"}); id != "" {
		item.ID = id
		item.IDConfidence = IDFromStructuredData
	}
	setIfEmpty(&item.Name, scalarString(product["name"]))
	setIfEmpty(&item.Brand, nameOrString(product["brand"]))
	setIfEmpty(&item.Model, nameOrString(product["model"]))
	setIfEmpty(&item.Category, categoryString(product["category"]))
	setIfEmpty(&item.Description, scalarString(product["description"]))

	if offer := firstOffer(product["offers"]); offer != nil {
		setIfEmpty(&item.Price, scalarString(offer["price"]))
		setIfEmpty(&item.Currency, scalarString(offer["priceCurrency"]))
		setIfEmpty(&item.Condition, conditionString(offer["itemCondition"]))
		setIfEmpty(&item.Seller, nameOrString(offer["seller"]))
	}
	setIfEmpty(&item.Condition, conditionString(product["itemCondition"]))

	appendImageValues(images, product["image"])

	if raw, err := json.Marshal(product); err == nil {
		item.RawDocument = string(raw)
	}
}

func firstOffer(v any) map[string]any {
	switch offer := v.(type) {
	case map[string]any:
		// AggregateOffer carries lowPrice rather than price.
		if _, ok := offer["price"]; !ok {
			if low, ok := offer["lowPrice"]; ok {
				offer["price"] = low
			}
		}
		return offer
	case []any:
		for _, entry := range offer {
			if m, ok := entry.(map[string]any); ok {
				return m
			}
		}
	}
	return nil
}

// conditionString normalizes schema.org condition URLs such as
// "https://schema.org/UsedCondition" down to "Used".
func conditionString(v any) string {
	s := scalarString(v)
	if s == "" {
		return ""
	}
	if idx := strings.LastIndex(s, "/"); idx >= 0 {
		s = s[idx+1:]
	}
	return strings.TrimSuffix(s, "Condition")
}

func nameOrString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case map[string]any:
		return scalarString(t["name"])
	}
	return ""
}

func categoryString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case []any:
		var parts []string
		for _, entry := range t {
			if s := scalarString(entry); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " > ")
	}
	return ""
}

func appendImageValues(images *[]string, v any) {
	switch t := v.(type) {
	case string:
		if strings.HasPrefix(t, "http") {
			*images = append(*images, t)
		}
	case []any:
		for _, entry := range t {
			appendImageValues(images, entry)
		}
	case map[string]any:
		appendImageValues(images, t["url"])
	}
}

// --- state blobs ---

var stateAssignPatterns = []*regexp.Regexp{
	regexp.MustCompile(`window\.__INITIAL_STATE__\s*=\s*`),
	regexp.MustCompile(`window\.__PRELOADED_STATE__\s*=\s*`),
	regexp.MustCompile(`window\.__APOLLO_STATE__\s*=\s*`),
	regexp.MustCompile(`window\.__NUXT__\s*=\s*`),
}

// findStateBlob returns the decoded JSON document a framework embedded in
// the page: the __NEXT_DATA__ script, or the first recognized global
// assignment inside an inline script.
func findStateBlob(doc *goquery.Document) any {
	if txt := doc.Find("script#__NEXT_DATA__").First().Text(); strings.TrimSpace(txt) != "" {
		var v any
		if err := json.Unmarshal([]byte(txt), &v); err == nil {
			return v
		}
	}
	var blob any
	doc.Find("script:not([src])").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text := sel.Text()
		for _, pattern := range stateAssignPatterns {
			loc := pattern.FindStringIndex(text)
			if loc == nil {
				continue
			}
			// Decode consumes one JSON value and ignores the trailing
			// script text (semicolons, further statements).
			dec := json.NewDecoder(strings.NewReader(text[loc[1]:]))
			var v any
			if err := dec.Decode(&v); err == nil {
				blob = v
				return false
			}
		}
		return true
	})
	return blob
}

func (e *Extractor) applyStateBlob(item *CatalogItem, blob any, images *[]string) {
	walker := newStateWalker(e.walkMaxDepth, e.walkMaxNodes)
	product := walker.findProduct(blob)
	if product != nil {
		if item.ID == "" {
			if id := firstScalarString(product, productIDKeys); id != "" {
				item.ID = id
				item.IDConfidence = IDFromStateBlob
			}
		}
		setIfEmpty(&item.Name, firstScalarString(product, productNameKeys))
		setIfEmpty(&item.Brand, nameOrString(product["brand"]))
		setIfEmpty(&item.Model, nameOrString(product["model"]))
		setIfEmpty(&item.Price, firstScalarString(product, []string{"price", "currentPrice", "salePrice"}))
		setIfEmpty(&item.Currency, firstScalarString(product, []string{"priceCurrency", "currency", "currencyCode", "currency_code"}))
		setIfEmpty(&item.Condition, firstScalarString(product, []string{"condition", "itemCondition"}))
		if item.RawDocument == "" {
			if raw, err := json.Marshal(product); err == nil {
				item.RawDocument = string(raw)
			}
		}
	}

	// Image candidates come from the whole blob, not just the product
	// node: galleries often live in sibling subtrees.
	imageWalker := newStateWalker(e.walkMaxDepth, e.walkMaxNodes)
	*images = append(*images, imageWalker.collectImages(blob)...)
}

// --- meta tags and visible DOM ---

var breadcrumbSelectors = []string{
	`nav[aria-label="Breadcrumb"] li`,
	`nav[aria-label="breadcrumb"] li`,
	"ol.breadcrumb li",
	"ul.breadcrumb li",
	".breadcrumbs li",
}

func (e *Extractor) applyDOM(item *CatalogItem, doc *goquery.Document, images *[]string) {
	setIfEmpty(&item.Name, metaContent(doc, `meta[property="og:title"]`))
	setIfEmpty(&item.Name, metaContent(doc, `meta[name="twitter:title"]`))
	setIfEmpty(&item.Name, strings.TrimSpace(doc.Find("title").First().Text()))

	setIfEmpty(&item.Description, metaContent(doc, `meta[property="og:description"]`))
	setIfEmpty(&item.Description, metaContent(doc, `meta[name="description"]`))

	setIfEmpty(&item.Price, metaContent(doc, `meta[property="product:price:amount"]`))
	setIfEmpty(&item.Price, metaContent(doc, `meta[property="og:price:amount"]`))
	setIfEmpty(&item.Price, itempropValue(doc, "price"))
	setIfEmpty(&item.Currency, metaContent(doc, `meta[property="product:price:currency"]`))
	setIfEmpty(&item.Currency, metaContent(doc, `meta[property="og:price:currency"]`))
	setIfEmpty(&item.Currency, itempropValue(doc, "priceCurrency"))
	setIfEmpty(&item.Brand, itempropValue(doc, "brand"))

	for _, sel := range []string{`meta[property="og:image"]`, `meta[property="og:image:secure_url"]`, `meta[name="twitter:image"]`} {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			if content, ok := s.Attr("content"); ok && strings.HasPrefix(content, "http") {
				*images = append(*images, content)
			}
		})
	}

	setIfEmpty(&item.Category, breadcrumbTrail(doc))

	if len(item.Specifics) == 0 {
		item.Specifics = specTablePairs(doc)
	}
}

// applyDescription mines the secondary description document for spec
// tables and inline images the main page omitted.
func (e *Extractor) applyDescription(item *CatalogItem, doc *goquery.Document, images *[]string) {
	item.Specifics = append(item.Specifics, specTablePairs(doc)...)
	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		if strings.HasPrefix(src, "http") && looksLikeImageURL(src) {
			*images = append(*images, src)
		}
	})
}

func metaContent(doc *goquery.Document, selector string) string {
	content, _ := doc.Find(selector).First().Attr("content")
	return strings.TrimSpace(content)
}

func itempropValue(doc *goquery.Document, name string) string {
	sel := doc.Find(fmt.Sprintf(`[itemprop=%q]`, name)).First()
	if content, ok := sel.Attr("content"); ok {
		return strings.TrimSpace(content)
	}
	return strings.TrimSpace(sel.Text())
}

func breadcrumbTrail(doc *goquery.Document) string {
	for _, selector := range breadcrumbSelectors {
		var parts []string
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			if text := strings.TrimSpace(s.Text()); text != "" {
				parts = append(parts, text)
			}
		})
		if len(parts) > 0 {
			return strings.Join(parts, " > ")
		}
	}
	return ""
}

const maxSpecifics = 80

func specTablePairs(doc *goquery.Document) []Specific {
	var pairs []Specific
	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		if len(pairs) >= maxSpecifics {
			return
		}
		var name, value string
		if th := row.Find("th").First(); th.Length() > 0 {
			name = strings.TrimSpace(th.Text())
			value = strings.TrimSpace(row.Find("td").First().Text())
		} else {
			cells := row.Find("td")
			if cells.Length() >= 2 {
				name = strings.TrimSpace(cells.Eq(0).Text())
				value = strings.TrimSpace(cells.Eq(1).Text())
			}
		}
		if name != "" && value != "" {
			pairs = append(pairs, Specific{Key: name, Value: value})
		}
	})
	doc.Find("dl").Each(func(_ int, list *goquery.Selection) {
		terms := list.Find("dt")
		defs := list.Find("dd")
		for i := 0; i < terms.Length() && i < defs.Length() && len(pairs) < maxSpecifics; i++ {
			name := strings.TrimSpace(terms.Eq(i).Text())
			value := strings.TrimSpace(defs.Eq(i).Text())
			if name != "" && value != "" {
				pairs = append(pairs, Specific{Key: name, Value: value})
			}
		}
	})
	return pairs
}

// --- host-pattern fallback ---

var rawURLPattern = regexp.MustCompile(`https?://[^\s"'<>\\)]+`)

// hostPatternImages sweeps the raw markup for URLs matching the configured
// image host pattern. Last resort for pages whose galleries are assembled
// by scripts the structured sources miss.
func hostPatternImages(body []byte, pattern *regexp.Regexp) []string {
	var out []string
	for _, match := range rawURLPattern.FindAll(body, 200) {
		candidate := string(match)
		if pattern.MatchString(candidate) {
			out = append(out, candidate)
		}
	}
	return out
}

// --- identity and assembly ---

func (e *Extractor) resolveID(item *CatalogItem) {
	if item.ID != "" {
		return
	}
	normalized, err := NormalizeURL(item.SourceURL)
	if err != nil {
		normalized = item.SourceURL
	}
	if id := idFromURL(normalized); id != "" {
		item.ID = id
		item.IDConfidence = IDFromURL
		return
	}
	item.ID = "u" + sha256.Short(normalized, 16)
	item.IDConfidence = IDFromHash
	e.logger.Debug("no native identifier, using url hash", zap.String("url", item.SourceURL), zap.String("id", item.ID))
}

// dedupeImageURLs drops duplicate candidates preserving first-seen order
// and applies the per-item cap.
func dedupeImageURLs(candidates []string, maxImages int) []string {
	seen := make(map[string]struct{}, len(candidates))
	var out []string
	for _, raw := range candidates {
		u := strings.TrimSpace(raw)
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
		if maxImages > 0 && len(out) >= maxImages {
			break
		}
	}
	return out
}

func setIfEmpty(dst *string, value string) {
	if *dst == "" && value != "" {
		*dst = strings.TrimSpace(value)
	}
}

// scalarString renders a scalar JSON value. Floats that carry no
// fractional part print as integers so SKUs survive decoding.
func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}
