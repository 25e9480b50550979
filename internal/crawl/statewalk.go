package crawl

import (
	"net/url"
	"path"
	"sort"
	"strings"
)

// Traversal bounds protecting against pathologically deep or repetitive
// state documents. Callers pass them explicitly; these are only defaults.
const (
	defaultWalkMaxDepth = 12
	defaultWalkMaxNodes = 5000
)

// Keys whose name suggests image, gallery, or media content. URLs found
// under these keys outrank bare image-looking strings found elsewhere.
var imageKeyHints = []string{"image", "gallery", "media", "photo", "picture", "thumbnail"}

// Keys that identify a product-shaped object inside a state blob.
var (
	productIDKeys   = []string{"sku", "productId", "product_id", "productID", "itemId", "item_id", "id"}
	productNameKeys = []string{"name", "title", "productName", "product_name"}
)

// stateWalker performs bounded recursive traversal over a decoded JSON
// document (maps, slices, scalars).
type stateWalker struct {
	maxDepth int
	maxNodes int
	visited  int
}

func newStateWalker(maxDepth, maxNodes int) *stateWalker {
	if maxDepth <= 0 {
		maxDepth = defaultWalkMaxDepth
	}
	if maxNodes <= 0 {
		maxNodes = defaultWalkMaxNodes
	}
	return &stateWalker{maxDepth: maxDepth, maxNodes: maxNodes}
}

func (w *stateWalker) budget(depth int) bool {
	if depth > w.maxDepth {
		return false
	}
	w.visited++
	return w.visited <= w.maxNodes
}

// findProduct locates the first product-shaped map: an object carrying both
// an identifier-like key and a name-like key with scalar values.
func (w *stateWalker) findProduct(doc any) map[string]any {
	return w.findProductAt(doc, 0)
}

func (w *stateWalker) findProductAt(node any, depth int) map[string]any {
	if !w.budget(depth) {
		return nil
	}
	switch v := node.(type) {
	case map[string]any:
		if looksLikeProduct(v) {
			return v
		}
		for _, key := range sortedKeys(v) {
			if found := w.findProductAt(v[key], depth+1); found != nil {
				return found
			}
		}
	case []any:
		for _, child := range v {
			if found := w.findProductAt(child, depth+1); found != nil {
				return found
			}
		}
	}
	return nil
}

func looksLikeProduct(m map[string]any) bool {
	if firstScalarString(m, productIDKeys) == "" {
		return false
	}
	return firstScalarString(m, productNameKeys) != ""
}

// collectImages gathers image URL candidates from the document. URLs found
// under image-suggestive keys are returned before URLs merely shaped like
// images. Maps are walked in sorted key order so repeated walks over the
// same document produce the same sequence.
func (w *stateWalker) collectImages(doc any) []string {
	var preferred, fallback []string
	w.collectImagesAt(doc, "", 0, &preferred, &fallback)
	return append(preferred, fallback...)
}

func (w *stateWalker) collectImagesAt(node any, key string, depth int, preferred, fallback *[]string) {
	if !w.budget(depth) {
		return
	}
	switch v := node.(type) {
	case string:
		w.collectString(v, key, preferred, fallback)
	case map[string]any:
		for _, childKey := range sortedKeys(v) {
			w.collectImagesAt(v[childKey], childKey, depth+1, preferred, fallback)
		}
	case []any:
		for _, child := range v {
			w.collectImagesAt(child, key, depth+1, preferred, fallback)
		}
	}
}

func (w *stateWalker) collectString(s, key string, preferred, fallback *[]string) {
	if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		return
	}
	if imageSuggestiveKey(key) {
		*preferred = append(*preferred, s)
		return
	}
	if looksLikeImageURL(s) {
		*fallback = append(*fallback, s)
	}
}

// sortedKeys keeps traversal deterministic across runs; map iteration order
// would otherwise shuffle image positions between crawls of the same page.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func imageSuggestiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, hint := range imageKeyHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

var imageExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".webp": {}, ".avif": {},
}

func looksLikeImageURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	_, ok := imageExtensions[strings.ToLower(path.Ext(u.Path))]
	return ok
}

// firstScalarString returns the first non-empty scalar value among keys.
// Numbers are rendered without a trailing exponent or zero fraction.
func firstScalarString(m map[string]any, keys []string) string {
	for _, key := range keys {
		if s := scalarString(m[key]); s != "" {
			return s
		}
	}
	return ""
}
