package crawl

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// NormalizeURL canonicalizes scheme/host variants so deduplication works
// across bare-domain and www-prefixed forms. It lowercases scheme and host,
// strips a leading "www.", removes default ports and fragments, and sorts
// query parameters.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Host = strings.TrimPrefix(u.Host, "www.")

	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawQuery = u.Query().Encode()

	return u.String(), nil
}

// isLikelyProductURL filters out category, listing, and service URLs before
// they reach a worker. Exclude hints win; when include hints are configured
// at least one must match.
func isLikelyProductURL(rawURL string, includeHints, excludeHints []string) bool {
	lower := strings.ToLower(rawURL)
	for _, hint := range excludeHints {
		if hint != "" && strings.Contains(lower, strings.ToLower(hint)) {
			return false
		}
	}
	if len(includeHints) == 0 {
		return true
	}
	for _, hint := range includeHints {
		if hint != "" && strings.Contains(lower, strings.ToLower(hint)) {
			return true
		}
	}
	return false
}

// Identifier shapes commonly embedded in product URL paths and queries,
// checked in order. Parameter names match case-insensitively; captured
// values keep their original casing.
var urlIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)/(?:p|product|products|item)/(?:[^/?#]+/)?([A-Za-z0-9][A-Za-z0-9_.-]{2,})`),
	regexp.MustCompile(`(?i)/itm/(?:[^/?#]*/)?(\d{6,})`),
	regexp.MustCompile(`/(?:dp|gp/product)/([A-Z0-9]{10})`),
	regexp.MustCompile(`(?i)[?&](?:sku|skuid|productid|itemid|pid|id)=([A-Za-z0-9_.-]{3,})`),
	regexp.MustCompile(`-(\d{5,})(?:\.[a-z]{2,5})?/?$`),
}

// idFromURL extracts a site-native identifier encoded in the URL path or
// query, or "" when none is recognizable.
func idFromURL(rawURL string) string {
	candidate := rawURL
	if i := strings.IndexByte(candidate, '#'); i >= 0 {
		candidate = candidate[:i]
	}
	for _, pattern := range urlIDPatterns {
		if m := pattern.FindStringSubmatch(candidate); m != nil {
			return strings.Trim(m[1], "-.")
		}
	}
	return ""
}
