package parse

import (
	"net"
	"net/url"
	"sort"
	"strings"
)

// CanonicalizeURL standardizes a URL for request fingerprinting
// It lowercases the scheme and host, removes default ports (80 for http, 443 for https), turns an empty path into "/", sorts query parameters and drops the fragment
// Unlike a page-identity normalization, the query string is kept: two requests that differ only in query are different requests
// Does not modify the input *url.URL
func CanonicalizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	canonical := *u

	canonical.Scheme = strings.ToLower(canonical.Scheme)
	canonical.Host = strings.ToLower(canonical.Host)

	host, port, err := net.SplitHostPort(canonical.Host)
	if err == nil {
		if (canonical.Scheme == "http" && port == "80") ||
			(canonical.Scheme == "https" && port == "443") {
			canonical.Host = host
		}
	}

	if canonical.Path == "" {
		canonical.Path = "/"
	}

	canonical.Fragment = ""
	canonical.RawFragment = ""
	canonical.RawQuery = sortQuery(canonical.RawQuery)

	return canonical.String()
}

// sortQuery orders query pairs by key, then by value, keeping repeated keys
func sortQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	pairs := strings.Split(rawQuery, "&")
	kept := pairs[:0]
	for _, p := range pairs {
		if p != "" {
			kept = append(kept, p)
		}
	}
	sort.Strings(kept)
	return strings.Join(kept, "&")
}

// ParseAndCanonicalize parses a URL string using the stricter url.ParseRequestURI (requiring a scheme) and then canonicalizes it
// Returns the canonical string, the parsed URL object, and any parse error
func ParseAndCanonicalize(urlStr string) (string, *url.URL, error) {
	parsed, err := url.ParseRequestURI(urlStr)
	if err != nil {
		return "", nil, err
	}
	return CanonicalizeURL(parsed), parsed, nil
}
