package extractor

import (
	"fmt"
	"net/url"
	"strings"
)

// trackingParams are stripped from every normalized URL, along with any
// parameter carrying the utm_ prefix.
var trackingParams = map[string]bool{
	"gclid":    true,
	"fbclid":   true,
	"msclkid":  true,
	"_ga":      true,
	"mc_eid":   true,
	"mc_cid":   true,
	"ref":      true,
	"referrer": true,
	"source":   true,
	"campaign": true,
}

func isTrackingParam(name string) bool {
	return trackingParams[name] || strings.HasPrefix(name, "utm_")
}

// NormalizeURL returns the canonical form of a URL: https:// assumed when
// the scheme is missing, lowercase host, tracking parameters and fragment
// stripped, and a bare root path collapsed. Normalizing an already
// normalized URL returns the same string.
func NormalizeURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("empty URL")
	}

	if !strings.Contains(s, "://") {
		s = "https://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("failed to parse URL: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("URL has no host: %s", raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.RawQuery != "" {
		q := u.Query()
		for name := range q {
			if isTrackingParam(name) {
				q.Del(name)
			}
		}
		u.RawQuery = q.Encode()
	}

	u.Fragment = ""
	u.RawFragment = ""

	if u.Path == "/" {
		u.Path = ""
	}

	return u.String(), nil
}

// IsValidURL reports whether s parses as an absolute http(s) URL with a
// dotted host.
func IsValidURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return strings.Contains(u.Hostname(), ".")
}

// DomainOf returns the lowercase hostname of a URL, or "" when it cannot
// be parsed.
func DomainOf(s string) string {
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
