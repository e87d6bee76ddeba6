package authority

import "strings"

// Static domain tiers used when the external scoring API is unreachable or
// not configured. Suffix-matched so subdomains inherit their parent's tier.
var (
	tierHigh = []string{
		"wikipedia.org",
		"nature.com",
		"sciencedirect.com",
		"nih.gov",
		"cdc.gov",
		"who.int",
		"reuters.com",
		"apnews.com",
		"bbc.com",
	}

	tierKnown = []string{
		"nytimes.com",
		"theguardian.com",
		"britannica.com",
		"arxiv.org",
		"github.com",
		"stackoverflow.com",
		"mozilla.org",
	}
)

const (
	scoreHigh       = 0.9
	scoreEducation  = 0.85
	scoreKnown      = 0.7
	scoreNonprofit  = 0.6
	scoreUnrecognized = 0.3
)

// FallbackScore assigns a static authority score from domain heuristics.
func FallbackScore(domain string) float64 {
	domain = strings.ToLower(strings.TrimPrefix(domain, "www."))

	if matchesSuffix(domain, tierHigh) {
		return scoreHigh
	}
	if strings.HasSuffix(domain, ".edu") || strings.HasSuffix(domain, ".gov") {
		return scoreEducation
	}
	if matchesSuffix(domain, tierKnown) {
		return scoreKnown
	}
	if strings.HasSuffix(domain, ".org") {
		return scoreNonprofit
	}
	return scoreUnrecognized
}

func matchesSuffix(domain string, list []string) bool {
	for _, d := range list {
		if domain == d || strings.HasSuffix(domain, "."+d) {
			return true
		}
	}
	return false
}
