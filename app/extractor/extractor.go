package extractor

import (
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Citation pattern families. Each scan carries a base confidence reflecting
// how reliably the pattern indicates a genuine citation.
var (
	// directURLRe matches bare http(s) URLs anywhere in the text.
	directURLRe = regexp.MustCompile(`https?://[^\s<>"'\]]+`)

	// footnoteRe matches footnote-style lines like "[3] example.com - Title".
	footnoteRe = regexp.MustCompile(`(?m)^[ \t]*\[(\d+)\][ \t]*(.+)$`)

	// inlineRe matches inline attributions like "(Source: https://example.com)".
	inlineRe = regexp.MustCompile(`(?i)\(source:\s*([^)]+)\)`)

	// numberedRe matches numbered-list entries like "2. example.com — Title".
	numberedRe = regexp.MustCompile(`(?m)^[ \t]*\d+\.[ \t]+(.+)$`)

	// structuredRe matches URL fields in embedded JSON-looking text.
	structuredRe = regexp.MustCompile(`"url"\s*:\s*"([^"]+)"`)

	// bareDomainRe recovers a domain from captured text that carries no
	// explicit URL.
	bareDomainRe = regexp.MustCompile(`(?i)\b(?:[a-z0-9](?:[a-z0-9-]*[a-z0-9])?\.)+[a-z]{2,}\b`)
)

// Title patterns, tried in order against the raw citation text.
var (
	quotedTitleRe    = regexp.MustCompile(`"([^"]{3,200})"`)
	curlyQuotedTitleRe = regexp.MustCompile(`“([^”]{3,200})”`)
	dashTitleRe      = regexp.MustCompile(`[-–—]\s+([^-–—]{3,200})$`)
	pipeTitleRe      = regexp.MustCompile(`\|\s*([^|]{3,200})$`)
)

// reliableDomains are well-known sources whose citations get a confidence
// boost. Suffix-matched so subdomains qualify.
var reliableDomains = []string{
	"wikipedia.org",
	"britannica.com",
	"nature.com",
	"sciencedirect.com",
	"arxiv.org",
	"nih.gov",
	"cdc.gov",
	"who.int",
	"reuters.com",
	"apnews.com",
	"bbc.com",
	"nytimes.com",
	"github.com",
	"stackoverflow.com",
}

const (
	confidenceDirectURL  = 0.95
	confidenceStructured = 0.90
	confidenceFootnote   = 0.85
	confidenceInline     = 0.80
	confidenceNumbered   = 0.75

	// Raw captures longer than this are likely surrounding prose, not a
	// citation.
	noisyRawTextLength = 200
)

type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// candidate is an unscored match from a single pattern scan.
type candidate struct {
	pos     int // byte offset of the match, used for rank ordering
	rawText string
	url     string
	typ     Type
	base    float64
}

// Run extracts citations from raw answer text. It is a pure function: no
// I/O, and malformed candidates are dropped rather than reported.
func (e *Extractor) Run(text string, opts Options) []Citation {
	if opts.MaxCitations <= 0 {
		opts.MaxCitations = DefaultOptions().MaxCitations
	}

	candidates := scan(text)

	scored := make([]Citation, 0, len(candidates))
	for _, cand := range candidates {
		normalized, err := NormalizeURL(cand.url)
		if err != nil {
			continue
		}

		valid := IsValidURL(normalized)
		if !valid && !opts.IncludeInvalid {
			continue
		}

		citation := Citation{
			RawText:       cand.rawText,
			URL:           cand.url,
			NormalizedURL: normalized,
			Domain:        DomainOf(normalized),
			Type:          cand.typ,
			Confidence:    cand.base,
		}

		// Titles only occur in prose-style captures; direct hits are bare
		// URLs and structured captures quote their own field names.
		if opts.ExtractTitles && (cand.typ == TypeFootnote || cand.typ == TypeInline || cand.typ == TypeNumbered) {
			citation.Title = extractTitle(cand.rawText)
		}

		citation.Confidence = adjustConfidence(citation, valid)

		if citation.Confidence < opts.ConfidenceThreshold {
			continue
		}

		citation.Rank = cand.pos // provisional; re-ranked after dedup
		scored = append(scored, citation)
	}

	// Dedup by normalized URL keeping the first occurrence in the text.
	// Pattern matches start before any URL embedded in their capture, so a
	// footnote or inline hit wins over the bare URL inside it.
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Rank < scored[j].Rank
	})

	seen := make(map[string]bool, len(scored))
	result := make([]Citation, 0, len(scored))
	for _, citation := range scored {
		if seen[citation.NormalizedURL] {
			continue
		}
		seen[citation.NormalizedURL] = true

		citation.Rank = len(result) + 1
		result = append(result, citation)

		if len(result) >= opts.MaxCitations {
			break
		}
	}

	return result
}

func scan(text string) []candidate {
	var candidates []candidate

	for _, m := range directURLRe.FindAllStringIndex(text, -1) {
		raw := trimTrailingPunct(text[m[0]:m[1]])
		candidates = append(candidates, candidate{
			pos:     m[0],
			rawText: raw,
			url:     raw,
			typ:     TypeDirectURL,
			base:    confidenceDirectURL,
		})
	}

	for _, m := range footnoteRe.FindAllStringSubmatchIndex(text, -1) {
		captured := text[m[4]:m[5]]
		if url, ok := findURL(captured); ok {
			candidates = append(candidates, candidate{
				pos:     m[0],
				rawText: strings.TrimSpace(text[m[0]:m[1]]),
				url:     url,
				typ:     TypeFootnote,
				base:    confidenceFootnote,
			})
		}
	}

	for _, m := range inlineRe.FindAllStringSubmatchIndex(text, -1) {
		captured := text[m[2]:m[3]]
		if url, ok := findURL(captured); ok {
			candidates = append(candidates, candidate{
				pos:     m[0],
				rawText: strings.TrimSpace(text[m[0]:m[1]]),
				url:     url,
				typ:     TypeInline,
				base:    confidenceInline,
			})
		}
	}

	for _, m := range numberedRe.FindAllStringSubmatchIndex(text, -1) {
		captured := text[m[2]:m[3]]
		if url, ok := findURL(captured); ok {
			candidates = append(candidates, candidate{
				pos:     m[0],
				rawText: strings.TrimSpace(text[m[0]:m[1]]),
				url:     url,
				typ:     TypeNumbered,
				base:    confidenceNumbered,
			})
		}
	}

	for _, m := range structuredRe.FindAllStringSubmatchIndex(text, -1) {
		candidates = append(candidates, candidate{
			pos:     m[0],
			rawText: text[m[0]:m[1]],
			url:     text[m[2]:m[3]],
			typ:     TypeStructured,
			base:    confidenceStructured,
		})
	}

	return candidates
}

// findURL locates a URL inside captured citation text, synthesizing an
// https:// URL when only a bare domain is present.
func findURL(text string) (string, bool) {
	if m := directURLRe.FindString(text); m != "" {
		return trimTrailingPunct(m), true
	}
	if d := bareDomainRe.FindString(text); d != "" {
		return "https://" + d, true
	}
	return "", false
}

func adjustConfidence(c Citation, valid bool) float64 {
	confidence := c.Confidence

	if valid {
		confidence += 0.05
	}
	if isReliableDomain(c.Domain) {
		confidence += 0.10
	}
	if c.Title != "" {
		confidence += 0.05
	}
	if len(c.RawText) > noisyRawTextLength {
		confidence -= 0.10
	}

	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return confidence
}

func isReliableDomain(domain string) bool {
	for _, d := range reliableDomains {
		if domain == d || strings.HasSuffix(domain, "."+d) {
			return true
		}
	}
	return false
}

func extractTitle(rawText string) string {
	for _, re := range []*regexp.Regexp{quotedTitleRe, curlyQuotedTitleRe, dashTitleRe, pipeTitleRe} {
		if m := re.FindStringSubmatch(rawText); m != nil {
			title := strings.TrimSpace(m[1])
			if title != "" && !strings.Contains(title, "://") {
				return norm.NFC.String(title)
			}
		}
	}
	return ""
}

// trimTrailingPunct strips prose punctuation that URL regexes drag along,
// keeping a trailing ")" only when it closes a "(" inside the URL.
func trimTrailingPunct(s string) string {
	for len(s) > 0 {
		last := s[len(s)-1]
		if strings.ContainsRune(`.,;:!?'"`, rune(last)) {
			s = s[:len(s)-1]
			continue
		}
		if last == ')' && strings.Count(s, ")") > strings.Count(s, "(") {
			s = s[:len(s)-1]
			continue
		}
		break
	}
	return s
}
