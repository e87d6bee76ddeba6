package extractor

// Citation extraction types

type Type string

const (
	TypeDirectURL  Type = "direct_url"
	TypeFootnote   Type = "footnote"
	TypeInline     Type = "inline"
	TypeNumbered   Type = "numbered_list"
	TypeStructured Type = "structured"
)

type Citation struct {
	RawText       string
	URL           string // URL as captured, before normalization
	NormalizedURL string
	Domain        string
	Title         string
	Type          Type
	Confidence    float64 // always within [0,1]
	Rank          int     // 1-based order of appearance, contiguous after dedup
}

type Options struct {
	MaxCitations        int
	ConfidenceThreshold float64
	ExtractTitles       bool
	// IncludeInvalid keeps candidates whose URL fails validity parsing.
	IncludeInvalid bool
}

func DefaultOptions() Options {
	return Options{
		MaxCitations:        20,
		ConfidenceThreshold: 0.5,
		ExtractTitles:       true,
	}
}
