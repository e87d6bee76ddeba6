package authority

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/xenlix/citeline/app/database"
)

const (
	// Scores younger than this are considered fresh and skipped unless the
	// caller forces a rescore.
	scoreTTL = 24 * time.Hour

	defaultDomainDelay = time.Second
	apiTimeout         = 10 * time.Second
)

// Scorer assigns authority scores to citations, one external API call per
// distinct domain. When the API is not configured or a call fails, the
// static fallback tier is used instead so a score is always recorded.
type Scorer struct {
	client      *http.Client
	repo        database.CitationRepository
	apiURL      string
	apiKey      string
	domainDelay time.Duration
}

func NewScorer(repo database.CitationRepository, apiURL, apiKey, userAgent string) *Scorer {
	return &Scorer{
		client: &http.Client{
			Timeout:   apiTimeout,
			Transport: &headerTransport{userAgent: userAgent, apiKey: apiKey},
		},
		repo:        repo,
		apiURL:      apiURL,
		apiKey:      apiKey,
		domainDelay: defaultDomainDelay,
	}
}

type headerTransport struct {
	userAgent string
	apiKey    string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	if t.apiKey != "" {
		req.Header.Set("X-API-Key", t.apiKey)
	}
	return http.DefaultTransport.RoundTrip(req)
}

// ScoreCitations scores the given citations grouped by domain. Domains with
// fresh scores are skipped unless force is set. A failed domain is logged
// and the remaining domains still proceed; only persistence errors are
// returned.
func (s *Scorer) ScoreCitations(ctx context.Context, citations []database.Citation, force bool) error {
	byDomain := make(map[string][]database.Citation)
	for _, c := range citations {
		if c.Domain == "" {
			continue
		}
		byDomain[c.Domain] = append(byDomain[c.Domain], c)
	}

	domains := make([]string, 0, len(byDomain))
	for domain := range byDomain {
		domains = append(domains, domain)
	}
	sort.Strings(domains)

	var errs []error
	first := true

	for _, domain := range domains {
		group := byDomain[domain]

		ids := make([]string, 0, len(group))
		for _, c := range group {
			if !force && isFresh(c) {
				continue
			}
			ids = append(ids, c.ID)
		}
		if len(ids) == 0 {
			slog.Debug("Authority scores fresh, skipping domain", "domain", domain)
			continue
		}

		if !first {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.domainDelay):
			}
		}
		first = false

		score, err := s.scoreDomain(ctx, domain)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			score = FallbackScore(domain)
			slog.Warn("Authority API failed, using fallback score", "domain", domain, "score", score, "error", err)
		}

		if err := s.repo.UpdateAuthorityScores(ids, score, time.Now()); err != nil {
			errs = append(errs, fmt.Errorf("failed to persist scores for %s: %w", domain, err))
			continue
		}

		slog.Debug("Authority scores updated", "domain", domain, "score", score, "citations_count", len(ids))
	}

	return errors.Join(errs...)
}

func isFresh(c database.Citation) bool {
	return c.AuthorityScore != nil &&
		c.AuthorityUpdatedAt != nil &&
		time.Since(*c.AuthorityUpdatedAt) < scoreTTL
}

type apiResponse struct {
	Domain string  `json:"domain"`
	Score  float64 `json:"score"`
}

// scoreDomain queries the external authority API. Without a configured API
// URL the static fallback is used directly.
func (s *Scorer) scoreDomain(ctx context.Context, domain string) (float64, error) {
	if s.apiURL == "" {
		return FallbackScore(domain), nil
	}

	reqURL := fmt.Sprintf("%s?domain=%s", s.apiURL, url.QueryEscape(domain))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var parsed apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("failed to decode response: %w", err)
	}

	if parsed.Score < 0 || parsed.Score > 1 {
		return 0, fmt.Errorf("score %f out of range", parsed.Score)
	}

	return parsed.Score, nil
}
