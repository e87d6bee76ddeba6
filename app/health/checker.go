package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	neturl "net/url"
	"time"

	readability "github.com/go-shiori/go-readability"
)

const (
	probeTimeout = 15 * time.Second

	// Deep probe reads at most this much of the page body.
	maxProbeBody = 1 << 20
)

// Result is the outcome of a single liveness probe. Live is nil when the
// probe could not assert liveness either way.
type Result struct {
	Live      *bool
	CheckedAt time.Time
}

// Checker probes citation URLs. A cheap HEAD request settles most URLs; on
// transport errors a deep GET probe parses the page to distinguish dead
// hosts from servers that simply reject HEAD.
type Checker struct {
	client    *http.Client
	userAgent string
}

func NewChecker(client *http.Client, userAgent string) *Checker {
	if client == nil {
		client = &http.Client{Timeout: probeTimeout}
	}
	return &Checker{client: client, userAgent: userAgent}
}

func (c *Checker) Check(ctx context.Context, url string) Result {
	now := time.Now()

	status, err := c.head(ctx, url)
	if err == nil {
		live := status < http.StatusBadRequest
		return Result{Live: &live, CheckedAt: now}
	}

	slog.Debug("HEAD probe failed, trying deep probe", "url", url, "error", err)
	return Result{Live: c.deepProbe(ctx, url), CheckedAt: now}
}

func (c *Checker) head(ctx context.Context, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return resp.StatusCode, nil
}

// deepProbe fetches the page body and runs a readability pass. A DNS
// failure is conclusive evidence the citation is dead; any other failure
// leaves liveness unknown.
func (c *Checker) deepProbe(ctx context.Context, url string) *bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if isDNSFailure(err) {
			slog.Debug("DNS resolution failed, citation is dead", "url", url)
			return boolPtr(false)
		}
		slog.Debug("Deep probe inconclusive", "url", url, "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return boolPtr(false)
	}

	parsedURL, err := neturl.Parse(url)
	if err != nil {
		return nil
	}

	article, err := readability.FromReader(io.LimitReader(resp.Body, maxProbeBody), parsedURL)
	if err != nil {
		slog.Debug("Readability parse failed", "url", url, "error", err)
		return nil
	}

	return boolPtr(article.TextContent != "" || article.Title != "")
}

func isDNSFailure(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func boolPtr(v bool) *bool {
	return &v
}
