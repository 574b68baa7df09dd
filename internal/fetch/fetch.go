// Package fetch retrieves and parses candidate lists from source URLs.
// Upstreams are volatile and adversarial: bodies may be huge, garbage, or
// a different format than advertised, and none of that may take down a
// hunt cycle.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/proxyproinsight/omeganexus/internal/model"
	"github.com/proxyproinsight/omeganexus/internal/shared/logger"
)

// maxBodyBytes bounds how much of a source body is read. Lists past this
// point are cut off rather than buffered.
const maxBodyBytes = 8 << 20

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:120.0) Gecko/20100101 Firefox/120.0",
}

// Fetcher retrieves source bodies with a hard timeout wrapping a bounded
// exponential retry for transient errors.
type Fetcher struct {
	client      *http.Client
	hardTimeout time.Duration
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewFetcher builds a fetcher. hardTimeout bounds the whole fetch including
// retries; attempts caps how many tries one fetch gets.
func NewFetcher(hardTimeout time.Duration, attempts int) *Fetcher {
	if attempts <= 0 {
		attempts = 3
	}
	return &Fetcher{
		client:      &http.Client{Timeout: hardTimeout},
		hardTimeout: hardTimeout,
		maxAttempts: attempts,
		baseDelay:   time.Second,
		maxDelay:    8 * time.Second,
	}
}

// FetchList retrieves and parses one source's candidate list. The returned
// error covers fetch failure and hard timeout alike; parse-level garbage is
// skipped line by line, never escalated.
func (f *Fetcher) FetchList(ctx context.Context, url string) ([]model.Candidate, error) {
	l := logger.WithComponent("Fetch")

	ctx, cancel := context.WithTimeout(ctx, f.hardTimeout)
	defer cancel()

	var lastErr error
	delay := f.baseDelay
	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		body, err := f.fetchOnce(ctx, url)
		if err == nil {
			candidates := ParseList(body, ProtocolHint(url))
			l.Debug().Str("url", url).Int("count", len(candidates)).Msg("Fetched source list.")
			return candidates, nil
		}
		lastErr = err
		l.Debug().Err(err).Str("url", url).Int("attempt", attempt).Msg("Source fetch attempt failed.")

		if attempt == f.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("fetch of %s timed out: %w", url, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
		if delay > f.maxDelay {
			delay = f.maxDelay
		}
	}
	return nil, fmt.Errorf("fetch of %s failed after %d attempts: %w", url, f.maxAttempts, lastErr)
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgents[rand.Intn(len(userAgents))])

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
}

// ProtocolHint derives the candidate protocol from a source URL: lists
// advertised as SOCKS are validated as socks5, everything else as http.
func ProtocolHint(url string) string {
	if strings.Contains(strings.ToLower(url), "socks") {
		return "socks5"
	}
	return "http"
}

// jsonCandidate is the line-delimited JSON list variant.
type jsonCandidate struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	Type string `json:"type"`
}

// ParseList parses a fetched body as newline-delimited host:port entries
// (comments and garbage skipped) or the line-delimited JSON variant. The
// fallback protocol applies where a line carries no type of its own.
func ParseList(body []byte, fallbackProtocol string) []model.Candidate {
	var candidates []model.Candidate
	for _, raw := range strings.Split(string(body), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "{") {
			var jc jsonCandidate
			if err := json.Unmarshal([]byte(line), &jc); err != nil {
				continue
			}
			if cand, ok := makeCandidate(jc.Host, strconv.Itoa(jc.Port), jc.Type, fallbackProtocol); ok {
				candidates = append(candidates, cand)
			}
			continue
		}

		host, portStr, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		if cand, ok := makeCandidate(host, portStr, "", fallbackProtocol); ok {
			candidates = append(candidates, cand)
		}
	}
	return candidates
}

func makeCandidate(host, portStr, protocol, fallback string) (model.Candidate, bool) {
	if net.ParseIP(host) == nil {
		return model.Candidate{}, false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return model.Candidate{}, false
	}
	if protocol == "" {
		protocol = fallback
	}
	return model.Candidate{Host: host, Port: port, Protocol: protocol}, true
}
