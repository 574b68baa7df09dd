// Package validator decides whether a candidate relay works and how much it
// can be trusted. Fast mode is the high-volume hunting path: connectivity,
// latency, and coarse classification only. Full mode layers fraud, DNS-leak,
// anonymity, and multi-probe stability checks on top for high-value entries.
package validator

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	xproxy "golang.org/x/net/proxy"

	"github.com/proxyproinsight/omeganexus/internal/asn"
	"github.com/proxyproinsight/omeganexus/internal/model"
	"github.com/proxyproinsight/omeganexus/internal/shared/logger"
)

const (
	stabilityProbes       = 3
	stabilityProbeSpacing = 100 * time.Millisecond

	// Stability defaults of the fast path.
	stabilityDefault          = 0.7
	stabilityPremiumBrowsable = 0.85
	stabilityPremiumBlocked   = 0.4
)

// Validator runs fast and full validations against candidate relays.
type Validator struct {
	endpoints Endpoints
	cache     *asn.Cache

	fastTimeout time.Duration
	fullTimeout time.Duration

	// directClient issues auxiliary lookups (geo, fraud, abuse) that go
	// out directly, not through the proxy under test.
	directClient *http.Client
	abuseKey     string
}

// New builds a validator over the shared ASN cache.
func New(cache *asn.Cache, fastTimeout, fullTimeout time.Duration) *Validator {
	if fastTimeout <= 0 {
		fastTimeout = 5 * time.Second
	}
	if fullTimeout <= 0 {
		fullTimeout = 10 * time.Second
	}
	return &Validator{
		endpoints:    DefaultEndpoints(),
		cache:        cache,
		fastTimeout:  fastTimeout,
		fullTimeout:  fullTimeout,
		directClient: &http.Client{Timeout: fastTimeout},
	}
}

// WithEndpoints overrides the probe targets.
func (v *Validator) WithEndpoints(e Endpoints) *Validator {
	v.endpoints = e
	return v
}

// WithAbuseKey sets the abuse-confidence API key.
func (v *Validator) WithAbuseKey(key string) *Validator {
	v.abuseKey = key
	return v
}

// Fast validates a candidate on the hunting path. A connectivity failure is
// returned as a negative result with neutral auxiliary fields, never as an
// error; auxiliary lookup failures leave their fields absent.
func (v *Validator) Fast(ctx context.Context, cand model.Candidate) *model.ValidationResult {
	l := logger.WithComponent("Validator")
	result := &model.ValidationResult{AnonymityLevel: model.AnonymityUnknown}

	client, err := v.ProxyClient(cand, v.fastTimeout)
	if err != nil {
		l.Debug().Err(err).Str("proxy", cand.Addr()).Msg("Failed to build proxy client.")
		return result
	}

	start := time.Now()
	if _, err := v.EgressIP(ctx, client); err != nil {
		l.Debug().Err(err).Str("proxy", cand.Addr()).Msg("Candidate unreachable.")
		return result
	}
	result.Working = true
	result.LatencyMs = time.Since(start).Milliseconds()

	// Best-effort classification. Absence, not error.
	if asnData, err := v.cache.Get(ctx, cand.Host); err == nil {
		result.ASN = asnData
	}
	if geo, err := v.fetchGeo(ctx, cand.Host); err == nil {
		result.Geo = geo
	}

	result.StabilityScore = stabilityDefault
	if v.isPremium(result) {
		// One extra real-page probe decides whether the premium tag is
		// worth anything in practice.
		if v.probeOK(ctx, client, v.endpoints.BrowseA) {
			result.StabilityScore = stabilityPremiumBrowsable
		} else {
			result.StabilityScore = stabilityPremiumBlocked
		}
	}
	return result
}

// Full validates a candidate with the complete check set: everything Fast
// does, plus fraud score, DNS-leak test, anonymity grade, and a multi-probe
// stability score.
func (v *Validator) Full(ctx context.Context, cand model.Candidate) *model.ValidationResult {
	l := logger.WithComponent("Validator")
	result := &model.ValidationResult{AnonymityLevel: model.AnonymityUnknown}

	client, err := v.ProxyClient(cand, v.fullTimeout)
	if err != nil {
		return result
	}

	start := time.Now()
	if _, err := v.EgressIP(ctx, client); err != nil {
		l.Debug().Err(err).Str("proxy", cand.Addr()).Msg("Candidate unreachable.")
		return result
	}
	result.Working = true
	result.LatencyMs = time.Since(start).Milliseconds()

	if asnData, err := v.cache.Get(ctx, cand.Host); err == nil {
		result.ASN = asnData
	}
	if geo, err := v.fetchGeo(ctx, cand.Host); err == nil {
		result.Geo = geo
	}
	if score, err := v.FetchFraudScore(ctx, cand.Host); err == nil {
		result.Fraud = &model.FraudInfo{Score: score, Risky: score > 0.5}
	}
	if leak, err := v.checkDNSLeak(ctx, client); err == nil {
		result.DNSLeak = leak
	}
	if elite, level, err := v.checkAnonymity(ctx, client); err == nil {
		result.Elite = elite
		result.AnonymityLevel = level
	}
	result.StabilityScore = v.measureStability(ctx, client, stabilityProbes)

	return result
}

// isPremium reports whether the result's classification marks the candidate
// mobile or residential. The ASN signal is authoritative; the ISP-keyword
// heuristic on geo data only fills in when the classifier was unavailable.
func (v *Validator) isPremium(result *model.ValidationResult) bool {
	if result.ASN != nil {
		return result.ASN.IsMobile || result.ASN.IsResidential
	}
	if result.Geo != nil {
		return result.Geo.ProxyType == model.TypeMobile || result.Geo.ProxyType == model.TypeResidential
	}
	return false
}

// ProxyClient builds a throwaway HTTP client scoped to the proxy under
// test: short timeout, no connection reuse, no cert pinning (the relays
// are untrusted by definition; we grade them, we do not trust them).
func (v *Validator) ProxyClient(cand model.Candidate, timeout time.Duration) (*http.Client, error) {
	transport := &http.Transport{
		DisableKeepAlives:   true,
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: true},
		TLSHandshakeTimeout: timeout / 2,
	}

	switch cand.Protocol {
	case "socks5", "socks4":
		dialer, err := xproxy.SOCKS5("tcp", cand.Addr(), nil, &net.Dialer{Timeout: timeout})
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		contextDialer, ok := dialer.(xproxy.ContextDialer)
		if !ok {
			return nil, errors.New("SOCKS5 dialer does not support context dialing")
		}
		transport.DialContext = contextDialer.DialContext
	default:
		proxyURL, err := url.Parse(fmt.Sprintf("http://%s", cand.Addr()))
		if err != nil {
			return nil, fmt.Errorf("invalid proxy address %q: %w", cand.Addr(), err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
		transport.DialContext = (&net.Dialer{Timeout: timeout}).DialContext
	}

	return &http.Client{Transport: transport, Timeout: timeout}, nil
}

// EgressIP probes the reachability endpoint through the proxy and returns
// the externally visible egress IP.
func (v *Validator) EgressIP(ctx context.Context, client *http.Client) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.endpoints.Reachability, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return "", fmt.Errorf("reachability probe returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

// probeOK issues a GET through the proxy and reports plain success.
func (v *Validator) probeOK(ctx context.Context, client *http.Client, target string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode >= 200 && resp.StatusCode < 400
}

// BrowseOK probes both high-traffic pages through the proxy; pass requires
// both to succeed.
func (v *Validator) BrowseOK(ctx context.Context, client *http.Client) bool {
	return v.probeOK(ctx, client, v.endpoints.BrowseA) && v.probeOK(ctx, client, v.endpoints.BrowseB)
}

// DeviceProbeOK probes the UA-echo endpoint under a specific client identity.
func (v *Validator) DeviceProbeOK(ctx context.Context, client *http.Client, userAgent string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.endpoints.DeviceProbe, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode >= 200 && resp.StatusCode < 400
}

// measureStability probes the reachability endpoint n times with brief
// spacing and returns successes/attempts.
func (v *Validator) measureStability(ctx context.Context, client *http.Client, n int) float64 {
	successes := 0
	for i := 0; i < n; i++ {
		if _, err := v.EgressIP(ctx, client); err == nil {
			successes++
		}
		if i < n-1 {
			select {
			case <-ctx.Done():
				return float64(successes) / float64(n)
			case <-time.After(stabilityProbeSpacing):
			}
		}
	}
	return float64(successes) / float64(n)
}
