package validator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/proxyproinsight/omeganexus/internal/model"
)

// publicResolverPrefixes is the allow-list of well-known public DNS
// resolvers. Any resolver reported by the leak test that does not match a
// prefix here flags a leak.
var publicResolverPrefixes = []string{
	"8.8.8.8", "8.8.4.4", // Google
	"1.1.1.1", "1.0.0.1", // Cloudflare
	"208.67.222.222", "208.67.220.220", // OpenDNS
	"9.9.9.9", "149.112.112.112", // Quad9
	"64.6.64.6", "64.6.65.6", // Verisign
}

// LeakFromServers applies the allow-list to the resolver IPs reported by
// the leak-test service: any server outside the list is a leak.
func LeakFromServers(servers []string) bool {
	for _, ip := range servers {
		listed := false
		for _, prefix := range publicResolverPrefixes {
			if strings.HasPrefix(ip, prefix) {
				listed = true
				break
			}
		}
		if !listed {
			return true
		}
	}
	return false
}

// checkDNSLeak fetches the leak report through the proxy and applies the
// allow-list.
func (v *Validator) checkDNSLeak(ctx context.Context, client *http.Client) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.endpoints.DNSLeak, nil)
	if err != nil {
		return false, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false, err
	}
	servers, err := parseLeakReport(body)
	if err != nil {
		return false, err
	}
	return LeakFromServers(servers), nil
}

// parseLeakReport extracts the resolver IPs from a leak report. bash.ws
// returns a bare array of entries tagged by type ("dns" rows carry resolver
// IPs, the "conclusion" row does not); the wrapped {"dns_servers": [...]}
// shape some mirrors serve is accepted too.
func parseLeakReport(body []byte) ([]string, error) {
	var wrapped struct {
		DNSServers []struct {
			IP string `json:"ip"`
		} `json:"dns_servers"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.DNSServers != nil {
		servers := make([]string, 0, len(wrapped.DNSServers))
		for _, s := range wrapped.DNSServers {
			servers = append(servers, s.IP)
		}
		return servers, nil
	}

	var entries []struct {
		IP   string `json:"ip"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode leak report: %w", err)
	}
	var servers []string
	for _, e := range entries {
		if e.Type == "dns" && e.IP != "" {
			servers = append(servers, e.IP)
		}
	}
	return servers, nil
}

// ClassifyAnonymity grades a proxy from the headers it leaks to the echo
// endpoint: forwarding/via headers mean transparent; a clean set with no
// proxy-identifying headers means elite; anything in between is anonymous.
func ClassifyAnonymity(headers map[string]string) (elite bool, level string) {
	has := func(name string) bool {
		_, ok := headers[http.CanonicalHeaderKey(name)]
		return ok
	}
	hasVia := has("Via")
	hasForwarded := has("X-Forwarded-For")
	hasProxyID := has("X-Proxy-Id")
	hasRealIP := has("X-Real-Ip")

	switch {
	case !hasVia && !hasForwarded && !hasProxyID && !hasRealIP:
		return true, model.AnonymityElite
	case hasVia || hasForwarded:
		return false, model.AnonymityTransparent
	default:
		return false, model.AnonymityAnonymous
	}
}

// checkAnonymity fetches the headers echo through the proxy and grades it.
func (v *Validator) checkAnonymity(ctx context.Context, client *http.Client) (bool, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.endpoints.HeadersEcho, nil)
	if err != nil {
		return false, model.AnonymityUnknown, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, model.AnonymityUnknown, err
	}
	defer resp.Body.Close()

	var echo struct {
		Headers map[string]string `json:"headers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&echo); err != nil {
		return false, model.AnonymityUnknown, fmt.Errorf("failed to decode headers echo: %w", err)
	}

	normalized := make(map[string]string, len(echo.Headers))
	for k, val := range echo.Headers {
		normalized[http.CanonicalHeaderKey(k)] = val
	}
	elite, level := ClassifyAnonymity(normalized)
	return elite, level, nil
}

var fraudScoreRe = regexp.MustCompile(`Fraud Score:\s*(\d+)\s*%`)

// FetchFraudScore scrapes the reputation page for an IP and returns the
// fraud score normalized to [0,1]. The page is queried directly, not
// through the proxy under test.
func (v *Validator) FetchFraudScore(ctx context.Context, ip string) (float64, error) {
	target := fmt.Sprintf(v.endpoints.FraudPage, strings.TrimSpace(ip))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, err
	}
	resp, err := v.directClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to parse fraud page: %w", err)
	}

	// The score lives in a dedicated element on current page layouts;
	// fall back to a whole-document scan when the layout shifts.
	text := strings.TrimSpace(doc.Find(".score").First().Text())
	if text == "" {
		text = doc.Text()
	}
	return parseFraudScore(text)
}

func parseFraudScore(text string) (float64, error) {
	if m := fraudScoreRe.FindStringSubmatch(text); m != nil {
		score, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, err
		}
		return float64(score) / 100.0, nil
	}
	// A bare number is how the score element renders.
	if n, err := strconv.Atoi(strings.TrimSpace(text)); err == nil && n >= 0 && n <= 100 {
		return float64(n) / 100.0, nil
	}
	return 0, errors.New("could not parse fraud score")
}

// FetchAbuseScore queries the abuse-confidence API for an IP and returns
// the confidence score normalized to [0,1]. Requires an API key.
func (v *Validator) FetchAbuseScore(ctx context.Context, ip string) (float64, error) {
	if v.abuseKey == "" {
		return 0, errors.New("no abuse API key configured")
	}
	target := fmt.Sprintf(v.endpoints.AbuseAPI, ip)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Key", v.abuseKey)
	req.Header.Set("Accept", "application/json")

	resp, err := v.directClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var body struct {
		Data struct {
			AbuseConfidenceScore *int `json:"abuseConfidenceScore"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("failed to decode abuse response: %w", err)
	}
	if body.Data.AbuseConfidenceScore == nil {
		return 0, errors.New("no abuse confidence score in response")
	}
	return float64(*body.Data.AbuseConfidenceScore) / 100.0, nil
}

// fetchGeo queries the geolocation API directly for an IP. The ISP-keyword
// type heuristic fills ProxyType; it is only a fallback signal next to the
// ASN classifier.
func (v *Validator) fetchGeo(ctx context.Context, ip string) (*model.GeoInfo, error) {
	target := fmt.Sprintf(v.endpoints.GeoAPI, ip)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := v.directClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body struct {
		Status  string `json:"status"`
		Country string `json:"country"`
		City    string `json:"city"`
		ISP     string `json:"isp"`
		AS      string `json:"as"`
		Mobile  bool   `json:"mobile"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode geo response: %w", err)
	}
	if body.Status != "success" {
		return nil, fmt.Errorf("geo lookup returned status %q", body.Status)
	}

	return &model.GeoInfo{
		Country:   body.Country,
		City:      body.City,
		ISP:       body.ISP,
		ASN:       body.AS,
		ProxyType: DetectTypeFromISP(body.ISP, body.Mobile),
	}, nil
}

var (
	mobileKeywords = []string{
		"mobile", "wireless", "cellular", "t-mobile", "verizon", "at&t", "att",
		"sprint", "vodafone", "orange", "o2", "telefonica", "telekom", "rogers",
		"bell canada", "telus", "claro", "tim", "movistar", "airtel", "reliance",
		"jio", "idea", "mtn", "safaricom", "china mobile", "china unicom",
	}
	residentialKeywords = []string{
		"comcast", "xfinity", "charter", "spectrum", "cox", "optimum", "altice",
		"centurylink", "frontier", "windstream", "bt internet", "sky broadband",
		"virgin media", "talktalk", "plusnet", "vodafone broadband",
		"telstra", "optus", "tpg", "dodo", "shaw", "cogeco", "videotron",
		"oi", "vivo", "telmex", "izzi", "megacable", "totalplay",
		"rostelecom", "beeline", "mts", "megafon", "ttnet", "turk telekom",
	}
)

// DetectTypeFromISP classifies an ISP name by keyword. This is the fallback
// used when the ASN classifier is unavailable; unmatched names default to
// datacenter.
func DetectTypeFromISP(isp string, isMobile bool) string {
	if isMobile {
		return model.TypeMobile
	}
	lower := strings.ToLower(isp)
	for _, kw := range mobileKeywords {
		if strings.Contains(lower, kw) {
			return model.TypeMobile
		}
	}
	for _, kw := range residentialKeywords {
		if strings.Contains(lower, kw) {
			return model.TypeResidential
		}
	}
	return model.TypeDatacenter
}
