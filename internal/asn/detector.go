// Package asn resolves an IP address to its owning network operator and
// classifies it as mobile carrier, residential ISP, or datacenter. This is
// the authoritative type signal for the whole pipeline; ISP-name keyword
// matching elsewhere is only a fallback for when both providers are down.
package asn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/proxyproinsight/omeganexus/internal/model"
	"github.com/proxyproinsight/omeganexus/internal/shared/logger"
)

// ErrLookupFailed signals that both providers failed. It is distinct from a
// successful "neither mobile nor residential" classification and must not
// be conflated with a confirmed datacenter answer.
var ErrLookupFailed = errors.New("all ASN providers failed")

const (
	defaultPrimaryURL  = "https://ipinfo.io"
	defaultFallbackURL = "https://ipapi.co"
	lookupTimeout      = 10 * time.Second
)

// Detector queries the primary provider and falls back to the secondary on
// any failure: non-success status, malformed body, or missing org field.
type Detector struct {
	tables      *Tables
	client      *http.Client
	primaryURL  string
	fallbackURL string
}

// NewDetector builds a detector over the given membership tables.
func NewDetector(tables *Tables) *Detector {
	return &Detector{
		tables:      tables,
		client:      &http.Client{Timeout: lookupTimeout},
		primaryURL:  defaultPrimaryURL,
		fallbackURL: defaultFallbackURL,
	}
}

// WithProviders overrides the provider base URLs, used by tests.
func (d *Detector) WithProviders(primary, fallback string) *Detector {
	d.primaryURL = primary
	d.fallbackURL = fallback
	return d
}

// Lookup resolves an IP to classified ASN data.
func (d *Detector) Lookup(ctx context.Context, ip string) (*model.ASNData, error) {
	l := logger.WithComponent("ASN")

	data, err := d.fetchPrimary(ctx, ip)
	if err == nil {
		return data, nil
	}
	l.Debug().Err(err).Str("ip", ip).Msg("Primary ASN provider failed, trying fallback.")

	data, ferr := d.fetchFallback(ctx, ip)
	if ferr == nil {
		return data, nil
	}
	l.Warn().Err(ferr).Str("ip", ip).Msg("Both ASN providers failed.")
	return nil, fmt.Errorf("%w: primary: %v, fallback: %v", ErrLookupFailed, err, ferr)
}

// fetchPrimary parses the ipinfo.io shape: org = "AS7018 AT&T Services".
func (d *Detector) fetchPrimary(ctx context.Context, ip string) (*model.ASNData, error) {
	var body struct {
		Org string `json:"org"`
	}
	url := fmt.Sprintf("%s/%s/json", d.primaryURL, ip)
	if err := d.getJSON(ctx, url, &body); err != nil {
		return nil, err
	}
	if body.Org == "" {
		return nil, errors.New("no org field in primary response")
	}

	asn, err := ParseASNOrg(body.Org)
	if err != nil {
		return nil, err
	}
	return d.Classify(asn, body.Org), nil
}

// fetchFallback parses the ipapi.co shape: an explicit asn field "AS7018"
// plus a free-form org.
func (d *Detector) fetchFallback(ctx context.Context, ip string) (*model.ASNData, error) {
	var body struct {
		ASN string `json:"asn"`
		Org string `json:"org"`
	}
	url := fmt.Sprintf("%s/%s/json/", d.fallbackURL, ip)
	if err := d.getJSON(ctx, url, &body); err != nil {
		return nil, err
	}

	numStr := strings.TrimPrefix(body.ASN, "AS")
	asn, err := strconv.Atoi(numStr)
	if err != nil || numStr == "" {
		return nil, fmt.Errorf("no valid asn field in fallback response: %q", body.ASN)
	}

	org := body.Org
	if org == "" {
		org = "Unknown"
	}
	return d.Classify(asn, org), nil
}

func (d *Detector) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode provider response: %w", err)
	}
	return nil
}

// Classify maps an ASN and org string onto the membership tables.
func (d *Detector) Classify(asn int, org string) *model.ASNData {
	data := &model.ASNData{
		ASN:           asn,
		Org:           org,
		IsMobile:      d.tables.IsCarrier(asn),
		IsResidential: d.tables.IsResidential(asn),
	}
	if data.IsMobile {
		data.CarrierName = d.tables.Carriers[asn]
	}
	if data.IsResidential {
		data.ISPName = d.tables.Residential[asn]
	}
	return data
}

// ParseASNOrg extracts the ASN number from an "AS<number> <org name>" string.
func ParseASNOrg(org string) (int, error) {
	fields := strings.Fields(org)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "AS") {
		return 0, fmt.Errorf("failed to parse ASN from org: %q", org)
	}
	asn, err := strconv.Atoi(strings.TrimPrefix(fields[0], "AS"))
	if err != nil {
		return 0, fmt.Errorf("failed to parse ASN from org: %q", org)
	}
	return asn, nil
}
