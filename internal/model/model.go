package model

import (
	"fmt"
	"time"
)

// Proxy type classification, derived from ASN membership tables.
const (
	TypeDatacenter  = "datacenter"
	TypeResidential = "residential"
	TypeMobile      = "mobile"
)

// Anonymity grades assigned by the headers-echo check.
const (
	AnonymityElite       = "elite"
	AnonymityAnonymous   = "anonymous"
	AnonymityTransparent = "transparent"
	AnonymityUnknown     = "unknown"
)

// ASNData is the classifier's view of the network operator owning an IP.
type ASNData struct {
	ASN           int    `json:"asn"`
	Org           string `json:"org"`
	IsMobile      bool   `json:"is_mobile"`
	IsResidential bool   `json:"is_residential"`
	CarrierName   string `json:"carrier_name,omitempty"`
	ISPName       string `json:"isp_name,omitempty"`
}

// ProxyType maps the membership flags onto a type label. Anything that is
// neither a known carrier nor a known residential ISP counts as datacenter.
func (a *ASNData) ProxyType() string {
	switch {
	case a.IsMobile:
		return TypeMobile
	case a.IsResidential:
		return TypeResidential
	default:
		return TypeDatacenter
	}
}

// OperatorName returns the best human-readable operator label available.
func (a *ASNData) OperatorName() string {
	if a.CarrierName != "" {
		return a.CarrierName
	}
	if a.ISPName != "" {
		return a.ISPName
	}
	return a.Org
}

// GeoInfo is the best-effort geolocation lookup result.
type GeoInfo struct {
	Country   string `json:"country"`
	City      string `json:"city"`
	ISP       string `json:"isp,omitempty"`
	ASN       string `json:"asn,omitempty"`
	ProxyType string `json:"proxy_type"`
}

// FraudInfo carries the reputation-page score for an IP.
type FraudInfo struct {
	Score float64 `json:"score"`
	Risky bool    `json:"risky"`
}

// ValidationResult is the outcome of a single fast or full validation.
// A connectivity failure is a negative outcome, not an error: Working is
// false and every auxiliary field stays neutral.
type ValidationResult struct {
	Working        bool       `json:"working"`
	LatencyMs      int64      `json:"latency_ms"`
	Geo            *GeoInfo   `json:"geo,omitempty"`
	Fraud          *FraudInfo `json:"fraud,omitempty"`
	DNSLeak        bool       `json:"dns_leak"`
	Elite          bool       `json:"elite"`
	AnonymityLevel string     `json:"anonymity_level"`
	StabilityScore float64    `json:"stability_score"`
	ASN            *ASNData   `json:"asn_data,omitempty"`
}

// Certification verdict labels.
const (
	LabelElite = "elite"
	LabelGood  = "good"
	LabelPoor  = "poor"
)

// EliteResult is the verdict of the five-stage certification pipeline.
type EliteResult struct {
	StagePassed       [5]bool  `json:"stage_passed"`
	StagesPassed      int      `json:"stages_passed"`
	IsElite           bool     `json:"is_elite"`
	StabilityScore    float64  `json:"stability_score"`
	Label             string   `json:"label"`
	FraudScore        float64  `json:"fraud_score"`
	AbuseScore        float64  `json:"abuse_score"`
	RotationVerified  bool     `json:"rotation_verified"`
	BrowserCompatible bool     `json:"browser_compatible"`
	ASN               *ASNData `json:"asn_data,omitempty"`
}

// ProxyRecord is the persisted entity for a discovered relay, keyed by
// (Host, Port, Protocol). Upserts on the key never duplicate.
type ProxyRecord struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`

	Country        string  `json:"country,omitempty"`
	City           string  `json:"city,omitempty"`
	LatencyMs      int64   `json:"latency_ms"`
	QualityScore   float64 `json:"quality_score"`
	FraudScore     float64 `json:"fraud_score"`
	DNSLeak        bool    `json:"dns_leak"`
	Elite          bool    `json:"elite"`
	AnonymityLevel string  `json:"anonymity_level"`
	StabilityScore float64 `json:"stability_score"`
	ProxyType      string  `json:"proxy_type"`
	ASN            string  `json:"asn,omitempty"`
	ISPName        string  `json:"isp_name,omitempty"`
	Source         string  `json:"source,omitempty"`

	LastChecked  time.Time `json:"last_checked"`
	DiscoveredAt time.Time `json:"discovered_at"`
	Active       bool      `json:"active"`

	// Elite certification write-back fields.
	LastEliteCheck    time.Time `json:"last_elite_check,omitempty"`
	AbuseScore        float64   `json:"abuse_score"`
	BrowserCompatible bool      `json:"browser_compatible"`
	RotationVerified  bool      `json:"rotation_verified"`
}

// Key is the uniqueness key of the record.
func (r *ProxyRecord) Key() string {
	return fmt.Sprintf("%s:%d/%s", r.Host, r.Port, r.Protocol)
}

// Addr returns the dialable host:port form.
func (r *ProxyRecord) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// URL returns the proxy URL form, e.g. "socks5://1.2.3.4:1080".
func (r *ProxyRecord) URL() string {
	return fmt.Sprintf("%s://%s:%d", r.Protocol, r.Host, r.Port)
}

// IsPremium reports whether the record carries a mobile or residential tag.
func (r *ProxyRecord) IsPremium() bool {
	return r.ProxyType == TypeMobile || r.ProxyType == TypeResidential
}

// Source is a URL believed to periodically publish candidate proxy lists.
// Sources are never hard-deleted; a failing source decays out of the
// eligible set via ConsecutiveFailures and NextRetry.
type Source struct {
	ID   string `json:"id"`
	URL  string `json:"url"`
	Name string `json:"name"`

	QualityScore        float64    `json:"quality_score"`
	TotalProxies        int64      `json:"total_proxies"`
	WorkingProxies      int64      `json:"working_proxies"`
	TotalFetches        int64      `json:"total_fetches"`
	SuccessfulProxies   int64      `json:"successful_proxies"`
	LastSuccessRate     float64    `json:"last_success_rate"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastFetch           time.Time  `json:"last_fetch,omitempty"`
	NextRetry           *time.Time `json:"next_retry,omitempty"`
	Active              bool       `json:"active"`
}

// Candidate is a transient host:port parsed from a fetched source body.
// It is never persisted on its own.
type Candidate struct {
	Host     string
	Port     int
	Protocol string
}

// Addr returns the host:port form of the candidate.
func (c Candidate) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Stats is a point-in-time snapshot of the catalog.
type Stats struct {
	TotalProxies       int64   `json:"total_proxies"`
	WorkingProxies     int64   `json:"working_proxies"`
	MobileProxies      int64   `json:"mobile_proxies"`
	ResidentialProxies int64   `json:"residential_proxies"`
	AvgLatencyMs       float64 `json:"avg_latency_ms"`
	AvgQuality         float64 `json:"avg_quality"`
	ActiveSources      int64   `json:"active_sources"`
}
