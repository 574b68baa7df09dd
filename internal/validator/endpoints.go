package validator

// Endpoints are the external probe targets consumed during validation.
// They are configuration so tests (and restricted deployments) can point
// every probe at their own servers. Format-string entries take the IP.
type Endpoints struct {
	// Reachability is an egress-IP echo endpoint reached through the
	// proxy under test; a plain-text IP body.
	Reachability string
	// HeadersEcho reflects the request headers as JSON, reached through
	// the proxy, for anonymity grading.
	HeadersEcho string
	// DNSLeak reports the resolver IPs seen for a request, as JSON.
	DNSLeak string
	// GeoAPI is the geolocation lookup, queried directly (not through
	// the proxy), format string taking the IP.
	GeoAPI string
	// FraudPage is the reputation HTML page, format string taking the IP.
	FraudPage string
	// AbuseAPI is the abuse-confidence JSON API, format string taking
	// the IP; requires an API key.
	AbuseAPI string
	// BrowseA and BrowseB are two independent high-traffic pages used
	// for the real-page and browsing probes.
	BrowseA string
	BrowseB string
	// DeviceProbe echoes the user agent, for device-compatibility tests.
	DeviceProbe string
}

// DefaultEndpoints returns the production probe targets.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Reachability: "https://api.ipify.org",
		HeadersEcho:  "https://httpbin.org/headers",
		DNSLeak:      "https://bash.ws/dnsleak/test/?json",
		GeoAPI:       "http://ip-api.com/json/%s?fields=status,country,city,isp,as,mobile",
		FraudPage:    "https://scamalytics.com/ip/%s",
		AbuseAPI:     "https://api.abuseipdb.com/api/v2/check?ipAddress=%s",
		BrowseA:      "https://www.google.com",
		BrowseB:      "https://www.amazon.com",
		DeviceProbe:  "https://httpbin.org/user-agent",
	}
}
