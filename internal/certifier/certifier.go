// Package certifier runs the five-stage elite certification pipeline over
// already-discovered premium records. Every stage always runs, pass or
// fail, so partial diagnostics survive a failed certification.
package certifier

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/proxyproinsight/omeganexus/internal/asn"
	"github.com/proxyproinsight/omeganexus/internal/model"
	"github.com/proxyproinsight/omeganexus/internal/shared/logger"
	"github.com/proxyproinsight/omeganexus/internal/validator"
)

const (
	rotationSamples = 3
	// Either reputation score below this passes the fraud stage for
	// datacenter candidates. Deliberately permissive.
	fraudThreshold = 0.7
)

// Client identities for the device-compatibility stage.
var deviceUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (iPad; CPU OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1",
}

// StageResult is one stage's structured outcome.
type StageResult struct {
	Passed     bool
	Diagnostic string
}

// Stage is one step of the pipeline, run uniformly in order.
type Stage struct {
	Name string
	Run  func(ctx context.Context) StageResult
}

// Certifier drives the pipeline for one record at a time.
type Certifier struct {
	validator       *validator.Validator
	cache           *asn.Cache
	timeout         time.Duration
	rotationSpacing time.Duration
	abuseEnabled    bool
}

// New builds a certifier sharing the hunt path's validator and ASN cache.
// rotationSpacing separates the egress-IP samples of the rotation stage.
func New(v *validator.Validator, cache *asn.Cache, timeout, rotationSpacing time.Duration) *Certifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if rotationSpacing <= 0 {
		rotationSpacing = 2 * time.Minute
	}
	return &Certifier{
		validator:       v,
		cache:           cache,
		timeout:         timeout,
		rotationSpacing: rotationSpacing,
	}
}

// WithAbuse enables the abuse-confidence query in the fraud stage.
func (c *Certifier) WithAbuse(enabled bool) *Certifier {
	c.abuseEnabled = enabled
	return c
}

// Verdict maps a stage tally onto the elite flag, stability score, and
// label. Four of five passes certify.
func Verdict(stagesPassed int) (isElite bool, stability float64, label string) {
	switch {
	case stagesPassed >= 4:
		return true, 0.95, model.LabelElite
	case stagesPassed == 3:
		return false, 0.70, model.LabelGood
	default:
		return false, 0.30, model.LabelPoor
	}
}

// Summarize folds per-stage outcomes into a verdict-complete result.
func Summarize(passed [5]bool) *model.EliteResult {
	res := &model.EliteResult{StagePassed: passed}
	for _, p := range passed {
		if p {
			res.StagesPassed++
		}
	}
	res.IsElite, res.StabilityScore, res.Label = Verdict(res.StagesPassed)
	return res
}

// certRun carries the mutable state the stages share.
type certRun struct {
	rec    *model.ProxyRecord
	client *http.Client
	res    *model.EliteResult

	asnData  *model.ASNData
	isMobile bool
	premium  bool
}

// Certify runs all five stages against a record and returns the verdict.
// The record itself is not mutated; see Apply.
func (c *Certifier) Certify(ctx context.Context, rec *model.ProxyRecord) *model.EliteResult {
	l := logger.WithComponent("Certifier")

	run := &certRun{rec: rec, res: &model.EliteResult{}}
	// Seed classification from the record so stages 2 and 4 still have a
	// type to go on when the live ASN lookup fails.
	run.isMobile = rec.ProxyType == model.TypeMobile
	run.premium = rec.IsPremium()

	cand := model.Candidate{Host: rec.Host, Port: rec.Port, Protocol: rec.Protocol}
	client, err := c.validator.ProxyClient(cand, c.timeout)
	if err != nil {
		// The offline stages (ASN lookup, direct fraud/abuse queries)
		// still run so their diagnostics survive; only the stages that
		// probe through the proxy fail.
		l.Warn().Err(err).Str("proxy", rec.Addr()).Msg("Cannot build proxy client; connection stages will fail.")
	} else {
		run.client = client
	}

	var passed [5]bool
	for i, stage := range c.stages(run) {
		result := stage.Run(ctx)
		passed[i] = result.Passed
		l.Debug().
			Str("proxy", rec.Addr()).
			Str("stage", stage.Name).
			Bool("passed", result.Passed).
			Str("diagnostic", result.Diagnostic).
			Msg("Certification stage finished.")
	}

	res := Summarize(passed)
	res.ASN = run.res.ASN
	res.FraudScore = run.res.FraudScore
	res.AbuseScore = run.res.AbuseScore
	res.RotationVerified = run.res.RotationVerified
	res.BrowserCompatible = run.res.BrowserCompatible

	l.Info().
		Str("proxy", rec.Addr()).
		Int("stages_passed", res.StagesPassed).
		Bool("is_elite", res.IsElite).
		Str("label", res.Label).
		Msg("Certification verdict.")
	return res
}

// stages returns the ordered pipeline for one run.
func (c *Certifier) stages(run *certRun) []Stage {
	return []Stage{
		{Name: "asn_verification", Run: func(ctx context.Context) StageResult { return c.verifyASN(ctx, run) }},
		{Name: "rotation", Run: func(ctx context.Context) StageResult { return c.testRotation(ctx, run) }},
		{Name: "browsing", Run: func(ctx context.Context) StageResult { return c.testBrowsing(ctx, run) }},
		{Name: "fraud_abuse", Run: func(ctx context.Context) StageResult { return c.checkFraud(ctx, run) }},
		{Name: "device_compat", Run: func(ctx context.Context) StageResult { return c.testDevices(ctx, run) }},
	}
}

// verifyASN re-confirms the mobile/residential classification. A confirmed
// datacenter fails; so does an unresolvable lookup, though the two carry
// different diagnostics.
func (c *Certifier) verifyASN(ctx context.Context, run *certRun) StageResult {
	data, err := c.cache.Get(ctx, run.rec.Host)
	if err != nil {
		return StageResult{Passed: false, Diagnostic: fmt.Sprintf("lookup failed: %v", err)}
	}
	run.asnData = data
	run.res.ASN = data
	run.isMobile = data.IsMobile
	run.premium = data.IsMobile || data.IsResidential
	if !run.premium {
		return StageResult{Passed: false, Diagnostic: fmt.Sprintf("datacenter AS%d %s", data.ASN, data.Org)}
	}
	return StageResult{Passed: true, Diagnostic: fmt.Sprintf("%s AS%d", data.ProxyType(), data.ASN)}
}

// testRotation samples the egress IP with spacing and passes on seeing at
// least two distinct addresses. Non-mobile candidates auto-pass; rotation
// is a carrier-NAT property.
func (c *Certifier) testRotation(ctx context.Context, run *certRun) StageResult {
	if !run.isMobile {
		return StageResult{Passed: true, Diagnostic: "not applicable"}
	}
	if run.client == nil {
		return StageResult{Passed: false, Diagnostic: "no proxy connection"}
	}

	seen := make(map[string]struct{})
	for i := 0; i < rotationSamples; i++ {
		if ip, err := c.validator.EgressIP(ctx, run.client); err == nil {
			seen[ip] = struct{}{}
		}
		if i < rotationSamples-1 {
			select {
			case <-ctx.Done():
				return StageResult{Passed: false, Diagnostic: "cancelled"}
			case <-time.After(c.rotationSpacing):
			}
		}
	}
	run.res.RotationVerified = len(seen) >= 2
	return StageResult{
		Passed:     run.res.RotationVerified,
		Diagnostic: fmt.Sprintf("%d distinct IPs over %d samples", len(seen), rotationSamples),
	}
}

func (c *Certifier) testBrowsing(ctx context.Context, run *certRun) StageResult {
	if run.client == nil {
		return StageResult{Passed: false, Diagnostic: "no proxy connection"}
	}
	ok := c.validator.BrowseOK(ctx, run.client)
	run.res.BrowserCompatible = ok
	if !ok {
		return StageResult{Passed: false, Diagnostic: "at least one page failed"}
	}
	return StageResult{Passed: true, Diagnostic: "both pages reachable"}
}

// checkFraud auto-passes premium candidates with zero scores. Datacenter
// candidates pass if either reputation score comes in under the threshold.
func (c *Certifier) checkFraud(ctx context.Context, run *certRun) StageResult {
	if run.premium {
		return StageResult{Passed: true, Diagnostic: "premium, auto-pass"}
	}

	fraud := 1.0
	if score, err := c.validator.FetchFraudScore(ctx, run.rec.Host); err == nil {
		fraud = score
		run.res.FraudScore = score
	}
	abuse := 1.0
	if c.abuseEnabled {
		if score, err := c.validator.FetchAbuseScore(ctx, run.rec.Host); err == nil {
			abuse = score
			run.res.AbuseScore = score
		}
	}

	passed := fraud < fraudThreshold || abuse < fraudThreshold
	return StageResult{
		Passed:     passed,
		Diagnostic: fmt.Sprintf("fraud=%.2f abuse=%.2f threshold=%.2f", fraud, abuse, fraudThreshold),
	}
}

// testDevices repeats the probe under each client identity and passes on a
// 2-of-3 majority.
func (c *Certifier) testDevices(ctx context.Context, run *certRun) StageResult {
	if run.client == nil {
		return StageResult{Passed: false, Diagnostic: "no proxy connection"}
	}
	successes := 0
	for _, ua := range deviceUserAgents {
		if c.validator.DeviceProbeOK(ctx, run.client, ua) {
			successes++
		}
	}
	return StageResult{
		Passed:     successes >= 2,
		Diagnostic: fmt.Sprintf("%d/%d identities succeeded", successes, len(deviceUserAgents)),
	}
}

// Apply writes a verdict back onto the persisted record's trust fields so
// downstream readers see updated trust data without re-deriving it.
func Apply(rec *model.ProxyRecord, res *model.EliteResult, now time.Time) {
	rec.StabilityScore = res.StabilityScore
	rec.Elite = res.IsElite
	rec.FraudScore = res.FraudScore
	rec.AbuseScore = res.AbuseScore
	rec.RotationVerified = res.RotationVerified
	rec.BrowserCompatible = res.BrowserCompatible
	rec.LastEliteCheck = now
	if res.ASN != nil {
		rec.ProxyType = res.ASN.ProxyType()
		rec.ASN = fmt.Sprintf("AS%d", res.ASN.ASN)
		rec.ISPName = res.ASN.OperatorName()
	}
}
