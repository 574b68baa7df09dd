// Package hunter drives the discovery pipeline: the periodic hunt cycle
// over eligible sources, the cleanup and revalidation sweeps, and the
// certification sweep. Failures are absorbed at the smallest scope; no
// single source or candidate can abort a cycle.
package hunter

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/proxyproinsight/omeganexus/internal/certifier"
	"github.com/proxyproinsight/omeganexus/internal/fetch"
	"github.com/proxyproinsight/omeganexus/internal/model"
	"github.com/proxyproinsight/omeganexus/internal/quality"
	"github.com/proxyproinsight/omeganexus/internal/shared/config"
	"github.com/proxyproinsight/omeganexus/internal/shared/logger"
	"github.com/proxyproinsight/omeganexus/internal/source"
	"github.com/proxyproinsight/omeganexus/internal/store"
	"github.com/proxyproinsight/omeganexus/internal/validator"
)

// Hunter owns the long-running loops over one store.
type Hunter struct {
	cfg       *config.Config
	store     store.Store
	fetcher   *fetch.Fetcher
	validator *validator.Validator
	certifier *certifier.Certifier
	notifier  Notifier
	weights   quality.Weights

	now func() time.Time
}

// Notifier is the slice of the webhook notifier the hunter needs.
type Notifier interface {
	NotifyDiscovery(rec *model.ProxyRecord)
	NotifyElite(rec *model.ProxyRecord)
}

// New wires a hunter over its collaborators.
func New(cfg *config.Config, st store.Store, f *fetch.Fetcher, v *validator.Validator, c *certifier.Certifier, n Notifier) *Hunter {
	return &Hunter{
		cfg:       cfg,
		store:     st,
		fetcher:   f,
		validator: v,
		certifier: c,
		notifier:  n,
		weights:   quality.DefaultWeights(),
		now:       time.Now,
	}
}

// CycleStats summarizes one hunt cycle.
type CycleStats struct {
	Sources    int
	Candidates int
	Working    int
}

// HuntCycle processes every currently eligible source in parallel. Source
// failures feed the per-source health state machine and never abort
// siblings.
func (h *Hunter) HuntCycle(ctx context.Context) CycleStats {
	l := logger.WithComponent("Hunter")
	started := h.now()

	sources := h.store.EligibleSources(started, h.cfg.Hunt.SourceLimit)
	stats := CycleStats{Sources: len(sources)}
	if len(sources) == 0 {
		l.Debug().Msg("No eligible sources this cycle.")
		return stats
	}

	results := make([]sourceTally, len(sources))
	var g errgroup.Group
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			results[i] = h.processSource(ctx, src)
			return nil
		})
	}
	g.Wait()

	for _, tally := range results {
		stats.Candidates += tally.candidates
		stats.Working += tally.working
	}
	if err := h.store.Flush(); err != nil {
		l.Warn().Err(err).Msg("Failed to flush store after hunt cycle.")
	}

	l.Info().
		Int("sources", stats.Sources).
		Int("candidates", stats.Candidates).
		Int("working", stats.Working).
		Dur("elapsed", h.now().Sub(started)).
		Msg("Hunt cycle finished.")
	return stats
}

type sourceTally struct {
	candidates int
	working    int
}

// processSource fetches one source's list, validates the candidates, and
// updates the source's health counters from the outcome.
func (h *Hunter) processSource(ctx context.Context, src *model.Source) sourceTally {
	l := logger.WithComponent("Hunter")

	candidates, err := h.fetcher.FetchList(ctx, src.URL)
	if err != nil {
		l.Debug().Err(err).Str("source", src.Name).Msg("Source fetch failed.")
		h.store.UpdateSource(src.ID, func(s *model.Source) {
			source.Transition(s, source.FetchFailed, h.now())
		})
		return sourceTally{}
	}

	if limit := h.cfg.Hunt.CandidateLimit; len(candidates) > limit {
		candidates = candidates[:limit]
	}

	working := h.validateBatch(ctx, src, candidates)
	rate := 0.0
	if len(candidates) > 0 {
		rate = float64(working) / float64(len(candidates))
	}

	h.store.UpdateSource(src.ID, func(s *model.Source) {
		source.Transition(s, source.FetchOK, h.now())
		s.TotalFetches++
		s.TotalProxies += int64(len(candidates))
		s.WorkingProxies += int64(working)
		s.SuccessfulProxies += int64(working)
		s.LastSuccessRate = rate
		s.QualityScore = quality.SourceEMA(s.QualityScore, rate)
	})

	l.Debug().
		Str("source", src.Name).
		Int("candidates", len(candidates)).
		Int("working", working).
		Float64("rate", rate).
		Msg("Source processed.")
	return sourceTally{candidates: len(candidates), working: working}
}

// validateBatch fast-validates the candidates with bounded concurrency and
// upserts the survivors. Returns the working count.
func (h *Hunter) validateBatch(ctx context.Context, src *model.Source, candidates []model.Candidate) int {
	working := make([]bool, len(candidates))

	var g errgroup.Group
	g.SetLimit(batchLimit(h.cfg.Hunt.ValidationBatchSize))
	for i, cand := range candidates {
		i, cand := i, cand
		g.Go(func() error {
			result := h.validator.Fast(ctx, cand)
			if result.Working {
				working[i] = true
				h.recordResult(cand, result, src)
			}
			return nil
		})
	}
	g.Wait()

	count := 0
	for _, ok := range working {
		if ok {
			count++
		}
	}
	return count
}

// recordResult scores one working validation and upserts the record. New
// premium discoveries fire the webhook.
func (h *Hunter) recordResult(cand model.Candidate, result *model.ValidationResult, src *model.Source) {
	now := h.now()
	prior, existed := h.store.GetProxy(cand.Host, cand.Port, cand.Protocol)

	rec := buildRecord(cand, result, src, now)
	if existed {
		rec.DiscoveredAt = prior.DiscoveredAt
	}
	rec.QualityScore = h.scoreRecord(rec, result, src)

	if err := h.store.UpsertProxy(rec); err != nil {
		l := logger.WithComponent("Hunter")
		l.Warn().Err(err).Str("proxy", rec.Addr()).Msg("Upsert failed.")
		return
	}
	if !existed && rec.IsPremium() {
		h.notifier.NotifyDiscovery(rec)
	}
}

// buildRecord folds a validation result into a persistable record. The ASN
// classification is authoritative for the type; geo data fills the gaps.
func buildRecord(cand model.Candidate, result *model.ValidationResult, src *model.Source, now time.Time) *model.ProxyRecord {
	rec := &model.ProxyRecord{
		Host:           cand.Host,
		Port:           cand.Port,
		Protocol:       cand.Protocol,
		LatencyMs:      result.LatencyMs,
		DNSLeak:        result.DNSLeak,
		Elite:          result.Elite,
		AnonymityLevel: result.AnonymityLevel,
		StabilityScore: result.StabilityScore,
		ProxyType:      model.TypeDatacenter,
		Source:         src.Name,
		LastChecked:    now,
		DiscoveredAt:   now,
		Active:         true,
	}
	if result.Fraud != nil {
		rec.FraudScore = result.Fraud.Score
	}
	if result.Geo != nil {
		rec.Country = result.Geo.Country
		rec.City = result.Geo.City
		rec.ISPName = result.Geo.ISP
		rec.ProxyType = result.Geo.ProxyType
	}
	if result.ASN != nil {
		rec.ProxyType = result.ASN.ProxyType()
		rec.ASN = asnLabel(result.ASN.ASN)
		rec.ISPName = result.ASN.OperatorName()
	}
	return rec
}

func asnLabel(asn int) string {
	if asn == 0 {
		return ""
	}
	return fmt.Sprintf("AS%d", asn)
}

// scoreRecord computes the stored quality score: the clamped weighted base,
// plus the flat mobile bonus applied after clamping. Mobile scores can
// exceed 1.0; that asymmetry is intentional and persisted as-is.
func (h *Hunter) scoreRecord(rec *model.ProxyRecord, result *model.ValidationResult, src *model.Source) float64 {
	ageHours := int64(h.now().Sub(rec.DiscoveredAt).Hours())
	score := quality.Score(quality.Signals{
		LatencyMs:     result.LatencyMs,
		Country:       countryCode(rec.Country),
		SourceQuality: src.QualityScore,
		AgeHours:      ageHours,
		FraudScore:    rec.FraudScore,
		DNSLeak:       rec.DNSLeak,
		Elite:         rec.Elite,
	}, h.weights)
	if rec.ProxyType == model.TypeMobile {
		score += quality.MobileBonus
	}
	return score
}

// countryCode reduces a geo country value to the two-letter form the
// diversity table keys on; full names pass through unmatched.
func countryCode(country string) string {
	if len(country) == 2 {
		return country
	}
	switch country {
	case "Iceland":
		return "IS"
	case "Luxembourg":
		return "LU"
	case "Switzerland":
		return "CH"
	case "Singapore":
		return "SG"
	case "Netherlands":
		return "NL"
	}
	return country
}

// CleanupCycle deactivates records whose last check is older than the
// staleness window, then tries to rescue a bounded batch of inactive
// high-quality records by revalidating them.
func (h *Hunter) CleanupCycle(ctx context.Context) {
	l := logger.WithComponent("Hunter")
	now := h.now()

	cutoff := now.Add(-time.Duration(h.cfg.Hunt.StaleAfterHours) * time.Hour)
	deactivated := h.store.DeactivateStale(cutoff)

	rescued := 0
	for _, rec := range h.store.StaleHighQuality(cutoff, h.cfg.Hunt.ReactivationQuality, h.cfg.Hunt.ReactivationBatch) {
		cand := model.Candidate{Host: rec.Host, Port: rec.Port, Protocol: rec.Protocol}
		result := h.validator.Fast(ctx, cand)
		if !result.Working {
			continue
		}
		rec.Active = true
		rec.LatencyMs = result.LatencyMs
		rec.LastChecked = h.now()
		if err := h.store.UpsertProxy(rec); err == nil {
			rescued++
		}
	}

	if err := h.store.Flush(); err != nil {
		l.Warn().Err(err).Msg("Failed to flush store after cleanup.")
	}
	l.Info().Int("deactivated", deactivated).Int("reactivated", rescued).Msg("Cleanup cycle finished.")
}

// RevalidateCycle fast-revalidates the current top records so the catalog's
// best entries never go stale between hunts. Failures deactivate.
func (h *Hunter) RevalidateCycle(ctx context.Context) {
	l := logger.WithComponent("Hunter")

	top := h.store.TopProxies(h.cfg.Hunt.RevalBatchSize)
	stillWorking := 0

	var g errgroup.Group
	g.SetLimit(batchLimit(h.cfg.Hunt.ValidationBatchSize))
	results := make([]bool, len(top))
	for i, rec := range top {
		i, rec := i, rec
		g.Go(func() error {
			cand := model.Candidate{Host: rec.Host, Port: rec.Port, Protocol: rec.Protocol}
			result := h.validator.Fast(ctx, cand)
			results[i] = result.Working
			rec.LastChecked = h.now()
			if result.Working {
				rec.LatencyMs = result.LatencyMs
			} else {
				rec.Active = false
			}
			h.store.UpsertProxy(rec)
			return nil
		})
	}
	g.Wait()

	for _, ok := range results {
		if ok {
			stillWorking++
		}
	}
	if err := h.store.Flush(); err != nil {
		l.Warn().Err(err).Msg("Failed to flush store after revalidation.")
	}
	l.Info().Int("checked", len(top)).Int("working", stillWorking).Msg("Revalidation cycle finished.")
}

// CertifySweep runs the elite pipeline over a bounded batch of premium
// records due for a recheck, spaced apart to keep the probe footprint low.
func (h *Hunter) CertifySweep(ctx context.Context) {
	l := logger.WithComponent("Hunter")
	now := h.now()

	cutoff := now.Add(-time.Duration(h.cfg.Certify.RecheckAfterHours) * time.Hour)
	batch := h.store.CertificationCandidates(cutoff, h.cfg.Certify.BatchSize)
	spacing := time.Duration(h.cfg.Certify.SpacingSeconds) * time.Second

	certified := 0
	for i, rec := range batch {
		wasElite := rec.Elite
		res := h.certifier.Certify(ctx, rec)
		certifier.Apply(rec, res, h.now())
		if err := h.store.UpsertProxy(rec); err != nil {
			l.Warn().Err(err).Str("proxy", rec.Addr()).Msg("Certification write-back failed.")
		}
		if res.IsElite {
			certified++
			if !wasElite {
				h.notifier.NotifyElite(rec)
			}
		}

		if i < len(batch)-1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(spacing):
			}
		}
	}

	if err := h.store.Flush(); err != nil {
		l.Warn().Err(err).Msg("Failed to flush store after certification sweep.")
	}
	l.Info().Int("checked", len(batch)).Int("elite", certified).Msg("Certification sweep finished.")
}

// Run starts every loop and blocks until the context ends. The hunt cycle
// runs once immediately; the sweeps wait out their first interval.
func (h *Hunter) Run(ctx context.Context) {
	l := logger.WithComponent("Hunter")
	l.Info().
		Int("hunt_interval_secs", h.cfg.Hunt.IntervalSeconds).
		Int("cleanup_interval_secs", h.cfg.Hunt.CleanupIntervalSecs).
		Int("certify_interval_secs", h.cfg.Certify.IntervalSeconds).
		Msg("Hunter starting.")

	h.HuntCycle(ctx)

	var g errgroup.Group
	g.Go(func() error {
		h.loop(ctx, time.Duration(h.cfg.Hunt.IntervalSeconds)*time.Second, func(ctx context.Context) { h.HuntCycle(ctx) })
		return nil
	})
	g.Go(func() error {
		h.loop(ctx, time.Duration(h.cfg.Hunt.CleanupIntervalSecs)*time.Second, h.CleanupCycle)
		return nil
	})
	g.Go(func() error {
		h.loop(ctx, time.Duration(h.cfg.Hunt.RevalIntervalSecs)*time.Second, h.RevalidateCycle)
		return nil
	})
	g.Go(func() error {
		h.loop(ctx, time.Duration(h.cfg.Certify.IntervalSeconds)*time.Second, h.CertifySweep)
		return nil
	})
	g.Wait()
	l.Info().Msg("Hunter stopped.")
}

func batchLimit(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

func (h *Hunter) loop(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}
