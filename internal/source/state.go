// Package source formalizes per-source scheduling health as a small state
// machine over the health counters carried on a model.Source. The scheduler
// only ever asks two questions: is this source eligible right now, and how
// do eligible sources rank against each other.
package source

import (
	"sort"
	"time"

	"github.com/proxyproinsight/omeganexus/internal/model"
)

// State of a source with respect to scheduling.
type State int

const (
	// Eligible sources may be fetched this cycle.
	Eligible State = iota
	// Backoff sources are cooling down until their retry time.
	Backoff
	// Excluded sources have exhausted the failure cap (or were
	// deactivated) and drop out of scheduling entirely.
	Excluded
)

func (s State) String() string {
	switch s {
	case Eligible:
		return "eligible"
	case Backoff:
		return "backoff"
	default:
		return "excluded"
	}
}

// FailureCap is the consecutive-failure count at which a source stops being
// scheduled. There is no separate disable step: the predicate excludes it.
const FailureCap = 10

const (
	backoffBaseSecs = 300   // 5 minutes
	backoffCapSecs  = 86400 // 24 hours
	backoffMaxShift = 7
)

// BackoffDelay returns the deterministic cooldown after the given number of
// consecutive failures: min(300 * 2^min(failures,7), 86400) seconds.
func BackoffDelay(failures int) time.Duration {
	shift := failures
	if shift > backoffMaxShift {
		shift = backoffMaxShift
	}
	secs := int64(backoffBaseSecs) << uint(shift)
	if secs > backoffCapSecs {
		secs = backoffCapSecs
	}
	return time.Duration(secs) * time.Second
}

// Outcome of one fetch attempt against a source.
type Outcome int

const (
	// FetchOK means the source body was retrieved and parsed.
	FetchOK Outcome = iota
	// FetchFailed covers fetch errors and hard timeouts alike.
	FetchFailed
)

// StateOf derives the scheduling state from a source's health fields.
func StateOf(s *model.Source, now time.Time) State {
	if !s.Active || s.ConsecutiveFailures >= FailureCap {
		return Excluded
	}
	if s.NextRetry != nil && s.NextRetry.After(now) {
		return Backoff
	}
	return Eligible
}

// Transition applies a fetch outcome to the source's health counters and
// returns the resulting state. On success the failure streak resets and the
// retry time clears; on failure the streak grows and the retry time moves
// out by the deterministic backoff delay.
func Transition(s *model.Source, outcome Outcome, now time.Time) State {
	switch outcome {
	case FetchOK:
		s.ConsecutiveFailures = 0
		s.NextRetry = nil
		s.LastFetch = now
	case FetchFailed:
		s.ConsecutiveFailures++
		retry := now.Add(BackoffDelay(s.ConsecutiveFailures))
		s.NextRetry = &retry
	}
	return StateOf(s, now)
}

// Eligible reports whether a source may be scheduled right now:
// active, under the failure cap, and not cooling down.
func IsEligible(s *model.Source, now time.Time) bool {
	return StateOf(s, now) == Eligible
}

// Order sorts sources in scheduling priority: healthy first (ascending
// consecutive failures), then best quality, then best last success rate.
func Order(sources []*model.Source) {
	sort.SliceStable(sources, func(i, j int) bool {
		a, b := sources[i], sources[j]
		if a.ConsecutiveFailures != b.ConsecutiveFailures {
			return a.ConsecutiveFailures < b.ConsecutiveFailures
		}
		if a.QualityScore != b.QualityScore {
			return a.QualityScore > b.QualityScore
		}
		return a.LastSuccessRate > b.LastSuccessRate
	})
}
