package source

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proxyproinsight/omeganexus/internal/model"
)

func TestBackoffDelayDeterministic(t *testing.T) {
	cases := []struct {
		failures int
		want     time.Duration
	}{
		{0, 300 * time.Second},
		{1, 600 * time.Second},
		{3, 2400 * time.Second},
		// The exponent saturates at 7, so 300*2^7 = 38400s is the
		// effective ceiling; the 86400s cap never binds.
		{7, 38400 * time.Second},
		{8, 38400 * time.Second},
		{10, 38400 * time.Second},
		{100, 38400 * time.Second},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, BackoffDelay(c.failures), "failures=%d", c.failures)
	}
}

func TestTransitionFailureGrowsStreakAndSetsRetry(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s := &model.Source{ID: "s1", Active: true}

	st := Transition(s, FetchFailed, now)
	assert.Equal(t, Backoff, st)
	assert.Equal(t, 1, s.ConsecutiveFailures)
	require.NotNil(t, s.NextRetry)
	assert.Equal(t, now.Add(600*time.Second), *s.NextRetry)

	st = Transition(s, FetchFailed, now)
	assert.Equal(t, Backoff, st)
	assert.Equal(t, 2, s.ConsecutiveFailures)
	assert.Equal(t, now.Add(1200*time.Second), *s.NextRetry)
}

func TestTransitionSuccessResetsStreak(t *testing.T) {
	now := time.Now()
	retry := now.Add(time.Hour)
	s := &model.Source{ID: "s1", Active: true, ConsecutiveFailures: 5, NextRetry: &retry}

	st := Transition(s, FetchOK, now)
	assert.Equal(t, Eligible, st)
	assert.Equal(t, 0, s.ConsecutiveFailures)
	assert.Nil(t, s.NextRetry)
	assert.Equal(t, now, s.LastFetch)
}

func TestStateOf(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.Equal(t, Eligible, StateOf(&model.Source{Active: true}, now))
	assert.Equal(t, Eligible, StateOf(&model.Source{Active: true, NextRetry: &past}, now))
	assert.Equal(t, Backoff, StateOf(&model.Source{Active: true, NextRetry: &future}, now))
	assert.Equal(t, Excluded, StateOf(&model.Source{Active: false}, now))
	assert.Equal(t, Excluded, StateOf(&model.Source{Active: true, ConsecutiveFailures: FailureCap}, now))
	// The failure cap wins even when the retry time has passed.
	assert.Equal(t, Excluded, StateOf(&model.Source{Active: true, ConsecutiveFailures: 12, NextRetry: &past}, now))
}

func TestOrderHealthyFirstThenQuality(t *testing.T) {
	a := &model.Source{ID: "a", ConsecutiveFailures: 2, QualityScore: 0.9}
	b := &model.Source{ID: "b", ConsecutiveFailures: 0, QualityScore: 0.3, LastSuccessRate: 0.1}
	c := &model.Source{ID: "c", ConsecutiveFailures: 0, QualityScore: 0.3, LastSuccessRate: 0.8}
	d := &model.Source{ID: "d", ConsecutiveFailures: 0, QualityScore: 0.8}

	got := []*model.Source{a, b, c, d}
	Order(got)

	ids := []string{got[0].ID, got[1].ID, got[2].ID, got[3].ID}
	assert.Equal(t, []string{"d", "c", "b", "a"}, ids)
}
