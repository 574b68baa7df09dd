package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proxyproinsight/omeganexus/internal/model"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	fs, err := Open(t.TempDir())
	require.NoError(t, err)
	return fs
}

func TestUpsertProxyIdempotentOnKey(t *testing.T) {
	fs := newTestStore(t)

	first := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	second := first.Add(2 * time.Hour)

	require.NoError(t, fs.UpsertProxy(&model.ProxyRecord{
		Host: "1.2.3.4", Port: 8080, Protocol: "http",
		LatencyMs: 900, QualityScore: 0.5,
		LastChecked: first, DiscoveredAt: first, Active: true,
	}))
	require.NoError(t, fs.UpsertProxy(&model.ProxyRecord{
		Host: "1.2.3.4", Port: 8080, Protocol: "http",
		LatencyMs: 300, QualityScore: 0.8,
		LastChecked: second, DiscoveredAt: second, Active: true,
	}))

	assert.Equal(t, int64(1), fs.Stats().TotalProxies)

	rec, ok := fs.GetProxy("1.2.3.4", 8080, "http")
	require.True(t, ok)
	// Second validation's fields win...
	assert.Equal(t, int64(300), rec.LatencyMs)
	assert.Equal(t, 0.8, rec.QualityScore)
	assert.Equal(t, second, rec.LastChecked)
	// ...but the discovery timestamp never moves.
	assert.Equal(t, first, rec.DiscoveredAt)
}

func TestUpsertProxyDistinctProtocolsAreDistinctRecords(t *testing.T) {
	fs := newTestStore(t)
	require.NoError(t, fs.UpsertProxy(&model.ProxyRecord{Host: "1.2.3.4", Port: 1080, Protocol: "http"}))
	require.NoError(t, fs.UpsertProxy(&model.ProxyRecord{Host: "1.2.3.4", Port: 1080, Protocol: "socks5"}))
	assert.Equal(t, int64(2), fs.Stats().TotalProxies)
}

func TestDeactivateStaleAndReactivationCandidates(t *testing.T) {
	fs := newTestStore(t)
	now := time.Now().UTC()

	require.NoError(t, fs.UpsertProxy(&model.ProxyRecord{
		Host: "1.1.1.1", Port: 80, Protocol: "http",
		QualityScore: 0.9, LastChecked: now.Add(-8 * time.Hour), Active: true,
	}))
	require.NoError(t, fs.UpsertProxy(&model.ProxyRecord{
		Host: "2.2.2.2", Port: 80, Protocol: "http",
		QualityScore: 0.2, LastChecked: now, Active: true,
	}))

	n := fs.DeactivateStale(now.Add(-6 * time.Hour))
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(1), fs.Stats().WorkingProxies)

	cands := fs.StaleHighQuality(now.Add(-6*time.Hour), 0.6, 20)
	require.Len(t, cands, 1)
	assert.Equal(t, "1.1.1.1", cands[0].Host)
}

func TestCertificationCandidatesFiltersPremiumAndRecency(t *testing.T) {
	fs := newTestStore(t)
	now := time.Now().UTC()
	cutoff := now.Add(-24 * time.Hour)

	require.NoError(t, fs.UpsertProxy(&model.ProxyRecord{
		Host: "1.1.1.1", Port: 80, Protocol: "http", Active: true,
		ProxyType: model.TypeMobile, QualityScore: 0.9,
	}))
	require.NoError(t, fs.UpsertProxy(&model.ProxyRecord{
		Host: "2.2.2.2", Port: 80, Protocol: "http", Active: true,
		ProxyType: model.TypeResidential, QualityScore: 0.7,
		LastEliteCheck: now.Add(-time.Hour), // checked recently
	}))
	require.NoError(t, fs.UpsertProxy(&model.ProxyRecord{
		Host: "3.3.3.3", Port: 80, Protocol: "http", Active: true,
		ProxyType: model.TypeDatacenter, QualityScore: 0.95,
	}))

	cands := fs.CertificationCandidates(cutoff, 20)
	require.Len(t, cands, 1)
	assert.Equal(t, "1.1.1.1", cands[0].Host)
}

func TestUpsertSourceInsertOrIgnore(t *testing.T) {
	fs := newTestStore(t)
	require.NoError(t, fs.UpsertSource(&model.Source{ID: "a", URL: "http://x/list.txt", QualityScore: 0.7, Active: true}))
	// Re-seeding must not clobber accumulated health.
	require.NoError(t, fs.UpdateSource("a", func(s *model.Source) { s.QualityScore = 0.42 }))
	require.NoError(t, fs.UpsertSource(&model.Source{ID: "b", URL: "http://x/list.txt", QualityScore: 0.7, Active: true}))

	srcs := fs.Sources()
	require.Len(t, srcs, 1)
	assert.Equal(t, "a", srcs[0].ID)
	assert.Equal(t, 0.42, srcs[0].QualityScore)
}

func TestEligibleSourcesOrderAndLimit(t *testing.T) {
	fs := newTestStore(t)
	now := time.Now()
	future := now.Add(time.Hour)

	require.NoError(t, fs.UpsertSource(&model.Source{ID: "healthy", URL: "u1", QualityScore: 0.8, Active: true}))
	require.NoError(t, fs.UpsertSource(&model.Source{ID: "cooling", URL: "u2", QualityScore: 0.9, Active: true, NextRetry: &future}))
	require.NoError(t, fs.UpsertSource(&model.Source{ID: "capped", URL: "u3", QualityScore: 0.9, Active: true, ConsecutiveFailures: 10}))
	require.NoError(t, fs.UpsertSource(&model.Source{ID: "shaky", URL: "u4", QualityScore: 0.9, Active: true, ConsecutiveFailures: 3}))

	eligible := fs.EligibleSources(now, 40)
	require.Len(t, eligible, 2)
	assert.Equal(t, "healthy", eligible[0].ID)
	assert.Equal(t, "shaky", eligible[1].ID)

	assert.Len(t, fs.EligibleSources(now, 1), 1)
}

func TestFlushAndReload(t *testing.T) {
	dir := t.TempDir()
	fs, err := Open(dir)
	require.NoError(t, err)

	now := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, fs.UpsertProxy(&model.ProxyRecord{
		Host: "1.2.3.4", Port: 8080, Protocol: "http",
		QualityScore: 0.6, DiscoveredAt: now, LastChecked: now, Active: true,
	}))
	require.NoError(t, fs.UpsertSource(&model.Source{ID: "s", URL: "http://x", QualityScore: 0.7, Active: true}))
	require.NoError(t, fs.Flush())

	reopened, err := Open(dir)
	require.NoError(t, err)
	rec, ok := reopened.GetProxy("1.2.3.4", 8080, "http")
	require.True(t, ok)
	assert.Equal(t, now, rec.DiscoveredAt)
	assert.Len(t, reopened.Sources(), 1)
}
