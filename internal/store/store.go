// Package store defines the record-store contract the pipeline writes
// against, plus a flat-file implementation. The engine behind the contract
// is an external collaborator's concern; the pipeline only relies on the
// semantics below (conflict-safe upsert by unique key, health updates, and
// the bounded query shapes).
package store

import (
	"time"

	"github.com/proxyproinsight/omeganexus/internal/model"
)

// Store is the persistence contract consumed by the hunting core.
type Store interface {
	// UpsertProxy inserts or overwrites the record keyed by
	// (host, port, protocol). Last write wins on all listed fields except
	// DiscoveredAt, which the first insert fixes forever.
	UpsertProxy(rec *model.ProxyRecord) error

	// GetProxy returns a copy of the record for a key, if present.
	GetProxy(host string, port int, protocol string) (*model.ProxyRecord, bool)

	// TopProxies returns up to limit active records, best quality first.
	TopProxies(limit int) []*model.ProxyRecord

	// DeactivateStale soft-deletes active records not checked since the
	// cutoff and returns how many it touched.
	DeactivateStale(cutoff time.Time) int

	// StaleHighQuality returns up to limit inactive records above the
	// quality floor whose last check predates the cutoff, reactivation
	// candidates for the cleanup sweep.
	StaleHighQuality(cutoff time.Time, minQuality float64, limit int) []*model.ProxyRecord

	// CertificationCandidates returns up to limit active premium records
	// whose last elite check predates the cutoff, best quality first.
	CertificationCandidates(cutoff time.Time, limit int) []*model.ProxyRecord

	// UpsertSource inserts a source by URL or leaves an existing one
	// untouched (sources are never duplicated and never hard-deleted).
	UpsertSource(src *model.Source) error

	// EligibleSources returns up to limit sources eligible at now, in
	// scheduling priority order.
	EligibleSources(now time.Time, limit int) []*model.Source

	// UpdateSource applies a mutation to the stored source under the
	// store's lock and persists the result.
	UpdateSource(id string, apply func(*model.Source)) error

	// Sources returns a copy of every known source.
	Sources() []*model.Source

	// Stats computes a snapshot of the catalog.
	Stats() model.Stats

	// Flush persists in-memory state.
	Flush() error
}
