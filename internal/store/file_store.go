package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/proxyproinsight/omeganexus/internal/model"
	"github.com/proxyproinsight/omeganexus/internal/shared/logger"
	"github.com/proxyproinsight/omeganexus/internal/source"
)

const (
	proxiesFile = "proxies.json"
	sourcesFile = "sources.json"
)

// FileStore keeps the catalog in memory behind an RWMutex and persists it
// as JSON data files. Mutations update memory immediately; Flush writes to
// disk. It implements the Store contract well enough for a single hunter
// process; anything bigger swaps in a real engine behind the same interface.
type FileStore struct {
	dir string

	mu      sync.RWMutex
	proxies map[string]*model.ProxyRecord
	sources map[string]*model.Source // keyed by URL
}

// Open loads (or initializes) a file store rooted at dir.
func Open(dir string) (*FileStore, error) {
	fs := &FileStore{
		dir:     dir,
		proxies: make(map[string]*model.ProxyRecord),
		sources: make(map[string]*model.Source),
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (fs *FileStore) load() error {
	l := logger.WithComponent("Store")

	var proxies []*model.ProxyRecord
	if err := readJSONFile(filepath.Join(fs.dir, proxiesFile), &proxies); err != nil {
		return err
	}
	for _, p := range proxies {
		fs.proxies[p.Key()] = p
	}

	var sources []*model.Source
	if err := readJSONFile(filepath.Join(fs.dir, sourcesFile), &sources); err != nil {
		return err
	}
	for _, s := range sources {
		fs.sources[s.URL] = s
	}

	l.Info().Int("proxies", len(fs.proxies)).Int("sources", len(fs.sources)).Msg("Store loaded.")
	return nil
}

// readJSONFile unmarshals a data file; a missing file leaves out empty.
func readJSONFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", path, err)
	}
	return nil
}

// Flush persists both data files.
func (fs *FileStore) Flush() error {
	fs.mu.RLock()
	proxies := make([]*model.ProxyRecord, 0, len(fs.proxies))
	for _, p := range fs.proxies {
		proxies = append(proxies, p)
	}
	sources := make([]*model.Source, 0, len(fs.sources))
	for _, s := range fs.sources {
		sources = append(sources, s)
	}
	fs.mu.RUnlock()

	sort.Slice(proxies, func(i, j int) bool { return proxies[i].Key() < proxies[j].Key() })
	sort.Slice(sources, func(i, j int) bool { return sources[i].URL < sources[j].URL })

	if err := writeJSONFile(filepath.Join(fs.dir, proxiesFile), proxies); err != nil {
		return err
	}
	return writeJSONFile(filepath.Join(fs.dir, sourcesFile), sources)
}

func writeJSONFile(path string, in any) error {
	data, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// UpsertProxy implements the conflict-safe upsert. DiscoveredAt is fixed by
// the first insert and preserved across every later update.
func (fs *FileStore) UpsertProxy(rec *model.ProxyRecord) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	cp := *rec
	if existing, ok := fs.proxies[rec.Key()]; ok && !existing.DiscoveredAt.IsZero() {
		cp.DiscoveredAt = existing.DiscoveredAt
	} else if cp.DiscoveredAt.IsZero() {
		cp.DiscoveredAt = time.Now().UTC()
	}
	fs.proxies[cp.Key()] = &cp
	return nil
}

// GetProxy returns a copy of the stored record for a key.
func (fs *FileStore) GetProxy(host string, port int, protocol string) (*model.ProxyRecord, bool) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	key := (&model.ProxyRecord{Host: host, Port: port, Protocol: protocol}).Key()
	rec, ok := fs.proxies[key]
	if !ok {
		return nil, false
	}
	cp := *rec
	return &cp, true
}

// TopProxies returns active records ordered by quality.
func (fs *FileStore) TopProxies(limit int) []*model.ProxyRecord {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	out := make([]*model.ProxyRecord, 0, limit)
	for _, p := range fs.proxies {
		if p.Active {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QualityScore > out[j].QualityScore })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// DeactivateStale soft-deletes records not checked since cutoff.
func (fs *FileStore) DeactivateStale(cutoff time.Time) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n := 0
	for _, p := range fs.proxies {
		if p.Active && p.LastChecked.Before(cutoff) {
			p.Active = false
			n++
		}
	}
	return n
}

// StaleHighQuality returns reactivation candidates.
func (fs *FileStore) StaleHighQuality(cutoff time.Time, minQuality float64, limit int) []*model.ProxyRecord {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	out := make([]*model.ProxyRecord, 0, limit)
	for _, p := range fs.proxies {
		if !p.Active && p.QualityScore > minQuality && p.LastChecked.Before(cutoff) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QualityScore > out[j].QualityScore })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// CertificationCandidates returns premium records due for an elite sweep.
func (fs *FileStore) CertificationCandidates(cutoff time.Time, limit int) []*model.ProxyRecord {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	out := make([]*model.ProxyRecord, 0, limit)
	for _, p := range fs.proxies {
		if p.Active && p.IsPremium() && p.LastEliteCheck.Before(cutoff) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QualityScore > out[j].QualityScore })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// UpsertSource inserts a source keyed by URL; existing sources keep their
// accumulated health state (insert-or-ignore, like the seeding paths).
func (fs *FileStore) UpsertSource(src *model.Source) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, ok := fs.sources[src.URL]; ok {
		return nil
	}
	cp := *src
	fs.sources[src.URL] = &cp
	return nil
}

// EligibleSources applies the eligibility predicate and scheduling order.
func (fs *FileStore) EligibleSources(now time.Time, limit int) []*model.Source {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	out := make([]*model.Source, 0, limit)
	for _, s := range fs.sources {
		if source.IsEligible(s, now) {
			cp := *s
			out = append(out, &cp)
		}
	}
	source.Order(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// UpdateSource mutates a stored source under the store lock.
func (fs *FileStore) UpdateSource(id string, apply func(*model.Source)) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	for _, s := range fs.sources {
		if s.ID == id {
			apply(s)
			return nil
		}
	}
	return fmt.Errorf("source %s not found", id)
}

// Sources returns a copy of every known source.
func (fs *FileStore) Sources() []*model.Source {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	out := make([]*model.Source, 0, len(fs.sources))
	for _, s := range fs.sources {
		cp := *s
		out = append(out, &cp)
	}
	return out
}

// Stats computes a catalog snapshot.
func (fs *FileStore) Stats() model.Stats {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	var st model.Stats
	var latencySum, qualitySum float64
	for _, p := range fs.proxies {
		st.TotalProxies++
		if p.Active {
			st.WorkingProxies++
			latencySum += float64(p.LatencyMs)
			qualitySum += p.QualityScore
		}
		switch p.ProxyType {
		case model.TypeMobile:
			st.MobileProxies++
		case model.TypeResidential:
			st.ResidentialProxies++
		}
	}
	if st.WorkingProxies > 0 {
		st.AvgLatencyMs = latencySum / float64(st.WorkingProxies)
		st.AvgQuality = qualitySum / float64(st.WorkingProxies)
	}
	for _, s := range fs.sources {
		if s.Active {
			st.ActiveSources++
		}
	}
	return st
}
