package discovery

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proxyproinsight/omeganexus/internal/model"
	"github.com/proxyproinsight/omeganexus/internal/store"
)

func newStore(t *testing.T) *store.FileStore {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	return st
}

func TestLoadSeeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seeds.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"url": "https://example.com/proxies.txt", "name": "example"},
		{"url": "https://example.org/socks5.txt", "name": "org-socks"}
	]`), 0644))

	seeds, err := LoadSeeds(path)
	require.NoError(t, err)
	require.Len(t, seeds, 2)
	assert.Equal(t, "example", seeds[0].Name)

	missing, err := LoadSeeds(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestSeedSourcesInsertsOnceAtSeedQuality(t *testing.T) {
	st := newStore(t)
	seeds := []Seed{
		{URL: "https://example.com/proxies.txt", Name: "example"},
		{URL: "https://example.org/socks5.txt", Name: "org-socks"},
	}

	assert.Equal(t, 2, SeedSources(st, seeds))
	assert.Equal(t, 0, SeedSources(st, seeds))

	srcs := st.Sources()
	require.Len(t, srcs, 2)
	for _, s := range srcs {
		assert.Equal(t, SeedQuality, s.QualityScore)
		assert.True(t, s.Active)
		assert.NotEmpty(t, s.ID)
	}
}

func TestSeedingPreservesExistingHealth(t *testing.T) {
	st := newStore(t)
	require.NoError(t, st.UpsertSource(&model.Source{
		ID: "old", URL: "https://example.com/proxies.txt", Name: "example",
		QualityScore: 0.91, ConsecutiveFailures: 2, Active: true,
	}))

	SeedSources(st, []Seed{{URL: "https://example.com/proxies.txt", Name: "example"}})

	srcs := st.Sources()
	require.Len(t, srcs, 1)
	assert.Equal(t, "old", srcs[0].ID)
	assert.Equal(t, 0.91, srcs[0].QualityScore)
	assert.Equal(t, 2, srcs[0].ConsecutiveFailures)
}

func TestDiscoverViaGithubSearch(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/repositories", r.URL.Path)
		fmt.Fprint(w, `{"items":[{"full_name":"someone/proxy-list","default_branch":"master"}]}`)
	}))
	defer api.Close()

	st := newStore(t)
	d := New(st, "").WithGithubAPI(api.URL).WithIndexPages(nil)

	inserted := d.Discover(context.Background())
	assert.Equal(t, len(listFileNames), inserted)

	srcs := st.Sources()
	require.Len(t, srcs, len(listFileNames))
	urls := map[string]bool{}
	for _, s := range srcs {
		urls[s.URL] = true
		assert.Equal(t, DiscoveredQuality, s.QualityScore)
		assert.True(t, s.Active)
	}
	assert.True(t, urls["https://raw.githubusercontent.com/someone/proxy-list/master/proxies.txt"])

	// Re-running discovers nothing new.
	assert.Equal(t, 0, d.Discover(context.Background()))
}

func TestDiscoverViaIndexCrawl(t *testing.T) {
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<a href="/lists/socks5-proxies.txt">socks</a>
			<a href="/lists/readme.md">readme</a>
			<a href="https://cdn.example.com/http-proxies.txt">http list</a>
		</body></html>`)
	}))
	defer page.Close()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"items":[]}`)
	}))
	defer api.Close()

	st := newStore(t)
	d := New(st, "").WithGithubAPI(api.URL).WithIndexPages([]string{page.URL})

	inserted := d.Discover(context.Background())
	assert.Equal(t, 2, inserted)

	urls := map[string]bool{}
	for _, s := range st.Sources() {
		urls[s.URL] = true
	}
	assert.True(t, urls[page.URL+"/lists/socks5-proxies.txt"])
	assert.True(t, urls["https://cdn.example.com/http-proxies.txt"])
}

func TestLooksLikeListURL(t *testing.T) {
	assert.True(t, looksLikeListURL("https://x.test/proxies.txt"))
	assert.True(t, looksLikeListURL("https://x.test/SOCKS5.TXT"))
	assert.False(t, looksLikeListURL("https://x.test/proxies.html"))
	assert.False(t, looksLikeListURL("https://x.test/random.txt"))
}

func TestDiscoverSurvivesAPIFailure(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer api.Close()

	st := newStore(t)
	d := New(st, "").WithGithubAPI(api.URL).WithIndexPages(nil)
	assert.Equal(t, 0, d.Discover(context.Background()))
}
