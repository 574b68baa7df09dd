// Package discovery grows the source set: a static seed list loaded at
// startup, plus a periodic crawl for new list URLs on GitHub and on known
// index pages. Discovery only ever produces source URLs; everything found
// flows through the same hunt pipeline as the seeds.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/google/uuid"

	"github.com/proxyproinsight/omeganexus/internal/model"
	"github.com/proxyproinsight/omeganexus/internal/shared/logger"
	"github.com/proxyproinsight/omeganexus/internal/store"
)

// Initial quality scores. Hand-picked seeds start with more credit than
// anything the crawler digs up; the EMA takes over from the first fetch.
const (
	SeedQuality       = 0.7
	DiscoveredQuality = 0.5
)

// Seed is one entry of the static seed list data file.
type Seed struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

// LoadSeeds reads the seed list. A missing file is an empty list.
func LoadSeeds(path string) ([]Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read seed list %s: %w", path, err)
	}
	var seeds []Seed
	if err := json.Unmarshal(data, &seeds); err != nil {
		return nil, fmt.Errorf("failed to parse seed list %s: %w", path, err)
	}
	return seeds, nil
}

// SeedSources upserts the static seed list. Existing sources keep their
// accumulated health; only genuinely new URLs are inserted.
func SeedSources(st store.Store, seeds []Seed) int {
	l := logger.WithComponent("Discovery")
	existing := knownURLs(st)
	inserted := 0
	for _, seed := range seeds {
		if _, ok := existing[seed.URL]; ok {
			continue
		}
		src := &model.Source{
			ID:           uuid.NewString(),
			URL:          seed.URL,
			Name:         seed.Name,
			QualityScore: SeedQuality,
			Active:       true,
		}
		if err := st.UpsertSource(src); err != nil {
			l.Warn().Err(err).Str("url", seed.URL).Msg("Seed upsert failed.")
			continue
		}
		existing[seed.URL] = struct{}{}
		inserted++
	}
	l.Info().Int("seeds", len(seeds)).Int("inserted", inserted).Msg("Seed sources loaded.")
	return inserted
}

func knownURLs(st store.Store) map[string]struct{} {
	known := make(map[string]struct{})
	for _, s := range st.Sources() {
		known[s.URL] = struct{}{}
	}
	return known
}

// Discoverer periodically hunts for new source URLs.
type Discoverer struct {
	store  store.Store
	token  string
	client *http.Client

	// githubAPI and indexPages are configuration so tests can point the
	// crawl at their own servers.
	githubAPI  string
	indexPages []string
}

// New builds a discoverer. token is an optional GitHub API token raising
// the search rate limit.
func New(st store.Store, token string) *Discoverer {
	return &Discoverer{
		store:     st,
		token:     token,
		client:    &http.Client{Timeout: 15 * time.Second},
		githubAPI: "https://api.github.com",
		indexPages: []string{
			"https://github.com/topics/proxy-list",
			"https://github.com/topics/free-proxy",
		},
	}
}

// WithGithubAPI overrides the API base URL.
func (d *Discoverer) WithGithubAPI(base string) *Discoverer {
	d.githubAPI = base
	return d
}

// WithIndexPages overrides the crawled index pages.
func (d *Discoverer) WithIndexPages(pages []string) *Discoverer {
	d.indexPages = pages
	return d
}

// Discover runs one discovery pass and returns how many new sources were
// inserted. Both legs are best-effort; a failing leg contributes nothing.
func (d *Discoverer) Discover(ctx context.Context) int {
	l := logger.WithComponent("Discovery")

	urls := make(map[string]struct{})
	for _, u := range d.searchGithub(ctx) {
		urls[u] = struct{}{}
	}
	for _, u := range d.crawlIndexPages() {
		urls[u] = struct{}{}
	}

	existing := knownURLs(d.store)
	inserted := 0
	for u := range urls {
		if _, ok := existing[u]; ok {
			continue
		}
		src := &model.Source{
			ID:           uuid.NewString(),
			URL:          u,
			Name:         nameFromURL(u),
			QualityScore: DiscoveredQuality,
			Active:       true,
		}
		if err := d.store.UpsertSource(src); err != nil {
			continue
		}
		existing[u] = struct{}{}
		inserted++
		l.Debug().Str("url", u).Msg("Discovered new source.")
	}

	l.Info().Int("found", len(urls)).Int("inserted", inserted).Msg("Discovery pass finished.")
	return inserted
}

// listFileNames are the raw files a proxy-list repository typically carries.
var listFileNames = []string{"proxies.txt", "http.txt", "socks5.txt", "proxy-list.txt"}

// searchGithub queries the repository search API for proxy-list repos and
// derives raw-file candidate URLs from the hits.
func (d *Discoverer) searchGithub(ctx context.Context) []string {
	l := logger.WithComponent("Discovery")

	target := d.githubAPI + "/search/repositories?q=proxy-list+in:name&sort=updated&per_page=10"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		l.Debug().Err(err).Msg("GitHub search failed.")
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		l.Debug().Int("status", resp.StatusCode).Msg("GitHub search rejected.")
		return nil
	}

	var body struct {
		Items []struct {
			FullName      string `json:"full_name"`
			DefaultBranch string `json:"default_branch"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		l.Debug().Err(err).Msg("GitHub search response malformed.")
		return nil
	}

	var urls []string
	for _, item := range body.Items {
		branch := item.DefaultBranch
		if branch == "" {
			branch = "main"
		}
		for _, name := range listFileNames {
			urls = append(urls, fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/%s", item.FullName, branch, name))
		}
	}
	return urls
}

// crawlIndexPages scrapes the configured index pages for links to plain
// text proxy lists.
func (d *Discoverer) crawlIndexPages() []string {
	l := logger.WithComponent("Discovery")

	var urls []string
	c := colly.NewCollector(
		colly.MaxDepth(1),
		colly.Async(false),
	)
	c.SetRequestTimeout(15 * time.Second)

	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		href := e.Request.AbsoluteURL(e.Attr("href"))
		if looksLikeListURL(href) {
			urls = append(urls, href)
		}
	})
	c.OnError(func(r *colly.Response, err error) {
		l.Debug().Err(err).Str("url", r.Request.URL.String()).Msg("Index page crawl failed.")
	})

	for _, page := range d.indexPages {
		c.Visit(page)
	}
	c.Wait()
	return urls
}

// looksLikeListURL filters crawled links down to plausible list files. Only
// the file name is matched; the scheme would match "http" on everything.
func looksLikeListURL(u string) bool {
	lower := strings.ToLower(u)
	if !strings.HasSuffix(lower, ".txt") {
		return false
	}
	base := lower[strings.LastIndexByte(lower, '/')+1:]
	return strings.Contains(base, "proxy") || strings.Contains(base, "proxies") ||
		strings.Contains(base, "socks") || strings.Contains(base, "http")
}

// nameFromURL derives a short display name from a list URL.
func nameFromURL(u string) string {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(u, "https://"), "http://")
	trimmed = strings.TrimPrefix(trimmed, "raw.githubusercontent.com/")
	if len(trimmed) > 60 {
		trimmed = trimmed[:60]
	}
	return trimmed
}

// Run loops discovery until the context ends. The first pass runs after one
// interval; startup seeding covers the beginning.
func (d *Discoverer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Discover(ctx)
		}
	}
}
