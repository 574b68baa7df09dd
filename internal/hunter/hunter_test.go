package hunter

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proxyproinsight/omeganexus/internal/asn"
	"github.com/proxyproinsight/omeganexus/internal/certifier"
	"github.com/proxyproinsight/omeganexus/internal/fetch"
	"github.com/proxyproinsight/omeganexus/internal/model"
	"github.com/proxyproinsight/omeganexus/internal/shared/config"
	"github.com/proxyproinsight/omeganexus/internal/store"
	"github.com/proxyproinsight/omeganexus/internal/validator"
)

type fakeNotifier struct {
	mu         sync.Mutex
	discovered []string
	elite      []string
}

func (f *fakeNotifier) NotifyDiscovery(rec *model.ProxyRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discovered = append(f.discovered, rec.Addr())
}

func (f *fakeNotifier) NotifyElite(rec *model.ProxyRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.elite = append(f.elite, rec.Addr())
}

// testServer hosts the source list and every validation probe on one
// listener so the listed candidate is reachable through its own address.
func testServer(t *testing.T, listBody func(addr string) string, rotateIP bool) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	var ipHits int
	var mu sync.Mutex
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/list":
			fmt.Fprint(w, listBody(srv.Listener.Addr().String()))
		case "/ip":
			mu.Lock()
			ipHits++
			n := ipHits
			mu.Unlock()
			if rotateIP {
				fmt.Fprintf(w, "198.51.100.%d", n)
			} else {
				fmt.Fprint(w, "198.51.100.1")
			}
		case "/geo":
			fmt.Fprint(w, `{"status":"success","country":"SG","city":"Singapore","isp":"M1 Limited","as":"AS4773 M1","mobile":true}`)
		case "/fraud":
			fmt.Fprint(w, "Fraud Score: 5%")
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	return srv
}

func testEndpoints(base string) validator.Endpoints {
	return validator.Endpoints{
		Reachability: base + "/ip",
		HeadersEcho:  base + "/headers",
		DNSLeak:      base + "/dnsleak",
		GeoAPI:       base + "/geo?ip=%s",
		FraudPage:    base + "/fraud?ip=%s",
		AbuseAPI:     base + "/abuse?ipAddress=%s",
		BrowseA:      base + "/browse-a",
		BrowseB:      base + "/browse-b",
		DeviceProbe:  base + "/ua",
	}
}

func mobileCache() *asn.Cache {
	return asn.NewCache(func(ctx context.Context, ip string) (*model.ASNData, error) {
		return &model.ASNData{ASN: 21928, Org: "T-Mobile USA", IsMobile: true, CarrierName: "T-Mobile"}, nil
	}, time.Hour)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Certify.SpacingSeconds = 0
	cfg.Certify.RotationSpacingSecs = 0
	return cfg
}

func newTestHunter(t *testing.T, srv *httptest.Server, cfg *config.Config) (*Hunter, *store.FileStore, *fakeNotifier) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)

	cache := mobileCache()
	v := validator.New(cache, 2*time.Second, 4*time.Second).WithEndpoints(testEndpoints(srv.URL))
	c := certifier.New(v, cache, 2*time.Second, time.Millisecond)
	f := fetch.NewFetcher(5*time.Second, 1)
	n := &fakeNotifier{}
	return New(cfg, st, f, v, c, n), st, n
}

func hostPort(t *testing.T, srv *httptest.Server) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func TestHuntCycleEndToEnd(t *testing.T) {
	srv := testServer(t, func(addr string) string {
		return addr + "\n#comment\nnot-an-ip:xx\n"
	}, false)
	defer srv.Close()

	h, st, n := newTestHunter(t, srv, testConfig())
	require.NoError(t, st.UpsertSource(&model.Source{
		ID: "src-1", URL: srv.URL + "/list", Name: "test-source",
		QualityScore: 0.7, Active: true,
	}))

	stats := h.HuntCycle(context.Background())

	assert.Equal(t, 1, stats.Sources)
	assert.Equal(t, 1, stats.Candidates)
	assert.Equal(t, 1, stats.Working)

	host, port := hostPort(t, srv)
	rec, ok := st.GetProxy(host, port, "http")
	require.True(t, ok)
	assert.True(t, rec.Active)
	assert.Equal(t, model.TypeMobile, rec.ProxyType)
	assert.Equal(t, "AS21928", rec.ASN)
	assert.Equal(t, "T-Mobile", rec.ISPName)
	assert.Equal(t, "test-source", rec.Source)
	assert.Greater(t, rec.QualityScore, 0.2)
	assert.False(t, rec.DiscoveredAt.IsZero())

	// Source health: success resets failures and folds the 100% rate into
	// the EMA (0.3*1.0 + 0.7*0.7 = 0.91).
	srcs := st.Sources()
	require.Len(t, srcs, 1)
	assert.Equal(t, 0, srcs[0].ConsecutiveFailures)
	assert.Nil(t, srcs[0].NextRetry)
	assert.Equal(t, int64(1), srcs[0].TotalFetches)
	assert.Equal(t, 1.0, srcs[0].LastSuccessRate)
	assert.InDelta(t, 0.91, srcs[0].QualityScore, 1e-9)

	// First discovery of a mobile record fires the webhook once.
	n.mu.Lock()
	defer n.mu.Unlock()
	require.Len(t, n.discovered, 1)
	assert.Equal(t, fmt.Sprintf("%s:%d", host, port), n.discovered[0])
}

func TestHuntCycleSecondPassDoesNotRenotify(t *testing.T) {
	srv := testServer(t, func(addr string) string { return addr + "\n" }, false)
	defer srv.Close()

	h, st, n := newTestHunter(t, srv, testConfig())
	require.NoError(t, st.UpsertSource(&model.Source{
		ID: "src-1", URL: srv.URL + "/list", Name: "test-source",
		QualityScore: 0.7, Active: true,
	}))

	h.HuntCycle(context.Background())
	h.HuntCycle(context.Background())

	host, port := hostPort(t, srv)
	_, ok := st.GetProxy(host, port, "http")
	require.True(t, ok)
	assert.Equal(t, int64(1), st.Stats().TotalProxies)

	n.mu.Lock()
	defer n.mu.Unlock()
	assert.Len(t, n.discovered, 1)
}

func TestHuntCycleSourceFailureBacksOff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	h, st, _ := newTestHunter(t, srv, testConfig())
	require.NoError(t, st.UpsertSource(&model.Source{
		ID: "src-1", URL: srv.URL + "/list", Name: "failing-source",
		QualityScore: 0.7, Active: true,
	}))

	stats := h.HuntCycle(context.Background())
	assert.Equal(t, 1, stats.Sources)
	assert.Equal(t, 0, stats.Candidates)

	srcs := st.Sources()
	require.Len(t, srcs, 1)
	assert.Equal(t, 1, srcs[0].ConsecutiveFailures)
	require.NotNil(t, srcs[0].NextRetry)
	assert.True(t, srcs[0].NextRetry.After(time.Now()))

	// While cooling down the source is not eligible, so the next cycle
	// skips it entirely.
	stats = h.HuntCycle(context.Background())
	assert.Equal(t, 0, stats.Sources)
}

func TestCleanupCycleDeactivatesAndRescues(t *testing.T) {
	srv := testServer(t, func(addr string) string { return "" }, false)
	defer srv.Close()

	h, st, _ := newTestHunter(t, srv, testConfig())
	old := time.Now().Add(-7 * time.Hour)

	// Stale, unreachable, active: must be deactivated.
	require.NoError(t, st.UpsertProxy(&model.ProxyRecord{
		Host: "203.0.113.9", Port: 1, Protocol: "http",
		QualityScore: 0.4, LastChecked: old, Active: true,
	}))
	// Stale, reachable (the test server), inactive, high quality: rescued.
	host, port := hostPort(t, srv)
	require.NoError(t, st.UpsertProxy(&model.ProxyRecord{
		Host: host, Port: port, Protocol: "http",
		QualityScore: 0.9, LastChecked: old, Active: false,
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	h.CleanupCycle(ctx)

	dead, ok := st.GetProxy("203.0.113.9", 1, "http")
	require.True(t, ok)
	assert.False(t, dead.Active)

	rescued, ok := st.GetProxy(host, port, "http")
	require.True(t, ok)
	assert.True(t, rescued.Active)
	assert.True(t, rescued.LastChecked.After(old))
}

func TestRevalidateCycleDeactivatesDeadTopProxies(t *testing.T) {
	srv := testServer(t, func(addr string) string { return "" }, false)
	defer srv.Close()

	h, st, _ := newTestHunter(t, srv, testConfig())
	host, port := hostPort(t, srv)
	require.NoError(t, st.UpsertProxy(&model.ProxyRecord{
		Host: host, Port: port, Protocol: "http",
		QualityScore: 0.9, LastChecked: time.Now(), Active: true,
	}))
	require.NoError(t, st.UpsertProxy(&model.ProxyRecord{
		Host: "203.0.113.9", Port: 1, Protocol: "http",
		QualityScore: 0.8, LastChecked: time.Now(), Active: true,
	}))

	h.RevalidateCycle(context.Background())

	alive, ok := st.GetProxy(host, port, "http")
	require.True(t, ok)
	assert.True(t, alive.Active)

	dead, ok := st.GetProxy("203.0.113.9", 1, "http")
	require.True(t, ok)
	assert.False(t, dead.Active)
}

func TestCertifySweepCertifiesAndNotifies(t *testing.T) {
	srv := testServer(t, func(addr string) string { return "" }, true)
	defer srv.Close()

	h, st, n := newTestHunter(t, srv, testConfig())
	host, port := hostPort(t, srv)
	require.NoError(t, st.UpsertProxy(&model.ProxyRecord{
		Host: host, Port: port, Protocol: "http",
		ProxyType: model.TypeMobile, QualityScore: 0.9,
		LastChecked: time.Now(), Active: true,
	}))

	h.CertifySweep(context.Background())

	rec, ok := st.GetProxy(host, port, "http")
	require.True(t, ok)
	assert.True(t, rec.Elite)
	assert.Equal(t, 0.95, rec.StabilityScore)
	assert.True(t, rec.RotationVerified)
	assert.True(t, rec.BrowserCompatible)
	assert.False(t, rec.LastEliteCheck.IsZero())

	n.mu.Lock()
	require.Len(t, n.elite, 1)
	n.mu.Unlock()

	// A second sweep finds nothing due: the record was just checked.
	h.CertifySweep(context.Background())
	n.mu.Lock()
	assert.Len(t, n.elite, 1)
	n.mu.Unlock()
}
