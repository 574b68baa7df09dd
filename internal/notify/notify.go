// Package notify posts best-effort webhook events for notable discoveries.
// Delivery is fire-and-forget: no retry, no effect on the pipeline.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/proxyproinsight/omeganexus/internal/model"
	"github.com/proxyproinsight/omeganexus/internal/shared/logger"
)

// Webhook event types.
const (
	EventNewMobile      = "new_mobile_proxy"
	EventNewResidential = "new_residential_proxy"
	EventNewElite       = "new_elite_proxy"
)

// Event is the JSON payload posted to the webhook.
type Event struct {
	Type      string    `json:"type"`
	Proxy     string    `json:"proxy"`
	Protocol  string    `json:"protocol"`
	Country   string    `json:"country,omitempty"`
	ProxyType string    `json:"proxy_type,omitempty"`
	Quality   float64   `json:"quality_score"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier posts events to a single webhook URL. A Notifier with an empty
// URL is valid and drops everything.
type Notifier struct {
	url    string
	client *http.Client
	wg     sync.WaitGroup
}

// New builds a notifier. url may be empty to disable delivery.
func New(url string) *Notifier {
	return &Notifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled reports whether a webhook URL is configured.
func (n *Notifier) Enabled() bool { return n.url != "" }

// NotifyDiscovery fires the event matching a newly discovered record's
// classification, if any. Detached; returns immediately.
func (n *Notifier) NotifyDiscovery(rec *model.ProxyRecord) {
	switch rec.ProxyType {
	case model.TypeMobile:
		n.dispatch(EventNewMobile, rec)
	case model.TypeResidential:
		n.dispatch(EventNewResidential, rec)
	}
}

// NotifyElite fires the elite event for a freshly certified record.
func (n *Notifier) NotifyElite(rec *model.ProxyRecord) {
	n.dispatch(EventNewElite, rec)
}

func (n *Notifier) dispatch(eventType string, rec *model.ProxyRecord) {
	if !n.Enabled() {
		return
	}
	event := Event{
		Type:      eventType,
		Proxy:     rec.Addr(),
		Protocol:  rec.Protocol,
		Country:   rec.Country,
		ProxyType: rec.ProxyType,
		Quality:   rec.QualityScore,
		Timestamp: time.Now().UTC(),
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.post(event)
	}()
}

func (n *Notifier) post(event Event) {
	l := logger.WithComponent("Notify")

	body, err := json.Marshal(event)
	if err != nil {
		l.Debug().Err(err).Msg("Failed to encode webhook event.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		l.Debug().Err(err).Msg("Failed to build webhook request.")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		l.Debug().Err(err).Str("event", event.Type).Msg("Webhook delivery failed.")
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
	l.Debug().Str("event", event.Type).Str("proxy", event.Proxy).Int("status", resp.StatusCode).Msg("Webhook delivered.")
}

// Wait blocks until in-flight deliveries finish. Shutdown convenience.
func (n *Notifier) Wait() {
	n.wg.Wait()
}
