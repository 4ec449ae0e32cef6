package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"pwdemo/internal/domain"
)

func samplePayload() Payload {
	return BuildPayload(closedProtocol(), &domain.User{ID: "u1", Name: "Max Müller"}, 1)
}

func TestSendWithoutURL(t *testing.T) {
	d := NewDispatcher(Options{Enabled: true})
	res := d.Send(context.Background(), samplePayload())
	if res.Sent || res.Reason != ReasonNoURL {
		t.Fatalf("expected no url skip, got %+v", res)
	}

	// A missing URL is reported even when delivery is also disabled.
	d.Update(ConfigUpdate{Enabled: boolPtr(false)})
	if res := d.Send(context.Background(), samplePayload()); res.Reason != ReasonNoURL {
		t.Fatalf("expected no url to win over disabled, got %+v", res)
	}
}

func TestSendDisabledNeverCallsNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	d := NewDispatcher(Options{URL: srv.URL, Enabled: false})
	res := d.Send(context.Background(), samplePayload())
	if res.Sent || res.Reason != ReasonDisabled {
		t.Fatalf("expected disabled skip, got %+v", res)
	}
	if hits.Load() != 0 {
		t.Fatalf("disabled dispatcher reached the network")
	}
}

func TestSendPostsPayload(t *testing.T) {
	var got Payload
	var header http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		header = r.Header.Clone()
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	d := NewDispatcher(Options{URL: srv.URL, Enabled: true})
	want := samplePayload()
	res := d.Send(context.Background(), want)
	if !res.Sent || res.Status != http.StatusAccepted {
		t.Fatalf("expected sent with 202, got %+v", res)
	}
	if got.ProtocolID != want.ProtocolID || got.RemainingCount != want.RemainingCount {
		t.Fatalf("receiver got %+v", got)
	}
	if header.Get("Content-Type") != "application/json" || header.Get("X-Webhook-Event") != EventProtocolCompleted {
		t.Fatalf("unexpected headers: %v", header)
	}
}

func TestSendNon2xxCountsAsSent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewDispatcher(Options{URL: srv.URL, Enabled: true})
	res := d.Send(context.Background(), samplePayload())
	if !res.Sent || res.Status != http.StatusInternalServerError {
		t.Fatalf("expected sent with 500, got %+v", res)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", hits.Load())
	}
}

func TestSendTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	d := NewDispatcher(Options{URL: url, Enabled: true})
	res := d.Send(context.Background(), samplePayload())
	if res.Sent || res.Error == "" || res.Status != 0 {
		t.Fatalf("expected transport error, got %+v", res)
	}
}

func TestSendTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	d := NewDispatcher(Options{URL: srv.URL, Enabled: true, Timeout: 50 * time.Millisecond})
	res := d.Send(context.Background(), samplePayload())
	if res.Sent || res.Error == "" {
		t.Fatalf("expected timeout error, got %+v", res)
	}
}

func TestSendIgnoresCallerCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := NewDispatcher(Options{URL: srv.URL, Enabled: true})
	if res := d.Send(ctx, samplePayload()); !res.Sent {
		t.Fatalf("expected delivery despite cancelled caller, got %+v", res)
	}
}

func TestConfigLayers(t *testing.T) {
	d := NewDispatcher(Options{URL: " https://static.test/hook ", Source: SourceEnv, Enabled: true})
	cfg := d.Config()
	if cfg.URL != "https://static.test/hook" || cfg.Source != SourceEnv || !cfg.Enabled {
		t.Fatalf("unexpected static config: %+v", cfg)
	}

	cfg = d.Update(ConfigUpdate{URL: strPtr("  https://runtime.test/hook ")})
	if cfg.URL != "https://runtime.test/hook" || cfg.Source != SourceRuntime {
		t.Fatalf("runtime override not applied: %+v", cfg)
	}
	if d.EffectiveURL() != "https://runtime.test/hook" {
		t.Fatalf("effective url should be the runtime override")
	}

	cfg = d.Update(ConfigUpdate{Enabled: boolPtr(false)})
	if cfg.Enabled || cfg.URL != "https://runtime.test/hook" {
		t.Fatalf("enabled-only update touched the url: %+v", cfg)
	}

	cfg = d.Update(ConfigUpdate{URL: strPtr("")})
	if cfg.URL != "https://static.test/hook" || cfg.Source != SourceEnv {
		t.Fatalf("clearing the override should fall back to the static url: %+v", cfg)
	}

	empty := NewDispatcher(Options{})
	if c := empty.Config(); c.URL != "" || c.Source != SourceFile {
		t.Fatalf("unexpected default config: %+v", c)
	}
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }
