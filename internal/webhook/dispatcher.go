package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pwdemo/internal/metrics"
)

const defaultTimeout = 10 * time.Second

// Layers that can supply the webhook URL, lowest precedence last.
const (
	SourceRuntime = "runtime"
	SourceEnv     = "env"
	SourceFile    = "config.json"
)

const (
	ReasonNoURL    = "no url"
	ReasonDisabled = "disabled"
)

// Options configure a Dispatcher. URL and Source describe the statically
// configured destination resolved at startup.
type Options struct {
	URL     string
	Source  string
	Enabled bool
	Timeout time.Duration
	Client  *http.Client
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Config is the effective webhook configuration.
type Config struct {
	URL     string
	Enabled bool
	Source  string
}

// ConfigUpdate changes only the fields that are non-nil.
type ConfigUpdate struct {
	URL     *string
	Enabled *bool
}

// Result describes one delivery attempt. Exactly one of Status, Reason or
// Error is set.
type Result struct {
	Sent   bool   `json:"sent"`
	Status int    `json:"status,omitempty"`
	Reason string `json:"reason,omitempty" enum:"no url,disabled"`
	Error  string `json:"error,omitempty"`
}

// Dispatcher holds the process-wide webhook configuration and performs
// single best-effort deliveries.
type Dispatcher struct {
	mu           sync.RWMutex
	staticURL    string
	staticSource string
	runtimeURL   string
	enabled      bool

	client  *http.Client
	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewDispatcher(opts Options) *Dispatcher {
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	source := opts.Source
	if source == "" {
		source = SourceFile
	}
	return &Dispatcher{
		staticURL:    strings.TrimSpace(opts.URL),
		staticSource: source,
		enabled:      opts.Enabled,
		client:       client,
		log:          logger,
		metrics:      opts.Metrics,
	}
}

// EffectiveURL resolves runtime override, then static URL, then empty.
func (d *Dispatcher) EffectiveURL() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.effectiveURL()
}

func (d *Dispatcher) effectiveURL() string {
	if d.runtimeURL != "" {
		return d.runtimeURL
	}
	return d.staticURL
}

func (d *Dispatcher) Config() Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config()
}

func (d *Dispatcher) config() Config {
	source := d.staticSource
	if d.runtimeURL != "" {
		source = SourceRuntime
	}
	return Config{URL: d.effectiveURL(), Enabled: d.enabled, Source: source}
}

// Update applies a partial change. An empty URL clears the runtime override.
func (d *Dispatcher) Update(u ConfigUpdate) Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	if u.URL != nil {
		d.runtimeURL = strings.TrimSpace(*u.URL)
	}
	if u.Enabled != nil {
		d.enabled = *u.Enabled
	}
	cfg := d.config()
	d.log.Info("webhook config updated", "url", cfg.URL, "enabled", cfg.Enabled, "source", cfg.Source)
	return cfg
}

// Send makes at most one POST of the payload. Failures are reported in the
// Result, never returned or retried.
func (d *Dispatcher) Send(ctx context.Context, p Payload) Result {
	cfg := d.Config()
	if cfg.URL == "" || !cfg.Enabled {
		reason := ReasonDisabled
		if cfg.URL == "" {
			reason = ReasonNoURL
		}
		d.log.Info("webhook not sent", "reason", reason, "protocol_id", p.ProtocolID)
		if d.log.Enabled(ctx, slog.LevelDebug) {
			if body, err := json.MarshalIndent(p, "", "  "); err == nil {
				d.log.Debug("webhook payload", "payload", string(body))
			}
		}
		d.metrics.Delivery(metrics.OutcomeSkipped, 0)
		return Result{Sent: false, Reason: reason}
	}

	body, err := json.Marshal(p)
	if err != nil {
		d.metrics.Delivery(metrics.OutcomeFailed, 0)
		return Result{Sent: false, Error: err.Error()}
	}
	// Detached from the request; the client timeout bounds the attempt.
	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		d.log.Warn("webhook request invalid", "url", cfg.URL, "error", err)
		d.metrics.Delivery(metrics.OutcomeFailed, 0)
		return Result{Sent: false, Error: err.Error()}
	}
	deliveryID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", p.Event)
	req.Header.Set("X-Webhook-Delivery", deliveryID)

	start := time.Now()
	res, err := d.client.Do(req)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		d.log.Warn("webhook delivery failed", "url", cfg.URL, "delivery_id", deliveryID, "error", err)
		d.metrics.Delivery(metrics.OutcomeFailed, elapsed)
		return Result{Sent: false, Error: err.Error()}
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4096))
	d.log.Info("webhook sent", "url", cfg.URL, "delivery_id", deliveryID, "status", res.StatusCode)
	d.metrics.Delivery(metrics.OutcomeSent, elapsed)
	return Result{Sent: true, Status: res.StatusCode}
}
