// Package health periodically checks that the configured osu! server is
// reachable and that the proxy's TLS certificate is not about to expire.
package health

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/osus-project/osus-proxy/internal/config"
	"github.com/osus-project/osus-proxy/internal/events"
	"github.com/osus-project/osus-proxy/internal/preferences"
	"github.com/osus-project/osus-proxy/internal/util"
)

// CertWarnWindow is how far ahead of expiry the certificate check warns.
const CertWarnWindow = 14 * 24 * time.Hour

// BackendStatus is the result of the latest reachability probe.
type BackendStatus struct {
	Host      string        `json:"host"`
	Reachable bool          `json:"reachable"`
	Status    int           `json:"status,omitempty"`
	Latency   time.Duration `json:"latency"`
	Error     string        `json:"error,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
}

// Report is the latest state of every check.
type Report struct {
	Backend    *BackendStatus `json:"backend,omitempty"`
	CertExpiry *time.Time     `json:"cert_expiry,omitempty"`
}

// Option customizes a Manager.
type Option func(*Manager)

// WithHTTPClient replaces the probe client.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.client = c }
}

// WithScheme sets the probe scheme, "https" by default.
func WithScheme(scheme string) Option {
	return func(m *Manager) { m.scheme = scheme }
}

// WithInterval sets the check interval, one minute by default.
func WithInterval(d time.Duration) Option {
	return func(m *Manager) { m.interval = d }
}

// Manager runs the health checks.
type Manager struct {
	cfg      config.ProxyConfig
	store    *preferences.Store
	eventBus *events.EventBus
	client   *http.Client
	scheme   string
	interval time.Duration
	logger   zerolog.Logger

	mu     sync.RWMutex
	report Report
}

// NewManager creates a health check manager. eventBus may be nil.
func NewManager(cfg config.ProxyConfig, store *preferences.Store, eventBus *events.EventBus, opts ...Option) *Manager {
	m := &Manager{
		cfg:      cfg,
		store:    store,
		eventBus: eventBus,
		client:   &http.Client{Timeout: 10 * time.Second},
		scheme:   "https",
		interval: time.Minute,
		logger:   util.ComponentLogger("health"),
	}
	for _, opt := range opts {
		opt(m)
	}
	// Redirects are a valid answer; don't follow them.
	m.client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return m
}

// Start runs every check immediately and then on each interval until ctx
// is cancelled.
func (m *Manager) Start(ctx context.Context) {
	checks := []struct {
		name string
		fn   func(context.Context)
	}{
		{"backend", m.checkBackend},
		{"certificate", func(context.Context) { m.checkCertificate(time.Now()) }},
	}

	run := func() {
		for _, check := range checks {
			m.logger.Trace().Str("check", check.name).Msg("running health check")
			check.fn(ctx)
		}
	}

	m.logger.Info().Int("checks", len(checks)).Dur("interval", m.interval).Msg("health check manager started")
	run()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("health check manager stopped")
			return
		case <-ticker.C:
			run()
		}
	}
}

// Report returns a copy of the latest results.
func (m *Manager) Report() Report {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := Report{}
	if m.report.Backend != nil {
		b := *m.report.Backend
		out.Backend = &b
	}
	if m.report.CertExpiry != nil {
		t := *m.report.CertExpiry
		out.CertExpiry = &t
	}
	return out
}

// checkBackend probes the bancho host of the current server. A transition
// between reachable and unreachable publishes backend_health.
func (m *Manager) checkBackend(ctx context.Context) {
	host := "c." + m.store.ServerAddress()
	status := BackendStatus{Host: host, CheckedAt: time.Now()}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.scheme+"://"+host+"/", nil)
	if err != nil {
		status.Error = err.Error()
	} else {
		start := time.Now()
		resp, err := m.client.Do(req)
		status.Latency = time.Since(start)
		if err != nil {
			status.Error = err.Error()
		} else {
			resp.Body.Close()
			status.Status = resp.StatusCode
			status.Reachable = resp.StatusCode < http.StatusInternalServerError
			if !status.Reachable {
				status.Error = resp.Status
			}
		}
	}

	m.mu.Lock()
	prev := m.report.Backend
	m.report.Backend = &status
	m.mu.Unlock()

	if status.Reachable {
		m.logger.Debug().Str("host", host).Dur("latency", status.Latency).Msg("backend reachable")
	} else {
		m.logger.Warn().Str("host", host).Str("error", status.Error).Msg("backend unreachable")
	}

	changed := prev == nil || prev.Reachable != status.Reachable || prev.Host != status.Host
	if changed {
		m.eventBus.Publish(events.EventBackendHealth, "health", events.BackendHealthPayload{
			Host:      status.Host,
			Reachable: status.Reachable,
			Error:     status.Error,
		})
	}
}

// checkCertificate reads the leaf certificate from disk and warns when it
// expires within CertWarnWindow of now.
func (m *Manager) checkCertificate(now time.Time) {
	notAfter, err := certExpiry(m.cfg.TLSCertFile)
	if err != nil {
		m.logger.Warn().Err(err).Str("file", m.cfg.TLSCertFile).Msg("certificate check failed")
		return
	}

	m.mu.Lock()
	m.report.CertExpiry = &notAfter
	m.mu.Unlock()

	remaining := notAfter.Sub(now)
	switch {
	case remaining <= 0:
		m.logger.Error().Time("not_after", notAfter).Msg("TLS certificate has expired")
	case remaining < CertWarnWindow:
		m.logger.Warn().Time("not_after", notAfter).Dur("remaining", remaining).Msg("TLS certificate expires soon")
	}
}

func certExpiry(certFile string) (time.Time, error) {
	data, err := os.ReadFile(certFile)
	if err != nil {
		return time.Time{}, err
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return time.Time{}, fmt.Errorf("no certificate PEM block in %s", certFile)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return cert.NotAfter, nil
}
