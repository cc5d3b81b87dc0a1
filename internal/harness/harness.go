// Package harness provides a fully-wired pump monitor for end-to-end tests.
// Every component is the production one; only timers are shortened.
package harness

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/api"
	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/audit"
	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/auth"
	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/config"
	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/dispatch"
	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/fault"
	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/metrics"
	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/registry"
	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/telemetry"
)

// Options configures the test harness.
type Options struct {
	// AuthSecret enables HS256 token checks when set.
	AuthSecret string
	// TempDir holds the audit trail; t.TempDir() when empty.
	TempDir string
	// Configure adjusts the config before anything is built.
	Configure func(*config.Config)
}

// DefaultOptions returns options with auth disabled.
func DefaultOptions() Options {
	return Options{}
}

// Server is a running pump monitor with its components exposed.
type Server struct {
	URL       string
	WSURL     string
	AuditPath string

	Config     *config.Config
	Registry   *registry.Registry
	Hub        *telemetry.Hub
	Dispatcher *dispatch.Dispatcher
	Audit      *audit.Logger
	API        *api.Server
	Gatherer   *prometheus.Registry
	Supervisor *fault.Supervisor

	Shutdown func()
}

// NewServer creates and starts a fully-wired server. It is shut down by
// t.Cleanup.
func NewServer(t *testing.T, opts Options) *Server {
	t.Helper()

	tempDir := opts.TempDir
	if tempDir == "" {
		tempDir = t.TempDir()
	}

	cfg := config.LoadBaseline()
	cfg.DrainInterval = 10 * time.Millisecond
	cfg.StaleInterval = 50 * time.Millisecond
	cfg.StaleThreshold = 150 * time.Millisecond
	cfg.AuthSecret = opts.AuthSecret
	if opts.Configure != nil {
		opts.Configure(cfg)
	}
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("Invalid harness config: %v", err)
	}

	prom := prometheus.NewRegistry()
	m, err := metrics.New(prom)
	if err != nil {
		t.Fatalf("Failed to register metrics: %v", err)
	}
	sup, ctx := fault.NewSupervisor(context.Background(), nil, m)

	auditPath := filepath.Join(tempDir, "audit.jsonl")
	auditLogger, err := audit.NewLogger(auditPath, nil)
	if err != nil {
		t.Fatalf("Failed to create audit logger: %v", err)
	}

	var verifier *auth.Verifier
	if cfg.AuthEnabled() {
		verifier, err = auth.NewVerifier(auth.VerifierConfig{SecretKey: cfg.AuthSecret})
		if err != nil {
			t.Fatalf("Failed to create verifier: %v", err)
		}
	}

	reg := registry.New(nil)
	hub := telemetry.NewHub(cfg, reg, telemetry.WithMetrics(m))
	d := dispatch.New(cfg, reg, hub,
		dispatch.WithMetrics(m),
		dispatch.WithAudit(auditLogger))

	apiServer := api.NewServer(cfg, api.Deps{
		State:    hub,
		Routing:  reg,
		Handler:  d,
		Reporter: sup,
		Auth:     auth.NewMiddleware(verifier),
		Gatherer: prom,
	})
	ts := httptest.NewServer(apiServer.Handler())
	hub.Start(ctx)

	s := &Server{
		URL:        ts.URL,
		WSURL:      "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
		AuditPath:  auditPath,
		Config:     cfg,
		Registry:   reg,
		Hub:        hub,
		Dispatcher: d,
		Audit:      auditLogger,
		API:        apiServer,
		Gatherer:   prom,
		Supervisor: sup,
	}

	var stopped bool
	s.Shutdown = func() {
		if stopped {
			return
		}
		stopped = true
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = apiServer.Stop(stopCtx)
		ts.Close()
		hub.Stop()
		sup.Stop()
		_ = auditLogger.Close()
	}
	t.Cleanup(s.Shutdown)
	return s
}
