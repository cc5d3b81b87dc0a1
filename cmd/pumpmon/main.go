// Package main is the pump monitor daemon: it accepts device telemetry over
// WebSocket, aggregates it per system and broadcasts snapshots to viewers.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	flag "github.com/spf13/pflag"

	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/api"
	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/audit"
	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/auth"
	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/config"
	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/dispatch"
	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/fault"
	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/metrics"
	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/mirror"
	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/registry"
	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/telemetry"
)

// Version is overridden at link time.
var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.StringP("config", "c", "", "path to YAML configuration (default: $PUMPMON_CONFIG or ./"+config.DefaultFile+")")
	listen := flag.String("listen", "", "override listen address")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(Version)
		return 0
	}

	// Step 1: configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}
	if *listen != "" {
		cfg.ListenAddr = *listen
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("starting pump monitor", "version", Version, "listen", cfg.ListenAddr)

	// Step 2: metrics and fault supervision
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(promReg)
	if err != nil {
		logger.Error("failed to register metrics", "error", err)
		return 1
	}

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()
	sup, ctx := fault.NewSupervisor(sigCtx, logger, m)

	// Step 3: routing and aggregation
	reg := registry.New(logger)

	hubOpts := []telemetry.Option{telemetry.WithMetrics(m), telemetry.WithLogger(logger)}
	var natsMirror *mirror.NATS
	if cfg.NATSURL != "" {
		natsMirror, err = mirror.Connect(cfg.NATSURL, cfg.NATSSubjectPrefix, logger)
		if err != nil {
			logger.Error("failed to connect snapshot mirror", "url", cfg.NATSURL, "error", err)
			return 1
		}
		hubOpts = append(hubOpts, telemetry.WithMirror(natsMirror))
		logger.Info("snapshot mirror connected", "url", cfg.NATSURL, "prefix", cfg.NATSSubjectPrefix)
	}
	hub := telemetry.NewHub(cfg, reg, hubOpts...)

	// Step 4: audit trail
	dispatchOpts := []dispatch.Option{dispatch.WithMetrics(m), dispatch.WithLogger(logger)}
	var auditLogger *audit.Logger
	if cfg.AuditEnabled() {
		auditLogger, err = audit.NewLogger(cfg.AuditPath, logger)
		if err != nil {
			logger.Error("failed to open audit trail", "path", cfg.AuditPath, "error", err)
			return 1
		}
		dispatchOpts = append(dispatchOpts, dispatch.WithAudit(auditLogger))
	}

	// Step 5: attribution
	var verifier *auth.Verifier
	if cfg.AuthEnabled() {
		verifier, err = auth.NewVerifier(auth.VerifierConfig{
			PublicKeyPEM: cfg.AuthPublicKeyPEM,
			SecretKey:    cfg.AuthSecret,
		})
		if err != nil {
			logger.Error("failed to configure token verification", "error", err)
			return 1
		}
		logger.Info("token verification enabled", "alg", verifier.Algorithm())
	}

	// Step 6: dispatcher and HTTP surface
	dispatcher := dispatch.New(cfg, reg, hub, dispatchOpts...)
	server := api.NewServer(cfg, api.Deps{
		State:    hub,
		Routing:  reg,
		Handler:  dispatcher,
		Reporter: sup,
		Auth:     auth.NewMiddleware(verifier),
		Gatherer: promReg,
		Logger:   logger,
	})

	watchdog := &fault.Watchdog{
		Interval:       cfg.WatchdogInterval,
		MaxMemoryBytes: cfg.MaxMemoryBytes,
		MaxConnections: cfg.MaxConnections,
		Connections:    reg.Count,
	}
	go watchdog.Run(ctx, sup)

	hub.Start(ctx)
	go func() {
		if err := server.Start(cfg.ListenAddr); err != nil {
			sup.Fatal(&fault.Error{Class: fault.Fatal, Token: "LISTEN", Op: "listen", Cause: err})
		}
	}()

	// SIGHUP rotates the audit trail.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for running := true; running; {
		select {
		case <-hup:
			if auditLogger == nil {
				continue
			}
			if err := auditLogger.Rotate(); err != nil {
				logger.Warn("audit rotation failed", "error", err)
			} else {
				logger.Info("audit trail rotated", "path", auditLogger.GetFilePath())
			}
		case <-ctx.Done():
			running = false
		}
	}
	logger.Info("shutting down")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Warn("error stopping HTTP server", "error", err)
	}
	hub.Stop()
	if natsMirror != nil {
		if err := natsMirror.Close(); err != nil {
			logger.Warn("error closing snapshot mirror", "error", err)
		}
	}
	if err := auditLogger.Close(); err != nil {
		logger.Warn("error closing audit trail", "error", err)
	}

	if err := sup.Err(); err != nil {
		logger.Error("pump monitor stopped on fatal error", "error", err)
		return 1
	}
	logger.Info("pump monitor shutdown complete")
	return 0
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
