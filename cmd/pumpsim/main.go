// Package main runs one or more simulated pump devices against a pump
// monitor, for bench testing and demos.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/config"
	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/sim"
)

func main() {
	url := flag.StringP("url", "u", config.GetEnvVar("PUMPSIM_URL", "ws://localhost:8080/ws"), "pump monitor WebSocket endpoint")
	systemID := flag.StringP("system-id", "s", config.GetEnvVar("PUMPSIM_SYSTEM_ID", "pump-1"), "system id; a device index is appended when --devices > 1")
	label := flag.String("label", "", "connection label")
	token := flag.String("token", config.GetEnvVar("PUMPSIM_TOKEN", ""), "bearer token")
	interval := flag.Duration("interval", config.GetEnvDuration("PUMPSIM_INTERVAL", 500*time.Millisecond), "time between pump cycles")
	jitter := flag.Duration("jitter", config.GetEnvDuration("PUMPSIM_JITTER", 150*time.Millisecond), "maximum device timestamp skew")
	devices := flag.IntP("devices", "n", 1, "number of simulated devices")
	anonymous := flag.Bool("anonymous", false, "skip identification so the server assigns its default system")
	seed := flag.Int64("seed", time.Now().UnixNano(), "random seed")
	verbose := flag.BoolP("verbose", "v", false, "log every pump cycle")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	failed := make(chan struct{}, *devices)
	for i := 0; i < *devices; i++ {
		cfg := sim.Config{
			URL:       *url,
			SystemID:  *systemID,
			Label:     *label,
			Token:     *token,
			Interval:  *interval,
			Jitter:    *jitter,
			Seed:      *seed + int64(i),
			Anonymous: *anonymous,
		}
		if *devices > 1 {
			cfg.SystemID = fmt.Sprintf("%s-%d", *systemID, i+1)
		}

		d, err := sim.Dial(ctx, cfg, logger)
		if err != nil {
			logger.Error("failed to connect device", "system_id", cfg.SystemID, "error", err)
			failed <- struct{}{}
			continue
		}
		logger.Info("device connected", "system_id", cfg.SystemID, "url", cfg.URL)

		wg.Add(1)
		go func(systemID string) {
			defer wg.Done()
			if err := d.Run(ctx); err != nil {
				logger.Error("device stopped", "system_id", systemID, "error", err)
				failed <- struct{}{}
				return
			}
			logger.Info("device stopped", "system_id", systemID, "frames", d.Sent())
		}(cfg.SystemID)
	}

	wg.Wait()
	if len(failed) > 0 {
		os.Exit(1)
	}
}
