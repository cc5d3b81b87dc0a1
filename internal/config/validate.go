package config

import (
	"fmt"
)

// Validate enforces the invariants the telemetry core relies on.
func Validate(config *Config) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := validateTimers(config); err != nil {
		return fmt.Errorf("timer validation failed: %w", err)
	}

	if err := validateWindows(config); err != nil {
		return fmt.Errorf("availability window validation failed: %w", err)
	}

	if err := validateCapacities(config); err != nil {
		return fmt.Errorf("capacity validation failed: %w", err)
	}

	if err := validateLogging(config); err != nil {
		return fmt.Errorf("logging validation failed: %w", err)
	}

	return nil
}

// validateTimers validates the drain, stale and maintenance tickers.
func validateTimers(config *Config) error {
	if config.ListenAddr == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if config.DrainInterval <= 0 {
		return fmt.Errorf("drain interval must be positive, got %v", config.DrainInterval)
	}
	if config.StaleInterval <= 0 {
		return fmt.Errorf("stale interval must be positive, got %v", config.StaleInterval)
	}
	// A threshold below the tick would re-send every system on every tick.
	if config.StaleThreshold < config.StaleInterval {
		return fmt.Errorf("stale threshold %v must be >= stale interval %v", config.StaleThreshold, config.StaleInterval)
	}
	if config.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive, got %v", config.WriteTimeout)
	}
	if config.PingInterval <= 0 {
		return fmt.Errorf("ping interval must be positive, got %v", config.PingInterval)
	}
	if config.WatchdogInterval <= 0 {
		return fmt.Errorf("watchdog interval must be positive, got %v", config.WatchdogInterval)
	}
	return nil
}

// validateWindows validates the availability windows.
func validateWindows(config *Config) error {
	if config.ChamberTimeout <= 0 {
		return fmt.Errorf("chamber timeout must be positive, got %v", config.ChamberTimeout)
	}
	if config.NoDataTimeout < config.ChamberTimeout {
		return fmt.Errorf("no-data timeout %v must be >= chamber timeout %v", config.NoDataTimeout, config.ChamberTimeout)
	}
	return nil
}

// validateCapacities validates buffer sizes and resource ceilings.
func validateCapacities(config *Config) error {
	if config.BufferCapacity <= 0 {
		return fmt.Errorf("buffer capacity must be positive, got %d", config.BufferCapacity)
	}
	if config.ClientQueueSize <= 0 {
		return fmt.Errorf("client queue size must be positive, got %d", config.ClientQueueSize)
	}
	if config.WaveformCapacity <= 0 {
		return fmt.Errorf("waveform capacity must be positive, got %d", config.WaveformCapacity)
	}
	if config.MaxConnections <= 0 {
		return fmt.Errorf("max connections must be positive, got %d", config.MaxConnections)
	}
	if config.MaxMemoryBytes == 0 {
		return fmt.Errorf("max memory bytes must be positive")
	}
	if config.DefaultSystemID == "" {
		return fmt.Errorf("default system id cannot be empty")
	}
	if config.DefaultSupplyVoltage < 0 {
		return fmt.Errorf("default supply voltage must be non-negative, got %v", config.DefaultSupplyVoltage)
	}
	return nil
}

func validateLogging(config *Config) error {
	switch config.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", config.LogLevel)
	}
	switch config.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", config.LogFormat)
	}
	return nil
}
