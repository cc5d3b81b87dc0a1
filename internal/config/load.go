package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFile is read from the working directory when no explicit path is given.
const DefaultFile = "pumpmon.yaml"

// Load merges LoadBaseline() + optional YAML file + env overrides (PUMPMON_*).
// An explicit path that does not exist is an error; the implicit DefaultFile is optional.
func Load(path string) (*Config, error) {
	config := LoadBaseline()

	explicit := true
	if path == "" {
		path = os.Getenv("PUMPMON_CONFIG")
	}
	if path == "" {
		path = DefaultFile
		explicit = false
	}

	if _, err := os.Stat(path); err == nil {
		if err := loadFromFile(config, path); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	} else if explicit {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := Validate(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// loadFromFile decodes YAML over the existing values; keys absent from the file keep their current value.
func loadFromFile(config *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return decodeYAML(config, data)
}

func decodeYAML(config *Config, data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnvOverrides applies PUMPMON_* environment variables to the config.
// A malformed value is reported rather than silently ignored.
func applyEnvOverrides(config *Config) error {
	var errs []error

	str := func(key string, dst *string) {
		if val, ok := os.LookupEnv(key); ok {
			*dst = val
		}
	}
	dur := func(key string, dst *time.Duration) {
		if val := os.Getenv(key); val != "" {
			d, err := time.ParseDuration(val)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	integer := func(key string, dst *int) {
		if val := os.Getenv(key); val != "" {
			n, err := strconv.Atoi(val)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("PUMPMON_LISTEN_ADDR", &config.ListenAddr)
	integer("PUMPMON_CLIENT_QUEUE_SIZE", &config.ClientQueueSize)
	dur("PUMPMON_WRITE_TIMEOUT", &config.WriteTimeout)
	dur("PUMPMON_PING_INTERVAL", &config.PingInterval)

	dur("PUMPMON_DRAIN_INTERVAL", &config.DrainInterval)
	integer("PUMPMON_BUFFER_CAPACITY", &config.BufferCapacity)
	dur("PUMPMON_STALE_INTERVAL", &config.StaleInterval)
	dur("PUMPMON_STALE_THRESHOLD", &config.StaleThreshold)

	dur("PUMPMON_NO_DATA_TIMEOUT", &config.NoDataTimeout)
	dur("PUMPMON_CHAMBER_TIMEOUT", &config.ChamberTimeout)

	str("PUMPMON_DEFAULT_SYSTEM_ID", &config.DefaultSystemID)
	if val := os.Getenv("PUMPMON_DEFAULT_SUPPLY_VOLTAGE"); val != "" {
		v, err := strconv.ParseFloat(val, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("PUMPMON_DEFAULT_SUPPLY_VOLTAGE: %w", err))
		} else {
			config.DefaultSupplyVoltage = v
		}
	}
	integer("PUMPMON_WAVEFORM_CAPACITY", &config.WaveformCapacity)

	dur("PUMPMON_WATCHDOG_INTERVAL", &config.WatchdogInterval)
	if val := os.Getenv("PUMPMON_MAX_MEMORY_BYTES"); val != "" {
		n, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("PUMPMON_MAX_MEMORY_BYTES: %w", err))
		} else {
			config.MaxMemoryBytes = n
		}
	}
	integer("PUMPMON_MAX_CONNECTIONS", &config.MaxConnections)

	str("PUMPMON_AUTH_SECRET", &config.AuthSecret)
	str("PUMPMON_AUTH_PUBLIC_KEY_PEM", &config.AuthPublicKeyPEM)
	str("PUMPMON_AUDIT_PATH", &config.AuditPath)
	str("PUMPMON_NATS_URL", &config.NATSURL)
	str("PUMPMON_NATS_SUBJECT_PREFIX", &config.NATSSubjectPrefix)
	str("PUMPMON_LOG_LEVEL", &config.LogLevel)
	str("PUMPMON_LOG_FORMAT", &config.LogFormat)

	config.LogLevel = strings.ToLower(config.LogLevel)
	config.LogFormat = strings.ToLower(config.LogFormat)

	return errors.Join(errs...)
}

// GetEnvVar returns the value of an environment variable with a default.
func GetEnvVar(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvDuration returns the value of an environment variable as a duration with a default.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
