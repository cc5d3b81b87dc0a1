package config

import (
	"time"
)

// Config holds every tunable of the pump monitor daemon.
type Config struct {
	// Transport
	ListenAddr      string        `yaml:"listenAddr"`
	ClientQueueSize int           `yaml:"clientQueueSize"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	PingInterval    time.Duration `yaml:"pingInterval"`

	// Ordering buffer and broadcast timers
	DrainInterval  time.Duration `yaml:"drainInterval"`
	BufferCapacity int           `yaml:"bufferCapacity"`
	StaleInterval  time.Duration `yaml:"staleInterval"`
	StaleThreshold time.Duration `yaml:"staleThreshold"`

	// Availability windows
	NoDataTimeout  time.Duration `yaml:"noDataTimeout"`
	ChamberTimeout time.Duration `yaml:"chamberTimeout"`

	// Aggregation
	DefaultSystemID      string  `yaml:"defaultSystemId"`
	DefaultSupplyVoltage float64 `yaml:"defaultSupplyVoltage"`
	WaveformCapacity     int     `yaml:"waveformCapacity"`

	// Resource ceilings
	WatchdogInterval time.Duration `yaml:"watchdogInterval"`
	MaxMemoryBytes   uint64        `yaml:"maxMemoryBytes"`
	MaxConnections   int           `yaml:"maxConnections"`

	// Attribution (JWT). Both empty disables token checks.
	AuthSecret       string `yaml:"authSecret"`
	AuthPublicKeyPEM string `yaml:"authPublicKeyPem"`

	// Audit trail destination: file path, "" for stdout, "-" to disable.
	AuditPath string `yaml:"auditPath"`

	// Optional NATS mirror of live snapshots.
	NATSURL           string `yaml:"natsUrl"`
	NATSSubjectPrefix string `yaml:"natsSubjectPrefix"`

	// Logging
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`
}

// LoadBaseline returns the built-in defaults.
func LoadBaseline() *Config {
	return &Config{
		ListenAddr:      ":8080",
		ClientQueueSize: 64,
		WriteTimeout:    10 * time.Second,
		PingInterval:    30 * time.Second,

		DrainInterval:  100 * time.Millisecond,
		BufferCapacity: 1024,
		StaleInterval:  1 * time.Second,
		StaleThreshold: 2 * time.Second,

		NoDataTimeout:  30 * time.Second,
		ChamberTimeout: 10 * time.Second,

		DefaultSystemID:      "local",
		DefaultSupplyVoltage: 15.0,
		WaveformCapacity:     2000,

		WatchdogInterval: 10 * time.Second,
		MaxMemoryBytes:   512 << 20,
		MaxConnections:   1000,

		NATSSubjectPrefix: "pumpmon.state",

		LogLevel:  "info",
		LogFormat: "text",
	}
}

// AuthEnabled reports whether connections must present a token.
func (c *Config) AuthEnabled() bool {
	return c.AuthSecret != "" || c.AuthPublicKeyPEM != ""
}

// AuditEnabled reports whether the audit trail is written at all.
func (c *Config) AuditEnabled() bool {
	return c.AuditPath != "-"
}
