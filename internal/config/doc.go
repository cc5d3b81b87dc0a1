// Package config implements the configuration layer for the pump monitor service.
//
// Configuration is assembled in three layers: the baseline returned by
// LoadBaseline, an optional YAML file, and PUMPMON_* environment overrides.
// The merged result is validated before the service starts, so every timer,
// window and ceiling the telemetry core depends on is known to be sane.
package config
