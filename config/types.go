// Package config provides YAML-backed configuration for the core peer
// session engine: storage location, overlay listener/proxy settings, and
// the privacy toggles named in the handshake and privacy-guard packages.
package config

import "time"

// Config is the top-level configuration structure.
type Config struct {
	Environment string        `yaml:"environment" json:"environment"`
	Storage     StorageConfig `yaml:"storage" json:"storage"`
	Overlay     OverlayConfig `yaml:"overlay" json:"overlay"`
	Privacy     PrivacyConfig `yaml:"privacy" json:"privacy"`
	Logging     LoggingConfig `yaml:"logging" json:"logging"`
	Metrics     MetricsConfig `yaml:"metrics" json:"metrics"`
	Health      HealthConfig  `yaml:"health" json:"health"`
}

// StorageConfig controls where the privacy guard keeps its encrypted store.
type StorageConfig struct {
	Root          string `yaml:"root" json:"root"`
	PassphraseEnv string `yaml:"passphrase_env" json:"passphrase_env"`
}

// OverlayConfig controls the overlay listener and outbound SOCKS dialing.
type OverlayConfig struct {
	ListenPort   int           `yaml:"listen_port" json:"listen_port"`
	SocksAddress string        `yaml:"socks_address" json:"socks_address"`
	OfflineMode  bool          `yaml:"offline_mode" json:"offline_mode"`
	DialTimeout  time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
}

// PrivacyConfig controls the padding, jitter, and transcript-signing
// toggles consumed by the privacy guard and handshake machine.
type PrivacyConfig struct {
	PaddingEnabled bool `yaml:"padding_enabled" json:"padding_enabled"`
	JitterEnabled  bool `yaml:"jitter_enabled" json:"jitter_enabled"`
	SignTranscript bool `yaml:"sign_transcript" json:"sign_transcript"`
	GhostMode      bool `yaml:"ghost_mode" json:"ghost_mode"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format"` // json, pretty
	Output string `yaml:"output" json:"output"` // stdout, stderr, file path
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Address string `yaml:"address" json:"address"`
	Path    string `yaml:"path" json:"path"`
}

// HealthConfig controls the liveness/readiness HTTP endpoint.
type HealthConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Address string `yaml:"address" json:"address"`
}
