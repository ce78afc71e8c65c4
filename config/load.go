package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"ems-client-go/infrastructure/logger"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env    string        `yaml:"env"`
	Client ClientConfig  `yaml:"client"`
	Daemon DaemonConfig  `yaml:"daemon"`
	Log    logger.Config `yaml:"log"`
}

// ClientConfig tunes one client-side session.
type ClientConfig struct {
	Name                string  `yaml:"name"`
	ChannelCapacity     int     `yaml:"channelCapacity"`     // command channel bound, default 100
	HandshakeDeadlineMs int     `yaml:"handshakeDeadlineMs"` // daemon attach deadline, default 10000
	CommandRate         float64 `yaml:"commandRate"`         // outbound pacing, tokens/s; 0 disables
	CommandBurst        int     `yaml:"commandBurst"`
}

// DaemonConfig tunes the emsd side.
type DaemonConfig struct {
	ListenAddr  string   `yaml:"listenAddr"`
	MetricsAddr string   `yaml:"metricsAddr"`
	Brokers     []string `yaml:"brokers"`
	QuotePollMs int      `yaml:"quotePollMs"`
	// SeedQuotes pre-loads the paper market (symbol -> last price).
	// Hot-reloadable: editing the config re-seeds the board.
	SeedQuotes map[string]float64 `yaml:"seedQuotes"`
}

// HandshakeDeadline returns the attach deadline as a duration.
func (c ClientConfig) HandshakeDeadline() time.Duration {
	if c.HandshakeDeadlineMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.HandshakeDeadlineMs) * time.Millisecond
}

// QuotePoll returns the daemon quote poll interval.
func (c DaemonConfig) QuotePoll() time.Duration {
	if c.QuotePollMs <= 0 {
		return 250 * time.Millisecond
	}
	return time.Duration(c.QuotePollMs) * time.Millisecond
}

// Load reads YAML config from path and applies basic validation.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides fields from env vars
// if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("EMS_CLIENT_NAME"); v != "" {
		cfg.Client.Name = v
	}
	if v := os.Getenv("EMS_DAEMON_LISTEN"); v != "" {
		cfg.Daemon.ListenAddr = v
	}
	if v := os.Getenv("EMS_METRICS_ADDR"); v != "" {
		cfg.Daemon.MetricsAddr = v
	}
	return cfg, Validate(cfg)
}

// Validate ensures required fields are present.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	if cfg.Client.Name == "" {
		return errors.New("client.name is required (or EMS_CLIENT_NAME)")
	}
	if cfg.Client.ChannelCapacity < 0 {
		return errors.New("client.channelCapacity must be >= 0")
	}
	if cfg.Client.HandshakeDeadlineMs < 0 {
		return errors.New("client.handshakeDeadlineMs must be >= 0")
	}
	if cfg.Client.CommandRate < 0 {
		return errors.New("client.commandRate must be >= 0")
	}
	if cfg.Daemon.ListenAddr == "" {
		return errors.New("daemon.listenAddr is required (or EMS_DAEMON_LISTEN)")
	}
	if len(cfg.Daemon.Brokers) == 0 {
		return errors.New("daemon.brokers is required")
	}
	if cfg.Daemon.QuotePollMs < 0 {
		return errors.New("daemon.quotePollMs must be >= 0")
	}
	return nil
}
