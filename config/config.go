// Package config loads process-level configuration for the wsproxy
// server: listen address, route table location, control-bus address,
// and the default signing parameters used when a route doesn't declare
// its own. Grounded on
// _examples/danmuck-edgectl/internal/config/config.go's load/validate
// shape, using the teacher's actual declared TOML library,
// github.com/BurntSushi/toml.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the top-level process configuration.
type Config struct {
	ListenAddr    string `toml:"listen_addr"`
	RoutesPath    string `toml:"routes_path"`
	AuditDBPath   string `toml:"audit_db_path"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`

	DefaultUpstreamKey    string   `toml:"default_upstream_key"`
	DefaultSigIss         string   `toml:"default_sig_iss"`
	DefaultSigKey         string   `toml:"default_sig_key"`
	UseXForwardedProtocol bool     `toml:"use_x_forwarded_protocol"`
	XFFHeader             string   `toml:"xff_header"`
	XFFTrustedHeader      string   `toml:"xff_trusted_header"`
	OrigHeadersNeedMark   []string `toml:"orig_headers_need_mark"`

	PendingMax int `toml:"pending_max"`
}

// Default returns a Config with the same defaults spec.md hardcodes
// (PENDING_MAX = 100) plus sensible process defaults.
func Default() Config {
	return Config{
		ListenAddr:       ":8080",
		RoutesPath:       "routes.toml",
		AuditDBPath:      "wsproxy_audit.db",
		RedisAddr:        "127.0.0.1:6379",
		XFFHeader:        "X-Forwarded-For",
		XFFTrustedHeader: "X-Forwarded-For",
		PendingMax:       100,
	}
}

// Load reads a Config from a TOML file, keeping Default()'s value for
// any field the file does not set. A field the file sets explicitly,
// even to its zero value, takes the file's value.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks required fields are present and sane.
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return fmt.Errorf("config: listen_addr is required")
	}
	if strings.TrimSpace(cfg.RoutesPath) == "" {
		return fmt.Errorf("config: routes_path is required")
	}
	if cfg.PendingMax <= 0 {
		return fmt.Errorf("config: pending_max must be positive")
	}
	return nil
}
