// Package config loads and watches the gateway's configuration: an
// optional config file (YAML, or JSON-with-comments), environment
// variables layered on top, and the persisted gateway.json holding the
// operator-editable system instruction.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"
)

// Config is the full gateway configuration. Zero values are filled with
// defaults by Load; every field can come from the file, and the
// environment variables documented per field override the file.
type Config struct {
	// Port the HTTP front door listens on. Env: PORT.
	Port int `yaml:"port" json:"port"`
	// Debug enables debug-level logging. Env: DEBUG.
	Debug bool `yaml:"debug" json:"debug"`
	// Fallback enables the alternate-model policy on pool exhaustion.
	// Env: FALLBACK.
	Fallback bool `yaml:"fallback" json:"fallback"`
	// WebUIPassword guards the management routes when set. Env:
	// WEBUI_PASSWORD.
	WebUIPassword string `yaml:"webui-password" json:"webui-password"`
	// RedisURL enables the optional cross-replica account-state mirror.
	// Env: REDIS_URL.
	RedisURL string `yaml:"redis-url" json:"redis-url"`

	// LogFile adds size-rotated file logging alongside stderr.
	LogFile string `yaml:"log-file" json:"log-file"`

	// UpstreamBaseURLs are tried in order on per-endpoint failures.
	UpstreamBaseURLs []string `yaml:"upstream-base-urls" json:"upstream-base-urls"`

	// CooldownBase and CooldownCap bound the per-model cooldown applied
	// after an upstream 429 (doubling per consecutive 429 up to the cap).
	CooldownBase time.Duration `yaml:"cooldown-base" json:"cooldown-base"`
	CooldownCap  time.Duration `yaml:"cooldown-cap" json:"cooldown-cap"`

	// PacerRPS/PacerBurst shape the per-account outbound token bucket.
	// Zero RPS disables pacing.
	PacerRPS   float64 `yaml:"pacer-rps" json:"pacer-rps"`
	PacerBurst int     `yaml:"pacer-burst" json:"pacer-burst"`

	// Dir is where accounts.json and gateway.json live.
	Dir string `yaml:"-" json:"-"`
}

// Defaults mirrors the documented environment contract: PORT defaults to
// 8080, state lives under ~/.config/antigravity-gateway.
func Defaults() *Config {
	return &Config{
		Port:         8080,
		CooldownBase: 60 * time.Second,
		CooldownCap:  30 * time.Minute,
		PacerRPS:     2,
		PacerBurst:   4,
		Dir:          DefaultDir(),
	}
}

// DefaultDir returns the per-user state directory.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".antigravity-gateway"
	}
	return filepath.Join(home, ".config", "antigravity-gateway")
}

// Load builds the effective configuration: defaults, then the config file
// at path (if any), then environment variables. A .env file in the working
// directory is folded into the environment first.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()
	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)

	if cfg.Dir == "" {
		cfg.Dir = DefaultDir()
	}
	return cfg, nil
}

// loadFile reads YAML or JSON-with-comments into cfg depending on the
// file extension. Operators hand-edit these files, so the JSON path goes
// through hujson to tolerate comments and trailing commas.
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc", ".hujson":
		std, err := hujson.Standardize(data)
		if err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
		if err := json.Unmarshal(std, cfg); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.Port = port
		}
	}
	if v := os.Getenv("DEBUG"); v != "" {
		cfg.Debug = boolEnv(v)
	}
	if v := os.Getenv("FALLBACK"); v != "" {
		cfg.Fallback = boolEnv(v)
	}
	if v := os.Getenv("WEBUI_PASSWORD"); v != "" {
		cfg.WebUIPassword = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
}

func boolEnv(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Watch invokes onChange whenever path is written or replaced. Editors and
// atomic-rename writers both trigger it. The watcher runs until the
// process exits; an unwatchable path only logs, since hot reload is a
// convenience rather than a correctness requirement.
func Watch(path string, onChange func()) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.WithError(err).Warn("config watch unavailable")
		return
	}
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		log.WithError(err).WithField("dir", dir).Warn("config watch unavailable")
		_ = watcher.Close()
		return
	}
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != path {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					log.WithField("path", path).Debug("config file changed")
					onChange()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Debug("config watch error")
			}
		}
	}()
}
