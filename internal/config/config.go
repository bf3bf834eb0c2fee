package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Activation modes.
const (
	ActivationImmediate = "immediate"
	ActivationEventual  = "eventual"
)

type Config struct {
	ListenPort      string        // ex: ":8080"
	ShutdownTimeout time.Duration // ex: 5s

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	ActivationMode  string        // "immediate" | "eventual"
	ActivationDelay time.Duration // delay before a deferred activation fires

	RateLimit  int           // create attempts admitted per token per window
	RateWindow time.Duration // sliding window width
}

// Load reads the configuration from the environment (a .env file is
// honored when present) and, when APPREG_CONFIG_FILE is set, applies
// YAML overrides from that file on top.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		ListenPort:      getenv("APPREG_LISTEN_PORT", ":8080"),
		ShutdownTimeout: mustDuration("APPREG_SHUTDOWN_TIMEOUT", 5*time.Second),

		LogLevel:  getenv("APPREG_LOG_LEVEL", "info"),
		PrettyLog: mustBool("APPREG_PRETTY_LOG", false),

		ActivationMode:  getenv("APPREG_ACTIVATION_MODE", ActivationImmediate),
		ActivationDelay: mustDuration("APPREG_ACTIVATION_DELAY", 1500*time.Millisecond),

		RateLimit:  getenvInt("APPREG_RATE_LIMIT", 5),
		RateWindow: mustDuration("APPREG_RATE_WINDOW", 60*time.Second),
	}

	if path := os.Getenv("APPREG_CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			panic(fmt.Sprintf("❌ FATAL: failed to load config file %s: %v", path, err))
		}
	}

	if cfg.ActivationMode != ActivationImmediate && cfg.ActivationMode != ActivationEventual {
		panic(fmt.Sprintf("❌ FATAL: invalid APPREG_ACTIVATION_MODE %q (want %q or %q)",
			cfg.ActivationMode, ActivationImmediate, ActivationEventual))
	}
	if cfg.RateLimit < 1 {
		panic(fmt.Sprintf("❌ FATAL: APPREG_RATE_LIMIT must be >= 1, got %d", cfg.RateLimit))
	}

	return cfg
}

// fileConfig mirrors Config with optional fields; only keys present in
// the YAML file override the environment. Durations are Go duration
// strings ("1500ms", "60s").
type fileConfig struct {
	ListenPort      *string `yaml:"listen_port"`
	ShutdownTimeout *string `yaml:"shutdown_timeout"`
	LogLevel        *string `yaml:"log_level"`
	PrettyLog       *bool   `yaml:"pretty_log"`
	ActivationMode  *string `yaml:"activation_mode"`
	ActivationDelay *string `yaml:"activation_delay"`
	RateLimit       *int    `yaml:"rate_limit"`
	RateWindow      *string `yaml:"rate_window"`
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return err
	}

	if fc.ListenPort != nil {
		c.ListenPort = *fc.ListenPort
	}
	if fc.LogLevel != nil {
		c.LogLevel = *fc.LogLevel
	}
	if fc.PrettyLog != nil {
		c.PrettyLog = *fc.PrettyLog
	}
	if fc.ActivationMode != nil {
		c.ActivationMode = *fc.ActivationMode
	}
	if fc.RateLimit != nil {
		c.RateLimit = *fc.RateLimit
	}
	for _, d := range []struct {
		key string
		raw *string
		dst *time.Duration
	}{
		{key: "shutdown_timeout", raw: fc.ShutdownTimeout, dst: &c.ShutdownTimeout},
		{key: "activation_delay", raw: fc.ActivationDelay, dst: &c.ActivationDelay},
		{key: "rate_window", raw: fc.RateWindow, dst: &c.RateWindow},
	} {
		if d.raw == nil {
			continue
		}
		parsed, err := time.ParseDuration(*d.raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = parsed
	}
	return nil
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
