// SPDX-License-Identifier: MIT

// Package config loads the daemon configuration from an optional YAML file
// with QF_* environment overrides on top. Precedence: defaults, then file,
// then environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full daemon configuration.
type Config struct {
	// Listen is the ops API bind address.
	Listen string `yaml:"listen"`
	// DataDir holds the sqlite database and other daemon state.
	DataDir string `yaml:"data_dir"`

	Log        LogConfig        `yaml:"log"`
	Quote      QuoteConfig      `yaml:"quote"`
	Redis      RedisConfig      `yaml:"redis"`
	Workflow   WorkflowConfig   `yaml:"workflow"`
	SLA        SLAConfig        `yaml:"sla"`
	Compliance ComplianceConfig `yaml:"compliance"`
	API        APIConfig        `yaml:"api"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // trace|debug|info|warn|error
	Format string `yaml:"format"` // json|console
}

type QuoteConfig struct {
	TTL            time.Duration `yaml:"ttl"`
	MaxStale       time.Duration `yaml:"max_stale"`
	SafetyMargin   float64       `yaml:"safety_margin"`
	RemoteAttempts int           `yaml:"remote_attempts"`

	RemoteURL       string        `yaml:"remote_url"`
	RemoteAPIKeyEnv string        `yaml:"remote_api_key_env"`
	RemoteTimeout   time.Duration `yaml:"remote_timeout"`

	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerReset     time.Duration `yaml:"breaker_reset"`

	CostTableDir   string `yaml:"cost_table_dir"`
	PricingProfile string `yaml:"pricing_profile"` // normal|member
}

type RedisConfig struct {
	// Addr empty disables the shared cache tier.
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type WorkflowConfig struct {
	Workers       int           `yaml:"workers"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	BatchSize     int           `yaml:"batch_size"`
	Lease         time.Duration `yaml:"lease"`
	MaxAttempts   int           `yaml:"max_attempts"`
	BaseBackoff   time.Duration `yaml:"base_backoff"`
	MaxBackoff    time.Duration `yaml:"max_backoff"`
	FollowupAfter time.Duration `yaml:"followup_after"`
}

type SLAConfig struct {
	Window              time.Duration `yaml:"window"`
	Interval            time.Duration `yaml:"interval"`
	FirstResponseP95Max float64       `yaml:"first_response_p95_max"`
	QuoteSuccessMin     float64       `yaml:"quote_success_min"`
	Stability           time.Duration `yaml:"stability"`
	MinSamples          int           `yaml:"min_samples"`
}

type ComplianceConfig struct {
	BlockedKeywords     []string `yaml:"blocked_keywords"`
	WarnKeywords        []string `yaml:"warn_keywords"`
	PerSessionPerMinute int      `yaml:"per_session_per_minute"`
	Burst               int      `yaml:"burst"`
}

type APIConfig struct {
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Listen:  ":8088",
		DataDir: "./data",
		Log:     LogConfig{Level: "info", Format: "json"},
		Quote: QuoteConfig{
			TTL:              10 * time.Minute,
			MaxStale:         30 * time.Minute,
			SafetyMargin:     0.05,
			RemoteAttempts:   2,
			RemoteTimeout:    3 * time.Second,
			BreakerThreshold: 3,
			BreakerReset:     30 * time.Second,
			CostTableDir:     "./costtables",
			PricingProfile:   "normal",
		},
		Workflow: WorkflowConfig{
			Workers:       4,
			PollInterval:  500 * time.Millisecond,
			BatchSize:     16,
			Lease:         2 * time.Minute,
			MaxAttempts:   5,
			BaseBackoff:   2 * time.Second,
			MaxBackoff:    5 * time.Minute,
			FollowupAfter: 30 * time.Minute,
		},
		SLA: SLAConfig{
			Window:              30 * time.Minute,
			Interval:            30 * time.Second,
			FirstResponseP95Max: 120,
			QuoteSuccessMin:     0.90,
			Stability:           5 * time.Minute,
			MinSamples:          5,
		},
		Compliance: ComplianceConfig{
			PerSessionPerMinute: 20,
			Burst:               5,
		},
		API: APIConfig{RateLimitPerMinute: 120},
	}
}

// Load builds the effective configuration. A missing file is fine; a broken
// one is not.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// run on defaults
		case err != nil:
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		default:
			dec := yaml.NewDecoder(strings.NewReader(string(data)))
			dec.KnownFields(true)
			if err := dec.Decode(&cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays QF_* environment variables.
func applyEnv(cfg *Config) {
	envString("QF_LISTEN", &cfg.Listen)
	envString("QF_DATA_DIR", &cfg.DataDir)
	envString("QF_LOG_LEVEL", &cfg.Log.Level)
	envString("QF_LOG_FORMAT", &cfg.Log.Format)

	envDuration("QF_QUOTE_TTL", &cfg.Quote.TTL)
	envDuration("QF_QUOTE_MAX_STALE", &cfg.Quote.MaxStale)
	envFloat("QF_QUOTE_SAFETY_MARGIN", &cfg.Quote.SafetyMargin)
	envInt("QF_QUOTE_REMOTE_ATTEMPTS", &cfg.Quote.RemoteAttempts)
	envString("QF_REMOTE_URL", &cfg.Quote.RemoteURL)
	envString("QF_REMOTE_API_KEY_ENV", &cfg.Quote.RemoteAPIKeyEnv)
	envDuration("QF_REMOTE_TIMEOUT", &cfg.Quote.RemoteTimeout)
	envInt("QF_BREAKER_THRESHOLD", &cfg.Quote.BreakerThreshold)
	envDuration("QF_BREAKER_RESET", &cfg.Quote.BreakerReset)
	envString("QF_COST_TABLE_DIR", &cfg.Quote.CostTableDir)
	envString("QF_PRICING_PROFILE", &cfg.Quote.PricingProfile)

	envString("QF_REDIS_ADDR", &cfg.Redis.Addr)
	envString("QF_REDIS_PASSWORD", &cfg.Redis.Password)
	envInt("QF_REDIS_DB", &cfg.Redis.DB)

	envInt("QF_WORKERS", &cfg.Workflow.Workers)
	envDuration("QF_POLL_INTERVAL", &cfg.Workflow.PollInterval)
	envInt("QF_BATCH_SIZE", &cfg.Workflow.BatchSize)
	envDuration("QF_LEASE", &cfg.Workflow.Lease)
	envInt("QF_MAX_ATTEMPTS", &cfg.Workflow.MaxAttempts)
	envDuration("QF_FOLLOWUP_AFTER", &cfg.Workflow.FollowupAfter)

	envDuration("QF_SLA_WINDOW", &cfg.SLA.Window)
	envFloat("QF_SLA_FIRST_RESPONSE_P95_MAX", &cfg.SLA.FirstResponseP95Max)
	envFloat("QF_SLA_QUOTE_SUCCESS_MIN", &cfg.SLA.QuoteSuccessMin)
}

// Validate collects every problem instead of stopping at the first.
func (c Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Listen == "" {
		add("listen must not be empty")
	}
	if c.DataDir == "" {
		add("data_dir must not be empty")
	}
	switch c.Log.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		add("log.level %q is not a known level", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		add("log.format %q must be json or console", c.Log.Format)
	}
	if c.Quote.TTL <= 0 {
		add("quote.ttl must be positive")
	}
	if c.Quote.MaxStale < 0 {
		add("quote.max_stale must not be negative")
	}
	if c.Quote.SafetyMargin < 0 || c.Quote.SafetyMargin > 1 {
		add("quote.safety_margin %v out of range [0,1]", c.Quote.SafetyMargin)
	}
	if c.Quote.RemoteAttempts < 1 {
		add("quote.remote_attempts must be at least 1")
	}
	if c.Quote.BreakerThreshold < 1 {
		add("quote.breaker_threshold must be at least 1")
	}
	switch c.Quote.PricingProfile {
	case "normal", "member":
	default:
		add("quote.pricing_profile %q must be normal or member", c.Quote.PricingProfile)
	}
	if c.Workflow.Workers < 1 {
		add("workflow.workers must be at least 1")
	}
	if c.Workflow.BatchSize < 1 {
		add("workflow.batch_size must be at least 1")
	}
	if c.Workflow.Lease < 10*time.Second {
		add("workflow.lease %v too short to survive a slow quote", c.Workflow.Lease)
	}
	if c.Workflow.MaxAttempts < 1 {
		add("workflow.max_attempts must be at least 1")
	}
	if c.SLA.QuoteSuccessMin < 0 || c.SLA.QuoteSuccessMin > 1 {
		add("sla.quote_success_min %v out of range [0,1]", c.SLA.QuoteSuccessMin)
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		var f float64
		if _, err := fmt.Sscanf(v, "%g", &f); err == nil {
			*dst = f
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
