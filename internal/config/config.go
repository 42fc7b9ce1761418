// Package config loads and validates scraper configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures every knob consumed by the pipeline. Values come from the
// YAML file, SCRAPER_* environment variables, or the built-in defaults;
// unrecognized keys in the file are ignored.
type Config struct {
	UseProxy              bool    `mapstructure:"use_proxy"`
	ProxyFile             string  `mapstructure:"proxy_file"`
	UserAgent             string  `mapstructure:"user_agent"`
	CaptchaDetectionBytes int     `mapstructure:"captcha_detection_bytes"`
	HTTPConcurrency       int     `mapstructure:"http_concurrency"`
	HTTPTotalTimeoutS     float64 `mapstructure:"http_total_timeout_s"`
	HTTPMaxRetries        int     `mapstructure:"http_max_retries"`
	HTTPRetryBaseDelayS   float64 `mapstructure:"http_retry_base_delay_s"`
	HTTPRetryJitterS      float64 `mapstructure:"http_retry_jitter_s"`

	BrowserTimeoutMs      int     `mapstructure:"browser_timeout_ms"`
	BrowserHeadless       bool    `mapstructure:"browser_headless"`
	BrowserBlockHeavy     bool    `mapstructure:"browser_block_heavy"`
	MaxBrowserEscalations int     `mapstructure:"max_browser_escalations"`
	BrowserLocale         string  `mapstructure:"browser_locale"`
	BrowserConcurrency    int     `mapstructure:"browser_concurrency"`
	BrowserDomainQPS      float64 `mapstructure:"browser_domain_qps"`

	RobotsCachePath string `mapstructure:"robots_cache_path"`
	RobotsCacheTTLS int    `mapstructure:"robots_cache_ttl_s"`

	EscalationMinBytes        int     `mapstructure:"escalation_min_bytes"`
	EscalationConsiderLatency bool    `mapstructure:"escalation_consider_latency"`
	EscalationLatencyS        float64 `mapstructure:"escalation_latency_s"`

	OutputDir string        `mapstructure:"output_dir"`
	API       APIConfig     `mapstructure:"api"`
	Logging   LoggingConfig `mapstructure:"logging"`
}

// APIConfig controls the optional health/metrics listener.
type APIConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk and environment. An empty path skips the
// file entirely and uses defaults plus env overrides.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("use_proxy", false)
	v.SetDefault("proxy_file", "data/proxy_url.txt")
	v.SetDefault("user_agent", "Mozilla/5.0")
	v.SetDefault("captcha_detection_bytes", 4096)
	v.SetDefault("http_concurrency", 20)
	v.SetDefault("http_total_timeout_s", 20.0)
	v.SetDefault("http_max_retries", 1)
	v.SetDefault("http_retry_base_delay_s", 0.1)
	v.SetDefault("http_retry_jitter_s", 0.2)
	v.SetDefault("browser_timeout_ms", 20000)
	v.SetDefault("browser_headless", true)
	v.SetDefault("browser_block_heavy", true)
	v.SetDefault("max_browser_escalations", 100)
	v.SetDefault("browser_locale", "en-US")
	v.SetDefault("browser_concurrency", 2)
	v.SetDefault("browser_domain_qps", 0.0)
	v.SetDefault("robots_cache_path", "data/robots_cache.json")
	v.SetDefault("robots_cache_ttl_s", 24*3600)
	v.SetDefault("escalation_min_bytes", 2048)
	v.SetDefault("escalation_consider_latency", false)
	v.SetDefault("escalation_latency_s", 5.0)
	v.SetDefault("output_dir", "results")
	v.SetDefault("api.enabled", false)
	v.SetDefault("api.port", 8080)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.UserAgent == "" {
		return fmt.Errorf("user_agent must be set")
	}
	if c.HTTPConcurrency <= 0 {
		return fmt.Errorf("http_concurrency must be > 0")
	}
	if c.HTTPTotalTimeoutS <= 0 {
		return fmt.Errorf("http_total_timeout_s must be > 0")
	}
	if c.HTTPMaxRetries < 0 {
		return fmt.Errorf("http_max_retries must be >= 0")
	}
	if c.BrowserTimeoutMs <= 0 {
		return fmt.Errorf("browser_timeout_ms must be > 0")
	}
	if c.MaxBrowserEscalations < 0 {
		return fmt.Errorf("max_browser_escalations must be >= 0")
	}
	if c.RobotsCacheTTLS <= 0 {
		return fmt.Errorf("robots_cache_ttl_s must be > 0")
	}
	if c.EscalationMinBytes < 0 {
		return fmt.Errorf("escalation_min_bytes must be >= 0")
	}
	if c.API.Enabled && c.API.Port <= 0 {
		return fmt.Errorf("api.port must be > 0 when the API is enabled")
	}
	return nil
}

// HTTPTimeout converts the configured light-path timeout to a Duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTotalTimeoutS * float64(time.Second))
}

// RetryBaseDelay converts the configured backoff base to a Duration.
func (c Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.HTTPRetryBaseDelayS * float64(time.Second))
}

// RetryJitter converts the configured backoff jitter to a Duration.
func (c Config) RetryJitter() time.Duration {
	return time.Duration(c.HTTPRetryJitterS * float64(time.Second))
}

// BrowserTimeout converts the configured navigation timeout to a Duration.
func (c Config) BrowserTimeout() time.Duration {
	return time.Duration(c.BrowserTimeoutMs) * time.Millisecond
}

// RobotsCacheTTL converts the configured cache TTL to a Duration.
func (c Config) RobotsCacheTTL() time.Duration {
	return time.Duration(c.RobotsCacheTTLS) * time.Second
}
