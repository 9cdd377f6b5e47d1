package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	if err := ValidateURL(cfg.Engine.BaseURL); err != nil {
		return fmt.Errorf("engine.base_url: %w", err)
	}
	if cfg.Engine.MaxPages < 1 {
		return fmt.Errorf("engine.max_pages must be >= 1, got %d", cfg.Engine.MaxPages)
	}
	if cfg.Engine.BaseDelay < 0 {
		return fmt.Errorf("engine.base_delay must be >= 0")
	}
	if cfg.Engine.DelayJitterMin < 0 || cfg.Engine.DelayJitterMax < cfg.Engine.DelayJitterMin {
		return fmt.Errorf("engine.delay_jitter_min/max must satisfy 0 <= min <= max")
	}
	if cfg.Engine.JitterMin < 0 || cfg.Engine.JitterMax < cfg.Engine.JitterMin {
		return fmt.Errorf("engine.jitter_min/max must satisfy 0 <= min <= max")
	}
	if cfg.Engine.RetryDelay < 0 {
		return fmt.Errorf("engine.retry_delay must be >= 0")
	}
	if cfg.Engine.MaxRetries < 1 {
		return fmt.Errorf("engine.max_retries must be >= 1, got %d", cfg.Engine.MaxRetries)
	}
	if cfg.Engine.Backoff != "linear" && cfg.Engine.Backoff != "exponential" {
		return fmt.Errorf("engine.backoff must be 'linear' or 'exponential', got %q", cfg.Engine.Backoff)
	}
	if cfg.Engine.RequestTimeout <= 0 {
		return fmt.Errorf("engine.request_timeout must be > 0")
	}
	if cfg.Engine.RobotsTimeout <= 0 {
		return fmt.Errorf("engine.robots_timeout must be > 0")
	}
	if cfg.Engine.MaxRequestsPerMinute < 0 {
		return fmt.Errorf("engine.max_requests_per_minute must be >= 0")
	}
	for _, ext := range cfg.Engine.SkipExtensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("engine.skip_extensions entry %q must start with '.'", ext)
		}
	}

	if cfg.Fetcher.MaxBodySize <= 0 {
		return fmt.Errorf("fetcher.max_body_size must be > 0")
	}
	if cfg.Fetcher.MaxRedirects < 0 {
		return fmt.Errorf("fetcher.max_redirects must be >= 0")
	}
	if strings.TrimSpace(cfg.Fetcher.UserAgent) == "" {
		return fmt.Errorf("fetcher.user_agent must not be empty")
	}

	if cfg.Output.JSONFile == "" || cfg.Output.MarkdownFile == "" || cfg.Output.FailedFile == "" {
		return fmt.Errorf("output file names must not be empty")
	}
	if cfg.Output.MaxContentChars < 0 {
		return fmt.Errorf("output.max_content_chars must be >= 0")
	}

	switch cfg.Storage.Mirror {
	case "", "none":
	case "mongodb", "sqlite", "postgres":
		if cfg.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for mirror %q", cfg.Storage.Mirror)
		}
	default:
		return fmt.Errorf("storage.mirror %q is not supported (valid: none, mongodb, sqlite, postgres)", cfg.Storage.Mirror)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", cfg.Logging.Format)
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Port < 1 || cfg.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port must be 1-65535, got %d", cfg.Metrics.Port)
		}
	}

	return nil
}

// ValidateURL checks if a URL string is valid for crawling.
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
