package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// SITECRAWL_ENGINE_BASE_URL.
const EnvPrefix = "SITECRAWL"

// Load reads configuration from file, environment, and CLI flags.
// Priority (highest to lowest): CLI flags > env vars > config file > defaults.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// A missing .env file is the normal case.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v, cfg)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("sitecrawl")
		for _, dir := range SearchPaths() {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// SearchPaths lists the directories searched for sitecrawl.yaml when no
// explicit path is given.
func SearchPaths() []string {
	return []string{".", "./configs", filepath.Join(xdg.ConfigHome, "sitecrawl")}
}

// setDefaults registers default values in viper so that every key can be
// overridden from the environment.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("engine.base_url", cfg.Engine.BaseURL)
	v.SetDefault("engine.max_pages", cfg.Engine.MaxPages)
	v.SetDefault("engine.base_delay", cfg.Engine.BaseDelay)
	v.SetDefault("engine.delay_jitter_min", cfg.Engine.DelayJitterMin)
	v.SetDefault("engine.delay_jitter_max", cfg.Engine.DelayJitterMax)
	v.SetDefault("engine.retry_delay", cfg.Engine.RetryDelay)
	v.SetDefault("engine.max_retries", cfg.Engine.MaxRetries)
	v.SetDefault("engine.backoff", cfg.Engine.Backoff)
	v.SetDefault("engine.jitter_min", cfg.Engine.JitterMin)
	v.SetDefault("engine.jitter_max", cfg.Engine.JitterMax)
	v.SetDefault("engine.request_timeout", cfg.Engine.RequestTimeout)
	v.SetDefault("engine.robots_timeout", cfg.Engine.RobotsTimeout)
	v.SetDefault("engine.max_requests_per_minute", cfg.Engine.MaxRequestsPerMinute)
	v.SetDefault("engine.skip_extensions", cfg.Engine.SkipExtensions)
	v.SetDefault("engine.respect_robots_txt", cfg.Engine.RespectRobotsTxt)

	v.SetDefault("fetcher.user_agent", cfg.Fetcher.UserAgent)
	v.SetDefault("fetcher.follow_redirects", cfg.Fetcher.FollowRedirects)
	v.SetDefault("fetcher.max_redirects", cfg.Fetcher.MaxRedirects)
	v.SetDefault("fetcher.max_body_size", cfg.Fetcher.MaxBodySize)
	v.SetDefault("fetcher.tls_insecure", cfg.Fetcher.TLSInsecure)
	v.SetDefault("fetcher.idle_conn_timeout", cfg.Fetcher.IdleConnTimeout)
	v.SetDefault("fetcher.max_idle_conns", cfg.Fetcher.MaxIdleConns)

	v.SetDefault("output.dir", cfg.Output.Dir)
	v.SetDefault("output.title", cfg.Output.Title)
	v.SetDefault("output.markdown_file", cfg.Output.MarkdownFile)
	v.SetDefault("output.json_file", cfg.Output.JSONFile)
	v.SetDefault("output.failed_file", cfg.Output.FailedFile)
	v.SetDefault("output.max_content_chars", cfg.Output.MaxContentChars)

	v.SetDefault("storage.mirror", cfg.Storage.Mirror)
	v.SetDefault("storage.dsn", cfg.Storage.DSN)
	v.SetDefault("storage.database", cfg.Storage.Database)
	v.SetDefault("storage.collection", cfg.Storage.Collection)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.port", cfg.Metrics.Port)
	v.SetDefault("metrics.path", cfg.Metrics.Path)
}
