package config

import (
	"time"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration for sitecrawl.
type Config struct {
	Engine  EngineConfig  `mapstructure:"engine"  yaml:"engine"`
	Fetcher FetcherConfig `mapstructure:"fetcher" yaml:"fetcher"`
	Output  OutputConfig  `mapstructure:"output"  yaml:"output"`
	Parser  ParserConfig  `mapstructure:"parser"  yaml:"parser"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// EngineConfig controls the crawl loop.
type EngineConfig struct {
	BaseURL              string        `mapstructure:"base_url"                yaml:"base_url"`
	MaxPages             int           `mapstructure:"max_pages"               yaml:"max_pages"`
	BaseDelay            time.Duration `mapstructure:"base_delay"              yaml:"base_delay"`
	DelayJitterMin       time.Duration `mapstructure:"delay_jitter_min"        yaml:"delay_jitter_min"`
	DelayJitterMax       time.Duration `mapstructure:"delay_jitter_max"        yaml:"delay_jitter_max"`
	RetryDelay           time.Duration `mapstructure:"retry_delay"             yaml:"retry_delay"`
	MaxRetries           int           `mapstructure:"max_retries"             yaml:"max_retries"`
	Backoff              string        `mapstructure:"backoff"                 yaml:"backoff"` // linear, exponential
	JitterMin            time.Duration `mapstructure:"jitter_min"              yaml:"jitter_min"`
	JitterMax            time.Duration `mapstructure:"jitter_max"              yaml:"jitter_max"`
	RequestTimeout       time.Duration `mapstructure:"request_timeout"         yaml:"request_timeout"`
	RobotsTimeout        time.Duration `mapstructure:"robots_timeout"          yaml:"robots_timeout"`
	MaxRequestsPerMinute int           `mapstructure:"max_requests_per_minute" yaml:"max_requests_per_minute"`
	SkipExtensions       []string      `mapstructure:"skip_extensions"         yaml:"skip_extensions"`
	RespectRobotsTxt     bool          `mapstructure:"respect_robots_txt"      yaml:"respect_robots_txt"`
}

// FetcherConfig controls the HTTP fetcher.
type FetcherConfig struct {
	UserAgent       string        `mapstructure:"user_agent"        yaml:"user_agent"`
	FollowRedirects bool          `mapstructure:"follow_redirects"  yaml:"follow_redirects"`
	MaxRedirects    int           `mapstructure:"max_redirects"     yaml:"max_redirects"`
	MaxBodySize     int64         `mapstructure:"max_body_size"     yaml:"max_body_size"`
	TLSInsecure     bool          `mapstructure:"tls_insecure"      yaml:"tls_insecure"`
	IdleConnTimeout time.Duration `mapstructure:"idle_conn_timeout" yaml:"idle_conn_timeout"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"    yaml:"max_idle_conns"`
}

// OutputConfig controls where crawl artifacts are written.
type OutputConfig struct {
	Dir             string `mapstructure:"dir"               yaml:"dir"`
	Title           string `mapstructure:"title"             yaml:"title"`
	MarkdownFile    string `mapstructure:"markdown_file"     yaml:"markdown_file"`
	JSONFile        string `mapstructure:"json_file"         yaml:"json_file"`
	FailedFile      string `mapstructure:"failed_file"       yaml:"failed_file"`
	MaxContentChars int    `mapstructure:"max_content_chars" yaml:"max_content_chars"`
}

// ParserConfig holds field rules used by the scrape command.
type ParserConfig struct {
	Rules []ParseRule `mapstructure:"rules" yaml:"rules"`
}

// ParseRule defines a single extraction rule.
type ParseRule struct {
	Name      string `mapstructure:"name"      yaml:"name"`
	Selector  string `mapstructure:"selector"  yaml:"selector"`
	Type      string `mapstructure:"type"      yaml:"type"` // css, xpath, regex
	Attribute string `mapstructure:"attribute" yaml:"attribute"`
	Pattern   string `mapstructure:"pattern"   yaml:"pattern"`
}

// StorageConfig controls the optional page mirror.
type StorageConfig struct {
	Mirror     string `mapstructure:"mirror"     yaml:"mirror"` // none, mongodb, sqlite, postgres
	DSN        string `mapstructure:"dsn"        yaml:"dsn"`
	Database   string `mapstructure:"database"   yaml:"database"`
	Collection string `mapstructure:"collection" yaml:"collection"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port"    yaml:"port"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// DefaultSkipExtensions are path suffixes never worth fetching as HTML.
var DefaultSkipExtensions = []string{
	".pdf", ".jpg", ".jpeg", ".png", ".gif", ".svg", ".css", ".js",
	".zip", ".doc", ".docx", ".xls", ".xlsx",
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			MaxPages:         500,
			BaseDelay:        1500 * time.Millisecond,
			DelayJitterMin:   500 * time.Millisecond,
			DelayJitterMax:   1500 * time.Millisecond,
			RetryDelay:       5 * time.Second,
			MaxRetries:       3,
			Backoff:          "linear",
			JitterMin:        100 * time.Millisecond,
			JitterMax:        500 * time.Millisecond,
			RequestTimeout:   30 * time.Second,
			RobotsTimeout:    10 * time.Second,
			SkipExtensions:   append([]string(nil), DefaultSkipExtensions...),
			RespectRobotsTxt: true,
		},
		Fetcher: FetcherConfig{
			UserAgent:       "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			FollowRedirects: true,
			MaxRedirects:    10,
			MaxBodySize:     10 * 1024 * 1024, // 10MB
			IdleConnTimeout: 90 * time.Second,
			MaxIdleConns:    10,
		},
		Output: OutputConfig{
			Dir:          ".",
			MarkdownFile: "site_consolidated.md",
			JSONFile:     "site_consolidated.json",
			FailedFile:   "failed_pages.json",
		},
		Storage: StorageConfig{
			Mirror:     "none",
			Database:   "sitecrawl",
			Collection: "pages",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}
