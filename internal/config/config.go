package config

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dgallion1/filingest/internal/chunker"
	"github.com/dgallion1/filingest/internal/fetch"
)

// EnvPrefix is prepended to every environment override, e.g.
// FILINGEST_WORKER_COUNT.
const EnvPrefix = "FILINGEST"

type Config struct {
	Port     string `mapstructure:"port" yaml:"port"`
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`

	// Storage
	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`
	BlobDir      string `mapstructure:"blob_dir" yaml:"blob_dir"`

	// Auth
	APIKey string `mapstructure:"api_key" yaml:"api_key"`

	// Worker pool
	WorkerCount  int `mapstructure:"worker_count" yaml:"worker_count"`
	MaxQueueSize int `mapstructure:"max_queue_size" yaml:"max_queue_size"`

	// Upload limits
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes" yaml:"max_upload_bytes"`

	// Chunking
	ChunkSize    int `mapstructure:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap" yaml:"chunk_overlap"`

	// Fetching
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	FetchTimeout      time.Duration `mapstructure:"fetch_timeout" yaml:"fetch_timeout"`
	MaxFetchBytes     int64         `mapstructure:"max_fetch_bytes" yaml:"max_fetch_bytes"`
	RespectRobots     bool          `mapstructure:"respect_robots" yaml:"respect_robots"`
	FetchCacheTTL     time.Duration `mapstructure:"fetch_cache_ttl" yaml:"fetch_cache_ttl"`

	// Registry
	RetryFailedAfter time.Duration `mapstructure:"retry_failed_after" yaml:"retry_failed_after"`

	// Parsing
	PDFFallbackPdftotext bool  `mapstructure:"pdf_fallback_pdftotext" yaml:"pdf_fallback_pdftotext"`
	MaxHTMLBytes         int64 `mapstructure:"max_html_bytes" yaml:"max_html_bytes"`

	// Events
	NATSURL           string `mapstructure:"nats_url" yaml:"nats_url"`
	NATSSubjectPrefix string `mapstructure:"nats_subject_prefix" yaml:"nats_subject_prefix"`

	// Drop directory
	DropDir      string        `mapstructure:"drop_dir" yaml:"drop_dir"`
	DropDebounce time.Duration `mapstructure:"drop_debounce" yaml:"drop_debounce"`

	// FileRoot confines local-file sources accepted by the server. It
	// defaults to DropDir; with neither set the server reads no local files.
	FileRoot string `mapstructure:"file_root" yaml:"file_root"`

	// Companies maps an upper-case ticker to its company id. Drop-dir
	// files and CLI ingests use it to resolve the company.
	Companies map[string]string `mapstructure:"companies" yaml:"companies"`
}

// SetDefaults registers every key with its default so environment
// variables bind even when no config file sets them.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", "8090")
	v.SetDefault("log_level", "info")

	v.SetDefault("database_path", "filingest.db")
	v.SetDefault("blob_dir", "blobs")

	v.SetDefault("api_key", "")

	v.SetDefault("worker_count", 4)
	v.SetDefault("max_queue_size", 100)

	v.SetDefault("max_upload_bytes", 52428800) // 50MB

	v.SetDefault("chunk_size", chunker.DefaultConfig().MaxWords)
	v.SetDefault("chunk_overlap", chunker.DefaultConfig().OverlapWords)

	v.SetDefault("user_agent", "")
	v.SetDefault("requests_per_second", 5.0)
	v.SetDefault("fetch_timeout", 60*time.Second)
	v.SetDefault("max_fetch_bytes", 64<<20)
	v.SetDefault("respect_robots", true)
	v.SetDefault("fetch_cache_ttl", 10*time.Minute)

	v.SetDefault("retry_failed_after", time.Hour)

	v.SetDefault("pdf_fallback_pdftotext", true)
	v.SetDefault("max_html_bytes", 12<<20)

	v.SetDefault("nats_url", "")
	v.SetDefault("nats_subject_prefix", "filingest.indexed")
	v.SetDefault("drop_dir", "")
	v.SetDefault("drop_debounce", 500*time.Millisecond)
	v.SetDefault("file_root", "")

	v.SetDefault("companies", map[string]string{})
}

// Load reads the effective configuration from v: defaults, then the
// config file if one was read, then FILINGEST_* environment variables.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	return &cfg, nil
}

func (c *Config) normalize() {
	if c.WorkerCount <= 0 {
		c.WorkerCount = 4
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = 100
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = 52428800
	}
	if c.RetryFailedAfter <= 0 {
		c.RetryFailedAfter = time.Hour
	}
	companies := make(map[string]string, len(c.Companies))
	for ticker, id := range c.Companies {
		companies[strings.ToUpper(strings.TrimSpace(ticker))] = strings.TrimSpace(id)
	}
	c.Companies = companies
}

// Validate checks settings that would otherwise fail at first use.
// Fetching from the network requires a user agent with a contact email,
// so it is only checked when requireFetch is set.
func (c Config) Validate(requireFetch bool) error {
	var errs []error
	if err := c.Chunking().Validate(); err != nil {
		errs = append(errs, err)
	}
	if requireFetch && !fetch.ValidUserAgent(c.UserAgent) {
		errs = append(errs, fmt.Errorf("user_agent must name the operator and a contact email, got %q", c.UserAgent))
	}
	if c.RequestsPerSecond <= 0 {
		errs = append(errs, fmt.Errorf("requests_per_second must be positive, got %v", c.RequestsPerSecond))
	}
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("database_path is required"))
	}
	if c.BlobDir == "" {
		errs = append(errs, errors.New("blob_dir is required"))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Chunking returns the chunker settings.
func (c Config) Chunking() chunker.Config {
	return chunker.Config{MaxWords: c.ChunkSize, OverlapWords: c.ChunkOverlap}
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}

// CompanyFor resolves a ticker through the company roster. Unknown
// tickers map to their lower-case form.
func (c Config) CompanyFor(ticker string) string {
	t := strings.ToUpper(strings.TrimSpace(ticker))
	if id, ok := c.Companies[t]; ok && id != "" {
		return id
	}
	return strings.ToLower(t)
}

// Tickers returns the roster's tickers in order.
func (c Config) Tickers() []string {
	out := make([]string, 0, len(c.Companies))
	for t := range c.Companies {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// LocalRoot is the directory the server may read local sources from, or
// "" when local sources are refused.
func (c Config) LocalRoot() string {
	if c.FileRoot != "" {
		return c.FileRoot
	}
	return c.DropDir
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.APIKey != "" {
		c.APIKey = "********"
	}
	return c
}
