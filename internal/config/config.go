package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/tinoosan/mdarchive/internal/downloadcfg"
	"github.com/tinoosan/mdarchive/internal/remote"
	"github.com/tinoosan/mdarchive/internal/store"
	"gopkg.in/yaml.v3"
)

// Config is the configuration of the mdarchive server.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	History  HistoryConfig  `yaml:"history"`
	Store    StoreConfig    `yaml:"store"`
	Remote   RemoteConfig   `yaml:"remote"`
	Tasks    TasksConfig    `yaml:"tasks"`
	Download DownloadConfig `yaml:"download"`
	Recovery RecoveryConfig `yaml:"recovery"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Addr     string `yaml:"addr"`
	APIToken string `yaml:"api_token"`
	// ShutdownTimeout bounds the graceful HTTP shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type HistoryConfig struct {
	// Dir holds one operation log file per category.
	Dir string `yaml:"dir"`
}

type StoreConfig struct {
	Driver    string `yaml:"driver"`
	BucketURL string `yaml:"bucket_url"`
	DSN       string `yaml:"dsn"`
}

type RemoteConfig struct {
	BaseURL           string        `yaml:"base_url"`
	UploadsURL        string        `yaml:"uploads_url"`
	UserAgent         string        `yaml:"user_agent"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	MaxRetries        uint64        `yaml:"max_retries"`
	MaxElapsed        time.Duration `yaml:"max_elapsed"`
}

type TasksConfig struct {
	// GCInterval is how often idle tasks are swept.
	GCInterval time.Duration `yaml:"gc_interval"`
	// MaxConcurrent bounds running workflows; 0 means unbounded.
	MaxConcurrent int `yaml:"max_concurrent"`
}

type DownloadConfig struct {
	Quality     string `yaml:"quality"`
	PageWorkers int    `yaml:"page_workers"`
}

type RecoveryConfig struct {
	// ResumeIncomplete restarts operations a previous run left unfinished.
	ResumeIncomplete bool `yaml:"resume_incomplete"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File switches output from stdout to a rotating file.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":9090",
			ShutdownTimeout: 30 * time.Second,
		},
		History: HistoryConfig{Dir: "data/history"},
		Store: StoreConfig{
			Driver:    "blob",
			BucketURL: "file:///var/lib/mdarchive",
		},
		Remote: RemoteConfig{
			BaseURL:           remote.DefaultBaseURL,
			UploadsURL:        remote.DefaultUploadsURL,
			UserAgent:         "mdarchive",
			Timeout:           30 * time.Second,
			RequestsPerSecond: 5,
			Burst:             1,
			MaxRetries:        5,
			MaxElapsed:        2 * time.Minute,
		},
		Tasks: TasksConfig{
			GCInterval:    500 * time.Millisecond,
			MaxConcurrent: 8,
		},
		Download: DownloadConfig{
			Quality:     string(downloadcfg.QualityData),
			PageWorkers: 4,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// LoadFromFile loads configuration from a YAML file on top of Default.
// Unknown keys are rejected.
func LoadFromFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides c from MDARCHIVE_* environment variables. A postgres
// store without a DSN gets one built from the POSTGRES_* variables.
func (c *Config) ApplyEnv() error {
	setString(&c.Server.Addr, "MDARCHIVE_ADDR")
	setString(&c.Server.APIToken, "MDARCHIVE_API_TOKEN")
	setString(&c.History.Dir, "MDARCHIVE_HISTORY_DIR")
	setString(&c.Store.Driver, "MDARCHIVE_STORE_DRIVER")
	setString(&c.Store.BucketURL, "MDARCHIVE_STORE_BUCKET_URL")
	setString(&c.Store.DSN, "MDARCHIVE_STORE_DSN")
	setString(&c.Remote.BaseURL, "MDARCHIVE_REMOTE_BASE_URL")
	setString(&c.Remote.UploadsURL, "MDARCHIVE_REMOTE_UPLOADS_URL")
	setString(&c.Download.Quality, "MDARCHIVE_QUALITY")
	setString(&c.Logging.Level, "MDARCHIVE_LOG_LEVEL")
	setString(&c.Logging.Format, "MDARCHIVE_LOG_FORMAT")
	setString(&c.Logging.File, "MDARCHIVE_LOG_FILE")

	if v := os.Getenv("MDARCHIVE_REMOTE_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parse MDARCHIVE_REMOTE_RPS: %w", err)
		}
		c.Remote.RequestsPerSecond = f
	}
	for _, iv := range []struct {
		key string
		dst *int
	}{
		{"MDARCHIVE_MAX_CONCURRENT", &c.Tasks.MaxConcurrent},
		{"MDARCHIVE_PAGE_WORKERS", &c.Download.PageWorkers},
	} {
		if v := os.Getenv(iv.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("parse %s: %w", iv.key, err)
			}
			*iv.dst = n
		}
	}
	if v := os.Getenv("MDARCHIVE_GC_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse MDARCHIVE_GC_INTERVAL: %w", err)
		}
		c.Tasks.GCInterval = d
	}
	if v := os.Getenv("MDARCHIVE_RESUME_INCOMPLETE"); v != "" {
		c.Recovery.ResumeIncomplete = v == "true" || v == "1"
	}

	if c.Store.Driver == "postgres" && c.Store.DSN == "" {
		c.Store.DSN = postgresDSNFromEnv()
	}
	return nil
}

// postgresDSNFromEnv builds a DSN from component env vars.
// Recognized envs (with defaults):
//
//	POSTGRES_HOST (postgres), POSTGRES_PORT (5432), POSTGRES_DB (mdarchive),
//	POSTGRES_USER (mdarchive), POSTGRES_PASSWORD (empty), POSTGRES_SSLMODE (disable)
//
// Credentials and db name are URL-encoded to handle special characters safely.
func postgresDSNFromEnv() string {
	host := getenv("POSTGRES_HOST", "postgres")
	port := getenv("POSTGRES_PORT", "5432")
	db := getenv("POSTGRES_DB", "mdarchive")
	user := getenv("POSTGRES_USER", "mdarchive")
	pass := getenv("POSTGRES_PASSWORD", "")
	ssl := getenv("POSTGRES_SSLMODE", "disable")

	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(user, pass),
		Host:   net.JoinHostPort(host, port),
		Path:   "/" + db,
	}
	q := url.Values{}
	q.Set("sslmode", ssl)
	u.RawQuery = q.Encode()
	return u.String()
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func setString(dst *string, key string) {
	*dst = getenv(key, *dst)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("config: server.addr is required")
	}
	if c.History.Dir == "" {
		return errors.New("config: history.dir is required")
	}
	switch c.Store.Driver {
	case "blob":
		if c.Store.BucketURL == "" {
			return errors.New("config: store.bucket_url is required")
		}
	case "sqlite", "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("config: store.dsn is required for %s", c.Store.Driver)
		}
		if c.Store.BucketURL == "" {
			return errors.New("config: store.bucket_url is required for images")
		}
	default:
		return fmt.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	if c.Remote.RequestsPerSecond <= 0 {
		return errors.New("config: remote.requests_per_second must be positive")
	}
	if c.Tasks.GCInterval <= 0 {
		return errors.New("config: tasks.gc_interval must be positive")
	}
	if c.Tasks.MaxConcurrent < 0 {
		return errors.New("config: tasks.max_concurrent must not be negative")
	}
	if _, err := downloadcfg.ParseQuality(c.Download.Quality); err != nil {
		return fmt.Errorf("config: download.quality: %w", err)
	}
	if c.Download.PageWorkers <= 0 {
		return errors.New("config: download.page_workers must be positive")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown logging.format %q", c.Logging.Format)
	}
	return nil
}

func (c Config) StoreConfig() store.Config {
	return store.Config{Driver: c.Store.Driver, BucketURL: c.Store.BucketURL, DSN: c.Store.DSN}
}

func (c Config) RemoteConfig() remote.Config {
	r := c.Remote
	return remote.Config{
		BaseURL:           r.BaseURL,
		UploadsURL:        r.UploadsURL,
		UserAgent:         r.UserAgent,
		Timeout:           r.Timeout,
		RequestsPerSecond: r.RequestsPerSecond,
		Burst:             r.Burst,
		MaxRetries:        r.MaxRetries,
		MaxElapsed:        r.MaxElapsed,
	}
}

// DownloadOptions assumes Validate passed.
func (c Config) DownloadOptions() downloadcfg.Options {
	q, _ := downloadcfg.ParseQuality(c.Download.Quality)
	return downloadcfg.Options{Quality: q, PageWorkers: c.Download.PageWorkers}.Normalize()
}
