// Package config loads the ingester configuration from a YAML file with
// environment overrides.
//
// Every key can be overridden by an environment variable named after its
// path with the GDELT_ prefix, e.g. GDELT_HEC_URL, GDELT_GENERAL_CONCURRENCY
// or GDELT_DEDUP_BACKEND. A .env file in the working directory is loaded
// first when present.
package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/yourorg/gdelt-ingest/internal/iopkg"
)

var ErrMissingRequired = errors.New("missing required configuration")

// ErrInvalid reports a value outside its allowed set.
var ErrInvalid = errors.New("invalid configuration")

const EnvPrefix = "GDELT"

type General struct {
	// Debug reads the sample manifests instead of the live ones.
	Debug       bool          `yaml:"debug"`
	Concurrency int           `yaml:"concurrency"`
	Interval    time.Duration `yaml:"interval"`
	Source      string        `yaml:"source"`
	// SessionID is stamped on every row; a random one is generated when empty.
	SessionID string `yaml:"session_id" split_words:"true"`
}

type GDELT struct {
	Index           string   `yaml:"index"`
	LiveManifests   []string `yaml:"manifest_urls" split_words:"true"`
	SampleManifests []string `yaml:"sample_manifests" split_words:"true"`
}

type HEC struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	// Token, when set, becomes the "Authorization: Splunk <token>" header.
	Token     string `yaml:"token"`
	BatchSize int    `yaml:"batch_size" split_words:"true"`
}

type HTTP struct {
	Timeout      time.Duration `yaml:"timeout"`
	Retries      int           `yaml:"retries"`
	RetryWaitMin time.Duration `yaml:"retry_wait_min" split_words:"true"`
	RetryWaitMax time.Duration `yaml:"retry_wait_max" split_words:"true"`
	UserAgent    string        `yaml:"user_agent" split_words:"true"`
}

type Dedup struct {
	Backend string `yaml:"backend"` // file | badger | postgres
	Path    string `yaml:"path"`    // file:// or s3:// URI of the JSON id list
	Dir     string `yaml:"dir"`     // badger directory
	DSN     string `yaml:"dsn"`
}

type Metrics struct {
	Enable bool   `yaml:"enable"`
	Addr   string `yaml:"addr"`
}

type Log struct {
	Level string `yaml:"level"`
}

type Temporal struct {
	Address   string `yaml:"address"`
	Namespace string `yaml:"namespace"`
	TaskQueue string `yaml:"task_queue" split_words:"true"`
}

type API struct {
	Addr string `yaml:"addr"`
}

type Config struct {
	General  General  `yaml:"general"`
	GDELT    GDELT    `yaml:"gdelt"`
	HEC      HEC      `yaml:"hec"`
	HTTP     HTTP     `yaml:"http"`
	Dedup    Dedup    `yaml:"dedup"`
	Metrics  Metrics  `yaml:"metrics"`
	Log      Log      `yaml:"log"`
	Temporal Temporal `yaml:"temporal"`
	API      API      `yaml:"api"`
}

// Default returns the configuration used for keys absent from the file.
func Default() Config {
	return Config{
		General: General{
			Concurrency: 8,
			Interval:    15 * time.Minute,
			Source:      "gdelt-ingest",
		},
		GDELT: GDELT{
			Index: "gdelt",
			LiveManifests: []string{
				"http://data.gdeltproject.org/gdeltv2/lastupdate.txt",
				"http://data.gdeltproject.org/gdeltv2/lastupdate-translation.txt",
			},
			SampleManifests: []string{
				"file://sample_masterfilelist.txt",
				"file://sample_masterfilelist-translation.txt",
			},
		},
		HTTP: HTTP{
			Timeout:      30 * time.Second,
			Retries:      4,
			RetryWaitMin: time.Second,
			RetryWaitMax: 30 * time.Second,
			UserAgent:    "gdelt-ingest/1.0",
		},
		Dedup:    Dedup{Backend: "file", Path: "file://.gdelt_read_ids.json", Dir: ".gdelt_ledger"},
		Metrics:  Metrics{Enable: true, Addr: ":9090"},
		Log:      Log{Level: "info"},
		Temporal: Temporal{Address: "localhost:7233", Namespace: "default", TaskQueue: "gdelt-ingest"},
		API:      API{Addr: ":8080"},
	}
}

// Load reads the YAML file at path (a local path, file:// or s3:// URI) over
// the defaults, applies environment overrides and validates the result. An
// empty path skips the file.
func Load(ctx context.Context, path string) (Config, error) {
	_ = godotenv.Load(".env")

	cfg := Default()
	if path != "" {
		b, err := iopkg.ReadFile(ctx, path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("environment overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.HEC.URL == "" {
		return fmt.Errorf("%w: hec.url", ErrMissingRequired)
	}
	if c.GDELT.Index == "" {
		return fmt.Errorf("%w: gdelt.index", ErrMissingRequired)
	}
	if c.General.Debug && len(c.GDELT.SampleManifests) == 0 {
		return fmt.Errorf("%w: gdelt.sample_manifests", ErrMissingRequired)
	}
	if !c.General.Debug && len(c.GDELT.LiveManifests) == 0 {
		return fmt.Errorf("%w: gdelt.manifest_urls", ErrMissingRequired)
	}
	if c.General.Concurrency < 1 {
		return fmt.Errorf("%w: general.concurrency must be at least 1, got %d", ErrInvalid, c.General.Concurrency)
	}
	if c.HEC.BatchSize < 0 {
		return fmt.Errorf("%w: hec.batch_size must not be negative", ErrInvalid)
	}
	switch strings.ToLower(c.Dedup.Backend) {
	case "file", "":
		if c.Dedup.Path == "" {
			return fmt.Errorf("%w: dedup.path", ErrMissingRequired)
		}
	case "badger":
		if c.Dedup.Dir == "" {
			return fmt.Errorf("%w: dedup.dir", ErrMissingRequired)
		}
	case "postgres":
		if c.Dedup.DSN == "" {
			return fmt.Errorf("%w: dedup.dsn", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("%w: dedup.backend %q", ErrInvalid, c.Dedup.Backend)
	}
	return nil
}

// Manifests returns the manifest locations for the configured mode.
func (c *Config) Manifests() []string {
	if c.General.Debug {
		return c.GDELT.SampleManifests
	}
	return c.GDELT.LiveManifests
}

// HECHeaders returns the headers sent with every sink post.
func (c *Config) HECHeaders() map[string]string {
	h := make(map[string]string, len(c.HEC.Headers)+1)
	for k, v := range c.HEC.Headers {
		h[k] = v
	}
	if c.HEC.Token != "" {
		h["Authorization"] = "Splunk " + c.HEC.Token
	}
	return h
}

// DedupLocation is the store location for the configured backend.
func (c *Config) DedupLocation() string {
	switch strings.ToLower(c.Dedup.Backend) {
	case "postgres":
		return c.Dedup.DSN
	case "badger":
		return c.Dedup.Dir
	}
	return c.Dedup.Path
}
