// Package config loads the scraper configuration.
//
// A configuration file is YAML (.yaml, .yml) or JSON5 (.json, .json5). Next to
// it, an optional <name>.local.<ext> file overrides individual values, and an
// optional .env file provides credentials. ${VAR} references in either file
// are expanded from the environment before parsing.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"github.com/titanous/json5"
	"gopkg.in/yaml.v3"
)

const (
	DefaultCacheDir  = "cache"
	DefaultDriver    = "sqlite"
	DefaultSMTPPort  = 587
	DefaultRateBurst = 1
	DefaultLogLevel  = "info"
)

type APIConfig struct {
	FactURL      string `yaml:"fact_url" json:"fact_url"`
	DimensionURL string `yaml:"dimension_url" json:"dimension_url"`
	Token        string `yaml:"token" json:"token"`
	// RateLimit caps outgoing fetch requests per second. Zero disables it.
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit"`
	RateBurst int     `yaml:"rate_burst" json:"rate_burst"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn" json:"dsn"`
}

type SMTPConfig struct {
	Server   string   `yaml:"server" json:"server"`
	Port     int      `yaml:"port" json:"port"`
	From     string   `yaml:"from" json:"from"`
	Password string   `yaml:"password" json:"password"`
	To       []string `yaml:"to" json:"to"`
	// Always sends the summary after every batch, not only on failure.
	Always bool `yaml:"always" json:"always"`
}

// Enabled reports whether failure summaries should be mailed.
func (c SMTPConfig) Enabled() bool {
	return c.Server != "" && len(c.To) > 0
}

type LogConfig struct {
	Level string `yaml:"level" json:"level"`
}

// JobConfig is the per-job snapshot handed to a job constructor. It is a
// value: jobs never share or mutate each other's configuration.
type JobConfig struct {
	Schedule     string `yaml:"schedule" json:"schedule"`
	Disabled     bool   `yaml:"disabled" json:"disabled"`
	FullLoad     bool   `yaml:"full_load" json:"full_load"`
	BaseURL      string `yaml:"base_url" json:"base_url"`
	FetchWorkers int    `yaml:"fetch_workers" json:"fetch_workers"`
	ParseWorkers int    `yaml:"parse_workers" json:"parse_workers"`
	BatchSize    int    `yaml:"batch_size" json:"batch_size"`
	TimeoutStr   string `yaml:"timeout" json:"timeout"`

	Timeout time.Duration `yaml:"-" json:"-"` // Parsed from TimeoutStr
}

type Config struct {
	CacheDir string               `yaml:"cache_dir" json:"cache_dir"`
	Log      LogConfig            `yaml:"log" json:"log"`
	API      APIConfig            `yaml:"api" json:"api"`
	Database DatabaseConfig       `yaml:"database" json:"database"`
	SMTP     SMTPConfig           `yaml:"smtp" json:"smtp"`
	Jobs     map[string]JobConfig `yaml:"jobs" json:"jobs"`
}

// Job returns the configuration of the named job. Unknown jobs get the zero
// value, which means "use the job's own defaults".
func (c *Config) Job(name string) JobConfig {
	return c.Jobs[name]
}

func splitExt(f string) (string, string) {
	ext := filepath.Ext(f)
	return strings.TrimSuffix(f, ext), strings.TrimPrefix(ext, ".")
}

// Load reads path, merges <name>.local.<ext> over it and applies defaults.
// It returns an error wrapping fs.ErrNotExist when neither file exists.
func Load(path string) (*Config, error) {
	dir := filepath.Dir(path)
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	prefix, ext := splitExt(filepath.Base(path))
	local := filepath.Join(dir, fmt.Sprintf("%s.local.%s", prefix, ext))

	var out Config
	found := false

	if err := readFile(path, ext, &out); err == nil {
		found = true
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	var override Config
	if err := readFile(local, ext, &override); err == nil {
		if err := out.merge(override); err != nil {
			return nil, fmt.Errorf("merge %s: %w", local, err)
		}
		slog.Info("merging config with local overrides", "local", local)
		found = true
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	if !found {
		return nil, fmt.Errorf("config %s: %w", path, fs.ErrNotExist)
	}
	if err := out.finalize(); err != nil {
		return nil, err
	}
	return &out, nil
}

// merge applies override on top of c. Job entries are merged field by field,
// so a local file can change one setting of a job and keep the rest.
func (c *Config) merge(override Config) error {
	jobs := override.Jobs
	override.Jobs = nil
	if err := mergo.Merge(c, override, mergo.WithOverride); err != nil {
		return err
	}

	if len(jobs) > 0 && c.Jobs == nil {
		c.Jobs = make(map[string]JobConfig, len(jobs))
	}
	for name, job := range jobs {
		base := c.Jobs[name]
		if err := mergo.Merge(&base, job, mergo.WithOverride); err != nil {
			return fmt.Errorf("job %s: %w", name, err)
		}
		c.Jobs[name] = base
	}
	return nil
}

func readFile(path, ext string, out *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	text := []byte(os.ExpandEnv(string(data)))

	switch ext {
	case "yaml", "yml":
		err = yaml.Unmarshal(text, out)
	case "json", "json5":
		err = json5.Unmarshal(text, out)
	default:
		return fmt.Errorf("config %s: unsupported format %q", path, ext)
	}
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// finalize fills defaults and parses durations.
func (c *Config) finalize() error {
	if c.CacheDir == "" {
		c.CacheDir = DefaultCacheDir
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDriver
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = DefaultSMTPPort
	}
	if c.API.RateLimit > 0 && c.API.RateBurst < 1 {
		c.API.RateBurst = DefaultRateBurst
	}

	for name, job := range c.Jobs {
		if job.TimeoutStr != "" {
			d, err := time.ParseDuration(job.TimeoutStr)
			if err != nil {
				return fmt.Errorf("job %s: parse timeout: %w", name, err)
			}
			job.Timeout = d
		}
		c.Jobs[name] = job
	}
	return nil
}

// LogLevel converts the configured level name.
func (c *Config) LogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}
