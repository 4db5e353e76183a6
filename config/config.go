// Package config loads the YAML configuration shared by the server and the
// example session.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Hostname string `yaml:"hostname"`
	Port     int    `yaml:"port"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// SyncConfig drives the autosave controller of a client session.
type SyncConfig struct {
	BaseURL      string        `yaml:"base_url"`
	Interval     time.Duration `yaml:"interval"`
	JustSavedFor time.Duration `yaml:"just_saved_for"`
	Timeout      time.Duration `yaml:"timeout"`
}

// ArchiveConfig enables canvas snapshots in S3. An empty bucket disables it.
type ArchiveConfig struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Sync     SyncConfig     `yaml:"sync"`
	Archive  ArchiveConfig  `yaml:"archive"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig loads the configuration from the YAML file at path. An empty
// path yields the defaults. DATABASE_URL, when set, overrides the file.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer file.Close()

		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, err
		}
	}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Sync.BaseURL == "" {
		c.Sync.BaseURL = "http://localhost:8080"
	}
	if c.Sync.Interval <= 0 {
		c.Sync.Interval = 10 * time.Second
	}
	if c.Sync.JustSavedFor <= 0 {
		c.Sync.JustSavedFor = 2 * time.Second
	}
	if c.Sync.Timeout <= 0 {
		c.Sync.Timeout = 15 * time.Second
	}
	if c.Archive.Prefix == "" {
		c.Archive.Prefix = "canvas/"
	}
}
