// Package config loads run settings: defaults, then an optional YAML file,
// then environment variables. Command-line flags are applied last by cmd.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds everything a run needs.
type Config struct {
	Experiment string `yaml:"experiment"`
	// App selects the frame handler: lego, pingpong or pool.
	App string `yaml:"app"`
	// Engine optionally names an external analysis process.
	Engine []string `yaml:"engine"`

	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Storage  StorageConfig  `yaml:"storage"`

	Trace  string `yaml:"trace"`
	CPU    string `yaml:"cpu"`
	Memory string `yaml:"memory"`

	OutputDir   string `yaml:"output_dir"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// DatabaseConfig locates the metric store.
type DatabaseConfig struct {
	// URL wins over the individual fields when set.
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	MaxConns int32  `yaml:"max_conns"`
}

// RedisConfig locates the inbound frame stream.
type RedisConfig struct {
	URL    string        `yaml:"url"`
	Stream string        `yaml:"stream"`
	Group  string        `yaml:"group"`
	Block  time.Duration `yaml:"block"`
}

// StorageConfig toggles which batch outputs are recorded.
type StorageConfig struct {
	StoreResult    bool `yaml:"store_result"`
	StoreLatency   bool `yaml:"store_latency"`
	StoreProfile   bool `yaml:"store_profile"`
	IntegerLatency bool `yaml:"integer_latency"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		App: "lego",
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Name:     "rmexp",
			MaxConns: 4,
		},
		Redis: RedisConfig{
			URL:    "redis://localhost:6379/0",
			Stream: "rmexp:frames",
			Group:  "rmexp-workers",
			Block:  5 * time.Second,
		},
		OutputDir: "output",
	}
}

// Load reads path over the defaults. A missing or empty path yields defaults.
func Load(path string, log logrus.FieldLogger) (*Config, error) {
	log = log.WithField("component", "config")
	cfg := Default()

	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.WithField("path", path).Info("Config file not found, using defaults")
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	log.WithField("path", path).Debug("Loaded config file")
	return cfg, nil
}

// ApplyEnv overrides fields from the environment through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Experiment, "EXP")
	set(&c.Database.URL, "DATABASE_URL")
	set(&c.Database.Host, "POSTGRES_HOST")
	set(&c.Database.User, "POSTGRES_USER")
	set(&c.Database.Password, "POSTGRES_PASSWORD")
	set(&c.Database.Name, "POSTGRES_DB")
	set(&c.Redis.URL, "REDIS_URL")
	if v := getenv("POSTGRES_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			c.Database.Port = port
		}
	}
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	port := d.Port
	if port == 0 {
		port = 5432
	}
	if d.User == "" {
		return fmt.Sprintf("postgres://%s:%d/%s", d.Host, port, d.Name)
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", d.User, d.Password, d.Host, port, d.Name)
}

// Validate checks settings every command relies on.
func (c *Config) Validate() error {
	if c.Database.MaxConns < 0 {
		return fmt.Errorf("database.max_conns must be >= 0, got %d", c.Database.MaxConns)
	}
	if c.Redis.Block < 0 {
		return fmt.Errorf("redis.block must be >= 0, got %s", c.Redis.Block)
	}
	if len(c.Experiment) > 512 {
		return errors.New("experiment name is longer than 512 characters")
	}
	return nil
}

// FillResources tags resource-latency rows with the host's logical CPU count
// and total memory when profiling is on and no tag was given.
func (c *Config) FillResources(log logrus.FieldLogger) error {
	if !c.Storage.StoreProfile {
		return nil
	}
	if c.CPU == "" {
		n, err := cpu.Counts(true)
		if err != nil {
			return fmt.Errorf("failed to count CPUs: %w", err)
		}
		c.CPU = fmt.Sprintf("%d", n)
	}
	if c.Memory == "" {
		v, err := mem.VirtualMemory()
		if err != nil {
			return fmt.Errorf("failed to read memory size: %w", err)
		}
		c.Memory = FormatMemory(v.Total)
	}
	log.WithFields(logrus.Fields{"component": "config", "cpu": c.CPU, "memory": c.Memory}).Debug("Resource tags")
	return nil
}

// FormatMemory renders a byte count in whole mebibytes, e.g. "2048m".
func FormatMemory(bytes uint64) string {
	return fmt.Sprintf("%dm", bytes>>20)
}
