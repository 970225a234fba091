// Package config loads trackside configuration from defaults, an optional
// YAML file, TRACKSIDE_* environment variables, and runtime overrides (in
// increasing order of precedence).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/3leaps/trackside/internal/awsconfig"
	"github.com/3leaps/trackside/pkg/itemstore"
	"github.com/3leaps/trackside/pkg/ledger"
	"github.com/3leaps/trackside/pkg/logarchive"
)

// Config is the full service configuration.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Server  ServerConfig  `mapstructure:"server"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Health  HealthConfig  `mapstructure:"health"`
	AWS     AWSConfig     `mapstructure:"aws"`
	Store   StoreConfig   `mapstructure:"store"`
	Bucket  BucketConfig  `mapstructure:"bucket"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Ledger  LedgerConfig  `mapstructure:"ledger"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Journal JournalConfig `mapstructure:"journal"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// MetricsConfig controls the Prometheus endpoint. Port is used by the
// worker, which has no HTTP server of its own; serve exposes /metrics on the
// main listener.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type AWSConfig struct {
	Region          string `mapstructure:"region"`
	Profile         string `mapstructure:"profile"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`
	IMDSRegion      bool   `mapstructure:"imds_region"`
}

// Options converts the section into awsconfig options.
func (c AWSConfig) Options() awsconfig.Options {
	return awsconfig.Options{
		Region:          c.Region,
		Profile:         c.Profile,
		AccessKeyID:     c.AccessKeyID,
		SecretAccessKey: c.SecretAccessKey,
		SessionToken:    c.SessionToken,
		Endpoint:        c.Endpoint,
		IMDSRegion:      c.IMDSRegion,
	}
}

type StoreConfig struct {
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// ItemStore converts the section into item-store options.
func (c StoreConfig) ItemStore() itemstore.Config {
	return itemstore.Config{Path: c.Path, URL: c.URL, AuthToken: c.AuthToken}
}

// BucketConfig names the model data bucket. When LocalDir is set the bucket
// is served from the local filesystem instead of S3.
type BucketConfig struct {
	Name           string `mapstructure:"name"`
	Endpoint       string `mapstructure:"endpoint"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
	LocalDir       string `mapstructure:"local_dir"`
}

type ArchiveConfig struct {
	LogGroups         logarchive.LogGroups `mapstructure:"log_groups"`
	StreamGlob        string               `mapstructure:"stream_glob"`
	RequestsPerSecond float64              `mapstructure:"requests_per_second"`
	MaxPages          int                  `mapstructure:"max_pages"`
}

// Copier converts the section into copier options.
func (c ArchiveConfig) Copier() logarchive.CopierConfig {
	return logarchive.CopierConfig{
		StreamGlob:        c.StreamGlob,
		RequestsPerSecond: c.RequestsPerSecond,
		MaxPages:          c.MaxPages,
	}
}

type LedgerConfig struct {
	Rounding ledger.Rounding `mapstructure:"rounding"`
}

type QueueConfig struct {
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	Name          string `mapstructure:"name"`
	Concurrency   int    `mapstructure:"concurrency"`
	MaxRetry      int    `mapstructure:"max_retry"`
}

type JournalConfig struct {
	Dir string `mapstructure:"dir"`
}

// Validate checks cross-field constraints that decoding cannot express.
func (c *Config) Validate() error {
	var problems []string
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if strings.TrimSpace(c.Bucket.Name) == "" && strings.TrimSpace(c.Bucket.LocalDir) == "" {
		problems = append(problems, "bucket.name or bucket.local_dir is required")
	}
	if strings.TrimSpace(c.Store.Path) == "" && strings.TrimSpace(c.Store.URL) == "" {
		problems = append(problems, "store.path or store.url is required")
	}
	if c.Queue.Concurrency < 1 {
		problems = append(problems, "queue.concurrency must be at least 1")
	}
	if err := c.AWS.Options().Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
