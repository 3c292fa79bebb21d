package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted after the config file and before flags.
const (
	EnvMaxFilesPerBatch = "DOCUPLOADER_MAX_FILES_PER_BATCH"
	EnvLogLevel         = "DOCUPLOADER_LOG_LEVEL"
	EnvStorageBackend   = "DOCUPLOADER_STORAGE_BACKEND"
	EnvStorageEndpoint  = "DOCUPLOADER_STORAGE_ENDPOINT"
	EnvAccessKey        = "DOCUPLOADER_ACCESS_KEY"
	EnvSecretKey        = "DOCUPLOADER_SECRET_KEY"
	EnvBucket           = "DOCUPLOADER_BUCKET"
	EnvMetadataDSN      = "DOCUPLOADER_METADATA_DSN"
)

// Existing-object policies accepted in configuration
const (
	PolicyTreatExistingAsSuccess = "treat_existing_as_success"
	PolicyFailOnExisting         = "fail_on_existing"
)

// Config represents the application configuration
type Config struct {
	Storage     Storage  `yaml:"storage"`
	Upload      Upload   `yaml:"upload"`
	Metadata    Metadata `yaml:"metadata"`
	MetricsAddr string   `yaml:"metrics_addr"`
	LogLevel    string   `yaml:"log_level"`
}

// Storage represents the object store configuration
type Storage struct {
	Backend   string `yaml:"backend"` // minio, s3 or local
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	Secure    bool   `yaml:"secure"`
	LocalRoot string `yaml:"local_root"`
}

// Upload represents the pipeline tuning knobs
type Upload struct {
	MaxRetries        int           `yaml:"max_retries"`
	RetryBackoffMs    int           `yaml:"retry_backoff_ms"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	MaxFileSizeMB     int64         `yaml:"max_file_size_mb"`
	MaxFilesPerBatch  int           `yaml:"max_files_per_batch"` // 0 or negative = unlimited
	ExistingPolicy    string        `yaml:"existing_policy"`
	Strict            bool          `yaml:"strict"`
	AllowedExtensions []string      `yaml:"allowed_extensions"`
	ShowProgress      bool          `yaml:"show_progress"`
}

// Metadata represents the relational store holding document rows
type Metadata struct {
	Driver  string `yaml:"driver"` // sqlite or postgres
	DSN     string `yaml:"dsn"`
	ActorID string `yaml:"actor_id"`
}

// DefaultExtensions is the whitelist used when none is configured.
var DefaultExtensions = []string{
	".pdf", ".doc", ".docx", ".xls", ".xlsx", ".odt", ".ods",
	".txt", ".csv", ".png", ".jpg", ".jpeg", ".xml", ".zip",
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Storage: Storage{
			Backend: "minio",
			Region:  "us-east-1",
		},
		Upload: Upload{
			MaxRetries:        3,
			RetryBackoffMs:    1000,
			RequestTimeout:    30 * time.Second,
			MaxFileSizeMB:     50,
			ExistingPolicy:    PolicyTreatExistingAsSuccess,
			AllowedExtensions: append([]string(nil), DefaultExtensions...),
			ShowProgress:      true,
		},
		Metadata: Metadata{
			Driver: "sqlite",
			DSN:    "./documents.db",
		},
	}
}

// Load loads configuration from file, environment and command line flags
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	cfg := Default()

	// Load from YAML file if provided
	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	// Override with command line flags
	if flags != nil {
		if err := loadFromFlags(cfg, flags); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// RetryBackoff returns the base backoff as a duration
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.Upload.RetryBackoffMs) * time.Millisecond
}

// MaxFileSizeBytes returns the upload size ceiling in bytes
func (c *Config) MaxFileSizeBytes() int64 {
	return c.Upload.MaxFileSizeMB * 1024 * 1024
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func loadFromEnv(cfg *Config) error {
	if v := os.Getenv(EnvMaxFilesPerBatch); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxFilesPerBatch, err)
		}
		cfg.Upload.MaxFilesPerBatch = n
	}
	envString(EnvLogLevel, &cfg.LogLevel)
	envString(EnvStorageBackend, &cfg.Storage.Backend)
	envString(EnvStorageEndpoint, &cfg.Storage.Endpoint)
	envString(EnvAccessKey, &cfg.Storage.AccessKey)
	envString(EnvSecretKey, &cfg.Storage.SecretKey)
	envString(EnvBucket, &cfg.Storage.Bucket)
	envString(EnvMetadataDSN, &cfg.Metadata.DSN)
	return nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func loadFromFlags(cfg *Config, flags *pflag.FlagSet) error {
	if flags.Changed("backend") {
		cfg.Storage.Backend, _ = flags.GetString("backend")
	}
	if flags.Changed("endpoint") {
		cfg.Storage.Endpoint, _ = flags.GetString("endpoint")
	}
	if flags.Changed("access-key") {
		cfg.Storage.AccessKey, _ = flags.GetString("access-key")
	}
	if flags.Changed("secret-key") {
		cfg.Storage.SecretKey, _ = flags.GetString("secret-key")
	}
	if flags.Changed("region") {
		cfg.Storage.Region, _ = flags.GetString("region")
	}
	if flags.Changed("bucket") {
		cfg.Storage.Bucket, _ = flags.GetString("bucket")
	}
	if flags.Changed("secure") {
		cfg.Storage.Secure, _ = flags.GetBool("secure")
	}
	if flags.Changed("local-root") {
		cfg.Storage.LocalRoot, _ = flags.GetString("local-root")
	}

	if flags.Changed("retries") {
		cfg.Upload.MaxRetries, _ = flags.GetInt("retries")
	}
	if flags.Changed("retry-backoff-ms") {
		cfg.Upload.RetryBackoffMs, _ = flags.GetInt("retry-backoff-ms")
	}
	if flags.Changed("request-timeout") {
		cfg.Upload.RequestTimeout, _ = flags.GetDuration("request-timeout")
	}
	if flags.Changed("max-file-size-mb") {
		cfg.Upload.MaxFileSizeMB, _ = flags.GetInt64("max-file-size-mb")
	}
	if flags.Changed("max-files") {
		cfg.Upload.MaxFilesPerBatch, _ = flags.GetInt("max-files")
	}
	if flags.Changed("existing-policy") {
		cfg.Upload.ExistingPolicy, _ = flags.GetString("existing-policy")
	}
	if flags.Changed("strict") {
		cfg.Upload.Strict, _ = flags.GetBool("strict")
	}
	if flags.Changed("extensions") {
		cfg.Upload.AllowedExtensions, _ = flags.GetStringSlice("extensions")
	}
	if flags.Changed("show-progress") {
		cfg.Upload.ShowProgress, _ = flags.GetBool("show-progress")
	}

	if flags.Changed("metadata-driver") {
		cfg.Metadata.Driver, _ = flags.GetString("metadata-driver")
	}
	if flags.Changed("metadata-dsn") {
		cfg.Metadata.DSN, _ = flags.GetString("metadata-dsn")
	}
	if flags.Changed("actor") {
		cfg.Metadata.ActorID, _ = flags.GetString("actor")
	}

	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr, _ = flags.GetString("metrics-addr")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}

	return nil
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case "minio", "s3":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("bucket is required for %s backend", c.Storage.Backend)
		}
		if c.Storage.Backend == "minio" && c.Storage.Endpoint == "" {
			return fmt.Errorf("endpoint is required for minio backend")
		}
	case "local":
		if c.Storage.LocalRoot == "" {
			return fmt.Errorf("local_root is required for local backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if c.Upload.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if c.Upload.RetryBackoffMs < 0 {
		return fmt.Errorf("retry_backoff_ms must not be negative")
	}
	if c.Upload.MaxFileSizeMB <= 0 {
		return fmt.Errorf("max_file_size_mb must be positive")
	}
	if len(c.Upload.AllowedExtensions) == 0 {
		return fmt.Errorf("at least one allowed extension is required")
	}

	switch c.Upload.ExistingPolicy {
	case PolicyTreatExistingAsSuccess, PolicyFailOnExisting:
	default:
		return fmt.Errorf("unknown existing_policy %q", c.Upload.ExistingPolicy)
	}

	switch c.Metadata.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown metadata driver %q", c.Metadata.Driver)
	}
	if c.Metadata.DSN == "" {
		return fmt.Errorf("metadata dsn is required")
	}

	return nil
}
