package catid

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/catid/enrollsync"
	"github.com/hupe1980/catid/matcher"
)

// Environment variables overriding the config file.
const (
	EnvThreshold = "CATID_THRESHOLD"
	EnvDataDir   = "CATID_DATA_DIR"
	EnvLogLevel  = "CATID_LOG_LEVEL"
)

// Config is the file configuration of the catid command.
type Config struct {
	DataDir      string            `yaml:"data_dir"`
	Threshold    float64           `yaml:"threshold"`
	Dimension    int               `yaml:"dimension"`
	DeviceIDFile string            `yaml:"device_id_file"`
	Log          LogConfig         `yaml:"log"`
	Store        RemoteConfig      `yaml:"store"`  // enrollment backend; empty kind is data_dir
	Remote       RemoteConfig      `yaml:"remote"` // sync source
	Sync         enrollsync.Config `yaml:"sync"`
	Embedder     EmbedderConfig    `yaml:"embedder"`
}

// LogConfig selects log level and format.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// RemoteConfig describes a bucket or directory holding blobs.
type RemoteConfig struct {
	Kind      string `yaml:"kind"` // s3, minio, local
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Secure    bool   `yaml:"secure"`
	Path      string `yaml:"path"`      // local
	DDBTable  string `yaml:"ddb_table"` // s3: commit metadata through DynamoDB
}

// EmbedderConfig describes the embedding worker process.
type EmbedderConfig struct {
	Command []string      `yaml:"command"`
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		DataDir:      "cat_db",
		Threshold:    matcher.DefaultThreshold,
		Dimension:    512,
		DeviceIDFile: "device_id.txt",
		Log:          LogConfig{Level: "info", Format: "text"},
		Sync:         enrollsync.DefaultConfig(),
		Embedder:     EmbedderConfig{Timeout: 10 * time.Second},
	}
}

// LoadConfig reads path over the defaults, applies environment overrides
// and validates the result. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvThreshold); ok && v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidConfig, EnvThreshold, v)
		}
		c.Threshold = t
	}
	if v, ok := lookup(EnvDataDir); ok && v != "" {
		c.DataDir = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Log.Level = v
	}
	return nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var errs []error
	if err := matcher.ValidateThreshold(c.Threshold); err != nil {
		errs = append(errs, err)
	}
	if c.Dimension < 0 {
		errs = append(errs, fmt.Errorf("dimension must be >= 0, got %d", c.Dimension))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if c.Sync.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("sync.concurrency must be >= 1, got %d", c.Sync.Concurrency))
	}
	if c.Sync.BytesPerSecond < 0 {
		errs = append(errs, fmt.Errorf("sync.bytes_per_second must be >= 0, got %d", c.Sync.BytesPerSecond))
	}
	errs = append(errs, c.Store.validate("store")...)
	errs = append(errs, c.Remote.validate("remote")...)
	switch c.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func (r RemoteConfig) validate(key string) []error {
	var errs []error
	switch r.Kind {
	case "", "local", "s3", "minio":
	default:
		errs = append(errs, fmt.Errorf("unknown %s.kind %q", key, r.Kind))
	}
	if (r.Kind == "s3" || r.Kind == "minio") && r.Bucket == "" {
		errs = append(errs, fmt.Errorf("%s.bucket is required for %s", key, r.Kind))
	}
	if r.DDBTable != "" && r.Kind != "s3" {
		errs = append(errs, fmt.Errorf("%s.ddb_table requires kind s3", key))
	}
	return errs
}

// Logger builds the configured logger.
func (c Config) Logger() *Logger {
	level := ParseLevel(c.Log.Level)
	if c.Log.Format == "json" {
		return NewJSONLogger(level)
	}
	return NewTextLogger(level)
}

// Options converts the configuration to Open options.
func (c Config) Options() []Option {
	return []Option{
		WithThreshold(c.Threshold),
		WithDimension(c.Dimension),
		WithLogger(c.Logger()),
		WithSyncConfig(c.Sync),
	}
}
