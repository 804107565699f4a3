package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"
	_ "time/tzdata" // import_timezone must resolve on hosts without zoneinfo

	"github.com/docker/go-units"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ethpandaops/dbbot/pkg/digest"
)

const (
	// EnvPrefix prefixes environment variable overrides, e.g.
	// DBBOT_DATABASE_SQLITE_PATH.
	EnvPrefix = "DBBOT"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultDriver is the default database driver.
	DefaultDriver = "sqlite"

	// DefaultSQLitePath is the default SQLite database file.
	DefaultSQLitePath = "robot_results.db"

	// DefaultHashAlgorithm is the default document digest.
	DefaultHashAlgorithm = "sha1"

	// DefaultHashBlockSize is the default read size when hashing documents.
	DefaultHashBlockSize = "65MiB"

	// DefaultImportTimezone is the zone import instants are recorded in.
	DefaultImportTimezone = "America/Los_Angeles"

	// DefaultConcurrency is the default number of documents ingested at once.
	DefaultConcurrency = 1

	// DefaultS3Region is used when no S3 region is configured.
	DefaultS3Region = "us-east-1"
)

// Config is the root configuration for dbbot.
type Config struct {
	Global   GlobalConfig   `yaml:"global" mapstructure:"global"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	Ingest   IngestConfig   `yaml:"ingest" mapstructure:"ingest"`
	Sources  SourcesConfig  `yaml:"sources,omitempty" mapstructure:"sources"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
	Verbose  bool   `yaml:"verbose" mapstructure:"verbose"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver      string               `yaml:"driver" mapstructure:"driver"`
	AutoMigrate bool                 `yaml:"auto_migrate" mapstructure:"auto_migrate"`
	SQLite      SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres    PostgresConfig       `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path        string        `yaml:"path" mapstructure:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout,omitempty" mapstructure:"busy_timeout"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// IngestConfig controls how result documents are ingested.
type IngestConfig struct {
	IncludeKeywords bool   `yaml:"include_keywords" mapstructure:"include_keywords"`
	Concurrency     int    `yaml:"concurrency" mapstructure:"concurrency"`
	ContinueOnError bool   `yaml:"continue_on_error" mapstructure:"continue_on_error"`
	HashAlgorithm   string `yaml:"hash_algorithm" mapstructure:"hash_algorithm"`
	HashBlockSize   string `yaml:"hash_block_size" mapstructure:"hash_block_size"`
	ImportTimezone  string `yaml:"import_timezone" mapstructure:"import_timezone"`
}

// SourcesConfig configures remote document sources.
type SourcesConfig struct {
	S3 S3SourceConfig `yaml:"s3,omitempty" mapstructure:"s3"`
}

// S3SourceConfig contains settings for reading documents from S3-compatible
// storage via s3://bucket/key arguments.
type S3SourceConfig struct {
	Enabled           bool    `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL       string  `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region            string  `yaml:"region,omitempty" mapstructure:"region"`
	AccessKeyID       string  `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey   string  `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle    bool    `yaml:"force_path_style" mapstructure:"force_path_style"`
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty" mapstructure:"requests_per_second"`
	DownloadDir       string  `yaml:"download_dir,omitempty" mapstructure:"download_dir"`
}

// setDefaults registers every default with v. Registering a key is also what
// makes its environment override visible when the file omits it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("global.log_level", DefaultLogLevel)
	v.SetDefault("global.verbose", false)

	v.SetDefault("database.driver", DefaultDriver)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.sqlite.path", DefaultSQLitePath)
	v.SetDefault("database.sqlite.busy_timeout", "5s")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.database", "dbbot")
	v.SetDefault("database.postgres.ssl_mode", "disable")

	v.SetDefault("ingest.include_keywords", false)
	v.SetDefault("ingest.concurrency", DefaultConcurrency)
	v.SetDefault("ingest.continue_on_error", true)
	v.SetDefault("ingest.hash_algorithm", DefaultHashAlgorithm)
	v.SetDefault("ingest.hash_block_size", DefaultHashBlockSize)
	v.SetDefault("ingest.import_timezone", DefaultImportTimezone)

	v.SetDefault("sources.s3.enabled", false)
	v.SetDefault("sources.s3.endpoint_url", "")
	v.SetDefault("sources.s3.region", DefaultS3Region)
	v.SetDefault("sources.s3.access_key_id", "")
	v.SetDefault("sources.s3.secret_access_key", "")
	v.SetDefault("sources.s3.force_path_style", false)
	v.SetDefault("sources.s3.requests_per_second", 0)
	v.SetDefault("sources.s3.download_dir", "")
}

// Load reads the configuration file at path (optional; an empty path uses
// defaults only), applies DBBOT_* environment overrides and returns the
// decoded configuration.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}

		if err := v.MergeConfigMap(raw); err != nil {
			return nil, fmt.Errorf("merging config file: %w", err)
		}
	}

	var cfg Config
	if err := decode(v.AllSettings(), &cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	return &cfg, nil
}

// decode maps viper settings onto cfg. Weak typing lets string environment
// values populate bool and numeric fields.
func decode(settings map[string]any, cfg *Config) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			emptyToZeroDurationHook(),
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return err
	}

	return decoder.Decode(settings)
}

// emptyToZeroDurationHook treats an empty duration string as zero.
func emptyToZeroDurationHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(time.Duration(0)) || from.Kind() != reflect.String {
			return data, nil
		}

		if s, _ := data.(string); s == "" {
			return time.Duration(0), nil
		}

		return data, nil
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required")
		}
	case "postgres":
		if c.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required")
		}

		if c.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.database is required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}

	if c.Ingest.Concurrency < 1 {
		return fmt.Errorf("ingest.concurrency must be at least 1, got %d", c.Ingest.Concurrency)
	}

	if _, err := digest.ParseAlgorithm(c.Ingest.HashAlgorithm); err != nil {
		return fmt.Errorf("ingest.hash_algorithm: %w", err)
	}

	if _, err := c.Ingest.BlockSize(); err != nil {
		return err
	}

	if _, err := c.Ingest.Location(); err != nil {
		return err
	}

	if c.Sources.S3.Enabled && c.Sources.S3.RequestsPerSecond < 0 {
		return fmt.Errorf("sources.s3.requests_per_second must not be negative")
	}

	return nil
}

// BlockSize returns the configured hash block size in bytes.
func (c *IngestConfig) BlockSize() (int, error) {
	if c.HashBlockSize == "" {
		return digest.DefaultBlockSize, nil
	}

	size, err := units.RAMInBytes(c.HashBlockSize)
	if err != nil {
		return 0, fmt.Errorf("ingest.hash_block_size: %w", err)
	}

	if size <= 0 {
		return 0, fmt.Errorf("ingest.hash_block_size must be positive, got %q", c.HashBlockSize)
	}

	return int(size), nil
}

// Location returns the time zone import instants are recorded in.
func (c *IngestConfig) Location() (*time.Location, error) {
	name := c.ImportTimezone
	if name == "" {
		name = DefaultImportTimezone
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("ingest.import_timezone: %w", err)
	}

	return loc, nil
}

// DSN returns the PostgreSQL connection string.
func (c *PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Database,
		c.SSLMode,
	)
}
