package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	configPath := writeConfig(t, `
global:
  log_level: info
  verbose: false
database:
  driver: sqlite
  sqlite:
    path: /var/lib/dbbot/original.db
ingest:
  concurrency: 2
  continue_on_error: false
  hash_algorithm: sha1
sources:
  s3:
    enabled: false
    region: eu-west-1
`)

	tests := []struct {
		name     string
		envVars  map[string]string
		validate func(t *testing.T, cfg *Config)
	}{
		{
			name:    "no env vars uses yaml values",
			envVars: map[string]string{},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "info", cfg.Global.LogLevel)
				assert.Equal(t, "/var/lib/dbbot/original.db", cfg.Database.SQLite.Path)
				assert.Equal(t, 2, cfg.Ingest.Concurrency)
				assert.False(t, cfg.Ingest.ContinueOnError)
				assert.Equal(t, "eu-west-1", cfg.Sources.S3.Region)
			},
		},
		{
			name: "string override - log_level",
			envVars: map[string]string{
				"DBBOT_GLOBAL_LOG_LEVEL": "debug",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "debug", cfg.Global.LogLevel)
			},
		},
		{
			name: "nested field override - database.sqlite.path",
			envVars: map[string]string{
				"DBBOT_DATABASE_SQLITE_PATH": "/tmp/env.db",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "/tmp/env.db", cfg.Database.SQLite.Path)
			},
		},
		{
			name: "boolean override - verbose",
			envVars: map[string]string{
				"DBBOT_GLOBAL_VERBOSE": "true",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.Global.Verbose)
			},
		},
		{
			name: "integer override - concurrency",
			envVars: map[string]string{
				"DBBOT_INGEST_CONCURRENCY": "8",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 8, cfg.Ingest.Concurrency)
			},
		},
		{
			name: "float override - requests_per_second",
			envVars: map[string]string{
				"DBBOT_SOURCES_S3_REQUESTS_PER_SECOND": "2.5",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.InDelta(t, 2.5, cfg.Sources.S3.RequestsPerSecond, 0.0001)
			},
		},
		{
			name: "multiple overrides",
			envVars: map[string]string{
				"DBBOT_DATABASE_DRIVER":          "postgres",
				"DBBOT_DATABASE_POSTGRES_HOST":   "db.internal",
				"DBBOT_DATABASE_POSTGRES_PORT":   "6543",
				"DBBOT_INGEST_HASH_ALGORITHM":    "blake2b",
				"DBBOT_INGEST_CONTINUE_ON_ERROR": "true",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "postgres", cfg.Database.Driver)
				assert.Equal(t, "db.internal", cfg.Database.Postgres.Host)
				assert.Equal(t, 6543, cfg.Database.Postgres.Port)
				assert.Equal(t, "blake2b", cfg.Ingest.HashAlgorithm)
				assert.True(t, cfg.Ingest.ContinueOnError)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			cfg, err := Load(configPath)
			require.NoError(t, err)

			tt.validate(t, cfg)
		})
	}
}

func TestLoad_DefaultsAppliedWhenEmpty(t *testing.T) {
	cfg, err := Load(writeConfig(t, "global:\n  verbose: true\n"))
	require.NoError(t, err)

	assert.True(t, cfg.Global.Verbose)
	assert.Equal(t, DefaultLogLevel, cfg.Global.LogLevel)
	assert.Equal(t, DefaultDriver, cfg.Database.Driver)
	assert.True(t, cfg.Database.AutoMigrate)
	assert.Equal(t, DefaultSQLitePath, cfg.Database.SQLite.Path)
	assert.Equal(t, 5*time.Second, cfg.Database.SQLite.BusyTimeout)
	assert.Equal(t, 5432, cfg.Database.Postgres.Port)
	assert.Equal(t, DefaultConcurrency, cfg.Ingest.Concurrency)
	assert.True(t, cfg.Ingest.ContinueOnError)
	assert.Equal(t, DefaultHashAlgorithm, cfg.Ingest.HashAlgorithm)
	assert.Equal(t, DefaultHashBlockSize, cfg.Ingest.HashBlockSize)
	assert.Equal(t, DefaultImportTimezone, cfg.Ingest.ImportTimezone)
	assert.Equal(t, DefaultS3Region, cfg.Sources.S3.Region)

	require.NoError(t, cfg.Validate())
}

func TestLoad_NoFile(t *testing.T) {
	t.Setenv("DBBOT_DATABASE_SQLITE_PATH", "/tmp/from-env.db")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/tmp/from-env.db", cfg.Database.SQLite.Path)
	assert.Equal(t, DefaultDriver, cfg.Database.Driver)
}

func TestLoad_EnvVarOverridesDefaults(t *testing.T) {
	configPath := writeConfig(t, "database:\n  driver: sqlite\n")

	t.Setenv("DBBOT_GLOBAL_LOG_LEVEL", "warn")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Global.LogLevel)
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: yaml: content:"))
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)

		return cfg
	}

	tests := []struct {
		name      string
		mutate    func(cfg *Config)
		wantErr   bool
		errSubstr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:      "unknown driver",
			mutate:    func(cfg *Config) { cfg.Database.Driver = "mysql" },
			wantErr:   true,
			errSubstr: "unsupported database driver",
		},
		{
			name:      "sqlite without path",
			mutate:    func(cfg *Config) { cfg.Database.SQLite.Path = "" },
			wantErr:   true,
			errSubstr: "database.sqlite.path is required",
		},
		{
			name: "postgres without host",
			mutate: func(cfg *Config) {
				cfg.Database.Driver = "postgres"
				cfg.Database.Postgres.Host = ""
			},
			wantErr:   true,
			errSubstr: "database.postgres.host is required",
		},
		{
			name:      "zero concurrency",
			mutate:    func(cfg *Config) { cfg.Ingest.Concurrency = 0 },
			wantErr:   true,
			errSubstr: "ingest.concurrency",
		},
		{
			name:      "unknown hash algorithm",
			mutate:    func(cfg *Config) { cfg.Ingest.HashAlgorithm = "md5" },
			wantErr:   true,
			errSubstr: "ingest.hash_algorithm",
		},
		{
			name:      "bad block size",
			mutate:    func(cfg *Config) { cfg.Ingest.HashBlockSize = "lots" },
			wantErr:   true,
			errSubstr: "ingest.hash_block_size",
		},
		{
			name:      "bad timezone",
			mutate:    func(cfg *Config) { cfg.Ingest.ImportTimezone = "Mars/Olympus_Mons" },
			wantErr:   true,
			errSubstr: "ingest.import_timezone",
		},
		{
			name: "negative s3 rate",
			mutate: func(cfg *Config) {
				cfg.Sources.S3.Enabled = true
				cfg.Sources.S3.RequestsPerSecond = -1
			},
			wantErr:   true,
			errSubstr: "requests_per_second",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errSubstr)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestIngestConfig_BlockSize(t *testing.T) {
	cfg := IngestConfig{HashBlockSize: "65MiB"}

	size, err := cfg.BlockSize()
	require.NoError(t, err)
	assert.Equal(t, 68157440, size)

	cfg.HashBlockSize = "4k"
	size, err = cfg.BlockSize()
	require.NoError(t, err)
	assert.Equal(t, 4096, size)
}

func TestIngestConfig_Location(t *testing.T) {
	cfg := IngestConfig{}

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, DefaultImportTimezone, loc.String())
}

func TestPostgresConfig_DSN(t *testing.T) {
	cfg := PostgresConfig{
		Host: "localhost", Port: 5432, User: "bot",
		Password: "secret", Database: "results", SSLMode: "disable",
	}

	assert.Equal(t,
		"host=localhost port=5432 user=bot password=secret dbname=results sslmode=disable",
		cfg.DSN(),
	)
}
