package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/maneesh/scatterstore/internal/checksum"
	"github.com/maneesh/scatterstore/internal/models"
	"github.com/maneesh/scatterstore/internal/storage"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Logging   LoggingConfig   `yaml:"logging"`
	Engine    EngineConfig    `yaml:"engine"`
	Metadata  MetadataConfig  `yaml:"metadata"`
	Cache     CacheConfig     `yaml:"cache"`
	Providers ProvidersConfig `yaml:"providers"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

type ServiceConfig struct {
	Port string `yaml:"port"`
	Name string `yaml:"name"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type EngineConfig struct {
	ChecksumAlgorithm string `yaml:"checksum_algorithm"`
	VerifyChunks      bool   `yaml:"verify_chunks"`
	// RandomSeed fixes chunk placement when non-zero.
	RandomSeed uint64 `yaml:"random_seed"`
}

type MetadataConfig struct {
	Backend    string `yaml:"backend"`
	SQLitePath string `yaml:"sqlite_path"`

	TiDBHost     string `yaml:"tidb_host"`
	TiDBPort     string `yaml:"tidb_port"`
	TiDBUser     string `yaml:"tidb_user"`
	TiDBPassword string `yaml:"tidb_password"`
	TiDBDatabase string `yaml:"tidb_database"`
}

type CacheConfig struct {
	Enabled       bool   `yaml:"enabled"`
	RedisHost     string `yaml:"redis_host"`
	RedisPort     string `yaml:"redis_port"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

type ProvidersConfig struct {
	Filesystem DiskProviderConfig     `yaml:"filesystem"`
	Archive    DiskProviderConfig     `yaml:"archive"`
	Database   DatabaseProviderConfig `yaml:"database"`
	MinIO      MinIOProviderConfig    `yaml:"minio"`
}

type DiskProviderConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Name        string `yaml:"name"`
	Dir         string `yaml:"dir"`
	Compression string `yaml:"compression"`
}

type DatabaseProviderConfig struct {
	Enabled bool   `yaml:"enabled"`
	Name    string `yaml:"name"`
	Path    string `yaml:"path"`
}

type MinIOProviderConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Name       string `yaml:"name"`
	Endpoint   string `yaml:"endpoint"`
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	BucketName string `yaml:"bucket_name"`
	UseSSL     bool   `yaml:"use_ssl"`
}

type TracingConfig struct {
	Enabled        bool   `yaml:"enabled"`
	JaegerEndpoint string `yaml:"jaeger_endpoint"`
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		Service: ServiceConfig{Port: "8080", Name: "scatterstore"},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Engine: EngineConfig{
			ChecksumAlgorithm: string(checksum.Default),
			VerifyChunks:      true,
		},
		Metadata: MetadataConfig{
			Backend:      "sqlite",
			SQLitePath:   "data/metadata.db",
			TiDBHost:     "localhost",
			TiDBPort:     "4000",
			TiDBUser:     "root",
			TiDBDatabase: "scatterstore",
		},
		Cache: CacheConfig{
			RedisHost: "localhost",
			RedisPort: "6379",
		},
		Providers: ProvidersConfig{
			Filesystem: DiskProviderConfig{Enabled: true, Name: "filesystem", Dir: "data/chunks", Compression: "none"},
			Archive:    DiskProviderConfig{Enabled: true, Name: "archive", Dir: "data/archive", Compression: "zstd"},
			Database:   DatabaseProviderConfig{Enabled: true, Name: "database", Path: "data/chunks.db"},
			MinIO: MinIOProviderConfig{
				Name:       "minio",
				Endpoint:   "localhost:9000",
				AccessKey:  "minioadmin",
				SecretKey:  "minioadmin",
				BucketName: "scatterstore",
			},
		},
		Tracing: TracingConfig{JaegerEndpoint: "localhost:4318"},
	}
}

// LoadConfig layers defaults, the YAML file at path (skipped when path is
// empty or the file does not exist) and environment variables, in that order.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Service.Port = getEnv("SERVICE_PORT", c.Service.Port)
	c.Service.Name = getEnv("SERVICE_NAME", c.Service.Name)

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)

	c.Engine.ChecksumAlgorithm = getEnv("CHECKSUM_ALGORITHM", c.Engine.ChecksumAlgorithm)
	c.Engine.VerifyChunks = getEnvAsBool("VERIFY_CHUNKS", c.Engine.VerifyChunks)
	c.Engine.RandomSeed = getEnvAsUint64("RANDOM_SEED", c.Engine.RandomSeed)

	c.Metadata.Backend = getEnv("METADATA_BACKEND", c.Metadata.Backend)
	c.Metadata.SQLitePath = getEnv("SQLITE_PATH", c.Metadata.SQLitePath)
	c.Metadata.TiDBHost = getEnv("TIDB_HOST", c.Metadata.TiDBHost)
	c.Metadata.TiDBPort = getEnv("TIDB_PORT", c.Metadata.TiDBPort)
	c.Metadata.TiDBUser = getEnv("TIDB_USER", c.Metadata.TiDBUser)
	c.Metadata.TiDBPassword = getEnv("TIDB_PASSWORD", c.Metadata.TiDBPassword)
	c.Metadata.TiDBDatabase = getEnv("TIDB_DATABASE", c.Metadata.TiDBDatabase)

	c.Cache.Enabled = getEnvAsBool("CACHE_ENABLED", c.Cache.Enabled)
	c.Cache.RedisHost = getEnv("REDIS_HOST", c.Cache.RedisHost)
	c.Cache.RedisPort = getEnv("REDIS_PORT", c.Cache.RedisPort)
	c.Cache.RedisPassword = getEnv("REDIS_PASSWORD", c.Cache.RedisPassword)
	c.Cache.RedisDB = getEnvAsInt("REDIS_DB", c.Cache.RedisDB)

	c.Providers.Filesystem.Enabled = getEnvAsBool("FILESYSTEM_ENABLED", c.Providers.Filesystem.Enabled)
	c.Providers.Filesystem.Dir = getEnv("FILESYSTEM_DIR", c.Providers.Filesystem.Dir)
	c.Providers.Archive.Enabled = getEnvAsBool("ARCHIVE_ENABLED", c.Providers.Archive.Enabled)
	c.Providers.Archive.Dir = getEnv("ARCHIVE_DIR", c.Providers.Archive.Dir)
	c.Providers.Archive.Compression = getEnv("ARCHIVE_COMPRESSION", c.Providers.Archive.Compression)
	c.Providers.Database.Enabled = getEnvAsBool("DATABASE_PROVIDER_ENABLED", c.Providers.Database.Enabled)
	c.Providers.Database.Path = getEnv("DATABASE_PROVIDER_PATH", c.Providers.Database.Path)

	c.Providers.MinIO.Enabled = getEnvAsBool("MINIO_ENABLED", c.Providers.MinIO.Enabled)
	c.Providers.MinIO.Endpoint = getEnv("MINIO_ENDPOINT", c.Providers.MinIO.Endpoint)
	c.Providers.MinIO.AccessKey = getEnv("MINIO_ACCESS_KEY", c.Providers.MinIO.AccessKey)
	c.Providers.MinIO.SecretKey = getEnv("MINIO_SECRET_KEY", c.Providers.MinIO.SecretKey)
	c.Providers.MinIO.BucketName = getEnv("MINIO_BUCKET_NAME", c.Providers.MinIO.BucketName)
	c.Providers.MinIO.UseSSL = getEnvAsBool("MINIO_USE_SSL", c.Providers.MinIO.UseSSL)

	c.Tracing.Enabled = getEnvAsBool("TRACING_ENABLED", c.Tracing.Enabled)
	c.Tracing.JaegerEndpoint = getEnv("JAEGER_ENDPOINT", c.Tracing.JaegerEndpoint)
}

// Validate rejects unknown enum values and an empty provider set
func (c *Config) Validate() error {
	if _, err := checksum.Parse(c.Engine.ChecksumAlgorithm); err != nil {
		return err
	}

	switch c.Metadata.Backend {
	case "sqlite":
		if c.Metadata.SQLitePath == "" {
			return fmt.Errorf("%w: metadata.sqlite_path is required", models.ErrInvalidInput)
		}
	case "tidb":
	default:
		return fmt.Errorf("%w: unknown metadata backend %q", models.ErrInvalidInput, c.Metadata.Backend)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: unknown log format %q", models.ErrInvalidInput, c.Logging.Format)
	}

	p := c.Providers
	if !p.Filesystem.Enabled && !p.Archive.Enabled && !p.Database.Enabled && !p.MinIO.Enabled {
		return fmt.Errorf("%w: at least one storage provider must be enabled", models.ErrInvalidInput)
	}
	for _, d := range []DiskProviderConfig{p.Filesystem, p.Archive} {
		if !d.Enabled {
			continue
		}
		if d.Dir == "" {
			return fmt.Errorf("%w: provider %s needs a dir", models.ErrInvalidInput, d.Name)
		}
		if _, err := storage.ParseCompression(d.Compression); err != nil {
			return err
		}
	}
	if p.Database.Enabled && p.Database.Path == "" {
		return fmt.Errorf("%w: provider %s needs a path", models.ErrInvalidInput, p.Database.Name)
	}
	return nil
}

// GetDSN returns the TiDB connection string
func (c *Config) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.Metadata.TiDBUser,
		c.Metadata.TiDBPassword,
		c.Metadata.TiDBHost,
		c.Metadata.TiDBPort,
		c.Metadata.TiDBDatabase,
	)
}

// GetRedisAddr returns the Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Cache.RedisHost, c.Cache.RedisPort)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsUint64(key string, defaultValue uint64) uint64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseUint(valueStr, 10, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}
