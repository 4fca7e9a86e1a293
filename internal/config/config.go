// internal/config/config.go
package config

import (
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Storage  StorageConfig
	Metadata MetadataConfig
	Cache    CacheConfig
	Pipeline PipelineConfig
	Drive    DriveConfig
	LogLevel string `validate:"omitempty,oneof=trace debug info warn error fatal panic disabled"`
}

type ServerConfig struct {
	Port           string `validate:"required,numeric"`
	Mode           string `validate:"oneof=debug release test"`
	ReadTimeout    int    `validate:"gte=0"`
	WriteTimeout   int    `validate:"gte=0"`
	AllowedOrigins []string
}

type DatabaseConfig struct {
	// Driver is "pgx" for Postgres or "sqlite" for a local file database.
	Driver     string `validate:"oneof=pgx sqlite"`
	SQLitePath string `validate:"required_if=Driver sqlite"`

	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string

	// MaxConcurrent bounds the number of in-flight transactions.
	MaxConcurrent int64 `validate:"gte=1"`
}

// StorageConfig selects and configures the blob store backend.
type StorageConfig struct {
	Backend      string `validate:"oneof=minio s3 memory"`
	Bucket       string `validate:"required_unless=Backend memory"`
	PublicURL    string `validate:"omitempty,url"`
	CacheControl string

	Endpoint        string `validate:"required_if=Backend minio"`
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Region          string
	// UsePathStyle is needed for S3-compatible services that do not support
	// virtual-hosted buckets.
	UsePathStyle bool
}

type MetadataConfig struct {
	Backend   string `validate:"oneof=postgres badger"`
	BadgerDir string `validate:"required_if=Backend badger"`
}

type CacheConfig struct {
	Enabled       bool
	RedisURL      string
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	TTLSeconds    int
}

// PipelineConfig holds the upload and consistency tunables.
type PipelineConfig struct {
	Concurrency  int     `validate:"gte=1"`
	PageHeight   int     `validate:"gte=1"`
	PageQuality  float64 `validate:"gt=0,lte=1"`
	CoverQuality float64 `validate:"gt=0,lte=1"`
	MaxPages     int     `validate:"gte=1"`
	MaxUploadMB  int64   `validate:"gte=1"`
	ListMaxDepth int     `validate:"gte=1"`
}

type DriveConfig struct {
	CredentialsJSON string
}

// MaxUploadBytes is the document size limit in bytes.
func (p PipelineConfig) MaxUploadBytes() int64 {
	return p.MaxUploadMB << 20
}

// ReadTimeoutDuration and WriteTimeoutDuration convert the second counts.
const defaultCacheTTL = 5 * time.Minute

// TTL is the entry lifetime, five minutes unless TTLSeconds is positive.
func (c CacheConfig) TTL() time.Duration {
	if c.TTLSeconds <= 0 {
		return defaultCacheTTL
	}
	return time.Duration(c.TTLSeconds) * time.Second
}

func (s ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

func (s ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

var (
	once     sync.Once
	instance *Config
)

// Load reads the process configuration once from .env and the environment.
func Load() *Config {
	once.Do(func() {
		// Load .env file if it exists
		_ = godotenv.Load()

		v := viper.GetViper()
		v.AutomaticEnv()
		instance = FromViper(v)
	})

	return instance
}

// SetDefaults registers every key with its default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("SERVER_MODE", "debug")
	v.SetDefault("SERVER_READ_TIMEOUT", 60)
	v.SetDefault("SERVER_WRITE_TIMEOUT", 300)
	v.SetDefault("SERVER_ALLOWED_ORIGINS", []string{"*"})

	v.SetDefault("DB_DRIVER", "pgx")
	v.SetDefault("DB_SQLITE_PATH", "./data/dergi.db")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "dergi")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_MAX_CONCURRENT", 10)

	v.SetDefault("STORAGE_BACKEND", "minio")
	v.SetDefault("STORAGE_BUCKET", "magazines")
	v.SetDefault("STORAGE_PUBLIC_URL", "")
	v.SetDefault("STORAGE_CACHE_CONTROL", "3600")
	v.SetDefault("MINIO_ENDPOINT", "localhost:9000")
	v.SetDefault("MINIO_ACCESS_KEY", "")
	v.SetDefault("MINIO_SECRET_KEY", "")
	v.SetDefault("MINIO_USE_SSL", false)
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("S3_ENDPOINT", "")
	v.SetDefault("S3_USE_PATH_STYLE", false)

	v.SetDefault("METADATA_BACKEND", "postgres")
	v.SetDefault("BADGER_DIR", "./data/badger")

	v.SetDefault("CACHE_ENABLED", false)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_HOST", "127.0.0.1")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CACHE_TTL_SECONDS", 300)

	v.SetDefault("UPLOAD_CONCURRENCY", 5)
	v.SetDefault("PAGE_TARGET_HEIGHT", 2400)
	v.SetDefault("PAGE_QUALITY", 0.9)
	v.SetDefault("COVER_QUALITY", 0.9)
	v.SetDefault("MAX_PAGES", 500)
	v.SetDefault("MAX_UPLOAD_MB", 200)
	v.SetDefault("LIST_MAX_DEPTH", 10)

	v.SetDefault("GOOGLE_DRIVE_CREDENTIALS_JSON", "")
	v.SetDefault("LOG_LEVEL", "info")
}

// FromViper builds a Config from v after registering defaults.
func FromViper(v *viper.Viper) *Config {
	SetDefaults(v)

	storage := StorageConfig{
		Backend:      v.GetString("STORAGE_BACKEND"),
		Bucket:       v.GetString("STORAGE_BUCKET"),
		PublicURL:    v.GetString("STORAGE_PUBLIC_URL"),
		CacheControl: v.GetString("STORAGE_CACHE_CONTROL"),
	}
	switch storage.Backend {
	case "s3":
		storage.Endpoint = v.GetString("S3_ENDPOINT")
		storage.AccessKeyID = v.GetString("AWS_ACCESS_KEY_ID")
		storage.SecretAccessKey = v.GetString("AWS_SECRET_ACCESS_KEY")
		storage.Region = v.GetString("S3_REGION")
		storage.UsePathStyle = v.GetBool("S3_USE_PATH_STYLE")
	default:
		storage.Endpoint = v.GetString("MINIO_ENDPOINT")
		storage.AccessKeyID = v.GetString("MINIO_ACCESS_KEY")
		storage.SecretAccessKey = v.GetString("MINIO_SECRET_KEY")
		storage.UseSSL = v.GetBool("MINIO_USE_SSL")
		storage.Region = v.GetString("S3_REGION")
	}

	return &Config{
		Server: ServerConfig{
			Port:           v.GetString("SERVER_PORT"),
			Mode:           v.GetString("SERVER_MODE"),
			ReadTimeout:    v.GetInt("SERVER_READ_TIMEOUT"),
			WriteTimeout:   v.GetInt("SERVER_WRITE_TIMEOUT"),
			AllowedOrigins: v.GetStringSlice("SERVER_ALLOWED_ORIGINS"),
		},
		Database: DatabaseConfig{
			Driver:        v.GetString("DB_DRIVER"),
			SQLitePath:    v.GetString("DB_SQLITE_PATH"),
			Host:          v.GetString("DB_HOST"),
			Port:          v.GetString("DB_PORT"),
			User:          v.GetString("DB_USER"),
			Password:      v.GetString("DB_PASSWORD"),
			DBName:        v.GetString("DB_NAME"),
			SSLMode:       v.GetString("DB_SSLMODE"),
			MaxConcurrent: v.GetInt64("DB_MAX_CONCURRENT"),
		},
		Storage: storage,
		Metadata: MetadataConfig{
			Backend:   v.GetString("METADATA_BACKEND"),
			BadgerDir: v.GetString("BADGER_DIR"),
		},
		Cache: CacheConfig{
			Enabled:       v.GetBool("CACHE_ENABLED"),
			RedisURL:      v.GetString("REDIS_URL"),
			RedisHost:     v.GetString("REDIS_HOST"),
			RedisPort:     v.GetString("REDIS_PORT"),
			RedisPassword: v.GetString("REDIS_PASSWORD"),
			RedisDB:       v.GetInt("REDIS_DB"),
			TTLSeconds:    v.GetInt("CACHE_TTL_SECONDS"),
		},
		Pipeline: PipelineConfig{
			Concurrency:  v.GetInt("UPLOAD_CONCURRENCY"),
			PageHeight:   v.GetInt("PAGE_TARGET_HEIGHT"),
			PageQuality:  v.GetFloat64("PAGE_QUALITY"),
			CoverQuality: v.GetFloat64("COVER_QUALITY"),
			MaxPages:     v.GetInt("MAX_PAGES"),
			MaxUploadMB:  v.GetInt64("MAX_UPLOAD_MB"),
			ListMaxDepth: v.GetInt("LIST_MAX_DEPTH"),
		},
		Drive: DriveConfig{
			CredentialsJSON: v.GetString("GOOGLE_DRIVE_CREDENTIALS_JSON"),
		},
		LogLevel: v.GetString("LOG_LEVEL"),
	}
}
