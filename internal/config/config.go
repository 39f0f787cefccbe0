package config

import (
	"os"
	"strconv"
	"time"
)

// DatabaseConfig holds PostgreSQL database connection settings.
// Driver is "postgres" or "memory"; the latter keeps document records in process memory.
type DatabaseConfig struct {
	Driver             string
	Host               string
	Port               string
	User               string
	Password           string
	Name               string
	SSLMode            string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetimeSec int
	// ConnectAttempts bounds startup pings while the database comes up.
	ConnectAttempts int
}

// MinIOConfig holds object storage settings for MinIO.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// S3Config holds object storage settings for AWS S3 (or any endpoint speaking the S3 API).
type S3Config struct {
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	Bucket       string
	UsePathStyle bool
}

// StorageConfig selects and configures the object storage backend.
// Driver is one of "minio", "s3" or "memory".
type StorageConfig struct {
	Driver string
	// SSE requests provider-side encryption beneath the application-level encryption.
	SSE   bool
	MinIO MinIOConfig
	S3    S3Config
}

// RetryConfig bounds retries of transient object storage failures.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// CryptoConfig holds the process-wide master secret used to wrap document keys.
// MasterKey is base64 encoded and must decode to at least 32 bytes.
type CryptoConfig struct {
	MasterKey string
}

// TokenConfig configures download tokens.
// Store is "memory" or "badger"; BadgerDir empty means an in-memory badger instance.
type TokenConfig struct {
	TTL       time.Duration
	Store     string
	BadgerDir string
}

// UploadConfig bounds uploads and configures post-processing.
type UploadConfig struct {
	MaxSizeBytes      int64
	Timeout           time.Duration
	AsyncProcessing   bool
	ProcessingWorkers int
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level    string
	Timezone string
}

// AppConfig is the centralized configuration struct for the application.
// It is populated from environment variables. Sensitive values are not hardcoded.
type AppConfig struct {
	AppHost  string
	Port     string
	Database DatabaseConfig
	Storage  StorageConfig
	Retry    RetryConfig
	Crypto   CryptoConfig
	Token    TokenConfig
	Upload   UploadConfig
	Log      LogConfig
}

// Load reads configuration from environment variables.
// A .env file can be auto-loaded by importing: _ "github.com/joho/godotenv/autoload"
// This function does not require a .env file; real environment variables take precedence.
func Load() *AppConfig {
	return &AppConfig{
		AppHost: getEnv("APP_HOST", "localhost:8080"),
		Port:    getEnv("PORT", "8080"), // default only for non-sensitive value
		Database: DatabaseConfig{
			Driver:             getEnv("DB_DRIVER", "postgres"),
			Host:               getEnv("DB_HOST", ""),
			Port:               getEnv("DB_PORT", "5432"),
			User:               getEnv("DB_USER", ""),
			Password:           getEnv("DB_PASSWORD", ""),
			Name:               getEnv("DB_NAME", ""),
			SSLMode:            getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:       getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:       getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetimeSec: getEnvInt("DB_CONN_MAX_LIFETIME_SEC", 300),
			ConnectAttempts:    getEnvInt("DB_CONNECT_ATTEMPTS", 5),
		},
		Storage: StorageConfig{
			Driver: getEnv("STORAGE_DRIVER", "minio"),
			SSE:    getEnvBool("STORAGE_SSE", true),
			MinIO: MinIOConfig{
				Endpoint:  getEnv("MINIO_ENDPOINT", ""),
				AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
				SecretKey: getEnv("MINIO_SECRET_KEY", ""),
				Bucket:    getEnv("MINIO_BUCKET", ""),
				UseSSL:    getEnvBool("MINIO_USE_SSL", false),
			},
			S3: S3Config{
				Endpoint:     getEnv("S3_ENDPOINT", ""),
				Region:       getEnv("S3_REGION", "us-east-1"),
				AccessKey:    getEnv("S3_ACCESS_KEY", ""),
				SecretKey:    getEnv("S3_SECRET_KEY", ""),
				Bucket:       getEnv("S3_BUCKET", ""),
				UsePathStyle: getEnvBool("S3_USE_PATH_STYLE", true),
			},
		},
		Retry: RetryConfig{
			MaxAttempts: getEnvInt("STORAGE_RETRY_ATTEMPTS", 3),
			BaseDelay:   getEnvDuration("STORAGE_RETRY_BASE_DELAY", 200*time.Millisecond),
			MaxDelay:    getEnvDuration("STORAGE_RETRY_MAX_DELAY", 2*time.Second),
		},
		Crypto: CryptoConfig{
			MasterKey: getEnv("MASTER_KEY", ""),
		},
		Token: TokenConfig{
			TTL:       getEnvDuration("DOWNLOAD_TOKEN_TTL", 5*time.Minute),
			Store:     getEnv("TOKEN_STORE", "memory"),
			BadgerDir: getEnv("TOKEN_BADGER_DIR", ""),
		},
		Upload: UploadConfig{
			MaxSizeBytes:      getEnvInt64("UPLOAD_MAX_SIZE_BYTES", 50<<20),
			Timeout:           getEnvDuration("UPLOAD_TIMEOUT", 60*time.Second),
			AsyncProcessing:   getEnvBool("UPLOAD_ASYNC_PROCESSING", false),
			ProcessingWorkers: getEnvInt("PROCESSING_WORKERS", 4),
		},
		Log: LogConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			Timezone: getEnv("LOG_TIMEZONE", "UTC"),
		},
	}
}

// Location resolves the configured log timezone, falling back to UTC.
func (c LogConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.ParseInt(v, 10, 64)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}
