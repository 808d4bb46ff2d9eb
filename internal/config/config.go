package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Application
	AppName string
	AppEnv  string
	AppURL  string
	Port    string

	// Database (optional driver switch via ENV, default: sqlite)
	DBDriver     string
	DBConnection string

	// Blob storage: "s3" (AWS S3, MinIO, R2, ...) or "local"
	StorageDriver    string
	LocalStoragePath string
	S3Region         string
	S3Bucket         string
	S3AccessKey      string
	S3SecretKey      string
	S3Endpoint       string // Optional: for S3-compatible services (MinIO, DO Spaces, R2, etc.)
	S3PathStyle      bool   // Only applies with S3Endpoint; MinIO needs it

	// Encryption at rest
	EncryptionKey          string   // base64, takes precedence over the key file
	EncryptionKeyFile      string   // generated on first start when missing
	EncryptionKeysPrevious []string // base64, decrypt only (rotation)
	ArchiveCompression     string   // deflate, zstd or store
	MaxUploadSize          int64

	// Sharing
	ShareSecret    string
	ShareRateLimit int // shared downloads per IP per minute

	// Email
	EmailFrom    string
	ResendAPIKey string

	// Operations
	AdminToken        string
	ReconcileInterval time.Duration // 0 disables the background pass

	// Observability (optional)
	SentryDSN string
}

func Load() *Config {
	// Load .env file if it exists
	err := godotenv.Load()
	if err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg := &Config{
		// Application
		AppName: envString("APP_NAME", "Sealbox"),
		AppEnv:  envRequired("APP_ENV"), // Required: 'development' or 'production'
		AppURL:  envRequired("APP_URL"), // Required: base URL for share links
		Port:    envString("PORT", "8090"),

		// Database
		DBDriver:     envString("DB_DRIVER", "sqlite"),
		DBConnection: envString("DB_CONNECTION", "./data/sealbox.db?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"),

		// Storage
		StorageDriver:    envString("STORAGE_DRIVER", "s3"),
		LocalStoragePath: envString("LOCAL_STORAGE_PATH", "./data/blobs"),
		S3Region:         envString("S3_REGION", "us-east-1"),
		S3Bucket:         envString("S3_BUCKET", ""),
		S3AccessKey:      envString("S3_ACCESS_KEY", ""),
		S3SecretKey:      envString("S3_SECRET_KEY", ""),
		S3Endpoint:       envString("S3_ENDPOINT", ""), // Optional: for non-AWS providers
		S3PathStyle:      envBool("S3_PATH_STYLE", true),

		// Encryption
		EncryptionKey:          envString("ENCRYPTION_KEY", ""),
		EncryptionKeyFile:      envString("ENCRYPTION_KEY_FILE", "./data/sealbox.key"),
		EncryptionKeysPrevious: envList("ENCRYPTION_KEYS_PREVIOUS"),
		ArchiveCompression:     envString("ARCHIVE_COMPRESSION", "deflate"),
		MaxUploadSize:          envInt64("MAX_UPLOAD_SIZE", 50<<20), // 50 MiB

		// Sharing
		ShareSecret:    envRequired("SHARE_SECRET"),
		ShareRateLimit: int(envInt64("SHARE_RATE_LIMIT", 30)),

		// Email (RESEND_API_KEY optional in development, required in production)
		EmailFrom:    envString("EMAIL_FROM", "noreply@example.com"),
		ResendAPIKey: envString("RESEND_API_KEY", ""),

		// Operations
		AdminToken:        envString("ADMIN_TOKEN", ""),
		ReconcileInterval: envDuration("RECONCILE_INTERVAL", 0),

		// Observability
		SentryDSN: envString("SENTRY_DSN", ""),
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	return cfg
}

// Validate checks settings that depend on each other. Production additionally
// requires the services development can run without.
func (c *Config) Validate() error {
	var errs []error

	switch c.StorageDriver {
	case "s3":
		if c.S3Bucket == "" {
			errs = append(errs, errors.New("S3_BUCKET is required when STORAGE_DRIVER=s3"))
		}
	case "local":
		if c.LocalStoragePath == "" {
			errs = append(errs, errors.New("LOCAL_STORAGE_PATH is required when STORAGE_DRIVER=local"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver))
	}

	if c.EncryptionKey == "" && c.EncryptionKeyFile == "" {
		errs = append(errs, errors.New("ENCRYPTION_KEY or ENCRYPTION_KEY_FILE is required"))
	}

	if c.MaxUploadSize <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_SIZE must be positive"))
	}

	if c.IsProduction() {
		if c.ResendAPIKey == "" {
			errs = append(errs, errors.New("production deployment requires RESEND_API_KEY (set APP_ENV=development for email log mode)"))
		}
		if c.AdminToken == "" {
			errs = append(errs, errors.New("production deployment requires ADMIN_TOKEN"))
		}
	}

	return errors.Join(errs...)
}

func envString(key, def string) string {
	value := os.Getenv(key)
	if value == "" {
		value = def
	}
	return value
}

func envBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("config invalid bool, using default", "key", key, "value", v, "default", def)
		return def
	}
	return b
}

func envInt64(key string, def int64) int64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		slog.Warn("config invalid integer, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("config invalid duration, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

// envList splits a comma separated value, dropping blanks.
func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envRequired(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	slog.Error("config required env var missing", "key", key)
	os.Exit(1)
	return ""
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Sanitized returns a copy of the config with only public/safe fields.
// All secrets, credentials, and key material are excluded.
func (c *Config) Sanitized() *Config {
	return &Config{
		AppName: c.AppName,
		AppEnv:  c.AppEnv,
		AppURL:  c.AppURL,
		Port:    c.Port,

		DBDriver: c.DBDriver,

		StorageDriver:    c.StorageDriver,
		LocalStoragePath: c.LocalStoragePath,
		S3Region:         c.S3Region,
		S3Bucket:         c.S3Bucket,
		S3Endpoint:       c.S3Endpoint,
		S3PathStyle:      c.S3PathStyle,

		EncryptionKeyFile:  c.EncryptionKeyFile,
		ArchiveCompression: c.ArchiveCompression,
		MaxUploadSize:      c.MaxUploadSize,

		ShareRateLimit: c.ShareRateLimit,

		EmailFrom: c.EmailFrom,

		ReconcileInterval: c.ReconcileInterval,
	}
}
