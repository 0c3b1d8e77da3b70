package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
	BackendS3       = "s3"
)

type Config struct {
	// Server
	Port        string
	AppEnv      string
	CORSOrigins string

	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// JWT
	JWTSecret        string
	JWTAccessExpiry  time.Duration
	JWTRefreshExpiry time.Duration

	// Backends
	DirectoryBackend string
	BlobBackend      string

	// Attachments
	S3Bucket        string
	S3PublicBaseURL string
	SQSUploadQueue  string

	// Change feed between instances; disabled when no brokers are set
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	// Workspaces
	WorkspaceIdleTTL     time.Duration
	GlobalPatientRecords bool
	LocaleDateLayout     string
	Timezone             string

	// ERROR+ logs kept in system_logs
	LogRetention time.Duration

	SentryDSN string
}

var keys = []string{
	"PORT", "APP_ENV", "CORS_ORIGINS",
	"DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSLMODE",
	"JWT_SECRET", "JWT_ACCESS_EXPIRY", "JWT_REFRESH_EXPIRY",
	"DIRECTORY_BACKEND", "BLOB_BACKEND",
	"S3_BUCKET", "S3_PUBLIC_BASE_URL", "SQS_UPLOAD_QUEUE",
	"KAFKA_BROKERS", "KAFKA_TOPIC", "KAFKA_GROUP_ID",
	"WORKSPACE_IDLE_TTL", "GLOBAL_PATIENT_RECORDS", "LOCALE_DATE_LAYOUT", "TZ",
	"LOG_RETENTION", "SENTRY_DSN",
}

// Load reads the environment, falling back to an optional .env file and
// then to defaults.
func Load() *Config {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("CORS_ORIGINS", "*")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_NAME", "clinic_db")
	v.SetDefault("DB_SSLMODE", "disable")

	v.SetDefault("JWT_ACCESS_EXPIRY", "15m")
	v.SetDefault("JWT_REFRESH_EXPIRY", "168h")

	v.SetDefault("DIRECTORY_BACKEND", BackendPostgres)
	v.SetDefault("BLOB_BACKEND", BackendMemory)

	v.SetDefault("KAFKA_TOPIC", "clinic.document-changes")
	v.SetDefault("KAFKA_GROUP_ID", "")

	v.SetDefault("WORKSPACE_IDLE_TTL", "30m")
	v.SetDefault("GLOBAL_PATIENT_RECORDS", true)
	v.SetDefault("LOCALE_DATE_LAYOUT", "1/2/2006")
	v.SetDefault("TZ", "UTC")
	v.SetDefault("LOG_RETENTION", "720h")

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Missing .env is fine.
	_ = v.ReadInConfig()

	return &Config{
		Port:        v.GetString("PORT"),
		AppEnv:      v.GetString("APP_ENV"),
		CORSOrigins: v.GetString("CORS_ORIGINS"),

		DBHost:     v.GetString("DB_HOST"),
		DBPort:     v.GetString("DB_PORT"),
		DBUser:     v.GetString("DB_USER"),
		DBPassword: v.GetString("DB_PASSWORD"),
		DBName:     v.GetString("DB_NAME"),
		DBSSLMode:  v.GetString("DB_SSLMODE"),

		JWTSecret:        v.GetString("JWT_SECRET"),
		JWTAccessExpiry:  parseDuration(v.GetString("JWT_ACCESS_EXPIRY"), 15*time.Minute),
		JWTRefreshExpiry: parseDuration(v.GetString("JWT_REFRESH_EXPIRY"), 168*time.Hour),

		DirectoryBackend: strings.ToLower(v.GetString("DIRECTORY_BACKEND")),
		BlobBackend:      strings.ToLower(v.GetString("BLOB_BACKEND")),

		S3Bucket:        v.GetString("S3_BUCKET"),
		S3PublicBaseURL: v.GetString("S3_PUBLIC_BASE_URL"),
		SQSUploadQueue:  v.GetString("SQS_UPLOAD_QUEUE"),

		KafkaBrokers: splitCSV(v.GetString("KAFKA_BROKERS")),
		KafkaTopic:   v.GetString("KAFKA_TOPIC"),
		KafkaGroupID: v.GetString("KAFKA_GROUP_ID"),

		WorkspaceIdleTTL:     parseDuration(v.GetString("WORKSPACE_IDLE_TTL"), 30*time.Minute),
		GlobalPatientRecords: v.GetBool("GLOBAL_PATIENT_RECORDS"),
		LocaleDateLayout:     v.GetString("LOCALE_DATE_LAYOUT"),
		Timezone:             v.GetString("TZ"),

		LogRetention: parseDuration(v.GetString("LOG_RETENTION"), 30*24*time.Hour),

		SentryDSN: v.GetString("SENTRY_DSN"),
	}
}

// Validate reports the first setting that prevents the server from starting.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET environment variable is required")
	}
	switch c.DirectoryBackend {
	case BackendPostgres:
		if c.DBPassword == "" {
			return errors.New("DB_PASSWORD environment variable is required")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("DIRECTORY_BACKEND must be %q or %q, got %q", BackendPostgres, BackendMemory, c.DirectoryBackend)
	}
	switch c.BlobBackend {
	case BackendS3:
		if c.S3Bucket == "" {
			return errors.New("S3_BUCKET is required when BLOB_BACKEND is s3")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("BLOB_BACKEND must be %q or %q, got %q", BackendS3, BackendMemory, c.BlobBackend)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location is the time zone roster dates are searched in.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("TZ %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func (c *Config) DSN() string {
	return "host=" + c.DBHost +
		" user=" + c.DBUser +
		" password=" + c.DBPassword +
		" dbname=" + c.DBName +
		" port=" + c.DBPort +
		" sslmode=" + c.DBSSLMode +
		" TimeZone=UTC"
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
