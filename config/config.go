package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPHost string `validate:"required"`
	HTTPPort string `validate:"required,numeric"`
	GRPCHost string `validate:"required"`
	GRPCPort string `validate:"required,numeric"`

	LogLevel  string `validate:"oneof=trace debug info warn warning error fatal panic"`
	LogFormat string `validate:"oneof=json text"`

	SpoolDir                 string `validate:"required"`
	SpoolProcessors          string
	SpoolFlushEnabled        bool
	SpoolFlushSchedule       string `validate:"required"`
	SpoolFlushWait           bool
	SpoolFlushTimeout        time.Duration `validate:"gt=0"`
	SpoolDispatchConcurrency int           `validate:"gte=1"`
	SpoolRemoteRoot          string        `validate:"required"`
	SpoolNotifyDelivered     bool
	SpoolSharedFlags         bool

	StorageBackend   string `validate:"oneof=local s3"`
	StorageLocalRoot string `validate:"required_if=StorageBackend local"`
	S3Bucket         string `validate:"required_if=StorageBackend s3"`
	S3Endpoint       string `validate:"omitempty,url"`
	AWSRegion        string

	LockBackend        string        `validate:"oneof=mysql redis etcd file"`
	LockAttemptTimeout time.Duration `validate:"gt=0"`
	LockDir            string        `validate:"required_if=LockBackend file"`
	LockTTL            time.Duration `validate:"gt=0"`

	HistoryEnabled bool

	MySQLDSN     string `validate:"required_if=LockBackend mysql"`
	MySQLMaxOpen int
	MySQLMaxIdle int
	MySQLMaxLife time.Duration

	RedisAddr     string `validate:"required"`
	RedisPassword string
	RedisDB       int `validate:"gte=0"`

	EtcdEndpoints   []string      `validate:"required_if=LockBackend etcd"`
	EtcdDialTimeout time.Duration `validate:"gt=0"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPHost: getEnv("HTTP_HOST", "0.0.0.0"),
		HTTPPort: getEnv("HTTP_PORT", "8080"),
		GRPCHost: getEnv("GRPC_HOST", "0.0.0.0"),
		GRPCPort: getEnv("GRPC_PORT", "9090"),

		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "json")),

		SpoolDir:                 getEnv("SPOOL_DIR", "/var/spool/collector"),
		SpoolProcessors:          getEnv("SPOOL_PROCESSORS", "filesystem"),
		SpoolFlushEnabled:        getEnvBool("SPOOL_FLUSH_ENABLED", true),
		SpoolFlushSchedule:       getEnv("SPOOL_FLUSH_SCHEDULE", "@every 1m"),
		SpoolFlushWait:           getEnvBool("SPOOL_FLUSH_WAIT", false),
		SpoolFlushTimeout:        getEnvDuration("SPOOL_FLUSH_TIMEOUT", 5*time.Minute),
		SpoolDispatchConcurrency: getEnvInt("SPOOL_DISPATCH_CONCURRENCY", 4),
		SpoolRemoteRoot:          getEnv("SPOOL_REMOTE_ROOT", "/events"),
		SpoolNotifyDelivered:     getEnvBool("SPOOL_NOTIFY_DELIVERED", false),
		SpoolSharedFlags:         getEnvBool("SPOOL_SHARED_FLAGS", true),

		StorageBackend:   strings.ToLower(getEnv("STORAGE_BACKEND", "local")),
		StorageLocalRoot: getEnv("STORAGE_LOCAL_ROOT", "/mnt/events"),
		S3Bucket:         getEnv("S3_BUCKET", ""),
		S3Endpoint:       getEnv("S3_ENDPOINT", ""),
		AWSRegion:        getEnv("AWS_REGION", "us-east-1"),

		LockBackend:        strings.ToLower(getEnv("LOCK_BACKEND", "mysql")),
		LockAttemptTimeout: getEnvDuration("LOCK_ATTEMPT_TIMEOUT", time.Second),
		LockDir:            getEnv("LOCK_DIR", "/var/run/collector"),
		LockTTL:            getEnvDuration("LOCK_TTL", 30*time.Second),

		HistoryEnabled: getEnvBool("HISTORY_ENABLED", false),

		MySQLDSN:     getEnv("MYSQL_DSN", ""),
		MySQLMaxOpen: getEnvInt("MYSQL_MAX_OPEN", 10),
		MySQLMaxIdle: getEnvInt("MYSQL_MAX_IDLE", 5),
		MySQLMaxLife: getEnvDuration("MYSQL_MAX_LIFETIME", 5*time.Minute),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		EtcdEndpoints:   getEnvList("ETCD_ENDPOINTS", []string{"localhost:2379"}),
		EtcdDialTimeout: getEnvDuration("ETCD_DIAL_TIMEOUT", 5*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the loaded values against their constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.HistoryEnabled && c.MySQLDSN == "" {
		return fmt.Errorf("invalid configuration: MYSQL_DSN is required when HISTORY_ENABLED is set")
	}
	return nil
}

// NeedsMySQL reports whether any component uses the MySQL connection.
func (c *Config) NeedsMySQL() bool {
	return c.LockBackend == "mysql" || c.HistoryEnabled
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvList(key string, defaultValue []string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
