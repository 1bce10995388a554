package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	Uploads       UploadsConfig
	Lifecycle     LifecycleConfig
	Matches       MatchesConfig
	Notifications NotificationsConfig
	RateLimit     RateLimitConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// UploadLimits bounds a single upload batch.
type UploadLimits struct {
	MaxSlots     int
	MaxSizeBytes int64
	AllowedMIMEs []string
}

// UploadsConfig controls artifact storage and upload batch behaviour.
type UploadsConfig struct {
	StorageDir         string
	PublicBaseURL      string
	SignedURLSecret    string
	SignedURLTTL       time.Duration
	TaskTimeout        time.Duration
	BatchTTL           time.Duration
	LenientFailedSlots bool
	ItemImages         UploadLimits
	ClaimDocuments     UploadLimits
}

// LifecycleConfig governs item expiry.
type LifecycleConfig struct {
	ExpiryWindow  time.Duration
	SweepInterval time.Duration
	SweepEnabled  bool
}

// MatchesConfig tunes the match lookup cache.
type MatchesConfig struct {
	CacheTTL time.Duration
}

// NotificationsConfig sizes the notification worker pool.
type NotificationsConfig struct {
	Workers    int
	Retries    int
	RetryDelay time.Duration
}

// RateLimitConfig caps claim submissions and uploads per user.
type RateLimitConfig struct {
	PerMinute int
	Burst     int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("ENABLE_REDIS"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Uploads = UploadsConfig{
		StorageDir:         v.GetString("UPLOAD_STORAGE_DIR"),
		PublicBaseURL:      v.GetString("UPLOAD_PUBLIC_BASE_URL"),
		SignedURLSecret:    v.GetString("UPLOAD_SIGNED_URL_SECRET"),
		SignedURLTTL:       parseDuration(v.GetString("UPLOAD_SIGNED_URL_TTL"), 7*24*time.Hour),
		TaskTimeout:        parseDuration(v.GetString("UPLOAD_TASK_TIMEOUT"), 2*time.Minute),
		BatchTTL:           parseDuration(v.GetString("UPLOAD_BATCH_TTL"), time.Hour),
		LenientFailedSlots: v.GetBool("UPLOAD_LENIENT_FAILED_SLOTS"),
		ItemImages: UploadLimits{
			MaxSlots:     positiveInt(v.GetInt("ITEM_IMAGE_MAX_SLOTS"), 5),
			MaxSizeBytes: positiveInt64(v.GetInt64("ITEM_IMAGE_MAX_SIZE"), 10*1024*1024),
			AllowedMIMEs: splitAndTrim(v.GetString("ITEM_IMAGE_ALLOWED_MIME_TYPES")),
		},
		ClaimDocuments: UploadLimits{
			MaxSlots:     positiveInt(v.GetInt("CLAIM_DOCUMENT_MAX_SLOTS"), 3),
			MaxSizeBytes: positiveInt64(v.GetInt64("CLAIM_DOCUMENT_MAX_SIZE"), 5*1024*1024),
			AllowedMIMEs: splitAndTrim(v.GetString("CLAIM_DOCUMENT_ALLOWED_MIME_TYPES")),
		},
	}

	cfg.Lifecycle = LifecycleConfig{
		ExpiryWindow:  parseDuration(v.GetString("ITEM_EXPIRY_WINDOW"), 30*24*time.Hour),
		SweepInterval: parseDuration(v.GetString("EXPIRY_SWEEP_INTERVAL"), time.Hour),
		SweepEnabled:  v.GetBool("ENABLE_EXPIRY_SWEEP"),
	}

	cfg.Matches = MatchesConfig{
		CacheTTL: parseDuration(v.GetString("MATCH_CACHE_TTL"), 10*time.Minute),
	}

	cfg.Notifications = NotificationsConfig{
		Workers:    positiveInt(v.GetInt("NOTIFY_WORKERS"), 2),
		Retries:    positiveInt(v.GetInt("NOTIFY_RETRIES"), 3),
		RetryDelay: parseDuration(v.GetString("NOTIFY_RETRY_DELAY"), 5*time.Second),
	}

	cfg.RateLimit = RateLimitConfig{
		PerMinute: v.GetInt("CLAIM_RATE_PER_MINUTE"),
		Burst:     positiveInt(v.GetInt("CLAIM_RATE_BURST"), 5),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "lostfound")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", true)

	v.SetDefault("ENABLE_REDIS", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("JWT_ISSUER", "lostfound-api")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("UPLOAD_STORAGE_DIR", "./artifacts")
	v.SetDefault("UPLOAD_PUBLIC_BASE_URL", "/api/v1/artifacts")
	v.SetDefault("UPLOAD_SIGNED_URL_SECRET", "dev_artifacts_secret")
	v.SetDefault("UPLOAD_SIGNED_URL_TTL", "168h")
	v.SetDefault("UPLOAD_TASK_TIMEOUT", "2m")
	v.SetDefault("UPLOAD_BATCH_TTL", "1h")
	v.SetDefault("UPLOAD_LENIENT_FAILED_SLOTS", false)
	v.SetDefault("ITEM_IMAGE_MAX_SLOTS", 5)
	v.SetDefault("ITEM_IMAGE_MAX_SIZE", 10*1024*1024)
	v.SetDefault("ITEM_IMAGE_ALLOWED_MIME_TYPES", "image/jpeg,image/png,image/gif,image/webp")
	v.SetDefault("CLAIM_DOCUMENT_MAX_SLOTS", 3)
	v.SetDefault("CLAIM_DOCUMENT_MAX_SIZE", 5*1024*1024)
	v.SetDefault("CLAIM_DOCUMENT_ALLOWED_MIME_TYPES", "image/jpeg,image/png,image/gif,image/webp,application/pdf")

	v.SetDefault("ITEM_EXPIRY_WINDOW", "720h")
	v.SetDefault("EXPIRY_SWEEP_INTERVAL", "1h")
	v.SetDefault("ENABLE_EXPIRY_SWEEP", true)

	v.SetDefault("MATCH_CACHE_TTL", "10m")

	v.SetDefault("NOTIFY_WORKERS", 2)
	v.SetDefault("NOTIFY_RETRIES", 3)
	v.SetDefault("NOTIFY_RETRY_DELAY", "5s")

	v.SetDefault("CLAIM_RATE_PER_MINUTE", 20)
	v.SetDefault("CLAIM_RATE_BURST", 5)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func positiveInt(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func positiveInt64(value, fallback int64) int64 {
	if value <= 0 {
		return fallback
	}
	return value
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
