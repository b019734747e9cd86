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

	StorageDriverLocal = "local"
	StorageDriverMinio = "minio"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Log       LogConfig
	Storage   StorageConfig
	Files     FilesConfig
	Converter ConverterConfig
	Cleanup   CleanupConfig
	Cache     CacheConfig
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
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// StorageConfig selects and configures the blob backend.
type StorageConfig struct {
	Driver         string
	Dir            string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
}

// FilesConfig governs attachment validation and access policy.
type FilesConfig struct {
	MaxFileSizeBytes int64
	// AllowAnyAuthenticated relaxes the owner-or-admin rule for mutating file operations.
	// Intended for staging environments only.
	AllowAnyAuthenticated bool
	TemplatePath          string
	SignedURLSecret       string
	SignedURLTTL          time.Duration
}

// ConverterConfig points at the office suite used for DOCX to PDF conversion.
type ConverterConfig struct {
	Binary  string
	Timeout time.Duration
}

// CleanupConfig tunes background blob cleanup and the orphan sweep.
type CleanupConfig struct {
	Workers       int
	Retries       int
	RetryDelay    time.Duration
	SweepEnabled  bool
	SweepInterval time.Duration
	SweepGrace    time.Duration
}

// CacheConfig toggles Redis caching of per-question-set read models.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

// IsDevelopment reports whether internal error details may be exposed.
func (c *Config) IsDevelopment() bool {
	return c != nil && c.Env == EnvDevelopment
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
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
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
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{Secret: v.GetString("JWT_SECRET")}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Storage = StorageConfig{
		Driver:         strings.ToLower(v.GetString("STORAGE_DRIVER")),
		Dir:            v.GetString("STORAGE_DIR"),
		MinioEndpoint:  v.GetString("MINIO_ENDPOINT"),
		MinioAccessKey: v.GetString("MINIO_ACCESS_KEY"),
		MinioSecretKey: v.GetString("MINIO_SECRET_KEY"),
		MinioBucket:    v.GetString("MINIO_BUCKET"),
		MinioUseSSL:    v.GetBool("MINIO_USE_SSL"),
	}

	maxSize := v.GetInt64("FILES_MAX_SIZE")
	if maxSize <= 0 {
		maxSize = 10 * 1024 * 1024
	}
	cfg.Files = FilesConfig{
		MaxFileSizeBytes:      maxSize,
		AllowAnyAuthenticated: v.GetBool("FILES_ALLOW_ANY_AUTHENTICATED"),
		TemplatePath:          v.GetString("FILES_TEMPLATE_PATH"),
		SignedURLSecret:       v.GetString("FILES_SIGNED_URL_SECRET"),
		SignedURLTTL:          parseDuration(v.GetString("FILES_SIGNED_URL_TTL"), 30*time.Minute),
	}

	cfg.Converter = ConverterConfig{
		Binary:  v.GetString("CONVERTER_BINARY"),
		Timeout: parseDuration(v.GetString("CONVERTER_TIMEOUT"), time.Minute),
	}

	cfg.Cleanup = CleanupConfig{
		Workers:       v.GetInt("CLEANUP_WORKERS"),
		Retries:       v.GetInt("CLEANUP_RETRIES"),
		RetryDelay:    parseDuration(v.GetString("CLEANUP_RETRY_DELAY"), 5*time.Second),
		SweepEnabled:  v.GetBool("SWEEP_ENABLED"),
		SweepInterval: parseDuration(v.GetString("SWEEP_INTERVAL"), 6*time.Hour),
		SweepGrace:    parseDuration(v.GetString("SWEEP_GRACE"), 24*time.Hour),
	}

	cfg.Cache = CacheConfig{
		Enabled: v.GetBool("CACHE_ENABLED"),
		TTL:     parseDuration(v.GetString("CACHE_TTL"), 5*time.Minute),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "bank_soal")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", true)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("STORAGE_DRIVER", StorageDriverLocal)
	v.SetDefault("STORAGE_DIR", "./uploads")
	v.SetDefault("MINIO_ENDPOINT", "localhost:9000")
	v.SetDefault("MINIO_ACCESS_KEY", "minioadmin")
	v.SetDefault("MINIO_SECRET_KEY", "minioadmin")
	v.SetDefault("MINIO_BUCKET", "question-files")
	v.SetDefault("MINIO_USE_SSL", false)

	v.SetDefault("FILES_MAX_SIZE", 10*1024*1024)
	v.SetDefault("FILES_ALLOW_ANY_AUTHENTICATED", false)
	v.SetDefault("FILES_TEMPLATE_PATH", "./templates/template_soal.docx")
	v.SetDefault("FILES_SIGNED_URL_SECRET", "dev_files_secret")
	v.SetDefault("FILES_SIGNED_URL_TTL", "30m")

	v.SetDefault("CONVERTER_BINARY", "soffice")
	v.SetDefault("CONVERTER_TIMEOUT", "60s")

	v.SetDefault("CLEANUP_WORKERS", 2)
	v.SetDefault("CLEANUP_RETRIES", 3)
	v.SetDefault("CLEANUP_RETRY_DELAY", "5s")
	v.SetDefault("SWEEP_ENABLED", false)
	v.SetDefault("SWEEP_INTERVAL", "6h")
	v.SetDefault("SWEEP_GRACE", "24h")

	v.SetDefault("CACHE_ENABLED", false)
	v.SetDefault("CACHE_TTL", "5m")
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
