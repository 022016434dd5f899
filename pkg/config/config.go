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

// Automator modes.
const (
	ModeEnroller = "enroller"
	ModeHouser   = "houser"
)

// Portal drivers.
const (
	PortalDriverHTTP   = "http"
	PortalDriverMemory = "memory"
)

const (
	NotifyProviderNoop = "noop"
	NotifyProviderSES  = "ses"
)

type Config struct {
	Env  string
	Mode string

	Portal    PortalConfig
	Enroll    EnrollConfig
	Housing   HousingConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	Status    StatusConfig
	Export    ExportConfig
	Ledger    LedgerConfig
	Snapshots SnapshotConfig
	Notify    NotifyConfig
}

// PortalConfig describes how to reach the portal gateway.
type PortalConfig struct {
	Driver   string
	BaseURL  string
	Username string
	Password string
	Term     string
	Timeout  time.Duration

	// FixtureFile seeds the memory driver.
	FixtureFile string
}

// EnrollConfig tunes the enrollment scheduler.
type EnrollConfig struct {
	LoadInterval time.Duration
	PlanFile     string
}

// HousingConfig tunes the housing search loop.
type HousingConfig struct {
	SearchForever bool
	SearchesFile  string
	LoadInterval  time.Duration
}

type DatabaseConfig struct {
	Enabled      bool
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type LogConfig struct {
	Level  string
	Format string
}

// StatusConfig exposes the read-only status server.
type StatusConfig struct {
	Enabled        bool
	Port           int
	JWTSecret      string
	JWTIssuer      string
	AllowedOrigins []string
}

// ExportConfig controls end-of-run schedule exports.
type ExportConfig struct {
	Dir       string
	Formats   []string
	Retention time.Duration
	LinkTTL   time.Duration
}

// LedgerConfig sizes the asynchronous attempt ledger.
type LedgerConfig struct {
	Workers    int
	Retries    int
	BufferSize int
}

// NotifyConfig selects the mail provider for enrollment and housing notices.
type NotifyConfig struct {
	Provider        string
	To              []string
	FromAddress     string
	FromName        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	Workers         int
}

// SnapshotConfig governs snapshot caching for the status API.
type SnapshotConfig struct {
	CacheTTL time.Duration
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
	cfg.Mode = strings.ToLower(strings.TrimSpace(v.GetString("AUTOMATOR")))

	cfg.Portal = PortalConfig{
		Driver:   strings.ToLower(v.GetString("PORTAL_DRIVER")),
		BaseURL:  v.GetString("PORTAL_BASE_URL"),
		Username: v.GetString("PORTAL_USERNAME"),
		Password: v.GetString("PORTAL_PASSWORD"),
		Term:     v.GetString("PORTAL_TERM"),
		Timeout:  parseDuration(v.GetString("PORTAL_TIMEOUT"), 30*time.Second),

		FixtureFile: v.GetString("PORTAL_FIXTURE_FILE"),
	}

	cfg.Enroll = EnrollConfig{
		LoadInterval: parseDuration(v.GetString("ENROLL_LOAD_INTERVAL"), 5*time.Second),
		PlanFile:     v.GetString("ENROLL_PLAN_FILE"),
	}

	cfg.Housing = HousingConfig{
		SearchForever: v.GetBool("HOUSING_SEARCH_FOREVER"),
		SearchesFile:  v.GetString("HOUSING_SEARCHES_FILE"),
		LoadInterval:  parseDuration(v.GetString("HOUSING_LOAD_INTERVAL"), 5*time.Second),
	}

	cfg.Database = DatabaseConfig{
		Enabled:      v.GetBool("ENABLE_LEDGER_DB"),
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("ENABLE_SNAPSHOT_CACHE"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Status = StatusConfig{
		Enabled:   v.GetBool("ENABLE_STATUS_SERVER"),
		Port:      v.GetInt("STATUS_PORT"),
		JWTSecret: v.GetString("STATUS_JWT_SECRET"),
		JWTIssuer: v.GetString("STATUS_JWT_ISSUER"),

		AllowedOrigins: splitAndTrim(v.GetString("STATUS_ALLOWED_ORIGINS")),
	}

	cfg.Export = ExportConfig{
		Dir:     v.GetString("EXPORT_DIR"),
		Formats: splitAndTrim(strings.ToLower(v.GetString("EXPORT_FORMATS"))),

		Retention: parseDuration(v.GetString("EXPORT_RETENTION"), 7*24*time.Hour),
		LinkTTL:   parseDuration(v.GetString("EXPORT_LINK_TTL"), 24*time.Hour),
	}

	cfg.Ledger = LedgerConfig{
		Workers:    v.GetInt("LEDGER_WORKERS"),
		Retries:    v.GetInt("LEDGER_RETRIES"),
		BufferSize: v.GetInt("LEDGER_BUFFER_SIZE"),
	}

	cfg.Snapshots = SnapshotConfig{
		CacheTTL: parseDuration(v.GetString("SNAPSHOT_CACHE_TTL"), 24*time.Hour),
	}

	cfg.Notify = NotifyConfig{
		Provider:        strings.ToLower(strings.TrimSpace(v.GetString("NOTIFY_PROVIDER"))),
		To:              splitAndTrim(v.GetString("NOTIFY_TO")),
		FromAddress:     v.GetString("NOTIFY_FROM_ADDRESS"),
		FromName:        v.GetString("NOTIFY_FROM_NAME"),
		Region:          v.GetString("AWS_REGION"),
		AccessKeyID:     v.GetString("AWS_ACCESS_KEY_ID"),
		SecretAccessKey: v.GetString("AWS_SECRET_ACCESS_KEY"),
		Endpoint:        v.GetString("NOTIFY_SES_ENDPOINT"),
		Workers:         v.GetInt("NOTIFY_WORKERS"),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("AUTOMATOR", ModeEnroller)

	v.SetDefault("PORTAL_DRIVER", PortalDriverHTTP)
	v.SetDefault("PORTAL_BASE_URL", "http://localhost:4444")
	v.SetDefault("PORTAL_USERNAME", "")
	v.SetDefault("PORTAL_PASSWORD", "")
	v.SetDefault("PORTAL_TERM", "")
	v.SetDefault("PORTAL_TIMEOUT", "30s")
	v.SetDefault("PORTAL_FIXTURE_FILE", "")

	v.SetDefault("ENROLL_LOAD_INTERVAL", "5s")
	v.SetDefault("ENROLL_PLAN_FILE", "")

	v.SetDefault("HOUSING_SEARCH_FOREVER", false)
	v.SetDefault("HOUSING_SEARCHES_FILE", "")
	v.SetDefault("HOUSING_LOAD_INTERVAL", "5s")

	v.SetDefault("ENABLE_LEDGER_DB", false)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "spire_automator")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 4)
	v.SetDefault("DB_MAX_IDLE_CONNS", 2)

	v.SetDefault("ENABLE_SNAPSHOT_CACHE", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")

	v.SetDefault("ENABLE_STATUS_SERVER", false)
	v.SetDefault("STATUS_PORT", 8081)
	v.SetDefault("STATUS_JWT_SECRET", "")
	v.SetDefault("STATUS_JWT_ISSUER", "spire-automator")
	v.SetDefault("STATUS_ALLOWED_ORIGINS", "")

	v.SetDefault("EXPORT_DIR", "./exports")
	v.SetDefault("EXPORT_FORMATS", "csv")
	v.SetDefault("EXPORT_RETENTION", "168h")
	v.SetDefault("EXPORT_LINK_TTL", "24h")

	v.SetDefault("LEDGER_WORKERS", 1)
	v.SetDefault("LEDGER_RETRIES", 3)
	v.SetDefault("LEDGER_BUFFER_SIZE", 64)

	v.SetDefault("SNAPSHOT_CACHE_TTL", "24h")

	v.SetDefault("NOTIFY_PROVIDER", NotifyProviderNoop)
	v.SetDefault("NOTIFY_TO", "")
	v.SetDefault("NOTIFY_FROM_ADDRESS", "")
	v.SetDefault("NOTIFY_FROM_NAME", "SPIRE Automator")
	v.SetDefault("AWS_REGION", "us-east-1")
	v.SetDefault("AWS_ACCESS_KEY_ID", "")
	v.SetDefault("AWS_SECRET_ACCESS_KEY", "")
	v.SetDefault("NOTIFY_SES_ENDPOINT", "")
	v.SetDefault("NOTIFY_WORKERS", 1)
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
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
