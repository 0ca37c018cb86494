package config

import (
	"errors"
	"fmt"
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

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Google   GoogleConfig
	Booking  BookingConfig
	Mirror   MirrorConfig
	Export   ExportConfig
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

// Addr returns host:port.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type JWTConfig struct {
	Secret string
	Issuer string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// GoogleConfig holds OAuth client credentials and Calendar API tuning.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	CalendarID   string
	TimeZone     string
	Timeout      time.Duration
	// Endpoint overrides the Calendar API base URL. Empty means the public API.
	Endpoint string
	TokenURL string
}

// BookingConfig governs availability sync and the booking identity policy.
type BookingConfig struct {
	Marker           string
	SyncWindow       time.Duration
	SlotDuration     time.Duration
	AllowGuests      bool
	MemberMirror     bool
	BusyCacheEnabled bool
	BusyCacheTTL     time.Duration
	// RateLimit caps booking writes per caller and minute; zero disables it.
	RateLimit        int
	RateBurst        int
}

// Mirror queue backends.
const (
	MirrorBackendMemory = "memory"
	MirrorBackendRedis  = "redis"
)

// MirrorConfig sizes the queue that replays reservation state onto remote calendars.
type MirrorConfig struct {
	// Backend is MirrorBackendMemory or MirrorBackendRedis.
	Backend    string
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
}

// ExportConfig tunes reservation exports.
type ExportConfig struct {
	PDFFontPath string
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
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret: v.GetString("JWT_SECRET"),
		Issuer: v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Google = GoogleConfig{
		ClientID:     v.GetString("GOOGLE_CLIENT_ID"),
		ClientSecret: v.GetString("GOOGLE_CLIENT_SECRET"),
		CalendarID:   v.GetString("GOOGLE_CALENDAR_ID"),
		TimeZone:     v.GetString("GOOGLE_CALENDAR_TIMEZONE"),
		Timeout:      parseDuration(v.GetString("GOOGLE_CALENDAR_TIMEOUT"), 10*time.Second),
		Endpoint:     v.GetString("GOOGLE_CALENDAR_ENDPOINT"),
		TokenURL:     v.GetString("GOOGLE_TOKEN_URL"),
	}

	cfg.Booking = BookingConfig{
		Marker:           v.GetString("AVAILABILITY_MARKER"),
		SyncWindow:       parseDuration(v.GetString("SYNC_WINDOW"), 30*24*time.Hour),
		SlotDuration:     30 * time.Minute,
		AllowGuests:      v.GetBool("BOOKING_ALLOW_GUESTS"),
		MemberMirror:     v.GetBool("BOOKING_MEMBER_MIRROR"),
		BusyCacheEnabled: v.GetBool("BUSY_CACHE_ENABLED"),
		BusyCacheTTL:     parseDuration(v.GetString("BUSY_CACHE_TTL"), time.Minute),
		RateLimit:        v.GetInt("BOOKING_RATE_LIMIT"),
		RateBurst:        v.GetInt("BOOKING_RATE_BURST"),
	}

	cfg.Mirror = MirrorConfig{
		Backend:    strings.ToLower(v.GetString("MIRROR_BACKEND")),
		Workers:    v.GetInt("MIRROR_WORKERS"),
		BufferSize: v.GetInt("MIRROR_BUFFER"),
		MaxRetries: v.GetInt("MIRROR_MAX_RETRIES"),
		RetryDelay: parseDuration(v.GetString("MIRROR_RETRY_DELAY"), 2*time.Second),
	}

	cfg.Export = ExportConfig{
		PDFFontPath: v.GetString("EXPORT_PDF_FONT_PATH"),
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
	v.SetDefault("DB_NAME", "booking_system")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", true)

	v.SetDefault("REDIS_HOST", "")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("GOOGLE_CLIENT_ID", "")
	v.SetDefault("GOOGLE_CLIENT_SECRET", "")
	v.SetDefault("GOOGLE_CALENDAR_ID", "primary")
	v.SetDefault("GOOGLE_CALENDAR_TIMEZONE", "Asia/Tokyo")
	v.SetDefault("GOOGLE_CALENDAR_TIMEOUT", "10s")
	v.SetDefault("GOOGLE_CALENDAR_ENDPOINT", "")
	v.SetDefault("GOOGLE_TOKEN_URL", "")

	v.SetDefault("AVAILABILITY_MARKER", "[予約可]")
	v.SetDefault("SYNC_WINDOW", "720h")
	v.SetDefault("BOOKING_ALLOW_GUESTS", true)
	v.SetDefault("BOOKING_MEMBER_MIRROR", true)
	v.SetDefault("BUSY_CACHE_ENABLED", false)
	v.SetDefault("BUSY_CACHE_TTL", "1m")
	v.SetDefault("BOOKING_RATE_LIMIT", 30)
	v.SetDefault("BOOKING_RATE_BURST", 10)

	v.SetDefault("MIRROR_BACKEND", MirrorBackendMemory)
	v.SetDefault("MIRROR_WORKERS", 2)
	v.SetDefault("MIRROR_BUFFER", 64)
	v.SetDefault("MIRROR_MAX_RETRIES", 3)
	v.SetDefault("MIRROR_RETRY_DELAY", "2s")

	v.SetDefault("EXPORT_PDF_FONT_PATH", "")
}

// isMissingFile tolerates an absent .env, which viper reports as a path error when SetConfigFile is used.
func isMissingFile(err error) bool {
	return strings.Contains(err.Error(), "no such file or directory")
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
