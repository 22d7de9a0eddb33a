package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Realtime transports.
const (
	TransportLocal = "local"
	TransportRedis = "redis"
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
	Lifecycle LifecycleConfig
	Realtime  RealtimeConfig
	Exports   ExportsConfig
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
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig only carries what is needed to validate tokens issued elsewhere.
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

// LifecycleConfig tunes the window scheduler, the backup sweep and the capacity path.
type LifecycleConfig struct {
	SchedulerEnabled bool
	SweepEnabled     bool
	PlanInterval     time.Duration
	Horizon          time.Duration
	SweepInterval    time.Duration
	FineWindow       time.Duration
	PollInterval     time.Duration
	MaxCoarseStep    time.Duration
	CapacityTimeout  time.Duration
}

// RealtimeConfig governs dashboard notifications.
type RealtimeConfig struct {
	Transport     string
	ChannelPrefix string
	BufferSize    int
	TicketSecret  string
	TicketTTL     time.Duration
	PingInterval  time.Duration
}

// ExportsConfig toggles roster exports.
type ExportsConfig struct {
	RosterEnabled bool
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

	cfg.Lifecycle = LifecycleConfig{
		SchedulerEnabled: v.GetBool("ENABLE_SCHEDULER"),
		SweepEnabled:     v.GetBool("ENABLE_SWEEP"),
		PlanInterval:     parseDuration(v.GetString("PLAN_INTERVAL"), 2*time.Minute),
		Horizon:          parseDuration(v.GetString("LOOKAHEAD_HORIZON"), 12*time.Hour),
		SweepInterval:    parseDuration(v.GetString("SWEEP_INTERVAL"), 5*time.Second),
		FineWindow:       parseDuration(v.GetString("TIMER_FINE_WINDOW"), 10*time.Millisecond),
		PollInterval:     parseDuration(v.GetString("TIMER_POLL_INTERVAL"), 500*time.Microsecond),
		MaxCoarseStep:    parseDuration(v.GetString("TIMER_MAX_COARSE_STEP"), time.Minute),
		CapacityTimeout:  parseDuration(v.GetString("CAPACITY_TIMEOUT"), 2*time.Second),
	}

	transport := strings.ToLower(strings.TrimSpace(v.GetString("REALTIME_TRANSPORT")))
	if transport != TransportRedis {
		transport = TransportLocal
	}
	buffer := v.GetInt("REALTIME_BUFFER")
	if buffer <= 0 {
		buffer = 256
	}
	cfg.Realtime = RealtimeConfig{
		Transport:     transport,
		ChannelPrefix: v.GetString("REALTIME_CHANNEL_PREFIX"),
		BufferSize:    buffer,
		TicketSecret:  v.GetString("REALTIME_TICKET_SECRET"),
		TicketTTL:     parseDuration(v.GetString("REALTIME_TICKET_TTL"), time.Minute),
		PingInterval:  parseDuration(v.GetString("REALTIME_PING_INTERVAL"), 10*time.Second),
	}

	cfg.Exports = ExportsConfig{
		RosterEnabled: v.GetBool("ENABLE_ROSTER_EXPORT"),
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
	v.SetDefault("DB_NAME", "examline")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "examline-app")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ENABLE_SCHEDULER", true)
	v.SetDefault("ENABLE_SWEEP", true)
	v.SetDefault("PLAN_INTERVAL", "2m")
	v.SetDefault("LOOKAHEAD_HORIZON", "12h")
	v.SetDefault("SWEEP_INTERVAL", "5s")
	v.SetDefault("TIMER_FINE_WINDOW", "10ms")
	v.SetDefault("TIMER_POLL_INTERVAL", "500us")
	v.SetDefault("TIMER_MAX_COARSE_STEP", "60s")
	v.SetDefault("CAPACITY_TIMEOUT", "2s")

	v.SetDefault("REALTIME_TRANSPORT", TransportLocal)
	v.SetDefault("REALTIME_CHANNEL_PREFIX", "exam-windows:")
	v.SetDefault("REALTIME_BUFFER", 256)
	v.SetDefault("REALTIME_TICKET_SECRET", "dev_realtime_secret")
	v.SetDefault("REALTIME_TICKET_TTL", "1m")
	v.SetDefault("REALTIME_PING_INTERVAL", "10s")

	v.SetDefault("ENABLE_ROSTER_EXPORT", true)
}

// isMissingFile covers viper returning a raw fs error when SetConfigFile points at a missing .env.
func isMissingFile(err error) bool {
	return strings.Contains(err.Error(), "no such file or directory")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
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
