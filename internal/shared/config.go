package shared

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	AppEnv      string
	HTTPAddr    string
	MetricsAddr string
	LogFile     string

	Store     string // mysql | memory
	MySQLDSN  string
	RedisAddr string
	RedisDB   int
	RedisPass string
	CacheTTL  time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	FXBaseURL string
	FXKey     string
	FXRPS     int

	WorkerConcurrency  int
	CompletionSchedule string

	ListingsFile string
}

// Load reads the environment, optionally seeded from a .env file in the working directory.
func Load() (Config, error) {
	return load(viper.New(), ".env")
}

func load(v *viper.Viper, envFile string) (Config, error) {
	v.SetDefault("APP_ENV", "prod")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("METRICS_ADDR", ":9100")
	v.SetDefault("LOG_FILE", "")
	v.SetDefault("STORE", "mysql")
	v.SetDefault("MYSQL_DSN", "root:root@tcp(localhost:3306)/acomody?parseTime=true&charset=utf8mb4&loc=UTC")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CACHE_TTL_SECONDS", 900)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_TOPIC", "booking-events")
	v.SetDefault("FX_BASE_URL", "")
	v.SetDefault("FX_API_KEY", "")
	v.SetDefault("FX_RPS", 5)
	v.SetDefault("WORKER_CONCURRENCY", 8)
	v.SetDefault("COMPLETION_SCHEDULE", "@every 15m")
	v.SetDefault("LISTINGS_FILE", "")

	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			var nf viper.ConfigFileNotFoundError
			if !errors.As(err, &nf) {
				return Config{}, fmt.Errorf("read %s: %w", envFile, err)
			}
		}
	}
	v.AutomaticEnv()

	c := Config{
		AppEnv:             v.GetString("APP_ENV"),
		HTTPAddr:           v.GetString("HTTP_ADDR"),
		MetricsAddr:        v.GetString("METRICS_ADDR"),
		LogFile:            v.GetString("LOG_FILE"),
		Store:              strings.ToLower(v.GetString("STORE")),
		MySQLDSN:           v.GetString("MYSQL_DSN"),
		RedisAddr:          v.GetString("REDIS_ADDR"),
		RedisDB:            v.GetInt("REDIS_DB"),
		RedisPass:          v.GetString("REDIS_PASSWORD"),
		CacheTTL:           time.Duration(v.GetInt("CACHE_TTL_SECONDS")) * time.Second,
		KafkaBrokers:       splitList(v.GetString("KAFKA_BROKERS")),
		KafkaTopic:         v.GetString("KAFKA_TOPIC"),
		FXBaseURL:          v.GetString("FX_BASE_URL"),
		FXKey:              v.GetString("FX_API_KEY"),
		FXRPS:              v.GetInt("FX_RPS"),
		WorkerConcurrency:  v.GetInt("WORKER_CONCURRENCY"),
		CompletionSchedule: v.GetString("COMPLETION_SCHEDULE"),
		ListingsFile:       v.GetString("LISTINGS_FILE"),
	}

	switch c.Store {
	case "mysql", "memory":
	default:
		return Config{}, fmt.Errorf("STORE must be mysql or memory, got %q", c.Store)
	}
	if c.WorkerConcurrency <= 0 {
		c.WorkerConcurrency = 1
	}
	if c.Store == "memory" && c.ListingsFile == "" {
		log.Warn().Msg("STORE=memory without LISTINGS_FILE; every entity is unknown until listings are seeded")
	}
	if c.FXBaseURL == "" {
		log.Warn().Msg("FX_BASE_URL is empty; currency conversion disabled")
	}
	if len(c.KafkaBrokers) == 0 {
		log.Warn().Msg("KAFKA_BROKERS is empty; booking notifications disabled")
	}
	return c, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
