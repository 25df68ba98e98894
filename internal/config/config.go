package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	App struct {
		ENV string
	}

	Log struct {
		Level     string
		Format    string
		Component string
		Source    bool
	}

	DB struct {
		DSN      string
		Host     string
		Port     string
		User     string
		Password string
		Name     string
	}

	Redis struct {
		Addr     string
		Password string
		DB       int
	}

	HTTP struct {
		Host string
		Port string
	}

	// Match holds the matchmaking tunables. TTLs and thresholds are
	// deployment knobs, not contracts; matching semantics hold for any
	// positive values.
	Match struct {
		WaitTTL       time.Duration // waiting entry lifetime in the pool
		ScoreTTL      time.Duration // compatibility score cache lifetime
		ScanLimit     int           // max candidates ranked per request
		MaxInterests  int           // cap on declared interest tags
		InactiveAfter time.Duration // no heartbeat for this long -> inactive
		PurgeIDAfter  time.Duration // idle identities hard-deleted after this
		Retention     time.Duration // ended sessions kept for this long
		SweepInterval time.Duration // background sweeper cadence
	}
}

func New() *Config {
	cfg := &Config{}

	// App
	cfg.App.ENV = getEnvDefault("APP_ENV", "production")

	// Logger
	cfg.Log.Level = getEnvDefault("LOG_LEVEL", "info")
	cfg.Log.Format = getEnvDefault("LOG_FORMAT", "text")
	cfg.Log.Component = getEnvDefault("LOG_COMPONENT", "matchd")
	cfg.Log.Source = isTruthy(os.Getenv("LOG_SOURCE"))

	// Database
	cfg.DB.DSN = os.Getenv("MYSQL_DSN")
	if cfg.DB.DSN == "" {
		cfg.DB.Host = getEnvDefault("DB_HOST", "localhost")
		cfg.DB.Port = getEnvDefault("DB_PORT", "3306")
		cfg.DB.User = getEnvDefault("DB_USER", "root")
		cfg.DB.Password = getEnvDefault("DB_PASSWORD", "root")
		cfg.DB.Name = getEnvDefault("DB_NAME", "driftchat")

		cfg.DB.DSN = fmt.Sprintf(
			"%s:%s@tcp(%s:%s)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
			cfg.DB.User, cfg.DB.Password, cfg.DB.Host, cfg.DB.Port, cfg.DB.Name,
		)
	}

	// Redis
	cfg.Redis.Addr = getEnvDefault("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnvDefault("REDIS_PASSWORD", "")
	if dbStr := getEnvDefault("REDIS_DB", "0"); dbStr != "" {
		if dbInt, err := strconv.Atoi(dbStr); err == nil {
			cfg.Redis.DB = dbInt
		}
	}

	// HTTP
	cfg.HTTP.Host = getEnvDefault("HTTP_HOST", "0.0.0.0")
	cfg.HTTP.Port = getEnvDefault("HTTP_PORT", "8080")

	// Matchmaking
	cfg.Match.WaitTTL = getEnvDuration("MATCH_WAIT_TTL", 5*time.Minute)
	cfg.Match.ScoreTTL = getEnvDuration("SCORE_CACHE_TTL", time.Hour)
	cfg.Match.ScanLimit = getEnvInt("MATCH_SCAN_LIMIT", 25)
	cfg.Match.MaxInterests = getEnvInt("MATCH_MAX_INTERESTS", 10)
	cfg.Match.InactiveAfter = getEnvDuration("INACTIVITY_THRESHOLD", 5*time.Minute)
	cfg.Match.PurgeIDAfter = getEnvDuration("IDENTITY_PURGE_AFTER", 24*time.Hour)
	cfg.Match.Retention = getEnvDuration("SESSION_RETENTION", 48*time.Hour)
	cfg.Match.SweepInterval = getEnvDuration("SWEEP_INTERVAL", time.Minute)

	return cfg
}

func getEnvDefault(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getEnvInt(k string, def int) int {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func getEnvDuration(k string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}
