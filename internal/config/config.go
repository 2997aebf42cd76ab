// README: Config loader with env defaults for HTTP, store backends, ledger, notifications and dispatch timings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type StoreBackend string

const (
	StoreMemory   StoreBackend = "memory"
	StoreRedis    StoreBackend = "redis"
	StoreFirebase StoreBackend = "firebase"
)

type DispatchConfig struct {
	RequestTimeout time.Duration
	TimeoutTick    time.Duration
	ArbiterPoll    time.Duration
}

type GPSConfig struct {
	Timeout time.Duration
	MaxAge  time.Duration
}

type Config struct {
	HTTP struct {
		Addr           string
		AllowedOrigins []string
	}
	Store struct {
		Backend StoreBackend
	}
	DB struct {
		DSN string
	}
	Redis struct {
		Addr   string
		Prefix string
	}
	Firebase struct {
		DatabaseURL     string
		CredentialsFile string
		FCMTopic        string
	}
	Kafka struct {
		Brokers []string
		Topic   string
	}
	Maps struct {
		APIKey string
	}
	Observability struct {
		LogLevel     string
		OTLPEndpoint string
	}
	Dispatch DispatchConfig
	GPS      GPSConfig
}

func Load() (Config, error) {
	var cfg Config
	cfg.HTTP.Addr = envOrDefault("AERAS_HTTP_ADDR", ":8080")
	cfg.HTTP.AllowedOrigins = envList("AERAS_CORS_ORIGINS")
	cfg.Store.Backend = StoreBackend(strings.ToLower(envOrDefault("AERAS_STORE", string(StoreMemory))))
	cfg.DB.DSN = os.Getenv("AERAS_DB_DSN")
	cfg.Redis.Addr = envOrDefault("AERAS_REDIS_ADDR", "localhost:6379")
	cfg.Redis.Prefix = envOrDefault("AERAS_REDIS_PREFIX", "aeras")
	cfg.Firebase.DatabaseURL = os.Getenv("AERAS_FIREBASE_DATABASE_URL")
	cfg.Firebase.CredentialsFile = os.Getenv("AERAS_FIREBASE_CREDENTIALS")
	cfg.Firebase.FCMTopic = os.Getenv("AERAS_FCM_TOPIC")
	cfg.Kafka.Brokers = envList("AERAS_KAFKA_BROKERS")
	cfg.Kafka.Topic = envOrDefault("AERAS_KAFKA_TOPIC", "aeras.transitions")
	cfg.Maps.APIKey = os.Getenv("AERAS_MAPS_API_KEY")
	cfg.Observability.LogLevel = envOrDefault("AERAS_LOG_LEVEL", "info")
	cfg.Observability.OTLPEndpoint = os.Getenv("AERAS_OTLP_ENDPOINT")
	cfg.Dispatch.RequestTimeout = envOrDefaultDuration("AERAS_REQUEST_TIMEOUT", 60*time.Second)
	cfg.Dispatch.TimeoutTick = envOrDefaultDuration("AERAS_TIMEOUT_TICK", time.Second)
	cfg.Dispatch.ArbiterPoll = envOrDefaultDuration("AERAS_ARBITER_POLL", time.Second)
	cfg.GPS.Timeout = envOrDefaultDuration("AERAS_GPS_TIMEOUT", 10*time.Second)
	cfg.GPS.MaxAge = envOrDefaultDuration("AERAS_GPS_MAX_AGE", 30*time.Second)

	switch cfg.Store.Backend {
	case StoreMemory, StoreRedis:
	case StoreFirebase:
		if cfg.Firebase.DatabaseURL == "" {
			return cfg, fmt.Errorf("AERAS_FIREBASE_DATABASE_URL is required for the firebase store")
		}
	default:
		return cfg, fmt.Errorf("unknown AERAS_STORE %q", cfg.Store.Backend)
	}
	if cfg.Dispatch.RequestTimeout <= 0 || cfg.Dispatch.TimeoutTick <= 0 || cfg.Dispatch.ArbiterPoll <= 0 {
		return cfg, fmt.Errorf("dispatch durations must be positive")
	}
	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// envOrDefaultDuration accepts Go durations ("90s") or plain seconds ("90").
func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n := envOrDefaultInt(key, -1); n >= 0 {
		return time.Duration(n) * time.Second
	}
	return def
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
