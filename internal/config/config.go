// v1
// internal/config/config.go
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	BindAddr      string // e.g. ":8090"
	PostgresDSN   string // empty selects the in-memory registry
	RedisAddr     string // empty selects the in-memory stores
	LedgerBaseURL string // e.g. "http://ledger:8084"
	LedgerTimeout time.Duration

	RateLimitWindow time.Duration
	MaxDataAge      time.Duration
	FutureTolerance time.Duration
	ChallengeTTL    time.Duration

	BatchWindow time.Duration
	ReadingTTL  time.Duration

	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string
	KafkaAcks    int

	AnalysisEnabled bool
	AnalysisURL     string
	AnalysisToken   string
	AnalysisTimeout time.Duration

	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration
}

func FromEnv() Config {
	cfg := Config{
		BindAddr:      envStr("GATEWAY_BIND_ADDR", ":8090"),
		PostgresDSN:   os.Getenv("POSTGRES_DSN"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		LedgerBaseURL: envStr("LEDGER_BASE_URL", "http://ledger:8084"),
		LedgerTimeout: envDur("LEDGER_TIMEOUT", 10*time.Second),

		RateLimitWindow: envDur("RATE_LIMIT_WINDOW", 60*time.Second),
		MaxDataAge:      envDur("MAX_DATA_AGE", 300*time.Second),
		FutureTolerance: envDur("FUTURE_TOLERANCE", 60*time.Second),
		ChallengeTTL:    envDur("CHALLENGE_TTL", 5*time.Minute),

		BatchWindow: envDur("BATCH_WINDOW", time.Hour),
		ReadingTTL:  envDur("READING_TTL", 168*time.Hour),

		KafkaTopic: envStr("KAFKA_TOPIC", "telemetry.accepted"),
		KafkaAcks:  envInt("KAFKA_ACKS", -1),

		AnalysisURL:     os.Getenv("ANALYSIS_URL"),
		AnalysisToken:   os.Getenv("ANALYSIS_TOKEN"),
		AnalysisTimeout: envDur("ANALYSIS_TIMEOUT", 5*time.Second),

		BreakerMaxFailures:  envInt("BREAKER_MAX_FAILURES", 5),
		BreakerResetTimeout: envDur("BREAKER_RESET_TIMEOUT", 30*time.Second),
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}
	cfg.KafkaEnabled = len(cfg.KafkaBrokers) > 0
	cfg.AnalysisEnabled = cfg.AnalysisURL != ""
	return cfg
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDur(key string, def time.Duration) time.Duration {
	if s := os.Getenv(key); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			return d
		}
	}
	return def
}

func envInt(key string, def int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return def
}
