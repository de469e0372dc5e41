// v1
// internal/config/config_test.go
package config

import (
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()
	if cfg.BindAddr != ":8090" {
		t.Fatalf("BindAddr = %s", cfg.BindAddr)
	}
	if cfg.RateLimitWindow != 60*time.Second {
		t.Fatalf("RateLimitWindow = %s", cfg.RateLimitWindow)
	}
	if cfg.MaxDataAge != 300*time.Second {
		t.Fatalf("MaxDataAge = %s", cfg.MaxDataAge)
	}
	if cfg.KafkaEnabled {
		t.Fatal("Kafka enabled without brokers")
	}
	if cfg.AnalysisEnabled {
		t.Fatal("analysis enabled without URL")
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("GATEWAY_BIND_ADDR", ":9999")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("ANALYSIS_URL", "http://model.local/classify")

	cfg := FromEnv()
	if cfg.BindAddr != ":9999" {
		t.Fatalf("BindAddr = %s", cfg.BindAddr)
	}
	if cfg.RateLimitWindow != 30*time.Second {
		t.Fatalf("RateLimitWindow = %s", cfg.RateLimitWindow)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
	if !cfg.KafkaEnabled {
		t.Fatal("Kafka not enabled with brokers set")
	}
	if !cfg.AnalysisEnabled {
		t.Fatal("analysis not enabled with URL set")
	}
}

func TestFromEnvRejectsBadDuration(t *testing.T) {
	t.Setenv("MAX_DATA_AGE", "not-a-duration")
	cfg := FromEnv()
	if cfg.MaxDataAge != 300*time.Second {
		t.Fatalf("MaxDataAge = %s, want default", cfg.MaxDataAge)
	}
}
