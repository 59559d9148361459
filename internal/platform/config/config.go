package config

import (
	"os"
	"strings"
	"time"
)

// Config captures process-level configuration so main stays lean.
type Config struct {
	Addr        string
	PostgresDSN string
	Redis       RedisConfig
	Kafka       KafkaConfig
}

// RedisConfig controls the optional readiness result cache. An empty URL
// disables Redis and the engine falls back to an in-memory cache.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig controls the optional operational-log sink. No brokers means
// the sink is a no-op; the compliance ledger is authoritative regardless.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// ScoreCacheTTL bounds how stale a cached readiness result may be served.
var ScoreCacheTTL = 5 * time.Minute

// FromEnv builds configuration from environment variables.
func FromEnv() Config {
	addr := os.Getenv("CUSTOS_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	dsn := os.Getenv("CUSTOS_POSTGRES_DSN")

	var brokers []string
	if raw := os.Getenv("CUSTOS_KAFKA_BROKERS"); raw != "" {
		brokers = strings.Split(raw, ",")
	}
	topic := os.Getenv("CUSTOS_KAFKA_TOPIC")
	if topic == "" {
		topic = "custos.oplog"
	}

	return Config{
		Addr:        addr,
		PostgresDSN: dsn,
		Redis: RedisConfig{
			URL:          os.Getenv("CUSTOS_REDIS_URL"),
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{Brokers: brokers, Topic: topic},
	}
}
