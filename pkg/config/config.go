// Package config loads service configuration from the environment. A .env
// file in the working directory is honored when present. Every interval the
// delivery and lifecycle subsystems depend on is a documented setting here,
// not a constant buried at its use site.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Infrastructure endpoints.
	ScyllaHosts  []string // DHUAN_SCYLLA_HOSTS, default localhost:9042
	Keyspace     string   // DHUAN_KEYSPACE, default dhuan
	KafkaBrokers []string // DHUAN_KAFKA_BROKERS, default localhost:19092
	KafkaTopic   string   // DHUAN_KAFKA_TOPIC, default chat-events
	RedisAddr    string   // DHUAN_REDIS_ADDR, default localhost:6379

	APIAddr     string // DHUAN_API_ADDR, default :8081
	GatewayAddr string // DHUAN_GATEWAY_ADDR, default :8080

	// Message constraints and retention.
	MaxContentRunes int    // DHUAN_MAX_CONTENT_RUNES, default 1000
	SweepCron       string // DHUAN_SWEEP_CRON, default hourly

	// Client-side reconciliation intervals. EstimatedTTLHours is only the
	// expiry stamped on provisional entries until the authoritative echo
	// arrives; the server-side retention fallback is fixed in pkg/retention.
	ResyncInterval     time.Duration // DHUAN_RESYNC_INTERVAL, default 5s
	LocalSweepInterval time.Duration // DHUAN_LOCAL_SWEEP_INTERVAL, default 60s
	SendTimeout        time.Duration // DHUAN_SEND_TIMEOUT, default 10s
	EstimatedTTLHours  int           // DHUAN_ESTIMATED_TTL_HOURS, default 24

	// Bus subscription retry policy.
	SubscribeTimeout time.Duration // DHUAN_SUBSCRIBE_TIMEOUT, default 30s
	BackoffBase      time.Duration // DHUAN_BACKOFF_BASE, default 1s
	BackoffCap       time.Duration // DHUAN_BACKOFF_CAP, default 30s
	MaxSubscribeTry  int           // DHUAN_MAX_SUBSCRIBE_TRIES, default 6
}

// Load reads the environment (and an optional .env file) into a Config.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		ScyllaHosts:  splitList(getEnv("DHUAN_SCYLLA_HOSTS", "localhost:9042")),
		Keyspace:     getEnv("DHUAN_KEYSPACE", "dhuan"),
		KafkaBrokers: splitList(getEnv("DHUAN_KAFKA_BROKERS", "localhost:19092")),
		KafkaTopic:   getEnv("DHUAN_KAFKA_TOPIC", "chat-events"),
		RedisAddr:    getEnv("DHUAN_REDIS_ADDR", "localhost:6379"),

		APIAddr:     getEnv("DHUAN_API_ADDR", ":8081"),
		GatewayAddr: getEnv("DHUAN_GATEWAY_ADDR", ":8080"),

		MaxContentRunes: getIntEnv("DHUAN_MAX_CONTENT_RUNES", 1000),
		SweepCron:       getEnv("DHUAN_SWEEP_CRON", "0 * * * *"),

		ResyncInterval:     getDurEnv("DHUAN_RESYNC_INTERVAL", 5*time.Second),
		LocalSweepInterval: getDurEnv("DHUAN_LOCAL_SWEEP_INTERVAL", 60*time.Second),
		SendTimeout:        getDurEnv("DHUAN_SEND_TIMEOUT", 10*time.Second),
		EstimatedTTLHours:  getIntEnv("DHUAN_ESTIMATED_TTL_HOURS", 24),

		SubscribeTimeout: getDurEnv("DHUAN_SUBSCRIBE_TIMEOUT", 30*time.Second),
		BackoffBase:      getDurEnv("DHUAN_BACKOFF_BASE", time.Second),
		BackoffCap:       getDurEnv("DHUAN_BACKOFF_CAP", 30*time.Second),
		MaxSubscribeTry:  getIntEnv("DHUAN_MAX_SUBSCRIBE_TRIES", 6),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func getDurEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
