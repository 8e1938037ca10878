package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port           int
	NatsURL        string
	NatsToken      string
	DatabaseURL    string
	LogLevel       string
	APIToken       string
	MaxTextLen     int
	ChannelHistory int
	GlobalBuffer   int
	SweepInterval  int // seconds
	StaleThreshold int // minutes
}

func Load() Config {
	return Config{
		Port:           envInt("WEAVE_PORT", 8780),
		NatsURL:        envStr("NATS_URL", "nats://localhost:4222"),
		NatsToken:      envStr("NATS_TOKEN", ""),
		DatabaseURL:    envStr("DATABASE_URL", ""),
		LogLevel:       envStr("LOG_LEVEL", "info"),
		APIToken:       envStr("WEAVE_API_TOKEN", ""),
		MaxTextLen:     envInt("WEAVE_MAX_TEXT_LEN", 10000),
		ChannelHistory: envInt("WEAVE_CHANNEL_HISTORY", 100),
		GlobalBuffer:   envInt("WEAVE_GLOBAL_BUFFER", 1000),
		SweepInterval:  envInt("WEAVE_SWEEP_INTERVAL_SECONDS", 60),
		StaleThreshold: envInt("WEAVE_STALE_THRESHOLD_MINUTES", 30),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
