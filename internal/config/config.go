package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port               string
	DatabaseURL        string
	ClinicTimezone     string
	LifecycleInterval  time.Duration
	ProvisionOnStart   bool
	NotifInterval      time.Duration
	NotifBatchSize     int
	NotifMaxAttempts   int
	SMSProvider        string
	StaffProvider      string
	BoardPollInterval  time.Duration
	BoardBatchSize     int
	RateLimitPerMinute int
	RateLimitBurst     int
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	timezone := os.Getenv("CLINIC_TIMEZONE")
	if timezone == "" {
		timezone = "Asia/Manila"
	}

	return Config{
		Port:               port,
		DatabaseURL:        os.Getenv("DB_DSN"),
		ClinicTimezone:     timezone,
		LifecycleInterval:  readDurationSeconds("LIFECYCLE_INTERVAL_SECONDS", 60),
		ProvisionOnStart:   readBool("PROVISION_ON_START", false),
		NotifInterval:      readDurationSeconds("NOTIF_POLL_SECONDS", 5),
		NotifBatchSize:     readInt("NOTIF_BATCH_SIZE", 50),
		NotifMaxAttempts:   readInt("NOTIF_MAX_ATTEMPTS", 3),
		SMSProvider:        os.Getenv("NOTIF_SMS_PROVIDER"),
		StaffProvider:      os.Getenv("NOTIF_STAFF_PROVIDER"),
		BoardPollInterval:  readDurationSeconds("BOARD_POLL_SECONDS", 1),
		BoardBatchSize:     readInt("BOARD_BATCH_SIZE", 100),
		RateLimitPerMinute: readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:     readInt("RATE_LIMIT_BURST", 30),
	}
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
