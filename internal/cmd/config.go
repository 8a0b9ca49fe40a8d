package main

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        string
	TokenSecret string
	TokenTTL    time.Duration

	AutoContinue bool

	RoomGracePeriod time.Duration
	HostGracePeriod time.Duration

	Database DatabaseConfig
	Valkey   ValkeyConfig
	NATSURL  string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

type ValkeyConfig struct {
	Address  string
	Password string
}

func loadConfig() Config {
	return Config{
		Port:            getEnv("PORT", "8080"),
		TokenSecret:     getEnv("TOKEN_SECRET", ""),
		TokenTTL:        getEnvAsDuration("TOKEN_TTL", 12*time.Hour),
		AutoContinue:    getEnvAsBool("TIMER_AUTO_CONTINUE", false),
		RoomGracePeriod: getEnvAsDuration("ROOM_GRACE_PERIOD", 30*time.Second),
		HostGracePeriod: getEnvAsDuration("HOST_GRACE_PERIOD", 10*time.Second),
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			Database: getEnv("DB_NAME", "focusroom"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Valkey: ValkeyConfig{
			Address:  getEnv("VALKEY_ADDR", "localhost:6379"),
			Password: getEnv("VALKEY_PASSWORD", ""),
		},
		NATSURL: getEnv("NATS_URL", "nats://localhost:4222"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
