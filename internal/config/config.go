package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBUser     string
	DBPassword string
	DBName     string
	DBHost     string
	DBPort     string

	RedisHost     string
	RedisPort     string
	RedisPassword string

	BotToken    string
	AdminChatID int64

	ReconcileInterval time.Duration
	TrafficInterval   time.Duration
	ExpiryInterval    time.Duration

	TrafficGrace time.Duration
	ExpiryGrace  time.Duration

	RemoteConcurrency int64
	ExemptUserIDs     []int64
}

func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	return &Config{
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "veilbot"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		BotToken:    getEnv("TELEGRAM_BOT_TOKEN", ""),
		AdminChatID: getEnvInt64("ADMIN_CHAT_ID", 0),

		ReconcileInterval: getEnvDuration("RECONCILE_INTERVAL", time.Hour),
		TrafficInterval:   getEnvDuration("TRAFFIC_INTERVAL", 10*time.Minute),
		ExpiryInterval:    getEnvDuration("EXPIRY_INTERVAL", time.Hour),

		TrafficGrace: getEnvDuration("TRAFFIC_GRACE", 24*time.Hour),
		ExpiryGrace:  getEnvDuration("EXPIRY_GRACE", 24*time.Hour),

		RemoteConcurrency: getEnvInt64("REMOTE_CONCURRENCY", 10),
		ExemptUserIDs:     getEnvInt64List("EXEMPT_USER_IDS"),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		log.Printf("Invalid value for %s: %q, using default", key, value)
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("Invalid value for %s: %q, using default", key, value)
		return fallback
	}
	return parsed
}

func getEnvInt64List(key string) []int64 {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return nil
	}
	var ids []int64
	for _, part := range strings.Split(value, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			log.Printf("Invalid entry in %s: %q, skipping", key, part)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
