package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	Environment string
	SQLitePath  string
	// Operational threshold for "orders needing attention" queries
	AttentionThresholdHours int
	// Kafka Configuration (notification dispatch)
	KafkaBrokers     []string
	KafkaTopicOrders string
	KafkaClientID    string
	KafkaAcks        string
	KafkaRetries     int
	// Redis Configuration (read-side cache)
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	CacheTTLSecs  int
}

func Load() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Parse Kafka brokers (comma-separated)
	kafkaBrokersStr := getEnv("KAFKA_BROKERS", "localhost:9093")
	kafkaBrokers := strings.Split(kafkaBrokersStr, ",")
	for i, broker := range kafkaBrokers {
		kafkaBrokers[i] = strings.TrimSpace(broker)
	}

	return &Config{
		Port:                    getEnv("PORT", "8080"),
		Environment:             getEnv("ENVIRONMENT", "development"),
		SQLitePath:              getEnv("SQLITE_PATH", "./data/fulfillment.db"),
		AttentionThresholdHours: getEnvAsInt("ATTENTION_THRESHOLD_HOURS", 48),
		KafkaBrokers:            kafkaBrokers,
		KafkaTopicOrders:        getEnv("KAFKA_TOPIC_ORDERS", "fulfillment.orders"),
		KafkaClientID:           getEnv("KAFKA_CLIENT_ID", "fulfillment-service"),
		KafkaAcks:               getEnv("KAFKA_ACKS", "all"),
		KafkaRetries:            getEnvAsInt("KAFKA_RETRIES", 3),
		RedisHost:               getEnv("REDIS_HOST", "localhost"),
		RedisPort:               getEnv("REDIS_PORT", "6379"),
		RedisPassword:           getEnv("REDIS_PASSWORD", ""),
		RedisDB:                 getEnvAsInt("REDIS_DB", 0),
		CacheTTLSecs:            getEnvAsInt("CACHE_TTL_SECONDS", 30),
	}
}

func getEnvAsInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return result
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
