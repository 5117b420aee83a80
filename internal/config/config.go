package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Role        string
	APIPort     int
	DatabaseURL string
	RedisURL    string
	WorkerName  string
	AdminToken  string

	RabbitMQHost     string
	RabbitMQPort     int
	RabbitMQUser     string
	RabbitMQPassword string
	RabbitMQVHost    string

	BaseDelayMS   int
	MaxAttempts   int
	Prefetch      int
	HTTPTimeoutMS int
}

// AMQPURL builds the amqp:// DSN amqp091-go expects from the discrete
// RabbitMQ fields.
func (c *Config) AMQPURL() string {
	vhost := c.RabbitMQVHost
	if !strings.HasPrefix(vhost, "/") {
		vhost = "/" + vhost
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%d%s", c.RabbitMQUser, c.RabbitMQPassword, c.RabbitMQHost, c.RabbitMQPort, vhost)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func Parse() (*Config, error) {
	role := getenv("ROLE", "api")
	port, err := getenvInt("API_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid API_PORT: %w", err)
	}
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if _, err := url.Parse(dbURL); err != nil {
		return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	rmqPort, err := getenvInt("RABBITMQ_PORT", 5672)
	if err != nil {
		return nil, fmt.Errorf("invalid RABBITMQ_PORT: %w", err)
	}
	baseDelay, err := getenvInt("BASE_DELAY_MS", 5000)
	if err != nil {
		return nil, fmt.Errorf("invalid BASE_DELAY_MS: %w", err)
	}
	maxAttempts, err := getenvInt("MAX_ATTEMPTS", 5)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_ATTEMPTS: %w", err)
	}
	prefetch, err := getenvInt("PREFETCH", 5)
	if err != nil {
		return nil, fmt.Errorf("invalid PREFETCH: %w", err)
	}
	httpTimeout, err := getenvInt("HTTP_TIMEOUT_MS", 10000)
	if err != nil {
		return nil, fmt.Errorf("invalid HTTP_TIMEOUT_MS: %w", err)
	}

	return &Config{
		Role:        role,
		APIPort:     port,
		DatabaseURL: dbURL,
		RedisURL:    redisURL,
		WorkerName:  getenv("WORKER_NAME", "worker-1"),
		AdminToken:  getenv("ADMIN_TOKEN", ""),

		RabbitMQHost:     getenv("RABBITMQ_HOST", "localhost"),
		RabbitMQPort:     rmqPort,
		RabbitMQUser:     getenv("RABBITMQ_USER", "guest"),
		RabbitMQPassword: getenv("RABBITMQ_PASSWORD", "guest"),
		RabbitMQVHost:    getenv("RABBITMQ_VHOST", "/"),

		BaseDelayMS:   baseDelay,
		MaxAttempts:   maxAttempts,
		Prefetch:      prefetch,
		HTTPTimeoutMS: httpTimeout,
	}, nil
}
