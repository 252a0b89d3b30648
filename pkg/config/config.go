package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds the application configuration
type Config struct {
	Environment     string
	LogLevel        string
	Port            string
	DatabasePath    string
	Workspace       string
	Workers         int
	QueueCapacity   int
	ShutdownTimeout int
	EnableScheduler bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	config := &Config{
		Environment:     getEnv("ENVIRONMENT", "development"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		Port:            getEnv("PORT", "8080"),
		DatabasePath:    getEnv("DATABASE_PATH", "prognosis.db"),
		Workspace:       getEnv("WORKSPACE", "workspace"),
		Workers:         getEnvAsInt("WORKERS", 1),
		QueueCapacity:   getEnvAsInt("QUEUE_CAPACITY", 100),
		ShutdownTimeout: getEnvAsInt("SHUTDOWN_TIMEOUT", 30),
		EnableScheduler: getEnvAsBool("ENABLE_SCHEDULER", true),
	}

	// Validate required configuration
	if config.DatabasePath == "" {
		return nil, fmt.Errorf("DATABASE_PATH is required")
	}
	if config.Workers < 1 {
		return nil, fmt.Errorf("WORKERS must be at least 1, got %d", config.Workers)
	}
	if config.QueueCapacity < 1 {
		return nil, fmt.Errorf("QUEUE_CAPACITY must be at least 1, got %d", config.QueueCapacity)
	}

	return config, nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
