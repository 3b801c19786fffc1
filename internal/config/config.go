package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var ErrMissingAPIKey = errors.New("SDK_API_KEY is not set")

type Config struct {
	Environment string
	LogLevel    string
	SDK         SDKConfig
	Storage     StorageConfig
	Kafka       KafkaConfig
}

// SDKConfig carries the local defaults. Values pushed by the server
// override the session timeout, upload interval and influence-open window.
type SDKConfig struct {
	APIKey                string
	APISecret             string
	SessionTimeout        time.Duration
	UploadInterval        time.Duration
	BreadcrumbLimit       int
	InfluenceOpenTimeout  time.Duration
	ReportUncaughtErrors  bool
	AppVersion            string
	AppPackage            string
	DeviceModel           string
	OSVersion             string
	OrphanRecoveryOnStart bool
}

type StorageConfig struct {
	Path        string
	BusyTimeout time.Duration
}

type KafkaConfig struct {
	Enabled          bool
	Brokers          []string
	TriggerTopic     string
	ConfigTopic      string
	ConsumerGroup    string
	ProducerRetries  int
	ProducerTimeout  time.Duration
	RequiredAcks     int
	CompressionType  string
	MaxMessageBytes  int
	IdempotentWrites bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()
	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
	}

	cfg.SDK = SDKConfig{
		APIKey:                getEnv("SDK_API_KEY", ""),
		APISecret:             getEnv("SDK_API_SECRET", ""),
		SessionTimeout:        getEnvAsDuration("SDK_SESSION_TIMEOUT", 60*time.Second),
		UploadInterval:        getEnvAsDuration("SDK_UPLOAD_INTERVAL", 600*time.Second),
		BreadcrumbLimit:       getEnvAsInt("SDK_BREADCRUMB_LIMIT", 50),
		InfluenceOpenTimeout:  getEnvAsDuration("SDK_INFLUENCE_OPEN_TIMEOUT", 30*time.Minute),
		ReportUncaughtErrors:  getEnvAsBool("SDK_REPORT_UNCAUGHT_ERRORS", false),
		AppVersion:            getEnv("SDK_APP_VERSION", "0.0.0"),
		AppPackage:            getEnv("SDK_APP_PACKAGE", "com.example.app"),
		DeviceModel:           getEnv("SDK_DEVICE_MODEL", "generic"),
		OSVersion:             getEnv("SDK_OS_VERSION", "unknown"),
		OrphanRecoveryOnStart: getEnvAsBool("SDK_END_ORPHAN_SESSIONS", true),
	}

	cfg.Storage = StorageConfig{
		Path:        getEnv("SDK_DB_PATH", "mparticle.db"),
		BusyTimeout: getEnvAsDuration("SDK_DB_BUSY_TIMEOUT", 5*time.Second),
	}

	brokers := getEnv("KAFKA_BROKERS", "localhost:9092")
	cfg.Kafka = KafkaConfig{
		Enabled:          getEnvAsBool("KAFKA_ENABLED", false),
		Brokers:          strings.Split(brokers, ","),
		TriggerTopic:     getEnv("KAFKA_TOPIC_UPLOAD_TRIGGERS", "sdk-upload-triggers"),
		ConfigTopic:      getEnv("KAFKA_TOPIC_CONFIG", "sdk-config"),
		ConsumerGroup:    getEnv("KAFKA_CONSUMER_GROUP", "sdk-agent"),
		ProducerRetries:  getEnvAsInt("KAFKA_PRODUCER_RETRIES", 3),
		ProducerTimeout:  getEnvAsDuration("KAFKA_PRODUCER_TIMEOUT", 10*time.Second),
		RequiredAcks:     getEnvAsInt("KAFKA_REQUIRED_ACKS", -1),
		CompressionType:  getEnv("KAFKA_COMPRESSION", "snappy"),
		IdempotentWrites: getEnvAsBool("KAFKA_IDEMPOTENT", true),
		MaxMessageBytes:  getEnvAsInt("KAFKA_MAX_MESSAGE_BYTES", 1000000),
	}

	return cfg, nil
}

// Validate reports configuration the SDK cannot start without. A missing api
// key is not fatal for the store itself, so callers decide what to do with it.
func (c *Config) Validate() error {
	if c.SDK.APIKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Environment != "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
