// Package config loads process configuration from the environment and API
// keys from a secrets document. Both are read once at startup.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

const (
	DefaultBucketID    = "tsc-gtfs-data"
	DefaultSecretsPath = "/etc/secrets/gtfs_secrets.json"
)

type Config struct {
	BucketID    string `validate:"required"`
	SecretsPath string `validate:"required"`

	TrainTrackerURL string `validate:"omitempty,url"` // Empty uses the archive package default.
	BusTrackerURL   string `validate:"omitempty,url"`
	StaticGTFSURL   string `validate:"omitempty,url"`
	BusRoutesFile   string // Empty uses the embedded route list.
	BusConcurrency  int    `validate:"gte=1"`

	HTTPTimeout      time.Duration `validate:"gt=0"`
	RetryMaxAttempts int           `validate:"gte=1"`

	KafkaAddress       string
	KafkaGroupID       string
	KafkaRealtimeTopic string
	KafkaStaticTopic   string

	StaticInterval time.Duration `validate:"gte=1m"` // How often schedule emits static triggers.

	PostgresURL string // Empty disables the archive ledger.

	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=json console"`
}

// KafkaConfig is the subset of Config needed to consume triggers.
type KafkaConfig struct {
	Address       string `validate:"required"`
	GroupID       string `validate:"required"`
	RealtimeTopic string `validate:"required"`
	StaticTopic   string `validate:"required,nefield=RealtimeTopic"`
}

// Secrets are the upstream API keys.
type Secrets struct {
	TrainTrackerAPIKey string `json:"trainTrackerApiKey" validate:"required"`
	BusTrackerAPIKey   string `json:"busTrackerApiKey" validate:"required"`
}

var validate = validator.New()

// Load reads configuration from environment variables, applying defaults.
func Load() (*Config, error) {
	cfg := &Config{
		BucketID:    getEnv("BUCKET_ID", DefaultBucketID),
		SecretsPath: getEnv("SECRETS_PATH", DefaultSecretsPath),

		TrainTrackerURL: getEnv("TRAIN_TRACKER_URL", ""),
		BusTrackerURL:   getEnv("BUS_TRACKER_URL", ""),
		StaticGTFSURL:   getEnv("STATIC_GTFS_URL", ""),
		BusRoutesFile:   getEnv("BUS_ROUTES_FILE", ""),
		BusConcurrency:  getEnvInt("BUS_CONCURRENCY", 4),

		HTTPTimeout:      time.Duration(getEnvInt("HTTP_TIMEOUT_SECONDS", 120)) * time.Second,
		RetryMaxAttempts: getEnvInt("RETRY_MAX_ATTEMPTS", 3),

		KafkaAddress:       getEnv("KAFKA_ADDRESS", ""),
		KafkaGroupID:       getEnv("KAFKA_GROUP_ID", "transit-archive"),
		KafkaRealtimeTopic: getEnv("KAFKA_REALTIME_TOPIC", "fetch-realtime"),
		KafkaStaticTopic:   getEnv("KAFKA_STATIC_TOPIC", "fetch-static"),

		StaticInterval: time.Duration(getEnvInt("STATIC_INTERVAL_MINUTES", 60)) * time.Minute,

		PostgresURL: getEnv("POSTGRES_URL", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// Kafka returns the validated trigger consumer settings.
func (c *Config) Kafka() (KafkaConfig, error) {
	k := KafkaConfig{
		Address:       c.KafkaAddress,
		GroupID:       c.KafkaGroupID,
		RealtimeTopic: c.KafkaRealtimeTopic,
		StaticTopic:   c.KafkaStaticTopic,
	}
	if err := validate.Struct(k); err != nil {
		return KafkaConfig{}, errors.Wrap(err, "invalid kafka configuration")
	}
	return k, nil
}

// LoadSecrets reads the secrets document at path.
func LoadSecrets(path string) (*Secrets, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read secrets from %s", path)
	}
	return ParseSecrets(b)
}

// ParseSecrets unmarshals and validates a secrets document.
func ParseSecrets(b []byte) (*Secrets, error) {
	var s Secrets
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal secrets")
	}
	if err := validate.Struct(s); err != nil {
		return nil, errors.Wrap(err, "invalid secrets")
	}
	return &s, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
