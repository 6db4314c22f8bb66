package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const configFileEnv = "REWEAR_CONFIG"

type Config struct {
	ServerPort int            `yaml:"server_port"`
	JWT        JWTConfig      `yaml:"jwt"`
	Database   DatabaseConfig `yaml:"database"`
	Storage    StorageConfig  `yaml:"storage"`
	MQ         MQConfig       `yaml:"mq"`
	Points     PointsConfig   `yaml:"points"`
	Log        LogConfig      `yaml:"log"`
}

type JWTConfig struct {
	Secret   string        `yaml:"secret"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	UseSSL   bool   `yaml:"use_ssl"`
}

// StorageConfig selects the object storage used for item images.
// Backend is one of "minio", "gcs" or "none".
type StorageConfig struct {
	Backend       string      `yaml:"backend"`
	PublicBaseURL string      `yaml:"public_base_url"`
	Minio         MinioConfig `yaml:"minio"`
	GCS           GCSConfig   `yaml:"gcs"`
}

type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type GCSConfig struct {
	Bucket          string `yaml:"bucket"`
	ProjectID       string `yaml:"project_id"`
	CredentialsFile string `yaml:"credentials_file"`
}

// MQConfig selects the bus exchange events are published on.
// Backend is one of "rabbitmq", "pubsub" or "none".
type MQConfig struct {
	Backend  string         `yaml:"backend"`
	Channel  string         `yaml:"channel"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	PubSub   PubSubConfig   `yaml:"pubsub"`
}

type RabbitMQConfig struct {
	URL             string `yaml:"url"`
	PrefetchCount   int    `yaml:"prefetch_count"`
	QueueDurable    bool   `yaml:"queue_durable"`
	QueueAutoDelete bool   `yaml:"queue_auto_delete"`
	// QueueSuffix names the subscriber group's queue: <channel><suffix>.
	QueueSuffix string `yaml:"queue_suffix"`
}

type PubSubConfig struct {
	ProjectID          string `yaml:"project_id"`
	CredentialsFile    string `yaml:"credentials_file"`
	SubscriptionSuffix string `yaml:"subscription_suffix"`
}

// PointsConfig holds the points economy constants.
type PointsConfig struct {
	Starting      int `yaml:"starting"`
	ListingReward int `yaml:"listing_reward"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		ServerPort: 8080,
		JWT: JWTConfig{
			TokenTTL: 24 * time.Hour,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "rewear",
			Password: "password",
			DBName:   "rewear_db",
		},
		Storage: StorageConfig{
			Backend: "none",
		},
		MQ: MQConfig{
			Backend: "none",
			Channel: "rewear.exchange",
		},
		Points: PointsConfig{
			Starting: 100,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig builds the configuration from defaults, an optional YAML file
// named by REWEAR_CONFIG and the environment, in increasing precedence.
func LoadConfig() (Config, error) {
	if os.Getenv("ENV") == "dev" {
		_ = godotenv.Load()
	}

	cfg := Default()
	if path := strings.TrimSpace(os.Getenv(configFileEnv)); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.overrideWithEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (c *Config) overrideWithEnv() {
	c.ServerPort = getEnvInt("SERVER_PORT", c.ServerPort)

	c.JWT.Secret = getEnv("JWT_SECRET", c.JWT.Secret)
	c.JWT.TokenTTL = getEnvDuration("JWT_TOKEN_TTL", c.JWT.TokenTTL)

	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnvInt("DB_PORT", c.Database.Port)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.DBName = getEnv("DB_NAME", c.Database.DBName)
	c.Database.UseSSL = getEnvBool("DB_USE_SSL", c.Database.UseSSL)

	c.Storage.Backend = getEnv("STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.PublicBaseURL = getEnv("STORAGE_PUBLIC_BASE_URL", c.Storage.PublicBaseURL)
	c.Storage.Minio.Endpoint = getEnv("MINIO_ENDPOINT", c.Storage.Minio.Endpoint)
	c.Storage.Minio.AccessKey = getEnv("MINIO_ACCESS_KEY", c.Storage.Minio.AccessKey)
	c.Storage.Minio.SecretKey = getEnv("MINIO_SECRET_KEY", c.Storage.Minio.SecretKey)
	c.Storage.Minio.Bucket = getEnv("MINIO_BUCKET", c.Storage.Minio.Bucket)
	c.Storage.Minio.UseSSL = getEnvBool("MINIO_USE_SSL", c.Storage.Minio.UseSSL)
	c.Storage.GCS.Bucket = getEnv("GCS_BUCKET", c.Storage.GCS.Bucket)
	c.Storage.GCS.ProjectID = getEnv("GCS_PROJECT_ID", c.Storage.GCS.ProjectID)
	c.Storage.GCS.CredentialsFile = getEnv("GCS_CREDENTIALS_FILE", c.Storage.GCS.CredentialsFile)

	c.MQ.Backend = getEnv("MQ_BACKEND", c.MQ.Backend)
	c.MQ.Channel = getEnv("MQ_CHANNEL", c.MQ.Channel)
	c.MQ.RabbitMQ.URL = getEnv("RABBITMQ_URL", c.MQ.RabbitMQ.URL)
	c.MQ.RabbitMQ.PrefetchCount = getEnvInt("RABBITMQ_PREFETCH", c.MQ.RabbitMQ.PrefetchCount)
	c.MQ.RabbitMQ.QueueDurable = getEnvBool("RABBITMQ_QUEUE_DURABLE", c.MQ.RabbitMQ.QueueDurable)
	c.MQ.RabbitMQ.QueueAutoDelete = getEnvBool("RABBITMQ_QUEUE_AUTO_DELETE", c.MQ.RabbitMQ.QueueAutoDelete)
	c.MQ.RabbitMQ.QueueSuffix = getEnv("RABBITMQ_QUEUE_SUFFIX", c.MQ.RabbitMQ.QueueSuffix)
	c.MQ.PubSub.ProjectID = getEnv("PUBSUB_PROJECT_ID", c.MQ.PubSub.ProjectID)
	c.MQ.PubSub.CredentialsFile = getEnv("PUBSUB_CREDENTIALS_FILE", c.MQ.PubSub.CredentialsFile)
	c.MQ.PubSub.SubscriptionSuffix = getEnv("PUBSUB_SUBSCRIPTION_SUFFIX", c.MQ.PubSub.SubscriptionSuffix)

	c.Points.Starting = getEnvInt("STARTING_POINTS", c.Points.Starting)
	c.Points.ListingReward = getEnvInt("LISTING_REWARD_POINTS", c.Points.ListingReward)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
}

// Validate rejects values the server cannot run with.
func (c Config) Validate() error {
	if c.ServerPort < 0 || c.ServerPort > 65535 {
		return fmt.Errorf("server port %d out of range", c.ServerPort)
	}
	if c.Points.Starting < 0 {
		return fmt.Errorf("starting points must not be negative")
	}
	if c.Points.ListingReward < 0 {
		return fmt.Errorf("listing reward must not be negative")
	}
	switch c.Storage.Backend {
	case "", "none", "minio", "gcs":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	switch c.MQ.Backend {
	case "", "none", "rabbitmq", "pubsub":
	default:
		return fmt.Errorf("unknown mq backend %q", c.MQ.Backend)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(key); exists {
		value, err := strconv.Atoi(strings.TrimSpace(valueStr))
		if err != nil {
			return defaultValue
		}
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if valueStr, exists := os.LookupEnv(key); exists {
		value, err := strconv.ParseBool(strings.TrimSpace(valueStr))
		if err != nil {
			return defaultValue
		}
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if valueStr, exists := os.LookupEnv(key); exists {
		value, err := time.ParseDuration(strings.TrimSpace(valueStr))
		if err != nil {
			return defaultValue
		}
		return value
	}
	return defaultValue
}
