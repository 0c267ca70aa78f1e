package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"go.yaml.in/yaml/v4"
)

// DBPasswordEnv overrides database.password when set.
const DBPasswordEnv = "BUSTRACK_DB_PASSWORD"

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Directory DirectoryConfig `yaml:"directory"`
	BusTrack  BusTrackConfig  `yaml:"bustrack"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

func (d DatabaseConfig) ConnString() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.DBName, sslMode)
}

type KafkaConfig struct {
	Host                   string `yaml:"host"`
	Port                   int    `yaml:"port"`
	PingsTopicName         string `yaml:"pings_topic_name"`
	NotificationsTopicName string `yaml:"notifications_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DirectoryConfig struct {
	Mode            string `yaml:"mode"` // "postgres" | "http"
	BaseURL         string `yaml:"base_url"`
	APIKey          string `yaml:"api_key"`
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
}

type BusTrackConfig struct {
	GRPCAddr                string `yaml:"grpc_addr"`
	HTTPAddr                string `yaml:"http_addr"`
	KafkaConsumerGroup      string `yaml:"kafka_consumer_group"`
	CurrentStatusTTLSeconds int    `yaml:"current_status_ttl_seconds"`

	// Storage selects "postgres" (default) or "memory" for local runs.
	Storage string `yaml:"storage"`

	ConnectionTimeoutSeconds     int    `yaml:"connection_timeout_seconds"`
	DisplayTimezone              string `yaml:"display_timezone"`
	UnregisteredLogWindowSeconds int    `yaml:"unregistered_log_window_seconds"`

	HistoryRetentionDays       int    `yaml:"history_retention_days"`
	WorkerSweepIntervalSeconds int    `yaml:"worker_sweep_interval_seconds"`
	WorkerSweepBatchSize       int    `yaml:"worker_sweep_batch_size"`
	WorkerHTTPAddr             string `yaml:"worker_http_addr"`
}

// LoadConfig reads a .env file when present, then the YAML file.
func LoadConfig(filename string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	if pw := os.Getenv(DBPasswordEnv); pw != "" {
		config.Database.Password = pw
	}

	return &config, nil
}
