package config

import (
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"go.yaml.in/yaml/v4"
)

// EnvPrefix is prepended to every environment override, e.g. TRACKENGINE_DATABASE_HOST.
const EnvPrefix = "TRACKENGINE"

type Config struct {
	Logger   LoggerConfig   `yaml:"logger"`
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Auth     AuthConfig     `yaml:"auth"`
	Shop     ShopConfig     `yaml:"shop"`
	API      APIConfig      `yaml:"api"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Worker   WorkerConfig   `yaml:"worker"`
}

type LoggerConfig struct {
	Mode  string `yaml:"mode"`
	Level string `yaml:"level"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name" envconfig:"NAME"`
	SSLMode  string `yaml:"ssl_mode" split_words:"true"`
}

type KafkaConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	CarrierEventsTopic string `yaml:"carrier_events_topic" split_words:"true"`
}

type RedisConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	KeyPrefix string `yaml:"key_prefix" split_words:"true"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" envconfig:"JWT_SECRET"`
}

type ShopConfig struct {
	BaseURL      string `yaml:"base_url" envconfig:"BASE_URL"`
	ServiceToken string `yaml:"service_token" split_words:"true"`
}

type APIConfig struct {
	HTTPAddr                string   `yaml:"http_addr" envconfig:"HTTP_ADDR"`
	KafkaConsumerGroup      string   `yaml:"kafka_consumer_group" split_words:"true"`
	CurrentStatusTTLSeconds int      `yaml:"current_status_ttl_seconds" envconfig:"CURRENT_STATUS_TTL_SECONDS"`
	DispatchTimeoutSeconds  int      `yaml:"dispatch_timeout_seconds" split_words:"true"`
	AllowedOrigins          []string `yaml:"allowed_origins" split_words:"true"`
	DelayedScanSchedule     string   `yaml:"delayed_scan_schedule" split_words:"true"`
}

type RealtimeConfig struct {
	RedisChannel          string `yaml:"redis_channel" split_words:"true"`
	IngressLimitPerMinute int    `yaml:"ingress_limit_per_minute" split_words:"true"`
	OutboundBuffer        int    `yaml:"outbound_buffer" split_words:"true"`
	HeartbeatSeconds      int    `yaml:"heartbeat_seconds" split_words:"true"`
}

type WorkerConfig struct {
	HTTPAddr string `yaml:"http_addr" envconfig:"HTTP_ADDR"`

	PollIntervalSeconds int            `yaml:"poll_interval_seconds" split_words:"true"`
	BatchSize           int            `yaml:"batch_size" split_words:"true"`
	Concurrency         int            `yaml:"concurrency"`
	LeaseSeconds        int            `yaml:"lease_seconds" split_words:"true"`
	RateLimitPerMinute  int            `yaml:"rate_limit_per_minute" split_words:"true"`
	CarrierRateLimits   map[string]int `yaml:"carrier_rate_limits" split_words:"true"`

	// Scheduling. Unset values fall back to the planner defaults:
	// moving shipments 30..120 minutes, idle 90 minutes, backoff 5/15/30/60 minutes.
	NextCheckMovingMinSeconds int `yaml:"next_check_moving_min_seconds" split_words:"true"`
	NextCheckMovingMaxSeconds int `yaml:"next_check_moving_max_seconds" split_words:"true"`
	NextCheckIdleSeconds      int `yaml:"next_check_idle_seconds" split_words:"true"`
	Backoff1Seconds           int `yaml:"backoff_1_seconds" envconfig:"BACKOFF_1_SECONDS"`
	Backoff2Seconds           int `yaml:"backoff_2_seconds" envconfig:"BACKOFF_2_SECONDS"`
	Backoff3Seconds           int `yaml:"backoff_3_seconds" envconfig:"BACKOFF_3_SECONDS"`
	Backoff4Seconds           int `yaml:"backoff_4_seconds" envconfig:"BACKOFF_4_SECONDS"`

	CarrierMode    string `yaml:"carrier_mode" split_words:"true"` // "fake" | "emulator"
	CarrierBaseURL string `yaml:"carrier_base_url" envconfig:"CARRIER_BASE_URL"`
	CarrierAPIKey  string `yaml:"carrier_api_key" envconfig:"CARRIER_API_KEY"`
}

func (d DatabaseConfig) ConnString() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.DBName, sslMode)
}

func (k KafkaConfig) Brokers() []string {
	return []string{fmt.Sprintf("%s:%d", k.Host, k.Port)}
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// LoadConfig reads the YAML file, then applies TRACKENGINE_* environment overrides.
// An empty filename means environment only.
func LoadConfig(filename string) (*Config, error) {
	var config Config
	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read config file")
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal YAML")
		}
	}

	if err := envconfig.Process(EnvPrefix, &config); err != nil {
		return nil, errors.Wrap(err, "failed to apply env overrides")
	}
	return &config, nil
}
