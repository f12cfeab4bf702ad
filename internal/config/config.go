package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port      string          `yaml:"port"`
	Store     StoreConfig     `yaml:"store"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Location  LocationConfig  `yaml:"location"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Auth      AuthConfig      `yaml:"auth"`
	Push      PushConfig      `yaml:"push"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Services  ServicesConfig  `yaml:"services"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type StoreConfig struct {
	Driver      string `yaml:"driver"`
	PostgresURL string `yaml:"postgres_url"`
}

type KafkaConfig struct {
	Brokers     []string `yaml:"brokers"`
	EventsTopic string   `yaml:"events_topic"`
	GroupID     string   `yaml:"group_id"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

type LocationConfig struct {
	Store       string        `yaml:"store"`
	PositionTTL time.Duration `yaml:"position_ttl"`
}

type CatalogConfig struct {
	File string `yaml:"file"`
}

type AuthConfig struct {
	JWTSecret            string `yaml:"jwt_secret"`
	PaymentWebhookSecret string `yaml:"payment_webhook_secret"`
}

type PushConfig struct {
	ServiceURL   string `yaml:"service_url"`
	MQTTBroker   string `yaml:"mqtt_broker"`
	MQTTClientID string `yaml:"mqtt_client_id"`
}

type DispatchConfig struct {
	OfferTimeout      time.Duration `yaml:"offer_timeout"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
}

type ServicesConfig struct {
	OrdersURL   string `yaml:"orders_url"`
	LocationURL string `yaml:"location_url"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

func Defaults(port string) *Config {
	return &Config{
		Port: port,
		Store: StoreConfig{
			Driver: "postgres",
		},
		Kafka: KafkaConfig{
			EventsTopic: "order.events",
			GroupID:     "push-worker",
		},
		Location: LocationConfig{
			Store:       "memory",
			PositionTTL: time.Hour,
		},
		Push: PushConfig{
			MQTTClientID: "deliveryflow",
		},
		Dispatch: DispatchConfig{
			OfferTimeout:      2 * time.Minute,
			ReconcileInterval: 15 * time.Second,
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "localhost:4317",
		},
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// CONFIG_FILE, then environment variables. A .env file in the working
// directory is loaded into the environment first when present.
func Load(defaultPort string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults(defaultPort)
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.Port, "PORT")
	setString(&c.Store.Driver, "STORE_DRIVER")
	setString(&c.Store.PostgresURL, "POSTGRES_URL")
	setString(&c.Kafka.EventsTopic, "EVENTS_TOPIC")
	setString(&c.Kafka.GroupID, "KAFKA_GROUP_ID")
	setString(&c.Redis.URL, "REDIS_URL")
	setString(&c.Location.Store, "LOCATION_STORE")
	setString(&c.Catalog.File, "CATALOG_FILE")
	setString(&c.Auth.JWTSecret, "JWT_SECRET")
	setString(&c.Auth.PaymentWebhookSecret, "PAYMENT_WEBHOOK_SECRET")
	setString(&c.Push.ServiceURL, "PUSH_SERVICE_URL")
	setString(&c.Push.MQTTBroker, "MQTT_BROKER")
	setString(&c.Push.MQTTClientID, "MQTT_CLIENT_ID")
	setString(&c.Services.OrdersURL, "ORDERS_SERVICE_URL")
	setString(&c.Services.LocationURL, "LOCATION_SERVICE_URL")
	setString(&c.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Brokers = strings.Split(brokers, ",")
	}

	if err := setDuration(&c.Dispatch.OfferTimeout, "DISPATCH_OFFER_TIMEOUT"); err != nil {
		return err
	}
	if err := setDuration(&c.Location.PositionTTL, "LOCATION_POSITION_TTL"); err != nil {
		return err
	}
	return setDuration(&c.Dispatch.ReconcileInterval, "RECONCILE_INTERVAL")
}

func setString(dst *string, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}

func setDuration(dst *time.Duration, key string) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

