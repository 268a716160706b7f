package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	App        App        `yaml:"app"`
	HTTP       HTTP       `yaml:"http"`
	Log        Log        `yaml:"log"`
	Postgres   Postgres   `yaml:"postgres"`
	Redis      Redis      `yaml:"redis"`
	Kafka      Kafka      `yaml:"kafka"`
	Webhook    Webhook    `yaml:"webhook"`
	Square     Square     `yaml:"square"`
	QuickBooks QuickBooks `yaml:"quickbooks"`
	Worker     Worker     `yaml:"worker"`
	Reconcile  Reconcile  `yaml:"reconcile"`
	Mapping    Mapping    `yaml:"mapping"`
}

type App struct {
	Name        string `yaml:"name" env:"APP_NAME" env-default:"sq-qb-integration"`
	Version     string `yaml:"version" env:"APP_VERSION" env-default:"1.0.0"`
	Environment string `yaml:"environment" env:"APP_ENV" env-default:"development"`
}

type HTTP struct {
	Port string `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
}

type Log struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

type Postgres struct {
	Host     string `yaml:"host" env:"POSTGRES_HOST" env-default:"localhost"`
	Port     string `yaml:"port" env:"POSTGRES_PORT" env-default:"5432"`
	User     string `yaml:"user" env:"POSTGRES_USER" env-default:"user"`
	Password string `yaml:"password" env:"POSTGRES_PASSWORD" env-default:"password"`
	DBName   string `yaml:"dbname" env:"POSTGRES_DB" env-default:"sq_qb_db"`
}

type Redis struct {
	Addr         string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	PoolSize     int    `yaml:"pool_size" env:"REDIS_POOL_SIZE" env-default:"10"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"REDIS_MIN_IDLE_CONNS" env-default:"2"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	Topic   string   `yaml:"topic" env:"KAFKA_TOPIC" env-default:"integration-alerts"`
}

// Webhook carries the inbound signature settings. AllowTestSignature only
// takes effect outside production; see signature.Validator.
type Webhook struct {
	SignatureKey       string `yaml:"signature_key" env:"SQUARE_WEBHOOK_SIGNATURE_KEY"`
	NotificationURL    string `yaml:"notification_url" env:"SQUARE_WEBHOOK_NOTIFICATION_URL"`
	AllowTestSignature bool   `yaml:"allow_test_signature" env:"ALLOW_TEST_SIGNATURE" env-default:"false"`
}

type Square struct {
	BaseURL     string        `yaml:"base_url" env:"SQUARE_BASE_URL" env-default:"https://connect.squareup.com"`
	AccessToken string        `yaml:"access_token" env:"SQUARE_ACCESS_TOKEN"`
	LocationID  string        `yaml:"location_id" env:"SQUARE_LOCATION_ID"`
	Timeout     time.Duration `yaml:"timeout" env:"SQUARE_TIMEOUT" env-default:"10s"`
}

type QuickBooks struct {
	BaseURL     string        `yaml:"base_url" env:"QBO_BASE_URL" env-default:"https://quickbooks.api.intuit.com"`
	RealmID     string        `yaml:"realm_id" env:"QBO_REALM_ID"`
	AccessToken string        `yaml:"access_token" env:"QBO_ACCESS_TOKEN"`
	Timeout     time.Duration `yaml:"timeout" env:"QBO_TIMEOUT" env-default:"15s"`
}

type Worker struct {
	Concurrency       int           `yaml:"concurrency" env:"WORKER_CONCURRENCY" env-default:"5"`
	RateLimit         int           `yaml:"rate_limit" env:"WORKER_RATE_LIMIT" env-default:"10"`
	RateWindow        time.Duration `yaml:"rate_window" env:"WORKER_RATE_WINDOW" env-default:"60s"`
	PollInterval      time.Duration `yaml:"poll_interval" env:"WORKER_POLL_INTERVAL" env-default:"1s"`
	LeaseTTL          time.Duration `yaml:"lease_ttl" env:"WORKER_LEASE_TTL" env-default:"60s"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"WORKER_HEARTBEAT_INTERVAL" env-default:"20s"`
	DrainTimeout      time.Duration `yaml:"drain_timeout" env:"WORKER_DRAIN_TIMEOUT" env-default:"30s"`
	MetricsPort       string        `yaml:"metrics_port" env:"WORKER_METRICS_PORT" env-default:"9091"`
}

type Reconcile struct {
	Interval    time.Duration `yaml:"interval" env:"RECONCILE_INTERVAL" env-default:"1h"`
	Exclusion   time.Duration `yaml:"exclusion" env:"RECONCILE_EXCLUSION" env-default:"30m"`
	Window      time.Duration `yaml:"window" env:"RECONCILE_WINDOW" env-default:"2h"`
	MetricsPort string        `yaml:"metrics_port" env:"RECONCILE_METRICS_PORT" env-default:"9092"`
}

// Mapping holds the QuickBooks references the default transformation
// strategy writes into generated sales receipts.
type Mapping struct {
	DefaultStrategy     string `yaml:"default_strategy" env:"MAPPING_DEFAULT_STRATEGY" env-default:"default"`
	CustomerID          string `yaml:"customer_id" env:"QBO_CUSTOMER_ID" env-default:"1"`
	DefaultItemID       string `yaml:"default_item_id" env:"QBO_DEFAULT_ITEM_ID" env-default:"1"`
	TipItemID           string `yaml:"tip_item_id" env:"QBO_TIP_ITEM_ID" env-default:"2"`
	ServiceChargeItemID string `yaml:"service_charge_item_id" env:"QBO_SERVICE_CHARGE_ITEM_ID" env-default:"3"`
	DiscountItemID      string `yaml:"discount_item_id" env:"QBO_DISCOUNT_ITEM_ID" env-default:"4"`
}

func New() (*Config, error) {
	cfg := &Config{}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		// fallback to env vars if file not found
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("config error: %w", err)
		}
	} else {
		// Allow env vars to override config file
		cleanenv.ReadEnv(cfg)
	}

	return cfg, nil
}
