// Package config предоставляет структуры и функцию для парсинга и загрузки конфига
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Драйверы хранилища.
const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

// Config общая структура для хранения настроек
type Config struct {
	Env                     string `yaml:"env" env:"ENV" env-default:"local"`
	StorageDriver           string `yaml:"storage_driver" env:"STORAGE_DRIVER" env-default:"postgres"`
	StorageConnectionString string `yaml:"storage_connection_string" env:"STORAGE_CONNECTION_STRING"`
	MigrationsPath          string `yaml:"migrations_path" env-default:"./migrations"`
	GRPCAddress             string `yaml:"grpc_address" env:"GRPC_ADDRESS"`
	RedisConnection         `yaml:"redis_connection"`
	HTTPServer              `yaml:"http_server"`
	AccessToken             AccessToken `yaml:"access_token"`
	Webhook                 Webhook     `yaml:"webhook"`
	Entitlement             Entitlement `yaml:"entitlement"`
	RabbitMQ                RabbitMQ    `yaml:"rabbitmq"`
}

// HTTPServer структура для настройки сервера
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env:"HTTP_ADDRESS" env-default:":8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"10s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

// RedisConnection структура для настройки подключения к redis.
// Пустой адрес отключает кеш подписок.
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis" env:"REDIS_ADDRESS"`
	Password     string        `yaml:"password" env:"REDIS_PASSWORD"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env-default:"2s"`
	TimeoutRedis time.Duration `yaml:"timeoutredis" env-default:"500ms"`
	CacheTTL     time.Duration `yaml:"cache_ttl" env-default:"30s"`
}

// AccessToken настройки выпуска токенов доступа и ротации ключа подписи.
// Предыдущий ключ только проверяет токены и только до PreviousValidUntil.
type AccessToken struct {
	TTL                time.Duration `yaml:"ttl" env-default:"60s"`
	CurrentKeyID       string        `yaml:"current_key_id" env:"ACCESS_TOKEN_KEY_ID" env-default:"k1"`
	CurrentKey         string        `yaml:"current_key" env:"ACCESS_TOKEN_KEY" env-required:"true"`
	PreviousKeyID      string        `yaml:"previous_key_id" env:"ACCESS_TOKEN_PREVIOUS_KEY_ID"`
	PreviousKey        string        `yaml:"previous_key" env:"ACCESS_TOKEN_PREVIOUS_KEY"`
	PreviousValidUntil time.Time     `yaml:"previous_valid_until"`
}

// Webhook настройки приёма уведомлений провайдера.
type Webhook struct {
	Secret         string  `yaml:"secret" env:"WEBHOOK_SECRET" env-required:"true"`
	PreviousSecret string  `yaml:"previous_secret" env:"WEBHOOK_PREVIOUS_SECRET"`
	MaxBodyBytes   int64   `yaml:"max_body_bytes" env-default:"1048576"`
	RateLimit      float64 `yaml:"rate_limit" env-default:"50"`
	RateBurst      int     `yaml:"rate_burst" env-default:"100"`
}

// Entitlement настройки периодов подписки и обращения к хранилищу.
type Entitlement struct {
	BillingMonths int           `yaml:"billing_months" env-default:"1"`
	GracePeriod   time.Duration `yaml:"grace_period" env-default:"72h"`
	TrialPeriod   time.Duration `yaml:"trial_period" env-default:"0s"`
	StoreTimeout  time.Duration `yaml:"store_timeout" env-default:"2s"`
}

// RabbitMQ настройки брокера. Пустой URL отключает публикацию изменений.
type RabbitMQ struct {
	URL         string        `yaml:"url" env:"RABBITMQ_URL"`
	MaxRetries  int           `yaml:"max_retries" env-default:"5"`
	RetryDelay  time.Duration `yaml:"retry_delay" env-default:"2s"`
	Exchange    string        `yaml:"exchange" env-default:"entitlements"`
	RoutingKey  string        `yaml:"routing_key" env-default:"changed"`
	IngestQueue string        `yaml:"ingest_queue" env-default:"payments.notifications"`
	Prefetch    int           `yaml:"prefetch" env-default:"10"`
}

// MustLoad функция для загрузки конфига из файла, указанного в CONFIG_PATH
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("file: %s - does not exist", configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return cfg
}

// Load читает и проверяет конфиг.
func Load(configPath string) (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.StorageDriver {
	case StorageDriverPostgres:
		if c.StorageConnectionString == "" {
			return fmt.Errorf("storage_connection_string is required for driver %q", c.StorageDriver)
		}
	case StorageDriverMemory:
	default:
		return fmt.Errorf("unknown storage_driver %q", c.StorageDriver)
	}
	if c.AccessToken.TTL <= 0 {
		return fmt.Errorf("access_token.ttl must be positive")
	}
	if c.AccessToken.PreviousKey != "" && c.AccessToken.PreviousKeyID == c.AccessToken.CurrentKeyID {
		return fmt.Errorf("access_token.previous_key_id must differ from current_key_id")
	}
	if c.Entitlement.BillingMonths <= 0 {
		return fmt.Errorf("entitlement.billing_months must be positive")
	}
	if c.Entitlement.GracePeriod < 0 || c.Entitlement.TrialPeriod < 0 {
		return fmt.Errorf("entitlement periods must not be negative")
	}
	if c.Entitlement.StoreTimeout <= 0 {
		return fmt.Errorf("entitlement.store_timeout must be positive")
	}
	return nil
}

const redacted = "***"

func hide(s string) string {
	if s == "" {
		return ""
	}
	return redacted
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Env: %s\n"+
			"StorageDriver: %s\n"+
			"StorageConnectionString: %s\n"+
			"GRPCAddress: %s\n"+
			"RedisConnection:\n"+
			"  Addr: %s\n"+
			"  Password: %s\n"+
			"  DB: %d\n"+
			"  CacheTTL: %s\n"+
			"HTTPServer:\n"+
			"  Address: %s\n"+
			"  Timeout: %s\n"+
			"  IdleTimeout: %s\n"+
			"AccessToken:\n"+
			"  TTL: %s\n"+
			"  CurrentKeyID: %s\n"+
			"  CurrentKey: %s\n"+
			"  PreviousKeyID: %s\n"+
			"Entitlement:\n"+
			"  BillingMonths: %d\n"+
			"  GracePeriod: %s\n"+
			"  TrialPeriod: %s\n"+
			"  StoreTimeout: %s\n"+
			"RabbitMQ:\n"+
			"  URL: %s\n",
		c.Env,
		c.StorageDriver,
		hide(c.StorageConnectionString),
		c.GRPCAddress,
		c.AddressRedis,
		hide(c.Password),
		c.DB,
		c.CacheTTL,
		c.AddressHTTP,
		c.TimeoutHTTP,
		c.IdleTimeout,
		c.AccessToken.TTL,
		c.AccessToken.CurrentKeyID,
		hide(c.AccessToken.CurrentKey),
		c.AccessToken.PreviousKeyID,
		c.Entitlement.BillingMonths,
		c.Entitlement.GracePeriod,
		c.Entitlement.TrialPeriod,
		c.Entitlement.StoreTimeout,
		hide(c.RabbitMQ.URL),
	)
}
