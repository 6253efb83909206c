// Package config предоставляет структуры и функцию для парсинга и загрузки конфига.
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config общая структура для хранения настроек.
type Config struct {
	Env                     string `yaml:"env" env-default:"local"`
	StorageConnectionString string `yaml:"storage_connection_string" env:"STORAGE_CONNECTION_STRING"`
	MigrationsPath          string `yaml:"migrations_path" env-default:"./migrations"`
	RedisConnection         `yaml:"redis_connection"`
	HTTPServer              `yaml:"http_server"`
	JWTToken                `yaml:"jwttoken"`
	RabbitMQ                `yaml:"rabbitmq"`
	Tron                    TronChain            `yaml:"tron"`
	Bsc                     BscChain             `yaml:"bsc"`
	Subscriptions           SubscriptionSettings `yaml:"subscriptions"`
	Scheduler               SchedulerSettings    `yaml:"scheduler"`
}

// HTTPServer структура для настройки сервера.
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env-default:":8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"30s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

// RedisConnection структура для настройки подключения к redis.
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis"`
	Password     string        `yaml:"password"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries" env-default:"3"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env-default:"5s"`
	TimeoutRedis time.Duration `yaml:"timeoutredis" env-default:"3s"`
}

// JWTToken структура для работы с jwt-токеном.
type JWTToken struct {
	JWTSecretKey string        `yaml:"jwt_secret_key" env:"JWT_SECRET_KEY"`
	TokenTTL     time.Duration `yaml:"token_ttl" env-default:"24h"`
}

// RabbitMQ структура для настройки подключения к RabbitMQ.
type RabbitMQ struct {
	RabbitMQURL        string        `yaml:"rabbitmq_url" env:"RABBITMQ_URL"`
	RabbitMQMaxRetries int           `yaml:"rabbitmq_max_retries" env-default:"10"`
	RabbitMQRetryDelay time.Duration `yaml:"rabbitmq_retry_delay" env-default:"3s"`
}

// TronChain структура для настройки клиента сети TRON.
type TronChain struct {
	APIURL         string        `yaml:"api_url"`
	WalletAddress  string        `yaml:"wallet_address"`
	USDTContract   string        `yaml:"usdt_contract"`
	RequestTimeout time.Duration `yaml:"request_timeout" env-default:"10s"`
	PageLimit      int           `yaml:"page_limit" env-default:"50"`
	MaxPages       int           `yaml:"max_pages" env-default:"10"`
}

// BscChain структура для настройки клиента сети BSC.
type BscChain struct {
	RPCURL           string        `yaml:"rpc_url"`
	WalletAddress    string        `yaml:"wallet_address"`
	USDTContract     string        `yaml:"usdt_contract"`
	BlockInterval    time.Duration `yaml:"block_interval" env-default:"3s"`
	ChunkSize        uint64        `yaml:"chunk_size" env-default:"50"`
	ChunkRetries     uint64        `yaml:"chunk_retries" env-default:"3"`
	FallbackDecimals int32         `yaml:"fallback_decimals" env-default:"18"`
}

// SubscriptionSettings структура с тарифами и длительностями подписки.
type SubscriptionSettings struct {
	Prices        map[string]float64 `yaml:"prices"`
	DurationDays  int                `yaml:"duration_days" env-default:"30"`
	PaymentExpiry time.Duration      `yaml:"payment_expiry" env-default:"30m"`
	CheckTimeout  time.Duration      `yaml:"check_timeout" env-default:"15s"`
	CheckThrottle time.Duration      `yaml:"check_throttle" env-default:"30s"`
}

// SchedulerSettings структура с интервалами фоновых задач.
type SchedulerSettings struct {
	PaymentSweepInterval time.Duration `yaml:"payment_sweep_interval" env-default:"5m"`
	PostArchivalInterval time.Duration `yaml:"post_archival_interval" env-default:"24h"`
	PostRetention        time.Duration `yaml:"post_retention" env-default:"8760h"`
}

// MustLoad загружает конфиг по пути из CONFIG_PATH и валидирует его.
// Останавливает процесс при любой ошибке: без кошельков и контрактов
// сверка платежей невозможна.
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("file: %s - does not exist", configPath)
	}
	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %s", err)
	}
	return &cfg
}

// Validate проверяет обязательные поля конфига.
func (c *Config) Validate() error {
	if c.StorageConnectionString == "" {
		return fmt.Errorf("storage_connection_string is required")
	}
	if c.Tron.APIURL == "" || c.Tron.WalletAddress == "" || c.Tron.USDTContract == "" {
		return fmt.Errorf("tron api_url, wallet_address and usdt_contract are required")
	}
	if c.Bsc.RPCURL == "" || c.Bsc.WalletAddress == "" || c.Bsc.USDTContract == "" {
		return fmt.Errorf("bsc rpc_url, wallet_address and usdt_contract are required")
	}
	if c.Bsc.ChunkSize == 0 {
		return fmt.Errorf("bsc chunk_size must be positive")
	}
	if len(c.Subscriptions.Prices) == 0 {
		return fmt.Errorf("subscriptions prices table is empty")
	}
	for level, price := range c.Subscriptions.Prices {
		if price <= 0 {
			return fmt.Errorf("price for level %q must be positive", level)
		}
	}
	if c.Subscriptions.DurationDays <= 0 {
		return fmt.Errorf("subscriptions duration_days must be positive")
	}
	return nil
}
