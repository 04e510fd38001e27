package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`

	Telegram struct {
		Token         string        `envconfig:"TG_BOT_TOKEN"`
		APIBaseURL    string        `envconfig:"TG_API_BASE_URL" default:"https://api.telegram.org"`
		WebhookURL    string        `envconfig:"TG_WEBHOOK_URL"`
		WebhookSecret string        `envconfig:"TG_WEBHOOK_SECRET"`
		RPS           float64       `envconfig:"TG_RPS" default:"30"`
		Burst         int           `envconfig:"TG_BURST" default:"30"`
		Timeout       time.Duration `envconfig:"TG_TIMEOUT" default:"15s"`
	} `envconfig:""`

	Retry struct {
		Attempts   int           `envconfig:"TG_RETRY_ATTEMPTS" default:"3"`
		BaseDelay  time.Duration `envconfig:"TG_RETRY_BASE_DELAY" default:"500ms"`
		MaxDelay   time.Duration `envconfig:"TG_RETRY_MAX_DELAY" default:"10s"`
		Multiplier float64       `envconfig:"TG_RETRY_MULTIPLIER" default:"2"`
		Jitter     float64       `envconfig:"TG_RETRY_JITTER" default:"0"`
	} `envconfig:""`

	Store struct {
		DSN   string `envconfig:"STORE_DSN"`
		PGDSN string `envconfig:"PG_DSN"`
	} `envconfig:""`

	RedisAddr string `envconfig:"REDIS_ADDR"`
	RabbitURL string `envconfig:"RABBITMQ_URL"`

	Queues struct {
		Backend string `envconfig:"SYNC_QUEUE_BACKEND" default:"redis"`
		Sync    string `envconfig:"SYNC_QUEUE_KEY" default:"permission_sync_jobs"`
	} `envconfig:""`

	Sync struct {
		Timeout           time.Duration `envconfig:"SYNC_TIMEOUT" default:"30s"`
		SchedulerInterval time.Duration `envconfig:"SYNC_SCHEDULER_INTERVAL" default:"10m"`
		BatchSize         int           `envconfig:"SYNC_BATCH_SIZE" default:"100"`
		LockTTL           time.Duration `envconfig:"SYNC_LOCK_TTL" default:"45s"`
	} `envconfig:""`

	HTTP struct {
		Addr        string `envconfig:"HTTP_ADDR" default:":8080"`
		MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
	} `envconfig:""`
}

// StoreDSN возвращает строку подключения к хранилищу. PG_DSN используется, если STORE_DSN не задан.
func (c AppConfig) StoreDSN() string {
	if c.Store.DSN != "" {
		return c.Store.DSN
	}
	if c.Store.PGDSN != "" {
		return c.Store.PGDSN
	}
	return "memory"
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	cfg, err := Parse()
	if err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

// Parse читает конфиг из окружения и возвращает ошибку вместо завершения процесса.
func Parse() (AppConfig, error) {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}
