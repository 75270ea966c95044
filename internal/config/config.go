// Package config предоставляет структуры и функцию для парсинга и загрузки конфига
package config

import (
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config общая структура для хранения настроек
type Config struct {
	Env                     string `yaml:"env" env-default:"local"`
	StorageConnectionString string `yaml:"storage_connection_string"`
	MigrationsPath          string `yaml:"migrations_path" env-default:"./migrations"`
	RedisConnection         `yaml:"redis_connection"`
	HTTPServer              `yaml:"http_server"`
	Panel                   `yaml:"panel"`
	Platega                 `yaml:"platega"`
	Telegram                `yaml:"telegram"`
	RabbitMQ                `yaml:"rabbitmq"`
	Tiers                   []Tier `yaml:"tiers"`
}

// HTTPServer структура для настройки сервера
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env-default:":3000"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"10s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

// RedisConnection структура для настройки подключения к redis
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis"`
	Password     string        `yaml:"password"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries" env-default:"3"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env-default:"5s"`
	TimeoutRedis time.Duration `yaml:"timeoutredis" env-default:"5s"`
}

// Panel структура с настройками доступа к панели 3x-ui
type Panel struct {
	PanelURL         string        `yaml:"url" env:"PANEL_URL"`
	PanelUsername    string        `yaml:"username" env:"PANEL_USERNAME"`
	PanelPassword    string        `yaml:"password" env:"PANEL_PASSWORD"`
	TrialInboundID   int           `yaml:"trial_inbound_id" env:"TRIAL_INBOUND_ID"`
	PremiumInboundID int           `yaml:"premium_inbound_id" env:"PREMIUM_INBOUND_ID"`
	TrialDays        int           `yaml:"trial_days" env-default:"3"`
	PanelTimeout     time.Duration `yaml:"timeout" env-default:"15s"`
}

// Platega структура с настройками платёжного шлюза
type Platega struct {
	PlategaBaseURL string `yaml:"base_url" env-default:"https://app.platega.io"`
	MerchantID     string `yaml:"merchant_id" env:"PLATEGA_MERCHANT_ID"`
	Secret         string `yaml:"secret" env:"PLATEGA_SECRET"`
	WebhookSecret  string `yaml:"webhook_secret" env:"PLATEGA_WEBHOOK_SECRET"`
	WebhookBaseURL string `yaml:"webhook_base_url" env:"WEBHOOK_BASE_URL"`
}

// Telegram структура с настройками исходящих уведомлений
type Telegram struct {
	BotToken    string `yaml:"bot_token" env:"BOT_TOKEN"`
	AdminChatID int64  `yaml:"admin_chat_id" env:"ADMIN_CHAT_ID"`
}

// RabbitMQ структура с настройками очереди операторских алертов
type RabbitMQ struct {
	RabbitURL   string `yaml:"url" env:"RABBITMQ_URL"`
	AlertsQueue string `yaml:"alerts_queue" env-default:"operator_alerts"`
}

// Tier платный тариф: длительность в месяцах и цена в рублях
type Tier struct {
	Months   int `yaml:"months"`
	PriceRub int `yaml:"price_rub"`
}

// DefaultTiers тарифная сетка по умолчанию, совпадает с витриной бота.
func DefaultTiers() []Tier {
	return []Tier{
		{Months: 1, PriceRub: 180},
		{Months: 3, PriceRub: 400},
		{Months: 6, PriceRub: 750},
		{Months: 12, PriceRub: 900},
	}
}

// MustLoad функция для загрузки конфига, путь берётся из CONFIG_PATH
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
	if len(cfg.Tiers) == 0 {
		cfg.Tiers = DefaultTiers()
	}
	return &cfg
}

// PriceFor возвращает цену тарифа на months месяцев.
func (c *Config) PriceFor(months int) (int, bool) {
	for _, t := range c.Tiers {
		if t.Months == months {
			return t.PriceRub, true
		}
	}
	return 0, false
}
