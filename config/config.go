package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"tradebot-v1/internal/state"
)

// DefaultPath is read when neither the caller nor TRADEBOT_CONFIG names a file.
const DefaultPath = "config.yaml"

// Exchange names accepted in Config.Exchange.
const (
	ExchangeBingX   = "bingx"
	ExchangeBinance = "binance"
)

// Config holds all process configuration. BotSettings under Bot only seed
// the live settings; runtime changes go through the settings API.
type Config struct {
	Exchange string        `yaml:"exchange"`
	BingX    BingXConfig   `yaml:"bingx"`
	Binance  BinanceConfig `yaml:"binance"`

	// Infrastructure
	Redis        RedisConfig    `yaml:"redis"`
	SQLitePath   string         `yaml:"sqlite_path"`
	HTTPAddr     string         `yaml:"http_addr"`
	MetricsAddr  string         `yaml:"metrics_addr"`
	TradeLogPath string         `yaml:"trade_log_path"`
	ErrorLogPath string         `yaml:"error_log_path"`
	Influx       InfluxConfig   `yaml:"influx"`
	Telegram     TelegramConfig `yaml:"telegram"`
	WebhookURL   string         `yaml:"alert_webhook_url"`

	LogLevel       string `yaml:"log_level"`
	TracingEnabled bool   `yaml:"tracing_enabled"`

	DemoBalances map[string]float64 `yaml:"demo_balances"`
	Bot          state.BotSettings  `yaml:"bot"`

	envErrs []string
}

type BingXConfig struct {
	APIKey    string `yaml:"api_key"`
	SecretKey string `yaml:"secret_key"`
	BaseURL   string `yaml:"base_url"`
}

type BinanceConfig struct {
	APIKey    string `yaml:"api_key"`
	SecretKey string `yaml:"secret_key"`
	Testnet   bool   `yaml:"testnet"`
}

// RedisConfig is optional; an empty Addr disables settings persistence and
// event publishing.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// InfluxConfig is optional; an empty URL disables the time-series recorder.
type InfluxConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Exchange:     ExchangeBingX,
		SQLitePath:   "data/tradebot.db",
		HTTPAddr:     ":8080",
		MetricsAddr:  ":9090",
		TradeLogPath: "logs/trades.log",
		ErrorLogPath: "logs/errors.log",
		LogLevel:     "info",
		Bot:          state.DefaultSettings(),
	}
}

// Load reads .env, then the YAML file at path, then environment overrides.
// A missing .env or YAML file is not an error. An empty path falls back to
// TRADEBOT_CONFIG and then DefaultPath. The result is validated.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = getEnv("TRADEBOT_CONFIG", DefaultPath)
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Exchange = strings.ToLower(getEnv("EXCHANGE", c.Exchange))

	c.BingX.APIKey = getEnv("BINGX_API_KEY", c.BingX.APIKey)
	c.BingX.SecretKey = getEnv("BINGX_SECRET_KEY", c.BingX.SecretKey)
	c.Binance.APIKey = getEnv("BINANCE_API_KEY", c.Binance.APIKey)
	c.Binance.SecretKey = getEnv("BINANCE_SECRET_KEY", c.Binance.SecretKey)
	c.Binance.Testnet = c.getEnvBool("BINANCE_TESTNET", c.Binance.Testnet)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.SQLitePath = getEnv("SQLITE_PATH", c.SQLitePath)
	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)
	c.MetricsAddr = getEnv("METRICS_ADDR", c.MetricsAddr)
	c.TradeLogPath = getEnv("TRADE_LOG_PATH", c.TradeLogPath)
	c.ErrorLogPath = getEnv("ERROR_LOG_PATH", c.ErrorLogPath)

	c.Influx.URL = getEnv("INFLUX_URL", c.Influx.URL)
	c.Influx.Token = getEnv("INFLUX_TOKEN", c.Influx.Token)
	c.Influx.Org = getEnv("INFLUX_ORG", c.Influx.Org)
	c.Influx.Bucket = getEnv("INFLUX_BUCKET", c.Influx.Bucket)

	c.Telegram.BotToken = getEnv("TELEGRAM_BOT_TOKEN", c.Telegram.BotToken)
	c.Telegram.ChatID = getEnv("TELEGRAM_CHAT_ID", c.Telegram.ChatID)
	c.WebhookURL = getEnv("ALERT_WEBHOOK_URL", c.WebhookURL)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.TracingEnabled = c.getEnvBool("TRACING_ENABLED", c.TracingEnabled)

	if v := os.Getenv("WATCHLIST"); v != "" {
		c.Bot.Watchlist = ParseWatchlist(v)
	}
	c.Bot.DemoMode = c.getEnvBool("DEMO_MODE", c.Bot.DemoMode)
}

// Validate reports every problem in one error.
func (c *Config) Validate() error {
	problems := append([]string(nil), c.envErrs...)
	add := func(format string, args ...any) { problems = append(problems, fmt.Sprintf(format, args...)) }

	switch c.Exchange {
	case ExchangeBingX, ExchangeBinance:
	default:
		add("exchange must be %q or %q, got %q", ExchangeBingX, ExchangeBinance, c.Exchange)
	}
	if c.HTTPAddr == "" {
		add("http_addr must be set")
	}
	if c.SQLitePath == "" {
		add("sqlite_path must be set")
	}
	if !c.Bot.DemoMode {
		key, secret := c.Credentials()
		if key == "" || secret == "" {
			add("real mode requires %s API key and secret", c.Exchange)
		}
	}
	if c.Influx.URL != "" && (c.Influx.Org == "" || c.Influx.Bucket == "") {
		add("influx org and bucket are required when influx url is set")
	}
	if (c.Telegram.BotToken == "") != (c.Telegram.ChatID == "") {
		add("telegram bot_token and chat_id must be set together")
	}
	for asset, amt := range c.DemoBalances {
		if amt < 0 {
			add("demo balance for %s must not be negative", asset)
		}
	}
	if err := c.Bot.Validate(); err != nil {
		add("bot: %v", err)
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Credentials returns the API key pair of the selected exchange.
func (c *Config) Credentials() (key, secret string) {
	if c.Exchange == ExchangeBinance {
		return c.Binance.APIKey, c.Binance.SecretKey
	}
	return c.BingX.APIKey, c.BingX.SecretKey
}

// ParseWatchlist splits a comma-separated symbol list, dropping blanks.
func ParseWatchlist(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func (c *Config) getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		c.envErrs = append(c.envErrs, fmt.Sprintf("%s: invalid boolean %q", key, v))
		return fallback
	}
	return b
}
