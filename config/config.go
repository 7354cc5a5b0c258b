package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the top-level configuration for the trading service.
type Config struct {
	BinanceConfig      BinanceConfig      `json:"binance"`
	SignalConfig       SignalConfig       `json:"signal"`
	OrderConfig        OrderConfig        `json:"order"`
	TrailingConfig     TrailingConfig     `json:"trailing"`
	ServiceConfig      ServiceConfig      `json:"service"`
	StorageConfig      StorageConfig      `json:"storage"`
	JournalConfig      JournalConfig      `json:"journal"`
	NotificationConfig NotificationConfig `json:"notification"`
	ServerConfig       ServerConfig       `json:"server"`
	FeedConfig         FeedConfig         `json:"feed"`
	LoggingConfig      LoggingConfig      `json:"logging"`
}

// BinanceConfig holds exchange connectivity settings.
type BinanceConfig struct {
	APIKey     string `json:"api_key"`
	SecretKey  string `json:"secret_key"`
	TestNet    bool   `json:"testnet"`
	MockMode   bool   `json:"mock_mode"` // Use the in-memory mock client instead of the real API
	MaxRetries int    `json:"max_retries"`
}

// SignalConfig tunes signal confirmation and expiry.
type SignalConfig struct {
	ConfirmationThreshold int     `json:"confirmation_threshold"` // Observations required to confirm
	ValidPeriodSec        int     `json:"valid_period_sec"`       // Signal lifetime from creation
	SweepIntervalSec      int     `json:"sweep_interval_sec"`     // Expiry sweep cadence
	BaseEntryOffsetPct    float64 `json:"base_entry_offset_pct"`  // Neutral-RSI entry offset
}

// OrderConfig tunes pending order lifecycle and cancellation guards.
type OrderConfig struct {
	TimeoutSec           int     `json:"timeout_sec"`            // Pending order expiry
	SweepIntervalSec     int     `json:"sweep_interval_sec"`     // Expiry sweep cadence
	AdverseMovePct       float64 `json:"adverse_move_pct"`       // Cancel when price moves against by this %
	DriftGuardPct        float64 `json:"drift_guard_pct"`        // Cancel when price drifts either way by this %
	VolumeSpikeMultiple  float64 `json:"volume_spike_multiple"`  // Cancel when volume exceeds N x rolling average
	RSIOverbought        float64 `json:"rsi_overbought"`
	RSIOversold          float64 `json:"rsi_oversold"`
	DefaultQuantity      float64 `json:"default_quantity"` // Base position size per confirmed signal
}

// TrailingConfig tunes the trailing stop engine.
type TrailingConfig struct {
	ActivationPct       float64 `json:"activation_pct"`        // Profit % to activate trailing
	TrailingStepPct     float64 `json:"trailing_step_pct"`     // Distance from the favorable extreme
	MinProfitPct        float64 `json:"min_profit_pct"`        // Profit floor protected once trailing
	DefaultStopLossPct  float64 `json:"default_stop_loss_pct"` // Applied when position has no explicit SL
	PriceHistoryCap     int     `json:"price_history_cap"`     // Samples retained per symbol
}

// ServiceConfig holds process lifecycle settings.
type ServiceConfig struct {
	PIDFile          string `json:"pid_file"`
	IntervalSec      int    `json:"interval_sec"`          // Main service loop cadence
	ScheduleSec      int    `json:"schedule_sec"`          // Scheduler debounce window
	StopGraceSec     int    `json:"stop_grace_sec"`        // Wait after SIGTERM before SIGKILL
	SchedulerPIDFile string `json:"scheduler_pid_file"`
}

// StorageConfig selects the state snapshot backend.
type StorageConfig struct {
	Backend       string `json:"backend"` // "file" or "redis"
	StateFile     string `json:"state_file"`
	PositionsFile string `json:"positions_file"`
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`
}

// JournalConfig holds the optional Postgres trade journal settings.
type JournalConfig struct {
	Enabled     bool   `json:"enabled"`
	DatabaseURL string `json:"database_url"`
}

// NotificationConfig holds alert delivery settings.
type NotificationConfig struct {
	Enabled  bool           `json:"enabled"`
	Telegram TelegramConfig `json:"telegram"`
	Kafka    KafkaConfig    `json:"kafka"`
}

// TelegramConfig holds Telegram bot credentials.
type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

// KafkaConfig holds Kafka producer settings for trade alerts.
type KafkaConfig struct {
	Enabled bool     `json:"enabled"`
	Brokers []string `json:"brokers"`
	Topic   string   `json:"topic"`
}

// ServerConfig holds the embedded monitoring API settings.
type ServerConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// FeedConfig holds the websocket market feed settings.
type FeedConfig struct {
	Enabled      bool     `json:"enabled"`
	StreamURL    string   `json:"stream_url"`
	Symbols      []string `json:"symbols"`
	ReconnectSec int      `json:"reconnect_sec"`
}

// LoggingConfig controls the root zerolog logger.
type LoggingConfig struct {
	Level   string `json:"level"`   // debug, info, warn, error
	Console bool   `json:"console"` // Pretty console writer instead of JSON
}

// Default returns a configuration with sane defaults for every knob.
func Default() *Config {
	return &Config{
		BinanceConfig: BinanceConfig{
			TestNet:    false,
			MockMode:   false,
			MaxRetries: 3,
		},
		SignalConfig: SignalConfig{
			ConfirmationThreshold: 2,
			ValidPeriodSec:        300,
			SweepIntervalSec:      30,
			BaseEntryOffsetPct:    0.3,
		},
		OrderConfig: OrderConfig{
			TimeoutSec:          300,
			SweepIntervalSec:    30,
			AdverseMovePct:      2.0,
			DriftGuardPct:       2.0,
			VolumeSpikeMultiple: 3.0,
			RSIOverbought:       70,
			RSIOversold:         30,
			DefaultQuantity:     0.01,
		},
		TrailingConfig: TrailingConfig{
			ActivationPct:      1.0,
			TrailingStepPct:    0.5,
			MinProfitPct:       0.3,
			DefaultStopLossPct: 5.0,
			PriceHistoryCap:    1000,
		},
		ServiceConfig: ServiceConfig{
			PIDFile:          "trading_service.pid",
			IntervalSec:      60,
			ScheduleSec:      300,
			StopGraceSec:     5,
			SchedulerPIDFile: "scheduler.pid",
		},
		StorageConfig: StorageConfig{
			Backend:       "file",
			StateFile:     "order_manager_state.json",
			PositionsFile: "active_positions.json",
			RedisAddr:     "localhost:6379",
		},
		NotificationConfig: NotificationConfig{
			Kafka: KafkaConfig{
				Brokers: []string{"localhost:9092"},
				Topic:   "trading.alerts",
			},
		},
		ServerConfig: ServerConfig{
			Enabled: true,
			Addr:    ":8090",
		},
		FeedConfig: FeedConfig{
			StreamURL:    "wss://fstream.binance.com/ws",
			Symbols:      []string{"BTCUSDT"},
			ReconnectSec: 5,
		},
		LoggingConfig: LoggingConfig{
			Level:   "info",
			Console: false,
		},
	}
}

// Load reads configuration from an optional JSON file and applies environment
// overrides on top. A missing file is not an error; defaults are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables on the loaded configuration.
func (c *Config) applyEnv() {
	c.BinanceConfig.APIKey = getEnv("BINANCE_API_KEY", c.BinanceConfig.APIKey)
	c.BinanceConfig.SecretKey = getEnv("BINANCE_SECRET_KEY", c.BinanceConfig.SecretKey)
	c.BinanceConfig.TestNet = getEnvBool("BINANCE_TESTNET", c.BinanceConfig.TestNet)
	c.BinanceConfig.MockMode = getEnvBool("BINANCE_MOCK_MODE", c.BinanceConfig.MockMode)

	c.StorageConfig.Backend = getEnv("STORAGE_BACKEND", c.StorageConfig.Backend)
	c.StorageConfig.RedisAddr = getEnv("REDIS_ADDR", c.StorageConfig.RedisAddr)
	c.StorageConfig.RedisPassword = getEnv("REDIS_PASSWORD", c.StorageConfig.RedisPassword)
	c.StorageConfig.RedisDB = getEnvInt("REDIS_DB", c.StorageConfig.RedisDB)

	c.JournalConfig.Enabled = getEnvBool("JOURNAL_ENABLED", c.JournalConfig.Enabled)
	c.JournalConfig.DatabaseURL = getEnv("DATABASE_URL", c.JournalConfig.DatabaseURL)

	c.NotificationConfig.Telegram.BotToken = getEnv("TELEGRAM_BOT_TOKEN", c.NotificationConfig.Telegram.BotToken)
	c.NotificationConfig.Telegram.ChatID = getEnv("TELEGRAM_CHAT_ID", c.NotificationConfig.Telegram.ChatID)
	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		c.NotificationConfig.Kafka.Brokers = strings.Split(brokers, ",")
	}
	c.NotificationConfig.Kafka.Topic = getEnv("KAFKA_ALERT_TOPIC", c.NotificationConfig.Kafka.Topic)

	c.ServerConfig.Addr = getEnv("API_ADDR", c.ServerConfig.Addr)
	c.LoggingConfig.Level = getEnv("LOG_LEVEL", c.LoggingConfig.Level)
	c.LoggingConfig.Console = getEnvBool("LOG_CONSOLE", c.LoggingConfig.Console)
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.SignalConfig.ConfirmationThreshold < 1 {
		return fmt.Errorf("signal.confirmation_threshold must be >= 1, got %d", c.SignalConfig.ConfirmationThreshold)
	}
	if c.SignalConfig.ValidPeriodSec <= 0 {
		return fmt.Errorf("signal.valid_period_sec must be positive, got %d", c.SignalConfig.ValidPeriodSec)
	}
	if c.OrderConfig.TimeoutSec <= 0 {
		return fmt.Errorf("order.timeout_sec must be positive, got %d", c.OrderConfig.TimeoutSec)
	}
	if c.TrailingConfig.PriceHistoryCap <= 0 {
		return fmt.Errorf("trailing.price_history_cap must be positive, got %d", c.TrailingConfig.PriceHistoryCap)
	}
	switch c.StorageConfig.Backend {
	case "file", "redis":
	default:
		return fmt.Errorf("storage.backend must be \"file\" or \"redis\", got %q", c.StorageConfig.Backend)
	}
	return nil
}

// ValidPeriod returns the signal lifetime as a duration.
func (c *SignalConfig) ValidPeriod() time.Duration {
	return time.Duration(c.ValidPeriodSec) * time.Second
}

// SweepInterval returns the signal sweep cadence as a duration.
func (c *SignalConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSec) * time.Second
}

// Timeout returns the pending order lifetime as a duration.
func (c *OrderConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// SweepInterval returns the order sweep cadence as a duration.
func (c *OrderConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSec) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
