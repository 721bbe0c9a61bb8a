package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	configFilePathENV = "CONFIG_FILE"
	tokenTelegramENV  = "TELEGRAM_TOKEN"
	databaseDSN       = "DATABASE_DSN"
	apiKeyENV         = "BYBIT_API_KEY"
	apiSecretENV      = "BYBIT_API_SECRET"
)

// Config is the full session configuration: yaml file with env overrides,
// defaults filled in before decoding so absent keys keep sane values.
type Config struct {
	Telegram struct {
		Token  string `yaml:"token"`
		ChatID int64  `yaml:"chat_id"`
	} `yaml:"telegram"`
	DB      string `yaml:"db_dsn"`
	Service struct {
		Host      string `yaml:"host"`
		AdminPort int    `yaml:"admin_port"`
	} `yaml:"service"`
	Jaeger struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"jaeger"`

	Exchange struct {
		APIKey    string  `yaml:"api_key"`
		APISecret string  `yaml:"api_secret"`
		Symbol    string  `yaml:"symbol"`
		Account   string  `yaml:"account"`
		Coin      string  `yaml:"coin"`
		QtyStep   float64 `yaml:"qty_step"`
		MinQty    float64 `yaml:"min_qty"`
		Live      bool    `yaml:"live"`
		Testnet   bool    `yaml:"testnet"`

		TransferFromAccount string `yaml:"transfer_from_account"`
		TransferToAccount   string `yaml:"transfer_to_account"`
	} `yaml:"exchange"`

	Session struct {
		BaseSizeUSDT       float64 `yaml:"base_position_size_usdt"`
		MaxSlots           int     `yaml:"max_logical_positions_per_side"`
		Leverage           int     `yaml:"leverage"`
		StopLossPct        float64 `yaml:"individual_stop_loss_pct"`
		TrailActivationPct float64 `yaml:"trailing_stop_activation_pct"`
		TrailDistancePct   float64 `yaml:"trailing_stop_distance_pct"`
		CommissionRate     float64 `yaml:"commission_rate"`
		ReinvestPct        float64 `yaml:"reinvest_profit_pct"`
		TradingMode        string  `yaml:"trading_mode"`

		SessionStopLossROIPct   float64 `yaml:"session_stop_loss_roi_pct"`
		SessionTakeProfitROIPct float64 `yaml:"session_take_profit_roi_pct"`

		PreOpenReconcile     bool    `yaml:"pre_open_reconcile"`
		SizeTolerance        float64 `yaml:"size_tolerance"`
		BalanceToleranceUSDT float64 `yaml:"balance_tolerance_usdt"`

		ReconcileAttempts int `yaml:"reconcile_attempts"`
		TransferRetries   int `yaml:"transfer_retries"`

		// Durations come from env only (RECONCILE_DELAY, RESYNC_DELAY);
		// yaml.v2 cannot decode "500ms" into a Duration.
		ReconcileDelay time.Duration `yaml:"-"`
		ResyncDelay    time.Duration `yaml:"-"`
	} `yaml:"session"`

	Balances struct {
		Long  float64 `yaml:"long"`
		Short float64 `yaml:"short"`
	} `yaml:"balances"`

	Journal struct {
		TerminalPath     string `yaml:"terminal_path"`
		SnapshotPath     string `yaml:"snapshot_path"`
		SnapshotMaxLines int    `yaml:"snapshot_max_lines"`
	} `yaml:"journal"`
}

func NewConfig() (*Config, error) {

	configFileName := os.Getenv(configFilePathENV)
	if configFileName == "" {
		configFileName = "values_local.yaml"
	}
	file, err := os.Open("configs/" + configFileName)
	if err != nil {
		log.Fatalf("Failed to open config file: %v", err)
	}

	defer func() {
		_ = file.Close()
	}()

	decoder := yaml.NewDecoder(file)
	config := Config{}
	config.Service.AdminPort = intFromEnv("ADMIN_PORT", 8080)

	config.Exchange.Symbol = getenvDefault("SYMBOL", "BTCUSDT")
	config.Exchange.Account = "UNIFIED"
	config.Exchange.Coin = "USDT"
	config.Exchange.QtyStep = 0.001
	config.Exchange.MinQty = 0.001
	config.Exchange.TransferFromAccount = "UNIFIED"
	config.Exchange.TransferToAccount = "FUND"

	config.Session.BaseSizeUSDT = floatFromEnv("BASE_POSITION_SIZE", 10)
	config.Session.MaxSlots = intFromEnv("MAX_LOGICAL_POSITIONS", 3)
	config.Session.Leverage = intFromEnv("LEVERAGE", 5)
	config.Session.StopLossPct = 5.0
	config.Session.TrailActivationPct = 1.0
	config.Session.TrailDistancePct = 0.5
	config.Session.CommissionRate = 0.001
	config.Session.ReinvestPct = 20
	config.Session.TradingMode = getenvDefault("TRADING_MODE", "LONG_SHORT")
	config.Session.SizeTolerance = 0.001
	config.Session.BalanceToleranceUSDT = 1
	config.Session.ReconcileAttempts = 3
	config.Session.ReconcileDelay = durationFromEnv("RECONCILE_DELAY", "500ms")
	config.Session.ResyncDelay = durationFromEnv("RESYNC_DELAY", "2s")
	config.Session.TransferRetries = 2

	config.Journal.TerminalPath = getenvDefault("TERMINAL_RECORDS_PATH", "closed_positions.jsonl")
	config.Journal.SnapshotPath = getenvDefault("SNAPSHOT_PATH", "position_snapshot.jsonl")
	config.Journal.SnapshotMaxLines = 1000

	err = decoder.Decode(&config)
	if err != nil {
		log.Fatalf("Failed to decode config file: %v", err)
	}

	token := os.Getenv(tokenTelegramENV)
	if token != "" {
		config.Telegram.Token = token
	}

	dsn := os.Getenv(databaseDSN)
	if dsn != "" {
		config.DB = dsn
	}
	if key := os.Getenv(apiKeyENV); key != "" {
		config.Exchange.APIKey = key
	}
	if secret := os.Getenv(apiSecretENV); secret != "" {
		config.Exchange.APISecret = secret
	}

	if config.Session.ReinvestPct < 0 || config.Session.ReinvestPct > 100 {
		return nil, fmt.Errorf("reinvest_profit_pct %v out of [0,100]", config.Session.ReinvestPct)
	}

	return &config, nil
}

func intFromEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func floatFromEnv(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationFromEnv(key, def string) time.Duration {
	val := getenvDefault(key, def)
	d, err := time.ParseDuration(val)
	if err != nil {
		d, _ = time.ParseDuration(def)
	}
	return d
}
