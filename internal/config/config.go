package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"dexalign/internal/logging"
)

// Execution modes.
const (
	ModeOff   = "off"
	ModePaper = "paper"
	ModeLive  = "live"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Dex       DexConfig       `mapstructure:"dex"`
	Symbols   []SymbolConfig  `mapstructure:"symbols"`
	Alignment AlignmentConfig `mapstructure:"alignment"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Watchdog  WatchdogConfig  `mapstructure:"watchdog"`
	Server    ServerConfig    `mapstructure:"server"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs the evaluation cadence.
type SchedulerConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	TickTimeout  time.Duration `mapstructure:"tick_timeout"`
	StartupDelay time.Duration `mapstructure:"startup_delay"`
}

// FeedConfig covers the upstream CEX quote service.
type FeedConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// DexConfig covers read-only DEX quote sampling over JSON-RPC.
type DexConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	RouterAddress  string        `mapstructure:"router_address"`
	USDTAddress    string        `mapstructure:"usdt_address"`
	WNativeAddress string        `mapstructure:"wnative_address"`
	ProbeSizesUSDT []float64     `mapstructure:"probe_sizes_usdt"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// SymbolConfig describes one monitored token pair.
type SymbolConfig struct {
	Name          string      `mapstructure:"name"`
	CexSymbol     string      `mapstructure:"cex_symbol"`
	TokenAddress  string      `mapstructure:"token_address"`
	TokenDecimals int         `mapstructure:"token_decimals"`
	Bands         BandsConfig `mapstructure:"bands"`
}

// BandsConfig holds the four deviation tiers in percent.
type BandsConfig struct {
	Ideal      float64 `mapstructure:"ideal"`
	Acceptable float64 `mapstructure:"acceptable"`
	Warning    float64 `mapstructure:"warning"`
	Action     float64 `mapstructure:"action"`
}

// AlignmentConfig tunes the alignment engine.
type AlignmentConfig struct {
	MaxAlignUSDT    float64 `mapstructure:"max_align_usdt"`
	HighSlippagePct float64 `mapstructure:"high_slippage_pct"`
}

// ExecutionConfig holds the process-wide risk limits, immutable for the
// process lifetime once validated.
type ExecutionConfig struct {
	Mode                string  `mapstructure:"mode"`
	KillSwitch          bool    `mapstructure:"kill_switch"`
	MaxOrderUSDT        float64 `mapstructure:"max_order_usdt"`
	MaxDailyVolumeUSDT  float64 `mapstructure:"max_daily_volume_usdt"`
	MinEdgeBps          float64 `mapstructure:"min_edge_bps"`
	MaxSlippageBps      float64 `mapstructure:"max_slippage_bps"`
	MaxStalenessSeconds int     `mapstructure:"max_staleness_seconds"`
	MaxConcurrentOrders int     `mapstructure:"max_concurrent_orders"`
	FeeBps              float64 `mapstructure:"fee_bps"`
	APIKey              string  `mapstructure:"api_key"`
	APISecret           string  `mapstructure:"api_secret"`
}

// Credentialed reports whether exchange credentials are configured.
func (e ExecutionConfig) Credentialed() bool {
	return e.APIKey != "" && e.APISecret != ""
}

// WatchdogConfig governs health polling and restart hysteresis.
type WatchdogConfig struct {
	PollInterval time.Duration          `mapstructure:"poll_interval"`
	CheckTimeout time.Duration          `mapstructure:"check_timeout"`
	EventLogSize int                    `mapstructure:"event_log_size"`
	Services     []WatchedServiceConfig `mapstructure:"services"`
}

// WatchedServiceConfig describes one supervised upstream service.
type WatchedServiceConfig struct {
	Name              string        `mapstructure:"name"`
	HealthURL         string        `mapstructure:"health_url"`
	RestartURL        string        `mapstructure:"restart_url"`
	DownThreshold     time.Duration `mapstructure:"down_threshold"`
	DegradedThreshold time.Duration `mapstructure:"degraded_threshold"`
	Dependencies      []string      `mapstructure:"dependencies"`
}

// ServerConfig sets the two HTTP listen addresses.
type ServerConfig struct {
	ExecutionAddr string `mapstructure:"execution_addr"`
	WatchdogAddr  string `mapstructure:"watchdog_addr"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DEXALIGN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "dexalign")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "30s")
	v.SetDefault("scheduler.tick_timeout", "25s")
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("feed.request_timeout", "10s")
	v.SetDefault("feed.user_agent", "dexalign/1.0")

	v.SetDefault("dex.probe_sizes_usdt", []float64{100, 250, 500, 1000, 2500})
	v.SetDefault("dex.request_timeout", "10s")

	v.SetDefault("alignment.max_align_usdt", 5000.0)
	v.SetDefault("alignment.high_slippage_pct", 3.0)

	v.SetDefault("execution.mode", ModeOff)
	v.SetDefault("execution.kill_switch", true)
	v.SetDefault("execution.max_order_usdt", 1000.0)
	v.SetDefault("execution.max_daily_volume_usdt", 10000.0)
	v.SetDefault("execution.min_edge_bps", 20.0)
	v.SetDefault("execution.max_slippage_bps", 50.0)
	v.SetDefault("execution.max_staleness_seconds", 30)
	v.SetDefault("execution.max_concurrent_orders", 3)
	v.SetDefault("execution.fee_bps", 10.0)

	v.SetDefault("watchdog.poll_interval", "10s")
	v.SetDefault("watchdog.check_timeout", "5s")
	v.SetDefault("watchdog.event_log_size", 100)

	v.SetDefault("server.execution_addr", ":8085")
	v.SetDefault("server.watchdog_addr", ":8086")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs sanity checks on the configuration values. The process
// must refuse to start on any violation rather than run in an ambiguous
// state.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}

	switch c.Execution.Mode {
	case ModeOff, ModePaper, ModeLive:
	default:
		return fmt.Errorf("execution.mode must be one of off|paper|live, got %q", c.Execution.Mode)
	}

	if c.Execution.Mode == ModeLive {
		if c.Execution.KillSwitch {
			return fmt.Errorf("execution.mode=live with kill_switch enabled is ambiguous; disable one")
		}
		if !c.Execution.Credentialed() {
			return fmt.Errorf("execution.mode=live requires api_key and api_secret")
		}
	}

	if c.Execution.MaxOrderUSDT <= 0 {
		return fmt.Errorf("execution.max_order_usdt must be greater than zero")
	}
	if c.Execution.MaxDailyVolumeUSDT <= 0 {
		return fmt.Errorf("execution.max_daily_volume_usdt must be greater than zero")
	}
	if c.Execution.MinEdgeBps < 0 {
		return fmt.Errorf("execution.min_edge_bps cannot be negative")
	}
	if c.Execution.MaxSlippageBps < 0 {
		return fmt.Errorf("execution.max_slippage_bps cannot be negative")
	}
	if c.Execution.MaxStalenessSeconds <= 0 {
		return fmt.Errorf("execution.max_staleness_seconds must be greater than zero")
	}
	if c.Execution.MaxConcurrentOrders <= 0 {
		return fmt.Errorf("execution.max_concurrent_orders must be greater than zero")
	}

	if c.Alignment.MaxAlignUSDT <= 0 {
		return fmt.Errorf("alignment.max_align_usdt must be greater than zero")
	}

	for _, sym := range c.Symbols {
		if sym.Name == "" {
			return fmt.Errorf("symbols[].name 必须配置")
		}
		b := sym.Bands
		if b.Ideal <= 0 || b.Acceptable <= b.Ideal || b.Warning <= b.Acceptable || b.Action <= b.Warning {
			return fmt.Errorf("symbol %s: bands must be strictly increasing (ideal < acceptable < warning < action)", sym.Name)
		}
	}

	for _, svc := range c.Watchdog.Services {
		if svc.Name == "" {
			return fmt.Errorf("watchdog.services[].name 必须配置")
		}
		if svc.HealthURL == "" {
			return fmt.Errorf("watchdog service %s: health_url required", svc.Name)
		}
		if svc.DownThreshold <= 0 || svc.DegradedThreshold <= 0 {
			return fmt.Errorf("watchdog service %s: thresholds must be positive", svc.Name)
		}
	}
	if c.Watchdog.EventLogSize <= 0 {
		return fmt.Errorf("watchdog.event_log_size must be greater than zero")
	}

	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}

	return nil
}
