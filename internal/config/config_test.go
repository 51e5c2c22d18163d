package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Scheduler: SchedulerConfig{Interval: 30 * time.Second},
		Alignment: AlignmentConfig{MaxAlignUSDT: 5000},
		Execution: ExecutionConfig{
			Mode:                ModePaper,
			MaxOrderUSDT:        1000,
			MaxDailyVolumeUSDT:  10000,
			MinEdgeBps:          20,
			MaxStalenessSeconds: 30,
			MaxConcurrentOrders: 3,
		},
		Watchdog: WatchdogConfig{
			PollInterval: 10 * time.Second,
			EventLogSize: 100,
		},
		Symbols: []SymbolConfig{
			{
				Name:  "ABC/USDT",
				Bands: BandsConfig{Ideal: 0.25, Acceptable: 0.5, Warning: 1.0, Action: 2.0},
			},
		},
	}
}

func TestValidateAcceptsPaperConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{
			name:    "live with kill switch",
			mutate:  func(c *Config) { c.Execution.Mode = ModeLive; c.Execution.KillSwitch = true },
			wantSub: "kill_switch",
		},
		{
			name:    "live without credentials",
			mutate:  func(c *Config) { c.Execution.Mode = ModeLive },
			wantSub: "api_key",
		},
		{
			name:    "unknown mode",
			mutate:  func(c *Config) { c.Execution.Mode = "dry-run" },
			wantSub: "execution.mode",
		},
		{
			name:    "non-increasing bands",
			mutate:  func(c *Config) { c.Symbols[0].Bands.Warning = 0.3 },
			wantSub: "strictly increasing",
		},
		{
			name:    "zero ideal band",
			mutate:  func(c *Config) { c.Symbols[0].Bands.Ideal = 0 },
			wantSub: "strictly increasing",
		},
		{
			name:    "zero order cap",
			mutate:  func(c *Config) { c.Execution.MaxOrderUSDT = 0 },
			wantSub: "max_order_usdt",
		},
		{
			name:    "negative slippage limit",
			mutate:  func(c *Config) { c.Execution.MaxSlippageBps = -1 },
			wantSub: "max_slippage_bps",
		},
		{
			name:    "zero staleness",
			mutate:  func(c *Config) { c.Execution.MaxStalenessSeconds = 0 },
			wantSub: "max_staleness_seconds",
		},
		{
			name: "watchdog service without health url",
			mutate: func(c *Config) {
				c.Watchdog.Services = []WatchedServiceConfig{{
					Name:              "feed",
					DownThreshold:     30 * time.Second,
					DegradedThreshold: 10 * time.Second,
				}}
			},
			wantSub: "health_url",
		},
		{
			name:    "telegram without token",
			mutate:  func(c *Config) { c.Alerting.Telegram.Enabled = true; c.Alerting.Telegram.ChatID = "42" },
			wantSub: "bot_token",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("%s: 校验应失败", tc.name)
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Fatalf("error %q does not mention %q", err, tc.wantSub)
			}
		})
	}
}

func TestLoadFromFileAppliesDefaults(t *testing.T) {
	content := `
execution:
  mode: paper
  kill_switch: false
symbols:
  - name: ABC/USDT
    cex_symbol: ABCUSDT
    bands:
      ideal: 0.25
      acceptable: 0.5
      warning: 1.0
      action: 2.0
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Execution.Mode != ModePaper {
		t.Fatalf("expected mode paper, got %s", cfg.Execution.Mode)
	}
	if cfg.Scheduler.Interval != 30*time.Second {
		t.Fatalf("default interval 应为 30s, got %s", cfg.Scheduler.Interval)
	}
	if cfg.Execution.MaxOrderUSDT != 1000 {
		t.Fatalf("expected default max order 1000, got %v", cfg.Execution.MaxOrderUSDT)
	}
	if len(cfg.Symbols) != 1 || cfg.Symbols[0].CexSymbol != "ABCUSDT" {
		t.Fatalf("symbols not loaded: %+v", cfg.Symbols)
	}
	if cfg.Server.ExecutionAddr != ":8085" || cfg.Server.WatchdogAddr != ":8086" {
		t.Fatalf("default server addrs missing: %+v", cfg.Server)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	content := `
execution:
  mode: live
  kill_switch: true
  api_key: k
  api_secret: s
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("live + kill_switch 配置应被拒绝")
	}
}
