package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Mode selects demo (paper) or live (real-money) execution.
type Mode string

const (
	ModeDemo Mode = "demo"
	ModeLive Mode = "live"
)

// Config is the complete process configuration.
type Config struct {
	Execution  Execution  `json:"execution" yaml:"execution"`
	Broker     Broker     `json:"broker" yaml:"broker"`
	Journal    Journal    `json:"journal" yaml:"journal"`
	Gates      Gates      `json:"gates" yaml:"gates"`
	KillSwitch KillSwitch `json:"kill_switch" yaml:"kill_switch"`
	Logging    Logging    `json:"logging" yaml:"logging"`
}

// Execution carries every knob the router and risk engine read. It is
// loaded once per router instance and treated as read-only everywhere
// except the owning router, which may swap it atomically.
type Execution struct {
	Mode                   Mode    `json:"mode" yaml:"mode"`
	MaxPositionSize        float64 `json:"max_position_size" yaml:"max_position_size"`
	MaxConcurrentPositions int     `json:"max_concurrent_positions" yaml:"max_concurrent_positions"`
	MaxDailyLossPct        float64 `json:"max_daily_loss_pct" yaml:"max_daily_loss_pct"`
	MaxTradesPerHour       int     `json:"max_trades_per_hour" yaml:"max_trades_per_hour"`
	PerSymbolExposureCap   float64 `json:"per_symbol_exposure_cap" yaml:"per_symbol_exposure_cap"`
	MaxTotalExposure       float64 `json:"max_total_exposure" yaml:"max_total_exposure"`
	RequireStopLoss        bool    `json:"require_sl" yaml:"require_sl"`
	CloseOnKillSwitch      bool    `json:"close_on_kill_switch" yaml:"close_on_kill_switch"`
	RequireArmConfirmation bool    `json:"require_arm_confirmation" yaml:"require_arm_confirmation"`
	ReconcileIntervalSec   int     `json:"reconcile_interval_s" yaml:"reconcile_interval_s"`
	StaleAfterSec          int     `json:"stale_after_s" yaml:"stale_after_s"`

	// Sizing
	RiskPerTradePct float64 `json:"risk_per_trade_pct" yaml:"risk_per_trade_pct"`
	FixedSize       float64 `json:"fixed_size" yaml:"fixed_size"`
	SizeStep        float64 `json:"size_step" yaml:"size_step"`
	MinSize         float64 `json:"min_size" yaml:"min_size"`
}

func (e Execution) ReconcileInterval() time.Duration {
	return time.Duration(e.ReconcileIntervalSec) * time.Second
}

func (e Execution) StaleAfter() time.Duration {
	if e.StaleAfterSec <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(e.StaleAfterSec) * time.Second
}

// Broker selects and parameterizes the adapter.
type Broker struct {
	Type           string `json:"type" yaml:"type"` // "sim" or "ccxt"
	Symbol         string `json:"symbol" yaml:"symbol"`
	APIKey         string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	APISecret      string `json:"api_secret,omitempty" yaml:"api_secret,omitempty"`
	Sandbox        bool   `json:"sandbox" yaml:"sandbox"`
	CallTimeoutSec int    `json:"call_timeout_s" yaml:"call_timeout_s"`
}

func (b Broker) CallTimeout() time.Duration {
	if b.CallTimeoutSec <= 0 {
		return 10 * time.Second
	}
	return time.Duration(b.CallTimeoutSec) * time.Second
}

// Journal holds the ledger paths.
type Journal struct {
	AuditPath  string `json:"audit_path" yaml:"audit_path"`
	SnapshotDB string `json:"snapshot_db" yaml:"snapshot_db"`
	FlushEvery int    `json:"flush_every" yaml:"flush_every"`
}

// Gates configures LIVE-mode admission control.
type Gates struct {
	LiveEnableToken    string `json:"live_enable_token,omitempty" yaml:"live_enable_token,omitempty"`
	AccountID          string `json:"account_id,omitempty" yaml:"account_id,omitempty"`
	ConfirmationTTLSec int    `json:"confirmation_ttl_s" yaml:"confirmation_ttl_s"`
}

func (g Gates) ConfirmationTTL() time.Duration {
	if g.ConfirmationTTLSec <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(g.ConfirmationTTLSec) * time.Second
}

type KillSwitch struct {
	StatePath string `json:"state_path" yaml:"state_path"`
}

type Logging struct {
	Level            string   `json:"level" yaml:"level"`
	Encoding         string   `json:"encoding" yaml:"encoding"`
	Development      bool     `json:"development" yaml:"development"`
	OutputPaths      []string `json:"output_paths" yaml:"output_paths"`
	ErrorOutputPaths []string `json:"error_output_paths" yaml:"error_output_paths"`
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON.
	if yamlErr := yaml.Unmarshal(data, cfg); yamlErr != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", yamlErr)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile writes the configuration out, YAML by default and JSON
// for .json paths.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".json") {
		data, err = json.MarshalIndent(c, "", "  ")
	} else {
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate reports every problem at once rather than the first one,
// same contract the live gate gives the operator.
func (c *Config) Validate() error {
	var err error

	switch strings.ToLower(string(c.Execution.Mode)) {
	case string(ModeDemo), string(ModeLive):
	default:
		err = multierr.Append(err, fmt.Errorf("execution.mode must be %q or %q", ModeDemo, ModeLive))
	}
	if c.Execution.MaxPositionSize <= 0 {
		err = multierr.Append(err, errors.New("execution.max_position_size must be positive"))
	}
	if c.Execution.MaxConcurrentPositions <= 0 {
		err = multierr.Append(err, errors.New("execution.max_concurrent_positions must be positive"))
	}
	if c.Execution.ReconcileIntervalSec <= 0 {
		err = multierr.Append(err, errors.New("execution.reconcile_interval_s must be positive"))
	}
	if c.Execution.RiskPerTradePct < 0 || c.Execution.RiskPerTradePct > 1 {
		err = multierr.Append(err, errors.New("execution.risk_per_trade_pct must be within [0,1]"))
	}
	if c.Execution.SizeStep < 0 || c.Execution.MinSize < 0 {
		err = multierr.Append(err, errors.New("execution sizing step/minimum must not be negative"))
	}

	switch c.Broker.Type {
	case "sim", "ccxt":
	default:
		err = multierr.Append(err, errors.New(`broker.type must be "sim" or "ccxt"`))
	}
	if c.Broker.Symbol == "" {
		err = multierr.Append(err, errors.New("broker.symbol is required"))
	}

	if c.Journal.AuditPath == "" {
		err = multierr.Append(err, errors.New("journal.audit_path is required"))
	}
	if c.Journal.SnapshotDB == "" {
		err = multierr.Append(err, errors.New("journal.snapshot_db is required"))
	}
	if c.KillSwitch.StatePath == "" {
		err = multierr.Append(err, errors.New("kill_switch.state_path is required"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level is required"))
	}

	return err
}

// Default returns a configuration with safe demo-mode defaults.
func Default() *Config {
	return &Config{
		Execution: Execution{
			Mode:                   ModeDemo,
			MaxPositionSize:        10000,
			MaxConcurrentPositions: 3,
			MaxDailyLossPct:        0.02,
			MaxTradesPerHour:       10,
			PerSymbolExposureCap:   50000,
			MaxTotalExposure:       100000,
			RequireStopLoss:        true,
			CloseOnKillSwitch:      true,
			RequireArmConfirmation: false,
			ReconcileIntervalSec:   30,
			StaleAfterSec:          300,
			RiskPerTradePct:        0.01,
			FixedSize:              1000,
			SizeStep:               1,
			MinSize:                1,
		},
		Broker: Broker{
			Type:           "sim",
			Symbol:         "EUR_USD",
			CallTimeoutSec: 10,
		},
		Journal: Journal{
			AuditPath:  "./audit.jsonl",
			SnapshotDB: "./snapshots.db",
			FlushEvery: 10,
		},
		Gates: Gates{
			ConfirmationTTLSec: 300,
		},
		KillSwitch: KillSwitch{
			StatePath: "./killswitch.json",
		},
		Logging: Logging{
			Level:            "info",
			Encoding:         "console",
			OutputPaths:      []string{"stdout"},
			ErrorOutputPaths: []string{"stderr"},
		},
	}
}
