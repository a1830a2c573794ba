package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rustyeddy/livetrader/broker"
	ccxtbroker "github.com/rustyeddy/livetrader/broker/ccxt"
	"github.com/rustyeddy/livetrader/broker/sim"
	"github.com/rustyeddy/livetrader/config"
	"github.com/rustyeddy/livetrader/exec"
	"github.com/rustyeddy/livetrader/gates"
	"github.com/rustyeddy/livetrader/internal/log"
	"github.com/rustyeddy/livetrader/journal"
	"github.com/rustyeddy/livetrader/killswitch"
	"github.com/rustyeddy/livetrader/market"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the execution core from a config file",
	Long: `Start the execution router: connect to the configured broker, begin
background reconciliation and wait for shutdown. In live mode the
trading gate must pass before the router will connect.

Example:
  livetrader run -f configs/demo.yaml --arm`,
	RunE: runRun,
}

var (
	runConfigPath string
	runArm        bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runConfigPath, "config", "f", "", "path to config file (YAML or JSON) (required)")
	runCmd.Flags().BoolVar(&runArm, "arm", false, "arm the router immediately after connecting")
	runCmd.MarkFlagRequired("config")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(runConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := log.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ledger, err := journal.NewJSONL(cfg.Journal.AuditPath)
	if err != nil {
		return fmt.Errorf("open audit ledger: %w", err)
	}
	defer ledger.Close()

	store, err := journal.NewSQLite(cfg.Journal.SnapshotDB)
	if err != nil {
		return fmt.Errorf("open snapshot store: %w", err)
	}
	defer store.Close()

	brk, ticks, err := buildBroker(cfg, logger)
	if err != nil {
		return fmt.Errorf("build broker: %w", err)
	}

	router := exec.NewRouter(cfg.Execution, exec.Deps{
		Broker:        brk,
		Ticks:         ticks,
		Kill:          killswitch.New(),
		KillStatePath: cfg.KillSwitch.StatePath,
		Gate:          gates.NewLiveGate(cfg.Gates),
		Ledger:        ledger,
		SnapshotStore: store,
		FlushEvery:    cfg.Journal.FlushEvery,
		CallTimeout:   cfg.Broker.CallTimeout(),
		Logger:        logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := router.Connect(ctx, brk); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() {
		if err := router.Close(); err != nil {
			logger.Warn("router shutdown", zap.Error(err))
		}
	}()

	if runArm {
		if cfg.Execution.RequireArmConfirmation {
			router.Confirm()
		}
		if err := router.Arm(); err != nil {
			return fmt.Errorf("arm: %w", err)
		}
	}

	logger.Info("execution core running",
		zap.String("mode", string(cfg.Execution.Mode)),
		zap.String("broker", cfg.Broker.Type),
		zap.Bool("armed", router.GetState().Armed),
	)

	<-ctx.Done()
	logger.Info("shutdown signal received")
	return nil
}

func buildBroker(cfg *config.Config, logger *zap.Logger) (broker.Broker, market.TickSource, error) {
	switch cfg.Broker.Type {
	case "ccxt":
		client, err := ccxtbroker.NewClient(ccxtbroker.Config{
			APIKey:     cfg.Broker.APIKey,
			APISecret:  cfg.Broker.APISecret,
			Symbol:     cfg.Broker.Symbol,
			UseSandbox: cfg.Broker.Sandbox,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return client, nil, nil
	default:
		engine := sim.NewEngine(broker.AccountSummary{
			ID:        "SIM-001",
			Currency:  "USD",
			Balance:   100000,
			Available: 100000,
		})
		engine.Prices().Set(market.Tick{
			Instrument: cfg.Broker.Symbol,
			Bid:        1.0849,
			Ask:        1.0851,
			Time:       time.Now(),
		})
		return engine, engine.Prices(), nil
	}
}
