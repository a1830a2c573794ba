package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "livetrader",
	Short: "Live-trading execution core with risk limits and a kill switch",
	Long: `Livetrader routes strategy order intents to a broker while enforcing
risk limits, reconciling local position/balance belief against the
broker, and providing a fail-closed emergency stop.

It provides:
  - An execution router with connect/arm/disarm/route semantics
  - A pure risk engine (exposure caps, position caps, stop-loss policy)
  - Background position reconciliation with staleness warnings
  - A crash-safe kill switch with concurrent emergency liquidation
  - A multi-factor gate in front of live (real-money) mode
  - An append-only JSON-lines audit ledger

Complete documentation is available at https://github.com/rustyeddy/livetrader`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}
