package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/livetrader/killswitch"
)

var killswitchCmd = &cobra.Command{
	Use:   "killswitch",
	Short: "Inspect or reset the persisted kill-switch state",
	Long: `Operate on the kill-switch state file used for crash recovery.

Subcommands:
  status - Show whether the persisted kill switch is active
  reset  - Clear the persisted kill switch so trading can resume

Examples:
  livetrader killswitch status -s ./killswitch.json
  livetrader killswitch reset -s ./killswitch.json`,
}

var killswitchStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted kill-switch state",
	Args:  cobra.NoArgs,
	RunE:  runKillswitchStatus,
}

var killswitchResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the persisted kill-switch state",
	Args:  cobra.NoArgs,
	RunE:  runKillswitchReset,
}

var killswitchStatePath string

func init() {
	rootCmd.AddCommand(killswitchCmd)
	killswitchCmd.AddCommand(killswitchStatusCmd)
	killswitchCmd.AddCommand(killswitchResetCmd)

	killswitchCmd.PersistentFlags().StringVarP(&killswitchStatePath, "state", "s",
		"./killswitch.json", "path to kill-switch state file")
}

func runKillswitchStatus(cmd *cobra.Command, args []string) error {
	if !killswitch.StateFileExists(killswitchStatePath) {
		fmt.Println("no state file; kill switch inactive")
		return nil
	}

	ks := killswitch.New()
	if err := ks.Restore(killswitchStatePath); err != nil {
		return fmt.Errorf("restore state: %w", err)
	}

	snap := ks.Snapshot()
	if !snap.Active {
		fmt.Println("kill switch inactive")
		return nil
	}

	fmt.Println("kill switch ACTIVE")
	fmt.Printf("  reason:       %s\n", snap.Reason)
	fmt.Printf("  activated by: %s\n", snap.ActivatedBy)
	fmt.Printf("  activated at: %s\n", snap.ActivatedAt.Format(time.RFC3339))
	return nil
}

func runKillswitchReset(cmd *cobra.Command, args []string) error {
	ks := killswitch.New()
	if killswitch.StateFileExists(killswitchStatePath) {
		if err := ks.Restore(killswitchStatePath); err != nil {
			return fmt.Errorf("restore state: %w", err)
		}
	}

	ks.Reset()
	if err := ks.Save(killswitchStatePath); err != nil {
		return fmt.Errorf("save state: %w", err)
	}

	fmt.Println("kill switch reset; trading allowed on next start")
	return nil
}
