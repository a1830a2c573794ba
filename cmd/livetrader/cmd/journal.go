package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/livetrader/journal"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query the audit ledger",
	Long: `Read records back out of the append-only audit log.

Subcommands:
  tail   - Show the most recent entries
  type   - Show entries of one type (intent, ack, fill, killswitch)

Examples:
  livetrader journal tail -a ./audit.jsonl
  livetrader journal type ack -a ./audit.jsonl`,
}

var journalTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show the most recent audit entries",
	Args:  cobra.NoArgs,
	RunE:  runJournalTail,
}

var journalTypeCmd = &cobra.Command{
	Use:   "type <intent|ack|fill|killswitch>",
	Short: "Show audit entries of a single type",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalType,
}

var (
	journalAuditPath string
	journalTailN     int
)

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalTailCmd)
	journalCmd.AddCommand(journalTypeCmd)

	journalCmd.PersistentFlags().StringVarP(&journalAuditPath, "audit", "a",
		"./audit.jsonl", "path to the audit log")
	journalTailCmd.Flags().IntVarP(&journalTailN, "lines", "n", 20, "number of entries to show")
}

func runJournalTail(cmd *cobra.Command, args []string) error {
	entries, err := journal.ReadEntries(journalAuditPath)
	if err != nil {
		return err
	}

	start := len(entries) - journalTailN
	if start < 0 {
		start = 0
	}
	for _, e := range entries[start:] {
		printEntry(e)
	}
	return nil
}

func runJournalType(cmd *cobra.Command, args []string) error {
	entries, err := journal.ReadEntries(journalAuditPath)
	if err != nil {
		return err
	}

	for _, e := range journal.FilterByType(entries, journal.EntryType(args[0])) {
		printEntry(e)
	}
	return nil
}

func printEntry(e journal.Entry) {
	ts := e.Time.Format(time.RFC3339)
	switch e.Type {
	case journal.TypeIntent:
		fmt.Printf("%s  INTENT  %s %s %s %.2f\n",
			ts, e.Intent.ID, e.Intent.Side, e.Intent.Symbol, e.Intent.Size)
	case journal.TypeAck:
		fmt.Printf("%s  ACK     %s %s %s\n",
			ts, e.Ack.IntentID, e.Ack.Status, e.Ack.Reason)
	case journal.TypeFill:
		fmt.Printf("%s  FILL    %s deal=%s %.2f @ %.5f\n",
			ts, e.Fill.IntentID, e.Fill.DealID, e.Fill.Size, e.Fill.Level)
	case journal.TypeKillSwitch:
		fmt.Printf("%s  KILL    active=%v %s (%s)\n",
			ts, e.KillSwitch.Active, e.KillSwitch.Reason, e.KillSwitch.ActivatedBy)
	default:
		fmt.Printf("%s  %s\n", ts, e.Type)
	}
}
