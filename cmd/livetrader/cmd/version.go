package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

const version = "0.3.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("livetrader version %s\n", version)
		fmt.Println("Live-trading execution core with risk limits and a kill switch")
		fmt.Println("https://github.com/rustyeddy/livetrader")
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
