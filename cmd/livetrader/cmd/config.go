package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/livetrader/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate a default configuration file",
	Long: `Write a configuration file populated with safe demo-mode defaults.

Example:
  livetrader config -o configs/demo.yaml`,
	RunE: runConfig,
}

var configOutPath string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.Flags().StringVarP(&configOutPath, "output", "o", "livetrader.yaml", "output path (YAML or JSON)")
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if err := cfg.SaveToFile(configOutPath); err != nil {
		return err
	}
	fmt.Printf("wrote default config to %s\n", configOutPath)
	return nil
}
