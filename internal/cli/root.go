package cli

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/missionctl/internal/config"
)

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config YAML (default: ~/.missionctl/config.yaml)")
}

var rootCmd = &cobra.Command{
	Use:   "missionctl",
	Short: "Compliance bundle builder and mission orchestrator",
	Long: "Builds tamper-evident compliance bundles from content packs, profiles and overlays,\n" +
		"then runs apply/verify/evidence missions against them with a hash-chained audit trail.",
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if errors.Is(err, config.ErrInvalidConfig) {
		return 78 // EX_CONFIG
	}
	return 1
}
