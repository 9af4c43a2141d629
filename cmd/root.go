package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/adamgarcia4/goLearning/meshguard/logger"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "meshguard",
	Short: "Gossip consensus with clone detection for small device meshes",
	Long: `meshguard runs the per-device gossip consensus engine: every node keeps a
code converged with its regional neighbors, and flags identities that appear
to be transmitted by more than one device.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a TOML/YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}

// setupLogger initializes the global logger at the --log-level level.
func setupLogger(writeToStdout bool) error {
	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	logger.Init("", writeToStdout)
	return logger.SetLevel(level)
}
