package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/adamgarcia4/goLearning/meshguard/gossip"
	"github.com/adamgarcia4/goLearning/meshguard/logger"
	"github.com/adamgarcia4/goLearning/meshguard/node"
)

var (
	nodeID        string
	listenAddress string
	epochInterval time.Duration
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a mesh node",
	Long: `Start one mesh node gossiping over gRPC.

The config file carries the whole mesh roster; flags override single values.
Environment variables with the MESHGUARD_ prefix override the file.

Examples:
  # Start the node named in the config file
  meshguard start --config mesh.toml

  # Start another roster member from the same file
  meshguard start --config mesh.toml --node-id=node-2 --listen=127.0.0.1:6002`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)

	startCmd.Flags().StringVarP(&nodeID, "node-id", "n", "", "Roster identity to run as (overrides node_id)")
	startCmd.Flags().StringVarP(&listenAddress, "listen", "l", "", "Address to serve gRPC on (overrides listen_address)")
	startCmd.Flags().DurationVar(&epochInterval, "epoch-interval", node.DefaultEpochInterval, "Epoch interval (overrides epoch_interval)")
}

func runStart(cmd *cobra.Command, args []string) error {
	if err := setupLogger(true); err != nil {
		return err
	}
	if configPath == "" {
		return errors.New("--config is required")
	}

	config, err := node.LoadConfig(configPath)
	if err != nil {
		return err
	}

	// Override with CLI flags
	if cmd.Flags().Changed("node-id") {
		config.NodeID = gossip.NodeID(nodeID)
	}
	if cmd.Flags().Changed("listen") {
		config.ListenAddress = listenAddress
	}
	if cmd.Flags().Changed("epoch-interval") {
		config.EpochInterval = epochInterval
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	n, err := node.NewGRPC(config)
	if err != nil {
		return fmt.Errorf("failed to create node: %w", err)
	}

	// Run until interrupted
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Infof("Node %s listening on %s", config.NodeID, config.ListenAddress)
	if err := n.Run(ctx); err != nil {
		return fmt.Errorf("node stopped: %w", err)
	}
	logger.Info("Shut down")
	return nil
}
