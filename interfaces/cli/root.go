package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"faceforward/pkg/di"
	"faceforward/pkg/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "faceforward",
	Short: "Sort event photos into per-person folders by face",
	Long: `FaceForward watches an intake folder for new photos, detects and identifies
faces, routes each photo into People/<id>, NoMatch or NoFaces, and mirrors
the result to a cloud backend.

Configuration comes from .env, an optional YAML file (--config or CONFIG_FILE)
and environment variables, in that order.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file (overrides CONFIG_FILE)")
}

// newContainer loads configuration and wires every dependency.
func newContainer() (*di.Container, error) {
	container := di.NewContainer(configPath)
	if err := container.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	return container, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-c:
			logger.Startup("shutdown_started", "Gracefully shutting down", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(c)
	}()
	return ctx, cancel
}

func cleanup(container *di.Container) {
	if err := container.Cleanup(); err != nil {
		logger.StartupError("cleanup_failed", "Error during cleanup", err, nil)
	}
}
