package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"multicam/internal/api"
	"multicam/internal/config"
	"multicam/internal/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the snapshot server",
	Long: `Start the HTTP snapshot server.

All configured cameras are opened and kept streaming; each request to
the snapshot endpoints triggers a fresh synchronized capture across
them.`,
	Example: `  # Start the server on the default port (8080)
  multicam serve

  # Start on a custom port
  multicam serve --port 9090

  # Start with a specific config file
  multicam serve --config /path/to/config.yaml

  # Start with debug logging
  multicam serve --log-level debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Override port from flag if provided
	if viper.IsSet("server_port") {
		if port := viper.GetInt("server_port"); port > 0 {
			configMgr.SetPort(port)
		}
	}

	// Override log level from flag if provided
	if viper.IsSet("log_level") {
		if level := viper.GetString("log_level"); level != "" {
			configMgr.SetLogLevel(level)
		}
	}

	cfg := configMgr.Get()
	logger.Init(cfg.LogLevel, true)
	log := logger.WithComponent("serve")
	log.Info().Str("path", configMgr.GetConfigPath()).Msg("Configuration loaded")

	log.Info().Int("cameras", len(cfg.Cameras)).Msg("Starting cameras")
	sys, stop, err := buildSystem(cfg)
	if err != nil {
		return fmt.Errorf("failed to start cameras: %w", err)
	}
	defer stop()

	server := api.NewServer(sys, configMgr)
	go func() {
		if err := server.Start(cfg.ServerPort); err != nil {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()
	log.Info().
		Int("port", cfg.ServerPort).
		Msgf("Snapshot server running at http://localhost:%d/api", cfg.ServerPort)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutting down")
	return nil
}
