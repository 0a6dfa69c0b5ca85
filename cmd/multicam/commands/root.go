package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "multicam",
		Short: "multicam - synchronized multi-camera frame acquisition",
		Long: `multicam captures frames from several V4L2 devices at once and
assembles them into a single synchronized snapshot.

Each camera is read on its own worker: the raw frame is dequeued from
the driver's buffer pool, converted to packed RGB and written into the
camera's slice of one shared result buffer. A batch is as fast as the
slowest camera, not the sum of all of them.

Features:
  • Concurrent capture across any number of /dev/video* devices
  • Per-camera size, frame rate and FOURCC pixel format
  • PNG snapshots from the command line
  • HTTP snapshot server with a WebSocket snap channel`,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/multicam/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "server port (default is 8080)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	// Bind flags to viper
	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}
