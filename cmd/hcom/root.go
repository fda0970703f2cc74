// cmd/hcom/root.go
package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"hcom/internal/config"
	"hcom/internal/utils"
)

// Command flags
var (
	configFile string
	waitFor    time.Duration
)

// set by the root pre-run
var (
	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "hcom",
	Short: "Talk to Hcom devices over serial or TCP",
	Long: `hcom drives an Hcom device: query it, manage its files, toggle the
runtime, stream its output, update firmware and relay a debugger.

Connection settings come from hcom.yaml, HCOM_* environment variables and
the flags below, in increasing order of precedence.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = utils.CloseLogger(logger)
		}
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Config file (default: ./hcom.yaml, $HOME/.hcom, /etc/hcom)")
	flags.DurationVar(&waitFor, "wait", 5*time.Second, "How long to wait for the device to appear")
	flags.StringP("transport", "t", "serial", "Transport: serial or tcp")
	flags.StringP("port", "p", "", "Serial port, e.g. /dev/ttyACM0")
	flags.Int("baud", 115200, "Serial baud rate")
	flags.String("host", "127.0.0.1", "TCP host")
	flags.Int("tcp-port", 5000, "TCP port")
	flags.String("log-level", "", "Log level: trace, debug, info, warn, error (default warn, serve uses the config)")

	bindings := map[string]string{
		"connection.type":             "transport",
		"connection.serial.port":      "port",
		"connection.serial.baud_rate": "baud",
		"connection.tcp.host":         "host",
		"connection.tcp.port":         "tcp-port",
		"logging.level":               "log-level",
	}
	for key, name := range bindings {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}

	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(filesCmd)
	rootCmd.AddCommand(runtimeCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(debugCmd)
	rootCmd.AddCommand(portsCmd)
	rootCmd.AddCommand(serveCmd)
}

// loadConfig builds the config and logger shared by every command
func loadConfig(cmd *cobra.Command, args []string) error {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	}

	// the CLI is quiet unless asked; the server keeps its configured level
	if !cmd.Flags().Changed("log-level") && cmd.Name() != "serve" {
		viper.Set("logging.level", "warn")
	}

	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err = utils.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}
