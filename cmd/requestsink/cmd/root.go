// Package cmd provides the CLI commands for requestsink.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/requestsink/requestsink/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "requestsink",
	Short: "requestsink - HTTP request capture and relay",
	Long: `requestsink hands out short-lived sink URLs. Every request sent to a
sink is recorded, optionally relayed to a forward URL, and streamed live to
clients watching the sink over WebSocket.

Quick start:
  requestsink start --dev

Configuration:
  Config is loaded from requestsink.yaml in the current directory,
  $HOME/.requestsink/, or /etc/requestsink/.

  Environment variables can override config values with the REQUESTSINK_ prefix.
  Example: REQUESTSINK_SERVER_HTTP_ADDR=0.0.0.0:9090

Commands:
  start       Start the server
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./requestsink.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
