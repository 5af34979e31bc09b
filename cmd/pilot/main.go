// Package main implements the pilot CLI: discover a debuggable target
// application, dispatch a prompt into it, and wait for the completion
// engine to decide when the answer is done.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"promptpilot/internal/config"
)

var (
	logger *zap.Logger

	flagConfig string
	flagDebug  bool
	flagPort   int
)

var rootCmd = &cobra.Command{
	Use:   "pilot",
	Short: "Remote-control a chat application and detect answer completion",
	Long: `pilot drives a Chromium-based chat application over its debugging
protocol. It types a prompt into the app, then watches the app's noisy,
self-contradictory state until the asynchronous generation has finished,
and prints the cleaned final answer.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger = newLogger(flagDebug || cfg.Logging.Debug)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return cfg, err
	}
	if flagPort > 0 {
		cfg.Discovery.Ports = []int{flagPort}
	}
	return cfg, nil
}

func newLogger(debug bool) *zap.Logger {
	zcfg := zap.NewProductionConfig()
	zcfg.OutputPaths = []string{"stderr"}
	if debug {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	l, err := zcfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to pilot.yaml (defaults apply without one)")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().IntVar(&flagPort, "port", 0, "pin discovery to one debugging port")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(targetsCmd)
	rootCmd.AddCommand(launchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
