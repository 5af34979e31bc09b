package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"promptpilot/internal/launch"
)

var (
	flagLaunchBin      string
	flagLaunchPort     int
	flagLaunchHeadless bool
	flagLaunchProfile  string
)

var launchCmd = &cobra.Command{
	Use:   "launch",
	Short: "Start the target application with a debugging port",
	RunE:  runLaunch,
}

func init() {
	launchCmd.Flags().StringVar(&flagLaunchBin, "bin", "", "application binary (default: system browser)")
	launchCmd.Flags().IntVar(&flagLaunchPort, "debug-port", 9222, "remote debugging port to expose")
	launchCmd.Flags().BoolVar(&flagLaunchHeadless, "headless", false, "run without a window")
	launchCmd.Flags().StringVar(&flagLaunchProfile, "profile", "", "isolated user data directory")
}

func runLaunch(cmd *cobra.Command, args []string) error {
	url, err := launch.Start(launch.Options{
		Bin:         flagLaunchBin,
		Port:        flagLaunchPort,
		Headless:    flagLaunchHeadless,
		UserDataDir: flagLaunchProfile,
	})
	if err != nil {
		return err
	}
	fmt.Println(url)
	return nil
}
