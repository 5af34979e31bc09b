package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"promptpilot/internal/devtools"
)

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List debuggable targets on the candidate ports",
	RunE:  runTargets,
}

func runTargets(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	targets, err := devtools.Discover(ctx, cfg.Discovery.Ports, nil)
	if err != nil {
		return err
	}

	for _, t := range targets {
		title := t.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("%-10s %-40s %s\n", t.Type, title, t.URL)
	}
	return nil
}
