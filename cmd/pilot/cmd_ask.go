package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"promptpilot/internal/devtools"
	"promptpilot/internal/monitor"
	"promptpilot/internal/pilot"
)

var flagAskTimeout time.Duration

// Exit codes for scripting: 0 complete, 2 timed out, 3 quota reached.
const (
	exitTimeout = 2
	exitQuota   = 3
)

var askCmd = &cobra.Command{
	Use:   "ask [prompt]",
	Short: "Dispatch a prompt and wait for the completed answer",
	Args:  cobra.ExactArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().DurationVar(&flagAskTimeout, "timeout", 0, "override the hard session timeout")
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if flagAskTimeout > 0 {
		cfg.Monitor.HardTimeout = flagAskTimeout.String()
	}

	p, err := pilot.New(cfg, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = p.Connect(connectCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	session, err := p.Dispatch(ctx, args[0])
	if err != nil {
		return err
	}

	// Channel exhaustion is fatal and must surface; everything milder the
	// session rides out on its own.
	channelDead := make(chan error, 1)
	go func() {
		for ev := range p.Events() {
			switch ev.Kind {
			case devtools.EventReconnectFailed:
				channelDead <- ev.Err
				return
			case devtools.EventDisconnected:
				logger.Warn("channel lost, reconnecting")
			case devtools.EventReconnected:
				logger.Info("channel restored")
			}
		}
	}()

	lastText := ""
	for {
		select {
		case <-ctx.Done():
			session.Stop()
			// Best partial artifact is still delivered on interrupt.
			if lastText != "" {
				fmt.Println(lastText)
			}
			return errors.New("interrupted")

		case err := <-channelDead:
			session.Stop()
			if lastText != "" {
				fmt.Println(lastText)
			}
			return err

		case ev, ok := <-session.Events():
			if !ok {
				return nil
			}
			switch ev.Kind {
			case monitor.EventPhaseChange:
				logger.Info("phase", zap.String("phase", ev.Phase.String()))
			case monitor.EventProgress:
				lastText = ev.Text
				logger.Debug("progress", zap.Int("len", len(ev.Text)))
			case monitor.EventActivity:
				logger.Debug("activity", zap.Strings("lines", ev.Activity))
			case monitor.EventComplete, monitor.EventTimeout:
				return printResult(ev.Result)
			}
		}
	}
}

func printResult(res *monitor.Result) error {
	if res == nil {
		return errors.New("session ended without a result")
	}
	if res.FinalText != "" {
		fmt.Println(res.FinalText)
	}
	logger.Info("session result",
		zap.String("reason", res.Reason.String()),
		zap.Bool("timed_out", res.TimedOut),
		zap.Int("activity_lines", len(res.FinalActivityLog)))

	switch {
	case res.TimedOut:
		os.Exit(exitTimeout)
	case res.Reason == monitor.ReasonQuotaReached:
		os.Exit(exitQuota)
	}
	return nil
}
