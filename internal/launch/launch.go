// Package launch bootstraps the target application with a remote debugging
// port. It is the one place the repo shells out; the control channel itself
// never touches process management.
package launch

import (
	"fmt"
	"strings"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
)

// Options configure an application launch.
type Options struct {
	// Bin is the application binary. Empty uses the launcher's own
	// browser lookup.
	Bin string
	// Port is the remote debugging port to expose. Zero lets the launcher
	// pick a free one.
	Port int
	// Headless hides the window.
	Headless bool
	// UserDataDir isolates the profile when set.
	UserDataDir string
	// ExtraFlags are raw flags, with or without leading dashes, in
	// name=value form.
	ExtraFlags []string
}

// Start launches the application and returns its debugger control URL.
func Start(opts Options) (string, error) {
	url, err := newLauncher(opts).Launch()
	if err != nil {
		return "", fmt.Errorf("launch application: %w", err)
	}
	return url, nil
}

func newLauncher(opts Options) *launcher.Launcher {
	l := launcher.New().Headless(opts.Headless)
	if opts.Bin != "" {
		l = l.Bin(opts.Bin)
	}
	if opts.Port > 0 {
		l = l.Set(flags.RemoteDebuggingPort, fmt.Sprintf("%d", opts.Port))
	}
	if opts.UserDataDir != "" {
		l = l.UserDataDir(opts.UserDataDir)
	}
	for _, rawFlag := range opts.ExtraFlags {
		flagStr := strings.TrimLeft(rawFlag, "-")
		name, val, hasVal := strings.Cut(flagStr, "=")
		if hasVal {
			l = l.Set(flags.Flag(name), val)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}
	return l
}
