// Package config holds all promptpilot configuration: discovery, channel,
// detection windows, probe expressions, and noise rules. Values load from a
// YAML file over defaults, with a small set of PILOT_* environment
// overrides for fields that matter in scripts.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Connection ConnectionConfig `yaml:"connection"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Probes     ProbesConfig     `yaml:"probes"`
	Noise      NoiseConfig      `yaml:"noise"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// DiscoveryConfig controls endpoint and context selection.
type DiscoveryConfig struct {
	// Ports are probed in order for the /json/list endpoint.
	Ports []int `yaml:"ports"`
	// TargetPattern selects the target page by URL (regexp).
	TargetPattern string `yaml:"target_pattern"`
	// PrimaryContext and SecondaryContext rank execution contexts by their
	// locator when a query does not pin one (regexps).
	PrimaryContext   string `yaml:"primary_context"`
	SecondaryContext string `yaml:"secondary_context"`
}

// ConnectionConfig controls the control channel.
type ConnectionConfig struct {
	CallTimeout       string `yaml:"call_timeout"`
	ReconnectAttempts int    `yaml:"reconnect_attempts"`
	ReconnectDelay    string `yaml:"reconnect_delay"`
}

// MonitorConfig holds the completion-detection windows as duration strings.
type MonitorConfig struct {
	PollInterval     string `yaml:"poll_interval"`
	StopStable       string `yaml:"stop_stable"`
	QuietFloor       string `yaml:"quiet_floor"`
	PostStreamStable string `yaml:"post_stream_stable"`
	ActivityQuiet    string `yaml:"activity_quiet"`
	FallbackStable   string `yaml:"fallback_stable"`
	NoSignalGrace    string `yaml:"no_signal_grace"`
	HardTimeout      string `yaml:"hard_timeout"`
	GrowthStreak     int    `yaml:"growth_streak"`
}

// ProbesConfig holds the JavaScript probe expressions evaluated each tick,
// plus the dispatch template. Dispatch must contain exactly one %s verb; it
// receives the prompt as a JSON string literal.
type ProbesConfig struct {
	Active   string `yaml:"active"`
	Activity string `yaml:"activity"`
	Text     string `yaml:"text"`
	Quota    string `yaml:"quota"`
	Dispatch string `yaml:"dispatch"`
}

// NoiseConfig configures the narration classifier.
type NoiseConfig struct {
	// Patterns replace the built-in set when non-empty.
	Patterns []string `yaml:"patterns"`
	// RulesFile, when set, is loaded and hot-reloaded instead of Patterns.
	RulesFile string `yaml:"rules_file"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Debug bool `yaml:"debug"`
}

// DefaultConfig returns a configuration that works against a local
// Chromium-based chat application without any file present.
func DefaultConfig() Config {
	return Config{
		Discovery: DiscoveryConfig{
			Ports: []int{9222, 9223, 9224, 9229},
		},
		Connection: ConnectionConfig{
			CallTimeout:       "10s",
			ReconnectAttempts: 3,
			ReconnectDelay:    "2s",
		},
		Monitor: MonitorConfig{
			PollInterval:     "750ms",
			StopStable:       "2500ms",
			QuietFloor:       "1200ms",
			PostStreamStable: "3s",
			ActivityQuiet:    "5s",
			FallbackStable:   "60s",
			NoSignalGrace:    "30s",
			HardTimeout:      "10m",
			GrowthStreak:     3,
		},
		Probes: ProbesConfig{
			Active: `!!document.querySelector('[data-testid="stop-button"], button[aria-label*="Stop"]')`,
			Activity: `Array.from(document.querySelectorAll('[data-testid="activity-line"], .activity-line'))` +
				`.map(e => e.textContent.trim()).filter(Boolean)`,
			Text: `(() => { const m = document.querySelectorAll('[data-message-author="assistant"], .assistant-message');` +
				` return m.length ? m[m.length - 1].innerText : ''; })()`,
			Quota: `!!document.querySelector('[data-testid="quota-banner"], .usage-limit-banner')`,
			Dispatch: `(() => { const box = document.querySelector('textarea, [contenteditable="true"]');` +
				` if (!box) return false;` +
				` const text = %s;` +
				` if (box.tagName === 'TEXTAREA') { box.value = text; box.dispatchEvent(new Event('input', {bubbles: true})); }` +
				` else { box.textContent = text; box.dispatchEvent(new InputEvent('input', {bubbles: true})); }` +
				` const send = document.querySelector('[data-testid="send-button"], button[aria-label*="Send"]');` +
				` if (!send) return false;` +
				` send.click(); return true; })()`,
		},
		Noise:   NoiseConfig{},
		Logging: LoggingConfig{},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. An empty path yields defaults plus overrides.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// applyEnv maps the PILOT_* variables onto the config. Only the knobs that
// are useful per-invocation get an override.
func (c *Config) applyEnv() {
	if v := os.Getenv("PILOT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Discovery.Ports = []int{port}
		}
	}
	if v := os.Getenv("PILOT_TARGET_PATTERN"); v != "" {
		c.Discovery.TargetPattern = v
	}
	if v := os.Getenv("PILOT_CALL_TIMEOUT"); v != "" {
		c.Connection.CallTimeout = v
	}
	if v := os.Getenv("PILOT_HARD_TIMEOUT"); v != "" {
		c.Monitor.HardTimeout = v
	}
	if v := os.Getenv("PILOT_DEBUG"); v != "" {
		c.Logging.Debug = strings.EqualFold(v, "1") || strings.EqualFold(v, "true")
	}
}

// Duration parses a duration string, falling back when empty or invalid.
// Config durations are advisory knobs; a typo degrades to the default
// rather than aborting a run.
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// CallTimeoutDuration returns the parsed per-call deadline.
func (c ConnectionConfig) CallTimeoutDuration() time.Duration {
	return Duration(c.CallTimeout, 10*time.Second)
}

// ReconnectDelayDuration returns the parsed delay between attempts.
func (c ConnectionConfig) ReconnectDelayDuration() time.Duration {
	return Duration(c.ReconnectDelay, 2*time.Second)
}
