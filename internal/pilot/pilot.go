// Package pilot is the caller-facing facade: it binds the control channel,
// the query layer, and the completion engine into dispatch-and-monitor
// sessions against one target application.
package pilot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"promptpilot/internal/config"
	"promptpilot/internal/devtools"
	"promptpilot/internal/monitor"
	"promptpilot/internal/query"
)

var (
	// ErrSessionActive is returned by Dispatch while a previous session on
	// this connection has not reached a terminal phase or been stopped.
	ErrSessionActive = errors.New("pilot: a monitor session is already active")

	// ErrDispatchRejected means the dispatch expression evaluated but the
	// target's composer refused the input (no composer, no send control).
	ErrDispatchRejected = errors.New("pilot: target rejected the dispatched input")
)

// Pilot drives one target application.
type Pilot struct {
	cfg     config.Config
	log     *zap.Logger
	conn    *devtools.Conn
	queries *query.Client

	classifier monitor.Classifier
	closeRules func() error

	current *monitor.Session
}

// New builds a Pilot from configuration. logger may be nil.
func New(cfg config.Config, logger *zap.Logger) (*Pilot, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	targetPat, err := compilePattern(cfg.Discovery.TargetPattern)
	if err != nil {
		return nil, fmt.Errorf("target_pattern: %w", err)
	}
	primary, err := compilePattern(cfg.Discovery.PrimaryContext)
	if err != nil {
		return nil, fmt.Errorf("primary_context: %w", err)
	}
	secondary, err := compilePattern(cfg.Discovery.SecondaryContext)
	if err != nil {
		return nil, fmt.Errorf("secondary_context: %w", err)
	}

	conn := devtools.NewConn(devtools.Options{
		Ports:             cfg.Discovery.Ports,
		TargetPattern:     targetPat,
		CallTimeout:       cfg.Connection.CallTimeoutDuration(),
		ReconnectAttempts: cfg.Connection.ReconnectAttempts,
		ReconnectDelay:    cfg.Connection.ReconnectDelayDuration(),
		Logger:            logger,
	})

	classifier, closeRules, err := buildClassifier(cfg.Noise, logger)
	if err != nil {
		return nil, err
	}

	return &Pilot{
		cfg:        cfg,
		log:        logger.Named("pilot"),
		conn:       conn,
		queries:    query.New(conn, primary, secondary, logger),
		classifier: classifier,
		closeRules: closeRules,
	}, nil
}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	return regexp.Compile(pattern)
}

func buildClassifier(cfg config.NoiseConfig, logger *zap.Logger) (monitor.Classifier, func() error, error) {
	if cfg.RulesFile != "" {
		watched, err := monitor.WatchRules(cfg.RulesFile, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("noise rules: %w", err)
		}
		return watched, watched.Close, nil
	}
	if len(cfg.Patterns) > 0 {
		rc, err := monitor.NewRuleClassifier(cfg.Patterns)
		if err != nil {
			return nil, nil, err
		}
		return rc, nil, nil
	}
	return monitor.DefaultClassifier(), nil, nil
}

// Connect runs discovery and establishes the control channel.
func (p *Pilot) Connect(ctx context.Context) error {
	return p.conn.Connect(ctx)
}

// Events exposes the channel's lifecycle stream (disconnects, reconnect
// outcomes, context churn).
func (p *Pilot) Events() <-chan devtools.Event {
	return p.conn.Events()
}

// Targets runs discovery without connecting.
func (p *Pilot) Targets(ctx context.Context) ([]devtools.Target, error) {
	return devtools.Discover(ctx, p.cfg.Discovery.Ports, nil)
}

// Close stops the current session, tears down the channel, and disables
// reconnection.
func (p *Pilot) Close() error {
	if p.current != nil {
		p.current.Stop()
	}
	if p.closeRules != nil {
		_ = p.closeRules()
	}
	return p.conn.Close()
}

// MonitorConfig resolves the configured detection windows.
func (p *Pilot) MonitorConfig() monitor.Config {
	m := p.cfg.Monitor
	def := monitor.DefaultConfig()
	return monitor.Config{
		PollInterval:     config.Duration(m.PollInterval, def.PollInterval),
		StopStable:       config.Duration(m.StopStable, def.StopStable),
		QuietFloor:       config.Duration(m.QuietFloor, def.QuietFloor),
		PostStreamStable: config.Duration(m.PostStreamStable, def.PostStreamStable),
		ActivityQuiet:    config.Duration(m.ActivityQuiet, def.ActivityQuiet),
		FallbackStable:   config.Duration(m.FallbackStable, def.FallbackStable),
		NoSignalGrace:    config.Duration(m.NoSignalGrace, def.NoSignalGrace),
		HardTimeout:      config.Duration(m.HardTimeout, def.HardTimeout),
		GrowthStreak:     m.GrowthStreak,
	}
}

// Dispatch sends the prompt into the target and starts one monitor session
// for it. Exactly one session may be active per connection; overlapping
// dispatches fail with ErrSessionActive.
func (p *Pilot) Dispatch(ctx context.Context, prompt string) (*monitor.Session, error) {
	if p.current != nil {
		select {
		case <-p.current.Done():
		default:
			return nil, ErrSessionActive
		}
	}

	expr, err := DispatchExpression(p.cfg.Probes.Dispatch, prompt)
	if err != nil {
		return nil, err
	}

	contextID := int64(0)
	if primary, ok := p.queries.PrimaryContext(); ok {
		contextID = primary.ID
	}

	accepted, err := p.evaluateBool(ctx, expr, contextID)
	if err != nil {
		return nil, fmt.Errorf("dispatch input: %w", err)
	}
	if !accepted {
		return nil, ErrDispatchRejected
	}

	prober := newQueryProber(p.queries, p.cfg.Probes)
	session := monitor.StartSession(ctx, p.MonitorConfig(), prober, p.classifier, p.log)
	p.current = session
	p.log.Info("prompt dispatched", zap.String("session", session.ID), zap.Int("prompt_len", len(prompt)))
	return session, nil
}

// DispatchExpression renders the dispatch template with the prompt as a
// JSON string literal, so arbitrary prompt content cannot escape into the
// evaluated script.
func DispatchExpression(template, prompt string) (string, error) {
	if strings.Count(template, "%s") != 1 {
		return "", fmt.Errorf("dispatch template must contain exactly one %%s placeholder")
	}
	quoted, err := json.Marshal(prompt)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(template, string(quoted)), nil
}

// evaluateBool runs one expression with errors surfaced, unlike the query
// layer's fallback contract; dispatch failures must be visible.
func (p *Pilot) evaluateBool(ctx context.Context, expr string, contextID int64) (bool, error) {
	params := struct {
		Expression    string `json:"expression"`
		ContextID     int64  `json:"contextId,omitempty"`
		ReturnByValue bool   `json:"returnByValue"`
	}{Expression: expr, ContextID: contextID, ReturnByValue: true}

	var res struct {
		Result struct {
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text string `json:"text"`
		} `json:"exceptionDetails"`
	}
	if err := p.conn.Call(ctx, "Runtime.evaluate", params, &res); err != nil {
		return false, err
	}
	if res.ExceptionDetails != nil {
		return false, fmt.Errorf("expression threw: %s", res.ExceptionDetails.Text)
	}
	var v bool
	if len(res.Result.Value) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(res.Result.Value, &v); err != nil {
		return false, fmt.Errorf("expression returned non-boolean: %w", err)
	}
	return v, nil
}
