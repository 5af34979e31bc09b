// Package query is the tolerant read layer over the control channel: one
// typed question, one typed answer, failure yields the caller's fallback.
// Queries never propagate transport or remote errors; the completion engine
// depends on that contract to survive flaky ticks.
package query

import (
	"context"
	"encoding/json"
	"regexp"

	"go.uber.org/zap"

	"promptpilot/internal/devtools"
)

// Caller is the slice of the control channel the query layer needs. Satisfied
// by *devtools.Conn; tests substitute fakes.
type Caller interface {
	Call(ctx context.Context, method string, params, out interface{}) error
	Contexts() []devtools.ExecutionContext
}

// Client evaluates read-only expressions in the target's execution contexts.
type Client struct {
	conn      Caller
	primary   *regexp.Regexp
	secondary *regexp.Regexp
	log       *zap.Logger
}

// New builds a query client. primary and secondary order the context fan-out
// and may be nil. logger may be nil.
func New(conn Caller, primary, secondary *regexp.Regexp, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		conn:      conn,
		primary:   primary,
		secondary: secondary,
		log:       logger.Named("query"),
	}
}

// orderedContexts returns the known contexts in priority order.
func (c *Client) orderedContexts() []devtools.ExecutionContext {
	return devtools.SortContexts(c.conn.Contexts(), c.primary, c.secondary)
}

type evaluateParams struct {
	Expression    string `json:"expression"`
	ContextID     int64  `json:"contextId,omitempty"`
	ReturnByValue bool   `json:"returnByValue"`
}

type evaluateResult struct {
	Result struct {
		Type  string          `json:"type"`
		Value json.RawMessage `json:"value"`
	} `json:"result"`
	ExceptionDetails *struct {
		Text string `json:"text"`
	} `json:"exceptionDetails"`
}

// evaluate runs one expression in one context and decodes the value into
// out. The boolean result reports success; every failure mode (transport,
// remote exception, undefined value, type mismatch) is folded into false.
func (c *Client) evaluate(ctx context.Context, expr string, contextID int64, out interface{}) bool {
	params := evaluateParams{Expression: expr, ContextID: contextID, ReturnByValue: true}
	var res evaluateResult
	if err := c.conn.Call(ctx, "Runtime.evaluate", params, &res); err != nil {
		c.log.Debug("evaluate failed", zap.Int64("context", contextID), zap.Error(err))
		return false
	}
	if res.ExceptionDetails != nil {
		c.log.Debug("evaluate threw", zap.Int64("context", contextID), zap.String("text", res.ExceptionDetails.Text))
		return false
	}
	if len(res.Result.Value) == 0 || string(res.Result.Value) == "null" {
		return false
	}
	if err := json.Unmarshal(res.Result.Value, out); err != nil {
		c.log.Debug("evaluate value mismatch", zap.Int64("context", contextID), zap.Error(err))
		return false
	}
	return true
}

// Bool evaluates expr in a pinned context; fallback on any failure.
func (c *Client) Bool(ctx context.Context, expr string, contextID int64, fallback bool) bool {
	var v bool
	if c.evaluate(ctx, expr, contextID, &v) {
		return v
	}
	return fallback
}

// String evaluates expr in a pinned context; fallback on any failure.
func (c *Client) String(ctx context.Context, expr string, contextID int64, fallback string) string {
	var v string
	if c.evaluate(ctx, expr, contextID, &v) {
		return v
	}
	return fallback
}

// BoolAny evaluates expr across all known contexts in priority order and
// returns the first successful value, else the fallback. A second boolean
// reports whether any context answered.
func (c *Client) BoolAny(ctx context.Context, expr string, fallback bool) (bool, bool) {
	for _, ec := range c.orderedContexts() {
		var v bool
		if c.evaluate(ctx, expr, ec.ID, &v) {
			return v, true
		}
	}
	return fallback, false
}

// StringAny is BoolAny for string-valued probes.
func (c *Client) StringAny(ctx context.Context, expr string, fallback string) (string, bool) {
	for _, ec := range c.orderedContexts() {
		var v string
		if c.evaluate(ctx, expr, ec.ID, &v) {
			return v, true
		}
	}
	return fallback, false
}

// StringListMerged evaluates a list-valued expr in every known context and
// merges the results, deduplicated, preserving discovery order across
// contexts. Contexts that fail contribute nothing. The boolean reports
// whether at least one context answered.
func (c *Client) StringListMerged(ctx context.Context, expr string) ([]string, bool) {
	var merged []string
	seen := make(map[string]struct{})
	answered := false
	for _, ec := range c.orderedContexts() {
		var lines []string
		if !c.evaluate(ctx, expr, ec.ID, &lines) {
			continue
		}
		answered = true
		for _, line := range lines {
			if _, dup := seen[line]; dup {
				continue
			}
			seen[line] = struct{}{}
			merged = append(merged, line)
		}
	}
	return merged, answered
}

// PrimaryContext returns the highest-priority known context, if any.
func (c *Client) PrimaryContext() (devtools.ExecutionContext, bool) {
	ordered := c.orderedContexts()
	if len(ordered) == 0 {
		return devtools.ExecutionContext{}, false
	}
	return ordered[0], true
}
