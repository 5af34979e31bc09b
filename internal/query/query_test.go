package query

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptpilot/internal/devtools"
)

// contextAnswer scripts one execution context's reaction to an evaluation.
type contextAnswer struct {
	err       error // transport failure
	threw     string
	value     any  // marshalled into the remote value
	undefined bool // probe answered with no value
}

// fakeCaller routes Runtime.evaluate to per-context scripted answers.
type fakeCaller struct {
	t        *testing.T
	contexts []devtools.ExecutionContext
	answers  map[int64]contextAnswer
	calls    []int64
}

func (f *fakeCaller) Contexts() []devtools.ExecutionContext { return f.contexts }

func (f *fakeCaller) Call(ctx context.Context, method string, params, out interface{}) error {
	require.Equal(f.t, "Runtime.evaluate", method)
	p, ok := params.(evaluateParams)
	require.True(f.t, ok)
	require.True(f.t, p.ReturnByValue, "probes must return plain values")

	f.calls = append(f.calls, p.ContextID)
	ans := f.answers[p.ContextID]
	if ans.err != nil {
		return ans.err
	}

	resp := map[string]any{"result": map[string]any{}}
	switch {
	case ans.threw != "":
		resp["exceptionDetails"] = map[string]any{"text": ans.threw}
	case ans.undefined:
		resp["result"] = map[string]any{"type": "undefined"}
	default:
		resp["result"] = map[string]any{"type": "object", "value": ans.value}
	}
	raw, err := json.Marshal(resp)
	require.NoError(f.t, err)
	return json.Unmarshal(raw, out)
}

func twoContexts() []devtools.ExecutionContext {
	return []devtools.ExecutionContext{
		{ID: 1, Locator: "https://app.example.com"},
		{ID: 2, Locator: "https://other.example.com"},
	}
}

func TestBoolFallsBackOnEveryFailureMode(t *testing.T) {
	tests := []struct {
		name   string
		answer contextAnswer
	}{
		{"transport error", contextAnswer{err: errors.New("socket closed")}},
		{"remote exception", contextAnswer{threw: "ReferenceError: x is not defined"}},
		{"undefined value", contextAnswer{undefined: true}},
		{"type mismatch", contextAnswer{value: "not a bool"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeCaller{t: t, contexts: twoContexts(), answers: map[int64]contextAnswer{1: tt.answer}}
			c := New(f, nil, nil, nil)
			assert.True(t, c.Bool(context.Background(), "app.busy", 1, true))
			assert.False(t, c.Bool(context.Background(), "app.busy", 1, false))
		})
	}
}

func TestBoolReturnsRemoteValue(t *testing.T) {
	f := &fakeCaller{t: t, contexts: twoContexts(), answers: map[int64]contextAnswer{
		1: {value: false},
	}}
	c := New(f, nil, nil, nil)
	// A real remote false beats a true fallback.
	assert.False(t, c.Bool(context.Background(), "app.busy", 1, true))
}

func TestStringFallback(t *testing.T) {
	f := &fakeCaller{t: t, contexts: twoContexts(), answers: map[int64]contextAnswer{
		1: {value: "hello"},
		2: {err: errors.New("gone")},
	}}
	c := New(f, nil, nil, nil)
	assert.Equal(t, "hello", c.String(context.Background(), "expr", 1, "fb"))
	assert.Equal(t, "fb", c.String(context.Background(), "expr", 2, "fb"))
}

func TestBoolAnySkipsThrowingContext(t *testing.T) {
	f := &fakeCaller{t: t, contexts: twoContexts(), answers: map[int64]contextAnswer{
		1: {threw: "SecurityError"},
		2: {value: true},
	}}
	c := New(f, nil, nil, nil)

	v, answered := c.BoolAny(context.Background(), "app.busy", false)
	assert.True(t, v)
	assert.True(t, answered)
	assert.Equal(t, []int64{1, 2}, f.calls, "contexts are tried in priority order")
}

func TestBoolAnyNoContextAnswers(t *testing.T) {
	f := &fakeCaller{t: t, contexts: twoContexts(), answers: map[int64]contextAnswer{
		1: {err: errors.New("down")},
		2: {undefined: true},
	}}
	c := New(f, nil, nil, nil)

	v, answered := c.BoolAny(context.Background(), "app.busy", true)
	assert.True(t, v, "fallback value")
	assert.False(t, answered)
}

func TestStringAnyHonorsPriorityPattern(t *testing.T) {
	f := &fakeCaller{t: t, contexts: twoContexts(), answers: map[int64]contextAnswer{
		1: {value: "from app"},
		2: {value: "from other"},
	}}
	c := New(f, regexp.MustCompile(`other\.example`), nil, nil)

	v, answered := c.StringAny(context.Background(), "expr", "")
	assert.True(t, answered)
	assert.Equal(t, "from other", v, "primary pattern promotes context 2")
	assert.Equal(t, []int64{2}, f.calls)
}

func TestStringAnyEmptyContexts(t *testing.T) {
	f := &fakeCaller{t: t}
	c := New(f, nil, nil, nil)
	v, answered := c.StringAny(context.Background(), "expr", "fb")
	assert.Equal(t, "fb", v)
	assert.False(t, answered)
}

func TestStringListMergedDeduplicates(t *testing.T) {
	f := &fakeCaller{t: t, contexts: twoContexts(), answers: map[int64]contextAnswer{
		1: {value: []string{"Analyzing", "Searching web"}},
		2: {value: []string{"Searching web", "Writing"}},
	}}
	c := New(f, nil, nil, nil)

	lines, answered := c.StringListMerged(context.Background(), "expr")
	assert.True(t, answered)
	assert.Equal(t, []string{"Analyzing", "Searching web", "Writing"}, lines)
}

func TestStringListMergedPartialFailure(t *testing.T) {
	f := &fakeCaller{t: t, contexts: twoContexts(), answers: map[int64]contextAnswer{
		1: {err: errors.New("detached")},
		2: {value: []string{"Writing"}},
	}}
	c := New(f, nil, nil, nil)

	lines, answered := c.StringListMerged(context.Background(), "expr")
	assert.True(t, answered)
	assert.Equal(t, []string{"Writing"}, lines)
}

func TestStringListMergedNothingAnswers(t *testing.T) {
	f := &fakeCaller{t: t, contexts: twoContexts(), answers: map[int64]contextAnswer{
		1: {err: errors.New("detached")},
		2: {threw: "boom"},
	}}
	c := New(f, nil, nil, nil)

	lines, answered := c.StringListMerged(context.Background(), "expr")
	assert.Empty(t, lines)
	assert.False(t, answered)
}

func TestPrimaryContext(t *testing.T) {
	f := &fakeCaller{t: t, contexts: twoContexts()}
	c := New(f, regexp.MustCompile(`other\.example`), nil, nil)

	ec, ok := c.PrimaryContext()
	require.True(t, ok)
	assert.Equal(t, int64(2), ec.ID)

	empty := New(&fakeCaller{t: t}, nil, nil, nil)
	_, ok = empty.PrimaryContext()
	assert.False(t, ok)
}
