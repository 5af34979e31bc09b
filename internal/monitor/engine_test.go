package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testBase = time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

func testCfg() Config {
	return Config{
		PollInterval:     500 * time.Millisecond,
		StopStable:       2500 * time.Millisecond,
		QuietFloor:       1200 * time.Millisecond,
		PostStreamStable: 3 * time.Second,
		ActivityQuiet:    5 * time.Second,
		FallbackStable:   60 * time.Second,
		NoSignalGrace:    30 * time.Second,
		HardTimeout:      10 * time.Minute,
		GrowthStreak:     3,
	}
}

// tick returns the timestamp of the nth 500ms tick after the session start.
func tick(n int) time.Time {
	return testBase.Add(time.Duration(n) * 500 * time.Millisecond)
}

func obsAt(n int, active bool, text string) Observation {
	return Observation{
		At:       tick(n),
		Active:   active,
		ActiveOK: true,
		Text:     text,
		TextOK:   true,
	}
}

func TestStopStableFiresExactlyOnce(t *testing.T) {
	cfg := testCfg()
	state := NewState(testBase)

	var decision *Decision
	firedAt := 0
	for n := 1; n <= 12; n++ {
		var d *Decision
		state, _, d = Advance(state, obsAt(n, n == 1, "Hello"), cfg)
		if d != nil {
			decision = d
			firedAt = n
			break
		}
	}

	require.NotNil(t, decision, "stop-stable never fired")
	assert.Equal(t, ReasonStopStable, decision.Reason)
	assert.False(t, decision.TimedOut)

	// Flag seen true at tick 1, gone from tick 2 (t=1.0s). The stop window
	// of 2.5s elapses at t=3.5s, tick 7; the quiet floor was long since met.
	assert.Equal(t, 7, firedAt)

	state, events := Finalize(state, *decision, false)
	require.Len(t, events, 2)
	assert.Equal(t, PhaseComplete, state.Phase)
	require.NotNil(t, events[1].Result)
	assert.Equal(t, "Hello", events[1].Result.FinalText)
	assert.Equal(t, ReasonStopStable, events[1].Result.Reason)

	// Terminal states are inert: no further events, no second decision.
	next, evs, d := Advance(state, obsAt(20, false, "Hello"), cfg)
	assert.Equal(t, state.Phase, next.Phase)
	assert.Empty(t, evs)
	assert.Nil(t, d)
}

func TestFlagReappearanceResetsGoneTimer(t *testing.T) {
	cfg := testCfg()
	state := NewState(testBase)

	state, _, _ = Advance(state, obsAt(1, true, "Hello"), cfg)
	state, _, _ = Advance(state, obsAt(2, false, "Hello"), cfg)
	require.False(t, state.ActiveGoneSince.IsZero())

	state, _, d := Advance(state, obsAt(3, true, "Hello"), cfg)
	assert.Nil(t, d)
	assert.True(t, state.ActiveGoneSince.IsZero(), "gone timer must reset when the flag reappears")

	// Gone again: the stop window restarts from scratch.
	state, _, d = Advance(state, obsAt(4, false, "Hello"), cfg)
	assert.Nil(t, d)
	assert.Equal(t, tick(4), state.ActiveGoneSince)
}

func TestEmptyTextNeverOverwrites(t *testing.T) {
	cfg := testCfg()
	state := NewState(testBase)

	state, _, _ = Advance(state, obsAt(1, true, "Hello"), cfg)
	require.Equal(t, "Hello", state.LastText)

	state, events, _ := Advance(state, Observation{At: tick(2), TextOK: true, Text: ""}, cfg)
	assert.Equal(t, "Hello", state.LastText)
	assert.Equal(t, tick(1), state.LastTextChangedAt)
	for _, ev := range events {
		assert.NotEqual(t, EventProgress, ev.Kind)
	}

	// A failed probe is equally inert.
	state, _, _ = Advance(state, Observation{At: tick(3)}, cfg)
	assert.Equal(t, "Hello", state.LastText)
}

func TestActivityQuietCompletion(t *testing.T) {
	cfg := testCfg()
	state := NewState(testBase)

	activity := func(n int, lines []string) Observation {
		return Observation{
			At:         tick(n),
			ActiveOK:   true, // flag answers but is never true
			Activity:   lines,
			ActivityOK: true,
		}
	}

	for n := 1; n <= 3; n++ {
		var d *Decision
		state, _, d = Advance(state, activity(n, []string{"Analyzing"}), cfg)
		require.Nil(t, d)
	}
	require.Equal(t, []string{"Analyzing"}, state.ActivityLog)
	assert.Equal(t, PhaseThinking, state.Phase)

	// Activity goes silent; the quiet clock restarts at the transition and
	// must then run the full 5s window.
	var decision *Decision
	firedAt := 0
	for n := 4; n <= 30; n++ {
		var d *Decision
		state, _, d = Advance(state, activity(n, nil), cfg)
		if d != nil {
			decision = d
			firedAt = n
			break
		}
	}
	require.NotNil(t, decision)
	assert.Equal(t, ReasonActivityQuiet, decision.Reason)
	// Silence began at tick 4 (t=2.0s); 5s of quiet puts the fire at t=7.0s.
	assert.Equal(t, 14, firedAt)

	_, events := Finalize(state, *decision, false)
	require.NotNil(t, events[1].Result)
	assert.Equal(t, []string{"Analyzing"}, events[1].Result.FinalActivityLog)
}

func TestStreamingConfirmationAndPostStreamStable(t *testing.T) {
	cfg := testCfg()
	state := NewState(testBase)

	// Growth 0→5→9→14: three consecutive length increases confirm streaming.
	texts := []string{"aaaaa", "aaaaaaaaa", "aaaaaaaaaaaaaa"}
	for i, text := range texts {
		var d *Decision
		state, _, d = Advance(state, obsAt(i+1, false, text), cfg)
		require.Nil(t, d)
	}
	require.True(t, state.StreamingConfirmed)
	require.Equal(t, 3, state.TextGrowthStreak)
	assert.Equal(t, PhaseGenerating, state.Phase)

	// Stall at 14 chars with the flag down: post-stream-stable after 3s.
	var decision *Decision
	firedAt := 0
	for n := 4; n <= 20; n++ {
		var d *Decision
		state, _, d = Advance(state, obsAt(n, false, texts[2]), cfg)
		if d != nil {
			decision = d
			firedAt = n
			break
		}
	}
	require.NotNil(t, decision)
	assert.Equal(t, ReasonPostStreamStable, decision.Reason)
	// Text last changed at tick 3 (t=1.5s); 3s of stillness fires at t=4.5s.
	assert.Equal(t, 9, firedAt)
}

func TestTextShrinkIsNewOutputSource(t *testing.T) {
	cfg := testCfg()
	state := NewState(testBase)

	state, _, _ = Advance(state, obsAt(1, false, "aaaa"), cfg)
	state, _, _ = Advance(state, obsAt(2, false, "aaaaaaaa"), cfg)
	state, _, _ = Advance(state, obsAt(3, false, "aaaaaaaaaaaa"), cfg)
	require.True(t, state.StreamingConfirmed)
	require.Equal(t, PhaseGenerating, state.Phase)

	// Length 12 → 3 is below half: streak accounting resets, phase does not.
	state, _, _ = Advance(state, obsAt(4, false, "bbb"), cfg)
	assert.Equal(t, 0, state.TextGrowthStreak)
	assert.False(t, state.StreamingConfirmed)
	assert.Equal(t, 0, state.DroppedNoiseLineCount)
	assert.Equal(t, "bbb", state.LastText)
	assert.Equal(t, PhaseGenerating, state.Phase)
}

func TestEqualLengthChangeResetsStreak(t *testing.T) {
	cfg := testCfg()
	state := NewState(testBase)

	state, _, _ = Advance(state, obsAt(1, false, "abcd"), cfg)
	state, _, _ = Advance(state, obsAt(2, false, "abcdefgh"), cfg)
	require.Equal(t, 2, state.TextGrowthStreak)

	// Same length, different content: not growth, streak resets.
	state, _, _ = Advance(state, obsAt(3, false, "zyxwvuts"), cfg)
	assert.Equal(t, 0, state.TextGrowthStreak)
	assert.False(t, state.StreamingConfirmed)
}

func TestNoSignalTimeout(t *testing.T) {
	cfg := testCfg()
	cfg.NoSignalGrace = 2 * time.Second
	state := NewState(testBase)

	var decision *Decision
	for n := 1; n <= 10; n++ {
		var d *Decision
		state, _, d = Advance(state, Observation{At: tick(n), ActiveOK: true}, cfg)
		if d != nil {
			decision = d
			break
		}
	}
	require.NotNil(t, decision)
	assert.Equal(t, ReasonNoSignal, decision.Reason)
	assert.True(t, decision.TimedOut)

	state, events := Finalize(state, *decision, false)
	assert.Equal(t, PhaseTimeout, state.Phase)
	require.NotNil(t, events[1].Result)
	assert.Equal(t, "", events[1].Result.FinalText)
	assert.Equal(t, EventTimeout, events[1].Kind)
}

func TestHardTimeoutReturnsPartialText(t *testing.T) {
	cfg := testCfg()
	cfg.HardTimeout = 3 * time.Second

	state := NewState(testBase)
	var decision *Decision
	text := ""
	for n := 1; n <= 20; n++ {
		// Text keeps growing, so no stability path can fire.
		text += "chunk "
		var d *Decision
		state, _, d = Advance(state, obsAt(n, true, text), cfg)
		if d != nil {
			decision = d
			break
		}
	}
	require.NotNil(t, decision)
	assert.Equal(t, ReasonHardTimeout, decision.Reason)
	require.True(t, decision.TimedOut)

	state, events := Finalize(state, *decision, false)
	assert.Equal(t, PhaseTimeout, state.Phase)
	require.NotNil(t, events[1].Result)
	assert.Equal(t, state.LastText, events[1].Result.FinalText)
	assert.True(t, events[1].Result.TimedOut)
}

func TestFallbackStableForcesCompletion(t *testing.T) {
	cfg := testCfg()
	cfg.FallbackStable = 4 * time.Second
	state := NewState(testBase)

	// Flag probe never answers, no activity: only the text exists.
	state, _, _ = Advance(state, Observation{At: tick(1), TextOK: true, Text: "result"}, cfg)

	var decision *Decision
	firedAt := 0
	for n := 2; n <= 20; n++ {
		var d *Decision
		state, _, d = Advance(state, Observation{At: tick(n), TextOK: true, Text: "result"}, cfg)
		if d != nil {
			decision = d
			firedAt = n
			break
		}
	}
	require.NotNil(t, decision)
	assert.Equal(t, ReasonFallbackStable, decision.Reason)
	assert.Equal(t, 9, firedAt) // text set at t=0.5s, 4s ceiling → t=4.5s
}

func TestQuotaConvertsCompletion(t *testing.T) {
	cfg := testCfg()
	state := NewState(testBase)

	state, _, _ = Advance(state, obsAt(1, true, "partial answer"), cfg)
	var decision *Decision
	for n := 2; n <= 12; n++ {
		var d *Decision
		state, _, d = Advance(state, obsAt(n, false, "partial answer"), cfg)
		if d != nil {
			decision = d
			break
		}
	}
	require.NotNil(t, decision)
	require.Equal(t, ReasonStopStable, decision.Reason)

	state, events := Finalize(state, *decision, true)
	assert.Equal(t, PhaseQuotaReached, state.Phase)
	require.NotNil(t, events[1].Result)
	assert.Equal(t, ReasonQuotaReached, events[1].Result.Reason)
	assert.Equal(t, "partial answer", events[1].Result.FinalText, "quota outcome carries the same text")
	assert.False(t, events[1].Result.TimedOut)
}

func TestPhaseProgression(t *testing.T) {
	cfg := testCfg()
	state := NewState(testBase)
	require.Equal(t, PhaseWaiting, state.Phase)

	state, events, _ := Advance(state, Observation{
		At: tick(1), ActiveOK: true, Active: true,
	}, cfg)
	assert.Equal(t, PhaseThinking, state.Phase)
	require.Len(t, events, 1)
	assert.Equal(t, EventPhaseChange, events[0].Kind)

	state, events, _ = Advance(state, obsAt(2, true, "Hel"), cfg)
	assert.Equal(t, PhaseGenerating, state.Phase)
	// Progress first, then the phase change it caused.
	require.Len(t, events, 2)
	assert.Equal(t, EventProgress, events[0].Kind)
	assert.Equal(t, EventPhaseChange, events[1].Kind)
}

func TestActivityLogDeduplicatesInOrder(t *testing.T) {
	cfg := testCfg()
	state := NewState(testBase)

	snapshots := [][]string{
		{"Analyzing"},
		{"Analyzing", "Searching web"},
		{"Searching web"},
		{"Analyzing", "Writing"},
	}
	for i, snap := range snapshots {
		state, _, _ = Advance(state, Observation{At: tick(i + 1), Activity: snap, ActivityOK: true}, cfg)
	}
	assert.Equal(t, []string{"Analyzing", "Searching web", "Writing"}, state.ActivityLog)
}

func TestDroppedNoiseAccumulates(t *testing.T) {
	cfg := testCfg()
	state := NewState(testBase)

	state, _, _ = Advance(state, Observation{At: tick(1), TextOK: true, Text: "Hello", DroppedNoise: 2}, cfg)
	state, _, _ = Advance(state, Observation{At: tick(2), TextOK: true, Text: "Hello", DroppedNoise: 1}, cfg)
	assert.Equal(t, 3, state.DroppedNoiseLineCount)
}
