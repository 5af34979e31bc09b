// Package monitor turns noisy periodic observations of a remote-controlled
// application into a single completion event. The core is a pure transition
// function over an explicit state record; the session loop around it owns
// the timers and the probe fan-out.
package monitor

import "time"

// Config holds the detection knobs. Durations are absolute windows, not
// tick counts, so the engine behaves the same under any poll interval.
type Config struct {
	// PollInterval is the tick cadence of the session loop.
	PollInterval time.Duration
	// StopStable is how long the active flag must stay gone after having
	// been seen at least once.
	StopStable time.Duration
	// QuietFloor is the minimum text stillness required alongside StopStable.
	QuietFloor time.Duration
	// PostStreamStable is the text stillness that completes a confirmed
	// stream when the flag is down.
	PostStreamStable time.Duration
	// ActivityQuiet completes a session that never confirmed the flag once
	// both activity and text have been still this long.
	ActivityQuiet time.Duration
	// FallbackStable forces completion after this much text stillness no
	// matter what the other signals say.
	FallbackStable time.Duration
	// NoSignalGrace times the session out if nothing was ever observed.
	NoSignalGrace time.Duration
	// HardTimeout is the global session ceiling.
	HardTimeout time.Duration
	// GrowthStreak is the number of consecutive text-length increases that
	// confirm streaming.
	GrowthStreak int
}

// DefaultConfig returns the stated defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:     750 * time.Millisecond,
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

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.StopStable <= 0 {
		c.StopStable = d.StopStable
	}
	if c.QuietFloor <= 0 {
		c.QuietFloor = d.QuietFloor
	}
	if c.PostStreamStable <= 0 {
		c.PostStreamStable = d.PostStreamStable
	}
	if c.ActivityQuiet <= 0 {
		c.ActivityQuiet = d.ActivityQuiet
	}
	if c.FallbackStable <= 0 {
		c.FallbackStable = d.FallbackStable
	}
	if c.NoSignalGrace <= 0 {
		c.NoSignalGrace = d.NoSignalGrace
	}
	if c.HardTimeout <= 0 {
		c.HardTimeout = d.HardTimeout
	}
	if c.GrowthStreak <= 0 {
		c.GrowthStreak = d.GrowthStreak
	}
	return c
}

// Observation is one tick's worth of sampled signals. The OK fields report
// whether the corresponding probe answered; a probe that failed leaves the
// engine's previous value untouched.
type Observation struct {
	At time.Time

	Active   bool
	ActiveOK bool

	Activity   []string
	ActivityOK bool

	// Text is the candidate output with noise lines already filtered out.
	// DroppedNoise is how many lines the classifier removed this tick.
	Text         string
	TextOK       bool
	DroppedNoise int
}

// Result is the immutable terminal artifact of a session.
type Result struct {
	FinalText        string
	FinalActivityLog []string
	Reason           Reason
	TimedOut         bool
}

// State is the full debounce/hysteresis record for one session. It is a
// plain value; Advance returns the successor rather than mutating.
type State struct {
	Phase     Phase
	StartedAt time.Time

	LastText          string
	LastTextChangedAt time.Time

	LastActivity          []string
	LastActivityChangedAt time.Time
	ActivityLog           []string

	ActiveFlagEverSeen bool
	CurrentlyActive    bool
	ActiveGoneSince    time.Time // zero = unset

	TextGrowthStreak      int
	StreamingConfirmed    bool
	DroppedNoiseLineCount int
}

// NewState initializes a session record at dispatch time.
func NewState(now time.Time) State {
	return State{
		Phase:                 PhaseWaiting,
		StartedAt:             now,
		LastTextChangedAt:     now,
		LastActivityChangedAt: now,
	}
}

// EventKind tags a session event.
type EventKind int

const (
	// EventPhaseChange reports a forward phase transition.
	EventPhaseChange EventKind = iota
	// EventProgress reports that the candidate text changed.
	EventProgress
	// EventActivity reports a changed activity snapshot.
	EventActivity
	// EventComplete carries the terminal Result. Emitted at most once.
	EventComplete
	// EventTimeout carries the terminal Result for the timeout phases.
	EventTimeout
)

func (k EventKind) String() string {
	switch k {
	case EventPhaseChange:
		return "phase-change"
	case EventProgress:
		return "progress"
	case EventActivity:
		return "activity"
	case EventComplete:
		return "complete"
	case EventTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Event is one discrete notification from the engine.
type Event struct {
	Kind     EventKind
	Phase    Phase
	Text     string
	Activity []string
	Result   *Result
}

// Decision is a provisional terminal outcome. The session loop consults the
// quota side-channel exactly once per decision before calling Finalize.
type Decision struct {
	Reason   Reason
	TimedOut bool
}

// Advance applies one observation to the state. It returns the successor
// state, the events to emit, and a non-nil Decision when a completion path
// fired. Advance never performs I/O and never blocks.
func Advance(s State, obs Observation, cfg Config) (State, []Event, *Decision) {
	cfg = cfg.withDefaults()
	if s.Phase.Terminal() {
		return s, nil, nil
	}

	now := obs.At
	var events []Event

	// 1. Candidate text. An empty or failed sample never overwrites what we
	// have; a shrink below half the previous length means a new output
	// source, which resets the growth accounting but not the phase.
	if obs.TextOK && obs.Text != "" && obs.Text != s.LastText {
		switch {
		case len(obs.Text)*2 < len(s.LastText):
			s.TextGrowthStreak = 0
			s.StreamingConfirmed = false
			s.DroppedNoiseLineCount = 0
		case len(obs.Text) > len(s.LastText):
			s.TextGrowthStreak++
			if s.TextGrowthStreak >= cfg.GrowthStreak {
				s.StreamingConfirmed = true
			}
		default:
			s.TextGrowthStreak = 0
		}
		s.LastText = obs.Text
		s.LastTextChangedAt = now
		events = append(events, Event{Kind: EventProgress, Phase: s.Phase, Text: s.LastText})
	}
	if obs.TextOK {
		s.DroppedNoiseLineCount += obs.DroppedNoise
	}

	// 2. Activity snapshot. Accumulates into the log deduplicated, keeping
	// insertion order; any change restarts the activity-quiet clock.
	if obs.ActivityOK && !stringSlicesEqual(obs.Activity, s.LastActivity) {
		s.LastActivity = append([]string(nil), obs.Activity...)
		s.LastActivityChangedAt = now
		s.ActivityLog = mergeUnique(s.ActivityLog, obs.Activity)
		events = append(events, Event{Kind: EventActivity, Phase: s.Phase, Activity: s.LastActivity})
	}

	// 3. Active flag. The gone timer starts only after the flag was seen
	// true at least once; a flag that never reads true must not start the
	// completion clock by itself.
	if obs.ActiveOK {
		s.CurrentlyActive = obs.Active
		if obs.Active {
			s.ActiveFlagEverSeen = true
			s.ActiveGoneSince = time.Time{}
		} else if s.ActiveFlagEverSeen && s.ActiveGoneSince.IsZero() {
			s.ActiveGoneSince = now
		}
	}

	// 4. Forward phase derivation.
	next := s.Phase
	if s.LastText != "" {
		next = PhaseGenerating
	} else if s.ActiveFlagEverSeen || len(s.ActivityLog) > 0 {
		next = PhaseThinking
	}
	if next > s.Phase {
		s.Phase = next
		events = append(events, Event{Kind: EventPhaseChange, Phase: s.Phase, Text: s.LastText})
	}

	// 5. Completion evaluation, first match wins.
	decision := s.evaluate(now, cfg)
	return s, events, decision
}

func (s *State) evaluate(now time.Time, cfg Config) *Decision {
	signalSeen := s.ActiveFlagEverSeen || len(s.ActivityLog) > 0 || s.LastText != ""
	textQuiet := now.Sub(s.LastTextChangedAt)
	activityQuiet := now.Sub(s.LastActivityChangedAt)

	if signalSeen {
		if !s.ActiveGoneSince.IsZero() &&
			now.Sub(s.ActiveGoneSince) >= cfg.StopStable &&
			textQuiet >= cfg.QuietFloor {
			return &Decision{Reason: ReasonStopStable}
		}
		if s.StreamingConfirmed && !s.CurrentlyActive && textQuiet >= cfg.PostStreamStable {
			return &Decision{Reason: ReasonPostStreamStable}
		}
		if !s.ActiveFlagEverSeen && !s.StreamingConfirmed &&
			len(s.ActivityLog) > 0 &&
			activityQuiet >= cfg.ActivityQuiet &&
			textQuiet >= cfg.ActivityQuiet {
			return &Decision{Reason: ReasonActivityQuiet}
		}
		if s.LastText != "" && textQuiet >= cfg.FallbackStable {
			return &Decision{Reason: ReasonFallbackStable}
		}
	} else if now.Sub(s.StartedAt) >= cfg.NoSignalGrace {
		return &Decision{Reason: ReasonNoSignal, TimedOut: true}
	}

	if now.Sub(s.StartedAt) >= cfg.HardTimeout {
		return &Decision{Reason: ReasonHardTimeout, TimedOut: true}
	}
	return nil
}

// Finalize commits a decision, folding in the quota side-channel answer.
// Quota exhaustion converts a completion into the quotaReached outcome with
// the same text; timeouts are never converted. The terminal event is
// emitted exactly once because Advance is a no-op on terminal states.
func Finalize(s State, d Decision, quotaExceeded bool) (State, []Event) {
	res := Result{
		FinalText:        s.LastText,
		FinalActivityLog: append([]string(nil), s.ActivityLog...),
		Reason:           d.Reason,
		TimedOut:         d.TimedOut,
	}

	var kind EventKind
	switch {
	case d.TimedOut:
		s.Phase = PhaseTimeout
		kind = EventTimeout
		if d.Reason == ReasonNoSignal {
			res.FinalText = ""
		}
	case quotaExceeded:
		s.Phase = PhaseQuotaReached
		res.Reason = ReasonQuotaReached
		kind = EventComplete
	default:
		s.Phase = PhaseComplete
		kind = EventComplete
	}

	events := []Event{
		{Kind: EventPhaseChange, Phase: s.Phase, Text: res.FinalText},
		{Kind: kind, Phase: s.Phase, Text: res.FinalText, Result: &res},
	}
	return s, events
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func mergeUnique(log, incoming []string) []string {
	seen := make(map[string]struct{}, len(log))
	for _, line := range log {
		seen[line] = struct{}{}
	}
	for _, line := range incoming {
		if line == "" {
			continue
		}
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		log = append(log, line)
	}
	return log
}
