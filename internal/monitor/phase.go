package monitor

// Phase is the lifecycle phase of a monitor session. Transitions only move
// forward; Complete, Timeout, and QuotaReached are terminal.
type Phase int

const (
	PhaseWaiting Phase = iota
	PhaseThinking
	PhaseGenerating
	PhaseComplete
	PhaseTimeout
	PhaseQuotaReached
)

func (p Phase) String() string {
	switch p {
	case PhaseWaiting:
		return "waiting"
	case PhaseThinking:
		return "thinking"
	case PhaseGenerating:
		return "generating"
	case PhaseComplete:
		return "complete"
	case PhaseTimeout:
		return "timeout"
	case PhaseQuotaReached:
		return "quotaReached"
	default:
		return "unknown"
	}
}

// Terminal reports whether the phase ends the session.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseTimeout || p == PhaseQuotaReached
}

// Reason is the completion cause recorded in a Result.
type Reason int

const (
	ReasonNone Reason = iota
	// ReasonStopStable: the active flag was confirmed gone for the stop
	// window and the text sat still past the quiet floor.
	ReasonStopStable
	// ReasonPostStreamStable: streaming was confirmed by consecutive text
	// growth, then the text stalled with the flag down.
	ReasonPostStreamStable
	// ReasonActivityQuiet: no flag and no streaming, but activity and text
	// both went quiet for the activity window.
	ReasonActivityQuiet
	// ReasonFallbackStable: the text sat unchanged past the absolute
	// ceiling; completion is forced regardless of other signals.
	ReasonFallbackStable
	// ReasonNoSignal: nothing was ever observed within the grace period.
	ReasonNoSignal
	// ReasonHardTimeout: the global session budget elapsed.
	ReasonHardTimeout
	// ReasonQuotaReached: a completion path fired but the side-channel
	// limit probe reported exhaustion; same text, distinct outcome.
	ReasonQuotaReached
)

func (r Reason) String() string {
	switch r {
	case ReasonStopStable:
		return "stop-stable"
	case ReasonPostStreamStable:
		return "post-stream-stable"
	case ReasonActivityQuiet:
		return "activity-quiet"
	case ReasonFallbackStable:
		return "fallback-stable"
	case ReasonNoSignal:
		return "no-signal"
	case ReasonHardTimeout:
		return "hard-timeout"
	case ReasonQuotaReached:
		return "quota-reached"
	default:
		return "none"
	}
}
