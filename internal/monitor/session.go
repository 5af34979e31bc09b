package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Prober supplies the per-tick observations. Implementations must be
// tolerant: the second return value reports whether the probe answered, and
// a false answer is never an error. The query layer's fallback contract
// maps onto this directly.
type Prober interface {
	Active(ctx context.Context) (value bool, ok bool)
	Activity(ctx context.Context) (lines []string, ok bool)
	Text(ctx context.Context) (text string, ok bool)
	// QuotaExceeded is consulted once, at the moment a completion path is
	// about to fire.
	QuotaExceeded(ctx context.Context) bool
}

// Session is one completion-tracking run for one dispatched input. Events
// stream on Events(); the channel closes after the terminal event or after
// Stop. Sessions are independent: stopping one never touches another or the
// underlying connection.
type Session struct {
	ID string

	cfg        Config
	prober     Prober
	classifier Classifier
	log        *zap.Logger

	events chan Event
	done   chan struct{}

	cancel   context.CancelFunc
	stopOnce sync.Once

	// lastClean is the most recent non-noise candidate, retained when a
	// tick's sample classifies as noise-only.
	lastClean string
}

// StartSession begins the tick loop. classifier may be nil to disable
// filtering; logger may be nil.
func StartSession(ctx context.Context, cfg Config, prober Prober, classifier Classifier, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()

	ctx, cancel := context.WithCancel(ctx)
	id := uuid.NewString()
	s := &Session{
		ID:         id,
		cfg:        cfg,
		prober:     prober,
		classifier: classifier,
		log:        logger.Named("monitor").With(zap.String("session", id)),
		events:     make(chan Event, 32),
		done:       make(chan struct{}),
		cancel:     cancel,
	}
	go s.run(ctx)
	return s
}

// Events is the session's notification stream. The terminal Complete or
// Timeout event is delivered at most once, then the channel closes.
func (s *Session) Events() <-chan Event { return s.events }

// Done closes when the session loop has exited, terminal or cancelled.
func (s *Session) Done() <-chan struct{} { return s.done }

// Stop cancels the session. Idempotent; no events are emitted after the
// channel closes, and no timers survive.
func (s *Session) Stop() {
	s.stopOnce.Do(s.cancel)
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.events)
	defer s.cancel()

	state := NewState(time.Now())
	s.log.Debug("session started", zap.Duration("interval", s.cfg.PollInterval))

	timer := time.NewTimer(s.cfg.PollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Debug("session cancelled", zap.String("phase", state.Phase.String()))
			return
		case <-timer.C:
		}

		// Ticks never overlap: the next one is armed only after this
		// tick's probes have settled and the transition was applied.
		obs := s.gather(ctx, state)
		if ctx.Err() != nil {
			return
		}

		next, events, decision := Advance(state, obs, s.cfg)
		state = next
		if !s.emitAll(ctx, events) {
			return
		}

		if decision != nil {
			quota := false
			if !decision.TimedOut {
				quota = s.prober.QuotaExceeded(ctx)
			}
			state, events = Finalize(state, *decision, quota)
			s.log.Info("session terminal",
				zap.String("phase", state.Phase.String()),
				zap.String("reason", decision.Reason.String()),
				zap.Int("noise_lines_dropped", state.DroppedNoiseLineCount))
			s.emitAll(ctx, events)
			return
		}

		timer.Reset(s.cfg.PollInterval)
	}
}

// gather fans the three probes out concurrently; they are read-only and
// idempotent, so ordering between them is irrelevant. A probe that fails
// leaves its OK flag false and the engine keeps the previous value.
func (s *Session) gather(ctx context.Context, state State) Observation {
	var (
		obs Observation
		mu  sync.Mutex
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, ok := s.prober.Active(gctx)
		mu.Lock()
		obs.Active, obs.ActiveOK = v, ok
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		lines, ok := s.prober.Activity(gctx)
		mu.Lock()
		obs.Activity, obs.ActivityOK = lines, ok
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		text, ok := s.prober.Text(gctx)
		mu.Lock()
		obs.Text, obs.TextOK = text, ok
		mu.Unlock()
		return nil
	})
	_ = g.Wait()

	obs.At = time.Now()
	if obs.TextOK {
		clean, dropped := FilterText(s.classifier, obs.Text)
		obs.DroppedNoise = dropped
		if clean == "" && dropped > 0 {
			// Noise-only sample: keep the most recent real candidate so two
			// narration frames cannot erase observed output.
			obs.Text = s.lastClean
		} else {
			obs.Text = clean
			if clean != "" {
				s.lastClean = clean
			}
		}
	}
	return obs
}

// emitAll delivers events in order. It returns false if the session was
// cancelled mid-delivery; nothing further is emitted in that case.
func (s *Session) emitAll(ctx context.Context, events []Event) bool {
	for _, ev := range events {
		select {
		case s.events <- ev:
		case <-ctx.Done():
			return false
		}
	}
	return true
}
