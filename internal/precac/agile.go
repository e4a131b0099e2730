package precac

import (
	"context"

	"github.com/signalsfoundry/dfs-precac/forest"
	"github.com/signalsfoundry/dfs-precac/internal/logging"
	"github.com/signalsfoundry/dfs-precac/model"
)

// OCACStatus is the outcome the firmware reports for an off-channel CAC.
type OCACStatus int

const (
	OCACSuccess OCACStatus = iota
	OCACReset
	OCACCancel
)

func (o OCACStatus) String() string {
	switch o {
	case OCACSuccess:
		return "success"
	case OCACReset:
		return "reset"
	case OCACCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// StartAgile marks a radio as able to lend the agile detector. The first
// radio to start while no cycle is in progress starts one.
func (s *Scheduler) StartAgile(ctx context.Context, radio int) error {
	ctx, span := s.startSpan(ctx, "precac.StartAgile", radio)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.radioLocked(radio)
	if err != nil {
		return err
	}
	if s.mode != ModeAgile {
		s.log.Debug(ctx, "agile precac not active, ignoring start",
			logging.Int("radio", radio),
			logging.String("mode", s.mode.String()),
		)
		return nil
	}
	r.agileActive = true
	if s.precacStarted {
		return nil
	}
	s.curRadio = radio
	s.prepareAgileLocked(ctx)
	return nil
}

// StopAgile withdraws a radio from the agile round robin. When it owned
// the detector the cycle moves on to the next radio.
func (s *Scheduler) StopAgile(ctx context.Context, radio int) error {
	ctx, span := s.startSpan(ctx, "precac.StopAgile", radio)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.radioLocked(radio)
	if err != nil {
		return err
	}
	r.agileActive = false
	if s.mode != ModeAgile || !s.timerRunning || s.activeRadio != radio {
		return nil
	}
	s.stopTimerLocked()
	s.abortAgileLocked(ctx, r)
	s.active = 0
	s.prepareAgileLocked(ctx)
	return nil
}

// AgileCACComplete handles the firmware report for the channel under agile
// precac. Success clears it at once, Reset moves on and Cancel ends the
// cycle. Reports for a radio that does not own the detector are ignored.
func (s *Scheduler) AgileCACComplete(ctx context.Context, radio int, status OCACStatus) error {
	ctx, span := s.startSpan(ctx, "precac.AgileCACComplete", radio)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.radioLocked(radio); err != nil {
		return err
	}
	if s.mode != ModeAgile || !s.timerRunning || s.activeRadio != radio {
		s.log.Debug(ctx, "stale agile CAC report",
			logging.Int("radio", radio),
			logging.String("status", status.String()),
		)
		return nil
	}
	s.stopTimerLocked()

	switch status {
	case OCACSuccess:
		s.completeAgileLocked(ctx)
	case OCACReset:
		s.active = 0
		s.prepareAgileLocked(ctx)
	case OCACCancel:
		s.active = 0
		s.precacStarted = false
	}
	return nil
}

// prepareAgileLocked advances the round robin to the next agile-active
// radio with something left to precac, configures the detector and arms
// the timer. With nothing left anywhere the cycle stops.
func (s *Scheduler) prepareAgileLocked(ctx context.Context) {
	n := len(s.radios)
	for i := 1; i <= n; i++ {
		idx := (s.curRadio + i) % n
		r := s.radios[idx]
		if !r.agileActive || r.operating.IsZero() {
			continue
		}
		if (r.operating.Width == model.Width160 || r.operating.Width == model.Width80P80) &&
			!s.cfg.Capability.Agile160 {
			continue
		}
		w, ok := model.AgileWidth(r.operating.Width)
		if !ok {
			continue
		}
		ch := r.forest.Select(w, forest.ExcludeOperating(r.operating))
		if ch == 0 {
			continue
		}

		s.curRadio = idx
		s.activeRadio = idx
		s.active = ch
		s.activeWidth = w
		s.precacStarted = true

		minT, maxT := s.cfg.AgileTimeouts(ch, w)
		cfg := AgileConfig{
			Radio:      idx,
			Channel:    ch,
			Width:      w,
			MinTimeout: minT,
			MaxTimeout: maxT,
		}
		if err := s.sink.RequestAgileConfig(ctx, cfg); err != nil {
			s.log.Warn(ctx, "agile config request failed",
				logging.Int("radio", idx),
				logging.Int("channel", int(ch)),
				logging.Err(err),
			)
		}
		s.recordLocked(ctx, Event{
			Kind:    EventAgileConfig,
			Radio:   idx,
			Channel: ch,
			Width:   w,
			Detail:  minT.String() + "/" + maxT.String(),
		})
		s.armLocked(ctx, s.cfg.AgileTimerDuration(ch, w))
		return
	}

	s.log.Debug(ctx, "no channel left for agile precac")
	s.precacStarted = false
	s.active = 0
}

// completeAgileLocked clears the channel under agile precac and moves on.
func (s *Scheduler) completeAgileLocked(ctx context.Context) {
	if s.activeRadio >= len(s.radios) {
		return
	}
	r := s.radios[s.activeRadio]

	if s.active != 0 {
		done := model.OperatingChannel{Center1: s.active, Width: s.activeWidth}
		marked := r.forest.MarkCACDone(ctx, done)
		if s.metrics != nil {
			s.metrics.IncCompletion(s.mode.String(), s.activeWidth.String())
		}
		s.log.Info(ctx, "agile precac completed",
			logging.Int("radio", r.index),
			logging.Int("channel", int(s.active)),
			logging.String("width", s.activeWidth.String()),
			logging.Int("marked", marked),
		)
		s.recordLocked(ctx, Event{
			Kind:    EventCACDone,
			Radio:   r.index,
			Channel: s.active,
			Width:   s.activeWidth,
		})
	}
	s.active = 0

	if s.checkHomeChannelLocked(ctx, r) {
		return
	}
	s.prepareAgileLocked(ctx)
}

func (s *Scheduler) abortAgileLocked(ctx context.Context, r *radio) {
	if err := s.sink.RequestAgileAbort(ctx, r.index); err != nil {
		s.log.Warn(ctx, "agile abort request failed",
			logging.Int("radio", r.index),
			logging.Err(err),
		)
	}
	s.recordLocked(ctx, Event{
		Kind:    EventAgileAbort,
		Radio:   r.index,
		Channel: s.active,
		Width:   s.activeWidth,
	})
}
