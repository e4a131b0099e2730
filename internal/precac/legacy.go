package precac

import (
	"context"

	"github.com/signalsfoundry/dfs-precac/forest"
	"github.com/signalsfoundry/dfs-precac/internal/logging"
	"github.com/signalsfoundry/dfs-precac/model"
)

// SetOperatingChannel records the channel a radio now uses. In legacy mode
// a plain 80 MHz channel is widened with a precac secondary: the returned
// channel is what the host should program, 160 MHz when the secondary is
// adjacent and 80+80 otherwise. In every other case op is returned as is.
func (s *Scheduler) SetOperatingChannel(ctx context.Context, radio int, op model.OperatingChannel) (model.OperatingChannel, error) {
	ctx, span := s.startSpan(ctx, "precac.SetOperatingChannel", radio)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.radioLocked(radio)
	if err != nil {
		return op, err
	}
	r.operating = op
	if s.mode != ModeLegacy || op.Width != model.Width80 {
		return op, nil
	}
	plan := s.planLegacyLocked(ctx, r, op)
	r.operating = plan
	return plan, nil
}

// SetConventionalCAC tells the scheduler whether the primary channel of a
// radio is in its own CAC. Legacy restarts wait for it to finish.
func (s *Scheduler) SetConventionalCAC(ctx context.Context, radio int, running bool) error {
	ctx, span := s.startSpan(ctx, "precac.SetConventionalCAC", radio)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.radioLocked(radio)
	if err != nil {
		return err
	}
	r.cacRunning = running
	if running || !s.deferred || s.mode != ModeLegacy || s.timerRunning {
		return nil
	}
	s.deferred = false
	s.log.Debug(ctx, "replaying deferred precac restart", logging.Int("radio", radio))
	s.restartLegacyLocked(ctx, r)
	return nil
}

// planLegacyLocked picks the secondary 80 MHz segment for a radio whose
// primary is base and arms the timer for it. A secondary already under
// precac is kept unless the new primary collides with it.
func (s *Scheduler) planLegacyLocked(ctx context.Context, r *radio, base model.OperatingChannel) model.OperatingChannel {
	primary := base.Center1

	if s.timerRunning && s.activeRadio == r.index &&
		s.legacySecondary != 0 && s.legacySecondary != primary {
		return s.combineLegacy(r, base, s.legacySecondary)
	}
	s.stopTimerLocked()

	sec := r.forest.Select(model.Width80, forest.ExcludeOperating(base))
	if sec == 0 {
		s.log.Debug(ctx, "no 80 MHz segment left for legacy precac",
			logging.Int("radio", r.index),
			logging.Int("primary", int(primary)),
		)
		s.legacySecondary = 0
		s.active = 0
		return base
	}

	s.legacySecondary = sec
	s.active = sec
	s.activeWidth = model.Width80
	s.activeRadio = r.index
	s.armLocked(ctx, s.cfg.LegacyTimerDuration(base, r.forest.IsPrecacDone(base), sec))
	return s.combineLegacy(r, base, sec)
}

func (s *Scheduler) combineLegacy(r *radio, base model.OperatingChannel, sec model.Channel) model.OperatingChannel {
	out := model.OperatingChannel{
		Center1: base.Center1,
		DFS:     base.DFS,
		DFS2:    r.catalog.IsDFS(sec),
	}
	if sec == base.Center1+model.Secondary80Offset || sec+model.Secondary80Offset == base.Center1 {
		out.Width = model.Width160
		out.Center2 = (base.Center1 + sec) / 2
		return out
	}
	out.Width = model.Width80P80
	out.Center2 = sec
	return out
}

// restartLegacyLocked reprograms a radio with a fresh secondary, or drops
// it back to plain 80 MHz when none is left.
func (s *Scheduler) restartLegacyLocked(ctx context.Context, r *radio) {
	if r.operating.IsZero() {
		return
	}
	base := model.OperatingChannel{
		Center1: r.operating.Center1,
		Width:   model.Width80,
		DFS:     r.operating.DFS,
	}
	plan := s.planLegacyLocked(ctx, r, base)
	if plan == r.operating {
		return
	}
	s.requestChangeLocked(ctx, r, plan, ReasonPrecacRestart)
}

// completeLegacyLocked runs when the legacy timer expires: the secondary
// segment is cleared and a new one is chosen unless the radio can go home.
func (s *Scheduler) completeLegacyLocked(ctx context.Context) {
	if s.activeRadio >= len(s.radios) {
		return
	}
	r := s.radios[s.activeRadio]

	if sec := s.legacySecondary; sec != 0 {
		done := model.OperatingChannel{Center1: sec, Width: model.Width80}
		marked := r.forest.MarkCACDone(ctx, done)
		if s.metrics != nil {
			s.metrics.IncCompletion(s.mode.String(), model.Width80.String())
		}
		s.log.Info(ctx, "legacy precac completed",
			logging.Int("radio", r.index),
			logging.Int("segment", int(sec)),
			logging.Int("marked", marked),
		)
		s.recordLocked(ctx, Event{
			Kind:    EventCACDone,
			Radio:   r.index,
			Channel: sec,
			Width:   model.Width80,
		})
	}
	s.legacySecondary = 0
	s.active = 0

	if s.checkHomeChannelLocked(ctx, r) {
		return
	}
	if r.cacRunning {
		s.deferred = true
		return
	}
	s.restartLegacyLocked(ctx, r)
}
