package precac

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/dfs-precac/forest"
	"github.com/signalsfoundry/dfs-precac/internal/logging"
	"github.com/signalsfoundry/dfs-precac/model"
)

// RadarEvent reports radar on one radio.
type RadarEvent struct {
	Radio    int
	Channels []model.Channel
	// Secondary is set when the legacy secondary chain saw the radar.
	Secondary  bool
	DetectorID int
}

// RadarFound puts the affected subchannels in NOL and reacts if the radar
// hit the channel under precac. The NOL marking error, if any, is returned
// after the scheduler has reacted.
func (s *Scheduler) RadarFound(ctx context.Context, ev RadarEvent) error {
	ctx, span := s.startSpan(ctx, "precac.RadarFound", ev.Radio)
	defer span.End()
	span.SetAttributes(
		attribute.Int("detector", ev.DetectorID),
		attribute.Int("channels", len(ev.Channels)),
	)

	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.radioLocked(ev.Radio)
	if err != nil {
		return err
	}

	marked, markErr := r.forest.MarkNOL(ctx, ev.Channels)
	s.scheduleNOLExpiryLocked(r, marked)

	if s.metrics != nil {
		s.metrics.IncRadar(s.mode.String(), strconv.Itoa(ev.DetectorID))
	}
	s.log.Info(ctx, "radar found",
		logging.Int("radio", r.index),
		logging.Any("channels", ev.Channels),
		logging.Bool("secondary", ev.Secondary),
		logging.Int("detector", ev.DetectorID),
		logging.Int("marked", len(marked)),
	)
	for _, ch := range ev.Channels {
		s.recordLocked(ctx, Event{
			Kind:    EventRadar,
			Radio:   r.index,
			Channel: ch,
			Width:   model.Width20,
			Detail:  "detector " + strconv.Itoa(ev.DetectorID),
		})
	}

	if !s.timerRunning {
		return markErr
	}

	switch s.mode {
	case ModeLegacy:
		if s.activeRadio != r.index {
			break
		}
		s.stopTimerLocked()
		s.legacySecondary = 0
		s.active = 0
		if !ev.Secondary {
			// The primary changes channel on its own.
			break
		}
		if r.cacRunning {
			s.deferred = true
			break
		}
		s.restartLegacyLocked(ctx, r)

	case ModeAgile:
		if s.activeRadio != r.index {
			break
		}
		s.stopTimerLocked()
		s.abortAgileLocked(ctx, r)
		s.active = 0
		if ev.DetectorID == s.cfg.AgileDetectorID {
			s.prepareAgileLocked(ctx)
			break
		}
		s.precacStarted = false
	}
	return markErr
}

// NOLExpired releases one subchannel from NOL and resumes precac if the
// scheduler is idle.
func (s *Scheduler) NOLExpired(ctx context.Context, radio int, ch model.Channel) error {
	ctx, span := s.startSpan(ctx, "precac.NOLExpired", radio)
	defer span.End()
	span.SetAttributes(attribute.Int("channel", int(ch)))

	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.radioLocked(radio)
	if err != nil {
		return err
	}
	key := nolKey{radio: radio, ch: ch}
	if pending, ok := s.nolEvents[key]; ok {
		s.events.Cancel(pending.id)
		delete(s.nolEvents, key)
	}
	return s.nolExpiredLocked(ctx, r, ch)
}

func (s *Scheduler) nolExpiredLocked(ctx context.Context, r *radio, ch model.Channel) error {
	err := r.forest.UnmarkNOL(ctx, ch)
	if errors.Is(err, forest.ErrSegmentNotFound) {
		err = nil
	}
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.IncNOLExpiry(s.mode.String())
	}
	s.log.Debug(ctx, "NOL expired",
		logging.Int("radio", r.index),
		logging.Int("channel", int(ch)),
	)
	s.recordLocked(ctx, Event{
		Kind:    EventNOLExpired,
		Radio:   r.index,
		Channel: ch,
		Width:   model.Width20,
	})

	if s.timerRunning {
		return nil
	}
	switch s.mode {
	case ModeLegacy:
		if r.cacRunning {
			s.deferred = true
			break
		}
		if r.operating.Width != model.Width80 {
			break
		}
		if r.forest.Select(model.Width80, forest.ExcludeOperating(r.operating)) != 0 {
			s.restartLegacyLocked(ctx, r)
		}
	case ModeAgile:
		if !s.precacStarted {
			s.prepareAgileLocked(ctx)
		}
	}
	return nil
}

// scheduleNOLExpiryLocked arms one release per newly marked subchannel when
// the scheduler owns the NOL clock.
func (s *Scheduler) scheduleNOLExpiryLocked(r *radio, channels []model.Channel) {
	if s.events == nil || len(channels) == 0 {
		return
	}
	at := s.events.Now().Add(s.cfg.NOLDuration)
	for _, ch := range channels {
		s.scheduleNOLLocked(nolKey{radio: r.index, ch: ch}, at)
	}
}

func (s *Scheduler) scheduleNOLLocked(key nolKey, at time.Time) {
	if pending, ok := s.nolEvents[key]; ok {
		s.events.Cancel(pending.id)
	}
	s.nolSeq++
	seq := s.nolSeq
	id := s.events.Schedule(at, func() { s.expireNOL(key, seq) })
	s.nolEvents[key] = nolEvent{id: id, seq: seq, at: at}
}

// moveNOLEventsLocked hands the pending NOL releases of the segments in
// moved from src to dst, keeping their due times. Releases dst held for a
// segment it is about to lose are dropped with the entry they referred to.
// It must run before the entries move.
func (s *Scheduler) moveNOLEventsLocked(dst, src *radio, moved map[model.Channel]bool) {
	var fromSrc, stale []nolKey
	for key := range s.nolEvents {
		switch key.radio {
		case src.index:
			if seg, ok := src.forest.SegmentOf(key.ch); ok && moved[seg] {
				fromSrc = append(fromSrc, key)
			}
		case dst.index:
			if seg, ok := dst.forest.SegmentOf(key.ch); ok && moved[seg] {
				stale = append(stale, key)
			}
		}
	}
	for _, key := range stale {
		s.events.Cancel(s.nolEvents[key].id)
		delete(s.nolEvents, key)
	}
	for _, key := range fromSrc {
		pending := s.nolEvents[key]
		s.events.Cancel(pending.id)
		delete(s.nolEvents, key)
		s.scheduleNOLLocked(nolKey{radio: dst.index, ch: key.ch}, pending.at)
	}
}

func (s *Scheduler) expireNOL(key nolKey, seq uint64) {
	ctx, span := s.startSpan(context.Background(), "precac.NOLTimer", key.radio)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if pending, ok := s.nolEvents[key]; !ok || pending.seq != seq {
		return
	}
	delete(s.nolEvents, key)
	if key.radio >= len(s.radios) {
		return
	}
	if err := s.nolExpiredLocked(ctx, s.radios[key.radio], key.ch); err != nil {
		s.log.Warn(ctx, "NOL release failed",
			logging.Int("radio", key.radio),
			logging.Int("channel", int(key.ch)),
			logging.Err(err),
		)
	}
}

func (s *Scheduler) cancelNOLEventsLocked() {
	for key, pending := range s.nolEvents {
		s.events.Cancel(pending.id)
		delete(s.nolEvents, key)
	}
}

// checkHomeChannelLocked switches a radio to its desired channel once that
// channel is fully cleared, ending the current cycle.
func (s *Scheduler) checkHomeChannelLocked(ctx context.Context, r *radio) bool {
	if s.desired.IsZero() || s.desiredRadio != r.index {
		return false
	}
	if !r.forest.IsPrecacDone(s.desired) {
		return false
	}

	target := s.desired
	s.log.Info(ctx, "desired channel cleared, returning home",
		logging.Int("radio", r.index),
		logging.String("target", target.String()),
	)
	s.requestChangeLocked(ctx, r, target, ReasonHomeChannel)
	s.intermediate = target.Center1
	s.desired = model.OperatingChannel{}
	s.precacStarted = false
	s.active = 0
	return true
}
