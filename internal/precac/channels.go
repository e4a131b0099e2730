package precac

import (
	"context"
	"fmt"
	"io"

	"github.com/signalsfoundry/dfs-precac/forest"
	"github.com/signalsfoundry/dfs-precac/internal/logging"
	"github.com/signalsfoundry/dfs-precac/model"
)

// DecidePreferredChannel picks the channel a radio should move to when the
// host wants desired. A DFS channel that still needs CAC is remembered and
// promoted in the forest, and the intermediate channel is returned in its
// place; the radio goes home once precac clears it. Otherwise desired is
// returned and becomes the new intermediate.
func (s *Scheduler) DecidePreferredChannel(ctx context.Context, radio int, desired model.OperatingChannel) (model.OperatingChannel, error) {
	ctx, span := s.startSpan(ctx, "precac.DecidePreferredChannel", radio)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.radioLocked(radio)
	if err != nil {
		return desired, err
	}
	if s.mode == ModeDisabled {
		return desired, nil
	}

	if desired.DFS && s.intermediate != 0 && !r.forest.IsPrecacDone(desired) {
		if sec := desired.SecondarySegment(); sec != 0 && desired.DFS2 {
			r.forest.Prefer(sec)
		}
		r.forest.Prefer(desired.Center1)
		s.desired = desired
		s.desiredRadio = radio

		via := model.OperatingChannel{Center1: s.intermediate, Width: desired.Width}
		s.log.Info(ctx, "desired channel needs CAC, using intermediate",
			logging.Int("radio", radio),
			logging.String("desired", desired.String()),
			logging.String("intermediate", via.String()),
		)
		return via, nil
	}

	s.intermediate = desired.Center1
	return desired, nil
}

// SetIntermediateChannel sets the channel a radio waits on while its
// desired channel is precac'd. A DFS channel is rejected and clears the
// setting.
func (s *Scheduler) SetIntermediateChannel(radio int, ch model.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.radioLocked(radio)
	if err != nil {
		return err
	}
	if ch != 0 && r.catalog.IsDFS(ch) {
		s.intermediate = 0
		return fmt.Errorf("%w: channel %d", ErrIntermediateDFS, ch)
	}
	s.intermediate = ch
	return nil
}

// IntermediateChannel returns the configured intermediate channel.
func (s *Scheduler) IntermediateChannel() model.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.intermediate
}

// PreferChannel moves the segment holding ch to the front of a radio's
// forest. It reports false when nothing moved, including while legacy
// precac is running on that segment.
func (s *Scheduler) PreferChannel(ctx context.Context, radio int, ch model.Channel) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.radioLocked(radio)
	if err != nil {
		return false, err
	}
	if s.mode == ModeLegacy && s.timerRunning && s.activeRadio == radio &&
		s.legacySecondary != 0 && model.WithinRange(ch, s.legacySecondary, model.SegmentHalfSpan) {
		s.log.Debug(ctx, "segment already under legacy precac",
			logging.Int("radio", radio),
			logging.Int("channel", int(ch)),
		)
		return false, nil
	}
	return r.forest.Prefer(ch), nil
}

// ChannelState reports the precac status of the segment holding ch.
func (s *Scheduler) ChannelState(radio int, ch model.Channel) (forest.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.radioLocked(radio)
	if err != nil {
		return forest.StateErr, err
	}
	seg, ok := r.forest.SegmentOf(ch)
	if !ok {
		return forest.StateErr, nil
	}
	if s.timerRunning && s.activeRadio == radio && s.active != 0 {
		if cur, ok := r.forest.SegmentOf(s.active); ok && cur == seg {
			return forest.StateNow, nil
		}
	}
	return r.forest.SegmentState(ch), nil
}

// IsPrecacDone reports whether a radio could move to op without CAC.
func (s *Scheduler) IsPrecacDone(radio int, op model.OperatingChannel) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.radioLocked(radio)
	if err != nil {
		return false, err
	}
	return r.forest.IsPrecacDone(op), nil
}

// Reassign moves the segments in [low, high] from the src radio's forest
// to dst's. Nothing moves unless dst operates in a precac domain. Pending
// NOL releases follow the segments. A cycle running on a moved segment of
// src is abandoned and precac resumes on what is left.
func (s *Scheduler) Reassign(ctx context.Context, dst, src int, low, high model.Channel) (int, error) {
	ctx, span := s.startSpan(ctx, "precac.Reassign", src)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.radioLocked(dst)
	if err != nil {
		return 0, err
	}
	sr, err := s.radioLocked(src)
	if err != nil {
		return 0, err
	}
	if !d.catalog.Domain().RequiresPrecac() {
		s.log.Debug(ctx, "skipping precac reassignment",
			logging.Int("dst", dst),
			logging.String("domain", d.catalog.Domain().String()),
		)
		return 0, nil
	}
	if d == sr {
		return forest.Reassign(ctx, d.forest, sr.forest, low, high)
	}

	moved := make(map[model.Channel]bool)
	for _, seg := range sr.forest.Segments() {
		if seg >= low && seg <= high {
			moved[seg] = true
		}
	}
	interrupted := false
	if s.timerRunning && s.activeRadio == src && s.active != 0 {
		if seg, ok := sr.forest.SegmentOf(s.active); ok && moved[seg] {
			interrupted = true
			s.log.Info(ctx, "segment under precac reassigned, abandoning cycle",
				logging.Int("radio", src),
				logging.Int("channel", int(s.active)),
			)
			s.stopTimerLocked()
			if s.mode == ModeAgile {
				s.abortAgileLocked(ctx, sr)
			}
			s.legacySecondary = 0
			s.active = 0
		}
	}
	s.moveNOLEventsLocked(d, sr, moved)

	n, err := forest.Reassign(ctx, d.forest, sr.forest, low, high)
	if interrupted {
		switch s.mode {
		case ModeAgile:
			s.prepareAgileLocked(ctx)
		case ModeLegacy:
			if sr.cacRunning {
				s.deferred = true
				break
			}
			s.restartLegacyLocked(ctx, sr)
		}
	}
	return n, err
}

// ResetForests rebuilds every forest from its catalog, as after a
// regulatory domain change. Pending NOL releases and the running cycle are
// dropped.
func (s *Scheduler) ResetForests(ctx context.Context) {
	ctx, span := s.startSpan(ctx, "precac.ResetForests", -1)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.abandonCycleLocked(ctx)
	s.cancelNOLEventsLocked()
	s.desired = model.OperatingChannel{}
	for _, r := range s.radios {
		if r.catalog.Domain().RequiresPrecac() {
			r.forest.Reset(ctx, r.catalog.DFSChannels())
			continue
		}
		r.forest.Teardown(ctx)
	}
	s.resolveModeLocked(ctx)
}

// Dump writes the forest of one radio in the diagnostic tree format.
func (s *Scheduler) Dump(radio int, w io.Writer) error {
	f, err := s.Forest(radio)
	if err != nil {
		return err
	}
	return f.Dump(w)
}
