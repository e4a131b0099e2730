package forest

import (
	"context"
	"errors"
	"sync"

	"github.com/signalsfoundry/dfs-precac/internal/logging"
	"github.com/signalsfoundry/dfs-precac/model"
)

// State summarises the precac status of one segment.
type State int

const (
	StateErr State = iota
	StateNow
	StateNOL
	StateDone
	StateRequired
)

func (s State) String() string {
	switch s {
	case StateNow:
		return "PRECAC_NOW"
	case StateNOL:
		return "PRECAC_NOL"
	case StateDone:
		return "PRECAC_DONE"
	case StateRequired:
		return "PRECAC_REQUIRED"
	default:
		return "PRECAC_ERR"
	}
}

// StatusRecorder receives aggregate forest counts after every mutation.
type StatusRecorder interface {
	SetForestStatus(forest string, segments, cacDone, nol int)
}

// Forest is the ordered set of segment trees for one radio. A single mutex
// guards the entry list and every tree in it.
type Forest struct {
	mu      sync.Mutex
	name    string
	entries []*Entry

	log     logging.Logger
	metrics StatusRecorder
}

// Option customises Forest construction.
type Option func(*Forest)

// WithStatusRecorder attaches a recorder for aggregate counts.
func WithStatusRecorder(r StatusRecorder) Option {
	return func(f *Forest) {
		f.metrics = r
	}
}

// New returns an empty forest. name labels logs and metrics.
func New(name string, log logging.Logger, opts ...Option) *Forest {
	if log == nil {
		log = logging.Noop()
	}
	f := &Forest{
		name: name,
		log:  log.With(logging.String("forest", name)),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Name returns the forest label.
func (f *Forest) Name() string { return f.name }

// Build adds one entry per distinct DFS 80 MHz segment in the catalog and
// returns the number of entries added. Segments that cannot be built are
// logged and skipped; a partial forest is still usable.
//
// A 20 MHz subchannel is legal when the catalog lists it at 20 MHz. A
// catalog that lists no 20 MHz channels at all marks every subchannel legal.
func (f *Forest) Build(ctx context.Context, channels []model.CatalogChannel) int {
	legal20 := make(map[model.Channel]bool)
	for _, c := range channels {
		if c.Width == model.Width20 {
			legal20[c.Channel] = true
		}
	}
	legal := func(ch model.Channel) bool {
		return len(legal20) == 0 || legal20[ch]
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	added := 0
	for _, c := range channels {
		if !c.DFS || c.Width != model.Width80 {
			continue
		}
		if f.indexLocked(c.Channel) >= 0 {
			continue
		}
		e, err := newEntry(c.Channel, legal)
		if err != nil {
			f.log.Warn(ctx, "skipping precac segment",
				logging.Int("segment", int(c.Channel)),
				logging.Err(err),
			)
			continue
		}
		f.entries = append(f.entries, e)
		added++
	}

	f.log.Debug(ctx, "precac forest built",
		logging.Int("segments", len(f.entries)),
		logging.Int("added", added),
	)
	f.recordLocked()
	return added
}

// Teardown releases every tree and empties the forest. It returns the
// number of nodes released.
func (f *Forest) Teardown(ctx context.Context) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	released := 0
	for _, e := range f.entries {
		released += teardown(e.root, nil)
		e.root = nil
	}
	f.entries = nil

	f.log.Debug(ctx, "precac forest torn down", logging.Int("nodes", released))
	f.recordLocked()
	return released
}

// Reset rebuilds the forest from a fresh catalog.
func (f *Forest) Reset(ctx context.Context, channels []model.CatalogChannel) int {
	f.Teardown(ctx)
	return f.Build(ctx, channels)
}

// Len returns the number of entries.
func (f *Forest) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// Segments returns the segment centers in list order.
func (f *Forest) Segments() []model.Channel {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]model.Channel, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e.Segment)
	}
	return out
}

// Contains reports whether ch lies in any segment of the forest.
func (f *Forest) Contains(ch model.Channel) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entryLocked(ch) != nil
}

// Head returns the segment at the front of the list, or 0.
func (f *Forest) Head() model.Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.entries) == 0 {
		return 0
	}
	return f.entries[0].Segment
}

// Prefer moves the entry containing ch to the front of the list so the
// selector considers it first. It reports whether an entry was moved.
func (f *Forest) Prefer(ch model.Channel) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, e := range f.entries {
		if !e.contains(ch) {
			continue
		}
		copy(f.entries[1:i+1], f.entries[:i])
		f.entries[0] = e
		return true
	}
	return false
}

// MarkCACDone records every 20 MHz subchannel of op as cleared. It returns
// the number of subchannels newly marked.
func (f *Forest) MarkCACDone(ctx context.Context, op model.OperatingChannel) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	marked := 0
	for _, ch := range op.Subchannels() {
		e := f.entryLocked(ch)
		if e == nil {
			continue
		}
		changed, err := e.markCACDone(ch)
		if err != nil {
			f.logMarkErr(ctx, "mark CAC done", ch, err)
			continue
		}
		if changed {
			marked++
		}
	}
	f.recordLocked()
	return marked
}

// MarkNOL records radar on each listed 20 MHz channel and returns the
// channels newly marked. Channels outside the forest are ignored. The first
// failure, typically ErrNOLSaturated, is returned after the remaining
// channels are processed.
func (f *Forest) MarkNOL(ctx context.Context, channels []model.Channel) ([]model.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var marked []model.Channel
	var firstErr error
	for _, ch := range channels {
		e := f.entryLocked(ch)
		if e == nil {
			continue
		}
		if err := e.markNOL(ch); err != nil {
			f.logMarkErr(ctx, "mark NOL", ch, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		marked = append(marked, ch)
	}
	f.recordLocked()
	return marked, firstErr
}

// UnmarkNOL releases one 20 MHz channel from NOL.
func (f *Forest) UnmarkNOL(ctx context.Context, ch model.Channel) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	e := f.entryLocked(ch)
	if e == nil {
		return ErrSegmentNotFound
	}
	if err := e.unmarkNOL(ch); err != nil {
		f.logMarkErr(ctx, "unmark NOL", ch, err)
		return err
	}
	f.recordLocked()
	return nil
}

// IsCACDone reports whether the node carrying ch is fully cleared.
func (f *Forest) IsCACDone(ch model.Channel) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	e := f.entryLocked(ch)
	return e != nil && e.isCACDone(ch)
}

// IsPrecacDone reports whether a radio could switch to op without a CAC.
// For 80+80 and 160 a non-DFS segment counts as cleared.
func (f *Forest) IsPrecacDone(op model.OperatingChannel) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	done := func(ch model.Channel) bool {
		e := f.entryLocked(ch)
		return e != nil && e.isCACDone(ch)
	}

	switch op.Width {
	case model.Width20, model.Width40, model.Width80:
		return done(op.Center1)
	case model.Width80P80, model.Width160:
		if op.DFS && !done(op.Center1) {
			return false
		}
		if op.DFS2 && !done(op.SecondarySegment()) {
			return false
		}
		return true
	default:
		return false
	}
}

// Select returns the first channel of width w, in list order, that still
// needs CAC outside the exclusion, or 0 when none is left.
func (f *Forest) Select(w model.Width, x Exclusion) model.Channel {
	if _, ok := model.Subchannels(w); !ok {
		f.log.Warn(context.Background(), "precac selection with unsupported width",
			logging.String("width", w.String()))
		return 0
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, e := range f.entries {
		if e.root == nil {
			continue
		}
		if ch := e.selectChannel(w, x); ch != 0 {
			return ch
		}
	}
	return 0
}

// SegmentOf returns the center of the segment containing ch.
func (f *Forest) SegmentOf(ch model.Channel) (model.Channel, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if e := f.entryLocked(ch); e != nil {
		return e.Segment, true
	}
	return 0, false
}

// SegmentState reports the status of the segment containing ch.
func (f *Forest) SegmentState(ch model.Channel) State {
	f.mu.Lock()
	defer f.mu.Unlock()

	e := f.entryLocked(ch)
	if e == nil || e.root == nil {
		return StateErr
	}
	switch {
	case e.root.NOL > 0:
		return StateNOL
	case e.root.FullyCACDone():
		return StateDone
	default:
		return StateRequired
	}
}

// Reassign moves the entries whose segment lies in [low, high] from src to
// dst, replacing entries of the same segment already in dst. It returns the
// number of entries moved. Callers must serialise reassignments so two
// forests are never locked in opposite orders.
func Reassign(ctx context.Context, dst, src *Forest, low, high model.Channel) (int, error) {
	if dst == nil || src == nil {
		return 0, nil
	}
	if dst == src {
		dst.log.Warn(ctx, "refusing precac reassignment onto the same forest")
		return 0, ErrSameForest
	}

	dst.mu.Lock()
	defer dst.mu.Unlock()
	src.mu.Lock()
	defer src.mu.Unlock()

	moved := 0
	kept := src.entries[:0]
	for _, e := range src.entries {
		if e.Segment < low || e.Segment > high {
			kept = append(kept, e)
			continue
		}
		if i := dst.indexLocked(e.Segment); i >= 0 {
			teardown(dst.entries[i].root, nil)
			dst.entries[i] = e
		} else {
			dst.entries = append(dst.entries, e)
		}
		moved++
	}
	for i := len(kept); i < len(src.entries); i++ {
		src.entries[i] = nil
	}
	src.entries = kept

	if moved > 0 {
		dst.log.Info(ctx, "precac segments reassigned",
			logging.String("from", src.name),
			logging.Int("moved", moved),
		)
	}
	dst.recordLocked()
	src.recordLocked()
	return moved, nil
}

func (f *Forest) entryLocked(ch model.Channel) *Entry {
	for _, e := range f.entries {
		if e.contains(ch) {
			return e
		}
	}
	return nil
}

func (f *Forest) indexLocked(seg model.Channel) int {
	for i, e := range f.entries {
		if e.Segment == seg {
			return i
		}
	}
	return -1
}

func (f *Forest) logMarkErr(ctx context.Context, op string, ch model.Channel, err error) {
	fields := []logging.Field{
		logging.String("op", op),
		logging.Int("channel", int(ch)),
		logging.Err(err),
	}
	switch {
	case errors.Is(err, ErrTreeUninitialised):
		f.log.Error(ctx, "precac tree missing", fields...)
	case errors.Is(err, ErrNOLSaturated):
		f.log.Error(ctx, "radar found on an already marked NOL channel", fields...)
	default:
		f.log.Warn(ctx, "precac mark skipped", fields...)
	}
}

func (f *Forest) recordLocked() {
	if f.metrics == nil {
		return
	}
	cac, nol := 0, 0
	for _, e := range f.entries {
		if e.root == nil {
			continue
		}
		cac += e.root.CACDone
		nol += e.root.NOL
	}
	f.metrics.SetForestStatus(f.name, len(f.entries), cac, nol)
}
