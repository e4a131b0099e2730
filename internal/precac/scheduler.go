package precac

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/dfs-precac/forest"
	"github.com/signalsfoundry/dfs-precac/internal/logging"
	"github.com/signalsfoundry/dfs-precac/internal/observability"
	"github.com/signalsfoundry/dfs-precac/internal/timer"
	"github.com/signalsfoundry/dfs-precac/model"
)

// Mode is the precac flavour active system-wide.
type Mode int

const (
	ModeDisabled Mode = iota
	ModeLegacy
	ModeAgile
)

func (m Mode) String() string {
	switch m {
	case ModeLegacy:
		return "legacy"
	case ModeAgile:
		return "agile"
	default:
		return "disabled"
	}
}

// MarshalText renders the mode by name.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// RadioConfig registers one radio with the scheduler.
type RadioConfig struct {
	Name      string
	Catalog   Catalog
	Operating model.OperatingChannel
}

type radio struct {
	index     int
	name      string
	catalog   Catalog
	forest    *forest.Forest
	operating model.OperatingChannel

	agileActive bool
	cacRunning  bool
}

type nolKey struct {
	radio int
	ch    model.Channel
}

type nolEvent struct {
	id  string
	seq uint64
	at  time.Time
}

// Scheduler drives precac across a set of radios. It owns one forest per
// radio and a single precac timer. All state is guarded by mu; forest locks
// are always taken after mu.
type Scheduler struct {
	mu sync.Mutex

	cfg  Config
	mode Mode

	radios []*radio
	timer  Timer
	sink   CommandSink

	log        logging.Logger
	tracer     trace.Tracer
	metrics    MetricsRecorder
	journal    EventRecorder
	events     timer.EventScheduler
	forestOpts []forest.Option

	timerRunning bool
	timerGen     uint64
	closed       bool

	// Channel under precac and the radio that owns it.
	active      model.Channel
	activeWidth model.Width
	activeRadio int

	// Agile round robin.
	precacStarted bool
	curRadio      int

	// Legacy secondary segment and the deferred restart flag.
	legacySecondary model.Channel
	deferred        bool

	// Home channel bookkeeping.
	desired      model.OperatingChannel
	desiredRadio int
	intermediate model.Channel

	nolEvents map[nolKey]nolEvent
	nolSeq    uint64
}

// Option customises a Scheduler.
type Option func(*Scheduler)

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithJournal attaches a persistent event recorder.
func WithJournal(j EventRecorder) Option {
	return func(s *Scheduler) { s.journal = j }
}

// WithEventScheduler lets the scheduler release NOL entries itself after
// Config.NOLDuration. Without it the host must call NOLExpired.
func WithEventScheduler(es timer.EventScheduler) Option {
	return func(s *Scheduler) { s.events = es }
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(s *Scheduler) { s.tracer = t }
}

// WithForestOptions is applied to every forest the scheduler builds.
func WithForestOptions(opts ...forest.Option) Option {
	return func(s *Scheduler) { s.forestOpts = append(s.forestOpts, opts...) }
}

// New returns a scheduler with no radios.
func New(cfg Config, t Timer, sink CommandSink, log logging.Logger, opts ...Option) (*Scheduler, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: timer is required", ErrInvalidConfig)
	}
	if sink == nil {
		return nil, fmt.Errorf("%w: command sink is required", ErrInvalidConfig)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Noop()
	}

	s := &Scheduler{
		cfg:       cfg,
		timer:     t,
		sink:      sink,
		log:       log,
		nolEvents: make(map[nolKey]nolEvent),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracer == nil {
		s.tracer = observability.Tracer()
	}
	return s, nil
}

// AddRadio registers a radio and builds its forest when its domain uses
// precac. It returns the radio index.
func (s *Scheduler) AddRadio(ctx context.Context, rc RadioConfig) (int, error) {
	if rc.Catalog == nil {
		return 0, fmt.Errorf("%w: radio %q has no catalog", ErrInvalidConfig, rc.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := len(s.radios)
	name := rc.Name
	if name == "" {
		name = "radio" + strconv.Itoa(idx)
	}
	r := &radio{
		index:     idx,
		name:      name,
		catalog:   rc.Catalog,
		forest:    forest.New(name, s.log, s.forestOpts...),
		operating: rc.Operating,
	}
	if rc.Catalog.Domain().RequiresPrecac() {
		r.forest.Build(ctx, rc.Catalog.DFSChannels())
	}
	s.radios = append(s.radios, r)

	s.log.Info(ctx, "precac radio registered",
		logging.Int("radio", idx),
		logging.String("name", name),
		logging.String("domain", rc.Catalog.Domain().String()),
		logging.Int("segments", r.forest.Len()),
	)
	s.resolveModeLocked(ctx)
	return idx, nil
}

// Forest returns the forest of one radio.
func (s *Scheduler) Forest(radio int) (*forest.Forest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.radioLocked(radio)
	if err != nil {
		return nil, err
	}
	return r.forest, nil
}

// Mode returns the active precac mode.
func (s *Scheduler) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetEnabled switches precac on or off. Any running cycle is abandoned.
func (s *Scheduler) SetEnabled(ctx context.Context, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.Enabled == enabled {
		return
	}
	s.cfg.Enabled = enabled
	s.abandonCycleLocked(ctx)
	s.resolveModeLocked(ctx)
}

// SetTimeoutOverride forces the CAC duration in seconds. -1 restores the
// computed durations.
func (s *Scheduler) SetTimeoutOverride(seconds int) error {
	if seconds < -1 {
		return fmt.Errorf("%w: timeout override %d", ErrInvalidConfig, seconds)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.TimeoutOverride = seconds
	return nil
}

// TimeoutOverride returns the forced CAC duration in seconds, or -1.
func (s *Scheduler) TimeoutOverride() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.TimeoutOverride
}

// SetAgile160Support records whether the agile detector can serve radios
// operating at 160 or 80+80 MHz.
func (s *Scheduler) SetAgile160Support(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Capability.Agile160 = ok
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	Mode            Mode                   `json:"mode"`
	TimerRunning    bool                   `json:"timer_running"`
	Active          model.Channel          `json:"active_channel"`
	ActiveWidth     int                    `json:"active_width_mhz"`
	ActiveRadio     int                    `json:"active_radio"`
	PrecacStarted   bool                   `json:"precac_started"`
	CurrentRadio    int                    `json:"current_radio"`
	TimeoutOverride int                    `json:"timeout_override"`
	Secondary       model.Channel          `json:"legacy_secondary,omitempty"`
	Deferred        bool                   `json:"deferred,omitempty"`
	Desired         model.OperatingChannel `json:"desired"`
	Intermediate    model.Channel          `json:"intermediate,omitempty"`
	Radios          []RadioStatus          `json:"radios"`
}

// RadioStatus describes one registered radio.
type RadioStatus struct {
	Index       int    `json:"index"`
	Name        string `json:"name"`
	Domain      string `json:"domain"`
	Operating   string `json:"operating"`
	AgileActive bool   `json:"agile_active"`
	CACRunning  bool   `json:"cac_running"`
	Segments    int    `json:"segments"`
}

// Status returns a snapshot of the scheduler state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Mode:            s.mode,
		TimerRunning:    s.timerRunning,
		Active:          s.active,
		ActiveWidth:     s.activeWidth.MHz(),
		ActiveRadio:     s.activeRadio,
		PrecacStarted:   s.precacStarted,
		CurrentRadio:    s.curRadio,
		TimeoutOverride: s.cfg.TimeoutOverride,
		Secondary:       s.legacySecondary,
		Deferred:        s.deferred,
		Desired:         s.desired,
		Intermediate:    s.intermediate,
	}
	for _, r := range s.radios {
		st.Radios = append(st.Radios, RadioStatus{
			Index:       r.index,
			Name:        r.name,
			Domain:      r.catalog.Domain().String(),
			Operating:   r.operating.String(),
			AgileActive: r.agileActive,
			CACRunning:  r.cacRunning,
			Segments:    r.forest.Len(),
		})
	}
	return st
}

// Close stops the precac timer and any pending NOL releases, waiting for
// a callback already in flight.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.stopTimerLocked()
	s.cancelNOLEventsLocked()
	s.mu.Unlock()

	s.timer.CancelAndWait()
}

func (s *Scheduler) radioLocked(idx int) (*radio, error) {
	if idx < 0 || idx >= len(s.radios) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRadio, idx)
	}
	return s.radios[idx], nil
}

// resolveModeLocked derives the mode from configuration, capability and
// the registered domains.
func (s *Scheduler) resolveModeLocked(ctx context.Context) {
	mode := ModeDisabled
	if s.cfg.Enabled && s.anyPrecacDomainLocked() {
		switch {
		case s.cfg.Capability.LegacyChain:
			mode = ModeLegacy
		case s.cfg.Capability.Agile:
			mode = ModeAgile
		}
	}
	if mode == s.mode {
		return
	}
	s.log.Info(ctx, "precac mode changed",
		logging.String("from", s.mode.String()),
		logging.String("to", mode.String()),
	)
	s.abandonCycleLocked(ctx)
	s.mode = mode
}

func (s *Scheduler) anyPrecacDomainLocked() bool {
	for _, r := range s.radios {
		if r.catalog.Domain().RequiresPrecac() {
			return true
		}
	}
	return false
}

// abandonCycleLocked stops the timer and forgets the channel under precac.
func (s *Scheduler) abandonCycleLocked(ctx context.Context) {
	if s.timerRunning {
		s.log.Debug(ctx, "abandoning precac cycle",
			logging.Int("channel", int(s.active)))
	}
	s.stopTimerLocked()
	s.precacStarted = false
	s.active = 0
	s.activeWidth = model.WidthUnknown
	s.legacySecondary = 0
	s.deferred = false
}

// armLocked starts the precac timer. A callback from an earlier arm sees a
// stale generation and does nothing.
func (s *Scheduler) armLocked(ctx context.Context, d time.Duration) {
	s.timerGen++
	gen := s.timerGen
	s.timerRunning = true
	s.timer.Arm(d, func() { s.onTimerExpiry(gen) })

	if s.metrics != nil {
		s.metrics.ObserveTimerArm(s.mode.String(), d)
		s.metrics.SetRunning(true)
	}
	s.log.Debug(ctx, "precac timer armed",
		logging.String("mode", s.mode.String()),
		logging.Int("channel", int(s.active)),
		logging.Duration("duration", d),
	)
	s.recordLocked(ctx, Event{
		Kind:    EventTimerArmed,
		Radio:   s.activeRadio,
		Channel: s.active,
		Width:   s.activeWidth,
		Detail:  d.String(),
	})
}

// stopTimerLocked cancels the precac timer without waiting. Bumping the
// generation under mu guarantees a callback that already fired and is
// blocked on mu finds nothing to do.
func (s *Scheduler) stopTimerLocked() {
	if !s.timerRunning {
		return
	}
	s.timerRunning = false
	s.timerGen++
	s.timer.Stop()
	if s.metrics != nil {
		s.metrics.SetRunning(false)
	}
}

func (s *Scheduler) onTimerExpiry(gen uint64) {
	ctx, _ := logging.EnsureEventID(context.Background())
	ctx, span := s.tracer.Start(ctx, "precac.TimerExpired")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || gen != s.timerGen || !s.timerRunning {
		return
	}
	s.timerRunning = false
	if s.metrics != nil {
		s.metrics.SetRunning(false)
	}
	span.SetAttributes(
		attribute.String("mode", s.mode.String()),
		attribute.Int("channel", int(s.active)),
	)
	s.log.Debug(ctx, "precac timer expired",
		logging.String("mode", s.mode.String()),
		logging.Int("channel", int(s.active)),
	)

	switch s.mode {
	case ModeLegacy:
		s.completeLegacyLocked(ctx)
	case ModeAgile:
		s.completeAgileLocked(ctx)
	}
}

func (s *Scheduler) now() time.Time {
	if s.events != nil {
		return s.events.Now()
	}
	return time.Now()
}

// recordLocked stores ev in the journal. Journal failures are logged only.
func (s *Scheduler) recordLocked(ctx context.Context, ev Event) {
	if s.journal == nil {
		return
	}
	if ev.EventID == "" {
		ev.EventID = logging.EventIDFromContext(ctx)
	}
	if ev.At.IsZero() {
		ev.At = s.now()
	}
	if err := s.journal.Record(ctx, ev); err != nil {
		s.log.Warn(ctx, "precac journal write failed",
			logging.String("kind", string(ev.Kind)),
			logging.Err(err),
		)
	}
}

// requestChangeLocked asks the host to reprogram a radio and assumes it
// will, so later exclusions see the new channel.
func (s *Scheduler) requestChangeLocked(ctx context.Context, r *radio, target model.OperatingChannel, reason ChangeReason) {
	change := ChannelChange{Radio: r.index, Target: target, Reason: reason}
	if err := s.sink.RequestChannelChange(ctx, change); err != nil {
		s.log.Warn(ctx, "precac channel change request failed",
			logging.Int("radio", r.index),
			logging.String("target", target.String()),
			logging.Err(err),
		)
		return
	}
	r.operating = target
	if s.metrics != nil {
		s.metrics.IncChannelChange(string(reason))
	}
	s.log.Info(ctx, "precac channel change requested",
		logging.Int("radio", r.index),
		logging.String("target", target.String()),
		logging.String("reason", string(reason)),
	)
	s.recordLocked(ctx, Event{
		Kind:    EventChannelChange,
		Radio:   r.index,
		Channel: target.Center1,
		Width:   target.Width,
		Detail:  string(reason),
	})
}

func (s *Scheduler) startSpan(ctx context.Context, name string, radio int) (context.Context, trace.Span) {
	ctx, _ = logging.EnsureEventID(ctx)
	return s.tracer.Start(ctx, name, trace.WithAttributes(attribute.Int("radio", radio)))
}
