package precac

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/signalsfoundry/dfs-precac/forest"
	"github.com/signalsfoundry/dfs-precac/internal/observability"
	"github.com/signalsfoundry/dfs-precac/internal/timer"
	"github.com/signalsfoundry/dfs-precac/model"
)

func TestNew_RejectsMissingCollaborators(t *testing.T) {
	clock := timer.NewFakeEventScheduler(time.Unix(0, 0))

	if _, err := New(DefaultConfig(), nil, &recordingSink{}, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("nil timer err = %v, want ErrInvalidConfig", err)
	}
	if _, err := New(DefaultConfig(), timer.New(clock), nil, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("nil sink err = %v, want ErrInvalidConfig", err)
	}

	cfg := DefaultConfig()
	cfg.Agile.Min = 5 * time.Hour
	if _, err := New(cfg, timer.New(clock), &recordingSink{}, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("min > max err = %v, want ErrInvalidConfig", err)
	}
}

func TestAddRadio_RequiresCatalog(t *testing.T) {
	h := newHarness(t, agileConfig())
	if _, err := h.s.AddRadio(context.Background(), RadioConfig{Name: "wifi0"}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
	if _, err := h.s.Forest(3); !errors.Is(err, ErrUnknownRadio) {
		t.Fatalf("Forest(3) err = %v, want ErrUnknownRadio", err)
	}
}

func TestMode_Resolution(t *testing.T) {
	tests := []struct {
		name   string
		cfg    func() Config
		domain model.Domain
		want   Mode
	}{
		{"agile etsi", agileConfig, model.DomainETSI, ModeAgile},
		{"legacy etsi", legacyConfig, model.DomainETSI, ModeLegacy},
		{"agile fcc", agileConfig, model.DomainFCC, ModeDisabled},
		{"disabled flag", DefaultConfig, model.DomainETSI, ModeDisabled},
		{"no capability", func() Config {
			cfg := DefaultConfig()
			cfg.Enabled = true
			return cfg
		}, model.DomainETSI, ModeDisabled},
		{"legacy wins over agile", func() Config {
			cfg := legacyConfig()
			cfg.Capability.Agile = true
			return cfg
		}, model.DomainETSI, ModeLegacy},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.cfg())
			h.addRadio(t, &fakeCatalog{domain: tc.domain, segments: etsiSegments}, nonDFS80)
			if got := h.s.Mode(); got != tc.want {
				t.Fatalf("Mode() = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestForest_NotBuiltOutsidePrecacDomain(t *testing.T) {
	h := newHarness(t, agileConfig())
	radio := h.addRadio(t, &fakeCatalog{domain: model.DomainFCC, segments: etsiSegments}, nonDFS80)
	f, _ := h.s.Forest(radio)
	if f.Len() != 0 {
		t.Fatalf("FCC forest has %d entries, want 0", f.Len())
	}
}

func TestSetEnabled_StopsRunningCycle(t *testing.T) {
	h := newHarness(t, agileConfig())
	ctx := context.Background()
	radio := h.addRadio(t, newETSICatalog(), nonDFS80)
	_ = h.s.StartAgile(ctx, radio)

	h.s.SetEnabled(ctx, false)
	st := h.s.Status()
	if st.Mode != ModeDisabled || st.TimerRunning || st.PrecacStarted {
		t.Fatalf("status after disable = %+v", st)
	}
	h.clock.Advance(DefaultAgileMax)
	if f, _ := h.s.Forest(radio); f.IsCACDone(58) {
		t.Fatalf("stopped timer completed a segment")
	}

	h.s.SetEnabled(ctx, true)
	if h.s.Mode() != ModeAgile {
		t.Fatalf("mode not restored after enable")
	}
	_ = h.s.StartAgile(ctx, radio)
	if !h.s.Status().TimerRunning {
		t.Fatalf("agile precac did not restart after enable")
	}
}

func TestClose_SuppressesLateCallbacks(t *testing.T) {
	h := newHarness(t, agileConfig())
	ctx := context.Background()
	radio := h.addRadio(t, newETSICatalog(), nonDFS80)
	_ = h.s.StartAgile(ctx, radio)
	_ = h.s.RadarFound(ctx, RadarEvent{Radio: radio, Channels: []model.Channel{100}})

	h.s.Close()
	if got := h.clock.Pending(); got != 0 {
		t.Fatalf("pending events after Close = %d, want 0", got)
	}
	h.clock.Advance(DefaultNOLDuration + DefaultAgileMax)
	if f, _ := h.s.Forest(radio); f.IsCACDone(58) || f.SegmentState(100) != forest.StateNOL {
		t.Fatalf("callbacks ran after Close:\n%s", f)
	}
}

func TestChannelState(t *testing.T) {
	h := newHarness(t, agileConfig())
	ctx := context.Background()
	radio := h.addRadio(t, newETSICatalog(), nonDFS80)
	_ = h.s.StartAgile(ctx, radio)
	f, _ := h.s.Forest(radio)
	f.MarkCACDone(ctx, dfs80(122))
	_, _ = f.MarkNOL(ctx, []model.Channel{140})

	tests := []struct {
		ch   model.Channel
		want forest.State
	}{
		{36, forest.StateErr},
		{60, forest.StateNow},
		{104, forest.StateRequired},
		{124, forest.StateDone},
		{136, forest.StateNOL},
	}
	for _, tc := range tests {
		got, err := h.s.ChannelState(radio, tc.ch)
		if err != nil {
			t.Fatalf("ChannelState(%d): %v", tc.ch, err)
		}
		if got != tc.want {
			t.Fatalf("ChannelState(%d) = %s, want %s", tc.ch, got, tc.want)
		}
	}
}

func TestReassign(t *testing.T) {
	h := newHarness(t, agileConfig())
	ctx := context.Background()
	src := h.addRadio(t, newETSICatalog(), nonDFS80)
	dst := h.addRadio(t, &fakeCatalog{domain: model.DomainETSI, segments: []model.Channel{58}}, nonDFS80)
	fcc := h.addRadio(t, &fakeCatalog{domain: model.DomainFCC}, nonDFS80)

	if moved, err := h.s.Reassign(ctx, fcc, src, 100, 144); err != nil || moved != 0 {
		t.Fatalf("Reassign into FCC = %d, %v", moved, err)
	}
	if _, err := h.s.Reassign(ctx, src, src, 100, 144); !errors.Is(err, forest.ErrSameForest) {
		t.Fatalf("self reassignment err = %v, want ErrSameForest", err)
	}

	moved, err := h.s.Reassign(ctx, dst, src, 100, 144)
	if err != nil || moved != 3 {
		t.Fatalf("Reassign = %d, %v, want 3", moved, err)
	}
	fs, _ := h.s.Forest(src)
	fd, _ := h.s.Forest(dst)
	if got := fs.Segments(); len(got) != 1 || got[0] != 58 {
		t.Fatalf("source segments = %v, want [58]", got)
	}
	if got := fd.Segments(); len(got) != 4 {
		t.Fatalf("destination segments = %v, want 4", got)
	}
}

func TestReassign_NOLReleaseFollowsSegment(t *testing.T) {
	h := newHarness(t, agileConfig())
	ctx := context.Background()
	src := h.addRadio(t, newETSICatalog(), nonDFS80)
	dst := h.addRadio(t, &fakeCatalog{domain: model.DomainETSI}, nonDFS80)

	if err := h.s.RadarFound(ctx, RadarEvent{Radio: src, Channels: []model.Channel{100}}); err != nil {
		t.Fatalf("RadarFound: %v", err)
	}
	if moved, err := h.s.Reassign(ctx, dst, src, 100, 144); err != nil || moved != 3 {
		t.Fatalf("Reassign = %d, %v, want 3", moved, err)
	}
	fd, _ := h.s.Forest(dst)
	if got := fd.SegmentState(100); got != forest.StateNOL {
		t.Fatalf("moved segment state = %s, want NOL", got)
	}

	h.clock.Advance(DefaultNOLDuration + time.Second)

	if got := fd.SegmentState(100); got != forest.StateRequired {
		t.Fatalf("moved segment state after NOL hold = %s, want required", got)
	}
	if got := h.clock.Pending(); got != 0 {
		t.Fatalf("pending events = %d, want 0", got)
	}
}

func TestReassign_DropsReleasesOfReplacedEntries(t *testing.T) {
	h := newHarness(t, agileConfig())
	ctx := context.Background()
	src := h.addRadio(t, newETSICatalog(), nonDFS80)
	dst := h.addRadio(t, &fakeCatalog{domain: model.DomainETSI, segments: []model.Channel{106}}, nonDFS80)

	_ = h.s.RadarFound(ctx, RadarEvent{Radio: dst, Channels: []model.Channel{100}})
	if _, err := h.s.Reassign(ctx, dst, src, 100, 110); err != nil {
		t.Fatalf("Reassign: %v", err)
	}
	fd, _ := h.s.Forest(dst)
	if got := fd.SegmentState(100); got != forest.StateRequired {
		t.Fatalf("replaced segment state = %s, want required", got)
	}
	if got := h.clock.Pending(); got != 0 {
		t.Fatalf("pending events = %d, want the replaced entry's release dropped", got)
	}
}

func TestReassign_ActiveSegmentRestartsCycle(t *testing.T) {
	h := newHarness(t, agileConfig())
	ctx := context.Background()
	src := h.addRadio(t, newETSICatalog(), nonDFS80)
	dst := h.addRadio(t, &fakeCatalog{domain: model.DomainETSI}, nonDFS80)

	_ = h.s.StartAgile(ctx, src)
	_ = h.s.StartAgile(ctx, dst)
	if st := h.s.Status(); st.Active != 58 || st.ActiveRadio != src {
		t.Fatalf("active = %d on radio %d, want 58 on %d", st.Active, st.ActiveRadio, src)
	}

	if moved, err := h.s.Reassign(ctx, dst, src, 50, 60); err != nil || moved != 1 {
		t.Fatalf("Reassign = %d, %v, want 1", moved, err)
	}
	if len(h.sink.aborts) != 1 || h.sink.aborts[0] != src {
		t.Fatalf("aborts = %v, want [%d]", h.sink.aborts, src)
	}
	cfg := h.sink.lastConfig(t)
	if cfg.Radio != dst || cfg.Channel != 58 {
		t.Fatalf("agile config after reassignment = %+v, want 58 on radio %d", cfg, dst)
	}

	h.clock.Advance(DefaultAgileMin + DefaultAgileBuffer)

	done, err := h.s.IsPrecacDone(dst, dfs80(58))
	if err != nil || !done {
		t.Fatalf("IsPrecacDone(dst, 58) = %v, %v, want true", done, err)
	}
	if st := h.s.Status(); st.ActiveRadio != src || st.Active != 106 {
		t.Fatalf("next cycle = %d on radio %d, want 106 on %d", st.Active, st.ActiveRadio, src)
	}
}

func TestReassign_LeavesUnrelatedCycleRunning(t *testing.T) {
	h := newHarness(t, agileConfig())
	ctx := context.Background()
	src := h.addRadio(t, newETSICatalog(), nonDFS80)
	dst := h.addRadio(t, &fakeCatalog{domain: model.DomainETSI}, nonDFS80)

	_ = h.s.StartAgile(ctx, src)
	if _, err := h.s.Reassign(ctx, dst, src, 100, 144); err != nil {
		t.Fatalf("Reassign: %v", err)
	}
	if len(h.sink.aborts) != 0 {
		t.Fatalf("aborts = %v, want none", h.sink.aborts)
	}
	if st := h.s.Status(); !st.TimerRunning || st.Active != 58 {
		t.Fatalf("cycle = %+v, want 58 still running", st)
	}
}

func TestResetForests_ClearsState(t *testing.T) {
	h := newHarness(t, agileConfig())
	ctx := context.Background()
	radio := h.addRadio(t, newETSICatalog(), nonDFS80)
	_ = h.s.StartAgile(ctx, radio)
	_ = h.s.AgileCACComplete(ctx, radio, OCACSuccess)
	_ = h.s.RadarFound(ctx, RadarEvent{Radio: radio, Channels: []model.Channel{120}})

	h.s.ResetForests(ctx)

	f, _ := h.s.Forest(radio)
	if f.IsCACDone(58) || f.SegmentState(120) != forest.StateRequired {
		t.Fatalf("forest not rebuilt:\n%s", f)
	}
	if h.s.Status().TimerRunning {
		t.Fatalf("timer survived reset")
	}
	if got := h.clock.Pending(); got != 0 {
		t.Fatalf("pending events after reset = %d, want 0", got)
	}
}

func TestScheduler_MetricsAndJournal(t *testing.T) {
	reg := prometheus.NewRegistry()
	sched, err := observability.NewSchedulerCollector(reg)
	if err != nil {
		t.Fatalf("NewSchedulerCollector: %v", err)
	}
	forests, err := observability.NewForestCollector(reg)
	if err != nil {
		t.Fatalf("NewForestCollector: %v", err)
	}
	j := &memJournal{}
	h := newHarness(t, agileConfig(),
		WithMetrics(sched),
		WithJournal(j),
		WithForestOptions(forest.WithStatusRecorder(forests)),
	)
	ctx := context.Background()
	radio := h.addRadio(t, newETSICatalog(), nonDFS80)

	_ = h.s.StartAgile(ctx, radio)
	h.clock.Advance(DefaultAgileMin + DefaultAgileBuffer)
	_ = h.s.RadarFound(ctx, RadarEvent{Radio: radio, Channels: []model.Channel{100}, DetectorID: 2})

	if got := testutil.ToFloat64(sched.Completions.WithLabelValues("agile", "80MHz")); got != 1 {
		t.Fatalf("completions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(sched.RadarEvents.WithLabelValues("agile", "2")); got != 1 {
		t.Fatalf("radar events = %v, want 1", got)
	}
	if got := testutil.ToFloat64(forests.Segments.WithLabelValues("radio0")); got != 4 {
		t.Fatalf("segments gauge = %v, want 4", got)
	}
	if got := testutil.ToFloat64(forests.CACDoneSubchannels.WithLabelValues("radio0")); got != 4 {
		t.Fatalf("cleared gauge = %v, want 4", got)
	}
	if got := testutil.ToFloat64(forests.NOLSubchannels.WithLabelValues("radio0")); got != 1 {
		t.Fatalf("NOL gauge = %v, want 1", got)
	}

	kinds := j.kinds()
	for _, k := range []EventKind{EventAgileConfig, EventTimerArmed, EventCACDone, EventRadar, EventAgileAbort} {
		if kinds[k] == 0 {
			t.Fatalf("journal has no %s event: %v", k, kinds)
		}
	}
}

func TestDump(t *testing.T) {
	h := newHarness(t, agileConfig())
	radio := h.addRadio(t, newETSICatalog(), nonDFS80)

	var buf bytes.Buffer
	if err := h.s.Dump(radio, &buf); err != nil {
		t.Fatalf("Dump: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "Precac status of all nodes in the list:") {
		t.Fatalf("unexpected dump header:\n%s", buf.String())
	}
	if !strings.Contains(buf.String(), "58(0,0)") {
		t.Fatalf("dump misses segment 58:\n%s", buf.String())
	}
}

func TestScheduler_Spans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	j := &memJournal{}
	h := newHarness(t, agileConfig(), WithTracer(tp.Tracer("precac-test")), WithJournal(j))
	ctx := context.Background()
	radio := h.addRadio(t, newETSICatalog(), nonDFS80)

	_ = h.s.StartAgile(ctx, radio)
	_ = h.s.RadarFound(ctx, RadarEvent{Radio: radio, Channels: []model.Channel{52, 56}, DetectorID: 2})
	h.clock.Advance(DefaultAgileMin + DefaultAgileBuffer)

	names := make(map[string]bool)
	for _, span := range rec.Ended() {
		names[span.Name()] = true
	}
	for _, want := range []string{"precac.StartAgile", "precac.RadarFound", "precac.TimerExpired"} {
		if !names[want] {
			t.Errorf("missing span %q, got %v", want, names)
		}
	}

	// Rows written for one radar report share its event id.
	var radarIDs []string
	for _, ev := range j.events {
		if ev.Kind == EventRadar {
			radarIDs = append(radarIDs, ev.EventID)
		}
	}
	if len(radarIDs) != 2 || radarIDs[0] == "" || radarIDs[0] != radarIDs[1] {
		t.Errorf("radar event ids = %v, want two equal ids", radarIDs)
	}
}
