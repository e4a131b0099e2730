package precac

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/dfs-precac/internal/timer"
	"github.com/signalsfoundry/dfs-precac/model"
)

var etsiSegments = []model.Channel{58, 106, 122, 138}

type fakeCatalog struct {
	domain   model.Domain
	segments []model.Channel
}

func newETSICatalog() *fakeCatalog {
	return &fakeCatalog{domain: model.DomainETSI, segments: etsiSegments}
}

func (c *fakeCatalog) Domain() model.Domain { return c.domain }

func (c *fakeCatalog) DFSChannels() []model.CatalogChannel {
	var out []model.CatalogChannel
	for _, seg := range c.segments {
		out = append(out, model.CatalogChannel{Channel: seg, Width: model.Width80, DFS: true})
		for _, off := range []model.Channel{6, 2} {
			out = append(out,
				model.CatalogChannel{Channel: seg - off, Width: model.Width20, DFS: true},
				model.CatalogChannel{Channel: seg + off, Width: model.Width20, DFS: true},
			)
		}
	}
	return out
}

func (c *fakeCatalog) IsDFS(ch model.Channel) bool { return ch >= 50 && ch <= 144 }

type recordingSink struct {
	mu      sync.Mutex
	changes []ChannelChange
	configs []AgileConfig
	aborts  []int
}

func (s *recordingSink) RequestChannelChange(_ context.Context, c ChannelChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes = append(s.changes, c)
	return nil
}

func (s *recordingSink) RequestAgileConfig(_ context.Context, c AgileConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs = append(s.configs, c)
	return nil
}

func (s *recordingSink) RequestAgileAbort(_ context.Context, radio int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborts = append(s.aborts, radio)
	return nil
}

func (s *recordingSink) lastConfig(t *testing.T) AgileConfig {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.configs) == 0 {
		t.Fatalf("no agile config requested")
	}
	return s.configs[len(s.configs)-1]
}

func (s *recordingSink) lastChange(t *testing.T) ChannelChange {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.changes) == 0 {
		t.Fatalf("no channel change requested")
	}
	return s.changes[len(s.changes)-1]
}

type memJournal struct {
	mu     sync.Mutex
	events []Event
}

func (j *memJournal) Record(_ context.Context, ev Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, ev)
	return nil
}

func (j *memJournal) kinds() map[EventKind]int {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make(map[EventKind]int)
	for _, ev := range j.events {
		out[ev.Kind]++
	}
	return out
}

type harness struct {
	s     *Scheduler
	clock *timer.FakeEventScheduler
	sink  *recordingSink
}

func agileConfig() Config {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Capability.Agile = true
	return cfg
}

func legacyConfig() Config {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Capability.LegacyChain = true
	return cfg
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	clock := timer.NewFakeEventScheduler(time.Unix(1_700_000_000, 0))
	sink := &recordingSink{}
	opts = append([]Option{WithEventScheduler(clock)}, opts...)
	s, err := New(cfg, timer.New(clock), sink, nil, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)
	return &harness{s: s, clock: clock, sink: sink}
}

func (h *harness) addRadio(t *testing.T, cat Catalog, op model.OperatingChannel) int {
	t.Helper()
	idx, err := h.s.AddRadio(context.Background(), RadioConfig{Catalog: cat, Operating: op})
	if err != nil {
		t.Fatalf("AddRadio: %v", err)
	}
	return idx
}

// nonDFS80 is an 80 MHz channel on 36-48.
var nonDFS80 = model.OperatingChannel{Center1: 42, Width: model.Width80}

func dfs80(center model.Channel) model.OperatingChannel {
	return model.OperatingChannel{Center1: center, Width: model.Width80, DFS: true}
}
