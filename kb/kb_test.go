package kb

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/signalsfoundry/dfs-precac/model"
)

func segments80(chans []model.CatalogChannel) []model.Channel {
	var out []model.Channel
	for _, c := range chans {
		if c.Width == model.Width80 {
			out = append(out, c.Channel)
		}
	}
	return out
}

func TestBuiltinTables_DFSSegments(t *testing.T) {
	store := NewKnowledgeBase()
	if err := store.SetRadioDomain("wifi0", model.DomainETSI); err != nil {
		t.Fatalf("SetRadioDomain: %v", err)
	}
	if err := store.SetRadioDomain("wifi1", model.DomainFCC); err != nil {
		t.Fatalf("SetRadioDomain: %v", err)
	}

	etsi := store.Catalog("wifi0")
	if diff := cmp.Diff([]model.Channel{58, 106, 122}, segments80(etsi.DFSChannels())); diff != "" {
		t.Fatalf("ETSI segments mismatch (-want +got):\n%s", diff)
	}
	fcc := store.Catalog("wifi1")
	if diff := cmp.Diff([]model.Channel{58, 106, 122, 138}, segments80(fcc.DFSChannels())); diff != "" {
		t.Fatalf("FCC segments mismatch (-want +got):\n%s", diff)
	}
	if etsi.Domain() != model.DomainETSI || fcc.Domain() != model.DomainFCC {
		t.Fatalf("domains = %s, %s", etsi.Domain(), fcc.Domain())
	}
}

func TestCatalog_IsDFS(t *testing.T) {
	store := NewKnowledgeBase()
	_ = store.SetRadioDomain("wifi0", model.DomainETSI)
	c := store.Catalog("wifi0")

	tests := []struct {
		ch   model.Channel
		want bool
	}{
		{36, false},
		{42, false},
		{52, true},
		{58, true},
		{120, true},
		{144, false},
		{149, false},
	}
	for _, tc := range tests {
		if got := c.IsDFS(tc.ch); got != tc.want {
			t.Fatalf("IsDFS(%d) = %v, want %v", tc.ch, got, tc.want)
		}
	}
	for _, ch := range c.DFSChannels() {
		if !ch.DFS {
			t.Fatalf("DFSChannels returned non-DFS channel %d", ch.Channel)
		}
	}
}

func TestCatalog_UnassignedRadio(t *testing.T) {
	store := NewKnowledgeBase()
	c := store.Catalog("ghost")
	if c.Domain() != model.DomainUninit || c.DFSChannels() != nil || c.IsDFS(100) {
		t.Fatalf("unassigned radio has a catalog")
	}
}

func TestSetRadioDomain_Notifies(t *testing.T) {
	store := NewKnowledgeBase()
	var events []Event
	unsubscribe := store.Subscribe(func(ev Event) { events = append(events, ev) })

	_ = store.SetRadioDomain("wifi0", model.DomainFCC)
	_ = store.SetRadioDomain("wifi0", model.DomainFCC)
	_ = store.SetRadioDomain("wifi0", model.DomainETSI)

	want := []Event{{Type: EventDomainChanged, Domain: model.DomainETSI, Radio: "wifi0"}}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}

	unsubscribe()
	_ = store.SetRadioDomain("wifi0", model.DomainFCC)
	if len(events) != 1 {
		t.Fatalf("unsubscribed callback still ran: %v", events)
	}

	if err := store.SetRadioDomain("wifi0", model.DomainMKK); !errors.Is(err, ErrUnknownDomain) {
		t.Fatalf("err = %v, want ErrUnknownDomain", err)
	}
	if got := store.RadioDomain("wifi0"); got != model.DomainFCC {
		t.Fatalf("rejected domain change applied: %s", got)
	}
}

func TestSetTable_ReplacesAndNotifies(t *testing.T) {
	store := NewKnowledgeBase()
	_ = store.SetRadioDomain("wifi0", model.DomainETSI)
	c := store.Catalog("wifi0")

	var got []Event
	store.Subscribe(func(ev Event) { got = append(got, ev) })

	err := store.SetTable(Table{Domain: model.DomainETSI, Channels: []model.CatalogChannel{
		{Channel: 106, WidthMHz: 80, DFS: true},
	}})
	if err != nil {
		t.Fatalf("SetTable: %v", err)
	}
	if diff := cmp.Diff([]model.Channel{106}, segments80(c.DFSChannels())); diff != "" {
		t.Fatalf("live view did not follow the new table (-want +got):\n%s", diff)
	}
	if len(got) != 1 || got[0].Type != EventTableUpdated || got[0].Domain != model.DomainETSI {
		t.Fatalf("events = %+v", got)
	}

	if err := store.SetTable(Table{}); !errors.Is(err, ErrInvalidTable) {
		t.Fatalf("err = %v, want ErrInvalidTable", err)
	}
	mkk := Table{Domain: model.DomainMKK, Channels: []model.CatalogChannel{{Channel: 0}}}
	if err := store.SetTable(mkk); !errors.Is(err, ErrInvalidTable) {
		t.Fatalf("err = %v, want ErrInvalidTable", err)
	}
	if diff := cmp.Diff([]model.Domain{model.DomainFCC, model.DomainETSI}, store.Domains()); diff != "" {
		t.Fatalf("domains mismatch (-want +got):\n%s", diff)
	}
}

func TestSubscriberMayQuery(t *testing.T) {
	store := NewKnowledgeBase()
	_ = store.SetRadioDomain("wifi0", model.DomainFCC)
	c := store.Catalog("wifi0")

	var seen model.Domain
	store.Subscribe(func(Event) { seen = c.Domain() })
	_ = store.SetRadioDomain("wifi0", model.DomainETSI)
	if seen != model.DomainETSI {
		t.Fatalf("subscriber saw %s", seen)
	}
}

func TestConcurrentReads(t *testing.T) {
	store := NewKnowledgeBase()
	_ = store.SetRadioDomain("wifi0", model.DomainETSI)
	c := store.Catalog("wifi0")

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				if i%2 == 0 {
					_ = store.SetRadioDomain("wifi0", model.DomainFCC)
					_ = store.SetRadioDomain("wifi0", model.DomainETSI)
				}
				_ = c.DFSChannels()
				_ = c.IsDFS(100)
			}
		}()
	}
	wg.Wait()
}

func TestLoadTable(t *testing.T) {
	in := `{
		"domain": "etsi",
		"channels": [
			{"channel": 100, "width_mhz": 20},
			{"channel": 106, "width_mhz": 80},
			{"channel": 42, "width_mhz": 80},
			{"channel": 120, "width_mhz": 20, "dfs": false}
		]
	}`
	tbl, err := LoadTable(strings.NewReader(in))
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}
	want := Table{Domain: model.DomainETSI, Channels: []model.CatalogChannel{
		{Channel: 100, Width: model.Width20, WidthMHz: 20, DFS: true},
		{Channel: 106, Width: model.Width80, WidthMHz: 80, DFS: true},
		{Channel: 42, Width: model.Width80, WidthMHz: 80},
		{Channel: 120, Width: model.Width20, WidthMHz: 20},
	}}
	if diff := cmp.Diff(want, tbl); diff != "" {
		t.Fatalf("table mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadTable_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"bad json", `{`},
		{"unknown field", `{"domain":"ETSI","bands":[]}`},
		{"unknown domain", `{"domain":"XX","channels":[]}`},
		{"zero channel", `{"domain":"ETSI","channels":[{"channel":0,"width_mhz":20}]}`},
		{"bad width", `{"domain":"ETSI","channels":[{"channel":100,"width_mhz":30}]}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := LoadTable(strings.NewReader(tc.in)); err == nil {
				t.Fatalf("expected error for %s", tc.in)
			}
		})
	}
}

func TestLoadTableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fcc.json")
	body := `{"domain":"FCC","channels":[{"channel":138,"width_mhz":80}]}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write table: %v", err)
	}
	tbl, err := LoadTableFile(path)
	if err != nil {
		t.Fatalf("LoadTableFile: %v", err)
	}
	if tbl.Domain != model.DomainFCC || len(tbl.Channels) != 1 || !tbl.Channels[0].DFS {
		t.Fatalf("table = %+v", tbl)
	}
	if _, err := LoadTableFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for a missing file")
	}
}
