package kb

import (
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/dfs-precac/model"
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	// EventTableUpdated fires when a domain's channel table is replaced.
	EventTableUpdated EventType = iota
	// EventDomainChanged fires when a radio moves to another domain.
	EventDomainChanged
)

func (t EventType) String() string {
	switch t {
	case EventTableUpdated:
		return "table_updated"
	case EventDomainChanged:
		return "domain_changed"
	default:
		return "unknown"
	}
}

// Event is emitted to subscribers when a catalog a radio reads from changes.
type Event struct {
	Type   EventType
	Domain model.Domain
	// Radio is set for EventDomainChanged.
	Radio string
}

// Table lists the channels usable in one regulatory domain.
type Table struct {
	Domain   model.Domain
	Channels []model.CatalogChannel
}

// KnowledgeBase is an in-memory, thread-safe store of regulatory channel
// tables and the domain each radio currently operates in.
type KnowledgeBase struct {
	mu sync.RWMutex

	tables map[model.Domain]*table
	radios map[string]model.Domain

	subs map[int]func(Event)
	next int
}

type table struct {
	channels []model.CatalogChannel
	dfs      map[model.Channel]bool
}

func newTable(t Table) *table {
	out := &table{
		channels: make([]model.CatalogChannel, 0, len(t.Channels)),
		dfs:      make(map[model.Channel]bool, len(t.Channels)),
	}
	for _, c := range t.Channels {
		c.Normalize()
		out.channels = append(out.channels, c)
		out.dfs[c.Channel] = out.dfs[c.Channel] || c.DFS
	}
	return out
}

// NewKnowledgeBase constructs a KB preloaded with the built-in tables.
func NewKnowledgeBase() *KnowledgeBase {
	kb := &KnowledgeBase{
		tables: make(map[model.Domain]*table),
		radios: make(map[string]model.Domain),
		subs:   make(map[int]func(Event)),
	}
	for _, t := range BuiltinTables() {
		kb.tables[t.Domain] = newTable(t)
	}
	return kb
}

// SetTable installs or replaces the table for t.Domain and notifies
// subscribers.
func (kb *KnowledgeBase) SetTable(t Table) error {
	if t.Domain == model.DomainUninit {
		return fmt.Errorf("%w: table without a domain", ErrInvalidTable)
	}
	for _, c := range t.Channels {
		if c.Channel == 0 {
			return fmt.Errorf("%w: %s lists channel 0", ErrInvalidTable, t.Domain)
		}
	}

	kb.mu.Lock()
	kb.tables[t.Domain] = newTable(t)
	subs := kb.snapshotSubsLocked()
	kb.mu.Unlock()

	notify(subs, Event{Type: EventTableUpdated, Domain: t.Domain})
	return nil
}

// Domains returns the domains with a table, in ascending order.
func (kb *KnowledgeBase) Domains() []model.Domain {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	out := make([]model.Domain, 0, len(kb.tables))
	for d := range kb.tables {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SetRadioDomain assigns radio to domain d. Subscribers are notified only
// when the domain actually changes.
func (kb *KnowledgeBase) SetRadioDomain(radio string, d model.Domain) error {
	kb.mu.Lock()
	if _, ok := kb.tables[d]; !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownDomain, d)
	}
	prev, known := kb.radios[radio]
	kb.radios[radio] = d
	if known && prev == d {
		kb.mu.Unlock()
		return nil
	}
	subs := kb.snapshotSubsLocked()
	kb.mu.Unlock()

	if known {
		notify(subs, Event{Type: EventDomainChanged, Domain: d, Radio: radio})
	}
	return nil
}

// RadioDomain returns the domain of radio, or DomainUninit.
func (kb *KnowledgeBase) RadioDomain(radio string) model.Domain {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.radios[radio]
}

// Catalog returns a live view of the channels radio may use. The view
// follows later domain or table changes.
func (kb *KnowledgeBase) Catalog(radio string) *Catalog {
	return &Catalog{kb: kb, radio: radio}
}

// Subscribe registers a callback for KB events. It returns an unsubscribe
// function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	id := kb.next
	kb.next++
	kb.subs[id] = fn

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		delete(kb.subs, id)
	}
}

func (kb *KnowledgeBase) snapshotSubsLocked() []func(Event) {
	ids := make([]int, 0, len(kb.subs))
	for id := range kb.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		out = append(out, kb.subs[id])
	}
	return out
}

// Subscribers run outside the lock so they may query the KB.
func notify(subs []func(Event), ev Event) {
	for _, sub := range subs {
		sub(ev)
	}
}

func (kb *KnowledgeBase) tableFor(radio string) (model.Domain, *table) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	d := kb.radios[radio]
	return d, kb.tables[d]
}

// Catalog is the channel list of one radio in its current domain.
type Catalog struct {
	kb    *KnowledgeBase
	radio string
}

// Domain returns the radio's regulatory domain.
func (c *Catalog) Domain() model.Domain {
	d, _ := c.kb.tableFor(c.radio)
	return d
}

// DFSChannels returns every DFS channel of every width.
func (c *Catalog) DFSChannels() []model.CatalogChannel {
	_, t := c.kb.tableFor(c.radio)
	if t == nil {
		return nil
	}
	out := make([]model.CatalogChannel, 0, len(t.channels))
	for _, ch := range t.channels {
		if ch.DFS {
			out = append(out, ch)
		}
	}
	return out
}

// IsDFS reports whether ch is listed as DFS.
func (c *Catalog) IsDFS(ch model.Channel) bool {
	_, t := c.kb.tableFor(c.radio)
	return t != nil && t.dfs[ch]
}
