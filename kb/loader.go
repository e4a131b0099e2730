package kb

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/signalsfoundry/dfs-precac/model"
)

// internal JSON shapes; keep them unexported so the file format can evolve.
type tableJSON struct {
	Domain   string        `json:"domain"`
	Channels []channelJSON `json:"channels"`
}

type channelJSON struct {
	Channel  int   `json:"channel"`
	WidthMHz int   `json:"width_mhz"`
	DFS      *bool `json:"dfs"` // optional; defaults to the DFS band rule
}

// LoadTable decodes one channel table from r. A channel without an explicit
// dfs flag is DFS when it lies in channels 50..144.
func LoadTable(r io.Reader) (Table, error) {
	var payload tableJSON
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return Table{}, fmt.Errorf("LoadTable: decode failed: %w", err)
	}

	d := model.ParseDomain(payload.Domain)
	if d == model.DomainUninit {
		return Table{}, fmt.Errorf("%w: unknown domain %q", ErrInvalidTable, payload.Domain)
	}

	t := Table{Domain: d, Channels: make([]model.CatalogChannel, 0, len(payload.Channels))}
	for i, js := range payload.Channels {
		if js.Channel <= 0 || js.Channel > 200 {
			return Table{}, fmt.Errorf("%w: entry %d has channel %d", ErrInvalidTable, i, js.Channel)
		}
		w := model.ParseWidth(js.WidthMHz)
		if w == model.WidthUnknown {
			return Table{}, fmt.Errorf("%w: entry %d has width %d MHz", ErrInvalidTable, i, js.WidthMHz)
		}
		ch := model.Channel(js.Channel)
		dfs := defaultDFS(ch)
		if js.DFS != nil {
			dfs = *js.DFS
		}
		t.Channels = append(t.Channels, model.CatalogChannel{
			Channel:  ch,
			Width:    w,
			WidthMHz: js.WidthMHz,
			DFS:      dfs,
		})
	}
	return t, nil
}

// LoadTableFile reads a channel table from path.
func LoadTableFile(path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return Table{}, fmt.Errorf("open channel table: %w", err)
	}
	defer f.Close()
	return LoadTable(f)
}

func defaultDFS(ch model.Channel) bool {
	return ch >= 50 && ch <= 144
}
