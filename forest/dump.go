package forest

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/signalsfoundry/dfs-precac/model"
)

// NodeStatus is a copy of one node's counts.
type NodeStatus struct {
	Channel model.Channel `json:"channel"`
	Width   int           `json:"width_mhz"`
	Valid   int           `json:"valid"`
	CACDone int           `json:"cac_done"`
	NOL     int           `json:"nol"`
}

// EntryStatus lists the nodes of one segment tree in preorder.
type EntryStatus struct {
	Segment model.Channel `json:"segment"`
	Nodes   []NodeStatus  `json:"nodes"`
}

// Snapshot copies the status of every tree in list order.
func (f *Forest) Snapshot() []EntryStatus {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]EntryStatus, 0, len(f.entries))
	for _, e := range f.entries {
		es := EntryStatus{Segment: e.Segment}
		preorder(e.root, func(n *TreeNode) {
			es.Nodes = append(es.Nodes, NodeStatus{
				Channel: n.Channel,
				Width:   n.Width.MHz(),
				Valid:   n.Valid,
				CACDone: n.CACDone,
				NOL:     n.NOL,
			})
		})
		out = append(out, es)
	}
	return out
}

var dumpPrefix = map[model.Width][2]string{
	model.Width80: {"", ""},
	model.Width40: {"|", "|------- "},
	model.Width20: {"|        |", "|        |------- "},
}

// Dump writes a human readable tree of every entry.
func (f *Forest) Dump(w io.Writer) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "Precac status of all nodes in the list:")
	fmt.Fprintln(bw, "NOTE: Syntax for each node: <ch_ieee>(<CAC>,<NOL>)")
	for _, e := range f.entries {
		preorder(e.root, func(n *TreeNode) {
			p := dumpPrefix[n.Width]
			fmt.Fprintln(bw, p[0])
			fmt.Fprintf(bw, "%s%s\n", p[1], nodeLabel(n))
		})
	}
	return bw.Flush()
}

// String returns the dump as a string.
func (f *Forest) String() string {
	var sb strings.Builder
	_ = f.Dump(&sb)
	return sb.String()
}

func nodeLabel(n *TreeNode) string {
	if n.Valid == 0 {
		return "inv"
	}
	return fmt.Sprintf("%d(%d,%d)", n.Channel, n.CACDone, n.NOL)
}
