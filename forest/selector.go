package forest

import "github.com/signalsfoundry/dfs-precac/model"

// Exclusion describes the channel a radio is operating on, which the
// selector must not hand out for precac. Primary and Secondary are 80 MHz
// segment centers (or the 20/40 MHz center); zero means unset. Width is the
// operating width and decides how many subchannels each excluded center
// removes from a node.
type Exclusion struct {
	Primary   model.Channel
	Secondary model.Channel
	Width     model.Width
}

// ExcludeOperating derives the exclusion for a radio running on op.
func ExcludeOperating(op model.OperatingChannel) Exclusion {
	return Exclusion{
		Primary:   op.Center1,
		Secondary: op.SecondarySegment(),
		Width:     op.Width,
	}
}

func (x Exclusion) perCenter() int {
	switch x.Width {
	case model.Width20:
		return 1
	case model.Width40:
		return 2
	default:
		return 4
	}
}

// subchannelsIn counts the excluded subchannels falling under n that still
// await CAC. Subchannels already cleared or in NOL are accounted for by the
// node's own counts and must not be subtracted twice.
func (x Exclusion) subchannelsIn(n *TreeNode) int {
	span := model.Channel(n.Width.MHz() / 10)
	excluded := 0
	for _, ch := range []model.Channel{x.Primary, x.Secondary} {
		if ch == 0 {
			continue
		}
		if model.WithinRange(ch, n.Channel, span) && pcacRequired(n, ch) {
			excluded += x.perCenter()
		}
	}
	return excluded
}

// pcacRequired reports whether the node carrying ch below n is neither
// fully cleared nor touched by NOL.
func pcacRequired(n *TreeNode, ch model.Channel) bool {
	if n := find(n, ch); n != nil {
		return !n.FullyCACDone() && n.NOL == 0
	}
	return false
}

// needsCAC reports whether n still holds a channel of width w that could be
// precac'd.
func needsCAC(n *TreeNode, w model.Width, x Exclusion) bool {
	if n == nil {
		return false
	}
	want, ok := model.Subchannels(w)
	if !ok {
		return false
	}
	excluded := x.subchannelsIn(n)
	allowed := n.Valid - (n.NOL + excluded)
	if allowed < want || n.CACDone+n.NOL+excluded == n.Valid {
		return false
	}
	return true
}

// selectChannel returns the leftmost channel of width w in the entry that
// needs CAC, or 0.
func (e *Entry) selectChannel(w model.Width, x Exclusion) model.Channel {
	if !needsCAC(e.root, w, x) {
		return 0
	}
	for n := e.root; n != nil; {
		if n.Width == w {
			if needsCAC(n, w, x) {
				return n.Channel
			}
			return 0
		}
		if needsCAC(n.left, w, x) {
			n = n.left
		} else {
			n = n.right
		}
	}
	return 0
}
