package forest

import (
	"fmt"

	"github.com/signalsfoundry/dfs-precac/model"
)

// Entry anchors the status tree of one DFS 80 MHz segment.
type Entry struct {
	Segment model.Channel
	root    *TreeNode
}

// layout is the level order in which the seven nodes of a segment tree are
// inserted. Any other order unbalances the BST.
var layout = []struct {
	offset int
	width  model.Width
}{
	{0, model.Width80},
	{-int(model.Offset40), model.Width40},
	{int(model.Offset40), model.Width40},
	{-int(model.SegmentHalfSpan), model.Width20},
	{-int(model.Offset20), model.Width20},
	{int(model.Offset20), model.Width20},
	{int(model.SegmentHalfSpan), model.Width20},
}

// newEntry builds the three-level tree for the segment centered at seg.
// legal reports whether a 20 MHz subchannel may be used in the current
// regulatory domain.
func newEntry(seg model.Channel, legal func(model.Channel) bool) (*Entry, error) {
	if seg <= model.SegmentHalfSpan {
		return nil, fmt.Errorf("%w: center %d", ErrInvalidSegment, seg)
	}

	e := &Entry{Segment: seg}
	for _, l := range layout {
		ch := model.Channel(int(seg) + l.offset)
		n := &TreeNode{
			Channel: ch,
			Width:   l.width,
			Valid:   validSubchannels(ch, l.width, legal),
		}
		if e.root == nil {
			e.root = n
			continue
		}
		insert(e.root, n)
	}
	return e, nil
}

func validSubchannels(center model.Channel, w model.Width, legal func(model.Channel) bool) int {
	var subs []model.Channel
	switch w {
	case model.Width20:
		subs = []model.Channel{center}
	case model.Width40:
		subs = []model.Channel{center - model.Offset20, center + model.Offset20}
	case model.Width80:
		subs = model.OperatingChannel{Center1: center, Width: w}.Subchannels()
	}
	valid := 0
	for _, ch := range subs {
		if legal == nil || legal(ch) {
			valid++
		}
	}
	return valid
}

// contains reports whether ch lies within the segment.
func (e *Entry) contains(ch model.Channel) bool {
	return model.WithinRange(ch, e.Segment, model.SegmentHalfSpan)
}

func (e *Entry) leaf(ch model.Channel) (*TreeNode, error) {
	if e.root == nil {
		return nil, ErrTreeUninitialised
	}
	n := find(e.root, ch)
	if n == nil || n.Width != model.Width20 {
		return nil, fmt.Errorf("%w: %d", ErrNotSubchannel, ch)
	}
	return n, nil
}

// isCACMarked reports whether the subchannel already counts as cleared.
// The path is cut short by any ancestor without cleared subchannels.
func (e *Entry) isCACMarked(ch model.Channel) bool {
	for n := e.root; n != nil; n = descend(n, ch) {
		if n.CACDone == 0 {
			return false
		}
		if n.Channel == ch {
			return true
		}
	}
	return false
}

// markCACDone records one cleared subchannel along its path. It reports
// whether any count changed; re-marking a cleared subchannel is a no-op.
func (e *Entry) markCACDone(ch model.Channel) (bool, error) {
	leaf, err := e.leaf(ch)
	if err != nil {
		return false, err
	}
	if leaf.Valid == 0 || e.isCACMarked(ch) {
		return false, nil
	}
	for n := e.root; n != nil; n = descend(n, ch) {
		if n.CACDone < n.Capacity() {
			n.CACDone++
		}
	}
	return true, nil
}

// unmarkCACDone removes one cleared subchannel along its path, stopping at
// the first node that has nothing left to remove.
func (e *Entry) unmarkCACDone(ch model.Channel) {
	for n := e.root; n != nil; n = descend(n, ch) {
		if n.CACDone == 0 {
			return
		}
		n.CACDone--
	}
}

// markNOL records radar on one subchannel. A path that already holds as
// many NOL subchannels as it has valid ones is rejected untouched.
func (e *Entry) markNOL(ch model.Channel) error {
	if _, err := e.leaf(ch); err != nil {
		return err
	}
	for n := e.root; n != nil; n = descend(n, ch) {
		if n.NOL >= n.Valid {
			return fmt.Errorf("%w: %d", ErrNOLSaturated, ch)
		}
	}

	clearedLeaf := false
	for n := e.root; n != nil; n = descend(n, ch) {
		n.NOL++
		if n.Channel == ch && n.CACDone > 0 {
			clearedLeaf = true
		}
	}
	if clearedLeaf {
		e.unmarkCACDone(ch)
	}
	return nil
}

// unmarkNOL releases one NOL subchannel along its path.
func (e *Entry) unmarkNOL(ch model.Channel) error {
	if _, err := e.leaf(ch); err != nil {
		return err
	}
	for n := e.root; n != nil; n = descend(n, ch) {
		if n.NOL == 0 {
			return nil
		}
		n.NOL--
	}
	return nil
}

// isCACDone reports whether the node carrying ch, at whatever level, has
// every subchannel cleared.
func (e *Entry) isCACDone(ch model.Channel) bool {
	if e.root == nil {
		return false
	}
	n := find(e.root, ch)
	return n != nil && n.FullyCACDone()
}
