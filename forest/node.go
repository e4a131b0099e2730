package forest

import "github.com/signalsfoundry/dfs-precac/model"

// TreeNode records the aggregate status of the 20 MHz subchannels under one
// channel at one bandwidth level. Children are owned exclusively by their
// parent and are both nil on 20 MHz leaves.
type TreeNode struct {
	Channel model.Channel
	Width   model.Width

	// Valid is fixed at construction. A node with zero valid subchannels
	// keeps its position in the tree but is reported as invalid.
	Valid   int
	CACDone int
	NOL     int

	left  *TreeNode
	right *TreeNode
}

// Capacity is the number of 20 MHz subchannels the node spans.
func (n *TreeNode) Capacity() int {
	c, _ := model.Subchannels(n.Width)
	return c
}

// FullyCACDone reports whether every subchannel under the node is cleared.
func (n *TreeNode) FullyCACDone() bool {
	return n.CACDone == n.Capacity()
}

func (n *TreeNode) isLeaf() bool { return n.left == nil && n.right == nil }

// descend returns the child to follow when searching for ch.
func descend(n *TreeNode, ch model.Channel) *TreeNode {
	if ch < n.Channel {
		return n.left
	}
	return n.right
}

// insert places n under root with a plain BST insert. Duplicate keys go
// right, which never happens for the fixed segment layout.
func insert(root, n *TreeNode) {
	cur := root
	for {
		if n.Channel < cur.Channel {
			if cur.left == nil {
				cur.left = n
				return
			}
			cur = cur.left
			continue
		}
		if cur.right == nil {
			cur.right = n
			return
		}
		cur = cur.right
	}
}

// find walks from root to the node carrying ch.
func find(root *TreeNode, ch model.Channel) *TreeNode {
	for n := root; n != nil; n = descend(n, ch) {
		if n.Channel == ch {
			return n
		}
	}
	return nil
}
