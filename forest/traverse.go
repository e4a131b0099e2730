package forest

// preorder visits every node of the tree rooted at root in root, left, right
// order using Morris threading. Threads are removed before returning, so the
// tree is unchanged afterwards. visit must not follow child links.
func preorder(root *TreeNode, visit func(*TreeNode)) {
	cur := root
	for cur != nil {
		if cur.left == nil {
			visit(cur)
			cur = cur.right
			continue
		}

		pred := cur.left
		for pred.right != nil && pred.right != cur {
			pred = pred.right
		}
		if pred.right == nil {
			visit(cur)
			pred.right = cur
			cur = cur.left
		} else {
			pred.right = nil
			cur = cur.right
		}
	}
}

// teardown dismantles the tree by flattening it into a left-linked list:
// each right subtree is grafted below the current leftmost node before the
// current node is released. Every node reaches release exactly once and the
// loop needs no stack. It returns the number of nodes released.
func teardown(root *TreeNode, release func(*TreeNode)) int {
	if root == nil {
		return 0
	}

	leftmost := root
	for leftmost.left != nil {
		leftmost = leftmost.left
	}

	released := 0
	cur := root
	for cur != nil {
		if cur.right != nil {
			leftmost.left = cur.right
			for leftmost.left != nil {
				leftmost = leftmost.left
			}
		}
		next := cur.left
		cur.left, cur.right = nil, nil
		if release != nil {
			release(cur)
		}
		released++
		cur = next
	}
	return released
}
