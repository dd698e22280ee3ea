package tracing

import (
	"cmp"
	"math"
	"slices"
)

// Node is a record with the records it caused.
type Node struct {
	Record
	Children []*Node `json:"children,omitempty"`
}

// BuildTree links records through ParentID. Records whose parent is absent,
// or whose ancestry loops back to them, become roots. Siblings and roots are
// ordered by BeginAt, then id.
func BuildTree(records []Record) []*Node {
	nodes := make(map[string]*Node, len(records))
	order := make([]*Node, 0, len(records))

	for _, rec := range records {
		if existing, ok := nodes[rec.ID]; ok {
			existing.Record = rec
			continue
		}

		node := &Node{Record: rec}
		nodes[rec.ID] = node
		order = append(order, node)
	}

	var roots []*Node

	for _, node := range order {
		parent, ok := nodes[node.ParentID]
		if node.ParentID == "" || !ok || inCycle(nodes, node) {
			roots = append(roots, node)
			continue
		}

		parent.Children = append(parent.Children, node)
	}

	sortNodes(roots)

	return roots
}

func sortNodes(nodes []*Node) {
	slices.SortStableFunc(nodes, func(a, b *Node) int {
		if c := cmp.Compare(beginOf(a), beginOf(b)); c != 0 {
			return c
		}

		return cmp.Compare(a.ID, b.ID)
	})

	for _, node := range nodes {
		sortNodes(node.Children)
	}
}

func beginOf(node *Node) int64 {
	if node.BeginAt == nil {
		return math.MinInt64
	}

	return node.BeginAt.UnixNano()
}

func inCycle(nodes map[string]*Node, start *Node) bool {
	current := start

	for range len(nodes) {
		parent, ok := nodes[current.ParentID]
		if !ok || current.ParentID == "" {
			return false
		}

		if parent == start {
			return true
		}

		current = parent
	}

	return false
}
