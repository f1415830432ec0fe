package tree

import (
	"strings"

	"github.com/mrbonezy/canopy/model"
	"github.com/sahilm/fuzzy"
)

type FilterOptions struct {
	Query    string
	Excluded map[model.BranchStatus]bool
	// Fuzzy switches name matching from substring to subsequence matching.
	Fuzzy bool
}

func (o FilterOptions) active() bool {
	return strings.TrimSpace(o.Query) != "" || len(o.Excluded) > 0
}

func (o FilterOptions) matches(n *Node) bool {
	if o.Excluded[n.Status()] {
		return false
	}
	q := strings.TrimSpace(o.Query)
	if q == "" {
		return true
	}
	if o.Fuzzy {
		return len(fuzzy.Find(q, []string{n.Name()})) > 0
	}
	return strings.Contains(strings.ToLower(n.Name()), strings.ToLower(q))
}

// Filter returns copies of the nodes that match opts, keeping any ancestor
// with a matching descendant. Kept ancestors retain only kept children.
func Filter(nodes []*Node, opts FilterOptions) []*Node {
	if !opts.active() {
		return nodes
	}
	out := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		if kept := filterNode(n, opts); kept != nil {
			out = append(out, kept)
		}
	}
	return out
}

func filterNode(n *Node, opts FilterOptions) *Node {
	children := make([]*Node, 0, len(n.Children))
	for _, c := range n.Children {
		if kept := filterNode(c, opts); kept != nil {
			children = append(children, kept)
		}
	}
	if !opts.matches(n) && len(children) == 0 {
		return nil
	}
	cp := *n
	cp.Children = children
	return &cp
}

// Walk visits nodes depth-first in display order.
func Walk(nodes []*Node, fn func(n *Node)) {
	for _, n := range nodes {
		fn(n)
		Walk(n.Children, fn)
	}
}

// Flatten returns nodes in depth-first display order.
func Flatten(nodes []*Node) []*Node {
	var out []*Node
	Walk(nodes, func(n *Node) { out = append(out, n) })
	return out
}
