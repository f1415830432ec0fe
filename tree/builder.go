// Package tree reconstructs a parent/child hierarchy from a flat list of
// local branches.
//
// Ancestry is inferred in three steps. A manual parent override on the
// branch record wins when it names a live branch. Otherwise any branch with
// a merge-base against the default branch hangs off the root, and branches
// without one are untracked. Finally branches are re-parented under the
// longest live branch whose name is a slash-delimited prefix of theirs, so
// feat/auth/signup nests under feat/auth.
package tree

import (
	"strings"

	"github.com/mrbonezy/canopy/model"
)

// MaxDepth bounds materialization; nodes at this depth get no children.
const MaxDepth = 8

type Node struct {
	Branch     model.Branch        `json:"branch"`
	Record     *model.BranchRecord `json:"record"`
	PR         *model.PRData       `json:"pr"`
	Parent     string              `json:"parent,omitempty"`
	Children   []*Node             `json:"children"`
	Depth      int                 `json:"depth"`
	SyncStatus *model.SyncStatus   `json:"syncStatus"`
}

// Name is a shorthand for n.Branch.Name.
func (n *Node) Name() string {
	return n.Branch.Name
}

// Status is the record status, or active when the branch has no record.
func (n *Node) Status() model.BranchStatus {
	if n.Record == nil || n.Record.Status == "" {
		return model.StatusActive
	}
	return n.Record.Status
}

type Input struct {
	Branches      []model.Branch
	Records       []model.BranchRecord
	MergeBases    map[string]string
	PRCache       map[string]model.PRCacheEntry
	Statuses      map[string]model.SyncStatus
	DefaultBranch string
}

// FromRefresh adapts a refresh snapshot into builder input.
func FromRefresh(r *model.RefreshResult) Input {
	if r == nil {
		return Input{}
	}
	return Input{
		Branches:      r.Branches,
		Records:       r.Records,
		MergeBases:    r.MergeBases,
		PRCache:       r.PRCache,
		Statuses:      r.Statuses,
		DefaultBranch: r.DefaultBranch,
	}
}

type Result struct {
	Tree      []*Node `json:"tree"`
	Untracked []*Node `json:"untracked"`
}

// Build is pure: it keeps no state between calls and never mutates in.
func Build(in Input) Result {
	if len(in.Branches) == 0 {
		return Result{Tree: []*Node{}, Untracked: []*Node{}}
	}

	records := make(map[string]*model.BranchRecord, len(in.Records))
	for i := range in.Records {
		r := in.Records[i]
		records[r.BranchName] = &r
	}
	live := make(map[string]model.Branch, len(in.Branches))
	for _, b := range in.Branches {
		live[b.Name] = b
	}

	nodeFor := func(b model.Branch, parent string, depth int) *Node {
		n := &Node{
			Branch:   b,
			Record:   records[b.Name],
			Parent:   parent,
			Depth:    depth,
			Children: []*Node{},
		}
		if entry, ok := in.PRCache[b.Name]; ok {
			pr := entry.PR()
			n.PR = &pr
		}
		if status, ok := in.Statuses[b.Name]; ok {
			s := status
			n.SyncStatus = &s
		}
		return n
	}

	rootName := in.DefaultBranch
	root, hasRoot := live[rootName]
	if !hasRoot {
		untracked := make([]*Node, 0, len(in.Branches))
		for _, b := range in.Branches {
			untracked = append(untracked, nodeFor(b, "", 0))
		}
		return Result{Tree: []*Node{}, Untracked: untracked}
	}

	parents := make(map[string]string, len(in.Branches))
	manual := make(map[string]bool)
	tracked := make([]string, 0, len(in.Branches))
	var untrackedNames []string

	for _, b := range in.Branches {
		if b.Name == rootName {
			continue
		}
		if rec := records[b.Name]; rec != nil {
			override := rec.ManuallySetParent
			if override != "" && override != b.Name {
				if _, ok := live[override]; ok {
					parents[b.Name] = override
					manual[b.Name] = true
					tracked = append(tracked, b.Name)
					continue
				}
			}
		}
		if in.MergeBases[b.Name] != "" {
			parents[b.Name] = rootName
			tracked = append(tracked, b.Name)
			continue
		}
		untrackedNames = append(untrackedNames, b.Name)
	}

	candidates := make([]string, 0, len(tracked)+1)
	candidates = append(candidates, rootName)
	candidates = append(candidates, tracked...)
	for _, name := range tracked {
		if manual[name] {
			continue
		}
		if best := longestPrefixParent(name, candidates); best != "" && best != parents[name] {
			parents[name] = best
		}
	}

	children := make(map[string][]string, len(tracked))
	for _, name := range tracked {
		p := parents[name]
		children[p] = append(children[p], name)
	}

	reached := make(map[string]bool, len(tracked)+1)
	var expand func(name string, depth int) []*Node
	expand = func(name string, depth int) []*Node {
		if depth >= MaxDepth {
			return []*Node{}
		}
		out := make([]*Node, 0, len(children[name]))
		for _, child := range children[name] {
			if reached[child] {
				continue
			}
			reached[child] = true
			n := nodeFor(live[child], name, depth)
			n.Children = expand(child, depth+1)
			out = append(out, n)
		}
		return out
	}

	reached[rootName] = true
	rootNode := nodeFor(root, "", 0)
	rootNode.Children = expand(rootName, 1)

	untracked := make([]*Node, 0, len(untrackedNames))
	for _, name := range untrackedNames {
		untracked = append(untracked, nodeFor(live[name], "", 0))
	}
	// Overrides that form a cycle, or that point at an untracked branch,
	// never connect to the root. Those branches are listed as untracked.
	for _, name := range tracked {
		if !reached[name] && !cutByDepth(name, parents, rootName) {
			untracked = append(untracked, nodeFor(live[name], "", 0))
		}
	}

	return Result{Tree: []*Node{rootNode}, Untracked: untracked}
}

// longestPrefixParent returns the longest candidate C != name such that name
// starts with C + "/". Only strictly longer matches replace the best so far.
func longestPrefixParent(name string, candidates []string) string {
	best := ""
	for _, c := range candidates {
		if c == name {
			continue
		}
		if strings.HasPrefix(name, c+"/") && len(c) > len(best) {
			best = c
		}
	}
	return best
}

// cutByDepth reports whether name's parent chain reaches the root but is
// deeper than materialization allows.
func cutByDepth(name string, parents map[string]string, root string) bool {
	depth := 0
	seen := map[string]bool{}
	for cur := name; ; {
		if seen[cur] {
			return false
		}
		seen[cur] = true
		p, ok := parents[cur]
		if !ok {
			return false
		}
		depth++
		if p == root {
			return depth >= MaxDepth
		}
		cur = p
	}
}
