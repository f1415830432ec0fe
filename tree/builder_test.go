package tree

import (
	"strings"
	"testing"
	"time"

	"github.com/mrbonezy/canopy/model"
)

func branches(names ...string) []model.Branch {
	out := make([]model.Branch, 0, len(names))
	for _, n := range names {
		out = append(out, model.Branch{Name: n, LastCommitSHA: "abc1234"})
	}
	return out
}

func mergeBasesFor(sha string, names ...string) map[string]string {
	out := make(map[string]string, len(names))
	for _, n := range names {
		out[n] = sha
	}
	return out
}

func findNode(nodes []*Node, name string) *Node {
	for _, n := range Flatten(nodes) {
		if n.Name() == name {
			return n
		}
	}
	return nil
}

func TestBuildEndToEndScenario(t *testing.T) {
	res := Build(Input{
		Branches:      branches("main", "feature-x"),
		MergeBases:    map[string]string{"feature-x": "abc123"},
		DefaultBranch: "main",
	})
	if len(res.Untracked) != 0 {
		t.Fatalf("expected no untracked branches, got %d", len(res.Untracked))
	}
	if len(res.Tree) != 1 || res.Tree[0].Name() != "main" {
		t.Fatalf("expected single main root, got %+v", res.Tree)
	}
	root := res.Tree[0]
	if root.Parent != "" || root.Depth != 0 {
		t.Fatalf("expected root with no parent at depth 0, got parent=%q depth=%d", root.Parent, root.Depth)
	}
	if len(root.Children) != 1 {
		t.Fatalf("expected one child, got %d", len(root.Children))
	}
	child := root.Children[0]
	if child.Name() != "feature-x" || child.Parent != "main" || child.Depth != 1 {
		t.Fatalf("expected feature-x under main at depth 1, got %q parent=%q depth=%d", child.Name(), child.Parent, child.Depth)
	}
}

func TestBuildEmptyInput(t *testing.T) {
	res := Build(Input{DefaultBranch: "main"})
	if len(res.Tree) != 0 || len(res.Untracked) != 0 {
		t.Fatalf("expected empty result, got %+v", res)
	}
}

func TestBuildMissingRootMakesEverythingUntracked(t *testing.T) {
	res := Build(Input{
		Branches:      branches("develop", "feat/a", "feat/b"),
		MergeBases:    mergeBasesFor("abc", "feat/a", "feat/b"),
		DefaultBranch: "main",
	})
	if len(res.Tree) != 0 {
		t.Fatalf("expected no tree without a root, got %d nodes", len(res.Tree))
	}
	if len(res.Untracked) != 3 {
		t.Fatalf("expected 3 untracked, got %d", len(res.Untracked))
	}
	for _, n := range res.Untracked {
		if n.Depth != 0 || n.Parent != "" {
			t.Fatalf("expected untracked %q at depth 0 without parent", n.Name())
		}
	}
}

func TestBuildWithoutMergeBaseIsUntracked(t *testing.T) {
	res := Build(Input{
		Branches:      branches("main", "orphan", "feature"),
		MergeBases:    map[string]string{"feature": "abc", "orphan": ""},
		DefaultBranch: "main",
	})
	if len(res.Untracked) != 1 || res.Untracked[0].Name() != "orphan" {
		t.Fatalf("expected orphan untracked, got %+v", res.Untracked)
	}
	if findNode(res.Tree, "orphan") != nil {
		t.Fatalf("expected orphan to stay out of the tree")
	}
}

func TestBuildPrefixNesting(t *testing.T) {
	res := Build(Input{
		Branches:      branches("main", "feat/auth", "feat/auth/signup"),
		MergeBases:    mergeBasesFor("abc", "feat/auth", "feat/auth/signup"),
		DefaultBranch: "main",
	})
	signup := findNode(res.Tree, "feat/auth/signup")
	if signup == nil {
		t.Fatalf("expected signup in tree")
	}
	if signup.Parent != "feat/auth" || signup.Depth != 2 {
		t.Fatalf("expected signup under feat/auth at depth 2, got parent=%q depth=%d", signup.Parent, signup.Depth)
	}
	if len(res.Tree[0].Children) != 1 {
		t.Fatalf("expected main to have only feat/auth as direct child, got %d", len(res.Tree[0].Children))
	}
}

func TestBuildPrefixPicksLongestCandidate(t *testing.T) {
	res := Build(Input{
		Branches:      branches("main", "feat", "feat/auth", "feat/auth/signup/form"),
		MergeBases:    mergeBasesFor("abc", "feat", "feat/auth", "feat/auth/signup/form"),
		DefaultBranch: "main",
	})
	form := findNode(res.Tree, "feat/auth/signup/form")
	if form == nil || form.Parent != "feat/auth" {
		t.Fatalf("expected form nested under feat/auth, got %+v", form)
	}
}

func TestBuildPrefixIgnoresUntrackedCandidates(t *testing.T) {
	res := Build(Input{
		Branches:      branches("main", "feat", "feat/auth"),
		MergeBases:    map[string]string{"feat/auth": "abc"},
		DefaultBranch: "main",
	})
	auth := findNode(res.Tree, "feat/auth")
	if auth == nil || auth.Parent != "main" {
		t.Fatalf("expected feat/auth under main since feat is untracked, got %+v", auth)
	}
}

func TestBuildPrefixRequiresSlashBoundary(t *testing.T) {
	res := Build(Input{
		Branches:      branches("main", "feat", "feature"),
		MergeBases:    mergeBasesFor("abc", "feat", "feature"),
		DefaultBranch: "main",
	})
	feature := findNode(res.Tree, "feature")
	if feature == nil || feature.Parent != "main" {
		t.Fatalf("expected feature under main, got %+v", feature)
	}
}

func TestBuildNestsUnderRootPrefix(t *testing.T) {
	res := Build(Input{
		Branches:      branches("main", "main/hotfix"),
		MergeBases:    mergeBasesFor("abc", "main/hotfix"),
		DefaultBranch: "main",
	})
	hotfix := findNode(res.Tree, "main/hotfix")
	if hotfix == nil || hotfix.Parent != "main" || hotfix.Depth != 1 {
		t.Fatalf("expected main/hotfix under main, got %+v", hotfix)
	}
}

func TestBuildManualOverrideWins(t *testing.T) {
	res := Build(Input{
		Branches: branches("main", "feat/auth", "feat/auth/signup", "billing"),
		Records: []model.BranchRecord{
			{BranchName: "feat/auth/signup", Status: model.StatusActive, ManuallySetParent: "billing"},
		},
		MergeBases:    mergeBasesFor("abc", "feat/auth", "feat/auth/signup", "billing"),
		DefaultBranch: "main",
	})
	signup := findNode(res.Tree, "feat/auth/signup")
	if signup == nil {
		t.Fatalf("expected signup in tree")
	}
	if signup.Parent != "billing" {
		t.Fatalf("expected manual parent billing, got %q", signup.Parent)
	}
	if signup.Depth != 2 {
		t.Fatalf("expected depth 2, got %d", signup.Depth)
	}
}

func TestBuildManualOverrideWithoutMergeBase(t *testing.T) {
	res := Build(Input{
		Branches: branches("main", "base", "stacked"),
		Records: []model.BranchRecord{
			{BranchName: "stacked", Status: model.StatusActive, ManuallySetParent: "base"},
		},
		MergeBases:    map[string]string{"base": "abc"},
		DefaultBranch: "main",
	})
	stacked := findNode(res.Tree, "stacked")
	if stacked == nil || stacked.Parent != "base" {
		t.Fatalf("expected stacked under base despite missing merge-base, got %+v", stacked)
	}
	if len(res.Untracked) != 0 {
		t.Fatalf("expected no untracked, got %d", len(res.Untracked))
	}
}

func TestBuildManualOverrideToDeadBranchFallsBack(t *testing.T) {
	res := Build(Input{
		Branches: branches("main", "feat/x"),
		Records: []model.BranchRecord{
			{BranchName: "feat/x", Status: model.StatusActive, ManuallySetParent: "deleted-branch"},
		},
		MergeBases:    mergeBasesFor("abc", "feat/x"),
		DefaultBranch: "main",
	})
	x := findNode(res.Tree, "feat/x")
	if x == nil || x.Parent != "main" {
		t.Fatalf("expected fallback to main, got %+v", x)
	}
}

func TestBuildManualOverrideCycleIsUntracked(t *testing.T) {
	res := Build(Input{
		Branches: branches("main", "a", "b", "self"),
		Records: []model.BranchRecord{
			{BranchName: "a", Status: model.StatusActive, ManuallySetParent: "b"},
			{BranchName: "b", Status: model.StatusActive, ManuallySetParent: "a"},
			{BranchName: "self", Status: model.StatusActive, ManuallySetParent: "self"},
		},
		MergeBases:    mergeBasesFor("abc", "a", "b", "self"),
		DefaultBranch: "main",
	})
	names := map[string]bool{}
	for _, n := range res.Untracked {
		names[n.Name()] = true
	}
	if !names["a"] || !names["b"] {
		t.Fatalf("expected cyclic overrides listed as untracked, got %v", names)
	}
	self := findNode(res.Tree, "self")
	if self == nil || self.Parent != "main" {
		t.Fatalf("expected self-override ignored, got %+v", self)
	}
}

func TestBuildDepthCap(t *testing.T) {
	names := []string{"main"}
	cur := "x"
	for i := 0; i < 10; i++ {
		names = append(names, cur)
		cur += "/x"
	}
	res := Build(Input{
		Branches:      branches(names...),
		MergeBases:    mergeBasesFor("abc", names[1:]...),
		DefaultBranch: "main",
	})
	maxDepth := 0
	for _, n := range Flatten(res.Tree) {
		if n.Depth > maxDepth {
			maxDepth = n.Depth
		}
	}
	if maxDepth != MaxDepth-1 {
		t.Fatalf("expected deepest node at %d, got %d", MaxDepth-1, maxDepth)
	}
	if len(res.Untracked) != 0 {
		t.Fatalf("expected truncated nodes to stay out of untracked, got %d", len(res.Untracked))
	}
}

func TestBuildAttachesRecordPRAndStatus(t *testing.T) {
	fetched := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	res := Build(Input{
		Branches: branches("main", "feat/pr"),
		Records: []model.BranchRecord{
			{BranchName: "feat/pr", Status: model.StatusWaitingOnPR, Notes: "ping reviewers"},
		},
		MergeBases: mergeBasesFor("abc", "feat/pr"),
		PRCache: map[string]model.PRCacheEntry{
			"feat/pr": {PRNumber: 42, BranchName: "feat/pr", Title: "Add PR", State: model.PRStateOpen, ReviewState: model.ReviewApproved, FetchedAt: fetched},
		},
		Statuses: map[string]model.SyncStatus{
			"feat/pr": {Ahead: 2, Behind: 1, HasUpstream: true},
		},
		DefaultBranch: "main",
	})
	n := findNode(res.Tree, "feat/pr")
	if n == nil {
		t.Fatalf("expected node")
	}
	if n.Record == nil || n.Record.Notes != "ping reviewers" {
		t.Fatalf("expected record attached, got %+v", n.Record)
	}
	if n.PR == nil || n.PR.Number != 42 || n.PR.HeadBranch != "feat/pr" {
		t.Fatalf("expected PR #42 with head branch, got %+v", n.PR)
	}
	if n.SyncStatus == nil || n.SyncStatus.Ahead != 2 {
		t.Fatalf("expected sync status, got %+v", n.SyncStatus)
	}
	root := res.Tree[0]
	if root.Record != nil || root.PR != nil || root.SyncStatus != nil {
		t.Fatalf("expected root without record/pr/status, got %+v", root)
	}
	if root.Status() != model.StatusActive {
		t.Fatalf("expected recordless node to report active, got %q", root.Status())
	}
}

func TestBuildDoesNotDependOnInputOrder(t *testing.T) {
	names := []string{"main", "feat", "feat/a", "feat/a/b", "fix/c", "fix"}
	forward := Build(Input{Branches: branches(names...), MergeBases: mergeBasesFor("abc", names[1:]...), DefaultBranch: "main"})

	reversed := make([]string, len(names))
	for i, n := range names {
		reversed[len(names)-1-i] = n
	}
	backward := Build(Input{Branches: branches(reversed...), MergeBases: mergeBasesFor("abc", names[1:]...), DefaultBranch: "main"})

	want := parentIndex(forward)
	got := parentIndex(backward)
	for name, p := range want {
		if got[name] != p {
			t.Fatalf("expected %q parent %q regardless of order, got %q", name, p, got[name])
		}
	}
}

func parentIndex(res Result) map[string]string {
	out := map[string]string{}
	for _, n := range Flatten(res.Tree) {
		out[n.Name()] = n.Parent + "@" + strings.Repeat(">", n.Depth)
	}
	return out
}
