package refresh

import (
	"testing"
	"time"

	"github.com/mrbonezy/canopy/model"
)

func TestFreshness(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		entry *model.PRCacheEntry
		want  CacheState
	}{
		{name: "absent", entry: nil, want: CacheAbsent},
		{name: "just fetched", entry: &model.PRCacheEntry{FetchedAt: now}, want: CacheFresh},
		{name: "four minutes", entry: &model.PRCacheEntry{FetchedAt: now.Add(-4 * time.Minute)}, want: CacheFresh},
		{name: "exactly ttl", entry: &model.PRCacheEntry{FetchedAt: now.Add(-5 * time.Minute)}, want: CacheStale},
		{name: "six minutes", entry: &model.PRCacheEntry{FetchedAt: now.Add(-6 * time.Minute)}, want: CacheStale},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Freshness(tt.entry, now, DefaultPRCacheTTL); got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name   string
		pr     model.PRCacheEntry
		want   model.BranchStatus
		wantOK bool
	}{
		{name: "draft", pr: model.PRCacheEntry{State: model.PRStateDraft}, want: model.StatusActive, wantOK: true},
		{name: "merged", pr: model.PRCacheEntry{State: model.PRStateMerged}, want: model.StatusReadyToMerge, wantOK: true},
		{name: "closed", pr: model.PRCacheEntry{State: model.PRStateClosed}, wantOK: false},
		{name: "open approved", pr: model.PRCacheEntry{State: model.PRStateOpen, ReviewState: model.ReviewApproved}, want: model.StatusReadyToMerge, wantOK: true},
		{name: "open changes requested", pr: model.PRCacheEntry{State: model.PRStateOpen, ReviewState: model.ReviewChangesRequested}, want: model.StatusWaitingOnPR, wantOK: true},
		{name: "open unreviewed", pr: model.PRCacheEntry{State: model.PRStateOpen}, want: model.StatusWaitingOnPR, wantOK: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DeriveStatus(tt.pr)
			if ok != tt.wantOK || got != tt.want {
				t.Fatalf("expected (%q, %v), got (%q, %v)", tt.want, tt.wantOK, got, ok)
			}
		})
	}
}

func TestAutoManaged(t *testing.T) {
	managed := map[model.BranchStatus]bool{
		model.StatusActive:       true,
		model.StatusWaitingOnPR:  true,
		model.StatusReadyToMerge: true,
	}
	for _, s := range model.BranchStatuses {
		if got := AutoManaged(s); got != managed[s] {
			t.Fatalf("AutoManaged(%q): expected %v, got %v", s, managed[s], got)
		}
	}
}

func TestRootBranch(t *testing.T) {
	branches := func(names ...string) []model.Branch {
		out := make([]model.Branch, 0, len(names))
		for _, n := range names {
			out = append(out, model.Branch{Name: n})
		}
		return out
	}
	tests := []struct {
		name     string
		branches []model.Branch
		current  string
		want     string
	}{
		{name: "main wins", branches: branches("master", "main", "dev"), current: "dev", want: "main"},
		{name: "master", branches: branches("master", "dev"), current: "dev", want: "master"},
		{name: "current", branches: branches("trunk", "dev"), current: "dev", want: "dev"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RootBranch(tt.branches, tt.current); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
