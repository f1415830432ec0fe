package refresh

import (
	"time"

	"github.com/mrbonezy/canopy/model"
)

type CacheState int

const (
	CacheAbsent CacheState = iota
	CacheFresh
	CacheStale
)

func (s CacheState) String() string {
	switch s {
	case CacheFresh:
		return "fresh"
	case CacheStale:
		return "stale"
	default:
		return "absent"
	}
}

// Freshness classifies a cache entry against ttl. An entry is fresh while
// strictly younger than ttl.
func Freshness(entry *model.PRCacheEntry, now time.Time, ttl time.Duration) CacheState {
	if entry == nil {
		return CacheAbsent
	}
	if now.Sub(entry.FetchedAt) < ttl {
		return CacheFresh
	}
	return CacheStale
}

// AutoManaged reports whether refresh may overwrite status. Statuses a
// person set deliberately (blocked, stale, abandoned) are left alone.
func AutoManaged(status model.BranchStatus) bool {
	switch status {
	case model.StatusActive, model.StatusWaitingOnPR, model.StatusReadyToMerge:
		return true
	default:
		return false
	}
}

// DeriveStatus maps a PR to the branch status it implies. Closed PRs imply
// nothing.
func DeriveStatus(pr model.PRCacheEntry) (model.BranchStatus, bool) {
	switch pr.State {
	case model.PRStateDraft:
		return model.StatusActive, true
	case model.PRStateMerged:
		return model.StatusReadyToMerge, true
	case model.PRStateClosed:
		return "", false
	}
	if pr.ReviewState == model.ReviewApproved {
		return model.StatusReadyToMerge, true
	}
	return model.StatusWaitingOnPR, true
}
