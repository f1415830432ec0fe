package forge

import (
	"strings"

	"github.com/mrbonezy/canopy/model"
)

func normalizePRState(state string, draft bool, merged bool) model.PRState {
	if merged {
		return model.PRStateMerged
	}
	if draft {
		return model.PRStateDraft
	}
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "closed":
		return model.PRStateClosed
	case "merged":
		return model.PRStateMerged
	default:
		return model.PRStateOpen
	}
}

// summarizeReviews uses the latest decisive review. Comment-only reviews
// never decide; no reviews at all means unknown.
func summarizeReviews(states []string) model.ReviewState {
	if len(states) == 0 {
		return ""
	}
	for i := len(states) - 1; i >= 0; i-- {
		switch strings.ToUpper(strings.TrimSpace(states[i])) {
		case "APPROVED":
			return model.ReviewApproved
		case "CHANGES_REQUESTED":
			return model.ReviewChangesRequested
		}
	}
	return model.ReviewPending
}

type checkRun struct {
	Status     string
	Conclusion string
}

func summarizeChecks(runs []checkRun) model.ChecksState {
	if len(runs) == 0 {
		return ""
	}
	completed := 0
	for _, r := range runs {
		switch strings.ToLower(strings.TrimSpace(r.Conclusion)) {
		case "failure", "timed_out", "cancelled", "action_required":
			return model.ChecksFailure
		}
		if strings.EqualFold(strings.TrimSpace(r.Status), "completed") {
			completed++
		}
	}
	if completed == len(runs) {
		return model.ChecksSuccess
	}
	return model.ChecksPending
}
