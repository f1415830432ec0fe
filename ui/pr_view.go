package ui

import (
	"fmt"
	"strings"

	"github.com/mrbonezy/canopy/model"
)

func formatPRLabel(pr *model.PRData) string {
	if pr == nil {
		return "-"
	}
	return fmt.Sprintf("#%d", pr.Number)
}

func formatPRState(pr *model.PRData) string {
	if pr == nil || pr.State == "" {
		return "-"
	}
	return string(pr.State)
}

func formatChecks(pr *model.PRData) string {
	if pr == nil {
		return "-"
	}
	switch pr.ChecksState {
	case model.ChecksSuccess:
		return "✓ passing"
	case model.ChecksFailure:
		return "✗ failing"
	case model.ChecksPending:
		return "… running"
	default:
		return "-"
	}
}

func formatReview(pr *model.PRData) string {
	if pr == nil {
		return "-"
	}
	switch pr.ReviewState {
	case model.ReviewApproved:
		return "approved"
	case model.ReviewChangesRequested:
		return "changes"
	case model.ReviewPending:
		return "pending"
	default:
		return "-"
	}
}

func formatComments(pr *model.PRData) string {
	if pr == nil {
		return "-"
	}
	if pr.CommentCount < 0 {
		return "0"
	}
	return fmt.Sprintf("%d", pr.CommentCount)
}

// formatSync renders ahead/behind counts as arrows, with "*" for a dirty
// worktree. Branches without an upstream show "local".
func formatSync(s *model.SyncStatus) string {
	if s == nil {
		return "-"
	}
	var parts []string
	if !s.HasUpstream {
		parts = append(parts, "local")
	} else {
		if s.Ahead > 0 {
			parts = append(parts, fmt.Sprintf("↑%d", s.Ahead))
		}
		if s.Behind > 0 {
			parts = append(parts, fmt.Sprintf("↓%d", s.Behind))
		}
		if len(parts) == 0 {
			parts = append(parts, "synced")
		}
	}
	if s.IsDirty {
		parts = append(parts, "*")
	}
	return strings.Join(parts, " ")
}

func isInactivePR(pr *model.PRData) bool {
	return pr != nil && (pr.State == model.PRStateClosed || pr.State == model.PRStateMerged)
}
