package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/mrbonezy/canopy/model"
	"github.com/mrbonezy/canopy/tree"
)

// RenderBranchDetail shows the annotations, PR and recent commits of one
// branch.
func RenderBranchDetail(n *tree.Node, commits []model.Commit, now time.Time, styles Styles) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(styles.Header(n.Name()))
	b.WriteString("\n")

	field := func(label string, value string) {
		if strings.TrimSpace(value) == "" {
			value = "-"
		}
		b.WriteString(styles.Secondary(PadOrTrim(label, 12)))
		b.WriteString(value)
		b.WriteString("\n")
	}

	status := n.Status()
	field("Status", styles.Status(status, status.Label()))
	if n.Parent != "" {
		field("Parent", n.Parent)
	}
	if rec := n.Record; rec != nil {
		if rec.BlockerType != "" {
			field("Blocked by", fmt.Sprintf("%s %s", rec.BlockerType, rec.BlockerRef))
		}
		field("Next step", rec.NextStep)
		field("Notes", rec.Notes)
		if rec.ManuallySetParent != "" {
			field("Pinned to", rec.ManuallySetParent)
		}
	}
	field("Sync", formatSync(n.SyncStatus))
	field("Updated", RelativeAge(n.Branch.LastCommitDate, now))

	if pr := n.PR; pr != nil {
		b.WriteString("\n")
		field("PR", fmt.Sprintf("#%d %s", pr.Number, pr.Title))
		field("State", formatPRState(pr))
		field("Checks", formatChecks(pr))
		field("Review", formatReview(pr))
		field("Comments", formatComments(pr))
		field("URL", pr.HTMLURL)
	}

	if len(commits) > 0 {
		b.WriteString("\n")
		b.WriteString(styles.Header("Commits"))
		b.WriteString("\n")
		for _, c := range commits {
			b.WriteString(styles.Secondary(c.SHA))
			b.WriteString(" ")
			b.WriteString(PadOrTrim(c.Message, 60))
			b.WriteString(" ")
			b.WriteString(styles.Secondary(RelativeAge(c.Date, now)))
			b.WriteString("\n")
		}
	}
	return b.String()
}
