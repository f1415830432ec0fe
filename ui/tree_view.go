package ui

import (
	"strings"
	"time"

	"github.com/mrbonezy/canopy/model"
	"github.com/mrbonezy/canopy/tree"
)

type TreeRow struct {
	Node          *tree.Node
	BranchLabel   string
	Status        model.BranchStatus
	PRLabel       string
	PRStateLabel  string
	CILabel       string
	ReviewLabel   string
	CommentsLabel string
	SyncLabel     string
	AgeLabel      string
	Untracked     bool
	Disabled      bool
}

// BuildTreeRows flattens a built tree into display rows, drawing box
// connectors in front of nested branches. Untracked branches follow the
// tree without connectors.
func BuildTreeRows(result tree.Result, now time.Time) []TreeRow {
	var rows []TreeRow
	var walk func(n *tree.Node, prefix string, connector string)
	walk = func(n *tree.Node, prefix string, connector string) {
		rows = append(rows, newTreeRow(n, prefix+connector, now))
		for i, child := range n.Children {
			last := i == len(n.Children)-1
			next := prefix
			if connector != "" {
				if strings.HasPrefix(connector, "└") {
					next += "   "
				} else {
					next += "│  "
				}
			}
			if last {
				walk(child, next, "└─ ")
			} else {
				walk(child, next, "├─ ")
			}
		}
	}
	for _, root := range result.Tree {
		walk(root, "", "")
	}
	for _, n := range result.Untracked {
		row := newTreeRow(n, "", now)
		row.Untracked = true
		rows = append(rows, row)
	}
	return rows
}

func newTreeRow(n *tree.Node, prefix string, now time.Time) TreeRow {
	label := prefix + n.Name()
	if n.Branch.IsCurrent {
		label += " ●"
	}
	status := n.Status()
	return TreeRow{
		Node:          n,
		BranchLabel:   label,
		Status:        status,
		PRLabel:       formatPRLabel(n.PR),
		PRStateLabel:  formatPRState(n.PR),
		CILabel:       formatChecks(n.PR),
		ReviewLabel:   formatReview(n.PR),
		CommentsLabel: formatComments(n.PR),
		SyncLabel:     formatSync(n.SyncStatus),
		AgeLabel:      RelativeAge(n.Branch.LastCommitDate, now),
		Disabled:      status == model.StatusStale || status == model.StatusAbandoned || isInactivePR(n.PR),
	}
}

const (
	branchWidth   = 40
	statusWidth   = 18
	prWidth       = 7
	prStateWidth  = 8
	ciWidth       = 10
	reviewWidth   = 9
	commentsWidth = 8
	syncWidth     = 10
	ageWidth      = 14
)

// RenderTree draws rows as a table; cursor < 0 highlights nothing.
func RenderTree(rows []TreeRow, cursor int, styles Styles) string {
	var b strings.Builder
	header := formatTreeLine("Branch", "Status", "PR", "State", "CI", "Review", "Comments", "Sync", "Updated")
	b.WriteString(styles.Header("  " + header))
	b.WriteString("\n")
	if len(rows) == 0 {
		b.WriteString("  ")
		b.WriteString(styles.Disabled("No branches."))
		b.WriteString("\n")
		return b.String()
	}
	untrackedShown := false
	for i, row := range rows {
		if row.Untracked && !untrackedShown {
			b.WriteString("\n  ")
			b.WriteString(styles.Secondary("Untracked"))
			b.WriteString("\n")
			untrackedShown = true
		}
		rowStyle := styles.Normal
		rowSelectedStyle := styles.Selected
		if row.Disabled {
			rowStyle = styles.Disabled
			rowSelectedStyle = styles.DisabledSelected
		}
		statusCell := PadOrTrim(row.Status.Label(), statusWidth)
		if i != cursor && !row.Disabled {
			statusCell = styles.Status(row.Status, statusCell)
		}
		line := PadOrTrim(row.BranchLabel, branchWidth) + " " + statusCell + " " +
			formatTreeTail(row.PRLabel, row.PRStateLabel, row.CILabel, row.ReviewLabel, row.CommentsLabel, row.SyncLabel, row.AgeLabel)
		if i == cursor {
			b.WriteString("  " + rowSelectedStyle(line))
		} else {
			b.WriteString("  " + rowStyle(line))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func formatTreeLine(branch string, status string, pr string, prState string, ci string, review string, comments string, sync string, age string) string {
	return PadOrTrim(branch, branchWidth) + " " +
		PadOrTrim(status, statusWidth) + " " +
		formatTreeTail(pr, prState, ci, review, comments, sync, age)
}

func formatTreeTail(pr string, prState string, ci string, review string, comments string, sync string, age string) string {
	return PadOrTrim(pr, prWidth) + " " +
		PadOrTrim(prState, prStateWidth) + " " +
		PadOrTrim(ci, ciWidth) + " " +
		PadOrTrim(review, reviewWidth) + " " +
		PadOrTrim(comments, commentsWidth) + " " +
		PadOrTrim(sync, syncWidth) + " " +
		PadOrTrim(age, ageWidth)
}
