package ui

import (
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"
)

// PadOrTrim fits s into exactly width terminal cells, truncating with an
// ellipsis when it is too wide.
func PadOrTrim(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) > width {
		s = runewidth.Truncate(s, width, "…")
	}
	return s + strings.Repeat(" ", width-runewidth.StringWidth(s))
}

// RelativeAge renders t relative to now ("3 days ago"), or "-" for the zero
// time.
func RelativeAge(t time.Time, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	if now.Sub(t) < time.Minute && !t.After(now) {
		return "just now"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}
