package digest

import (
	"fmt"
	"sort"
	"strings"

	"stockpulse/internal/notify"
)

var sectionTitles = map[notify.Section]string{
	notify.SectionReports:        "reports",
	notify.SectionLogs:           "log entries",
	notify.SectionWarehouse:      "warehouse alerts",
	notify.SectionUsers:          "user activity",
	notify.SectionSuppliers:      "supplier changes",
	notify.SectionReturns:        "return requests",
	notify.SectionSystemActivity: "system activity",
}

// Format renders a change as one line. Only changes that added activity
// produce text; acknowledgments and merges are ignored.
func Format(ch notify.Change) (string, bool) {
	if ch.Op != notify.OpApply && ch.Op != notify.OpIncrement {
		return "", false
	}
	secs := make([]notify.Section, 0, len(ch.Deltas))
	for s, d := range ch.Deltas {
		if d > 0 {
			secs = append(secs, s)
		}
	}
	if len(secs) == 0 {
		return "", false
	}
	sort.Slice(secs, func(i, j int) bool { return secs[i] < secs[j] })

	parts := make([]string, 0, len(secs))
	for _, s := range secs {
		title := sectionTitles[s]
		if title == "" {
			title = string(s)
		}
		parts = append(parts, fmt.Sprintf("+%d %s", ch.Deltas[s], title))
	}
	line := "New activity: " + strings.Join(parts, ", ")
	if ch.Details != "" {
		line += " (" + ch.Details + ")"
	}
	return line, true
}

// Summary renders current totals for the /pending chat command.
func Summary(snap notify.Snapshot) string {
	if !snap.HasAny {
		return "No pending notifications."
	}
	var b strings.Builder
	b.WriteString("Pending notifications:")
	for _, s := range notify.Sections {
		if n := snap.Totals[s]; n > 0 {
			fmt.Fprintf(&b, "\n- %s: %d", s, n)
		}
	}
	if snap.System.HasUpdates {
		fmt.Fprintf(&b, "\n- system updates: %d", snap.System.Count)
	}
	return b.String()
}
