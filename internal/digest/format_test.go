package digest

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"stockpulse/internal/notify"
)

func TestFormatOnlyAddedActivity(t *testing.T) {
	text, ok := Format(notify.Change{
		Op:      notify.OpApply,
		Deltas:  map[notify.Section]uint64{notify.SectionReports: 2, notify.SectionLogs: 0, notify.SectionReturns: 1},
		Details: "poller reports",
	})
	assert.True(t, ok)
	assert.Equal(t, "New activity: +2 reports, +1 return requests (poller reports)", text)

	_, ok = Format(notify.Change{Op: notify.OpAcknowledge, Deltas: map[notify.Section]uint64{notify.SectionReports: 2}})
	assert.False(t, ok)

	_, ok = Format(notify.Change{Op: notify.OpIncrement})
	assert.False(t, ok)
}

func TestSummary(t *testing.T) {
	assert.Equal(t, "No pending notifications.", Summary(notify.Snapshot{}))

	got := Summary(notify.Snapshot{
		HasAny: true,
		Totals: map[notify.Section]uint64{notify.SectionReports: 3, notify.SectionWarehouse: 0},
		System: notify.SystemUpdateFlag{HasUpdates: true, Count: 4},
	})
	assert.Equal(t, "Pending notifications:\n- reports: 3\n- system updates: 4", got)
}
