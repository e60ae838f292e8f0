package view

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockpulse/internal/eventbus"
	"stockpulse/internal/notify"
)

func TestBindingReadsAndAcks(t *testing.T) {
	bus := eventbus.New()
	agg := notify.New(nil, notify.NewState(), notify.SystemUpdateFlag{}, notify.Options{Bus: bus})
	b := New(agg, bus)

	changes, cancel := b.Subscribe(8)
	defer cancel()

	require.NoError(t, agg.AddIncrementalNotification(notify.SectionLogs, notify.LogFailedLogins, 2, "2 failed logins"))
	select {
	case c := <-changes:
		assert.Equal(t, notify.OpIncrement, c.Op)
		assert.Equal(t, "2 failed logins", c.Details)
	case <-time.After(time.Second):
		t.Fatal("no change delivered")
	}

	assert.True(t, b.HasAny())
	assert.Equal(t, uint64(2), b.TotalFor(notify.SectionLogs))
	assert.True(t, b.IsSubItemFlagged(notify.SectionLogs, notify.LogFailedLogins))

	require.NoError(t, b.AcknowledgeItem(notify.SectionLogs, notify.LogFailedLogins))
	assert.False(t, b.HasAny())

	ss, err := b.GetSectionState(notify.SectionLogs)
	require.NoError(t, err)
	assert.NotNil(t, ss.Hierarchical.LastUpdate)

	_, err = b.GetSectionState("bogus")
	assert.ErrorIs(t, err, notify.ErrUnknownSection)
}

func TestSubscribeWithoutBusIsClosed(t *testing.T) {
	b := New(notify.New(nil, notify.NewState(), notify.SystemUpdateFlag{}, notify.Options{}), nil)
	ch, cancel := b.Subscribe(1)
	defer cancel()
	_, open := <-ch
	assert.False(t, open)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := eventbus.New()
	b := New(notify.New(nil, notify.NewState(), notify.SystemUpdateFlag{}, notify.Options{Bus: bus}), bus)
	ch, cancel := b.Subscribe(1)
	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, open := <-ch:
			return !open
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}
