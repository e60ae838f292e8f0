package poll

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "stockpulse/pkg/logx"
)

func TestManagerOverridesAndApply(t *testing.T) {
	q := newFakeQuerier()
	for _, d := range []string{DomainInventoryAlerts, DomainReports, DomainLogs, DomainSalesActivity,
		DomainProducts, DomainCategories, DomainSuppliers, DomainUsers, DomainStockMovements, DomainReturnRequests} {
		q.set(d, `{}`)
	}
	off := false
	sched := NewScheduler(SchedulerConfig{}, logx.Nop())
	m, err := NewManager(DefaultDefinitions(), sched, Deps{Querier: q, Sink: &recordingSink{}}, map[string]Override{
		PollerSystem: {Enabled: &off},
		PollerSales:  {Interval: 45 * time.Second},
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	defer m.Stop(ctx)

	sys, _ := m.Get(PollerSystem)
	sales, _ := m.Get(PollerSales)
	assert.False(t, sys.Running())
	assert.True(t, sales.Running())
	assert.Equal(t, 45*time.Second, sales.Definition().Interval)
	assert.Len(t, sched.Entries(), 5)

	m.Apply(ctx, map[string]Override{PollerSales: {Enabled: &off}}, DefaultDefinitions())
	assert.True(t, sys.Running())
	assert.False(t, sales.Running())
	assert.Equal(t, 30*time.Second, sales.Definition().Interval)
	assert.Len(t, sched.Entries(), 5)
}

func TestManagerRejectsUnknownOverride(t *testing.T) {
	_, err := NewManager(DefaultDefinitions(), NewScheduler(SchedulerConfig{}, logx.Nop()),
		Deps{Querier: newFakeQuerier(), Sink: &recordingSink{}},
		map[string]Override{"bogus": {}})
	assert.Error(t, err)
}
