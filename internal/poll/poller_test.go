package poll

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockpulse/internal/eventbus"
	"stockpulse/internal/notify"
	"stockpulse/internal/storage"
	logx "stockpulse/pkg/logx"
)

func definition(name string) Definition {
	for _, d := range DefaultDefinitions() {
		if d.Name == name {
			return d
		}
	}
	panic("no definition " + name)
}

func newTestPoller(t *testing.T, def Definition, q *fakeQuerier, sink Sink) *Poller {
	t.Helper()
	p, err := NewPoller(def, Deps{Querier: q, Sink: sink, Log: logx.Nop()})
	require.NoError(t, err)
	return p
}

func TestCheckOnceEmitsOnlyIncreases(t *testing.T) {
	q := newFakeQuerier()
	sink := &recordingSink{}
	p := newTestPoller(t, definition(PollerLogs), q, sink)
	ctx := context.Background()

	q.set(DomainLogs, `{"logins":3,"activity":0,"failedLogins":1,"activeUsers":4}`)
	rep := p.CheckOnce(ctx)
	assert.Equal(t, 0, rep.Failed)
	assert.Equal(t, 4, rep.Readings)
	assert.Equal(t, 3, rep.Updates)
	require.Len(t, sink.all(), 1)

	// unchanged: no event
	rep = p.CheckOnce(ctx)
	assert.Equal(t, 0, rep.Updates)
	assert.Empty(t, rep.EventID)
	require.Len(t, sink.all(), 1)

	// decreases are stored, never emitted
	q.set(DomainLogs, `{"logins":1,"activity":0,"failedLogins":1,"activeUsers":4}`)
	p.CheckOnce(ctx)
	require.Len(t, sink.all(), 1)
	assert.Equal(t, uint64(1), p.Snapshot().Get("logs/Login Logs"))

	q.set(DomainLogs, `{"logins":2,"activity":0,"failedLogins":1,"activeUsers":4}`)
	p.CheckOnce(ctx)
	evs := sink.all()
	require.Len(t, evs, 2)
	require.Len(t, evs[1].Updates, 1)
	assert.Equal(t, uint64(1), evs[1].Updates[0].Delta)
	assert.Equal(t, uint64(2), evs[1].Updates[0].Value)
	assert.Equal(t, PollerLogs, evs[1].Source)
}

func TestFailedQueryKeepsSnapshotAndOthersProceed(t *testing.T) {
	q := newFakeQuerier()
	sink := &recordingSink{}
	p := newTestPoller(t, definition(PollerSystem), q, sink)

	q.set(DomainProducts, `{"count":2}`)
	q.set(DomainCategories, `{"count":1}`)
	q.set(DomainSuppliers, `{"count":1,"new":1,"updated":0}`)
	q.set(DomainUsers, `{"count":0,"new":0}`)
	q.fail(DomainStockMovements, errors.New("connection refused"))

	rep := p.CheckOnce(context.Background())
	assert.Equal(t, 5, rep.Queries)
	assert.Equal(t, 1, rep.Failed)

	evs := sink.all()
	require.Len(t, evs, 1)
	require.NotNil(t, evs[0].System)
	assert.Equal(t, uint64(5), evs[0].System.Count)
	assert.Equal(t, uint64(0), p.Snapshot().Get(DomainStockMovements))

	q.fail(DomainStockMovements, nil)
	q.set(DomainStockMovements, `{"count":6}`)
	p.CheckOnce(context.Background())
	evs = sink.all()
	require.Len(t, evs, 2)
	assert.Empty(t, evs[1].Updates)
	assert.Equal(t, uint64(6), evs[1].System.Count)
}

func TestMalformedPayloadIsAFailure(t *testing.T) {
	q := newFakeQuerier()
	sink := &recordingSink{}
	p := newTestPoller(t, definition(PollerSales), q, sink)

	q.set(DomainSalesActivity, `{"count":-4}`)
	rep := p.CheckOnce(context.Background())
	assert.Equal(t, 1, rep.Failed)
	assert.Empty(t, sink.all())
	assert.Equal(t, 0, p.Snapshot().Len())
}

func TestQueryTimeout(t *testing.T) {
	q := newFakeQuerier()
	q.block = make(chan struct{})
	defer close(q.block)
	sink := &recordingSink{}
	def := definition(PollerSales)
	def.Timeout = 30 * time.Millisecond
	p := newTestPoller(t, def, q, sink)

	start := time.Now()
	rep := p.CheckOnce(context.Background())
	assert.Equal(t, 1, rep.Failed)
	assert.Less(t, time.Since(start), time.Second)
	assert.Empty(t, sink.all())
}

func TestOverlappingCycleIsSkipped(t *testing.T) {
	q := newFakeQuerier()
	q.block = make(chan struct{})
	q.set(DomainSalesActivity, `{"count":1}`)
	sink := &recordingSink{}
	p := newTestPoller(t, definition(PollerSales), q, sink)

	done := make(chan CycleReport)
	go func() { done <- p.CheckOnce(context.Background()) }()
	require.Eventually(t, func() bool { return q.callCount() == 1 }, time.Second, 5*time.Millisecond)

	rep := p.CheckOnce(context.Background())
	assert.True(t, rep.Skipped)

	close(q.block)
	first := <-done
	assert.False(t, first.Skipped)
	assert.Len(t, sink.all(), 1)
}

func TestStopDiscardsInFlightCycle(t *testing.T) {
	q := newFakeQuerier()
	q.block = make(chan struct{})
	q.set(DomainSalesActivity, `{"count":9}`)
	sink := &recordingSink{}
	bus := eventbus.New()
	cycles, unsub := bus.Subscribe(8)
	defer unsub()

	p, err := NewPoller(definition(PollerSales), Deps{Querier: q, Sink: sink, Bus: bus})
	require.NoError(t, err)

	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool { return q.callCount() == 1 }, time.Second, 5*time.Millisecond)
	p.Stop()
	close(q.block)

	select {
	case e := <-cycles:
		rep := e.Data.(CycleReport)
		assert.True(t, rep.Discarded)
	case <-time.After(2 * time.Second):
		t.Fatal("no cycle report")
	}
	assert.Empty(t, sink.all())
	assert.Equal(t, 0, p.Snapshot().Len())
	assert.False(t, p.Running())
}

func TestStartIsIdempotentAndStopSafe(t *testing.T) {
	q := newFakeQuerier()
	q.set(DomainSalesActivity, `{"count":1}`)
	sink := &recordingSink{}
	sched := NewScheduler(SchedulerConfig{}, logx.Nop())
	p, err := NewPoller(definition(PollerSales), Deps{Querier: q, Sink: sink, Scheduler: sched})
	require.NoError(t, err)

	p.Stop() // never started

	ctx := context.Background()
	require.NoError(t, p.Start(ctx))
	require.NoError(t, p.Start(ctx))
	require.Eventually(t, func() bool { return len(sink.all()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, q.callCount())
	assert.Len(t, sched.Entries(), 1)

	p.Stop()
	p.Stop()
	assert.Empty(t, sched.Entries())
}

func TestReportsSinceBaselineIsStable(t *testing.T) {
	q := newFakeQuerier()
	q.set(DomainReports, `{"sales":1}`)
	p := newTestPoller(t, definition(PollerReports), q, &recordingSink{})

	p.CheckOnce(context.Background())
	p.CheckOnce(context.Background())

	q.mu.Lock()
	defer q.mu.Unlock()
	require.Len(t, q.calls, 2)
	require.NotNil(t, q.calls[0].Since)
	assert.True(t, q.calls[0].Since.Equal(*q.calls[1].Since))
}

// Increment on reports and replace on systemActivity both end at 7 for
// observations 5, 5, 7.
func TestStockInScenarioUnderBothConventions(t *testing.T) {
	agg := notify.New(notify.NewPersister(storage.NewMemory(), logx.Nop()), notify.NewState(), notify.SystemUpdateFlag{}, notify.Options{})

	q := newFakeQuerier()
	reports := newTestPoller(t, definition(PollerReports), q, agg)
	sales := newTestPoller(t, definition(PollerSales), q, agg)
	ctx := context.Background()

	var reportTotals, salesTotals []uint64
	for _, v := range []string{"5", "5", "7"} {
		q.set(DomainReports, `{"stockIn":`+v+`}`)
		q.set(DomainSalesActivity, `{"count":`+v+`}`)
		reports.CheckOnce(ctx)
		sales.CheckOnce(ctx)
		reportTotals = append(reportTotals, agg.TotalFor(notify.SectionReports))
		salesTotals = append(salesTotals, agg.TotalFor(notify.SectionSystemActivity))
	}
	assert.Equal(t, []uint64{5, 5, 7}, reportTotals)
	assert.Equal(t, []uint64{5, 5, 7}, salesTotals)
	assert.True(t, agg.IsSubItemFlagged(notify.SectionReports, notify.ReportStockIn))
}

func TestNewPollerValidates(t *testing.T) {
	q := newFakeQuerier()
	_, err := NewPoller(Definition{Name: "x", Decode: decodeReports}, Deps{Querier: q, Sink: &recordingSink{}})
	assert.ErrorIs(t, err, ErrNoQueries)

	_, err = NewPoller(definition(PollerSales), Deps{Querier: q})
	assert.Error(t, err)
}

func TestPanickingDecoderFailsOnlyItsQuery(t *testing.T) {
	q := newFakeQuerier()
	q.set(DomainProducts, `{"count":2}`)
	q.set(DomainCategories, `{"count":1}`)
	def := Definition{
		Name:    "mixed",
		Queries: []Query{{Domain: DomainProducts}, {Domain: DomainCategories}},
		Decode: func(domain string, data json.RawMessage) ([]Reading, error) {
			if domain == DomainCategories {
				panic("bad payload")
			}
			return decodeSystem(domain, data)
		},
	}
	sink := &recordingSink{}
	p := newTestPoller(t, def, q, sink)

	rep := p.CheckOnce(context.Background())
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 1, rep.Updates)
	require.Len(t, sink.all(), 1)
	assert.Zero(t, p.Snapshot().Get("systemActivity/"+notify.ActivityCategories))
}

func TestUnchangedCycleSkipsPersistence(t *testing.T) {
	mem := storage.NewMemory()
	agg := notify.New(notify.NewPersister(mem, logx.Nop()), notify.NewState(), notify.SystemUpdateFlag{}, notify.Options{})
	q := newFakeQuerier()
	q.set(DomainSalesActivity, `{"count":3}`)
	p := newTestPoller(t, definition(PollerSales), q, agg)
	ctx := context.Background()

	p.CheckOnce(ctx)
	writes := mem.Writes()
	require.Positive(t, writes)

	rep := p.CheckOnce(ctx)
	assert.Zero(t, rep.Updates)
	assert.Equal(t, writes, mem.Writes())
	assert.Equal(t, uint64(3), agg.TotalFor(notify.SectionSystemActivity))
}
