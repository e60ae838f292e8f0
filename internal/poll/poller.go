package poll

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"stockpulse/internal/backend"
	"stockpulse/internal/eventbus"
	"stockpulse/internal/metrics"
	"stockpulse/internal/notify"
	logx "stockpulse/pkg/logx"
)

const (
	DefaultQueryTimeout = 10 * time.Second
	minInterval         = time.Second
)

var ErrNoQueries = errors.New("poller has no queries")

// Query is one backend request issued every cycle.
type Query struct {
	Domain      string
	WindowHours int
	// SinceBaseline sends the time of the poller's first cycle as "since",
	// so the backend answers cumulative counts for the current session.
	SinceBaseline bool
}

// Reading is one decoded metric value.
type Reading struct {
	// Metric keys the poller snapshot. Empty means derived from Target.
	Metric string
	Value  uint64
	Target notify.Target
	// SystemOnly readings only feed the system update signal.
	SystemOnly bool
}

func (r Reading) key() string {
	if r.Metric != "" {
		return r.Metric
	}
	k := string(r.Target.Section) + "/" + r.Target.Key
	if r.Target.LocationID != "" {
		k = string(r.Target.Section) + "/" + r.Target.LocationID + "/" + r.Target.Key
	}
	return k
}

// Decoder turns a domain's data payload into readings.
type Decoder func(domain string, data json.RawMessage) ([]Reading, error)

// Definition is the static description of a poller.
type Definition struct {
	Name     string
	Interval time.Duration
	Timeout  time.Duration
	Queries  []Query
	Decode   Decoder
	// SystemSignal bumps the system update flag by the cycle's total delta.
	SystemSignal bool
}

// Sink receives change events. *notify.Aggregator implements it.
type Sink interface {
	Apply(ev notify.ChangeEvent) error
}

// CycleReport summarizes one poller cycle. It is published as eventbus.TypePollCycle.
type CycleReport struct {
	Poller    string        `json:"poller"`
	Started   time.Time     `json:"started"`
	Took      time.Duration `json:"took"`
	Queries   int           `json:"queries"`
	Failed    int           `json:"failed"`
	Readings  int           `json:"readings"`
	Updates   int           `json:"updates"`
	EventID   string        `json:"eventId,omitempty"`
	Skipped   bool          `json:"skipped,omitempty"`
	Discarded bool          `json:"discarded,omitempty"`
}

func (r CycleReport) result() string {
	switch {
	case r.Skipped:
		return "skipped"
	case r.Discarded:
		return "discarded"
	case r.Failed == 0:
		return "ok"
	case r.Failed < r.Queries:
		return "partial"
	default:
		return "error"
	}
}

type Deps struct {
	Querier   backend.Querier
	Sink      Sink
	Scheduler *Scheduler
	Bus       eventbus.Bus
	Metrics   *metrics.Metrics
	Log       logx.Logger
	Now       func() time.Time
}

// Poller watches a set of backend domains.
type Poller struct {
	q     backend.Querier
	sink  Sink
	sched *Scheduler
	bus   eventbus.Bus
	m     *metrics.Metrics
	log   logx.Logger
	now   func() time.Time
	snap  *Snapshot

	gate runGate

	mu       sync.Mutex
	def      Definition
	running  bool
	gen      uint64
	ctx      context.Context
	baseline time.Time
}

func NewPoller(def Definition, deps Deps) (*Poller, error) {
	if def.Name == "" {
		return nil, errors.New("poller name required")
	}
	if len(def.Queries) == 0 {
		return nil, fmt.Errorf("%s: %w", def.Name, ErrNoQueries)
	}
	if def.Decode == nil {
		return nil, fmt.Errorf("%s: decoder required", def.Name)
	}
	if deps.Querier == nil || deps.Sink == nil {
		return nil, fmt.Errorf("%s: querier and sink required", def.Name)
	}
	def = def.withDefaults()
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Poller{
		q:     deps.Querier,
		sink:  deps.Sink,
		sched: deps.Scheduler,
		bus:   deps.Bus,
		m:     deps.Metrics,
		log:   log.With(logx.String("comp", "poll"), logx.String("poller", def.Name)),
		now:   now,
		snap:  NewSnapshot(),
		def:   def,
	}, nil
}

func (d Definition) withDefaults() Definition {
	if d.Interval < minInterval {
		d.Interval = minInterval
	}
	if d.Timeout <= 0 {
		d.Timeout = DefaultQueryTimeout
	}
	return d
}

func (p *Poller) Name() string { return p.def.Name }

// Snapshot exposes the poller's last observed readings.
func (p *Poller) Snapshot() *Snapshot { return p.snap }

func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) Definition() Definition {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.def
}

// Start runs one check right away and registers the recurring entry.
// Calling Start on a running poller does nothing.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.gen++
	gen := p.gen
	p.ctx = ctx
	every := p.def.Interval
	p.mu.Unlock()

	if p.sched != nil {
		if err := p.sched.Upsert(p.def.Name, every, p.tick(ctx, gen)); err != nil {
			p.mu.Lock()
			p.running = false
			p.mu.Unlock()
			return fmt.Errorf("schedule %s: %w", p.def.Name, err)
		}
	}
	p.log.Info("poller started", logx.Duration("every", every))
	go p.tick(ctx, gen)()
	return nil
}

// Stop removes the recurring entry. A cycle already in flight finishes but
// its results are dropped. Safe on a poller that was never started.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.gen++
	p.mu.Unlock()

	if p.sched != nil {
		p.sched.Remove(p.def.Name)
	}
	p.log.Info("poller stopped")
}

// Reschedule changes interval and timeout. A running poller re-registers
// its entry; a stopped one picks the values up on the next Start.
func (p *Poller) Reschedule(every, timeout time.Duration) error {
	p.mu.Lock()
	def := p.def
	def.Interval = every
	def.Timeout = timeout
	def = def.withDefaults()
	changed := def.Interval != p.def.Interval || def.Timeout != p.def.Timeout
	p.def = def
	running, gen, ctx := p.running, p.gen, p.ctx
	p.mu.Unlock()

	if !changed || !running || p.sched == nil {
		return nil
	}
	if err := p.sched.Upsert(def.Name, def.Interval, p.tick(ctx, gen)); err != nil {
		return err
	}
	p.log.Info("poller rescheduled", logx.Duration("every", def.Interval), logx.Duration("timeout", def.Timeout))
	return nil
}

func (p *Poller) tick(ctx context.Context, gen uint64) func() {
	return func() { p.cycle(ctx, gen) }
}

// CheckOnce runs one cycle now, independent of the schedule.
func (p *Poller) CheckOnce(ctx context.Context) CycleReport {
	p.mu.Lock()
	gen := p.gen
	p.mu.Unlock()
	return p.cycle(ctx, gen)
}

type queryResult struct {
	q        Query
	readings []Reading
	err      error
}

func (p *Poller) cycle(ctx context.Context, gen uint64) CycleReport {
	start := p.now()
	p.mu.Lock()
	def := p.def
	if p.baseline.IsZero() {
		p.baseline = start
	}
	baseline := p.baseline
	p.mu.Unlock()

	rep := CycleReport{Poller: def.Name, Started: start, Queries: len(def.Queries)}
	if !p.gate.tryAcquire() {
		rep.Skipped = true
		return p.finish(rep, time.Now())
	}
	defer p.gate.release()

	results := p.runQueries(ctx, def, baseline)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen {
		rep.Discarded = true
		return p.finish(rep, time.Now())
	}

	var (
		updates  []notify.Update
		sysDelta uint64
	)
	for _, r := range results {
		if r.err != nil {
			rep.Failed++
			p.m.QueryFailed(def.Name, r.q.Domain)
			p.log.Warn("query failed", logx.String("domain", r.q.Domain), logx.Err(r.err))
			continue
		}
		for _, rd := range r.readings {
			rep.Readings++
			delta := p.snap.Observe(rd.key(), rd.Value)
			if delta == 0 {
				continue
			}
			sysDelta += delta
			if rd.SystemOnly {
				continue
			}
			updates = append(updates, notify.Update{Target: rd.Target, Delta: delta, Value: rd.Value})
		}
	}

	ev := notify.NewChangeEvent(def.Name, updates)
	ev.At = start
	if def.SystemSignal && sysDelta > 0 {
		ev.System = &notify.SystemSignal{Count: sysDelta}
	}
	if !ev.Empty() {
		rep.Updates = len(updates)
		rep.EventID = ev.ID
		if err := p.sink.Apply(ev); err != nil {
			p.log.Error("apply change event failed", logx.String("event", ev.ID), logx.Err(err))
		} else {
			p.m.ChangeSubmitted(def.Name)
			p.log.Debug("change event applied", logx.String("event", ev.ID), logx.Int("updates", len(updates)))
		}
	}
	return p.finish(rep, time.Now())
}

// runQueries issues every query in parallel, each bounded by def.Timeout.
// A failed query is recorded in its slot and never cancels its siblings.
func (p *Poller) runQueries(ctx context.Context, def Definition, baseline time.Time) []queryResult {
	out := make([]queryResult, len(def.Queries))
	var g errgroup.Group
	for i, q := range def.Queries {
		g.Go(func() error {
			defer func() {
				if rec := recover(); rec != nil {
					out[i] = queryResult{q: q, err: fmt.Errorf("panic: %v", rec)}
				}
			}()
			out[i] = p.runQuery(ctx, def, q, baseline)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (p *Poller) runQuery(ctx context.Context, def Definition, q Query, baseline time.Time) queryResult {
	qctx, cancel := context.WithTimeout(ctx, def.Timeout)
	defer cancel()

	req := backend.Request{Domain: q.Domain, WindowHours: q.WindowHours}
	if q.SinceBaseline {
		b := baseline
		req.Since = &b
	}
	data, err := p.q.Query(qctx, req)
	if err != nil {
		return queryResult{q: q, err: err}
	}
	readings, err := def.Decode(q.Domain, data)
	if err != nil {
		return queryResult{q: q, err: fmt.Errorf("decode %s: %w", q.Domain, err)}
	}
	return queryResult{q: q, readings: readings}
}

func (p *Poller) finish(rep CycleReport, end time.Time) CycleReport {
	rep.Took = end.Sub(rep.Started)
	if rep.Took < 0 {
		rep.Took = 0
	}
	p.m.ObserveCycle(rep.Poller, rep.result(), rep.Took)
	if rep.Skipped {
		p.log.Debug("cycle skipped, previous still running")
	}
	if p.bus != nil {
		p.bus.Publish(eventbus.Event{Type: eventbus.TypePollCycle, Data: rep})
	}
	return rep
}

// runGate lets at most one cycle of a poller run at a time.
type runGate struct {
	mu       sync.Mutex
	inflight bool
}

func (g *runGate) tryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inflight {
		return false
	}
	g.inflight = true
	return true
}

func (g *runGate) release() {
	g.mu.Lock()
	g.inflight = false
	g.mu.Unlock()
}
