package poll

import (
	"context"
	"errors"
	"hash/fnv"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "stockpulse/pkg/logx"
)

// SchedulerConfig controls the shared poll trigger table.
type SchedulerConfig struct {
	Timezone string // IANA TZ, empty means local
	// StartupSpread caps the random delay added before an entry's first tick.
	// 0 disables the spread.
	StartupSpread time.Duration
}

// Scheduler is one cron table with at most one entry per name.
// Jobs are wrapped with SkipIfStillRunning so a slow job never overlaps itself.
type Scheduler struct {
	mu sync.Mutex

	log logx.Logger
	cfg SchedulerConfig
	loc *time.Location

	c    *cron.Cron
	defs map[string]*scheduleDef
}

type scheduleDef struct {
	name    string
	every   time.Duration
	job     func()
	entryID cron.EntryID
	spread  time.Duration
}

// ScheduleInfo describes one registered entry.
type ScheduleInfo struct {
	Name   string
	Every  time.Duration
	Spread time.Duration
	Next   time.Time
	Prev   time.Time
}

func NewScheduler(cfg SchedulerConfig, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{
		cfg:  cfg,
		log:  log.With(logx.String("comp", "poll.scheduler")),
		defs: map[string]*scheduleDef{},
	}
}

// Upsert registers job under name, replacing any previous entry with that name.
// Entries added before Start are registered when Start runs.
func (s *Scheduler) Upsert(name string, every time.Duration, job func()) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("schedule name required")
	}
	if every < time.Second {
		return errors.New("schedule interval must be at least 1s")
	}
	if job == nil {
		return errors.New("schedule job required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(name)
	d := &scheduleDef{name: name, every: every, job: job}
	s.defs[name] = d
	if s.c != nil {
		s.addLocked(d)
		s.log.Debug("schedule registered",
			logx.String("name", name),
			logx.Duration("every", every),
			logx.Duration("spread", d.spread),
		)
	}
	return nil
}

// Remove unregisters name. It reports whether an entry existed.
func (s *Scheduler) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok := s.removeLocked(strings.TrimSpace(name))
	if ok {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return ok
}

func (s *Scheduler) removeLocked(name string) bool {
	d, ok := s.defs[name]
	if !ok {
		return false
	}
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	delete(s.defs, name)
	return true
}

func (s *Scheduler) addLocked(d *scheduleDef) {
	sched, jitter := s.intervalSchedule(d.every, d.name)
	d.spread = jitter
	d.entryID = s.c.Schedule(sched, cron.FuncJob(d.job))
}

// Start begins triggering. Calling Start twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.loc = loadLocation(s.cfg.Timezone, s.log)
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	for _, d := range s.defs {
		s.addLocked(d)
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop halts triggering and waits for running jobs, bounded by ctx.
// Definitions are kept so a later Start resumes them.
func (s *Scheduler) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	for _, d := range s.defs {
		d.entryID = 0
	}
	s.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

// Entries lists registered schedules sorted by name.
func (s *Scheduler) Entries() []ScheduleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleInfo, 0, len(s.defs))
	for _, d := range s.defs {
		it := ScheduleInfo{Name: d.name, Every: d.every, Spread: d.spread}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next = e.Next
			it.Prev = e.Prev
		}
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone, using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// startupSpreadSchedule wraps a base schedule and overrides the first run time.
type startupSpreadSchedule struct {
	base  cron.Schedule
	first time.Time
}

func (s *startupSpreadSchedule) Next(t time.Time) time.Time {
	if !s.first.IsZero() && t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

var spreadSeq uint64

func (s *Scheduler) intervalSchedule(every time.Duration, tag string) (cron.Schedule, time.Duration) {
	base := cron.Every(every)
	spreadMax := s.cfg.StartupSpread
	if spreadMax > every {
		spreadMax = every
	}
	if spreadMax <= 0 {
		return base, 0
	}

	seed := time.Now().UnixNano() ^ int64(atomic.AddUint64(&spreadSeq, 1)) ^ int64(fnv64a(tag))
	rng := rand.New(rand.NewSource(seed))
	jitter := time.Duration(rng.Int63n(int64(spreadMax)))
	first := time.Now().In(s.loc).Add(every + jitter)
	return &startupSpreadSchedule{base: base, first: first}, jitter
}

func fnv64a(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct {
	log logx.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Trace("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
