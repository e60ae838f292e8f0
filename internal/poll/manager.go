package poll

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	logx "stockpulse/pkg/logx"
)

// Override adjusts one built-in poller from config. Zero values keep the default.
type Override struct {
	Enabled  *bool
	Interval time.Duration
	Timeout  time.Duration
}

// Manager owns the pollers and their shared scheduler.
type Manager struct {
	mu      sync.Mutex
	sched   *Scheduler
	pollers map[string]*Poller
	enabled map[string]bool
	log     logx.Logger
}

// NewManager builds one Poller per definition. deps.Scheduler is replaced by sched.
func NewManager(defs []Definition, sched *Scheduler, deps Deps, overrides map[string]Override) (*Manager, error) {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Manager{
		sched:   sched,
		pollers: map[string]*Poller{},
		enabled: map[string]bool{},
		log:     log.With(logx.String("comp", "poll.manager")),
	}
	deps.Scheduler = sched
	for _, def := range defs {
		if _, dup := m.pollers[def.Name]; dup {
			return nil, fmt.Errorf("duplicate poller %q", def.Name)
		}
		ov := overrides[def.Name]
		if ov.Interval > 0 {
			def.Interval = ov.Interval
		}
		if ov.Timeout > 0 {
			def.Timeout = ov.Timeout
		}
		p, err := NewPoller(def, deps)
		if err != nil {
			return nil, err
		}
		m.pollers[def.Name] = p
		m.enabled[def.Name] = ov.Enabled == nil || *ov.Enabled
	}
	for name := range overrides {
		if _, ok := m.pollers[name]; !ok {
			return nil, fmt.Errorf("unknown poller %q", name)
		}
	}
	return m, nil
}

func (m *Manager) Get(name string) (*Poller, bool) {
	p, ok := m.pollers[name]
	return p, ok
}

// Names lists pollers sorted by name.
func (m *Manager) Names() []string {
	out := make([]string, 0, len(m.pollers))
	for n := range m.pollers {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Start starts the scheduler and every enabled poller.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sched.Start()
	for _, name := range m.Names() {
		if !m.enabled[name] {
			m.log.Info("poller disabled", logx.String("poller", name))
			continue
		}
		if err := m.pollers[name].Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Stop stops every poller, then the scheduler.
func (m *Manager) Stop(ctx context.Context) {
	for _, name := range m.Names() {
		m.pollers[name].Stop()
	}
	m.sched.Stop(ctx)
}

// Apply reconciles running pollers with new overrides: enable, disable and
// reschedule by name. Unknown names are ignored with a warning.
func (m *Manager) Apply(ctx context.Context, overrides map[string]Override, defaults []Definition) {
	base := map[string]Definition{}
	for _, d := range defaults {
		base[d.Name] = d
	}
	for name := range overrides {
		if _, ok := m.pollers[name]; !ok {
			m.log.Warn("ignoring override for unknown poller", logx.String("poller", name))
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, name := range m.Names() {
		p := m.pollers[name]
		ov := overrides[name]
		every, timeout := base[name].Interval, base[name].Timeout
		if ov.Interval > 0 {
			every = ov.Interval
		}
		if ov.Timeout > 0 {
			timeout = ov.Timeout
		}
		if err := p.Reschedule(every, timeout); err != nil {
			m.log.Warn("reschedule failed", logx.String("poller", name), logx.Err(err))
		}

		want := ov.Enabled == nil || *ov.Enabled
		m.enabled[name] = want
		switch {
		case want && !p.Running():
			if err := p.Start(ctx); err != nil {
				m.log.Warn("start failed", logx.String("poller", name), logx.Err(err))
			}
		case !want && p.Running():
			p.Stop()
		}
	}
}
