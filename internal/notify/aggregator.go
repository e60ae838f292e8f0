package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"stockpulse/internal/eventbus"
	"stockpulse/internal/metrics"
	logx "stockpulse/pkg/logx"
)

// Saver persists the state tree and the system flag.
type Saver interface {
	Save(ctx context.Context, st State, flag SystemUpdateFlag) error
}

type Options struct {
	// Conventions overrides the per-section update rule for hierarchical sections.
	Conventions    map[Section]Convention
	Bus            eventbus.Bus
	Log            logx.Logger
	Metrics        *metrics.Metrics
	PersistTimeout time.Duration
	Now            func() time.Time
}

// Aggregator is the single owner of the notification state.
//
// Every mutation runs under one mutex: validate, mutate, recompute, persist,
// publish. Readers get copies. A failed persist is logged and counted; the
// in-memory state stays authoritative and the next successful save catches up.
type Aggregator struct {
	mu    sync.Mutex
	state State
	flag  SystemUpdateFlag

	saver          Saver
	bus            eventbus.Bus
	log            logx.Logger
	m              *metrics.Metrics
	conventions    map[Section]Convention
	persistTimeout time.Duration
	now            func() time.Time
}

// New builds an aggregator seeded with initial (usually the result of Persister.Load).
// saver may be nil when storage is disabled.
func New(saver Saver, initial State, flag SystemUpdateFlag, opt Options) *Aggregator {
	initial = initial.Clone()
	initial.normalize()

	conv := DefaultConventions()
	for s, c := range opt.Conventions {
		if k, ok := s.Kind(); ok && k == KindHierarchical && (c == Increment || c == Replace) {
			conv[s] = c
		}
	}
	log := opt.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	now := opt.Now
	if now == nil {
		now = time.Now
	}
	pt := opt.PersistTimeout
	if pt <= 0 {
		pt = 5 * time.Second
	}

	a := &Aggregator{
		state:          initial,
		flag:           flag,
		saver:          saver,
		bus:            opt.Bus,
		log:            log.With(logx.String("comp", "notify")),
		m:              opt.Metrics,
		conventions:    conv,
		persistTimeout: pt,
		now:            now,
	}
	a.exportLocked()
	return a
}

// Convention returns the update rule of a hierarchical section.
func (a *Aggregator) Convention(s Section) Convention {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conventions[s]
}

func (a *Aggregator) requireHier(s Section, want Convention) (*HierSection, error) {
	kind, ok := s.Kind()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSection, s)
	}
	if kind != KindHierarchical {
		return nil, fmt.Errorf("%w: %q", ErrNotHierarchical, s)
	}
	if want != "" && a.conventions[s] != want {
		return nil, fmt.Errorf("%w: %s uses %s updates", ErrConventionMismatch, s, a.conventions[s])
	}
	return a.state.hier(s), nil
}

// MergeSectionUpdate replaces a hierarchical section's own flag and count and
// overwrites the given sub-items. Sub-items not named keep their values.
// Only valid for sections that follow the Replace convention.
func (a *Aggregator) MergeSectionUpdate(s Section, hasUpdates bool, count uint64, subItems map[string]SubItem) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	h, err := a.requireHier(s, Replace)
	if err != nil {
		return err
	}
	for k := range subItems {
		if !validSubItem(s, k) {
			return fmt.Errorf("%w: %s/%q", ErrUnknownSubItem, s, k)
		}
	}

	now := a.now()
	h.OwnFlag = hasUpdates
	h.OwnCount = count
	for k, v := range subItems {
		h.SubItems[k] = v
	}
	h.recompute()
	h.LastUpdate = stamp(now)

	a.commitLocked(Change{Op: OpMerge, Sections: []Section{s}, At: now})
	return nil
}

// MergeWarehouseUpdate replaces the warehouse totals and upserts the given locations.
func (a *Aggregator) MergeWarehouseUpdate(totals WarehouseTotals, locations map[string]Location) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	w := &a.state.Warehouse
	w.LowStock = totals.LowStock
	w.Expiring = totals.Expiring
	w.OutOfStock = totals.OutOfStock
	w.Expired = totals.Expired
	for id, loc := range locations {
		if loc.Name == "" {
			loc.Name = w.Warehouses[id].Name
		}
		loc.LastUpdate = stamp(now)
		w.Warehouses[id] = loc
	}
	w.LastUpdate = stamp(now)

	a.commitLocked(Change{Op: OpMerge, Sections: []Section{SectionWarehouse}, At: now})
	return nil
}

// MergeFlatCounters overwrites named counters of users, suppliers or returns.
func (a *Aggregator) MergeFlatCounters(s Section, counters map[string]uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	kind, ok := s.Kind()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSection, s)
	}
	if kind != KindFlat {
		return fmt.Errorf("%w: %q has no counters", ErrUnknownCounter, s)
	}
	for k := range counters {
		if !validCounter(s, k) {
			return fmt.Errorf("%w: %s/%q", ErrUnknownCounter, s, k)
		}
	}

	now := a.now()
	f := a.state.flat(s)
	for k, v := range counters {
		f.Counters[k] = v
	}
	f.LastUpdate = stamp(now)

	a.commitLocked(Change{Op: OpMerge, Sections: []Section{s}, At: now})
	return nil
}

// MergeSystemActivity replaces one systemActivity sub-item.
func (a *Aggregator) MergeSystemActivity(key string, hasUpdates bool, count uint64) error {
	return a.MergeMultipleSystemActivities(map[string]SubItem{key: {HasUpdates: hasUpdates, Count: count}})
}

// MergeMultipleSystemActivities replaces several systemActivity sub-items in
// one mutation. The section's own flag is left alone.
func (a *Aggregator) MergeMultipleSystemActivities(items map[string]SubItem) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	h, err := a.requireHier(SectionSystemActivity, Replace)
	if err != nil {
		return err
	}
	for k := range items {
		if !validSubItem(SectionSystemActivity, k) {
			return fmt.Errorf("%w: %s/%q", ErrUnknownSubItem, SectionSystemActivity, k)
		}
	}
	if len(items) == 0 {
		return nil
	}

	now := a.now()
	for k, v := range items {
		h.SubItems[k] = v
	}
	h.recompute()
	h.LastUpdate = stamp(now)

	a.commitLocked(Change{Op: OpMerge, Sections: []Section{SectionSystemActivity}, At: now})
	return nil
}

// AddIncrementalNotification adds increment to one sub-item of a section that
// follows the Increment convention. A zero increment is a no-op.
func (a *Aggregator) AddIncrementalNotification(s Section, subItem string, increment uint64, details string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	h, err := a.requireHier(s, Increment)
	if err != nil {
		return err
	}
	if !validSubItem(s, subItem) {
		return fmt.Errorf("%w: %s/%q", ErrUnknownSubItem, s, subItem)
	}
	if increment == 0 {
		return nil
	}

	now := a.now()
	it := h.SubItems[subItem]
	it.Count += increment
	it.HasUpdates = true
	h.SubItems[subItem] = it
	h.recompute()
	h.LastUpdate = stamp(now)

	a.commitLocked(Change{
		Op:       OpIncrement,
		Sections: []Section{s},
		SubItem:  subItem,
		Deltas:   map[Section]uint64{s: increment},
		Details:  details,
		At:       now,
	})
	return nil
}

func (a *Aggregator) validateUpdate(u Update) error {
	s := u.Target.Section
	kind, ok := s.Kind()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSection, s)
	}
	switch kind {
	case KindHierarchical:
		if !validSubItem(s, u.Target.Key) {
			return fmt.Errorf("%w: %s/%q", ErrUnknownSubItem, s, u.Target.Key)
		}
	case KindWarehouse:
		if !validAlert(u.Target.Key) {
			return fmt.Errorf("%w: %s/%q", ErrUnknownCounter, s, u.Target.Key)
		}
	case KindFlat:
		if !validCounter(s, u.Target.Key) {
			return fmt.Errorf("%w: %s/%q", ErrUnknownCounter, s, u.Target.Key)
		}
	}
	return nil
}

// Apply folds a poller's ChangeEvent into the state in one mutation.
//
// Hierarchical targets follow the section convention: Increment adds Delta,
// Replace stores Value. Warehouse and flat targets always store Value.
// The event is rejected as a whole if any target is unknown.
func (a *Aggregator) Apply(ev ChangeEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, u := range ev.Updates {
		if err := a.validateUpdate(u); err != nil {
			return err
		}
	}
	if ev.Empty() {
		return nil
	}

	now := a.now()
	deltas := map[Section]uint64{}
	var touched []Section
	touch := func(s Section, d uint64) {
		if _, ok := deltas[s]; !ok {
			touched = append(touched, s)
		}
		deltas[s] += d
	}

	for _, u := range ev.Updates {
		if u.Delta == 0 {
			continue
		}
		s := u.Target.Section
		kind, _ := s.Kind()
		switch kind {
		case KindHierarchical:
			h := a.state.hier(s)
			it := h.SubItems[u.Target.Key]
			if a.conventions[s] == Increment {
				it.Count += u.Delta
			} else {
				it.Count = u.Value
			}
			it.HasUpdates = it.Count > 0
			h.SubItems[u.Target.Key] = it
			h.recompute()
			h.LastUpdate = stamp(now)
		case KindWarehouse:
			w := &a.state.Warehouse
			if u.Target.LocationID == "" {
				w.setTotal(u.Target.Key, u.Value)
			} else {
				loc := w.Warehouses[u.Target.LocationID]
				if u.Target.LocationName != "" {
					loc.Name = u.Target.LocationName
				}
				loc.set(u.Target.Key, u.Value)
				loc.LastUpdate = stamp(now)
				w.Warehouses[u.Target.LocationID] = loc
			}
			w.LastUpdate = stamp(now)
		case KindFlat:
			f := a.state.flat(s)
			f.Counters[u.Target.Key] = u.Value
			f.LastUpdate = stamp(now)
		}
		touch(s, u.Delta)
	}

	if ev.System != nil && ev.System.Count > 0 {
		a.flag.HasUpdates = true
		a.flag.Count += ev.System.Count
		a.flag.LastCheck = stamp(now)
	}

	a.commitLocked(Change{
		Op:       OpApply,
		Source:   ev.Source,
		EventID:  ev.ID,
		Sections: touched,
		Deltas:   deltas,
		At:       now,
	})
	return nil
}

// SetSystemUpdate overwrites the coarse system flag.
func (a *Aggregator) SetSystemUpdate(hasUpdates bool, count uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	a.flag.HasUpdates = hasUpdates
	a.flag.Count = count
	a.flag.LastCheck = stamp(now)
	a.commitLocked(Change{Op: OpMerge, At: now})
}

// Acknowledge clears a whole section. Acknowledging systemActivity also
// clears the system update flag.
func (a *Aggregator) Acknowledge(s Section) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	kind, ok := s.Kind()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSection, s)
	}
	now := a.now()
	switch kind {
	case KindHierarchical:
		h := a.state.hier(s)
		h.clear()
		h.LastUpdate = stamp(now)
		if s == SectionSystemActivity {
			a.flag.HasUpdates = false
			a.flag.Count = 0
		}
	case KindWarehouse:
		a.state.Warehouse.clear()
		a.state.Warehouse.LastUpdate = stamp(now)
	case KindFlat:
		f := a.state.flat(s)
		f.clear()
		f.LastUpdate = stamp(now)
	}

	a.commitLocked(Change{Op: OpAcknowledge, Sections: []Section{s}, At: now})
	return nil
}

// AcknowledgeItem clears one branch of a section: a sub-item of a
// hierarchical section, a counter of a flat section or one warehouse location.
// The parent aggregate is recomputed; the parent's own flag is kept.
func (a *Aggregator) AcknowledgeItem(s Section, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	kind, ok := s.Kind()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSection, s)
	}
	now := a.now()
	switch kind {
	case KindHierarchical:
		if !validSubItem(s, key) {
			return fmt.Errorf("%w: %s/%q", ErrUnknownSubItem, s, key)
		}
		h := a.state.hier(s)
		h.SubItems[key] = SubItem{}
		h.recompute()
		h.LastUpdate = stamp(now)
	case KindFlat:
		if !validCounter(s, key) {
			return fmt.Errorf("%w: %s/%q", ErrUnknownCounter, s, key)
		}
		f := a.state.flat(s)
		f.Counters[key] = 0
		f.LastUpdate = stamp(now)
	case KindWarehouse:
		w := &a.state.Warehouse
		loc, ok := w.Warehouses[key]
		if !ok {
			return fmt.Errorf("%w: warehouse location %q", ErrUnknownSubItem, key)
		}
		w.LowStock = sub(w.LowStock, loc.LowStock)
		w.Expiring = sub(w.Expiring, loc.Expiring)
		w.OutOfStock = sub(w.OutOfStock, loc.OutOfStock)
		w.Expired = sub(w.Expired, loc.Expired)
		loc.LowStock, loc.Expiring, loc.OutOfStock, loc.Expired = 0, 0, 0, 0
		loc.LastUpdate = stamp(now)
		w.Warehouses[key] = loc
		w.LastUpdate = stamp(now)
	}

	a.commitLocked(Change{Op: OpAcknowledge, Sections: []Section{s}, SubItem: key, At: now})
	return nil
}

func sub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

// ClearAll resets every section and the system flag in one mutation.
func (a *Aggregator) ClearAll() {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	for _, s := range Sections {
		kind, _ := s.Kind()
		switch kind {
		case KindHierarchical:
			h := a.state.hier(s)
			h.clear()
			h.LastUpdate = stamp(now)
		case KindWarehouse:
			a.state.Warehouse.clear()
			a.state.Warehouse.LastUpdate = stamp(now)
		case KindFlat:
			f := a.state.flat(s)
			f.clear()
			f.LastUpdate = stamp(now)
		}
	}
	a.flag.HasUpdates = false
	a.flag.Count = 0

	a.commitLocked(Change{Op: OpClear, Sections: append([]Section(nil), Sections...), At: now})
}

// commitLocked persists, exports gauges and publishes. Caller holds a.mu.
func (a *Aggregator) commitLocked(ch Change) {
	ch.Persisted = a.persistLocked()
	a.exportLocked()

	if a.bus != nil {
		a.bus.Publish(eventbus.Event{Type: eventbus.TypeStateChanged, Time: ch.At, Data: ch})
	}
	a.log.Debug("state changed",
		logx.String("op", string(ch.Op)),
		logx.String("source", ch.Source),
		logx.Any("sections", ch.Sections),
		logx.Bool("persisted", ch.Persisted),
	)
}

func (a *Aggregator) persistLocked() bool {
	if a.saver == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.persistTimeout)
	defer cancel()
	if err := a.saver.Save(ctx, a.state, a.flag); err != nil {
		a.m.PersistFailed()
		a.log.Warn("persist notification state failed", logx.Err(err))
		return false
	}
	return true
}

func (a *Aggregator) exportLocked() {
	if a.m == nil {
		return
	}
	for _, s := range Sections {
		a.m.SetSectionTotal(string(s), a.state.totalFor(s))
	}
	a.m.SetSystemUpdate(a.flag.Count)
}

// ---- reads ----

// SectionState returns a copy of one section.
func (a *Aggregator) SectionState(s Section) (SectionState, error) {
	if _, ok := s.Kind(); !ok {
		return SectionState{}, fmt.Errorf("%w: %q", ErrUnknownSection, s)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.sectionState(s), nil
}

// TotalFor returns the aggregated count of a section; 0 for unknown sections.
func (a *Aggregator) TotalFor(s Section) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.totalFor(s)
}

// HasAny reports whether any section or the system flag carries updates.
func (a *Aggregator) HasAny() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.flag.HasUpdates || a.state.hasAny()
}

// IsSubItemFlagged reports whether one branch of a section has pending updates.
func (a *Aggregator) IsSubItemFlagged(s Section, key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	kind, ok := s.Kind()
	if !ok {
		return false
	}
	switch kind {
	case KindHierarchical:
		return a.state.hier(s).SubItems[key].HasUpdates
	case KindFlat:
		return a.state.flat(s).Counters[key] > 0
	default:
		loc, ok := a.state.Warehouse.Warehouses[key]
		return ok && loc.LowStock+loc.Expiring+loc.OutOfStock+loc.Expired > 0
	}
}

// SystemUpdate returns the coarse system flag.
func (a *Aggregator) SystemUpdate() SystemUpdateFlag {
	a.mu.Lock()
	defer a.mu.Unlock()
	f := a.flag
	f.LastCheck = cloneTime(a.flag.LastCheck)
	return f
}

// Snapshot returns a consistent copy of everything.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	totals := make(map[Section]uint64, len(Sections))
	for _, s := range Sections {
		totals[s] = a.state.totalFor(s)
	}
	conv := make(map[Section]Convention, len(a.conventions))
	for k, v := range a.conventions {
		conv[k] = v
	}
	f := a.flag
	f.LastCheck = cloneTime(a.flag.LastCheck)
	return Snapshot{
		State:       a.state.Clone(),
		System:      f,
		Totals:      totals,
		HasAny:      a.flag.HasUpdates || a.state.hasAny(),
		Conventions: conv,
	}
}
