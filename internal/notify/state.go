package notify

import "time"

// NewState returns the zero-value notification tree with every map allocated.
func NewState() State {
	var st State
	st.normalize()
	return st
}

// normalize allocates nil maps, drops unknown keys and recomputes derived
// fields. It is applied after loading a persisted blob.
func (st *State) normalize() {
	for _, s := range []Section{SectionReports, SectionLogs, SectionSystemActivity} {
		h := st.hier(s)
		if h.SubItems == nil {
			h.SubItems = map[string]SubItem{}
		}
		for k := range h.SubItems {
			if !validSubItem(s, k) {
				delete(h.SubItems, k)
			}
		}
		h.recompute()
	}
	for _, s := range []Section{SectionUsers, SectionSuppliers, SectionReturns} {
		f := st.flat(s)
		if f.Counters == nil {
			f.Counters = map[string]uint64{}
		}
		for k := range f.Counters {
			if !validCounter(s, k) {
				delete(f.Counters, k)
			}
		}
	}
	if st.Warehouse.Warehouses == nil {
		st.Warehouse.Warehouses = map[string]Location{}
	}
}

func (st *State) hier(s Section) *HierSection {
	switch s {
	case SectionReports:
		return &st.Reports
	case SectionLogs:
		return &st.Logs
	case SectionSystemActivity:
		return &st.SystemActivity
	default:
		return nil
	}
}

func (st *State) flat(s Section) *FlatSection {
	switch s {
	case SectionUsers:
		return &st.Users
	case SectionSuppliers:
		return &st.Suppliers
	case SectionReturns:
		return &st.Returns
	default:
		return nil
	}
}

// Clone returns a deep copy.
func (st State) Clone() State {
	out := st
	out.Reports = st.Reports.clone()
	out.Logs = st.Logs.clone()
	out.SystemActivity = st.SystemActivity.clone()
	out.Warehouse = st.Warehouse.clone()
	out.Users = st.Users.clone()
	out.Suppliers = st.Suppliers.clone()
	out.Returns = st.Returns.clone()
	return out
}

func (h HierSection) clone() HierSection {
	out := h
	out.LastUpdate = cloneTime(h.LastUpdate)
	out.SubItems = make(map[string]SubItem, len(h.SubItems))
	for k, v := range h.SubItems {
		out.SubItems[k] = v
	}
	return out
}

func (w WarehouseSection) clone() WarehouseSection {
	out := w
	out.LastUpdate = cloneTime(w.LastUpdate)
	out.Warehouses = make(map[string]Location, len(w.Warehouses))
	for k, v := range w.Warehouses {
		v.LastUpdate = cloneTime(v.LastUpdate)
		out.Warehouses[k] = v
	}
	return out
}

func (f FlatSection) clone() FlatSection {
	out := f
	out.LastUpdate = cloneTime(f.LastUpdate)
	out.Counters = make(map[string]uint64, len(f.Counters))
	for k, v := range f.Counters {
		out.Counters[k] = v
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func stamp(t time.Time) *time.Time {
	v := t
	return &v
}

// recompute restores the parent/child invariant.
func (h *HierSection) recompute() {
	has := h.OwnFlag
	count := h.OwnCount
	for _, it := range h.SubItems {
		if it.HasUpdates {
			has = true
		}
		count += it.Count
	}
	h.HasUpdates = has
	h.Count = count
}

func (h *HierSection) clear() {
	h.OwnFlag = false
	h.OwnCount = 0
	for k := range h.SubItems {
		h.SubItems[k] = SubItem{}
	}
	h.recompute()
}

func (w *WarehouseSection) total() uint64 {
	return w.LowStock + w.Expiring + w.OutOfStock + w.Expired
}

func (w *WarehouseSection) setTotal(kind string, v uint64) {
	switch kind {
	case AlertLowStock:
		w.LowStock = v
	case AlertExpiring:
		w.Expiring = v
	case AlertOutOfStock:
		w.OutOfStock = v
	case AlertExpired:
		w.Expired = v
	}
}

func (l *Location) set(kind string, v uint64) {
	switch kind {
	case AlertLowStock:
		l.LowStock = v
	case AlertExpiring:
		l.Expiring = v
	case AlertOutOfStock:
		l.OutOfStock = v
	case AlertExpired:
		l.Expired = v
	}
}

func (w *WarehouseSection) clear() {
	w.LowStock, w.Expiring, w.OutOfStock, w.Expired = 0, 0, 0, 0
	for id, loc := range w.Warehouses {
		loc.LowStock, loc.Expiring, loc.OutOfStock, loc.Expired = 0, 0, 0, 0
		w.Warehouses[id] = loc
	}
}

func (f *FlatSection) total() uint64 {
	var n uint64
	for _, v := range f.Counters {
		n += v
	}
	return n
}

func (f *FlatSection) clear() {
	for k := range f.Counters {
		f.Counters[k] = 0
	}
}

// totalFor applies the section-specific aggregation rule.
func (st *State) totalFor(s Section) uint64 {
	kind, ok := s.Kind()
	if !ok {
		return 0
	}
	switch kind {
	case KindHierarchical:
		return st.hier(s).Count
	case KindWarehouse:
		return st.Warehouse.total()
	default:
		return st.flat(s).total()
	}
}

func (st *State) hasAny() bool {
	for _, s := range Sections {
		kind, _ := s.Kind()
		if kind == KindHierarchical {
			if st.hier(s).HasUpdates {
				return true
			}
			continue
		}
		if st.totalFor(s) > 0 {
			return true
		}
	}
	return false
}

func (st *State) sectionState(s Section) SectionState {
	out := SectionState{Section: s, Total: st.totalFor(s)}
	kind, _ := s.Kind()
	switch kind {
	case KindHierarchical:
		h := st.hier(s).clone()
		out.Hierarchical = &h
	case KindWarehouse:
		w := st.Warehouse.clone()
		out.Warehouse = &w
	case KindFlat:
		f := st.flat(s).clone()
		out.Flat = &f
	}
	return out
}
