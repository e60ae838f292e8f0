package notify

import (
	"errors"
	"time"
)

var (
	ErrUnknownSection     = errors.New("unknown section")
	ErrUnknownSubItem     = errors.New("unknown sub-item")
	ErrUnknownCounter     = errors.New("unknown counter")
	ErrNotHierarchical    = errors.New("section has no sub-items")
	ErrConventionMismatch = errors.New("update convention mismatch")
)

// Section is a top-level notification category.
type Section string

const (
	SectionReports        Section = "reports"
	SectionLogs           Section = "logs"
	SectionWarehouse      Section = "warehouse"
	SectionUsers          Section = "users"
	SectionSuppliers      Section = "suppliers"
	SectionReturns        Section = "returns"
	SectionSystemActivity Section = "systemActivity"
)

// Sections lists every section in display order.
var Sections = []Section{
	SectionReports,
	SectionLogs,
	SectionWarehouse,
	SectionUsers,
	SectionSuppliers,
	SectionReturns,
	SectionSystemActivity,
}

// Kind describes the shape of a section's state.
type Kind int

const (
	KindHierarchical Kind = iota
	KindWarehouse
	KindFlat
)

func (s Section) Kind() (Kind, bool) {
	switch s {
	case SectionReports, SectionLogs, SectionSystemActivity:
		return KindHierarchical, true
	case SectionWarehouse:
		return KindWarehouse, true
	case SectionUsers, SectionSuppliers, SectionReturns:
		return KindFlat, true
	default:
		return 0, false
	}
}

// ParseSection maps a wire name to a Section.
func ParseSection(raw string) (Section, error) {
	s := Section(raw)
	if _, ok := s.Kind(); !ok {
		return "", ErrUnknownSection
	}
	return s, nil
}

// Report sub-items.
const (
	ReportSales     = "Sales Report"
	ReportStockIn   = "Stock In Report"
	ReportStockOut  = "Stock Out Report"
	ReportInventory = "Inventory Report"
	ReportReturns   = "Returns Report"
)

// Log sub-items.
const (
	LogLogins       = "Login Logs"
	LogActivity     = "Activity Logs"
	LogFailedLogins = "Failed Logins"
)

// System activity sub-items.
const (
	ActivityProducts   = "products"
	ActivityCategories = "categories"
	ActivitySuppliers  = "suppliers"
	ActivityUsers      = "users"
	ActivitySales      = "sales"
	ActivityReturns    = "returns"
)

// Flat counter names.
const (
	CounterNewUsers         = "newUsers"
	CounterActiveUsers      = "activeUsers"
	CounterNewSuppliers     = "newSuppliers"
	CounterUpdatedSuppliers = "updatedSuppliers"
	CounterPending          = "pending"
	CounterProcessed        = "processed"
)

// Warehouse alert kinds.
const (
	AlertLowStock   = "lowStock"
	AlertExpiring   = "expiring"
	AlertOutOfStock = "outOfStock"
	AlertExpired    = "expired"
)

var subItemKeys = map[Section][]string{
	SectionReports:        {ReportSales, ReportStockIn, ReportStockOut, ReportInventory, ReportReturns},
	SectionLogs:           {LogLogins, LogActivity, LogFailedLogins},
	SectionSystemActivity: {ActivityProducts, ActivityCategories, ActivitySuppliers, ActivityUsers, ActivitySales, ActivityReturns},
}

var counterNames = map[Section][]string{
	SectionUsers:     {CounterNewUsers, CounterActiveUsers},
	SectionSuppliers: {CounterNewSuppliers, CounterUpdatedSuppliers},
	SectionReturns:   {CounterPending, CounterProcessed},
}

// AlertKinds lists the warehouse alert kinds.
var AlertKinds = []string{AlertLowStock, AlertExpiring, AlertOutOfStock, AlertExpired}

// SubItemKeys returns the fixed sub-item keys of a hierarchical section.
func SubItemKeys(s Section) []string {
	return append([]string(nil), subItemKeys[s]...)
}

// CounterNames returns the counter names of a flat section.
func CounterNames(s Section) []string {
	return append([]string(nil), counterNames[s]...)
}

func validSubItem(s Section, key string) bool {
	for _, k := range subItemKeys[s] {
		if k == key {
			return true
		}
	}
	return false
}

func validCounter(s Section, name string) bool {
	for _, k := range counterNames[s] {
		if k == name {
			return true
		}
	}
	return false
}

func validAlert(kind string) bool {
	for _, k := range AlertKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Convention is the update rule a hierarchical section follows.
type Convention string

const (
	// Increment adds each reported delta to the stored count.
	Increment Convention = "increment"
	// Replace overwrites the stored count with the reported absolute value.
	Replace Convention = "replace"
)

// DefaultConventions is the per-section rule used unless configured otherwise.
func DefaultConventions() map[Section]Convention {
	return map[Section]Convention{
		SectionReports:        Increment,
		SectionLogs:           Increment,
		SectionSystemActivity: Replace,
	}
}

// SubItem is one named child of a hierarchical section.
type SubItem struct {
	HasUpdates bool   `json:"hasUpdates"`
	Count      uint64 `json:"count"`
}

// HierSection is the state of reports, logs and systemActivity.
//
// HasUpdates and Count are derived: HasUpdates = OwnFlag || any sub-item flagged,
// Count = OwnCount + sum of sub-item counts.
type HierSection struct {
	OwnFlag    bool               `json:"ownFlag"`
	OwnCount   uint64             `json:"ownCount"`
	HasUpdates bool               `json:"hasUpdates"`
	Count      uint64             `json:"count"`
	LastUpdate *time.Time         `json:"lastUpdate,omitempty"`
	SubItems   map[string]SubItem `json:"subItems"`
}

// Location is one warehouse entry.
type Location struct {
	Name       string     `json:"name"`
	LowStock   uint64     `json:"lowStock"`
	Expiring   uint64     `json:"expiring"`
	OutOfStock uint64     `json:"outOfStock"`
	Expired    uint64     `json:"expired"`
	LastUpdate *time.Time `json:"lastUpdate,omitempty"`
}

// WarehouseSection holds warehouse alert totals plus per-location detail.
type WarehouseSection struct {
	LowStock   uint64              `json:"lowStock"`
	Expiring   uint64              `json:"expiring"`
	OutOfStock uint64              `json:"outOfStock"`
	Expired    uint64              `json:"expired"`
	Warehouses map[string]Location `json:"warehouses"`
	LastUpdate *time.Time          `json:"lastUpdate,omitempty"`
}

// WarehouseTotals are the flat totals replaced by MergeWarehouseUpdate.
type WarehouseTotals struct {
	LowStock   uint64 `json:"lowStock"`
	Expiring   uint64 `json:"expiring"`
	OutOfStock uint64 `json:"outOfStock"`
	Expired    uint64 `json:"expired"`
}

// FlatSection holds named counters for users, suppliers and returns.
type FlatSection struct {
	Counters   map[string]uint64 `json:"counters"`
	LastUpdate *time.Time        `json:"lastUpdate,omitempty"`
}

// State is the full notification tree. It is persisted as one blob.
type State struct {
	Reports        HierSection      `json:"reports"`
	Logs           HierSection      `json:"logs"`
	SystemActivity HierSection      `json:"systemActivity"`
	Warehouse      WarehouseSection `json:"warehouse"`
	Users          FlatSection      `json:"users"`
	Suppliers      FlatSection      `json:"suppliers"`
	Returns        FlatSection      `json:"returns"`
}

// SystemUpdateFlag is the coarse "anything changed recently" signal.
// It is persisted separately from State.
type SystemUpdateFlag struct {
	HasUpdates bool       `json:"hasUpdates"`
	Count      uint64     `json:"count"`
	LastCheck  *time.Time `json:"lastCheck,omitempty"`
}

// SectionState is a read-only copy of one section. Exactly one of the
// pointers is set, matching the section's Kind.
type SectionState struct {
	Section      Section           `json:"section"`
	Hierarchical *HierSection      `json:"hierarchical,omitempty"`
	Warehouse    *WarehouseSection `json:"warehouse,omitempty"`
	Flat         *FlatSection      `json:"flat,omitempty"`
	Total        uint64            `json:"total"`
}
