package poll

import (
	"encoding/json"
	"fmt"
	"time"

	"stockpulse/internal/notify"
)

// Poller names.
const (
	PollerWarehouse = "warehouse"
	PollerReports   = "reports"
	PollerLogs      = "logs"
	PollerSales     = "sales"
	PollerSystem    = "system"
	PollerReturns   = "returns"
)

// Backend domains.
const (
	DomainInventoryAlerts = "inventory_alerts"
	DomainReports         = "reports"
	DomainLogs            = "logs"
	DomainSalesActivity   = "sales_activity"
	DomainProducts        = "products"
	DomainCategories      = "categories"
	DomainSuppliers       = "suppliers"
	DomainUsers           = "users"
	DomainStockMovements  = "stock_movements"
	DomainReturnRequests  = "return_requests"
)

const activityWindowHours = 24

// DefaultDefinitions returns the six built-in pollers. Every (domain, metric)
// pair belongs to exactly one of them.
func DefaultDefinitions() []Definition {
	return []Definition{
		{
			Name:     PollerWarehouse,
			Interval: 3 * time.Minute,
			Queries:  []Query{{Domain: DomainInventoryAlerts}},
			Decode:   decodeInventoryAlerts,
		},
		{
			Name:     PollerReports,
			Interval: 5 * time.Minute,
			Queries:  []Query{{Domain: DomainReports, SinceBaseline: true}},
			Decode:   decodeReports,
		},
		{
			Name:     PollerLogs,
			Interval: 2 * time.Minute,
			Queries:  []Query{{Domain: DomainLogs, SinceBaseline: true}},
			Decode:   decodeLogs,
		},
		{
			Name:     PollerSales,
			Interval: 30 * time.Second,
			Queries:  []Query{{Domain: DomainSalesActivity, WindowHours: activityWindowHours}},
			Decode:   decodeSalesActivity,
		},
		{
			Name:     PollerSystem,
			Interval: 10 * time.Minute,
			Queries: []Query{
				{Domain: DomainProducts, WindowHours: activityWindowHours},
				{Domain: DomainCategories, WindowHours: activityWindowHours},
				{Domain: DomainSuppliers, WindowHours: activityWindowHours},
				{Domain: DomainUsers, WindowHours: activityWindowHours},
				{Domain: DomainStockMovements, WindowHours: activityWindowHours},
			},
			Decode:       decodeSystem,
			SystemSignal: true,
		},
		{
			Name:     PollerReturns,
			Interval: 2 * time.Minute,
			Queries:  []Query{{Domain: DomainReturnRequests}},
			Decode:   decodeReturnRequests,
		},
	}
}

func hier(section notify.Section, key string, v uint64) Reading {
	return Reading{Value: v, Target: notify.Target{Section: section, Key: key}}
}

func decode(domain string, data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return fmt.Errorf("%s: empty data", domain)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s: %w", domain, err)
	}
	return nil
}

type alertCounts struct {
	LowStock   uint64 `json:"lowStock"`
	Expiring   uint64 `json:"expiring"`
	OutOfStock uint64 `json:"outOfStock"`
	Expired    uint64 `json:"expired"`
}

func (a alertCounts) byKind() map[string]uint64 {
	return map[string]uint64{
		notify.AlertLowStock:   a.LowStock,
		notify.AlertExpiring:   a.Expiring,
		notify.AlertOutOfStock: a.OutOfStock,
		notify.AlertExpired:    a.Expired,
	}
}

// inventory_alerts: {"totals":{...},"warehouses":[{"id","name",...counts}]}
func decodeInventoryAlerts(domain string, data json.RawMessage) ([]Reading, error) {
	var p struct {
		Totals     alertCounts `json:"totals"`
		Warehouses []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
			alertCounts
		} `json:"warehouses"`
	}
	if err := decode(domain, data, &p); err != nil {
		return nil, err
	}
	var out []Reading
	for _, kind := range notify.AlertKinds {
		out = append(out, Reading{
			Value:  p.Totals.byKind()[kind],
			Target: notify.Target{Section: notify.SectionWarehouse, Key: kind},
		})
	}
	for _, w := range p.Warehouses {
		if w.ID == "" {
			continue
		}
		counts := w.alertCounts.byKind()
		for _, kind := range notify.AlertKinds {
			out = append(out, Reading{
				Value: counts[kind],
				Target: notify.Target{
					Section:      notify.SectionWarehouse,
					Key:          kind,
					LocationID:   w.ID,
					LocationName: w.Name,
				},
			})
		}
	}
	return out, nil
}

// reports: {"sales":n,"stockIn":n,"stockOut":n,"inventory":n,"returns":n}
func decodeReports(domain string, data json.RawMessage) ([]Reading, error) {
	var p struct {
		Sales     uint64 `json:"sales"`
		StockIn   uint64 `json:"stockIn"`
		StockOut  uint64 `json:"stockOut"`
		Inventory uint64 `json:"inventory"`
		Returns   uint64 `json:"returns"`
	}
	if err := decode(domain, data, &p); err != nil {
		return nil, err
	}
	return []Reading{
		hier(notify.SectionReports, notify.ReportSales, p.Sales),
		hier(notify.SectionReports, notify.ReportStockIn, p.StockIn),
		hier(notify.SectionReports, notify.ReportStockOut, p.StockOut),
		hier(notify.SectionReports, notify.ReportInventory, p.Inventory),
		hier(notify.SectionReports, notify.ReportReturns, p.Returns),
	}, nil
}

// logs: {"logins":n,"activity":n,"failedLogins":n,"activeUsers":n}
func decodeLogs(domain string, data json.RawMessage) ([]Reading, error) {
	var p struct {
		Logins       uint64 `json:"logins"`
		Activity     uint64 `json:"activity"`
		FailedLogins uint64 `json:"failedLogins"`
		ActiveUsers  uint64 `json:"activeUsers"`
	}
	if err := decode(domain, data, &p); err != nil {
		return nil, err
	}
	return []Reading{
		hier(notify.SectionLogs, notify.LogLogins, p.Logins),
		hier(notify.SectionLogs, notify.LogActivity, p.Activity),
		hier(notify.SectionLogs, notify.LogFailedLogins, p.FailedLogins),
		{Value: p.ActiveUsers, Target: notify.Target{Section: notify.SectionUsers, Key: notify.CounterActiveUsers}},
	}, nil
}

type countPayload struct {
	Count uint64 `json:"count"`
}

// sales_activity: {"count":n}
func decodeSalesActivity(domain string, data json.RawMessage) ([]Reading, error) {
	var p countPayload
	if err := decode(domain, data, &p); err != nil {
		return nil, err
	}
	return []Reading{hier(notify.SectionSystemActivity, notify.ActivitySales, p.Count)}, nil
}

// decodeSystem handles every domain of the system poller.
//
//	products, categories, stock_movements: {"count":n}
//	suppliers: {"count":n,"new":n,"updated":n}
//	users:     {"count":n,"new":n}
func decodeSystem(domain string, data json.RawMessage) ([]Reading, error) {
	var p struct {
		Count   uint64 `json:"count"`
		New     uint64 `json:"new"`
		Updated uint64 `json:"updated"`
	}
	if err := decode(domain, data, &p); err != nil {
		return nil, err
	}
	switch domain {
	case DomainProducts:
		return []Reading{hier(notify.SectionSystemActivity, notify.ActivityProducts, p.Count)}, nil
	case DomainCategories:
		return []Reading{hier(notify.SectionSystemActivity, notify.ActivityCategories, p.Count)}, nil
	case DomainSuppliers:
		return []Reading{
			hier(notify.SectionSystemActivity, notify.ActivitySuppliers, p.Count),
			{Value: p.New, Target: notify.Target{Section: notify.SectionSuppliers, Key: notify.CounterNewSuppliers}},
			{Value: p.Updated, Target: notify.Target{Section: notify.SectionSuppliers, Key: notify.CounterUpdatedSuppliers}},
		}, nil
	case DomainUsers:
		return []Reading{
			hier(notify.SectionSystemActivity, notify.ActivityUsers, p.Count),
			{Value: p.New, Target: notify.Target{Section: notify.SectionUsers, Key: notify.CounterNewUsers}},
		}, nil
	case DomainStockMovements:
		return []Reading{{Metric: DomainStockMovements, Value: p.Count, SystemOnly: true}}, nil
	default:
		return nil, fmt.Errorf("system poller: unexpected domain %q", domain)
	}
}

// return_requests: {"pending":n,"processed":n,"total":n}
func decodeReturnRequests(domain string, data json.RawMessage) ([]Reading, error) {
	var p struct {
		Pending   uint64 `json:"pending"`
		Processed uint64 `json:"processed"`
		Total     uint64 `json:"total"`
	}
	if err := decode(domain, data, &p); err != nil {
		return nil, err
	}
	return []Reading{
		{Value: p.Pending, Target: notify.Target{Section: notify.SectionReturns, Key: notify.CounterPending}},
		{Value: p.Processed, Target: notify.Target{Section: notify.SectionReturns, Key: notify.CounterProcessed}},
		hier(notify.SectionSystemActivity, notify.ActivityReturns, p.Total),
	}, nil
}
