package poll

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockpulse/internal/notify"
)

func TestEachDomainMetricHasOneOwner(t *testing.T) {
	owner := map[string]string{}
	for _, d := range DefaultDefinitions() {
		for _, q := range d.Queries {
			prev, dup := owner[q.Domain]
			assert.False(t, dup, "%s polled by %s and %s", q.Domain, prev, d.Name)
			owner[q.Domain] = d.Name
		}
	}
	assert.Equal(t, PollerSales, owner[DomainSalesActivity])
	assert.Len(t, DefaultDefinitions(), 6)
}

func TestDecodeInventoryAlerts(t *testing.T) {
	data := json.RawMessage(`{"totals":{"lowStock":4,"expired":1},
		"warehouses":[{"id":"w1","name":"Main","lowStock":4,"expired":1},{"name":"no id","lowStock":9}]}`)
	rs, err := decodeInventoryAlerts(DomainInventoryAlerts, data)
	require.NoError(t, err)
	require.Len(t, rs, 8)

	byKey := map[string]Reading{}
	for _, r := range rs {
		byKey[r.key()] = r
	}
	assert.Equal(t, uint64(4), byKey["warehouse/lowStock"].Value)
	assert.Equal(t, uint64(1), byKey["warehouse/w1/expired"].Value)
	assert.Equal(t, "Main", byKey["warehouse/w1/expired"].Target.LocationName)
}

func TestDecodeSystemDomains(t *testing.T) {
	rs, err := decodeSystem(DomainSuppliers, json.RawMessage(`{"count":3,"new":2,"updated":1}`))
	require.NoError(t, err)
	require.Len(t, rs, 3)
	assert.Equal(t, notify.Target{Section: notify.SectionSuppliers, Key: notify.CounterNewSuppliers}, rs[1].Target)

	rs, err = decodeSystem(DomainStockMovements, json.RawMessage(`{"count":3}`))
	require.NoError(t, err)
	assert.True(t, rs[0].SystemOnly)

	_, err = decodeSystem(DomainSalesActivity, json.RawMessage(`{"count":3}`))
	assert.Error(t, err)
}

func TestDecodeRejectsEmptyData(t *testing.T) {
	_, err := decodeReturnRequests(DomainReturnRequests, nil)
	assert.Error(t, err)
	_, err = decodeLogs(DomainLogs, json.RawMessage(`null`))
	assert.Error(t, err)
}
