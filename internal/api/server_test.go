package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockpulse/internal/eventbus"
	"stockpulse/internal/metrics"
	"stockpulse/internal/notify"
	"stockpulse/internal/view"
	logx "stockpulse/pkg/logx"
)

type fixture struct {
	agg *notify.Aggregator
	srv *httptest.Server
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	bus := eventbus.New()
	agg := notify.New(nil, notify.NewState(), notify.SystemUpdateFlag{}, notify.Options{Bus: bus})
	s := New(Config{StreamPing: time.Second}, view.New(agg, bus), metrics.New(), logx.Nop())
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return fixture{agg: agg, srv: srv}
}

func (f fixture) do(t *testing.T, method, path string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp.StatusCode, body
}

func TestReadEndpoints(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.agg.AddIncrementalNotification(notify.SectionReports, notify.ReportSales, 3, ""))
	require.NoError(t, f.agg.AddIncrementalNotification(notify.SectionReports, notify.ReportStockIn, 2, ""))

	code, body := f.do(t, http.MethodGet, "/api/notifications/any")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["hasAny"])

	code, body = f.do(t, http.MethodGet, "/api/notifications/reports/total")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 5.0, body["total"])

	code, body = f.do(t, http.MethodGet, "/api/notifications/reports/items/Sales%20Report")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["flagged"])

	code, body = f.do(t, http.MethodGet, "/api/notifications/reports")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "reports", body["section"])

	code, body = f.do(t, http.MethodGet, "/api/notifications")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 5.0, body["totals"].(map[string]any)["reports"])
}

func TestAckEndpoints(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.agg.AddIncrementalNotification(notify.SectionReports, notify.ReportSales, 3, ""))
	require.NoError(t, f.agg.AddIncrementalNotification(notify.SectionReports, notify.ReportStockIn, 2, ""))

	code, body := f.do(t, http.MethodPost, "/api/notifications/reports/items/Sales%20Report/ack")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2.0, body["total"])

	code, _ = f.do(t, http.MethodPost, "/api/notifications/reports/ack")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, uint64(0), f.agg.TotalFor(notify.SectionReports))

	f.agg.SetSystemUpdate(true, 1)
	code, body = f.do(t, http.MethodPost, "/api/notifications/clear")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["hasAny"])
}

func TestErrorMapping(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodGet, "/api/notifications/bogus")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, body["error"], "unknown section")

	code, _ = f.do(t, http.MethodPost, "/api/notifications/reports/items/Ghost/ack")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = f.do(t, http.MethodPost, "/api/notifications/bogus/ack")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStreamSendsSnapshotThenChanges(t *testing.T) {
	f := newFixture(t)
	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/api/notifications/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var first StreamMessage
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "snapshot", first.Type)
	assert.False(t, first.Snapshot.HasAny)

	require.NoError(t, f.agg.MergeSystemActivity(notify.ActivityProducts, true, 4))

	var next StreamMessage
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, "change", next.Type)
	require.NotNil(t, next.Change)
	assert.Equal(t, notify.OpMerge, next.Change.Op)
	assert.Equal(t, uint64(4), next.Snapshot.Totals[notify.SectionSystemActivity])
}

func TestServeShutsDownOnCancel(t *testing.T) {
	bus := eventbus.New()
	agg := notify.New(nil, notify.NewState(), notify.SystemUpdateFlag{}, notify.Options{Bus: bus})
	s := New(Config{Addr: "127.0.0.1:0"}, view.New(agg, bus), nil, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
