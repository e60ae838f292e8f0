package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "stockpulse/pkg/logx"
)

func TestQuerySendsContractAndReturnsData(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/notifications/query", r.URL.Path)
		assert.Equal(t, "Bearer s3cret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"success":true,"data":{"count":4},"message":""}`))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL + "/api/", Token: "s3cret"}, logx.Nop(), nil)
	require.NoError(t, err)

	data, err := c.Query(context.Background(), Request{Domain: "sales_activity", WindowHours: 24})
	require.NoError(t, err)
	assert.JSONEq(t, `{"count":4}`, string(data))
	assert.Equal(t, "sales_activity", got.Domain)
	assert.Equal(t, 24, got.WindowHours)
	assert.Nil(t, got.Since)
}

func TestQueryRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"message":"unknown domain"}`))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL}, logx.Nop(), nil)
	require.NoError(t, err)
	_, err = c.Query(context.Background(), Request{Domain: "nope"})
	assert.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "unknown domain")
}

func TestQueryHTTPErrorAndMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Domain == "broken" {
			_, _ = w.Write([]byte(`{not json`))
			return
		}
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL}, logx.Nop(), nil)
	require.NoError(t, err)

	_, err = c.Query(context.Background(), Request{Domain: "logs"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")

	_, err = c.Query(context.Background(), Request{Domain: "broken"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRejected)
}

func TestQueryHonoursContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL}, logx.Nop(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Query(ctx, Request{Domain: "products"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(Config{}, logx.Nop(), nil)
	assert.ErrorIs(t, err, ErrNoBaseURL)
}
