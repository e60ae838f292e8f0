// Package backend is the outward query contract the pollers use to read
// domain counts from the inventory backend.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"stockpulse/internal/metrics"
	logx "stockpulse/pkg/logx"
)

var (
	// ErrRejected is returned when the backend answers with success=false.
	ErrRejected  = errors.New("backend rejected query")
	ErrNoBaseURL = errors.New("backend base url is empty")
)

const queryPath = "/notifications/query"

// Request selects one domain. Since and WindowHours are optional filters.
type Request struct {
	Domain      string     `json:"domain"`
	Since       *time.Time `json:"since,omitempty"`
	WindowHours int        `json:"windowHours,omitempty"`
}

// Response is the envelope every domain query answers with.
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// Querier runs one domain query and returns the raw data payload.
type Querier interface {
	Query(ctx context.Context, req Request) (json.RawMessage, error)
}

type Config struct {
	BaseURL string
	Token   string
	// Timeout bounds a whole request when the caller's context has no deadline.
	Timeout time.Duration
	// RateLimit is the outbound request budget per second; 0 disables limiting.
	RateLimit float64
	Burst     int
}

type Client struct {
	base    string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
	m       *metrics.Metrics
}

func New(cfg Config, log logx.Logger, m *metrics.Metrics) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, ErrNoBaseURL
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	var lim *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return &Client{
		base:    base,
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
		limiter: lim,
		log:     log.With(logx.String("comp", "backend")),
		m:       m,
	}, nil
}

func (c *Client) Query(ctx context.Context, req Request) (json.RawMessage, error) {
	data, err := c.query(ctx, req)
	switch {
	case err == nil:
		c.m.BackendRequest(req.Domain, "ok")
	case errors.Is(err, ErrRejected):
		c.m.BackendRequest(req.Domain, "rejected")
	default:
		c.m.BackendRequest(req.Domain, "error")
	}
	return data, err
}

func (c *Client) query(ctx context.Context, req Request) (json.RawMessage, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal %s query: %w", req.Domain, err)
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+queryPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s query: %w", req.Domain, err)
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "application/json")
	if c.token != "" {
		hreq.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", req.Domain, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("query %s: status %d: %s", req.Domain, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out Response
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", req.Domain, err)
	}
	if !out.Success {
		return nil, fmt.Errorf("%w: %s: %s", ErrRejected, req.Domain, out.Message)
	}

	c.log.Trace("query ok", logx.String("domain", req.Domain), logx.Duration("took", time.Since(start)))
	return out.Data, nil
}
