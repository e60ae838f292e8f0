// Package api serves the notification view over HTTP and WebSocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"stockpulse/internal/metrics"
	"stockpulse/internal/notify"
	"stockpulse/internal/view"
	logx "stockpulse/pkg/logx"
)

type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// StreamPing is the websocket keepalive interval.
	StreamPing time.Duration
	Debug      DebugConfig
}

type Server struct {
	cfg     Config
	binding *view.Binding
	m       *metrics.Metrics
	log     logx.Logger
	router  chi.Router
}

func New(cfg Config, binding *view.Binding, m *metrics.Metrics, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	if cfg.StreamPing <= 0 {
		cfg.StreamPing = 30 * time.Second
	}
	s := &Server{
		cfg:     cfg,
		binding: binding,
		m:       m,
		log:     log.With(logx.String("comp", "api")),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", s.m.Handler())

	r.Route("/api/notifications", func(r chi.Router) {
		r.Get("/", s.handleSnapshot)
		r.Get("/any", s.handleHasAny)
		r.Get("/stream", s.handleStream)
		r.Post("/clear", s.handleClearAll)

		r.Route("/{section}", func(r chi.Router) {
			r.Get("/", s.handleSection)
			r.Get("/total", s.handleTotal)
			r.Post("/ack", s.handleAck)
			r.Get("/items/{item}", s.handleItemFlagged)
			r.Post("/items/{item}/ack", s.handleItemAck)
		})
	})
	s.mountDebug(r)
	return r
}

func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.log.Info("http listening", logx.String("addr", ln.Addr().String()))

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	err := srv.Shutdown(sctx)
	s.log.Info("http stopped")
	return err
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("took", time.Since(start)),
			logx.String("req_id", middleware.GetReqID(r.Context())),
		)
	})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErr maps notify errors onto HTTP status codes.
func writeErr(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, notify.ErrUnknownSection),
		errors.Is(err, notify.ErrUnknownSubItem),
		errors.Is(err, notify.ErrUnknownCounter):
		code = http.StatusNotFound
	case errors.Is(err, notify.ErrConventionMismatch),
		errors.Is(err, notify.ErrNotHierarchical):
		code = http.StatusBadRequest
	}
	writeJSON(w, code, errorBody{Error: err.Error()})
}
