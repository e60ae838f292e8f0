package api

import (
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"runtime"
	"strings"

	"github.com/go-chi/chi/v5"

	logx "stockpulse/pkg/logx"
)

// DebugConfig mounts net/http/pprof under /debug/pprof.
//
// A non-loopback Addr requires Token; otherwise the routes are not mounted.
type DebugConfig struct {
	Enabled bool
	Token   string

	// Runtime profiling rates. 0 keeps the Go default.
	MutexProfileFraction int
	BlockProfileRate     int
}

func (s *Server) mountDebug(r chi.Router) {
	d := s.cfg.Debug
	if !d.Enabled {
		return
	}
	tok := strings.TrimSpace(d.Token)
	if tok == "" && !isLoopbackAddr(s.cfg.Addr) {
		s.log.Error("pprof refused: non-loopback addr requires a token", logx.String("addr", s.cfg.Addr))
		return
	}
	if d.MutexProfileFraction > 0 {
		runtime.SetMutexProfileFraction(d.MutexProfileFraction)
	}
	if d.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(d.BlockProfileRate)
	}

	r.Route("/debug/pprof", func(r chi.Router) {
		r.Use(bearerAuth(tok))
		r.HandleFunc("/cmdline", hpprof.Cmdline)
		r.HandleFunc("/profile", hpprof.Profile)
		r.HandleFunc("/symbol", hpprof.Symbol)
		r.HandleFunc("/trace", hpprof.Trace)
		// Index also serves the named profiles (heap, goroutine, ...).
		r.HandleFunc("/*", hpprof.Index)
	})
	s.log.Info("pprof enabled", logx.Bool("token_set", tok != ""))
}

// bearerAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
// An empty token disables the check.
func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.URL.Query().Get("token")
			if got == "" {
				ah := r.Header.Get("Authorization")
				if after, ok := strings.CutPrefix(ah, "Bearer "); ok {
					got = strings.TrimSpace(after)
				}
			}
			if got != token {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// all interfaces
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
