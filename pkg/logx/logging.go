package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// Stdout formats.
const (
	FormatAuto    = ""
	FormatConsole = "console"
	FormatJSON    = "json"
)

const consoleTime = "15:04:05.000"

// Config selects the level, the stdout format and an optional JSON file sink.
type Config struct {
	Level string
	// Format is FormatConsole, FormatJSON or FormatAuto. Auto writes console
	// lines on a terminal and JSON lines under systemd or a container runtime.
	Format string
	// File appends JSON lines to this path when set.
	File string
}

// ParseFormat normalizes a configured format name.
func ParseFormat(raw string) (string, error) {
	switch f := strings.ToLower(strings.TrimSpace(raw)); f {
	case FormatAuto, FormatConsole, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown log format %q (want console or json)", raw)
	}
}

// Field adds one key to an event.
type Field func(e *zerolog.Event)

func String(k, v string) Field  { return func(e *zerolog.Event) { e.Str(k, v) } }
func Int(k string, v int) Field { return func(e *zerolog.Event) { e.Int(k, v) } }
func Int64(k string, v int64) Field {
	return func(e *zerolog.Event) { e.Int64(k, v) }
}
func Bool(k string, v bool) Field {
	return func(e *zerolog.Event) { e.Bool(k, v) }
}
func Duration(k string, v time.Duration) Field {
	return func(e *zerolog.Event) { e.Str(k, v.String()) }
}
func Time(k string, v time.Time) Field { return func(e *zerolog.Event) { e.Time(k, v) } }
func Any(k string, v any) Field        { return func(e *zerolog.Event) { e.Interface(k, v) } }
func Err(err error) Field {
	return func(e *zerolog.Event) {
		if err != nil {
			e.Err(err)
		}
	}
}

// Logger is passed by value. A Logger obtained from a Service follows every
// Service.Apply. The zero value discards everything.
type Logger struct {
	svc    *Service
	fixed  *zerolog.Logger
	fields []Field
}

// Nop returns a logger that never writes.
func Nop() Logger {
	zl := zerolog.Nop()
	return Logger{fixed: &zl}
}

// NewWriter returns a JSON logger writing to w.
func NewWriter(w io.Writer, level string) Logger {
	zl := zerolog.New(w).Level(parseLevel(level, zerolog.DebugLevel)).With().Timestamp().Logger()
	return Logger{fixed: &zl}
}

func (l Logger) IsZero() bool { return l.svc == nil && l.fixed == nil && len(l.fields) == 0 }

func (l Logger) root() *zerolog.Logger {
	switch {
	case l.svc != nil:
		return l.svc.load()
	case l.fixed != nil:
		return l.fixed
	default:
		return &nopLogger
	}
}

var nopLogger = zerolog.Nop()

func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	cp := l
	cp.fields = append(append([]Field(nil), l.fields...), fields...)
	return cp
}

func (l Logger) Trace(msg string, fields ...Field) { l.emit(l.root().Trace(), msg, fields) }
func (l Logger) Debug(msg string, fields ...Field) { l.emit(l.root().Debug(), msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.emit(l.root().Info(), msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.emit(l.root().Warn(), msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.emit(l.root().Error(), msg, fields) }

// emit is called directly from the level methods; the caller skip depends on it.
func (l Logger) emit(e *zerolog.Event, msg string, fields []Field) {
	if e == nil {
		return
	}
	e = e.Caller(2)
	for _, f := range l.fields {
		if f != nil {
			f(e)
		}
	}
	for _, f := range fields {
		if f != nil {
			f(e)
		}
	}
	e.Msg(msg)
}

func init() {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.CallerMarshalFunc = func(_ uintptr, file string, line int) string {
		return filepath.Base(file) + ":" + strconv.Itoa(line)
	}
}

// Service owns the process-wide sinks and swaps them on Apply.
type Service struct {
	mu     sync.Mutex
	stdout io.Writer
	file   *os.File
	root   atomic.Pointer[zerolog.Logger]
}

// New builds the logging service from cfg and returns its live root logger.
func New(cfg Config) (*Service, Logger) {
	s := &Service{stdout: os.Stdout}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) load() *zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return zl
	}
	return &nopLogger
}

// Apply rebuilds the sinks. Safe to call while other goroutines log.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	writers := []io.Writer{s.stdoutWriter(cfg.Format)}
	if path := strings.TrimSpace(cfg.File); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			fmt.Fprintf(os.Stderr, "stockpulse: open log file %q: %v\n", path, err)
		} else {
			s.file = f
			writers = append(writers, zerolog.SyncWriter(f))
		}
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Str("app", "stockpulse").Logger()
	s.root.Store(&zl)
}

func (s *Service) stdoutWriter(format string) io.Writer {
	f, err := ParseFormat(format)
	if err != nil {
		f = FormatAuto
	}
	if f == FormatAuto {
		f = FormatJSON
		if out, ok := s.stdout.(*os.File); ok && (isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd())) {
			f = FormatConsole
		}
	}
	if f == FormatJSON {
		return s.stdout
	}
	return zerolog.ConsoleWriter{
		Out:           s.stdout,
		TimeFormat:    consoleTime,
		FieldsExclude: []string{"app"},
		FormatCaller: func(i any) string {
			c, _ := i.(string)
			return c
		},
	}
}

func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()
	if f != nil {
		return f.Close()
	}
	return nil
}

func parseLevel(s string, def zerolog.Level) zerolog.Level {
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	if strings.EqualFold(s, "warning") {
		return zerolog.WarnLevel
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || lvl == zerolog.NoLevel {
		return def
	}
	return lvl
}
