package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	logx "stockpulse/pkg/logx"
)

var ErrInvalid = errors.New("invalid config")

// Validate checks every field that can be checked without building components.
// All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalid)
	}
	var errs []error
	dur := func(path, raw string) {
		if _, err := ParseDuration(path, raw, 0); err != nil {
			errs = append(errs, err)
		}
	}

	if _, err := logx.ParseFormat(cfg.Logging.Format); err != nil {
		errs = append(errs, fmt.Errorf("logging.format: %w", err))
	}

	dur("http.read_timeout", cfg.HTTP.ReadTimeout)
	dur("http.write_timeout", cfg.HTTP.WriteTimeout)
	dur("http.shutdown_timeout", cfg.HTTP.ShutdownTimeout)
	dur("http.stream_ping", cfg.HTTP.StreamPing)

	dur("backend.timeout", cfg.Backend.Timeout)
	if cfg.Backend.RateLimit < 0 {
		errs = append(errs, errors.New("backend.rate_limit: must be >= 0"))
	}
	if cfg.Backend.Burst < 0 {
		errs = append(errs, errors.New("backend.burst: must be >= 0"))
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "memory", "file", "sqlite", "sqlite3":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		dur("storage.busy_timeout", s.BusyTimeout)
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	dur("scheduler.startup_spread", cfg.Scheduler.StartupSpread)

	for name, p := range cfg.Pollers {
		base := "pollers." + name
		iv, err := ParseDuration(base+".interval", p.Interval, 0)
		if err != nil {
			errs = append(errs, err)
		} else if iv > 0 && iv < time.Second {
			errs = append(errs, fmt.Errorf("%s.interval: must be >= 1s", base))
		}
		dur(base+".timeout", p.Timeout)
	}

	for sec, conv := range cfg.Notifications.Conventions {
		switch strings.ToLower(strings.TrimSpace(conv)) {
		case "increment", "replace":
		default:
			errs = append(errs, fmt.Errorf("notifications.conventions.%s: want increment or replace, got %q", sec, conv))
		}
	}
	dur("notifications.persist_timeout", cfg.Notifications.PersistTimeout)

	if d := cfg.Digest; d != nil {
		if d.Enabled && d.ChatID == 0 {
			errs = append(errs, errors.New("digest.chat_id: required when digest is enabled"))
		}
		if d.Enabled && strings.TrimSpace(cfg.Telegram.Token) == "" {
			errs = append(errs, errors.New("telegram.token: required when digest is enabled"))
		}
		dur("digest.retry_base", d.RetryBase)
		dur("digest.retry_max_delay", d.RetryMaxDelay)
		dur("digest.dedup_window", d.DedupWindow)
	}
	dur("telegram.poll_timeout", cfg.Telegram.PollTimeout)

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}
