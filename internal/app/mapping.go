package app

import (
	"fmt"
	"strings"
	"time"

	"stockpulse/internal/api"
	"stockpulse/internal/backend"
	"stockpulse/internal/config"
	"stockpulse/internal/digest"
	"stockpulse/internal/notify"
	"stockpulse/internal/poll"
	"stockpulse/internal/storage"
	"stockpulse/internal/transport"
	"stockpulse/internal/transport/telegram"
	logx "stockpulse/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	}
}

// mapStorageConfig returns enabled=false when state should stay in memory only.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "memory":
		return storage.Config{Driver: driver}, true, nil
	case "file":
		return storage.Config{Driver: driver, Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDuration("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapBackendConfig(cfg *config.Config) (backend.Config, error) {
	b := cfg.Backend
	timeout, err := config.ParseDuration("backend.timeout", b.Timeout, poll.DefaultQueryTimeout)
	if err != nil {
		return backend.Config{}, err
	}
	return backend.Config{
		BaseURL:   strings.TrimSpace(b.BaseURL),
		Token:     strings.TrimSpace(b.Token),
		Timeout:   timeout,
		RateLimit: b.RateLimit,
		Burst:     b.Burst,
	}, nil
}

func mapHTTPConfig(cfg *config.Config) (api.Config, error) {
	h := cfg.HTTP
	out := api.Config{
		Addr: strings.TrimSpace(h.Addr),
		Debug: api.DebugConfig{
			Enabled:              h.Debug.Enabled,
			Token:                strings.TrimSpace(h.Debug.Token),
			MutexProfileFraction: h.Debug.MutexProfileFraction,
			BlockProfileRate:     h.Debug.BlockProfileRate,
		},
	}
	if out.Addr == "" {
		out.Addr = ":8080"
	}
	var err error
	if out.ReadTimeout, err = config.ParseDuration("http.read_timeout", h.ReadTimeout, 10*time.Second); err != nil {
		return api.Config{}, err
	}
	if out.WriteTimeout, err = config.ParseDuration("http.write_timeout", h.WriteTimeout, 15*time.Second); err != nil {
		return api.Config{}, err
	}
	if out.ShutdownTimeout, err = config.ParseDuration("http.shutdown_timeout", h.ShutdownTimeout, 5*time.Second); err != nil {
		return api.Config{}, err
	}
	if out.StreamPing, err = config.ParseDuration("http.stream_ping", h.StreamPing, 30*time.Second); err != nil {
		return api.Config{}, err
	}
	return out, nil
}

func mapSchedulerConfig(cfg *config.Config) (poll.SchedulerConfig, error) {
	spread, err := config.ParseDuration("scheduler.startup_spread", cfg.Scheduler.StartupSpread, 0)
	if err != nil {
		return poll.SchedulerConfig{}, err
	}
	return poll.SchedulerConfig{Timezone: strings.TrimSpace(cfg.Scheduler.Timezone), StartupSpread: spread}, nil
}

// mapPollerOverrides rejects names that are not built-in pollers.
func mapPollerOverrides(cfg *config.Config) (map[string]poll.Override, error) {
	known := map[string]struct{}{}
	for _, d := range poll.DefaultDefinitions() {
		known[d.Name] = struct{}{}
	}
	out := make(map[string]poll.Override, len(cfg.Pollers))
	for name, pc := range cfg.Pollers {
		if _, ok := known[name]; !ok {
			return nil, fmt.Errorf("pollers.%s: unknown poller", name)
		}
		iv, err := config.ParseDuration("pollers."+name+".interval", pc.Interval, 0)
		if err != nil {
			return nil, err
		}
		to, err := config.ParseDuration("pollers."+name+".timeout", pc.Timeout, 0)
		if err != nil {
			return nil, err
		}
		out[name] = poll.Override{Enabled: pc.Enabled, Interval: iv, Timeout: to}
	}
	return out, nil
}

// mapConventions only accepts hierarchical sections.
func mapConventions(cfg *config.Config) (map[notify.Section]notify.Convention, error) {
	out := notify.DefaultConventions()
	for raw, conv := range cfg.Notifications.Conventions {
		s, err := notify.ParseSection(raw)
		if err != nil {
			return nil, fmt.Errorf("notifications.conventions.%s: %w", raw, err)
		}
		if _, ok := out[s]; !ok {
			return nil, fmt.Errorf("notifications.conventions.%s: %w", raw, notify.ErrNotHierarchical)
		}
		switch c := notify.Convention(strings.ToLower(strings.TrimSpace(conv))); c {
		case notify.Increment, notify.Replace:
			out[s] = c
		default:
			return nil, fmt.Errorf("notifications.conventions.%s: unknown convention %q", raw, conv)
		}
	}
	return out, nil
}

func mapDigestConfig(cfg *config.Config) (digest.Config, error) {
	d := cfg.Digest
	if d == nil {
		return digest.Config{}, nil
	}
	out := digest.Config{
		Enabled:         d.Enabled,
		Target:          transport.ChatTarget{ChatID: d.ChatID, ThreadID: d.ThreadID},
		QueueSize:       d.QueueSize,
		RatePerSec:      d.RatePerSec,
		RetryMax:        d.RetryMax,
		DedupMaxEntries: d.DedupMaxEntries,
	}
	var err error
	if out.RetryBase, err = config.ParseDuration("digest.retry_base", d.RetryBase, 500*time.Millisecond); err != nil {
		return digest.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDuration("digest.retry_max_delay", d.RetryMaxDelay, 10*time.Second); err != nil {
		return digest.Config{}, err
	}
	if out.DedupWindow, err = config.ParseDuration("digest.dedup_window", d.DedupWindow, time.Minute); err != nil {
		return digest.Config{}, err
	}
	return out, nil
}

// mapTelegramConfig returns enabled=false when no token is configured.
func mapTelegramConfig(cfg *config.Config) (telegram.Config, bool, error) {
	t := cfg.Telegram
	if strings.TrimSpace(t.Token) == "" {
		return telegram.Config{}, false, nil
	}
	pt, err := config.ParseDuration("telegram.poll_timeout", t.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, false, err
	}
	return telegram.Config{
		Token:        strings.TrimSpace(t.Token),
		PollTimeout:  pt,
		AllowedChats: append([]int64(nil), t.AllowedChats...),
	}, true, nil
}

func mapPersistTimeout(cfg *config.Config) (time.Duration, error) {
	return config.ParseDuration("notifications.persist_timeout", cfg.Notifications.PersistTimeout, 5*time.Second)
}

// validate builds every component config once so a reload that would fail at
// apply time is rejected before commit.
func validate(cfg *config.Config) error {
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapBackendConfig(cfg); err != nil {
		return err
	}
	if _, err := mapHTTPConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapPollerOverrides(cfg); err != nil {
		return err
	}
	if _, err := mapConventions(cfg); err != nil {
		return err
	}
	if _, err := mapDigestConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapTelegramConfig(cfg); err != nil {
		return err
	}
	_, err := mapPersistTimeout(cfg)
	return err
}
