package config

import (
	"bytes"
	"encoding/json"
)

// Config is the on-disk configuration. JSON and YAML are both accepted;
// durations are Go duration strings ("500ms", "10s", "3m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	HTTP      HTTPConfig      `json:"http"`
	Backend   BackendConfig   `json:"backend"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Scheduler SchedulerConfig `json:"scheduler"`

	// Pollers overrides the built-in poller table by name. Omitted pollers keep their defaults.
	Pollers map[string]PollerConfig `json:"pollers,omitempty"`

	Notifications NotificationsConfig `json:"notifications"`
	Digest        *DigestConfig       `json:"digest,omitempty"`
	Telegram      TelegramConfig      `json:"telegram"`
}

// LoggingConfig: format is "console", "json" or empty (console on a
// terminal, JSON lines otherwise). file appends JSON lines when set.
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	File   string `json:"file"`
}

// HTTPConfig controls the view API.
//
// Defaults: addr ":8080", read_timeout "10s", write_timeout "15s",
// shutdown_timeout "5s", stream_ping "30s".
type HTTPConfig struct {
	Addr            string `json:"addr"`
	ReadTimeout     string `json:"read_timeout,omitempty"`
	WriteTimeout    string `json:"write_timeout,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
	StreamPing      string `json:"stream_ping,omitempty"`

	Debug DebugConfig `json:"debug"`
}

// DebugConfig exposes /debug/pprof on the HTTP server.
//
// A non-loopback addr requires a token (bearer header or ?token=).
type DebugConfig struct {
	Enabled              bool   `json:"enabled"`
	Token                string `json:"token,omitempty"` // do not log
	MutexProfileFraction int    `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int    `json:"block_profile_rate,omitempty"`
}

// BackendConfig points at the inventory backend's query endpoint.
type BackendConfig struct {
	BaseURL string `json:"base_url"`
	Token   string `json:"token,omitempty"` // bearer token (do not log)
	Timeout string `json:"timeout,omitempty"`
	// RateLimit is requests per second across all pollers. 0 disables limiting.
	RateLimit float64 `json:"rate_limit,omitempty"`
	Burst     int     `json:"burst,omitempty"`
}

// StorageConfig controls where notification state is persisted.
// Nil or driver "none" keeps state in memory only.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./stockpulse.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

type SchedulerConfig struct {
	Timezone string `json:"timezone,omitempty"`
	// StartupSpread delays each poller's first scheduled tick by up to this much.
	StartupSpread string `json:"startup_spread,omitempty"`
}

// PollerConfig overrides one poller. Enabled is a pointer so an omitted
// field keeps the default rather than disabling the poller.
type PollerConfig struct {
	Enabled  *bool  `json:"enabled,omitempty"`
	Interval string `json:"interval,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

// UnmarshalJSON rejects unknown keys so typos inside a poller block fail the reload.
func (p *PollerConfig) UnmarshalJSON(b []byte) error {
	type tmp PollerConfig
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t tmp
	if err := dec.Decode(&t); err != nil {
		return err
	}
	*p = PollerConfig(t)
	return nil
}

type NotificationsConfig struct {
	// Conventions maps a hierarchical section to "increment" or "replace".
	Conventions map[string]string `json:"conventions,omitempty"`
	// PersistTimeout bounds one synchronous save. Default "5s".
	PersistTimeout string `json:"persist_timeout,omitempty"`
}

// DigestConfig controls the chat digest pipeline.
// If the section is omitted the digest is disabled.
type DigestConfig struct {
	Enabled         bool   `json:"enabled"`
	ChatID          int64  `json:"chat_id"`
	ThreadID        int    `json:"thread_id,omitempty"`
	QueueSize       int    `json:"queue_size,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	RetryMax        int    `json:"retry_max,omitempty"`
	RetryBase       string `json:"retry_base,omitempty"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// AllowedChats restricts the /pending and /ack commands.
	AllowedChats []int64 `json:"allowed_chats,omitempty"`
}
