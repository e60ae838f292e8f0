package digest

import (
	"time"

	"stockpulse/internal/transport"
)

type Config struct {
	Enabled         bool
	Target          transport.ChatTarget
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
}

// HistoryItem is one delivered message.
type HistoryItem struct {
	At   time.Time `json:"at"`
	Text string    `json:"text"`
}

// SentEvent is published as eventbus.TypeDigestSent.
type SentEvent struct {
	ChatID int64     `json:"chatId"`
	Key    string    `json:"key"`
	At     time.Time `json:"at"`
	Error  string    `json:"error,omitempty"`
}
