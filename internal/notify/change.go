package notify

import (
	"time"

	"github.com/google/uuid"
)

// Target names the branch an Update applies to.
//
//   - hierarchical sections: Key is the sub-item
//   - flat sections: Key is the counter name
//   - warehouse: Key is the alert kind; LocationID selects a location, empty means the totals
type Target struct {
	Section      Section `json:"section"`
	Key          string  `json:"key"`
	LocationID   string  `json:"locationId,omitempty"`
	LocationName string  `json:"locationName,omitempty"`
}

// Update is one metric that increased during a poll cycle.
// Delta is the increase since the last observation, Value the new absolute reading.
type Update struct {
	Target Target `json:"target"`
	Delta  uint64 `json:"delta"`
	Value  uint64 `json:"value"`
}

// SystemSignal bumps the coarse SystemUpdateFlag.
type SystemSignal struct {
	Count uint64 `json:"count"`
}

// ChangeEvent is what a poller submits after a cycle that observed new activity.
type ChangeEvent struct {
	ID      string        `json:"id"`
	Source  string        `json:"source"`
	At      time.Time     `json:"at"`
	Updates []Update      `json:"updates"`
	System  *SystemSignal `json:"system,omitempty"`
}

// NewChangeEvent stamps a fresh id and time.
func NewChangeEvent(source string, updates []Update) ChangeEvent {
	return ChangeEvent{
		ID:      uuid.NewString(),
		Source:  source,
		At:      time.Now(),
		Updates: updates,
	}
}

// Empty reports whether applying the event would change nothing.
func (e ChangeEvent) Empty() bool {
	if e.System != nil && e.System.Count > 0 {
		return false
	}
	for _, u := range e.Updates {
		if u.Delta > 0 {
			return false
		}
	}
	return true
}

// Op names the mutation that produced a Change.
type Op string

const (
	OpApply       Op = "apply"
	OpMerge       Op = "merge"
	OpIncrement   Op = "increment"
	OpAcknowledge Op = "acknowledge"
	OpClear       Op = "clear"
)

// Change is published on the event bus after every committed mutation.
type Change struct {
	Op        Op                 `json:"op"`
	Source    string             `json:"source,omitempty"`
	EventID   string             `json:"eventId,omitempty"`
	Sections  []Section          `json:"sections"`
	SubItem   string             `json:"subItem,omitempty"`
	Deltas    map[Section]uint64 `json:"deltas,omitempty"`
	Details   string             `json:"details,omitempty"`
	Persisted bool               `json:"persisted"`
	At        time.Time          `json:"at"`
}

// Snapshot is a consistent read of the whole aggregator.
type Snapshot struct {
	State       State                  `json:"state"`
	System      SystemUpdateFlag       `json:"systemUpdate"`
	Totals      map[Section]uint64     `json:"totals"`
	HasAny      bool                   `json:"hasAny"`
	Conventions map[Section]Convention `json:"conventions"`
}
