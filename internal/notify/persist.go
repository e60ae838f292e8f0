package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"stockpulse/internal/storage"
	logx "stockpulse/pkg/logx"
)

// Storage keys.
const (
	KeyState        = "notifications.state"
	KeySystemUpdate = "notifications.system_update"
)

// Persister maps the aggregator state onto a storage.Store as two JSON blobs.
type Persister struct {
	store storage.Store
	log   logx.Logger
}

func NewPersister(store storage.Store, log logx.Logger) *Persister {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Persister{store: store, log: log.With(logx.String("comp", "notify.persist"))}
}

// Load reads the persisted state. It never fails: a missing, unreadable or
// corrupt blob yields the zero state for that blob and a warning.
func (p *Persister) Load(ctx context.Context) (State, SystemUpdateFlag) {
	st := NewState()
	var flag SystemUpdateFlag
	if p == nil || p.store == nil {
		return st, flag
	}

	if raw, ok := p.get(ctx, KeyState); ok {
		var loaded State
		if err := json.Unmarshal(raw, &loaded); err != nil {
			p.log.Warn("discarding corrupt notification state", logx.Err(err))
		} else {
			loaded.normalize()
			st = loaded
		}
	}
	if raw, ok := p.get(ctx, KeySystemUpdate); ok {
		var loaded SystemUpdateFlag
		if err := json.Unmarshal(raw, &loaded); err != nil {
			p.log.Warn("discarding corrupt system update flag", logx.Err(err))
		} else {
			flag = loaded
		}
	}
	return st, flag
}

func (p *Persister) get(ctx context.Context, key string) ([]byte, bool) {
	raw, ok, err := p.store.Get(ctx, key)
	if err != nil {
		p.log.Warn("read persisted blob failed", logx.String("key", key), logx.Err(err))
		return nil, false
	}
	return raw, ok && len(raw) > 0
}

// Save writes both blobs. The state blob is written first.
func (p *Persister) Save(ctx context.Context, st State, flag SystemUpdateFlag) error {
	if p == nil || p.store == nil {
		return nil
	}
	b, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := p.store.Put(ctx, KeyState, b); err != nil {
		return fmt.Errorf("put %s: %w", KeyState, err)
	}
	b, err = json.Marshal(flag)
	if err != nil {
		return fmt.Errorf("encode system flag: %w", err)
	}
	if err := p.store.Put(ctx, KeySystemUpdate, b); err != nil {
		return fmt.Errorf("put %s: %w", KeySystemUpdate, err)
	}
	return nil
}
