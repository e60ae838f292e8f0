// Package view is the read/acknowledge surface the UI layer binds to.
package view

import (
	"stockpulse/internal/eventbus"
	"stockpulse/internal/notify"
)

// Binding exposes the aggregator to presentation code and forwards state
// change notifications from the event bus.
type Binding struct {
	agg *notify.Aggregator
	bus eventbus.Bus
}

func New(agg *notify.Aggregator, bus eventbus.Bus) *Binding {
	return &Binding{agg: agg, bus: bus}
}

func (b *Binding) GetSectionState(s notify.Section) (notify.SectionState, error) {
	return b.agg.SectionState(s)
}

func (b *Binding) TotalFor(s notify.Section) uint64 { return b.agg.TotalFor(s) }

func (b *Binding) HasAny() bool { return b.agg.HasAny() }

func (b *Binding) IsSubItemFlagged(s notify.Section, key string) bool {
	return b.agg.IsSubItemFlagged(s, key)
}

func (b *Binding) Acknowledge(s notify.Section) error { return b.agg.Acknowledge(s) }

func (b *Binding) AcknowledgeItem(s notify.Section, key string) error {
	return b.agg.AcknowledgeItem(s, key)
}

func (b *Binding) ClearAll() { b.agg.ClearAll() }

func (b *Binding) Snapshot() notify.Snapshot { return b.agg.Snapshot() }

// Subscribe delivers every committed change. Slow readers drop events and
// should re-read Snapshot when they catch up. The channel closes on cancel.
func (b *Binding) Subscribe(buffer int) (<-chan notify.Change, func()) {
	if b.bus == nil {
		ch := make(chan notify.Change)
		close(ch)
		return ch, func() {}
	}
	in, unsub := b.bus.Subscribe(buffer, eventbus.TypeStateChanged)
	out := make(chan notify.Change, cap(in))
	go func() {
		defer close(out)
		for e := range in {
			c, ok := e.Data.(notify.Change)
			if !ok {
				continue
			}
			select {
			case out <- c:
			default:
			}
		}
	}()
	return out, unsub
}
