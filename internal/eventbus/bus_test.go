package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOut(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(4)
	defer unsubA()
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	b.Publish(Event{Type: TypeStateChanged, Data: 1})

	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			assert.Equal(t, TypeStateChanged, e.Type)
			assert.False(t, e.Time.IsZero())
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestSubscribeByType(t *testing.T) {
	b := New()
	cycles, unsub := b.Subscribe(4, TypePollCycle)
	defer unsub()

	b.Publish(Event{Type: TypeStateChanged})
	b.Publish(Event{Type: TypePollCycle, Data: "sales"})

	e := <-cycles
	assert.Equal(t, "sales", e.Data)
	assert.Empty(t, cycles)
}

func TestSlowSubscriberMissesAndHookCounts(t *testing.T) {
	var (
		mu     sync.Mutex
		missed []string
	)
	b := New(WithDropHook(func(e Event, n int) {
		mu.Lock()
		missed = append(missed, e.Type)
		mu.Unlock()
		assert.Equal(t, 1, n)
	}))
	slow, unsubSlow := b.Subscribe(1)
	defer unsubSlow()
	fast, unsubFast := b.Subscribe(4)
	defer unsubFast()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})

	assert.Equal(t, "a", (<-slow).Type)
	assert.Empty(t, slow)
	assert.Len(t, fast, 2)
	mu.Lock()
	assert.Equal(t, []string{"b"}, missed)
	mu.Unlock()
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()

	_, ok := <-ch
	require.False(t, ok)
	b.Publish(Event{Type: "x"})
}

func TestConcurrentPublishAndUnsubscribe(t *testing.T) {
	b := New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		_, unsub := b.Subscribe(1)
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				b.Publish(Event{Type: TypeStateChanged})
			}
		}()
		go func() {
			defer wg.Done()
			unsub()
		}()
	}
	wg.Wait()
}
