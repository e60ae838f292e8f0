package digest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockpulse/internal/eventbus"
	"stockpulse/internal/metrics"
	"stockpulse/internal/notify"
	"stockpulse/internal/transport"
	logx "stockpulse/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	fails int
	sent  []string
	calls int
}

func (f *fakeSender) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fails > 0 {
		f.fails--
		return transport.MessageRef{}, errors.New("telegram down")
	}
	f.sent = append(f.sent, text)
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeSender) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func testConfig() Config {
	return Config{
		Enabled:       true,
		Target:        transport.ChatTarget{ChatID: 42},
		RatePerSec:    100,
		RetryMax:      2,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
		DedupWindow:   time.Minute,
	}
}

func TestNotifyDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	s := New(cfg, &fakeSender{}, nil, nil, logx.Nop())
	s.Start(context.Background())
	assert.ErrorIs(t, s.Notify(context.Background(), "hi"), ErrDisabled)
}

func TestNotifyBeforeStart(t *testing.T) {
	s := New(testConfig(), &fakeSender{}, nil, nil, logx.Nop())
	assert.ErrorIs(t, s.Notify(context.Background(), "hi"), ErrStopped)
}

func TestNotifyDeliversAndDedups(t *testing.T) {
	fs := &fakeSender{}
	s := New(testConfig(), fs, nil, nil, logx.Nop())
	s.Start(context.Background())

	require.NoError(t, s.Notify(context.Background(), "New activity: +1 reports"))
	require.NoError(t, s.Notify(context.Background(), "New activity: +1 reports"))
	require.NoError(t, s.Notify(context.Background(), "New activity: +2 reports"))

	require.Eventually(t, func() bool { return len(fs.Sent()) == 2 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)

	assert.Equal(t, []string{"New activity: +1 reports", "New activity: +2 reports"}, fs.Sent())
	assert.Len(t, s.History(), 2)
	assert.ErrorIs(t, s.Notify(context.Background(), "late"), ErrStopped)
}

func TestRetryThenSucceed(t *testing.T) {
	fs := &fakeSender{fails: 2}
	m := metrics.New()
	bus := eventbus.New()
	sentCh, unsub := bus.Subscribe(8)
	defer unsub()

	s := New(testConfig(), fs, bus, m, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	require.NoError(t, s.Notify(context.Background(), "hello"))

	var got SentEvent
	require.Eventually(t, func() bool {
		select {
		case e := <-sentCh:
			if ev, ok := e.Data.(SentEvent); ok && e.Type == eventbus.TypeDigestSent {
				got = ev
				return true
			}
		default:
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	assert.Empty(t, got.Error)
	assert.Equal(t, int64(42), got.ChatID)
	assert.Equal(t, []string{"hello"}, fs.Sent())
}

func TestRetriesExhausted(t *testing.T) {
	fs := &fakeSender{fails: 10}
	bus := eventbus.New()
	sentCh, unsub := bus.Subscribe(8)
	defer unsub()

	s := New(testConfig(), fs, bus, nil, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	require.NoError(t, s.Notify(context.Background(), "hello"))

	select {
	case e := <-sentCh:
		ev := e.Data.(SentEvent)
		assert.Equal(t, "telegram down", ev.Error)
	case <-time.After(2 * time.Second):
		t.Fatal("no digest event")
	}
	fs.mu.Lock()
	assert.Equal(t, 3, fs.calls)
	fs.mu.Unlock()
	assert.Empty(t, s.History())
}

func TestChangesFromBusAreFormatted(t *testing.T) {
	fs := &fakeSender{}
	bus := eventbus.New()
	s := New(testConfig(), fs, bus, nil, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	bus.Publish(eventbus.Event{Type: eventbus.TypeStateChanged, Data: notify.Change{Op: notify.OpAcknowledge, Sections: []notify.Section{notify.SectionLogs}}})
	bus.Publish(eventbus.Event{Type: eventbus.TypeStateChanged, Data: notify.Change{
		Op:     notify.OpApply,
		Deltas: map[notify.Section]uint64{notify.SectionLogs: 3},
	}})

	require.Eventually(t, func() bool { return len(fs.Sent()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "New activity: +3 log entries", fs.Sent()[0])
}

func TestQueueFull(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 1
	cfg.RatePerSec = 1
	cfg.DedupWindow = 0
	block := make(chan struct{})
	s := New(cfg, blockingSender{block}, nil, nil, logx.Nop())
	s.Start(context.Background())
	defer func() {
		close(block)
		s.Stop(context.Background())
	}()

	var full bool
	for i := 0; i < 10 && !full; i++ {
		full = errors.Is(s.Notify(context.Background(), "x"), ErrQueueFull)
	}
	assert.True(t, full)
}

type blockingSender struct{ ch chan struct{} }

func (b blockingSender) SendText(ctx context.Context, _ transport.ChatTarget, _ string, _ *transport.SendOptions) (transport.MessageRef, error) {
	select {
	case <-b.ch:
	case <-ctx.Done():
	}
	return transport.MessageRef{}, nil
}

func TestRetryDelayCapped(t *testing.T) {
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: 300 * time.Millisecond}
	for attempt := 1; attempt < 8; attempt++ {
		d := retryDelay(cfg, attempt)
		assert.LessOrEqual(t, d, cfg.RetryMaxDelay)
		assert.Greater(t, d, time.Duration(0))
	}
}

func TestDedupEvictsOldest(t *testing.T) {
	s := New(testConfig(), &fakeSender{}, nil, nil, logx.Nop())
	for i := 0; i < 5; i++ {
		assert.True(t, s.dedupAllow(string(rune('a'+i)), time.Minute, 3))
	}
	s.dmu.Lock()
	assert.Len(t, s.dedup, 3)
	s.dmu.Unlock()

	assert.True(t, s.dedupAllow("z", time.Minute, 10))
	assert.False(t, s.dedupAllow("z", time.Minute, 10))
}
