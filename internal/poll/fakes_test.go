package poll

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"stockpulse/internal/backend"
	"stockpulse/internal/notify"
)

type fakeQuerier struct {
	mu      sync.Mutex
	answers map[string]string
	errs    map[string]error
	block   chan struct{}
	calls   []backend.Request
}

func newFakeQuerier() *fakeQuerier {
	return &fakeQuerier{answers: map[string]string{}, errs: map[string]error{}}
}

func (f *fakeQuerier) set(domain, data string) {
	f.mu.Lock()
	f.answers[domain] = data
	f.mu.Unlock()
}

func (f *fakeQuerier) fail(domain string, err error) {
	f.mu.Lock()
	f.errs[domain] = err
	f.mu.Unlock()
}

func (f *fakeQuerier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeQuerier) Query(ctx context.Context, req backend.Request) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	block := f.block
	data, ok := f.answers[req.Domain]
	err := f.errs[req.Domain]
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("no answer for " + req.Domain)
	}
	return json.RawMessage(data), nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []notify.ChangeEvent
}

func (s *recordingSink) Apply(ev notify.ChangeEvent) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) all() []notify.ChangeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notify.ChangeEvent(nil), s.events...)
}
