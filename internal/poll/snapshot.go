package poll

import "sync"

// Snapshot holds the last observed value per metric. Missing metrics read as 0.
// It is never persisted: after a restart the first cycle re-baselines.
type Snapshot struct {
	mu   sync.Mutex
	vals map[string]uint64
}

func NewSnapshot() *Snapshot {
	return &Snapshot{vals: map[string]uint64{}}
}

func (s *Snapshot) Get(metric string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vals[metric]
}

func (s *Snapshot) Set(metric string, v uint64) {
	s.mu.Lock()
	s.vals[metric] = v
	s.mu.Unlock()
}

func (s *Snapshot) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.vals)
}

// Observe stores v and returns how much it grew over the previous value.
// A decrease is stored but reported as 0.
func (s *Snapshot) Observe(metric string, v uint64) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.vals[metric]
	s.vals[metric] = v
	if v <= prev {
		return 0
	}
	return v - prev
}
