package reconcile

import "sync"

// Sequencer tags rollup requests per caller key so that a result finished
// after a newer request was issued can be dropped instead of delivered.
type Sequencer struct {
	mu     sync.Mutex
	latest map[string]uint64
}

func NewSequencer() *Sequencer {
	return &Sequencer{latest: make(map[string]uint64)}
}

// Next issues a sequence number greater than any seen for key.
func (s *Sequencer) Next(key string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest[key]++
	return s.latest[key]
}

// Observe registers a client-supplied sequence number. It reports false when
// a newer one was already registered, in which case seq is stale on arrival.
func (s *Sequencer) Observe(key string, seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq < s.latest[key] {
		return false
	}
	s.latest[key] = seq
	return true
}

func (s *Sequencer) IsLatest(key string, seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest[key] == seq
}
