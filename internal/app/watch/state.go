package watch

import (
	"strings"
	"sync"
	"sync/atomic"
)

// State is the watcher's shared state: the last processed block, the
// single-flight busy flag and the watched sender set.
type State struct {
	busy atomic.Bool

	mu       sync.Mutex
	lastSeen uint64
	started  bool

	senders map[string]struct{}
}

func NewState(senders []string) *State {
	set := make(map[string]struct{}, len(senders))
	for _, s := range senders {
		if s = normalize(s); s != "" {
			set[s] = struct{}{}
		}
	}
	return &State{senders: set}
}

// Watched reports whether addr is in the sender set, ignoring case.
func (s *State) Watched(addr string) bool {
	_, ok := s.senders[normalize(addr)]
	return ok
}

// Advance records number as seen and reports whether it is newer than the
// last seen block.
func (s *State) Advance(number uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started && number <= s.lastSeen {
		return false
	}
	s.lastSeen = number
	s.started = true
	return true
}

func (s *State) LastSeen() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// TryAcquire sets the busy flag. It fails when a run is already in flight.
func (s *State) TryAcquire() bool {
	return s.busy.CompareAndSwap(false, true)
}

func (s *State) Release() {
	s.busy.Store(false)
}

func (s *State) Busy() bool {
	return s.busy.Load()
}

func normalize(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
