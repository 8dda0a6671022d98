package model

import "sync"

// StatusView is one rendering of the dashboard.
type StatusView struct {
	Address      string
	Endpoint     string
	ChainID      int64
	Balance      string
	SessionState SessionState
	Approval     string
	LastBlock    uint64
	WatchState   string
	Attempts     int
	Minted       int
	Failed       int
}

// Status is the dashboard state rendered by the console UI. It is shared
// between the watcher, the orchestrator and the blaster goroutines.
type Status struct {
	mu   sync.Mutex
	view StatusView
}

func NewStatus() *Status {
	return &Status{view: StatusView{
		Address:      "-",
		Endpoint:     "-",
		SessionState: SessionNone,
		Approval:     "WAITING",
		WatchState:   "IDLE",
	}}
}

// Update applies fn under the status lock. A nil Status ignores updates.
func (s *Status) Update(fn func(v *StatusView)) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.view)
}

func (s *Status) Snapshot() StatusView {
	if s == nil {
		return StatusView{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}
