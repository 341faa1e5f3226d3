package room

import (
	"sync"
	"time"
)

// defaultOverdueBudget is how long a sent message may wait for its
// confirmed counterpart before the supervisor flags it. The flag is a UI
// hint for offering a manual retry, never an authoritative failure: slow
// snapshot propagation regularly outlives any fixed budget, and a false
// "failed" on a message that later confirms is worse than a late success.
const defaultOverdueBudget = 20 * time.Second

// Supervisor arms a bounded wait for every entry that reaches sent. When
// the budget expires without confirmation it reports the entry overdue.
// The send call's own outcome remains the sole authority for sent vs
// failed.
type Supervisor struct {
	budget time.Duration
	onFire func(correlationID string)
	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// NewSupervisor creates a supervisor. onFire runs on the timer goroutine;
// callers route it back onto their own timeline.
func NewSupervisor(budget time.Duration, onFire func(correlationID string)) *Supervisor {
	if budget <= 0 {
		budget = defaultOverdueBudget
	}
	return &Supervisor{
		budget: budget,
		onFire: onFire,
		timers: make(map[string]*time.Timer),
	}
}

// Arm starts the overdue clock for a correlation id. Re-arming an already
// armed id resets the clock (used on retry).
func (s *Supervisor) Arm(cid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if t, ok := s.timers[cid]; ok {
		t.Stop()
	}
	s.timers[cid] = time.AfterFunc(s.budget, func() {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		delete(s.timers, cid)
		s.mu.Unlock()
		s.onFire(cid)
	})
}

// Disarm cancels the clock, typically because the confirmed counterpart
// arrived or the send errored out.
func (s *Supervisor) Disarm(cid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[cid]; ok {
		t.Stop()
		delete(s.timers, cid)
	}
}

// Close stops all timers. Late fires become no-ops.
func (s *Supervisor) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for cid, t := range s.timers {
		t.Stop()
		delete(s.timers, cid)
	}
}
