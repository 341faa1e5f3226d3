package room

import (
	"sync"
	"testing"
	"time"
)

func TestSupervisorFiresAfterBudget(t *testing.T) {
	fired := make(chan string, 1)
	s := NewSupervisor(20*time.Millisecond, func(cid string) { fired <- cid })
	defer s.Close()

	s.Arm("c1")
	select {
	case cid := <-fired:
		if cid != "c1" {
			t.Errorf("fired for %s, want c1", cid)
		}
	case <-time.After(time.Second):
		t.Fatal("supervisor never fired")
	}
}

func TestSupervisorDisarmCancels(t *testing.T) {
	var mu sync.Mutex
	fired := 0
	s := NewSupervisor(20*time.Millisecond, func(string) {
		mu.Lock()
		fired++
		mu.Unlock()
	})
	defer s.Close()

	s.Arm("c1")
	s.Disarm("c1")
	time.Sleep(60 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if fired != 0 {
		t.Errorf("disarmed timer fired %d times", fired)
	}
}

func TestSupervisorCloseSilencesTimers(t *testing.T) {
	var mu sync.Mutex
	fired := 0
	s := NewSupervisor(20*time.Millisecond, func(string) {
		mu.Lock()
		fired++
		mu.Unlock()
	})

	s.Arm("c1")
	s.Arm("c2")
	s.Close()
	time.Sleep(60 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if fired != 0 {
		t.Errorf("timers fired %d times after close", fired)
	}

	// Arming after close is a no-op rather than a panic.
	s.Arm("c3")
}

func TestSupervisorRearmResetsClock(t *testing.T) {
	fired := make(chan string, 2)
	s := NewSupervisor(40*time.Millisecond, func(cid string) { fired <- cid })
	defer s.Close()

	s.Arm("c1")
	time.Sleep(25 * time.Millisecond)
	s.Arm("c1") // retry re-arms before the first clock expires

	select {
	case <-fired:
		t.Fatal("fired before the re-armed budget elapsed")
	case <-time.After(25 * time.Millisecond):
	}
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("re-armed timer never fired")
	}
}
