package activity

import (
	"sync"
	"testing"
	"time"
)

func TestTracker_NoActivity(t *testing.T) {
	tr := NewTracker()
	if got := tr.GetLastActivity(); got != nil {
		t.Errorf("expected nil before any request, got %v", got)
	}
	if got := tr.IdleFor(); got != 0 {
		t.Errorf("expected zero idle time, got %v", got)
	}
}

func TestTracker_RecordActivity(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker()
	tr.now = func() time.Time { return clock }

	tr.RecordActivity()
	got := tr.GetLastActivity()
	if got == nil || !got.Equal(clock) {
		t.Fatalf("expected %v, got %v", clock, got)
	}

	clock = clock.Add(90 * time.Second)
	if idle := tr.IdleFor(); idle != 90*time.Second {
		t.Errorf("expected 90s idle, got %v", idle)
	}
}

func TestTracker_ReturnsCopy(t *testing.T) {
	tr := NewTracker()
	tr.RecordActivity()

	got := tr.GetLastActivity()
	*got = time.Time{}
	if tr.GetLastActivity().IsZero() {
		t.Error("caller mutation leaked into tracker state")
	}
}

func TestTracker_Concurrent(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); tr.RecordActivity() }()
		go func() { defer wg.Done(); _ = tr.GetLastActivity() }()
	}
	wg.Wait()
	if tr.GetLastActivity() == nil {
		t.Error("expected activity to be recorded")
	}
}
