package scheduler

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestConcurrentNotifyDeliversEveryEventInOrder(t *testing.T) {
	const owners = 8
	const tasksPerOwner = 200
	engine := NewEngine(owners * tasksPerOwner)

	base := time.Now().UTC().Add(30 * time.Millisecond)
	var wg sync.WaitGroup
	for o := range owners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			owner := fmt.Sprintf("owner-%d", o)
			for i := range tasksPerOwner {
				at := base.Add(time.Duration((o*7+i)%40) * time.Millisecond)
				engine.Notify(owner, fmt.Sprintf("%s/task-%d", owner, i), at)
			}
		}()
	}
	wg.Wait()

	if got := engine.Pending(); got != owners*tasksPerOwner {
		t.Fatalf("expected %d pending events, got %d", owners*tasksPerOwner, got)
	}

	engine.Start()
	defer engine.Stop()

	seen := make(map[string]bool, owners*tasksPerOwner)
	var last time.Time
	deadline := time.After(5 * time.Second)
	for len(seen) < owners*tasksPerOwner {
		select {
		case <-deadline:
			t.Fatalf("timed out: received=%d dropped=%d", len(seen), engine.Dropped())
		case ev := <-engine.C():
			if ev.At.Before(last) {
				t.Fatalf("event %s at %s delivered after %s", ev.TaskID, ev.At, last)
			}
			last = ev.At
			if seen[ev.TaskID] {
				t.Fatalf("event for %s delivered twice", ev.TaskID)
			}
			seen[ev.TaskID] = true
		}
	}
	if engine.Dropped() != 0 {
		t.Fatalf("expected no drops with a sized buffer, got %d", engine.Dropped())
	}
}
