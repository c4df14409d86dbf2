package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestEngineEmitsInTriggerOrder(t *testing.T) {
	engine := NewEngine(8)
	engine.Start()
	defer engine.Stop()

	now := time.Now().UTC()
	if err := engine.Schedule(UnblockEvent{TaskID: "later", At: now.Add(80 * time.Millisecond)}); err != nil {
		t.Fatalf("schedule later: %v", err)
	}
	if err := engine.Schedule(UnblockEvent{TaskID: "sooner", At: now.Add(20 * time.Millisecond)}); err != nil {
		t.Fatalf("schedule sooner: %v", err)
	}

	first := waitEvent(t, engine.C(), time.Second)
	second := waitEvent(t, engine.C(), time.Second)
	if first.TaskID != "sooner" || second.TaskID != "later" {
		t.Fatalf("unexpected order: first=%s second=%s", first.TaskID, second.TaskID)
	}
}

func TestEngineKeepsScheduleOrderForEqualInstants(t *testing.T) {
	engine := NewEngine(8)
	at := time.Now().UTC().Add(20 * time.Millisecond)
	for _, id := range []string{"a", "b", "c"} {
		engine.Notify("u1", id, at)
	}
	if engine.Pending() != 3 {
		t.Fatalf("expected 3 pending events, got %d", engine.Pending())
	}
	engine.Start()
	defer engine.Stop()

	for _, want := range []string{"a", "b", "c"} {
		if got := waitEvent(t, engine.C(), time.Second); got.TaskID != want || got.Owner != "u1" {
			t.Fatalf("unexpected event %#v, want task %s", got, want)
		}
	}
}

func TestEnginePastInstantFiresImmediately(t *testing.T) {
	engine := NewEngine(1)
	engine.Start()
	defer engine.Stop()

	engine.Notify("u1", "overdue", time.Now().Add(-time.Hour))
	if got := waitEvent(t, engine.C(), time.Second); got.TaskID != "overdue" {
		t.Fatalf("unexpected event: %#v", got)
	}
}

func TestEngineNonBlockingDropsWhenConsumerIsSlow(t *testing.T) {
	engine := NewEngine(1)
	engine.Start()
	defer engine.Stop()

	at := time.Now().UTC().Add(20 * time.Millisecond)
	for i := 0; i < 25; i++ {
		if err := engine.Schedule(UnblockEvent{TaskID: "evt", At: at}); err != nil {
			t.Fatalf("schedule event: %v", err)
		}
	}

	time.Sleep(120 * time.Millisecond)
	if engine.Dropped() == 0 {
		t.Fatalf("expected dropped events > 0, got %d", engine.Dropped())
	}
}

func TestScheduleValidatesTriggerTime(t *testing.T) {
	engine := NewEngine(1)
	if err := engine.Schedule(UnblockEvent{TaskID: "bad"}); !errors.Is(err, ErrInvalidTriggerTime) {
		t.Fatalf("expected ErrInvalidTriggerTime, got %v", err)
	}
}

func TestScheduleAfterStopFails(t *testing.T) {
	engine := NewEngine(1)
	engine.Start()
	engine.Stop()
	if err := engine.Schedule(UnblockEvent{TaskID: "late", At: time.Now()}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if _, ok := <-engine.C(); ok {
		t.Fatal("expected closed channel after stop")
	}
}

func TestWatchCountsUnblockedTasks(t *testing.T) {
	events := make(chan UnblockEvent, 3)
	events <- UnblockEvent{Owner: "u1", TaskID: "free"}
	events <- UnblockEvent{Owner: "u1", TaskID: "stuck"}
	events <- UnblockEvent{Owner: "u1", TaskID: "broken"}
	close(events)

	blocked := func(_ context.Context, _, taskID string, _ time.Time) (bool, error) {
		switch taskID {
		case "stuck":
			return true, nil
		case "broken":
			return false, errors.New("store down")
		default:
			return false, nil
		}
	}
	if got := Watch(context.Background(), events, blocked, nil); got != 1 {
		t.Fatalf("expected 1 unblocked task, got %d", got)
	}
}

func TestWatchStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan int)
	go func() {
		done <- Watch(ctx, make(chan UnblockEvent), nil, nil)
	}()
	select {
	case got := <-done:
		if got != 0 {
			t.Fatalf("expected 0, got %d", got)
		}
	case <-time.After(time.Second):
		t.Fatal("watch did not return after cancel")
	}
}

func waitEvent(t *testing.T, ch <-chan UnblockEvent, timeout time.Duration) UnblockEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for event")
		return UnblockEvent{}
	}
}
