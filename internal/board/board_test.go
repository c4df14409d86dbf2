package board

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sandeepkv93/tasklane/internal/dependency"
	"github.com/sandeepkv93/tasklane/internal/model"
	"github.com/sandeepkv93/tasklane/internal/scheduler"
	"github.com/sandeepkv93/tasklane/internal/storage"
)

var fixedNow = time.Date(2026, 2, 9, 12, 0, 0, 0, time.UTC)

func newTestBoard(t *testing.T) (Model, *dependency.Engine) {
	t.Helper()
	store, err := storage.OpenBadger(storage.InMemoryBadgerConfig())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	engine := dependency.NewEngine(store, nil)
	m := New(context.Background(), engine, "u1", WithClock(func() time.Time { return fixedNow }))
	return m, engine
}

func load(t *testing.T, m Model) Model {
	t.Helper()
	updated, _ := m.Update(m.loadCmd()())
	return updated.(Model)
}

func press(t *testing.T, m Model, keys ...tea.KeyMsg) (Model, tea.Cmd) {
	t.Helper()
	var cmd tea.Cmd
	for _, k := range keys {
		var updated tea.Model
		updated, cmd = m.Update(k)
		m = updated.(Model)
	}
	return m, cmd
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func typeCommand(t *testing.T, m Model, command string) Model {
	t.Helper()
	m, _ = press(t, m, runes(":"))
	if !m.PaletteActive {
		t.Fatal("expected palette to open")
	}
	for _, r := range command {
		m, _ = press(t, m, runes(string(r)))
	}
	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.PaletteActive {
		t.Fatal("expected palette to close after enter")
	}
	if cmd != nil {
		updated, _ := m.Update(cmd())
		m = updated.(Model)
	}
	return m
}

func TestBoardSplitsActionableAndBlocked(t *testing.T) {
	m, engine := newTestBoard(t)
	ctx := context.Background()
	first, err := engine.CreateTask(ctx, "u1", dependency.CreateTaskInput{Text: "first"}, fixedNow)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := engine.CreateTask(ctx, "u1", dependency.CreateTaskInput{
		Text:     "second",
		Blockers: model.Blockers{model.TaskBlocker{TaskID: first.ID}},
	}, fixedNow); err != nil {
		t.Fatalf("create: %v", err)
	}

	m = load(t, m)
	if len(m.Actionable) != 1 || len(m.Blocked) != 1 {
		t.Fatalf("unexpected split: actionable=%d blocked=%d", len(m.Actionable), len(m.Blocked))
	}
	if m.Status.Text != "1 actionable, 1 blocked" {
		t.Fatalf("unexpected status: %q", m.Status.Text)
	}
	view := m.View()
	if !strings.Contains(view, "waits on task:"+first.ID) {
		t.Fatalf("expected outstanding blocker in view:\n%s", view)
	}
}

func TestBoardSpaceTogglesCompletionAndUnblocks(t *testing.T) {
	m, engine := newTestBoard(t)
	ctx := context.Background()
	first, _ := engine.CreateTask(ctx, "u1", dependency.CreateTaskInput{Text: "first"}, fixedNow)
	if _, err := engine.CreateTask(ctx, "u1", dependency.CreateTaskInput{
		Text:     "second",
		Blockers: model.Blockers{model.TaskBlocker{TaskID: first.ID}},
	}, fixedNow); err != nil {
		t.Fatalf("create: %v", err)
	}
	m = load(t, m)

	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeySpace})
	if cmd == nil {
		t.Fatal("expected reload after toggle")
	}
	updated, _ := m.Update(cmd())
	m = updated.(Model)
	if len(m.Blocked) != 0 || len(m.Actionable) != 2 {
		t.Fatalf("expected both tasks actionable after completion, got actionable=%d blocked=%d", len(m.Actionable), len(m.Blocked))
	}
	if last := m.Actionable[len(m.Actionable)-1]; last.Task.ID != first.ID || !last.Task.IsCompleted() {
		t.Fatalf("expected completed task last, got %+v", last.Task)
	}
	if !strings.HasPrefix(m.Status.Text, "completed") {
		t.Fatalf("unexpected status: %q", m.Status.Text)
	}
}

func TestBoardPaletteAddAndLinkByPrefix(t *testing.T) {
	m, _ := newTestBoard(t)
	m = load(t, m)

	m = typeCommand(t, m, "add write report")
	if m.Status.IsError || len(m.Actionable) != 1 {
		t.Fatalf("add failed: status=%+v actionable=%d", m.Status, len(m.Actionable))
	}
	m = typeCommand(t, m, "add review report")
	target := m.Actionable[0].Task.ID
	waiter := m.Actionable[1].Task.ID

	m = typeCommand(t, m, "link "+waiter[:8]+" task:"+target[:8])
	if m.Status.IsError {
		t.Fatalf("link failed: %s", m.Status.Text)
	}
	if len(m.Blocked) != 1 || m.Blocked[0].Task.ID != waiter {
		t.Fatalf("expected %s blocked, got %+v", waiter, m.Blocked)
	}

	m = typeCommand(t, m, "link "+waiter+" task:"+target)
	if !m.Status.IsError || !strings.Contains(m.Status.Text, "duplicate") {
		t.Fatalf("expected duplicate error, got %+v", m.Status)
	}

	m = typeCommand(t, m, "unlink "+waiter+" task:"+target)
	if m.Status.IsError || len(m.Blocked) != 0 {
		t.Fatalf("unlink failed: status=%+v blocked=%d", m.Status, len(m.Blocked))
	}
}

func TestBoardPaletteErrorsAndEscape(t *testing.T) {
	m, _ := newTestBoard(t)
	m = load(t, m)

	m = typeCommand(t, m, "snooze everything")
	if !m.Status.IsError {
		t.Fatalf("expected error status, got %+v", m.Status)
	}

	m, _ = press(t, m, runes(":"), runes("a"), tea.KeyMsg{Type: tea.KeyEsc})
	if m.PaletteActive || m.Status.Text != "command palette closed" {
		t.Fatalf("expected closed palette, got active=%v status=%q", m.PaletteActive, m.Status.Text)
	}
}

func TestBoardCursorAndQuit(t *testing.T) {
	m, engine := newTestBoard(t)
	ctx := context.Background()
	for i, text := range []string{"a", "b"} {
		at := fixedNow.Add(time.Duration(i) * time.Minute)
		if _, err := engine.CreateTask(ctx, "u1", dependency.CreateTaskInput{Text: text}, at); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	m = load(t, m)

	m, _ = press(t, m, runes("j"), runes("j"))
	if m.Cursor != 1 {
		t.Fatalf("expected cursor clamped at 1, got %d", m.Cursor)
	}
	m, _ = press(t, m, runes("k"))
	if sel, ok := m.Selected(); !ok || sel.Task.Text != "a" {
		t.Fatalf("unexpected selection: %+v", sel)
	}

	m, cmd := press(t, m, runes("q"))
	if !m.Quitting || cmd == nil {
		t.Fatal("expected quit")
	}
	if m.View() != "" {
		t.Fatal("expected empty view after quit")
	}
}

func TestBoardRefreshesOnUnblockEvent(t *testing.T) {
	m, _ := newTestBoard(t)
	events := make(chan scheduler.UnblockEvent, 1)
	m = New(m.ctx, m.svc, "u1", WithClock(m.now), WithUnblockEvents(events))

	events <- scheduler.UnblockEvent{Owner: "u1", TaskID: "t1", At: fixedNow}
	msg := waitForUnblockCmd(events)()
	if _, ok := msg.(unblockMsg); !ok {
		t.Fatalf("expected unblock message, got %T", msg)
	}
	_, cmd := m.Update(msg)
	if cmd == nil {
		t.Fatal("expected reload command")
	}

	close(events)
	if waitForUnblockCmd(events)() != nil {
		t.Fatal("expected nil message after channel close")
	}
	if waitForUnblockCmd(nil) != nil {
		t.Fatal("expected nil command without channel")
	}
}
