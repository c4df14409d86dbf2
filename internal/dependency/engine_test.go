package dependency

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sandeepkv93/tasklane/internal/model"
	"github.com/sandeepkv93/tasklane/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func forEachEngine(t *testing.T, fn func(t *testing.T, e *Engine, store storage.Store)) {
	t.Helper()
	t.Run("sqlite", func(t *testing.T) {
		store, err := storage.OpenSQLite(t.Context(), filepath.Join(t.TempDir(), "dependency.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		fn(t, NewEngine(store, nil), store)
	})
	t.Run("badger", func(t *testing.T) {
		store, err := storage.OpenBadger(storage.InMemoryBadgerConfig())
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		fn(t, NewEngine(store, nil), store)
	})
}

func seedProject(t *testing.T, store storage.Store, owner, name string) model.Project {
	t.Helper()
	var out model.Project
	err := store.Update(t.Context(), func(tx storage.Tx) error {
		var err error
		out, err = tx.InsertProject(t.Context(), model.Project{Owner: owner, Name: name, CreatedAt: fixedNow})
		return err
	})
	require.NoError(t, err)
	return out
}

func seedDelegation(t *testing.T, store storage.Store, d model.Delegation) model.Delegation {
	t.Helper()
	var out model.Delegation
	err := store.Update(t.Context(), func(tx storage.Tx) error {
		var err error
		out, err = tx.InsertDelegation(t.Context(), d)
		return err
	})
	require.NoError(t, err)
	return out
}

func createTask(t *testing.T, e *Engine, owner, text, project string) model.Task {
	t.Helper()
	task, err := e.CreateTask(t.Context(), owner, CreateTaskInput{Text: text, Project: project}, fixedNow)
	require.NoError(t, err)
	return task
}

func blockersOf(t *testing.T, store storage.Store, id string) model.Blockers {
	t.Helper()
	var out model.Blockers
	err := store.View(t.Context(), func(tx storage.Tx) error {
		task, err := tx.GetTask(t.Context(), id)
		out = task.Blockers
		return err
	})
	require.NoError(t, err)
	return out
}

func TestLinkUnlinkRoundTrip(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e *Engine, store storage.Store) {
		ctx := t.Context()
		a := createTask(t, e, "u1", "A", "")
		b := createTask(t, e, "u1", "B", "")
		require.NoError(t, e.LinkBlocker(ctx, "u1", a.ID, model.TimeBlockerAt(fixedNow.Add(time.Hour)), fixedNow))
		before := blockersOf(t, store, a.ID)

		blocker := model.TaskBlocker{TaskID: b.ID}
		require.NoError(t, e.LinkBlocker(ctx, "u1", a.ID, blocker, fixedNow))
		linked := blockersOf(t, store, a.ID)
		require.Len(t, linked, 2)
		assert.True(t, model.Equal(linked[1], blocker), "appended at the end")

		require.NoError(t, e.UnlinkBlocker(ctx, "u1", a.ID, blocker))
		assert.True(t, model.EqualBlockers(before, blockersOf(t, store, a.ID)))
	})
}

func TestLinkDuplicateFails(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e *Engine, store storage.Store) {
		ctx := t.Context()
		a := createTask(t, e, "u1", "A", "")
		b := createTask(t, e, "u1", "B", "")
		blocker := model.TaskBlocker{TaskID: b.ID}

		require.NoError(t, e.LinkBlocker(ctx, "u1", a.ID, blocker, fixedNow))
		err := e.LinkBlocker(ctx, "u1", a.ID, blocker, fixedNow)
		require.ErrorIs(t, err, ErrDuplicateBlocker)
		assert.Len(t, blockersOf(t, store, a.ID), 1)

		// Same variant with another instant is a distinct blocker.
		require.NoError(t, e.LinkBlocker(ctx, "u1", a.ID, model.TimeBlocker{Millis: 1}, fixedNow))
		require.NoError(t, e.LinkBlocker(ctx, "u1", a.ID, model.TimeBlocker{Millis: 2}, fixedNow))
		require.ErrorIs(t, e.LinkBlocker(ctx, "u1", a.ID, model.TimeBlocker{Millis: 2}, fixedNow), ErrDuplicateBlocker)
	})
}

func TestConcurrentLinkExactlyOneSucceeds(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e *Engine, store storage.Store) {
		a := createTask(t, e, "u1", "A", "")
		b := createTask(t, e, "u1", "B", "")
		blocker := model.TaskBlocker{TaskID: b.ID}

		const callers = 8
		var wg sync.WaitGroup
		errs := make([]error, callers)
		start := make(chan struct{})
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				errs[i] = e.LinkBlocker(context.Background(), "u1", a.ID, blocker, fixedNow)
			}(i)
		}
		close(start)
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			assert.ErrorIs(t, err, ErrDuplicateBlocker)
		}
		assert.Equal(t, 1, succeeded)
		got := blockersOf(t, store, a.ID)
		require.Len(t, got, 1)
		assert.True(t, model.Equal(got[0], blocker))
	})
}

func TestUnlinkAbsentIsNoop(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e *Engine, store storage.Store) {
		ctx := t.Context()
		a := createTask(t, e, "u1", "A", "")
		require.NoError(t, e.UnlinkBlocker(ctx, "u1", a.ID, model.TaskBlocker{TaskID: "never-linked"}))
		require.NoError(t, e.UnlinkBlocker(ctx, "u1", a.ID, model.TaskBlocker{TaskID: "never-linked"}))
		assert.Empty(t, blockersOf(t, store, a.ID))

		err := e.UnlinkBlocker(ctx, "u1", "missing", model.TaskBlocker{TaskID: "x"})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestCrossProjectBlocker(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e *Engine, store storage.Store) {
		ctx := t.Context()
		p1 := seedProject(t, store, "u1", "P1")
		p2 := seedProject(t, store, "u1", "P2")
		a := createTask(t, e, "u1", "A", p1.ID)
		b := createTask(t, e, "u1", "B", p2.ID)
		loose := createTask(t, e, "u1", "loose", "")
		sibling := createTask(t, e, "u1", "sibling", p1.ID)

		err := e.LinkBlocker(ctx, "u1", a.ID, model.TaskBlocker{TaskID: b.ID}, fixedNow)
		require.ErrorIs(t, err, ErrCrossProjectBlocker)
		assert.Empty(t, blockersOf(t, store, a.ID), "no partial write")

		require.NoError(t, e.LinkBlocker(ctx, "u1", a.ID, model.TaskBlocker{TaskID: sibling.ID}, fixedNow))
		require.NoError(t, e.LinkBlocker(ctx, "u1", a.ID, model.TaskBlocker{TaskID: loose.ID}, fixedNow))
		// A task without a project may wait on anything it owns.
		require.NoError(t, e.LinkBlocker(ctx, "u1", loose.ID, model.TaskBlocker{TaskID: b.ID}, fixedNow))

		d := seedDelegation(t, store, model.Delegation{Owner: "u1", Text: "D", Timeout: fixedNow, ProjectID: p2.ID})
		err = e.LinkBlocker(ctx, "u1", a.ID, model.DelegationBlocker{DelegationID: d.ID}, fixedNow)
		assert.ErrorIs(t, err, ErrCrossProjectBlocker)
	})
}

func TestLinkTargetMustExistAndBeOwned(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e *Engine, store storage.Store) {
		ctx := t.Context()
		a := createTask(t, e, "u1", "A", "")
		foreign := createTask(t, e, "u2", "theirs", "")

		assert.ErrorIs(t, e.LinkBlocker(ctx, "u1", a.ID, model.TaskBlocker{TaskID: "nope"}, fixedNow), ErrBlockerTargetMissing)
		assert.ErrorIs(t, e.LinkBlocker(ctx, "u1", a.ID, model.DelegationBlocker{DelegationID: "nope"}, fixedNow), ErrBlockerTargetMissing)
		assert.ErrorIs(t, e.LinkBlocker(ctx, "u1", a.ID, model.TaskBlocker{TaskID: foreign.ID}, fixedNow), ErrBlockerTargetMissing)

		assert.ErrorIs(t, e.LinkBlocker(ctx, "u2", a.ID, model.TimeBlocker{Millis: 5}, fixedNow), ErrNotFound, "task of another owner")
		assert.ErrorIs(t, e.LinkBlocker(ctx, "u1", a.ID, nil, fixedNow), ErrInvalidInput)
		assert.Empty(t, blockersOf(t, store, a.ID))
	})
}

func TestCompletionReleasesDependents(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e *Engine, store storage.Store) {
		ctx := t.Context()
		a := createTask(t, e, "u1", "A", "")
		b := createTask(t, e, "u1", "B", "")
		future := model.TimeBlockerAt(fixedNow.Add(time.Hour))
		require.NoError(t, e.LinkBlocker(ctx, "u1", a.ID, model.TaskBlocker{TaskID: b.ID}, fixedNow))
		require.NoError(t, e.LinkBlocker(ctx, "u1", a.ID, future, fixedNow))

		got, err := e.ListOutstandingBlockers(ctx, "u1", a.ID, fixedNow)
		require.NoError(t, err)
		assert.True(t, model.EqualBlockers(model.Blockers{model.TaskBlocker{TaskID: b.ID}, future}, got))

		require.NoError(t, e.SetCompleted(ctx, "u1", b.ID, true, fixedNow))
		got, err = e.ListOutstandingBlockers(ctx, "u1", a.ID, fixedNow)
		require.NoError(t, err)
		assert.True(t, model.EqualBlockers(model.Blockers{future}, got))

		got, err = e.ListOutstandingBlockers(ctx, "u1", a.ID, fixedNow.Add(time.Hour))
		require.NoError(t, err)
		assert.Empty(t, got)

		require.NoError(t, e.SetCompleted(ctx, "u1", b.ID, false, fixedNow))
		view, err := e.GetTaskView(ctx, "u1", a.ID, fixedNow.Add(2*time.Hour))
		require.NoError(t, err)
		assert.True(t, view.Blocked)
		assert.Len(t, view.Outstanding, 1)

		assert.ErrorIs(t, e.SetCompleted(ctx, "u2", b.ID, true, fixedNow), ErrNotFound)
		_, err = e.ListOutstandingBlockers(ctx, "u2", a.ID, fixedNow)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSetCompletedKeepsFirstCompletionTime(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e *Engine, store storage.Store) {
		ctx := t.Context()
		a := createTask(t, e, "u1", "A", "")
		require.NoError(t, e.SetCompleted(ctx, "u1", a.ID, true, fixedNow))
		require.NoError(t, e.SetCompleted(ctx, "u1", a.ID, true, fixedNow.Add(time.Hour)))

		view, err := e.GetTaskView(ctx, "u1", a.ID, fixedNow)
		require.NoError(t, err)
		require.NotNil(t, view.Task.CompletedAt)
		assert.True(t, view.Task.CompletedAt.Equal(fixedNow))
	})
}

func TestCreateTaskValidation(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e *Engine, store storage.Store) {
		ctx := t.Context()
		p := seedProject(t, store, "u1", "Work")
		b := createTask(t, e, "u1", "B", p.ID)

		_, err := e.CreateTask(ctx, "u1", CreateTaskInput{Text: "   "}, fixedNow)
		assert.ErrorIs(t, err, ErrInvalidInput)

		_, err = e.CreateTask(ctx, "u1", CreateTaskInput{Text: "x", Project: "missing"}, fixedNow)
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = e.CreateTask(ctx, "u2", CreateTaskInput{Text: "x", Project: p.ID}, fixedNow)
		assert.ErrorIs(t, err, ErrNotFound, "project of another owner")

		dup := model.TaskBlocker{TaskID: b.ID}
		_, err = e.CreateTask(ctx, "u1", CreateTaskInput{Text: "x", Blockers: model.Blockers{dup, dup}}, fixedNow)
		assert.ErrorIs(t, err, ErrDuplicateBlocker)

		_, err = e.CreateTask(ctx, "u1", CreateTaskInput{Text: "x", Blockers: model.Blockers{model.TaskBlocker{TaskID: "gone"}}}, fixedNow)
		assert.ErrorIs(t, err, ErrBlockerTargetMissing)

		task, err := e.CreateTask(ctx, "u1", CreateTaskInput{
			Text:     "  y  ",
			Project:  p.ID,
			Blockers: model.Blockers{dup},
		}, fixedNow)
		require.NoError(t, err)
		assert.Equal(t, "y", task.Text)
		assert.Equal(t, p.ID, task.ProjectID)
		assert.True(t, model.EqualBlockers(model.Blockers{dup}, blockersOf(t, store, task.ID)))
	})
}

func TestListTasksFilters(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e *Engine, store storage.Store) {
		ctx := t.Context()
		p := seedProject(t, store, "u1", "Work")
		free := createTask(t, e, "u1", "free", p.ID)
		waiting := createTask(t, e, "u1", "waiting", p.ID)
		later := fixedNow.Add(time.Hour)
		snoozed, err := e.CreateTask(ctx, "u1", CreateTaskInput{Text: "snoozed", BlockedUntil: &later}, fixedNow)
		require.NoError(t, err)
		done := createTask(t, e, "u1", "done", "")
		require.NoError(t, e.LinkBlocker(ctx, "u1", waiting.ID, model.TaskBlocker{TaskID: free.ID}, fixedNow))
		require.NoError(t, e.SetCompleted(ctx, "u1", done.ID, true, fixedNow))

		ids := func(views []TaskView) []string {
			out := make([]string, 0, len(views))
			for _, v := range views {
				out = append(out, v.Task.ID)
			}
			return out
		}

		all, err := e.ListTasks(ctx, "u1", ListTasksFilter{}, fixedNow)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{free.ID, waiting.ID, snoozed.ID}, ids(all))

		yes, no := true, false
		actionable, err := e.ListTasks(ctx, "u1", ListTasksFilter{Actionable: &yes}, fixedNow)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{free.ID}, ids(actionable))

		blocked, err := e.ListTasks(ctx, "u1", ListTasksFilter{Actionable: &no}, fixedNow)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{waiting.ID, snoozed.ID}, ids(blocked))

		inProject, err := e.ListTasks(ctx, "u1", ListTasksFilter{Project: p.ID, IncludeCompleted: true}, fixedNow)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{free.ID, waiting.ID}, ids(inProject))

		withDone, err := e.ListTasks(ctx, "u1", ListTasksFilter{IncludeCompleted: true}, fixedNow)
		require.NoError(t, err)
		assert.Len(t, withDone, 4)

		others, err := e.ListTasks(ctx, "u2", ListTasksFilter{}, fixedNow)
		require.NoError(t, err)
		assert.Empty(t, others)
	})
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []time.Time
}

func (r *recordingNotifier) Notify(_, _ string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, at)
}

func TestTimeBlockersScheduleUnblockNotifications(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e *Engine, store storage.Store) {
		ctx := t.Context()
		rec := &recordingNotifier{}
		e.SetUnblockNotifier(rec)

		inHour := fixedNow.Add(time.Hour).Truncate(time.Millisecond)
		past := fixedNow.Add(-time.Hour)
		task, err := e.CreateTask(ctx, "u1", CreateTaskInput{
			Text:         "A",
			Blockers:     model.Blockers{model.TimeBlockerAt(inHour), model.TimeBlockerAt(past)},
			BlockedUntil: &inHour,
		}, fixedNow)
		require.NoError(t, err)
		require.Len(t, rec.events, 2, "past instants are not scheduled")

		require.NoError(t, e.LinkBlocker(ctx, "u1", task.ID, model.TimeBlockerAt(inHour.Add(time.Minute)), fixedNow))
		require.Len(t, rec.events, 3)
		assert.True(t, rec.events[2].Equal(inHour.Add(time.Minute)))

		require.NoError(t, e.LinkBlocker(ctx, "u1", task.ID, model.TimeBlockerAt(past.Add(time.Minute)), fixedNow))
		require.NoError(t, e.LinkBlocker(ctx, "u1", task.ID, model.TimeBlockerAt(fixedNow), fixedNow))
		assert.Len(t, rec.events, 3, "instants at or before now are not scheduled")
	})
}

func TestRescheduleUnblocksAnnouncesFutureInstants(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e *Engine, store storage.Store) {
		ctx := t.Context()
		inHour := fixedNow.Add(time.Hour).Truncate(time.Millisecond)
		_, err := e.CreateTask(ctx, "u1", CreateTaskInput{Text: "A", Blockers: model.Blockers{model.TimeBlockerAt(inHour)}}, fixedNow)
		require.NoError(t, err)
		_, err = e.CreateTask(ctx, "u2", CreateTaskInput{Text: "B", BlockedUntil: &inHour}, fixedNow)
		require.NoError(t, err)
		done, err := e.CreateTask(ctx, "u1", CreateTaskInput{Text: "C", Blockers: model.Blockers{model.TimeBlockerAt(inHour)}}, fixedNow)
		require.NoError(t, err)
		require.NoError(t, e.SetCompleted(ctx, "u1", done.ID, true, fixedNow))

		n, err := e.RescheduleUnblocks(ctx, fixedNow)
		require.NoError(t, err)
		assert.Zero(t, n, "no notifier installed")

		rec := &recordingNotifier{}
		e.SetUnblockNotifier(rec)
		n, err = e.RescheduleUnblocks(ctx, fixedNow)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Len(t, rec.events, 2)

		n, err = e.RescheduleUnblocks(ctx, inHour)
		require.NoError(t, err)
		assert.Zero(t, n, "instants at now are already due")
	})
}

func TestLinkEpochTimeBlocker(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e *Engine, store storage.Store) {
		ctx := t.Context()
		rec := &recordingNotifier{}
		e.SetUnblockNotifier(rec)
		a := createTask(t, e, "u1", "A", "")

		epoch := model.TimeBlocker{Millis: 0}
		require.NoError(t, e.LinkBlocker(ctx, "u1", a.ID, epoch, fixedNow))
		require.NoError(t, e.LinkBlocker(ctx, "u1", a.ID, model.TimeBlocker{Millis: -1}, fixedNow))
		assert.Empty(t, rec.events)

		view, err := e.GetTaskView(ctx, "u1", a.ID, fixedNow)
		require.NoError(t, err)
		assert.True(t, view.Task.Blockers.Contains(epoch))
		assert.Empty(t, view.Outstanding)
		assert.False(t, view.Blocked)

		for _, now := range []time.Time{time.UnixMilli(0), time.UnixMilli(1), fixedNow} {
			assert.False(t, IsOutstanding(epoch, nil, nil, now), "now=%s", now)
		}
		assert.True(t, IsOutstanding(epoch, nil, nil, time.UnixMilli(-1)))
	})
}
