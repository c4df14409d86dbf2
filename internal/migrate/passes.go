package migrate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sandeepkv93/tasklane/internal/model"
	"github.com/sandeepkv93/tasklane/internal/storage"
)

// createExplicitMiscProjects gives every project-less task and delegation of
// owner the owner's Misc project.
func createExplicitMiscProjects(ctx context.Context, tx storage.Tx, owner string, now time.Time) (int, error) {
	misc, touched, err := ensureProject(ctx, tx, owner, model.ProjectNameMisc, now)
	if err != nil {
		return 0, err
	}

	tasks, err := tx.ListTasks(ctx, owner)
	if err != nil {
		return 0, err
	}
	for _, t := range tasks {
		if t.ProjectID != "" {
			continue
		}
		t.ProjectID = misc.ID
		if err := tx.UpdateTask(ctx, t); err != nil {
			return 0, fmt.Errorf("assign task %q: %w", t.ID, err)
		}
		touched++
	}

	delegations, err := tx.ListDelegations(ctx, owner)
	if err != nil {
		return 0, err
	}
	for _, d := range delegations {
		if d.ProjectID != "" {
			continue
		}
		d.ProjectID = misc.ID
		if err := tx.UpdateDelegation(ctx, d); err != nil {
			return 0, fmt.Errorf("assign delegation %q: %w", d.ID, err)
		}
		touched++
	}

	n, err := recordOnUser(ctx, tx, owner, func(u *model.User) bool {
		if u.MiscProjectID == misc.ID {
			return false
		}
		u.MiscProjectID = misc.ID
		return true
	})
	return touched + n, err
}

// createInboxProjects turns every live capture of owner into a task in the
// owner's Inbox project and archives the capture.
func createInboxProjects(ctx context.Context, tx storage.Tx, owner string, now time.Time) (int, error) {
	inbox, touched, err := ensureProject(ctx, tx, owner, model.ProjectNameInbox, now)
	if err != nil {
		return 0, err
	}

	captures, err := tx.ListCaptures(ctx, owner)
	if err != nil {
		return 0, err
	}
	for _, c := range captures {
		if c.IsArchived() {
			continue
		}
		if _, err := tx.InsertTask(ctx, model.Task{
			Owner:     owner,
			Text:      c.Text,
			ProjectID: inbox.ID,
			Blockers:  model.Blockers{},
			CreatedAt: now,
		}); err != nil {
			return 0, fmt.Errorf("convert capture %q: %w", c.ID, err)
		}
		archived := now
		c.ArchivedAt = &archived
		if err := tx.UpdateCapture(ctx, c); err != nil {
			return 0, fmt.Errorf("archive capture %q: %w", c.ID, err)
		}
		touched += 2
	}

	n, err := recordOnUser(ctx, tx, owner, func(u *model.User) bool {
		if u.InboxProjectID == inbox.ID {
			return false
		}
		u.InboxProjectID = inbox.ID
		return true
	})
	return touched + n, err
}

// abandonDelegations replaces every delegation of owner with a task waiting
// until the delegation's timeout, then points every delegation blocker at the
// replacement task. The full mapping is built before any task is relinked.
func abandonDelegations(ctx context.Context, tx storage.Tx, owner string, now time.Time) (int, error) {
	touched := 0
	mapping := make(map[string]string)

	delegations, err := tx.ListDelegations(ctx, owner)
	if err != nil {
		return 0, err
	}
	for _, d := range delegations {
		if d.MigratedTaskID != "" {
			mapping[d.ID] = d.MigratedTaskID
			continue
		}
		replacement := model.Task{
			Owner:     owner,
			Text:      d.Text,
			ProjectID: d.ProjectID,
			Blockers:  model.Blockers{model.TimeBlockerAt(d.Timeout)},
			CreatedAt: now,
		}
		if d.IsCompleted() {
			done := *d.CompletedAt
			replacement.CompletedAt = &done
		}
		inserted, err := tx.InsertTask(ctx, replacement)
		if err != nil {
			return 0, fmt.Errorf("replace delegation %q: %w", d.ID, err)
		}
		mapping[d.ID] = inserted.ID

		d.MigratedTaskID = inserted.ID
		if !d.IsCompleted() {
			retired := now
			d.CompletedAt = &retired
		}
		if err := tx.UpdateDelegation(ctx, d); err != nil {
			return 0, fmt.Errorf("retire delegation %q: %w", d.ID, err)
		}
		touched += 2
	}

	// Listed after the replacements exist so they are rewritten too.
	tasks, err := tx.ListTasks(ctx, owner)
	if err != nil {
		return 0, err
	}
	for _, t := range tasks {
		next, changed, err := relink(t, mapping)
		if err != nil {
			return 0, err
		}
		if !changed {
			continue
		}
		t.Blockers = next
		if err := tx.UpdateTask(ctx, t); err != nil {
			return 0, fmt.Errorf("relink task %q: %w", t.ID, err)
		}
		touched++
	}
	return touched, nil
}

// relink rewrites delegation blockers through mapping. When a rewritten
// blocker equals another entry only the first occurrence is kept.
func relink(t model.Task, mapping map[string]string) (model.Blockers, bool, error) {
	changed := false
	out := make(model.Blockers, 0, len(t.Blockers))
	for _, b := range t.Blockers {
		db, ok := b.(model.DelegationBlocker)
		if !ok {
			out = append(out, b)
			continue
		}
		taskID, ok := mapping[db.DelegationID]
		if !ok {
			return nil, false, fmt.Errorf("%w: task %q references delegation %q", ErrMissingMigrationMapping, t.ID, db.DelegationID)
		}
		changed = true
		out = append(out, model.TaskBlocker{TaskID: taskID})
	}
	if !changed {
		return t.Blockers, false, nil
	}
	deduped := make(model.Blockers, 0, len(out))
	for _, b := range out {
		if !deduped.Contains(b) {
			deduped = append(deduped, b)
		}
	}
	return deduped, true, nil
}

// ensureProject finds the owner's live project called name or creates it.
// The returned count is 1 when a project was created.
func ensureProject(ctx context.Context, tx storage.Tx, owner, name string, now time.Time) (model.Project, int, error) {
	p, err := tx.FindProjectByName(ctx, owner, name)
	if err == nil {
		return p, 0, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return model.Project{}, 0, err
	}
	p, err = tx.InsertProject(ctx, model.Project{Owner: owner, Name: name, CreatedAt: now})
	if err != nil {
		return model.Project{}, 0, fmt.Errorf("create project %q: %w", name, err)
	}
	return p, 1, nil
}

func recordOnUser(ctx context.Context, tx storage.Tx, owner string, apply func(*model.User) bool) (int, error) {
	u, err := tx.GetUser(ctx, owner)
	if err != nil {
		return 0, fmt.Errorf("load user %q: %w", owner, err)
	}
	if !apply(&u) {
		return 0, nil
	}
	if err := tx.UpdateUser(ctx, u); err != nil {
		return 0, fmt.Errorf("update user %q: %w", owner, err)
	}
	return 1, nil
}
