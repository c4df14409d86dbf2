// Package dependency owns the blocker rules of a task: linking and unlinking
// blockers, completion, and whether a task is currently actionable.
package dependency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sandeepkv93/tasklane/internal/model"
	"github.com/sandeepkv93/tasklane/internal/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// UnblockNotifier is told about instants at which a task may become
// actionable because a time blocker or blocked-until time expires.
type UnblockNotifier interface {
	Notify(owner, taskID string, at time.Time)
}

type Engine struct {
	store    storage.Store
	logger   *slog.Logger
	notifier UnblockNotifier
}

func NewEngine(store storage.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{store: store, logger: logger.With(slog.String("component", "dependency"))}
}

// SetUnblockNotifier must be called before the engine serves requests.
func (e *Engine) SetUnblockNotifier(n UnblockNotifier) {
	e.notifier = n
}

type CreateTaskInput struct {
	Text         string
	Project      string
	Blockers     model.Blockers
	BlockedUntil *time.Time
}

// TaskView is a task together with its blocker state at evaluation time.
type TaskView struct {
	Task        model.Task     `json:"task"`
	Outstanding model.Blockers `json:"outstanding"`
	Blocked     bool           `json:"blocked"`
}

type ListTasksFilter struct {
	Project string
	// Actionable keeps only unblocked tasks when true and only blocked tasks
	// when false. Nil keeps both.
	Actionable       *bool
	IncludeCompleted bool
}

func (e *Engine) CreateTask(ctx context.Context, owner string, in CreateTaskInput, now time.Time) (model.Task, error) {
	ctx, span := tracer.Start(ctx, "dependency.CreateTask", trace.WithAttributes(
		attribute.String("owner", owner),
		attribute.Int("blockers", len(in.Blockers)),
	))
	created, err := e.createTask(ctx, owner, in, now)
	finishSpan(span, "create", err)
	if err != nil {
		return model.Task{}, err
	}

	e.logger.Debug("task created", slog.String("owner", owner), slog.String("task_id", created.ID))
	for _, b := range created.Blockers {
		if tb, ok := b.(model.TimeBlocker); ok {
			e.notify(owner, created.ID, tb.Until(), now)
		}
	}
	if created.BlockedUntil != nil {
		e.notify(owner, created.ID, *created.BlockedUntil, now)
	}
	return created, nil
}

func (e *Engine) createTask(ctx context.Context, owner string, in CreateTaskInput, now time.Time) (model.Task, error) {
	if strings.TrimSpace(owner) == "" {
		return model.Task{}, fmt.Errorf("%w: owner is required", ErrInvalidInput)
	}
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return model.Task{}, fmt.Errorf("%w: text is required", ErrInvalidInput)
	}
	for i, b := range in.Blockers {
		if err := model.ValidateBlocker(b); err != nil {
			return model.Task{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		if in.Blockers[:i].Contains(b) {
			return model.Task{}, fmt.Errorf("%w: %s", ErrDuplicateBlocker, b)
		}
	}

	var created model.Task
	err := e.store.Update(ctx, func(tx storage.Tx) error {
		if in.Project != "" {
			project, err := tx.GetProject(ctx, in.Project)
			if errors.Is(err, storage.ErrNotFound) || (err == nil && (project.Owner != owner || project.IsArchived())) {
				return fmt.Errorf("%w: project %q", ErrNotFound, in.Project)
			}
			if err != nil {
				return err
			}
		}
		for _, b := range in.Blockers {
			if err := checkTarget(ctx, tx, owner, in.Project, b); err != nil {
				return err
			}
		}
		task := model.Task{
			Owner:        owner,
			Text:         text,
			ProjectID:    in.Project,
			BlockedUntil: in.BlockedUntil,
			Blockers:     in.Blockers.Clone(),
			CreatedAt:    now.UTC(),
		}
		var err error
		created, err = tx.InsertTask(ctx, task)
		return err
	})
	if err != nil {
		return model.Task{}, err
	}
	return created, nil
}

// LinkBlocker appends b to the task's blockers. The duplicate check runs
// inside the write transaction against the latest committed state. A task or
// delegation target must belong to owner and, when both sides have a
// project, to the task's project; a target with no project links from any
// project. A time blocker already due at now is not scheduled.
func (e *Engine) LinkBlocker(ctx context.Context, owner, taskID string, b model.Blocker, now time.Time) error {
	ctx, span := tracer.Start(ctx, "dependency.LinkBlocker", trace.WithAttributes(
		attribute.String("owner", owner),
		attribute.String("task_id", taskID),
		attribute.String("blocker", blockerLabel(b)),
	))
	err := e.linkBlocker(ctx, owner, taskID, b)
	finishSpan(span, "link", err)
	if err != nil {
		return err
	}

	e.logger.Debug("blocker linked",
		slog.String("owner", owner),
		slog.String("task_id", taskID),
		slog.String("blocker", b.String()),
	)
	if tb, ok := b.(model.TimeBlocker); ok {
		e.notify(owner, taskID, tb.Until(), now)
	}
	return nil
}

func (e *Engine) linkBlocker(ctx context.Context, owner, taskID string, b model.Blocker) error {
	if err := model.ValidateBlocker(b); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return e.store.Update(ctx, func(tx storage.Tx) error {
		task, err := loadOwnedTask(ctx, tx, owner, taskID)
		if err != nil {
			return err
		}
		if task.Blockers.Contains(b) {
			return fmt.Errorf("%w: %s on task %q", ErrDuplicateBlocker, b, taskID)
		}
		if err := checkTarget(ctx, tx, owner, task.ProjectID, b); err != nil {
			return err
		}
		task.Blockers = append(task.Blockers.Clone(), b)
		return tx.UpdateTask(ctx, task)
	})
}

// UnlinkBlocker removes every blocker equal to b. Removing an absent blocker
// succeeds without writing.
func (e *Engine) UnlinkBlocker(ctx context.Context, owner, taskID string, b model.Blocker) error {
	ctx, span := tracer.Start(ctx, "dependency.UnlinkBlocker", trace.WithAttributes(
		attribute.String("owner", owner),
		attribute.String("task_id", taskID),
		attribute.String("blocker", blockerLabel(b)),
	))
	var removed bool
	err := e.store.Update(ctx, func(tx storage.Tx) error {
		removed = false
		task, err := loadOwnedTask(ctx, tx, owner, taskID)
		if err != nil {
			return err
		}
		next, ok := task.Blockers.Without(b)
		if !ok {
			return nil
		}
		removed = true
		task.Blockers = next
		return tx.UpdateTask(ctx, task)
	})
	span.SetAttributes(attribute.Bool("removed", removed))
	finishSpan(span, "unlink", err)
	if err != nil {
		return err
	}
	if removed {
		e.logger.Debug("blocker unlinked", slog.String("owner", owner), slog.String("task_id", taskID))
	}
	return nil
}

// SetCompleted sets or clears the completion time. Tasks blocked on this one
// observe the change the next time they are evaluated.
func (e *Engine) SetCompleted(ctx context.Context, owner, taskID string, completed bool, now time.Time) error {
	ctx, span := tracer.Start(ctx, "dependency.SetCompleted", trace.WithAttributes(
		attribute.String("owner", owner),
		attribute.String("task_id", taskID),
		attribute.Bool("completed", completed),
	))
	err := e.store.Update(ctx, func(tx storage.Tx) error {
		task, err := loadOwnedTask(ctx, tx, owner, taskID)
		if err != nil {
			return err
		}
		if task.IsCompleted() == completed {
			return nil
		}
		if completed {
			at := now.UTC()
			task.CompletedAt = &at
		} else {
			task.CompletedAt = nil
		}
		return tx.UpdateTask(ctx, task)
	})
	finishSpan(span, "complete", err)
	if err == nil {
		e.logger.Debug("task completion set", slog.String("task_id", taskID), slog.Bool("completed", completed))
	}
	return err
}

// ListOutstandingBlockers returns the task's outstanding blockers in order.
func (e *Engine) ListOutstandingBlockers(ctx context.Context, owner, taskID string, now time.Time) (model.Blockers, error) {
	view, err := e.GetTaskView(ctx, owner, taskID, now)
	if err != nil {
		return nil, err
	}
	return view.Outstanding, nil
}

func (e *Engine) GetTaskView(ctx context.Context, owner, taskID string, now time.Time) (TaskView, error) {
	ctx, span := tracer.Start(ctx, "dependency.GetTaskView", trace.WithAttributes(
		attribute.String("owner", owner),
		attribute.String("task_id", taskID),
	))
	var view TaskView
	err := e.store.View(ctx, func(tx storage.Tx) error {
		task, err := loadOwnedTask(ctx, tx, owner, taskID)
		if err != nil {
			return err
		}
		r := newTxResolver(ctx, tx, owner)
		view = evaluate(task, r.task, r.delegation, now)
		return r.err
	})
	finishSpan(span, "view", err)
	if err != nil {
		return TaskView{}, err
	}
	return view, nil
}

// ListTasks evaluates every task of owner that passes filter, in creation
// order.
func (e *Engine) ListTasks(ctx context.Context, owner string, filter ListTasksFilter, now time.Time) ([]TaskView, error) {
	ctx, span := tracer.Start(ctx, "dependency.ListTasks", trace.WithAttributes(attribute.String("owner", owner)))
	var out []TaskView
	err := e.store.View(ctx, func(tx storage.Tx) error {
		tasks, err := tx.ListTasks(ctx, owner)
		if err != nil {
			return err
		}
		delegations, err := tx.ListDelegations(ctx, owner)
		if err != nil {
			return err
		}
		byTask := make(map[string]model.Task, len(tasks))
		for _, t := range tasks {
			byTask[t.ID] = t
		}
		byDelegation := make(map[string]model.Delegation, len(delegations))
		for _, d := range delegations {
			byDelegation[d.ID] = d
		}

		resolveTask, resolveDelegation := MapTaskResolver(byTask), MapDelegationResolver(byDelegation)
		out = make([]TaskView, 0, len(tasks))
		for _, t := range tasks {
			if filter.Project != "" && t.ProjectID != filter.Project {
				continue
			}
			if t.IsCompleted() && !filter.IncludeCompleted {
				continue
			}
			view := evaluate(t, resolveTask, resolveDelegation, now)
			if filter.Actionable != nil && *filter.Actionable == view.Blocked {
				continue
			}
			out = append(out, view)
		}
		return nil
	})
	span.SetAttributes(attribute.Int("tasks", len(out)))
	finishSpan(span, "list", err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RescheduleUnblocks re-announces every future unblock instant of every
// incomplete task to the notifier. It returns how many were announced.
func (e *Engine) RescheduleUnblocks(ctx context.Context, now time.Time) (int, error) {
	if e.notifier == nil {
		return 0, nil
	}
	type pending struct {
		owner, taskID string
		at            time.Time
	}
	var found []pending
	err := e.store.View(ctx, func(tx storage.Tx) error {
		found = found[:0]
		users, err := tx.ListUsers(ctx)
		if err != nil {
			return err
		}
		for _, u := range users {
			tasks, err := tx.ListTasks(ctx, u.ID)
			if err != nil {
				return err
			}
			for _, t := range tasks {
				if t.IsCompleted() {
					continue
				}
				for _, b := range t.Blockers {
					if tb, ok := b.(model.TimeBlocker); ok && tb.Until().After(now) {
						found = append(found, pending{u.ID, t.ID, tb.Until()})
					}
				}
				if t.BlockedUntil != nil && t.BlockedUntil.After(now) {
					found = append(found, pending{u.ID, t.ID, *t.BlockedUntil})
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan pending unblocks: %w", err)
	}
	for _, p := range found {
		e.notifier.Notify(p.owner, p.taskID, p.at)
	}
	e.logger.Info("pending unblocks scheduled", slog.Int("count", len(found)))
	return len(found), nil
}

func (e *Engine) notify(owner, taskID string, at, now time.Time) {
	if e.notifier == nil {
		return
	}
	if !at.After(now) {
		return
	}
	e.notifier.Notify(owner, taskID, at)
}

func evaluate(task model.Task, resolveTask TaskResolver, resolveDelegation DelegationResolver, now time.Time) TaskView {
	outstanding := OutstandingBlockers(task, resolveTask, resolveDelegation, now)
	outstandingFound.Observe(float64(len(outstanding)))
	return TaskView{Task: task, Outstanding: outstanding, Blocked: blockedWith(task, outstanding, now)}
}

func loadOwnedTask(ctx context.Context, tx storage.Tx, owner, taskID string) (model.Task, error) {
	task, err := tx.GetTask(ctx, taskID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && task.Owner != owner) {
		return model.Task{}, fmt.Errorf("%w: task %q", ErrNotFound, taskID)
	}
	if err != nil {
		return model.Task{}, err
	}
	return task, nil
}

// checkTarget applies the link rules for b on a task in project. A target
// owned by someone else is reported as missing. A target with no project
// yet may be linked from any project.
func checkTarget(ctx context.Context, tx storage.Tx, owner, project string, b model.Blocker) error {
	var targetOwner, targetProject string
	switch v := b.(type) {
	case model.TaskBlocker:
		target, err := tx.GetTask(ctx, v.TaskID)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: task %q", ErrBlockerTargetMissing, v.TaskID)
		}
		if err != nil {
			return err
		}
		targetOwner, targetProject = target.Owner, target.ProjectID
	case model.DelegationBlocker:
		target, err := tx.GetDelegation(ctx, v.DelegationID)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: delegation %q", ErrBlockerTargetMissing, v.DelegationID)
		}
		if err != nil {
			return err
		}
		targetOwner, targetProject = target.Owner, target.ProjectID
	case model.TimeBlocker:
		return nil
	default:
		return fmt.Errorf("%w: unknown blocker %T", ErrInvalidInput, b)
	}

	if targetOwner != owner {
		return fmt.Errorf("%w: %s", ErrBlockerTargetMissing, b)
	}
	if project != "" && targetProject != "" && targetProject != project {
		return fmt.Errorf("%w: %s is in project %q, task is in %q", ErrCrossProjectBlocker, b, targetProject, project)
	}
	return nil
}

// txResolver resolves blocker targets through a transaction, scoped to one
// owner. The first store failure is kept in err since resolvers cannot
// return one.
type txResolver struct {
	ctx   context.Context
	tx    storage.Tx
	owner string
	err   error
}

func newTxResolver(ctx context.Context, tx storage.Tx, owner string) *txResolver {
	return &txResolver{ctx: ctx, tx: tx, owner: owner}
}

func (r *txResolver) task(id string) (model.Task, bool) {
	t, err := r.tx.GetTask(r.ctx, id)
	if err != nil {
		r.keep(err)
		return model.Task{}, false
	}
	return t, t.Owner == r.owner
}

func (r *txResolver) delegation(id string) (model.Delegation, bool) {
	d, err := r.tx.GetDelegation(r.ctx, id)
	if err != nil {
		r.keep(err)
		return model.Delegation{}, false
	}
	return d, d.Owner == r.owner
}

func (r *txResolver) keep(err error) {
	if r.err == nil && !errors.Is(err, storage.ErrNotFound) {
		r.err = err
	}
}

func blockerLabel(b model.Blocker) string {
	if b == nil {
		return "nil"
	}
	return string(b.Kind())
}
