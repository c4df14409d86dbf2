package dependency

import (
	"time"

	"github.com/sandeepkv93/tasklane/internal/model"
)

// TaskResolver looks up a task by id. ok is false when the task cannot be
// resolved.
type TaskResolver func(id string) (task model.Task, ok bool)

// DelegationResolver looks up a delegation by id.
type DelegationResolver func(id string) (delegation model.Delegation, ok bool)

// IsOutstanding reports whether b still holds its task back at now. A task
// or delegation that cannot be resolved counts as outstanding, so a dangling
// reference never unblocks anything. A time blocker releases at the exact
// millisecond it names.
func IsOutstanding(b model.Blocker, resolveTask TaskResolver, resolveDelegation DelegationResolver, now time.Time) bool {
	switch v := b.(type) {
	case model.TaskBlocker:
		if resolveTask == nil {
			return true
		}
		target, ok := resolveTask(v.TaskID)
		return !ok || !target.IsCompleted()
	case model.DelegationBlocker:
		if resolveDelegation == nil {
			return true
		}
		target, ok := resolveDelegation(v.DelegationID)
		return !ok || !target.IsCompleted()
	case model.TimeBlocker:
		return now.UnixMilli() < v.Millis
	default:
		return true
	}
}

// OutstandingBlockers filters task's blockers through IsOutstanding, keeping
// their order.
func OutstandingBlockers(task model.Task, resolveTask TaskResolver, resolveDelegation DelegationResolver, now time.Time) model.Blockers {
	out := model.Blockers{}
	for _, b := range task.Blockers {
		if IsOutstanding(b, resolveTask, resolveDelegation, now) {
			out = append(out, b)
		}
	}
	return out
}

// IsBlocked reports whether task is not actionable at now: it has an
// outstanding blocker or its blocked-until time is still ahead.
func IsBlocked(task model.Task, resolveTask TaskResolver, resolveDelegation DelegationResolver, now time.Time) bool {
	return blockedWith(task, OutstandingBlockers(task, resolveTask, resolveDelegation, now), now)
}

func blockedWith(task model.Task, outstanding model.Blockers, now time.Time) bool {
	if task.BlockedUntil != nil && now.Before(*task.BlockedUntil) {
		return true
	}
	return len(outstanding) > 0
}

// MapTaskResolver resolves against an in-memory id index.
func MapTaskResolver(tasks map[string]model.Task) TaskResolver {
	return func(id string) (model.Task, bool) {
		t, ok := tasks[id]
		return t, ok
	}
}

func MapDelegationResolver(delegations map[string]model.Delegation) DelegationResolver {
	return func(id string) (model.Delegation, bool) {
		d, ok := delegations[id]
		return d, ok
	}
}
