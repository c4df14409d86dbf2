package dependency

import (
	"testing"
	"time"

	"github.com/sandeepkv93/tasklane/internal/model"
	"github.com/stretchr/testify/assert"
)

var fixedNow = time.Date(2026, 2, 9, 12, 0, 0, 0, time.UTC)

func TestIsOutstandingTimeBoundary(t *testing.T) {
	ms := fixedNow.UnixMilli()
	assert.False(t, IsOutstanding(model.TimeBlocker{Millis: ms - 1}, nil, nil, fixedNow))
	assert.False(t, IsOutstanding(model.TimeBlocker{Millis: ms}, nil, nil, fixedNow), "released at the exact instant")
	assert.True(t, IsOutstanding(model.TimeBlocker{Millis: ms + 1}, nil, nil, fixedNow))
}

func TestIsOutstandingResolvesTargets(t *testing.T) {
	done := fixedNow.Add(-time.Hour)
	tasks := MapTaskResolver(map[string]model.Task{
		"open": {ID: "open"},
		"done": {ID: "done", CompletedAt: &done},
	})
	delegations := MapDelegationResolver(map[string]model.Delegation{
		"d-open": {ID: "d-open"},
		"d-done": {ID: "d-done", CompletedAt: &done},
	})

	cases := []struct {
		name string
		b    model.Blocker
		want bool
	}{
		{"open task", model.TaskBlocker{TaskID: "open"}, true},
		{"completed task", model.TaskBlocker{TaskID: "done"}, false},
		{"missing task", model.TaskBlocker{TaskID: "gone"}, true},
		{"open delegation", model.DelegationBlocker{DelegationID: "d-open"}, true},
		{"completed delegation", model.DelegationBlocker{DelegationID: "d-done"}, false},
		{"missing delegation", model.DelegationBlocker{DelegationID: "gone"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsOutstanding(tc.b, tasks, delegations, fixedNow))
		})
	}

	assert.True(t, IsOutstanding(model.TaskBlocker{TaskID: "done"}, nil, nil, fixedNow), "no resolver means unresolvable")
}

func TestOutstandingBlockersKeepsOrder(t *testing.T) {
	done := fixedNow
	tasks := MapTaskResolver(map[string]model.Task{
		"a": {ID: "a"},
		"b": {ID: "b", CompletedAt: &done},
		"c": {ID: "c"},
	})
	task := model.Task{Blockers: model.Blockers{
		model.TaskBlocker{TaskID: "c"},
		model.TaskBlocker{TaskID: "b"},
		model.TimeBlockerAt(fixedNow.Add(time.Minute)),
		model.TaskBlocker{TaskID: "a"},
		model.TimeBlockerAt(fixedNow.Add(-time.Minute)),
	}}

	got := OutstandingBlockers(task, tasks, nil, fixedNow)
	want := model.Blockers{
		model.TaskBlocker{TaskID: "c"},
		model.TimeBlockerAt(fixedNow.Add(time.Minute)),
		model.TaskBlocker{TaskID: "a"},
	}
	assert.True(t, model.EqualBlockers(want, got), "got %v", got)
}

func TestIsBlockedConsidersBlockedUntil(t *testing.T) {
	later := fixedNow.Add(time.Hour)
	earlier := fixedNow.Add(-time.Hour)

	assert.False(t, IsBlocked(model.Task{}, nil, nil, fixedNow))
	assert.True(t, IsBlocked(model.Task{BlockedUntil: &later}, nil, nil, fixedNow))
	assert.False(t, IsBlocked(model.Task{BlockedUntil: &earlier}, nil, nil, fixedNow))
	assert.True(t, IsBlocked(model.Task{
		BlockedUntil: &earlier,
		Blockers:     model.Blockers{model.TimeBlockerAt(later)},
	}, nil, nil, fixedNow))
}

func TestTaskViewAgreesWithIsBlocked(t *testing.T) {
	later := fixedNow.Add(time.Hour)
	earlier := fixedNow.Add(-time.Hour)
	done := model.Task{ID: "done", CompletedAt: &earlier}
	resolve := MapTaskResolver(map[string]model.Task{"done": done, "open": {ID: "open"}})

	tasks := []model.Task{
		{},
		{BlockedUntil: &later},
		{BlockedUntil: &earlier},
		{Blockers: model.Blockers{model.TaskBlocker{TaskID: "done"}}},
		{Blockers: model.Blockers{model.TaskBlocker{TaskID: "open"}}},
		{BlockedUntil: &earlier, Blockers: model.Blockers{model.TimeBlockerAt(later)}},
		{BlockedUntil: &later, Blockers: model.Blockers{model.TimeBlocker{Millis: 0}}},
	}
	for i, task := range tasks {
		view := evaluate(task, resolve, nil, fixedNow)
		assert.Equal(t, IsBlocked(task, resolve, nil, fixedNow), view.Blocked, "case %d", i)
	}
}
