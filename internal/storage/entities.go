package storage

import (
	"database/sql"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sandeepkv93/tasklane/internal/model"
)

// Row shapes for the SQLite backend. Timestamps are fixed-width UTC text so
// that ORDER BY on the column matches chronological order.

type userRow struct {
	ID             string         `db:"id"`
	MiscProjectID  sql.NullString `db:"misc_project_id"`
	InboxProjectID sql.NullString `db:"inbox_project_id"`
}

type projectRow struct {
	ID         string         `db:"id"`
	Owner      string         `db:"owner"`
	Name       string         `db:"name"`
	Color      string         `db:"color"`
	ArchivedAt sql.NullString `db:"archived_at"`
	CreatedAt  string         `db:"created_at"`
}

type taskRow struct {
	ID           string         `db:"id"`
	Owner        string         `db:"owner"`
	Text         string         `db:"text"`
	ProjectID    sql.NullString `db:"project_id"`
	CompletedAt  sql.NullString `db:"completed_at"`
	BlockedUntil sql.NullString `db:"blocked_until"`
	Blockers     string         `db:"blockers"`
	CreatedAt    string         `db:"created_at"`
}

type delegationRow struct {
	ID             string         `db:"id"`
	Owner          string         `db:"owner"`
	Text           string         `db:"text"`
	TimeoutAt      string         `db:"timeout_at"`
	CompletedAt    sql.NullString `db:"completed_at"`
	ProjectID      sql.NullString `db:"project_id"`
	MigratedTaskID sql.NullString `db:"migrated_task_id"`
	CreatedAt      string         `db:"created_at"`
}

type captureRow struct {
	ID         string         `db:"id"`
	Owner      string         `db:"owner"`
	Text       string         `db:"text"`
	ArchivedAt sql.NullString `db:"archived_at"`
	CreatedAt  string         `db:"created_at"`
}

type markerRow struct {
	Owner       string `db:"owner"`
	Name        string `db:"name"`
	CompletedAt string `db:"completed_at"`
}

func (r userRow) toModel() model.User {
	return model.User{ID: r.ID, MiscProjectID: r.MiscProjectID.String, InboxProjectID: r.InboxProjectID.String}
}

func (r projectRow) toModel() (model.Project, error) {
	out := model.Project{ID: r.ID, Owner: r.Owner, Name: r.Name, Color: r.Color}
	var err error
	if out.ArchivedAt, err = parseNullableTime(r.ArchivedAt); err != nil {
		return model.Project{}, err
	}
	if out.CreatedAt, err = parseRequiredTime(r.CreatedAt); err != nil {
		return model.Project{}, err
	}
	return out, nil
}

func (r taskRow) toModel() (model.Task, error) {
	out := model.Task{ID: r.ID, Owner: r.Owner, Text: r.Text, ProjectID: r.ProjectID.String}
	var err error
	if out.CompletedAt, err = parseNullableTime(r.CompletedAt); err != nil {
		return model.Task{}, err
	}
	if out.BlockedUntil, err = parseNullableTime(r.BlockedUntil); err != nil {
		return model.Task{}, err
	}
	if out.CreatedAt, err = parseRequiredTime(r.CreatedAt); err != nil {
		return model.Task{}, err
	}
	if err := json.Unmarshal([]byte(r.Blockers), &out.Blockers); err != nil {
		return model.Task{}, err
	}
	return out, nil
}

func (r delegationRow) toModel() (model.Delegation, error) {
	out := model.Delegation{
		ID:             r.ID,
		Owner:          r.Owner,
		Text:           r.Text,
		ProjectID:      r.ProjectID.String,
		MigratedTaskID: r.MigratedTaskID.String,
	}
	var err error
	if out.Timeout, err = parseRequiredTime(r.TimeoutAt); err != nil {
		return model.Delegation{}, err
	}
	if out.CompletedAt, err = parseNullableTime(r.CompletedAt); err != nil {
		return model.Delegation{}, err
	}
	if out.CreatedAt, err = parseRequiredTime(r.CreatedAt); err != nil {
		return model.Delegation{}, err
	}
	return out, nil
}

func (r captureRow) toModel() (model.Capture, error) {
	out := model.Capture{ID: r.ID, Owner: r.Owner, Text: r.Text}
	var err error
	if out.ArchivedAt, err = parseNullableTime(r.ArchivedAt); err != nil {
		return model.Capture{}, err
	}
	if out.CreatedAt, err = parseRequiredTime(r.CreatedAt); err != nil {
		return model.Capture{}, err
	}
	return out, nil
}

func encodeBlockers(bs model.Blockers) (string, error) {
	if bs == nil {
		bs = model.Blockers{}
	}
	raw, err := json.Marshal(bs)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func newID() string {
	return uuid.NewString()
}

func stamp(id string, created time.Time) (string, time.Time) {
	if id == "" {
		id = newID()
	}
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return id, created
}

// Listing order shared by both backends: creation time, then id.

func sortTasks(items []model.Task) {
	sort.SliceStable(items, func(i, j int) bool {
		return lessCreated(items[i].CreatedAt, items[j].CreatedAt, items[i].ID, items[j].ID)
	})
}

func sortProjects(items []model.Project) {
	sort.SliceStable(items, func(i, j int) bool {
		return lessCreated(items[i].CreatedAt, items[j].CreatedAt, items[i].ID, items[j].ID)
	})
}

func sortDelegations(items []model.Delegation) {
	sort.SliceStable(items, func(i, j int) bool {
		return lessCreated(items[i].CreatedAt, items[j].CreatedAt, items[i].ID, items[j].ID)
	})
}

func sortCaptures(items []model.Capture) {
	sort.SliceStable(items, func(i, j int) bool {
		return lessCreated(items[i].CreatedAt, items[j].CreatedAt, items[i].ID, items[j].ID)
	})
}

func lessCreated(a, b time.Time, idA, idB string) bool {
	if !a.Equal(b) {
		return a.Before(b)
	}
	return idA < idB
}
