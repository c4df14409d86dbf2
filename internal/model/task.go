package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidTask       = errors.New("model: invalid task")
	ErrInvalidProject    = errors.New("model: invalid project")
	ErrInvalidDelegation = errors.New("model: invalid delegation")
	ErrInvalidCapture    = errors.New("model: invalid capture")
)

// Well-known project names created lazily per user.
const (
	ProjectNameInbox = "Inbox"
	ProjectNameMisc  = "Misc"
)

type User struct {
	ID             string `json:"id"`
	MiscProjectID  string `json:"misc_project_id,omitempty"`
	InboxProjectID string `json:"inbox_project_id,omitempty"`
}

type Project struct {
	ID         string     `json:"id"`
	Owner      string     `json:"owner"`
	Name       string     `json:"name"`
	Color      string     `json:"color,omitempty"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (p Project) IsArchived() bool {
	return p.ArchivedAt != nil
}

func (p Project) Validate() error {
	if strings.TrimSpace(p.Owner) == "" {
		return fmt.Errorf("%w: owner is required", ErrInvalidProject)
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidProject)
	}
	return nil
}

// Task is the unit of work. ProjectID is optional only for data that has not
// been through the misc-projects migration.
type Task struct {
	ID           string     `json:"id"`
	Owner        string     `json:"owner"`
	Text         string     `json:"text"`
	ProjectID    string     `json:"project_id,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	BlockedUntil *time.Time `json:"blocked_until,omitempty"`
	Blockers     Blockers   `json:"blockers"`
	CreatedAt    time.Time  `json:"created_at"`
}

func (t Task) IsCompleted() bool {
	return t.CompletedAt != nil
}

func (t Task) Validate() error {
	if strings.TrimSpace(t.Owner) == "" {
		return fmt.Errorf("%w: owner is required", ErrInvalidTask)
	}
	if strings.TrimSpace(t.Text) == "" {
		return fmt.Errorf("%w: text is required", ErrInvalidTask)
	}
	if t.CreatedAt.IsZero() {
		return fmt.Errorf("%w: created_at is required", ErrInvalidTask)
	}
	if err := t.Blockers.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTask, err)
	}
	return nil
}

// Delegation is legacy work handed to someone else with a deadline.
// MigratedTaskID is stamped by the abandon-delegations migration and points
// at the task that replaced it.
type Delegation struct {
	ID             string     `json:"id"`
	Owner          string     `json:"owner"`
	Text           string     `json:"text"`
	Timeout        time.Time  `json:"timeout"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	ProjectID      string     `json:"project_id,omitempty"`
	MigratedTaskID string     `json:"migrated_task_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func (d Delegation) IsCompleted() bool {
	return d.CompletedAt != nil
}

func (d Delegation) Validate() error {
	if strings.TrimSpace(d.Owner) == "" {
		return fmt.Errorf("%w: owner is required", ErrInvalidDelegation)
	}
	if strings.TrimSpace(d.Text) == "" {
		return fmt.Errorf("%w: text is required", ErrInvalidDelegation)
	}
	if d.Timeout.IsZero() {
		return fmt.Errorf("%w: timeout is required", ErrInvalidDelegation)
	}
	return nil
}

// Capture is an unstructured inbox note.
type Capture struct {
	ID         string     `json:"id"`
	Owner      string     `json:"owner"`
	Text       string     `json:"text"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (c Capture) IsArchived() bool {
	return c.ArchivedAt != nil
}

func (c Capture) Validate() error {
	if strings.TrimSpace(c.Owner) == "" {
		return fmt.Errorf("%w: owner is required", ErrInvalidCapture)
	}
	if strings.TrimSpace(c.Text) == "" {
		return fmt.Errorf("%w: text is required", ErrInvalidCapture)
	}
	return nil
}
