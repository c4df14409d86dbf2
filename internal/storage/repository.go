package storage

import (
	"context"
	"errors"
	"time"

	"github.com/sandeepkv93/tasklane/internal/model"
)

var (
	ErrNotFound     = errors.New("storage: not found")
	ErrNameConflict = errors.New("storage: project name already in use")
)

// Store runs transactions against the entity store. Every write made inside
// fn commits atomically or not at all; a non-nil error from fn rolls back.
// Implementations may call fn more than once when a commit conflicts, so fn
// must not keep state across calls.
type Store interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// Tx is the document view available inside one transaction. Insert methods
// assign an id when the input has none and register the owner as a user.
// Reads observe the transaction's own earlier writes.
type Tx interface {
	GetUser(ctx context.Context, id string) (model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	UpdateUser(ctx context.Context, in model.User) error

	GetProject(ctx context.Context, id string) (model.Project, error)
	FindProjectByName(ctx context.Context, owner, name string) (model.Project, error)
	ListProjects(ctx context.Context, owner string) ([]model.Project, error)
	InsertProject(ctx context.Context, in model.Project) (model.Project, error)
	UpdateProject(ctx context.Context, in model.Project) error

	GetTask(ctx context.Context, id string) (model.Task, error)
	ListTasks(ctx context.Context, owner string) ([]model.Task, error)
	InsertTask(ctx context.Context, in model.Task) (model.Task, error)
	UpdateTask(ctx context.Context, in model.Task) error

	GetDelegation(ctx context.Context, id string) (model.Delegation, error)
	ListDelegations(ctx context.Context, owner string) ([]model.Delegation, error)
	InsertDelegation(ctx context.Context, in model.Delegation) (model.Delegation, error)
	UpdateDelegation(ctx context.Context, in model.Delegation) error

	GetCapture(ctx context.Context, id string) (model.Capture, error)
	ListCaptures(ctx context.Context, owner string) ([]model.Capture, error)
	InsertCapture(ctx context.Context, in model.Capture) (model.Capture, error)
	UpdateCapture(ctx context.Context, in model.Capture) error

	GetMigrationMarker(ctx context.Context, owner, name string) (MigrationMarker, error)
	PutMigrationMarker(ctx context.Context, in MigrationMarker) error
}

// MigrationMarker records that a data migration pass finished for one user.
type MigrationMarker struct {
	Owner       string    `json:"owner"`
	Name        string    `json:"name"`
	CompletedAt time.Time `json:"completed_at"`
}
