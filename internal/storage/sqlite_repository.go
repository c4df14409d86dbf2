package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sandeepkv93/tasklane/internal/model"
)

const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteDSN returns the connection string used for task databases. Write
// transactions take the database lock at BEGIN, so a read-check-write
// sequence cannot interleave with another writer.
func SQLiteDSN(path string) string {
	return path + "?_txlock=immediate&_busy_timeout=5000"
}

// SQLiteReadDSN returns the connection string for views. Its transactions
// are deferred and query-only, so they run alongside a pending writer.
func SQLiteReadDSN(path string) string {
	return path + "?_busy_timeout=5000&_query_only=true"
}

type SQLiteStore struct {
	db     *sqlx.DB
	reader *sqlx.DB
}

// NewSQLiteStore wraps db for writes and reader for views. A nil reader
// sends views through db.
func NewSQLiteStore(db, reader *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("storage: nil db")
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	store := &SQLiteStore{db: sqlx.NewDb(db, "sqlite3")}
	store.reader = store.db
	if reader != nil {
		if err := reader.Ping(); err != nil {
			return nil, fmt.Errorf("ping sqlite reader: %w", err)
		}
		store.reader = sqlx.NewDb(reader, "sqlite3")
	}
	return store, nil
}

// OpenSQLite opens the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", SQLiteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := MigrateUp(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	reader, err := sql.Open("sqlite3", SQLiteReadDSN(path))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open sqlite reader: %w", err)
	}
	store, err := NewSQLiteStore(db, reader)
	if err != nil {
		_ = reader.Close()
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	var readerErr error
	if s.reader != s.db {
		readerErr = s.reader.Close()
	}
	return errors.Join(s.db.Close(), readerErr)
}

func (s *SQLiteStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sqlite tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sqlite tx: %w", err)
	}
	return nil
}

// View runs fn in a read transaction that is always rolled back.
func (s *SQLiteStore) View(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.reader.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sqlite tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	return fn(&sqliteTx{tx: tx})
}

type sqliteTx struct {
	tx *sqlx.Tx
}

func (t *sqliteTx) ensureUser(ctx context.Context, id string) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO users (id) VALUES (?) ON CONFLICT(id) DO NOTHING`, id)
	return err
}

func (t *sqliteTx) GetUser(ctx context.Context, id string) (model.User, error) {
	var row userRow
	err := t.tx.GetContext(ctx, &row, `SELECT id, misc_project_id, inbox_project_id FROM users WHERE id = ?`, id)
	if err != nil {
		return model.User{}, notFound(err)
	}
	return row.toModel(), nil
}

func (t *sqliteTx) ListUsers(ctx context.Context) ([]model.User, error) {
	var rows []userRow
	if err := t.tx.SelectContext(ctx, &rows, `SELECT id, misc_project_id, inbox_project_id FROM users ORDER BY id ASC`); err != nil {
		return nil, err
	}
	out := make([]model.User, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

func (t *sqliteTx) UpdateUser(ctx context.Context, in model.User) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE users SET misc_project_id = ?, inbox_project_id = ? WHERE id = ?`,
		nullString(in.MiscProjectID), nullString(in.InboxProjectID), in.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

const projectColumns = `id, owner, name, color, archived_at, created_at`

func (t *sqliteTx) GetProject(ctx context.Context, id string) (model.Project, error) {
	var row projectRow
	if err := t.tx.GetContext(ctx, &row, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id); err != nil {
		return model.Project{}, notFound(err)
	}
	return row.toModel()
}

func (t *sqliteTx) FindProjectByName(ctx context.Context, owner, name string) (model.Project, error) {
	var row projectRow
	err := t.tx.GetContext(ctx, &row, `
		SELECT `+projectColumns+` FROM projects
		WHERE owner = ? AND name = ? AND archived_at IS NULL`, owner, name)
	if err != nil {
		return model.Project{}, notFound(err)
	}
	return row.toModel()
}

func (t *sqliteTx) ListProjects(ctx context.Context, owner string) ([]model.Project, error) {
	var rows []projectRow
	err := t.tx.SelectContext(ctx, &rows, `
		SELECT `+projectColumns+` FROM projects WHERE owner = ? ORDER BY created_at ASC, id ASC`, owner)
	if err != nil {
		return nil, err
	}
	out := make([]model.Project, 0, len(rows))
	for _, row := range rows {
		item, convErr := row.toModel()
		if convErr != nil {
			return nil, convErr
		}
		out = append(out, item)
	}
	return out, nil
}

func (t *sqliteTx) InsertProject(ctx context.Context, in model.Project) (model.Project, error) {
	if err := in.Validate(); err != nil {
		return model.Project{}, err
	}
	if err := t.checkProjectName(ctx, in); err != nil {
		return model.Project{}, err
	}
	in.ID, in.CreatedAt = stamp(in.ID, in.CreatedAt)
	if err := t.ensureUser(ctx, in.Owner); err != nil {
		return model.Project{}, err
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO projects (id, owner, name, color, archived_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		in.ID, in.Owner, in.Name, in.Color, nullTime(in.ArchivedAt), mustTime(in.CreatedAt),
	)
	if err != nil {
		return model.Project{}, err
	}
	return in, nil
}

func (t *sqliteTx) UpdateProject(ctx context.Context, in model.Project) error {
	if err := in.Validate(); err != nil {
		return err
	}
	if err := t.checkProjectName(ctx, in); err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE projects SET name = ?, color = ?, archived_at = ? WHERE id = ?`,
		in.Name, in.Color, nullTime(in.ArchivedAt), in.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

// checkProjectName enforces one non-archived project per owner and name.
func (t *sqliteTx) checkProjectName(ctx context.Context, in model.Project) error {
	if in.IsArchived() {
		return nil
	}
	existing, err := t.FindProjectByName(ctx, in.Owner, in.Name)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.ID != in.ID {
		return fmt.Errorf("%w: %q", ErrNameConflict, in.Name)
	}
	return nil
}

const taskColumns = `id, owner, text, project_id, completed_at, blocked_until, blockers, created_at`

func (t *sqliteTx) GetTask(ctx context.Context, id string) (model.Task, error) {
	var row taskRow
	if err := t.tx.GetContext(ctx, &row, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id); err != nil {
		return model.Task{}, notFound(err)
	}
	return row.toModel()
}

func (t *sqliteTx) ListTasks(ctx context.Context, owner string) ([]model.Task, error) {
	var rows []taskRow
	err := t.tx.SelectContext(ctx, &rows, `
		SELECT `+taskColumns+` FROM tasks WHERE owner = ? ORDER BY created_at ASC, id ASC`, owner)
	if err != nil {
		return nil, err
	}
	out := make([]model.Task, 0, len(rows))
	for _, row := range rows {
		item, convErr := row.toModel()
		if convErr != nil {
			return nil, convErr
		}
		out = append(out, item)
	}
	return out, nil
}

func (t *sqliteTx) InsertTask(ctx context.Context, in model.Task) (model.Task, error) {
	in.ID, in.CreatedAt = stamp(in.ID, in.CreatedAt)
	if err := in.Validate(); err != nil {
		return model.Task{}, err
	}
	blockers, err := encodeBlockers(in.Blockers)
	if err != nil {
		return model.Task{}, err
	}
	if err := t.ensureUser(ctx, in.Owner); err != nil {
		return model.Task{}, err
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO tasks (id, owner, text, project_id, completed_at, blocked_until, blockers, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ID, in.Owner, in.Text, nullString(in.ProjectID), nullTime(in.CompletedAt),
		nullTime(in.BlockedUntil), blockers, mustTime(in.CreatedAt),
	)
	if err != nil {
		return model.Task{}, err
	}
	if in.Blockers == nil {
		in.Blockers = model.Blockers{}
	}
	return in, nil
}

func (t *sqliteTx) UpdateTask(ctx context.Context, in model.Task) error {
	if err := in.Validate(); err != nil {
		return err
	}
	blockers, err := encodeBlockers(in.Blockers)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE tasks
		SET text = ?, project_id = ?, completed_at = ?, blocked_until = ?, blockers = ?
		WHERE id = ?`,
		in.Text, nullString(in.ProjectID), nullTime(in.CompletedAt), nullTime(in.BlockedUntil), blockers, in.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

const delegationColumns = `id, owner, text, timeout_at, completed_at, project_id, migrated_task_id, created_at`

func (t *sqliteTx) GetDelegation(ctx context.Context, id string) (model.Delegation, error) {
	var row delegationRow
	if err := t.tx.GetContext(ctx, &row, `SELECT `+delegationColumns+` FROM delegations WHERE id = ?`, id); err != nil {
		return model.Delegation{}, notFound(err)
	}
	return row.toModel()
}

func (t *sqliteTx) ListDelegations(ctx context.Context, owner string) ([]model.Delegation, error) {
	var rows []delegationRow
	err := t.tx.SelectContext(ctx, &rows, `
		SELECT `+delegationColumns+` FROM delegations WHERE owner = ? ORDER BY created_at ASC, id ASC`, owner)
	if err != nil {
		return nil, err
	}
	out := make([]model.Delegation, 0, len(rows))
	for _, row := range rows {
		item, convErr := row.toModel()
		if convErr != nil {
			return nil, convErr
		}
		out = append(out, item)
	}
	return out, nil
}

func (t *sqliteTx) InsertDelegation(ctx context.Context, in model.Delegation) (model.Delegation, error) {
	if err := in.Validate(); err != nil {
		return model.Delegation{}, err
	}
	in.ID, in.CreatedAt = stamp(in.ID, in.CreatedAt)
	if err := t.ensureUser(ctx, in.Owner); err != nil {
		return model.Delegation{}, err
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO delegations (id, owner, text, timeout_at, completed_at, project_id, migrated_task_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ID, in.Owner, in.Text, mustTime(in.Timeout), nullTime(in.CompletedAt),
		nullString(in.ProjectID), nullString(in.MigratedTaskID), mustTime(in.CreatedAt),
	)
	if err != nil {
		return model.Delegation{}, err
	}
	return in, nil
}

func (t *sqliteTx) UpdateDelegation(ctx context.Context, in model.Delegation) error {
	if err := in.Validate(); err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE delegations
		SET text = ?, timeout_at = ?, completed_at = ?, project_id = ?, migrated_task_id = ?
		WHERE id = ?`,
		in.Text, mustTime(in.Timeout), nullTime(in.CompletedAt), nullString(in.ProjectID), nullString(in.MigratedTaskID), in.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

const captureColumns = `id, owner, text, archived_at, created_at`

func (t *sqliteTx) GetCapture(ctx context.Context, id string) (model.Capture, error) {
	var row captureRow
	if err := t.tx.GetContext(ctx, &row, `SELECT `+captureColumns+` FROM captures WHERE id = ?`, id); err != nil {
		return model.Capture{}, notFound(err)
	}
	return row.toModel()
}

func (t *sqliteTx) ListCaptures(ctx context.Context, owner string) ([]model.Capture, error) {
	var rows []captureRow
	err := t.tx.SelectContext(ctx, &rows, `
		SELECT `+captureColumns+` FROM captures WHERE owner = ? ORDER BY created_at ASC, id ASC`, owner)
	if err != nil {
		return nil, err
	}
	out := make([]model.Capture, 0, len(rows))
	for _, row := range rows {
		item, convErr := row.toModel()
		if convErr != nil {
			return nil, convErr
		}
		out = append(out, item)
	}
	return out, nil
}

func (t *sqliteTx) InsertCapture(ctx context.Context, in model.Capture) (model.Capture, error) {
	if err := in.Validate(); err != nil {
		return model.Capture{}, err
	}
	in.ID, in.CreatedAt = stamp(in.ID, in.CreatedAt)
	if err := t.ensureUser(ctx, in.Owner); err != nil {
		return model.Capture{}, err
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO captures (id, owner, text, archived_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		in.ID, in.Owner, in.Text, nullTime(in.ArchivedAt), mustTime(in.CreatedAt),
	)
	if err != nil {
		return model.Capture{}, err
	}
	return in, nil
}

func (t *sqliteTx) UpdateCapture(ctx context.Context, in model.Capture) error {
	if err := in.Validate(); err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `UPDATE captures SET text = ?, archived_at = ? WHERE id = ?`,
		in.Text, nullTime(in.ArchivedAt), in.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (t *sqliteTx) GetMigrationMarker(ctx context.Context, owner, name string) (MigrationMarker, error) {
	var row markerRow
	err := t.tx.GetContext(ctx, &row, `
		SELECT owner, name, completed_at FROM migration_markers WHERE owner = ? AND name = ?`, owner, name)
	if err != nil {
		return MigrationMarker{}, notFound(err)
	}
	completed, err := parseRequiredTime(row.CompletedAt)
	if err != nil {
		return MigrationMarker{}, err
	}
	return MigrationMarker{Owner: row.Owner, Name: row.Name, CompletedAt: completed}, nil
}

func (t *sqliteTx) PutMigrationMarker(ctx context.Context, in MigrationMarker) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO migration_markers (owner, name, completed_at) VALUES (?, ?, ?)
		ON CONFLICT(owner, name) DO UPDATE SET completed_at = excluded.completed_at`,
		in.Owner, in.Name, mustTime(in.CompletedAt),
	)
	return err
}

func nullTime(v *time.Time) any {
	if v == nil {
		return nil
	}
	return v.UTC().Format(sqliteTimeLayout)
}

func mustTime(v time.Time) string {
	return v.UTC().Format(sqliteTimeLayout)
}

func parseNullableTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	tm, err := time.Parse(sqliteTimeLayout, v.String)
	if err != nil {
		return nil, err
	}
	return &tm, nil
}

func parseRequiredTime(v string) (time.Time, error) {
	return time.Parse(sqliteTimeLayout, v)
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func checkRowsAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
