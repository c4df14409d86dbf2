package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sandeepkv93/tasklane/internal/model"
)

const defaultBadgerMaxRetries = 32

// BadgerConfig holds configuration for the embedded key-value backend.
type BadgerConfig struct {
	// Path is the data directory. Ignored when InMemory is true.
	Path       string
	InMemory   bool
	SyncWrites bool
	// Logger receives badger's internal log lines. Nil disables them.
	Logger *slog.Logger
	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval     time.Duration
	GCDiscardRatio float64
	// MaxRetries bounds how often Update re-runs a conflicting transaction.
	MaxRetries int
}

func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
		MaxRetries:     defaultBadgerMaxRetries,
	}
}

func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true, MaxRetries: defaultBadgerMaxRetries}
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerStore keeps each entity as a JSON document. Key layout:
//
//	user/<id>
//	<kind>/<id>               document
//	idx/<kind>/<owner>/<id>   owner index, empty value
//	name/<owner>/<name>       id of the live project with that name
//	marker/<owner>/<name>     migration marker
type BadgerStore struct {
	db         *badger.DB
	logger     *slog.Logger
	maxRetries int
	stopGC     chan struct{}
	doneGC     chan struct{}
}

func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("storage: badger path is required")
	}
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &BadgerStore{db: db, logger: logger, maxRetries: cfg.MaxRetries}
	if s.maxRetries <= 0 {
		s.maxRetries = defaultBadgerMaxRetries
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stopGC = make(chan struct{})
		s.doneGC = make(chan struct{})
		go s.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return s, nil
}

func (s *BadgerStore) runGC(interval time.Duration, ratio float64) {
	defer close(s.doneGC)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("badger value log gc failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (s *BadgerStore) Close() error {
	if s.stopGC != nil {
		close(s.stopGC)
		<-s.doneGC
	}
	return s.db.Close()
}

// Update retries fn when the commit loses an optimistic conflict.
func (s *BadgerStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(func(txn *badger.Txn) error {
			return fn(&badgerTx{txn: txn})
		})
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		if attempt+1 >= s.maxRetries {
			return fmt.Errorf("storage: giving up after %d conflicts: %w", s.maxRetries, err)
		}
		s.logger.Debug("badger transaction conflict, retrying", slog.Int("attempt", attempt+1))
	}
}

func (s *BadgerStore) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error {
		return fn(&badgerTx{txn: txn})
	})
}

type badgerTx struct {
	txn *badger.Txn
}

func docKey(kind, id string) []byte {
	return []byte(kind + "/" + id)
}

func ownerPrefix(kind, owner string) []byte {
	return []byte("idx/" + kind + "/" + owner + "/")
}

func nameKey(owner, name string) []byte {
	return []byte("name/" + owner + "/" + name)
}

func markerKey(owner, name string) []byte {
	return []byte("marker/" + owner + "/" + name)
}

func (t *badgerTx) get(key []byte, out any) error {
	item, err := t.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

func (t *badgerTx) put(key []byte, in any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return t.txn.Set(key, raw)
}

func (t *badgerTx) exists(key []byte) (bool, error) {
	_, err := t.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// ownedIDs collects the ids under an owner index. The iterator is closed
// before returning since a read-write txn allows one open iterator.
func (t *badgerTx) ownedIDs(kind, owner string) []string {
	prefix := ownerPrefix(kind, owner)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := t.txn.NewIterator(opts)
	defer it.Close()

	var ids []string
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		ids = append(ids, string(it.Item().Key()[len(prefix):]))
	}
	return ids
}

func (t *badgerTx) insertDoc(kind, owner, id string, in any) error {
	if ok, err := t.exists(docKey(kind, id)); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("storage: %s %q already exists", kind, id)
	}
	if err := t.ensureUser(owner); err != nil {
		return err
	}
	if err := t.put(docKey(kind, id), in); err != nil {
		return err
	}
	return t.txn.Set(append(ownerPrefix(kind, owner), id...), nil)
}

func (t *badgerTx) replaceDoc(kind, id string, in any) error {
	ok, err := t.exists(docKey(kind, id))
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return t.put(docKey(kind, id), in)
}

func (t *badgerTx) ensureUser(id string) error {
	ok, err := t.exists(docKey("user", id))
	if err != nil || ok {
		return err
	}
	return t.put(docKey("user", id), model.User{ID: id})
}

func (t *badgerTx) GetUser(_ context.Context, id string) (model.User, error) {
	var out model.User
	err := t.get(docKey("user", id), &out)
	return out, err
}

func (t *badgerTx) ListUsers(_ context.Context) ([]model.User, error) {
	prefix := []byte("user/")
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := t.txn.NewIterator(opts)
	defer it.Close()

	var out []model.User
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var u model.User
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &u)
		}); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

func (t *badgerTx) UpdateUser(_ context.Context, in model.User) error {
	return t.replaceDoc("user", in.ID, in)
}

func (t *badgerTx) GetProject(_ context.Context, id string) (model.Project, error) {
	var out model.Project
	err := t.get(docKey("project", id), &out)
	return out, err
}

func (t *badgerTx) FindProjectByName(_ context.Context, owner, name string) (model.Project, error) {
	item, err := t.txn.Get(nameKey(owner, name))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return model.Project{}, ErrNotFound
	}
	if err != nil {
		return model.Project{}, err
	}
	id, err := item.ValueCopy(nil)
	if err != nil {
		return model.Project{}, err
	}
	var out model.Project
	err = t.get(docKey("project", string(id)), &out)
	return out, err
}

func (t *badgerTx) ListProjects(_ context.Context, owner string) ([]model.Project, error) {
	ids := t.ownedIDs("project", owner)
	out := make([]model.Project, 0, len(ids))
	for _, id := range ids {
		var p model.Project
		if err := t.get(docKey("project", id), &p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	sortProjects(out)
	return out, nil
}

func (t *badgerTx) InsertProject(ctx context.Context, in model.Project) (model.Project, error) {
	if err := in.Validate(); err != nil {
		return model.Project{}, err
	}
	in.ID, in.CreatedAt = stamp(in.ID, in.CreatedAt)
	if err := t.claimProjectName(ctx, in, ""); err != nil {
		return model.Project{}, err
	}
	if err := t.insertDoc("project", in.Owner, in.ID, in); err != nil {
		return model.Project{}, err
	}
	return in, nil
}

func (t *badgerTx) UpdateProject(ctx context.Context, in model.Project) error {
	if err := in.Validate(); err != nil {
		return err
	}
	prev, err := t.GetProject(ctx, in.ID)
	if err != nil {
		return err
	}
	prevName := ""
	if !prev.IsArchived() {
		prevName = prev.Name
	}
	if err := t.claimProjectName(ctx, in, prevName); err != nil {
		return err
	}
	return t.put(docKey("project", in.ID), in)
}

// claimProjectName moves the live-name index entry from prevName to the
// project's current name. Reading the name key makes two concurrent claims
// of the same name conflict at commit.
func (t *badgerTx) claimProjectName(ctx context.Context, in model.Project, prevName string) error {
	if !in.IsArchived() {
		existing, err := t.FindProjectByName(ctx, in.Owner, in.Name)
		switch {
		case errors.Is(err, ErrNotFound):
		case err != nil:
			return err
		case existing.ID != in.ID:
			return fmt.Errorf("%w: %q", ErrNameConflict, in.Name)
		}
	}
	if prevName != "" && (prevName != in.Name || in.IsArchived()) {
		if err := t.txn.Delete(nameKey(in.Owner, prevName)); err != nil {
			return err
		}
	}
	if in.IsArchived() {
		return nil
	}
	return t.txn.Set(nameKey(in.Owner, in.Name), []byte(in.ID))
}

func (t *badgerTx) GetTask(_ context.Context, id string) (model.Task, error) {
	var out model.Task
	err := t.get(docKey("task", id), &out)
	return out, err
}

func (t *badgerTx) ListTasks(_ context.Context, owner string) ([]model.Task, error) {
	ids := t.ownedIDs("task", owner)
	out := make([]model.Task, 0, len(ids))
	for _, id := range ids {
		var item model.Task
		if err := t.get(docKey("task", id), &item); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	sortTasks(out)
	return out, nil
}

func (t *badgerTx) InsertTask(_ context.Context, in model.Task) (model.Task, error) {
	in.ID, in.CreatedAt = stamp(in.ID, in.CreatedAt)
	if in.Blockers == nil {
		in.Blockers = model.Blockers{}
	}
	if err := in.Validate(); err != nil {
		return model.Task{}, err
	}
	if err := t.insertDoc("task", in.Owner, in.ID, in); err != nil {
		return model.Task{}, err
	}
	return in, nil
}

func (t *badgerTx) UpdateTask(_ context.Context, in model.Task) error {
	if err := in.Validate(); err != nil {
		return err
	}
	if in.Blockers == nil {
		in.Blockers = model.Blockers{}
	}
	return t.replaceDoc("task", in.ID, in)
}

func (t *badgerTx) GetDelegation(_ context.Context, id string) (model.Delegation, error) {
	var out model.Delegation
	err := t.get(docKey("delegation", id), &out)
	return out, err
}

func (t *badgerTx) ListDelegations(_ context.Context, owner string) ([]model.Delegation, error) {
	ids := t.ownedIDs("delegation", owner)
	out := make([]model.Delegation, 0, len(ids))
	for _, id := range ids {
		var item model.Delegation
		if err := t.get(docKey("delegation", id), &item); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	sortDelegations(out)
	return out, nil
}

func (t *badgerTx) InsertDelegation(_ context.Context, in model.Delegation) (model.Delegation, error) {
	if err := in.Validate(); err != nil {
		return model.Delegation{}, err
	}
	in.ID, in.CreatedAt = stamp(in.ID, in.CreatedAt)
	if err := t.insertDoc("delegation", in.Owner, in.ID, in); err != nil {
		return model.Delegation{}, err
	}
	return in, nil
}

func (t *badgerTx) UpdateDelegation(_ context.Context, in model.Delegation) error {
	if err := in.Validate(); err != nil {
		return err
	}
	return t.replaceDoc("delegation", in.ID, in)
}

func (t *badgerTx) GetCapture(_ context.Context, id string) (model.Capture, error) {
	var out model.Capture
	err := t.get(docKey("capture", id), &out)
	return out, err
}

func (t *badgerTx) ListCaptures(_ context.Context, owner string) ([]model.Capture, error) {
	ids := t.ownedIDs("capture", owner)
	out := make([]model.Capture, 0, len(ids))
	for _, id := range ids {
		var item model.Capture
		if err := t.get(docKey("capture", id), &item); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	sortCaptures(out)
	return out, nil
}

func (t *badgerTx) InsertCapture(_ context.Context, in model.Capture) (model.Capture, error) {
	if err := in.Validate(); err != nil {
		return model.Capture{}, err
	}
	in.ID, in.CreatedAt = stamp(in.ID, in.CreatedAt)
	if err := t.insertDoc("capture", in.Owner, in.ID, in); err != nil {
		return model.Capture{}, err
	}
	return in, nil
}

func (t *badgerTx) UpdateCapture(_ context.Context, in model.Capture) error {
	if err := in.Validate(); err != nil {
		return err
	}
	return t.replaceDoc("capture", in.ID, in)
}

func (t *badgerTx) GetMigrationMarker(_ context.Context, owner, name string) (MigrationMarker, error) {
	var out MigrationMarker
	err := t.get(markerKey(owner, name), &out)
	return out, err
}

func (t *badgerTx) PutMigrationMarker(_ context.Context, in MigrationMarker) error {
	return t.put(markerKey(in.Owner, in.Name), in)
}
