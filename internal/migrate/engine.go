// Package migrate runs the one-time, per-user data migrations. Each pass is
// guarded by a per-user marker written in the same transaction as the pass,
// so a finished pass is skipped without writes when run again.
package migrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sandeepkv93/tasklane/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

type Pass string

const (
	PassMiscProjects       Pass = "misc-projects"
	PassInboxProjects      Pass = "inbox-projects"
	PassAbandonDelegations Pass = "abandon-delegations"
)

// Passes lists every pass in the order they must run.
var Passes = []Pass{PassMiscProjects, PassInboxProjects, PassAbandonDelegations}

var (
	ErrMissingMigrationMapping = errors.New("migrate: missing migration mapping")
	ErrUnknownPass             = errors.New("migrate: unknown pass")
)

var errDryRun = errors.New("migrate: dry run rollback")

const defaultConcurrency = 4

var tracer = otel.Tracer("tasklane.migrate")

var (
	documentsTouched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tasklane_migration_documents_touched_total",
		Help: "Documents written by migration passes",
	}, []string{"pass"})

	userFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tasklane_migration_user_failures_total",
		Help: "Per-user migration batches that failed",
	}, []string{"pass"})
)

func ParsePass(s string) (Pass, error) {
	for _, p := range Passes {
		if strings.EqualFold(s, string(p)) {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPass, s)
}

type Options struct {
	// DryRun computes the report inside transactions that are rolled back.
	DryRun bool
}

// Report summarises one pass over all users.
type Report struct {
	Pass   Pass
	DryRun bool
	// Users is the number of users the pass was attempted for.
	Users int
	// Skipped counts users whose marker showed the pass already done.
	Skipped int
	// Touched counts documents written, markers excluded.
	Touched  int
	Failures map[string]error
}

func (r Report) Failed() bool {
	return len(r.Failures) > 0
}

// FailedOwners returns the owners in Failures, sorted.
func (r Report) FailedOwners() []string {
	out := make([]string, 0, len(r.Failures))
	for owner := range r.Failures {
		out = append(out, owner)
	}
	sort.Strings(out)
	return out
}

func (r Report) MarshalJSON() ([]byte, error) {
	failures := make(map[string]string, len(r.Failures))
	for owner, err := range r.Failures {
		failures[owner] = err.Error()
	}
	return json.Marshal(struct {
		Pass     Pass              `json:"pass"`
		DryRun   bool              `json:"dry_run"`
		Users    int               `json:"users"`
		Skipped  int               `json:"skipped"`
		Touched  int               `json:"touched"`
		Failures map[string]string `json:"failures,omitempty"`
	}{r.Pass, r.DryRun, r.Users, r.Skipped, r.Touched, failures})
}

type Engine struct {
	store       storage.Store
	logger      *slog.Logger
	concurrency int
}

// NewEngine returns an engine migrating up to concurrency users at once.
func NewEngine(store storage.Store, logger *slog.Logger, concurrency int) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Engine{
		store:       store,
		logger:      logger.With(slog.String("component", "migrate")),
		concurrency: concurrency,
	}
}

// Run applies one pass to every user. Per-user failures are collected in the
// report; the returned error is reserved for failures affecting the whole run.
func (e *Engine) Run(ctx context.Context, pass Pass, now time.Time, opts Options) (Report, error) {
	if _, err := ParsePass(string(pass)); err != nil {
		return Report{}, err
	}
	reports, err := e.run(ctx, []Pass{pass}, now, opts)
	if err != nil {
		return Report{}, err
	}
	return reports[0], nil
}

// RunAll applies every pass in order. A user whose pass fails is not offered
// the later passes.
func (e *Engine) RunAll(ctx context.Context, now time.Time, opts Options) ([]Report, error) {
	return e.run(ctx, Passes, now, opts)
}

func (e *Engine) run(ctx context.Context, passes []Pass, now time.Time, opts Options) ([]Report, error) {
	ctx, span := tracer.Start(ctx, "migrate.Run", trace.WithAttributes(
		attribute.Int("passes", len(passes)),
		attribute.Bool("dry_run", opts.DryRun),
	))
	defer span.End()

	var owners []string
	err := e.store.View(ctx, func(tx storage.Tx) error {
		users, err := tx.ListUsers(ctx)
		if err != nil {
			return err
		}
		owners = make([]string, 0, len(users))
		for _, u := range users {
			owners = append(owners, u.ID)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("list users: %w", err)
	}

	reports := make([]Report, len(passes))
	for i, p := range passes {
		reports[i] = Report{Pass: p, DryRun: opts.DryRun, Failures: map[string]error{}}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for _, owner := range owners {
		g.Go(func() error {
			for i, pass := range passes {
				skipped, touched, err := e.runUser(gctx, owner, pass, now, opts.DryRun)
				if err != nil && gctx.Err() != nil {
					return gctx.Err()
				}

				mu.Lock()
				r := &reports[i]
				r.Users++
				if skipped {
					r.Skipped++
				}
				r.Touched += touched
				if err != nil {
					r.Failures[owner] = err
				}
				mu.Unlock()

				if err != nil {
					userFailures.WithLabelValues(string(pass)).Inc()
					e.logger.Warn("migration failed for user",
						slog.String("pass", string(pass)),
						slog.String("owner", owner),
						slog.String("error", err.Error()),
					)
					return nil
				}
				if !opts.DryRun {
					documentsTouched.WithLabelValues(string(pass)).Add(float64(touched))
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	for _, r := range reports {
		e.logger.Info("migration pass finished",
			slog.String("pass", string(r.Pass)),
			slog.Bool("dry_run", r.DryRun),
			slog.Int("users", r.Users),
			slog.Int("skipped", r.Skipped),
			slog.Int("touched", r.Touched),
			slog.Int("failures", len(r.Failures)),
		)
	}
	span.SetStatus(codes.Ok, "")
	return reports, nil
}

// runUser runs pass for owner in a single transaction together with its
// marker. The counters are reset on every attempt because the store may
// re-run the function.
func (e *Engine) runUser(ctx context.Context, owner string, pass Pass, now time.Time, dryRun bool) (skipped bool, touched int, err error) {
	ctx, span := tracer.Start(ctx, "migrate.User", trace.WithAttributes(
		attribute.String("owner", owner),
		attribute.String("pass", string(pass)),
	))
	defer span.End()

	now = now.UTC()
	err = e.store.Update(ctx, func(tx storage.Tx) error {
		skipped, touched = false, 0
		_, markerErr := tx.GetMigrationMarker(ctx, owner, string(pass))
		if markerErr == nil {
			skipped = true
			return nil
		}
		if !errors.Is(markerErr, storage.ErrNotFound) {
			return markerErr
		}

		var n int
		var stepErr error
		switch pass {
		case PassMiscProjects:
			n, stepErr = createExplicitMiscProjects(ctx, tx, owner, now)
		case PassInboxProjects:
			n, stepErr = createInboxProjects(ctx, tx, owner, now)
		case PassAbandonDelegations:
			n, stepErr = abandonDelegations(ctx, tx, owner, now)
		default:
			stepErr = fmt.Errorf("%w: %q", ErrUnknownPass, pass)
		}
		if stepErr != nil {
			return stepErr
		}
		touched = n

		if err := tx.PutMigrationMarker(ctx, storage.MigrationMarker{Owner: owner, Name: string(pass), CompletedAt: now}); err != nil {
			return fmt.Errorf("write marker: %w", err)
		}
		if dryRun {
			return errDryRun
		}
		return nil
	})
	if errors.Is(err, errDryRun) {
		err = nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, 0, err
	}
	span.SetAttributes(attribute.Bool("skipped", skipped), attribute.Int("touched", touched))
	return skipped, touched, nil
}
