package dependency

import (
	"errors"

	"github.com/sandeepkv93/tasklane/internal/model"
)

var (
	ErrNotFound             = errors.New("dependency: not found")
	ErrDuplicateBlocker     = errors.New("dependency: duplicate blocker")
	ErrBlockerTargetMissing = errors.New("dependency: blocker target missing")
	ErrCrossProjectBlocker  = errors.New("dependency: blocker target in another project")
	ErrInvalidInput         = errors.New("dependency: invalid input")
)

// resultLabel maps an operation error onto a low-cardinality metric label.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrDuplicateBlocker):
		return "duplicate"
	case errors.Is(err, ErrBlockerTargetMissing):
		return "target_missing"
	case errors.Is(err, ErrCrossProjectBlocker):
		return "cross_project"
	case errors.Is(err, ErrInvalidInput), errors.Is(err, model.ErrInvalidBlocker), errors.Is(err, model.ErrInvalidTask):
		return "invalid"
	default:
		return "error"
	}
}
