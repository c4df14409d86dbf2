package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidBlocker = errors.New("model: invalid blocker")

type BlockerKind string

const (
	BlockerKindTask       BlockerKind = "task"
	BlockerKindTime       BlockerKind = "time"
	BlockerKindDelegation BlockerKind = "delegation"
)

func (k BlockerKind) IsValid() bool {
	switch k {
	case BlockerKindTask, BlockerKindTime, BlockerKindDelegation:
		return true
	default:
		return false
	}
}

// Blocker is one dependency edge of a task. The set of implementations is
// closed: TaskBlocker, TimeBlocker and DelegationBlocker.
type Blocker interface {
	Kind() BlockerKind
	String() string
	isBlocker()
}

// TaskBlocker is outstanding while the referenced task is not completed.
type TaskBlocker struct {
	TaskID string
}

// TimeBlocker is outstanding while now is before Millis (unix milliseconds).
type TimeBlocker struct {
	Millis int64
}

// DelegationBlocker is the legacy edge to a delegation. Only pre-migration
// data carries it.
type DelegationBlocker struct {
	DelegationID string
}

func (TaskBlocker) Kind() BlockerKind       { return BlockerKindTask }
func (TimeBlocker) Kind() BlockerKind       { return BlockerKindTime }
func (DelegationBlocker) Kind() BlockerKind { return BlockerKindDelegation }

func (TaskBlocker) isBlocker()       {}
func (TimeBlocker) isBlocker()       {}
func (DelegationBlocker) isBlocker() {}

func (b TaskBlocker) String() string { return "task:" + b.TaskID }

func (b TimeBlocker) String() string { return "time:" + b.Until().Format(time.RFC3339) }

func (b DelegationBlocker) String() string { return "delegation:" + b.DelegationID }

func TimeBlockerAt(t time.Time) TimeBlocker {
	return TimeBlocker{Millis: t.UnixMilli()}
}

func (b TimeBlocker) Until() time.Time {
	return time.UnixMilli(b.Millis).UTC()
}

// Equal reports whether two blockers are the same edge: same variant and the
// same id, or the same instant for time blockers.
func Equal(a, b Blocker) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case TaskBlocker:
		bv, ok := b.(TaskBlocker)
		return ok && av.TaskID == bv.TaskID
	case TimeBlocker:
		bv, ok := b.(TimeBlocker)
		return ok && av.Millis == bv.Millis
	case DelegationBlocker:
		bv, ok := b.(DelegationBlocker)
		return ok && av.DelegationID == bv.DelegationID
	default:
		panic(fmt.Sprintf("model: unhandled blocker variant %T", a))
	}
}

func ValidateBlocker(b Blocker) error {
	switch v := b.(type) {
	case nil:
		return fmt.Errorf("%w: nil", ErrInvalidBlocker)
	case TaskBlocker:
		if strings.TrimSpace(v.TaskID) == "" {
			return fmt.Errorf("%w: task blocker requires an id", ErrInvalidBlocker)
		}
	case DelegationBlocker:
		if strings.TrimSpace(v.DelegationID) == "" {
			return fmt.Errorf("%w: delegation blocker requires an id", ErrInvalidBlocker)
		}
	case TimeBlocker:
	default:
		return fmt.Errorf("%w: unknown variant %T", ErrInvalidBlocker, b)
	}
	return nil
}

// ParseBlocker reads the text form used by the CLI and the command palette:
// task:<id>, delegation:<id>, time:<RFC3339> or time:<unix millis>.
func ParseBlocker(s string) (Blocker, error) {
	kind, value, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || strings.TrimSpace(value) == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBlocker, s)
	}
	value = strings.TrimSpace(value)

	var out Blocker
	switch BlockerKind(strings.ToLower(kind)) {
	case BlockerKindTask:
		out = TaskBlocker{TaskID: value}
	case BlockerKindDelegation:
		out = DelegationBlocker{DelegationID: value}
	case BlockerKindTime:
		if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
			out = TimeBlocker{Millis: ms}
			break
		}
		at, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return nil, fmt.Errorf("%w: bad time %q", ErrInvalidBlocker, value)
		}
		out = TimeBlockerAt(at)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidBlocker, kind)
	}
	if err := ValidateBlocker(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Blockers is the ordered blocker sequence of a task. Its JSON form is an
// array of {"type", "id"} / {"type", "millis"} objects.
type Blockers []Blocker

// IndexOf returns the position of the first blocker equal to b, or -1.
func (bs Blockers) IndexOf(b Blocker) int {
	for i, item := range bs {
		if Equal(item, b) {
			return i
		}
	}
	return -1
}

func (bs Blockers) Contains(b Blocker) bool {
	return bs.IndexOf(b) >= 0
}

// Without returns a copy of bs with every entry equal to b removed, and
// whether anything was removed.
func (bs Blockers) Without(b Blocker) (Blockers, bool) {
	out := make(Blockers, 0, len(bs))
	removed := false
	for _, item := range bs {
		if Equal(item, b) {
			removed = true
			continue
		}
		out = append(out, item)
	}
	return out, removed
}

func (bs Blockers) Clone() Blockers {
	out := make(Blockers, len(bs))
	copy(out, bs)
	return out
}

// EqualBlockers compares two sequences entry by entry, order included.
func EqualBlockers(a, b Blockers) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

func (bs Blockers) Validate() error {
	for i, item := range bs {
		if err := ValidateBlocker(item); err != nil {
			return err
		}
		for _, prev := range bs[:i] {
			if Equal(prev, item) {
				return fmt.Errorf("%w: duplicate %s", ErrInvalidBlocker, item)
			}
		}
	}
	return nil
}

type blockerJSON struct {
	Type   BlockerKind `json:"type"`
	ID     string      `json:"id,omitempty"`
	Millis *int64      `json:"millis,omitempty"`
}

func UnmarshalBlocker(data []byte) (Blocker, error) {
	var wire blockerJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBlocker, err)
	}
	return fromWire(wire)
}

func (bs Blockers) MarshalJSON() ([]byte, error) {
	out := make([]blockerJSON, 0, len(bs))
	for _, b := range bs {
		wire, err := toWire(b)
		if err != nil {
			return nil, err
		}
		out = append(out, wire)
	}
	return json.Marshal(out)
}

func (bs *Blockers) UnmarshalJSON(data []byte) error {
	var wires []blockerJSON
	if err := json.Unmarshal(data, &wires); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBlocker, err)
	}
	out := make(Blockers, 0, len(wires))
	for _, wire := range wires {
		b, err := fromWire(wire)
		if err != nil {
			return err
		}
		out = append(out, b)
	}
	*bs = out
	return nil
}

func toWire(b Blocker) (blockerJSON, error) {
	switch v := b.(type) {
	case TaskBlocker:
		return blockerJSON{Type: BlockerKindTask, ID: v.TaskID}, nil
	case DelegationBlocker:
		return blockerJSON{Type: BlockerKindDelegation, ID: v.DelegationID}, nil
	case TimeBlocker:
		ms := v.Millis
		return blockerJSON{Type: BlockerKindTime, Millis: &ms}, nil
	default:
		return blockerJSON{}, fmt.Errorf("%w: unknown variant %T", ErrInvalidBlocker, b)
	}
}

func fromWire(wire blockerJSON) (Blocker, error) {
	var out Blocker
	switch wire.Type {
	case BlockerKindTask:
		out = TaskBlocker{TaskID: wire.ID}
	case BlockerKindDelegation:
		out = DelegationBlocker{DelegationID: wire.ID}
	case BlockerKindTime:
		if wire.Millis == nil {
			return nil, fmt.Errorf("%w: time blocker without millis", ErrInvalidBlocker)
		}
		out = TimeBlocker{Millis: *wire.Millis}
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidBlocker, wire.Type)
	}
	if err := ValidateBlocker(out); err != nil {
		return nil, err
	}
	return out, nil
}
