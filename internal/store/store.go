// README: Shared state store adapter. Every lifecycle transition goes through Update,
// which applies a set of path writes all-or-nothing, optionally guarded by conditions.
package store

import (
	"context"
	"errors"
	"sort"
	"strings"
)

var (
	ErrNotFound        = errors.New("store: path not found")
	ErrConditionFailed = errors.New("store: condition failed")
	ErrInvalidPath     = errors.New("store: invalid path")
)

// Store is the contract every backend honours: per-path last-write-wins,
// at most one atomic multi-path write per call, no cross-call transactions.
type Store interface {
	// Get decodes the value at path into dst. Returns ErrNotFound when absent.
	Get(ctx context.Context, path string, dst any) error
	// List decodes every child of collection into dst (a pointer to a map).
	// An absent collection decodes as an empty map.
	List(ctx context.Context, collection string, dst any) error
	// Update evaluates all conditions and applies all values as one unit.
	Update(ctx context.Context, u *Update) error
	// Delete removes path. Deleting an absent path is not an error.
	Delete(ctx context.Context, path string) error
}

// Watcher is implemented by backends that can signal collection changes.
// The channel receives a value after each write touching the collection and
// is closed when ctx is done.
type Watcher interface {
	Watch(ctx context.Context, collection string) <-chan struct{}
}

type CondOp int

const (
	OpEquals CondOp = iota
	OpExists
	OpAbsent
)

type Condition struct {
	Path  string
	Op    CondOp
	Value any
}

func Equals(path string, v any) Condition { return Condition{Path: path, Op: OpEquals, Value: v} }
func Exists(path string) Condition        { return Condition{Path: path, Op: OpExists} }
func Absent(path string) Condition        { return Condition{Path: path, Op: OpAbsent} }

// Update is a multi-path write. A nil value deletes its path.
type Update struct {
	Conditions []Condition
	Values     map[string]any
}

func NewUpdate() *Update {
	return &Update{Values: map[string]any{}}
}

func (u *Update) Set(path string, v any) *Update {
	u.Values[path] = v
	return u
}

func (u *Update) Remove(path string) *Update {
	u.Values[path] = nil
	return u
}

func (u *Update) Require(conds ...Condition) *Update {
	u.Conditions = append(u.Conditions, conds...)
	return u
}

// Paths returns the written paths, parents before children.
func (u *Update) Paths() []string {
	out := make([]string, 0, len(u.Values))
	for p := range u.Values {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := strings.Count(out[i], "/"), strings.Count(out[j], "/")
		if di != dj {
			return di < dj
		}
		return out[i] < out[j]
	})
	return out
}

// Collections returns the distinct top-level collections touched by u.
func (u *Update) Collections() []string {
	seen := map[string]struct{}{}
	var out []string
	for p := range u.Values {
		c := strings.SplitN(p, "/", 2)[0]
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Join builds a store path from its segments.
func Join(segs ...string) string {
	return strings.Join(segs, "/")
}

// Split validates path and returns its segments.
func Split(path string) ([]string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, ErrInvalidPath
	}
	segs := strings.Split(path, "/")
	for _, s := range segs {
		if s == "" || strings.ContainsAny(s, ".#$[]") {
			return nil, ErrInvalidPath
		}
	}
	return segs, nil
}

func validate(u *Update) error {
	if u == nil || len(u.Values) == 0 {
		return ErrInvalidPath
	}
	for p := range u.Values {
		if _, err := Split(p); err != nil {
			return err
		}
	}
	for _, c := range u.Conditions {
		if _, err := Split(c.Path); err != nil {
			return err
		}
	}
	return nil
}
