// README: Operator reads and registration over the shared store.
package operator

import (
	"context"
	"errors"
	"sort"

	"aeras/internal/store"
	"aeras/internal/types"
)

var (
	ErrNotFound = errors.New("operator not found")
	ErrExists   = errors.New("operator already exists")
	ErrInvalid  = errors.New("invalid operator")
)

type Store struct {
	st store.Store
}

func NewStore(st store.Store) *Store {
	return &Store{st: st}
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Operator, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	var o Operator
	err := s.st.Get(ctx, Path(id), &o)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if o.ID == "" {
		o.ID = id
	}
	return &o, nil
}

func (s *Store) List(ctx context.Context) ([]*Operator, error) {
	all := map[string]*Operator{}
	if err := s.st.List(ctx, Collection, &all); err != nil {
		return nil, err
	}
	out := make([]*Operator, 0, len(all))
	for id, o := range all {
		if o == nil {
			continue
		}
		if o.ID == "" {
			o.ID = types.ID(id)
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// AvailableIDs returns the set of operators whose status is available.
func (s *Store) AvailableIDs(ctx context.Context) (map[types.ID]struct{}, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[types.ID]struct{}, len(all))
	for _, o := range all {
		if o.Status == Available {
			out[o.ID] = struct{}{}
		}
	}
	return out, nil
}

// Register creates an available operator with no rides.
func (s *Store) Register(ctx context.Context, o *Operator) error {
	if o.ID == "" {
		return ErrInvalid
	}
	o.Status = Available
	o.TotalRides = 0
	o.TotalPoints = 0
	err := s.st.Update(ctx, store.NewUpdate().
		Require(store.Absent(Path(o.ID))).
		Set(Path(o.ID), o))
	if errors.Is(err, store.ErrConditionFailed) {
		return ErrExists
	}
	return err
}

// SetPosition records the last known position shown on dashboards. It is not
// used for reward evaluation.
func (s *Store) SetPosition(ctx context.Context, id types.ID, p types.Point) error {
	err := s.st.Update(ctx, store.NewUpdate().
		Require(store.Exists(Path(id))).
		Set(FieldPath(id, "lat"), p.Lat).
		Set(FieldPath(id, "lng"), p.Lng))
	if errors.Is(err, store.ErrConditionFailed) {
		return ErrNotFound
	}
	return err
}
