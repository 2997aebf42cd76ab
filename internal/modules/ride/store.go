// README: Ride, completion and points history reads over the shared store.
package ride

import (
	"context"
	"errors"
	"sort"

	"aeras/internal/modules/reward"
	"aeras/internal/store"
	"aeras/internal/types"
)

type Store struct {
	st store.Store
}

func NewStore(st store.Store) *Store {
	return &Store{st: st}
}

func (s *Store) GetActive(ctx context.Context, id types.ID) (*ActiveRide, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	var r ActiveRide
	if err := s.get(ctx, ActivePath(id), &r); err != nil {
		return nil, err
	}
	if r.ID == "" {
		r.ID = id
	}
	return &r, nil
}

func (s *Store) GetCompleted(ctx context.Context, id types.ID) (*CompletedRide, error) {
	var r CompletedRide
	if err := s.get(ctx, CompletedPath(id), &r); err != nil {
		return nil, err
	}
	if r.ID == "" {
		r.ID = id
	}
	return &r, nil
}

func (s *Store) GetHistory(ctx context.Context, id types.ID) (*PointsHistoryEntry, error) {
	var e PointsHistoryEntry
	if err := s.get(ctx, HistoryPath(id), &e); err != nil {
		return nil, err
	}
	if e.ID == "" {
		e.ID = id
	}
	return &e, nil
}

func (s *Store) get(ctx context.Context, path string, dst any) error {
	err := s.st.Get(ctx, path, dst)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *Store) ListActive(ctx context.Context) ([]*ActiveRide, error) {
	all := map[string]*ActiveRide{}
	if err := s.st.List(ctx, ActiveCollection, &all); err != nil {
		return nil, err
	}
	out := make([]*ActiveRide, 0, len(all))
	for id, r := range all {
		if r == nil {
			continue
		}
		if r.ID == "" {
			r.ID = types.ID(id)
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AcceptTime < out[j].AcceptTime })
	return out, nil
}

// ListCompleted returns completed rides, newest first.
func (s *Store) ListCompleted(ctx context.Context) ([]*CompletedRide, error) {
	all := map[string]*CompletedRide{}
	if err := s.st.List(ctx, CompletedCollection, &all); err != nil {
		return nil, err
	}
	out := make([]*CompletedRide, 0, len(all))
	for id, r := range all {
		if r == nil {
			continue
		}
		if r.ID == "" {
			r.ID = types.ID(id)
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CompletedAt != out[j].CompletedAt {
			return out[i].CompletedAt > out[j].CompletedAt
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// ActiveForOperator returns the operator's current ride, or ErrNotFound.
func (s *Store) ActiveForOperator(ctx context.Context, operatorID types.ID) (*ActiveRide, error) {
	all, err := s.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range all {
		if r.OperatorID == operatorID && r.Status != StatusCompleted {
			return r, nil
		}
	}
	return nil, ErrNotFound
}

// CompletedForOperator returns up to limit of the operator's completed rides, newest first.
func (s *Store) CompletedForOperator(ctx context.Context, operatorID types.ID, limit int) ([]*CompletedRide, error) {
	all, err := s.ListCompleted(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*CompletedRide, 0, limit)
	for _, r := range all {
		if r.OperatorID != operatorID {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// PendingReviews lists points entries that still wait for an admin decision.
func (s *Store) PendingReviews(ctx context.Context) ([]*PointsHistoryEntry, error) {
	all := map[string]*PointsHistoryEntry{}
	if err := s.st.List(ctx, HistoryCollection, &all); err != nil {
		return nil, err
	}
	out := make([]*PointsHistoryEntry, 0)
	for id, e := range all {
		if e == nil || e.AdminReviewed || e.Status != reward.StatusPending {
			continue
		}
		if e.ID == "" {
			e.ID = types.ID(id)
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}
