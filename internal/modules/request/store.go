// README: Request reads and single-entity writes over the shared store.
package request

import (
	"context"
	"errors"
	"sort"

	"aeras/internal/store"
	"aeras/internal/types"
)

var ErrNotFound = errors.New("request not found")

type Store struct {
	st store.Store
}

func NewStore(st store.Store) *Store {
	return &Store{st: st}
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Request, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	var r Request
	err := s.st.Get(ctx, Path(id), &r)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if r.ID == "" {
		r.ID = id
	}
	return &r, nil
}

// List returns every request, oldest first.
func (s *Store) List(ctx context.Context) ([]*Request, error) {
	all := map[string]*Request{}
	if err := s.st.List(ctx, Collection, &all); err != nil {
		return nil, err
	}
	out := make([]*Request, 0, len(all))
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
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ListByStatus filters List by status; an empty status returns everything.
func (s *Store) ListByStatus(ctx context.Context, status Status) ([]*Request, error) {
	all, err := s.List(ctx)
	if err != nil || status == "" {
		return all, err
	}
	out := all[:0]
	for _, r := range all {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out, nil
}

// Create writes r only when no request with the same id exists.
func (s *Store) Create(ctx context.Context, r *Request) error {
	u := store.NewUpdate().
		Require(store.Absent(Path(r.ID))).
		Set(Path(r.ID), r)
	return s.st.Update(ctx, u)
}

// Close moves a still-pending request to rejected with reason. This is the only
// writer of the rejected status.
func (s *Store) Close(ctx context.Context, id types.ID, reason Reason) error {
	u := store.NewUpdate().
		Require(store.Equals(FieldPath(id, "status"), StatusPending)).
		Set(FieldPath(id, "status"), StatusRejected).
		Set(FieldPath(id, "signal_state"), SignalRejected).
		Set(FieldPath(id, "rejection_reason"), reason)
	return s.st.Update(ctx, u)
}

// AddRejection sets one member of rejected_by while the request is pending.
func (s *Store) AddRejection(ctx context.Context, id, operatorID types.ID) error {
	u := store.NewUpdate().
		Require(store.Equals(FieldPath(id, "status"), StatusPending)).
		Set(RejectedByPath(id, operatorID), true)
	return s.st.Update(ctx, u)
}

func (s *Store) Delete(ctx context.Context, id types.ID) error {
	return s.st.Delete(ctx, Path(id))
}
