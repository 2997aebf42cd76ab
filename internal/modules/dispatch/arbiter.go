package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"aeras/internal/modules/operator"
	"aeras/internal/modules/request"
	"aeras/internal/store"
	"aeras/internal/types"
)

// fullyRejected reports whether every currently available operator has
// rejected r. An empty available set never closes a request.
func fullyRejected(r *request.Request, available map[types.ID]struct{}) bool {
	if len(available) == 0 || len(r.RejectedBy) == 0 {
		return false
	}
	for id := range available {
		if !r.RejectedByOperator(id) {
			return false
		}
	}
	return true
}

// SweepAllRejected closes pending requests rejected by every available
// operator. It returns how many requests this call closed.
func (s *Service) SweepAllRejected(ctx context.Context) (int, error) {
	pending, err := s.requests.ListByStatus(ctx, request.StatusPending)
	if err != nil {
		return 0, err
	}
	var candidates []*request.Request
	for _, r := range pending {
		if len(r.RejectedBy) > 0 {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return 0, nil
	}
	available, err := s.operators.AvailableIDs(ctx)
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, r := range candidates {
		if !fullyRejected(r, available) {
			continue
		}
		ok, err := s.close(ctx, r.ID, request.ReasonAllRejected)
		if err != nil {
			s.logger.WarnContext(ctx, "all-rejected close failed", slog.String("request_id", string(r.ID)), slog.Any("err", err))
			continue
		}
		if ok {
			closed++
		}
	}
	return closed, nil
}

// arbitrate evaluates a single request against the current operator pool.
func (s *Service) arbitrate(ctx context.Context, id types.ID) (bool, error) {
	r, err := s.requests.Get(ctx, id)
	if errors.Is(err, request.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !r.IsPending() || len(r.RejectedBy) == 0 {
		return false, nil
	}
	available, err := s.operators.AvailableIDs(ctx)
	if err != nil {
		return false, err
	}
	if !fullyRejected(r, available) {
		return false, nil
	}
	return s.close(ctx, id, request.ReasonAllRejected)
}

// RunRejectionArbiter re-evaluates the pool whenever requests or operators
// change. Backends without a change feed are polled every poll interval.
func (s *Service) RunRejectionArbiter(ctx context.Context, poll time.Duration) {
	if poll <= 0 {
		poll = time.Second
	}
	var requests, operators <-chan struct{}
	if w, ok := s.st.(store.Watcher); ok {
		requests = w.Watch(ctx, request.Collection)
		operators = w.Watch(ctx, operator.Collection)
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	sweep := func() {
		if _, err := s.SweepAllRejected(ctx); err != nil && ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "all-rejected sweep failed", slog.Any("err", err))
		}
	}
	sweep()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-requests:
			if !ok {
				requests = nil
				continue
			}
			sweep()
		case _, ok := <-operators:
			if !ok {
				operators = nil
				continue
			}
			sweep()
		case <-ticker.C:
			sweep()
		}
	}
}
