package dispatch

import (
	"context"
	"log/slog"
	"time"

	"aeras/internal/modules/request"
)

// SweepTimeouts closes every pending request whose age reached the request
// timeout. Requests without a creation timestamp have no age and are left
// for the rejection arbiter or an operator. It returns how many requests this
// call closed.
func (s *Service) SweepTimeouts(ctx context.Context) (int, error) {
	pending, err := s.requests.ListByStatus(ctx, request.StatusPending)
	if err != nil {
		return 0, err
	}
	nowMs := s.now().UnixMilli()
	limit := s.timeout.Milliseconds()

	closed := 0
	for _, r := range pending {
		if r.Timestamp <= 0 {
			s.logger.WarnContext(ctx, "pending request has no timestamp", slog.String("request_id", string(r.ID)))
			continue
		}
		if r.Age(nowMs) < limit {
			continue
		}
		ok, err := s.close(ctx, r.ID, request.ReasonTimeout)
		if err != nil {
			// Left for the next tick.
			s.logger.WarnContext(ctx, "timeout close failed", slog.String("request_id", string(r.ID)), slog.Any("err", err))
			continue
		}
		if ok {
			closed++
		}
	}
	return closed, nil
}

// RunTimeoutMonitor sweeps on a fixed cadence until ctx is done.
func (s *Service) RunTimeoutMonitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepTimeouts(ctx); err != nil && ctx.Err() == nil {
				s.logger.ErrorContext(ctx, "timeout sweep failed", slog.Any("err", err))
			}
		}
	}
}
