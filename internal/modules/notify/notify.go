// README: Notification fan-out for lifecycle transitions. Delivery is best effort;
// a failed sink is logged and never fails the transition that triggered it.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"aeras/internal/types"
)

type Kind string

const (
	RequestCreated    Kind = "request.created"
	RequestAccepted   Kind = "request.accepted"
	RequestRejectedBy Kind = "request.rejected_by"
	RequestClosed     Kind = "request.closed"
	RidePickedUp      Kind = "ride.picked_up"
	RideCompleted     Kind = "ride.completed"
	RideManualReview  Kind = "ride.manual_verification_required"
	PointsReviewed    Kind = "points.reviewed"
)

// Event describes one committed transition.
type Event struct {
	Kind        Kind     `json:"kind"`
	RequestID   types.ID `json:"request_id,omitempty"`
	RideID      types.ID `json:"ride_id,omitempty"`
	OperatorID  types.ID `json:"operator_id,omitempty"`
	Status      string   `json:"status,omitempty"`
	SignalState string   `json:"signal_state,omitempty"`
	Reason      string   `json:"reason,omitempty"`
	At          int64    `json:"at"`
}

type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// Multi delivers each event to every sink and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, e Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes events to a structured logger. It is the fallback sink when no
// push or stream transport is configured.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Notify(ctx context.Context, e Event) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "transition",
		slog.String("kind", string(e.Kind)),
		slog.String("request_id", string(e.RequestID)),
		slog.String("ride_id", string(e.RideID)),
		slog.String("operator_id", string(e.OperatorID)),
		slog.String("status", e.Status),
		slog.String("signal_state", e.SignalState),
	)
	return nil
}

// Send delivers e and logs a failure. Callers use it after a committed write.
func Send(ctx context.Context, n Notifier, logger *slog.Logger, e Event) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, e); err != nil && logger != nil {
		logger.WarnContext(ctx, "notify failed", slog.String("kind", string(e.Kind)), slog.Any("err", err))
	}
}
