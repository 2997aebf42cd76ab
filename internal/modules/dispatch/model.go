// README: Dispatch commands, collaborators and error taxonomy.
package dispatch

import (
	"context"
	"errors"

	"aeras/internal/modules/ledger"
	"aeras/internal/modules/request"
	"aeras/internal/types"
)

var (
	// Precondition failures.
	ErrNotFound        = request.ErrNotFound
	ErrInvalidRequest  = errors.New("request is missing pickup or drop-off")
	ErrUnknownRequest  = errors.New("request no longer exists")
	ErrBadCommand      = errors.New("bad command")
	ErrUnknownOperator = errors.New("operator not found")

	// Lost races. Expected and non-fatal: the operator should try another request.
	ErrAlreadyClaimed  = errors.New("request already claimed")
	ErrAlreadyRejected = errors.New("request already rejected")
	ErrOperatorBusy    = errors.New("operator is busy")
)

// IsRaceLost reports whether err is a normal lost-race outcome.
func IsRaceLost(err error) bool {
	return errors.Is(err, ErrAlreadyClaimed) || errors.Is(err, ErrAlreadyRejected) || errors.Is(err, ErrOperatorBusy)
}

type CreateCommand struct {
	UserID       types.ID
	PickupBlock  string
	DropoffBlock string
	Fare         float64
}

type AcceptCommand struct {
	RequestID  types.ID
	OperatorID types.ID
}

type RejectCommand struct {
	RequestID  types.ID
	OperatorID types.ID
}

// ListQuery filters the request pool. With OperatorID set, requests that
// operator already rejected are hidden.
type ListQuery struct {
	Status     request.Status
	OperatorID types.ID
}

// DistanceEstimator returns a route distance in meters between two points.
type DistanceEstimator interface {
	DistanceMeters(ctx context.Context, from, to types.Point) (float64, error)
}

// Ledger receives an audit record of every committed transition.
type Ledger interface {
	AppendEvent(ctx context.Context, e *ledger.Event) error
}
