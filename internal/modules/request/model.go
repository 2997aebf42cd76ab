// README: Ride request entity, status flow and store paths.
package request

import (
	"sort"

	"aeras/internal/store"
	"aeras/internal/types"
)

const Collection = "ride_requests"

type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// SignalState is the projection consumed by the rider-side signal device.
type SignalState string

const (
	SignalIdle            SignalState = "idle"
	SignalWaiting         SignalState = "waiting"
	SignalPickupConfirmed SignalState = "pickup_confirmed"
	SignalRejected        SignalState = "rejected"
)

type Reason string

const (
	ReasonNone        Reason = ""
	ReasonTimeout     Reason = "timeout"
	ReasonAllRejected Reason = "all_rejected"
)

type Request struct {
	ID               types.ID        `json:"id"`
	UserID           types.ID        `json:"user_id"`
	PickupBlock      string          `json:"pickup_block"`
	DropoffBlock     string          `json:"dropoff_block"`
	DistanceKm       float64         `json:"distance_km"`
	EstimatedFare    float64         `json:"estimated_fare"`
	EstimatedPoints  int             `json:"estimated_points"`
	Timestamp        int64           `json:"timestamp"`
	Status           Status          `json:"status"`
	SignalState      SignalState     `json:"signal_state"`
	RejectedBy       map[string]bool `json:"rejected_by,omitempty"`
	RejectionReason  Reason          `json:"rejection_reason,omitempty"`
	AssignedOperator types.ID        `json:"assigned_operator,omitempty"`
	RideID           types.ID        `json:"ride_id,omitempty"`
}

// AllowedTransitions represents the request status flow as code. Accepted and
// rejected are terminal.
var AllowedTransitions = map[Status][]Status{
	StatusPending: {StatusAccepted, StatusRejected},
}

func CanTransition(from, to Status) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (r *Request) IsPending() bool { return r.Status == StatusPending }

func (r *Request) RejectedByOperator(id types.ID) bool {
	return r.RejectedBy[string(id)]
}

// Rejecters returns the rejected-by set in a stable order.
func (r *Request) Rejecters() []types.ID {
	out := make([]types.ID, 0, len(r.RejectedBy))
	for id, ok := range r.RejectedBy {
		if ok {
			out = append(out, types.ID(id))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Age is the elapsed time in milliseconds at nowMs. It is meaningless when
// Timestamp is unset.
func (r *Request) Age(nowMs int64) int64 {
	return nowMs - r.Timestamp
}

func Path(id types.ID) string {
	return store.Join(Collection, string(id))
}

func FieldPath(id types.ID, field string) string {
	return store.Join(Collection, string(id), field)
}

func RejectedByPath(id, operatorID types.ID) string {
	return store.Join(Collection, string(id), "rejected_by", string(operatorID))
}
