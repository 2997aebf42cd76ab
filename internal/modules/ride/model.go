// README: Active ride, completed ride snapshot and points history entities.
package ride

import (
	"aeras/internal/modules/reward"
	"aeras/internal/store"
	"aeras/internal/types"
)

const (
	ActiveCollection    = "active_rides"
	CompletedCollection = "completed_rides"
	HistoryCollection   = "points_history"
)

type Status string

const (
	StatusAccepted                   Status = "accepted"
	StatusPickedUp                   Status = "picked_up"
	StatusCompleted                  Status = "completed"
	StatusManualVerificationRequired Status = "manual_verification_required"
)

// AllowedTransitions represents the ride state flow as code. Drop-off, and so
// manual verification, is only reachable after pickup. Manual verification is
// left only through admin resolution.
var AllowedTransitions = map[Status][]Status{
	StatusAccepted:                   {StatusPickedUp},
	StatusPickedUp:                   {StatusCompleted, StatusManualVerificationRequired},
	StatusManualVerificationRequired: {StatusCompleted},
}

func CanTransition(from, to Status) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type ActiveRide struct {
	ID                       types.ID      `json:"id"`
	RequestID                types.ID      `json:"request_id"`
	UserID                   types.ID      `json:"user_id"`
	OperatorID               types.ID      `json:"operator_id"`
	PickupBlock              string        `json:"pickup_block"`
	DropoffBlock             string        `json:"dropoff_block"`
	DistanceKm               float64       `json:"distance_km"`
	Fare                     float64       `json:"fare"`
	Status                   Status        `json:"status"`
	RequestTime              int64         `json:"request_time"`
	AcceptTime               int64         `json:"accept_time"`
	PickupTime               *int64        `json:"pickup_time,omitempty"`
	DropoffTime              *int64        `json:"dropoff_time,omitempty"`
	PickupLocation           *types.Fix    `json:"pickup_location,omitempty"`
	DropoffLocation          *types.Fix    `json:"dropoff_location,omitempty"`
	DropoffDistanceFromBlock *float64      `json:"dropoff_distance_from_block,omitempty"`
	PointsEarned             int           `json:"points_earned"`
	PointsStatus             reward.Status `json:"points_status"`
	GPSAvailable             *bool         `json:"gps_available,omitempty"`
	ManualReason             string        `json:"manual_reason,omitempty"`
}

// CompletedRide is the immutable snapshot written at completion.
type CompletedRide struct {
	ActiveRide
	CompletedAt   int64 `json:"completed_at"`
	AdminResolved bool  `json:"admin_resolved,omitempty"`
}

// PointsHistoryEntry is the audit record of one completion's reward.
type PointsHistoryEntry struct {
	ID              types.ID      `json:"id"`
	RideID          types.ID      `json:"ride_id"`
	OperatorID      types.ID      `json:"operator_id"`
	BasePoints      int           `json:"base_points"`
	DistancePenalty float64       `json:"distance_penalty"`
	FinalPoints     int           `json:"final_points"`
	Status          reward.Status `json:"status"`
	GPSAccuracy     float64       `json:"gps_accuracy"`
	Timestamp       int64         `json:"timestamp"`
	AdminReviewed   bool          `json:"admin_reviewed"`
	AwardedPoints   *int          `json:"awarded_points,omitempty"`
	ReviewedAt      *int64        `json:"reviewed_at,omitempty"`
}

// HistoryID derives the points history id from the ride so a replayed
// completion addresses the same entry.
func HistoryID(rideID types.ID) types.ID {
	return types.ID("ph_" + string(rideID))
}

func ActivePath(id types.ID) string {
	return store.Join(ActiveCollection, string(id))
}

func ActiveFieldPath(id types.ID, field string) string {
	return store.Join(ActiveCollection, string(id), field)
}

func CompletedPath(id types.ID) string {
	return store.Join(CompletedCollection, string(id))
}

func HistoryPath(id types.ID) string {
	return store.Join(HistoryCollection, string(id))
}

func HistoryFieldPath(id types.ID, field string) string {
	return store.Join(HistoryCollection, string(id), field)
}
