// README: Append-only audit records mirrored from committed transitions.
package ledger

import (
	"time"

	"aeras/internal/types"
)

type EntityType string

const (
	EntityRequest EntityType = "request"
	EntityRide    EntityType = "ride"
	EntityPoints  EntityType = "points"
)

type Event struct {
	ID         int64
	EntityType EntityType
	EntityID   types.ID
	FromStatus string
	ToStatus   string
	ActorType  string
	ActorID    *types.ID
	Reason     string
	CreatedAt  time.Time
}

// Completion is the archived form of a completed ride.
type Completion struct {
	RideID           types.ID
	RequestID        types.ID
	UserID           types.ID
	OperatorID       types.ID
	PickupBlock      string
	DropoffBlock     string
	DistanceKm       float64
	Fare             float64
	DropoffDistanceM *float64
	PointsEarned     int
	PointsStatus     string
	AdminResolved    bool
	CompletedAt      time.Time
}
