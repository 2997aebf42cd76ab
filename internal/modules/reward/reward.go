// README: Drop-off accuracy reward policy. Pure functions, no store access.
package reward

import "math"

// BasePoints is awarded for a drop-off exactly on the target block.
const BasePoints = 10

const (
	// RewardedMaxMeters is the largest distance that still earns a full-status reward.
	RewardedMaxMeters = 50.0
	// ReducedMaxMeters is the largest distance credited automatically.
	ReducedMaxMeters = 100.0
)

type Status string

const (
	StatusRewarded Status = "rewarded"
	StatusReduced  Status = "reduced"
	StatusPending  Status = "pending"
)

// Result is the evaluation of a single drop-off.
type Result struct {
	DistanceMeters float64
	BasePoints     int
	Penalty        float64
	Points         int
	Status         Status
}

// Credited reports whether Points go to the operator's total right away.
// Pending results wait for an admin review.
func (r Result) Credited() bool {
	return r.Status == StatusRewarded || r.Status == StatusReduced
}

// CreditedPoints is Points when credited, otherwise zero.
func (r Result) CreditedPoints() int {
	if !r.Credited() {
		return 0
	}
	return r.Points
}

// Evaluate applies the policy to the distance between the drop-off fix and
// the target block. The penalty is one point per whole 10 m, so points are
// 10 - floor(d/10) and not floor(10 - d/10). The two only differ between
// whole multiples of 10 m: 45 m earns 6 and 95 m earns 1 here, where the
// other form gives 5 and 0.
func Evaluate(distanceMeters float64) Result {
	if distanceMeters < 0 || math.IsNaN(distanceMeters) {
		distanceMeters = 0
	}
	penalty := distanceMeters / 10.0
	points := BasePoints - int(math.Floor(penalty))
	if points < 0 {
		points = 0
	}
	return Result{
		DistanceMeters: distanceMeters,
		BasePoints:     BasePoints,
		Penalty:        penalty,
		Points:         points,
		Status:         Classify(distanceMeters),
	}
}

func Classify(distanceMeters float64) Status {
	switch {
	case distanceMeters <= RewardedMaxMeters:
		return StatusRewarded
	case distanceMeters <= ReducedMaxMeters:
		return StatusReduced
	default:
		return StatusPending
	}
}
