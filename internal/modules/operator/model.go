// README: Operator (vehicle) entity and store paths.
package operator

import (
	"aeras/internal/store"
	"aeras/internal/types"
)

const Collection = "operators"

type Availability string

const (
	Available Availability = "available"
	Busy      Availability = "busy"
)

type Operator struct {
	ID          types.ID     `json:"id"`
	Name        string       `json:"name"`
	Status      Availability `json:"status"`
	Lat         float64      `json:"lat"`
	Lng         float64      `json:"lng"`
	TotalRides  int          `json:"total_rides"`
	TotalPoints int          `json:"total_points"`
	Rating      float64      `json:"rating"`
}

func (o *Operator) Position() types.Point {
	return types.Point{Lat: o.Lat, Lng: o.Lng}
}

func Path(id types.ID) string {
	return store.Join(Collection, string(id))
}

func FieldPath(id types.ID, field string) string {
	return store.Join(Collection, string(id), field)
}
