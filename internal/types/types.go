// README: Common value objects shared across modules.
package types

type ID string

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Fix is a device position sample. Accuracy is the reported radius in meters.
type Fix struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Accuracy float64 `json:"accuracy"`
}

func (f Fix) Point() Point {
	return Point{Lat: f.Lat, Lng: f.Lng}
}

