// README: Location blocks (named pickup/drop-off points) and operator position samples.
package location

import (
	"errors"
	"time"

	"aeras/internal/types"
)

var (
	ErrUnknownLocation  = errors.New("unknown location")
	ErrPermissionDenied = errors.New("location permission denied")
	ErrUnavailable      = errors.New("location unavailable")
	ErrTimeout          = errors.New("location request timed out")
	ErrInvalidFix       = errors.New("invalid location fix")
)

// CaptureFailed reports whether err means the device could not produce a
// usable position, as opposed to the caller giving up or an internal fault.
func CaptureFailed(err error) bool {
	return errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrUnavailable) || errors.Is(err, ErrTimeout)
}

// BlocksCollection holds location blocks keyed by block id.
const BlocksCollection = "location_blocks"

// Block is a named place riders choose as pickup or drop-off.
type Block struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Coordinates *types.Point `json:"coordinates,omitempty"`
}

// Sample is the latest report from an operator's device. A denied sample
// means the device refused to share its position.
type Sample struct {
	OperatorID types.ID  `json:"operator_id"`
	Fix        types.Fix `json:"fix"`
	Denied     bool      `json:"denied"`
	RecordedAt int64     `json:"recorded_at"`
}

func (s Sample) Time() time.Time {
	return time.UnixMilli(s.RecordedAt)
}

// PositionRequest mirrors a device geolocation call.
type PositionRequest struct {
	Timeout      time.Duration
	MaxAge       time.Duration
	HighAccuracy bool
}

// coarseAccuracyMeters is the radius above which a fix is treated as a
// network estimate and skipped for high-accuracy requests.
const coarseAccuracyMeters = 1000.0
