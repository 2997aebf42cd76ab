// README: Ride handlers for get, pickup and drop-off confirmation.
package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"aeras/internal/modules/ride"
	"aeras/internal/types"
)

// Reporter accepts position samples from operator devices.
type Reporter interface {
	Report(ctx context.Context, operatorID types.ID, fix types.Fix) error
	Deny(ctx context.Context, operatorID types.ID) error
}

type RideHandler struct {
	rides    *ride.Service
	reporter Reporter
}

func NewRideHandler(svc *ride.Service, reporter Reporter) *RideHandler {
	return &RideHandler{rides: svc, reporter: reporter}
}

type fixReq struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Accuracy float64 `json:"accuracy"`
}

// positionReq lets a device send its fix together with the confirmation.
type positionReq struct {
	Fix              *fixReq `json:"fix"`
	PermissionDenied bool    `json:"permission_denied"`
}

func (h *RideHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	r, err := h.rides.Store().GetActive(c.Request.Context(), types.ID(id))
	if errors.Is(err, ride.ErrNotFound) {
		done, cerr := h.rides.Store().GetCompleted(c.Request.Context(), types.ID(id))
		if cerr != nil {
			writeRideError(c, cerr)
			return
		}
		writeJSON(c, http.StatusOK, done)
		return
	}
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

func (h *RideHandler) Pickup(c *gin.Context) {
	id, ok := h.reportPosition(c)
	if !ok {
		return
	}
	r, err := h.rides.ConfirmPickup(c.Request.Context(), types.ID(id))
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

func (h *RideHandler) Dropoff(c *gin.Context) {
	id, ok := h.reportPosition(c)
	if !ok {
		return
	}
	res, err := h.rides.ConfirmDropoff(c.Request.Context(), types.ID(id))
	if err != nil {
		writeRideError(c, err)
		return
	}
	status := http.StatusOK
	if res.ManualVerification {
		status = http.StatusAccepted
	}
	writeJSON(c, status, res)
}

// reportPosition records a fix carried in the request body before the ride
// service asks for the operator's position.
func (h *RideHandler) reportPosition(c *gin.Context) (string, bool) {
	id, ok := pathID(c, "id")
	if !ok {
		return "", false
	}
	var req positionReq
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(c, http.StatusBadRequest, "invalid json")
		return "", false
	}
	if req.Fix == nil && !req.PermissionDenied {
		return id, true
	}
	r, err := h.rides.Store().GetActive(c.Request.Context(), types.ID(id))
	if err != nil {
		// Unknown or finished rides are reported by the ride service itself.
		return id, true
	}
	if req.PermissionDenied {
		err = h.reporter.Deny(c.Request.Context(), r.OperatorID)
	} else {
		err = h.reporter.Report(c.Request.Context(), r.OperatorID, types.Fix{Lat: req.Fix.Lat, Lng: req.Fix.Lng, Accuracy: req.Fix.Accuracy})
	}
	if err != nil {
		writeRideError(c, err)
		return "", false
	}
	return id, true
}
