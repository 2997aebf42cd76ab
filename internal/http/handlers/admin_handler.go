// README: Admin handlers for points review, manual verification and cleanup reconciliation.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"aeras/internal/modules/ride"
	"aeras/internal/types"
)

type AdminHandler struct {
	rides *ride.Service
}

func NewAdminHandler(svc *ride.Service) *AdminHandler {
	return &AdminHandler{rides: svc}
}

type reviewReq struct {
	Approve bool `json:"approve"`
	Points  *int `json:"points"`
}

type resolveReq struct {
	DistanceM *float64 `json:"distance_m"`
}

func (h *AdminHandler) PendingReviews(c *gin.Context) {
	list, err := h.rides.Store().PendingReviews(c.Request.Context())
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"entries": list})
}

func (h *AdminHandler) Review(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req reviewReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	entry, err := h.rides.ReviewPoints(c.Request.Context(), ride.ReviewCommand{
		EntryID: types.ID(id),
		Approve: req.Approve,
		Points:  req.Points,
	})
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, entry)
}

func (h *AdminHandler) Resolve(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req resolveReq
	if err := c.ShouldBindJSON(&req); err != nil || req.DistanceM == nil {
		writeError(c, http.StatusBadRequest, "distance_m is required")
		return
	}
	res, err := h.rides.ResolveManualVerification(c.Request.Context(), ride.ResolveCommand{
		RideID:         types.ID(id),
		DistanceMeters: *req.DistanceM,
	})
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (h *AdminHandler) Reconcile(c *gin.Context) {
	report, err := h.rides.Reconcile(c.Request.Context())
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, report)
}
