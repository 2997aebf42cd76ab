// README: Operator handlers for registration, location updates, active ride and history.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"aeras/internal/modules/operator"
	"aeras/internal/modules/ride"
	"aeras/internal/types"
)

const historyLimit = 10

type OperatorHandler struct {
	operators *operator.Store
	rides     *ride.Service
	reporter  Reporter
}

func NewOperatorHandler(operators *operator.Store, rides *ride.Service, reporter Reporter) *OperatorHandler {
	return &OperatorHandler{operators: operators, rides: rides, reporter: reporter}
}

type registerOperatorReq struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Rating float64 `json:"rating"`
}

type locationReq struct {
	Lat              *float64 `json:"lat"`
	Lng              *float64 `json:"lng"`
	Accuracy         float64  `json:"accuracy"`
	PermissionDenied bool     `json:"permission_denied"`
}

func (h *OperatorHandler) Register(c *gin.Context) {
	var req registerOperatorReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if !isValidID(req.ID) || req.Name == "" {
		writeError(c, http.StatusBadRequest, "missing fields")
		return
	}
	o := &operator.Operator{ID: types.ID(req.ID), Name: req.Name, Rating: req.Rating}
	if err := h.operators.Register(c.Request.Context(), o); err != nil {
		writeOperatorError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, o)
}

func (h *OperatorHandler) List(c *gin.Context) {
	list, err := h.operators.List(c.Request.Context())
	if err != nil {
		writeOperatorError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"operators": list})
}

func (h *OperatorHandler) UpdateLocation(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req locationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	ctx := c.Request.Context()
	if _, err := h.operators.Get(ctx, types.ID(id)); err != nil {
		writeOperatorError(c, err)
		return
	}
	if req.PermissionDenied {
		if err := h.reporter.Deny(ctx, types.ID(id)); err != nil {
			writeOperatorError(c, err)
			return
		}
		writeJSON(c, http.StatusOK, gin.H{"status": "permission_denied"})
		return
	}
	if req.Lat == nil || req.Lng == nil {
		writeError(c, http.StatusBadRequest, "missing lat/lng")
		return
	}
	fix := types.Fix{Lat: *req.Lat, Lng: *req.Lng, Accuracy: req.Accuracy}
	if err := h.reporter.Report(ctx, types.ID(id), fix); err != nil {
		writeOperatorError(c, err)
		return
	}
	if err := h.operators.SetPosition(ctx, types.ID(id), fix.Point()); err != nil {
		writeOperatorError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": "ok"})
}

func (h *OperatorHandler) ActiveRide(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	r, err := h.rides.Store().ActiveForOperator(c.Request.Context(), types.ID(id))
	if errors.Is(err, ride.ErrNotFound) {
		writeJSON(c, http.StatusOK, gin.H{"ride": nil})
		return
	}
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ride": r})
}

func (h *OperatorHandler) History(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	list, err := h.rides.Store().CompletedForOperator(c.Request.Context(), types.ID(id), historyLimit)
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"rides": list})
}
