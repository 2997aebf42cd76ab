// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"aeras/internal/modules/dispatch"
	"aeras/internal/modules/location"
	"aeras/internal/modules/operator"
	"aeras/internal/modules/ride"
)

type errorResponse struct {
	Error string `json:"error"`
}

// isValidID accepts the generated id shapes (req_<uuid>, ride_<uuid>,
// ph_ride_<uuid>) and simple operator handles.
func isValidID(v string) bool {
	if v == "" || len(v) > 64 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_' || c == '-' {
			continue
		}
		return false
	}
	return true
}

// pathID reads and validates a path parameter, writing a 400 on failure.
func pathID(c *gin.Context, name string) (string, bool) {
	v := c.Param(name)
	if !isValidID(v) {
		writeError(c, http.StatusBadRequest, "invalid "+name)
		return "", false
	}
	return v, true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// writeDispatchError maps request pool outcomes. Lost races are 409 so an
// operator client can move on to another request.
func writeDispatchError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, dispatch.ErrBadCommand), errors.Is(err, dispatch.ErrInvalidRequest):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, dispatch.ErrNotFound), errors.Is(err, dispatch.ErrUnknownRequest), errors.Is(err, dispatch.ErrUnknownOperator):
		writeError(c, http.StatusNotFound, err.Error())
	case dispatch.IsRaceLost(err):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, location.ErrUnknownLocation):
		writeError(c, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

func writeRideError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ride.ErrBadCommand), errors.Is(err, location.ErrInvalidFix):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, ride.ErrNotFound), errors.Is(err, ride.ErrOperatorMissing):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, ride.ErrInvalidState), errors.Is(err, ride.ErrConflict),
		errors.Is(err, ride.ErrAlreadyReviewed), errors.Is(err, ride.ErrNotPendingReview):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, location.ErrUnknownLocation):
		writeError(c, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

func writeOperatorError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, operator.ErrInvalid), errors.Is(err, location.ErrInvalidFix):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, operator.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, operator.ErrExists):
		writeError(c, http.StatusConflict, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
