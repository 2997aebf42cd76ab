// README: Request pool handlers for create, list, get, accept and reject.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"aeras/internal/modules/dispatch"
	"aeras/internal/modules/request"
	"aeras/internal/types"
)

type RequestHandler struct {
	dispatch *dispatch.Service
}

func NewRequestHandler(svc *dispatch.Service) *RequestHandler {
	return &RequestHandler{dispatch: svc}
}

type createRequestReq struct {
	UserID       string  `json:"user_id"`
	PickupBlock  string  `json:"pickup_block"`
	DropoffBlock string  `json:"dropoff_block"`
	Fare         float64 `json:"fare"`
}

type operatorReq struct {
	OperatorID string `json:"operator_id"`
}

func (h *RequestHandler) Create(c *gin.Context) {
	var req createRequestReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if !isValidID(req.UserID) || req.PickupBlock == "" || req.DropoffBlock == "" {
		writeError(c, http.StatusBadRequest, "missing fields")
		return
	}
	r, err := h.dispatch.Create(c.Request.Context(), dispatch.CreateCommand{
		UserID:       types.ID(req.UserID),
		PickupBlock:  req.PickupBlock,
		DropoffBlock: req.DropoffBlock,
		Fare:         req.Fare,
	})
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, r)
}

func (h *RequestHandler) List(c *gin.Context) {
	q := dispatch.ListQuery{Status: request.Status(c.Query("status"))}
	if op := c.Query("operator_id"); op != "" {
		if !isValidID(op) {
			writeError(c, http.StatusBadRequest, "invalid operator_id")
			return
		}
		q.OperatorID = types.ID(op)
	}
	switch q.Status {
	case "", request.StatusPending, request.StatusAccepted, request.StatusRejected:
	default:
		writeError(c, http.StatusBadRequest, "invalid status")
		return
	}
	list, err := h.dispatch.List(c.Request.Context(), q)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"requests": list})
}

func (h *RequestHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	r, err := h.dispatch.Get(c.Request.Context(), types.ID(id))
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

func (h *RequestHandler) Accept(c *gin.Context) {
	id, op, ok := h.bindOperator(c)
	if !ok {
		return
	}
	active, err := h.dispatch.Accept(c.Request.Context(), dispatch.AcceptCommand{
		RequestID:  types.ID(id),
		OperatorID: types.ID(op),
	})
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, active)
}

func (h *RequestHandler) Reject(c *gin.Context) {
	id, op, ok := h.bindOperator(c)
	if !ok {
		return
	}
	err := h.dispatch.Reject(c.Request.Context(), dispatch.RejectCommand{
		RequestID:  types.ID(id),
		OperatorID: types.ID(op),
	})
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": "rejected_by_operator"})
}

func (h *RequestHandler) bindOperator(c *gin.Context) (string, string, bool) {
	id, ok := pathID(c, "id")
	if !ok {
		return "", "", false
	}
	var req operatorReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return "", "", false
	}
	if !isValidID(req.OperatorID) {
		writeError(c, http.StatusBadRequest, "missing operator_id")
		return "", "", false
	}
	return id, req.OperatorID, true
}
