package handlers

import (
	"github.com/gin-gonic/gin"

	"stockmatch/internal/domain/matching"
	"stockmatch/internal/infrastructure/http/v1/dto"
)

// TrackingHandler reads and sets lot/serial tracking flags of goods.
type TrackingHandler struct {
	*BaseHandler
	store matching.TrackingStore
}

// NewTrackingHandler creates a new tracking handler.
func NewTrackingHandler(base *BaseHandler, store matching.TrackingStore) *TrackingHandler {
	return &TrackingHandler{BaseHandler: base, store: store}
}

// Get handles GET /goods/:id/tracking
func (h *TrackingHandler) Get(c *gin.Context) {
	goodID, ok := h.ParamID(c)
	if !ok {
		return
	}
	tr, err := h.store.Tracking(c.Request.Context(), goodID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromTracking(goodID, tr))
}

// Set handles PUT /goods/:id/tracking
func (h *TrackingHandler) Set(c *gin.Context) {
	goodID, ok := h.ParamID(c)
	if !ok {
		return
	}
	var req dto.TrackingRequest
	if !h.BindJSON(c, &req) {
		return
	}
	tr := matching.Tracking{LotTracked: req.LotTracked || req.Serialized, Serialized: req.Serialized}
	if err := h.store.SetTracking(c.Request.Context(), goodID, tr); err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromTracking(goodID, tr))
}
