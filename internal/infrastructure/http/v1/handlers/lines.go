package handlers

import (
	"github.com/gin-gonic/gin"

	"stockmatch/internal/core/apperror"
	"stockmatch/internal/core/entity"
	"stockmatch/internal/domain/matching"
	"stockmatch/internal/infrastructure/http/v1/dto"
)

// LineHandler exposes the matching engine to document workflows that
// manage their own lines.
type LineHandler struct {
	*BaseHandler
	engine *matching.Service
}

// NewLineHandler creates a new line handler.
func NewLineHandler(base *BaseHandler, engine *matching.Service) *LineHandler {
	return &LineHandler{BaseHandler: base, engine: engine}
}

// Create handles POST /lines
func (h *LineHandler) Create(c *gin.Context) {
	var req dto.CreateLineRequest
	if !h.BindJSON(c, &req) {
		return
	}
	line, err := req.ToEntity()
	if err != nil {
		h.Error(c, err)
		return
	}
	if err := h.engine.RegisterLine(c.Request.Context(), line); err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, dto.FromLine(line))
}

// Get handles GET /lines/:id
func (h *LineHandler) Get(c *gin.Context) {
	lineID, ok := h.ParamID(c)
	if !ok {
		return
	}
	line, err := h.engine.GetLine(c.Request.Context(), lineID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromLine(line))
}

// standaloneLine loads a line that no stock document owns. Document lines
// change only through the document endpoints, so that the posted flag and
// the line states stay in step.
func (h *LineHandler) standaloneLine(c *gin.Context) (*entity.MoveLine, bool) {
	lineID, ok := h.ParamID(c)
	if !ok {
		return nil, false
	}
	line, err := h.engine.GetLine(c.Request.Context(), lineID)
	if err != nil {
		h.Error(c, err)
		return nil, false
	}
	if line.DocumentID != nil {
		h.Error(c, apperror.NewDocumentLine(line.ID.String(), line.DocumentID.String()))
		return nil, false
	}
	return line, true
}

// Commit handles POST /lines/:id/commit.
// Inbound lines are committed as supply; outbound lines are matched.
func (h *LineHandler) Commit(c *gin.Context) {
	ctx := c.Request.Context()
	line, ok := h.standaloneLine(c)
	if !ok {
		return
	}
	lineID := line.ID
	var err error

	var resp dto.CommitResponse
	if line.IsOutbound() {
		alloc, err := h.engine.OnOutboundCommitted(ctx, lineID)
		if err != nil {
			h.Error(c, err)
			return
		}
		resp.Allocation = alloc
	} else if err := h.engine.CommitInbound(ctx, lineID); err != nil {
		h.Error(c, err)
		return
	}

	if line, err = h.engine.GetLine(ctx, lineID); err != nil {
		h.Error(c, err)
		return
	}
	resp.Line = dto.FromLine(line)
	h.OK(c, resp)
}

// Reverse handles POST /lines/:id/reverse
func (h *LineHandler) Reverse(c *gin.Context) {
	ctx := c.Request.Context()
	line, ok := h.standaloneLine(c)
	if !ok {
		return
	}
	lineID := line.ID

	var err error
	if line.IsOutbound() {
		err = h.engine.OnOutboundReversed(ctx, lineID)
	} else {
		err = h.engine.ReverseInbound(ctx, lineID)
	}
	if err != nil {
		h.Error(c, err)
		return
	}

	if line, err = h.engine.GetLine(ctx, lineID); err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromLine(line))
}

// Delete handles DELETE /lines/:id
func (h *LineHandler) Delete(c *gin.Context) {
	line, ok := h.standaloneLine(c)
	if !ok {
		return
	}
	if err := h.engine.DeleteLine(c.Request.Context(), line.ID); err != nil {
		h.Error(c, err)
		return
	}
	h.NoContent(c)
}

// Remaining handles GET /lines/:id/remaining
func (h *LineHandler) Remaining(c *gin.Context) {
	lineID, ok := h.ParamID(c)
	if !ok {
		return
	}
	remaining, err := h.engine.RemainingQuantity(c.Request.Context(), lineID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.RemainingResponse{LineID: lineID.String(), Remaining: remaining})
}

// CanUnlink handles GET /lines/:id/can-unlink
func (h *LineHandler) CanUnlink(c *gin.Context) {
	lineID, ok := h.ParamID(c)
	if !ok {
		return
	}
	can, err := h.engine.CanUnlinkInbound(c.Request.Context(), lineID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.CanUnlinkResponse{LineID: lineID.String(), CanUnlink: can})
}

// Matches handles GET /lines/:id/matches
func (h *LineHandler) Matches(c *gin.Context) {
	lineID, ok := h.ParamID(c)
	if !ok {
		return
	}
	records, err := h.engine.Matches(c.Request.Context(), lineID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.MatchesResponse{LineID: lineID.String(), Matches: records})
}

// Verify handles GET /lines/:id/verify
func (h *LineHandler) Verify(c *gin.Context) {
	lineID, ok := h.ParamID(c)
	if !ok {
		return
	}
	result, err := h.engine.Verify(c.Request.Context(), lineID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, result)
}

// Availability handles GET /availability
func (h *LineHandler) Availability(c *gin.Context) {
	var q dto.AvailabilityQuery
	if !h.BindQuery(c, &q) {
		return
	}
	key, err := q.ToKey()
	if err != nil {
		h.Error(c, err)
		return
	}
	available, err := h.engine.Availability(c.Request.Context(), key, q.Lot)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.AvailabilityResponse{StockKey: key, Lot: q.Lot, Available: available})
}
