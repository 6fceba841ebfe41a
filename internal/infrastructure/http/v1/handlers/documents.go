package handlers

import (
	"github.com/gin-gonic/gin"

	"stockmatch/internal/domain/documents/stockmove"
	"stockmatch/internal/infrastructure/http/v1/dto"
)

// DocumentHandler handles HTTP requests for stock documents.
type DocumentHandler struct {
	*BaseHandler
	service *stockmove.Service
}

// NewDocumentHandler creates a new stock document handler.
func NewDocumentHandler(base *BaseHandler, service *stockmove.Service) *DocumentHandler {
	return &DocumentHandler{BaseHandler: base, service: service}
}

// Create handles POST /documents
func (h *DocumentHandler) Create(c *gin.Context) {
	var req dto.CreateDocumentRequest
	if !h.BindJSON(c, &req) {
		return
	}
	in, err := req.ToInput()
	if err != nil {
		h.Error(c, err)
		return
	}
	doc, err := h.service.Create(c.Request.Context(), in)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, dto.FromDocument(doc))
}

// List handles GET /documents
func (h *DocumentHandler) List(c *gin.Context) {
	var q dto.DocumentListQuery
	if !h.BindQuery(c, &q) {
		return
	}
	filter, err := q.ToFilter()
	if err != nil {
		h.Error(c, err)
		return
	}
	result, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		h.Error(c, err)
		return
	}

	items := make([]dto.DocumentResponse, len(result.Items))
	for i, doc := range result.Items {
		items[i] = dto.FromDocument(doc)
	}
	h.OK(c, dto.ListResponse[dto.DocumentResponse]{
		Items:      items,
		TotalCount: result.TotalCount,
		Limit:      result.Limit,
		Offset:     result.Offset,
	})
}

// Get handles GET /documents/:id
func (h *DocumentHandler) Get(c *gin.Context) {
	docID, ok := h.ParamID(c)
	if !ok {
		return
	}
	doc, err := h.service.GetByID(c.Request.Context(), docID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromDocument(doc))
}

// Post handles POST /documents/:id/post
func (h *DocumentHandler) Post(c *gin.Context) {
	docID, ok := h.ParamID(c)
	if !ok {
		return
	}
	result, err := h.service.Post(c.Request.Context(), docID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromPostResult(result))
}

// Unpost handles POST /documents/:id/unpost
func (h *DocumentHandler) Unpost(c *gin.Context) {
	docID, ok := h.ParamID(c)
	if !ok {
		return
	}
	if err := h.service.Unpost(c.Request.Context(), docID); err != nil {
		h.Error(c, err)
		return
	}
	doc, err := h.service.GetByID(c.Request.Context(), docID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromDocument(doc))
}

// Delete handles DELETE /documents/:id
func (h *DocumentHandler) Delete(c *gin.Context) {
	docID, ok := h.ParamID(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), docID); err != nil {
		h.Error(c, err)
		return
	}
	h.NoContent(c)
}

// Compensate handles POST /documents/:id/compensate.
// The operator confirms the shortfall; the document is re-posted afterwards.
func (h *DocumentHandler) Compensate(c *gin.Context) {
	docID, ok := h.ParamID(c)
	if !ok {
		return
	}
	lines, err := h.service.Compensate(c.Request.Context(), docID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, gin.H{"compensations": dto.FromLines(lines)})
}
