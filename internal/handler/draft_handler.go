package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/colegio-digital/enrollment-api/internal/service"
	appErrors "github.com/colegio-digital/enrollment-api/pkg/errors"
	"github.com/colegio-digital/enrollment-api/pkg/response"
)

// DraftHandler serves the public enrollment draft accumulator.
type DraftHandler struct {
	drafts  *service.DraftService
	metrics *service.MetricsService
}

// NewDraftHandler constructs handler.
func NewDraftHandler(drafts *service.DraftService, metrics *service.MetricsService) *DraftHandler {
	return &DraftHandler{drafts: drafts, metrics: metrics}
}

// Start godoc
// @Summary Start a draft
// @Description Issue a fresh draft token for the public form
// @Tags Drafts
// @Produce json
// @Success 201 {object} response.Envelope
// @Router /drafts [post]
func (h *DraftHandler) Start(c *gin.Context) {
	response.Created(c, gin.H{"token": h.drafts.Start()})
}

// SaveSection godoc
// @Summary Save a draft section
// @Description Store one form section payload under the draft token
// @Tags Drafts
// @Accept json
// @Produce json
// @Param token path string true "Draft token"
// @Param section path string true "Section name"
// @Success 204 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /drafts/{token}/sections/{section} [put]
func (h *DraftHandler) SaveSection(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "unable to read section payload"))
		return
	}

	if err := h.drafts.SaveSection(c.Request.Context(), c.Param("token"), c.Param("section"), json.RawMessage(payload)); err != nil {
		response.Error(c, err)
		return
	}

	h.metrics.RecordDraftSave()
	response.NoContent(c)
}

// GetSection godoc
// @Summary Get a draft section
// @Tags Drafts
// @Produce json
// @Param token path string true "Draft token"
// @Param section path string true "Section name"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /drafts/{token}/sections/{section} [get]
func (h *DraftHandler) GetSection(c *gin.Context) {
	payload, err := h.drafts.GetSection(c.Request.Context(), c.Param("token"), c.Param("section"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, payload, nil)
}

// Get godoc
// @Summary Get all draft sections
// @Tags Drafts
// @Produce json
// @Param token path string true "Draft token"
// @Success 200 {object} response.Envelope
// @Router /drafts/{token} [get]
func (h *DraftHandler) Get(c *gin.Context) {
	sections, err := h.drafts.GetAll(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sections, nil)
}

// Clear godoc
// @Summary Clear a draft
// @Tags Drafts
// @Produce json
// @Param token path string true "Draft token"
// @Success 204 {object} response.Envelope
// @Router /drafts/{token} [delete]
func (h *DraftHandler) Clear(c *gin.Context) {
	if err := h.drafts.Clear(c.Request.Context(), c.Param("token")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
