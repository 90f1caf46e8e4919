package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/colegio-digital/enrollment-api/internal/models"
	"github.com/colegio-digital/enrollment-api/internal/service"
	appErrors "github.com/colegio-digital/enrollment-api/pkg/errors"
	"github.com/colegio-digital/enrollment-api/pkg/response"
)

// SectionHandler exposes course section management and roster endpoints.
type SectionHandler struct {
	roster *service.RosterService
	access *service.AccessService
}

// NewSectionHandler constructs handler.
func NewSectionHandler(roster *service.RosterService, access *service.AccessService) *SectionHandler {
	return &SectionHandler{roster: roster, access: access}
}

func (h *SectionHandler) actor(c *gin.Context) (*models.User, error) {
	return h.access.ResolveProfile(c.Request.Context(), claimsFromContext(c))
}

// List godoc
// @Summary List course sections
// @Tags Sections
// @Produce json
// @Param level query string false "Filter by education level"
// @Success 200 {object} response.Envelope
// @Router /sections [get]
// @Security BearerAuth
func (h *SectionHandler) List(c *gin.Context) {
	sections, err := h.roster.ListSections(c.Request.Context(), c.Query("level"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sections, nil)
}

// Create godoc
// @Summary Create course section
// @Tags Sections
// @Accept json
// @Produce json
// @Param payload body service.CreateSectionRequest true "Section payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /sections [post]
// @Security BearerAuth
func (h *SectionHandler) Create(c *gin.Context) {
	actor, err := h.actor(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	var req service.CreateSectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid section payload"))
		return
	}

	section, err := h.roster.CreateSection(c.Request.Context(), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, section)
}

// Delete godoc
// @Summary Delete course section
// @Description Only empty sections can be deleted
// @Tags Sections
// @Produce json
// @Param id path string true "Section ID"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sections/{id} [delete]
// @Security BearerAuth
func (h *SectionHandler) Delete(c *gin.Context) {
	actor, err := h.actor(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	if err := h.roster.DeleteSection(c.Request.Context(), c.Param("id"), actor); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Clear godoc
// @Summary Clear section roster
// @Description Move the roster to another section or delete it outright
// @Tags Sections
// @Accept json
// @Produce json
// @Param id path string true "Section ID"
// @Param payload body service.ClearSectionRequest true "Clear payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /sections/{id}/clear [post]
// @Security BearerAuth
func (h *SectionHandler) Clear(c *gin.Context) {
	actor, err := h.actor(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	var req service.ClearSectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid clear payload"))
		return
	}

	resolved, err := h.roster.ClearSection(c.Request.Context(), c.Param("id"), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"resolved": resolved}, nil)
}

// Roster godoc
// @Summary List section roster
// @Tags Sections
// @Produce json
// @Param id path string true "Section ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /sections/{id}/roster [get]
// @Security BearerAuth
func (h *SectionHandler) Roster(c *gin.Context) {
	actor, err := h.actor(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	roster, err := h.roster.Roster(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, roster, nil)
}

// Unassigned godoc
// @Summary List approved unassigned enrollments
// @Tags Sections
// @Produce json
// @Param level query string true "Education level"
// @Param cycle query string false "School cycle"
// @Param search query string false "Search by name or DNI"
// @Param gender query string false "Filter by gender"
// @Param age query int false "Filter by derived age"
// @Success 200 {object} response.Envelope
// @Router /sections/unassigned [get]
// @Security BearerAuth
func (h *SectionHandler) Unassigned(c *gin.Context) {
	filter := models.UnassignedFilter{
		LevelCode: c.Query("level"),
		Cycle:     c.Query("cycle"),
		Search:    c.Query("search"),
		Gender:    c.Query("gender"),
	}
	if raw := c.Query("age"); raw != "" {
		age, err := strconv.Atoi(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "age must be an integer"))
			return
		}
		filter.Age = &age
	}

	enrollments, err := h.roster.ListUnassigned(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollments, nil)
}

// BulkAssign godoc
// @Summary Bulk assign enrollments to a section
// @Description All-or-nothing placement of approved unassigned enrollments
// @Tags Sections
// @Accept json
// @Produce json
// @Param payload body service.BulkAssignRequest true "Assignment payload"
// @Success 204 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sections/assign [post]
// @Security BearerAuth
func (h *SectionHandler) BulkAssign(c *gin.Context) {
	actor, err := h.actor(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	var req service.BulkAssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid assignment payload"))
		return
	}

	if err := h.roster.BulkAssign(c.Request.Context(), req, actor); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Move godoc
// @Summary Move enrollment between sections
// @Tags Sections
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body map[string]string true "Target section"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /enrollments/{id}/section [put]
// @Security BearerAuth
func (h *SectionHandler) Move(c *gin.Context) {
	actor, err := h.actor(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	var payload struct {
		SectionID string `json:"section_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "target section required"))
		return
	}

	if err := h.roster.Move(c.Request.Context(), c.Param("id"), payload.SectionID, actor); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Remove godoc
// @Summary Remove enrollment from its section
// @Tags Sections
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /enrollments/{id}/section [delete]
// @Security BearerAuth
func (h *SectionHandler) Remove(c *gin.Context) {
	actor, err := h.actor(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	if err := h.roster.Remove(c.Request.Context(), c.Param("id"), actor); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
