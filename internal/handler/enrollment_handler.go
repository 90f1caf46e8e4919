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

// EnrollmentHandler exposes the public submission endpoint and the
// back-office lifecycle endpoints.
type EnrollmentHandler struct {
	enrollments *service.EnrollmentService
	access      *service.AccessService
	metrics     *service.MetricsService
}

// NewEnrollmentHandler constructs handler.
func NewEnrollmentHandler(enrollments *service.EnrollmentService, access *service.AccessService, metrics *service.MetricsService) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments, access: access, metrics: metrics}
}

func (h *EnrollmentHandler) actor(c *gin.Context) (*models.User, error) {
	return h.access.ResolveProfile(c.Request.Context(), claimsFromContext(c))
}

// Submit godoc
// @Summary Submit enrollment
// @Description Submit a complete enrollment form for the active cycle
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body models.EnrollmentDraft true "Enrollment payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /enrollments [post]
func (h *EnrollmentHandler) Submit(c *gin.Context) {
	var draft models.EnrollmentDraft
	if err := c.ShouldBindJSON(&draft); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid enrollment payload"))
		return
	}

	enrollment, err := h.enrollments.Submit(c.Request.Context(), draft)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.metrics.RecordSubmission(enrollment.LevelCode)
	response.Created(c, enrollment)
}

// CheckDuplicate godoc
// @Summary Check duplicate enrollment
// @Description Report whether a DNI already has an active enrollment for the cycle
// @Tags Enrollments
// @Produce json
// @Param dni query string true "Student DNI"
// @Param cycle query string true "School cycle"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /enrollments/check-duplicate [get]
func (h *EnrollmentHandler) CheckDuplicate(c *gin.Context) {
	duplicate, err := h.enrollments.CheckDuplicate(c.Request.Context(), c.Query("dni"), c.Query("cycle"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"duplicate": duplicate}, nil)
}

// List godoc
// @Summary List enrollments
// @Tags Enrollments
// @Produce json
// @Param cycle query string false "Filter by cycle"
// @Param level query string false "Filter by education level"
// @Param status query string false "Filter by status"
// @Param sectionId query string false "Filter by section"
// @Param search query string false "Search by name or DNI"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /enrollments [get]
// @Security BearerAuth
func (h *EnrollmentHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))
	filter := models.EnrollmentFilter{
		Cycle:     c.Query("cycle"),
		LevelCode: c.Query("level"),
		Status:    models.EnrollmentStatus(c.Query("status")),
		SectionID: c.Query("sectionId"),
		Search:    c.Query("search"),
		Page:      page,
		PageSize:  pageSize,
		SortBy:    c.Query("sortBy"),
		SortOrder: c.Query("sortOrder"),
	}

	enrollments, pagination, err := h.enrollments.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollments, pagination)
}

// Get godoc
// @Summary Get enrollment detail
// @Description Full aggregate: student, address, guardians, health record
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollments/{id} [get]
// @Security BearerAuth
func (h *EnrollmentHandler) Get(c *gin.Context) {
	actor, err := h.actor(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	aggregate, err := h.enrollments.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	// Preceptors only see enrollments sitting in one of their sections.
	if actor.Role != models.RoleAdmin {
		if aggregate.Enrollment.SectionID == nil {
			response.Error(c, appErrors.ErrForbidden)
			return
		}
		if err := h.access.RequireScopeOverSection(c.Request.Context(), actor, *aggregate.Enrollment.SectionID); err != nil {
			response.Error(c, err)
			return
		}
	}

	response.JSON(c, http.StatusOK, aggregate, nil)
}

// Update godoc
// @Summary Update enrollment
// @Description Replace the enrollment aggregate with corrected data
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body models.EnrollmentDraft true "Enrollment payload"
// @Success 204 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollments/{id} [put]
// @Security BearerAuth
func (h *EnrollmentHandler) Update(c *gin.Context) {
	actor, err := h.actor(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	var draft models.EnrollmentDraft
	if err := c.ShouldBindJSON(&draft); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid enrollment payload"))
		return
	}

	if err := h.enrollments.Update(c.Request.Context(), c.Param("id"), draft, actor); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// SetStatus godoc
// @Summary Transition enrollment status
// @Description Approve or reject an enrollment; rejection requires a reason
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body service.SetStatusRequest true "Status payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /enrollments/{id}/status [patch]
// @Security BearerAuth
func (h *EnrollmentHandler) SetStatus(c *gin.Context) {
	actor, err := h.actor(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	var req service.SetStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid status payload"))
		return
	}

	detail, err := h.enrollments.SetStatus(c.Request.Context(), c.Param("id"), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.metrics.RecordTransition(detail.Status)
	response.JSON(c, http.StatusOK, detail, nil)
}

// Delete godoc
// @Summary Delete enrollment
// @Description Remove the enrollment aggregate; payments cascade or detach
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param cascadePayments query bool false "Delete linked payments too"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollments/{id} [delete]
// @Security BearerAuth
func (h *EnrollmentHandler) Delete(c *gin.Context) {
	actor, err := h.actor(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	cascade, _ := strconv.ParseBool(c.DefaultQuery("cascadePayments", "false"))
	if err := h.enrollments.Delete(c.Request.Context(), c.Param("id"), cascade, actor); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
