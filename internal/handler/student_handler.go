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

// StudentHandler exposes the student registry endpoints.
type StudentHandler struct {
	students *service.StudentService
}

// NewStudentHandler constructs handler.
func NewStudentHandler(students *service.StudentService) *StudentHandler {
	return &StudentHandler{students: students}
}

// List godoc
// @Summary List students
// @Tags Students
// @Produce json
// @Param search query string false "Search by name or DNI"
// @Param gender query string false "Filter by gender"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /students [get]
// @Security BearerAuth
func (h *StudentHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))
	filter := models.StudentFilter{
		Search:   c.Query("search"),
		Gender:   c.Query("gender"),
		Page:     page,
		PageSize: pageSize,
	}

	students, pagination, err := h.students.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, students, pagination)
}

// Get godoc
// @Summary Get student
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /students/{id} [get]
// @Security BearerAuth
func (h *StudentHandler) Get(c *gin.Context) {
	student, err := h.students.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// FindByDNI godoc
// @Summary Find student by DNI
// @Tags Students
// @Produce json
// @Param dni query string true "Student DNI"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /students/by-dni [get]
// @Security BearerAuth
func (h *StudentHandler) FindByDNI(c *gin.Context) {
	if c.Query("dni") == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "dni is required"))
		return
	}
	student, err := h.students.FindByDNI(c.Request.Context(), c.Query("dni"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}
