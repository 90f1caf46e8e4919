package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/colegio-digital/enrollment-api/internal/models"
	"github.com/colegio-digital/enrollment-api/internal/service"
	appErrors "github.com/colegio-digital/enrollment-api/pkg/errors"
	"github.com/colegio-digital/enrollment-api/pkg/response"
)

// ReportHandler exposes the dashboard and the CSV exports.
type ReportHandler struct {
	reports *service.ReportService
}

// NewReportHandler constructs handler.
func NewReportHandler(reports *service.ReportService) *ReportHandler {
	return &ReportHandler{reports: reports}
}

// Dashboard godoc
// @Summary Admin dashboard numbers
// @Tags Reports
// @Produce json
// @Param cycle query string true "School cycle"
// @Success 200 {object} response.Envelope
// @Router /reports/dashboard [get]
// @Security BearerAuth
func (h *ReportHandler) Dashboard(c *gin.Context) {
	dashboard, err := h.reports.Dashboard(c.Request.Context(), c.Query("cycle"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dashboard, nil)
}

// ExportEnrollments godoc
// @Summary Export enrollments as CSV
// @Tags Reports
// @Produce text/csv
// @Param cycle query string false "Filter by cycle"
// @Param level query string false "Filter by education level"
// @Param status query string false "Filter by status"
// @Success 200 {string} string "CSV payload"
// @Router /reports/enrollments.csv [get]
// @Security BearerAuth
func (h *ReportHandler) ExportEnrollments(c *gin.Context) {
	filter := models.EnrollmentFilter{
		Cycle:     c.Query("cycle"),
		LevelCode: c.Query("level"),
		Status:    models.EnrollmentStatus(c.Query("status")),
		SectionID: c.Query("sectionId"),
		Search:    c.Query("search"),
	}

	payload, err := h.reports.ExportEnrollments(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	writeCSV(c, "inscripciones", payload)
}

// ExportTreasury godoc
// @Summary Export treasury ledger as CSV
// @Tags Reports
// @Produce text/csv
// @Param cycle query string false "Filter by cycle"
// @Param concept query string false "Filter by concept"
// @Param paid query bool false "Filter by paid state"
// @Success 200 {string} string "CSV payload"
// @Router /reports/treasury.csv [get]
// @Security BearerAuth
func (h *ReportHandler) ExportTreasury(c *gin.Context) {
	filter := models.PaymentFilter{
		Cycle:   c.Query("cycle"),
		Concept: models.PaymentConcept(c.Query("concept")),
		Search:  c.Query("search"),
	}
	if raw := c.Query("paid"); raw != "" {
		paid, err := strconv.ParseBool(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "paid must be a boolean"))
			return
		}
		filter.Paid = &paid
	}

	payload, err := h.reports.ExportTreasury(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	writeCSV(c, "tesoreria", payload)
}

func writeCSV(c *gin.Context, name string, payload []byte) {
	filename := fmt.Sprintf("%s-%s.csv", name, time.Now().UTC().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", payload)
}
