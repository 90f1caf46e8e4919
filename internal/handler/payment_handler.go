package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/colegio-digital/enrollment-api/internal/models"
	"github.com/colegio-digital/enrollment-api/internal/service"
	appErrors "github.com/colegio-digital/enrollment-api/pkg/errors"
	"github.com/colegio-digital/enrollment-api/pkg/response"
)

// PaymentHandler exposes the treasury endpoints.
type PaymentHandler struct {
	payments *service.PaymentService
	access   *service.AccessService
	metrics  *service.MetricsService
}

// NewPaymentHandler constructs handler.
func NewPaymentHandler(payments *service.PaymentService, access *service.AccessService, metrics *service.MetricsService) *PaymentHandler {
	return &PaymentHandler{payments: payments, access: access, metrics: metrics}
}

func (h *PaymentHandler) actor(c *gin.Context) (*models.User, error) {
	return h.access.ResolveProfile(c.Request.Context(), claimsFromContext(c))
}

// Record godoc
// @Summary Record payment
// @Description Record a MATRICULA or SEGURO payment for an approved enrollment
// @Tags Payments
// @Accept json
// @Produce json
// @Param payload body service.RecordPaymentRequest true "Payment payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /payments [post]
// @Security BearerAuth
func (h *PaymentHandler) Record(c *gin.Context) {
	actor, err := h.actor(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	var req service.RecordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payment payload"))
		return
	}

	payment, err := h.payments.Record(c.Request.Context(), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.metrics.RecordPayment(payment.Concept)
	response.Created(c, payment)
}

// Update godoc
// @Summary Update payment
// @Tags Payments
// @Accept json
// @Produce json
// @Param id path string true "Payment ID"
// @Param payload body service.UpdatePaymentRequest true "Payment payload"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /payments/{id} [put]
// @Security BearerAuth
func (h *PaymentHandler) Update(c *gin.Context) {
	actor, err := h.actor(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	var req service.UpdatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payment payload"))
		return
	}

	payment, err := h.payments.Update(c.Request.Context(), c.Param("id"), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, payment, nil)
}

// ListByEnrollment godoc
// @Summary List payments of one enrollment
// @Tags Payments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/payments [get]
// @Security BearerAuth
func (h *PaymentHandler) ListByEnrollment(c *gin.Context) {
	payments, err := h.payments.ListByEnrollment(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, payments, nil)
}

// List godoc
// @Summary List treasury payments
// @Tags Payments
// @Produce json
// @Param cycle query string false "Filter by cycle"
// @Param concept query string false "Filter by concept"
// @Param paid query bool false "Filter by paid state"
// @Param from query string false "Paid-at lower bound (RFC3339)"
// @Param to query string false "Paid-at upper bound (RFC3339)"
// @Param search query string false "Search by student name or DNI"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /payments [get]
// @Security BearerAuth
func (h *PaymentHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))
	filter := models.PaymentFilter{
		Cycle:    c.Query("cycle"),
		Concept:  models.PaymentConcept(c.Query("concept")),
		Search:   c.Query("search"),
		Page:     page,
		PageSize: pageSize,
	}
	if raw := c.Query("paid"); raw != "" {
		paid, err := strconv.ParseBool(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "paid must be a boolean"))
			return
		}
		filter.Paid = &paid
	}
	if raw := c.Query("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "from must be RFC3339"))
			return
		}
		filter.DateFrom = &from
	}
	if raw := c.Query("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "to must be RFC3339"))
			return
		}
		filter.DateTo = &to
	}

	payments, pagination, err := h.payments.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, payments, pagination)
}

// InsuranceReport godoc
// @Summary Insurance compliance report
// @Description Every approved enrollment of the cycle with its SEGURO state
// @Tags Payments
// @Produce json
// @Param cycle query string true "School cycle"
// @Success 200 {object} response.Envelope
// @Router /payments/insurance-report [get]
// @Security BearerAuth
func (h *PaymentHandler) InsuranceReport(c *gin.Context) {
	entries, err := h.payments.InsuranceReport(c.Request.Context(), c.Query("cycle"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

// Totals godoc
// @Summary Paid totals per concept
// @Tags Payments
// @Produce json
// @Param cycle query string true "School cycle"
// @Success 200 {object} response.Envelope
// @Router /payments/totals [get]
// @Security BearerAuth
func (h *PaymentHandler) Totals(c *gin.Context) {
	totals, err := h.payments.Totals(c.Request.Context(), c.Query("cycle"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, totals, nil)
}
