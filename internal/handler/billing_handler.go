package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/pesantren-billing-api/internal/dto"
	"github.com/noah-isme/pesantren-billing-api/internal/middleware"
	"github.com/noah-isme/pesantren-billing-api/internal/models"
	"github.com/noah-isme/pesantren-billing-api/internal/service"
	appErrors "github.com/noah-isme/pesantren-billing-api/pkg/errors"
	"github.com/noah-isme/pesantren-billing-api/pkg/response"
)

type billingService interface {
	List(ctx context.Context, year int) ([]models.BillingBatch, error)
	Get(ctx context.Context, id string) (*models.BillingBatch, error)
	Create(ctx context.Context, req service.CreateBatchRequest) (*dto.CreateBatchResult, error)
	RetryFanOut(ctx context.Context, id string) (*dto.CreateBatchResult, error)
}

type obligationLister interface {
	StudentObligations(ctx context.Context, studentID string) ([]models.StatementLine, error)
}

// BillingHandler exposes billing batch endpoints.
type BillingHandler struct {
	billing     billingService
	obligations obligationLister
}

// NewBillingHandler constructs BillingHandler.
func NewBillingHandler(billing billingService, obligations obligationLister) *BillingHandler {
	return &BillingHandler{billing: billing, obligations: obligations}
}

// List godoc
// @Summary List billing batches
// @Tags Billing
// @Produce json
// @Security BearerAuth
// @Param year query string false "Year, or 'all'"
// @Success 200 {object} response.Envelope
// @Router /billing [get]
func (h *BillingHandler) List(c *gin.Context) {
	year, err := parseYearFilter(c.Query("year"))
	if err != nil {
		response.Error(c, err)
		return
	}
	batches, err := h.billing.List(c.Request.Context(), year)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, batches, nil)
}

// Get godoc
// @Summary Get billing batch
// @Tags Billing
// @Produce json
// @Security BearerAuth
// @Param id path string true "Batch ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /billing/{id} [get]
func (h *BillingHandler) Get(c *gin.Context) {
	batch, err := h.billing.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, batch, nil)
}

// CreateBatch godoc
// @Summary Create billing batch
// @Description Stores the fee definition for a month and creates one obligation per student
// @Tags Billing
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.CreateBatchRequest true "Batch payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 500 {object} response.Envelope
// @Router /billing/batch [post]
func (h *BillingHandler) CreateBatch(c *gin.Context) {
	var req service.CreateBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.billing.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetAuditResourceID(c, result.Batch.ID)
	response.Created(c, result, "")
}

// RetryFanOut godoc
// @Summary Generate missing obligations for a batch
// @Tags Billing
// @Produce json
// @Security BearerAuth
// @Param id path string true "Batch ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /billing/batch/{id}/fan-out [post]
func (h *BillingHandler) RetryFanOut(c *gin.Context) {
	result, err := h.billing.RetryFanOut(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// StudentObligations godoc
// @Summary List a student's obligations
// @Tags Billing
// @Produce json
// @Security BearerAuth
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /billing/student/{id} [get]
func (h *BillingHandler) StudentObligations(c *gin.Context) {
	lines, err := h.obligations.StudentObligations(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lines, nil)
}

// parseYearFilter treats an empty value or "all" as no filter.
func parseYearFilter(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "all") {
		return 0, nil
	}
	year, err := strconv.Atoi(raw)
	if err != nil || year <= 0 {
		return 0, appErrors.Clone(appErrors.ErrValidation, "year must be a positive number or 'all'")
	}
	return year, nil
}
