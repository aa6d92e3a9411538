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

// IdempotencyKeyHeader carries the client key when the body omits it.
const IdempotencyKeyHeader = "Idempotency-Key"

type paymentService interface {
	Record(ctx context.Context, req service.RecordPaymentRequest, actorID string) (*service.PaymentResult, error)
	List(ctx context.Context, filter models.PaymentFilter) ([]models.PaymentRecord, *models.Pagination, error)
	Statement(ctx context.Context, studentID string) (*dto.StudentStatement, error)
}

// PaymentHandler exposes payment endpoints.
type PaymentHandler struct {
	payments paymentService
}

// NewPaymentHandler constructs PaymentHandler.
func NewPaymentHandler(payments paymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

// List godoc
// @Summary List payment obligations
// @Tags Payments
// @Produce json
// @Security BearerAuth
// @Param studentId query string false "Student ID"
// @Param year query int false "Batch year"
// @Param month query int false "Batch month"
// @Param class query string false "Student class"
// @Param gender query string false "Student gender (L or P)"
// @Param status query string false "Lunas, Cicilan or Belum Lunas"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /payments [get]
func (h *PaymentHandler) List(c *gin.Context) {
	filter := models.PaymentFilter{
		StudentID: strings.TrimSpace(c.Query("studentId")),
		Class:     strings.TrimSpace(c.Query("class")),
		Gender:    strings.ToUpper(strings.TrimSpace(c.Query("gender"))),
	}
	var err error
	if filter.Year, err = queryInt(c, "year"); err != nil {
		response.Error(c, err)
		return
	}
	if filter.Month, err = queryInt(c, "month"); err != nil {
		response.Error(c, err)
		return
	}
	if filter.Page, err = queryInt(c, "page"); err != nil {
		response.Error(c, err)
		return
	}
	if filter.PageSize, err = queryInt(c, "limit"); err != nil {
		response.Error(c, err)
		return
	}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status, ok := models.ParsePaymentStatus(raw)
		if !ok {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "status must be one of Lunas, Cicilan, Belum Lunas"))
			return
		}
		filter.Status = status
	}

	records, pagination, err := h.payments.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, pagination)
}

// Record godoc
// @Summary Record a payment
// @Description Adds an installment to an obligation. Replaying an idempotency key returns the current obligation.
// @Tags Payments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param Idempotency-Key header string false "Client idempotency key"
// @Param payload body service.RecordPaymentRequest true "Payment payload"
// @Success 201 {object} response.Envelope
// @Success 200 {object} response.Envelope "Replayed"
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /payments [post]
func (h *PaymentHandler) Record(c *gin.Context) {
	var req service.RecordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = strings.TrimSpace(c.GetHeader(IdempotencyKeyHeader))
	}
	actorID := ""
	if claims := middleware.CurrentClaims(c); claims != nil {
		actorID = claims.UserID
	}

	result, err := h.payments.Record(c.Request.Context(), req, actorID)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetAuditResourceID(c, result.Obligation.ID)

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
		middleware.SetReplayed(c)
	}
	response.JSON(c, status, result.Obligation, nil, middleware.ExtractMeta(c))
}

// Statement godoc
// @Summary Student payment statement
// @Tags Payments
// @Produce json
// @Security BearerAuth
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /payments/student/{id} [get]
func (h *PaymentHandler) Statement(c *gin.Context) {
	statement, err := h.payments.Statement(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, statement, nil)
}

func queryInt(c *gin.Context, name string) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, appErrors.Clone(appErrors.ErrValidation, name+" must be a number")
	}
	return value, nil
}
