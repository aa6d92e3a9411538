package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/pesantren-billing-api/internal/dto"
	"github.com/noah-isme/pesantren-billing-api/internal/middleware"
	appErrors "github.com/noah-isme/pesantren-billing-api/pkg/errors"
	"github.com/noah-isme/pesantren-billing-api/pkg/response"
)

type dashboardService interface {
	Summary(ctx context.Context, month, year int) (*dto.DashboardSummary, bool, error)
}

// DashboardHandler wires dashboard service to HTTP endpoints.
type DashboardHandler struct {
	service dashboardService
}

// NewDashboardHandler constructs the handler.
func NewDashboardHandler(service dashboardService) *DashboardHandler {
	return &DashboardHandler{service: service}
}

// Admin godoc
// @Summary Admin billing dashboard
// @Tags Dashboard
// @Produce json
// @Security BearerAuth
// @Param month query int false "Month (defaults to current)"
// @Param year query int false "Year (defaults to current)"
// @Success 200 {object} response.Envelope
// @Router /dashboard/admin [get]
func (h *DashboardHandler) Admin(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	month, err := queryInt(c, "month")
	if err != nil {
		response.Error(c, err)
		return
	}
	year, err := queryInt(c, "year")
	if err != nil {
		response.Error(c, err)
		return
	}
	if month < 0 || month > 12 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "month must be between 1 and 12"))
		return
	}

	start := time.Now()
	summary, cacheHit, err := h.service.Summary(c.Request.Context(), month, year)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	meta := middleware.ExtractMeta(c)
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta["processing_time_ms"] = time.Since(start).Milliseconds()
	response.JSON(c, http.StatusOK, summary, nil, meta)
}
