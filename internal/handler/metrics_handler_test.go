package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pesantren-billing-api/internal/service"
)

func TestMetricsHandlerReady(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ok := PingFunc(func(context.Context) error { return nil })
	down := PingFunc(func(context.Context) error { return errors.New("connection refused") })

	handler := NewMetricsHandler(nil, map[string]Pinger{"database": ok})
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/ready", nil)
	handler.Ready(c)
	assert.Equal(t, http.StatusOK, rec.Code)

	handler = NewMetricsHandler(nil, map[string]Pinger{"database": ok, "cache": down})
	rec = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/ready", nil)
	handler.Ready(c)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unavailable", body.Status)
	assert.Equal(t, "ok", body.Checks["database"])
	assert.Equal(t, "connection refused", body.Checks["cache"])
}

func TestMetricsHandlerPrometheusAndSnapshot(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := service.NewMetricsService()
	metrics.RecordPayment(service.PaymentResultAccepted, 1000)
	handler := NewMetricsHandler(metrics, nil)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	handler.Prometheus(c)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `billing_payments_total{result="accepted"} 1`)

	rec = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/metrics/summary", nil)
	handler.Snapshot(c)

	require.Equal(t, http.StatusOK, rec.Code)
	var envelope responseEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, float64(1), envelope.Data["paymentsRecorded"])
}

func TestMetricsHandlerPrometheusUnavailable(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewMetricsHandler(nil, nil)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	handler.Prometheus(c)
	c.Writer.WriteHeaderNow() // gin's engine flushes the status after handlers; mirror it here

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
