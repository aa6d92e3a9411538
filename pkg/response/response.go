package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/pesantren-billing-api/internal/models"
	appErrors "github.com/noah-isme/pesantren-billing-api/pkg/errors"
)

// Envelope represents the common response contract.
type Envelope struct {
	Success    bool                   `json:"success"`
	Data       interface{}            `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Code       string                 `json:"code,omitempty"`
	Message    string                 `json:"message,omitempty"`
	Pagination *models.Pagination     `json:"pagination,omitempty"`
	Meta       map[string]interface{} `json:"meta,omitempty"`
}

// JSON sends a success response with optional pagination metadata.
func JSON(c *gin.Context, status int, data interface{}, pagination *models.Pagination, meta ...map[string]interface{}) {
	noStore(c)
	envelope := Envelope{Success: true, Data: data, Pagination: pagination}
	if len(meta) > 0 && meta[0] != nil {
		envelope.Meta = meta[0]
	}
	c.JSON(status, envelope)
}

// Message sends a success response carrying a human readable message.
func Message(c *gin.Context, status int, data interface{}, message string) {
	noStore(c)
	c.JSON(status, Envelope{Success: true, Data: data, Message: message})
}

// Created responds with HTTP 201 Created.
func Created(c *gin.Context, data interface{}, message string) {
	Message(c, http.StatusCreated, data, message)
}

// Error sends an error response converting the error to the common structure.
func Error(c *gin.Context, err error) {
	appErr := appErrors.FromError(err)
	if appErr.Status >= http.StatusInternalServerError && appErr.Err != nil {
		_ = c.Error(appErr.Err)
	}
	noStore(c)
	c.JSON(appErr.Status, Envelope{Success: false, Error: appErr.Message, Code: appErr.Code})
}

func noStore(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
}
