package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/pesantren-billing-api/internal/dto"
	"github.com/noah-isme/pesantren-billing-api/internal/middleware"
	"github.com/noah-isme/pesantren-billing-api/internal/models"
	"github.com/noah-isme/pesantren-billing-api/internal/service"
	appErrors "github.com/noah-isme/pesantren-billing-api/pkg/errors"
	"github.com/noah-isme/pesantren-billing-api/pkg/response"
)

const catchUpFailedMessage = "student created but existing billing batches were not applied; retry with POST /billing/batch/{id}/fan-out for each batch of the enrollment year"

type studentService interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, error)
	Get(ctx context.Context, id string) (*models.Student, error)
	Create(ctx context.Context, req service.CreateStudentRequest) (*dto.CreateStudentResult, error)
	Update(ctx context.Context, id string, req service.UpdateStudentRequest) (*models.Student, error)
	Delete(ctx context.Context, id string) error
}

// StudentHandler exposes student endpoints.
type StudentHandler struct {
	students studentService
}

// NewStudentHandler constructs StudentHandler.
func NewStudentHandler(students studentService) *StudentHandler {
	return &StudentHandler{students: students}
}

// List godoc
// @Summary List students
// @Tags Students
// @Produce json
// @Security BearerAuth
// @Param search query string false "Search by name or NIS"
// @Param class query string false "Filter by class"
// @Param gender query string false "Filter by gender (L or P)"
// @Success 200 {object} response.Envelope
// @Router /students [get]
func (h *StudentHandler) List(c *gin.Context) {
	filter := models.StudentFilter{
		Search: strings.TrimSpace(c.Query("search")),
		Class:  strings.TrimSpace(c.Query("class")),
		Gender: strings.ToUpper(strings.TrimSpace(c.Query("gender"))),
	}
	students, err := h.students.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, students, nil)
}

// Get godoc
// @Summary Get student detail
// @Tags Students
// @Produce json
// @Security BearerAuth
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /students/{id} [get]
func (h *StudentHandler) Get(c *gin.Context) {
	student, err := h.students.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Create godoc
// @Summary Create student
// @Description Generates the NIS when omitted and bills the new student for every existing batch
// @Tags Students
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.CreateStudentRequest true "Student payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /students [post]
func (h *StudentHandler) Create(c *gin.Context) {
	var req service.CreateStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.students.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetAuditResourceID(c, result.Student.ID)

	message := ""
	if result.CatchUpFailed {
		message = catchUpFailedMessage
	}
	response.Created(c, result, message)
}

// Update godoc
// @Summary Update student
// @Tags Students
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Student ID"
// @Param payload body service.UpdateStudentRequest true "Student payload"
// @Success 200 {object} response.Envelope
// @Router /students/{id} [put]
func (h *StudentHandler) Update(c *gin.Context) {
	var req service.UpdateStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	student, err := h.students.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Delete godoc
// @Summary Delete student
// @Description Removes the student together with their obligations and payment entries
// @Tags Students
// @Produce json
// @Security BearerAuth
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id} [delete]
func (h *StudentHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.students.Delete(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"id": id}, nil)
}
