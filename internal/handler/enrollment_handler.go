package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/edukita/edukita-api/internal/service"
	appErrors "github.com/edukita/edukita-api/pkg/errors"
	"github.com/edukita/edukita-api/pkg/response"
)

// EnrollmentHandler exposes enrollment and roster endpoints nested under
// sessions.
type EnrollmentHandler struct {
	enrollments *service.EnrollmentService
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(enrollments *service.EnrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments}
}

// Enroll godoc
// @Summary Enroll a student in a session
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body service.EnrollRequest true "Enrollment payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sessions/{id}/enrollments [post]
func (h *EnrollmentHandler) Enroll(c *gin.Context) {
	var req service.EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	enrollment, err := h.enrollments.Enroll(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, enrollment)
}

// Withdraw godoc
// @Summary Withdraw a student from a session
// @Tags Enrollments
// @Produce json
// @Param id path string true "Session ID"
// @Param studentId path string true "Student ID"
// @Success 204
// @Router /sessions/{id}/enrollments/{studentId} [delete]
func (h *EnrollmentHandler) Withdraw(c *gin.Context) {
	if err := h.enrollments.Withdraw(c.Request.Context(), c.Param("id"), c.Param("studentId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// UpdateCapacity godoc
// @Summary Change a session's capacity
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body service.UpdateCapacityRequest true "Capacity payload"
// @Success 204
// @Router /sessions/{id}/capacity [put]
func (h *EnrollmentHandler) UpdateCapacity(c *gin.Context) {
	var req service.UpdateCapacityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.enrollments.UpdateCapacity(c.Request.Context(), c.Param("id"), req); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Roster godoc
// @Summary Get a session's roster
// @Tags Enrollments
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/roster [get]
func (h *EnrollmentHandler) Roster(c *gin.Context) {
	roster, err := h.enrollments.Roster(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, roster, nil)
}
