package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kovancilartr/learnapp-api/internal/dto"
	"github.com/kovancilartr/learnapp-api/internal/middleware"
	"github.com/kovancilartr/learnapp-api/internal/models"
	appErrors "github.com/kovancilartr/learnapp-api/pkg/errors"
	"github.com/kovancilartr/learnapp-api/pkg/response"
)

type enrollmentRequestCommands interface {
	Submit(ctx context.Context, actor models.Actor, req dto.CreateEnrollmentRequest) (*models.EnrollmentRequest, error)
	Approve(ctx context.Context, id string, adminNote *string, reviewerID string) (*models.EnrollmentRequest, error)
	Reject(ctx context.Context, id string, adminNote *string, reviewerID string) (*models.EnrollmentRequest, error)
}

type enrollmentRequestBulkReviewer interface {
	BulkDecide(ctx context.Context, req dto.BulkReviewRequest, reviewerID string) (*dto.BulkResult, error)
}

type enrollmentRequestQueries interface {
	List(ctx context.Context, actor models.Actor, query dto.EnrollmentRequestQuery) ([]models.EnrollmentRequestDetail, *models.Pagination, error)
	GetByID(ctx context.Context, actor models.Actor, id string) (*models.EnrollmentRequestDetail, error)
	Delete(ctx context.Context, id string) error
	Statistics(ctx context.Context) (*models.EnrollmentRequestStatistics, bool, error)
	PendingCount(ctx context.Context, courseID string) (*dto.PendingCountResponse, error)
	Export(ctx context.Context, actor models.Actor, query dto.EnrollmentRequestQuery, format string) (*dto.ExportFile, error)
}

// EnrollmentRequestHandler exposes the enrollment request workflow.
type EnrollmentRequestHandler struct {
	commands enrollmentRequestCommands
	bulk     enrollmentRequestBulkReviewer
	queries  enrollmentRequestQueries
}

// NewEnrollmentRequestHandler constructs EnrollmentRequestHandler.
func NewEnrollmentRequestHandler(commands enrollmentRequestCommands, bulk enrollmentRequestBulkReviewer, queries enrollmentRequestQueries) *EnrollmentRequestHandler {
	return &EnrollmentRequestHandler{commands: commands, bulk: bulk, queries: queries}
}

// Submit godoc
// @Summary Request enrollment in a course
// @Tags EnrollmentRequests
// @Accept json
// @Produce json
// @Param payload body dto.CreateEnrollmentRequest true "Enrollment request payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /enrollment-requests [post]
func (h *EnrollmentRequestHandler) Submit(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.CreateEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	created, err := h.commands.Submit(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, created)
}

// List godoc
// @Summary List enrollment requests
// @Tags EnrollmentRequests
// @Produce json
// @Param status query string false "PENDING, APPROVED or REJECTED"
// @Param courseId query string false "Filter by course"
// @Param studentId query string false "Filter by student"
// @Param search query string false "Student name contains"
// @Param dateFrom query string false "Created at or after (YYYY-MM-DD or RFC3339)"
// @Param dateTo query string false "Created before the end of (YYYY-MM-DD or RFC3339)"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Param sortBy query string false "createdAt, updatedAt, reviewedAt, status, studentName, courseTitle"
// @Param sortOrder query string false "asc or desc"
// @Success 200 {object} response.Envelope
// @Router /enrollment-requests [get]
func (h *EnrollmentRequestHandler) List(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var query dto.EnrollmentRequestQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	items, pagination, err := h.queries.List(c.Request.Context(), actor, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Get godoc
// @Summary Get enrollment request
// @Tags EnrollmentRequests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollment-requests/{id} [get]
func (h *EnrollmentRequestHandler) Get(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	detail, err := h.queries.GetByID(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Approve godoc
// @Summary Approve a pending request and enroll the student
// @Tags EnrollmentRequests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.ReviewEnrollmentRequest false "Reviewer note"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /enrollment-requests/{id}/approve [post]
func (h *EnrollmentRequestHandler) Approve(c *gin.Context) {
	h.review(c, h.commands.Approve)
}

// Reject godoc
// @Summary Reject a pending request
// @Tags EnrollmentRequests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.ReviewEnrollmentRequest false "Reviewer note"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /enrollment-requests/{id}/reject [post]
func (h *EnrollmentRequestHandler) Reject(c *gin.Context) {
	h.review(c, h.commands.Reject)
}

type reviewFunc func(ctx context.Context, id string, adminNote *string, reviewerID string) (*models.EnrollmentRequest, error)

func (h *EnrollmentRequestHandler) review(c *gin.Context, decide reviewFunc) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.ReviewEnrollmentRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	updated, err := decide(c.Request.Context(), c.Param("id"), req.AdminNote, actor.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, updated, nil)
}

// BulkReview godoc
// @Summary Approve or reject many requests
// @Description Each request is decided independently; failures are reported per request.
// @Tags EnrollmentRequests
// @Accept json
// @Produce json
// @Param payload body dto.BulkReviewRequest true "Bulk review payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /enrollment-requests/bulk-review [post]
func (h *EnrollmentRequestHandler) BulkReview(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.BulkReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.bulk.BulkDecide(c.Request.Context(), req, actor.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Delete godoc
// @Summary Delete an enrollment request
// @Tags EnrollmentRequests
// @Param id path string true "Request ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /enrollment-requests/{id} [delete]
func (h *EnrollmentRequestHandler) Delete(c *gin.Context) {
	if err := h.queries.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Statistics godoc
// @Summary Enrollment request statistics
// @Tags EnrollmentRequests
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /enrollment-requests/statistics [get]
func (h *EnrollmentRequestHandler) Statistics(c *gin.Context) {
	start := time.Now()
	stats, cacheHit, err := h.queries.Statistics(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, stats, nil, middleware.ResponseMeta(c, start))
}

// PendingCount godoc
// @Summary Count requests awaiting review
// @Tags EnrollmentRequests
// @Produce json
// @Param courseId query string false "Restrict to one course"
// @Success 200 {object} response.Envelope
// @Router /enrollment-requests/pending-count [get]
func (h *EnrollmentRequestHandler) PendingCount(c *gin.Context) {
	count, err := h.queries.PendingCount(c.Request.Context(), c.Query("courseId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, count, nil)
}

// Export godoc
// @Summary Export enrollment requests
// @Tags EnrollmentRequests
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv (default) or pdf"
// @Param status query string false "Filter by status"
// @Param courseId query string false "Filter by course"
// @Success 200 {file} file
// @Router /enrollment-requests/export [get]
func (h *EnrollmentRequestHandler) Export(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var query dto.EnrollmentRequestQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	file, err := h.queries.Export(c.Request.Context(), actor, query, c.DefaultQuery("format", "csv"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Payload)
}
