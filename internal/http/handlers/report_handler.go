package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/marja-chat-backend/internal/domain"
	"github.com/tbourn/marja-chat-backend/internal/services"
)

// CreateReportRequest flags a conversation.
type CreateReportRequest struct {
	ConversationID string  `json:"conversationId" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
	Feedback       *string `json:"feedback"       example:"disliked"`
	ReportText     *string `json:"reportText"     example:"The answer cites the wrong ruling."`
	Category       *string `json:"category"       example:"incorrect"`
}

// UpdateReportRequest is an admin triage edit. Setting refunded to true
// credits the reporter one token, once.
type UpdateReportRequest struct {
	Status   *string `json:"status"   example:"reviewed"`
	Category *string `json:"category" example:"incorrect"`
	Refunded *bool   `json:"refunded" example:"true"`
}

// ListReportsResponse wraps a page of reports.
type ListReportsResponse struct {
	Reports    []domain.Report `json:"reports"`
	Pagination Pagination      `json:"pagination"`
}

// CreateReport godoc
// @ID          createReport
// @Summary     Report a conversation
// @Description Flags one of the caller's conversations for review.
// @Tags        Reports
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      handlers.CreateReportRequest  true  "Report"
// @Success     201   {object}  domain.Report
// @Failure     400   {object}  handlers.ErrorResponse  "Invalid input"
// @Failure     403   {object}  handlers.ErrorResponse  "Not the owner"
// @Failure     404   {object}  handlers.ErrorResponse  "Conversation not found"
// @Router      /reports [post]
func (h *Handlers) CreateReport(c *gin.Context) {
	var req CreateReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	r, err := h.svc.Reports.Create(c.Request.Context(), actor(c), services.CreateReportInput{
		ConversationID: req.ConversationID,
		Feedback:       req.Feedback,
		ReportText:     req.ReportText,
		Category:       req.Category,
		IP:             c.ClientIP(),
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, r)
}

// ListReports godoc
// @ID          listReports
// @Summary     List reports (admin)
// @Description Newest first, with the reporter email.
// @Tags        Reports
// @Produce     json
// @Security    BearerAuth
// @Param       status     query  string  false  "Filter by status"  Enums(new, reviewed)
// @Param       page       query  int     false  "Page number"       minimum(1) default(1)
// @Param       page_size  query  int     false  "Items per page"    minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListReportsResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Unknown status"
// @Router      /reports [get]
func (h *Handlers) ListReports(c *gin.Context) {
	page, pageSize := clampPagination(c)
	items, total, err := h.svc.Reports.List(c.Request.Context(), c.Query("status"), page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListReportsResponse{Reports: items, Pagination: pagination(page, pageSize, total)})
}

// GetReport godoc
// @ID          getReport
// @Summary     Get a report with its conversation (admin)
// @Tags        Reports
// @Produce     json
// @Security    BearerAuth
// @Param       id   path      int  true  "Report ID"
// @Success     200  {object}  domain.Report
// @Failure     404  {object}  handlers.ErrorResponse  "Report not found"
// @Router      /reports/{id} [get]
func (h *Handlers) GetReport(c *gin.Context) {
	id, okID := uintParam(c, "id")
	if !okID {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "report id must be a positive integer")
		return
	}
	r, err := h.svc.Reports.Get(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, r)
}

// UpdateReport godoc
// @ID          updateReport
// @Summary     Triage a report (admin)
// @Description Sets status and category. A false to true refunded transition credits one token to the reporter exactly once; clearing refunded is rejected.
// @Tags        Reports
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path      int                           true  "Report ID"
// @Param       body  body      handlers.UpdateReportRequest  true  "Changes"
// @Success     200   {object}  domain.Report
// @Failure     400   {object}  handlers.ErrorResponse  "Invalid input"
// @Failure     404   {object}  handlers.ErrorResponse  "Report not found"
// @Failure     409   {object}  handlers.ErrorResponse  "Refund cannot be reversed"
// @Router      /reports/{id} [put]
func (h *Handlers) UpdateReport(c *gin.Context) {
	id, okID := uintParam(c, "id")
	if !okID {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "report id must be a positive integer")
		return
	}
	var req UpdateReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	r, err := h.svc.Reports.Update(c.Request.Context(), actor(c), id, services.UpdateReportInput{
		Status:   req.Status,
		Category: req.Category,
		Refunded: req.Refunded,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, r)
}
