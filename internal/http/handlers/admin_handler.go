package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/marja-chat-backend/internal/domain"
)

// CreateAdminLogRequest appends an audit entry.
type CreateAdminLogRequest struct {
	AdminName string `json:"adminName" example:"Site Admin"`
	Action    string `json:"action"    example:"Exported user list"`
}

// ListAdminLogsResponse wraps a page of audit entries.
type ListAdminLogsResponse struct {
	Logs       []domain.AdminLog `json:"logs"`
	Pagination Pagination        `json:"pagination"`
}

// ListAdminLogs godoc
// @ID          listAdminLogs
// @Summary     Audit trail (admin)
// @Tags        Admin
// @Produce     json
// @Security    BearerAuth
// @Param       page       query  int  false  "Page number"     minimum(1) default(1)
// @Param       page_size  query  int  false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListAdminLogsResponse
// @Router      /logs [get]
func (h *Handlers) ListAdminLogs(c *gin.Context) {
	page, pageSize := clampPagination(c)
	logs, total, err := h.svc.AdminLogs.List(c.Request.Context(), page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListAdminLogsResponse{Logs: logs, Pagination: pagination(page, pageSize, total)})
}

// CreateAdminLog godoc
// @ID          createAdminLog
// @Summary     Append an audit entry (admin)
// @Tags        Admin
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      handlers.CreateAdminLogRequest  true  "Entry"
// @Success     201   {object}  domain.AdminLog
// @Failure     400   {object}  handlers.ErrorResponse  "adminName and action are required"
// @Router      /logs [post]
func (h *Handlers) CreateAdminLog(c *gin.Context) {
	var req CreateAdminLogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	l, err := h.svc.AdminLogs.Create(c.Request.Context(), req.AdminName, req.Action)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, l)
}

// ListTokenPackages godoc
// @ID          listTokenPackages
// @Summary     Token packages (admin)
// @Tags        Catalog
// @Produce     json
// @Security    BearerAuth
// @Success     200  {array}  domain.TokenPackage
// @Router      /token-packages [get]
func (h *Handlers) ListTokenPackages(c *gin.Context) {
	items, err := h.svc.Catalog.TokenPackages(c.Request.Context())
	respondList(c, items, err)
}

// ListDiscountCodes godoc
// @ID          listDiscountCodes
// @Summary     Discount codes (admin)
// @Tags        Catalog
// @Produce     json
// @Security    BearerAuth
// @Success     200  {array}  domain.DiscountCode
// @Router      /discount-codes [get]
func (h *Handlers) ListDiscountCodes(c *gin.Context) {
	items, err := h.svc.Catalog.DiscountCodes(c.Request.Context())
	respondList(c, items, err)
}

// ListGiftCards godoc
// @ID          listGiftCards
// @Summary     Gift cards (admin)
// @Tags        Catalog
// @Produce     json
// @Security    BearerAuth
// @Success     200  {array}  domain.GiftCard
// @Router      /gift-cards [get]
func (h *Handlers) ListGiftCards(c *gin.Context) {
	items, err := h.svc.Catalog.GiftCards(c.Request.Context())
	respondList(c, items, err)
}

// ListTransactions godoc
// @ID          listTransactions
// @Summary     Store transactions (admin)
// @Description Newest first, with the buyer email snapshot.
// @Tags        Catalog
// @Produce     json
// @Security    BearerAuth
// @Success     200  {array}  domain.Transaction
// @Router      /transactions [get]
func (h *Handlers) ListTransactions(c *gin.Context) {
	items, err := h.svc.Catalog.Transactions(c.Request.Context())
	respondList(c, items, err)
}

// respondList writes a catalog slice, never null.
func respondList[T any](c *gin.Context, items []T, err error) {
	if err != nil {
		failErr(c, err)
		return
	}
	if items == nil {
		items = []T{}
	}
	ok(c, http.StatusOK, items)
}
