package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/marja-chat-backend/internal/domain"
	"github.com/tbourn/marja-chat-backend/internal/services"
)

// RenameConversationRequest is the JSON payload for renaming a conversation.
type RenameConversationRequest struct {
	Title string `json:"title" example:"Rules of fasting while travelling"`
}

// ListConversationsResponse wraps a page of conversations.
type ListConversationsResponse struct {
	Conversations []domain.Conversation `json:"conversations"`
	Pagination    Pagination            `json:"pagination"`
}

// conversationETag is a weak validator over the conversations a list covers:
// any send, rename or delete changes the count or the newest updatedAt.
func conversationETag(a services.Actor, filterUserID uint, count int64, maxTS int64, page, pageSize int) string {
	scope := strconv.FormatUint(uint64(a.UserID), 10)
	if a.IsAdmin() {
		scope = "all"
		if filterUserID != 0 {
			scope = "u" + strconv.FormatUint(uint64(filterUserID), 10)
		}
	}
	return fmt.Sprintf(`W/"conv:%s:%d:%d:%d:%d"`, scope, count, maxTS, page, pageSize)
}

// ListConversations godoc
// @ID          listConversations
// @Summary     List conversations (paginated)
// @Description Users see their own conversations; admins see all or one user's via userId. Most recently active first, messages in chronological order. Supports a weak ETag via If-None-Match.
// @Tags        Conversations
// @Produce     json
// @Security    BearerAuth
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Param       userId         query   int     false  "Admin only: restrict to one user"
// @Param       page           query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListConversationsResponse
// @Header      200  {string}  ETag  "Weak ETag for current result"
// @Success     304  {string}  string  "Not Modified"
// @Failure     401  {object}  handlers.ErrorResponse  "No token"
// @Router      /conversations [get]
func (h *Handlers) ListConversations(c *gin.Context) {
	ctx := c.Request.Context()
	a := actor(c)
	page, pageSize := clampPagination(c)

	var filter uint
	if raw := c.Query("userId"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "userId must be a positive integer")
			return
		}
		filter = uint(n)
	}

	// ETag pre-check (best effort).
	if count, maxTS, err := h.svc.Conversations.Stats(ctx, a, filter); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.UnixMicro()
		}
		etag := conversationETag(a, filter, count, ts, page, pageSize)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, total, err := h.svc.Conversations.List(ctx, a, filter, page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListConversationsResponse{
		Conversations: items,
		Pagination:    pagination(page, pageSize, total),
	})
}

// GetConversation godoc
// @ID          getConversation
// @Summary     Get a conversation with its messages
// @Tags        Conversations
// @Produce     json
// @Security    BearerAuth
// @Param       id   path      string  true  "Conversation ID (UUID)"  format(uuid)
// @Success     200  {object}  domain.Conversation
// @Failure     403  {object}  handlers.ErrorResponse  "Not the owner"
// @Failure     404  {object}  handlers.ErrorResponse  "Conversation not found"
// @Router      /conversations/{id} [get]
func (h *Handlers) GetConversation(c *gin.Context) {
	id, okID := conversationParam(c)
	if !okID {
		return
	}
	conv, err := h.svc.Conversations.Get(c.Request.Context(), actor(c), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, conv)
}

// RenameConversation godoc
// @ID          renameConversation
// @Summary     Rename a conversation
// @Description Owner only. The title is trimmed and clipped to the configured length.
// @Tags        Conversations
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path      string                               true  "Conversation ID (UUID)"  format(uuid)
// @Param       body  body      handlers.RenameConversationRequest  true  "New title"
// @Success     200   {object}  domain.Conversation
// @Failure     400   {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403   {object}  handlers.ErrorResponse  "Not the owner"
// @Failure     404   {object}  handlers.ErrorResponse  "Conversation not found"
// @Router      /conversations/{id} [put]
func (h *Handlers) RenameConversation(c *gin.Context) {
	id, okID := conversationParam(c)
	if !okID {
		return
	}
	var req RenameConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	conv, err := h.svc.Conversations.Rename(c.Request.Context(), actor(c), id, req.Title)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, conv)
}

// DeleteConversation godoc
// @ID          deleteConversation
// @Summary     Delete a conversation
// @Tags        Conversations
// @Security    BearerAuth
// @Param       id   path      string  true  "Conversation ID (UUID)"  format(uuid)
// @Success     204  {string}  string  "No Content"
// @Failure     403  {object}  handlers.ErrorResponse  "Not the owner"
// @Failure     404  {object}  handlers.ErrorResponse  "Conversation not found"
// @Router      /conversations/{id} [delete]
func (h *Handlers) DeleteConversation(c *gin.Context) {
	id, okID := conversationParam(c)
	if !okID {
		return
	}
	if err := h.svc.Conversations.Delete(c.Request.Context(), actor(c), id); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// conversationParam reads the :id path parameter and rejects non-UUIDs.
func conversationParam(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return "", false
	}
	return id, true
}
