package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/marja-chat-backend/internal/domain"
	"github.com/tbourn/marja-chat-backend/internal/repo"
	"github.com/tbourn/marja-chat-backend/internal/services"
)

// CreateUserRequest is the admin payload for creating an account.
type CreateUserRequest struct {
	Name         string `json:"name"         example:"Zahra Ahmadi"`
	Email        string `json:"email"        example:"zahra@example.com"`
	Password     string `json:"password"     example:"initial-pass"`
	TokenBalance *int   `json:"tokenBalance" example:"100"`
	Role         string `json:"role"         example:"user"`
	Status       string `json:"status"       example:"active"`
}

// UpdateUserRequest is the admin patch of an account. Omitted fields are
// left unchanged.
type UpdateUserRequest struct {
	Name         *string `json:"name"         example:"Zahra A."`
	TokenBalance *int    `json:"tokenBalance" example:"250"`
	Status       *string `json:"status"       example:"blocked"`
	Role         *string `json:"role"         example:"admin"`
}

// ListUsersResponse wraps a page of users.
type ListUsersResponse struct {
	Users      []domain.User `json:"users"`
	Pagination Pagination    `json:"pagination"`
}

// ListUsers godoc
// @ID          listUsers
// @Summary     List users (admin)
// @Tags        Users
// @Produce     json
// @Security    BearerAuth
// @Param       page       query  int  false  "Page number"     minimum(1) default(1)
// @Param       page_size  query  int  false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListUsersResponse
// @Failure     403  {object}  handlers.ErrorResponse  "Access denied"
// @Router      /users [get]
func (h *Handlers) ListUsers(c *gin.Context) {
	page, pageSize := clampPagination(c)
	users, total, err := h.svc.Users.List(c.Request.Context(), page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListUsersResponse{Users: users, Pagination: pagination(page, pageSize, total)})
}

// GetUser godoc
// @ID          getUser
// @Summary     Get a user with conversations (admin)
// @Tags        Users
// @Produce     json
// @Security    BearerAuth
// @Param       id   path      int  true  "User ID"
// @Success     200  {object}  domain.User
// @Failure     404  {object}  handlers.ErrorResponse  "User not found"
// @Router      /users/{id} [get]
func (h *Handlers) GetUser(c *gin.Context) {
	id, okID := uintParam(c, "id")
	if !okID {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "user id must be a positive integer")
		return
	}
	u, err := h.svc.Users.Get(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, u)
}

// CreateUser godoc
// @ID          createUser
// @Summary     Create a user (admin)
// @Tags        Users
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      handlers.CreateUserRequest  true  "Account"
// @Success     201   {object}  domain.User
// @Failure     400   {object}  handlers.ErrorResponse  "Invalid input or email taken"
// @Router      /users [post]
func (h *Handlers) CreateUser(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	u, err := h.svc.Users.Create(c.Request.Context(), actor(c), services.CreateUserInput{
		Name:         req.Name,
		Email:        req.Email,
		Password:     req.Password,
		TokenBalance: req.TokenBalance,
		Role:         req.Role,
		Status:       req.Status,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, u)
}

// UpdateUser godoc
// @ID          updateUser
// @Summary     Update a user (admin)
// @Description Applies the provided fields only. A role change applies from the user's next login.
// @Tags        Users
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path      int                         true  "User ID"
// @Param       body  body      handlers.UpdateUserRequest  true  "Fields to change"
// @Success     200   {object}  domain.User
// @Failure     400   {object}  handlers.ErrorResponse  "Invalid input"
// @Failure     404   {object}  handlers.ErrorResponse  "User not found"
// @Router      /users/{id} [put]
func (h *Handlers) UpdateUser(c *gin.Context) {
	id, okID := uintParam(c, "id")
	if !okID {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "user id must be a positive integer")
		return
	}
	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	u, err := h.svc.Users.Update(c.Request.Context(), actor(c), id, repo.UserPatch{
		Name:         req.Name,
		TokenBalance: req.TokenBalance,
		Status:       req.Status,
		Role:         req.Role,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, u)
}

// DeleteUser godoc
// @ID          deleteUser
// @Summary     Delete a user (admin)
// @Description Hard delete; conversations, messages, reports and gift claims cascade.
// @Tags        Users
// @Produce     json
// @Security    BearerAuth
// @Param       id   path      int  true  "User ID"
// @Success     200  {object}  handlers.SuccessResponse
// @Failure     404  {object}  handlers.ErrorResponse  "User not found"
// @Router      /users/{id} [delete]
func (h *Handlers) DeleteUser(c *gin.Context) {
	id, okID := uintParam(c, "id")
	if !okID {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "user id must be a positive integer")
		return
	}
	if err := h.svc.Users.Delete(c.Request.Context(), actor(c), id); err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, SuccessResponse{Success: true, ID: strconv.FormatUint(uint64(id), 10)})
}
