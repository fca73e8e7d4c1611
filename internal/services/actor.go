package services

import "github.com/tbourn/marja-chat-backend/internal/domain"

// Actor is the authenticated caller of a service method.
type Actor struct {
	UserID uint
	Name   string
	Email  string
	Role   string
}

// IsAdmin reports whether the actor holds the admin role.
func (a Actor) IsAdmin() bool { return a.Role == domain.RoleAdmin }

// canAccess reports whether the actor may read a resource owned by ownerID.
func (a Actor) canAccess(ownerID uint) bool {
	return a.UserID == ownerID || a.IsAdmin()
}
