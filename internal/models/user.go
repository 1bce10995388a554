package models

import "github.com/golang-jwt/jwt/v5"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleUser  UserRole = "USER"
	RoleStaff UserRole = "STAFF"
	RoleAdmin UserRole = "ADMIN"
)

// IsStaff reports whether the role may adjudicate claims and manage item lifecycle.
func (r UserRole) IsStaff() bool {
	return r == RoleStaff || r == RoleAdmin
}

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email,omitempty"`
	FullName string   `json:"full_name,omitempty"`
	jwt.RegisteredClaims
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Count  int `json:"count"`
}
