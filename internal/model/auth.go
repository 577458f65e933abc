package model

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

// Caller is the authenticated identity attached to a request.
type Caller struct {
	ID   uuid.UUID `json:"id"`
	Role Role      `json:"role"`
}

func (c Caller) IsAdmin() bool  { return c.Role == RoleAdmin }
func (c Caller) IsDoctor() bool { return c.Role == RoleDoctor }

// TokenClaims are the claims issued by the external auth service.
type TokenClaims struct {
	jwt.RegisteredClaims
	Role Role `json:"role"`
}
