package model

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Operator is a human account that signs in to the dashboard.
type Operator struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	IsAdmin      bool      `json:"is_admin"`
	CreatedAt    time.Time `json:"created_at"`
}

// SessionClaims are carried in the signed session cookie. The ID (jti)
// refers to a row in operator_sessions.
type SessionClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}
