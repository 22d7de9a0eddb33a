package models

import "github.com/golang-jwt/jwt/v5"

// UserRole is the role carried in access tokens.
type UserRole string

const (
	RoleProfessor UserRole = "PROFESSOR"
	RoleStudent   UserRole = "STUDENT"
)

// JWTClaims represents the JWT payload of access tokens issued by the identity service.
type JWTClaims struct {
	UserID string   `json:"user_id"`
	Role   UserRole `json:"role"`
	Email  string   `json:"email"`
	jwt.RegisteredClaims
}

// RealtimeTicket is returned to dashboards before they open the websocket.
type RealtimeTicket struct {
	Ticket    string `json:"ticket"`
	Room      string `json:"room"`
	ExpiresAt int64  `json:"expires_at"`
}
