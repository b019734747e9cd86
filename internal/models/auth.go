package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims represents the JWT payload for access tokens issued by the auth service.
type JWTClaims struct {
	UserID   int64    `json:"id"`
	Role     UserRole `json:"role"`
	Username string   `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// Actor is the identity a file operation is performed on behalf of.
// IPAddress and UserAgent are recorded on audit rows when known.
type Actor struct {
	UserID    int64
	Role      UserRole
	IPAddress string
	UserAgent string
}

// Actor extracts the acting identity from the claims.
func (c *JWTClaims) Actor() Actor {
	if c == nil {
		return Actor{}
	}
	return Actor{UserID: c.UserID, Role: NormalizeRole(string(c.Role))}
}
