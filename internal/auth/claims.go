package auth

import "github.com/golang-jwt/jwt/v5"

// Claims are the only supported JWT claims shape for the call API.
// The caller identity is RegisteredClaims.Subject.
type Claims struct {
	jwt.RegisteredClaims

	Role string `json:"role"`
}
