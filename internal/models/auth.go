package models

import "github.com/golang-jwt/jwt/v5"

// SessionClaims are carried by the token issued after a granted access check
type SessionClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}
