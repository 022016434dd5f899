package models

import "github.com/golang-jwt/jwt/v5"

// ScopeStatusRead grants read access to the status API.
const ScopeStatusRead = "status:read"

// ViewerClaims are carried by bearer tokens accepted by the status API.
type ViewerClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}
