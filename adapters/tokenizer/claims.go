package tokenizer

import "github.com/golang-jwt/jwt/v5"

// OwnerClaims identify the account holder behind management requests
type OwnerClaims struct {
	jwt.RegisteredClaims
}
