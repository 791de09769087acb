package ports

import "time"

// Tokenizer issues and parses account holder access tokens
type Tokenizer interface {
	OwnerToToken(ownerID string, ttl time.Duration) (string, error)
	TokenToOwner(token string) (string, error)
}
