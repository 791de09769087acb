package core

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrNoDeviceFound      = errors.New("no device found for user")
	ErrBadSignature       = errors.New("invalid signature")
	ErrAlreadyRegistered  = errors.New("device already registered")
	ErrDuplicateResult    = errors.New("authentication result already submitted")
	ErrPersistenceFailure = errors.New("persistence failure")
	ErrInvalidKeyMaterial = errors.New("invalid key material")
	ErrUnauthorized       = errors.New("unauthorized")
)
