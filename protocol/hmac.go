package protocol

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/layer-3/pushauth/core"
)

// KeySize is the length in bytes of application and provisioning keys.
const KeySize = 32

// SecretKey is a 256-bit symmetric key.
type SecretKey []byte

// NewSecretKey reads a fresh key from r.
func NewSecretKey(r io.Reader) (SecretKey, error) {
	key := make(SecretKey, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// ParseSecretKey decodes a standard base64 key of exactly KeySize bytes.
func ParseSecretKey(s string) (SecretKey, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode key: %w", core.ErrInvalidKeyMaterial)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes: %w", KeySize, core.ErrInvalidKeyMaterial)
	}
	return key, nil
}

// String returns the standard base64 encoding of the key.
func (k SecretKey) String() string {
	return base64.StdEncoding.EncodeToString(k)
}

// HMACSign returns HMAC-SHA-256 of data under key.
func HMACSign(key SecretKey, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// HMACVerify recomputes the tag and compares it in constant time.
func HMACVerify(key SecretKey, data, tag []byte) bool {
	return hmac.Equal(HMACSign(key, data), tag)
}

// SignBase64 returns the base64 HMAC tag of data under a base64 key.
func SignBase64(key string, data []byte) (string, error) {
	k, err := ParseSecretKey(key)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(HMACSign(k, data)), nil
}

// VerifyBase64 checks a base64 tag against data under a base64 key. An
// undecodable key or tag is ErrInvalidKeyMaterial, a wrong tag ErrBadSignature.
func VerifyBase64(key string, data []byte, tag string) error {
	k, err := ParseSecretKey(key)
	if err != nil {
		return err
	}
	raw, err := base64.StdEncoding.DecodeString(tag)
	if err != nil {
		return fmt.Errorf("failed to decode tag: %w", core.ErrInvalidKeyMaterial)
	}
	if !HMACVerify(k, data, raw) {
		return core.ErrBadSignature
	}
	return nil
}
