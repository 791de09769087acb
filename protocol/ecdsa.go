package protocol

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/layer-3/pushauth/core"
)

// ParsePublicKey decodes a base64 DER SubjectPublicKeyInfo holding a P-256
// key.
func ParsePublicKey(s string) (*ecdsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(der) == 0 {
		return nil, fmt.Errorf("failed to decode public key: %w", core.ErrInvalidKeyMaterial)
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", core.ErrInvalidKeyMaterial)
	}
	ecdsaPub, ok := pub.(*ecdsa.PublicKey)
	if !ok || ecdsaPub.Curve != elliptic.P256() {
		return nil, fmt.Errorf("public key must be ECDSA P-256: %w", core.ErrInvalidKeyMaterial)
	}
	return ecdsaPub, nil
}

// EncodePublicKey returns the base64 DER SubjectPublicKeyInfo of pub.
func EncodePublicKey(pub *ecdsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// ECDSAVerify verifies an ASN.1 DER signature over SHA-256 of data.
func ECDSAVerify(pub *ecdsa.PublicKey, data, sig []byte) bool {
	if pub == nil {
		return false
	}
	hash := sha256.Sum256(data)
	return ecdsa.VerifyASN1(pub, hash[:], sig)
}

// ECDSASign produces an ASN.1 DER signature over SHA-256 of data. The server
// never signs with device keys; this exists for devices and tests.
func ECDSASign(r io.Reader, priv *ecdsa.PrivateKey, data []byte) ([]byte, error) {
	hash := sha256.Sum256(data)
	sig, err := ecdsa.SignASN1(r, priv, hash[:])
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	return sig, nil
}

// VerifyDeviceSignature checks a base64 signature against data with a base64
// public key. Malformed key or signature encodings fail with
// ErrInvalidKeyMaterial, wrong signatures with ErrBadSignature.
func VerifyDeviceSignature(publicKey string, data []byte, signature string) error {
	pub, err := ParsePublicKey(publicKey)
	if err != nil {
		return err
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("failed to decode signature: %w", core.ErrInvalidKeyMaterial)
	}
	if !ECDSAVerify(pub, data, sig) {
		return core.ErrBadSignature
	}
	return nil
}
