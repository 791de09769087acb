// Package protocol implements the push authentication signature codec: the
// canonical byte strings signed by each party, HMAC-SHA-256 tagging with
// application and device provisioning keys, and ECDSA P-256 verification of
// device signatures.
//
// Canonical messages are the UTF-8 concatenation of their fields in a fixed
// order with no separators. Signer and verifier must agree byte for byte;
// there is no negotiation, so a mismatch shows up only as a failed signature.
package protocol

import "strings"

// WireVersion identifies the canonicalization rules implemented here.
const WireVersion = 1

// Canonicalize concatenates fields in order without separators.
func Canonicalize(fields ...string) []byte {
	var b strings.Builder
	for _, f := range fields {
		b.WriteString(f)
	}
	return []byte(b.String())
}

// Canonical text of a boolean result. Deployed devices and relying
// application SDKs sign the capitalized form.
const (
	ResultTrue  = "True"
	ResultFalse = "False"
)

// FormatResult is the canonical text of a boolean result.
func FormatResult(result bool) string {
	if result {
		return ResultTrue
	}
	return ResultFalse
}

// RegistrationMessage is signed by the device with its provisioning key.
func RegistrationMessage(deviceID, deviceToken, publicKey string) []byte {
	return Canonicalize(deviceID, deviceToken, publicKey)
}

// TransactionMessage is signed by the relying application with its secret key.
func TransactionMessage(applicationID, clientIP, userName string) []byte {
	return Canonicalize(applicationID, clientIP, userName)
}

// DeviceResultMessage is signed by the device private key when answering a
// transaction.
func DeviceResultMessage(transactionID string, result bool, fingerprint, actualClientIP, serverIP, serverURI string) []byte {
	return Canonicalize(transactionID, FormatResult(result), fingerprint, actualClientIP, serverIP, serverURI)
}

// ServerResultMessage is re-signed by the server with the application secret.
// It excludes the actual client IP.
func ServerResultMessage(transactionID string, result bool, fingerprint, serverIP, serverURI string) []byte {
	return Canonicalize(transactionID, FormatResult(result), fingerprint, serverIP, serverURI)
}
