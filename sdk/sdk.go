// Package sdk holds the client side of the protocol: request signing for
// relying applications, result verification, and the device's registration
// and result signatures.
package sdk

import (
	"crypto/ecdsa"
	"encoding/base64"
	"io"
	"net/url"
	"slices"

	"github.com/layer-3/pushauth/core"
	"github.com/layer-3/pushauth/protocol"
)

// TransactionRequest is the body a relying application posts to create a
// transaction.
type TransactionRequest struct {
	ApplicationID string `json:"application_id"`
	ClientIP      string `json:"client_ip"`
	GeoLocation   string `json:"geo_location"`
	UserName      string `json:"user_name"`
	Signature     string `json:"signature"`
}

// NewTransactionRequest signs a transaction request with the application's
// secret key.
func NewTransactionRequest(appID, secretKey, clientIP, userName string) (*TransactionRequest, error) {
	sig, err := protocol.SignBase64(secretKey, protocol.TransactionMessage(appID, clientIP, userName))
	if err != nil {
		return nil, err
	}
	return &TransactionRequest{
		ApplicationID: appID,
		ClientIP:      clientIP,
		UserName:      userName,
		Signature:     sig,
	}, nil
}

// VerifyResult reports whether the payload was signed by the server with
// secretKey. Actual client IP and match flag are not covered by the
// signature.
func VerifyResult(secretKey string, payload *core.VerifiableResult) bool {
	if payload == nil {
		return false
	}
	msg := protocol.ServerResultMessage(payload.TransactionID, payload.Result,
		payload.CertificateFingerprint, payload.ServerIP, payload.ServerURI)
	return protocol.VerifyBase64(secretKey, msg, payload.Signature) == nil
}

// AllowList is the set of endpoints a relying application expects its
// users to see.
type AllowList struct {
	ServerIPs    []string
	ServerURIs   []string // full URIs or bare hosts
	Fingerprints []string
}

// VerifyResultStrict is VerifyResult plus membership of server IP, server
// URI and certificate fingerprint in the allow list.
func VerifyResultStrict(secretKey string, payload *core.VerifiableResult, allow AllowList) bool {
	if !VerifyResult(secretKey, payload) {
		return false
	}
	return slices.Contains(allow.ServerIPs, payload.ServerIP) &&
		slices.Contains(allow.Fingerprints, payload.CertificateFingerprint) &&
		uriAllowed(allow.ServerURIs, payload.ServerURI)
}

func uriAllowed(allowed []string, uri string) bool {
	if slices.Contains(allowed, uri) {
		return true
	}
	u, err := url.Parse(uri)
	if err != nil || u.Host == "" {
		return false
	}
	return slices.Contains(allowed, u.Host) || slices.Contains(allowed, u.Hostname())
}

// Registration is the body a device sends to complete registration
type Registration struct {
	DeviceToken string `json:"device_token"`
	PublicKey   string `json:"public_key"`
	HMAC        string `json:"hmac"`
}

// SignRegistration builds a device registration proving possession of the
// provisioning key.
func SignRegistration(deviceID, provisioningKey, deviceToken string, pub *ecdsa.PublicKey) (*Registration, error) {
	encoded, err := protocol.EncodePublicKey(pub)
	if err != nil {
		return nil, err
	}
	tag, err := protocol.SignBase64(provisioningKey, protocol.RegistrationMessage(deviceID, deviceToken, encoded))
	if err != nil {
		return nil, err
	}
	return &Registration{DeviceToken: deviceToken, PublicKey: encoded, HMAC: tag}, nil
}

// Result is the body a device sends to answer a transaction
type Result struct {
	TransactionID          string `json:"transaction_id"`
	Result                 bool   `json:"result"`
	CertificateFingerprint string `json:"certificate_fingerprint"`
	ActualClientIP         string `json:"actual_client_ip"`
	ClientIPMatch          bool   `json:"client_ip_match"`
	ServerIP               string `json:"server_ip"`
	ServerURI              string `json:"server_uri"`
	Signature              string `json:"signature"`
}

// SignResult fills in the result signature using the device key
func SignResult(r io.Reader, key *ecdsa.PrivateKey, res *Result) error {
	msg := protocol.DeviceResultMessage(res.TransactionID, res.Result, res.CertificateFingerprint,
		res.ActualClientIP, res.ServerIP, res.ServerURI)
	sig, err := protocol.ECDSASign(r, key, msg)
	if err != nil {
		return err
	}
	res.Signature = base64.StdEncoding.EncodeToString(sig)
	return nil
}
