package core

import "time"

// Application is a relying party that requests push authentication
type Application struct {
	ID        string    // Unique identifier for the application
	OwnerID   string    // Account holder that created the application
	Name      string    // Display name shown on the device
	SecretKey string    // Base64 256-bit HMAC key, generated once at creation
	CreatedAt time.Time // When the application was created
}

// Device is an end user's authenticator
type Device struct {
	ID           string    // Unique identifier for the device
	OwnerID      string    // Account holder that issued the device
	Name         string    // Display name
	SymmetricKey string    // Base64 256-bit provisioning key, immutable
	DeviceToken  string    // Push token, write-once during registration
	PublicKey    string    // Base64 DER SubjectPublicKeyInfo, write-once during registration
	Registered   bool      // Transitions false -> true exactly once
	CreatedAt    time.Time // When the device was issued
	RegisteredAt time.Time // When registration completed
}

// DeviceRegistration holds the write-once fields set by CompleteRegistration
type DeviceRegistration struct {
	DeviceToken  string
	PublicKey    string
	RegisteredAt time.Time
}

// Transaction is a single authentication challenge
type Transaction struct {
	ID            string
	OwnerID       string
	ApplicationID string
	ClientIP      string
	GeoLocation   string
	UserName      string
	Signature     string
	CreatedAt     time.Time
}

// AuthenticationResult is the device's signed answer to a transaction
type AuthenticationResult struct {
	ID                     string
	TransactionID          string
	Result                 bool
	CertificateFingerprint string
	ActualClientIP         string
	ClientIPMatch          bool
	ServerIP               string
	ServerURI              string
	Signature              string
	CreatedAt              time.Time
}

// VerifiableResult is an authentication result re-signed with the
// application's secret key so the relying application can verify it.
type VerifiableResult struct {
	TransactionID          string `json:"transaction_id"`
	Result                 bool   `json:"result"`
	CertificateFingerprint string `json:"certificate_fingerprint"`
	ActualClientIP         string `json:"actual_client_ip"`
	ClientIPMatch          bool   `json:"client_ip_match"`
	ServerIP               string `json:"server_ip"`
	ServerURI              string `json:"server_uri"`
	Signature              string `json:"signature"`
}

// NotificationAlert is the alert text shown by the device for every challenge
const NotificationAlert = "Authentication Request"

// GeoLocationPlaceholder is sent until IP geolocation exists
const GeoLocationPlaceholder = "Not yet implemented"

// Notification is a challenge addressed to a device token
type Notification struct {
	DeviceToken     string `json:"device_token"`
	TransactionID   string `json:"transaction_id"`
	ApplicationName string `json:"application_name"`
	UserName        string `json:"user_name"`
	ClientIP        string `json:"client_ip"`
	GeoLocation     string `json:"geo_location"`
	Timestamp       int64  `json:"timestamp"`
}
