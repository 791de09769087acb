package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/pushauth/service"
	"github.com/rs/zerolog"
)

// Handlers contains HTTP handlers for the push authentication endpoints
type Handlers struct {
	svc *service.PushAuthService
	log zerolog.Logger
}

// NewHandlers creates new handlers
func NewHandlers(svc *service.PushAuthService, log zerolog.Logger) *Handlers {
	return &Handlers{svc: svc, log: log}
}

type applicationResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	SecretKey string    `json:"secret_key,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type deviceResponse struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Registered      bool       `json:"registered"`
	CreatedAt       time.Time  `json:"created_at"`
	RegisteredAt    *time.Time `json:"registered_at,omitempty"`
	RegistrationURI string     `json:"registration_uri,omitempty"`
}

func newDeviceResponse(d service.DeviceView) deviceResponse {
	resp := deviceResponse{
		ID:              d.ID,
		Name:            d.Name,
		Registered:      d.Registered,
		CreatedAt:       d.CreatedAt,
		RegistrationURI: d.RegistrationURI,
	}
	if d.Registered {
		resp.RegisteredAt = &d.RegisteredAt
	}
	return resp
}

// CreateApplication creates an application and returns its secret once
func (h *Handlers) CreateApplication(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	app, err := h.svc.CreateApplication(c.Request.Context(), ownerID(c), req.Name)
	if err != nil {
		abortWithError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, applicationResponse{
		ID:        app.ID,
		Name:      app.Name,
		SecretKey: app.SecretKey,
		CreatedAt: app.CreatedAt,
	})
}

// ListApplications lists the caller's applications
func (h *Handlers) ListApplications(c *gin.Context) {
	apps, err := h.svc.ListApplications(c.Request.Context(), ownerID(c))
	if err != nil {
		abortWithError(c, h.log, err)
		return
	}

	resp := make([]applicationResponse, 0, len(apps))
	for _, app := range apps {
		resp = append(resp, applicationResponse{ID: app.ID, Name: app.Name, CreatedAt: app.CreatedAt})
	}
	c.JSON(http.StatusOK, gin.H{"applications": resp})
}

// GetApplication returns one of the caller's applications
func (h *Handlers) GetApplication(c *gin.Context) {
	app, err := h.svc.GetApplication(c.Request.Context(), ownerID(c), c.Param("id"))
	if err != nil {
		abortWithError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, applicationResponse{ID: app.ID, Name: app.Name, CreatedAt: app.CreatedAt})
}

// IssueDevice issues a new device and returns its provisioning key
func (h *Handlers) IssueDevice(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	issued, err := h.svc.IssueDevice(c.Request.Context(), ownerID(c), req.Name)
	if err != nil {
		abortWithError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"device_id":        issued.DeviceID,
		"symmetric_key":    issued.SymmetricKey,
		"registration_uri": issued.RegistrationURI,
	})
}

// ListDevices lists the caller's devices
func (h *Handlers) ListDevices(c *gin.Context) {
	devices, err := h.svc.ListDevices(c.Request.Context(), ownerID(c))
	if err != nil {
		abortWithError(c, h.log, err)
		return
	}

	resp := make([]deviceResponse, 0, len(devices))
	for _, d := range devices {
		resp = append(resp, newDeviceResponse(d))
	}
	c.JSON(http.StatusOK, gin.H{"devices": resp})
}

// GetDevice returns one of the caller's devices
func (h *Handlers) GetDevice(c *gin.Context) {
	device, err := h.svc.GetDevice(c.Request.Context(), ownerID(c), c.Param("id"))
	if err != nil {
		abortWithError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, newDeviceResponse(*device))
}

// CompleteRegistration binds a device token and public key to a device
func (h *Handlers) CompleteRegistration(c *gin.Context) {
	var req struct {
		DeviceToken string `json:"device_token" binding:"required"`
		PublicKey   string `json:"public_key" binding:"required"`
		HMAC        string `json:"hmac" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	err := h.svc.CompleteRegistration(c.Request.Context(), c.Param("id"), req.DeviceToken, req.PublicKey, req.HMAC)
	if err != nil {
		abortWithError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Registered"})
}

// CreateTransaction creates a transaction and queues the push challenge
func (h *Handlers) CreateTransaction(c *gin.Context) {
	var req struct {
		ApplicationID string `json:"application_id" binding:"required"`
		ClientIP      string `json:"client_ip" binding:"required"`
		GeoLocation   string `json:"geo_location"`
		UserName      string `json:"user_name" binding:"required"`
		Signature     string `json:"signature" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	txID, err := h.svc.CreateTransaction(c.Request.Context(), service.TransactionRequest{
		ApplicationID: req.ApplicationID,
		ClientIP:      req.ClientIP,
		GeoLocation:   req.GeoLocation,
		UserName:      req.UserName,
		Signature:     req.Signature,
	})
	if err != nil {
		abortWithError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"transaction_id": txID})
}

// SubmitResult accepts the device's signed answer to a transaction
func (h *Handlers) SubmitResult(c *gin.Context) {
	var req struct {
		TransactionID          string `json:"transaction_id"`
		Result                 bool   `json:"result"`
		CertificateFingerprint string `json:"certificate_fingerprint"`
		ActualClientIP         string `json:"actual_client_ip"`
		ClientIPMatch          bool   `json:"client_ip_match"`
		ServerIP               string `json:"server_ip"`
		ServerURI              string `json:"server_uri"`
		Signature              string `json:"signature" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	txID := c.Param("id")
	if req.TransactionID != "" && req.TransactionID != txID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Transaction id mismatch"})
		return
	}

	err := h.svc.SubmitResult(c.Request.Context(), service.ResultSubmission{
		TransactionID:          txID,
		Result:                 req.Result,
		CertificateFingerprint: req.CertificateFingerprint,
		ActualClientIP:         req.ActualClientIP,
		ClientIPMatch:          req.ClientIPMatch,
		ServerIP:               req.ServerIP,
		ServerURI:              req.ServerURI,
		Signature:              req.Signature,
	})
	if err != nil {
		abortWithError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Result accepted"})
}

// GetVerifiableResult returns the result re-signed for the application
func (h *Handlers) GetVerifiableResult(c *gin.Context) {
	result, err := h.svc.GetVerifiableResult(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Health reports liveness
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
