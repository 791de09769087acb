package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/pushauth/core"
	"github.com/layer-3/pushauth/ports"
	"github.com/layer-3/pushauth/protocol"
	"github.com/rs/zerolog"
)

// DefaultRegisterURI is the base of the registration link handed to devices
const DefaultRegisterURI = "pushauth://register"

// PushAuthService handles device provisioning, transactions and results
type PushAuthService struct {
	store    ports.Store
	notifier ports.Notifier
	log      zerolog.Logger

	rand        io.Reader
	now         func() time.Time
	registerURI string
}

// Option configures a PushAuthService
type Option func(*PushAuthService)

// WithRand sets the randomness source for keys and identifiers
func WithRand(r io.Reader) Option {
	return func(s *PushAuthService) { s.rand = r }
}

// WithClock sets the time source
func WithClock(now func() time.Time) Option {
	return func(s *PushAuthService) { s.now = now }
}

// WithRegisterURI sets the base of device registration links
func WithRegisterURI(base string) Option {
	return func(s *PushAuthService) { s.registerURI = base }
}

// NewPushAuthService creates a new push authentication service
func NewPushAuthService(
	store ports.Store,
	notifier ports.Notifier,
	log zerolog.Logger,
	opts ...Option,
) *PushAuthService {
	s := &PushAuthService{
		store:       store,
		notifier:    notifier,
		log:         log.With().Str("component", "service").Logger(),
		rand:        rand.Reader,
		now:         time.Now,
		registerURI: DefaultRegisterURI,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IssuedDevice is returned once, when a device is issued
type IssuedDevice struct {
	DeviceID        string
	SymmetricKey    string
	RegistrationURI string
}

// DeviceView is a device as shown to its owner
type DeviceView struct {
	ID              string
	Name            string
	Registered      bool
	CreatedAt       time.Time
	RegisteredAt    time.Time
	RegistrationURI string // empty once registered
}

// TransactionRequest is a relying application's signed request for a challenge
type TransactionRequest struct {
	ApplicationID string
	ClientIP      string
	GeoLocation   string
	UserName      string
	Signature     string
}

// ResultSubmission is the device's signed answer to a transaction
type ResultSubmission struct {
	TransactionID          string
	Result                 bool
	CertificateFingerprint string
	ActualClientIP         string
	ClientIPMatch          bool
	ServerIP               string
	ServerURI              string
	Signature              string
}

// CreateApplication creates an application with a fresh secret key. The
// returned application is the only place the secret is ever exposed.
func (s *PushAuthService) CreateApplication(ctx context.Context, ownerID, name string) (*core.Application, error) {
	id, err := s.newID()
	if err != nil {
		return nil, err
	}
	key, err := protocol.NewSecretKey(s.rand)
	if err != nil {
		return nil, err
	}

	app := &core.Application{
		ID:        id,
		OwnerID:   ownerID,
		Name:      name,
		SecretKey: key.String(),
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateApplication(ctx, app); err != nil {
		return nil, storeError("failed to store application", err)
	}

	s.log.Info().Str("owner_id", ownerID).Str("application_id", id).Msg("application created")
	return app, nil
}

// ListApplications returns the owner's applications without their secrets
func (s *PushAuthService) ListApplications(ctx context.Context, ownerID string) ([]*core.Application, error) {
	apps, err := s.store.ListApplications(ctx, ownerID)
	if err != nil {
		return nil, storeError("failed to list applications", err)
	}
	for _, app := range apps {
		app.SecretKey = ""
	}
	return apps, nil
}

// GetApplication returns one of the owner's applications without its secret.
// Applications of other owners are reported as not found.
func (s *PushAuthService) GetApplication(ctx context.Context, ownerID, appID string) (*core.Application, error) {
	app, err := s.store.GetApplication(ctx, appID)
	if err != nil {
		return nil, storeError("failed to load application", err)
	}
	if app.OwnerID != ownerID {
		return nil, core.ErrNotFound
	}
	app.SecretKey = ""
	return app, nil
}

// IssueDevice creates an unregistered device with a fresh provisioning key
func (s *PushAuthService) IssueDevice(ctx context.Context, ownerID, name string) (*IssuedDevice, error) {
	id, err := s.newID()
	if err != nil {
		return nil, err
	}
	key, err := protocol.NewSecretKey(s.rand)
	if err != nil {
		return nil, err
	}

	device := &core.Device{
		ID:           id,
		OwnerID:      ownerID,
		Name:         name,
		SymmetricKey: key.String(),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreateDevice(ctx, device); err != nil {
		return nil, storeError("failed to store device", err)
	}

	s.log.Info().Str("owner_id", ownerID).Str("device_id", id).Msg("device issued")
	return &IssuedDevice{
		DeviceID:        id,
		SymmetricKey:    device.SymmetricKey,
		RegistrationURI: s.registrationURI(device),
	}, nil
}

// ListDevices returns the owner's devices
func (s *PushAuthService) ListDevices(ctx context.Context, ownerID string) ([]DeviceView, error) {
	devices, err := s.store.ListDevices(ctx, ownerID)
	if err != nil {
		return nil, storeError("failed to list devices", err)
	}
	views := make([]DeviceView, 0, len(devices))
	for _, d := range devices {
		views = append(views, s.deviceView(d))
	}
	return views, nil
}

// GetDevice returns one of the owner's devices. Devices of other owners are
// reported as not found.
func (s *PushAuthService) GetDevice(ctx context.Context, ownerID, deviceID string) (*DeviceView, error) {
	device, err := s.store.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, storeError("failed to load device", err)
	}
	if device.OwnerID != ownerID {
		return nil, core.ErrNotFound
	}
	view := s.deviceView(device)
	return &view, nil
}

// CompleteRegistration binds a device token and public key to an issued
// device. The tag must be the HMAC of the registration message under the
// device's provisioning key.
func (s *PushAuthService) CompleteRegistration(ctx context.Context, deviceID, deviceToken, publicKey, tag string) error {
	device, err := s.store.GetDevice(ctx, deviceID)
	if err != nil {
		return storeError("failed to load device", err)
	}
	if device.Registered {
		return core.ErrAlreadyRegistered
	}

	msg := protocol.RegistrationMessage(deviceID, deviceToken, publicKey)
	if err := protocol.VerifyBase64(device.SymmetricKey, msg, tag); err != nil {
		return err
	}
	if _, err := protocol.ParsePublicKey(publicKey); err != nil {
		return err
	}

	reg := core.DeviceRegistration{
		DeviceToken:  deviceToken,
		PublicKey:    publicKey,
		RegisteredAt: s.now().UTC(),
	}
	if err := s.store.RegisterDevice(ctx, deviceID, reg); err != nil {
		return storeError("failed to register device", err)
	}

	s.log.Info().Str("device_id", deviceID).Msg("device registered")
	return nil
}

// CreateTransaction stores a signed transaction and queues a push to the
// owner's active device. It returns once the push is queued; delivery
// failures never fail the transaction.
func (s *PushAuthService) CreateTransaction(ctx context.Context, req TransactionRequest) (string, error) {
	app, err := s.store.GetApplication(ctx, req.ApplicationID)
	if err != nil {
		return "", storeError("failed to load application", err)
	}

	msg := protocol.TransactionMessage(req.ApplicationID, req.ClientIP, req.UserName)
	if err := protocol.VerifyBase64(app.SecretKey, msg, req.Signature); err != nil {
		return "", err
	}

	id, err := s.newID()
	if err != nil {
		return "", err
	}
	tx := &core.Transaction{
		ID:            id,
		OwnerID:       app.OwnerID,
		ApplicationID: app.ID,
		ClientIP:      req.ClientIP,
		GeoLocation:   req.GeoLocation,
		UserName:      req.UserName,
		Signature:     req.Signature,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.store.CreateTransaction(ctx, tx); err != nil {
		return "", storeError("failed to store transaction", err)
	}

	log := s.log.With().Str("transaction_id", tx.ID).Str("application_id", app.ID).Logger()

	device, err := s.store.ActiveDevice(ctx, tx.OwnerID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			log.Warn().Str("owner_id", tx.OwnerID).Msg("no registered device for transaction owner")
			return "", core.ErrNoDeviceFound
		}
		return "", storeError("failed to resolve device", err)
	}

	notification := core.Notification{
		DeviceToken:     device.DeviceToken,
		TransactionID:   tx.ID,
		ApplicationName: app.Name,
		UserName:        tx.UserName,
		ClientIP:        tx.ClientIP,
		GeoLocation:     core.GeoLocationPlaceholder,
		Timestamp:       tx.CreatedAt.Unix(),
	}
	if err := s.notifier.Notify(ctx, notification); err != nil {
		log.Error().Err(err).Str("device_id", device.ID).Msg("failed to queue push notification")
	} else {
		log.Debug().Str("device_id", device.ID).Msg("push notification queued")
	}

	return tx.ID, nil
}

// SubmitResult verifies and stores a device's answer. At most one result is
// accepted per transaction.
func (s *PushAuthService) SubmitResult(ctx context.Context, sub ResultSubmission) error {
	tx, err := s.store.GetTransaction(ctx, sub.TransactionID)
	if err != nil {
		return storeError("failed to load transaction", err)
	}

	device, err := s.store.ActiveDevice(ctx, tx.OwnerID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return core.ErrNoDeviceFound
		}
		return storeError("failed to resolve device", err)
	}

	if _, err := s.store.GetResult(ctx, tx.ID); err == nil {
		return core.ErrDuplicateResult
	} else if !errors.Is(err, core.ErrNotFound) {
		return storeError("failed to check existing result", err)
	}

	msg := protocol.DeviceResultMessage(tx.ID, sub.Result, sub.CertificateFingerprint,
		sub.ActualClientIP, sub.ServerIP, sub.ServerURI)
	if err := protocol.VerifyDeviceSignature(device.PublicKey, msg, sub.Signature); err != nil {
		return err
	}

	id, err := s.newID()
	if err != nil {
		return err
	}
	result := &core.AuthenticationResult{
		ID:                     id,
		TransactionID:          tx.ID,
		Result:                 sub.Result,
		CertificateFingerprint: sub.CertificateFingerprint,
		ActualClientIP:         sub.ActualClientIP,
		ClientIPMatch:          sub.ClientIPMatch,
		ServerIP:               sub.ServerIP,
		ServerURI:              sub.ServerURI,
		Signature:              sub.Signature,
		CreatedAt:              s.now().UTC(),
	}
	if err := s.store.CreateResult(ctx, result); err != nil {
		return storeError("failed to store result", err)
	}

	s.log.Info().
		Str("transaction_id", tx.ID).
		Str("device_id", device.ID).
		Bool("result", sub.Result).
		Msg("authentication result accepted")
	return nil
}

// GetVerifiableResult returns the stored result re-signed with the
// application's secret key.
func (s *PushAuthService) GetVerifiableResult(ctx context.Context, transactionID string) (*core.VerifiableResult, error) {
	result, err := s.store.GetResult(ctx, transactionID)
	if err != nil {
		return nil, storeError("failed to load result", err)
	}
	tx, err := s.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, storeError("failed to load transaction", err)
	}
	app, err := s.store.GetApplication(ctx, tx.ApplicationID)
	if err != nil {
		return nil, storeError("failed to load application", err)
	}

	msg := protocol.ServerResultMessage(result.TransactionID, result.Result,
		result.CertificateFingerprint, result.ServerIP, result.ServerURI)
	sig, err := protocol.SignBase64(app.SecretKey, msg)
	if err != nil {
		return nil, err
	}

	return &core.VerifiableResult{
		TransactionID:          result.TransactionID,
		Result:                 result.Result,
		CertificateFingerprint: result.CertificateFingerprint,
		ActualClientIP:         result.ActualClientIP,
		ClientIPMatch:          result.ClientIPMatch,
		ServerIP:               result.ServerIP,
		ServerURI:              result.ServerURI,
		Signature:              sig,
	}, nil
}

func (s *PushAuthService) newID() (string, error) {
	id, err := uuid.NewRandomFromReader(s.rand)
	if err != nil {
		return "", fmt.Errorf("failed to generate id: %w", err)
	}
	return id.String(), nil
}

func (s *PushAuthService) registrationURI(d *core.Device) string {
	q := url.Values{}
	q.Set("device", d.ID)
	q.Set("secret", d.SymmetricKey)
	return s.registerURI + "?" + q.Encode()
}

func (s *PushAuthService) deviceView(d *core.Device) DeviceView {
	view := DeviceView{
		ID:           d.ID,
		Name:         d.Name,
		Registered:   d.Registered,
		CreatedAt:    d.CreatedAt,
		RegisteredAt: d.RegisteredAt,
	}
	if !d.Registered {
		view.RegistrationURI = s.registrationURI(d)
	}
	return view
}

// storeError passes protocol outcomes through and marks everything else as
// a persistence failure.
func storeError(msg string, err error) error {
	switch {
	case errors.Is(err, core.ErrNotFound),
		errors.Is(err, core.ErrAlreadyRegistered),
		errors.Is(err, core.ErrDuplicateResult),
		errors.Is(err, core.ErrPersistenceFailure):
		return err
	}
	return fmt.Errorf("%s: %w: %w", msg, core.ErrPersistenceFailure, err)
}
