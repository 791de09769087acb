package ports

import (
	"context"

	"github.com/layer-3/pushauth/core"
)

// Store persists applications, devices, transactions and authentication
// results. Lookups return core.ErrNotFound when an identifier does not
// resolve.
type Store interface {
	CreateApplication(ctx context.Context, app *core.Application) error
	GetApplication(ctx context.Context, id string) (*core.Application, error)
	ListApplications(ctx context.Context, ownerID string) ([]*core.Application, error)

	CreateDevice(ctx context.Context, device *core.Device) error
	GetDevice(ctx context.Context, id string) (*core.Device, error)
	ListDevices(ctx context.Context, ownerID string) ([]*core.Device, error)

	// ActiveDevice returns the owner's most recently registered device.
	ActiveDevice(ctx context.Context, ownerID string) (*core.Device, error)

	// RegisterDevice sets the write-once registration fields and the
	// registered flag in one step. It returns core.ErrAlreadyRegistered if
	// the device was registered before the write, including by a concurrent
	// caller.
	RegisterDevice(ctx context.Context, id string, reg core.DeviceRegistration) error

	CreateTransaction(ctx context.Context, tx *core.Transaction) error
	GetTransaction(ctx context.Context, id string) (*core.Transaction, error)

	// CreateResult stores the result unless one already exists for its
	// transaction, in which case it returns core.ErrDuplicateResult.
	CreateResult(ctx context.Context, result *core.AuthenticationResult) error
	GetResult(ctx context.Context, transactionID string) (*core.AuthenticationResult, error)
}
