package store

import (
	"context"
	"sort"
	"sync"

	"github.com/layer-3/pushauth/core"
	"github.com/layer-3/pushauth/ports"
)

// MemoryStore is an in-memory implementation of the Store interface
type MemoryStore struct {
	applications map[string]core.Application
	devices      map[string]core.Device
	transactions map[string]core.Transaction
	results      map[string]core.AuthenticationResult
	mu           sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() ports.Store {
	return &MemoryStore{
		applications: make(map[string]core.Application),
		devices:      make(map[string]core.Device),
		transactions: make(map[string]core.Transaction),
		results:      make(map[string]core.AuthenticationResult),
	}
}

func (s *MemoryStore) CreateApplication(ctx context.Context, app *core.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.applications[app.ID]; exists {
		return core.ErrPersistenceFailure
	}
	s.applications[app.ID] = *app
	return nil
}

func (s *MemoryStore) GetApplication(ctx context.Context, id string) (*core.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	app, ok := s.applications[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &app, nil
}

func (s *MemoryStore) ListApplications(ctx context.Context, ownerID string) ([]*core.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	apps := []*core.Application{}
	for _, app := range s.applications {
		if app.OwnerID == ownerID {
			apps = append(apps, &app)
		}
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].CreatedAt.Before(apps[j].CreatedAt) })
	return apps, nil
}

func (s *MemoryStore) CreateDevice(ctx context.Context, device *core.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.devices[device.ID]; exists {
		return core.ErrPersistenceFailure
	}
	s.devices[device.ID] = *device
	return nil
}

func (s *MemoryStore) GetDevice(ctx context.Context, id string) (*core.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	device, ok := s.devices[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &device, nil
}

func (s *MemoryStore) ListDevices(ctx context.Context, ownerID string) ([]*core.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	devices := []*core.Device{}
	for _, device := range s.devices {
		if device.OwnerID == ownerID {
			devices = append(devices, &device)
		}
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].CreatedAt.Before(devices[j].CreatedAt) })
	return devices, nil
}

func (s *MemoryStore) ActiveDevice(ctx context.Context, ownerID string) (*core.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active *core.Device
	for _, device := range s.devices {
		if device.OwnerID != ownerID || !device.Registered {
			continue
		}
		if active == nil || ranksAbove(&device, active) {
			active = &device
		}
	}
	if active == nil {
		return nil, core.ErrNotFound
	}
	return active, nil
}

// RegisterDevice checks and sets the registered flag under the write lock
func (s *MemoryStore) RegisterDevice(ctx context.Context, id string, reg core.DeviceRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	device, ok := s.devices[id]
	if !ok {
		return core.ErrNotFound
	}
	if device.Registered {
		return core.ErrAlreadyRegistered
	}

	device.DeviceToken = reg.DeviceToken
	device.PublicKey = reg.PublicKey
	device.RegisteredAt = reg.RegisteredAt
	device.Registered = true
	s.devices[id] = device
	return nil
}

func (s *MemoryStore) CreateTransaction(ctx context.Context, tx *core.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.transactions[tx.ID]; exists {
		return core.ErrPersistenceFailure
	}
	s.transactions[tx.ID] = *tx
	return nil
}

func (s *MemoryStore) GetTransaction(ctx context.Context, id string) (*core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &tx, nil
}

func (s *MemoryStore) CreateResult(ctx context.Context, result *core.AuthenticationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.results[result.TransactionID]; exists {
		return core.ErrDuplicateResult
	}
	s.results[result.TransactionID] = *result
	return nil
}

func (s *MemoryStore) GetResult(ctx context.Context, transactionID string) (*core.AuthenticationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result, ok := s.results[transactionID]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &result, nil
}

// ranksAbove orders registered devices for ActiveDevice: latest registration
// first, then latest creation, then greatest id.
func ranksAbove(a, b *core.Device) bool {
	if !a.RegisteredAt.Equal(b.RegisteredAt) {
		return a.RegisteredAt.After(b.RegisteredAt)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}
