package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/layer-3/pushauth/core"
	"github.com/layer-3/pushauth/ports"
	"github.com/redis/go-redis/v9"
)

// maxWatchRetries bounds the optimistic WATCH retry loops
const maxWatchRetries = 16

// RedisStore is a Redis implementation of the Store interface
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a new Redis store
func NewRedisStore(client *redis.Client) ports.Store {
	return &RedisStore{
		client: client,
		prefix: "pushauth:",
	}
}

func (s *RedisStore) applicationKey(id string) string { return s.prefix + "app:" + id }
func (s *RedisStore) deviceKey(id string) string      { return s.prefix + "device:" + id }
func (s *RedisStore) transactionKey(id string) string { return s.prefix + "tx:" + id }
func (s *RedisStore) resultKey(txID string) string    { return s.prefix + "result:" + txID }
func (s *RedisStore) ownerAppsKey(owner string) string {
	return s.prefix + "owner:" + owner + ":apps"
}
func (s *RedisStore) ownerDevicesKey(owner string) string {
	return s.prefix + "owner:" + owner + ":devices"
}
func (s *RedisStore) activeDeviceKey(owner string) string {
	return s.prefix + "owner:" + owner + ":active-device"
}

// setOnce writes value under key only if the key is absent
func (s *RedisStore) setOnce(ctx context.Context, key string, value any) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	ok, err := s.client.SetNX(ctx, key, data, 0).Result()
	if err != nil {
		return false, fmt.Errorf("failed to write %s: %w", key, err)
	}
	return ok, nil
}

// createIndexed writes value at key and adds id to the owner set at indexKey
// in one MULTI block. It reports false, writing nothing, if key exists.
func (s *RedisStore) createIndexed(ctx context.Context, key, indexKey, id string, value any) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("failed to marshal %s: %w", key, err)
	}

	created := false
	create := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", key, err)
		}
		if n > 0 {
			created = false
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.SAdd(ctx, indexKey, id)
			return nil
		})
		created = err == nil
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := s.client.Watch(ctx, create, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("failed to write %s: %w", key, err)
		}
		return created, nil
	}
	return false, fmt.Errorf("failed to write %s: too much contention", key)
}

func (s *RedisStore) load(ctx context.Context, key string, into any) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return core.ErrNotFound
		}
		return fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}

// loadMembers resolves every id in the set at setKey through keyFn
func loadMembers[T any](ctx context.Context, client *redis.Client, setKey string, keyFn func(string) string) ([]*T, error) {
	ids, err := client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", setKey, err)
	}
	out := []*T{}
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = keyFn(id)
	}
	values, err := client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read members of %s: %w", setKey, err)
	}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		item := new(T)
		if err := json.Unmarshal([]byte(raw), item); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", keys[i], err)
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *RedisStore) CreateApplication(ctx context.Context, app *core.Application) error {
	ok, err := s.createIndexed(ctx, s.applicationKey(app.ID), s.ownerAppsKey(app.OwnerID), app.ID, app)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("application %s already exists: %w", app.ID, core.ErrPersistenceFailure)
	}
	return nil
}

func (s *RedisStore) GetApplication(ctx context.Context, id string) (*core.Application, error) {
	var app core.Application
	if err := s.load(ctx, s.applicationKey(id), &app); err != nil {
		return nil, err
	}
	return &app, nil
}

func (s *RedisStore) ListApplications(ctx context.Context, ownerID string) ([]*core.Application, error) {
	apps, err := loadMembers[core.Application](ctx, s.client, s.ownerAppsKey(ownerID), s.applicationKey)
	if err != nil {
		return nil, err
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].CreatedAt.Before(apps[j].CreatedAt) })
	return apps, nil
}

func (s *RedisStore) CreateDevice(ctx context.Context, device *core.Device) error {
	ok, err := s.createIndexed(ctx, s.deviceKey(device.ID), s.ownerDevicesKey(device.OwnerID), device.ID, device)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("device %s already exists: %w", device.ID, core.ErrPersistenceFailure)
	}
	return nil
}

func (s *RedisStore) GetDevice(ctx context.Context, id string) (*core.Device, error) {
	var device core.Device
	if err := s.load(ctx, s.deviceKey(id), &device); err != nil {
		return nil, err
	}
	return &device, nil
}

func (s *RedisStore) ListDevices(ctx context.Context, ownerID string) ([]*core.Device, error) {
	devices, err := loadMembers[core.Device](ctx, s.client, s.ownerDevicesKey(ownerID), s.deviceKey)
	if err != nil {
		return nil, err
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].CreatedAt.Before(devices[j].CreatedAt) })
	return devices, nil
}

func (s *RedisStore) ActiveDevice(ctx context.Context, ownerID string) (*core.Device, error) {
	id, err := s.client.Get(ctx, s.activeDeviceKey(ownerID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read active device: %w", err)
	}
	return s.GetDevice(ctx, id)
}

// RegisterDevice watches the device key and commits the registration in a
// MULTI block. A concurrent commit aborts the transaction, and the retry
// then observes the registered flag.
func (s *RedisStore) RegisterDevice(ctx context.Context, id string, reg core.DeviceRegistration) error {
	key := s.deviceKey(id)

	register := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return core.ErrNotFound
			}
			return fmt.Errorf("failed to read device: %w", err)
		}

		var device core.Device
		if err := json.Unmarshal(data, &device); err != nil {
			return fmt.Errorf("failed to unmarshal device: %w", err)
		}
		if device.Registered {
			return core.ErrAlreadyRegistered
		}

		device.DeviceToken = reg.DeviceToken
		device.PublicKey = reg.PublicKey
		device.RegisteredAt = reg.RegisteredAt
		device.Registered = true

		updated, err := json.Marshal(device)
		if err != nil {
			return fmt.Errorf("failed to marshal device: %w", err)
		}

		activeKey := s.activeDeviceKey(device.OwnerID)
		if err := tx.Watch(ctx, activeKey).Err(); err != nil {
			return fmt.Errorf("failed to watch active device: %w", err)
		}
		setActive, err := s.outranksActive(ctx, tx, activeKey, &device)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			if setActive {
				pipe.Set(ctx, activeKey, device.ID, 0)
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := s.client.Watch(ctx, register, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("failed to register device %s: too much contention", id)
}

// outranksActive reports whether device should replace the owner's current
// active device pointer.
func (s *RedisStore) outranksActive(ctx context.Context, tx *redis.Tx, activeKey string, device *core.Device) (bool, error) {
	currentID, err := tx.Get(ctx, activeKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return true, nil
		}
		return false, fmt.Errorf("failed to read active device: %w", err)
	}

	data, err := tx.Get(ctx, s.deviceKey(currentID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return true, nil
		}
		return false, fmt.Errorf("failed to read device: %w", err)
	}
	var current core.Device
	if err := json.Unmarshal(data, &current); err != nil {
		return false, fmt.Errorf("failed to unmarshal device: %w", err)
	}
	return ranksAbove(device, &current), nil
}

func (s *RedisStore) CreateTransaction(ctx context.Context, tx *core.Transaction) error {
	ok, err := s.setOnce(ctx, s.transactionKey(tx.ID), tx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("transaction %s already exists: %w", tx.ID, core.ErrPersistenceFailure)
	}
	return nil
}

func (s *RedisStore) GetTransaction(ctx context.Context, id string) (*core.Transaction, error) {
	var tx core.Transaction
	if err := s.load(ctx, s.transactionKey(id), &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// CreateResult relies on SETNX keyed by transaction id for the 1:1 invariant
func (s *RedisStore) CreateResult(ctx context.Context, result *core.AuthenticationResult) error {
	ok, err := s.setOnce(ctx, s.resultKey(result.TransactionID), result)
	if err != nil {
		return err
	}
	if !ok {
		return core.ErrDuplicateResult
	}
	return nil
}

func (s *RedisStore) GetResult(ctx context.Context, transactionID string) (*core.AuthenticationResult, error) {
	var result core.AuthenticationResult
	if err := s.load(ctx, s.resultKey(transactionID), &result); err != nil {
		return nil, err
	}
	return &result, nil
}
