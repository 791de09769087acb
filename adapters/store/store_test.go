package store_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/layer-3/pushauth/adapters/store"
	"github.com/layer-3/pushauth/core"
	"github.com/layer-3/pushauth/ports"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) ports.Store {
		return store.NewMemoryStore()
	})
}

func TestRedisStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) ports.Store {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return store.NewRedisStore(client)
	})
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) ports.Store {
		s, err := store.OpenSQLiteStore(filepath.Join(t.TempDir(), "pushauth.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestSQLiteStoreReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "pushauth.db")

	s, err := store.OpenSQLiteStore(path)
	require.NoError(t, err)
	app := newApplication("alice")
	require.NoError(t, s.CreateApplication(ctx, app))
	require.NoError(t, s.Close())

	s, err = store.OpenSQLiteStore(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	got, err := s.GetApplication(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, app.SecretKey, got.SecretKey)
}

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newApplication(owner string) *core.Application {
	return &core.Application{
		ID:        uuid.NewString(),
		OwnerID:   owner,
		Name:      "Sample App",
		SecretKey: "c2VjcmV0",
		CreatedAt: epoch,
	}
}

func newDevice(owner string, offset time.Duration) *core.Device {
	return &core.Device{
		ID:           uuid.NewString(),
		OwnerID:      owner,
		Name:         "phone",
		SymmetricKey: "a2V5",
		CreatedAt:    epoch.Add(offset),
	}
}

func newTransaction(app *core.Application) *core.Transaction {
	return &core.Transaction{
		ID:            uuid.NewString(),
		OwnerID:       app.OwnerID,
		ApplicationID: app.ID,
		ClientIP:      "1.2.3.4",
		GeoLocation:   "Harrisonburg, VA",
		UserName:      "bob",
		Signature:     "sig",
		CreatedAt:     epoch,
	}
}

func newResult(tx *core.Transaction) *core.AuthenticationResult {
	return &core.AuthenticationResult{
		ID:                     uuid.NewString(),
		TransactionID:          tx.ID,
		Result:                 true,
		CertificateFingerprint: "ff:ee",
		ActualClientIP:         "1.2.3.4",
		ClientIPMatch:          true,
		ServerIP:               "5.6.7.8",
		ServerURI:              "https://app.example",
		Signature:              "devsig",
		CreatedAt:              epoch,
	}
}

func runStoreSuite(t *testing.T, newStore func(t *testing.T) ports.Store) {
	ctx := context.Background()

	t.Run("applications", func(t *testing.T) {
		s := newStore(t)
		app := newApplication("alice")
		require.NoError(t, s.CreateApplication(ctx, app))

		got, err := s.GetApplication(ctx, app.ID)
		require.NoError(t, err)
		assert.Equal(t, app.Name, got.Name)
		assert.Equal(t, app.SecretKey, got.SecretKey)
		assert.True(t, app.CreatedAt.Equal(got.CreatedAt))

		_, err = s.GetApplication(ctx, "missing")
		assert.ErrorIs(t, err, core.ErrNotFound)

		assert.Error(t, s.CreateApplication(ctx, app))

		apps, err := s.ListApplications(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, apps, 1)
		assert.Equal(t, app.ID, apps[0].ID)

		apps, err = s.ListApplications(ctx, "mallory")
		require.NoError(t, err)
		assert.Empty(t, apps)
	})

	t.Run("duplicate create leaves owner indexes unchanged", func(t *testing.T) {
		s := newStore(t)
		app := newApplication("alice")
		require.NoError(t, s.CreateApplication(ctx, app))
		device := newDevice("alice", 0)
		require.NoError(t, s.CreateDevice(ctx, device))

		foreignApp := *app
		foreignApp.OwnerID = "mallory"
		assert.Error(t, s.CreateApplication(ctx, &foreignApp))
		foreignDevice := *device
		foreignDevice.OwnerID = "mallory"
		assert.Error(t, s.CreateDevice(ctx, &foreignDevice))

		apps, err := s.ListApplications(ctx, "mallory")
		require.NoError(t, err)
		assert.Empty(t, apps)
		devices, err := s.ListDevices(ctx, "mallory")
		require.NoError(t, err)
		assert.Empty(t, devices)

		got, err := s.GetApplication(ctx, app.ID)
		require.NoError(t, err)
		assert.Equal(t, "alice", got.OwnerID)
	})

	t.Run("concurrent creates index once", func(t *testing.T) {
		s := newStore(t)
		app := newApplication("alice")

		const n = 8
		var wg sync.WaitGroup
		errs := make([]error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = s.CreateApplication(ctx, app)
			}(i)
		}
		wg.Wait()

		successes := 0
		for _, err := range errs {
			if err == nil {
				successes++
			}
		}
		assert.Equal(t, 1, successes)

		apps, err := s.ListApplications(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, apps, 1)
		assert.Equal(t, app.ID, apps[0].ID)
	})

	t.Run("device registration", func(t *testing.T) {
		s := newStore(t)
		device := newDevice("alice", 0)
		require.NoError(t, s.CreateDevice(ctx, device))

		got, err := s.GetDevice(ctx, device.ID)
		require.NoError(t, err)
		assert.False(t, got.Registered)
		assert.Empty(t, got.DeviceToken)

		_, err = s.ActiveDevice(ctx, "alice")
		assert.ErrorIs(t, err, core.ErrNotFound)

		reg := core.DeviceRegistration{DeviceToken: "token", PublicKey: "pk", RegisteredAt: epoch.Add(time.Minute)}
		require.NoError(t, s.RegisterDevice(ctx, device.ID, reg))

		got, err = s.GetDevice(ctx, device.ID)
		require.NoError(t, err)
		assert.True(t, got.Registered)
		assert.Equal(t, "token", got.DeviceToken)
		assert.Equal(t, "pk", got.PublicKey)
		assert.Equal(t, device.SymmetricKey, got.SymmetricKey)

		again := core.DeviceRegistration{DeviceToken: "other", PublicKey: "other", RegisteredAt: epoch.Add(time.Hour)}
		assert.ErrorIs(t, s.RegisterDevice(ctx, device.ID, again), core.ErrAlreadyRegistered)

		got, err = s.GetDevice(ctx, device.ID)
		require.NoError(t, err)
		assert.Equal(t, "token", got.DeviceToken)

		assert.ErrorIs(t, s.RegisterDevice(ctx, "missing", reg), core.ErrNotFound)
	})

	t.Run("active device is the most recently registered", func(t *testing.T) {
		s := newStore(t)
		first := newDevice("alice", 0)
		second := newDevice("alice", time.Second)
		unregistered := newDevice("alice", 2*time.Second)
		for _, d := range []*core.Device{first, second, unregistered} {
			require.NoError(t, s.CreateDevice(ctx, d))
		}

		require.NoError(t, s.RegisterDevice(ctx, first.ID, core.DeviceRegistration{DeviceToken: "t1", PublicKey: "p1", RegisteredAt: epoch.Add(time.Minute)}))
		active, err := s.ActiveDevice(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, first.ID, active.ID)

		require.NoError(t, s.RegisterDevice(ctx, second.ID, core.DeviceRegistration{DeviceToken: "t2", PublicKey: "p2", RegisteredAt: epoch.Add(2 * time.Minute)}))
		active, err = s.ActiveDevice(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, second.ID, active.ID)
		assert.Equal(t, "t2", active.DeviceToken)

		devices, err := s.ListDevices(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, devices, 3)
		assert.Equal(t, first.ID, devices[0].ID)
		assert.Equal(t, unregistered.ID, devices[2].ID)

		_, err = s.ActiveDevice(ctx, "bob")
		assert.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("active device ties break on creation time then id", func(t *testing.T) {
		s := newStore(t)
		older := newDevice("alice", 0)
		newer := newDevice("alice", time.Second)
		for _, d := range []*core.Device{older, newer} {
			require.NoError(t, s.CreateDevice(ctx, d))
		}

		same := epoch.Add(time.Minute)
		require.NoError(t, s.RegisterDevice(ctx, newer.ID, core.DeviceRegistration{DeviceToken: "t2", PublicKey: "p2", RegisteredAt: same}))
		require.NoError(t, s.RegisterDevice(ctx, older.ID, core.DeviceRegistration{DeviceToken: "t1", PublicKey: "p1", RegisteredAt: same}))

		active, err := s.ActiveDevice(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, newer.ID, active.ID)

		a := newDevice("bob", 0)
		b := newDevice("bob", 0)
		a.ID, b.ID = "device-a", "device-b"
		for _, d := range []*core.Device{b, a} {
			require.NoError(t, s.CreateDevice(ctx, d))
			require.NoError(t, s.RegisterDevice(ctx, d.ID, core.DeviceRegistration{DeviceToken: d.ID, PublicKey: "p", RegisteredAt: same}))
		}

		active, err = s.ActiveDevice(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, "device-b", active.ID)
	})

	t.Run("concurrent registration has one winner", func(t *testing.T) {
		s := newStore(t)
		device := newDevice("alice", 0)
		require.NoError(t, s.CreateDevice(ctx, device))

		const n = 8
		var wg sync.WaitGroup
		errs := make([]error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = s.RegisterDevice(ctx, device.ID, core.DeviceRegistration{
					DeviceToken:  fmt.Sprintf("token-%d", i),
					PublicKey:    fmt.Sprintf("pk-%d", i),
					RegisteredAt: epoch.Add(time.Duration(i) * time.Second),
				})
			}(i)
		}
		wg.Wait()

		successes := 0
		for _, err := range errs {
			if err == nil {
				successes++
				continue
			}
			assert.ErrorIs(t, err, core.ErrAlreadyRegistered)
		}
		assert.Equal(t, 1, successes)
	})

	t.Run("transactions and results", func(t *testing.T) {
		s := newStore(t)
		app := newApplication("alice")
		require.NoError(t, s.CreateApplication(ctx, app))
		tx := newTransaction(app)
		require.NoError(t, s.CreateTransaction(ctx, tx))

		gotTx, err := s.GetTransaction(ctx, tx.ID)
		require.NoError(t, err)
		assert.Equal(t, tx.UserName, gotTx.UserName)
		assert.Equal(t, tx.ApplicationID, gotTx.ApplicationID)

		_, err = s.GetTransaction(ctx, "missing")
		assert.ErrorIs(t, err, core.ErrNotFound)

		_, err = s.GetResult(ctx, tx.ID)
		assert.ErrorIs(t, err, core.ErrNotFound)

		result := newResult(tx)
		require.NoError(t, s.CreateResult(ctx, result))

		gotResult, err := s.GetResult(ctx, tx.ID)
		require.NoError(t, err)
		assert.True(t, gotResult.Result)
		assert.True(t, gotResult.ClientIPMatch)
		assert.Equal(t, result.ServerURI, gotResult.ServerURI)

		second := newResult(tx)
		second.Result = false
		assert.ErrorIs(t, s.CreateResult(ctx, second), core.ErrDuplicateResult)

		gotResult, err = s.GetResult(ctx, tx.ID)
		require.NoError(t, err)
		assert.True(t, gotResult.Result)
	})

	t.Run("concurrent results have one winner", func(t *testing.T) {
		s := newStore(t)
		app := newApplication("alice")
		require.NoError(t, s.CreateApplication(ctx, app))
		tx := newTransaction(app)
		require.NoError(t, s.CreateTransaction(ctx, tx))

		const n = 8
		var wg sync.WaitGroup
		errs := make([]error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = s.CreateResult(ctx, newResult(tx))
			}(i)
		}
		wg.Wait()

		successes := 0
		for _, err := range errs {
			if err == nil {
				successes++
				continue
			}
			assert.ErrorIs(t, err, core.ErrDuplicateResult)
		}
		assert.Equal(t, 1, successes)
	})
}
