package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/layer-3/pushauth/core"
	"github.com/layer-3/pushauth/ports"
	"github.com/ncruces/go-sqlite3/driver" // Load database/sql driver
	_ "github.com/ncruces/go-sqlite3/embed" // Load sqlite WASM binary
)

// SQLiteStore is a SQLite implementation of the Store interface. Write-once
// transitions are enforced by the database: a conditional UPDATE for device
// registration and a UNIQUE transaction_id for results.
type SQLiteStore struct {
	db *sql.DB
}

var _ ports.Store = (*SQLiteStore)(nil)

// OpenSQLiteStore creates or opens a SQLite database file using a single
// connection and ensures the schema exists.
func OpenSQLiteStore(filename string) (*SQLiteStore, error) {
	query := "?_pragma=foreign_keys(on)&_pragma=busy_timeout(10000)"
	connector, err := (&driver.SQLite{}).OpenConnector("file:" + filepath.Clean(filename) + query)
	if err != nil {
		return nil, fmt.Errorf("error creating sqlite connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(1)

	if err := InitSQLite(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// InitSQLite creates the tables if they do not exist.
func InitSQLite(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS applications
			( id TEXT PRIMARY KEY
			, owner_id TEXT NOT NULL
			, name TEXT NOT NULL
			, secret_key TEXT NOT NULL
			, created_at INTEGER NOT NULL
			)`,
		`CREATE INDEX IF NOT EXISTS applications_owner
			ON applications(owner_id)`,
		`CREATE TABLE IF NOT EXISTS devices
			( id TEXT PRIMARY KEY
			, owner_id TEXT NOT NULL
			, name TEXT NOT NULL
			, symmetric_key TEXT NOT NULL
			, device_token TEXT NOT NULL DEFAULT ''
			, public_key TEXT NOT NULL DEFAULT ''
			, registered INTEGER NOT NULL DEFAULT 0
			, created_at INTEGER NOT NULL
			, registered_at INTEGER NOT NULL DEFAULT 0
			)`,
		`CREATE INDEX IF NOT EXISTS devices_owner
			ON devices(owner_id, registered, registered_at)`,
		`CREATE TABLE IF NOT EXISTS transactions
			( id TEXT PRIMARY KEY
			, owner_id TEXT NOT NULL
			, application_id TEXT NOT NULL
			, client_ip TEXT NOT NULL
			, geo_location TEXT NOT NULL
			, user_name TEXT NOT NULL
			, signature TEXT NOT NULL
			, created_at INTEGER NOT NULL
			, FOREIGN KEY(application_id) REFERENCES applications(id)
			)`,
		`CREATE TABLE IF NOT EXISTS authentication_results
			( id TEXT PRIMARY KEY
			, transaction_id TEXT UNIQUE NOT NULL
			, result INTEGER NOT NULL
			, certificate_fingerprint TEXT NOT NULL
			, actual_client_ip TEXT NOT NULL
			, client_ip_match INTEGER NOT NULL
			, server_ip TEXT NOT NULL
			, server_uri TEXT NOT NULL
			, signature TEXT NOT NULL
			, created_at INTEGER NOT NULL
			, FOREIGN KEY(transaction_id) REFERENCES transactions(id)
			)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("error creating tables: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func toUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// execOnce runs a write that must affect exactly one row
func (s *SQLiteStore) execOnce(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("expected 1 row affected, got %d: %w", n, core.ErrPersistenceFailure)
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrNotFound
	}
	return err
}

func (s *SQLiteStore) CreateApplication(ctx context.Context, app *core.Application) error {
	return s.execOnce(ctx,
		`INSERT INTO applications (id, owner_id, name, secret_key, created_at) VALUES (?, ?, ?, ?, ?)`,
		app.ID, app.OwnerID, app.Name, app.SecretKey, toUnixNano(app.CreatedAt))
}

const applicationColumns = `id, owner_id, name, secret_key, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanApplication(row scanner) (*core.Application, error) {
	var app core.Application
	var createdAt int64
	if err := row.Scan(&app.ID, &app.OwnerID, &app.Name, &app.SecretKey, &createdAt); err != nil {
		return nil, err
	}
	app.CreatedAt = fromUnixNano(createdAt)
	return &app, nil
}

func (s *SQLiteStore) GetApplication(ctx context.Context, id string) (*core.Application, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+applicationColumns+` FROM applications WHERE id = ?`, id)
	app, err := scanApplication(row)
	if err != nil {
		return nil, notFound(err)
	}
	return app, nil
}

func (s *SQLiteStore) ListApplications(ctx context.Context, ownerID string) ([]*core.Application, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE owner_id = ? ORDER BY created_at ASC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	apps := []*core.Application{}
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

func (s *SQLiteStore) CreateDevice(ctx context.Context, device *core.Device) error {
	return s.execOnce(ctx,
		`INSERT INTO devices (id, owner_id, name, symmetric_key, created_at) VALUES (?, ?, ?, ?, ?)`,
		device.ID, device.OwnerID, device.Name, device.SymmetricKey, toUnixNano(device.CreatedAt))
}

const deviceColumns = `id, owner_id, name, symmetric_key, device_token, public_key, registered, created_at, registered_at`

func scanDevice(row scanner) (*core.Device, error) {
	var device core.Device
	var createdAt, registeredAt int64
	if err := row.Scan(
		&device.ID, &device.OwnerID, &device.Name, &device.SymmetricKey,
		&device.DeviceToken, &device.PublicKey, &device.Registered,
		&createdAt, &registeredAt,
	); err != nil {
		return nil, err
	}
	device.CreatedAt = fromUnixNano(createdAt)
	device.RegisteredAt = fromUnixNano(registeredAt)
	return &device, nil
}

func (s *SQLiteStore) GetDevice(ctx context.Context, id string) (*core.Device, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = ?`, id)
	device, err := scanDevice(row)
	if err != nil {
		return nil, notFound(err)
	}
	return device, nil
}

func (s *SQLiteStore) ListDevices(ctx context.Context, ownerID string) ([]*core.Device, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE owner_id = ? ORDER BY created_at ASC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	devices := []*core.Device{}
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, device)
	}
	return devices, rows.Err()
}

func (s *SQLiteStore) ActiveDevice(ctx context.Context, ownerID string) (*core.Device, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM devices
		WHERE owner_id = ? AND registered = 1
		ORDER BY registered_at DESC, created_at DESC, id DESC LIMIT 1`, ownerID)
	device, err := scanDevice(row)
	if err != nil {
		return nil, notFound(err)
	}
	return device, nil
}

// RegisterDevice updates the row only while registered = 0, so concurrent
// callers cannot both succeed.
func (s *SQLiteStore) RegisterDevice(ctx context.Context, id string, reg core.DeviceRegistration) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE devices SET device_token = ?, public_key = ?, registered = 1, registered_at = ?
		WHERE id = ? AND registered = 0`,
		reg.DeviceToken, reg.PublicKey, toUnixNano(reg.RegisteredAt), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM devices WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return notFound(err)
	}
	return core.ErrAlreadyRegistered
}

func (s *SQLiteStore) CreateTransaction(ctx context.Context, tx *core.Transaction) error {
	return s.execOnce(ctx,
		`INSERT INTO transactions
		(id, owner_id, application_id, client_ip, geo_location, user_name, signature, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.OwnerID, tx.ApplicationID, tx.ClientIP, tx.GeoLocation, tx.UserName, tx.Signature,
		toUnixNano(tx.CreatedAt))
}

func (s *SQLiteStore) GetTransaction(ctx context.Context, id string) (*core.Transaction, error) {
	var tx core.Transaction
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, application_id, client_ip, geo_location, user_name, signature, created_at
		FROM transactions WHERE id = ?`, id).Scan(
		&tx.ID, &tx.OwnerID, &tx.ApplicationID, &tx.ClientIP, &tx.GeoLocation, &tx.UserName,
		&tx.Signature, &createdAt)
	if err != nil {
		return nil, notFound(err)
	}
	tx.CreatedAt = fromUnixNano(createdAt)
	return &tx, nil
}

// CreateResult ignores the insert when transaction_id is already taken
func (s *SQLiteStore) CreateResult(ctx context.Context, result *core.AuthenticationResult) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO authentication_results
		(id, transaction_id, result, certificate_fingerprint, actual_client_ip, client_ip_match,
		 server_ip, server_uri, signature, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.ID, result.TransactionID, result.Result, result.CertificateFingerprint,
		result.ActualClientIP, result.ClientIPMatch, result.ServerIP, result.ServerURI,
		result.Signature, toUnixNano(result.CreatedAt))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrDuplicateResult
	}
	return nil
}

func (s *SQLiteStore) GetResult(ctx context.Context, transactionID string) (*core.AuthenticationResult, error) {
	var result core.AuthenticationResult
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, transaction_id, result, certificate_fingerprint, actual_client_ip, client_ip_match,
		server_ip, server_uri, signature, created_at
		FROM authentication_results WHERE transaction_id = ?`, transactionID).Scan(
		&result.ID, &result.TransactionID, &result.Result, &result.CertificateFingerprint,
		&result.ActualClientIP, &result.ClientIPMatch, &result.ServerIP, &result.ServerURI,
		&result.Signature, &createdAt)
	if err != nil {
		return nil, notFound(err)
	}
	result.CreatedAt = fromUnixNano(createdAt)
	return &result, nil
}
