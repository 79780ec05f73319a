package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

// Repository persists the catalog. Lookups by a missing ID return
// ErrDeviceNotFound; Create on a taken ID returns ErrDeviceExists.
type Repository interface {
	GetByID(ctx context.Context, id uint64) (*Device, error)
	List(ctx context.Context) ([]Device, error) // ordered by ID
	Create(ctx context.Context, device *Device) error
	Update(ctx context.Context, device *Device) error
	Delete(ctx context.Context, id uint64) error
}

// SQLiteRepository stores devices in the devices table created by the
// embedded migrations.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectDevice = `SELECT id, name, family, address, created_at, updated_at FROM devices`

func (r *SQLiteRepository) GetByID(ctx context.Context, id uint64) (*Device, error) {
	row := r.db.QueryRowContext(ctx, selectDevice+` WHERE id = ?`, int64(id)) //nolint:gosec // IDs are validated positive
	device, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return device, nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, selectDevice+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// Create inserts a new device. Timestamps are set here.
func (r *SQLiteRepository) Create(ctx context.Context, device *Device) error {
	now := time.Now().UTC()
	device.CreatedAt = now
	device.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (id, name, family, address, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		int64(device.ID), device.Name, device.Family, device.Address, //nolint:gosec // IDs are validated positive
		now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// Update modifies an existing device.
func (r *SQLiteRepository) Update(ctx context.Context, device *Device) error {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE devices SET name = ?, family = ?, address = ?, updated_at = ?
		WHERE id = ?`,
		device.Name, device.Family, device.Address, now.Format(time.RFC3339), int64(device.ID)) //nolint:gosec // IDs are validated positive
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	} else if n == 0 {
		return ErrDeviceNotFound
	}
	device.UpdatedAt = now
	return nil
}

// Delete removes a device by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id uint64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, int64(id)) //nolint:gosec // IDs are validated positive
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	} else if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(row scanner) (*Device, error) {
	var (
		d                Device
		id               int64
		created, updated string
	)
	if err := row.Scan(&id, &d.Name, &d.Family, &d.Address, &created, &updated); err != nil {
		return nil, err
	}
	d.ID = uint64(id) //nolint:gosec // Column has CHECK (id > 0)
	d.CreatedAt, _ = time.Parse(time.RFC3339, created)
	d.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return &d, nil
}

// isUniqueViolation checks if an error is a SQLite unique or primary key
// constraint violation.
func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
