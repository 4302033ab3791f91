package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/ota-core/internal/infrastructure/database"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a device by its unique identifier.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id int64) (*Device, error)

	// GetMany retrieves the devices that exist among ids, keyed by ID.
	// Missing IDs are simply absent from the result.
	GetMany(ctx context.Context, ids []int64) (map[int64]Device, error)

	// List retrieves all devices ordered by ID.
	List(ctx context.Context) ([]Device, error)

	// ListIDsByGroup returns the IDs of devices assigned to a group, ascending.
	ListIDsByGroup(ctx context.Context, groupID int64) ([]int64, error)

	// CountByGroup returns how many devices are assigned to a group.
	CountByGroup(ctx context.Context, groupID int64) (int, error)

	// SetGroup assigns a device to a group, or unassigns it when groupID is nil.
	// Returns ErrDeviceNotFound if the device does not exist.
	SetGroup(ctx context.Context, id int64, groupID *int64) error

	// Create registers a new device.
	// Returns ErrDeviceExists if the MAC address is already registered.
	Create(ctx context.Context, device *Device) error

	// Delete removes an unassigned device.
	// Returns ErrDeviceNotFound or ErrDeviceAssigned.
	Delete(ctx context.Context, id int64) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db database.DBTX
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// db may be a connection or a transaction.
func NewSQLiteRepository(db database.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// WithTx returns a repository that runs its queries inside tx.
func (r *SQLiteRepository) WithTx(tx database.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: tx}
}

const selectDevice = `SELECT id, mac_address, name, group_id, created FROM devices`

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id int64) (*Device, error) {
	row := r.db.QueryRowContext(ctx, selectDevice+` WHERE id = ?`, id)
	device, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return device, nil
}

// GetMany retrieves the devices that exist among ids, querying in chunks
// that stay below SQLite's bound variable limit.
func (r *SQLiteRepository) GetMany(ctx context.Context, ids []int64) (map[int64]Device, error) {
	found := make(map[int64]Device, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	for _, chunk := range database.ChunkIDs(ids, database.MaxInClauseIDs) {
		placeholders, args := database.InClause(chunk)
		devices, err := r.queryDevices(ctx, selectDevice+` WHERE id IN (`+placeholders+`)`, args...) //nolint:gosec // placeholders only
		if err != nil {
			return nil, err
		}
		for _, d := range devices {
			found[d.ID] = d
		}
	}
	return found, nil
}

// List retrieves all devices.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	return r.queryDevices(ctx, selectDevice+` ORDER BY id`)
}

// ListIDsByGroup returns the IDs of devices assigned to a group.
func (r *SQLiteRepository) ListIDsByGroup(ctx context.Context, groupID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM devices WHERE group_id = ? ORDER BY id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("querying group devices: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning device id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating group devices: %w", err)
	}
	return ids, nil
}

// CountByGroup returns how many devices are assigned to a group.
func (r *SQLiteRepository) CountByGroup(ctx context.Context, groupID int64) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM devices WHERE group_id = ?`, groupID).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting group devices: %w", err)
	}
	return count, nil
}

// SetGroup assigns or unassigns a device.
func (r *SQLiteRepository) SetGroup(ctx context.Context, id int64, groupID *int64) error {
	result, err := r.db.ExecContext(ctx, `UPDATE devices SET group_id = ? WHERE id = ?`, nullableID(groupID), id)
	if err != nil {
		return fmt.Errorf("updating device group: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// Create registers a new device. The device is validated first and its ID
// and Created fields are filled in on success. New devices are unassigned.
func (r *SQLiteRepository) Create(ctx context.Context, device *Device) error {
	if err := ValidateDevice(device); err != nil {
		return err
	}

	created := time.Now().UTC()
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO devices (mac_address, name, group_id, created) VALUES (?, ?, NULL, ?)`,
		device.MACAddress, device.Name, database.FormatTime(created),
	)
	if err != nil {
		if database.IsConstraintViolation(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading device id: %w", err)
	}

	device.ID = id
	device.GroupID = nil
	device.Created = created
	return nil
}

// Delete removes an unassigned device.
func (r *SQLiteRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE id = ? AND group_id IS NULL`, id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	// Nothing deleted: tell missing apart from assigned.
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return ErrDeviceAssigned
}

// queryDevices executes a query and returns the resulting devices.
func (r *SQLiteRepository) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	devices := []Device{}
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *device)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(scanner rowScanner) (*Device, error) {
	var device Device
	var groupID sql.NullInt64
	var created string

	if err := scanner.Scan(&device.ID, &device.MACAddress, &device.Name, &groupID, &created); err != nil {
		return nil, err
	}

	if groupID.Valid {
		id := groupID.Int64
		device.GroupID = &id
	}

	t, err := database.ParseTime(created)
	if err != nil {
		return nil, fmt.Errorf("parsing device created timestamp %q: %w", created, err)
	}
	device.Created = t

	return &device, nil
}

// nullableID converts an optional ID to a value SQLite stores as NULL when absent.
func nullableID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}
