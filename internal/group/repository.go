package group

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nerrad567/ota-core/internal/infrastructure/database"
)

// Repository defines persistence operations for group rows and their
// package assignment. Device membership is owned by the device repository.
type Repository interface {
	// Create inserts a group and fills in its ID.
	Create(ctx context.Context, group *Group) error
	// GetByID returns the stored group fields. Packages and Devices are not loaded.
	GetByID(ctx context.Context, id int64) (*Group, error)
	// List returns all groups ordered by ID, without Packages and Devices.
	List(ctx context.Context) ([]Group, error)
	// Delete removes a group and its package assignment.
	Delete(ctx context.Context, id int64) error

	// PackageIDs returns the package assignment in position order.
	PackageIDs(ctx context.Context, groupID int64) ([]int64, error)
	// ReplacePackages replaces the package assignment.
	ReplacePackages(ctx context.Context, groupID int64, packageIDs []int64) error
	// SetPolicy stores a policy expression verbatim.
	SetPolicy(ctx context.Context, groupID int64, text string) error

	// BumpVersion increments the version if it still equals expected.
	// Returns a concurrent modification conflict otherwise.
	BumpVersion(ctx context.Context, groupID, expected int64) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db database.DBTX
}

// NewSQLiteRepository creates a new SQLite-backed group repository.
// db may be a connection or a transaction.
//
// Example:
//
//	repo := group.NewSQLiteRepository(tx)
func NewSQLiteRepository(db database.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// WithTx returns a repository that runs its queries inside tx.
func (r *SQLiteRepository) WithTx(tx database.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: tx}
}

// Create inserts a new group.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - group: Group to persist; Created, Policy and Priority must be set
//
// Returns:
//   - error: nil on success, otherwise the underlying database error
func (r *SQLiteRepository) Create(ctx context.Context, group *Group) error {
	metadata, err := marshalMetadata(group.Metadata)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO device_groups (created, metadata, policy, priority, version) VALUES (?, ?, ?, ?, 1)`,
		database.FormatTime(group.Created), metadata, group.Policy, group.Priority,
	)
	if err != nil {
		return fmt.Errorf("inserting group: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading group id: %w", err)
	}
	group.ID = id
	group.Version = 1
	return nil
}

const selectGroup = `SELECT id, created, metadata, policy, priority, version FROM device_groups`

// GetByID returns the stored fields of a group.
//
// Returns:
//   - *Group: Group without Packages or Devices
//   - error: ErrGroupNotFound if missing, otherwise the underlying query error
func (r *SQLiteRepository) GetByID(ctx context.Context, id int64) (*Group, error) {
	row := r.db.QueryRowContext(ctx, selectGroup+` WHERE id = ?`, id)
	group, err := scanGroupRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrGroupNotFound
		}
		return nil, fmt.Errorf("querying group: %w", err)
	}
	return group, nil
}

// List retrieves all groups ordered by ID.
func (r *SQLiteRepository) List(ctx context.Context) ([]Group, error) {
	rows, err := r.db.QueryContext(ctx, selectGroup+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying groups: %w", err)
	}
	defer rows.Close()

	groups := []Group{}
	for rows.Next() {
		group, err := scanGroupRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning group: %w", err)
		}
		groups = append(groups, *group)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating groups: %w", err)
	}
	return groups, nil
}

// Delete removes a group. The package assignment is removed by ON DELETE CASCADE;
// device rows that still reference the group make the delete fail with a
// foreign key violation.
func (r *SQLiteRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM device_groups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting group: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrGroupNotFound
	}
	return nil
}

// PackageIDs returns the package assignment of a group in position order.
func (r *SQLiteRepository) PackageIDs(ctx context.Context, groupID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT package_id FROM group_packages WHERE group_id = ? ORDER BY position, package_id`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying group packages: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning package id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating group packages: %w", err)
	}
	return ids, nil
}

// ReplacePackages replaces the package assignment of a group. packageIDs
// must be free of duplicates; their order is kept as the position.
func (r *SQLiteRepository) ReplacePackages(ctx context.Context, groupID int64, packageIDs []int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM group_packages WHERE group_id = ?`, groupID); err != nil {
		return fmt.Errorf("clearing group packages: %w", err)
	}

	for i, packageID := range packageIDs {
		if _, err := r.db.ExecContext(ctx,
			`INSERT INTO group_packages (group_id, package_id, position) VALUES (?, ?, ?)`,
			groupID, packageID, i,
		); err != nil {
			return fmt.Errorf("inserting group package: %w", err)
		}
	}
	return nil
}

// SetPolicy stores a policy expression verbatim.
func (r *SQLiteRepository) SetPolicy(ctx context.Context, groupID int64, text string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE device_groups SET policy = ? WHERE id = ?`, text, groupID)
	if err != nil {
		return fmt.Errorf("updating group policy: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrGroupNotFound
	}
	return nil
}

// BumpVersion increments the group version if it still equals expected.
func (r *SQLiteRepository) BumpVersion(ctx context.Context, groupID, expected int64) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE device_groups SET version = version + 1 WHERE id = ? AND version = ?`,
		groupID, expected,
	)
	if err != nil {
		return fmt.Errorf("bumping group version: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return conflict(ErrConcurrentModification)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanGroupRow scans a group from a row scanner.
func scanGroupRow(scanner rowScanner) (*Group, error) {
	var group Group
	var created, metadata string

	if err := scanner.Scan(&group.ID, &created, &metadata, &group.Policy, &group.Priority, &group.Version); err != nil {
		return nil, err
	}

	t, err := database.ParseTime(created)
	if err != nil {
		return nil, fmt.Errorf("parsing group created timestamp %q: %w", created, err)
	}
	group.Created = t

	group.Metadata, err = database.DecodeObject(metadata)
	if err != nil {
		return nil, fmt.Errorf("unmarshalling group metadata: %w", err)
	}

	return &group, nil
}

// marshalMetadata serialises metadata for storage. nil becomes an empty object.
func marshalMetadata(metadata map[string]any) (string, error) {
	if metadata == nil {
		return "{}", nil
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("marshalling group metadata: %w", err)
	}
	return string(b), nil
}
