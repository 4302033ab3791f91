package packages

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nerrad567/ota-core/internal/infrastructure/database"
)

const maxVersionLength = 128

// Repository defines persistence operations for packages.
type Repository interface {
	Create(ctx context.Context, pkg *Package) error
	GetByID(ctx context.Context, id int64) (*Package, error)
	List(ctx context.Context) ([]Package, error)
	// MissingIDs returns the IDs among ids that do not exist, ascending.
	MissingIDs(ctx context.Context, ids []int64) ([]int64, error)
	Delete(ctx context.Context, id int64) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db database.DBTX
}

// NewSQLiteRepository creates a new SQLite-backed package repository.
// db may be a connection or a transaction.
func NewSQLiteRepository(db database.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// WithTx returns a repository that runs its queries inside tx.
func (r *SQLiteRepository) WithTx(tx database.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: tx}
}

// Create inserts a new package. ID and Created are set on success.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - pkg: Package to persist; Version is required
//
// Returns:
//   - error: ErrInvalidPackage on validation failure, otherwise a database error
func (r *SQLiteRepository) Create(ctx context.Context, pkg *Package) error {
	if pkg == nil {
		return fmt.Errorf("%w: package is required", ErrInvalidPackage)
	}
	pkg.Version = strings.TrimSpace(pkg.Version)
	if pkg.Version == "" || len(pkg.Version) > maxVersionLength {
		return fmt.Errorf("%w: version is required and must be at most %d characters", ErrInvalidPackage, maxVersionLength)
	}
	if pkg.Metadata == nil {
		pkg.Metadata = map[string]any{}
	}

	metadata, err := json.Marshal(pkg.Metadata)
	if err != nil {
		return fmt.Errorf("marshalling package metadata: %w", err)
	}

	created := time.Now().UTC()
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO packages (version, metadata, created) VALUES (?, ?, ?)`,
		pkg.Version, string(metadata), database.FormatTime(created),
	)
	if err != nil {
		return fmt.Errorf("inserting package: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading package id: %w", err)
	}
	pkg.ID = id
	pkg.Created = created
	return nil
}

// GetByID retrieves a package by ID.
func (r *SQLiteRepository) GetByID(ctx context.Context, id int64) (*Package, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, version, metadata, created FROM packages WHERE id = ?`, id)
	pkg, err := scanPackage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPackageNotFound
		}
		return nil, fmt.Errorf("querying package: %w", err)
	}
	return pkg, nil
}

// List returns all packages ordered by ID.
func (r *SQLiteRepository) List(ctx context.Context) ([]Package, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, version, metadata, created FROM packages ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying packages: %w", err)
	}
	defer rows.Close()

	pkgs := []Package{}
	for rows.Next() {
		pkg, err := scanPackage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning package: %w", err)
		}
		pkgs = append(pkgs, *pkg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating packages: %w", err)
	}
	return pkgs, nil
}

// MissingIDs returns the IDs among ids that have no package row.
func (r *SQLiteRepository) MissingIDs(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	found := make(map[int64]struct{}, len(ids))
	for _, chunk := range database.ChunkIDs(ids, database.MaxInClauseIDs) {
		if err := r.collectIDs(ctx, chunk, found); err != nil {
			return nil, err
		}
	}

	var missing []int64
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := found[id]; ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		missing = append(missing, id)
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	return missing, nil
}

// collectIDs adds the IDs among chunk that have a package row to found.
func (r *SQLiteRepository) collectIDs(ctx context.Context, chunk []int64, found map[int64]struct{}) error {
	placeholders, args := database.InClause(chunk)
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM packages WHERE id IN (`+placeholders+`)`, args...) //nolint:gosec // placeholders only
	if err != nil {
		return fmt.Errorf("querying package ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("scanning package id: %w", err)
		}
		found[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating package ids: %w", err)
	}
	return nil
}

// Delete removes a package that is not assigned to any group.
func (r *SQLiteRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM packages WHERE id = ?`, id)
	if err != nil {
		if database.IsConstraintViolation(err) {
			return ErrPackageInUse
		}
		return fmt.Errorf("deleting package: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrPackageNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPackage(scanner rowScanner) (*Package, error) {
	var pkg Package
	var metadata, created string

	if err := scanner.Scan(&pkg.ID, &pkg.Version, &metadata, &created); err != nil {
		return nil, err
	}

	decoded, err := database.DecodeObject(metadata)
	if err != nil {
		return nil, fmt.Errorf("unmarshalling package metadata: %w", err)
	}
	pkg.Metadata = decoded

	t, err := database.ParseTime(created)
	if err != nil {
		return nil, fmt.Errorf("parsing package created timestamp %q: %w", created, err)
	}
	pkg.Created = t

	return &pkg, nil
}
