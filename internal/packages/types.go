package packages

import (
	"errors"
	"time"
)

var (
	// ErrPackageNotFound is returned when a package ID does not exist.
	ErrPackageNotFound = errors.New("package: not found")

	// ErrInvalidPackage is returned when a package fails validation.
	ErrInvalidPackage = errors.New("package: invalid")

	// ErrPackageInUse is returned when deleting a package still assigned to a group.
	ErrPackageInUse = errors.New("package: assigned to a group")
)

// Package is a versioned software artifact that can be assigned to groups.
type Package struct {
	ID       int64          `json:"id"`
	Version  string         `json:"version"`
	Metadata map[string]any `json:"metadata"`
	Created  time.Time      `json:"created"`
}
