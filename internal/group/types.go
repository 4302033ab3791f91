package group

import "time"

// DefaultPriority is assigned to new groups. Priority is stored and returned
// but no operation in this package interprets it.
const DefaultPriority = 25

// Group is a collection of devices sharing a package assignment and update policy.
type Group struct {
	ID       int64          `json:"id"`
	Created  time.Time      `json:"created"`
	Metadata map[string]any `json:"metadata"`
	Policy   string         `json:"policy"`
	Priority int            `json:"priority"`

	// Packages is the ordered package assignment.
	Packages []int64 `json:"packages"`

	// Devices is derived from device rows on every read, never stored on the group.
	Devices []int64 `json:"devices"`

	// Version increases with every committed mutation.
	Version int64 `json:"version"`
}

// MutationOption adjusts a single engine call.
type MutationOption func(*mutationOptions)

type mutationOptions struct {
	expectedVersion int64
	source          string
}

// IfVersion rejects the mutation with ErrConcurrentModification unless the
// group is still at version v when the transaction starts.
func IfVersion(v int64) MutationOption {
	return func(o *mutationOptions) {
		o.expectedVersion = v
	}
}

// WithSource records who requested the change in the audit trail
// (default "api").
func WithSource(source string) MutationOption {
	return func(o *mutationOptions) {
		if source != "" {
			o.source = source
		}
	}
}

func buildOptions(opts []MutationOption) mutationOptions {
	o := mutationOptions{source: "api"}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
