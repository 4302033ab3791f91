package group

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nerrad567/ota-core/internal/policy"
)

// Outcome errors. Every error returned by Service matches one of these via errors.Is.
var (
	// ErrGroupNotFound is returned when the target group does not exist.
	ErrGroupNotFound = errors.New("group: not found")

	// ErrConflict is matched by every *ConflictError.
	ErrConflict = errors.New("group: conflict")

	// ErrInvalidPolicy is returned when a policy expression does not compile.
	// The wrapped *policy.ParseError carries the reason.
	ErrInvalidPolicy = errors.New("group: invalid policy")

	// ErrInternal wraps unexpected storage failures.
	ErrInternal = errors.New("group: internal error")
)

// Conflict rules, carried as ConflictError.Rule.
var (
	ErrDeviceMissing          = errors.New("device does not exist")
	ErrDeviceAlreadyAssigned  = errors.New("device already assigned to a group")
	ErrDeviceNotInGroup       = errors.New("device not currently assigned to this group")
	ErrPackageMissing         = errors.New("package does not exist")
	ErrGroupNotEmpty          = errors.New("group is still assigned to some devices")
	ErrConcurrentModification = errors.New("group was modified during the operation")
)

// ConflictError reports which rule a rejected mutation violated.
type ConflictError struct {
	Rule error
	// IDs are the offending device or package identifiers, ascending. May be empty.
	IDs []int64
}

func (e *ConflictError) Error() string {
	if len(e.IDs) == 0 {
		return e.Rule.Error()
	}
	ids := make([]string, len(e.IDs))
	for i, id := range e.IDs {
		ids[i] = strconv.FormatInt(id, 10)
	}
	return fmt.Sprintf("%s: %s", e.Rule, strings.Join(ids, ", "))
}

// Unwrap exposes the rule so callers can errors.Is against it.
func (e *ConflictError) Unwrap() error {
	return e.Rule
}

// Is matches ErrConflict.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

func conflict(rule error, ids ...int64) *ConflictError {
	return &ConflictError{Rule: rule, IDs: ids}
}

func invalidPolicy(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidPolicy, err)
}

// PolicyReason returns the compiler's reason when err is an invalid-policy
// outcome, and false otherwise.
func PolicyReason(err error) (string, bool) {
	var perr *policy.ParseError
	if errors.Is(err, ErrInvalidPolicy) && errors.As(err, &perr) {
		return perr.Reason, true
	}
	return "", false
}

// Outcome labels used in logs and metrics.
const (
	OutcomeSuccess       = "success"
	OutcomeNotFound      = "not_found"
	OutcomeConflict      = "conflict"
	OutcomeInvalidPolicy = "invalid_policy"
	OutcomeInternal      = "internal"
)

// Outcome classifies an error returned by Service.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrGroupNotFound):
		return OutcomeNotFound
	case errors.Is(err, ErrConflict):
		return OutcomeConflict
	case errors.Is(err, ErrInvalidPolicy):
		return OutcomeInvalidPolicy
	default:
		return OutcomeInternal
	}
}
