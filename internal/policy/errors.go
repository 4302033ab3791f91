package policy

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalid is matched by every *ParseError via errors.Is.
	ErrInvalid = errors.New("policy: invalid")

	// ErrKindExists is returned by Register when the kind name is taken.
	ErrKindExists = errors.New("policy: kind already registered")
)

// ParseError describes why a policy expression was rejected.
type ParseError struct {
	// Text is the expression that failed to compile.
	Text string
	// Reason is a human-readable explanation suitable for API responses.
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("policy: %s", e.Reason)
}

// Is reports ErrInvalid so callers can match any parse failure.
func (e *ParseError) Is(target error) bool {
	return target == ErrInvalid
}

func parseErrorf(text, format string, args ...any) *ParseError {
	return &ParseError{Text: text, Reason: fmt.Sprintf(format, args...)}
}
