package policy

import "strings"

// Kind names a policy strategy, e.g. "exact_match".
type Kind string

// Built-in policy kinds.
const (
	// KindNoUpdate keeps devices on whatever version they currently run.
	KindNoUpdate Kind = "no_update"
	// KindExactMatch converges devices to exactly one version.
	KindExactMatch Kind = "exact_match"
)

// Default is the expression assigned to newly created groups.
const Default = "no_update,"

// Policy is a compiled policy expression.
type Policy struct {
	Kind Kind     `json:"kind"`
	Args []string `json:"args"`
}

// String renders the policy in canonical form (kind followed by its
// arguments, always with a separating comma).
func (p Policy) String() string {
	return string(p.Kind) + "," + strings.Join(p.Args, ",")
}

// TargetVersion returns the version an exact_match policy pins devices to.
func (p Policy) TargetVersion() (string, bool) {
	if p.Kind != KindExactMatch || len(p.Args) != 1 {
		return "", false
	}
	return p.Args[0], true
}

// KindSpec declares a policy kind and how its arguments are checked.
type KindSpec struct {
	// Name is the token that selects this kind.
	Name Kind
	// MinArgs and MaxArgs bound the argument count. MaxArgs < 0 means unbounded.
	MinArgs int
	MaxArgs int
	// Validate checks the arguments once arity has been verified. Optional.
	// The returned error message becomes the ParseError reason.
	Validate func(args []string) error
}
