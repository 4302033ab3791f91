package policy

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

const (
	maxExpressionLength = 1024
	maxVersionLength    = 128
)

var versionRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._+~-]*$`)

// Compiler turns policy expressions into Policy values using a registry of kinds.
//
// All methods are safe for concurrent use.
type Compiler struct {
	mu    sync.RWMutex
	kinds map[Kind]KindSpec
}

// NewCompiler returns a Compiler with the built-in kinds registered.
func NewCompiler() *Compiler {
	c := &Compiler{kinds: make(map[Kind]KindSpec)}
	for _, spec := range builtinKinds() {
		c.kinds[spec.Name] = spec
	}
	return c
}

func builtinKinds() []KindSpec {
	return []KindSpec{
		{Name: KindNoUpdate, MinArgs: 0, MaxArgs: 0},
		{Name: KindExactMatch, MinArgs: 1, MaxArgs: 1, Validate: validateVersionArg},
	}
}

// validateVersionArg accepts one version identifier such as "v1", "1.2.3-rc1".
func validateVersionArg(args []string) error {
	version := args[0]
	if len(version) > maxVersionLength {
		return fmt.Errorf("version exceeds %d characters", maxVersionLength)
	}
	if !versionRegex.MatchString(version) {
		return fmt.Errorf("malformed version %q", version)
	}
	return nil
}

// Register adds a policy kind.
//
// Returns ErrKindExists if the name is already registered, or an error if
// the KindSpec is malformed.
func (c *Compiler) Register(spec KindSpec) error {
	if spec.Name == "" || strings.ContainsAny(string(spec.Name), ", \t") {
		return fmt.Errorf("policy: invalid kind name %q", spec.Name)
	}
	if spec.MinArgs < 0 || (spec.MaxArgs >= 0 && spec.MaxArgs < spec.MinArgs) {
		return fmt.Errorf("policy: invalid arity %d..%d for kind %q", spec.MinArgs, spec.MaxArgs, spec.Name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.kinds[spec.Name]; ok {
		return fmt.Errorf("%w: %s", ErrKindExists, spec.Name)
	}
	c.kinds[spec.Name] = spec
	return nil
}

// Kinds returns the registered kind names in sorted order.
func (c *Compiler) Kinds() []Kind {
	c.mu.RLock()
	defer c.mu.RUnlock()

	kinds := make([]Kind, 0, len(c.kinds))
	for k := range c.kinds {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Compile parses and validates a policy expression.
//
// Parameters:
//   - text: Expression such as "exact_match,v1"
//
// Returns:
//   - Policy: The compiled policy
//   - error: *ParseError (matches ErrInvalid) describing the first problem found
//
// Example:
//
//	p, err := compiler.Compile("exact_match,v1")
//	// p.Kind == policy.KindExactMatch, p.Args == []string{"v1"}
func (c *Compiler) Compile(text string) (Policy, error) {
	tokens, perr := tokenize(text)
	if perr != nil {
		return Policy{}, perr
	}

	kind := Kind(tokens[0])
	args := tokens[1:]

	c.mu.RLock()
	spec, ok := c.kinds[kind]
	c.mu.RUnlock()
	if !ok {
		return Policy{}, parseErrorf(text, "unknown policy kind %q", kind)
	}

	if len(args) < spec.MinArgs || (spec.MaxArgs >= 0 && len(args) > spec.MaxArgs) {
		return Policy{}, parseErrorf(text, "policy %q expects %s, got %d", kind, describeArity(spec), len(args))
	}

	if spec.Validate != nil {
		if err := spec.Validate(args); err != nil {
			return Policy{}, parseErrorf(text, "policy %q: %v", kind, err)
		}
	}

	compiled := Policy{Kind: kind, Args: make([]string, len(args))}
	copy(compiled.Args, args)
	return compiled, nil
}

// tokenize splits an expression into kind and argument tokens.
// One trailing empty token (from a trailing comma) is dropped; any other
// empty token is an error.
func tokenize(text string) ([]string, *ParseError) {
	if len(text) > maxExpressionLength {
		return nil, parseErrorf(text, "policy exceeds %d characters", maxExpressionLength)
	}
	if strings.TrimSpace(text) == "" {
		return nil, parseErrorf(text, "policy is empty")
	}

	tokens := strings.Split(text, ",")
	for i := range tokens {
		tokens[i] = strings.TrimSpace(tokens[i])
	}
	if len(tokens) > 1 && tokens[len(tokens)-1] == "" {
		tokens = tokens[:len(tokens)-1]
	}

	if tokens[0] == "" {
		return nil, parseErrorf(text, "policy kind is missing")
	}
	for i, tok := range tokens[1:] {
		if tok == "" {
			return nil, parseErrorf(text, "argument %d is empty", i+1)
		}
	}

	return tokens, nil
}

func describeArity(spec KindSpec) string {
	plural := func(n int) string {
		if n == 1 {
			return "1 argument"
		}
		return fmt.Sprintf("%d arguments", n)
	}

	switch {
	case spec.MaxArgs < 0:
		return "at least " + plural(spec.MinArgs)
	case spec.MinArgs == spec.MaxArgs:
		return plural(spec.MinArgs)
	default:
		return fmt.Sprintf("%d to %d arguments", spec.MinArgs, spec.MaxArgs)
	}
}

var defaultCompiler = NewCompiler()

// Compile compiles text with a Compiler holding only the built-in kinds.
func Compile(text string) (Policy, error) {
	return defaultCompiler.Compile(text)
}
