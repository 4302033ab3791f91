// Package policy compiles group update-policy expressions.
//
// A policy expression is a comma-separated list whose first token names a
// policy kind and whose remaining tokens are kind-specific arguments:
//
//	no_update,          devices keep whatever they run
//	exact_match,v1.2.0  devices converge to exactly version v1.2.0
//
// A single trailing comma is allowed, so "no_update," and "no_update" compile
// to the same Policy. Kinds live in a registry keyed by name; each kind
// declares its own arity and argument format, and new kinds can be added with
// Compiler.Register.
//
// Compile is pure: the same text against the same registry always yields the
// same Policy or the same *ParseError.
package policy
