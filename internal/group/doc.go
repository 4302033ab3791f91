// Package group implements the Group Registry and the engines that mutate
// groups: membership, package assignment and policy assignment.
//
// # Consistency
//
// Every operation runs as one SQLite transaction opened with BEGIN IMMEDIATE,
// so validation and mutation happen under the database write lock and no
// caller can observe a partially applied change. Each group row also carries
// a version that is bumped on every mutation; callers that read a group
// earlier can pass IfVersion to have the mutation rejected when the group
// changed in between.
//
// # Outcomes
//
// Errors returned by Service match exactly one of ErrGroupNotFound,
// ErrConflict, ErrInvalidPolicy or ErrInternal via errors.Is. Conflicts are
// *ConflictError values naming the violated rule and the offending IDs.
// The engines never retry; a conflict is final for that call.
//
// # Side effects
//
// A successful mutation writes an audit row in the same transaction. After
// commit a change event is handed to the configured events.Sink; publish
// failures are logged and never change the outcome.
package group
