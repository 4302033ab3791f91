package group

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/nerrad567/ota-core/internal/audit"
	"github.com/nerrad567/ota-core/internal/device"
	"github.com/nerrad567/ota-core/internal/events"
	"github.com/nerrad567/ota-core/internal/infrastructure/database"
	"github.com/nerrad567/ota-core/internal/packages"
	"github.com/nerrad567/ota-core/internal/policy"
)

// Operation names used in logs and metrics.
const (
	OpCreate        = "create"
	OpGet           = "get"
	OpList          = "list"
	OpDelete        = "delete"
	OpSetMembership = "set_membership"
	OpSetPackages   = "set_packages"
	OpSetPolicy     = "set_policy"
)

// Logger is the logging interface used by Service.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Recorder receives one observation per Service call.
type Recorder interface {
	ObserveOperation(op, outcome string, elapsed time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) ObserveOperation(string, string, time.Duration) {}

// Deps holds the collaborators of a Service. Only DB is required.
type Deps struct {
	DB *database.DB

	// Compiler validates policy text. Defaults to a compiler with the built-in kinds.
	Compiler *policy.Compiler

	// Sink receives an event after every committed mutation.
	Sink events.Sink

	Metrics Recorder
	Logger  Logger

	// Now returns the creation timestamp for new groups. Defaults to time.Now.
	Now func() time.Time
}

// Service implements the Group Registry and the membership, package
// assignment and policy assignment engines.
//
// Each call runs in exactly one transaction that takes the database write
// lock up front, validates against the state it reads there and either
// applies every change or none. Every committed mutation increments the
// group version. Calls are never retried; a Conflict is final for that call.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Service struct {
	db       *database.DB
	groups   *SQLiteRepository
	devices  *device.SQLiteRepository
	packages *packages.SQLiteRepository
	audit    *audit.SQLiteRepository

	compiler *policy.Compiler
	sink     events.Sink
	metrics  Recorder
	logger   Logger
	now      func() time.Time
}

// NewService creates a Service from deps.
func NewService(deps Deps) *Service {
	s := &Service{
		db:       deps.DB,
		groups:   NewSQLiteRepository(deps.DB),
		devices:  device.NewSQLiteRepository(deps.DB),
		packages: packages.NewSQLiteRepository(deps.DB),
		audit:    audit.NewSQLiteRepository(deps.DB),
		compiler: deps.Compiler,
		sink:     deps.Sink,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		now:      deps.Now,
	}
	if s.compiler == nil {
		s.compiler = policy.NewCompiler()
	}
	if s.sink == nil {
		s.sink = events.Discard
	}
	if s.metrics == nil {
		s.metrics = noopRecorder{}
	}
	if s.logger == nil {
		s.logger = noopLogger{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	s.logger = logger
}

// txRepos are the repositories bound to one transaction.
type txRepos struct {
	groups   *SQLiteRepository
	devices  *device.SQLiteRepository
	packages *packages.SQLiteRepository
	audit    *audit.SQLiteRepository
}

// inTx runs fn inside a transaction with repositories bound to it.
func (s *Service) inTx(ctx context.Context, fn func(r txRepos) error) error {
	return database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		return fn(txRepos{
			groups:   s.groups.WithTx(tx),
			devices:  s.devices.WithTx(tx),
			packages: s.packages.WithTx(tx),
			audit:    s.audit.WithTx(tx),
		})
	})
}

// Create registers a new group with the default policy and priority and no
// packages or devices. metadata is stored verbatim; nil becomes an empty object.
func (s *Service) Create(ctx context.Context, metadata map[string]any, opts ...MutationOption) (_ *Group, err error) {
	start := time.Now()
	defer func() { err = s.finish(OpCreate, start, err) }()

	o := buildOptions(opts)
	if metadata == nil {
		metadata = map[string]any{}
	}
	g := &Group{
		Created:  s.now().UTC(),
		Metadata: metadata,
		Policy:   policy.Default,
		Priority: DefaultPriority,
		Packages: []int64{},
		Devices:  []int64{},
	}

	err = s.inTx(ctx, func(r txRepos) error {
		if err := r.groups.Create(ctx, g); err != nil {
			return err
		}
		return r.record(ctx, audit.ActionGroupCreate, g.ID, o.source, map[string]any{
			"metadata": metadata,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("group created", "group_id", g.ID, "source", o.source)
	s.publish(ctx, events.GroupCreated, g, nil, nil)
	return g, nil
}

// Get returns a group with its current packages and devices.
func (s *Service) Get(ctx context.Context, id int64) (_ *Group, err error) {
	start := time.Now()
	defer func() { err = s.finish(OpGet, start, err) }()

	var g *Group
	err = s.inTx(ctx, func(r txRepos) error {
		found, err := r.groups.GetByID(ctx, id)
		if err != nil {
			return err
		}
		g = found
		return r.loadState(ctx, g)
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

// List returns every group with its current packages and devices, ordered by ID.
func (s *Service) List(ctx context.Context) (_ []Group, err error) {
	start := time.Now()
	defer func() { err = s.finish(OpList, start, err) }()

	var groups []Group
	err = s.inTx(ctx, func(r txRepos) error {
		found, err := r.groups.List(ctx)
		if err != nil {
			return err
		}
		groups = found
		for i := range groups {
			if err := r.loadState(ctx, &groups[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return groups, nil
}

// Delete removes a group. It fails with ErrGroupNotEmpty while any device
// is still assigned to the group.
func (s *Service) Delete(ctx context.Context, id int64, opts ...MutationOption) (err error) {
	start := time.Now()
	defer func() { err = s.finish(OpDelete, start, err) }()

	o := buildOptions(opts)
	var g *Group
	err = s.inTx(ctx, func(r txRepos) error {
		found, err := r.groups.GetByID(ctx, id)
		if err != nil {
			return err
		}
		g = found
		if err := o.checkVersion(g); err != nil {
			return err
		}

		members, err := r.devices.ListIDsByGroup(ctx, id)
		if err != nil {
			return err
		}
		if len(members) > 0 {
			return conflict(ErrGroupNotEmpty, members...)
		}

		if err := r.groups.Delete(ctx, id); err != nil {
			return err
		}
		return r.record(ctx, audit.ActionGroupDelete, id, o.source, map[string]any{
			"version": g.Version,
		})
	})
	if err != nil {
		return err
	}

	s.logger.Info("group deleted", "group_id", id, "source", o.source)
	deleted := &Group{ID: id, Packages: []int64{}, Devices: []int64{}}
	s.publish(ctx, events.GroupDeleted, deleted, nil, nil)
	return nil
}

// SetMembership adds and removes devices in one atomic step.
//
// Every device in add must exist and be unassigned; re-adding a device that
// already belongs to this group is a conflict too. Every device in remove
// must exist and belong to this group. If any check fails nothing changes.
// Additions are applied before removals. Duplicate IDs are ignored.
//
// Returns the group as it is after the change.
func (s *Service) SetMembership(ctx context.Context, id int64, add, remove []int64, opts ...MutationOption) (_ *Group, err error) {
	start := time.Now()
	defer func() { err = s.finish(OpSetMembership, start, err) }()

	o := buildOptions(opts)
	add = uniqueSorted(add)
	remove = uniqueSorted(remove)

	var g *Group
	err = s.inTx(ctx, func(r txRepos) error {
		found, err := r.groups.GetByID(ctx, id)
		if err != nil {
			return err
		}
		g = found
		if err := o.checkVersion(g); err != nil {
			return err
		}
		if len(add) == 0 && len(remove) == 0 {
			return r.loadState(ctx, g)
		}

		if err := r.checkMembership(ctx, id, add, remove); err != nil {
			return err
		}

		for _, deviceID := range add {
			if err := r.devices.SetGroup(ctx, deviceID, &id); err != nil {
				return err
			}
		}
		for _, deviceID := range remove {
			if err := r.devices.SetGroup(ctx, deviceID, nil); err != nil {
				return err
			}
		}

		if err := r.bump(ctx, g); err != nil {
			return err
		}
		if err := r.record(ctx, audit.ActionGroupDevices, id, o.source, map[string]any{
			"added":   add,
			"removed": remove,
			"version": g.Version,
		}); err != nil {
			return err
		}
		return r.loadState(ctx, g)
	})
	if err != nil {
		return nil, err
	}

	if len(add) > 0 || len(remove) > 0 {
		s.logger.Info("group membership changed",
			"group_id", id,
			"added", len(add),
			"removed", len(remove),
			"source", o.source,
		)
		s.publish(ctx, events.MembershipChanged, g, add, remove)
	}
	return g, nil
}

// checkMembership validates a membership change against the current device rows.
func (r txRepos) checkMembership(ctx context.Context, groupID int64, add, remove []int64) error {
	found, err := r.devices.GetMany(ctx, uniqueSorted(append(slices.Clone(add), remove...)))
	if err != nil {
		return err
	}

	var missing, assigned, notMember []int64
	for _, deviceID := range add {
		d, ok := found[deviceID]
		switch {
		case !ok:
			missing = append(missing, deviceID)
		case d.Assigned():
			assigned = append(assigned, deviceID)
		}
	}
	for _, deviceID := range remove {
		d, ok := found[deviceID]
		switch {
		case !ok:
			missing = append(missing, deviceID)
		case !d.InGroup(groupID):
			notMember = append(notMember, deviceID)
		}
	}

	switch {
	case len(missing) > 0:
		return conflict(ErrDeviceMissing, uniqueSorted(missing)...)
	case len(assigned) > 0:
		return conflict(ErrDeviceAlreadyAssigned, assigned...)
	case len(notMember) > 0:
		return conflict(ErrDeviceNotInGroup, notMember...)
	}
	return nil
}

// SetPackages replaces the package assignment of a group. Every package must
// exist. The order of pkgs is kept; repeated IDs keep their first position.
//
// Returns the group as it is after the change.
func (s *Service) SetPackages(ctx context.Context, id int64, pkgs []int64, opts ...MutationOption) (_ *Group, err error) {
	start := time.Now()
	defer func() { err = s.finish(OpSetPackages, start, err) }()

	o := buildOptions(opts)
	pkgs = uniqueOrdered(pkgs)

	var g *Group
	err = s.inTx(ctx, func(r txRepos) error {
		found, err := r.groups.GetByID(ctx, id)
		if err != nil {
			return err
		}
		g = found
		if err := o.checkVersion(g); err != nil {
			return err
		}

		missing, err := r.packages.MissingIDs(ctx, pkgs)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			return conflict(ErrPackageMissing, missing...)
		}

		if err := r.groups.ReplacePackages(ctx, id, pkgs); err != nil {
			return err
		}
		if err := r.bump(ctx, g); err != nil {
			return err
		}
		if err := r.record(ctx, audit.ActionGroupPackages, id, o.source, map[string]any{
			"packages": pkgs,
			"version":  g.Version,
		}); err != nil {
			return err
		}
		return r.loadState(ctx, g)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("group packages replaced", "group_id", id, "packages", len(pkgs), "source", o.source)
	s.publish(ctx, events.PackagesChanged, g, nil, nil)
	return g, nil
}

// SetPolicy compiles text and stores it unchanged as the group's policy.
// A group that does not exist is reported before a policy that does not compile.
//
// Returns the group as it is after the change.
func (s *Service) SetPolicy(ctx context.Context, id int64, text string, opts ...MutationOption) (_ *Group, err error) {
	start := time.Now()
	defer func() { err = s.finish(OpSetPolicy, start, err) }()

	o := buildOptions(opts)

	var g *Group
	err = s.inTx(ctx, func(r txRepos) error {
		found, err := r.groups.GetByID(ctx, id)
		if err != nil {
			return err
		}
		g = found
		if err := o.checkVersion(g); err != nil {
			return err
		}

		compiled, err := s.compiler.Compile(text)
		if err != nil {
			return invalidPolicy(err)
		}

		previous := g.Policy
		if err := r.groups.SetPolicy(ctx, id, text); err != nil {
			return err
		}
		g.Policy = text
		if err := r.bump(ctx, g); err != nil {
			return err
		}
		if err := r.record(ctx, audit.ActionGroupPolicy, id, o.source, map[string]any{
			"policy":   text,
			"previous": previous,
			"kind":     string(compiled.Kind),
			"version":  g.Version,
		}); err != nil {
			return err
		}
		return r.loadState(ctx, g)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("group policy changed", "group_id", id, "policy", text, "source", o.source)
	s.publish(ctx, events.PolicyChanged, g, nil, nil)
	return g, nil
}

// checkVersion enforces IfVersion.
func (o mutationOptions) checkVersion(g *Group) error {
	if o.expectedVersion != 0 && g.Version != o.expectedVersion {
		return conflict(ErrConcurrentModification)
	}
	return nil
}

// loadState fills in the current packages and devices of g.
func (r txRepos) loadState(ctx context.Context, g *Group) error {
	pkgs, err := r.groups.PackageIDs(ctx, g.ID)
	if err != nil {
		return err
	}
	members, err := r.devices.ListIDsByGroup(ctx, g.ID)
	if err != nil {
		return err
	}
	g.Packages = pkgs
	g.Devices = members
	return nil
}

// bump increments the stored version, failing if it moved since g was read.
func (r txRepos) bump(ctx context.Context, g *Group) error {
	if err := r.groups.BumpVersion(ctx, g.ID, g.Version); err != nil {
		return err
	}
	g.Version++
	return nil
}

func (r txRepos) record(ctx context.Context, action string, groupID int64, source string, details map[string]any) error {
	return r.audit.Create(ctx, &audit.AuditLog{
		Action:     action,
		EntityType: audit.EntityGroup,
		EntityID:   strconv.FormatInt(groupID, 10),
		Source:     source,
		Details:    details,
	})
}

// publish hands a committed change to the sink. The change is already
// durable, so failures are logged and not returned.
func (s *Service) publish(ctx context.Context, typ events.Type, g *Group, added, removed []int64) {
	event := events.GroupEvent{
		Type:      typ,
		GroupID:   g.ID,
		Version:   g.Version,
		Policy:    g.Policy,
		Packages:  g.Packages,
		Devices:   g.Devices,
		Added:     added,
		Removed:   removed,
		Timestamp: s.now().UTC(),
	}
	if err := s.sink.Publish(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Warn("failed to publish group event",
			"group_id", g.ID,
			"event", string(typ),
			"error", err,
		)
	}
}

// finish maps err to an outcome error, records metrics and logs failures.
func (s *Service) finish(op string, start time.Time, err error) error {
	err = classify(err)
	outcome := Outcome(err)
	s.metrics.ObserveOperation(op, outcome, time.Since(start))

	switch outcome {
	case OutcomeSuccess:
	case OutcomeInternal:
		s.logger.Error("group operation failed", "op", op, "error", err)
	default:
		s.logger.Debug("group operation rejected", "op", op, "outcome", outcome, "error", err)
	}
	return err
}

// classify collapses err into one of the outcome errors.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrGroupNotFound),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrInvalidPolicy):
		return err
	case database.IsBusy(err):
		return conflict(ErrConcurrentModification)
	default:
		return fmt.Errorf("%w: %w", ErrInternal, err)
	}
}

// uniqueSorted returns ids ascending without duplicates.
func uniqueSorted(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

// uniqueOrdered drops repeated ids, keeping the first occurrence of each.
func uniqueOrdered(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
