package group

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/ota-core/internal/audit"
	"github.com/nerrad567/ota-core/internal/device"
	"github.com/nerrad567/ota-core/internal/events"
	"github.com/nerrad567/ota-core/internal/infrastructure/database"
	"github.com/nerrad567/ota-core/internal/infrastructure/database/dbtest"
	"github.com/nerrad567/ota-core/internal/packages"
)

var fixedNow = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

type recordingSink struct {
	mu     sync.Mutex
	events []events.GroupEvent
	err    error
}

func (s *recordingSink) Publish(_ context.Context, event events.GroupEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func (s *recordingSink) types() []events.Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]events.Type, len(s.events))
	for i, e := range s.events {
		types[i] = e.Type
	}
	return types
}

type observation struct {
	op, outcome string
}

type recordingMetrics struct {
	mu  sync.Mutex
	obs []observation
}

func (m *recordingMetrics) ObserveOperation(op, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.obs = append(m.obs, observation{op, outcome})
}

type fixture struct {
	svc     *Service
	db      *database.DB
	sink    *recordingSink
	metrics *recordingMetrics
}

func setupService(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.Open(t)
	f := &fixture{db: db, sink: &recordingSink{}, metrics: &recordingMetrics{}}
	f.svc = NewService(Deps{
		DB:      db,
		Sink:    f.sink,
		Metrics: f.metrics,
		Now:     func() time.Time { return fixedNow },
	})
	return f
}

func (f *fixture) createGroup(t *testing.T) *Group {
	t.Helper()
	g, err := f.svc.Create(context.Background(), map[string]any{"name": "g"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return g
}

// createDevices registers n unassigned devices and returns their IDs.
func (f *fixture) createDevices(t *testing.T, n int) []int64 {
	t.Helper()
	repo := device.NewSQLiteRepository(f.db)
	ids := make([]int64, n)
	for i := range ids {
		d := &device.Device{MACAddress: fmt.Sprintf("02:00:00:00:%02x:%02x", i/256, i%256), Name: fmt.Sprintf("dev-%d", i)}
		if err := repo.Create(context.Background(), d); err != nil {
			t.Fatalf("creating device: %v", err)
		}
		ids[i] = d.ID
	}
	return ids
}

func (f *fixture) createPackages(t *testing.T, n int) []int64 {
	t.Helper()
	repo := packages.NewSQLiteRepository(f.db)
	ids := make([]int64, n)
	for i := range ids {
		p := &packages.Package{Version: fmt.Sprintf("1.0.%d", i)}
		if err := repo.Create(context.Background(), p); err != nil {
			t.Fatalf("creating package: %v", err)
		}
		ids[i] = p.ID
	}
	return ids
}

func (f *fixture) deviceGroup(t *testing.T, id int64) *int64 {
	t.Helper()
	d, err := device.NewSQLiteRepository(f.db).GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID(%d) error = %v", id, err)
	}
	return d.GroupID
}

func (f *fixture) get(t *testing.T, id int64) *Group {
	t.Helper()
	g, err := f.svc.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%d) error = %v", id, err)
	}
	return g
}

// assertConflict checks err is a conflict for rule with the given IDs.
func assertConflict(t *testing.T, err error, rule error, ids ...int64) {
	t.Helper()
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("error = %v, want conflict", err)
	}
	if !errors.Is(err, rule) {
		t.Fatalf("error = %v, want rule %v", err, rule)
	}
	var cerr *ConflictError
	if !errors.As(err, &cerr) {
		t.Fatalf("error %v is not a *ConflictError", err)
	}
	if len(ids) > 0 && !reflect.DeepEqual(cerr.IDs, ids) {
		t.Errorf("conflict IDs = %v, want %v", cerr.IDs, ids)
	}
}

func TestCreate(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	metadata := map[string]any{"description": "A test group"}
	g, err := f.svc.Create(ctx, metadata)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if g.ID == 0 {
		t.Error("ID should be assigned")
	}
	if g.Policy != "no_update," {
		t.Errorf("Policy = %q, want %q", g.Policy, "no_update,")
	}
	if g.Priority != 25 {
		t.Errorf("Priority = %d, want 25", g.Priority)
	}
	if g.Version != 1 {
		t.Errorf("Version = %d, want 1", g.Version)
	}
	if !g.Created.Equal(fixedNow) {
		t.Errorf("Created = %v, want %v", g.Created, fixedNow)
	}

	got := f.get(t, g.ID)
	if !reflect.DeepEqual(got.Metadata, metadata) {
		t.Errorf("Metadata = %v, want %v", got.Metadata, metadata)
	}
	if len(got.Packages) != 0 || len(got.Devices) != 0 {
		t.Errorf("Packages = %v, Devices = %v, want both empty", got.Packages, got.Devices)
	}
	if got.Packages == nil || got.Devices == nil {
		t.Error("Packages and Devices should be empty slices, not nil")
	}
	if !got.Created.Equal(fixedNow) || got.Policy != "no_update," || got.Priority != 25 {
		t.Errorf("stored group = %+v", got)
	}
}

func TestCreate_NilMetadata(t *testing.T) {
	f := setupService(t)

	g, err := f.svc.Create(context.Background(), nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	got := f.get(t, g.ID)
	if got.Metadata == nil || len(got.Metadata) != 0 {
		t.Errorf("Metadata = %v, want empty map", got.Metadata)
	}
}

func TestCreate_LargeIntegerMetadata(t *testing.T) {
	f := setupService(t)

	metadata := map[string]any{
		"n":     json.Number("9007199254740993"),
		"ratio": json.Number("0.25"),
		"tags":  []any{json.Number("18446744073709551615")},
	}
	g, err := f.svc.Create(context.Background(), metadata)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got := f.get(t, g.ID)
	if !reflect.DeepEqual(got.Metadata, metadata) {
		t.Errorf("Metadata = %#v, want %#v", got.Metadata, metadata)
	}
}

func TestGet_NotFound(t *testing.T) {
	f := setupService(t)

	_, err := f.svc.Get(context.Background(), 404)
	if !errors.Is(err, ErrGroupNotFound) {
		t.Fatalf("Get() error = %v, want ErrGroupNotFound", err)
	}
	if Outcome(err) != OutcomeNotFound {
		t.Errorf("Outcome = %s", Outcome(err))
	}
}

func TestList(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	empty, err := f.svc.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("List() = %v, want empty", empty)
	}

	g1 := f.createGroup(t)
	g2 := f.createGroup(t)
	devs := f.createDevices(t, 2)
	if _, err := f.svc.SetMembership(ctx, g2.ID, devs, nil); err != nil {
		t.Fatalf("SetMembership() error = %v", err)
	}

	groups, err := f.svc.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(groups) != 2 || groups[0].ID != g1.ID || groups[1].ID != g2.ID {
		t.Fatalf("List() = %+v", groups)
	}
	if len(groups[0].Devices) != 0 || !reflect.DeepEqual(groups[1].Devices, devs) {
		t.Errorf("devices = %v / %v", groups[0].Devices, groups[1].Devices)
	}
}

func TestSetMembership_AddThenRemove(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	g := f.createGroup(t)
	devs := f.createDevices(t, 3)

	got, err := f.svc.SetMembership(ctx, g.ID, devs, nil)
	if err != nil {
		t.Fatalf("SetMembership(add) error = %v", err)
	}
	if !reflect.DeepEqual(got.Devices, devs) {
		t.Errorf("Devices = %v, want %v", got.Devices, devs)
	}
	if got.Version != 2 {
		t.Errorf("Version = %d, want 2", got.Version)
	}

	got, err = f.svc.SetMembership(ctx, g.ID, nil, []int64{devs[1]})
	if err != nil {
		t.Fatalf("SetMembership(remove) error = %v", err)
	}
	want := []int64{devs[0], devs[2]}
	if !reflect.DeepEqual(got.Devices, want) {
		t.Errorf("Devices = %v, want %v", got.Devices, want)
	}
	if f.deviceGroup(t, devs[1]) != nil {
		t.Error("removed device should be unassigned")
	}
	if gid := f.deviceGroup(t, devs[0]); gid == nil || *gid != g.ID {
		t.Errorf("device %d group = %v, want %d", devs[0], gid, g.ID)
	}
}

func TestSetMembership_AddAndRemoveTogether(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	g := f.createGroup(t)
	devs := f.createDevices(t, 3)

	if _, err := f.svc.SetMembership(ctx, g.ID, []int64{devs[0]}, nil); err != nil {
		t.Fatalf("SetMembership() error = %v", err)
	}

	got, err := f.svc.SetMembership(ctx, g.ID, []int64{devs[1], devs[2]}, []int64{devs[0]})
	if err != nil {
		t.Fatalf("SetMembership() error = %v", err)
	}
	want := []int64{devs[1], devs[2]}
	if !reflect.DeepEqual(got.Devices, want) {
		t.Errorf("Devices = %v, want %v", got.Devices, want)
	}
}

func TestSetMembership_FailedRemovalLeavesAdditionsUnapplied(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	g := f.createGroup(t)
	devs := f.createDevices(t, 3)

	_, err := f.svc.SetMembership(ctx, g.ID, []int64{devs[0], devs[1]}, []int64{devs[2]})
	assertConflict(t, err, ErrDeviceNotInGroup, devs[2])

	for _, id := range devs {
		if gid := f.deviceGroup(t, id); gid != nil {
			t.Errorf("device %d group = %d, want unassigned", id, *gid)
		}
	}
	if got := f.get(t, g.ID); got.Version != 1 {
		t.Errorf("Version = %d, want 1", got.Version)
	}
}

func TestSetMembership_ReAddIsConflict(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	g := f.createGroup(t)
	devs := f.createDevices(t, 1)

	if _, err := f.svc.SetMembership(ctx, g.ID, devs, nil); err != nil {
		t.Fatalf("first SetMembership() error = %v", err)
	}
	_, err := f.svc.SetMembership(ctx, g.ID, devs, nil)
	assertConflict(t, err, ErrDeviceAlreadyAssigned, devs[0])
}

func TestSetMembership_AssignedElsewhere(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	g1 := f.createGroup(t)
	g2 := f.createGroup(t)
	devs := f.createDevices(t, 2)

	if _, err := f.svc.SetMembership(ctx, g1.ID, []int64{devs[0]}, nil); err != nil {
		t.Fatalf("SetMembership() error = %v", err)
	}

	_, err := f.svc.SetMembership(ctx, g2.ID, devs, nil)
	assertConflict(t, err, ErrDeviceAlreadyAssigned, devs[0])
	if f.deviceGroup(t, devs[1]) != nil {
		t.Error("second device should stay unassigned")
	}

	// Removing a device through the wrong group is rejected too.
	_, err = f.svc.SetMembership(ctx, g2.ID, nil, []int64{devs[0]})
	assertConflict(t, err, ErrDeviceNotInGroup, devs[0])
	if gid := f.deviceGroup(t, devs[0]); gid == nil || *gid != g1.ID {
		t.Errorf("device group = %v, want %d", gid, g1.ID)
	}
}

func TestSetMembership_MissingDevice(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	g := f.createGroup(t)
	devs := f.createDevices(t, 1)

	_, err := f.svc.SetMembership(ctx, g.ID, []int64{devs[0], 999}, []int64{998})
	assertConflict(t, err, ErrDeviceMissing, 998, 999)
	if errors.Is(err, ErrGroupNotFound) {
		t.Error("missing device must not be reported as missing group")
	}
	if f.deviceGroup(t, devs[0]) != nil {
		t.Error("device should stay unassigned")
	}
}

func TestSetMembership_ManyMissingDevices(t *testing.T) {
	f := setupService(t)
	g := f.createGroup(t)

	ids := make([]int64, 40000)
	for i := range ids {
		ids[i] = int64(1_000_000 + i)
	}

	_, err := f.svc.SetMembership(context.Background(), g.ID, ids, nil)
	assertConflict(t, err, ErrDeviceMissing, ids...)
	if got := f.get(t, g.ID); got.Version != 1 {
		t.Errorf("version = %d, want 1", got.Version)
	}
}

func TestSetMembership_GroupNotFound(t *testing.T) {
	f := setupService(t)
	devs := f.createDevices(t, 1)

	_, err := f.svc.SetMembership(context.Background(), 404, devs, nil)
	if !errors.Is(err, ErrGroupNotFound) {
		t.Fatalf("error = %v, want ErrGroupNotFound", err)
	}
}

func TestSetMembership_SameDeviceInBothSets(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	g := f.createGroup(t)
	devs := f.createDevices(t, 2)

	// Unassigned: the removal fails.
	_, err := f.svc.SetMembership(ctx, g.ID, []int64{devs[0]}, []int64{devs[0]})
	assertConflict(t, err, ErrDeviceNotInGroup, devs[0])

	// Assigned here: the addition fails.
	if _, err := f.svc.SetMembership(ctx, g.ID, []int64{devs[1]}, nil); err != nil {
		t.Fatalf("SetMembership() error = %v", err)
	}
	_, err = f.svc.SetMembership(ctx, g.ID, []int64{devs[1]}, []int64{devs[1]})
	assertConflict(t, err, ErrDeviceAlreadyAssigned, devs[1])
}

func TestSetMembership_DuplicatesAndEmpty(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	g := f.createGroup(t)
	devs := f.createDevices(t, 1)

	got, err := f.svc.SetMembership(ctx, g.ID, []int64{devs[0], devs[0]}, nil)
	if err != nil {
		t.Fatalf("SetMembership() error = %v", err)
	}
	if !reflect.DeepEqual(got.Devices, devs) {
		t.Errorf("Devices = %v, want %v", got.Devices, devs)
	}

	before := len(f.sink.types())
	got, err = f.svc.SetMembership(ctx, g.ID, nil, nil)
	if err != nil {
		t.Fatalf("empty SetMembership() error = %v", err)
	}
	if got.Version != 2 {
		t.Errorf("Version = %d, want 2 (empty change is a no-op)", got.Version)
	}
	if len(f.sink.types()) != before {
		t.Error("empty change should not publish an event")
	}

	if _, err := f.svc.SetMembership(ctx, 404, nil, nil); !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("empty change on missing group = %v, want ErrGroupNotFound", err)
	}
}

func TestSetMembership_ConcurrentAddsOfOneDevice(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	devs := f.createDevices(t, 1)

	const callers = 8
	groups := make([]int64, callers)
	for i := range groups {
		groups[i] = f.createGroup(t).ID
	}

	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.SetMembership(ctx, groups[i], devs, nil)
		}(i)
	}
	wg.Wait()

	var winners int
	var winner int64
	for i, err := range errs {
		switch {
		case err == nil:
			winners++
			winner = groups[i]
		case errors.Is(err, ErrConflict):
		default:
			t.Errorf("caller %d error = %v, want success or conflict", i, err)
		}
	}
	if winners != 1 {
		t.Fatalf("%d callers succeeded, want exactly 1", winners)
	}
	if gid := f.deviceGroup(t, devs[0]); gid == nil || *gid != winner {
		t.Errorf("device group = %v, want %d", gid, winner)
	}
}

func TestDelete(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	g := f.createGroup(t)
	devs := f.createDevices(t, 2)

	if _, err := f.svc.SetMembership(ctx, g.ID, devs, nil); err != nil {
		t.Fatalf("SetMembership() error = %v", err)
	}

	err := f.svc.Delete(ctx, g.ID)
	assertConflict(t, err, ErrGroupNotEmpty, devs...)
	if err.Error() != fmt.Sprintf("group is still assigned to some devices: %d, %d", devs[0], devs[1]) {
		t.Errorf("Error() = %q", err.Error())
	}
	f.get(t, g.ID)

	if _, err := f.svc.SetMembership(ctx, g.ID, nil, devs); err != nil {
		t.Fatalf("SetMembership(remove) error = %v", err)
	}
	if err := f.svc.Delete(ctx, g.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := f.svc.Get(ctx, g.ID); !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("Get() after delete = %v, want ErrGroupNotFound", err)
	}
	if err := f.svc.Delete(ctx, g.ID); !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("second Delete() = %v, want ErrGroupNotFound", err)
	}
}

func TestDelete_RemovesPackageAssignment(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	g := f.createGroup(t)
	pkgs := f.createPackages(t, 1)

	if _, err := f.svc.SetPackages(ctx, g.ID, pkgs); err != nil {
		t.Fatalf("SetPackages() error = %v", err)
	}
	if err := f.svc.Delete(ctx, g.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	var count int
	if err := f.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM group_packages WHERE group_id = ?`, g.ID).Scan(&count); err != nil {
		t.Fatalf("counting group packages: %v", err)
	}
	if count != 0 {
		t.Errorf("group_packages rows = %d, want 0", count)
	}
}

func TestSetPackages_ReplacesSet(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	g := f.createGroup(t)
	pkgs := f.createPackages(t, 3)

	got, err := f.svc.SetPackages(ctx, g.ID, []int64{pkgs[0], pkgs[1]})
	if err != nil {
		t.Fatalf("SetPackages() error = %v", err)
	}
	if !reflect.DeepEqual(got.Packages, []int64{pkgs[0], pkgs[1]}) {
		t.Errorf("Packages = %v", got.Packages)
	}

	got, err = f.svc.SetPackages(ctx, g.ID, []int64{pkgs[2]})
	if err != nil {
		t.Fatalf("SetPackages() error = %v", err)
	}
	if !reflect.DeepEqual(got.Packages, []int64{pkgs[2]}) {
		t.Errorf("Packages = %v, want [%d]", got.Packages, pkgs[2])
	}
	if stored := f.get(t, g.ID); !reflect.DeepEqual(stored.Packages, []int64{pkgs[2]}) || stored.Version != 3 {
		t.Errorf("stored = packages %v version %d", stored.Packages, stored.Version)
	}

	got, err = f.svc.SetPackages(ctx, g.ID, nil)
	if err != nil {
		t.Fatalf("SetPackages(nil) error = %v", err)
	}
	if len(got.Packages) != 0 {
		t.Errorf("Packages = %v, want empty", got.Packages)
	}
}

func TestSetPackages_KeepsOrderAndDropsRepeats(t *testing.T) {
	f := setupService(t)
	g := f.createGroup(t)
	pkgs := f.createPackages(t, 3)

	got, err := f.svc.SetPackages(context.Background(), g.ID, []int64{pkgs[2], pkgs[0], pkgs[2]})
	if err != nil {
		t.Fatalf("SetPackages() error = %v", err)
	}
	want := []int64{pkgs[2], pkgs[0]}
	if !reflect.DeepEqual(got.Packages, want) {
		t.Errorf("Packages = %v, want %v", got.Packages, want)
	}
}

func TestSetPackages_UnknownPackage(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	g := f.createGroup(t)
	pkgs := f.createPackages(t, 1)

	if _, err := f.svc.SetPackages(ctx, g.ID, pkgs); err != nil {
		t.Fatalf("SetPackages() error = %v", err)
	}

	_, err := f.svc.SetPackages(ctx, g.ID, []int64{pkgs[0], 777})
	assertConflict(t, err, ErrPackageMissing, 777)

	if got := f.get(t, g.ID); !reflect.DeepEqual(got.Packages, pkgs) || got.Version != 2 {
		t.Errorf("group changed after failed call: packages %v version %d", got.Packages, got.Version)
	}
}

func TestSetPackages_ManyMissingPackages(t *testing.T) {
	f := setupService(t)
	g := f.createGroup(t)
	pkgs := f.createPackages(t, 1)

	ids := make([]int64, 0, 40001)
	ids = append(ids, pkgs[0])
	for i := 0; i < 40000; i++ {
		ids = append(ids, int64(1_000_000+i))
	}

	_, err := f.svc.SetPackages(context.Background(), g.ID, ids)
	assertConflict(t, err, ErrPackageMissing, ids[1:]...)
}

func TestSetPackages_GroupNotFound(t *testing.T) {
	f := setupService(t)

	_, err := f.svc.SetPackages(context.Background(), 404, []int64{777})
	if !errors.Is(err, ErrGroupNotFound) {
		t.Fatalf("error = %v, want ErrGroupNotFound", err)
	}
}

func TestSetPolicy(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	g := f.createGroup(t)

	text := " exact_match , v2 "
	got, err := f.svc.SetPolicy(ctx, g.ID, text)
	if err != nil {
		t.Fatalf("SetPolicy() error = %v", err)
	}
	if got.Policy != text {
		t.Errorf("Policy = %q, want original text %q", got.Policy, text)
	}
	if stored := f.get(t, g.ID); stored.Policy != text || stored.Version != 2 {
		t.Errorf("stored policy %q version %d", stored.Policy, stored.Version)
	}
}

func TestSetPolicy_Invalid(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	g := f.createGroup(t)

	if _, err := f.svc.SetPolicy(ctx, g.ID, "exact_match,v1"); err != nil {
		t.Fatalf("SetPolicy() error = %v", err)
	}

	_, err := f.svc.SetPolicy(ctx, g.ID, "bogus")
	if !errors.Is(err, ErrInvalidPolicy) {
		t.Fatalf("error = %v, want ErrInvalidPolicy", err)
	}
	reason, ok := PolicyReason(err)
	if !ok || reason != `unknown policy kind "bogus"` {
		t.Errorf("PolicyReason() = %q, %v", reason, ok)
	}
	if Outcome(err) != OutcomeInvalidPolicy {
		t.Errorf("Outcome = %s", Outcome(err))
	}

	stored := f.get(t, g.ID)
	if stored.Policy != "exact_match,v1" || stored.Version != 2 {
		t.Errorf("policy changed after failed call: %q version %d", stored.Policy, stored.Version)
	}
}

func TestSetPolicy_MissingGroupBeforeBadPolicy(t *testing.T) {
	f := setupService(t)

	_, err := f.svc.SetPolicy(context.Background(), 404, "bogus")
	if !errors.Is(err, ErrGroupNotFound) {
		t.Fatalf("error = %v, want ErrGroupNotFound", err)
	}
}

func TestIfVersion(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	g := f.createGroup(t)

	got, err := f.svc.SetPolicy(ctx, g.ID, "exact_match,v1", IfVersion(g.Version))
	if err != nil {
		t.Fatalf("SetPolicy(current version) error = %v", err)
	}

	_, err = f.svc.SetPolicy(ctx, g.ID, "exact_match,v2", IfVersion(g.Version))
	assertConflict(t, err, ErrConcurrentModification)

	if err := f.svc.Delete(ctx, g.ID, IfVersion(g.Version)); !errors.Is(err, ErrConcurrentModification) {
		t.Errorf("Delete(stale) = %v, want ErrConcurrentModification", err)
	}
	if err := f.svc.Delete(ctx, g.ID, IfVersion(got.Version)); err != nil {
		t.Errorf("Delete(current) = %v", err)
	}
}

func TestEvents(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	g := f.createGroup(t)
	devs := f.createDevices(t, 1)
	pkgs := f.createPackages(t, 1)

	if _, err := f.svc.SetMembership(ctx, g.ID, devs, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.SetPackages(ctx, g.ID, pkgs); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.SetPolicy(ctx, g.ID, "bogus"); err == nil {
		t.Fatal("SetPolicy(bogus) should fail")
	}
	if _, err := f.svc.SetPolicy(ctx, g.ID, "exact_match,v1"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.SetMembership(ctx, g.ID, nil, devs); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Delete(ctx, g.ID); err != nil {
		t.Fatal(err)
	}

	want := []events.Type{
		events.GroupCreated,
		events.MembershipChanged,
		events.PackagesChanged,
		events.PolicyChanged,
		events.MembershipChanged,
		events.GroupDeleted,
	}
	if got := f.sink.types(); !reflect.DeepEqual(got, want) {
		t.Fatalf("event types = %v, want %v", got, want)
	}

	policyEvent := f.sink.events[3]
	if policyEvent.Policy != "exact_match,v1" || policyEvent.Version != 4 ||
		!reflect.DeepEqual(policyEvent.Packages, pkgs) || !reflect.DeepEqual(policyEvent.Devices, devs) {
		t.Errorf("policy event = %+v", policyEvent)
	}
	if removed := f.sink.events[4]; !reflect.DeepEqual(removed.Removed, devs) || len(removed.Added) != 0 {
		t.Errorf("membership event = %+v", removed)
	}
	if !f.sink.events[0].Timestamp.Equal(fixedNow) {
		t.Errorf("Timestamp = %v", f.sink.events[0].Timestamp)
	}
}

func TestEvents_PublishFailureDoesNotFailMutation(t *testing.T) {
	f := setupService(t)
	f.sink.err = errors.New("broker down")

	g, err := f.svc.Create(context.Background(), nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	f.get(t, g.ID)
}

func TestMetrics(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	g := f.createGroup(t)

	_, _ = f.svc.SetPolicy(ctx, g.ID, "bogus")
	_, _ = f.svc.SetPackages(ctx, g.ID, []int64{1})
	_, _ = f.svc.SetMembership(ctx, 404, []int64{1}, nil)

	want := []observation{
		{OpCreate, OutcomeSuccess},
		{OpSetPolicy, OutcomeInvalidPolicy},
		{OpSetPackages, OutcomeConflict},
		{OpSetMembership, OutcomeNotFound},
	}
	if !reflect.DeepEqual(f.metrics.obs, want) {
		t.Errorf("observations = %v, want %v", f.metrics.obs, want)
	}
}

func TestAuditTrail(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	g := f.createGroup(t)
	devs := f.createDevices(t, 1)

	if _, err := f.svc.SetMembership(ctx, g.ID, devs, nil, WithSource("cli")); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.SetPolicy(ctx, g.ID, "bogus"); err == nil {
		t.Fatal("SetPolicy(bogus) should fail")
	}

	result, err := audit.NewSQLiteRepository(f.db).List(ctx, audit.Filter{
		EntityType: audit.EntityGroup,
		EntityID:   fmt.Sprint(g.ID),
	})
	if err != nil {
		t.Fatalf("audit List() error = %v", err)
	}
	if result.Total != 2 {
		t.Fatalf("audit entries = %d, want 2 (failed calls write none)", result.Total)
	}

	latest := result.Logs[0]
	if latest.Action != audit.ActionGroupDevices || latest.Source != "cli" {
		t.Errorf("latest entry = %+v", latest)
	}
	if result.Logs[1].Action != audit.ActionGroupCreate || result.Logs[1].Source != "api" {
		t.Errorf("first entry = %+v", result.Logs[1])
	}
}

func TestStorageFailureIsInternal(t *testing.T) {
	f := setupService(t)
	g := f.createGroup(t)
	f.db.Close() //nolint:errcheck // forcing failures

	_, err := f.svc.Get(context.Background(), g.ID)
	if !errors.Is(err, ErrInternal) {
		t.Fatalf("error = %v, want ErrInternal", err)
	}
	if Outcome(err) != OutcomeInternal {
		t.Errorf("Outcome = %s", Outcome(err))
	}
}

func TestClassify(t *testing.T) {
	busy := fmt.Errorf("%w: database is locked", database.ErrBusy)
	assertConflict(t, classify(busy), ErrConcurrentModification)

	notFound := classify(ErrGroupNotFound)
	if notFound != ErrGroupNotFound {
		t.Errorf("classify(ErrGroupNotFound) = %v", notFound)
	}

	other := classify(errors.New("disk full"))
	if !errors.Is(other, ErrInternal) || other.Error() != "group: internal error: disk full" {
		t.Errorf("classify(other) = %v", other)
	}
	if classify(nil) != nil {
		t.Error("classify(nil) should be nil")
	}
}
