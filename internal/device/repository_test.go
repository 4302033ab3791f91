package device

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"testing"

	"github.com/nerrad567/ota-core/internal/infrastructure/database"
	"github.com/nerrad567/ota-core/internal/infrastructure/database/dbtest"
)

// setupTestRepo returns a repository over a migrated database.
func setupTestRepo(t *testing.T) (*SQLiteRepository, *database.DB) {
	t.Helper()
	db := dbtest.Open(t)
	return NewSQLiteRepository(db), db
}

// insertGroup creates a bare group row so devices can reference it.
func insertGroup(t *testing.T, db *database.DB) int64 {
	t.Helper()
	result, err := db.ExecContext(context.Background(),
		`INSERT INTO device_groups (created) VALUES ('2026-10-18T12:00:00Z')`)
	if err != nil {
		t.Fatalf("failed to insert group: %v", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		t.Fatalf("LastInsertId: %v", err)
	}
	return id
}

func createDevice(t *testing.T, repo *SQLiteRepository, mac string) *Device {
	t.Helper()
	d := &Device{MACAddress: mac, Name: "dev-" + mac}
	if err := repo.Create(context.Background(), d); err != nil {
		t.Fatalf("Create(%s) error = %v", mac, err)
	}
	return d
}

func TestRepository_CreateAndGet(t *testing.T) {
	repo, _ := setupTestRepo(t)
	ctx := context.Background()

	d := &Device{MACAddress: "AA-BB-CC-DD-EE-01", Name: "  lobby display  "}
	if err := repo.Create(ctx, d); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if d.ID == 0 {
		t.Fatal("Create() did not assign an ID")
	}
	if d.Created.IsZero() {
		t.Error("Create() did not set Created")
	}

	got, err := repo.GetByID(ctx, d.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.MACAddress != "aa:bb:cc:dd:ee:01" {
		t.Errorf("MACAddress = %q, want normalised form", got.MACAddress)
	}
	if got.Name != "lobby display" {
		t.Errorf("Name = %q, want %q", got.Name, "lobby display")
	}
	if got.Assigned() {
		t.Error("new device should be unassigned")
	}
	if !got.Created.Equal(d.Created) {
		t.Errorf("Created = %v, want %v", got.Created, d.Created)
	}
}

func TestRepository_CreateDuplicateMAC(t *testing.T) {
	repo, _ := setupTestRepo(t)
	createDevice(t, repo, "aa:bb:cc:dd:ee:01")

	err := repo.Create(context.Background(), &Device{MACAddress: "AA:BB:CC:DD:EE:01"})
	if !errors.Is(err, ErrDeviceExists) {
		t.Errorf("Create() error = %v, want ErrDeviceExists", err)
	}
}

func TestRepository_CreateInvalid(t *testing.T) {
	repo, _ := setupTestRepo(t)

	err := repo.Create(context.Background(), &Device{MACAddress: "not-a-mac"})
	if !errors.Is(err, ErrInvalidDevice) || !errors.Is(err, ErrInvalidMAC) {
		t.Errorf("Create() error = %v, want ErrInvalidDevice wrapping ErrInvalidMAC", err)
	}
}

func TestRepository_GetByIDNotFound(t *testing.T) {
	repo, _ := setupTestRepo(t)

	_, err := repo.GetByID(context.Background(), 404)
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetByID() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestRepository_GetMany(t *testing.T) {
	repo, _ := setupTestRepo(t)
	ctx := context.Background()

	a := createDevice(t, repo, "aa:bb:cc:dd:ee:01")
	b := createDevice(t, repo, "aa:bb:cc:dd:ee:02")

	got, err := repo.GetMany(ctx, []int64{a.ID, b.ID, 999})
	if err != nil {
		t.Fatalf("GetMany() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(GetMany()) = %d, want 2", len(got))
	}
	if _, ok := got[999]; ok {
		t.Error("GetMany() returned a missing id")
	}
	if got[b.ID].MACAddress != "aa:bb:cc:dd:ee:02" {
		t.Errorf("GetMany()[b] = %+v", got[b.ID])
	}

	empty, err := repo.GetMany(ctx, nil)
	if err != nil || len(empty) != 0 {
		t.Errorf("GetMany(nil) = %v, %v; want empty, nil", empty, err)
	}
}

func TestRepository_SetGroupAndQueries(t *testing.T) {
	repo, db := setupTestRepo(t)
	ctx := context.Background()

	g1 := insertGroup(t, db)
	g2 := insertGroup(t, db)
	a := createDevice(t, repo, "aa:bb:cc:dd:ee:01")
	b := createDevice(t, repo, "aa:bb:cc:dd:ee:02")
	c := createDevice(t, repo, "aa:bb:cc:dd:ee:03")

	for _, id := range []int64{c.ID, a.ID} {
		if err := repo.SetGroup(ctx, id, &g1); err != nil {
			t.Fatalf("SetGroup() error = %v", err)
		}
	}
	if err := repo.SetGroup(ctx, b.ID, &g2); err != nil {
		t.Fatalf("SetGroup() error = %v", err)
	}

	ids, err := repo.ListIDsByGroup(ctx, g1)
	if err != nil {
		t.Fatalf("ListIDsByGroup() error = %v", err)
	}
	if !reflect.DeepEqual(ids, []int64{a.ID, c.ID}) {
		t.Errorf("ListIDsByGroup() = %v, want %v", ids, []int64{a.ID, c.ID})
	}

	count, err := repo.CountByGroup(ctx, g2)
	if err != nil || count != 1 {
		t.Errorf("CountByGroup() = %d, %v; want 1, nil", count, err)
	}

	got, err := repo.GetByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if !got.InGroup(g1) || got.InGroup(g2) {
		t.Errorf("GroupID = %v, want %d", got.GroupID, g1)
	}

	if err := repo.SetGroup(ctx, a.ID, nil); err != nil {
		t.Fatalf("SetGroup(nil) error = %v", err)
	}
	got, _ = repo.GetByID(ctx, a.ID) //nolint:errcheck // checked above
	if got.Assigned() {
		t.Errorf("GroupID = %v after unassign, want nil", *got.GroupID)
	}

	empty, err := repo.ListIDsByGroup(ctx, 12345)
	if err != nil || empty == nil || len(empty) != 0 {
		t.Errorf("ListIDsByGroup(unknown) = %v, %v; want empty non-nil slice", empty, err)
	}
}

func TestRepository_SetGroupErrors(t *testing.T) {
	repo, db := setupTestRepo(t)
	ctx := context.Background()

	g := insertGroup(t, db)
	if err := repo.SetGroup(ctx, 404, &g); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("SetGroup(missing device) error = %v, want ErrDeviceNotFound", err)
	}

	d := createDevice(t, repo, "aa:bb:cc:dd:ee:01")
	missing := int64(999)
	err := repo.SetGroup(ctx, d.ID, &missing)
	if err == nil || !database.IsConstraintViolation(err) {
		t.Errorf("SetGroup(missing group) error = %v, want foreign key violation", err)
	}
}

func TestRepository_Delete(t *testing.T) {
	repo, db := setupTestRepo(t)
	ctx := context.Background()

	g := insertGroup(t, db)
	free := createDevice(t, repo, "aa:bb:cc:dd:ee:01")
	member := createDevice(t, repo, "aa:bb:cc:dd:ee:02")
	if err := repo.SetGroup(ctx, member.ID, &g); err != nil {
		t.Fatalf("SetGroup() error = %v", err)
	}

	if err := repo.Delete(ctx, free.ID); err != nil {
		t.Errorf("Delete(free) error = %v", err)
	}
	if err := repo.Delete(ctx, free.ID); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Delete(again) error = %v, want ErrDeviceNotFound", err)
	}
	if err := repo.Delete(ctx, member.ID); !errors.Is(err, ErrDeviceAssigned) {
		t.Errorf("Delete(member) error = %v, want ErrDeviceAssigned", err)
	}

	all, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 1 || all[0].ID != member.ID {
		t.Errorf("List() = %+v, want only the member", all)
	}
}

func TestRepository_WithTxRollback(t *testing.T) {
	repo, db := setupTestRepo(t)
	ctx := context.Background()
	g := insertGroup(t, db)
	d := createDevice(t, repo, "aa:bb:cc:dd:ee:01")

	sentinel := errors.New("abort")
	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		if err := repo.WithTx(tx).SetGroup(ctx, d.ID, &g); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("WithTx() error = %v, want sentinel", err)
	}

	got, err := repo.GetByID(ctx, d.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Assigned() {
		t.Error("assignment survived a rolled back transaction")
	}
}
