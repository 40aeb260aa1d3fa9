package memory_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jacentio/weave/store"
	"github.com/jacentio/weave/store/memory"
)

func newDriver(t *testing.T, db *memory.Database, table string) store.Driver {
	t.Helper()
	conn := store.ConnectionDescriptor{Name: "default", Driver: memory.DriverID}
	drv, err := memory.Factory(db)(context.Background(), store.DriverOptions{
		Entity:      "User",
		Table:       table,
		Connections: store.Connections{Read: conn, Write: conn},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return drv
}

func TestLoadJSON(t *testing.T) {
	db := memory.NewDatabase()
	err := db.LoadJSON(strings.NewReader(`{"users":[{"id":1,"name":"Ann"},{"id":2,"name":"Bob"}]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rows := db.Rows("users")
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Value("id") != int64(1) {
		t.Errorf("expected int64 id, got %T", rows[0].Value("id"))
	}

	if err := db.LoadJSON(strings.NewReader(`{"users":{}}`)); err == nil {
		t.Error("expected error for non-array table")
	}
}

func TestDriver_GetFilterSortPage(t *testing.T) {
	db := memory.NewDatabase()
	db.Insert("users",
		store.NewRow("id", 1, "status", "active", "name", "Cid"),
		store.NewRow("id", 2, "status", "active", "name", "Ann"),
		store.NewRow("id", 3, "status", "gone", "name", "Bob"),
		store.NewRow("id", 4, "status", "active", "name", "Dee"),
	)
	drv := newDriver(t, db, "users")
	ctx := context.Background()

	rows, err := drv.Get(ctx, store.Where{"status": "active"}, store.WithOrder(store.Order{Field: "name"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var names []string
	for _, r := range rows {
		names = append(names, r.String("name"))
	}
	if got := strings.Join(names, ","); got != "Ann,Cid,Dee" {
		t.Errorf("expected 'Ann,Cid,Dee', got %q", got)
	}

	page, err := drv.Get(ctx, nil, store.WithOrder(store.Order{Field: "id"}), store.WithPage(2, 3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page) != 1 || page[0].Value("id") != 4 {
		t.Errorf("expected only id 4 on page 2, got %v", page)
	}

	beyond, _ := drv.Get(ctx, nil, store.WithPage(5, 3))
	if len(beyond) != 0 {
		t.Errorf("expected empty page, got %d rows", len(beyond))
	}

	one, err := drv.GetOne(ctx, store.Where{"status": "active"}, store.Order{Field: "id", Desc: true})
	if err != nil || one.Value("id") != 4 {
		t.Errorf("expected id 4, got %v (%v)", one, err)
	}
	none, err := drv.GetOne(ctx, store.Where{"status": "missing"})
	if err != nil || none != nil {
		t.Errorf("expected nil row, got %v (%v)", none, err)
	}
}

func TestDriver_GetReturnsCopies(t *testing.T) {
	db := memory.NewDatabase()
	db.Insert("users", store.NewRow("id", 1, "name", "Ann"))
	drv := newDriver(t, db, "users")

	rows, _ := drv.Get(context.Background(), nil)
	rows[0].Set("name", "changed")

	if got := db.Rows("users")[0].String("name"); got != "Ann" {
		t.Errorf("expected stored row untouched, got %q", got)
	}
}

func TestDriver_CountAggregate(t *testing.T) {
	db := memory.NewDatabase()
	db.Insert("users",
		store.NewRow("id", 1, "score", 2),
		store.NewRow("id", 2, "score", "4"),
	)
	drv := newDriver(t, db, "users")
	ctx := context.Background()

	n, err := drv.Count(ctx, nil)
	if err != nil || n != 2 {
		t.Errorf("expected 2, got %d (%v)", n, err)
	}
	avg, err := drv.Aggregate(ctx, store.Avg, "score", nil)
	if err != nil || avg != 3 {
		t.Errorf("expected 3, got %v (%v)", avg, err)
	}
	if _, err := drv.Aggregate(ctx, "median", "score", nil); !errors.Is(err, store.ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
}

func TestDriver_CreateSetRemove(t *testing.T) {
	db := memory.NewDatabase()
	drv := newDriver(t, db, "users")
	ctx := context.Background()

	id, err := drv.Create(ctx, store.NewRow("name", "Ann"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s, ok := id.(string); !ok || len(s) != 36 {
		t.Errorf("expected generated uuid, got %v", id)
	}

	if _, err := drv.Create(ctx, store.NewRow("id", id, "name", "Dup")); !errors.Is(err, store.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}

	if err := drv.CreateMany(ctx, []*store.Row{store.NewRow("id", "b", "name", "Bob"), store.NewRow("id", "c", "name", "Cid")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := drv.Set(ctx, store.NewRow("name", "Robert"), store.Where{"id": "b"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bob, _ := drv.GetOne(ctx, store.Where{"id": "b"})
	if bob.String("name") != "Robert" {
		t.Errorf("expected 'Robert', got %q", bob.String("name"))
	}

	if err := drv.Remove(ctx, store.Where{"id": []any{"b", "c"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	n, _ := drv.Count(ctx, nil)
	if n != 1 {
		t.Errorf("expected 1 row left, got %d", n)
	}
}

func TestDriver_Metadata(t *testing.T) {
	drv := newDriver(t, memory.NewDatabase(), "users")
	if drv.Entity() != "User" || drv.Table() != "users" {
		t.Errorf("unexpected metadata %q/%q", drv.Entity(), drv.Table())
	}
	if drv.ConnectionName(store.Write) != "default" {
		t.Errorf("expected 'default', got %q", drv.ConnectionName(store.Write))
	}
}
