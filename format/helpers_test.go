package format_test

import (
	"context"
	"sync"
	"testing"

	"github.com/jacentio/weave/store"
	"github.com/jacentio/weave/store/memory"
)

// recordingSource wraps a registry and records every Get issued through the
// drivers it hands out.
type recordingSource struct {
	reg *store.Registry

	mu    sync.Mutex
	calls []getCall
}

type getCall struct {
	entity string
	where  store.Where
}

func (s *recordingSource) Entity(ctx context.Context, name string) (store.Driver, error) {
	d, err := s.reg.Entity(ctx, name)
	if err != nil {
		return nil, err
	}
	return &recordingDriver{Driver: d, src: s}, nil
}

// gets returns the Get calls issued for an entity type.
func (s *recordingSource) gets(entity string) []store.Where {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Where
	for _, c := range s.calls {
		if c.entity == entity {
			out = append(out, c.where)
		}
	}
	return out
}

func (s *recordingSource) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type recordingDriver struct {
	store.Driver
	src *recordingSource
}

func (d *recordingDriver) Get(ctx context.Context, where store.Where, opts ...store.QueryOption) ([]*store.Row, error) {
	d.src.mu.Lock()
	d.src.calls = append(d.src.calls, getCall{entity: d.Entity(), where: where})
	d.src.mu.Unlock()
	return d.Driver.Get(ctx, where, opts...)
}

// newSource builds a memory-backed registry holding the blog fixture.
func newSource(t *testing.T) (*recordingSource, *memory.Database) {
	t.Helper()

	db := memory.NewDatabase()
	db.Insert("users",
		store.NewRow("id", int64(1), "name", "User One", "role", "admin"),
		store.NewRow("id", int64(2), "name", "User Two", "role", "editor"),
	)
	db.Insert("profiles",
		store.NewRow("id", int64(100), "user_id", int64(1), "bio", "writes about Go"),
	)
	db.Insert("tags",
		store.NewRow("id", int64(10), "label", "go"),
		store.NewRow("id", int64(11), "label", "sql"),
		store.NewRow("id", int64(12), "label", "aws"),
	)
	db.Insert("post_tags",
		store.NewRow("post", int64(1), "post_tag", int64(10)),
		store.NewRow("post", int64(1), "post_tag", int64(11)),
		store.NewRow("post", int64(2), "post_tag", int64(11)),
	)
	db.Insert("images",
		store.NewRow("id", int64(5), "url", "a.png"),
	)
	db.Insert("videos",
		store.NewRow("id", int64(6), "url", "b.mp4"),
	)

	cfg := store.DefaultConfig()
	cfg.Connections[store.DefaultConnection] = store.Connection{Driver: memory.DriverID}
	cfg.Drivers[memory.DriverID] = memory.Factory(db)

	return &recordingSource{reg: store.NewRegistry(cfg)}, db
}

func posts(n int, users ...int64) []*store.Row {
	rows := make([]*store.Row, n)
	for i := range rows {
		rows[i] = store.NewRow(
			"id", int64(i+1),
			"title", "Post",
			"user", users[i%len(users)],
		)
	}
	return rows
}
