package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/graftkit/graft/internal/document"
	"github.com/graftkit/graft/internal/reconcile"
	"github.com/graftkit/graft/internal/schema"
)

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.NewRegistry(
		&schema.EntityType{
			Name: "Board",
			Attributes: map[string]*schema.Attribute{
				"title":    {Name: "title", Kind: schema.KindString},
				"archived": {Name: "archived", Kind: schema.KindBool},
			},
			Associations: map[string]*schema.Association{
				"cards": {
					Name: "cards", Direction: schema.Owned, Collection: true,
					Target: "Card", Inverse: "board", OrderAttr: "pos",
				},
				"owner": {
					Name: "owner", Direction: schema.Owning, Target: "Member",
				},
				"watchers": {
					Name: "watchers", Direction: schema.Owning, Collection: true,
					Target: "Member",
				},
			},
		},
		&schema.EntityType{
			Name: "Card",
			Attributes: map[string]*schema.Attribute{
				"title":  {Name: "title", Kind: schema.KindString},
				"pos":    {Name: "pos", Kind: schema.KindInt},
				"weight": {Name: "weight", Kind: schema.KindFloat},
			},
			Associations: map[string]*schema.Association{
				"board": {Name: "board", Direction: schema.Owning, Target: "Board"},
			},
		},
		&schema.EntityType{
			Name: "Member",
			Attributes: map[string]*schema.Attribute{
				"name": {Name: "name", Kind: schema.KindString},
			},
		},
	)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "graph.db")
	s, err := Open(path, testRegistry(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.db")
	s, err := Open(path, testRegistry(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}

	// Idempotent reopen.
	s2, err := Open(path, testRegistry(t))
	if err != nil {
		t.Fatalf("second Open() failed: %v", err)
	}
	s2.Close()
}

func TestInsertGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}

	m := reconcile.NewEntity("Member", "m1")
	m.Version = 1
	m.Attrs["name"] = document.String("ada")
	if err := tx.Insert(ctx, m); err != nil {
		t.Fatalf("Insert(member) failed: %v", err)
	}

	b := reconcile.NewEntity("Board", "b1")
	b.Version = 1
	b.Attrs["title"] = document.String("plans")
	b.Attrs["archived"] = document.Bool(true)
	b.Owners["owner"] = m.Ref()
	if err := tx.Insert(ctx, b); err != nil {
		t.Fatalf("Insert(board) failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}

	tx2, _ := s.Begin(ctx)
	defer tx2.Rollback()
	got, err := tx2.Get(ctx, document.Ref{Type: "Board", ID: "b1"})
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Version != 1 {
		t.Errorf("version = %d, want 1", got.Version)
	}
	if got.Attrs["title"] != document.String("plans") {
		t.Errorf("title = %v", got.Attrs["title"])
	}
	if got.Attrs["archived"] != document.Bool(true) {
		t.Errorf("archived = %v", got.Attrs["archived"])
	}
	if got.Owners["owner"] != m.Ref() {
		t.Errorf("owner = %v, want %v", got.Owners["owner"], m.Ref())
	}
}

func TestGetNotFound(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tx, _ := s.Begin(ctx)
	defer tx.Rollback()

	_, err := tx.Get(ctx, document.Ref{Type: "Board", ID: "ghost"})
	if !reconcile.IsCode(err, reconcile.ErrCodeNotFound) {
		t.Errorf("err = %v, want NOT_FOUND", err)
	}
}

func TestUpdateOptimisticLock(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tx, _ := s.Begin(ctx)
	b := reconcile.NewEntity("Board", "b1")
	b.Version = 1
	if err := tx.Insert(ctx, b); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}

	b.Attrs["title"] = document.String("renamed")
	if err := tx.Update(ctx, b, 1); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if b.Version != 2 {
		t.Errorf("version after update = %d, want 2", b.Version)
	}

	// A stale expectation must not write.
	b.Attrs["title"] = document.String("again")
	err := tx.Update(ctx, b, 1)
	if !reconcile.IsCode(err, reconcile.ErrCodeLockFailure) {
		t.Errorf("err = %v, want LOCK_FAILURE", err)
	}
	tx.Rollback()
}

func TestDuplicateInsertIsUniqueViolation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tx, _ := s.Begin(ctx)
	defer tx.Rollback()

	b := reconcile.NewEntity("Board", "b1")
	b.Version = 1
	if err := tx.Insert(ctx, b); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	err := tx.Insert(ctx, b)
	if !reconcile.IsCode(err, reconcile.ErrCodeUniqueViolation) {
		t.Errorf("err = %v, want UNIQUE_VIOLATION", err)
	}
}

func TestMembersOrderedByPosition(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tx, _ := s.Begin(ctx)
	b := reconcile.NewEntity("Board", "b1")
	b.Version = 1
	if err := tx.Insert(ctx, b); err != nil {
		t.Fatalf("Insert(board) failed: %v", err)
	}

	// Inserted out of position order on purpose.
	for i, id := range []string{"c3", "c1", "c2"} {
		c := reconcile.NewEntity("Card", id)
		c.Version = 1
		c.Attrs["pos"] = document.Int(int64(2 - i))
		c.Owners["board"] = b.Ref()
		if err := tx.Insert(ctx, c); err != nil {
			t.Fatalf("Insert(card %s) failed: %v", id, err)
		}
	}

	et, _ := testRegistry(t).Type("Board")
	cards, _ := et.Association("cards")
	members, err := tx.Members(ctx, b.Ref(), cards)
	if err != nil {
		t.Fatalf("Members() failed: %v", err)
	}
	got := make([]string, len(members))
	for i, m := range members {
		got[i] = m.ID
	}
	want := []string{"c2", "c1", "c3"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("member order = %v, want %v", got, want)
		}
	}
	tx.Rollback()
}

func TestLinkTableRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tx, _ := s.Begin(ctx)
	for _, id := range []string{"m1", "m2"} {
		m := reconcile.NewEntity("Member", id)
		m.Version = 1
		if err := tx.Insert(ctx, m); err != nil {
			t.Fatalf("Insert(member) failed: %v", err)
		}
	}
	b := reconcile.NewEntity("Board", "b1")
	b.Version = 1
	b.Links["watchers"] = []document.Ref{
		{Type: "Member", ID: "m2"},
		{Type: "Member", ID: "m1"},
	}
	if err := tx.Insert(ctx, b); err != nil {
		t.Fatalf("Insert(board) failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}

	tx2, _ := s.Begin(ctx)
	defer tx2.Rollback()
	got, err := tx2.Get(ctx, b.Ref())
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	links := got.Links["watchers"]
	if len(links) != 2 || links[0].ID != "m2" || links[1].ID != "m1" {
		t.Errorf("links = %v, want [m2 m1]", links)
	}

	et, _ := testRegistry(t).Type("Board")
	watchers, _ := et.Association("watchers")
	members, err := tx2.Members(ctx, b.Ref(), watchers)
	if err != nil {
		t.Fatalf("Members() failed: %v", err)
	}
	if len(members) != 2 || members[0].ID != "m2" {
		t.Errorf("member order = %v", members)
	}
}

func TestDanglingForeignKeyRejected(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tx, _ := s.Begin(ctx)
	defer tx.Rollback()

	b := reconcile.NewEntity("Board", "b1")
	b.Version = 1
	b.Owners["owner"] = document.Ref{Type: "Member", ID: "ghost"}
	err := tx.Insert(ctx, b)
	if !reconcile.IsCode(err, reconcile.ErrCodeDatabaseConstraint) {
		t.Errorf("err = %v, want DATABASE_CONSTRAINT", err)
	}
}
