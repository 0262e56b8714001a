package store

import (
	"context"
	"testing"

	"github.com/graftkit/graft/internal/document"
	"github.com/graftkit/graft/internal/reconcile"
)

func seedCards(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}

	b := reconcile.NewEntity("Board", "b1")
	b.Version = 1
	if err := tx.Insert(ctx, b); err != nil {
		t.Fatalf("Insert(board) failed: %v", err)
	}

	cards := []struct {
		id    string
		title string
		pos   int64
		board bool
	}{
		{"c1", "triage", 0, true},
		{"c2", "review", 1, true},
		{"c3", "triage", 2, false},
	}
	for _, c := range cards {
		e := reconcile.NewEntity("Card", c.id)
		e.Version = 1
		e.Attrs["title"] = document.String(c.title)
		e.Attrs["pos"] = document.Int(c.pos)
		if c.board {
			e.Owners["board"] = b.Ref()
		}
		if err := tx.Insert(ctx, e); err != nil {
			t.Fatalf("Insert(card %s) failed: %v", c.id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}
}

func queryIDs(t *testing.T, s *Store, q Query) []string {
	t.Helper()
	entities, err := s.Query(context.Background(), q)
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	ids := make([]string, len(entities))
	for i, e := range entities {
		ids[i] = e.ID
	}
	return ids
}

func TestQueryByAttribute(t *testing.T) {
	s := openTestStore(t)
	seedCards(t, s)

	got := queryIDs(t, s, Query{
		Type:  "Card",
		Where: []Predicate{AttrEquals{Attr: "title", Value: document.String("triage")}},
	})
	want := []string{"c1", "c3"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("ids = %v, want %v", got, want)
	}
}

func TestQueryByOwner(t *testing.T) {
	s := openTestStore(t)
	seedCards(t, s)

	got := queryIDs(t, s, Query{
		Type:  "Card",
		Where: []Predicate{OwnerEquals{Assoc: "board", ID: "b1"}},
	})
	if len(got) != 2 || got[0] != "c1" || got[1] != "c2" {
		t.Fatalf("ids = %v, want [c1 c2]", got)
	}

	// An empty id selects unowned entities.
	got = queryIDs(t, s, Query{
		Type:  "Card",
		Where: []Predicate{OwnerEquals{Assoc: "board"}},
	})
	if len(got) != 1 || got[0] != "c3" {
		t.Fatalf("ids = %v, want [c3]", got)
	}
}

func TestQueryCombinesPredicatesAndLimit(t *testing.T) {
	s := openTestStore(t)
	seedCards(t, s)

	got := queryIDs(t, s, Query{
		Type: "Card",
		Where: []Predicate{
			AttrEquals{Attr: "title", Value: document.String("triage")},
			OwnerEquals{Assoc: "board", ID: "b1"},
		},
	})
	if len(got) != 1 || got[0] != "c1" {
		t.Fatalf("ids = %v, want [c1]", got)
	}

	got = queryIDs(t, s, Query{Type: "Card", Limit: 2})
	if len(got) != 2 || got[0] != "c1" || got[1] != "c2" {
		t.Fatalf("ids = %v, want [c1 c2]", got)
	}
}

func TestQueryRejectsUnknownFields(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.Query(context.Background(), Query{Type: "Ghost"}); err == nil {
		t.Error("expected error for unknown type")
	}
	_, err := s.Query(context.Background(), Query{
		Type:  "Card",
		Where: []Predicate{AttrEquals{Attr: "ghost", Value: document.String("x")}},
	})
	if err == nil {
		t.Error("expected error for unknown attribute")
	}
	_, err = s.Query(context.Background(), Query{
		Type:  "Card",
		Where: []Predicate{AttrEquals{Attr: "pos", Value: document.String("zero")}},
	})
	if err == nil {
		t.Error("expected error for kind mismatch")
	}
	_, err = s.Query(context.Background(), Query{
		Type:  "Board",
		Where: []Predicate{OwnerEquals{Assoc: "watchers", ID: "m1"}},
	})
	if err == nil {
		t.Error("expected error for collection association")
	}
}

func TestStoreAllDumpsEveryType(t *testing.T) {
	s := openTestStore(t)
	seedCards(t, s)

	all, err := s.All(context.Background())
	if err != nil {
		t.Fatalf("All() failed: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("len(all) = %d, want 4", len(all))
	}
	// Sorted by type then id: the board leads, cards follow in id order.
	if all[0].Ref() != (document.Ref{Type: "Board", ID: "b1"}) {
		t.Errorf("all[0] = %v", all[0].Ref())
	}
	for i, id := range []string{"c1", "c2", "c3"} {
		if all[i+1].ID != id {
			t.Errorf("all[%d] = %s, want %s", i+1, all[i+1].ID, id)
		}
	}
}
