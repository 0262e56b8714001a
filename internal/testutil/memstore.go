package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/graftkit/graft/internal/document"
	"github.com/graftkit/graft/internal/reconcile"
	"github.com/graftkit/graft/internal/schema"
)

// MemStore is an in-memory reconcile.Store for tests.
//
// Transactions take a deep copy of the whole graph; Commit swaps the copy
// back in, Rollback discards it. Member queries scan the copy, ordered by
// the association's order attribute with insertion order as tiebreaker, so
// repeated runs of the same scenario see identical member sequences.
//
// Thread-safety: the store itself is mutex-guarded; an individual
// transaction is not, matching how the engine uses one.
type MemStore struct {
	mu  sync.Mutex
	gen int64
	rec map[document.Ref]*memRecord
}

type memRecord struct {
	entity *reconcile.Entity
	seq    int64
}

func NewMemStore() *MemStore {
	return &MemStore{rec: map[document.Ref]*memRecord{}}
}

// Seed inserts entities directly, outside any transaction. Version 0 is
// bumped to 1 so seeded records look persisted.
func (s *MemStore) Seed(entities ...*reconcile.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entities {
		c := e.Clone()
		if c.Version == 0 {
			c.Version = 1
		}
		s.gen++
		s.rec[c.Ref()] = &memRecord{entity: c, seq: s.gen}
	}
}

// Get returns the current committed entity, or nil if absent.
func (s *MemStore) Get(ref document.Ref) *reconcile.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rec[ref]; ok {
		return r.entity.Clone()
	}
	return nil
}

// All returns every committed entity sorted by type then id, for graph
// snapshots.
func (s *MemStore) All() []*reconcile.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*reconcile.Entity, 0, len(s.rec))
	for _, r := range s.rec {
		out = append(out, r.entity.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of committed entities.
func (s *MemStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rec)
}

// Begin implements reconcile.Store.
func (s *MemStore) Begin(ctx context.Context) (reconcile.Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memTx{store: s, gen: s.gen, rec: make(map[document.Ref]*memRecord, len(s.rec))}
	for ref, r := range s.rec {
		tx.rec[ref] = &memRecord{entity: r.entity.Clone(), seq: r.seq}
	}
	return tx, nil
}

type memTx struct {
	store *MemStore
	gen   int64
	rec   map[document.Ref]*memRecord
	done  bool
}

func (tx *memTx) Get(ctx context.Context, ref document.Ref) (*reconcile.Entity, error) {
	r, ok := tx.rec[ref]
	if !ok {
		return nil, &reconcile.Error{
			Code:    reconcile.ErrCodeNotFound,
			Ref:     ref,
			Message: "no such entity",
		}
	}
	return r.entity.Clone(), nil
}

func (tx *memTx) Insert(ctx context.Context, e *reconcile.Entity) error {
	ref := e.Ref()
	if _, exists := tx.rec[ref]; exists {
		return &reconcile.Error{
			Code:    reconcile.ErrCodeUniqueViolation,
			Ref:     ref,
			Message: "entity already exists",
		}
	}
	tx.gen++
	tx.rec[ref] = &memRecord{entity: e.Clone(), seq: tx.gen}
	return nil
}

func (tx *memTx) Update(ctx context.Context, e *reconcile.Entity, expectedVersion int64) error {
	ref := e.Ref()
	r, ok := tx.rec[ref]
	if !ok {
		return &reconcile.Error{
			Code:    reconcile.ErrCodeNotFound,
			Ref:     ref,
			Message: "no such entity",
		}
	}
	if r.entity.Version != expectedVersion {
		return reconcile.NewLockFailure(ref, expectedVersion)
	}
	e.Version = expectedVersion + 1
	tx.rec[ref] = &memRecord{entity: e.Clone(), seq: r.seq}
	return nil
}

func (tx *memTx) Delete(ctx context.Context, ref document.Ref) error {
	delete(tx.rec, ref)
	return nil
}

func (tx *memTx) Members(ctx context.Context, owner document.Ref, assoc *schema.Association) ([]*reconcile.Entity, error) {
	if assoc.Direction == schema.Owning && assoc.Collection {
		r, ok := tx.rec[owner]
		if !ok {
			return nil, nil
		}
		var out []*reconcile.Entity
		for _, ref := range r.entity.Links[assoc.Name] {
			if m, ok := tx.rec[ref]; ok {
				out = append(out, m.entity.Clone())
			}
		}
		return out, nil
	}

	// Owned members carry the foreign key; indirect members are the join
	// rows between owner and its targets.
	memberType := assoc.MemberType()
	inverse := assoc.Inverse
	type hit struct {
		e   *reconcile.Entity
		seq int64
	}
	var hits []hit
	for _, r := range tx.rec {
		if r.entity.Type != memberType {
			continue
		}
		if ref, ok := r.entity.Owners[inverse]; ok && ref == owner {
			hits = append(hits, hit{e: r.entity.Clone(), seq: r.seq})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if assoc.Ordered() {
			pi, iok := intAttr(hits[i].e, assoc.OrderAttr)
			pj, jok := intAttr(hits[j].e, assoc.OrderAttr)
			if iok && jok && pi != pj {
				return pi < pj
			}
			if iok != jok {
				return jok // unordered members sort first, like NULLs
			}
		}
		return hits[i].seq < hits[j].seq
	})
	out := make([]*reconcile.Entity, len(hits))
	for i, h := range hits {
		out[i] = h.e
	}
	return out, nil
}

func (tx *memTx) Commit() error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	tx.store.rec = tx.rec
	tx.store.gen = tx.gen
	return nil
}

func (tx *memTx) Rollback() error {
	tx.done = true
	return nil
}

func intAttr(e *reconcile.Entity, name string) (int64, bool) {
	if v, ok := e.Attrs[name]; ok {
		if n, isInt := v.(document.Int); isInt {
			return int64(n), true
		}
	}
	return 0, false
}
