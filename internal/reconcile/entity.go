package reconcile

import (
	"context"

	"github.com/graftkit/graft/internal/document"
	"github.com/graftkit/graft/internal/schema"
)

// Entity is one persisted node of the object graph as the engine sees it:
// scalar attributes, the owning pointers stored on its own row, and an
// in-memory cache of the members it owns from the other side.
type Entity struct {
	Type    string
	ID      string
	Version int64

	// Attrs holds the scalar attribute values, including any declared
	// order attribute.
	Attrs map[string]document.Value

	// Owners maps owning singular association names to the target the
	// foreign key currently points at. A missing key is a null pointer.
	Owners map[string]document.Ref

	// Links maps owning collection association names to the ordered
	// membership held on this node's side.
	Links map[string][]document.Ref

	// Owned caches the current members of owned associations. It is
	// derived state, maintained by the engine as it runs, and is never
	// persisted directly.
	Owned map[string][]document.Ref
}

// NewEntity builds an empty entity of the given type.
func NewEntity(typeName, id string) *Entity {
	return &Entity{
		Type:   typeName,
		ID:     id,
		Attrs:  map[string]document.Value{},
		Owners: map[string]document.Ref{},
		Links:  map[string][]document.Ref{},
		Owned:  map[string][]document.Ref{},
	}
}

// Ref returns the entity's identity key.
func (e *Entity) Ref() document.Ref {
	return document.Ref{Type: e.Type, ID: e.ID}
}

// Attr returns the attribute value, with Null standing in for unset.
func (e *Entity) Attr(name string) document.Value {
	if v, ok := e.Attrs[name]; ok {
		return v
	}
	return document.Null{}
}

// Owner returns the owning pointer for the association, if set.
func (e *Entity) Owner(name string) (document.Ref, bool) {
	r, ok := e.Owners[name]
	return r, ok
}

// Clone returns a deep copy, used to capture before-state for authorization
// checks and change detection.
func (e *Entity) Clone() *Entity {
	c := &Entity{
		Type:    e.Type,
		ID:      e.ID,
		Version: e.Version,
		Attrs:   make(map[string]document.Value, len(e.Attrs)),
		Owners:  make(map[string]document.Ref, len(e.Owners)),
		Links:   make(map[string][]document.Ref, len(e.Links)),
		Owned:   make(map[string][]document.Ref, len(e.Owned)),
	}
	for k, v := range e.Attrs {
		c.Attrs[k] = v
	}
	for k, v := range e.Owners {
		c.Owners[k] = v
	}
	for k, v := range e.Links {
		c.Links[k] = append([]document.Ref(nil), v...)
	}
	for k, v := range e.Owned {
		c.Owned[k] = append([]document.Ref(nil), v...)
	}
	return c
}

// Storage is the persistence contract the engine reconciles against. The
// engine never opens transactions itself; it receives a Storage that is
// already scoped to one, and every mutation it makes rides on it.
type Storage interface {
	// Get loads an entity by identity. Returns a NOT_FOUND reconcile
	// error when no such record exists.
	Get(ctx context.Context, ref document.Ref) (*Entity, error)

	// Insert persists a new entity under its pre-assigned ID.
	Insert(ctx context.Context, e *Entity) error

	// Update persists changes to an existing entity. expectedVersion is
	// the version the caller believes is current; a mismatch is a
	// LOCK_FAILURE reconcile error. On success the stored version becomes
	// expectedVersion+1 and e.Version reflects it.
	Update(ctx context.Context, e *Entity, expectedVersion int64) error

	// Delete removes an entity.
	Delete(ctx context.Context, ref document.Ref) error

	// Members returns the current members of an owned or owning-collection
	// association of the given owner, ordered by the association's order
	// attribute (or stored link order) when one is declared.
	Members(ctx context.Context, owner document.Ref, assoc *schema.Association) ([]*Entity, error)
}

// Tx is a Storage scoped to one transaction.
type Tx interface {
	Storage
	Commit() error
	Rollback() error
}

// Store opens transactions for reconciliation batches.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}
