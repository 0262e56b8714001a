// Package schema defines the static description of the entity graph that the
// reconciliation engine operates on: entity types, their attributes, and their
// associations (direction, cardinality, ordering, cascade policy).
//
// A Registry is constructed once, either programmatically or compiled from a
// CUE definition, and passed explicitly into the engine. There is no
// process-wide registry; tests build their own.
package schema

import (
	"fmt"
	"sort"
)

// Direction says which side of an association holds the foreign key.
type Direction string

const (
	// Owning means the foreign key lives on the node declaring the
	// association (e.g. post.author_id for post → author).
	Owning Direction = "owning"

	// Owned means the foreign key lives on the associated node
	// (e.g. comment.post_id for post → comments).
	Owned Direction = "owned"
)

// Cascade is the policy applied to an entity that was released from its
// association during a batch and never reclaimed anywhere else in it.
type Cascade string

const (
	// CascadeDelete removes the released entity from storage.
	CascadeDelete Cascade = "delete"

	// CascadeDetach clears the released entity's foreign key but keeps
	// the record. This is the default.
	CascadeDetach Cascade = "detach"
)

// AttrKind constrains the value type an attribute accepts.
type AttrKind string

const (
	KindString AttrKind = "string"
	KindInt    AttrKind = "int"
	KindFloat  AttrKind = "float"
	KindBool   AttrKind = "bool"
	KindAny    AttrKind = "any"
)

// Attribute describes one writable (or read-only) scalar field of a type.
type Attribute struct {
	Name string
	Kind AttrKind

	// ReadOnly attributes can never be changed through a document.
	ReadOnly bool

	// CreateOnly attributes can be set when the entity is first created
	// but are immutable afterwards.
	CreateOnly bool
}

// Association describes one edge of the graph as declared on an entity type.
type Association struct {
	Name       string
	Direction  Direction
	Collection bool

	// Target is the entity type on the other end.
	Target string

	// Inverse names the owning association on Target that holds the
	// foreign key back to us. Required for owned associations; used to
	// install reparent instructions and to find an entity's previous
	// parent when a forward reference has to be loaded from storage.
	Inverse string

	// Through names a join entity type for indirect collections. The
	// collection then consists of join rows owned by this node, each of
	// which owns a pointer (ThroughTarget) at the shared entity.
	Through       string
	ThroughTarget string

	// OrderAttr names the attribute on the member type that records list
	// position. Empty means the collection is unordered.
	OrderAttr string

	// OnRelease is the cascade policy for unclaimed released members.
	OnRelease Cascade
}

// Ordered reports whether collection members carry a position attribute.
func (a *Association) Ordered() bool { return a.OrderAttr != "" }

// Indirect reports whether the collection is mediated by a join type.
func (a *Association) Indirect() bool { return a.Through != "" }

// MemberType returns the type whose rows make up the collection: the join
// type for indirect associations, Target otherwise.
func (a *Association) MemberType() string {
	if a.Through != "" {
		return a.Through
	}
	return a.Target
}

// EntityType is the schema for one kind of node in the graph.
type EntityType struct {
	Name         string
	Attributes   map[string]*Attribute
	Associations map[string]*Association
}

// Attribute looks up a declared attribute by name.
func (t *EntityType) Attribute(name string) (*Attribute, bool) {
	a, ok := t.Attributes[name]
	return a, ok
}

// Association looks up a declared association by name.
func (t *EntityType) Association(name string) (*Association, bool) {
	a, ok := t.Associations[name]
	return a, ok
}

// AttributeNames returns declared attribute names in sorted order.
func (t *EntityType) AttributeNames() []string {
	names := make([]string, 0, len(t.Attributes))
	for n := range t.Attributes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// AssociationNames returns declared association names in sorted order.
func (t *EntityType) AssociationNames() []string {
	names := make([]string, 0, len(t.Associations))
	for n := range t.Associations {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Registry is the complete, validated set of entity types for one graph.
type Registry struct {
	types map[string]*EntityType
}

// NewRegistry validates the given types and assembles them into a Registry.
//
// Validation rules:
//   - type names must be unique
//   - association targets (and join types) must be declared
//   - owned associations must name an Inverse, and the inverse must exist
//     on the target as an owning singular association pointing back
//   - indirect associations must be owned collections, and ThroughTarget
//     must be an owning singular association on the join type
//   - OrderAttr must be a declared int attribute on the member type
func NewRegistry(types ...*EntityType) (*Registry, error) {
	r := &Registry{types: make(map[string]*EntityType, len(types))}
	for _, t := range types {
		if t.Name == "" {
			return nil, fmt.Errorf("schema: entity type with empty name")
		}
		if _, dup := r.types[t.Name]; dup {
			return nil, fmt.Errorf("schema: duplicate entity type %q", t.Name)
		}
		if t.Attributes == nil {
			t.Attributes = map[string]*Attribute{}
		}
		if t.Associations == nil {
			t.Associations = map[string]*Association{}
		}
		r.types[t.Name] = t
	}
	for _, t := range types {
		for _, a := range t.Associations {
			if err := r.validateAssociation(t, a); err != nil {
				return nil, err
			}
		}
	}
	return r, nil
}

func (r *Registry) validateAssociation(t *EntityType, a *Association) error {
	where := fmt.Sprintf("schema: %s.%s", t.Name, a.Name)

	if a.Direction != Owning && a.Direction != Owned {
		return fmt.Errorf("%s: invalid direction %q", where, a.Direction)
	}
	if a.OnRelease == "" {
		a.OnRelease = CascadeDetach
	}
	if a.OnRelease != CascadeDelete && a.OnRelease != CascadeDetach {
		return fmt.Errorf("%s: invalid on_release policy %q", where, a.OnRelease)
	}

	target, ok := r.types[a.Target]
	if !ok {
		return fmt.Errorf("%s: unknown target type %q", where, a.Target)
	}

	if a.Through != "" {
		join, ok := r.types[a.Through]
		if !ok {
			return fmt.Errorf("%s: unknown join type %q", where, a.Through)
		}
		if a.Direction != Owned || !a.Collection {
			return fmt.Errorf("%s: indirect associations must be owned collections", where)
		}
		tt, ok := join.Associations[a.ThroughTarget]
		if !ok {
			return fmt.Errorf("%s: join type %q has no association %q", where, a.Through, a.ThroughTarget)
		}
		if tt.Direction != Owning || tt.Collection {
			return fmt.Errorf("%s: through target %s.%s must be an owning singular association", where, a.Through, a.ThroughTarget)
		}
		if tt.Target != a.Target {
			return fmt.Errorf("%s: through target %s.%s points at %q, want %q", where, a.Through, a.ThroughTarget, tt.Target, a.Target)
		}
		target = join
	}

	if a.Direction == Owned {
		if a.Inverse == "" {
			return fmt.Errorf("%s: owned association requires an inverse", where)
		}
		memberType := r.types[a.MemberType()]
		inv, ok := memberType.Associations[a.Inverse]
		if !ok {
			return fmt.Errorf("%s: inverse %q not declared on %q", where, a.Inverse, memberType.Name)
		}
		if inv.Direction != Owning || inv.Collection {
			return fmt.Errorf("%s: inverse %s.%s must be an owning singular association", where, memberType.Name, a.Inverse)
		}
		if inv.Target != t.Name {
			return fmt.Errorf("%s: inverse %s.%s points at %q, want %q", where, memberType.Name, a.Inverse, inv.Target, t.Name)
		}
	}

	if a.OrderAttr != "" {
		if !a.Collection {
			return fmt.Errorf("%s: order attribute on a singular association", where)
		}
		member := target
		if a.Through == "" {
			member = r.types[a.Target]
		}
		attr, ok := member.Attributes[a.OrderAttr]
		if !ok {
			return fmt.Errorf("%s: order attribute %q not declared on %q", where, a.OrderAttr, member.Name)
		}
		if attr.Kind != KindInt {
			return fmt.Errorf("%s: order attribute %q must be an int attribute", where, a.OrderAttr)
		}
	}
	return nil
}

// Type looks up an entity type by name.
func (r *Registry) Type(name string) (*EntityType, bool) {
	t, ok := r.types[name]
	return t, ok
}

// TypeNames returns declared type names in sorted order.
func (r *Registry) TypeNames() []string {
	names := make([]string, 0, len(r.types))
	for n := range r.types {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// OwnerEdge pairs an entity type with one of its associations, identifying
// one direction in which that type can hold or disown members.
type OwnerEdge struct {
	Owner *EntityType
	Assoc *Association
}

// OwnedCounterparts returns every owned association, on any type, whose
// members are rows of memberType linked through the owning association named
// inverse. Used to reconstruct which parent-side association a loaded
// entity's foreign key serves.
func (r *Registry) OwnedCounterparts(memberType, inverse string) []OwnerEdge {
	var out []OwnerEdge
	for _, tn := range r.TypeNames() {
		t := r.types[tn]
		for _, an := range t.AssociationNames() {
			a := t.Associations[an]
			if a.Direction == Owned && a.MemberType() == memberType && a.Inverse == inverse {
				out = append(out, OwnerEdge{Owner: t, Assoc: a})
			}
		}
	}
	return out
}

// OwningReferrers returns every owning association, on any type, that points
// at typeName. The storage layer scans these to find which record currently
// holds a pointer at a given entity.
func (r *Registry) OwningReferrers(typeName string) []OwnerEdge {
	var out []OwnerEdge
	for _, tn := range r.TypeNames() {
		t := r.types[tn]
		for _, an := range t.AssociationNames() {
			a := t.Associations[an]
			if a.Direction == Owning && a.Target == typeName {
				out = append(out, OwnerEdge{Owner: t, Assoc: a})
			}
		}
	}
	return out
}
