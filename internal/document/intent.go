package document

// UpdateIntent is one parsed document node: the typed, validated form of a
// submitted entity hash. It says which entity is meant (type plus optional
// id), which attributes to assign, and what to do with each association.
type UpdateIntent struct {
	// Type is the entity type name from the node's type tag.
	Type string

	// ID is the persisted identity, empty for new entities.
	ID string

	// New is set when the node carried an explicit new-entity flag.
	New bool

	// Version is the optimistic lock token, if submitted.
	Version *int64

	// Attrs maps attribute names to the values to assign.
	Attrs map[string]Value

	// Assocs maps association names to the submitted intent for that edge.
	Assocs map[string]*AssocIntent
}

// Ref returns the identity key of the node.
func (i *UpdateIntent) Ref() Ref {
	return Ref{Type: i.Type, ID: i.ID}
}

// IdentityOnly reports whether the intent carries nothing beyond type and
// id. Remove actions in functional updates require identity-only payloads.
func (i *UpdateIntent) IdentityOnly() bool {
	return len(i.Attrs) == 0 && len(i.Assocs) == 0 && i.Version == nil
}

// AssocKind discriminates the shapes an association value can take.
type AssocKind int

const (
	// AssocClear is an explicit null: drop the association target(s).
	AssocClear AssocKind = iota

	// AssocSingle is a single inline node or reference name.
	AssocSingle

	// AssocList is a full-replacement member list.
	AssocList

	// AssocFunctional is an ordered list of append/remove/update actions
	// applied to the previous member list.
	AssocFunctional
)

// AssocIntent is the parsed value submitted for one association.
type AssocIntent struct {
	Kind AssocKind

	// Single holds the target for AssocSingle.
	Single *Node

	// List holds the replacement members for AssocList.
	List []*Node

	// Actions holds the ordered action list for AssocFunctional.
	Actions []Action
}

// Node is one association target: either an inline intent or the name of
// an out-of-line reference defined in the document's references map.
type Node struct {
	// RefName is non-empty when the value was a reference marker.
	RefName string

	// Intent is the inline node, nil when RefName is set.
	Intent *UpdateIntent
}

// ActionKind discriminates functional update actions.
type ActionKind string

const (
	ActionAppend ActionKind = "append"
	ActionRemove ActionKind = "remove"
	ActionUpdate ActionKind = "update"
)

// AnchorPosition says where an append lands relative to its anchor.
type AnchorPosition string

const (
	// AnchorEnd appends after the last current member.
	AnchorEnd AnchorPosition = "end"

	// AnchorBefore inserts immediately before the anchor member.
	AnchorBefore AnchorPosition = "before"

	// AnchorAfter inserts immediately after the anchor member.
	AnchorAfter AnchorPosition = "after"
)

// Action is one step of a functional collection update.
type Action struct {
	Kind ActionKind

	// Position and AnchorID place appended members. Position is AnchorEnd
	// unless a before/after anchor was given; AnchorID then names the
	// current member the insertion is relative to.
	Position AnchorPosition
	AnchorID string

	// Values are the action's payload nodes. For removes they must be
	// identity-only; for updates each must name an existing member.
	Values []*Node
}

// Document is the fully parsed submission: root intents in submission
// order plus the named out-of-line references they may point at.
type Document struct {
	Roots      []*UpdateIntent
	References map[string]*UpdateIntent
}
