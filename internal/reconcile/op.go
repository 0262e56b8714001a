package reconcile

import (
	"github.com/graftkit/graft/internal/document"
	"github.com/graftkit/graft/internal/schema"
)

// opState is the lifecycle of an UpdateOperation. Operations are created
// pending, become built once their association intents are recursively
// resolved, and run exactly once. Re-entry while building or running is a
// cycle fault.
type opState int

const (
	// opPending: placeholder on the worklist, entity not yet bound.
	opPending opState = iota

	// opBuilding: build in progress (re-entry here is a cycle).
	opBuilding

	// opBuilt: ready for the execution engine.
	opBuilt

	// opRunning: run in progress (re-entry here is a cycle).
	opRunning

	// opDone: run complete, result cached.
	opDone
)

// UpdateOperation is one node of the mutation graph: a bound entity plus
// everything the batch wants to do to it. The builder owns the tree while
// constructing it; the execution engine owns it during the single run pass.
type UpdateOperation struct {
	state opState

	// intent is the parsed document node this operation came from. nil
	// for synthetic previous-parent roots, which carry no edits of their
	// own.
	intent *document.UpdateIntent

	// entity is the bound record: loaded, claimed, or newly constructed.
	// nil while the operation is a worklist placeholder.
	entity *Entity

	// before is a clone of the entity as loaded, for change detection and
	// the edit authorization check. nil for new entities.
	before *Entity

	isNew bool

	// expectedVersion is the submitted optimistic lock token, if any.
	expectedVersion *int64

	// attrs are the attribute assignments to apply.
	attrs map[string]document.Value

	// owningSingle maps owning singular associations to their resolved
	// child operation; a nil value means "clear the pointer".
	owningSingle map[string]*UpdateOperation

	// owningList maps owning collection associations to their resolved,
	// ordered member operations.
	owningList map[string][]*UpdateOperation

	// owned maps owned associations to their resolved member operations
	// (at most one for singular associations).
	owned map[string][]*UpdateOperation

	// ownedTouched records which owned associations the intent addressed,
	// so the run pass can fix up caches even when the target set is empty.
	ownedTouched map[string]*schema.Association

	// reparent, when set, installs a new owning pointer on this node: the
	// named association (on this node) is pointed at the parent operation's
	// entity during the run pass.
	reparent *reparentInstr

	// position, when set, assigns this node's slot in an ordered
	// collection. Position writes persist but do not count as edits for
	// authorization; the collection's parent carries that change instead.
	position *positionInstr

	// released lists the pool entries this operation displaced. Entries
	// still unclaimed when the operation runs are detached or deleted per
	// their association's policy.
	released []*poolEntry

	// assocChanged marks that membership or order of some association on
	// this node changed, triggering the edit checkpoint even without
	// attribute edits. Synthetic previous-parent roots set only this.
	assocChanged bool

	// pendingAssoc remembers, for a worklist placeholder, which
	// association wants to claim the entity once it resolves.
	pendingAssoc *schema.Association
	pendingOwner *UpdateOperation

	// result caches the persisted entity after the run pass.
	result *Entity
}

// Ref returns the identity the operation is about. Placeholders fall back
// to the intent's identity.
func (op *UpdateOperation) Ref() document.Ref {
	if op.entity != nil {
		return op.entity.Ref()
	}
	if op.intent != nil {
		return op.intent.Ref()
	}
	return document.Ref{}
}

func newOperation(intent *document.UpdateIntent) *UpdateOperation {
	return &UpdateOperation{
		state:        opPending,
		intent:       intent,
		attrs:        map[string]document.Value{},
		owningSingle: map[string]*UpdateOperation{},
		owningList:   map[string][]*UpdateOperation{},
		owned:        map[string][]*UpdateOperation{},
		ownedTouched: map[string]*schema.Association{},
	}
}

// bind attaches the resolved entity to the operation.
func (op *UpdateOperation) bind(e *Entity, isNew bool) {
	op.entity = e
	op.isNew = isNew
	if !isNew {
		op.before = e.Clone()
	}
}

type reparentInstr struct {
	// assoc is the owning association on this node that receives the
	// pointer (the inverse of the owned association being reconciled).
	assoc  string
	parent *UpdateOperation
}

type positionInstr struct {
	attr  string
	index int64
}
