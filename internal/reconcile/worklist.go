package reconcile

import (
	"sort"

	"github.com/graftkit/graft/internal/document"
)

// Worklist holds operations deferred on a forward reference: an association
// named an existing identity that was neither among the node's previous
// children nor in the release pool when it was visited. Entries resolve
// once a releasing ancestor is built, or at drain time from storage.
type Worklist struct {
	pending map[document.Ref]*UpdateOperation
}

func newWorklist() *Worklist {
	return &Worklist{pending: make(map[document.Ref]*UpdateOperation)}
}

// Add registers a placeholder operation waiting on ref. A released entity
// can be claimed at most once, so a second waiter for the same identity is
// a duplicate-claim error.
func (w *Worklist) Add(ref document.Ref, op *UpdateOperation) error {
	if _, dup := w.pending[ref]; dup {
		return newError(ErrCodeDuplicateNodes, ref, "entity claimed by more than one association")
	}
	w.pending[ref] = op
	return nil
}

// Remove takes the waiting operation for ref off the list.
func (w *Worklist) Remove(ref document.Ref) (*UpdateOperation, bool) {
	op, ok := w.pending[ref]
	if ok {
		delete(w.pending, ref)
	}
	return op, ok
}

// Empty reports whether anything is still pending.
func (w *Worklist) Empty() bool { return len(w.pending) == 0 }

// PendingRefs returns the deferred identities in sorted order, for a
// deterministic drain.
func (w *Worklist) PendingRefs() []document.Ref {
	refs := make([]document.Ref, 0, len(w.pending))
	for ref := range w.pending {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Type != refs[j].Type {
			return refs[i].Type < refs[j].Type
		}
		return refs[i].ID < refs[j].ID
	})
	return refs
}
