package reconcile

import (
	"context"
	"log/slog"

	"github.com/graftkit/graft/internal/document"
	"github.com/graftkit/graft/internal/schema"
)

// executor walks the built operation graph and applies it, one node at a
// time, inside the batch's transaction. Each operation runs exactly once;
// shared operations return their cached result on later visits.
type executor struct {
	batch     *batch
	authz     Authorizer
	listeners listeners
	logger    *slog.Logger
}

// run executes one operation. The fixed order per node:
//
//  1. visibility check and pre-visit hooks
//  2. reparent (owning pointer from an owned-side claim)
//  3. position write for ordered collections
//  4. attribute assignments
//  5. owning children, then owning pointers from their results
//  6. change detection, change hooks, edit check
//  7. persist (insert or optimistic update)
//  8. owned children, then owned-cache fix-up
//  9. cascade of released entities still unclaimed
func (x *executor) run(ctx context.Context, op *UpdateOperation) (*Entity, error) {
	switch op.state {
	case opDone:
		return op.result, nil
	case opRunning:
		return nil, newError(ErrCodeCycle, op.Ref(), "operation re-entered while running")
	case opPending, opBuilding:
		return nil, newError(ErrCodeCycle, op.Ref(), "operation was never resolved")
	}
	op.state = opRunning
	e := op.entity

	if !op.isNew {
		if err := x.authz.CanView(ctx, e); err != nil {
			return nil, permissionError(err, e, checkView)
		}
	}
	if err := x.listeners.preVisit(ctx, e); err != nil {
		return nil, err
	}

	pointerChanged := false
	if rp := op.reparent; rp != nil {
		want := rp.parent.entity.Ref()
		if cur, ok := e.Owners[rp.assoc]; !ok || cur != want {
			e.Owners[rp.assoc] = want
			pointerChanged = true
		}
	}

	positionChanged := false
	if p := op.position; p != nil {
		if !document.Equal(e.Attr(p.attr), document.Int(p.index)) {
			e.Attrs[p.attr] = document.Int(p.index)
			positionChanged = true
		}
	}

	attrChanged := false
	for _, name := range sortedKeys(op.attrs) {
		v := op.attrs[name]
		if !document.Equal(e.Attr(name), v) {
			e.Attrs[name] = v
			attrChanged = true
		}
	}

	// Owning children run before this node persists so their identities
	// are real rows by the time our foreign keys point at them.
	for _, name := range sortedKeys(op.owningSingle) {
		child := op.owningSingle[name]
		if child == nil {
			if _, ok := e.Owners[name]; ok {
				delete(e.Owners, name)
				pointerChanged = true
			}
			continue
		}
		res, err := x.run(ctx, child)
		if err != nil {
			return nil, err
		}
		if cur, ok := e.Owners[name]; !ok || cur != res.Ref() {
			e.Owners[name] = res.Ref()
			pointerChanged = true
		}
	}
	for _, name := range sortedKeys(op.owningList) {
		refs := make([]document.Ref, 0, len(op.owningList[name]))
		for _, child := range op.owningList[name] {
			res, err := x.run(ctx, child)
			if err != nil {
				return nil, err
			}
			refs = append(refs, res.Ref())
		}
		if !equalRefs(e.Links[name], refs) {
			e.Links[name] = refs
			pointerChanged = true
		}
	}

	changed := attrChanged || pointerChanged
	if changed {
		if err := x.listeners.onChange(ctx, op.before, e); err != nil {
			return nil, err
		}
	}
	if changed || op.assocChanged {
		if err := x.authz.CanEdit(ctx, op.before, e); err != nil {
			return nil, permissionError(err, e, checkEdit)
		}
	}

	// Position writes persist without counting as an edit; the parent of
	// the reordered collection carried the authorization.
	if op.isNew {
		e.Version = 1
		if err := x.listeners.beforePersist(ctx, e, true); err != nil {
			return nil, err
		}
		if err := x.batch.storage.Insert(ctx, e); err != nil {
			return nil, err
		}
		x.logger.Debug("inserted", "entity", e.Ref())
	} else if changed || positionChanged {
		expected := e.Version
		if op.expectedVersion != nil {
			expected = *op.expectedVersion
		}
		if err := x.listeners.beforePersist(ctx, e, false); err != nil {
			return nil, err
		}
		if err := x.batch.storage.Update(ctx, e, expected); err != nil {
			return nil, err
		}
		x.logger.Debug("updated", "entity", e.Ref(), "version", e.Version)
	}

	// Owned children run after this node persists: their foreign keys
	// point back at a row that now exists.
	for _, name := range sortedKeys(op.owned) {
		refs := make([]document.Ref, 0, len(op.owned[name]))
		for _, child := range op.owned[name] {
			res, err := x.run(ctx, child)
			if err != nil {
				return nil, err
			}
			refs = append(refs, res.Ref())
		}
		e.Owned[name] = refs
	}

	if err := x.cascade(ctx, op); err != nil {
		return nil, err
	}

	if err := x.listeners.afterVisit(ctx, e); err != nil {
		return nil, err
	}
	op.result = e
	op.state = opDone
	return e, nil
}

// cascade applies each released, still-unclaimed entity's policy: delete
// removes the record and everything it still owns, detach clears the
// owning pointer and keeps it.
func (x *executor) cascade(ctx context.Context, op *UpdateOperation) error {
	for _, entry := range op.released {
		if entry.claimed {
			continue
		}
		if err := x.applyRelease(ctx, entry.entity, entry.assoc, map[document.Ref]bool{}); err != nil {
			return err
		}
	}
	return nil
}

// applyRelease applies one released entity's cascade policy. Deleting a
// node first releases its own owned members, each under its association's
// policy, so no surviving row keeps a pointer at a removed owner.
func (x *executor) applyRelease(ctx context.Context, rel *Entity, assoc *schema.Association, seen map[document.Ref]bool) error {
	if seen[rel.Ref()] {
		return nil
	}
	seen[rel.Ref()] = true

	if err := x.authz.CanDelete(ctx, rel); err != nil {
		return permissionError(err, rel, checkDelete)
	}

	if assoc.OnRelease == schema.CascadeDetach {
		if assoc.Direction == schema.Owned {
			fk := assoc.Inverse
			if _, ok := rel.Owners[fk]; ok {
				delete(rel.Owners, fk)
				if err := x.batch.storage.Update(ctx, rel, rel.Version); err != nil {
					return err
				}
			}
		}
		// Released from the owning side the pointer already moved
		// with the releasing node; nothing to write here.
		x.logger.Debug("detached", "entity", rel.Ref())
		return x.listeners.onRelease(ctx, rel, false)
	}

	et, ok := x.batch.reg.Type(rel.Type)
	if !ok {
		return newError(ErrCodeValidation, rel.Ref(), "type %q not in registry", rel.Type)
	}
	for _, name := range et.AssociationNames() {
		child, _ := et.Association(name)
		if child.Direction != schema.Owned {
			continue
		}
		members, err := x.batch.storage.Members(ctx, rel.Ref(), child)
		if err != nil {
			return err
		}
		for _, m := range members {
			if tracked, ok := x.batch.ops[m.Ref()]; ok && tracked.state != opPending {
				// Claimed elsewhere in the batch; its own operation
				// decides what happens to it.
				continue
			}
			if err := x.applyRelease(ctx, m, child, seen); err != nil {
				return err
			}
		}
	}

	if err := x.batch.storage.Delete(ctx, rel.Ref()); err != nil {
		return err
	}
	x.logger.Debug("deleted", "entity", rel.Ref())
	return x.listeners.onRelease(ctx, rel, true)
}

func equalRefs(a, b []document.Ref) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
