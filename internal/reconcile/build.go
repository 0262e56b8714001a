package reconcile

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/graftkit/graft/internal/document"
	"github.com/graftkit/graft/internal/schema"
)

// batch is the shared mutable state of one reconciliation: the arena of
// tracked operations, the release pool, the worklist, and the reference
// table. It lives for exactly one Reconcile call and is never shared.
type batch struct {
	reg     *schema.Registry
	storage Storage
	refs    *ReferenceTable
	pool    *ReleasePool
	work    *Worklist
	idgen   func() string
	logger  *slog.Logger

	// ops is the arena: every tracked operation, keyed by identity.
	ops map[document.Ref]*UpdateOperation

	// roots holds the submitted root operations in submission order;
	// synthetic holds previous-parent roots added during the drain.
	roots     []*UpdateOperation
	synthetic []*UpdateOperation
}

func newBatch(reg *schema.Registry, storage Storage, refs map[string]*document.UpdateIntent, idgen func() string, logger *slog.Logger) *batch {
	return &batch{
		reg:     reg,
		storage: storage,
		refs:    newReferenceTable(refs),
		pool:    newReleasePool(),
		work:    newWorklist(),
		idgen:   idgen,
		logger:  logger,
		ops:     make(map[document.Ref]*UpdateOperation),
	}
}

// buildRoot binds and builds one submitted root intent. Roots with an id
// update existing records; the pool is consulted first so a root can
// reclaim an entity some earlier root displaced.
func (b *batch) buildRoot(ctx context.Context, intent *document.UpdateIntent) (*UpdateOperation, error) {
	if intent.ID == "" {
		op, err := b.newEntityOp(intent)
		if err != nil {
			return nil, err
		}
		b.roots = append(b.roots, op)
		return op, b.build(ctx, op)
	}

	ref := intent.Ref()
	if _, dup := b.ops[ref]; dup {
		return nil, newError(ErrCodeDuplicateNodes, ref, "entity already tracked in this batch")
	}

	ent, claimed := b.pool.Claim(ref)
	if !claimed {
		var err error
		ent, err = b.storage.Get(ctx, ref)
		if err != nil {
			return nil, err
		}
	}

	op := newOperation(intent)
	op.bind(ent, false)
	b.ops[ref] = op
	b.roots = append(b.roots, op)
	return op, b.build(ctx, op)
}

// newEntityOp constructs the operation for a brand-new entity, assigning
// its identity up front so it can be referenced before it is persisted.
func (b *batch) newEntityOp(intent *document.UpdateIntent) (*UpdateOperation, error) {
	e := NewEntity(intent.Type, b.idgen())
	op := newOperation(intent)
	op.bind(e, true)
	b.ops[e.Ref()] = op
	return op, nil
}

// build resolves an operation's intent into attribute assignments and
// child operations, recursing depth-first into every resolved child.
// Re-entry before completion is a cycle fault: the worklist drain, not
// recursion, is the only legal way to resolve forward references.
func (b *batch) build(ctx context.Context, op *UpdateOperation) error {
	switch op.state {
	case opBuilt, opRunning, opDone:
		return nil
	case opBuilding:
		return newError(ErrCodeCycle, op.Ref(), "operation re-entered while building")
	}
	if op.entity == nil {
		return newError(ErrCodeCycle, op.Ref(), "cannot build an unresolved operation")
	}
	op.state = opBuilding

	if op.intent != nil {
		if err := b.buildIntent(ctx, op); err != nil {
			return err
		}
	}

	op.state = opBuilt
	return nil
}

func (b *batch) buildIntent(ctx context.Context, op *UpdateOperation) error {
	intent := op.intent
	et, ok := b.reg.Type(intent.Type)
	if !ok {
		return newError(ErrCodeValidation, op.Ref(), "type %q not in registry", intent.Type)
	}

	if intent.Version != nil {
		if op.isNew {
			return newError(ErrCodeValidation, op.Ref(), "version token on a new entity")
		}
		// A stale token fails even when the submission changes nothing
		// and no write would have carried the check.
		if *intent.Version != op.entity.Version {
			return newError(ErrCodeLockFailure, op.Ref(),
				"version token %d does not match stored version %d",
				*intent.Version, op.entity.Version)
		}
		op.expectedVersion = intent.Version
	}

	for _, name := range sortedKeys(intent.Attrs) {
		attr, _ := et.Attribute(name)
		val := intent.Attrs[name]
		if attr.ReadOnly {
			return newError(ErrCodeReadOnlyAttribute, op.Ref(), "attribute %q is read-only", name)
		}
		if attr.CreateOnly && !op.isNew && !document.Equal(op.entity.Attr(name), val) {
			return newError(ErrCodeReadOnlyAttribute, op.Ref(), "attribute %q is immutable after create", name)
		}
		op.attrs[name] = val
	}

	for _, name := range sortedKeys(intent.Assocs) {
		assoc, _ := et.Association(name)
		ai := intent.Assocs[name]

		var err error
		switch {
		case assoc.Indirect():
			err = b.buildThrough(ctx, op, assoc, ai)
		case assoc.Direction == schema.Owning && !assoc.Collection:
			err = b.buildOwningSingle(ctx, op, assoc, ai)
		case assoc.Direction == schema.Owning:
			err = b.buildOwningList(ctx, op, assoc, ai)
		default:
			err = b.buildOwned(ctx, op, assoc, ai)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// release displaces an entity from assoc into the pool on behalf of op.
// If the entity is already bound to another operation in this batch, the
// displacement is satisfied by that claim and nothing enters the pool.
func (b *batch) release(op *UpdateOperation, ent *Entity, assoc *schema.Association) error {
	ref := ent.Ref()
	if existing, tracked := b.ops[ref]; tracked && existing.state != opPending {
		op.released = append(op.released, &poolEntry{entity: existing.entity, assoc: assoc, claimed: true})
		return nil
	}
	entry, err := b.pool.Release(ent, assoc)
	if err != nil {
		return err
	}
	op.released = append(op.released, entry)
	b.logger.Debug("released", "entity", ref, "association", assoc.Name)
	return nil
}

// resolveNode resolves one association target node to an operation.
// Reference markers are built at most once; later uses share the
// operation.
func (b *batch) resolveNode(ctx context.Context, owner *UpdateOperation, assoc *schema.Association, node *document.Node, prev map[document.Ref]*Entity) (*UpdateOperation, error) {
	if node.RefName != "" {
		entry, err := b.refs.Lookup(node.RefName)
		if err != nil {
			return nil, err
		}
		if entry.op != nil {
			return entry.op, nil
		}
		op, err := b.resolveIntent(ctx, owner, assoc, entry.intent, prev)
		if err != nil {
			return nil, err
		}
		entry.op = op
		return op, nil
	}
	return b.resolveIntent(ctx, owner, assoc, node.Intent, prev)
}

// resolveIntent locates or constructs the operation for an intent's target:
//
//	(a) no id                  → construct new
//	(b) among previous children → reuse the already-loaded record
//	(c) in the release pool     → claim it
//	(d) otherwise               → defer on the worklist
func (b *batch) resolveIntent(ctx context.Context, owner *UpdateOperation, assoc *schema.Association, intent *document.UpdateIntent, prev map[document.Ref]*Entity) (*UpdateOperation, error) {
	if intent.ID == "" {
		op, err := b.newEntityOp(intent)
		if err != nil {
			return nil, err
		}
		return op, b.build(ctx, op)
	}

	ref := intent.Ref()
	if existing, tracked := b.ops[ref]; tracked {
		// Same entity reached twice. A pure identity claim (a move)
		// shares the operation; a second set of edits is a conflict.
		if !intent.IdentityOnly() && existing.intent != intent {
			return nil, newError(ErrCodeDuplicateNodes, ref, "conflicting intents for one entity")
		}
		return existing, nil
	}

	if ent, ok := prev[ref]; ok {
		op := newOperation(intent)
		op.bind(ent, false)
		b.ops[ref] = op
		return op, b.build(ctx, op)
	}

	if ent, ok := b.pool.Claim(ref); ok {
		op := newOperation(intent)
		op.bind(ent, false)
		b.ops[ref] = op
		return op, b.build(ctx, op)
	}

	op := newOperation(intent)
	op.pendingAssoc = assoc
	op.pendingOwner = owner
	b.ops[ref] = op
	if err := b.work.Add(ref, op); err != nil {
		return nil, err
	}
	b.logger.Debug("deferred", "entity", ref, "association", assoc.Name)
	return op, nil
}

func (b *batch) buildOwningSingle(ctx context.Context, op *UpdateOperation, assoc *schema.Association, ai *document.AssocIntent) error {
	cur, hasCur := op.entity.Owner(assoc.Name)

	var target *UpdateOperation
	switch ai.Kind {
	case document.AssocClear:
		// target stays nil
	case document.AssocSingle:
		prev := map[document.Ref]*Entity{}
		if hasCur {
			if ref := nodeRef(b.refs, ai.Single); ref == cur {
				ent, err := b.storage.Get(ctx, cur)
				if err != nil {
					return err
				}
				prev[cur] = ent
			}
		}
		var err error
		target, err = b.resolveNode(ctx, op, assoc, ai.Single, prev)
		if err != nil {
			return err
		}
	default:
		return newAssocError(ErrCodeValidation, op.Ref(), assoc.Name, "unsupported shape for singular association")
	}

	op.owningSingle[assoc.Name] = target

	targetRef := document.Ref{}
	if target != nil {
		targetRef = target.Ref()
	}
	if hasCur && targetRef != cur {
		op.assocChanged = true
		old, err := b.storage.Get(ctx, cur)
		if err != nil {
			return err
		}
		if err := b.release(op, old, assoc); err != nil {
			return err
		}
	} else if !hasCur && target != nil {
		op.assocChanged = true
	}
	return nil
}

func (b *batch) buildOwningList(ctx context.Context, op *UpdateOperation, assoc *schema.Association, ai *document.AssocIntent) error {
	var prevEnts []*Entity
	if !op.isNew {
		var err error
		prevEnts, err = b.storage.Members(ctx, op.entity.Ref(), assoc)
		if err != nil {
			return err
		}
	}
	members, err := b.resolveCollection(ctx, op, assoc, ai, prevEnts)
	if err != nil {
		return err
	}
	op.owningList[assoc.Name] = members
	return nil
}

func (b *batch) buildOwned(ctx context.Context, op *UpdateOperation, assoc *schema.Association, ai *document.AssocIntent) error {
	var prevEnts []*Entity
	if !op.isNew {
		var err error
		prevEnts, err = b.storage.Members(ctx, op.entity.Ref(), assoc)
		if err != nil {
			return err
		}
	}

	if !assoc.Collection {
		if len(prevEnts) > 1 {
			return newAssocError(ErrCodeValidation, op.Ref(), assoc.Name, "singular association has %d members", len(prevEnts))
		}
		if ai.Kind == document.AssocList || ai.Kind == document.AssocFunctional {
			return newAssocError(ErrCodeValidation, op.Ref(), assoc.Name, "unsupported shape for singular association")
		}
	}

	members, err := b.resolveCollection(ctx, op, assoc, ai, prevEnts)
	if err != nil {
		return err
	}

	// Owned members carry the foreign key; each resolved member gets a
	// reparent instruction pointing back at us.
	for _, child := range members {
		if err := b.reparent(child, assoc.Inverse, op); err != nil {
			return err
		}
	}

	op.owned[assoc.Name] = members
	op.ownedTouched[assoc.Name] = assoc

	if assoc.Ordered() {
		b.applyOrdering(assoc, members)
	}
	return nil
}

// resolveCollection computes the target member operations for a collection
// (or owned singular) association, releasing previous members that drop
// out and detecting membership or order changes.
func (b *batch) resolveCollection(ctx context.Context, op *UpdateOperation, assoc *schema.Association, ai *document.AssocIntent, prevEnts []*Entity) ([]*UpdateOperation, error) {
	prev := make(map[document.Ref]*Entity, len(prevEnts))
	for _, e := range prevEnts {
		prev[e.Ref()] = e
	}

	var slots []*mergeSlot
	var orphans []*Entity
	switch ai.Kind {
	case document.AssocClear:
		// empty target list
	case document.AssocSingle:
		slots = []*mergeSlot{{node: ai.Single}}
	case document.AssocList:
		for _, node := range ai.List {
			slots = append(slots, &mergeSlot{node: node})
		}
	case document.AssocFunctional:
		res, err := mergeFunctional(op.Ref(), assoc, prevEnts, ai.Actions, b.refs)
		if err != nil {
			return nil, err
		}
		slots = res.members
		orphans = res.orphans
	}

	members := make([]*UpdateOperation, 0, len(slots))
	targetRefs := make(map[document.Ref]bool, len(slots))
	for _, slot := range slots {
		var child *UpdateOperation
		var err error
		if slot.node == nil {
			// Carried-over previous member, no submitted edits.
			child, err = b.carryMember(ctx, slot)
		} else {
			child, err = b.resolveNode(ctx, op, assoc, slot.node, prev)
		}
		if err != nil {
			return nil, err
		}
		members = append(members, child)
		targetRefs[child.Ref()] = true
	}

	// Previous members not in the target list are released. Functional
	// merges already isolated them as orphans; full replacements diff.
	if ai.Kind == document.AssocFunctional {
		for _, orphan := range orphans {
			if err := b.release(op, orphan, assoc); err != nil {
				return nil, err
			}
		}
	} else {
		for _, e := range prevEnts {
			if !targetRefs[e.Ref()] {
				if err := b.release(op, e, assoc); err != nil {
					return nil, err
				}
			}
		}
	}

	if !sameSequence(prevEnts, members) {
		op.assocChanged = true
	}
	return members, nil
}

// carryMember produces the operation for a previous member that stays put:
// bound to the already-loaded record, with no edits of its own.
func (b *batch) carryMember(ctx context.Context, slot *mergeSlot) (*UpdateOperation, error) {
	if existing, tracked := b.ops[slot.ref]; tracked {
		if existing.state != opPending {
			return existing, nil
		}
		// A worklist placeholder: another node forward-claimed this
		// member. Bind the placeholder to the loaded record instead of
		// shadowing it with a second operation, so competing claims meet
		// on one node and the reparent conflict check can fire.
		b.work.Remove(slot.ref)
		existing.bind(slot.prev, false)
		if err := b.build(ctx, existing); err != nil {
			return nil, err
		}
		return existing, nil
	}
	op := newOperation(nil)
	op.bind(slot.prev, false)
	b.ops[slot.ref] = op
	op.state = opBuilt
	return op, nil
}

// reparent installs the owning pointer instruction on a resolved member.
// Two different parents claiming the same member is a duplicate claim.
func (b *batch) reparent(child *UpdateOperation, inverse string, parent *UpdateOperation) error {
	if child.reparent != nil && child.reparent.parent != parent {
		return newError(ErrCodeDuplicateNodes, child.Ref(), "entity claimed by more than one parent")
	}
	child.reparent = &reparentInstr{assoc: inverse, parent: parent}
	return nil
}

// applyOrdering assigns positions for an ordered collection using the
// stable reposition algorithm: members whose stored position already
// extends the sequence keep it, everything else shifts minimally.
func (b *batch) applyOrdering(assoc *schema.Association, members []*UpdateOperation) {
	positions := make([]memberPos, len(members))
	for i, m := range members {
		if m.entity == nil || m.isNew {
			continue
		}
		if v, ok := m.entity.Attrs[assoc.OrderAttr]; ok {
			if n, isInt := v.(document.Int); isInt {
				positions[i] = memberPos{has: true, pos: int64(n)}
			}
		}
	}
	final, changed := reposition(positions)
	for i, m := range members {
		if changed[i] {
			m.position = &positionInstr{attr: assoc.OrderAttr, index: final[i]}
		}
	}
}

// buildThrough reconciles an indirect collection: the submitted members
// are the shared target entities (reference-named only), while the rows
// created, kept, and released are the join entities between this node and
// each target. Join identity is synthesized per (parent, target) pair.
func (b *batch) buildThrough(ctx context.Context, op *UpdateOperation, assoc *schema.Association, ai *document.AssocIntent) error {
	var prevJoins []*Entity
	if !op.isNew {
		var err error
		prevJoins, err = b.storage.Members(ctx, op.entity.Ref(), assoc)
		if err != nil {
			return err
		}
	}
	joinByTarget := make(map[document.Ref]*Entity, len(prevJoins))
	prevTargets := make([]document.Ref, 0, len(prevJoins))
	for _, join := range prevJoins {
		tRef, ok := join.Owner(assoc.ThroughTarget)
		if !ok {
			return newAssocError(ErrCodeValidation, op.Ref(), assoc.Name,
				"join row %s has no %s pointer", join.Ref(), assoc.ThroughTarget)
		}
		joinByTarget[tRef] = join
		prevTargets = append(prevTargets, tRef)
	}

	var slots []*mergeSlot
	var orphanTargets []document.Ref
	switch ai.Kind {
	case document.AssocClear:
	case document.AssocList:
		for _, node := range ai.List {
			slots = append(slots, &mergeSlot{node: node})
		}
	case document.AssocFunctional:
		prevShadow := make([]*Entity, 0, len(prevTargets))
		for _, tRef := range prevTargets {
			// The merger keys on target identity; a shell entity is
			// enough, the join row is mapped back afterwards.
			prevShadow = append(prevShadow, NewEntity(tRef.Type, tRef.ID))
		}
		res, err := mergeFunctional(op.Ref(), assoc, prevShadow, ai.Actions, b.refs)
		if err != nil {
			return err
		}
		slots = res.members
		for _, orphan := range res.orphans {
			orphanTargets = append(orphanTargets, orphan.Ref())
		}
	default:
		return newAssocError(ErrCodeValidation, op.Ref(), assoc.Name, "unsupported shape for indirect association")
	}

	members := make([]*UpdateOperation, 0, len(slots))
	targetOrder := make([]document.Ref, 0, len(slots))
	targetSeen := make(map[document.Ref]bool, len(slots))
	for _, slot := range slots {
		var targetOp *UpdateOperation
		var err error
		if slot.node == nil {
			targetOp, err = b.resolveShared(ctx, identityNode(slot.ref))
		} else {
			targetOp, err = b.resolveShared(ctx, slot.node)
		}
		if err != nil {
			return err
		}
		tRef := targetOp.Ref()
		if targetSeen[tRef] {
			return newAssocError(ErrCodeDuplicateNodes, op.Ref(), assoc.Name, "%s listed twice", tRef)
		}
		targetSeen[tRef] = true
		targetOrder = append(targetOrder, tRef)

		joinOp, err := b.joinFor(ctx, op, assoc, joinByTarget[tRef], targetOp)
		if err != nil {
			return err
		}
		members = append(members, joinOp)
	}

	// Joins whose target dropped out of the list are released.
	if ai.Kind == document.AssocFunctional {
		for _, tRef := range orphanTargets {
			if err := b.release(op, joinByTarget[tRef], assoc); err != nil {
				return err
			}
		}
	} else {
		for _, tRef := range prevTargets {
			if !targetSeen[tRef] {
				if err := b.release(op, joinByTarget[tRef], assoc); err != nil {
					return err
				}
			}
		}
	}

	if len(prevTargets) != len(targetOrder) {
		op.assocChanged = true
	} else {
		for i, tRef := range targetOrder {
			if tRef != prevTargets[i] {
				op.assocChanged = true
				break
			}
		}
	}

	op.owned[assoc.Name] = members
	op.ownedTouched[assoc.Name] = assoc

	if assoc.Ordered() {
		b.applyOrdering(assoc, members)
	}
	return nil
}

// resolveShared resolves a shared through-target. Shared entities are not
// claimed: they exist (or are created) independently of any one owner, so
// neither the pool nor the worklist participates.
func (b *batch) resolveShared(ctx context.Context, node *document.Node) (*UpdateOperation, error) {
	if node.RefName != "" {
		entry, err := b.refs.Lookup(node.RefName)
		if err != nil {
			return nil, err
		}
		if entry.op != nil {
			return entry.op, nil
		}
		op, err := b.resolveSharedIntent(ctx, entry.intent)
		if err != nil {
			return nil, err
		}
		entry.op = op
		return op, nil
	}
	return b.resolveSharedIntent(ctx, node.Intent)
}

func (b *batch) resolveSharedIntent(ctx context.Context, intent *document.UpdateIntent) (*UpdateOperation, error) {
	if intent.ID == "" {
		op, err := b.newEntityOp(intent)
		if err != nil {
			return nil, err
		}
		return op, b.build(ctx, op)
	}
	ref := intent.Ref()
	if existing, tracked := b.ops[ref]; tracked {
		if !intent.IdentityOnly() && existing.intent != intent {
			return nil, newError(ErrCodeDuplicateNodes, ref, "conflicting intents for one entity")
		}
		return existing, nil
	}
	ent, err := b.storage.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	op := newOperation(intent)
	op.bind(ent, false)
	b.ops[ref] = op
	return op, b.build(ctx, op)
}

// joinFor reuses the previous join row for a kept target or synthesizes a
// new one, wiring its owning pointer at the target and its reparent at us.
func (b *batch) joinFor(ctx context.Context, parent *UpdateOperation, assoc *schema.Association, prevJoin *Entity, targetOp *UpdateOperation) (*UpdateOperation, error) {
	if prevJoin != nil {
		joinOp, err := b.carryMember(ctx, &mergeSlot{ref: prevJoin.Ref(), prev: prevJoin})
		if err != nil {
			return nil, err
		}
		joinOp.owningSingle[assoc.ThroughTarget] = targetOp
		if err := b.reparent(joinOp, assoc.Inverse, parent); err != nil {
			return nil, err
		}
		return joinOp, nil
	}

	join := NewEntity(assoc.Through, b.idgen())
	joinOp := newOperation(nil)
	joinOp.bind(join, true)
	joinOp.state = opBuilt
	joinOp.owningSingle[assoc.ThroughTarget] = targetOp
	joinOp.assocChanged = true
	b.ops[join.Ref()] = joinOp
	if err := b.reparent(joinOp, assoc.Inverse, parent); err != nil {
		return nil, err
	}
	return joinOp, nil
}

// drain resolves deferred forward references until the worklist empties.
// Entries whose identity has shown up in the release pool are claimed and
// resumed; when nothing is claimable, one entry is loaded directly from
// storage and, for owned claims, its previous parent is synthesized as a
// root so authorization and cascade logic run against it too.
func (b *batch) drain(ctx context.Context) error {
	for !b.work.Empty() {
		progress := false
		for _, ref := range b.work.PendingRefs() {
			if !b.pool.Has(ref) {
				continue
			}
			ent, _ := b.pool.Claim(ref)
			op, _ := b.work.Remove(ref)
			op.bind(ent, false)
			if err := b.build(ctx, op); err != nil {
				return err
			}
			progress = true
		}
		if progress {
			continue
		}

		ref := b.work.PendingRefs()[0]
		op, _ := b.work.Remove(ref)
		ent, err := b.storage.Get(ctx, ref)
		if err != nil {
			return err
		}
		if err := b.synthesizeRelease(ctx, op, ent); err != nil {
			return err
		}
		if b.pool.Has(ref) {
			// The synthetic parent released it; claim keeps it off the
			// cascade path.
			ent, _ = b.pool.Claim(ref)
		}
		op.bind(ent, false)
		if err := b.build(ctx, op); err != nil {
			return err
		}
	}

	if orphaned := b.refs.Unconsumed(); len(orphaned) > 0 {
		return &Error{
			Code:    ErrCodeOrphanedReference,
			Message: "references never consumed: " + strings.Join(orphaned, ", "),
		}
	}
	return nil
}

// synthesizeRelease finds the previous parent of a storage-loaded forward
// reference and registers it as a synthetic root that is losing a child.
//
// Only owned claims carry a reliable inverse: the child's own foreign key
// names exactly one previous parent. Owning claims have no trustworthy
// inverse (any number of rows may point at the entity), so they claim
// directly from storage with no synthetic parent.
func (b *batch) synthesizeRelease(ctx context.Context, waiter *UpdateOperation, ent *Entity) error {
	assoc := waiter.pendingAssoc
	if assoc == nil || assoc.Direction != schema.Owned {
		return nil
	}

	fk := assoc.Inverse
	prevOwnerRef, ok := ent.Owners[fk]
	if !ok {
		return nil // truly unparented
	}

	var released *schema.Association
	for _, edge := range b.reg.OwnedCounterparts(ent.Type, fk) {
		if edge.Owner.Name != prevOwnerRef.Type {
			continue
		}
		if released != nil {
			return newError(ErrCodeValidation, ent.Ref(),
				"previous association on %s is ambiguous", prevOwnerRef)
		}
		released = edge.Assoc
	}
	if released == nil {
		return newError(ErrCodeValidation, ent.Ref(),
			"no association on %s could have held this entity", prevOwnerRef)
	}

	parentOp, tracked := b.ops[prevOwnerRef]
	if !tracked {
		parentEnt, err := b.storage.Get(ctx, prevOwnerRef)
		if err != nil {
			return err
		}
		parentOp = newOperation(nil)
		parentOp.bind(parentEnt, false)
		parentOp.state = opBuilt
		b.ops[prevOwnerRef] = parentOp
		b.synthetic = append(b.synthetic, parentOp)
		b.logger.Debug("synthesized previous parent", "parent", prevOwnerRef, "child", ent.Ref())
	}
	parentOp.assocChanged = true
	return b.release(parentOp, ent, released)
}

// nodeRef peeks at a node's identity without consuming references.
func nodeRef(refs *ReferenceTable, node *document.Node) document.Ref {
	if node.RefName != "" {
		intent, err := refs.Intent(node.RefName)
		if err != nil {
			return document.Ref{}
		}
		return intent.Ref()
	}
	return node.Intent.Ref()
}

// identityNode wraps a bare identity as an inline node, for carried-over
// through-targets.
func identityNode(ref document.Ref) *document.Node {
	return &document.Node{Intent: &document.UpdateIntent{
		Type:   ref.Type,
		ID:     ref.ID,
		Attrs:  map[string]document.Value{},
		Assocs: map[string]*document.AssocIntent{},
	}}
}

// sameSequence compares previous member order with the resolved target
// operations by identity.
func sameSequence(prev []*Entity, members []*UpdateOperation) bool {
	if len(prev) != len(members) {
		return false
	}
	for i, e := range prev {
		if members[i].Ref() != e.Ref() {
			return false
		}
	}
	return true
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
