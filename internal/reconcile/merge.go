package reconcile

import (
	"github.com/graftkit/graft/internal/document"
	"github.com/graftkit/graft/internal/schema"
)

// mergeSlot is one member of the merged target list: either a previous
// member carried over (prev set, node nil), or a submitted payload still to
// be resolved by the builder (node set).
type mergeSlot struct {
	ref  document.Ref
	node *document.Node
	prev *Entity
}

// mergeResult is the outcome of applying an action list: the final ordered
// member list plus the previous members the actions removed.
type mergeResult struct {
	members []*mergeSlot
	orphans []*Entity
}

// mergeFunctional applies an ordered list of append/remove/update actions
// to the previous member list of one collection association.
//
// Rules enforced here:
//   - each distinct identity is the target of at most one action across
//     the whole list (simultaneous remove+append is a duplicate)
//   - append anchors must name a member of the current working list
//   - remove and update targets must be current members
//   - remove payloads must be identity-only
func mergeFunctional(
	parent document.Ref,
	assoc *schema.Association,
	prev []*Entity,
	actions []document.Action,
	refs *ReferenceTable,
) (*mergeResult, error) {
	m := &merger{
		parent: parent,
		assoc:  assoc,
		refs:   refs,
		acted:  make(map[document.Ref]document.ActionKind),
	}
	for _, e := range prev {
		m.working = append(m.working, &mergeSlot{ref: e.Ref(), prev: e})
	}

	for _, action := range actions {
		var err error
		switch action.Kind {
		case document.ActionAppend:
			err = m.applyAppend(action)
		case document.ActionRemove:
			err = m.applyRemove(action)
		case document.ActionUpdate:
			err = m.applyUpdate(action)
		}
		if err != nil {
			return nil, err
		}
	}

	return &mergeResult{members: m.working, orphans: m.orphans}, nil
}

type merger struct {
	parent  document.Ref
	assoc   *schema.Association
	refs    *ReferenceTable
	working []*mergeSlot
	orphans []*Entity

	// acted tracks which identities have already been targeted, enforcing
	// the at-most-one-action rule.
	acted map[document.Ref]document.ActionKind
}

// identify resolves an action value to its identity and keeps the node for
// later building. Reference markers are looked up without consuming them.
func (m *merger) identify(node *document.Node) (document.Ref, error) {
	intent := node.Intent
	if node.RefName != "" {
		var err error
		intent, err = m.refs.Intent(node.RefName)
		if err != nil {
			return document.Ref{}, err
		}
	}
	if intent.Type != m.assoc.Target {
		return document.Ref{}, newAssocError(ErrCodeValidation, m.parent, m.assoc.Name,
			"action value has type %q, association expects %q", intent.Type, m.assoc.Target)
	}
	return intent.Ref(), nil
}

// claimTarget enforces at-most-one action per identity. New members (no id
// yet) cannot collide and pass through.
func (m *merger) claimTarget(ref document.Ref, kind document.ActionKind) error {
	if ref.ID == "" {
		return nil
	}
	if prev, dup := m.acted[ref]; dup {
		return newAssocError(ErrCodeDuplicateNodes, m.parent, m.assoc.Name,
			"%s is targeted by both %s and %s actions", ref, prev, kind)
	}
	m.acted[ref] = kind
	return nil
}

// indexOf finds a member of the current working list by identity.
func (m *merger) indexOf(ref document.Ref) int {
	for i, slot := range m.working {
		if slot.ref == ref {
			return i
		}
	}
	return -1
}

func (m *merger) applyAppend(action document.Action) error {
	// Resolve the insertion point against the current working list first;
	// an anchor displaced by an earlier action is gone.
	at := len(m.working)
	if action.Position != document.AnchorEnd {
		anchor := document.Ref{Type: m.assoc.Target, ID: action.AnchorID}
		i := m.indexOf(anchor)
		if i < 0 {
			return newAssocError(ErrCodeNotFound, m.parent, m.assoc.Name,
				"append anchor %s is not a current member", anchor)
		}
		if action.Position == document.AnchorBefore {
			at = i
		} else {
			at = i + 1
		}
	}

	var incoming []*mergeSlot
	for _, node := range action.Values {
		ref, err := m.identify(node)
		if err != nil {
			return err
		}
		if err := m.claimTarget(ref, document.ActionAppend); err != nil {
			return err
		}
		slot := &mergeSlot{ref: ref, node: node}
		// An append of a current member is a move: it leaves its old
		// position and keeps its previous entity binding.
		if ref.ID != "" {
			if i := m.indexOf(ref); i >= 0 {
				slot.prev = m.working[i].prev
				m.working = append(m.working[:i], m.working[i+1:]...)
				if i < at {
					at--
				}
			}
		}
		incoming = append(incoming, slot)
	}

	tail := append([]*mergeSlot(nil), m.working[at:]...)
	m.working = append(append(m.working[:at], incoming...), tail...)
	return nil
}

func (m *merger) applyRemove(action document.Action) error {
	for _, node := range action.Values {
		if node.Intent != nil && !node.Intent.IdentityOnly() {
			return newAssocError(ErrCodeValidation, m.parent, m.assoc.Name,
				"remove payload must be identity-only")
		}
		ref, err := m.identify(node)
		if err != nil {
			return err
		}
		if err := m.claimTarget(ref, document.ActionRemove); err != nil {
			return err
		}
		i := m.indexOf(ref)
		if i < 0 {
			return newAssocError(ErrCodeStaleUpdate, m.parent, m.assoc.Name,
				"remove target %s is not a current member", ref)
		}
		if prev := m.working[i].prev; prev != nil {
			m.orphans = append(m.orphans, prev)
		}
		m.working = append(m.working[:i], m.working[i+1:]...)
	}
	return nil
}

func (m *merger) applyUpdate(action document.Action) error {
	for _, node := range action.Values {
		ref, err := m.identify(node)
		if err != nil {
			return err
		}
		if err := m.claimTarget(ref, document.ActionUpdate); err != nil {
			return err
		}
		i := m.indexOf(ref)
		if i < 0 {
			return newAssocError(ErrCodeStaleUpdate, m.parent, m.assoc.Name,
				"update target %s is not a current member", ref)
		}
		// Replace the member's intent in place; position is preserved.
		m.working[i].node = node
	}
	return nil
}
