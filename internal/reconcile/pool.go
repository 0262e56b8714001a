package reconcile

import (
	"sort"

	"github.com/graftkit/graft/internal/document"
	"github.com/graftkit/graft/internal/schema"
)

// poolEntry is one released entity: detached from its previous position
// during tree construction and available for reclamation elsewhere in the
// same batch. Entries never claimed by end of batch are cascade candidates,
// handled by the operation that released them.
type poolEntry struct {
	entity *Entity

	// assoc is the association the entity was released from; its
	// OnRelease policy decides the fate of an unclaimed entry.
	assoc *schema.Association

	claimed bool
}

// ReleasePool is the batch-scoped keyed pool of released entities. It is
// private to one reconciliation batch and never shared across batches.
type ReleasePool struct {
	entries map[document.Ref]*poolEntry
}

func newReleasePool() *ReleasePool {
	return &ReleasePool{entries: make(map[document.Ref]*poolEntry)}
}

// Release records an entity displaced from assoc. An entity can only hang
// off one position, so a second release of the same identity means the
// batch claimed it twice.
func (p *ReleasePool) Release(e *Entity, assoc *schema.Association) (*poolEntry, error) {
	ref := e.Ref()
	if _, dup := p.entries[ref]; dup {
		return nil, newError(ErrCodeDuplicateNodes, ref, "entity released twice in one batch")
	}
	entry := &poolEntry{entity: e, assoc: assoc}
	p.entries[ref] = entry
	return entry, nil
}

// Has reports whether an unclaimed entry exists for ref.
func (p *ReleasePool) Has(ref document.Ref) bool {
	entry, ok := p.entries[ref]
	return ok && !entry.claimed
}

// Claim takes the released entity for reuse elsewhere in the batch. Each
// entry can be claimed at most once.
func (p *ReleasePool) Claim(ref document.Ref) (*Entity, bool) {
	entry, ok := p.entries[ref]
	if !ok || entry.claimed {
		return nil, false
	}
	entry.claimed = true
	return entry.entity, true
}

// UnclaimedRefs returns the identities still unclaimed, in sorted order.
// Used for logging and tests; cascade handling walks per-operation release
// lists instead.
func (p *ReleasePool) UnclaimedRefs() []document.Ref {
	var refs []document.Ref
	for ref, entry := range p.entries {
		if !entry.claimed {
			refs = append(refs, ref)
		}
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Type != refs[j].Type {
			return refs[i].Type < refs[j].Type
		}
		return refs[i].ID < refs[j].ID
	})
	return refs
}
