package reconcile

import (
	"sort"

	"github.com/graftkit/graft/internal/document"
)

// ReferenceTable holds the document's named, out-of-line update intents.
// A reference may be pointed at from multiple places in the primary
// document; it is built exactly once, and later uses share the resulting
// operation. A reference no part of the document ever reached is an
// orphaned-reference validation error after the drain.
type ReferenceTable struct {
	entries map[string]*refEntry
}

type refEntry struct {
	intent *document.UpdateIntent

	// op is set once the reference has been built; later uses share it.
	op *UpdateOperation
}

func newReferenceTable(refs map[string]*document.UpdateIntent) *ReferenceTable {
	t := &ReferenceTable{entries: make(map[string]*refEntry, len(refs))}
	for name, intent := range refs {
		t.entries[name] = &refEntry{intent: intent}
	}
	return t
}

// Lookup returns the entry for name. A dangling name is a NOT_FOUND error.
func (t *ReferenceTable) Lookup(name string) (*refEntry, error) {
	entry, ok := t.entries[name]
	if !ok {
		return nil, &Error{
			Code:    ErrCodeNotFound,
			Message: "reference " + name + " is not defined",
		}
	}
	return entry, nil
}

// Intent returns the parsed intent behind name without consuming it. Used
// by the functional merger to key action values before any building runs.
func (t *ReferenceTable) Intent(name string) (*document.UpdateIntent, error) {
	entry, err := t.Lookup(name)
	if err != nil {
		return nil, err
	}
	return entry.intent, nil
}

// Unconsumed returns the names never built, in sorted order.
func (t *ReferenceTable) Unconsumed() []string {
	var names []string
	for name, entry := range t.entries {
		if entry.op == nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
