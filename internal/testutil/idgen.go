package testutil

import (
	"fmt"
	"sync"
)

// SeqIDGen mints sequential identities for tests.
//
// This enables deterministic test execution and golden snapshot comparison:
// the same scenario with the same SeqIDGen produces byte-identical graphs,
// where the production generator would mint random UUIDs.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type SeqIDGen struct {
	mu     sync.Mutex
	prefix string
	next   int
}

// NewSeqIDGen creates a generator producing "<prefix>-0001", "<prefix>-0002"
// and so on. An empty prefix defaults to "id".
func NewSeqIDGen(prefix string) *SeqIDGen {
	if prefix == "" {
		prefix = "id"
	}
	return &SeqIDGen{prefix: prefix, next: 0}
}

// Next returns the next identity in sequence.
func (g *SeqIDGen) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("%s-%04d", g.prefix, g.next)
}

// Reset restarts the sequence. After Reset the next identity is
// "<prefix>-0001" again.
func (g *SeqIDGen) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next = 0
}
