package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graftkit/graft/internal/document"
	"github.com/graftkit/graft/internal/schema"
)

var itemsAssoc = &schema.Association{
	Name:       "items",
	Direction:  schema.Owned,
	Collection: true,
	Target:     "Item",
	Inverse:    "list",
}

func member(id string) *Entity { return NewEntity("Item", id) }

func payload(id string, attrs map[string]document.Value) *document.Node {
	if attrs == nil {
		attrs = map[string]document.Value{}
	}
	return &document.Node{Intent: &document.UpdateIntent{
		Type:   "Item",
		ID:     id,
		Attrs:  attrs,
		Assocs: map[string]*document.AssocIntent{},
	}}
}

func memberIDs(res *mergeResult) []string {
	ids := make([]string, 0, len(res.members))
	for _, slot := range res.members {
		ids = append(ids, slot.ref.ID)
	}
	return ids
}

func runMerge(t *testing.T, prev []*Entity, actions []document.Action) (*mergeResult, error) {
	t.Helper()
	parent := document.Ref{Type: "List", ID: "l1"}
	refs := newReferenceTable(nil)
	return mergeFunctional(parent, itemsAssoc, prev, actions, refs)
}

func TestMergeAppendAtEnd(t *testing.T) {
	prev := []*Entity{member("a"), member("b")}
	res, err := runMerge(t, prev, []document.Action{
		{Kind: document.ActionAppend, Position: document.AnchorEnd, Values: []*document.Node{payload("c", nil)}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, memberIDs(res))
	assert.Empty(t, res.orphans)
}

func TestMergeAppendBeforeAnchor(t *testing.T) {
	prev := []*Entity{member("a"), member("b")}
	res, err := runMerge(t, prev, []document.Action{
		{Kind: document.ActionAppend, Position: document.AnchorBefore, AnchorID: "b",
			Values: []*document.Node{payload("c", nil)}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c", "b"}, memberIDs(res))
}

func TestMergeAppendAfterAnchor(t *testing.T) {
	prev := []*Entity{member("a"), member("b")}
	res, err := runMerge(t, prev, []document.Action{
		{Kind: document.ActionAppend, Position: document.AnchorAfter, AnchorID: "a",
			Values: []*document.Node{payload("c", nil)}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c", "b"}, memberIDs(res))
}

func TestMergeAppendMissingAnchor(t *testing.T) {
	_, err := runMerge(t, []*Entity{member("a")}, []document.Action{
		{Kind: document.ActionAppend, Position: document.AnchorBefore, AnchorID: "ghost",
			Values: []*document.Node{payload("c", nil)}},
	})
	assert.True(t, IsCode(err, ErrCodeNotFound))
}

func TestMergeAppendExistingMemberIsMove(t *testing.T) {
	prev := []*Entity{member("a"), member("b"), member("c")}
	res, err := runMerge(t, prev, []document.Action{
		{Kind: document.ActionAppend, Position: document.AnchorEnd, Values: []*document.Node{payload("a", nil)}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "a"}, memberIDs(res))
	// A move keeps the previous entity binding and orphans nothing.
	assert.Empty(t, res.orphans)
	assert.NotNil(t, res.members[2].prev)
}

func TestMergeMoveBeforeEarlierAnchor(t *testing.T) {
	prev := []*Entity{member("a"), member("b"), member("c")}
	res, err := runMerge(t, prev, []document.Action{
		{Kind: document.ActionAppend, Position: document.AnchorBefore, AnchorID: "a",
			Values: []*document.Node{payload("c", nil)}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, memberIDs(res))
}

func TestMergeRemove(t *testing.T) {
	prev := []*Entity{member("a"), member("b")}
	res, err := runMerge(t, prev, []document.Action{
		{Kind: document.ActionRemove, Values: []*document.Node{payload("a", nil)}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, memberIDs(res))
	require.Len(t, res.orphans, 1)
	assert.Equal(t, "a", res.orphans[0].ID)
}

func TestMergeRemoveNonMember(t *testing.T) {
	_, err := runMerge(t, []*Entity{member("a")}, []document.Action{
		{Kind: document.ActionRemove, Values: []*document.Node{payload("ghost", nil)}},
	})
	assert.True(t, IsCode(err, ErrCodeStaleUpdate))
}

func TestMergeRemovePayloadMustBeIdentityOnly(t *testing.T) {
	_, err := runMerge(t, []*Entity{member("a")}, []document.Action{
		{Kind: document.ActionRemove, Values: []*document.Node{
			payload("a", map[string]document.Value{"title": document.String("x")}),
		}},
	})
	assert.True(t, IsCode(err, ErrCodeValidation))
}

func TestMergeUpdatePreservesPosition(t *testing.T) {
	prev := []*Entity{member("a"), member("b"), member("c")}
	res, err := runMerge(t, prev, []document.Action{
		{Kind: document.ActionUpdate, Values: []*document.Node{
			payload("b", map[string]document.Value{"title": document.String("renamed")}),
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, memberIDs(res))
	assert.NotNil(t, res.members[1].node)
}

func TestMergeUpdateNonMember(t *testing.T) {
	_, err := runMerge(t, []*Entity{member("a")}, []document.Action{
		{Kind: document.ActionUpdate, Values: []*document.Node{payload("ghost", nil)}},
	})
	assert.True(t, IsCode(err, ErrCodeStaleUpdate))
}

func TestMergeDuplicateTargetAcrossActions(t *testing.T) {
	_, err := runMerge(t, []*Entity{member("a")}, []document.Action{
		{Kind: document.ActionRemove, Values: []*document.Node{payload("a", nil)}},
		{Kind: document.ActionAppend, Position: document.AnchorEnd, Values: []*document.Node{payload("a", nil)}},
	})
	assert.True(t, IsCode(err, ErrCodeDuplicateNodes))
}

func TestMergeWrongTargetType(t *testing.T) {
	wrong := &document.Node{Intent: &document.UpdateIntent{
		Type:   "User",
		ID:     "u1",
		Attrs:  map[string]document.Value{},
		Assocs: map[string]*document.AssocIntent{},
	}}
	_, err := runMerge(t, nil, []document.Action{
		{Kind: document.ActionAppend, Position: document.AnchorEnd, Values: []*document.Node{wrong}},
	})
	assert.True(t, IsCode(err, ErrCodeValidation))
}

func TestMergeActionsApplyInOrder(t *testing.T) {
	// Remove b, then append d before c: the anchor is resolved against
	// the list as it stands after the removal.
	prev := []*Entity{member("a"), member("b"), member("c")}
	res, err := runMerge(t, prev, []document.Action{
		{Kind: document.ActionRemove, Values: []*document.Node{payload("b", nil)}},
		{Kind: document.ActionAppend, Position: document.AnchorBefore, AnchorID: "c",
			Values: []*document.Node{payload("d", nil)}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "d", "c"}, memberIDs(res))
}
