package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graftkit/graft/internal/document"
	"github.com/graftkit/graft/internal/reconcile"
	"github.com/graftkit/graft/internal/schema"
)

func TestSeqIDGen(t *testing.T) {
	gen := NewSeqIDGen("task")
	assert.Equal(t, "task-0001", gen.Next())
	assert.Equal(t, "task-0002", gen.Next())

	gen.Reset()
	assert.Equal(t, "task-0001", gen.Next())
}

func TestMemStoreTxIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	e := reconcile.NewEntity("Task", "t1")
	e.Attrs["title"] = document.String("before")
	store.Seed(e)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)

	got, err := tx.Get(ctx, document.Ref{Type: "Task", ID: "t1"})
	require.NoError(t, err)
	got.Attrs["title"] = document.String("after")
	require.NoError(t, tx.Update(ctx, got, 1))

	// Uncommitted writes are invisible outside the transaction.
	assert.Equal(t, document.String("before"), store.Get(document.Ref{Type: "Task", ID: "t1"}).Attrs["title"])

	require.NoError(t, tx.Commit())
	committed := store.Get(document.Ref{Type: "Task", ID: "t1"})
	assert.Equal(t, document.String("after"), committed.Attrs["title"])
	assert.Equal(t, int64(2), committed.Version)
}

func TestMemStoreRollback(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Insert(ctx, reconcile.NewEntity("Task", "t1")))
	require.NoError(t, tx.Rollback())

	assert.Zero(t, store.Len())
}

func TestMemStoreOptimisticLock(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	store.Seed(reconcile.NewEntity("Task", "t1"))

	tx, err := store.Begin(ctx)
	require.NoError(t, err)

	e, err := tx.Get(ctx, document.Ref{Type: "Task", ID: "t1"})
	require.NoError(t, err)

	err = tx.Update(ctx, e, 7)
	assert.True(t, reconcile.IsCode(err, reconcile.ErrCodeLockFailure))
}

func TestMemStoreMembersOrdering(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	owner := reconcile.NewEntity("List", "l1")
	store.Seed(owner)

	ownerRef := owner.Ref()
	for i, id := range []string{"c3", "c1", "c2"} {
		m := reconcile.NewEntity("Item", id)
		m.Owners["list"] = ownerRef
		m.Attrs["pos"] = document.Int(int64(2 - i))
		store.Seed(m)
	}

	assoc := &schema.Association{
		Name:       "items",
		Direction:  schema.Owned,
		Collection: true,
		Target:     "Item",
		Inverse:    "list",
		OrderAttr:  "pos",
	}

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	members, err := tx.Members(ctx, ownerRef, assoc)
	require.NoError(t, err)
	require.Len(t, members, 3)
	assert.Equal(t, "c2", members[0].ID)
	assert.Equal(t, "c1", members[1].ID)
	assert.Equal(t, "c3", members[2].ID)
}
