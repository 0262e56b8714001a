package reconcile

import (
	"context"
	"errors"
)

// Authorizer is consulted at every checkpoint the engine touches a node.
// The policy language behind these decisions is not the engine's concern;
// it only guarantees the checkpoints fire and that a rejection aborts the
// whole batch.
//
// Checkpoints:
//   - CanView before any other work on a node, against its current state
//   - CanEdit before persisting a node whose attributes or pointers
//     actually changed, with both before and after states
//   - CanDelete before cascading a released, unclaimed entity
//
// Returning an error other than a *Error wraps it as PERMISSIONS.
type Authorizer interface {
	CanView(ctx context.Context, e *Entity) error
	CanEdit(ctx context.Context, before, after *Entity) error
	CanDelete(ctx context.Context, e *Entity) error
}

// AllowAll is the Authorizer used when none is configured: every
// checkpoint passes.
type AllowAll struct{}

func (AllowAll) CanView(context.Context, *Entity) error           { return nil }
func (AllowAll) CanEdit(context.Context, *Entity, *Entity) error  { return nil }
func (AllowAll) CanDelete(context.Context, *Entity) error         { return nil }

const (
	checkView   = "view"
	checkEdit   = "edit"
	checkDelete = "delete"
)

// permissionError normalizes an authorizer rejection into a PERMISSIONS
// reconcile error carrying the node identity and checkpoint name.
func permissionError(err error, e *Entity, check string) error {
	if err == nil {
		return nil
	}
	var re *Error
	if errors.As(err, &re) {
		return re
	}
	return NewPermissionError(e.Ref(), check, err.Error())
}
