package reconcile

import "context"

// Listener observes operation lifecycle points during execution. Listeners
// are invoked in registration order through this fixed interface; there is
// no method probing. Errors from listeners abort the batch like any other.
type Listener interface {
	// PreVisit fires after the visibility check, before any mutation.
	PreVisit(ctx context.Context, e *Entity) error

	// OnChange fires when an attribute or owning pointer actually
	// changed, before the edit authorization check.
	OnChange(ctx context.Context, before, after *Entity) error

	// BeforePersist fires immediately before the node is written.
	BeforePersist(ctx context.Context, e *Entity, isNew bool) error

	// AfterVisit fires once the node and all its children have run.
	AfterVisit(ctx context.Context, e *Entity) error

	// OnRelease fires when an unclaimed released node's cascade policy
	// has been applied. deleted is false for a detach.
	OnRelease(ctx context.Context, e *Entity, deleted bool) error
}

// BaseListener is a no-op Listener for embedding, so implementations only
// override the hooks they care about.
type BaseListener struct{}

func (BaseListener) PreVisit(context.Context, *Entity) error            { return nil }
func (BaseListener) OnChange(context.Context, *Entity, *Entity) error   { return nil }
func (BaseListener) BeforePersist(context.Context, *Entity, bool) error { return nil }
func (BaseListener) AfterVisit(context.Context, *Entity) error          { return nil }
func (BaseListener) OnRelease(context.Context, *Entity, bool) error     { return nil }

type listeners []Listener

func (ls listeners) preVisit(ctx context.Context, e *Entity) error {
	for _, l := range ls {
		if err := l.PreVisit(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (ls listeners) onChange(ctx context.Context, before, after *Entity) error {
	for _, l := range ls {
		if err := l.OnChange(ctx, before, after); err != nil {
			return err
		}
	}
	return nil
}

func (ls listeners) beforePersist(ctx context.Context, e *Entity, isNew bool) error {
	for _, l := range ls {
		if err := l.BeforePersist(ctx, e, isNew); err != nil {
			return err
		}
	}
	return nil
}

func (ls listeners) afterVisit(ctx context.Context, e *Entity) error {
	for _, l := range ls {
		if err := l.AfterVisit(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (ls listeners) onRelease(ctx context.Context, e *Entity, deleted bool) error {
	for _, l := range ls {
		if err := l.OnRelease(ctx, e, deleted); err != nil {
			return err
		}
	}
	return nil
}
