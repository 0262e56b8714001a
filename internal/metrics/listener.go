package metrics

import (
	"context"

	"github.com/graftkit/graft/internal/reconcile"
)

// Listener is a reconcile.Listener that feeds the node-level counters.
// Register it through reconcile.Options.Listeners.
type Listener struct {
	reconcile.BaseListener
}

func (Listener) PreVisit(ctx context.Context, e *reconcile.Entity) error {
	NodesVisited.WithLabelValues(e.Type).Inc()
	return nil
}

func (Listener) BeforePersist(ctx context.Context, e *reconcile.Entity, isNew bool) error {
	kind := "update"
	if isNew {
		kind = "insert"
	}
	NodesPersisted.WithLabelValues(e.Type, kind).Inc()
	return nil
}

func (Listener) OnRelease(ctx context.Context, e *reconcile.Entity, deleted bool) error {
	policy := "detach"
	if deleted {
		policy = "delete"
	}
	NodesReleased.WithLabelValues(e.Type, policy).Inc()
	return nil
}
