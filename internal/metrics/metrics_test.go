package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/graftkit/graft/internal/reconcile"
)

func TestObserveBatchOutcomes(t *testing.T) {
	Batches.Reset()
	BatchErrors.Reset()

	start := time.Now()
	ObserveBatch(start, "")
	if v := testutil.ToFloat64(Batches.WithLabelValues("committed")); v != 1 {
		t.Errorf("committed = %f, want 1", v)
	}

	ObserveBatch(start, "LOCK_FAILURE")
	if v := testutil.ToFloat64(Batches.WithLabelValues("failed")); v != 1 {
		t.Errorf("failed = %f, want 1", v)
	}
	if v := testutil.ToFloat64(BatchErrors.WithLabelValues("LOCK_FAILURE")); v != 1 {
		t.Errorf("errors[LOCK_FAILURE] = %f, want 1", v)
	}
}

func TestListenerCountsNodes(t *testing.T) {
	NodesVisited.Reset()
	NodesPersisted.Reset()

	var l Listener
	ctx := context.Background()
	e := reconcile.NewEntity("Task", "t1")

	if err := l.PreVisit(ctx, e); err != nil {
		t.Fatalf("PreVisit() failed: %v", err)
	}
	if err := l.BeforePersist(ctx, e, true); err != nil {
		t.Fatalf("BeforePersist() failed: %v", err)
	}
	if err := l.BeforePersist(ctx, e, false); err != nil {
		t.Fatalf("BeforePersist() failed: %v", err)
	}

	if v := testutil.ToFloat64(NodesVisited.WithLabelValues("Task")); v != 1 {
		t.Errorf("visited = %f, want 1", v)
	}
	if v := testutil.ToFloat64(NodesPersisted.WithLabelValues("Task", "insert")); v != 1 {
		t.Errorf("inserts = %f, want 1", v)
	}
	if v := testutil.ToFloat64(NodesPersisted.WithLabelValues("Task", "update")); v != 1 {
		t.Errorf("updates = %f, want 1", v)
	}
}

func TestListenerCountsReleases(t *testing.T) {
	NodesReleased.Reset()

	var l Listener
	ctx := context.Background()
	e := reconcile.NewEntity("Task", "t1")

	if err := l.OnRelease(ctx, e, true); err != nil {
		t.Fatalf("OnRelease() failed: %v", err)
	}
	if err := l.OnRelease(ctx, e, false); err != nil {
		t.Fatalf("OnRelease() failed: %v", err)
	}

	if v := testutil.ToFloat64(NodesReleased.WithLabelValues("Task", "delete")); v != 1 {
		t.Errorf("deletes = %f, want 1", v)
	}
	if v := testutil.ToFloat64(NodesReleased.WithLabelValues("Task", "detach")); v != 1 {
		t.Errorf("detaches = %f, want 1", v)
	}
}
