// Package harness runs end-to-end conformance scenarios against the
// reconciliation engine.
//
// A scenario is a YAML file naming a CUE schema, a seeded graph, and a
// sequence of update documents. Each scenario runs against a fresh
// in-memory SQLite database with a sequential identity generator, so the
// same scenario always produces a byte-identical graph. The final graph
// is dumped in canonical JSON and compared against a golden file under
// testdata/golden; regenerate with
//
//	go test ./internal/harness -update
package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/graftkit/graft/internal/document"
	"github.com/graftkit/graft/internal/reconcile"
	"github.com/graftkit/graft/internal/schema"
	"github.com/graftkit/graft/internal/store"
	"github.com/graftkit/graft/internal/testutil"
)

// Snapshot is the final graph of a scenario run.
type Snapshot struct {
	Entities []*reconcile.Entity
}

// Run executes a scenario against a fresh in-memory database and returns
// the final graph. A step that fails with its expected error code leaves
// the graph as the previous step committed it; any other failure aborts
// the run.
func Run(scenario *Scenario) (*Snapshot, error) {
	reg, err := schema.CompileFile(scenario.Schema)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	st, err := store.Open(":memory:", reg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	if err := seed(ctx, st, reg, scenario.Seed); err != nil {
		return nil, err
	}

	rec := reconcile.New(reg, st, reconcile.Options{
		IDGen:  testutil.NewSeqIDGen("gen").Next,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	for i, step := range scenario.Steps {
		err := applyStep(ctx, rec, reg, step, scenario.RootType)
		if step.ExpectError != "" {
			if err == nil {
				return nil, fmt.Errorf("steps[%d]: expected %s, but the step committed", i, step.ExpectError)
			}
			if code := errorCode(err); code != step.ExpectError {
				return nil, fmt.Errorf("steps[%d]: expected %s, got %s: %w", i, step.ExpectError, code, err)
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	entities, err := st.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("dump graph: %w", err)
	}
	return &Snapshot{Entities: entities}, nil
}

func applyStep(ctx context.Context, rec *reconcile.Reconciler, reg *schema.Registry, step Step, rootType string) error {
	doc, err := document.Parse(reg, step.Roots, step.References)
	if err != nil {
		return err
	}
	_, err = rec.Reconcile(ctx, doc, rootType)
	return err
}

// seed inserts the scenario's pre-existing records in one transaction,
// in listed order so foreign keys resolve.
func seed(ctx context.Context, st *store.Store, reg *schema.Registry, seeds []SeedEntity) error {
	if len(seeds) == 0 {
		return nil
	}
	tx, err := st.Begin(ctx)
	if err != nil {
		return err
	}
	for i, s := range seeds {
		e, err := seedEntity(reg, s)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("seed[%d]: %w", i, err)
		}
		if err := tx.Insert(ctx, e); err != nil {
			tx.Rollback()
			return fmt.Errorf("seed[%d] %s: %w", i, e.Ref(), err)
		}
	}
	return tx.Commit()
}

func seedEntity(reg *schema.Registry, s SeedEntity) (*reconcile.Entity, error) {
	et, ok := reg.Type(s.Type)
	if !ok {
		return nil, fmt.Errorf("unknown type %q", s.Type)
	}

	e := reconcile.NewEntity(s.Type, s.ID)
	e.Version = s.Version
	if e.Version == 0 {
		e.Version = 1
	}

	for name, raw := range s.Attrs {
		attr, ok := et.Attribute(name)
		if !ok {
			return nil, fmt.Errorf("unknown attribute %q", name)
		}
		v, err := document.FromGo(raw)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", name, err)
		}
		if !document.Matches(v, attr.Kind) {
			return nil, fmt.Errorf("attribute %q: %s does not satisfy kind %s",
				name, document.Format(v), attr.Kind)
		}
		e.Attrs[name] = v
	}

	for name, targetID := range s.Owners {
		assoc, err := owningAssoc(et, name, false)
		if err != nil {
			return nil, err
		}
		e.Owners[name] = document.Ref{Type: assoc.Target, ID: targetID}
	}
	for name, targetIDs := range s.Links {
		assoc, err := owningAssoc(et, name, true)
		if err != nil {
			return nil, err
		}
		refs := make([]document.Ref, 0, len(targetIDs))
		for _, id := range targetIDs {
			refs = append(refs, document.Ref{Type: assoc.Target, ID: id})
		}
		e.Links[name] = refs
	}
	return e, nil
}

func owningAssoc(et *schema.EntityType, name string, collection bool) (*schema.Association, error) {
	assoc, ok := et.Association(name)
	if !ok {
		return nil, fmt.Errorf("unknown association %q", name)
	}
	if assoc.Direction != schema.Owning || assoc.Collection != collection {
		return nil, fmt.Errorf("association %q cannot be seeded on this side", name)
	}
	return assoc, nil
}

// errorCode renders an engine or parse error as its wire code.
func errorCode(err error) string {
	if c := reconcile.CodeOf(err); c != "" {
		return string(c)
	}
	return string(document.CodeOf(err))
}
