// Package reconcile turns parsed update documents into transactional
// mutations of a persisted object graph.
//
// A batch is reconciled in two phases. The build phase resolves every
// intent to a bound operation, moving displaced entities through a release
// pool and parking forward references on a worklist until their identity
// shows up. The run phase then executes the operation graph once, with
// authorization checkpoints around every visible, edited, or deleted node.
// Either the whole batch commits or none of it does.
package reconcile

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/graftkit/graft/internal/document"
	"github.com/graftkit/graft/internal/schema"
)

// Options configures a Reconciler beyond its registry and store.
type Options struct {
	// Authorizer guards every node the engine touches. Defaults to
	// AllowAll.
	Authorizer Authorizer

	// Listeners observe operation lifecycle points, in order.
	Listeners []Listener

	// IDGen mints identities for new entities. Defaults to random UUIDs.
	IDGen func() string

	// Logger receives structured batch logs. Defaults to a discard logger.
	Logger *slog.Logger
}

// Reconciler applies update documents against one registry and store.
// Safe for concurrent use; each batch gets its own transaction.
type Reconciler struct {
	reg       *schema.Registry
	store     Store
	authz     Authorizer
	listeners listeners
	idgen     func() string
	logger    *slog.Logger
}

func New(reg *schema.Registry, store Store, opts Options) *Reconciler {
	r := &Reconciler{
		reg:       reg,
		store:     store,
		authz:     opts.Authorizer,
		listeners: listeners(opts.Listeners),
		idgen:     opts.IDGen,
		logger:    opts.Logger,
	}
	if r.authz == nil {
		r.authz = AllowAll{}
	}
	if r.idgen == nil {
		r.idgen = uuid.NewString
	}
	if r.logger == nil {
		r.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return r
}

// Reconcile applies one parsed document in a single transaction and
// returns the resulting root entities in submission order. rootType, when
// non-empty, constrains what the document's roots may be; references and
// nested nodes are not constrained by it.
func (r *Reconciler) Reconcile(ctx context.Context, doc *document.Document, rootType string) ([]*Entity, error) {
	token := uuid.NewString()
	log := r.logger.With("batch", token)
	log.Info("reconciling batch", "roots", len(doc.Roots), "references", len(doc.References))

	if rootType != "" {
		if _, ok := r.reg.Type(rootType); !ok {
			return nil, &Error{
				Code:    ErrCodeValidation,
				Message: fmt.Sprintf("root type %q is not in the registry", rootType),
			}
		}
		for _, root := range doc.Roots {
			if root.Type != rootType {
				return nil, newError(ErrCodeValidation, root.Ref(),
					"root must be a %s", rootType)
			}
		}
	}

	tx, err := r.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}

	results, err := r.apply(ctx, tx, doc, log)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error("rollback failed", "error", rbErr)
		}
		log.Warn("batch failed", "code", CodeOf(err), "error", err)
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	log.Info("batch committed", "roots", len(results))
	return results, nil
}

func (r *Reconciler) apply(ctx context.Context, tx Tx, doc *document.Document, log *slog.Logger) ([]*Entity, error) {
	b := newBatch(r.reg, tx, doc.References, r.idgen, log)

	for _, root := range doc.Roots {
		if _, err := b.buildRoot(ctx, root); err != nil {
			return nil, err
		}
	}
	if err := b.drain(ctx); err != nil {
		return nil, err
	}

	x := &executor{batch: b, authz: r.authz, listeners: r.listeners, logger: log}
	results := make([]*Entity, 0, len(b.roots))
	for _, op := range b.roots {
		e, err := x.run(ctx, op)
		if err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	for _, op := range b.synthetic {
		if _, err := x.run(ctx, op); err != nil {
			return nil, err
		}
	}
	return results, nil
}
