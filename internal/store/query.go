package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/graftkit/graft/internal/document"
	"github.com/graftkit/graft/internal/reconcile"
	"github.com/graftkit/graft/internal/schema"
)

// Query selects entities of one type by attribute and owner predicates.
// Every query compiles to parameterized SQL with a deterministic ORDER BY,
// so the same graph always returns the same rows in the same order.
type Query struct {
	// Type is the entity type to select from.
	Type string

	// Where lists predicates, all of which must hold.
	Where []Predicate

	// Limit caps the number of rows. Zero means no limit.
	Limit int
}

// Predicate is a filter condition on a query.
//
// This is a sealed interface: only types in this package implement it,
// which keeps the compiler's type switch exhaustive.
type Predicate interface {
	predicate()
}

// AttrEquals filters on a declared attribute's value.
type AttrEquals struct {
	Attr  string
	Value document.Value
}

// OwnerEquals filters on an owning singular association's foreign key.
// An empty ID selects entities whose pointer is unset.
type OwnerEquals struct {
	Assoc string
	ID    string
}

func (AttrEquals) predicate()  {}
func (OwnerEquals) predicate() {}

// Query runs q and returns the matching entities ordered by id.
func (s *Store) Query(ctx context.Context, q Query) ([]*reconcile.Entity, error) {
	et, ok := s.reg.Type(q.Type)
	if !ok {
		return nil, fmt.Errorf("query: type %q is not in the registry", q.Type)
	}

	sql, params, err := compileQuery(et, q)
	if err != nil {
		return nil, err
	}

	// One transaction covers the row scan and the link loads, so the
	// result is a consistent snapshot.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Type, err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, sql, params...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Type, err)
	}
	var entities []*reconcile.Entity
	for rows.Next() {
		e, err := scanEntity(et, q.Type, rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("query %s: %w", q.Type, err)
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("query %s: %w", q.Type, err)
	}
	rows.Close()

	stx := &Tx{tx: tx, reg: s.reg}
	for _, e := range entities {
		if err := stx.loadLinks(ctx, et, e); err != nil {
			return nil, err
		}
	}
	return entities, nil
}

// compileQuery renders one parameterized SELECT. Values are always bound
// as parameters, never interpolated.
func compileQuery(et *schema.EntityType, q Query) (string, []any, error) {
	var conds []string
	var params []any
	for _, p := range q.Where {
		switch pred := p.(type) {
		case AttrEquals:
			attr, ok := et.Attribute(pred.Attr)
			if !ok {
				return "", nil, fmt.Errorf("query: type %q has no attribute %q", et.Name, pred.Attr)
			}
			if !document.Matches(pred.Value, attr.Kind) {
				return "", nil, fmt.Errorf("query: attribute %q: %s does not satisfy kind %s",
					pred.Attr, document.Format(pred.Value), attr.Kind)
			}
			conds = append(conds, quoteIdent(pred.Attr)+" = ?")
			params = append(params, document.GoValue(pred.Value))

		case OwnerEquals:
			assoc, ok := et.Association(pred.Assoc)
			if !ok || assoc.Direction != schema.Owning || assoc.Collection {
				return "", nil, fmt.Errorf("query: type %q has no owning singular association %q", et.Name, pred.Assoc)
			}
			col := quoteIdent(fkColumn(pred.Assoc))
			if pred.ID == "" {
				conds = append(conds, col+" IS NULL")
				continue
			}
			conds = append(conds, col+" = ?")
			params = append(params, pred.ID)

		default:
			return "", nil, fmt.Errorf("query: unsupported predicate %T", p)
		}
	}

	sql := fmt.Sprintf("SELECT %s FROM %s",
		strings.Join(selectColumns(et), ", "), quoteIdent(tableName(et.Name)))
	if len(conds) > 0 {
		sql += " WHERE " + strings.Join(conds, " AND ")
	}
	sql += " ORDER BY id"
	if q.Limit > 0 {
		sql += " LIMIT ?"
		params = append(params, q.Limit)
	}
	return sql, params, nil
}
