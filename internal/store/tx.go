package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/graftkit/graft/internal/document"
	"github.com/graftkit/graft/internal/reconcile"
	"github.com/graftkit/graft/internal/schema"
)

// Tx is one engine batch's view of the database. It implements
// reconcile.Tx on top of a SQL transaction; the engine commits or rolls
// back the whole batch through it.
type Tx struct {
	tx  *sql.Tx
	reg *schema.Registry
}

func (t *Tx) Commit() error   { return t.tx.Commit() }
func (t *Tx) Rollback() error { return t.tx.Rollback() }

// Get implements reconcile.Storage.
func (t *Tx) Get(ctx context.Context, ref document.Ref) (*reconcile.Entity, error) {
	et, ok := t.reg.Type(ref.Type)
	if !ok {
		return nil, &reconcile.Error{
			Code:    reconcile.ErrCodeValidation,
			Ref:     ref,
			Message: fmt.Sprintf("type %q is not in the registry", ref.Type),
		}
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?",
		strings.Join(selectColumns(et), ", "), quoteIdent(tableName(ref.Type)))
	row := t.tx.QueryRowContext(ctx, query, ref.ID)

	e, err := scanEntity(et, ref.Type, row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &reconcile.Error{
			Code:    reconcile.ErrCodeNotFound,
			Ref:     ref,
			Message: "no such entity",
		}
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", ref, err)
	}

	if err := t.loadLinks(ctx, et, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Insert implements reconcile.Storage.
func (t *Tx) Insert(ctx context.Context, e *reconcile.Entity) error {
	et, _ := t.reg.Type(e.Type)

	cols := selectColumns(et)
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(tableName(e.Type)), strings.Join(cols, ", "), placeholders)

	if _, err := t.tx.ExecContext(ctx, query, rowValues(et, e)...); err != nil {
		return mapSQLiteError(err, e.Ref())
	}
	return t.writeLinks(ctx, et, e)
}

// Update implements reconcile.Storage. The version predicate is the
// optimistic lock: zero rows affected means the record moved on since
// expectedVersion was read.
func (t *Tx) Update(ctx context.Context, e *reconcile.Entity, expectedVersion int64) error {
	et, _ := t.reg.Type(e.Type)

	e.Version = expectedVersion + 1
	var sets []string
	for _, col := range selectColumns(et)[1:] { // skip id
		sets = append(sets, col+" = ?")
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ? AND version = ?",
		quoteIdent(tableName(e.Type)), strings.Join(sets, ", "))

	args := append(rowValues(et, e)[1:], e.ID, expectedVersion)
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		e.Version = expectedVersion
		return mapSQLiteError(err, e.Ref())
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s: %w", e.Ref(), err)
	}
	if n == 0 {
		e.Version = expectedVersion
		return reconcile.NewLockFailure(e.Ref(), expectedVersion)
	}
	return t.writeLinks(ctx, et, e)
}

// Delete implements reconcile.Storage. Link rows cascade via their
// foreign keys.
func (t *Tx) Delete(ctx context.Context, ref document.Ref) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", quoteIdent(tableName(ref.Type)))
	if _, err := t.tx.ExecContext(ctx, query, ref.ID); err != nil {
		return mapSQLiteError(err, ref)
	}
	return nil
}

// Members implements reconcile.Storage.
func (t *Tx) Members(ctx context.Context, owner document.Ref, assoc *schema.Association) ([]*reconcile.Entity, error) {
	if assoc.Direction == schema.Owning && assoc.Collection {
		return t.linkedMembers(ctx, owner, assoc)
	}

	memberType := assoc.MemberType()
	et, ok := t.reg.Type(memberType)
	if !ok {
		return nil, fmt.Errorf("members of %s.%s: unknown member type %q", owner, assoc.Name, memberType)
	}

	order := "rowid ASC"
	if assoc.Ordered() {
		order = fmt.Sprintf("%s ASC, rowid ASC", quoteIdent(assoc.OrderAttr))
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? ORDER BY %s",
		strings.Join(selectColumns(et), ", "),
		quoteIdent(tableName(memberType)),
		quoteIdent(fkColumn(assoc.Inverse)),
		order)

	rows, err := t.tx.QueryContext(ctx, query, owner.ID)
	if err != nil {
		return nil, fmt.Errorf("members of %s.%s: %w", owner, assoc.Name, err)
	}
	defer rows.Close()

	var members []*reconcile.Entity
	for rows.Next() {
		e, err := scanEntity(et, memberType, rows)
		if err != nil {
			return nil, fmt.Errorf("members of %s.%s: %w", owner, assoc.Name, err)
		}
		members = append(members, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("members of %s.%s: %w", owner, assoc.Name, err)
	}
	for _, e := range members {
		if err := t.loadLinks(ctx, et, e); err != nil {
			return nil, err
		}
	}
	return members, nil
}

// linkedMembers loads an owning collection through its link table, in
// stored link order.
func (t *Tx) linkedMembers(ctx context.Context, owner document.Ref, assoc *schema.Association) ([]*reconcile.Entity, error) {
	et, ok := t.reg.Type(assoc.Target)
	if !ok {
		return nil, fmt.Errorf("members of %s.%s: unknown target type %q", owner, assoc.Name, assoc.Target)
	}

	cols := make([]string, 0, len(selectColumns(et)))
	for _, c := range selectColumns(et) {
		cols = append(cols, "m."+c)
	}
	query := fmt.Sprintf(
		"SELECT %s FROM %s m JOIN %s l ON l.target_id = m.id WHERE l.owner_id = ? ORDER BY l.idx ASC",
		strings.Join(cols, ", "),
		quoteIdent(tableName(assoc.Target)),
		quoteIdent(linkTableName(owner.Type, assoc.Name)))

	rows, err := t.tx.QueryContext(ctx, query, owner.ID)
	if err != nil {
		return nil, fmt.Errorf("members of %s.%s: %w", owner, assoc.Name, err)
	}
	defer rows.Close()

	var members []*reconcile.Entity
	for rows.Next() {
		e, err := scanEntity(et, assoc.Target, rows)
		if err != nil {
			return nil, fmt.Errorf("members of %s.%s: %w", owner, assoc.Name, err)
		}
		members = append(members, e)
	}
	return members, rows.Err()
}

// writeLinks rewrites the link tables of every owning collection on e.
// Rewriting is idempotent; untouched collections round-trip unchanged.
func (t *Tx) writeLinks(ctx context.Context, et *schema.EntityType, e *reconcile.Entity) error {
	for _, assocName := range owningListNames(et) {
		table := quoteIdent(linkTableName(e.Type, assocName))
		if _, err := t.tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE owner_id = ?", table), e.ID); err != nil {
			return mapSQLiteError(err, e.Ref())
		}
		for i, target := range e.Links[assocName] {
			if _, err := t.tx.ExecContext(ctx,
				fmt.Sprintf("INSERT INTO %s (owner_id, idx, target_id) VALUES (?, ?, ?)", table),
				e.ID, i, target.ID); err != nil {
				return mapSQLiteError(err, e.Ref())
			}
		}
	}
	return nil
}

// loadLinks fills e.Links from the link tables.
func (t *Tx) loadLinks(ctx context.Context, et *schema.EntityType, e *reconcile.Entity) error {
	for _, assocName := range owningListNames(et) {
		assoc, _ := et.Association(assocName)
		rows, err := t.tx.QueryContext(ctx,
			fmt.Sprintf("SELECT target_id FROM %s WHERE owner_id = ? ORDER BY idx ASC",
				quoteIdent(linkTableName(e.Type, assocName))), e.ID)
		if err != nil {
			return fmt.Errorf("links of %s.%s: %w", e.Ref(), assocName, err)
		}
		var refs []document.Ref
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("links of %s.%s: %w", e.Ref(), assocName, err)
			}
			refs = append(refs, document.Ref{Type: assoc.Target, ID: id})
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("links of %s.%s: %w", e.Ref(), assocName, err)
		}
		rows.Close()
		if len(refs) > 0 {
			e.Links[assocName] = refs
		}
	}
	return nil
}

// selectColumns is the fixed column order for one type: id, version,
// attributes (sorted), owning singular foreign keys (sorted).
func selectColumns(et *schema.EntityType) []string {
	cols := []string{"id", "version"}
	for _, name := range et.AttributeNames() {
		cols = append(cols, quoteIdent(name))
	}
	for _, name := range owningSingleNames(et) {
		cols = append(cols, quoteIdent(fkColumn(name)))
	}
	return cols
}

// rowValues renders an entity in selectColumns order.
func rowValues(et *schema.EntityType, e *reconcile.Entity) []any {
	vals := []any{e.ID, e.Version}
	for _, name := range et.AttributeNames() {
		v, ok := e.Attrs[name]
		if !ok {
			vals = append(vals, nil)
			continue
		}
		vals = append(vals, document.GoValue(v))
	}
	for _, name := range owningSingleNames(et) {
		if ref, ok := e.Owners[name]; ok {
			vals = append(vals, ref.ID)
		} else {
			vals = append(vals, nil)
		}
	}
	return vals
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(et *schema.EntityType, typeName string, row rowScanner) (*reconcile.Entity, error) {
	attrNames := et.AttributeNames()
	fkNames := owningSingleNames(et)

	var id string
	var version int64
	attrVals := make([]any, len(attrNames))
	fkVals := make([]sql.NullString, len(fkNames))

	dest := []any{&id, &version}
	for i := range attrVals {
		dest = append(dest, &attrVals[i])
	}
	for i := range fkVals {
		dest = append(dest, &fkVals[i])
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	e := reconcile.NewEntity(typeName, id)
	e.Version = version
	for i, name := range attrNames {
		attr, _ := et.Attribute(name)
		v, err := decodeAttr(attr.Kind, attrVals[i])
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", name, err)
		}
		if v != nil {
			e.Attrs[name] = v
		}
	}
	for i, name := range fkNames {
		if fkVals[i].Valid {
			assoc, _ := et.Association(name)
			e.Owners[name] = document.Ref{Type: assoc.Target, ID: fkVals[i].String}
		}
	}
	return e, nil
}

// decodeAttr converts a scanned column back to a typed Value. A SQL NULL
// returns nil so the attribute stays absent.
func decodeAttr(kind schema.AttrKind, raw any) (document.Value, error) {
	if raw == nil {
		return nil, nil
	}
	if b, ok := raw.([]byte); ok {
		raw = string(b)
	}
	switch kind {
	case schema.KindBool:
		n, ok := raw.(int64)
		if !ok {
			return nil, fmt.Errorf("expected integer-encoded bool, got %T", raw)
		}
		return document.Bool(n != 0), nil
	case schema.KindFloat:
		switch n := raw.(type) {
		case float64:
			return document.Float(n), nil
		case int64:
			return document.Float(float64(n)), nil
		}
		return nil, fmt.Errorf("expected numeric value, got %T", raw)
	case schema.KindInt:
		n, ok := raw.(int64)
		if !ok {
			return nil, fmt.Errorf("expected integer value, got %T", raw)
		}
		return document.Int(n), nil
	case schema.KindString:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected text value, got %T", raw)
		}
		return document.String(s), nil
	default:
		return document.FromGo(raw)
	}
}

// mapSQLiteError converts driver constraint errors into reconcile codes:
// uniqueness violations get their own code, every other constraint is a
// generic database-constraint failure.
func mapSQLiteError(err error, ref document.Ref) error {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return err
	}
	switch se.ExtendedCode {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		return &reconcile.Error{
			Code:    reconcile.ErrCodeUniqueViolation,
			Ref:     ref,
			Message: se.Error(),
		}
	}
	if se.Code == sqlite3.ErrConstraint {
		return &reconcile.Error{
			Code:    reconcile.ErrCodeDatabaseConstraint,
			Ref:     ref,
			Message: se.Error(),
		}
	}
	return err
}
