// Package store persists the entity graph in SQLite.
//
// The relational layout is generated from the schema registry at Open time:
// one table per entity type (id, version, one column per attribute, one
// foreign-key column per owning singular association) plus one link table
// per owning collection association. Optimistic locking rides on the
// version column; every engine batch runs inside one SQL transaction.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/graftkit/graft/internal/reconcile"
	"github.com/graftkit/graft/internal/schema"
)

// Schema version tracking:
// 1 - Initial generated layout
const currentSchemaVersion = 1

// Store is the SQLite-backed reconcile.Store.
// Uses WAL mode for concurrent read access.
type Store struct {
	db  *sql.DB
	reg *schema.Registry
}

// Open creates or opens a SQLite database at the given path and ensures the
// tables for every registered type exist.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent.
func Open(path string, reg *schema.Registry) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY between the engine's transactions.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := applySchema(db, reg); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, reg: reg}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution; prefer Store methods.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Begin implements reconcile.Store.
func (s *Store) Begin(ctx context.Context) (reconcile.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &Tx{tx: tx, reg: s.reg}, nil
}

// All returns every persisted entity, ordered by type then id. Intended
// for graph dumps in tools and tests; batches should go through Begin.
func (s *Store) All(ctx context.Context) ([]*reconcile.Entity, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stx := &Tx{tx: tx, reg: s.reg}
	var all []*reconcile.Entity
	for _, typeName := range s.reg.TypeNames() {
		et, _ := s.reg.Type(typeName)
		query := fmt.Sprintf("SELECT %s FROM %s ORDER BY id",
			strings.Join(selectColumns(et), ", "), quoteIdent(tableName(typeName)))
		rows, err := tx.QueryContext(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("dump %s: %w", typeName, err)
		}
		var entities []*reconcile.Entity
		for rows.Next() {
			e, err := scanEntity(et, typeName, rows)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("dump %s: %w", typeName, err)
			}
			entities = append(entities, e)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("dump %s: %w", typeName, err)
		}
		rows.Close()
		for _, e := range entities {
			if err := stx.loadLinks(ctx, et, e); err != nil {
				return nil, err
			}
		}
		all = append(all, entities...)
	}
	return all, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates the generated tables if they don't exist. Idempotent.
func applySchema(db *sql.DB, reg *schema.Registry) error {
	for _, stmt := range generateDDL(reg) {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("execute %q: %w", firstLine(stmt), err)
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// generateDDL renders CREATE TABLE statements for every registered type,
// in sorted type order so output is deterministic.
func generateDDL(reg *schema.Registry) []string {
	var stmts []string
	for _, typeName := range reg.TypeNames() {
		et, _ := reg.Type(typeName)

		cols := []string{
			"id TEXT PRIMARY KEY",
			"version INTEGER NOT NULL",
		}
		for _, attrName := range et.AttributeNames() {
			attr, _ := et.Attribute(attrName)
			cols = append(cols, fmt.Sprintf("%s %s", quoteIdent(attrName), columnAffinity(attr.Kind)))
		}
		for _, assocName := range owningSingleNames(et) {
			assoc, _ := et.Association(assocName)
			cols = append(cols, fmt.Sprintf("%s TEXT REFERENCES %s(id)",
				quoteIdent(fkColumn(assocName)), quoteIdent(tableName(assoc.Target))))
		}
		stmts = append(stmts, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)",
			quoteIdent(tableName(typeName)), strings.Join(cols, ",\n\t")))

		// Foreign-key columns back members by owner; index them so
		// member queries don't scan.
		for _, assocName := range owningSingleNames(et) {
			stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s)",
				quoteIdent(fmt.Sprintf("idx_%s_%s", tableName(typeName), fkColumn(assocName))),
				quoteIdent(tableName(typeName)),
				quoteIdent(fkColumn(assocName))))
		}

		for _, assocName := range owningListNames(et) {
			assoc, _ := et.Association(assocName)
			stmts = append(stmts, fmt.Sprintf(
				"CREATE TABLE IF NOT EXISTS %s (\n\towner_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,\n\tidx INTEGER NOT NULL,\n\ttarget_id TEXT NOT NULL REFERENCES %s(id),\n\tPRIMARY KEY (owner_id, idx),\n\tUNIQUE (owner_id, target_id)\n)",
				quoteIdent(linkTableName(typeName, assocName)),
				quoteIdent(tableName(typeName)),
				quoteIdent(tableName(assoc.Target))))
		}
	}
	return stmts
}

// DDL returns the CREATE statements generated for the registry, in
// deterministic order. Exposed for schema inspection tooling.
func DDL(reg *schema.Registry) []string {
	return generateDDL(reg)
}

// tableName renders an entity type name as a snake_case table name.
func tableName(typeName string) string {
	return snakeCase(typeName)
}

// linkTableName names the membership table of an owning collection.
func linkTableName(typeName, assocName string) string {
	return snakeCase(typeName) + "_" + snakeCase(assocName) + "_links"
}

func fkColumn(assocName string) string {
	return snakeCase(assocName) + "_id"
}

func columnAffinity(kind schema.AttrKind) string {
	switch kind {
	case schema.KindInt, schema.KindBool:
		return "INTEGER"
	case schema.KindFloat:
		return "REAL"
	default:
		return "TEXT"
	}
}

func owningSingleNames(et *schema.EntityType) []string {
	var names []string
	for _, name := range et.AssociationNames() {
		a, _ := et.Association(name)
		if a.Direction == schema.Owning && !a.Collection {
			names = append(names, name)
		}
	}
	return names
}

func owningListNames(et *schema.EntityType) []string {
	var names []string
	for _, name := range et.AssociationNames() {
		a, _ := et.Association(name)
		if a.Direction == schema.Owning && a.Collection {
			names = append(names, name)
		}
	}
	return names
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}

func snakeCase(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r - 'A' + 'a')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
