package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/graftkit/graft/internal/document"
	"github.com/graftkit/graft/internal/schema"
	"github.com/graftkit/graft/internal/store"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Schema   string
	Database string
	Where    []string
	Limit    int
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <type>",
		Short: "Select entities by attribute or owner",
		Long: `Select entities of one type, filtered by attribute values or owning
pointers. Filters are key=value pairs; a key naming an owning singular
association filters on the foreign key, and an empty value selects
entities whose pointer is unset.

Example:
  graft query Task --schema tracker.cue --db graph.db --where done=false
  graft query Task --schema tracker.cue --db graph.db --where project=p1 --limit 10`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Schema, "schema", "", "path to the CUE graph schema (required)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the SQLite database (required)")
	cmd.Flags().StringArrayVar(&opts.Where, "where", nil, "filter as key=value (repeatable)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of rows (0 = all)")
	_ = cmd.MarkFlagRequired("schema")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runQuery(opts *QueryOptions, typeName string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	reg, err := schema.CompileFile(opts.Schema)
	if err != nil {
		_ = formatter.Error("SCHEMA", err.Error(), nil)
		return WrapExitError(ExitCommandError, "schema compilation failed", err)
	}

	q, err := buildQuery(reg, typeName, opts.Where, opts.Limit)
	if err != nil {
		_ = formatter.Error("QUERY", err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid query", err)
	}

	st, err := store.Open(opts.Database, reg)
	if err != nil {
		_ = formatter.Error("DATABASE", err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	entities, err := st.Query(cmd.Context(), q)
	if err != nil {
		_ = formatter.Error("QUERY", err.Error(), nil)
		return WrapExitError(ExitCommandError, "query failed", err)
	}

	data, err := marshalGraph(entities)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to render result", err)
	}
	fmt.Fprintln(formatter.Writer, string(data))
	return nil
}

// buildQuery turns key=value filters into typed predicates, using the
// registry to decide whether a key is an attribute or an owning pointer.
func buildQuery(reg *schema.Registry, typeName string, where []string, limit int) (store.Query, error) {
	et, ok := reg.Type(typeName)
	if !ok {
		return store.Query{}, fmt.Errorf("type %q is not in the registry", typeName)
	}

	q := store.Query{Type: typeName, Limit: limit}
	for _, clause := range where {
		key, raw, found := strings.Cut(clause, "=")
		if !found || key == "" {
			return store.Query{}, fmt.Errorf("filter %q must be key=value", clause)
		}

		if attr, ok := et.Attribute(key); ok {
			v, err := parseFilterValue(attr.Kind, raw)
			if err != nil {
				return store.Query{}, fmt.Errorf("filter %q: %w", clause, err)
			}
			q.Where = append(q.Where, store.AttrEquals{Attr: key, Value: v})
			continue
		}
		if assoc, ok := et.Association(key); ok && assoc.Direction == schema.Owning && !assoc.Collection {
			q.Where = append(q.Where, store.OwnerEquals{Assoc: key, ID: raw})
			continue
		}
		return store.Query{}, fmt.Errorf("type %q has no attribute or owning association %q", typeName, key)
	}
	return q, nil
}

func parseFilterValue(kind schema.AttrKind, raw string) (document.Value, error) {
	switch kind {
	case schema.KindInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("must be an integer")
		}
		return document.Int(n), nil
	case schema.KindFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("must be a number")
		}
		return document.Float(f), nil
	case schema.KindBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("must be true or false")
		}
		return document.Bool(b), nil
	default:
		return document.String(raw), nil
	}
}
