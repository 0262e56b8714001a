package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/graftkit/graft/internal/document"
	"github.com/graftkit/graft/internal/reconcile"
	"github.com/graftkit/graft/internal/schema"
	"github.com/graftkit/graft/internal/store"
)

// DumpOptions holds flags for the dump command.
type DumpOptions struct {
	*RootOptions
	Schema   string
	Database string
}

// NewDumpCommand creates the dump command.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DumpOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the whole graph as canonical JSON",
		Long: `Dump every entity in the graph, ordered by type then id, as
canonical JSON. The output is byte-stable for a given graph, so dumps
can be diffed across runs.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Schema, "schema", "", "path to the CUE graph schema (required)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the SQLite database (required)")
	_ = cmd.MarkFlagRequired("schema")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runDump(opts *DumpOptions, cmd *cobra.Command) error {
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

	st, err := store.Open(opts.Database, reg)
	if err != nil {
		_ = formatter.Error("DATABASE", err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	entities, err := st.All(cmd.Context())
	if err != nil {
		_ = formatter.Error("DATABASE", err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to dump graph", err)
	}

	data, err := marshalGraph(entities)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to render graph", err)
	}
	fmt.Fprintln(formatter.Writer, string(data))
	return nil
}

// marshalGraph renders entities the same way the conformance harness
// does: sorted keys, NFC strings, two-space indentation.
func marshalGraph(entities []*reconcile.Entity) ([]byte, error) {
	graph := make([]any, 0, len(entities))
	for _, e := range entities {
		m := map[string]any{
			"type":    e.Type,
			"id":      e.ID,
			"version": e.Version,
		}
		if len(e.Attrs) > 0 {
			attrs := make(map[string]any, len(e.Attrs))
			for name, v := range e.Attrs {
				attrs[name] = document.GoValue(v)
			}
			m["attrs"] = attrs
		}
		if len(e.Owners) > 0 {
			owners := make(map[string]any, len(e.Owners))
			for name, ref := range e.Owners {
				owners[name] = ref.String()
			}
			m["owners"] = owners
		}
		if len(e.Links) > 0 {
			links := make(map[string]any, len(e.Links))
			for name, refs := range e.Links {
				targets := make([]any, 0, len(refs))
				for _, ref := range refs {
					targets = append(targets, ref.String())
				}
				links[name] = targets
			}
			m["links"] = links
		}
		graph = append(graph, m)
	}
	return document.CanonicalJSON(map[string]any{"graph": graph})
}
