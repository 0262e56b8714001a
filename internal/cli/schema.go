package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/graftkit/graft/internal/schema"
	"github.com/graftkit/graft/internal/store"
)

// SchemaOptions holds flags for the schema command.
type SchemaOptions struct {
	*RootOptions
	ShowDDL bool
}

// schemaSummary is the JSON payload of a successful schema compile.
type schemaSummary struct {
	Types []typeSummary `json:"types"`
	DDL   []string      `json:"ddl,omitempty"`
}

type typeSummary struct {
	Name         string   `json:"name"`
	Attributes   []string `json:"attributes,omitempty"`
	Associations []string `json:"associations,omitempty"`
}

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SchemaOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "schema <schema.cue>",
		Short: "Compile and inspect a graph schema",
		Long: `Compile a CUE graph schema and print its entity types.

With --ddl the generated SQLite layout is printed as well: one table per
entity type plus one link table per owning collection.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchema(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.ShowDDL, "ddl", false, "print the generated SQLite DDL")

	return cmd
}

func runSchema(opts *SchemaOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	reg, err := schema.CompileFile(path)
	if err != nil {
		_ = formatter.Error("SCHEMA", err.Error(), nil)
		return WrapExitError(ExitCommandError, "schema compilation failed", err)
	}

	summary := summarize(reg)
	if opts.ShowDDL {
		summary.DDL = store.DDL(reg)
	}

	if formatter.Format == "json" {
		return formatter.Success(summary)
	}

	fmt.Fprintf(formatter.Writer, "✓ Compiled %d type(s)\n\n", len(summary.Types))
	for _, t := range summary.Types {
		fmt.Fprintf(formatter.Writer, "  %s: %d attribute(s), %d association(s)\n",
			t.Name, len(t.Attributes), len(t.Associations))
		if opts.Verbose {
			for _, a := range t.Attributes {
				fmt.Fprintf(formatter.Writer, "    attr  %s\n", a)
			}
			for _, a := range t.Associations {
				fmt.Fprintf(formatter.Writer, "    assoc %s\n", a)
			}
		}
	}
	if opts.ShowDDL {
		fmt.Fprintln(formatter.Writer)
		for _, stmt := range summary.DDL {
			fmt.Fprintf(formatter.Writer, "%s;\n", stmt)
		}
	}
	return nil
}

func summarize(reg *schema.Registry) *schemaSummary {
	summary := &schemaSummary{}
	for _, name := range reg.TypeNames() {
		et, _ := reg.Type(name)
		t := typeSummary{Name: name}
		for _, attrName := range et.AttributeNames() {
			attr, _ := et.Attribute(attrName)
			desc := fmt.Sprintf("%s %s", attrName, attr.Kind)
			if attr.ReadOnly {
				desc += " read-only"
			}
			if attr.CreateOnly {
				desc += " create-only"
			}
			t.Attributes = append(t.Attributes, desc)
		}
		for _, assocName := range et.AssociationNames() {
			assoc, _ := et.Association(assocName)
			desc := fmt.Sprintf("%s %s %s", assocName, assoc.Direction, assoc.Target)
			if assoc.Collection {
				desc += " collection"
			}
			if assoc.Indirect() {
				desc += " through " + assoc.Through
			}
			t.Associations = append(t.Associations, desc)
		}
		sort.Strings(t.Attributes)
		sort.Strings(t.Associations)
		summary.Types = append(summary.Types, t)
	}
	return summary
}
