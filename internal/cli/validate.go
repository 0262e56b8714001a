package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/graftkit/graft/internal/document"
	"github.com/graftkit/graft/internal/schema"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Schema string
}

// validationResult is the JSON payload of a successful validation.
type validationResult struct {
	Roots      int `json:"roots"`
	References int `json:"references"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <document.json>",
		Short: "Validate an update document against a schema",
		Long: `Parse an update document and check every node's shape against the
schema: declared attributes and associations, value kinds, identity tags,
and functional update actions. Nothing is written.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Schema, "schema", "", "path to the CUE graph schema (required)")
	_ = cmd.MarkFlagRequired("schema")

	return cmd
}

func runValidate(opts *ValidateOptions, docPath string, cmd *cobra.Command) error {
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

	df, err := loadDocumentFile(docPath)
	if err != nil {
		_ = formatter.Error("DOCUMENT", err.Error(), nil)
		return WrapExitError(ExitCommandError, "document load failed", err)
	}

	doc, err := document.Parse(reg, df.Roots, df.References)
	if err != nil {
		_ = formatter.Error(errorCode(err), err.Error(), nil)
		return WrapExitError(ExitFailure, "document rejected", err)
	}

	result := validationResult{Roots: len(doc.Roots), References: len(doc.References)}
	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ Document is valid: %d root(s), %d reference(s)\n",
		result.Roots, result.References)
	return nil
}
