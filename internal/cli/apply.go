package cli

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/graftkit/graft/internal/document"
	"github.com/graftkit/graft/internal/metrics"
	"github.com/graftkit/graft/internal/reconcile"
	"github.com/graftkit/graft/internal/schema"
	"github.com/graftkit/graft/internal/store"
)

// ApplyOptions holds flags for the apply command.
type ApplyOptions struct {
	*RootOptions
	Schema   string
	Database string
	RootType string
}

// appliedRoot is one committed root in the apply command's output.
type appliedRoot struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Version int64  `json:"version"`
}

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ApplyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "apply <document.json>",
		Short: "Apply an update document to the graph",
		Long: `Reconcile an update document against the graph in one transaction.

Either the whole document commits or none of it does. On success the
resulting root identities and versions are printed in submission order.

Example:
  graft apply --schema tracker.cue --db graph.db update.json
  graft apply --schema tracker.cue --db graph.db --root-type Project update.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Schema, "schema", "", "path to the CUE graph schema (required)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the SQLite database (required)")
	cmd.Flags().StringVar(&opts.RootType, "root-type", "", "constrain document roots to this type")
	_ = cmd.MarkFlagRequired("schema")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runApply(opts *ApplyOptions, docPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	logLevel := slog.LevelWarn
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

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

	st, err := store.Open(opts.Database, reg)
	if err != nil {
		_ = formatter.Error("DATABASE", err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	rec := reconcile.New(reg, st, reconcile.Options{
		Listeners: []reconcile.Listener{metrics.Listener{}},
		Logger:    logger,
	})

	start := time.Now()
	roots, err := rec.Reconcile(cmd.Context(), doc, opts.RootType)
	if err != nil {
		metrics.ObserveBatch(start, errorCode(err))
		_ = formatter.Error(errorCode(err), err.Error(), nil)
		return WrapExitError(ExitFailure, "batch failed", err)
	}
	metrics.ObserveBatch(start, "")

	results := make([]appliedRoot, 0, len(roots))
	for _, e := range roots {
		results = append(results, appliedRoot{Type: e.Type, ID: e.ID, Version: e.Version})
	}

	if formatter.Format == "json" {
		return formatter.Success(results)
	}
	fmt.Fprintf(formatter.Writer, "✓ Committed %d root(s)\n", len(results))
	for _, r := range results {
		fmt.Fprintf(formatter.Writer, "  %s/%s v%d\n", r.Type, r.ID, r.Version)
	}
	return nil
}
