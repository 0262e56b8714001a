package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/graftkit/graft/internal/document"
	"github.com/graftkit/graft/internal/reconcile"
)

// documentFile is the on-disk shape of an update document: root nodes
// plus the named shared nodes they may reference.
type documentFile struct {
	Roots      []any          `json:"roots"`
	References map[string]any `json:"references"`
}

// loadDocumentFile reads and decodes a JSON update document.
func loadDocumentFile(path string) (*documentFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	var df documentFile
	if err := json.Unmarshal(data, &df); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", path, err)
	}
	if len(df.Roots) == 0 {
		return nil, fmt.Errorf("document %s has no roots", path)
	}
	return &df, nil
}

// errorCode renders an engine or parse error as its wire code, with a
// generic fallback for infrastructure failures.
func errorCode(err error) string {
	if c := reconcile.CodeOf(err); c != "" {
		return string(c)
	}
	if c := document.CodeOf(err); c != "" {
		return string(c)
	}
	return "INTERNAL"
}
