package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graftkit/graft/internal/document"
	"github.com/graftkit/graft/internal/reconcile"
)

// TestScenarios runs every scenario under testdata/scenarios against its
// golden graph. Regenerate the goldens with -update after an intentional
// engine change.
func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			sc, err := LoadScenario(path)
			require.NoError(t, err)
			require.Equal(t, name, sc.Name, "scenario name must match its file name")
			RunWithGolden(t, sc)
		})
	}
}

func TestRunReportsUnexpectedSuccess(t *testing.T) {
	sc, err := LoadScenario(filepath.Join("testdata", "scenarios", "create-project.yaml"))
	require.NoError(t, err)

	sc.Steps[0].ExpectError = "LOCK_FAILURE"
	_, err = Run(sc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected LOCK_FAILURE")
}

func TestRunRejectsWrongErrorCode(t *testing.T) {
	sc, err := LoadScenario(filepath.Join("testdata", "scenarios", "atomic-rollback.yaml"))
	require.NoError(t, err)

	sc.Steps[0].ExpectError = "PERMISSIONS"
	_, err = Run(sc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected PERMISSIONS, got LOCK_FAILURE")
}

func TestMarshalGraphIsDeterministic(t *testing.T) {
	e := reconcile.NewEntity("Task", "t1")
	e.Version = 3
	e.Attrs["title"] = document.String("cafe\u0301")
	e.Owners["project"] = document.Ref{Type: "Project", ID: "p1"}
	snap := &Snapshot{Entities: []*reconcile.Entity{e}}

	first, err := snap.MarshalGraph()
	require.NoError(t, err)
	second, err := snap.MarshalGraph()
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Contains(t, string(first), "caf\u00e9", "strings normalize to NFC")
	assert.Contains(t, string(first), `"Project/p1"`)
}
