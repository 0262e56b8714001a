package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyCreatesAndDumps(t *testing.T) {
	dir := t.TempDir()
	schemaPath := writeTrackerSchema(t, dir)
	dbPath := filepath.Join(dir, "graph.db")
	docPath := writeFile(t, dir, "create.json", `{
		"roots": [
			{
				"_type": "Project",
				"_new": true,
				"title": "Launch",
				"tasks": [
					{"_type": "Task", "_new": true, "title": "Plan"},
					{"_type": "Task", "_new": true, "title": "Ship"}
				]
			}
		]
	}`)

	out, err := runCommand("apply", "--schema", schemaPath, "--db", dbPath, "--root-type", "Project", docPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Committed 1 root(s)")

	dump, err := runCommand("dump", "--schema", schemaPath, "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, dump, `"Launch"`)
	assert.Contains(t, dump, `"Plan"`)
	assert.Contains(t, dump, `"Ship"`)
	// Positions were assigned in submission order.
	assert.Contains(t, dump, `"pos": 0`)
	assert.Contains(t, dump, `"pos": 1`)
}

func TestApplyJSONOutputCarriesVersions(t *testing.T) {
	dir := t.TempDir()
	schemaPath := writeTrackerSchema(t, dir)
	dbPath := filepath.Join(dir, "graph.db")
	docPath := writeFile(t, dir, "create.json", `{
		"roots": [{"_type": "Project", "_new": true, "title": "Launch"}]
	}`)

	out, err := runCommand("--format", "json", "apply", "--schema", schemaPath, "--db", dbPath, docPath)
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var roots []appliedRoot
	require.NoError(t, json.Unmarshal(data, &roots))
	require.Len(t, roots, 1)
	assert.Equal(t, "Project", roots[0].Type)
	assert.NotEmpty(t, roots[0].ID)
	assert.Equal(t, int64(1), roots[0].Version)
}

func TestApplyUnknownRootFails(t *testing.T) {
	dir := t.TempDir()
	schemaPath := writeTrackerSchema(t, dir)
	dbPath := filepath.Join(dir, "graph.db")
	docPath := writeFile(t, dir, "update.json", `{
		"roots": [{"_type": "Project", "_id": "ghost", "title": "Renamed"}]
	}`)

	out, err := runCommand("apply", "--schema", schemaPath, "--db", dbPath, docPath)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "NOT_FOUND")
}

func TestApplyRootTypeConstraint(t *testing.T) {
	dir := t.TempDir()
	schemaPath := writeTrackerSchema(t, dir)
	dbPath := filepath.Join(dir, "graph.db")
	docPath := writeFile(t, dir, "task.json", `{
		"roots": [{"_type": "Task", "_new": true, "title": "Loose"}]
	}`)

	out, err := runCommand("apply", "--schema", schemaPath, "--db", dbPath, "--root-type", "Project", docPath)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "VALIDATION")
}

func TestApplyUpdateBumpsVersion(t *testing.T) {
	dir := t.TempDir()
	schemaPath := writeTrackerSchema(t, dir)
	dbPath := filepath.Join(dir, "graph.db")

	createPath := writeFile(t, dir, "create.json", `{
		"roots": [{"_type": "Project", "_new": true, "title": "Launch"}]
	}`)
	out, err := runCommand("--format", "json", "apply", "--schema", schemaPath, "--db", dbPath, createPath)
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	data, _ := json.Marshal(resp.Data)
	var roots []appliedRoot
	require.NoError(t, json.Unmarshal(data, &roots))
	require.Len(t, roots, 1)
	id := roots[0].ID

	updatePath := writeFile(t, dir, "update.json", `{
		"roots": [{"_type": "Project", "_id": "`+id+`", "title": "Renamed"}]
	}`)
	out, err = runCommand("apply", "--schema", schemaPath, "--db", dbPath, updatePath)
	require.NoError(t, err)
	assert.Contains(t, out, "v2")

	dump, err := runCommand("dump", "--schema", schemaPath, "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, dump, `"Renamed"`)
	assert.NotContains(t, dump, `"Launch"`)
}
