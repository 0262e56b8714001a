package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/graftkit/graft/internal/document"
)

// MarshalGraph renders the snapshot as canonical JSON: entities sorted by
// type then id, sorted keys, NFC-normalized strings. Byte-stable across
// runs, which is what the golden comparison rides on.
func (s *Snapshot) MarshalGraph() ([]byte, error) {
	graph := make([]any, 0, len(s.Entities))
	for _, e := range s.Entities {
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

// RunWithGolden executes a scenario and compares the final graph against
// testdata/golden/{scenario.Name}.golden.
func RunWithGolden(t *testing.T, scenario *Scenario) {
	t.Helper()

	snapshot, err := Run(scenario)
	if err != nil {
		t.Fatalf("scenario %s: %v", scenario.Name, err)
	}
	data, err := snapshot.MarshalGraph()
	if err != nil {
		t.Fatalf("scenario %s: marshal graph: %v", scenario.Name, err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
}
