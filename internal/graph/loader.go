package graph

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// compiledGraph is the on-disk shape a compiled graph is read from: the
// same fields as Graph, but Transitions keyed by source activity id so the
// file can be hand-written or emitted by an external compiler (§1 "YAML/
// graph compiler" is explicitly out of scope; this loader only deserializes
// an already-compiled result, it does not parse a DSL).
type compiledGraph struct {
	ID          string                    `json:"id"`
	Activities  map[string]*ActivityConfig `json:"activities"`
	Transitions map[string][]Transition    `json:"transitions"`
}

// LoadFile reads one compiled graph from a JSON file and validates it.
func LoadFile(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("graph: read %s: %w", path, err)
	}
	var cg compiledGraph
	if err := json.Unmarshal(data, &cg); err != nil {
		return nil, fmt.Errorf("graph: decode %s: %w", path, err)
	}
	g := &Graph{ID: cg.ID, Activities: cg.Activities, Transitions: cg.Transitions}
	if g.ID == "" {
		g.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// LoadDir loads every *.json file in dir as a compiled graph, keyed by
// Graph.ID (which doubles as the stream topic a job's trigger subscribes
// to, §4.7). It is the reference bootstrap path cmd/engined uses in place
// of the out-of-scope graph compiler: that compiler's job is to produce
// exactly these files.
func LoadDir(dir string) (map[string]*Graph, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("graph: read dir %s: %w", dir, err)
	}
	out := map[string]*Graph{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		g, err := LoadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out[g.ID] = g
	}
	return out, nil
}
