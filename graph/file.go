// file.go - Graph-Beschreibungen aus YAML-Dateien
//
// Die Datei wird zuerst gegen das eingebettete JSON-Schema validiert und
// danach in Graph dekodiert.
package graph

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.yaml.in/yaml/v3"
)

//go:embed schema.json
var schemaJSON string

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("graph.json", strings.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	return c.Compile("graph.json")
})

// Parse validates and decodes a YAML graph description.
func Parse(data []byte) (*Graph, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	schema, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("graph: failed to compile schema: %w", err)
	}

	if err := schema.Validate(raw); err != nil {
		return nil, fmt.Errorf("graph: validation failed: %w", err)
	}

	var g Graph
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("graph: failed to unmarshal: %w", err)
	}

	return &g, nil
}

// Load liest und validiert eine Graph-Datei
func Load(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("graph: failed to read %s: %w", path, err)
	}
	return Parse(data)
}

// Marshal encodes g as YAML.
func (g *Graph) Marshal() ([]byte, error) {
	return yaml.Marshal(g)
}
