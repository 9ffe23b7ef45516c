package secondary

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/ridgecache/ridge/ridgetype"
)

// definitionYAML is the human-inspectable on-disk form of an
// IndexDefinition, persisted beside the index so operators can see what
// a secondary environment indexes without decoding its buckets.
type definitionYAML struct {
	Kind   string `yaml:"kind"`
	Fields []int  `yaml:"fields,omitempty"`
	Field  int    `yaml:"field,omitempty"`
}

// DumpDefinition renders def as YAML, for operator-facing index dumps.
func DumpDefinition(def ridgetype.IndexDefinition) ([]byte, error) {
	var dy definitionYAML
	switch d := def.(type) {
	case ridgetype.SortedInvertedIndex:
		dy = definitionYAML{Kind: "sorted_inverted", Fields: d.Fields}
	case ridgetype.FullTextIndex:
		dy = definitionYAML{Kind: "full_text", Field: d.Field}
	default:
		return nil, fmt.Errorf("secondary: unsupported index definition %T", def)
	}
	return yaml.Marshal(dy)
}

// RestoreDefinition parses an IndexDefinition from its YAML dump.
func RestoreDefinition(data []byte) (ridgetype.IndexDefinition, error) {
	var dy definitionYAML
	if err := yaml.Unmarshal(data, &dy); err != nil {
		return nil, fmt.Errorf("secondary: parse index definition: %w", err)
	}
	switch dy.Kind {
	case "sorted_inverted":
		return ridgetype.SortedInvertedIndex{Fields: dy.Fields}, nil
	case "full_text":
		return ridgetype.FullTextIndex{Field: dy.Field}, nil
	default:
		return nil, fmt.Errorf("secondary: unknown index definition kind %q", dy.Kind)
	}
}
