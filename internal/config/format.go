package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

type fileFormat uint8

const (
	formatJSON fileFormat = iota
	formatYAML
)

func formatOf(path string) fileFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return formatYAML
	}
	return formatJSON
}

// Decode parses YAML (by .yaml/.yml extension) or JSON strictly: unknown
// fields and trailing data are errors. Unknown YAML keys are reported with
// their line.
func Decode(path string, b []byte) (*Config, error) {
	name := filepath.Base(path)
	var doc *yaml.Node
	if formatOf(path) == formatYAML {
		doc = new(yaml.Node)
		if err := yaml.Unmarshal(b, doc); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		v, err := plainValue(doc)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if b, err = json.Marshal(v); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, locate(name, doc, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("%s: trailing data after config", name)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &cfg, nil
}

// plainValue turns a YAML node tree into maps, slices and scalars that
// encoding/json can marshal. Anchors and merge keys are resolved.
func plainValue(n *yaml.Node) (any, error) {
	switch n.Kind {
	case 0:
		return nil, nil
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, nil
		}
		return plainValue(n.Content[0])
	case yaml.AliasNode:
		return plainValue(n.Alias)
	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := plainValue(c)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case yaml.MappingNode:
		out := make(map[string]any, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, vn := n.Content[i], n.Content[i+1]
			if k.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: mapping keys must be scalars", k.Line)
			}
			v, err := plainValue(vn)
			if err != nil {
				return nil, err
			}
			if k.Tag == "!!merge" {
				merged, ok := v.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("line %d: merge value must be a mapping", k.Line)
				}
				for mk, mv := range merged {
					if _, set := out[mk]; !set {
						out[mk] = mv
					}
				}
				continue
			}
			out[k.Value] = v
		}
		return out, nil
	default:
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, fmt.Errorf("line %d: %w", n.Line, err)
		}
		return v, nil
	}
}

func locate(name string, doc *yaml.Node, err error) error {
	if doc != nil {
		if q, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
			if key, uerr := strconv.Unquote(q); uerr == nil {
				if line := keyLine(doc, key); line > 0 {
					return fmt.Errorf("%s: line %d: unknown field %q", name, line, key)
				}
			}
		}
	}
	return fmt.Errorf("%s: %w", name, err)
}

// keyLine returns the line of the first mapping key named key, or 0.
func keyLine(n *yaml.Node, key string) int {
	if n.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(n.Content); i += 2 {
			if n.Content[i].Value == key {
				return n.Content[i].Line
			}
		}
	}
	for _, c := range n.Content {
		if line := keyLine(c, key); line > 0 {
			return line
		}
	}
	return 0
}

// render encodes cfg for path. YAML output follows the struct field order.
func render(path string, cfg *Config) ([]byte, error) {
	j, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, err
	}
	if formatOf(path) == formatJSON {
		return append(j, '\n'), nil
	}

	// JSON parses as YAML, and a node tree keeps key order where a map would not.
	var doc yaml.Node
	if err := yaml.Unmarshal(j, &doc); err != nil {
		return nil, err
	}
	blockStyle(&doc)
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// blockStyle drops the flow and quoting styles inherited from JSON. Strings
// keep an explicit tag so values like "true" or "" stay quoted.
func blockStyle(n *yaml.Node) {
	if n.Kind == yaml.ScalarNode && n.Style&(yaml.DoubleQuotedStyle|yaml.SingleQuotedStyle) != 0 {
		n.Tag = "!!str"
	}
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}
