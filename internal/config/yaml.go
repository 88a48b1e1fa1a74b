package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// toJSON routes both supported formats through the one strict JSON decode
// path. YAML documents are decoded generically, key-normalized and
// re-encoded so DisallowUnknownFields applies to them too.
func toJSON(path string, data []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return data, nil
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	out, err := json.Marshal(stringKeys(doc))
	if err != nil {
		return nil, fmt.Errorf("yaml to json: %w", err)
	}
	return out, nil
}

// stringKeys rewrites YAML map keys to strings; json.Marshal cannot encode
// map[any]any.
func stringKeys(v any) any {
	switch node := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(node))
		for k, val := range node {
			out[fmt.Sprint(k)] = stringKeys(val)
		}
		return out
	case map[string]any:
		for k, val := range node {
			node[k] = stringKeys(val)
		}
		return node
	case []any:
		for i, val := range node {
			node[i] = stringKeys(val)
		}
		return node
	}
	return v
}
