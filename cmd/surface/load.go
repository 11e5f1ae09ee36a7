package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// readBatch loads documents from a JSON or YAML file ("-" reads stdin). The
// file holds either a list or an object with the list under key.
func readBatch(path, key string, stdin io.Reader) ([]map[string]any, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return parseBatch(data, key)
}

// parseBatch decodes with yaml.v3, which also accepts JSON
func parseBatch(data []byte, key string) ([]map[string]any, error) {
	var body any
	if err := yaml.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("parse documents: %w", err)
	}

	var items []any
	switch v := body.(type) {
	case []any:
		items = v
	case map[string]any:
		list, ok := v[key].([]any)
		if !ok {
			return nil, fmt.Errorf("expected a list under %q", key)
		}
		items = list
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("expected a list or an object with %q", key)
	}

	batch := make([]map[string]any, len(items))
	for i, item := range items {
		// non-objects stay nil and are rejected by validation
		batch[i], _ = item.(map[string]any)
	}
	return batch, nil
}

// parseFilterFlag decodes a --filter value written as JSON or YAML flow
func parseFilterFlag(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var f map[string]any
	if err := json.Unmarshal([]byte(raw), &f); err == nil {
		return f, nil
	}
	if err := yaml.Unmarshal([]byte(raw), &f); err != nil {
		return nil, fmt.Errorf("invalid filter %q: %w", raw, err)
	}
	if f == nil {
		return nil, fmt.Errorf("invalid filter %q: must be an object", raw)
	}
	return f, nil
}
