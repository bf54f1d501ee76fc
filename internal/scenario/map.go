package scenario

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Map is a string-keyed mapping that remembers insertion order.
// Scenario authors rely on declaration order (metrics drive the judge
// schema line order), which plain Go maps would lose.
type Map struct {
	keys   []string
	values map[string]any
}

// NewMap builds a Map from alternating key/value pairs.
func NewMap(pairs ...any) Map {
	var m Map
	for i := 0; i+1 < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			continue
		}
		m.Set(key, pairs[i+1])
	}
	return m
}

// Set inserts or replaces key. Replacing keeps its position.
func (m *Map) Set(key string, value any) {
	if m.values == nil {
		m.values = make(map[string]any)
	}
	if _, exists := m.values[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Get returns the value stored under key.
func (m Map) Get(key string) (any, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Has reports whether key is present.
func (m Map) Has(key string) bool {
	_, ok := m.values[key]
	return ok
}

// Keys returns the keys in declaration order.
func (m Map) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Len returns the number of entries.
func (m Map) Len() int { return len(m.keys) }

// Each calls fn for every entry in order.
func (m Map) Each(fn func(key string, value any)) {
	for _, k := range m.keys {
		fn(k, m.values[k])
	}
}

// UnmarshalJSON decodes a JSON object preserving key order. Any other JSON
// value decodes to an empty map: scenario files are user content and a
// malformed section is treated as absent.
func (m *Map) UnmarshalJSON(data []byte) error {
	*m = Map{}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("decode map: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil
	}
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return fmt.Errorf("decode map key: %w", err)
		}
		key, _ := kt.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("decode map value %q: %w", key, err)
		}
		value, err := decodeJSONValue(raw)
		if err != nil {
			return fmt.Errorf("decode map value %q: %w", key, err)
		}
		m.Set(key, value)
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("decode map: %w", err)
	}
	return nil
}

// decodeJSONValue keeps nested objects ordered too.
func decodeJSONValue(raw json.RawMessage) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var nested Map
		if err := nested.UnmarshalJSON(trimmed); err != nil {
			return nil, err
		}
		return nested, nil
	}
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
		out := make([]any, 0, len(items))
		for _, item := range items {
			v, err := decodeJSONValue(item)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// MarshalJSON encodes entries in declaration order.
func (m Map) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(m.values[k])
		if err != nil {
			return nil, fmt.Errorf("encode map value %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalYAML decodes a YAML mapping preserving key order.
func (m *Map) UnmarshalYAML(node *yaml.Node) error {
	*m = Map{}
	if node.Kind == yaml.AliasNode && node.Alias != nil {
		node = node.Alias
	}
	if node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		value, err := decodeYAMLValue(node.Content[i+1])
		if err != nil {
			return fmt.Errorf("decode map value %q: %w", key, err)
		}
		m.Set(key, value)
	}
	return nil
}

func decodeYAMLValue(node *yaml.Node) (any, error) {
	switch node.Kind {
	case yaml.MappingNode:
		var nested Map
		if err := nested.UnmarshalYAML(node); err != nil {
			return nil, err
		}
		return nested, nil
	case yaml.SequenceNode:
		out := make([]any, 0, len(node.Content))
		for _, item := range node.Content {
			v, err := decodeYAMLValue(item)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}
	var v any
	if err := node.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// AsMap returns value as a Map when it holds a mapping of any supported shape.
func AsMap(value any) (Map, bool) {
	switch v := value.(type) {
	case Map:
		return v, true
	case *Map:
		if v == nil {
			return Map{}, false
		}
		return *v, true
	case map[string]any:
		var m Map
		for _, k := range sortedKeys(v) {
			m.Set(k, v[k])
		}
		return m, true
	}
	return Map{}, false
}
