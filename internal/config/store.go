package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Store is a read-only key/value source of configuration, secrets and feature
// flags. Values are opaque strings; Load parses them once at run start.
type Store interface {
	Lookup(key string) (string, bool)
}

// EnvStore reads the process environment. Empty values count as unset.
type EnvStore struct{}

func (EnvStore) Lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// MapStore is a fixed in-memory store.
type MapStore map[string]string

func (m MapStore) Lookup(key string) (string, bool) {
	v, ok := m[key]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Layered consults each store in order and returns the first hit.
type Layered []Store

func (l Layered) Lookup(key string) (string, bool) {
	for _, s := range l {
		if v, ok := s.Lookup(key); ok {
			return v, true
		}
	}
	return "", false
}

// LoadFileStore reads a flat YAML document of KEY: value pairs, using the same
// key names as the environment. Scalars of any YAML type are accepted; lists
// are joined with commas.
func LoadFileStore(path string) (MapStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	out := make(MapStore, len(doc))
	for k, v := range doc {
		s, err := scalarString(v)
		if err != nil {
			return nil, fmt.Errorf("config: %s: key %s: %w", path, k, err)
		}
		out[k] = s
	}
	return out, nil
}

func scalarString(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case int:
		return strconv.Itoa(t), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case []any:
		var s string
		for i, item := range t {
			part, err := scalarString(item)
			if err != nil {
				return "", err
			}
			if i > 0 {
				s += ","
			}
			s += part
		}
		return s, nil
	}
	return "", fmt.Errorf("unsupported value type %T", v)
}
