package view

import (
	"github.com/ValentinKolb/dDoc/lib/store"
	"strings"
)

// FieldsMap returns a map function that emits the values of the given fields as key.
//
// The document is skipped when the first key field is missing, null or an empty
// string. Later key fields that are missing emit "" in their position. The key is
// always an array, also for a single key field. Dotted paths
// ("address.city") address nested objects. With an empty valueField the rows
// carry a null value.
func FieldsMap(keyFields []string, valueField string) MapFunc {
	fields := append([]string(nil), keyFields...)
	return func(doc store.Document, emit Emitter) error {
		if len(fields) == 0 {
			return nil
		}

		first, ok := lookupField(doc.Properties, fields[0])
		if !ok || first == nil || first == "" {
			return nil
		}

		var value any
		if valueField != "" {
			value, _ = lookupField(doc.Properties, valueField)
		}

		key := make([]any, len(fields))
		key[0] = first
		for i, f := range fields[1:] {
			v, ok := lookupField(doc.Properties, f)
			if !ok || v == nil {
				v = ""
			}
			key[i+1] = v
		}
		emit.Emit(key, value)
		return nil
	}
}

// lookupField resolves a dotted path inside the document properties
func lookupField(props store.Properties, path string) (any, bool) {
	var cur any = props
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// --------------------------------------------------------------------------
// Declarative View Specs
// --------------------------------------------------------------------------

// Spec declares a field based view.
type Spec struct {
	Name    string   `yaml:"name" json:"name"`
	Version string   `yaml:"version" json:"version"`
	Keys    []string `yaml:"keys" json:"keys"`
	Value   string   `yaml:"value,omitempty" json:"value,omitempty"`
}

// Validate checks that s can be registered.
func (s Spec) Validate() error {
	if s.Name == "" {
		return store.NewError(store.RetCInvalidOperation, "view spec without name")
	}
	if len(s.Keys) == 0 {
		return store.Errorf(store.RetCInvalidOperation, "view %s has no key fields", s.Name)
	}
	for _, k := range s.Keys {
		if k == "" {
			return store.Errorf(store.RetCInvalidOperation, "view %s has an empty key field", s.Name)
		}
	}
	return nil
}

// MapFunc returns the map function described by s.
func (s Spec) MapFunc() MapFunc {
	return FieldsMap(s.Keys, s.Value)
}

// RegisterSpec validates and registers a declarative view.
func (e *Engine) RegisterSpec(s Spec) error {
	if err := s.Validate(); err != nil {
		return err
	}
	return e.Register(s.Name, s.MapFunc(), s.Version)
}
