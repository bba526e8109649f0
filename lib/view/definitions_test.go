package view

import (
	"context"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const booksDefinitions = `
views:
  - name: by_author
    version: "1"
    keys: [author, title]
  - name: by_city
    version: "1"
    keys: [address.city]
    value: title
`

func TestParseDefinitions(t *testing.T) {
	specs, err := ParseDefinitions([]byte(booksDefinitions))
	require.NoError(t, err)
	assert.Equal(t, []Spec{
		{Name: "by_author", Version: "1", Keys: []string{"author", "title"}},
		{Name: "by_city", Version: "1", Keys: []string{"address.city"}, Value: "title"},
	}, specs)

	tests := []struct {
		name string
		data string
	}{
		{"no keys", "views:\n  - name: x\n    version: \"1\"\n"},
		{"no name", "views:\n  - keys: [a]\n"},
		{"duplicate", "views:\n  - name: x\n    keys: [a]\n  - name: x\n    keys: [b]\n"},
		{"not yaml", "views: [:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDefinitions([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestFieldsMap(t *testing.T) {
	tests := []struct {
		name  string
		keys  []string
		value string
		props store.Properties
		want  []emission
	}{
		{"composite", []string{"author", "title"}, "", store.Properties{"author": "Alice", "title": "X"},
			[]emission{{key: []any{"Alice", "X"}}}},
		{"missing later field", []string{"author", "title"}, "", store.Properties{"author": "Alice"},
			[]emission{{key: []any{"Alice", ""}}}},
		{"missing first field", []string{"author", "title"}, "", store.Properties{"title": "X"}, nil},
		{"empty first field", []string{"author"}, "", store.Properties{"author": ""}, nil},
		{"single field with value", []string{"author"}, "title", store.Properties{"author": "Alice", "title": "X"},
			[]emission{{key: []any{"Alice"}, value: "X"}}},
		{"nested path", []string{"address.city"}, "", store.Properties{"address": map[string]any{"city": "Berlin"}},
			[]emission{{key: []any{"Berlin"}}}},
		{"nested path through scalar", []string{"address.city"}, "", store.Properties{"address": "Berlin"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &collector{}
			require.NoError(t, FieldsMap(tt.keys, tt.value)(store.Document{ID: "d", Properties: tt.props}, c))
			assert.Equal(t, tt.want, c.emits)
		})
	}
}

func TestWatchDefinitionsAppliesVersionBump(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	docs, e := newTestEngine(t, nil)
	put(t, docs, "b1", store.Properties{"author": "Alice", "title": "X"})

	path := filepath.Join(t.TempDir(), "views.yaml")
	require.NoError(t, os.WriteFile(path, []byte(booksDefinitions), 0o644))

	specs, err := LoadDefinitions(path)
	require.NoError(t, err)
	require.NoError(t, e.ApplyDefinitions(specs))
	assert.Equal(t, []string{"by_author", "by_city"}, e.Names())

	applied := make(chan []Spec, 4)
	require.NoError(t, WatchDefinitions(ctx, path, func(specs []Spec) {
		assert.NoError(t, e.ApplyDefinitions(specs))
		applied <- specs
	}))

	updated := "views:\n  - name: by_author\n    version: \"2\"\n    keys: [title]\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	select {
	case specs := <-applied:
		require.Len(t, specs, 1)
		assert.Equal(t, "2", specs[0].Version)
	case <-time.After(5 * time.Second):
		t.Fatal("definitions change was not picked up")
	}

	rows, err := e.Query(ctx, "by_author", QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, []Row{{Key: []any{"X"}, DocID: "b1"}}, rows)
}
