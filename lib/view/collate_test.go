package view

import (
	"github.com/stretchr/testify/assert"
	"math/rand"
	"sort"
	"testing"
)

func TestCollateOrder(t *testing.T) {
	// ascending order
	ordered := []any{
		nil,
		false,
		true,
		-1,
		0,
		1.5,
		2,
		"",
		"Alice",
		"Bob",
		"alice",
		[]any{},
		[]any{1, 2},
		[]any{"Alice"},
		[]any{"Alice", ""},
		[]any{"Alice", "X"},
		[]any{"Alice", "Y"},
		[]any{"Bob"},
		map[string]any{},
		map[string]any{"a": 1},
		map[string]any{"a": 2},
		map[string]any{"a": 2, "b": 1},
	}

	for i := 0; i < len(ordered); i++ {
		for j := 0; j < len(ordered); j++ {
			want := 0
			switch {
			case i < j:
				want = -1
			case i > j:
				want = 1
			}
			assert.Equal(t, want, Collate(ordered[i], ordered[j]), "Collate(%v, %v)", ordered[i], ordered[j])
		}
	}
}

func TestCollateSortsShuffledKeys(t *testing.T) {
	keys := []any{[]any{"Bob", "A"}, []any{"Alice", "Y"}, []any{"Alice", "X"}, "z", 3, nil, true}
	shuffled := append([]any(nil), keys...)
	rand.New(rand.NewSource(1)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	sort.Slice(shuffled, func(i, j int) bool { return Collate(shuffled[i], shuffled[j]) < 0 })

	assert.Equal(t, []any{nil, true, 3, "z", []any{"Alice", "X"}, []any{"Alice", "Y"}, []any{"Bob", "A"}}, shuffled)
}

func TestCollateNormalizesNumbers(t *testing.T) {
	assert.Equal(t, 0, Collate(int64(3), 3.0))
	assert.Equal(t, 0, Collate([]string{"a", "b"}, []any{"a", "b"}))
	assert.Equal(t, -1, Collate(uint8(1), float32(1.5)))
}

func TestHasPrefix(t *testing.T) {
	assert.True(t, hasPrefix([]any{"Alice", "X"}, []any{"Alice"}))
	assert.True(t, hasPrefix([]any{"Alice"}, []any{"Alice"}))
	assert.False(t, hasPrefix([]any{"Alicia"}, []any{"Alice"}))
	assert.False(t, hasPrefix("Alice", []any{"Alice"}))
	assert.False(t, hasPrefix([]any{}, []any{"Alice"}))
}
