package store

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestRevTreeWinner(t *testing.T) {
	tree := NewRevTree()
	require.NoError(t, tree.Insert(RevNode{Rev: "1-a"}))
	require.NoError(t, tree.Insert(RevNode{Rev: "2-b", Parent: "1-a"}))

	assert.Equal(t, "2-b", tree.Winner().Rev)
	assert.Equal(t, []string{"2-b"}, tree.LiveLeaves())

	// concurrent edit on the same generation, higher id wins
	require.NoError(t, tree.Insert(RevNode{Rev: "2-c", Parent: "1-a"}))
	assert.Equal(t, "2-c", tree.Winner().Rev)
	assert.Equal(t, []string{"2-c", "2-b"}, tree.LiveLeaves())

	// a deleted leaf never beats a live one, even with a higher generation
	require.NoError(t, tree.Insert(RevNode{Rev: "3-d", Parent: "2-c", Deleted: true}))
	assert.Equal(t, "2-b", tree.Winner().Rev)
	assert.Equal(t, []string{"2-b"}, tree.LiveLeaves())

	// longer branch wins over the higher id
	require.NoError(t, tree.Insert(RevNode{Rev: "3-a", Parent: "2-b"}))
	assert.Equal(t, "3-a", tree.Winner().Rev)

	assert.Equal(t, []string{"2-b", "1-a"}, tree.History("3-a"))
}

func TestRevTreeInsertValidation(t *testing.T) {
	tree := NewRevTree()
	require.NoError(t, tree.Insert(RevNode{Rev: "1-a"}))

	assert.Error(t, tree.Insert(RevNode{Rev: "2-b", Parent: "1-x"}))
	assert.Error(t, tree.Insert(RevNode{Rev: "3-b", Parent: "1-a"}))
	assert.Nil(t, NewRevTree().Winner())
}

func TestRevTreeLinkAndMissingLeaves(t *testing.T) {
	tree := NewRevTree()
	require.NoError(t, tree.Insert(RevNode{Rev: "2-b", Missing: true}))
	require.NoError(t, tree.Insert(RevNode{Rev: "3-c", Parent: "2-b"}))
	require.NoError(t, tree.Insert(RevNode{Rev: "1-a", Missing: true}))

	// an ancestor without body is not a leaf
	assert.Equal(t, []string{"3-c"}, tree.LiveLeaves())

	linked, err := tree.Link("2-b", "1-a")
	require.NoError(t, err)
	assert.True(t, linked)
	assert.Equal(t, []string{"2-b", "1-a"}, tree.History("3-c"))

	// nodes with a parent keep it
	linked, err = tree.Link("3-c", "1-a")
	require.NoError(t, err)
	assert.False(t, linked)

	require.NoError(t, tree.Insert(RevNode{Rev: "5-e"}))
	_, err = tree.Link("5-e", "3-c")
	assert.Error(t, err)
}
