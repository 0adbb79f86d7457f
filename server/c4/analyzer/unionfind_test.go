package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnionFindFindIsIdempotentForFreshNames(t *testing.T) {
	uf := newUnionFind()
	assert.Equal(t, "a", uf.find("a"))
	assert.Equal(t, "a", uf.find("a"))
}

func TestUnionFindUnionConnects(t *testing.T) {
	uf := newUnionFind()
	assert.False(t, uf.connected("a", "b"))
	uf.union("a", "b")
	assert.True(t, uf.connected("a", "b"))
}

func TestUnionFindTransitiveClosure(t *testing.T) {
	uf := newUnionFind()
	uf.union("a", "b")
	uf.union("b", "c")
	assert.True(t, uf.connected("a", "c"))
	assert.True(t, uf.connected("a", "b"))
}

func TestUnionFindPathCompressionPreservesGroups(t *testing.T) {
	uf := newUnionFind()
	uf.union("x", "y")
	uf.union("y", "z")
	uf.union("p", "q")

	assert.True(t, uf.connected("x", "z"))
	assert.False(t, uf.connected("x", "p"))
	assert.True(t, uf.connected("p", "q"))
}
