package ident

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHexRoundTrip(t *testing.T) {
	const h = "64bb7ea337b9d8195e3b441d"
	id, err := FromHex(h)
	require.NoError(t, err)
	assert.Equal(t, h, id.Hex())
}

func TestFromHexRejectsWrongLength(t *testing.T) {
	_, err := FromHex("abcd")
	assert.Error(t, err)
}

func TestCompareOrdersLexicographically(t *testing.T) {
	a, err := FromHex("000000000000000000000001")
	require.NoError(t, err)
	b, err := FromHex("000000000000000000000002")
	require.NoError(t, err)
	assert.True(t, Less(a, b))
	assert.False(t, Less(b, a))
	assert.Equal(t, 0, Compare(a, a))
}

func TestGeneratorProducesUniqueIDsWithinProcess(t *testing.T) {
	g := NewGenerator()
	seen := make(map[ID]bool, 10000)
	for i := 0; i < 10000; i++ {
		id := g.New()
		if seen[id] {
			t.Fatalf("duplicate identifier generated: %s", id.Hex())
		}
		seen[id] = true
	}
}

func TestGeneratorConsecutiveIDsDiffer(t *testing.T) {
	g := NewGenerator()
	first := g.New()
	second := g.New()
	assert.True(t, Less(first, second) || first != second)
}

func TestZeroAndIsZero(t *testing.T) {
	var id ID
	assert.True(t, id.IsZero())
	id[0] = 1
	assert.False(t, id.IsZero())
}

func TestFromBytesRoundTrip(t *testing.T) {
	id := New()
	id2, err := FromBytes(id.Bytes())
	require.NoError(t, err)
	assert.Equal(t, id, id2)
}
