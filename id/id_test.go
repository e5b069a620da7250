package id

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRandomProducesDistinctNonZeroIds(t *testing.T) {
	a, err := NewRandom()
	require.NoError(t, err)
	b, err := NewRandom()
	require.NoError(t, err)

	assert.False(t, a.IsZero())
	assert.False(t, b.IsZero())
	assert.NotEqual(t, a, b)
}

func TestFromBytesIsDeterministic(t *testing.T) {
	a := FromBytes([]byte("node-key-material"))
	b := FromBytes([]byte("node-key-material"))
	assert.Equal(t, a, b)

	c := FromBytes([]byte("different-key-material"))
	assert.NotEqual(t, a, c)
}

func TestHexRoundTrip(t *testing.T) {
	a, err := NewRandom()
	require.NoError(t, err)

	parsed, err := FromHex(a.String())
	require.NoError(t, err)
	assert.Equal(t, a, parsed)
}

func TestFromHexRejectsWrongLength(t *testing.T) {
	_, err := FromHex("abcd")
	assert.Error(t, err)
}

func TestCloserToOrdersByXorDistance(t *testing.T) {
	target := Id{}
	a := Id{}
	a[Size-1] = 0x01
	b := Id{}
	b[Size-1] = 0x02

	assert.True(t, CloserTo(a, b, target))
	assert.False(t, CloserTo(b, a, target))
}

func TestCloserToTieBreaksLexicographically(t *testing.T) {
	target := Id{}
	a := Id{}
	a[0] = 0x01
	b := Id{}
	b[0] = 0x01
	// a and b are equidistant (both equal, so tie-break by raw byte order
	// falls back to equal ids being neither closer).
	assert.False(t, CloserTo(a, b, target))
	assert.False(t, CloserTo(b, a, target))

	c := a
	c[Size-1] = 0x01
	// a and c differ only in the tie-broken byte; both are equidistant to
	// target under XOR only when their XOR magnitudes match exactly, which
	// they do not here, so CloserTo falls back to plain distance.
	assert.True(t, CloserTo(a, c, target))
}

func TestCommonPrefixLen(t *testing.T) {
	a := Id{}
	b := Id{}
	assert.Equal(t, Size*8, CommonPrefixLen(a, b))

	b[0] = 0x80
	assert.Equal(t, 0, CommonPrefixLen(a, b))

	b = Id{}
	b[0] = 0x01
	assert.Equal(t, 7, CommonPrefixLen(a, b))
}

func TestByClosenessSortsAscending(t *testing.T) {
	target := Id{}
	near := Id{}
	near[Size-1] = 0x01
	mid := Id{}
	mid[Size-1] = 0x05
	far := Id{}
	far[Size-1] = 0xF0

	ids := []Id{far, near, mid}
	ByCloseness(ids, target)
	assert.Equal(t, []Id{near, mid, far}, ids)
}
