package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewID_Unique(t *testing.T) {
	seen := make(map[ID]struct{})
	for i := 0; i < 10000; i++ {
		id := NewID()
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}

func TestID_HexRoundTrip(t *testing.T) {
	id := NewID()

	hex := id.Hex()
	assert.Len(t, hex, 24)

	parsed, err := IDFromHex(hex)
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestID_FromBytesValidatesLength(t *testing.T) {
	_, err := IDFromBytes(make([]byte, 11))
	assert.Error(t, err)

	_, err = IDFromBytes(make([]byte, 12))
	assert.NoError(t, err)
}

func TestID_IsZero(t *testing.T) {
	assert.True(t, ID{}.IsZero())
	assert.False(t, NewID().IsZero())
}
