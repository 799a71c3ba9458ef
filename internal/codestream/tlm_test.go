package codestream

import (
	"testing"

	"github.com/mrjoshuak/go-jpeg2000/internal/derr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTileLengthIndex_ExplicitOneByteIndex(t *testing.T) {
	idx := NewTileLengthIndex()
	// ST=1 (1-byte tile index), SP=0 (2-byte length): two records.
	data := []byte{
		0x00, 0x00, 0x64, // tile 0, length 100
		0x01, 0x00, 0xC8, // tile 1, length 200
	}
	require.NoError(t, idx.AddSegment(1, 0, data))
	require.NoError(t, idx.Validate(2))

	entries := idx.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, TileLengthEntry{TileIndex: 0, Length: 100}, entries[0])
	assert.Equal(t, TileLengthEntry{TileIndex: 1, Length: 200}, entries[1])

	off, err := idx.SkipTo(1)
	require.NoError(t, err)
	assert.Equal(t, int64(100), off)
}

func TestTileLengthIndex_ImplicitSequentialIndex(t *testing.T) {
	idx := NewTileLengthIndex()
	// ST=0 (implicit index), SP=1 (4-byte length).
	data := []byte{
		0x00, 0x00, 0x00, 0x10,
		0x00, 0x00, 0x00, 0x20,
	}
	require.NoError(t, idx.AddSegment(0, 1, data))
	entries := idx.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, -1, entries[0].TileIndex)
	assert.Equal(t, uint32(0x10), entries[0].Length)
}

func TestTileLengthIndex_BadRecordSizeIsMalformed(t *testing.T) {
	idx := NewTileLengthIndex()
	err := idx.AddSegment(1, 0, []byte{0x00, 0x00, 0x01}) // 3 bytes, record size 3 -- actually valid
	require.NoError(t, err)
	err = idx.AddSegment(1, 0, []byte{0x00, 0x00}) // 2 bytes, not a multiple of 3
	require.Error(t, err)
	assert.True(t, derr.Is(err, derr.MalformedMarker))
}

func TestTileLengthIndex_OutOfRangeTileFailsValidate(t *testing.T) {
	idx := NewTileLengthIndex()
	require.NoError(t, idx.AddSegment(1, 0, []byte{0x05, 0x00, 0x01}))
	err := idx.Validate(2)
	require.Error(t, err)
	assert.True(t, derr.Is(err, derr.ParameterOutOfRange))
}

// TestTileLengthIndex_PartialCoverageFailsValidate covers a TLM index whose
// entries are all individually in range but don't name every tile in
// [0, numTiles) -- e.g. a truncated or duplicated marker segment -- which
// must fail the same way an out-of-range entry does, since SkipTo can't be
// trusted to land on a tile boundary it never accounted for.
func TestTileLengthIndex_PartialCoverageFailsValidate(t *testing.T) {
	idx := NewTileLengthIndex()
	// Both records name tile 0; tile 1 (of 2) is never covered.
	data := []byte{
		0x00, 0x00, 0x64,
		0x00, 0x00, 0x64,
	}
	require.NoError(t, idx.AddSegment(1, 0, data))
	err := idx.Validate(2)
	require.Error(t, err)
	assert.True(t, derr.Is(err, derr.ParameterOutOfRange))
}
