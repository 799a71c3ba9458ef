package codestream

import (
	"testing"

	"github.com/mrjoshuak/go-jpeg2000/internal/derr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// encodeBase128 mirrors the PLT/PLM variable-length encoding: 7 payload
// bits per byte, continuation bit set on every byte but the last.
func encodeBase128(v uint32) []byte {
	var out []byte
	out = append(out, byte(v&0x7F))
	v >>= 7
	for v > 0 {
		out = append([]byte{byte(v&0x7F) | 0x80}, out...)
		v >>= 7
	}
	return out
}

func TestPacketLengthIndex_RoundTrip(t *testing.T) {
	idx := NewPacketLengthIndex()
	var segment []byte
	for _, v := range []uint32{0, 127, 128, 16384, 5} {
		segment = append(segment, encodeBase128(v)...)
	}
	require.NoError(t, idx.AddSegment(0, segment))

	idx.Rewind()
	assert.Equal(t, uint32(0), idx.PopNextPacketLength())
	assert.Equal(t, uint32(127), idx.PopNextPacketLength())
	assert.Equal(t, uint32(128), idx.PopNextPacketLength())
	assert.Equal(t, uint32(16384), idx.PopNextPacketLength())
	assert.Equal(t, uint32(5), idx.PopNextPacketLength())
	assert.Equal(t, uint32(0), idx.PopNextPacketLength()) // exhausted
}

func TestPacketLengthIndex_TruncatedContinuationIsMalformed(t *testing.T) {
	idx := NewPacketLengthIndex()
	err := idx.AddSegment(0, []byte{0x80}) // continuation bit set, nothing follows
	require.Error(t, err)
	assert.True(t, derr.Is(err, derr.MalformedMarker))
}

func TestPacketLengthIndex_MultipleSegmentsConcatenateInOrder(t *testing.T) {
	idx := NewPacketLengthIndex()
	require.NoError(t, idx.AddSegment(0, encodeBase128(10)))
	require.NoError(t, idx.AddSegment(1, encodeBase128(20)))
	assert.Equal(t, uint64(30), idx.Sum())
	assert.Equal(t, 2, idx.Len())
}
