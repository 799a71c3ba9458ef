package bio

import (
	"bytes"
	"testing"

	"github.com/mrjoshuak/go-jpeg2000/internal/derr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByteStream_ReadPrimitives(t *testing.T) {
	s := NewByteStreamBytes([]byte{0xFF, 0x4F, 0x00, 0x01, 0x00, 0x00, 0x00, 0x02})

	u16, err := s.ReadU16()
	require.NoError(t, err)
	assert.Equal(t, uint16(0xFF4F), u16)

	u32, err := s.ReadU32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x00010000), u32)

	assert.Equal(t, int64(6), s.Tell())
}

func TestByteStream_Truncated(t *testing.T) {
	s := NewByteStream(bytes.NewReader([]byte{0x01}))
	_, err := s.ReadU16()
	require.Error(t, err)
	var de *derr.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, derr.Truncated, de.Kind)
}

func TestByteStream_SkipPastEndIsTruncated(t *testing.T) {
	s := NewByteStreamBytes([]byte{0x01, 0x02})
	err := s.Skip(10)
	require.Error(t, err)
	assert.True(t, derr.Is(err, derr.Truncated))
}

func TestByteStream_SeekUnseekable(t *testing.T) {
	s := NewByteStream(&onceReader{data: []byte{0x01, 0x02, 0x03}})
	err := s.Seek(1)
	require.Error(t, err)
	assert.True(t, derr.Is(err, derr.Unseekable))
}

func TestByteStream_SeekAndTell(t *testing.T) {
	s := NewByteStreamBytes([]byte{0, 1, 2, 3, 4, 5})
	require.NoError(t, s.Seek(3))
	assert.Equal(t, int64(3), s.Tell())
	b, err := s.ReadU8()
	require.NoError(t, err)
	assert.Equal(t, uint8(3), b)
	assert.Equal(t, int64(2), s.BytesLeft())
}

// onceReader implements io.Reader but not io.Seeker.
type onceReader struct {
	data []byte
	pos  int
}

func (r *onceReader) Read(p []byte) (int, error) {
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}
