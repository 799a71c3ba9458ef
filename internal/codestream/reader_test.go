package codestream

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/mrjoshuak/go-jpeg2000/internal/derr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildMinimalCodestream assembles a single-tile, single-component,
// single-tile-part codestream by hand, computing length and Psot fields
// from the actual encoded bytes rather than hardcoding them.
func buildMinimalCodestream() []byte {
	var siz bytes.Buffer
	binary.Write(&siz, binary.BigEndian, uint16(0)) // Rsiz
	binary.Write(&siz, binary.BigEndian, uint32(8)) // Xsiz
	binary.Write(&siz, binary.BigEndian, uint32(8)) // Ysiz
	binary.Write(&siz, binary.BigEndian, uint32(0)) // XOsiz
	binary.Write(&siz, binary.BigEndian, uint32(0)) // YOsiz
	binary.Write(&siz, binary.BigEndian, uint32(8)) // XTsiz
	binary.Write(&siz, binary.BigEndian, uint32(8)) // YTsiz
	binary.Write(&siz, binary.BigEndian, uint32(0)) // XTOsiz
	binary.Write(&siz, binary.BigEndian, uint32(0)) // YTOsiz
	binary.Write(&siz, binary.BigEndian, uint16(1)) // Csiz
	siz.WriteByte(7)                                // Ssiz: 8-bit unsigned
	siz.WriteByte(1)                                // XRsiz
	siz.WriteByte(1)                                // YRsiz

	cod := []byte{
		0x00,       // Scod: no precincts/SOP/EPH
		0x00,       // progression order LRCP
		0x00, 0x01, // NumLayers
		0x00, // MCT off
		0x00, // NumDecompositions (1 resolution)
		0x04, // code-block width exponent
		0x04, // code-block height exponent
		0x00, // code-block style
		0x00, // wavelet: 0 = 5/3 reversible
	}

	qcd := []byte{
		0x00, // Sqcd: style=None, guard bits=0
		0x40, // one exponent byte, exp=8
	}

	payload := []byte{0x00, 0x01, 0x02, 0x03}

	const sotFixedLen = 2 + 2 + 2 + 4 + 1 + 1 // code+Lsot+Isot+Psot+TPsot+TNsot
	const sodLen = 2
	headerLen := sotFixedLen + sodLen
	psot := uint32(headerLen + len(payload))

	var buf bytes.Buffer
	writeMarker := func(m uint16) { binary.Write(&buf, binary.BigEndian, m) }
	writeSegment := func(m uint16, body []byte) {
		writeMarker(m)
		binary.Write(&buf, binary.BigEndian, uint16(len(body)+2))
		buf.Write(body)
	}

	writeMarker(0xFF4F) // SOC
	writeSegment(0xFF51, siz.Bytes())
	writeSegment(0xFF52, cod)
	writeSegment(0xFF5C, qcd)

	writeMarker(0xFF90) // SOT
	binary.Write(&buf, binary.BigEndian, uint16(10))
	binary.Write(&buf, binary.BigEndian, uint16(0)) // Isot: tile 0
	binary.Write(&buf, binary.BigEndian, psot)
	buf.WriteByte(0) // TPsot
	buf.WriteByte(1) // TNsot

	writeMarker(0xFF93) // SOD
	buf.Write(payload)
	writeMarker(0xFFD9) // EOC

	return buf.Bytes()
}

func TestCodestreamReader_MinimalSingleTile(t *testing.T) {
	data := buildMinimalCodestream()
	cr := NewCodestreamReader(bytes.NewReader(data), nil)

	cp, err := cr.Read()
	require.NoError(t, err)
	assert.Equal(t, StateEOC, cr.state)

	require.Len(t, cp.TCPs, 1)
	tcp := cp.TCPs[0]
	require.Len(t, tcp.TilePartData, 1)
	assert.Equal(t, []byte{0x00, 0x01, 0x02, 0x03}, tcp.TilePartData[0])

	require.Len(t, tcp.Components, 1)
	c := tcp.Components[0]
	assert.Equal(t, 1, c.NumResolutions)
	assert.True(t, c.Reversible)
	assert.Equal(t, 6, c.CBlkWExp)
	assert.Equal(t, QStyleNone, c.QuantStyle)
	assert.Equal(t, []StepSize{{Exponent: 8}}, c.StepSizes)

	assert.Equal(t, uint32(8), cp.Image.X1)
	assert.Equal(t, 1, cp.Image.NumTiles())
}

func TestCodestreamReader_RejectsMissingSOC(t *testing.T) {
	data := buildMinimalCodestream()
	data[0] = 0x00 // corrupt the SOC marker code
	cr := NewCodestreamReader(bytes.NewReader(data), nil)
	_, err := cr.Read()
	require.Error(t, err)
	assert.True(t, derr.Is(err, derr.MalformedMarker))
}

func TestCodestreamReader_TileQCCOverridesMainQCD(t *testing.T) {
	data := buildMinimalCodestream()

	// Insert a tile-scoped QCC for component 0 right before SOD, with a
	// distinct exponent, and recompute Psot/tile-part header length.
	qcc := []byte{0x00, 0x00, 0x48} // Cqcc=0, Sqcc (style=None,guard=0), exponent byte exp=9
	var qccSeg bytes.Buffer
	binary.Write(&qccSeg, binary.BigEndian, uint16(0xFF5D))
	binary.Write(&qccSeg, binary.BigEndian, uint16(len(qcc)+2))
	qccSeg.Write(qcc)

	sotIdx := bytes.Index(data, []byte{0xFF, 0x90})
	sodIdx := bytes.Index(data, []byte{0xFF, 0x93})
	require.True(t, sotIdx >= 0 && sodIdx > sotIdx)

	rebuilt := append([]byte{}, data[:sodIdx]...)
	rebuilt = append(rebuilt, qccSeg.Bytes()...)
	rebuilt = append(rebuilt, data[sodIdx:]...)

	// Patch Psot (at sotIdx+6, after marker, Lsot and Isot; 4 bytes) to
	// include the inserted QCC bytes.
	oldPsot := binary.BigEndian.Uint32(data[sotIdx+6 : sotIdx+10])
	binary.BigEndian.PutUint32(rebuilt[sotIdx+6:sotIdx+10], oldPsot+uint32(qccSeg.Len()))

	cr := NewCodestreamReader(bytes.NewReader(rebuilt), nil)
	cp, err := cr.Read()
	require.NoError(t, err)

	c := cp.TCPs[0].Components[0]
	assert.Equal(t, uint8(9), c.StepSizes[0].Exponent)
}
