package tcd

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/mrjoshuak/go-jpeg2000/internal/codestream"
	"github.com/mrjoshuak/go-jpeg2000/internal/entropy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildCodestream assembles a single-tile, single-component codestream with
// the requested number of decomposition levels, following the same marker
// layout as internal/codestream's own minimal-codestream test fixture.
func buildCodestream(t *testing.T, numDecomp int, payload []byte) []byte {
	t.Helper()

	var siz bytes.Buffer
	binary.Write(&siz, binary.BigEndian, uint16(0))  // Rsiz
	binary.Write(&siz, binary.BigEndian, uint32(16)) // Xsiz
	binary.Write(&siz, binary.BigEndian, uint32(16)) // Ysiz
	binary.Write(&siz, binary.BigEndian, uint32(0))  // XOsiz
	binary.Write(&siz, binary.BigEndian, uint32(0))  // YOsiz
	binary.Write(&siz, binary.BigEndian, uint32(16)) // XTsiz
	binary.Write(&siz, binary.BigEndian, uint32(16)) // YTsiz
	binary.Write(&siz, binary.BigEndian, uint32(0))  // XTOsiz
	binary.Write(&siz, binary.BigEndian, uint32(0))  // YTOsiz
	binary.Write(&siz, binary.BigEndian, uint16(1))  // Csiz
	siz.WriteByte(7)                                 // Ssiz: 8-bit unsigned
	siz.WriteByte(1)                                 // XRsiz
	siz.WriteByte(1)                                 // YRsiz

	cod := []byte{
		0x00,             // Scod
		0x00,             // progression order LRCP
		0x00, 0x01,       // NumLayers
		0x00,             // MCT off
		byte(numDecomp),  // NumDecompositions
		0x03,             // code-block width exponent (2+3=5 -> 32)
		0x03,             // code-block height exponent (2+3=5 -> 32)
		0x00,             // code-block style
		0x00,             // wavelet: 5/3 reversible
	}

	numBands := 1 + 3*numDecomp
	qcd := []byte{0x00} // Sqcd: style=None, guard bits=0
	for i := 0; i < numBands; i++ {
		qcd = append(qcd, byte((8+i)<<3))
	}

	const sotFixedLen = 2 + 2 + 2 + 4 + 1 + 1
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
	binary.Write(&buf, binary.BigEndian, uint16(0)) // Isot
	binary.Write(&buf, binary.BigEndian, psot)
	buf.WriteByte(0) // TPsot
	buf.WriteByte(1) // TNsot

	writeMarker(0xFF93) // SOD
	buf.Write(payload)
	writeMarker(0xFFD9) // EOC

	return buf.Bytes()
}

func parseCodingParams(t *testing.T, data []byte) *codestream.CodingParams {
	t.Helper()
	cr := codestream.NewCodestreamReader(bytes.NewReader(data), nil)
	cp, err := cr.Read()
	require.NoError(t, err)
	return cp
}

func TestTagTree_SetValueAndReset(t *testing.T) {
	tree := NewTagTree(2, 2)
	tree.SetValue(0, 0, 3)
	tree.SetValue(1, 1, 5)
	assert.Equal(t, 2, tree.width)

	tree.Reset()
	for _, level := range tree.nodes {
		for _, n := range level {
			assert.False(t, n.known)
			assert.Equal(t, 0, n.low)
		}
	}
}

func TestTileDecoder_InitTile_SingleResolution(t *testing.T) {
	data := buildCodestream(t, 0, []byte{0x00})
	cp := parseCodingParams(t, data)

	td := NewTileDecoder(cp, 0)
	td.InitTile(0)
	tile := td.Tile()

	require.Len(t, tile.Components, 1)
	tc := tile.Components[0]
	assert.Equal(t, 0, tc.X0)
	assert.Equal(t, 0, tc.Y0)
	assert.Equal(t, 16, tc.X1)
	assert.Equal(t, 16, tc.Y1)
	assert.Len(t, tc.Data, 16*16)

	require.Len(t, tc.Resolutions, 1)
	res := tc.Resolutions[0]
	require.Equal(t, 1, res.NumBands)
	assert.Equal(t, entropy.BandLL, res.Bands[0].Type)
	assert.Equal(t, 16, res.Bands[0].X1-res.Bands[0].X0)
	require.Len(t, res.Precincts, 1)
}

func TestTileDecoder_InitTile_MultiResolution(t *testing.T) {
	data := buildCodestream(t, 1, []byte{0x00})
	cp := parseCodingParams(t, data)

	td := NewTileDecoder(cp, 0)
	td.InitTile(0)
	tile := td.Tile()
	tc := tile.Components[0]

	require.Len(t, tc.Resolutions, 2)
	assert.Equal(t, 1, tc.Resolutions[0].NumBands)
	assert.Equal(t, 3, tc.Resolutions[1].NumBands)

	// Resolution 1's three bands should tile the full resolution extent
	// between them (HL+LH+HH quadrants around the LL quadrant).
	res1 := tc.Resolutions[1]
	for _, b := range res1.Bands {
		assert.GreaterOrEqual(t, b.X1, b.X0)
		assert.GreaterOrEqual(t, b.Y1, b.Y0)
	}
}

// TestTileDecoder_InitBand_QuadrantsMatchMallatLayout pins each band's
// carve-out of the resolution's quadrant: HL is the high-x-frequency band
// (right half), LH is the high-y-frequency band (bottom half), matching the
// same quadrant split dwt.CalculateSubbands uses for the shared coefficient
// buffer.
func TestTileDecoder_InitBand_QuadrantsMatchMallatLayout(t *testing.T) {
	data := buildCodestream(t, 1, []byte{0x00})
	cp := parseCodingParams(t, data)

	td := NewTileDecoder(cp, 0)
	td.InitTile(0)
	res1 := td.Tile().Components[0].Resolutions[1]

	byType := map[int][4]int{}
	for _, b := range res1.Bands {
		byType[b.Type] = [4]int{b.X0, b.Y0, b.X1, b.Y1}
	}

	assert.Equal(t, [4]int{8, 0, 16, 8}, byType[entropy.BandHL])
	assert.Equal(t, [4]int{0, 8, 8, 16}, byType[entropy.BandLH])
	assert.Equal(t, [4]int{8, 8, 16, 16}, byType[entropy.BandHH])
}

func TestTileDecoder_DecodeCodeBlock_EmptyDataYieldsZeroedCoefficients(t *testing.T) {
	data := buildCodestream(t, 0, []byte{0x00})
	cp := parseCodingParams(t, data)

	td := NewTileDecoder(cp, 0)
	td.InitTile(0)
	cb := td.Tile().Components[0].Resolutions[0].Bands[0].CodeBlocks[0]

	require.NoError(t, td.DecodeCodeBlock(cb, 0, codestream.T1Standard))
	want := (cb.X1 - cb.X0) * (cb.Y1 - cb.Y0)
	assert.Len(t, cb.Coefficients, want)
	for _, v := range cb.Coefficients {
		assert.Zero(t, v)
	}
}
