package jpeg2000

import (
	"bytes"
	"encoding/binary"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildMinimalJ2K assembles a single-tile, single-component, 5/3-reversible
// raw codestream of the given dimensions, mirroring the layout used by
// internal/codestream's own minimal-codestream fixture.
func buildMinimalJ2K(t *testing.T, width, height uint32) []byte {
	t.Helper()

	var siz bytes.Buffer
	binary.Write(&siz, binary.BigEndian, uint16(0))      // Rsiz
	binary.Write(&siz, binary.BigEndian, width)           // Xsiz
	binary.Write(&siz, binary.BigEndian, height)          // Ysiz
	binary.Write(&siz, binary.BigEndian, uint32(0))       // XOsiz
	binary.Write(&siz, binary.BigEndian, uint32(0))       // YOsiz
	binary.Write(&siz, binary.BigEndian, width)           // XTsiz
	binary.Write(&siz, binary.BigEndian, height)          // YTsiz
	binary.Write(&siz, binary.BigEndian, uint32(0))       // XTOsiz
	binary.Write(&siz, binary.BigEndian, uint32(0))       // YTOsiz
	binary.Write(&siz, binary.BigEndian, uint16(1))       // Csiz
	siz.WriteByte(7)                                      // Ssiz: 8-bit unsigned
	siz.WriteByte(1)                                       // XRsiz
	siz.WriteByte(1)                                       // YRsiz

	cod := []byte{
		0x00,       // Scod
		0x00,       // progression order LRCP
		0x00, 0x01, // NumLayers
		0x00, // MCT off
		0x00, // NumDecompositions (1 resolution)
		0x03, // code-block width exponent
		0x03, // code-block height exponent
		0x00, // code-block style
		0x00, // wavelet: 5/3 reversible
	}

	qcd := []byte{0x00, 0x40} // Sqcd: style=None, guard=0; exponent=8

	payload := []byte{0x00, 0x00, 0x00, 0x00}

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

func TestDecodeMetadata_RawCodestream(t *testing.T) {
	data := buildMinimalJ2K(t, 16, 16)
	m, err := DecodeMetadata(bytes.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, FormatJ2K, m.Format)
	assert.Equal(t, 16, m.Width)
	assert.Equal(t, 16, m.Height)
	assert.Equal(t, 1, m.NumComponents)
	assert.Equal(t, 1, m.NumResolutions)
	assert.Equal(t, 1, m.NumQualityLayers)
	assert.Equal(t, ColorSpaceUnspecified, m.ColorSpace)
}

func TestDecode_RawCodestreamProducesCorrectlySizedImage(t *testing.T) {
	data := buildMinimalJ2K(t, 16, 16)
	img, err := Decode(bytes.NewReader(data))
	require.NoError(t, err)

	bounds := img.Bounds()
	assert.Equal(t, 16, bounds.Dx())
	assert.Equal(t, 16, bounds.Dy())
}

func TestDecode_RejectsUnrecognizedFormat(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte("not a jpeg2000 file at all")))
	assert.Error(t, err)
}

func TestDecode_RejectsTruncatedCodestream(t *testing.T) {
	data := buildMinimalJ2K(t, 16, 16)
	_, err := Decode(bytes.NewReader(data[:len(data)-10]))
	assert.Error(t, err)
}

func TestFormat_String(t *testing.T) {
	assert.Equal(t, "J2K", FormatJ2K.String())
	assert.Equal(t, "JP2", FormatJP2.String())
	assert.Equal(t, "JPX", FormatJPX.String())
	assert.Equal(t, "Unknown", Format(99).String())
}

func TestProgressionOrder_String(t *testing.T) {
	assert.Equal(t, "LRCP", LRCP.String())
	assert.Equal(t, "RLCP", RLCP.String())
	assert.Equal(t, "RPCL", RPCL.String())
	assert.Equal(t, "PCRL", PCRL.String())
	assert.Equal(t, "CPRL", CPRL.String())
	assert.Equal(t, "Unknown", ProgressionOrder(99).String())
}

func TestDecodeConfig_DecodeAreaProducesFullSizedImage(t *testing.T) {
	// Non-window output pixels are untouched, not cropped out: the
	// returned image keeps the full canvas size even when DecodeArea
	// only covers part of it.
	data := buildMinimalJ2K(t, 16, 16)
	area := image.Rect(0, 0, 4, 4)
	cfg := &Config{DecodeArea: &area}

	img, err := DecodeConfig(bytes.NewReader(data), cfg)
	require.NoError(t, err)

	bounds := img.Bounds()
	assert.Equal(t, 16, bounds.Dx())
	assert.Equal(t, 16, bounds.Dy())
}

func TestDecodeConfig_QualityLayersAtLeastTheAvailableCountMatchesDefault(t *testing.T) {
	data := buildMinimalJ2K(t, 16, 16)
	def, err := Decode(bytes.NewReader(data))
	require.NoError(t, err)

	cfg := &Config{QualityLayers: 1} // fixture declares exactly one layer
	limited, err := DecodeConfig(bytes.NewReader(data), cfg)
	require.NoError(t, err)

	assert.Equal(t, def.Bounds(), limited.Bounds())
}

func TestDecodeConfig_ReduceResolutionZeroMatchesDefault(t *testing.T) {
	data := buildMinimalJ2K(t, 16, 16)
	def, err := Decode(bytes.NewReader(data))
	require.NoError(t, err)

	cfg := &Config{ReduceResolution: 0}
	reduced, err := DecodeConfig(bytes.NewReader(data), cfg)
	require.NoError(t, err)

	assert.Equal(t, def.Bounds(), reduced.Bounds())
}
