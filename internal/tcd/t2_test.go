package tcd

import (
	"testing"

	"github.com/mrjoshuak/go-jpeg2000/internal/codestream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketIterator_LRCPOrder(t *testing.T) {
	precincts := [][][]int{
		{{1}, {1}}, // component 0: 2 resolutions, 1 precinct each
		{{1}, {1}}, // component 1
	}
	pi := NewPacketIterator(2, 2, 1, precincts, codestream.LRCP)

	var got []Packet
	for {
		p, ok := pi.Next()
		if !ok {
			break
		}
		got = append(got, p)
	}

	want := []Packet{
		{Layer: 0, Resolution: 0, Component: 0, Precinct: 0},
		{Layer: 0, Resolution: 0, Component: 1, Precinct: 0},
		{Layer: 0, Resolution: 1, Component: 0, Precinct: 0},
		{Layer: 0, Resolution: 1, Component: 1, Precinct: 0},
	}
	assert.Equal(t, want, got)
}

func TestPacketIterator_ResetReplaysSameSequence(t *testing.T) {
	precincts := [][][]int{{{1}}}
	pi := NewPacketIterator(1, 1, 2, precincts, codestream.LRCP)

	var first []Packet
	for {
		p, ok := pi.Next()
		if !ok {
			break
		}
		first = append(first, p)
	}

	pi.Reset()
	var second []Packet
	for {
		p, ok := pi.Next()
		if !ok {
			break
		}
		second = append(second, p)
	}

	assert.Equal(t, first, second)
	assert.Len(t, first, 2) // 2 layers x 1 resolution x 1 component x 1 precinct
}

func TestPacketDecoder_EmptyPacketAdvancesOneByte(t *testing.T) {
	payload := []byte{0x00, 0xAA, 0xBB} // present bit 0 => empty packet
	cb := &CodeBlock{IncludedInLayers: -1}
	prec := &Precinct{
		CodeBlocks:    [][]*CodeBlock{{cb}},
		InclusionTree: NewTagTree(1, 1),
		IMSBTree:      NewTagTree(1, 1),
	}

	dec := NewPacketDecoder(payload)
	require.NoError(t, dec.DecodePacket(prec, 0, false, false, 0))
	assert.Equal(t, -1, cb.IncludedInLayers)
	assert.Nil(t, cb.Data)
	assert.Equal(t, 1, dec.Position())
}

// TestPacketDecoder_SOPResyncsPositionBeforeHeader pins the fix for a
// position-desync bug: the packet header is read through a bit reader
// wrapping its own byte cursor, which must stay aligned with the
// PacketDecoder's cursor used for SOP/EPH detection and body copies.
func TestPacketDecoder_SOPResyncsPositionBeforeHeader(t *testing.T) {
	payload := []byte{
		0xFF, 0x91, 0x00, 0x04, 0x00, 0x00, // SOP marker (6 bytes)
		0xE7, 0x00, // packet header (10 meaningful bits, padded to 2 bytes)
		0xAA, 0xBB, 0xCC, 0xDD, // code-block data, length 4
	}

	cb := &CodeBlock{IncludedInLayers: -1}
	prec := &Precinct{
		CodeBlocks:    [][]*CodeBlock{{cb}},
		InclusionTree: NewTagTree(1, 1),
		IMSBTree:      NewTagTree(1, 1),
	}

	dec := NewPacketDecoder(payload)
	require.NoError(t, dec.DecodePacket(prec, 0, true, false, 0))

	assert.Equal(t, 0, cb.IncludedInLayers)
	assert.Equal(t, 0, cb.ZeroBitPlanes)
	require.Len(t, cb.Passes, 1)
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC, 0xDD}, cb.Data)
	assert.Equal(t, len(payload), dec.Position())
}

func TestPacketDecoder_SecondPacketStartsWhereFirstEnded(t *testing.T) {
	// Two back-to-back empty packets (no SOP/EPH): each consumes exactly
	// one header byte (a single zero presence bit, byte-aligned).
	payload := []byte{0x00, 0x00}
	cb := &CodeBlock{IncludedInLayers: -1}
	prec := &Precinct{
		CodeBlocks:    [][]*CodeBlock{{cb}},
		InclusionTree: NewTagTree(1, 1),
		IMSBTree:      NewTagTree(1, 1),
	}

	dec := NewPacketDecoder(payload)
	require.NoError(t, dec.DecodePacket(prec, 0, false, false, 0))
	assert.Equal(t, 1, dec.Position())
	require.NoError(t, dec.DecodePacket(prec, 1, false, false, 0))
	assert.Equal(t, 2, dec.Position())
}

// TestPacketDecoder_PLTLengthIsAuthoritativeOverBodyExtent pins section
// 4.6: when a PLT/PLM length is supplied, the packet body is taken to be
// exactly that many bytes, overriding whatever the tag-tree/length-field
// derived code-block extents computed, so trailing padding within the
// PLT-declared span is consumed rather than left for the next packet.
func TestPacketDecoder_PLTLengthIsAuthoritativeOverBodyExtent(t *testing.T) {
	payload := []byte{
		0xE7, 0x00, // packet header: 1 code-block, 1 pass, length 4
		0xAA, 0xBB, 0xCC, 0xDD, // code-block data, length 4
		0x00, 0x00, // padding the PLT length says belongs to this packet
	}
	cb := &CodeBlock{IncludedInLayers: -1}
	prec := &Precinct{
		CodeBlocks:    [][]*CodeBlock{{cb}},
		InclusionTree: NewTagTree(1, 1),
		IMSBTree:      NewTagTree(1, 1),
	}

	dec := NewPacketDecoder(payload)
	require.NoError(t, dec.DecodePacket(prec, 0, false, false, 8))
	assert.Equal(t, 8, dec.Position())
}

// TestPacketDecoder_PLTLengthShorterThanBodyIsRejected ensures a PLT
// length that can't even cover the decoded header+body is treated as
// malformed rather than silently truncating code-block data.
func TestPacketDecoder_PLTLengthShorterThanBodyIsRejected(t *testing.T) {
	payload := []byte{
		0xE7, 0x00,
		0xAA, 0xBB, 0xCC, 0xDD,
	}
	cb := &CodeBlock{IncludedInLayers: -1}
	prec := &Precinct{
		CodeBlocks:    [][]*CodeBlock{{cb}},
		InclusionTree: NewTagTree(1, 1),
		IMSBTree:      NewTagTree(1, 1),
	}

	dec := NewPacketDecoder(payload)
	err := dec.DecodePacket(prec, 0, false, false, 2)
	assert.Error(t, err)
}
