package codestream

import "github.com/mrjoshuak/go-jpeg2000/internal/derr"

// PacketLengthIndex implements the PLT (per tile-part) and PLM (global)
// packet-length marker stores described in section 4.3. Both share the
// same base-128 variable-length integer encoding (7 payload bits per byte,
// high bit set = continuation) and the same rewind/pop access pattern; the
// two markers differ only in scope (PLT is local to one tile-part, PLM
// spans the whole codestream) which callers express by how many times
// they call AddSegment before the first Rewind.
type PacketLengthIndex struct {
	// byIndex holds, for each encountered marker index, the packet
	// lengths appended by that segment, in the order decoded.
	byIndex map[int][]uint32
	// order records the sequence of marker indices as first seen, which
	// is also the flattening order for Rewind/Pop.
	order []int

	flat []uint32
	pos  int

	nextSeq     int  // next index expected for legal sequential-mod-256 growth
	sequential  bool // true once we have successfully extended past index 255
	broken      bool // sequential-mod-256 discipline was violated after extension
}

// NewPacketLengthIndex creates an empty index.
func NewPacketLengthIndex() *PacketLengthIndex {
	return &PacketLengthIndex{byIndex: make(map[int][]uint32)}
}

// AddSegment decodes one marker segment's worth of base-128 values and
// appends them under the given marker index (Zplt/Zplm). A value left
// unfinished at the end of the segment (a continuation bit left dangling
// across the marker boundary) is MalformedMarker, per section 4.3.
//
// index is widened to int to support the "sequential mod 256" liberal-read
// extension (section 9): once more than 256 distinct marker segments have
// been seen, indices are interpreted as wrapping mod 256 and must continue
// to arrive in strictly sequential order, or the index is considered
// broken and future reads fail.
func (idx *PacketLengthIndex) AddSegment(rawIndex uint8, data []byte) error {
	effIndex := int(rawIndex)
	if len(idx.order) >= 256 {
		// Extended beyond the standard 256 markers: liberal "sequential
		// mod 256" interpretation (deliberate liberal read, per design
		// notes section 9).
		idx.sequential = true
		expected := idx.nextSeq % 256
		if int(rawIndex) != expected {
			idx.broken = true
			return derr.New(derr.MalformedMarker, "PLT/PLM sequential-mod-256 discipline violated")
		}
		effIndex = idx.nextSeq
	}
	if idx.broken {
		return derr.New(derr.MalformedMarker, "packet length index previously broken by non-sequential extension")
	}

	if _, seen := idx.byIndex[effIndex]; !seen {
		idx.order = append(idx.order, effIndex)
	}

	var accum uint32
	dangling := false
	for _, b := range data {
		accum = (accum << 7) | uint32(b&0x7F)
		dangling = b&0x80 != 0
		if !dangling {
			idx.byIndex[effIndex] = append(idx.byIndex[effIndex], accum)
			accum = 0
		}
	}
	if dangling {
		return derr.New(derr.MalformedMarker, "truncated base-128 packet length at end of marker")
	}

	idx.nextSeq = effIndex + 1
	idx.flat = nil // invalidate cached flattening
	return nil
}

// Rewind resets iteration to the start of the flattened, index-ordered
// sequence of packet lengths.
func (idx *PacketLengthIndex) Rewind() {
	if idx.flat == nil {
		for _, i := range idx.order {
			idx.flat = append(idx.flat, idx.byIndex[i]...)
		}
	}
	idx.pos = 0
}

// PopNextPacketLength returns the next packet length, or 0 to indicate
// exhaustion (section 4.3).
func (idx *PacketLengthIndex) PopNextPacketLength() uint32 {
	if idx.flat == nil {
		idx.Rewind()
	}
	if idx.pos >= len(idx.flat) {
		return 0
	}
	v := idx.flat[idx.pos]
	idx.pos++
	return v
}

// Len returns the total number of decoded packet lengths across all
// segments added so far.
func (idx *PacketLengthIndex) Len() int {
	if idx.flat == nil {
		idx.Rewind()
	}
	return len(idx.flat)
}

// Sum returns the sum of all decoded lengths, used by the testable
// property "sum over PLT lengths for a tile-part equals the tile-part
// payload byte count" (section 8).
func (idx *PacketLengthIndex) Sum() uint64 {
	if idx.flat == nil {
		idx.Rewind()
	}
	var total uint64
	for _, v := range idx.flat {
		total += uint64(v)
	}
	return total
}
