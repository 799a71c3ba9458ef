package codestream

import "github.com/mrjoshuak/go-jpeg2000/internal/derr"

// TileLengthIndex implements the TLM marker (section 4.4): an optional
// table, appearing only in the main header, mapping tile (and tile-part)
// index to tile-part byte length so a seeking reader can skip directly to
// a tile-part's SOD payload without walking every marker in between.
type TileLengthIndex struct {
	entries []TileLengthEntry
	// sawIndexed/sawSequential are tracked across all TLM segments merged into
	// this index: mixing explicit tile indices with implicit
	// (sequential) ones is invalid (section 4.4).
	sawIndexed   bool
	sawSequential bool
	invalid      bool
}

// TileLengthEntry is one Ttlm/Ptlm pair. TileIndex is -1 when the marker
// used the implicit (sequential) tile-index form.
type TileLengthEntry struct {
	TileIndex int
	Length    uint32
}

// NewTileLengthIndex creates an empty index.
func NewTileLengthIndex() *TileLengthIndex {
	return &TileLengthIndex{}
}

// AddSegment decodes one TLM marker segment body (the bytes after Ltlm and
// Ztlm). st and sp are the two-bit ST (tile index size: 0, 1, or 2 bytes)
// and one-bit SP (tile-part length size: 2 or 4 bytes) fields packed as
// "0 L_LTP L_iT[2] 0000" in the Stlm byte, matching the teacher's bit
// layout.
func (idx *TileLengthIndex) AddSegment(st int, sp int, data []byte) error {
	tileIndexBytes := st // 0, 1, or 2
	tilePartLenBytes := 2
	if sp == 1 {
		tilePartLenBytes = 4
	}
	recordSize := tileIndexBytes + tilePartLenBytes
	if recordSize == 0 || len(data)%recordSize != 0 {
		return derr.New(derr.MalformedMarker, "TLM segment length is not a multiple of the record size")
	}

	if tileIndexBytes == 0 {
		idx.sawSequential = true
	} else {
		idx.sawIndexed = true
	}
	if idx.sawIndexed && idx.sawSequential {
		idx.invalid = true
		return derr.New(derr.MalformedMarker, "TLM mixes explicit and implicit tile indices")
	}

	for off := 0; off < len(data); off += recordSize {
		rec := data[off : off+recordSize]
		tileIndex := -1
		p := 0
		if tileIndexBytes == 1 {
			tileIndex = int(rec[0])
			p = 1
		} else if tileIndexBytes == 2 {
			tileIndex = int(rec[0])<<8 | int(rec[1])
			p = 2
		}
		var length uint32
		if tilePartLenBytes == 2 {
			length = uint32(rec[p])<<8 | uint32(rec[p+1])
		} else {
			length = uint32(rec[p])<<24 | uint32(rec[p+1])<<16 | uint32(rec[p+2])<<8 | uint32(rec[p+3])
		}
		idx.entries = append(idx.entries, TileLengthEntry{TileIndex: tileIndex, Length: length})
	}
	return nil
}

// Validate checks the index against the known tile count (section 4.4):
// every tile index referenced (explicit or sequential) must be in range,
// and the set of indices covered must be exactly [0, numTiles), per the
// testable property that a valid TLM index accounts for every tile.
func (idx *TileLengthIndex) Validate(numTiles int) error {
	if idx.invalid {
		return derr.New(derr.MalformedMarker, "TLM index previously invalidated")
	}
	seen := make(map[int]bool, numTiles)
	seq := 0
	for _, e := range idx.entries {
		ti := e.TileIndex
		if ti < 0 {
			ti = seq
			seq++
		}
		if ti < 0 || ti >= numTiles {
			return derr.New(derr.ParameterOutOfRange, "TLM tile index out of range")
		}
		seen[ti] = true
	}
	if len(seen) != numTiles {
		return derr.New(derr.ParameterOutOfRange, "TLM index does not cover every tile in [0, numTiles)")
	}
	return nil
}

// Entries returns the decoded entries in declaration order.
func (idx *TileLengthIndex) Entries() []TileLengthEntry { return idx.entries }

// SkipTo returns the byte offset, relative to the start of the first
// tile-part, at which the given tile index's first tile-part begins, by
// summing the lengths of all preceding tile-parts. Implicit-index entries
// are assumed to be in tile-part arrival order (sequential numbering).
func (idx *TileLengthIndex) SkipTo(tileIndex int) (int64, error) {
	if idx.invalid {
		return 0, derr.New(derr.MalformedMarker, "TLM index previously invalidated")
	}
	var offset int64
	seq := 0
	for _, e := range idx.entries {
		ti := e.TileIndex
		if ti < 0 {
			ti = seq
		}
		if ti == tileIndex {
			return offset, nil
		}
		offset += int64(e.Length)
		seq++
	}
	return 0, derr.New(derr.ParameterOutOfRange, "tile index not present in TLM index")
}
