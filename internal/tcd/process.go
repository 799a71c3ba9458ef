package tcd

import (
	"context"

	"github.com/mrjoshuak/go-jpeg2000/internal/codestream"
	"github.com/mrjoshuak/go-jpeg2000/internal/derr"
	"github.com/mrjoshuak/go-jpeg2000/internal/runtime"
)

// TileProcessor drives the Tier-2/Tier-1/DWT pipeline for one tile: it
// turns a TileCodingParams' merged tile-part payload into reconstructed,
// dequantized, inverse-transformed component samples.
type TileProcessor struct {
	cp *codestream.CodingParams

	// qualityLayers caps how many quality layers are decoded per tile (0
	// means all of tcp.NumLayers). Set via SetQualityLayers.
	qualityLayers int
}

// NewTileProcessor returns a processor bound to the codestream's resolved
// coding parameters.
func NewTileProcessor(cp *codestream.CodingParams) *TileProcessor {
	return &TileProcessor{cp: cp}
}

// SetQualityLayers restricts decoding to the first n quality layers (section
// 4.11: "QualityLayers specifies the number of quality layers to decode").
// n <= 0 means decode every layer a tile's TCP declares. The limit applies
// only to tiles in LRCP progression order; tiles in any other order decode
// every layer.
func (tp *TileProcessor) SetQualityLayers(n int) {
	tp.qualityLayers = n
}

// DecodedTile is the result of decoding one tile: per-component sample
// buffers still in tile-component coordinates, DC level shift and
// multi-component transform not yet applied.
type DecodedTile struct {
	Tile *Tile
}

// DecodeTile runs T2 packet parsing, T1 entropy decoding (in parallel
// across code-blocks via rt.Group), dequantization, and the inverse DWT
// for a single tile.
func (tp *TileProcessor) DecodeTile(ctx context.Context, rt *runtime.Runtime, tileIndex int) (*DecodedTile, error) {
	tcp := tp.cp.TCPs[tileIndex]

	if len(tcp.PPTBuffer) > 0 {
		return nil, derr.New(derr.UnsupportedFeature, "PPT/PPM split packet headers are not supported")
	}

	payload := mergeTileParts(tcp.TilePartData)

	td := NewTileDecoder(tp.cp, tileIndex)
	td.InitTile(tileIndex)
	tile := td.Tile()

	// Layer count only truncates the physical packet sequence for LRCP,
	// where layer is the outermost loop: a layer prefix is a byte prefix
	// of the tile-part payload. Every other progression order interleaves
	// layers between resolutions/components/positions, so stopping early
	// would desync the decoder's position from packets it never walked;
	// those orders always decode every layer the tile declares.
	effectiveLayers := tcp.NumLayers
	if tp.qualityLayers > 0 && tp.qualityLayers < effectiveLayers && tcp.ProgressionOrder == codestream.LRCP {
		effectiveLayers = tp.qualityLayers
	}

	if err := decodePackets(tcp, tile, payload, tp.cp.Image, effectiveLayers); err != nil {
		return nil, err
	}

	assignBitPlaneCounts(tile, tcp)

	windows := componentWindows(tp.cp.Image, tcp, tile)

	if err := decodeCodeBlocksParallel(ctx, rt, td, tile, tcp, windows); err != nil {
		return nil, err
	}

	for c, tc := range tile.Components {
		tccp := &tcp.Components[c]
		placeCoefficients(tc, tccp)
		td.ApplyInverseDWT(tc, tccp)
	}

	return &DecodedTile{Tile: tile}, nil
}

// mergeTileParts concatenates every tile-part's compressed payload in
// arrival order (section 3: tile-parts belonging to one tile are merged
// before T2 parsing).
func mergeTileParts(parts [][]byte) []byte {
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	out := make([]byte, 0, total)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// packetLengths returns the flattened, ordered sequence of authoritative
// per-packet byte lengths for this tile, drawn from PLT (preferred, since
// it is tile-part local) or, failing that, the main-header PLM index
// (section 4.3). Returns nil when neither is present, in which case
// packet extents fall back entirely to the tag-tree pass-count/length
// fields in the packet header.
func packetLengths(tcp *codestream.TileCodingParams, img *codestream.Image) []uint32 {
	havePLT := false
	for _, idx := range tcp.PacketLengthsPLT {
		if idx != nil {
			havePLT = true
			break
		}
	}

	var lengths []uint32
	if havePLT {
		for _, idx := range tcp.PacketLengthsPLT {
			if idx == nil {
				continue
			}
			idx.Rewind()
			n := idx.Len()
			for i := 0; i < n; i++ {
				lengths = append(lengths, idx.PopNextPacketLength())
			}
		}
		return lengths
	}

	if img != nil && img.PacketLengthsMain != nil {
		idx := img.PacketLengthsMain
		idx.Rewind()
		n := idx.Len()
		for i := 0; i < n; i++ {
			lengths = append(lengths, idx.PopNextPacketLength())
		}
		return lengths
	}

	return nil
}

// decodePackets iterates every packet in the tile's progression order and
// decodes its header and body into the matching code-blocks. numLayers
// bounds the iteration to a quality-layer prefix (section 4.11); remaining
// layers' packets, if any, are left unparsed, leaving their code-blocks at
// whatever refinement the decoded prefix reached.
func decodePackets(tcp *codestream.TileCodingParams, tile *Tile, payload []byte, img *codestream.Image, numLayers int) error {
	if len(tile.Components) == 0 {
		return nil
	}
	if numLayers <= 0 || numLayers > tcp.NumLayers {
		numLayers = tcp.NumLayers
	}

	numRes := len(tile.Components[0].Resolutions)
	for _, tc := range tile.Components {
		if len(tc.Resolutions) > numRes {
			numRes = len(tc.Resolutions)
		}
	}

	precincts := make([][][]int, len(tile.Components))
	for c, tc := range tile.Components {
		precincts[c] = make([][]int, len(tc.Resolutions))
		for r, res := range tc.Resolutions {
			precincts[c][r] = []int{len(res.Precincts)}
		}
	}

	pi := NewPacketIterator(len(tile.Components), numRes, numLayers, precincts, tcp.ProgressionOrder)
	dec := NewPacketDecoder(payload)
	lengths := packetLengths(tcp, img)
	li := 0

	for {
		pkt, ok := pi.Next()
		if !ok {
			break
		}
		if pkt.Component >= len(tile.Components) {
			continue
		}
		tc := tile.Components[pkt.Component]
		if pkt.Resolution >= len(tc.Resolutions) {
			continue
		}
		res := tc.Resolutions[pkt.Resolution]
		if pkt.Precinct >= len(res.Precincts) {
			continue
		}
		prec := res.Precincts[pkt.Precinct]

		pltLen := 0
		if li < len(lengths) {
			pltLen = int(lengths[li])
		}
		li++

		if err := dec.DecodePacket(prec, pkt.Layer, tcp.SOPEnabled, tcp.EPHEnabled, pltLen); err != nil {
			return derr.Wrap(derr.T1DecodeFailure, int64(dec.Position()), "decoding packet", err)
		}
	}

	return nil
}

// assignBitPlaneCounts derives each included code-block's decodable
// bit-plane count from Annex E's M_b = G + e_b - 1 formula, less the
// ZeroBitPlanes reported by its packet header.
func assignBitPlaneCounts(tile *Tile, tcp *codestream.TileCodingParams) {
	for c, tc := range tile.Components {
		guardBits := tcp.Components[c].NumGuardBits
		for _, res := range tc.Resolutions {
			for _, band := range res.Bands {
				maxBitPlanes := guardBits + band.StepExponent - 1
				for _, cb := range band.CodeBlocks {
					if len(cb.Data) == 0 {
						continue
					}
					cb.TotalBitPlanes = maxBitPlanes - cb.ZeroBitPlanes
					if cb.TotalBitPlanes < 0 {
						cb.TotalBitPlanes = 0
					}
				}
			}
		}
	}
}

// componentWindows derives, per tile-component, the padded decode window a
// code-block must intersect to be worth entropy-decoding (section 4.11).
// Returns nil when the tile carries no DecodeArea restriction.
func componentWindows(img *codestream.Image, tcp *codestream.TileCodingParams, tile *Tile) []*codestream.Rect {
	if img == nil || img.DecodeArea == nil {
		return nil
	}
	windows := make([]*codestream.Rect, len(tile.Components))
	for c := range tile.Components {
		if c >= len(img.Components) || c >= len(tcp.Components) {
			continue
		}
		ci := img.Components[c]
		tccp := &tcp.Components[c]
		levels := tccp.NumResolutions - 1
		windows[c] = componentWindow(img.DecodeArea, ci.SubsamplingX, ci.SubsamplingY, tccp.Reversible, levels)
	}
	return windows
}

// decodeCodeBlocksParallel entropy-decodes every code-block across all
// components and resolutions, bounded by rt.Workers (section 4.7: T1
// decode is embarrassingly parallel per code-block). windows, when
// non-nil, skips code-blocks entirely outside their component's decode
// window (section 4.11); windows[c] == nil means no restriction for that
// component.
func decodeCodeBlocksParallel(ctx context.Context, rt *runtime.Runtime, td *TileDecoder, tile *Tile, tcp *codestream.TileCodingParams, windows []*codestream.Rect) error {
	type job struct {
		cb       *CodeBlock
		bandType int
		kind     codestream.T1Kind
	}

	var jobs []job
	for c, tc := range tile.Components {
		kind := codestream.T1KindFor(tcp.Components[c].CBlkStyle)
		var window *codestream.Rect
		if windows != nil {
			window = windows[c]
		}
		for _, res := range tc.Resolutions {
			for _, band := range res.Bands {
				for _, cb := range band.CodeBlocks {
					if len(cb.Data) == 0 {
						continue
					}
					if window != nil && !window.Intersects(cb.X0, cb.Y0, cb.X1, cb.Y1) {
						continue
					}
					jobs = append(jobs, job{cb: cb, bandType: band.Type, kind: kind})
				}
			}
		}
	}

	if len(jobs) == 0 {
		return nil
	}

	if rt == nil {
		rt = runtime.Discard(1)
	}

	g, _ := rt.Group(ctx)
	for i := range jobs {
		j := jobs[i]
		g.Go(func() error {
			return td.DecodeCodeBlock(j.cb, j.bandType, j.kind)
		})
	}
	return g.Wait()
}

// placeCoefficients dequantizes each code-block's decoded coefficients and
// writes them into the tile-component's coefficient buffer at the
// code-block's band-relative position, using the full component width as
// stride (matching dwt.CalculateSubbands' quadrant addressing).
func placeCoefficients(tc *TileComponent, tccp *codestream.TileComponentCodingParams) {
	stride := tc.X1 - tc.X0
	if stride <= 0 {
		return
	}

	var dataFloat []float64
	if !tccp.Reversible {
		dataFloat = make([]float64, len(tc.Data))
		tc.DataFloat = dataFloat
	}

	for _, res := range tc.Resolutions {
		for _, band := range res.Bands {
			step := band.StepSize
			for _, cb := range band.CodeBlocks {
				w := cb.X1 - cb.X0
				h := cb.Y1 - cb.Y0
				if w <= 0 || h <= 0 || len(cb.Coefficients) == 0 {
					continue
				}
				localX0 := cb.X0 - tc.X0
				localY0 := cb.Y0 - tc.Y0
				for y := 0; y < h; y++ {
					row := (localY0 + y) * stride
					for x := 0; x < w; x++ {
						raw := cb.Coefficients[y*w+x]
						idx := row + localX0 + x
						if idx < 0 || idx >= len(tc.Data) {
							continue
						}
						if tccp.Reversible {
							tc.Data[idx] = raw
						} else {
							// dequantize to full float precision; dwt.Dequantize
							// does the same scaling on a whole slice, this avoids
							// an allocation per code-block for the one-off case.
							dataFloat[idx] = float64(raw) * step
						}
					}
				}
			}
		}
	}
}
