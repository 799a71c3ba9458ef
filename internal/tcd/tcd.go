// Package tcd implements the Tile Coder/Decoder for JPEG 2000.
//
// The TCD orchestrates decoding of individual tiles: wavelet
// reconstruction (DWT), dequantization, code-block entropy decoding (T1),
// and packet parsing (T2). It consumes the persistent coding parameters
// produced by the codestream reader rather than a monolithic header.
package tcd

import (
	"math"

	"github.com/mrjoshuak/go-jpeg2000/internal/codestream"
	"github.com/mrjoshuak/go-jpeg2000/internal/dwt"
	"github.com/mrjoshuak/go-jpeg2000/internal/entropy"
)

// Tile represents a single tile in the image.
type Tile struct {
	// Tile index
	Index int

	// Tile bounds in image coordinates
	X0, Y0, X1, Y1 int

	// Components
	Components []*TileComponent
}

// TileComponent represents a single component within a tile.
type TileComponent struct {
	// Component index
	Index int

	// Component bounds (may differ due to subsampling)
	X0, Y0, X1, Y1 int

	// Resolution levels
	Resolutions []*Resolution

	// Coefficient data, one width*height buffer holding every
	// decomposition level's subbands in their natural quadrant layout.
	Data []int32

	// Floating point data for 9-7 transform
	DataFloat []float64
}

// Resolution represents a resolution level within a tile-component.
type Resolution struct {
	// Resolution level (0 = coarsest LL)
	Level int

	// Bounds at this resolution
	X0, Y0, X1, Y1 int

	// Number of bands (1 for LL, 3 for others)
	NumBands int

	// Bands at this resolution
	Bands []*Band

	// Precincts
	Precincts []*Precinct

	// Precinct grid dimensions
	PrecinctsX, PrecinctsY int
}

// Band represents a subband within a resolution level.
type Band struct {
	// Band type (LL, HL, LH, HH)
	Type int

	// Band bounds, in the same coordinate space as TileComponent.Data.
	X0, Y0, X1, Y1 int

	// Quantization step size and its exponent (Annex E), used to derive a
	// code-block's decodable bit-plane count from its ZeroBitPlanes.
	StepSize     float64
	StepExponent int

	// Code-blocks
	CodeBlocks []*CodeBlock

	// Code-block grid dimensions
	CodeBlocksX, CodeBlocksY int
}

// Precinct represents a precinct for packet organization. The current
// implementation assumes one precinct per resolution (the common case when
// no PPx/PPy precinct sizes were signalled); an explicit precinct-size
// grid finer than a resolution's bands is not yet supported (see
// DESIGN.md).
type Precinct struct {
	// Precinct index
	Index int

	// Bounds
	X0, Y0, X1, Y1 int

	// Code-blocks in this precinct, per band
	CodeBlocks [][]*CodeBlock

	// Tag trees for inclusion and IMSB
	InclusionTree *TagTree
	IMSBTree      *TagTree
}

// CodeBlock represents a code-block for entropy decoding.
type CodeBlock struct {
	// Code-block index
	Index int

	// Bounds, in the same coordinate space as TileComponent.Data.
	X0, Y0, X1, Y1 int

	// Encoded data for the packets received so far.
	Data []byte

	// Coding passes as reported by the packet header.
	Passes []CodingPass

	// Number of zero bit-planes (IMSB)
	ZeroBitPlanes int

	// Total number of bit-planes == (guard bits + band step exponent - 1 - ZeroBitPlanes)
	TotalBitPlanes int

	// Layer in which this code-block first became included, or -1.
	IncludedInLayers int

	// Decoded coefficient data, filled in by DecodeCodeBlock.
	Coefficients []int32
}

// CodingPass represents a single coding pass reported by a packet header.
type CodingPass struct {
	Type             int
	Length           int
	CumulativeLength int
	Slope            float64
	Terminated       bool
}

// Pass type constants.
const (
	PassSignificance = iota
	PassRefinement
	PassCleanup
)

// TagTree implements a tag tree for incremental coding.
type TagTree struct {
	width  int
	height int
	levels int
	nodes  [][]tagNode
}

type tagNode struct {
	value int
	low   int
	known bool
}

// NewTagTree creates a new tag tree.
func NewTagTree(width, height int) *TagTree {
	t := &TagTree{
		width:  width,
		height: height,
	}

	w, h := width, height
	for w > 1 || h > 1 {
		t.levels++
		w = (w + 1) / 2
		h = (h + 1) / 2
	}
	t.levels++

	t.nodes = make([][]tagNode, t.levels)
	w, h = width, height
	for level := 0; level < t.levels; level++ {
		t.nodes[level] = make([]tagNode, w*h)
		for i := range t.nodes[level] {
			t.nodes[level][i].value = int(^uint(0) >> 1) // MaxInt
		}
		w = (w + 1) / 2
		h = (h + 1) / 2
	}

	return t
}

// SetValue sets the value at a leaf node.
func (t *TagTree) SetValue(x, y, value int) {
	t.nodes[0][y*t.width+x].value = value
}

// Reset resets the tree for a new decoding session.
func (t *TagTree) Reset() {
	for level := range t.nodes {
		for i := range t.nodes[level] {
			t.nodes[level][i].low = 0
			t.nodes[level][i].known = false
		}
	}
}

// TileDecoder decodes a single tile against a resolved CodingParams/TCP.
type TileDecoder struct {
	cp   *codestream.CodingParams
	tcp  *codestream.TileCodingParams
	tile *Tile
}

// NewTileDecoder creates a tile decoder bound to one tile's resolved
// coding parameters.
func NewTileDecoder(cp *codestream.CodingParams, tileIndex int) *TileDecoder {
	return &TileDecoder{cp: cp, tcp: cp.TCPs[tileIndex]}
}

// Tile returns the current tile being decoded.
func (d *TileDecoder) Tile() *Tile {
	return d.tile
}

// InitTile initializes a tile for decoding: geometry, per-component
// subsampled bounds, and the resolution/band/code-block grid.
func (d *TileDecoder) InitTile(tileIndex int) {
	img := d.cp.Image

	gridW := img.TileGridWidth()
	tileX := tileIndex % gridW
	tileY := tileIndex / gridW

	x0 := maxInt(int(img.TileX0)+tileX*int(img.TileW), int(img.X0))
	y0 := maxInt(int(img.TileY0)+tileY*int(img.TileH), int(img.Y0))
	x1 := minInt(int(img.TileX0)+(tileX+1)*int(img.TileW), int(img.X1))
	y1 := minInt(int(img.TileY0)+(tileY+1)*int(img.TileH), int(img.Y1))

	d.tile = &Tile{
		Index:      tileIndex,
		X0:         x0,
		Y0:         y0,
		X1:         x1,
		Y1:         y1,
		Components: make([]*TileComponent, len(img.Components)),
	}

	for c := range img.Components {
		comp := img.Components[c]
		tccp := &d.tcp.Components[c]

		cx0 := ceilDiv(x0, int(comp.SubsamplingX))
		cy0 := ceilDiv(y0, int(comp.SubsamplingY))
		cx1 := ceilDiv(x1, int(comp.SubsamplingX))
		cy1 := ceilDiv(y1, int(comp.SubsamplingY))

		tc := &TileComponent{
			Index: c,
			X0:    cx0,
			Y0:    cy0,
			X1:    cx1,
			Y1:    cy1,
		}

		width := cx1 - cx0
		height := cy1 - cy0
		tc.Data = make([]int32, width*height)

		numRes := tccp.NumResolutions
		tc.Resolutions = make([]*Resolution, numRes)
		for r := 0; r < numRes; r++ {
			d.initResolution(tc, tccp, r)
		}

		d.tile.Components[c] = tc
	}
}

// initResolution initializes a resolution level. Level 0 is the coarsest
// (LL-only); level numResolutions-1 is the finest.
func (d *TileDecoder) initResolution(tc *TileComponent, tccp *codestream.TileComponentCodingParams, resLevel int) {
	numDecomp := tccp.NumResolutions - 1
	scale := 1 << (numDecomp - resLevel)

	rx0 := ceilDiv(tc.X0, scale)
	ry0 := ceilDiv(tc.Y0, scale)
	rx1 := ceilDiv(tc.X1, scale)
	ry1 := ceilDiv(tc.Y1, scale)

	res := &Resolution{
		Level: resLevel,
		X0:    rx0,
		Y0:    ry0,
		X1:    rx1,
		Y1:    ry1,
	}

	if resLevel == 0 {
		res.NumBands = 1
		res.Bands = []*Band{d.initBand(res, tccp, entropy.BandLL, resLevel)}
	} else {
		res.NumBands = 3
		res.Bands = []*Band{
			d.initBand(res, tccp, entropy.BandHL, resLevel),
			d.initBand(res, tccp, entropy.BandLH, resLevel),
			d.initBand(res, tccp, entropy.BandHH, resLevel),
		}
	}

	// One precinct spanning the whole resolution (see Precinct doc comment).
	prec := &Precinct{
		Index:      0,
		X0:         rx0,
		Y0:         ry0,
		X1:         rx1,
		Y1:         ry1,
		CodeBlocks: make([][]*CodeBlock, res.NumBands),
	}
	for bi, b := range res.Bands {
		prec.CodeBlocks[bi] = b.CodeBlocks
	}
	d.buildPrecinctTrees(res, prec)
	res.Precincts = []*Precinct{prec}
	res.PrecinctsX, res.PrecinctsY = 1, 1

	tc.Resolutions[resLevel] = res
}

// buildPrecinctTrees sizes the inclusion/IMSB tag trees to the largest
// band's code-block grid in the resolution, since all bands' code-blocks
// are addressed into the same precinct-level tree in this single-precinct
// model.
func (d *TileDecoder) buildPrecinctTrees(res *Resolution, prec *Precinct) {
	w, h := 1, 1
	for _, b := range res.Bands {
		if b.CodeBlocksX > w {
			w = b.CodeBlocksX
		}
		if b.CodeBlocksY > h {
			h = b.CodeBlocksY
		}
	}
	prec.InclusionTree = NewTagTree(w, h)
	prec.IMSBTree = NewTagTree(w, h)
}

// initBand initializes a band and its code-block grid. tc.Data holds
// every resolution's subbands nested in the zero-based Mallat quadrant
// layout that dwt.ReconstructMultiLevel53/97 and dwt.CalculateSubbands
// use (each level's LL occupies the top-left quadrant of that level's
// area, sized by ceiling-division, with HL/LH/HH filling the remaining
// three quadrants) — so band bounds must be carved out of the
// resolution's own bounds along that same quadrant split, not by
// re-deriving each band from the tile-component's absolute origin
// (equation B-15's literal form): this buffer has no per-band origin
// phase of its own, only the nested quadrant structure. The previous
// midpoint split got HL and LH's dimensions backwards outright: HL
// (high-pass in x) must be half-width, and LH (high-pass in y) must be
// half-height, not the other way around.
func (d *TileDecoder) initBand(res *Resolution, tccp *codestream.TileComponentCodingParams, bandType int, resLevel int) *Band {
	band := &Band{Type: bandType}

	halfX := res.X0 + (res.X1-res.X0+1)/2
	halfY := res.Y0 + (res.Y1-res.Y0+1)/2

	switch bandType {
	case entropy.BandLL:
		band.X0, band.Y0, band.X1, band.Y1 = res.X0, res.Y0, res.X1, res.Y1
	case entropy.BandHL:
		band.X0, band.Y0 = halfX, res.Y0
		band.X1, band.Y1 = res.X1, halfY
	case entropy.BandLH:
		band.X0, band.Y0 = res.X0, halfY
		band.X1, band.Y1 = halfX, res.Y1
	case entropy.BandHH:
		band.X0, band.Y0 = halfX, halfY
		band.X1, band.Y1 = res.X1, res.Y1
	}

	band.StepSize, band.StepExponent = bandStepSize(tccp, bandType, resLevel)

	cbWidth := tccp.CodeBlockWidth()
	cbHeight := tccp.CodeBlockHeight()

	band.CodeBlocksX = ceilDiv(maxInt(0, band.X1-band.X0), cbWidth)
	band.CodeBlocksY = ceilDiv(maxInt(0, band.Y1-band.Y0), cbHeight)

	numCB := band.CodeBlocksX * band.CodeBlocksY
	band.CodeBlocks = make([]*CodeBlock, numCB)

	for i := 0; i < numCB; i++ {
		cbX := i % band.CodeBlocksX
		cbY := i / band.CodeBlocksX

		cb := &CodeBlock{
			Index:            i,
			X0:               band.X0 + cbX*cbWidth,
			Y0:               band.Y0 + cbY*cbHeight,
			X1:               minInt(band.X0+(cbX+1)*cbWidth, band.X1),
			Y1:               minInt(band.Y0+(cbY+1)*cbHeight, band.Y1),
			IncludedInLayers: -1,
		}
		band.CodeBlocks[i] = cb
	}

	return band
}

// bandStepSize resolves the per-band quantization step size from the
// TCCP's StepSizes slice, which is ordered LL, then (HL,LH,HH) per
// resolution from coarsest to finest (section 3 / Annex E).
func bandStepSize(tccp *codestream.TileComponentCodingParams, bandType int, resLevel int) (float64, int) {
	idx := 0
	if resLevel > 0 {
		idx = 1 + (resLevel-1)*3
		switch bandType {
		case entropy.BandHL:
			idx += 0
		case entropy.BandLH:
			idx += 1
		case entropy.BandHH:
			idx += 2
		}
	}
	if idx < 0 || idx >= len(tccp.StepSizes) {
		return 1, 0
	}
	ss := tccp.StepSizes[idx]
	return ss.Value(), int(ss.Exponent)
}

// DecodeCodeBlock entropy-decodes a single code-block's compressed data
// into raw (unscaled) magnitude-sign coefficients.
func (d *TileDecoder) DecodeCodeBlock(cb *CodeBlock, bandType int, kind codestream.T1Kind) error {
	if len(cb.Data) == 0 || cb.TotalBitPlanes <= 0 {
		cb.Coefficients = make([]int32, (cb.X1-cb.X0)*(cb.Y1-cb.Y0))
		return nil
	}

	width := cb.X1 - cb.X0
	height := cb.Y1 - cb.Y0

	if kind == codestream.T1HT {
		htDec := entropy.GetHTDecoder(width, height)
		cb.Coefficients = htDec.Decode(cb.Data, cb.TotalBitPlanes, bandType)
		entropy.PutHTDecoder(htDec)
	} else {
		t1 := entropy.GetT1(width, height)
		cb.Coefficients = t1.Decode(cb.Data, cb.TotalBitPlanes, bandType)
		entropy.PutT1(t1)
	}

	return nil
}

// ApplyInverseDWT applies the inverse wavelet transform in place over
// tc.Data, which already holds every subband in its natural quadrant
// position.
func (d *TileDecoder) ApplyInverseDWT(tc *TileComponent, tccp *codestream.TileComponentCodingParams) {
	numLevels := tccp.NumResolutions - 1
	if numLevels <= 0 {
		return
	}

	width := tc.X1 - tc.X0
	height := tc.Y1 - tc.Y0

	if tccp.Reversible {
		dwt.ReconstructMultiLevel53(tc.Data, width, height, numLevels)
	} else {
		// tc.DataFloat already holds the dequantized coefficients at full
		// precision (placeCoefficients writes it directly); rounding through
		// tc.Data here would throw away the fractional dequantization
		// remainder before the lifting steps ever see it.
		if len(tc.DataFloat) != len(tc.Data) {
			tc.DataFloat = make([]float64, len(tc.Data))
			for i, v := range tc.Data {
				tc.DataFloat[i] = float64(v)
			}
		}
		dwt.ReconstructMultiLevel97(tc.DataFloat, width, height, numLevels)
		for i, v := range tc.DataFloat {
			tc.Data[i] = int32(math.Round(v))
		}
	}
}

// Helper functions

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// ceilDivSigned computes ceil(a/b) for b > 0 and any sign of a. Go's
// truncating division already rounds a negative dividend toward zero,
// which is exactly the ceiling when the divisor is positive, so only the
// non-negative case needs the "add b-1" trick. Needed by componentWindow,
// where a decode window's canvas origin divided by subsampling can land
// on a negative padding margin.
func ceilDivSigned(a, b int) int {
	if b <= 0 {
		return 0
	}
	if a >= 0 {
		return (a + b - 1) / b
	}
	return a / b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a int, rest ...int) int {
	m := a
	for _, v := range rest {
		if v > m {
			m = v
		}
	}
	return m
}
