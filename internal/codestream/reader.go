package codestream

import (
	"io"

	"github.com/mrjoshuak/go-jpeg2000/internal/bio"
	"github.com/mrjoshuak/go-jpeg2000/internal/derr"
	"github.com/mrjoshuak/go-jpeg2000/internal/runtime"
)

// CodestreamReader drives the marker-based state machine of section 4.2:
//
//	MH_SOC -> MH_SIZ -> MH_MAIN -> TPH_SOT -> TPH -> TPH_SOD ->
//	    {TPH_SOT | DATA | EOC | NO_EOC}
//
// It accumulates main-header defaults into a pending TileCodingParams,
// allocates one TileCodingParams per tile once the image geometry and
// defaults are known, and applies tile-part header overrides with the
// QCD/QCC/COD/COC precedence rule before handing each tile-part's
// compressed payload to the caller.
type CodestreamReader struct {
	bs  *bio.ByteStream
	reg *MarkerRegistry
	rt  *runtime.Runtime

	state State

	numComponents int
	cp            *CodingParams
	pending       *TileCodingParams

	// currentTileIndex tracks the tile whose tile-part is currently being
	// parsed, for diagnostics and TLM cross-checking.
	currentTileIndex int

	// decodeArea, when set via SetDecodeArea, restricts decoding to a
	// canvas region (section 4.11). Tiles entirely outside it are skipped
	// with the help of a validated TLM index, when present.
	decodeArea *Rect
}

// SetDecodeArea requests a windowed decode: tiles that do not intersect r
// are skipped when a TLM index lets the reader jump past them without
// parsing their headers. Must be called before Read.
func (cr *CodestreamReader) SetDecodeArea(r *Rect) {
	cr.decodeArea = r
}

// NewCodestreamReader wraps r with a fresh marker state machine. rt may be
// nil, in which case a discard runtime with one worker is used.
func NewCodestreamReader(r io.Reader, rt *runtime.Runtime) *CodestreamReader {
	if rt == nil {
		rt = runtime.Discard(1)
	}
	return &CodestreamReader{
		bs:    bio.NewByteStream(r),
		reg:   NewMarkerRegistry(),
		rt:    rt,
		state: StateMHSOC,
	}
}

// Read parses the entire codestream and returns the decoded CodingParams,
// with every tile-part payload attached to its TileCodingParams.TilePartData.
func (cr *CodestreamReader) Read() (*CodingParams, error) {
	if err := cr.readSOC(); err != nil {
		return nil, err
	}
	if err := cr.readSIZMarker(); err != nil {
		return nil, err
	}
	if err := cr.readMainHeader(); err != nil {
		return nil, err
	}
	cr.cp.Image.DecodeArea = cr.decodeArea
	if err := cr.skipToFirstWantedTile(); err != nil {
		return nil, err
	}
	if err := cr.readTileParts(); err != nil {
		return nil, err
	}
	return cr.cp, nil
}

// skipToFirstWantedTile uses a validated TLM index to jump the stream
// position past any leading run of tiles that fall entirely outside
// decodeArea, so their tile-part headers are never parsed (section 4.2's
// "tile marked skip" path / section 4.11 windowed decode). It only
// advances past a contiguous leading run in tile-index order; tiles are
// otherwise still parsed sequentially and filtered at decode time.
func (cr *CodestreamReader) skipToFirstWantedTile() error {
	if cr.decodeArea == nil {
		return nil
	}
	tl := cr.cp.Image.TileLengths
	if tl == nil {
		return nil
	}
	img := cr.cp.Image
	numTiles := img.NumTiles()

	first := -1
	for i := 0; i < numTiles; i++ {
		x0, y0, x1, y1 := img.TileBounds(i)
		if cr.decodeArea.Intersects(x0, y0, x1, y1) {
			first = i
			break
		}
	}
	if first <= 0 {
		return nil // nothing to skip, or nothing wanted (falls through normally)
	}

	offset, err := tl.SkipTo(first)
	if err != nil {
		// Index doesn't cover this tile cleanly; fall back to sequential
		// parsing of every tile rather than failing the decode.
		cr.rt.WarnAt(cr.bs.Tell(), "TLM SkipTo failed, decoding all tiles", err)
		return nil
	}

	tileDataStart := cr.bs.Tell()
	if err := cr.bs.Seek(tileDataStart + offset); err != nil {
		// Non-seekable transport: fall back silently.
		cr.rt.WarnAt(cr.bs.Tell(), "cannot seek past skipped tiles, decoding all tiles", err)
		return nil
	}
	return nil
}

func (cr *CodestreamReader) readMarker() (Marker, error) {
	v, err := cr.bs.ReadU16()
	if err != nil {
		return 0, err
	}
	return Marker(v), nil
}

func (cr *CodestreamReader) checkLegal(m Marker) error {
	if !cr.reg.Legal(m, cr.state) {
		return derr.At(derr.MarkerOutOfPlace, cr.bs.Tell(),
			"marker "+m.String()+" is not legal in state "+cr.state.String())
	}
	return nil
}

// readSegment reads the Lxxx length field and returns the payload bytes
// following it (length includes the two length bytes themselves).
func (cr *CodestreamReader) readSegment() ([]byte, error) {
	length, err := cr.bs.ReadU16()
	if err != nil {
		return nil, err
	}
	if length < 2 {
		return nil, derr.At(derr.MalformedMarker, cr.bs.Tell(), "marker segment length below minimum")
	}
	return cr.bs.Read(int(length) - 2)
}

func (cr *CodestreamReader) readSOC() error {
	m, err := cr.readMarker()
	if err != nil {
		return err
	}
	if m != SOC {
		return derr.At(derr.MalformedMarker, cr.bs.Tell(), "codestream does not begin with SOC")
	}
	if err := cr.checkLegal(m); err != nil {
		return err
	}
	cr.state = StateMHSIZ
	return nil
}

func (cr *CodestreamReader) readSIZMarker() error {
	m, err := cr.readMarker()
	if err != nil {
		return err
	}
	if err := cr.checkLegal(m); err != nil {
		return err
	}
	if m != SIZ {
		return derr.At(derr.MalformedMarker, cr.bs.Tell(), "expected SIZ immediately after SOC")
	}

	start := cr.bs.Tell()
	length, err := cr.bs.ReadU16()
	if err != nil {
		return err
	}

	img := &Image{}
	if img.Profile, err = cr.bs.ReadU16(); err != nil {
		return err
	}
	var x1, y1, x0, y0, tw, th, tx0, ty0 uint32
	for _, dst := range []*uint32{&x1, &y1, &x0, &y0, &tw, &th, &tx0, &ty0} {
		if *dst, err = cr.bs.ReadU32(); err != nil {
			return err
		}
	}
	img.X1, img.Y1, img.X0, img.Y0 = x1, y1, x0, y0
	img.TileW, img.TileH, img.TileX0, img.TileY0 = tw, th, tx0, ty0

	numComp, err := cr.bs.ReadU16()
	if err != nil {
		return err
	}
	cr.numComponents = int(numComp)

	expected := 38 + 3*int(numComp)
	if int(length) != expected {
		return derr.At(derr.MalformedMarker, start, "SIZ length does not match component count")
	}

	img.Components = make([]ComponentInfo, numComp)
	for i := range img.Components {
		ssiz, err := cr.bs.ReadU8()
		if err != nil {
			return err
		}
		xr, err := cr.bs.ReadU8()
		if err != nil {
			return err
		}
		yr, err := cr.bs.ReadU8()
		if err != nil {
			return err
		}
		img.Components[i] = ComponentInfo{BitDepth: ssiz, SubsamplingX: xr, SubsamplingY: yr}
	}

	if img.X1 <= img.X0 || img.Y1 <= img.Y0 {
		return derr.At(derr.ParameterOutOfRange, start, "image extent must be positive")
	}
	if img.TileW == 0 || img.TileH == 0 {
		return derr.At(derr.ParameterOutOfRange, start, "tile size must be positive")
	}

	cr.pending = &TileCodingParams{
		ProgressionOrder: LRCP,
		NumLayers:        1,
		Components:       make([]TileComponentCodingParams, numComp),
	}
	cr.cp = &CodingParams{Image: img}
	cr.state = StateMHMain
	return nil
}

// readMainHeader consumes main-header marker segments until SOT, applying
// COD/COC/QCD/QCC/POC/TLM/PLM/PPM/CRG/COM/CAP/CBD/MCT/MCC/MCO, then
// allocates the per-tile CodingParams from the finished defaults.
func (cr *CodestreamReader) readMainHeader() error {
	for {
		m, err := cr.readMarker()
		if err != nil {
			return err
		}
		if m == SOT {
			break
		}
		if err := cr.checkLegal(m); err != nil {
			return err
		}

		switch m {
		case COD:
			if err := cr.readCODInto(cr.pending, originMainDefault); err != nil {
				return err
			}
		case COC:
			if err := cr.readCOCInto(cr.pending, originMainComp); err != nil {
				return err
			}
		case QCD:
			if err := cr.readQCDInto(cr.pending, originMainDefault); err != nil {
				return err
			}
		case QCC:
			if err := cr.readQCCInto(cr.pending, originMainComp); err != nil {
				return err
			}
		case POC:
			if err := cr.readPOCInto(cr.pending); err != nil {
				return err
			}
		case TLM:
			if err := cr.readTLMMarker(); err != nil {
				return err
			}
		case PLM:
			if err := cr.readPLMMarker(); err != nil {
				return err
			}
		case PPM:
			if err := cr.readPPM(); err != nil {
				return err
			}
		case CRG:
			if _, err := cr.readSegment(); err != nil {
				return err
			}
		case COM:
			if err := cr.readCOMInto(cr.cp.Image); err != nil {
				return err
			}
		case CAP:
			if err := cr.readCAPInto(cr.cp.Image); err != nil {
				return err
			}
		case CBD:
			if _, err := cr.readSegment(); err != nil {
				return err
			}
		case MCT:
			if err := cr.readMCTInto(cr.pending); err != nil {
				return err
			}
		case MCC:
			if err := cr.readMCCInto(cr.pending); err != nil {
				return err
			}
		case MCO:
			if _, err := cr.readSegment(); err != nil {
				return err
			}
		default:
			if err := cr.skipUnknown(m); err != nil {
				return err
			}
		}
	}

	if err := cr.checkLegal(SOT); err != nil {
		return err
	}
	if err := cr.validateMainHeader(); err != nil {
		return err
	}

	numTiles := cr.cp.Image.NumTiles()
	if numTiles <= 0 {
		return derr.At(derr.ParameterOutOfRange, cr.bs.Tell(), "tile grid has no tiles")
	}
	if tl := cr.cp.Image.TileLengths; tl != nil {
		if err := tl.Validate(numTiles); err != nil {
			// An invalid TLM only disables the TLM-based fast path
			// (random access / skip); the reader still falls back to
			// sequential SOT parsing, so this is a warning, not fatal.
			cr.rt.WarnAt(cr.bs.Tell(), "TLM index failed validation, ignoring", err)
			cr.cp.Image.TileLengths = nil
		}
	}
	cr.cp = NewCodingParams(cr.cp.Image, numTiles, cr.pending)
	cr.state = StateTPHSOT
	return nil
}

// validateMainHeader applies the post-header checks listed in section 4.2:
// every component must have been bound a coding style and quantization,
// and HTJ2K code-blocks require the CAP marker to declare it.
func (cr *CodestreamReader) validateMainHeader() error {
	if len(cr.pending.Components) != cr.numComponents {
		return derr.New(derr.MalformedMarker, "component count mismatch between SIZ and COD/QCD")
	}
	for _, c := range cr.pending.Components {
		if c.qcdOrigin == originUnset {
			return derr.New(derr.MalformedMarker, "component has no quantization binding (missing QCD)")
		}
		if c.codOrigin == originUnset {
			return derr.New(derr.MalformedMarker, "component has no coding style binding (missing COD)")
		}
		if T1KindFor(c.CBlkStyle) == T1HT && !cr.cp.Image.Capabilities.IsHTJ2K() {
			return derr.New(derr.UnsupportedFeature, "code-block declares HT mode without a CAP marker")
		}
	}
	return nil
}

func (cr *CodestreamReader) skipUnknown(m Marker) error {
	if !m.HasLength() {
		return derr.At(derr.UnknownMarker, cr.bs.Tell(), "unknown delimiting marker without a length field")
	}
	if _, err := cr.readSegment(); err != nil {
		return err
	}
	cr.rt.WarnAt(cr.bs.Tell(), "skipped unrecognized marker segment", derr.New(derr.UnknownMarker, m.String()))
	return nil
}

// readCODInto decodes a COD marker body into every component of dst
// (per-component COC overrides are handled by readCOCInto). ori governs
// scoping precedence.
func (cr *CodestreamReader) readCODInto(dst *TileCodingParams, ori origin) error {
	body, err := cr.readSegment()
	if err != nil {
		return err
	}
	if len(body) < 10 {
		return derr.At(derr.MalformedMarker, cr.bs.Tell(), "COD segment too short")
	}
	scod := body[0]
	dst.ProgressionOrder = ProgressionOrder(body[1])
	dst.NumLayers = int(body[2])<<8 | int(body[3])
	dst.MCT = body[4] != 0
	numDecomp := int(body[5])
	cbw := body[6]
	cbh := body[7]
	cbStyle := body[8]
	reversible := body[9] == 0

	var precincts []PrecinctSize
	if scod&CodingStylePrecincts != 0 {
		for _, pp := range body[10:] {
			precincts = append(precincts, PrecinctSize{WidthExp: pp & 0x0F, HeightExp: (pp >> 4) & 0x0F})
		}
	}
	dst.SOPEnabled = scod&CodingStyleSOP != 0
	dst.EPHEnabled = scod&CodingStyleEPH != 0

	for i := range dst.Components {
		c := &dst.Components[i]
		if !c.codOrigin.overridableBy(ori) {
			continue
		}
		c.NumResolutions = numDecomp + 1
		c.CBlkWExp = int(cbw) + 2
		c.CBlkHExp = int(cbh) + 2
		c.CBlkStyle = cbStyle
		c.Reversible = reversible
		c.PrecinctSizes = append([]PrecinctSize(nil), precincts...)
		c.codOrigin = ori
	}
	return nil
}

func (cr *CodestreamReader) readCOCInto(dst *TileCodingParams, ori origin) error {
	start := cr.bs.Tell()
	body, err := cr.readSegment()
	if err != nil {
		return err
	}
	idx, off := cr.decodeComponentIndex(body)
	if idx >= len(dst.Components) {
		return derr.At(derr.ParameterOutOfRange, start, "COC references out-of-range component")
	}
	if len(body) < off+6 {
		return derr.At(derr.MalformedMarker, start, "COC segment too short")
	}
	scoc := body[off]
	numDecomp := int(body[off+1])
	cbw := body[off+2]
	cbh := body[off+3]
	cbStyle := body[off+4]
	reversible := body[off+5] == 0

	var precincts []PrecinctSize
	if scoc&CodingStylePrecincts != 0 {
		for _, pp := range body[off+6:] {
			precincts = append(precincts, PrecinctSize{WidthExp: pp & 0x0F, HeightExp: (pp >> 4) & 0x0F})
		}
	}

	c := &dst.Components[idx]
	if !c.codOrigin.overridableBy(ori) {
		return nil
	}
	c.NumResolutions = numDecomp + 1
	c.CBlkWExp = int(cbw) + 2
	c.CBlkHExp = int(cbh) + 2
	c.CBlkStyle = cbStyle
	c.Reversible = reversible
	c.PrecinctSizes = precincts
	c.codOrigin = ori
	return nil
}

// decodeComponentIndex reads Ccoc/Cqcc/CSpoc/CEpoc, which is one byte when
// there are fewer than 257 components and two bytes otherwise, returning
// the index and the number of bytes consumed from body.
func (cr *CodestreamReader) decodeComponentIndex(body []byte) (int, int) {
	if cr.numComponents < 257 {
		return int(body[0]), 1
	}
	return int(body[0])<<8 | int(body[1]), 2
}

func (cr *CodestreamReader) readQCDInto(dst *TileCodingParams, ori origin) error {
	body, err := cr.readSegment()
	if err != nil {
		return err
	}
	if len(body) < 1 {
		return derr.At(derr.MalformedMarker, cr.bs.Tell(), "QCD segment too short")
	}
	sqcd := body[0]
	style := sqcd & 0x1F
	guard := int(sqcd >> 5)
	steps, err := decodeStepSizes(style, body[1:])
	if err != nil {
		return err
	}

	for i := range dst.Components {
		c := &dst.Components[i]
		if !c.qcdOrigin.overridableBy(ori) {
			continue
		}
		c.QuantStyle = style
		c.NumGuardBits = guard
		c.StepSizes = append([]StepSize(nil), steps...)
		c.qcdOrigin = ori
	}
	return nil
}

func (cr *CodestreamReader) readQCCInto(dst *TileCodingParams, ori origin) error {
	start := cr.bs.Tell()
	body, err := cr.readSegment()
	if err != nil {
		return err
	}
	idx, off := cr.decodeComponentIndex(body)
	if idx >= len(dst.Components) {
		return derr.At(derr.ParameterOutOfRange, start, "QCC references out-of-range component")
	}
	if len(body) < off+1 {
		return derr.At(derr.MalformedMarker, start, "QCC segment too short")
	}
	sqcc := body[off]
	style := sqcc & 0x1F
	guard := int(sqcc >> 5)
	steps, err := decodeStepSizes(style, body[off+1:])
	if err != nil {
		return err
	}

	c := &dst.Components[idx]
	if !c.qcdOrigin.overridableBy(ori) {
		return nil
	}
	c.QuantStyle = style
	c.NumGuardBits = guard
	c.StepSizes = steps
	c.qcdOrigin = ori
	return nil
}

func decodeStepSizes(style uint8, rest []byte) ([]StepSize, error) {
	switch style {
	case QStyleNone:
		steps := make([]StepSize, len(rest))
		for i, exp := range rest {
			steps[i] = StepSize{Exponent: exp >> 3}
		}
		return steps, nil
	case QStyleScalarDer:
		if len(rest) < 2 {
			return nil, derr.New(derr.MalformedMarker, "QCD/QCC derived step size truncated")
		}
		val := uint16(rest[0])<<8 | uint16(rest[1])
		return []StepSize{{Mantissa: val & 0x07FF, Exponent: uint8(val >> 11)}}, nil
	case QStyleScalarExp:
		n := len(rest) / 2
		steps := make([]StepSize, n)
		for i := 0; i < n; i++ {
			val := uint16(rest[2*i])<<8 | uint16(rest[2*i+1])
			steps[i] = StepSize{Mantissa: val & 0x07FF, Exponent: uint8(val >> 11)}
		}
		return steps, nil
	default:
		return nil, derr.New(derr.ParameterOutOfRange, "unknown quantization style")
	}
}

func (cr *CodestreamReader) readPOCInto(dst *TileCodingParams) error {
	body, err := cr.readSegment()
	if err != nil {
		return err
	}
	entrySize := 7
	if cr.numComponents >= 257 {
		entrySize = 9
	}
	n := len(body) / entrySize
	for i := 0; i < n; i++ {
		e := body[i*entrySize:]
		entry := ProgressionOrderChange{ResStart: int(e[0])}
		p := 1
		if cr.numComponents < 257 {
			entry.CompStart = int(e[p])
			p++
		} else {
			entry.CompStart = int(e[p])<<8 | int(e[p+1])
			p += 2
		}
		entry.LayEnd = int(e[p])<<8 | int(e[p+1])
		p += 2
		entry.ResEnd = int(e[p])
		p++
		if cr.numComponents < 257 {
			entry.CompEnd = int(e[p])
			p++
		} else {
			entry.CompEnd = int(e[p])<<8 | int(e[p+1])
			p += 2
		}
		entry.Order = ProgressionOrder(e[p])
		dst.POC = append(dst.POC, entry)
	}
	return nil
}

func (cr *CodestreamReader) readTLMMarker() error {
	start := cr.bs.Tell()
	body, err := cr.readSegment()
	if err != nil {
		return err
	}
	if len(body) < 2 {
		return derr.At(derr.MalformedMarker, start, "TLM segment too short")
	}
	stlm := body[1]
	st := int((stlm >> 4) & 0x03)
	if st == 3 {
		return derr.At(derr.MalformedMarker, start, "invalid ST field in TLM")
	}
	sp := int((stlm >> 6) & 0x01)

	if cr.cp.Image.TileLengths == nil {
		cr.cp.Image.TileLengths = NewTileLengthIndex()
	}
	return cr.cp.Image.TileLengths.AddSegment(st, sp, body[2:])
}

func (cr *CodestreamReader) readPLMMarker() error {
	body, err := cr.readSegment()
	if err != nil {
		return err
	}
	if len(body) < 1 {
		return derr.At(derr.MalformedMarker, cr.bs.Tell(), "PLM segment too short")
	}
	if cr.cp.Image.PacketLengthsMain == nil {
		cr.cp.Image.PacketLengthsMain = NewPacketLengthIndex()
	}
	return cr.cp.Image.PacketLengthsMain.AddSegment(body[0], body[1:])
}

func (cr *CodestreamReader) readPPM() error {
	body, err := cr.readSegment()
	if err != nil {
		return err
	}
	if len(body) < 1 {
		return derr.At(derr.MalformedMarker, cr.bs.Tell(), "PPM segment too short")
	}
	cr.pending.PPTBuffer = append(cr.pending.PPTBuffer, body[1:]...)
	return nil
}

func (cr *CodestreamReader) readCOMInto(img *Image) error {
	body, err := cr.readSegment()
	if err != nil {
		return err
	}
	if len(body) < 2 {
		return derr.At(derr.MalformedMarker, cr.bs.Tell(), "COM segment too short")
	}
	rcom := uint16(body[0])<<8 | uint16(body[1])
	img.CommentType = rcom
	if rcom == CommentLatin1 {
		img.Comment = string(body[2:])
	}
	return nil
}

func (cr *CodestreamReader) readCAPInto(img *Image) error {
	start := cr.bs.Tell()
	body, err := cr.readSegment()
	if err != nil {
		return err
	}
	if len(body) < 4 {
		return derr.At(derr.MalformedMarker, start, "CAP segment too short")
	}
	cap := &CapabilitiesMarker{}
	cap.Pcap = uint32(body[0])<<24 | uint32(body[1])<<16 | uint32(body[2])<<8 | uint32(body[3])
	rest := body[4:]
	for i := 0; i+1 < len(rest); i += 2 {
		cap.CCAPi = append(cap.CCAPi, uint16(rest[i])<<8|uint16(rest[i+1]))
	}
	img.Capabilities = cap
	return nil
}

func (cr *CodestreamReader) readMCTInto(dst *TileCodingParams) error {
	body, err := cr.readSegment()
	if err != nil {
		return err
	}
	if len(body) < 2 {
		return derr.At(derr.MalformedMarker, cr.bs.Tell(), "MCT segment too short")
	}
	smct := body[0]
	index := int(smct & 0x3F)
	isOffset := (smct>>6)&0x03 == 1
	rest := body[2:]
	data := make([]float64, len(rest)/4)
	for i := range data {
		bits := uint32(rest[4*i])<<24 | uint32(rest[4*i+1])<<16 | uint32(rest[4*i+2])<<8 | uint32(rest[4*i+3])
		data[i] = float64(int32(bits))
	}
	dst.MCTRecords = append(dst.MCTRecords, MCTRecord{Index: index, IsOffset: isOffset, Data: data})
	return nil
}

func (cr *CodestreamReader) readMCCInto(dst *TileCodingParams) error {
	body, err := cr.readSegment()
	if err != nil {
		return err
	}
	if len(body) < 5 {
		return derr.At(derr.MalformedMarker, cr.bs.Tell(), "MCC segment too short")
	}
	numComp := int(body[3])<<8 | int(body[4])
	rec := MCCRecord{NumComponents: numComp, MatrixIndex: -1, OffsetIndex: -1}
	if len(body) > 5 {
		rec.MatrixIndex = int(body[5])
	}
	dst.MCCRecords = append(dst.MCCRecords, rec)
	return nil
}

// readTileParts consumes tile-part headers and payloads from
// StateTPHSOT until EOC (or an unterminated end, per section 4.2's
// NO_EOC state, which this implementation treats as a soft finish).
func (cr *CodestreamReader) readTileParts() error {
	// readMainHeader stops just after the first SOT marker code (and
	// skipToFirstWantedTile seeks to the same point of a later tile-part),
	// so the first iteration starts with SOT already consumed.
	m := SOT
	for first := true; ; first = false {
		if !first {
			var err error
			if m, err = cr.readMarker(); err != nil {
				// Stream ended without an EOC marker: accepted as NO_EOC
				// rather than a fatal Truncated error (section 4.2).
				cr.state = StateNoEOC
				return nil
			}
		}
		if err := cr.checkLegal(m); err != nil {
			return err
		}
		switch m {
		case SOT:
			if err := cr.readOneTilePart(); err != nil {
				return err
			}
			cr.state = StateData
		case EOC:
			cr.state = StateEOC
			return nil
		default:
			return derr.At(derr.MarkerOutOfPlace, cr.bs.Tell(), "expected SOT or EOC")
		}
	}
}

func (cr *CodestreamReader) readOneTilePart() error {
	sotStart := cr.bs.Tell() - 2 // includes the marker code just consumed
	length, err := cr.bs.ReadU16()
	if err != nil {
		return err
	}
	if length != 10 {
		return derr.At(derr.MalformedMarker, sotStart, "SOT segment length must be 10")
	}
	tileIndex, err := cr.bs.ReadU16()
	if err != nil {
		return err
	}
	if int(tileIndex) >= len(cr.cp.TCPs) {
		return derr.At(derr.ParameterOutOfRange, sotStart, "SOT references out-of-range tile index")
	}
	psot, err := cr.bs.ReadU32()
	if err != nil {
		return err
	}
	if _, err := cr.bs.ReadU8(); err != nil { // TPSot, tile-part index: not needed for ordering here
		return err
	}
	if _, err := cr.bs.ReadU8(); err != nil { // TNsot, number of tile-parts: informational
		return err
	}

	cr.currentTileIndex = int(tileIndex)
	tcp := cr.cp.TCPs[tileIndex]
	cr.state = StateTPH

	var plt *PacketLengthIndex

	for {
		m, err := cr.readMarker()
		if err != nil {
			return err
		}
		if m == SOD {
			if err := cr.checkLegal(m); err != nil {
				return err
			}
			goto readPayload
		}
		if err := cr.checkLegal(m); err != nil {
			return err
		}
		switch m {
		case COD:
			if err := cr.readCODInto(tcp, originTileDefault); err != nil {
				return err
			}
		case COC:
			if err := cr.readCOCInto(tcp, originTileComp); err != nil {
				return err
			}
		case QCD:
			if err := cr.readQCDInto(tcp, originTileDefault); err != nil {
				return err
			}
		case QCC:
			if err := cr.readQCCInto(tcp, originTileComp); err != nil {
				return err
			}
		case POC:
			if err := cr.readPOCInto(tcp); err != nil {
				return err
			}
		case PPT:
			body, err := cr.readSegment()
			if err != nil {
				return err
			}
			if len(body) < 1 {
				return derr.At(derr.MalformedMarker, cr.bs.Tell(), "PPT segment too short")
			}
			tcp.PPTBuffer = append(tcp.PPTBuffer, body[1:]...)
		case PLT:
			body, err := cr.readSegment()
			if err != nil {
				return err
			}
			if len(body) < 1 {
				return derr.At(derr.MalformedMarker, cr.bs.Tell(), "PLT segment too short")
			}
			if plt == nil {
				plt = NewPacketLengthIndex()
			}
			if err := plt.AddSegment(body[0], body[1:]); err != nil {
				return err
			}
		default:
			if err := cr.skipUnknown(m); err != nil {
				return err
			}
		}
	}

readPayload:
	dataStart := cr.bs.Tell()
	headerLen := dataStart - sotStart
	var payload []byte
	if psot == 0 {
		// Unknown length, only legal for the last tile-part of the last
		// tile; take everything remaining rather than rescanning for
		// markers inside entropy-coded data.
		left := cr.bs.BytesLeft()
		if left < 0 {
			return derr.At(derr.UnsupportedFeature, dataStart, "PSot=0 requires a seekable or bounded stream")
		}
		payload, err = cr.bs.Read(int(left))
	} else {
		payloadLen := int64(psot) - headerLen
		if payloadLen < 0 {
			return derr.At(derr.MalformedMarker, sotStart, "PSot smaller than tile-part header")
		}
		payload, err = cr.bs.Read(int(payloadLen))
	}
	if err != nil {
		return err
	}
	tcp.TilePartData = append(tcp.TilePartData, payload)
	tcp.PacketLengthsPLT = append(tcp.PacketLengthsPLT, plt)
	return nil
}
