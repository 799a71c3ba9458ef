package codestream

// State identifies a position in the marker-driven parser state machine
// (section 4.2): MH_SOC -> MH_SIZ -> MH_MAIN -> TPH_SOT -> TPH -> TPH_SOD ->
// {TPH_SOT | DATA | EOC | NO_EOC}.
type State int

const (
	StateMHSOC State = iota
	StateMHSIZ
	StateMHMain
	StateTPHSOT
	StateTPH
	StateTPHSOD
	StateData
	StateEOC
	StateNoEOC
)

// String returns the state's name, used in MarkerOutOfPlace diagnostics.
func (s State) String() string {
	switch s {
	case StateMHSOC:
		return "MH_SOC"
	case StateMHSIZ:
		return "MH_SIZ"
	case StateMHMain:
		return "MH_MAIN"
	case StateTPHSOT:
		return "TPH_SOT"
	case StateTPH:
		return "TPH"
	case StateTPHSOD:
		return "TPH_SOD"
	case StateData:
		return "DATA"
	case StateEOC:
		return "EOC"
	case StateNoEOC:
		return "NO_EOC"
	default:
		return "UNKNOWN"
	}
}

// StateMask is a bitmask over States, used to declare a handler's legal
// states without an O(n) membership scan.
type StateMask uint16

func maskOf(states ...State) StateMask {
	var m StateMask
	for _, s := range states {
		m |= 1 << uint(s)
	}
	return m
}

// Allows reports whether s belongs to the mask.
func (m StateMask) Allows(s State) bool {
	return m&(1<<uint(s)) != 0
}

// registryEntry pairs a marker with the parser states in which it may
// legally appear.
type registryEntry struct {
	marker Marker
	legal  StateMask
}

// MarkerRegistry maps marker codes to the set of states in which they are
// legal. A handler invoked outside its legal set fails with
// MarkerOutOfPlace (section 4.2).
type MarkerRegistry struct {
	entries map[Marker]StateMask
}

// NewMarkerRegistry builds the standard JPEG 2000 marker legality table.
func NewMarkerRegistry() *MarkerRegistry {
	mainHeader := maskOf(StateMHSIZ, StateMHMain)
	tileHeader := maskOf(StateTPHSOT, StateTPH)
	bothHeaders := mainHeader | tileHeader

	table := []registryEntry{
		{SOC, maskOf(StateMHSOC)},
		{SIZ, maskOf(StateMHSIZ)},
		{COD, bothHeaders},
		{COC, bothHeaders},
		{RGN, bothHeaders},
		{QCD, bothHeaders},
		{QCC, bothHeaders},
		{POC, bothHeaders},
		{TLM, mainHeader},
		{PLM, mainHeader},
		{PLT, tileHeader},
		{PPM, mainHeader},
		{PPT, tileHeader},
		{CRG, mainHeader},
		{COM, bothHeaders},
		{CAP, mainHeader},
		{CBD, mainHeader},
		{MCT, bothHeaders},
		{MCC, bothHeaders},
		{MCO, bothHeaders},
		{SOT, maskOf(StateMHMain, StateTPHSOT, StateData)},
		{SOD, maskOf(StateTPH)},
		{SOP, maskOf(StateData)},
		{EPH, maskOf(StateData)},
		{EOC, maskOf(StateData)},
	}

	r := &MarkerRegistry{entries: make(map[Marker]StateMask, len(table))}
	for _, e := range table {
		r.entries[e.marker] = e.legal
	}
	return r
}

// Legal reports whether marker may appear while the parser is in state s.
// Unregistered markers are treated as legal in every state, matching the "unknown marker" recovery path in section 4.2 rather than
// rejecting them outright — unknown-marker skip handles the actual
// recovery, this registry only governs *known* markers that showed up
// somewhere they structurally cannot belong.
func (r *MarkerRegistry) Legal(marker Marker, s State) bool {
	mask, known := r.entries[marker]
	if !known {
		return true
	}
	return mask.Allows(s)
}
