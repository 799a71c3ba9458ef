// Package derr defines the error taxonomy used across the decoder.
//
// Every fallible operation in the codestream and tile pipelines returns one
// of these kinds (wrapped with position/context via fmt.Errorf("%w", ...))
// rather than an ad-hoc string, so callers can branch on errors.As and the
// top-level decoder can decide whether a failure is fatal for one tile or
// for the whole codestream.
package derr

import "fmt"

// Kind classifies a decode-time failure per the specification's error
// taxonomy.
type Kind int

const (
	// Truncated: stream ended mid-marker or mid-payload. Fatal for the
	// codestream.
	Truncated Kind = iota
	// MalformedMarker: length bytes out of range or body inconsistent with
	// length. Fatal for the current tile.
	MalformedMarker
	// MarkerOutOfPlace: marker encountered in a disallowed parser state.
	MarkerOutOfPlace
	// UnsupportedFeature: a feature this decoder does not implement.
	// Returned as an error by the code that detects it, so the read or tile
	// decode in progress stops; it is not logged and skipped.
	UnsupportedFeature
	// UnknownMarker: recovered by skip-until-known.
	UnknownMarker
	// ParameterOutOfRange: violation of a standard bound. Fatal for tile.
	ParameterOutOfRange
	// QuantizationScopeViolation: step-size count inconsistent with
	// decomposition count. Fatal for tile.
	QuantizationScopeViolation
	// T1DecodeFailure: segment-level arithmetic decoder failure. Partial
	// block delivered, warning logged, tile continues.
	T1DecodeFailure
	// AllocationFailure: buffer allocation refused. Fatal for tile.
	AllocationFailure
	// Unseekable: seek requested on a non-seekable transport.
	Unseekable
)

// String returns the textual name of the error kind.
func (k Kind) String() string {
	switch k {
	case Truncated:
		return "Truncated"
	case MalformedMarker:
		return "MalformedMarker"
	case MarkerOutOfPlace:
		return "MarkerOutOfPlace"
	case UnsupportedFeature:
		return "UnsupportedFeature"
	case UnknownMarker:
		return "UnknownMarker"
	case ParameterOutOfRange:
		return "ParameterOutOfRange"
	case QuantizationScopeViolation:
		return "QuantizationScopeViolation"
	case T1DecodeFailure:
		return "T1DecodeFailure"
	case AllocationFailure:
		return "AllocationFailure"
	case Unseekable:
		return "Unseekable"
	default:
		return "Unknown"
	}
}

// Error is a decode-time error carrying its kind and the byte position in
// the codestream at which it was detected (-1 if not applicable).
type Error struct {
	Kind     Kind
	Position int64
	Msg      string
	Cause    error
}

func (e *Error) Error() string {
	if e.Position >= 0 {
		if e.Cause != nil {
			return fmt.Sprintf("%s at byte %d: %s: %v", e.Kind, e.Position, e.Msg, e.Cause)
		}
		return fmt.Sprintf("%s at byte %d: %s", e.Kind, e.Position, e.Msg)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an Error with no known byte position.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Position: -1, Msg: msg}
}

// At creates an Error anchored to a byte position in the codestream.
func At(kind Kind, pos int64, msg string) *Error {
	return &Error{Kind: kind, Position: pos, Msg: msg}
}

// Wrap creates an Error that carries an underlying cause.
func Wrap(kind Kind, pos int64, msg string, cause error) *Error {
	return &Error{Kind: kind, Position: pos, Msg: msg, Cause: cause}
}

// Is reports whether err is a *Error of the given kind, following Unwrap
// chains (callers typically use errors.As directly; this helper matches the
// common case of "is this a kind K failure").
func Is(err error, kind Kind) bool {
	for err != nil {
		if de, ok := err.(*Error); ok {
			if de.Kind == kind {
				return true
			}
			err = de.Cause
			continue
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
