package tcd

import "github.com/mrjoshuak/go-jpeg2000/internal/codestream"

// componentWindow converts a canvas-coordinate decode window into a
// tile-component-coordinate window, padded by the synthesis filter's
// support (section 4.11): a reconstructed sample near the window edge
// still depends on neighboring coefficients at every decomposition level,
// so the window is grown by the filter's tap count per level before it is
// used to decide which code-blocks can be skipped. Returns nil when area
// is nil (no windowing requested).
func componentWindow(area *codestream.Rect, subX, subY uint8, reversible bool, levels int) *codestream.Rect {
	if area == nil {
		return nil
	}
	pad := 2 // 9/7 irreversible filter support
	if reversible {
		pad = 1 // 5/3 reversible filter support
	}
	margin := pad * levels
	if margin < pad {
		margin = pad
	}

	sx, sy := int(subX), int(subY)
	if sx <= 0 {
		sx = 1
	}
	if sy <= 0 {
		sy = 1
	}

	cx0 := ceilDivSigned(area.X0, sx)
	cy0 := ceilDivSigned(area.Y0, sy)
	cx1 := ceilDivSigned(area.X1, sx)
	cy1 := ceilDivSigned(area.Y1, sy)

	return &codestream.Rect{
		X0: cx0 - margin,
		Y0: cy0 - margin,
		X1: cx1 + margin,
		Y1: cy1 + margin,
	}
}
