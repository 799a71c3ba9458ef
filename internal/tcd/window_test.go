package tcd

import (
	"testing"

	"github.com/mrjoshuak/go-jpeg2000/internal/codestream"
	"github.com/stretchr/testify/assert"
)

func TestComponentWindow_NilAreaReturnsNil(t *testing.T) {
	assert.Nil(t, componentWindow(nil, 1, 1, true, 2))
}

func TestComponentWindow_ReversiblePadsByFilterSupportPerLevel(t *testing.T) {
	area := &codestream.Rect{X0: 10, Y0: 10, X1: 20, Y1: 20}
	w := componentWindow(area, 1, 1, true, 2)
	// 5/3 filter support is 1 tap, times 2 decomposition levels.
	assert.Equal(t, &codestream.Rect{X0: 8, Y0: 8, X1: 22, Y1: 22}, w)
}

func TestComponentWindow_IrreversiblePadsMoreThanReversible(t *testing.T) {
	area := &codestream.Rect{X0: 10, Y0: 10, X1: 20, Y1: 20}
	reversible := componentWindow(area, 1, 1, true, 2)
	irreversible := componentWindow(area, 1, 1, false, 2)
	assert.Greater(t, reversible.X0, irreversible.X0)
	assert.Less(t, reversible.X1, irreversible.X1)
}

func TestComponentWindow_SubsamplingDividesCanvasCoordinates(t *testing.T) {
	area := &codestream.Rect{X0: 0, Y0: 0, X1: 16, Y1: 16}
	w := componentWindow(area, 2, 2, true, 0)
	// Chroma subsampled 2x: canvas [0,16) maps to component [0,8), padded
	// by one level's worth of 5/3 support (1 sample).
	assert.Equal(t, -1, w.X0)
	assert.Equal(t, 9, w.X1)
}
