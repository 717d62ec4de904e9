package geometry

import (
	"fmt"
	"math"
)

// SelectionError indicates a degenerate region selection (zero width or
// height). It is rejected before any detection request is sent.
type SelectionError struct {
	Reason string
}

func (e *SelectionError) Error() string {
	return fmt.Sprintf("invalid selection: %s", e.Reason)
}

// Selection is a region of interest drawn by the user, in displayed
// coordinates. It is ephemeral: created on pointer-down, grown on
// pointer-move, consumed on the region-detect trigger and cleared whenever
// a new image loads. A valid selection satisfies X2 > X1 and Y2 > Y1.
type Selection struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Normalize returns the selection with corners ordered so that (X1,Y1) is
// the top-left. Dragging up or left produces inverted corners; detection
// always wants a well-formed rectangle.
func (s Selection) Normalize() Selection {
	out := s
	if out.X2 < out.X1 {
		out.X1, out.X2 = out.X2, out.X1
	}
	if out.Y2 < out.Y1 {
		out.Y1, out.Y2 = out.Y2, out.Y1
	}
	return out
}

// Validate checks the selection for degeneracy after normalization.
func (s Selection) Validate() error {
	n := s.Normalize()
	if n.X2-n.X1 <= 0 {
		return &SelectionError{Reason: "zero width"}
	}
	if n.Y2-n.Y1 <= 0 {
		return &SelectionError{Reason: "zero height"}
	}
	return nil
}

// CropRect is an integer crop rectangle in natural image pixels, the shape
// the detection service expects for region detection.
type CropRect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// NaturalCropRect converts a displayed-coordinate selection into an integer
// crop rectangle in natural pixels by dividing out the display scale and
// rounding to the nearest pixel. The result is clamped to the natural image
// bounds so a drag past the edge still yields a legal crop.
func NaturalCropRect(sel Selection, info ImageInfo) (CropRect, error) {
	if err := sel.Validate(); err != nil {
		return CropRect{}, err
	}
	if info.ScaleX <= 0 || info.ScaleY <= 0 {
		return CropRect{}, &GeometryError{Reason: fmt.Sprintf("scale %gx%g", info.ScaleX, info.ScaleY)}
	}

	n := sel.Normalize()
	x1 := math.Round(n.X1 / info.ScaleX)
	y1 := math.Round(n.Y1 / info.ScaleY)
	x2 := math.Round(n.X2 / info.ScaleX)
	y2 := math.Round(n.Y2 / info.ScaleY)

	x1 = clamp(x1, 0, info.NaturalWidth)
	x2 = clamp(x2, 0, info.NaturalWidth)
	y1 = clamp(y1, 0, info.NaturalHeight)
	y2 = clamp(y2, 0, info.NaturalHeight)

	w := x2 - x1
	h := y2 - y1
	if w <= 0 || h <= 0 {
		return CropRect{}, &SelectionError{Reason: "selection outside image bounds"}
	}

	return CropRect{X: int(x1), Y: int(y1), W: int(w), H: int(h)}, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
