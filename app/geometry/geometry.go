package geometry

import (
	"fmt"
	"math"

	"planlens/app/annotations"
)

// GeometryError indicates an image geometry that cannot produce valid scale
// factors (zero or negative dimensions). It is fatal for that image load:
// no overlay may be rendered until a new image replaces the geometry.
type GeometryError struct {
	Reason string
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("invalid geometry: %s", e.Reason)
}

// ImageInfo captures the geometry of one loaded sheet image: its intrinsic
// pixel size, its laid-out display size and the derived scale factors.
// It is replaced wholesale whenever a new image load is reported, never
// mutated field by field.
type ImageInfo struct {
	NaturalWidth    float64 `json:"naturalWidth"`
	NaturalHeight   float64 `json:"naturalHeight"`
	DisplayedWidth  float64 `json:"displayedWidth"`
	DisplayedHeight float64 `json:"displayedHeight"`
	ScaleX          float64 `json:"scaleX"`
	ScaleY          float64 `json:"scaleY"`
}

// ComputeImageInfo derives scale factors from natural and displayed sizes.
// Any zero or negative dimension yields a GeometryError since the scale
// would be undefined or infinite.
func ComputeImageInfo(naturalW, naturalH, displayedW, displayedH float64) (ImageInfo, error) {
	if naturalW <= 0 || naturalH <= 0 {
		return ImageInfo{}, &GeometryError{Reason: fmt.Sprintf("natural size %gx%g", naturalW, naturalH)}
	}
	if displayedW <= 0 || displayedH <= 0 {
		return ImageInfo{}, &GeometryError{Reason: fmt.Sprintf("displayed size %gx%g", displayedW, displayedH)}
	}
	return ImageInfo{
		NaturalWidth:    naturalW,
		NaturalHeight:   naturalH,
		DisplayedWidth:  displayedW,
		DisplayedHeight: displayedH,
		ScaleX:          displayedW / naturalW,
		ScaleY:          displayedH / naturalH,
	}, nil
}

// ScaleCircle maps a circle from natural to displayed coordinates.
// The radius is scaled by min(ScaleX, ScaleY) so circles stay circular under
// non-uniform scaling (letterboxed display). This is an approximation: the
// true shape under non-uniform scale would be an ellipse.
func ScaleCircle(c annotations.Circle, info ImageInfo) annotations.Circle {
	out := c
	out.X = c.X * info.ScaleX
	out.Y = c.Y * info.ScaleY
	out.R = c.R * math.Min(info.ScaleX, info.ScaleY)
	return out
}

// ScaleTextRegion maps a text region from natural to displayed coordinates.
// Each axis scales independently; a rectangle is not aspect-constrained.
func ScaleTextRegion(r annotations.TextRegion, info ImageInfo) annotations.TextRegion {
	out := r
	out.X1 = r.X1 * info.ScaleX
	out.Y1 = r.Y1 * info.ScaleY
	out.X2 = r.X2 * info.ScaleX
	out.Y2 = r.Y2 * info.ScaleY
	return out
}

// ScaleSet derives the displayed view of a raw annotation set. The raw set
// is never modified; the result is a fresh set in displayed coordinates.
func ScaleSet(raw annotations.Set, info ImageInfo) annotations.Set {
	out := annotations.Set{
		Circles: make([]annotations.Circle, len(raw.Circles)),
		Texts:   make([]annotations.TextRegion, len(raw.Texts)),
	}
	for i, c := range raw.Circles {
		out.Circles[i] = ScaleCircle(c, info)
	}
	for i, t := range raw.Texts {
		out.Texts[i] = ScaleTextRegion(t, info)
	}
	return out
}

// Point is a position in a single coordinate frame.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ScreenToImage inverse-maps a pointer position through the zoom factor and
// the element's on-screen origin into displayed image coordinates. It is the
// exact inverse of the forward chain screen = displayed*zoom + origin.
func ScreenToImage(pointerX, pointerY float64, origin Point, zoom float64) (Point, error) {
	if zoom <= 0 {
		return Point{}, &GeometryError{Reason: fmt.Sprintf("zoom factor %g", zoom)}
	}
	return Point{
		X: (pointerX - origin.X) / zoom,
		Y: (pointerY - origin.Y) / zoom,
	}, nil
}

// DisplayedToNatural maps a displayed-coordinate point back to natural image
// pixels. Used for popup placement and crop conversion.
func DisplayedToNatural(p Point, info ImageInfo) Point {
	return Point{X: p.X / info.ScaleX, Y: p.Y / info.ScaleY}
}
