package annotations

import "strings"

// Circle is a detected circular callout in natural image coordinates as
// returned by the detection service. PageNumber and CircleText come from
// OCR inside the callout: the bottom half carries the referenced sheet
// (e.g. "A5.1"), the top half the detail number.
type Circle struct {
	ID             int      `json:"id"`
	X              float64  `json:"x"`
	Y              float64  `json:"y"`
	R              float64  `json:"r"`
	PageNumber     string   `json:"page_number,omitempty"`
	CircleText     string   `json:"circle_text,omitempty"`
	RawTextsTop    []string `json:"raw_texts_top,omitempty"`
	RawTextsBottom []string `json:"raw_texts_bottom,omitempty"`
}

// TextRegion is a detected text bounding box in natural image coordinates.
type TextRegion struct {
	ID   int     `json:"id"`
	X1   float64 `json:"x1"`
	Y1   float64 `json:"y1"`
	X2   float64 `json:"x2"`
	Y2   float64 `json:"y2"`
	Text string  `json:"text"`
}

// Contains reports whether the displayed-coordinate point lies inside the
// region's bounding box.
func (t TextRegion) Contains(x, y float64) bool {
	return x >= t.X1 && x <= t.X2 && y >= t.Y1 && y <= t.Y2
}

// Contains reports whether the displayed-coordinate point lies inside the
// circle.
func (c Circle) Contains(x, y float64) bool {
	dx := x - c.X
	dy := y - c.Y
	return dx*dx+dy*dy <= c.R*c.R
}

// ShapeKind discriminates the variants of Shape.
type ShapeKind string

const (
	KindCircle ShapeKind = "circle"
	KindText   ShapeKind = "text"
)

// Shape is a tagged variant over the two detected shape types. Exactly one
// of Circle/Text is set, according to Kind.
type Shape struct {
	Kind   ShapeKind   `json:"kind"`
	Circle *Circle     `json:"circle,omitempty"`
	Text   *TextRegion `json:"text,omitempty"`
}

// CircleShape wraps a circle as a Shape.
func CircleShape(c Circle) Shape {
	return Shape{Kind: KindCircle, Circle: &c}
}

// TextShape wraps a text region as a Shape.
func TextShape(t TextRegion) Shape {
	return Shape{Kind: KindText, Text: &t}
}

// Set is one workspace's annotations. A workspace holds a single raw Set in
// natural coordinates; displayed views are derived from it and the
// workspace's own ImageInfo, never mutated independently.
type Set struct {
	Circles []Circle     `json:"circles"`
	Texts   []TextRegion `json:"texts"`
}

// Empty reports whether the set holds no annotations at all.
func (s Set) Empty() bool {
	return len(s.Circles) == 0 && len(s.Texts) == 0
}

// NormalizeLabel canonicalizes a callout label for matching: whitespace
// stripped throughout and letters uppercased, so "a7. 1" matches "A7.1".
func NormalizeLabel(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), ""))
}

// FindCircleByText returns the first circle whose CircleText matches target
// under NormalizeLabel, or nil. First match in service order wins when
// several circles carry the same label.
func (s Set) FindCircleByText(target string) *Circle {
	want := NormalizeLabel(target)
	if want == "" {
		return nil
	}
	for i := range s.Circles {
		if NormalizeLabel(s.Circles[i].CircleText) == want {
			return &s.Circles[i]
		}
	}
	return nil
}
