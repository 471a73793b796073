// Package common - Shared detection and bounding geometry types.
package common

import (
	"fmt"

	"github.com/chewxy/math32"
)

// BoundingBox is an axis-aligned detection region in image pixel coordinates.
// Coordinates are stored as float32 because that is what every accelerator
// runtime emits; callers needing integral rectangles should round themselves.
type BoundingBox struct {
	X1 float32 `json:"x1" yaml:"x1"`
	Y1 float32 `json:"y1" yaml:"y1"`
	X2 float32 `json:"x2" yaml:"x2"`
	Y2 float32 `json:"y2" yaml:"y2"`
}

// Detection is a single object found by one inference backend.
type Detection struct {
	// Label is the class name, e.g. "person".
	Label string `json:"class" yaml:"class"`
	// Confidence is the backend-reported score in [0, 1].
	Confidence float32 `json:"confidence" yaml:"confidence"`
	// Box is the detection region.
	Box BoundingBox `json:"bbox" yaml:"bbox"`
	// Engine names the backend that produced this detection. Populated by
	// the orchestrator when results from several engines are combined.
	Engine string `json:"source_engine,omitempty" yaml:"source_engine,omitempty"`
}

func (d Detection) String() string {
	return fmt.Sprintf("Object %s (confidence %f): (%f, %f), (%f, %f)",
		d.Label, d.Confidence, d.Box.X1, d.Box.Y1, d.Box.X2, d.Box.Y2)
}

// Canon returns the box with X1 <= X2 and Y1 <= Y2.
func (b BoundingBox) Canon() BoundingBox {
	if b.X1 > b.X2 {
		b.X1, b.X2 = b.X2, b.X1
	}
	if b.Y1 > b.Y2 {
		b.Y1, b.Y2 = b.Y2, b.Y1
	}
	return b
}

// Area returns the area of the box in square pixels.
func (b BoundingBox) Area() float32 {
	b = b.Canon()
	return (b.X2 - b.X1) * (b.Y2 - b.Y1)
}

// Intersection calculates the intersection area between two bounding boxes.
func (b BoundingBox) Intersection(other BoundingBox) float32 {
	b = b.Canon()
	other = other.Canon()
	w := math32.Min(b.X2, other.X2) - math32.Max(b.X1, other.X1)
	h := math32.Min(b.Y2, other.Y2) - math32.Max(b.Y1, other.Y1)
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Union calculates the union area between two bounding boxes.
func (b BoundingBox) Union(other BoundingBox) float32 {
	return b.Area() + other.Area() - b.Intersection(other)
}

// IoU calculates the Intersection over Union between two bounding boxes.
// It is used both for duplicate suppression and for deciding whether two
// engines detected the same object. Returns a value in [0, 1]; degenerate
// boxes with zero union yield 0.
func (b BoundingBox) IoU(other BoundingBox) float32 {
	union := b.Union(other)
	if union <= 0 {
		return 0
	}
	return b.Intersection(other) / union
}
