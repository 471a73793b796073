package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBoundingBoxIntersection(t *testing.T) {
	tests := []struct {
		name     string
		a, b     BoundingBox
		expected float32
	}{
		{
			name:     "partial overlap",
			a:        BoundingBox{X1: 0, Y1: 0, X2: 100, Y2: 100},
			b:        BoundingBox{X1: 50, Y1: 50, X2: 150, Y2: 150},
			expected: 2500,
		},
		{
			name:     "disjoint boxes",
			a:        BoundingBox{X1: 0, Y1: 0, X2: 10, Y2: 10},
			b:        BoundingBox{X1: 20, Y1: 20, X2: 30, Y2: 30},
			expected: 0,
		},
		{
			name:     "contained box",
			a:        BoundingBox{X1: 0, Y1: 0, X2: 100, Y2: 100},
			b:        BoundingBox{X1: 25, Y1: 25, X2: 75, Y2: 75},
			expected: 2500,
		},
		{
			name:     "non-canonical coordinates",
			a:        BoundingBox{X1: 100, Y1: 100, X2: 0, Y2: 0},
			b:        BoundingBox{X1: 50, Y1: 50, X2: 150, Y2: 150},
			expected: 2500,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, tt.a.Intersection(tt.b), 0.001)
			assert.InDelta(t, tt.expected, tt.b.Intersection(tt.a), 0.001,
				"intersection should be symmetric")
		})
	}
}

func TestBoundingBoxIoU(t *testing.T) {
	tests := []struct {
		name     string
		a, b     BoundingBox
		expected float32
	}{
		{
			name:     "identical boxes",
			a:        BoundingBox{X1: 10, Y1: 10, X2: 60, Y2: 60},
			b:        BoundingBox{X1: 10, Y1: 10, X2: 60, Y2: 60},
			expected: 1.0,
		},
		{
			name:     "quarter overlap",
			a:        BoundingBox{X1: 0, Y1: 0, X2: 100, Y2: 100},
			b:        BoundingBox{X1: 50, Y1: 50, X2: 150, Y2: 150},
			expected: 2500.0 / 17500.0,
		},
		{
			name:     "no overlap",
			a:        BoundingBox{X1: 0, Y1: 0, X2: 10, Y2: 10},
			b:        BoundingBox{X1: 100, Y1: 100, X2: 110, Y2: 110},
			expected: 0,
		},
		{
			name:     "degenerate zero-area boxes",
			a:        BoundingBox{X1: 5, Y1: 5, X2: 5, Y2: 5},
			b:        BoundingBox{X1: 5, Y1: 5, X2: 5, Y2: 5},
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, tt.a.IoU(tt.b), 0.0001)
		})
	}
}

func TestDetectionString(t *testing.T) {
	d := Detection{
		Label:      "person",
		Confidence: 0.95,
		Box:        BoundingBox{X1: 100, Y1: 200, X2: 300, Y2: 400},
	}
	assert.Equal(t,
		"Object person (confidence 0.950000): (100.000000, 200.000000), (300.000000, 400.000000)",
		d.String())
}
