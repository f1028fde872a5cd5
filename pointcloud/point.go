// Package pointcloud defines colored, confidence weighted 3D points and the filters and file
// formats that operate on them.
package pointcloud

import (
	"github.com/golang/geo/r3"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
)

const (
	// UncoloredFields is the field count of an (x, y, z, confidence) point.
	UncoloredFields = 4
	// ColoredFields is the field count of an (x, y, z, r, g, b, confidence) point.
	ColoredFields = 7
)

// Point is a world space sample. Colors are in [0, 1]; Confidence is in [0, 1].
type Point struct {
	Position   r3.Vector
	Color      colorful.Color
	HasColor   bool
	Confidence float64
}

// NewColoredPoint returns a point carrying a color.
func NewColoredPoint(pos r3.Vector, c colorful.Color, confidence float64) Point {
	return Point{Position: pos, Color: c, HasColor: true, Confidence: confidence}
}

// Fields flattens the point to 4 or 7 values.
func (p Point) Fields() []float64 {
	if !p.HasColor {
		return []float64{p.Position.X, p.Position.Y, p.Position.Z, p.Confidence}
	}
	return []float64{p.Position.X, p.Position.Y, p.Position.Z, p.Color.R, p.Color.G, p.Color.B, p.Confidence}
}

// PointFromFields is the inverse of Fields.
func PointFromFields(fields []float64) (Point, error) {
	switch len(fields) {
	case UncoloredFields:
		return Point{
			Position:   r3.Vector{X: fields[0], Y: fields[1], Z: fields[2]},
			Confidence: fields[3],
		}, nil
	case ColoredFields:
		return NewColoredPoint(
			r3.Vector{X: fields[0], Y: fields[1], Z: fields[2]},
			colorful.Color{R: fields[3], G: fields[4], B: fields[5]},
			fields[6],
		), nil
	default:
		return Point{}, errors.Errorf("point has %d fields, expected %d or %d", len(fields), UncoloredFields, ColoredFields)
	}
}

// RGB255 returns the point color as bytes, white when it has none.
func (p Point) RGB255() (uint8, uint8, uint8) {
	if !p.HasColor {
		return 255, 255, 255
	}
	return p.Color.Clamped().RGB255()
}

// Frame is the set of points extracted from one accepted sensor frame.
type Frame struct {
	Index  int
	Points []Point
}

// Bounds returns the axis aligned min and max corners of points.
func Bounds(points []Point) (r3.Vector, r3.Vector) {
	if len(points) == 0 {
		return r3.Vector{}, r3.Vector{}
	}
	lo, hi := points[0].Position, points[0].Position
	for _, p := range points[1:] {
		lo = r3.Vector{X: min(lo.X, p.Position.X), Y: min(lo.Y, p.Position.Y), Z: min(lo.Z, p.Position.Z)}
		hi = r3.Vector{X: max(hi.X, p.Position.X), Y: max(hi.Y, p.Position.Y), Z: max(hi.Z, p.Position.Z)}
	}
	return lo, hi
}
