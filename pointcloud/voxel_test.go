package pointcloud

import (
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/lucasb-eyer/go-colorful"
	"go.viam.com/test"
)

func randomCloud(n int, seed int64) []Point {
	rnd := rand.New(rand.NewSource(seed))
	points := make([]Point, 0, n)
	for i := 0; i < n; i++ {
		points = append(points, NewColoredPoint(
			r3.Vector{X: rnd.Float64()*4 - 2, Y: rnd.Float64()*4 - 2, Z: rnd.Float64() * 3},
			colorful.Color{R: rnd.Float64(), G: rnd.Float64(), B: rnd.Float64()},
			rnd.Float64(),
		))
	}
	return points
}

func TestGetVoxelCoordinates(t *testing.T) {
	test.That(t, GetVoxelCoordinates(r3.Vector{X: 0.5, Y: -0.5, Z: 1.0}, 1), test.ShouldResemble, VoxelCoords{0, -1, 1})
	test.That(t, GetVoxelCoordinates(r3.Vector{X: -0.0001, Y: 0.2499, Z: 0.25}, 0.25), test.ShouldResemble, VoxelCoords{-1, 0, 1})
}

func TestVoxelCentroid(t *testing.T) {
	points := []Point{
		NewColoredPoint(r3.Vector{X: 0.1, Y: 0.1, Z: 0.1}, colorful.Color{R: 1}, 1),
		NewColoredPoint(r3.Vector{X: 0.3, Y: 0.3, Z: 0.3}, colorful.Color{B: 1}, 0.5),
		NewColoredPoint(r3.Vector{X: 5, Y: 5, Z: 5}, colorful.Color{G: 1}, 0.2),
		{Position: r3.Vector{X: 0.2}, Confidence: 1},
	}
	out, stats := VoxelDownsample(points, 1)
	test.That(t, stats, test.ShouldResemble, VoxelStats{Input: 4, Rejected: 1, Output: 2})
	test.That(t, len(out), test.ShouldEqual, 2)

	test.That(t, out[0].Position.X, test.ShouldAlmostEqual, 0.2)
	test.That(t, out[0].Position.Z, test.ShouldAlmostEqual, 0.2)
	test.That(t, out[0].Color.R, test.ShouldAlmostEqual, 0.5)
	test.That(t, out[0].Color.B, test.ShouldAlmostEqual, 0.5)
	test.That(t, out[0].Confidence, test.ShouldAlmostEqual, 0.75)
	test.That(t, out[1].Position, test.ShouldResemble, r3.Vector{X: 5, Y: 5, Z: 5})
}

func TestVoxelNonPositiveSize(t *testing.T) {
	points := randomCloud(10, 1)
	out, stats := VoxelDownsample(points, 0)
	test.That(t, out, test.ShouldResemble, points)
	test.That(t, stats.Output, test.ShouldEqual, 10)
}

func TestVoxelMonotonic(t *testing.T) {
	points := randomCloud(2000, 2)
	prev := len(points)
	// nested grids: every coarser voxel is a union of finer ones
	for _, size := range []float64{0.0625, 0.125, 0.25, 0.5, 1, 2, 4} {
		out, _ := VoxelDownsample(points, size)
		test.That(t, len(out), test.ShouldBeLessThanOrEqualTo, prev)
		prev = len(out)
	}
	test.That(t, prev, test.ShouldBeLessThan, len(points))
}

func TestVoxelStrictDecreaseOnSharedBucket(t *testing.T) {
	points := randomCloud(5, 3)
	points = append(points, points[0])
	out, _ := VoxelDownsample(points, 1e-6)
	test.That(t, len(out), test.ShouldBeLessThan, len(points))
}

func TestPointFields(t *testing.T) {
	p := NewColoredPoint(r3.Vector{X: 1, Y: 2, Z: 3}, colorful.Color{R: 0.5, G: 0.25, B: 1}, 0.9)
	test.That(t, p.Fields(), test.ShouldResemble, []float64{1, 2, 3, 0.5, 0.25, 1, 0.9})
	back, err := PointFromFields(p.Fields())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, back, test.ShouldResemble, p)

	plain, err := PointFromFields([]float64{1, 2, 3, 0.4})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, plain.HasColor, test.ShouldBeFalse)
	r, g, b := plain.RGB255()
	test.That(t, []uint8{r, g, b}, test.ShouldResemble, []uint8{255, 255, 255})

	_, err = PointFromFields([]float64{1, 2})
	test.That(t, err, test.ShouldNotBeNil)
}
