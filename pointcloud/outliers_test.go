package pointcloud

import (
	"context"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/lucasb-eyer/go-colorful"
	"go.viam.com/test"
)

func gridCloud() []Point {
	var points []Point
	for x := 0; x < 5; x++ {
		for y := 0; y < 5; y++ {
			points = append(points, NewColoredPoint(r3.Vector{X: float64(x) * 0.1, Y: float64(y) * 0.1}, white, 1))
		}
	}
	return points
}

var white = colorful.Color{R: 1, G: 1, B: 1}

func TestRemoveStatisticalOutliers(t *testing.T) {
	points := append(gridCloud(), NewColoredPoint(r3.Vector{X: 50, Y: 50, Z: 50}, white, 1))
	out, err := RemoveStatisticalOutliers(context.Background(), points, 4, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(out), test.ShouldBeLessThan, len(points))
	for _, p := range out {
		test.That(t, p.Position.X, test.ShouldBeLessThan, 1)
	}
}

func TestRemoveStatisticalOutliersSmallCloud(t *testing.T) {
	points := gridCloud()[:11]
	out, err := RemoveStatisticalOutliers(context.Background(), points, DefaultOutlierNeighbors, DefaultOutlierStdDevMult)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldResemble, points)

	_, err = RemoveStatisticalOutliers(context.Background(), points, 0, 1)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestRemoveStatisticalOutliersCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := RemoveStatisticalOutliers(ctx, gridCloud(), 3, 1)
	test.That(t, err, test.ShouldBeError, context.Canceled)
}
