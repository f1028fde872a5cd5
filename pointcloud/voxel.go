package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/lucasb-eyer/go-colorful"
)

// VoxelCoords stores Voxel coordinates in VoxelGrid axes.
type VoxelCoords struct {
	I, J, K int64
}

// GetVoxelCoordinates returns the voxel containing pt for a grid of cubes with edge voxelSize
// anchored at the world origin.
func GetVoxelCoordinates(pt r3.Vector, voxelSize float64) VoxelCoords {
	return VoxelCoords{
		I: int64(math.Floor(pt.X / voxelSize)),
		J: int64(math.Floor(pt.Y / voxelSize)),
		K: int64(math.Floor(pt.Z / voxelSize)),
	}
}

// voxel accumulates the running sums of the points that fell into it.
type voxel struct {
	count      int
	position   r3.Vector
	r, g, b    float64
	confidence float64
}

func (v *voxel) add(p Point) {
	v.count++
	v.position = v.position.Add(p.Position)
	v.r += p.Color.R
	v.g += p.Color.G
	v.b += p.Color.B
	v.confidence += p.Confidence
}

func (v *voxel) centroid() Point {
	n := float64(v.count)
	return NewColoredPoint(
		v.position.Mul(1/n),
		colorful.Color{R: v.r / n, G: v.g / n, B: v.b / n},
		v.confidence/n,
	)
}

// VoxelStats describes a downsampling pass.
type VoxelStats struct {
	Input    int
	Rejected int
	Output   int
}

// VoxelDownsample replaces the points of each occupied voxel with their centroid, averaging
// position, color and confidence. Points without color are rejected. Output follows the order in
// which voxels were first hit. A non-positive voxelSize returns points untouched.
func VoxelDownsample(points []Point, voxelSize float64) ([]Point, VoxelStats) {
	stats := VoxelStats{Input: len(points)}
	if voxelSize <= 0 || len(points) == 0 {
		stats.Output = len(points)
		return points, stats
	}

	grid := make(map[VoxelCoords]*voxel, len(points)/4+1)
	order := make([]VoxelCoords, 0, len(points)/4+1)
	for _, p := range points {
		if !p.HasColor {
			stats.Rejected++
			continue
		}
		key := GetVoxelCoordinates(p.Position, voxelSize)
		v, ok := grid[key]
		if !ok {
			v = &voxel{}
			grid[key] = v
			order = append(order, key)
		}
		v.add(p)
	}

	out := make([]Point, 0, len(order))
	for _, key := range order {
		out = append(out, grid[key].centroid())
	}
	stats.Output = len(out)
	return out, stats
}
