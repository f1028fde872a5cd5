package transform

import (
	"context"
	"image"
	"runtime"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"go.viam.com/anchormap/pointcloud"
	"go.viam.com/anchormap/rimage"
	"go.viam.com/anchormap/spatialmath"
)

const mmToMeters = 0.001

// ProjectionConfig controls how a depth frame becomes a point cloud.
type ProjectionConfig struct {
	// ConfidenceThreshold in [0, 1]. Pixels whose confidence is strictly below it are dropped.
	ConfidenceThreshold float64
	// SubsampleFactor is the pixel step in both directions; values below 1 mean 1.
	SubsampleFactor  int
	IncludeColor     bool
	MedianFilter     bool
	MedianKernelSize int
}

// DefaultProjectionConfig returns the settings used for dense mapping.
func DefaultProjectionConfig() ProjectionConfig {
	return ProjectionConfig{
		ConfidenceThreshold: 0.5,
		SubsampleFactor:     1,
		IncludeColor:        true,
		MedianFilter:        true,
		MedianKernelSize:    7,
	}
}

// DepthFrame is one synchronized sensor sample. Confidence and Color are optional.
type DepthFrame struct {
	Depth      *rimage.DepthMap
	Confidence *image.Gray
	Color      *image.YCbCr
	// Intrinsics are expressed at the color image resolution.
	Intrinsics *PinholeCameraIntrinsics
	CameraPose spatialmath.Pose
}

// DepthToPointCloud unprojects every valid depth pixel of frame into world space. Zero depth is
// always skipped. Missing confidence counts as full confidence. Points carry white unless color is
// requested and present. Rows are projected in parallel but points come back in row-major order.
func DepthToPointCloud(ctx context.Context, frame DepthFrame, cfg ProjectionConfig) ([]pointcloud.Point, error) {
	if frame.Depth == nil {
		return nil, errors.New("depth frame has no depth map")
	}
	if err := frame.Intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	step := cfg.SubsampleFactor
	if step < 1 {
		step = 1
	}

	depth := frame.Depth
	if cfg.MedianFilter {
		depth = rimage.MedianFilter(depth, cfg.MedianKernelSize)
	}
	intrinsics := frame.Intrinsics.ScaledTo(depth.Width(), depth.Height())

	cameraPose := frame.CameraPose
	if cameraPose == nil {
		cameraPose = spatialmath.NewZeroPose()
	}
	cameraToWorld := spatialmath.PoseToMatrix(cameraPose)

	var color *image.YCbCr
	if cfg.IncludeColor && frame.Color != nil && !frame.Color.Bounds().Empty() {
		color = frame.Color
	}

	numRows := (depth.Height() + step - 1) / step
	rows := make([][]pointcloud.Point, numRows)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(runtime.NumCPU())
	for i := 0; i < numRows; i++ {
		row := i
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			rows[row] = projectRow(row*step, step, depth, frame.Confidence, color, intrinsics, cameraToWorld, cfg)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, r := range rows {
		total += len(r)
	}
	points := make([]pointcloud.Point, 0, total)
	for _, r := range rows {
		points = append(points, r...)
	}
	return points, nil
}

func projectRow(
	y, step int,
	depth *rimage.DepthMap,
	confidence *image.Gray,
	color *image.YCbCr,
	intrinsics *PinholeCameraIntrinsics,
	cameraToWorld mgl64.Mat4,
	cfg ProjectionConfig,
) []pointcloud.Point {
	var points []pointcloud.Point
	for x := 0; x < depth.Width(); x += step {
		// pixels past the end of a padded buffer read as 0
		d := depth.GetDepth(x, y)
		if d == 0 {
			continue
		}

		conf := 1.0
		if confidence != nil {
			c, ok := confidenceAt(confidence, x, y)
			if !ok {
				continue
			}
			conf = c
			if conf < cfg.ConfidenceThreshold {
				continue
			}
		}

		cam := intrinsics.PixelToPoint(float64(x), float64(y), float64(d)*mmToMeters)
		world := cameraToWorld.Mul4x1(mgl64.Vec4{cam.X, cam.Y, cam.Z, 1})

		pt := pointcloud.Point{
			Position:   r3.Vector{X: world[0], Y: world[1], Z: world[2]},
			Color:      rimage.White,
			HasColor:   true,
			Confidence: conf,
		}
		if color != nil {
			b := color.Bounds()
			colorX := x * b.Dx() / depth.Width()
			colorY := y * b.Dy() / depth.Height()
			if c, ok := rimage.ColorAt(color, colorX, colorY); ok {
				pt.Color = c
			}
		}
		points = append(points, pt)
	}
	return points
}

// confidenceAt reads the confidence of depth pixel (x, y). Pixels outside a confidence image
// smaller than the depth map have no confidence.
func confidenceAt(img *image.Gray, x, y int) (float64, bool) {
	b := img.Bounds()
	if x < 0 || y < 0 || x >= b.Dx() || y >= b.Dy() {
		return 0, false
	}
	i := img.PixOffset(b.Min.X+x, b.Min.Y+y)
	if i < 0 || i >= len(img.Pix) {
		return 0, false
	}
	return float64(img.Pix[i]) / 255, true
}
