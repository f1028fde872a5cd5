package densemap

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"

	"go.viam.com/anchormap/pointcloud"
	"go.viam.com/anchormap/rimage/transform"
	"go.viam.com/anchormap/spatialmath"
)

// File names of a COLMAP text model.
const (
	CamerasFile  = "cameras.txt"
	ImagesFile   = "images.txt"
	Points3DFile = "points3D.txt"
	ImagesDir    = "images"
)

// PointIDStride separates the point ids of consecutive frames.
const PointIDStride = 1000000

// MinPointError is the smallest reprojection error written for a point.
const MinPointError = 0.1

// DefaultCameraIntrinsics are written when no frame ever reported intrinsics.
func DefaultCameraIntrinsics() *transform.PinholeCameraIntrinsics {
	return &transform.PinholeCameraIntrinsics{Width: 480, Height: 640, Fx: 480, Fy: 480, Ppx: 240, Ppy: 320}
}

// ImageName is the file name of the color image saved for a frame.
func ImageName(frameIndex int) string {
	return fmt.Sprintf("frame_%d.jpg", frameIndex)
}

// PointID is the id of the i-th point of a frame.
func PointID(frameIndex, i int) int64 {
	return int64(frameIndex)*PointIDStride + int64(i)
}

// PointError converts a confidence in [0, 1] to a COLMAP error, floored at MinPointError.
func PointError(confidence float64) float64 {
	return math.Max(MinPointError, 1-confidence)
}

// WriteCameras writes a cameras file with a single PINHOLE camera with id 1.
func WriteCameras(w io.Writer, intrinsics *transform.PinholeCameraIntrinsics) error {
	if intrinsics == nil {
		intrinsics = DefaultCameraIntrinsics()
	}
	_, err := fmt.Fprintf(w,
		"# Camera list with one line of data per camera:\n"+
			"#   CAMERA_ID, MODEL, WIDTH, HEIGHT, PARAMS[]\n"+
			"# Number of cameras: 1\n"+
			"1 PINHOLE %d %d %.9f %.9f %.9f %.9f\n",
		intrinsics.Width, intrinsics.Height, intrinsics.Fx, intrinsics.Fy, intrinsics.Ppx, intrinsics.Ppy)
	return err
}

// ImagePose is the camera pose recorded for one saved frame.
type ImagePose struct {
	FrameIndex int
	Pose       spatialmath.Pose
}

func frameComment(local bool) string {
	if local {
		return "in local coordinate system relative to the origin pose"
	}
	return "in world coordinate system"
}

// WriteImages writes an images file: a pose line and a placeholder keypoint line per image.
// Quaternions are written w first.
func WriteImages(w io.Writer, poses []ImagePose, local bool) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# Image list with two lines of data per image:\n")
	fmt.Fprintf(bw, "# Poses are %s\n", frameComment(local))
	fmt.Fprintf(bw, "#   IMAGE_ID, QW, QX, QY, QZ, TX, TY, TZ, CAMERA_ID, NAME\n")
	fmt.Fprintf(bw, "#   POINTS2D[] as (X, Y, POINT3D_ID)\n")
	fmt.Fprintf(bw, "# Number of images: %d\n", len(poses))
	for _, p := range poses {
		q := spatialmath.QuatToWXYZ(p.Pose.Orientation().Quaternion())
		t := p.Pose.Point()
		fmt.Fprintf(bw, "%d %.9f %.9f %.9f %.9f %.9f %.9f %.9f 1 %s\n",
			p.FrameIndex, q[0], q[1], q[2], q[3], t.X, t.Y, t.Z, ImageName(p.FrameIndex))
		fmt.Fprintf(bw, "0 0 -1\n")
	}
	return bw.Flush()
}

// WritePointsHeader writes the comment block that starts a points file.
func WritePointsHeader(w io.Writer, local bool) error {
	_, err := fmt.Fprintf(w,
		"# 3D point list with one line of data per point:\n"+
			"# Points are %s\n"+
			"# POINT3D_ID, X, Y, Z, R, G, B, ERROR, TRACK[] as (IMAGE_ID, POINT2D_IDX)\n",
		frameComment(local))
	return err
}

// AppendPoints writes one line per point of a frame. Each point's track is the frame itself.
func AppendPoints(w io.Writer, frameIndex int, points []pointcloud.Point) error {
	bw := bufio.NewWriter(w)
	for i, p := range points {
		r, g, b := p.RGB255()
		fmt.Fprintf(bw, "%d %.6f %.6f %.6f %d %d %d %.6f %d %d\n",
			PointID(frameIndex, i),
			p.Position.X, p.Position.Y, p.Position.Z,
			r, g, b,
			PointError(p.Confidence),
			frameIndex, i)
	}
	return bw.Flush()
}

// Point3D is one parsed line of a points file.
type Point3D struct {
	ID         int64
	Position   r3.Vector
	R, G, B    uint8
	Error      float64
	ImageID    int
	Point2DIdx int
}

// ReadPoints3D parses a points file, skipping comments and blank lines.
func ReadPoints3D(r io.Reader) ([]Point3D, error) {
	var points []Point3D
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 8 {
			return nil, errors.Errorf("line %d: expected at least 8 fields, got %d", lineNum, len(fields))
		}
		p, err := parsePoint3D(fields)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", lineNum)
		}
		points = append(points, p)
	}
	return points, scanner.Err()
}

func parsePoint3D(fields []string) (Point3D, error) {
	var p Point3D
	var err error
	if p.ID, err = strconv.ParseInt(fields[0], 10, 64); err != nil {
		return p, err
	}
	var xyz [3]float64
	for i := range xyz {
		if xyz[i], err = strconv.ParseFloat(fields[1+i], 64); err != nil {
			return p, err
		}
	}
	p.Position = r3.Vector{X: xyz[0], Y: xyz[1], Z: xyz[2]}
	var rgb [3]uint64
	for i := range rgb {
		if rgb[i], err = strconv.ParseUint(fields[4+i], 10, 8); err != nil {
			return p, err
		}
	}
	p.R, p.G, p.B = uint8(rgb[0]), uint8(rgb[1]), uint8(rgb[2])
	if p.Error, err = strconv.ParseFloat(fields[7], 64); err != nil {
		return p, err
	}
	if len(fields) >= 10 {
		if p.ImageID, err = strconv.Atoi(fields[8]); err != nil {
			return p, err
		}
		if p.Point2DIdx, err = strconv.Atoi(fields[9]); err != nil {
			return p, err
		}
	}
	return p, nil
}

// ToPointCloud converts parsed points to a point cloud. Confidence is recovered from the error,
// so points written with the minimum error come back with confidence 0.9.
func ToPointCloud(points []Point3D) []pointcloud.Point {
	out := make([]pointcloud.Point, len(points))
	for i, p := range points {
		c := colorful.Color{R: float64(p.R) / 255, G: float64(p.G) / 255, B: float64(p.B) / 255}
		out[i] = pointcloud.NewColoredPoint(p.Position, c, 1-p.Error)
	}
	return out
}
