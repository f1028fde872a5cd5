package cli

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/go-units"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/anchormap/densemap"
	"go.viam.com/anchormap/logging"
	"go.viam.com/anchormap/pointcloud"
)

const (
	extPCD  = ".pcd"
	extLAS  = ".las"
	extText = ".txt"
)

// readPoints loads a point cloud by file extension. COLMAP text files and recording archives
// both go through the points3D reader.
func readPoints(c *cli.Context, path string, logger logging.Logger) ([]pointcloud.Point, error) {
	switch {
	case strings.HasSuffix(path, densemap.ArchiveExt):
		return readArchivePoints(c, path)
	case strings.EqualFold(filepath.Ext(path), extPCD):
		//nolint:gosec
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer utils.UncheckedErrorFunc(f.Close)
		return pointcloud.ReadPCD(f)
	case strings.EqualFold(filepath.Ext(path), extLAS):
		return pointcloud.NewFromLASFile(path, logger)
	case strings.EqualFold(filepath.Ext(path), extText):
		return readCOLMAPPoints(path)
	default:
		return nil, errors.Errorf("unsupported point cloud file %q", path)
	}
}

func readCOLMAPPoints(path string) ([]pointcloud.Point, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)
	points, err := densemap.ReadPoints3D(f)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %q", path)
	}
	return densemap.ToPointCloud(points), nil
}

func readArchivePoints(c *cli.Context, path string) (points []pointcloud.Point, err error) {
	dir, err := os.MkdirTemp("", "anchormap-recording")
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, os.RemoveAll(dir))
	}()
	if err := densemap.UnpackArchive(c.Context, path, dir); err != nil {
		return nil, errors.Wrapf(err, "unpacking %q", path)
	}
	var pointsFile string
	if err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == densemap.Points3DFile {
			pointsFile = p
			return filepath.SkipAll
		}
		return nil
	}); err != nil {
		return nil, err
	}
	if pointsFile == "" {
		return nil, errors.Errorf("archive %q has no %s", path, densemap.Points3DFile)
	}
	return readCOLMAPPoints(pointsFile)
}

func writePoints(path string, points []pointcloud.Point, binary bool) (err error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case extLAS:
		return pointcloud.WriteToLASFile(points, path)
	case extPCD, extText:
	default:
		return errors.Errorf("unsupported output file %q", path)
	}

	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	if strings.EqualFold(filepath.Ext(path), extText) {
		if err := densemap.WritePointsHeader(f, false); err != nil {
			return err
		}
		return densemap.AppendPoints(f, 0, points)
	}
	return pointcloud.WriteToPCD(points, f, lo.Ternary(binary, pointcloud.PCDBinary, pointcloud.PCDAscii))
}

// transformPoints reads the input cloud, applies f and writes the output file.
func transformPoints(c *cli.Context, f func(e *env, points []pointcloud.Point) ([]pointcloud.Point, error)) (err error) {
	in, err := requireArg(c, "input file")
	if err != nil {
		return err
	}
	e, err := newEnv(c)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, e.close())
	}()
	points, err := readPoints(c, in, e.logger)
	if err != nil {
		return err
	}
	out, err := f(e, points)
	if err != nil {
		return err
	}
	outPath := c.String(flagOutput)
	if err := writePoints(outPath, out, c.Bool(flagBinary)); err != nil {
		return errors.Wrapf(err, "writing %q", outPath)
	}
	printf(c.App.Writer, "Wrote %d of %d points to %s", len(out), len(points), outPath)
	return nil
}

// PointsInfoAction is the corresponding Action for 'points info'.
func PointsInfoAction(c *cli.Context) error {
	in, err := requireArg(c, "input file")
	if err != nil {
		return err
	}
	e, err := newEnv(c)
	if err != nil {
		return err
	}
	defer utils.UncheckedErrorFunc(e.close)
	points, err := readPoints(c, in, e.logger)
	if err != nil {
		return err
	}
	var size string
	if info, err := os.Stat(in); err == nil {
		size = units.HumanSize(float64(info.Size()))
	}
	lo3, hi3 := pointcloud.Bounds(points)
	colored := lo.CountBy(points, func(p pointcloud.Point) bool { return p.HasColor })

	t := table.NewWriter()
	t.SetOutputMirror(c.App.Writer)
	t.AppendRows([]table.Row{
		{"File", in},
		{"Size", size},
		{"Points", len(points)},
		{"Colored", colored},
		{"Min", formatVec(lo3.X, lo3.Y, lo3.Z)},
		{"Max", formatVec(hi3.X, hi3.Y, hi3.Z)},
	})
	t.Render()
	return nil
}

// ConvertPointsAction is the corresponding Action for 'points convert'.
func ConvertPointsAction(c *cli.Context) error {
	return transformPoints(c, func(e *env, points []pointcloud.Point) ([]pointcloud.Point, error) {
		return points, nil
	})
}

// DownsamplePointsAction is the corresponding Action for 'points downsample'.
func DownsamplePointsAction(c *cli.Context) error {
	return transformPoints(c, func(e *env, points []pointcloud.Point) ([]pointcloud.Point, error) {
		size := c.Float64(flagVoxelSize)
		if size <= 0 {
			return nil, errors.Errorf("voxel size must be positive, got %v", size)
		}
		out, stats := pointcloud.VoxelDownsample(points, size)
		if stats.Rejected > 0 {
			warningf(c.App.ErrWriter, "dropped %d points without color", stats.Rejected)
		}
		e.logger.Debugw("downsampled", "input", stats.Input, "output", stats.Output, "rejected", stats.Rejected)
		return out, nil
	})
}

// RemoveOutliersAction is the corresponding Action for 'points outliers'.
func RemoveOutliersAction(c *cli.Context) error {
	return transformPoints(c, func(e *env, points []pointcloud.Point) ([]pointcloud.Point, error) {
		return pointcloud.RemoveStatisticalOutliers(c.Context, points, c.Int(flagNeighbors), c.Float64(flagStdMult))
	})
}
