package densemap

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"go.viam.com/utils"

	"go.viam.com/anchormap/logging"
	"go.viam.com/anchormap/rimage"
	"go.viam.com/anchormap/rimage/transform"
	"go.viam.com/anchormap/spatialmath"
	"go.viam.com/anchormap/tracking/fake"
)

func depthFrame(pose spatialmath.Pose) *fake.Frame {
	dm := rimage.NewEmptyDepthMap(4, 4)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			dm.Set(x, y, 1000)
		}
	}
	return &fake.Frame{
		Pose:   pose,
		Camera: &transform.PinholeCameraIntrinsics{Width: 4, Height: 4, Fx: 2, Fy: 2, Ppx: 2, Ppy: 2},
		Depth:  dm,
	}
}

func newTestSession(t *testing.T, cfg Config, origin spatialmath.Pose, uploader Uploader) *Session {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	cfg.Projection.SubsampleFactor = 1
	s, err := NewSession(cfg, origin, uploader, clock.NewMock(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() {
		test.That(t, s.Close(), test.ShouldBeNil)
	})
	return s
}

func waitEvent(t *testing.T, s *Session) FrameProcessed {
	t.Helper()
	select {
	case ev := <-s.Events():
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for frame event")
		return FrameProcessed{}
	}
}

func waitResult(t *testing.T, results <-chan Result) Result {
	t.Helper()
	select {
	case res := <-results:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for stop result")
		return Result{}
	}
}

// blockWorker parks the worker until the returned func is called.
func blockWorker(t *testing.T, s *Session) func() {
	t.Helper()
	release := make(chan struct{})
	test.That(t, s.enqueue(func(ctx context.Context) { <-release }), test.ShouldBeTrue)
	var once sync.Once
	return func() { once.Do(func() { close(release) }) }
}

func readPoints(t *testing.T, dir string) []Point3D {
	t.Helper()
	//nolint:gosec
	f, err := os.Open(filepath.Join(dir, Points3DFile))
	test.That(t, err, test.ShouldBeNil)
	defer utils.UncheckedErrorFunc(f.Close)
	points, err := ReadPoints3D(f)
	test.That(t, err, test.ShouldBeNil)
	return points
}

func TestNewSessionNeedsDir(t *testing.T) {
	_, err := NewSession(Config{}, nil, nil, nil, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestRecordAndUpload(t *testing.T) {
	var uploaded []string
	uploader := UploaderFunc(func(ctx context.Context, archivePath string) error {
		uploaded = append(uploaded, archivePath)
		return nil
	})
	s := newTestSession(t, Config{MapName: "lab"}, nil, uploader)

	test.That(t, s.State(), test.ShouldEqual, StateIdle)
	test.That(t, s.Start(), test.ShouldBeNil)
	test.That(t, s.State(), test.ShouldEqual, StateRecording)
	dir := s.RecordingDir()
	test.That(t, filepath.Base(dir), test.ShouldStartWith, "lab_")

	frame := depthFrame(spatialmath.NewPoseFromPoint(r3.Vector{Z: 5}))
	for i := 1; i <= 10; i++ {
		s.OnFrame(frame)
		if i%DefaultFrameSkip == 0 {
			ev := waitEvent(t, s)
			test.That(t, ev.Index, test.ShouldEqual, i/DefaultFrameSkip-1)
			test.That(t, ev.Points, test.ShouldEqual, 16)
			test.That(t, ev.Frames, test.ShouldEqual, i/DefaultFrameSkip)
		}
	}
	test.That(t, s.FrameCount(), test.ShouldEqual, 2)

	res := waitResult(t, s.Stop(context.Background()))
	test.That(t, res.Err, test.ShouldBeNil)
	test.That(t, res.Frames, test.ShouldEqual, 2)
	test.That(t, res.Points, test.ShouldEqual, 32)
	test.That(t, res.ArchivePath, test.ShouldEqual, dir+ArchiveExt)
	test.That(t, uploaded, test.ShouldResemble, []string{dir + ArchiveExt})
	test.That(t, s.State(), test.ShouldEqual, StateIdle)
	test.That(t, s.RecordingDir(), test.ShouldBeEmpty)

	_, err := os.Stat(dir)
	test.That(t, os.IsNotExist(err), test.ShouldBeTrue)

	out := t.TempDir()
	test.That(t, UnpackArchive(context.Background(), res.ArchivePath, out), test.ShouldBeNil)
	unpacked := filepath.Join(out, filepath.Base(dir))
	for _, name := range []string{CamerasFile, ImagesFile, Points3DFile} {
		_, err := os.Stat(filepath.Join(unpacked, name))
		test.That(t, err, test.ShouldBeNil)
	}
	points := readPoints(t, unpacked)
	test.That(t, len(points), test.ShouldEqual, 32)
	test.That(t, points[0].ID, test.ShouldEqual, int64(0))
	test.That(t, points[16].ID, test.ShouldEqual, int64(PointIDStride))
	for _, p := range points {
		test.That(t, p.Position.Z, test.ShouldAlmostEqual, 4)
	}

	//nolint:gosec
	images, err := os.ReadFile(filepath.Join(unpacked, ImagesFile))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(images), test.ShouldContainSubstring, "# Poses are in world coordinate system\n")
	test.That(t, string(images), test.ShouldContainSubstring, "# Number of images: 2\n")
	test.That(t, string(images), test.ShouldContainSubstring, " 1 frame_1.jpg\n")

	//nolint:gosec
	cameras, err := os.ReadFile(filepath.Join(unpacked, CamerasFile))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(cameras), test.ShouldEndWith,
		"1 PINHOLE 4 4 2.000000000 2.000000000 2.000000000 2.000000000\n")
}

func TestRecordRelativeToOrigin(t *testing.T) {
	origin := spatialmath.NewPoseFromPoint(r3.Vector{X: 1, Z: 5})
	s := newTestSession(t, Config{FrameSkip: 1, KeepRecording: true}, origin, nil)
	test.That(t, s.Start(), test.ShouldBeNil)
	dir := s.RecordingDir()

	s.OnFrame(depthFrame(spatialmath.NewPoseFromPoint(r3.Vector{X: 1, Z: 5})))
	waitEvent(t, s)
	res := waitResult(t, s.Stop(context.Background()))
	test.That(t, res.Err, test.ShouldBeNil)

	points := readPoints(t, dir)
	test.That(t, len(points), test.ShouldEqual, 16)
	for _, p := range points {
		test.That(t, p.Position.Z, test.ShouldAlmostEqual, -1)
	}
	// pixel (0,0) unprojects to (-1, 1) in the camera frame
	test.That(t, points[0].Position.X, test.ShouldAlmostEqual, -1)
	test.That(t, points[0].Position.Y, test.ShouldAlmostEqual, 1)

	//nolint:gosec
	header, err := os.ReadFile(filepath.Join(dir, Points3DFile))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(header), test.ShouldStartWith,
		"# 3D point list with one line of data per point:\n# Points are in local coordinate system relative to the origin pose\n")
}

func TestColorFramesSaveImages(t *testing.T) {
	cfg := Config{FrameSkip: 1, KeepRecording: true, Projection: transform.ProjectionConfig{IncludeColor: true}}
	s := newTestSession(t, cfg, nil, nil)
	test.That(t, s.Start(), test.ShouldBeNil)
	dir := s.RecordingDir()

	frame := depthFrame(nil)
	frame.Color = image.NewYCbCr(image.Rect(0, 0, 4, 4), image.YCbCrSubsampleRatio444)
	s.OnFrame(frame)
	waitEvent(t, s)
	res := waitResult(t, s.Stop(context.Background()))
	test.That(t, res.Err, test.ShouldBeNil)

	_, err := os.Stat(filepath.Join(dir, ImagesDir, ImageName(0)))
	test.That(t, err, test.ShouldBeNil)
	points := readPoints(t, dir)
	test.That(t, len(points), test.ShouldEqual, 16)
	// an all-zero YCbCr image is a dark green, not the white used for uncolored points
	test.That(t, points[0].R, test.ShouldNotEqual, uint8(255))
}

func TestBusyFramesAreDropped(t *testing.T) {
	s := newTestSession(t, Config{FrameSkip: 1}, nil, nil)
	test.That(t, s.Start(), test.ShouldBeNil)
	release := blockWorker(t, s)
	defer release()

	frame := depthFrame(nil)
	s.OnFrame(frame)
	s.OnFrame(frame)
	s.OnFrame(frame)
	test.That(t, s.FrameCount(), test.ShouldEqual, 1)
	test.That(t, s.DroppedFrames(), test.ShouldEqual, 2)

	release()
	waitEvent(t, s)
	s.OnFrame(frame)
	waitEvent(t, s)
	test.That(t, s.FrameCount(), test.ShouldEqual, 2)
}

func TestUnusableFramesAreSkipped(t *testing.T) {
	s := newTestSession(t, Config{FrameSkip: 1}, nil, nil)
	test.That(t, s.Start(), test.ShouldBeNil)

	panicking := depthFrame(nil)
	panicking.PanicOnPose = true
	s.OnFrame(panicking)

	noDepth := depthFrame(nil)
	noDepth.Depth = nil
	s.OnFrame(noDepth)

	noIntrinsics := depthFrame(nil)
	noIntrinsics.Camera = nil
	s.OnFrame(noIntrinsics)

	test.That(t, s.FrameCount(), test.ShouldEqual, 0)
	test.That(t, s.DroppedFrames(), test.ShouldEqual, 0)

	s.OnFrame(depthFrame(nil))
	ev := waitEvent(t, s)
	test.That(t, ev.Index, test.ShouldEqual, 0)
}

func TestPauseAndResume(t *testing.T) {
	s := newTestSession(t, Config{FrameSkip: 1}, nil, nil)
	frame := depthFrame(nil)

	s.OnFrame(frame)
	test.That(t, s.FrameCount(), test.ShouldEqual, 0)

	test.That(t, s.Start(), test.ShouldBeNil)
	s.Pause()
	test.That(t, s.State(), test.ShouldEqual, StatePaused)
	s.OnFrame(frame)
	test.That(t, s.FrameCount(), test.ShouldEqual, 0)

	s.Resume()
	test.That(t, s.State(), test.ShouldEqual, StateRecording)
	s.OnFrame(frame)
	waitEvent(t, s)

	s.Pause()
	test.That(t, s.Start(), test.ShouldBeNil)
	test.That(t, s.State(), test.ShouldEqual, StateRecording)
	s.OnFrame(frame)
	ev := waitEvent(t, s)
	test.That(t, ev.Index, test.ShouldEqual, 1)
}

func TestStopStates(t *testing.T) {
	s := newTestSession(t, Config{}, nil, nil)
	res := waitResult(t, s.Stop(context.Background()))
	test.That(t, res.Err, test.ShouldBeError, ErrNotRecording)

	test.That(t, s.Start(), test.ShouldBeNil)
	release := blockWorker(t, s)
	results := s.Stop(context.Background())
	test.That(t, s.State(), test.ShouldEqual, StateFinalizing)
	test.That(t, s.Start(), test.ShouldBeError, ErrFinalizing)
	again := waitResult(t, s.Stop(context.Background()))
	test.That(t, again.Err, test.ShouldBeError, ErrFinalizing)

	release()
	res = waitResult(t, results)
	test.That(t, res.Err, test.ShouldBeNil)
	test.That(t, res.Frames, test.ShouldEqual, 0)
	test.That(t, s.State(), test.ShouldEqual, StateIdle)

	// no uploader: the archive is left in place
	_, err := os.Stat(res.ArchivePath)
	test.That(t, err, test.ShouldBeNil)
}

func TestUploadFailureKeepsRecording(t *testing.T) {
	uploader := UploaderFunc(func(ctx context.Context, archivePath string) error {
		return os.ErrPermission
	})
	s := newTestSession(t, Config{}, nil, uploader)
	test.That(t, s.Start(), test.ShouldBeNil)
	dir := s.RecordingDir()

	res := waitResult(t, s.Stop(context.Background()))
	test.That(t, res.Err, test.ShouldNotBeNil)
	test.That(t, res.Err.Error(), test.ShouldContainSubstring, "uploading recording")
	test.That(t, res.ArchivePath, test.ShouldEqual, dir+ArchiveExt)
	_, err := os.Stat(dir)
	test.That(t, err, test.ShouldBeNil)
}

func TestRecordingDirsAreUnique(t *testing.T) {
	s := newTestSession(t, Config{MapName: "a/b", KeepRecording: true}, nil, nil)
	test.That(t, s.Start(), test.ShouldBeNil)
	first := s.RecordingDir()
	test.That(t, strings.HasPrefix(filepath.Base(first), "a_b_"), test.ShouldBeTrue)
	test.That(t, waitResult(t, s.Stop(context.Background())).Err, test.ShouldBeNil)

	test.That(t, s.Start(), test.ShouldBeNil)
	second := s.RecordingDir()
	test.That(t, second, test.ShouldEqual, first+"_1")
	test.That(t, waitResult(t, s.Stop(context.Background())).Err, test.ShouldBeNil)
}

func TestClose(t *testing.T) {
	s, err := NewSession(Config{Dir: t.TempDir()}, nil, nil, clock.NewMock(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.Close(), test.ShouldBeNil)
	test.That(t, s.Close(), test.ShouldBeNil)

	_, open := <-s.Events()
	test.That(t, open, test.ShouldBeFalse)
	test.That(t, s.Start(), test.ShouldBeError, ErrClosed)
}
