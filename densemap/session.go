// Package densemap records depth frames from a tracking session into a COLMAP text model and
// packages each recording for upload.
package densemap

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/anchormap/logging"
	"go.viam.com/anchormap/pointcloud"
	"go.viam.com/anchormap/rimage"
	"go.viam.com/anchormap/rimage/transform"
	"go.viam.com/anchormap/spatialmath"
	"go.viam.com/anchormap/tracking"
)

// State is the recording state of a Session.
type State int32

// The states a Session moves through.
const (
	StateIdle State = iota
	StateRecording
	StatePaused
	StateFinalizing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StatePaused:
		return "paused"
	case StateFinalizing:
		return "finalizing"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

var (
	// ErrNotRecording is the result of stopping a session that is idle.
	ErrNotRecording = errors.New("not recording")
	// ErrFinalizing is returned while a stopped recording is still being packaged.
	ErrFinalizing = errors.New("recording is being finalized")
	// ErrClosed is returned once the session has been closed.
	ErrClosed = errors.New("dense mapping session closed")
)

const (
	// DefaultFrameSkip processes one of every DefaultFrameSkip incoming frames.
	DefaultFrameSkip = 5
	// DefaultEventBuffer is the capacity of the Events channel.
	DefaultEventBuffer = 32
	// DefaultMapName names recordings when the config has none.
	DefaultMapName = "map"

	recordingTimeFormat = "20060102_150405"
	jobQueueSize        = 16
)

// Config controls a Session.
type Config struct {
	// Dir is where recording directories and archives are created.
	Dir        string
	MapName    string
	FrameSkip  int
	Projection transform.ProjectionConfig
	// VoxelSize downsamples each colored frame before it is written; 0 disables it.
	VoxelSize float64
	// EventBuffer is the Events channel capacity. Events that do not fit are dropped.
	EventBuffer int
	// KeepRecording keeps the recording directory after a successful upload.
	KeepRecording bool
}

// FrameProcessed is sent on Events after a frame's points have been written.
type FrameProcessed struct {
	Index  int
	Points int
	// Frames is the number of frames written so far in this recording.
	Frames int
}

// Result is the terminal outcome of Stop.
type Result struct {
	ArchivePath string
	Frames      int
	Points      int
	Err         error
}

type sample struct {
	pose       spatialmath.Pose
	intrinsics *transform.PinholeCameraIntrinsics
	depth      *rimage.DepthMap
	confidence *image.Gray
	color      *image.YCbCr
}

// Session turns every Nth tracking frame into colored points written to a COLMAP text model.
// OnFrame never blocks on I/O: frames are processed on a single worker in arrival order, and a
// frame arriving while the previous one is still being processed is dropped. Points and camera
// poses are written relative to origin when one is given, otherwise in world coordinates.
type Session struct {
	cfg      Config
	origin   spatialmath.Pose
	uploader Uploader
	clock    clock.Clock
	logger   logging.Logger

	mu           sync.Mutex
	state        atomic.Int32
	recordingDir string

	frameCounter atomic.Int64
	nextIndex    atomic.Int64
	dropped      atomic.Int64
	busy         atomic.Bool

	jobsMu sync.Mutex
	closed bool
	jobs   chan func(ctx context.Context)
	events chan FrameProcessed

	workerCtx     context.Context
	cancelWorker  func()
	activeWorkers sync.WaitGroup

	// owned by the worker
	dir         string
	pointsFile  *os.File
	poses       []ImagePose
	intrinsics  *transform.PinholeCameraIntrinsics
	totalPoints int
	ioErr       error
}

// NewSession returns an idle session. origin and uploader may be nil; without an uploader the
// archive is left next to the recording directory.
func NewSession(cfg Config, origin spatialmath.Pose, uploader Uploader, clk clock.Clock, logger logging.Logger) (*Session, error) {
	if cfg.Dir == "" {
		return nil, errors.New("dense mapping needs a recording directory")
	}
	if cfg.FrameSkip <= 0 {
		cfg.FrameSkip = DefaultFrameSkip
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultEventBuffer
	}
	if cfg.MapName == "" {
		cfg.MapName = DefaultMapName
	}
	if clk == nil {
		clk = clock.New()
	}
	if origin != nil {
		logger.Debugw("recording relative to origin", "origin", origin.Point())
	} else {
		logger.Debug("no origin pose, recording in world coordinates")
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:          cfg,
		origin:       origin,
		uploader:     uploader,
		clock:        clk,
		logger:       logger,
		jobs:         make(chan func(ctx context.Context), jobQueueSize),
		events:       make(chan FrameProcessed, cfg.EventBuffer),
		workerCtx:    workerCtx,
		cancelWorker: cancel,
	}
	s.activeWorkers.Add(1)
	utils.PanicCapturingGo(func() {
		defer s.activeWorkers.Done()
		for job := range s.jobs {
			s.runJob(job)
		}
	})
	return s, nil
}

func (s *Session) runJob(job func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("dense mapping job panicked", "panic", r)
		}
	}()
	job(s.workerCtx)
}

func (s *Session) enqueue(job func(ctx context.Context)) bool {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	if s.closed {
		return false
	}
	s.jobs <- job
	return true
}

// State returns the current recording state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Events delivers a FrameProcessed for every written frame. It is closed by Close.
func (s *Session) Events() <-chan FrameProcessed {
	return s.events
}

// FrameCount is the number of frames accepted in the current recording.
func (s *Session) FrameCount() int {
	return int(s.nextIndex.Load())
}

// DroppedFrames is the number of frames dropped because the previous one was still in flight.
func (s *Session) DroppedFrames() int {
	return int(s.dropped.Load())
}

// RecordingDir is the directory of the current recording, empty when idle.
func (s *Session) RecordingDir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordingDir
}

// Start begins a new recording when idle, or continues a paused one. The skip counter is reset
// either way; frame indices keep counting within a recording so ids stay unique.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.State() {
	case StateRecording:
		return nil
	case StateFinalizing:
		return ErrFinalizing
	case StatePaused:
		s.frameCounter.Store(0)
		s.state.Store(int32(StateRecording))
		s.logger.Info("restarted paused dense mapping recording")
		return nil
	case StateIdle:
	}

	dir, err := s.newRecordingDir()
	if err != nil {
		return err
	}
	if !s.enqueue(func(ctx context.Context) { s.beginRecording(dir) }) {
		return ErrClosed
	}
	s.recordingDir = dir
	s.frameCounter.Store(0)
	s.nextIndex.Store(0)
	s.dropped.Store(0)
	s.state.Store(int32(StateRecording))
	s.logger.Infow("started dense mapping recording", "dir", dir)
	return nil
}

func (s *Session) newRecordingDir() (string, error) {
	name := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, s.cfg.MapName)
	base := filepath.Join(s.cfg.Dir, fmt.Sprintf("%s_%s", name, s.clock.Now().Format(recordingTimeFormat)))
	dir := base
	for i := 1; ; i++ {
		if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
			break
		}
		dir = fmt.Sprintf("%s_%d", base, i)
	}
	if err := os.MkdirAll(filepath.Join(dir, ImagesDir), 0o750); err != nil {
		return "", errors.Wrap(err, "creating recording directory")
	}
	return dir, nil
}

// Pause stops accepting frames. It does nothing unless recording.
func (s *Session) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.CompareAndSwap(int32(StateRecording), int32(StatePaused)) {
		s.logger.Info("paused dense mapping recording")
	}
}

// Resume continues a paused recording. It does nothing unless paused.
func (s *Session) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.CompareAndSwap(int32(StatePaused), int32(StateRecording)) {
		s.logger.Info("resumed dense mapping recording")
	}
}

// OnFrame offers a tracking frame to the recording. It is meant to be called from the tracking
// update loop and only does sensor acquisition before handing off to the worker.
func (s *Session) OnFrame(frame tracking.Frame) {
	if s.State() != StateRecording {
		return
	}
	if s.frameCounter.Inc()%int64(s.cfg.FrameSkip) != 0 {
		return
	}
	if !s.busy.CompareAndSwap(false, true) {
		s.dropped.Inc()
		return
	}
	smp, ok := s.acquire(frame)
	if !ok {
		s.busy.Store(false)
		return
	}
	index := int(s.nextIndex.Inc() - 1)
	if !s.enqueue(func(ctx context.Context) {
		defer s.busy.Store(false)
		ev, ok := s.processFrame(ctx, index, smp)
		// release the slot before the event is observable
		s.busy.Store(false)
		if ok {
			select {
			case s.events <- ev:
			default:
			}
		}
	}) {
		s.busy.Store(false)
	}
}

func (s *Session) acquire(frame tracking.Frame) (smp sample, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("panic acquiring frame", "panic", r)
			ok = false
		}
	}()
	var err error
	if smp.intrinsics, err = frame.Intrinsics(); err != nil {
		s.logger.Warnw("skipping frame without intrinsics", "error", err)
		return smp, false
	}
	if smp.depth, err = frame.AcquireDepthImage(); err != nil {
		if errors.Is(err, tracking.ErrNotYetAvailable) {
			s.logger.Debug("depth image not yet available, skipping frame")
		} else {
			s.logger.Warnw("failed to acquire depth image, skipping frame", "error", err)
		}
		return smp, false
	}
	if smp.confidence, err = frame.AcquireConfidenceImage(); err != nil {
		s.logger.Warnw("failed to acquire confidence image, using full confidence", "error", err)
		smp.confidence = nil
	}
	if smp.color, err = frame.AcquireColorImage(); err != nil {
		s.logger.Debugw("no color image for frame", "error", err)
		smp.color = nil
	}
	smp.pose = frame.CameraPose()
	return smp, true
}

func (s *Session) beginRecording(dir string) {
	s.closePointsFile()
	s.dir = dir
	s.poses = nil
	s.intrinsics = nil
	s.totalPoints = 0
	s.ioErr = nil

	//nolint:gosec
	f, err := os.OpenFile(filepath.Join(dir, Points3DFile), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
	if err != nil {
		s.recordIOError(errors.Wrap(err, "creating points file"))
		return
	}
	s.pointsFile = f
	if err := WritePointsHeader(f, s.origin != nil); err != nil {
		s.recordIOError(errors.Wrap(err, "writing points header"))
	}
}

func (s *Session) recordIOError(err error) {
	s.logger.Errorw("dense mapping write failed", "error", err)
	s.ioErr = multierr.Append(s.ioErr, err)
}

func (s *Session) closePointsFile() {
	if s.pointsFile == nil {
		return
	}
	if err := s.pointsFile.Close(); err != nil {
		s.recordIOError(errors.Wrap(err, "closing points file"))
	}
	s.pointsFile = nil
}

func (s *Session) processFrame(ctx context.Context, index int, smp sample) (FrameProcessed, bool) {
	if s.dir == "" {
		// raced with Stop
		return FrameProcessed{}, false
	}
	cameraPose := smp.pose
	if s.origin != nil {
		cameraPose = spatialmath.PoseBetween(s.origin, smp.pose)
	}
	points, err := transform.DepthToPointCloud(ctx, transform.DepthFrame{
		Depth:      smp.depth,
		Confidence: smp.confidence,
		Color:      smp.color,
		Intrinsics: smp.intrinsics,
		CameraPose: cameraPose,
	}, s.cfg.Projection)
	if err != nil {
		s.logger.Warnw("failed to project frame", "frame", index, "error", err)
		return FrameProcessed{}, false
	}
	if s.cfg.VoxelSize > 0 && smp.color != nil && s.cfg.Projection.IncludeColor {
		var stats pointcloud.VoxelStats
		points, stats = pointcloud.VoxelDownsample(points, s.cfg.VoxelSize)
		s.logger.Debugw("downsampled frame", "frame", index, "input", stats.Input, "output", stats.Output, "rejected", stats.Rejected)
	}

	if smp.color != nil {
		if err := rimage.WriteImageToFile(filepath.Join(s.dir, ImagesDir, ImageName(index)), smp.color); err != nil {
			s.recordIOError(err)
		}
	}
	if s.pointsFile != nil {
		if err := AppendPoints(s.pointsFile, index, points); err != nil {
			s.recordIOError(errors.Wrapf(err, "appending points of frame %d", index))
		}
	}
	s.poses = append(s.poses, ImagePose{FrameIndex: index, Pose: cameraPose})
	s.intrinsics = smp.intrinsics
	s.totalPoints += len(points)

	s.logger.Debugw("processed frame", "frame", index, "points", len(points))
	return FrameProcessed{Index: index, Points: len(points), Frames: len(s.poses)}, true
}

// Stop finishes the recording: the camera and image files are written, the recording directory
// is packed into an archive next to it and the archive is uploaded. Frames queued before Stop are
// written first. The returned channel receives exactly one Result and the session is idle again
// by then.
func (s *Session) Stop(ctx context.Context) <-chan Result {
	result := make(chan Result, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.State() {
	case StateIdle:
		result <- Result{Err: ErrNotRecording}
		return result
	case StateFinalizing:
		result <- Result{Err: ErrFinalizing}
		return result
	case StateRecording, StatePaused:
	}

	s.state.Store(int32(StateFinalizing))
	s.logger.Info("stopping dense mapping recording")
	dir := s.recordingDir
	if !s.enqueue(func(workerCtx context.Context) {
		jobCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		defer context.AfterFunc(workerCtx, cancel)()
		res := s.finalize(jobCtx, dir)
		s.dir = ""

		s.mu.Lock()
		s.recordingDir = ""
		s.state.Store(int32(StateIdle))
		s.mu.Unlock()
		result <- res
	}) {
		s.recordingDir = ""
		s.state.Store(int32(StateIdle))
		result <- Result{Err: ErrClosed}
	}
	return result
}

func (s *Session) finalize(ctx context.Context, dir string) Result {
	s.closePointsFile()
	res := Result{Frames: len(s.poses), Points: s.totalPoints}

	if err := s.writeModelFile(filepath.Join(dir, CamerasFile), func(f *os.File) error {
		return WriteCameras(f, s.intrinsics)
	}); err != nil {
		s.recordIOError(err)
	}
	if err := s.writeModelFile(filepath.Join(dir, ImagesFile), func(f *os.File) error {
		return WriteImages(f, s.poses, s.origin != nil)
	}); err != nil {
		s.recordIOError(err)
	}

	archive := dir + ArchiveExt
	if err := PackDir(ctx, dir, archive); err != nil {
		res.Err = multierr.Combine(s.ioErr, err)
		s.logger.Errorw("failed to package recording", "error", res.Err)
		return res
	}
	res.ArchivePath = archive
	if s.ioErr != nil {
		res.Err = errors.Wrap(s.ioErr, "recording had write errors, not uploading")
		s.logger.Errorw("finished recording with errors", "archive", archive, "error", s.ioErr)
		return res
	}

	if s.uploader != nil {
		if err := s.uploader.Upload(ctx, archive); err != nil {
			res.Err = errors.Wrap(err, "uploading recording")
			s.logger.Errorw("failed to upload recording", "archive", archive, "error", err)
			return res
		}
		if !s.cfg.KeepRecording {
			if err := os.RemoveAll(dir); err != nil {
				s.logger.Warnw("failed to remove uploaded recording", "dir", dir, "error", err)
			}
		}
	}
	s.logger.Infow("finished dense mapping recording", "archive", archive, "frames", res.Frames, "points", res.Points)
	return res
}

func (s *Session) writeModelFile(path string, write func(f *os.File) error) (err error) {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %q", path)
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return errors.Wrapf(write(f), "writing %q", path)
}

// Close stops the worker after it drains queued work. Pending Stop calls still get a Result,
// with any upload canceled.
func (s *Session) Close() error {
	s.jobsMu.Lock()
	if s.closed {
		s.jobsMu.Unlock()
		return nil
	}
	s.closed = true
	close(s.jobs)
	s.jobsMu.Unlock()

	s.cancelWorker()
	s.activeWorkers.Wait()
	close(s.events)
	s.closePointsFile()
	return nil
}
