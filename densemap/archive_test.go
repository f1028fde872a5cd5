package densemap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

func TestPackAndUnpack(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "lab_20240102_030405")
	test.That(t, os.MkdirAll(filepath.Join(dir, ImagesDir), 0o750), test.ShouldBeNil)
	test.That(t, os.WriteFile(filepath.Join(dir, CamerasFile), []byte("cameras"), 0o600), test.ShouldBeNil)
	test.That(t, os.WriteFile(filepath.Join(dir, ImagesDir, ImageName(3)), []byte("jpeg"), 0o600), test.ShouldBeNil)

	archive := dir + ArchiveExt
	test.That(t, PackDir(context.Background(), dir, archive), test.ShouldBeNil)

	out := t.TempDir()
	test.That(t, UnpackArchive(context.Background(), archive, out), test.ShouldBeNil)
	//nolint:gosec
	data, err := os.ReadFile(filepath.Join(out, "lab_20240102_030405", CamerasFile))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(data), test.ShouldEqual, "cameras")
	//nolint:gosec
	data, err = os.ReadFile(filepath.Join(out, "lab_20240102_030405", ImagesDir, "frame_3.jpg"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(data), test.ShouldEqual, "jpeg")
}

func TestPackDirCanceled(t *testing.T) {
	dir := t.TempDir()
	test.That(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o600), test.ShouldBeNil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	archive := filepath.Join(t.TempDir(), "out"+ArchiveExt)
	err := PackDir(ctx, dir, archive)
	test.That(t, err, test.ShouldNotBeNil)
	_, statErr := os.Stat(archive)
	test.That(t, os.IsNotExist(statErr), test.ShouldBeTrue)
}

func TestSafeJoin(t *testing.T) {
	path, err := safeJoin("/tmp/out", "rec/points3D.txt")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, path, test.ShouldEqual, filepath.Join("/tmp/out", "rec", "points3D.txt"))

	_, err = safeJoin("/tmp/out", "../etc/passwd")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "escapes")
}

func TestDirUploader(t *testing.T) {
	src := filepath.Join(t.TempDir(), "rec"+ArchiveExt)
	test.That(t, os.WriteFile(src, []byte("archive"), 0o600), test.ShouldBeNil)

	dest := filepath.Join(t.TempDir(), "uploads")
	test.That(t, DirUploader{Dir: dest}.Upload(context.Background(), src), test.ShouldBeNil)
	//nolint:gosec
	data, err := os.ReadFile(filepath.Join(dest, "rec"+ArchiveExt))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(data), test.ShouldEqual, "archive")
}
