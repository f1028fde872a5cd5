package densemap

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// ArchiveExt is appended to a recording directory to name its archive.
const ArchiveExt = ".tar.gz"

const maxArchivedFileSize = 1 << 32

// PackDir writes every file under dir to a gzipped tarball at dest. Entry names are relative to
// the parent of dir so the archive unpacks into a directory named like dir.
func PackDir(ctx context.Context, dir, dest string) (err error) {
	//nolint:gosec
	out, err := os.Create(dest)
	if err != nil {
		return errors.Wrapf(err, "creating archive %q", dest)
	}
	defer func() {
		err = multierr.Combine(err, out.Close())
		if err != nil {
			utils.UncheckedError(os.Remove(dest))
		}
	}()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)
	root := filepath.Dir(dir)
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		name, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(name)
		if d.IsDir() {
			header.Name += "/"
		}
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		//nolint:gosec
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer utils.UncheckedErrorFunc(f.Close)
		_, err = io.Copy(tw, f)
		return err
	})
	return errors.Wrapf(multierr.Combine(walkErr, tw.Close(), gz.Close()), "packing %q", dir)
}

// UnpackArchive extracts a tarball written by PackDir into toDir.
func UnpackArchive(ctx context.Context, fromFile, toDir string) error {
	if err := os.MkdirAll(toDir, 0o700); err != nil {
		return err
	}
	//nolint:gosec
	f, err := os.Open(fromFile)
	if err != nil {
		return err
	}
	defer utils.UncheckedErrorFunc(f.Close)

	archive, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer utils.UncheckedErrorFunc(archive.Close)

	tarReader := tar.NewReader(archive)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "read tar")
		}
		path, err := safeJoin(toDir, header.Name)
		if err != nil {
			return err
		}
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(path, 0o700); err != nil {
				return errors.Wrapf(err, "failed to create directory %s", path)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
				return err
			}
			//nolint:gosec
			outFile, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
			if err != nil {
				return errors.Wrapf(err, "failed to create file %s", path)
			}
			if _, err := io.CopyN(outFile, tarReader, maxArchivedFileSize); err != nil && !errors.Is(err, io.EOF) {
				return multierr.Combine(errors.Wrapf(err, "failed to copy file %s", path), outFile.Close())
			}
			if err := outFile.Close(); err != nil {
				return err
			}
		}
	}
}

func safeJoin(dir, name string) (string, error) {
	path := filepath.Join(dir, filepath.FromSlash(name))
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.Errorf("archive entry %q escapes %q", name, dir)
	}
	return path, nil
}
