package densemap

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// Uploader hands a finished recording archive to wherever it is kept.
type Uploader interface {
	Upload(ctx context.Context, archivePath string) error
}

// UploaderFunc adapts a function to an Uploader.
type UploaderFunc func(ctx context.Context, archivePath string) error

// Upload calls f.
func (f UploaderFunc) Upload(ctx context.Context, archivePath string) error {
	return f(ctx, archivePath)
}

// DirUploader copies archives into Dir.
type DirUploader struct {
	Dir string
}

// Upload copies the archive into u.Dir under its own base name.
func (u DirUploader) Upload(ctx context.Context, archivePath string) (err error) {
	if err := os.MkdirAll(u.Dir, 0o750); err != nil {
		return err
	}
	//nolint:gosec
	in, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer utils.UncheckedErrorFunc(in.Close)

	dest := filepath.Join(u.Dir, filepath.Base(archivePath))
	//nolint:gosec
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, out.Close())
	}()
	if _, err := io.Copy(out, contextReader{ctx, in}); err != nil {
		return errors.Wrapf(err, "copying %q to %q", archivePath, dest)
	}
	return nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
