package rimage

import (
	"image"
	"image/jpeg"
	"io"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// JPEGQuality is the quality used for saved camera frames.
const JPEGQuality = 90

// EncodeJPEG writes img as a JPEG.
func EncodeJPEG(w io.Writer, img image.Image) error {
	return jpeg.Encode(w, img, &jpeg.Options{Quality: JPEGQuality})
}

// WriteImageToFile writes img to path as a JPEG.
func WriteImageToFile(path string, img image.Image) (err error) {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "cannot create image file %q", path)
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return EncodeJPEG(f, img)
}
