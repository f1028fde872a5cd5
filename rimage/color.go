package rimage

import (
	"image"
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
)

// White is the color given to points when no camera image is available.
var White = colorful.Color{R: 1, G: 1, B: 1}

// YUVToRGB converts full range YUV bytes to an RGB color with channels clamped to [0, 1].
func YUVToRGB(y, u, v uint8) colorful.Color {
	yf := float64(y) / 255
	uf := (float64(u) - 128) / 255
	vf := (float64(v) - 128) / 255
	return colorful.Color{
		R: yf + 1.402*vf,
		G: yf - 0.344136*uf - 0.714136*vf,
		B: yf + 1.772*uf,
	}.Clamped()
}

// ColorAt returns the color of img at (x, y), relative to the image bounds. The second return is
// false when either the luma or chroma sample falls outside its plane.
func ColorAt(img *image.YCbCr, x, y int) (colorful.Color, bool) {
	b := img.Bounds()
	px, py := b.Min.X+x, b.Min.Y+y
	if x < 0 || y < 0 || px >= b.Max.X || py >= b.Max.Y {
		return colorful.Color{}, false
	}
	yi := img.YOffset(px, py)
	ci := img.COffset(px, py)
	if yi < 0 || yi >= len(img.Y) || ci < 0 || ci >= len(img.Cb) || ci >= len(img.Cr) {
		return colorful.Color{}, false
	}
	return YUVToRGB(img.Y[yi], img.Cb[ci], img.Cr[ci]), true
}

// ToNRGBA converts a point color to an 8-bit color.
func ToNRGBA(c colorful.Color) color.NRGBA {
	r, g, b := c.Clamped().RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 255}
}
