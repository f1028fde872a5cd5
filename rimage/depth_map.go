package rimage

import (
	"github.com/pkg/errors"
)

// MaxDepth is the largest representable depth, in millimeters.
const MaxDepth = 65535

// DepthMap is a 16-bit depth image in millimeters. A value of 0 means no depth. Rows are Stride
// elements apart, which may be more than Width when the sensor pads its rows.
type DepthMap struct {
	width  int
	height int
	stride int

	data []uint16
}

// NewEmptyDepthMap returns a zeroed, tightly packed depth map.
func NewEmptyDepthMap(width, height int) *DepthMap {
	return &DepthMap{width: width, height: height, stride: width, data: make([]uint16, width*height)}
}

// NewDepthMapFromBuffer wraps a raw sensor buffer. The buffer may be shorter than stride*height;
// pixels past its end read as missing.
func NewDepthMapFromBuffer(width, height, stride int, data []uint16) (*DepthMap, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid depth map dimensions %dx%d", width, height)
	}
	if stride < width {
		return nil, errors.Errorf("depth map stride %d is smaller than width %d", stride, width)
	}
	return &DepthMap{width: width, height: height, stride: stride, data: data}, nil
}

// Width returns the horizontal dimension of the depth map.
func (dm *DepthMap) Width() int {
	return dm.width
}

// Height returns the vertical dimension of the depth map.
func (dm *DepthMap) Height() int {
	return dm.height
}

// Stride returns the number of elements between the start of two rows.
func (dm *DepthMap) Stride() int {
	return dm.stride
}

// Len returns the length of the backing buffer.
func (dm *DepthMap) Len() int {
	return len(dm.data)
}

// Index returns the buffer index of (x, y) and whether it falls inside the buffer.
func (dm *DepthMap) Index(x, y int) (int, bool) {
	if x < 0 || y < 0 || x >= dm.width || y >= dm.height {
		return 0, false
	}
	idx := y*dm.stride + x
	return idx, idx < len(dm.data)
}

// GetDepth returns the depth at (x, y), or 0 when it is outside the image or the buffer.
func (dm *DepthMap) GetDepth(x, y int) uint16 {
	idx, ok := dm.Index(x, y)
	if !ok {
		return 0
	}
	return dm.data[idx]
}

// Set sets the depth at (x, y). Writes outside the buffer are ignored.
func (dm *DepthMap) Set(x, y int, val uint16) {
	if idx, ok := dm.Index(x, y); ok {
		dm.data[idx] = val
	}
}

// Clone returns a deep copy of the depth map.
func (dm *DepthMap) Clone() *DepthMap {
	data := make([]uint16, len(dm.data))
	copy(data, dm.data)
	return &DepthMap{width: dm.width, height: dm.height, stride: dm.stride, data: data}
}

// ValidCount returns the number of in-buffer pixels with nonzero depth.
func (dm *DepthMap) ValidCount() int {
	count := 0
	for y := 0; y < dm.height; y++ {
		for x := 0; x < dm.width; x++ {
			if dm.GetDepth(x, y) != 0 {
				count++
			}
		}
	}
	return count
}
