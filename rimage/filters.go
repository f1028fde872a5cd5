package rimage

import (
	"sort"
)

const (
	minMedianKernel = 3
	maxMedianKernel = 7
)

// MedianKernelSize normalizes a requested kernel size: even sizes grow by one and the result is
// clamped to [3, 7].
func MedianKernelSize(kernelSize int) int {
	if kernelSize%2 == 0 {
		kernelSize++
	}
	if kernelSize < minMedianKernel {
		return minMedianKernel
	}
	if kernelSize > maxMedianKernel {
		return maxMedianKernel
	}
	return kernelSize
}

// MedianFilter returns a tightly packed copy of dm in which every pixel with depth is replaced by
// the median of the nonzero depths in the kernel around it, clipped at the image border. Pixels
// without depth stay 0. With an even number of valid neighbors the two middle values are averaged.
func MedianFilter(dm *DepthMap, kernelSize int) *DepthMap {
	kernelSize = MedianKernelSize(kernelSize)
	radius := kernelSize / 2
	out := NewEmptyDepthMap(dm.width, dm.height)
	neighborhood := make([]int, 0, kernelSize*kernelSize)

	for y := 0; y < dm.height; y++ {
		for x := 0; x < dm.width; x++ {
			idx, ok := dm.Index(x, y)
			if !ok {
				continue
			}
			center := dm.data[idx]
			if center == 0 {
				continue
			}

			neighborhood = neighborhood[:0]
			for ny := y - radius; ny <= y+radius; ny++ {
				for nx := x - radius; nx <= x+radius; nx++ {
					if v := dm.GetDepth(nx, ny); v > 0 {
						neighborhood = append(neighborhood, int(v))
					}
				}
			}

			n := len(neighborhood)
			if n == 0 {
				out.data[y*out.stride+x] = center
				continue
			}
			sort.Ints(neighborhood)
			median := neighborhood[n/2]
			if n%2 == 0 {
				median = (neighborhood[n/2-1] + neighborhood[n/2]) / 2
			}
			out.data[y*out.stride+x] = uint16(median)
		}
	}
	return out
}
