/*
Copyright © 2026 the Nowcast authors.
This file is part of Nowcast.

Nowcast is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

Nowcast is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with Nowcast.  If not, see <http://www.gnu.org/licenses/>.
*/

package nowcast

import (
	"math"

	"github.com/ctessum/sparse"
)

// ByteImage is a single-channel 8-bit raster with (0,0) at the
// upper-left corner.
type ByteImage struct {
	Pix        []uint8 // row-major intensities
	Rows, Cols int
}

func newByteImage(rows, cols int) *ByteImage {
	return &ByteImage{
		Pix:  make([]uint8, rows*cols),
		Rows: rows,
		Cols: cols,
	}
}

func (b *ByteImage) at(row, col int) uint8 {
	return b.Pix[row*b.Cols+col]
}

func (b *ByteImage) set(row, col int, v uint8) {
	b.Pix[row*b.Cols+col] = v
}

func (b *ByteImage) min() uint8 {
	m := b.Pix[0]
	for _, v := range b.Pix[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

// ToByteImage quantizes the two-dimensional field frame to 8-bit
// intensities by min-max rescaling to the range 0–255 and truncating to
// integers. A constant frame rescales to all zeros rather than
// faulting.
func ToByteImage(frame *sparse.DenseArray) *ByteImage {
	rows, cols := frame.Shape[0], frame.Shape[1]
	b := newByteImage(rows, cols)
	min, max := minMax(frame.Elements)
	if max == min {
		return b
	}
	scale := 255 / (max - min)
	for i, v := range frame.Elements {
		b.Pix[i] = uint8((v - min) * scale)
	}
	return b
}

// ellipseOffsets returns the pixel offsets covered by an elliptical
// structuring element of the given size, relative to its center.
func ellipseOffsets(size int) [][2]int {
	r := size / 2
	c := size / 2
	var invR2 float64
	if r != 0 {
		invR2 = 1 / float64(r*r)
	}
	var off [][2]int
	for i := 0; i < size; i++ {
		dy := i - r
		if dy < -r || dy > r {
			continue
		}
		dx := int(math.Round(float64(c) * math.Sqrt(float64(r*r-dy*dy)*invR2)))
		j1 := c - dx
		if j1 < 0 {
			j1 = 0
		}
		j2 := c + dx + 1
		if j2 > size {
			j2 = size
		}
		for j := j1; j < j2; j++ {
			off = append(off, [2]int{i - r, j - c})
		}
	}
	return off
}

// Opening removes isolated echoes from img using a binary morphological
// opening: the image is thresholded at zero intensity, eroded and then
// dilated with an elliptical structuring element of the given size, and
// pixels eliminated by the opening are reset to the image minimum. The
// input image is left unchanged.
func Opening(img *ByteImage, size int) *ByteImage {
	rows, cols := img.Rows, img.Cols
	bin := make([]uint8, rows*cols)
	for i, v := range img.Pix {
		if v > 0 {
			bin[i] = 1
		}
	}
	kernel := ellipseOffsets(size)

	// Erosion treats out-of-bounds neighbors as set, dilation as
	// unset, so the image border does not spuriously erode.
	eroded := make([]uint8, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			v := uint8(1)
			for _, o := range kernel {
				rr, cc := r+o[0], c+o[1]
				if rr < 0 || rr >= rows || cc < 0 || cc >= cols {
					continue
				}
				if bin[rr*cols+cc] == 0 {
					v = 0
					break
				}
			}
			eroded[r*cols+c] = v
		}
	}
	opened := make([]uint8, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			v := uint8(0)
			for _, o := range kernel {
				rr, cc := r+o[0], c+o[1]
				if rr < 0 || rr >= rows || cc < 0 || cc >= cols {
					continue
				}
				if eroded[rr*cols+cc] == 1 {
					v = 1
					break
				}
			}
			opened[r*cols+c] = v
		}
	}

	out := newByteImage(rows, cols)
	copy(out.Pix, img.Pix)
	min := img.min()
	for i := range bin {
		if bin[i] == 1 && opened[i] == 0 {
			out.Pix[i] = min
		}
	}
	return out
}
