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

import "math"

// TrackConfig holds the parameters of the pyramidal Lucas-Kanade
// tracker.
type TrackConfig struct {
	// WindowSize is the (rows, cols) extent of the tracking window
	// centered on each feature.
	WindowSize [2]int

	// PyramidLevels is the number of half-resolution image reductions
	// beyond the base image used for coarse-to-fine tracking.
	PyramidLevels int

	// MaxIterations bounds the number of Lucas-Kanade refinement
	// steps per pyramid level.
	MaxIterations int

	// Epsilon stops the per-level iteration early once the update
	// step is smaller than this length in pixels. Zero iterates the
	// full MaxIterations.
	Epsilon float64
}

// minEigThreshold rejects tracking windows whose gradient normal matrix
// has a per-pixel minimum eigenvalue below this value; such windows are
// too flat or too one-dimensional for the flow equations to be solvable.
const minEigThreshold = 1e-4

// TrackFeatures estimates, for each seed point, the displacement from
// prev to next using pyramidal Lucas-Kanade optical flow, iterating at
// most MaxIterations times per level or until the update shrinks below
// Epsilon. Points whose tracking fails (ill-conditioned window or a
// tracked position outside the image) are silently dropped: partial
// tracking failure is expected, so only the surviving subset is
// returned. Each returned vector holds the seed position and the
// displacement, in pixels over one frame interval.
func TrackFeatures(prev, next *ByteImage, pts []Point, cfg TrackConfig) []Vector {
	prevPyr := buildPyramid(prev, cfg.PyramidLevels)
	nextPyr := buildPyramid(next, cfg.PyramidLevels)
	top := len(prevPyr) - 1

	winRows, winCols := cfg.WindowSize[0], cfg.WindowSize[1]
	if winRows < 1 {
		winRows = 1
	}
	if winCols < 1 {
		winCols = 1
	}
	halfR := float64(winRows-1) / 2
	halfC := float64(winCols-1) / 2
	winArea := float64(winRows * winCols)

	n := winRows * winCols
	sx := make([]float64, n) // window sample x offsets
	sy := make([]float64, n) // window sample y offsets
	iv := make([]float64, n) // template intensities
	gx := make([]float64, n) // template x gradients
	gy := make([]float64, n) // template y gradients

	k := 0
	for r := 0; r < winRows; r++ {
		for c := 0; c < winCols; c++ {
			sy[k] = float64(r) - halfR
			sx[k] = float64(c) - halfC
			k++
		}
	}

	var out []Vector
	for _, pt := range pts {
		dx, dy := 0.0, 0.0 // displacement guess, in level pixels
		ok := true
		for lev := top; lev >= 0; lev-- {
			im0 := prevPyr[lev]
			im1 := nextPyr[lev]
			scale := float64(uint(1) << uint(lev))
			px := pt.X / scale
			py := pt.Y / scale

			// Template intensities and gradients from the previous
			// frame, with central differences.
			var sxx, sxy, syy float64
			for k := 0; k < n; k++ {
				x := px + sx[k]
				y := py + sy[k]
				iv[k] = im0.sample(x, y)
				gx[k] = (im0.sample(x+1, y) - im0.sample(x-1, y)) / 2
				gy[k] = (im0.sample(x, y+1) - im0.sample(x, y-1)) / 2
				sxx += gx[k] * gx[k]
				sxy += gx[k] * gy[k]
				syy += gy[k] * gy[k]
			}
			minEig := ((sxx+syy)/2 - math.Sqrt((sxx-syy)*(sxx-syy)/4+sxy*sxy)) / winArea
			if minEig < minEigThreshold {
				ok = false
				break
			}
			det := sxx*syy - sxy*sxy

			vx, vy := 0.0, 0.0
			for iter := 0; iter < cfg.MaxIterations; iter++ {
				var bx, by float64
				for k := 0; k < n; k++ {
					diff := iv[k] - im1.sample(px+sx[k]+dx+vx, py+sy[k]+dy+vy)
					bx += diff * gx[k]
					by += diff * gy[k]
				}
				stepX := (syy*bx - sxy*by) / det
				stepY := (sxx*by - sxy*bx) / det
				vx += stepX
				vy += stepY
				if math.Hypot(stepX, stepY) < cfg.Epsilon {
					break
				}
			}
			if lev > 0 {
				dx = 2 * (dx + vx)
				dy = 2 * (dy + vy)
			} else {
				dx += vx
				dy += vy
			}
		}
		if !ok {
			continue
		}
		nx, ny := pt.X+dx, pt.Y+dy
		if nx < 0 || nx > float64(prev.Cols-1) || ny < 0 || ny > float64(prev.Rows-1) {
			continue
		}
		out = append(out, Vector{X: pt.X, Y: pt.Y, U: dx, V: dy})
	}
	return out
}

// floatImage is a grayscale raster used for the pyramid levels.
type floatImage struct {
	pix        []float64
	rows, cols int
}

// sample returns the bilinearly interpolated intensity at (x, y),
// replicating border pixels for out-of-range coordinates.
func (im *floatImage) sample(x, y float64) float64 {
	if x < 0 {
		x = 0
	} else if x > float64(im.cols-1) {
		x = float64(im.cols - 1)
	}
	if y < 0 {
		y = 0
	} else if y > float64(im.rows-1) {
		y = float64(im.rows - 1)
	}
	x0, y0 := int(x), int(y)
	x1, y1 := x0+1, y0+1
	if x1 > im.cols-1 {
		x1 = im.cols - 1
	}
	if y1 > im.rows-1 {
		y1 = im.rows - 1
	}
	fx, fy := x-float64(x0), y-float64(y0)
	top := (1-fx)*im.pix[y0*im.cols+x0] + fx*im.pix[y0*im.cols+x1]
	bottom := (1-fx)*im.pix[y1*im.cols+x0] + fx*im.pix[y1*im.cols+x1]
	return (1-fy)*top + fy*bottom
}

// buildPyramid converts img to floating point and stacks up to levels
// additional half-resolution reductions on top of it, each pixel the
// mean of the 2x2 block below. Reduction stops early once an image
// dimension would become smaller than four pixels.
func buildPyramid(img *ByteImage, levels int) []*floatImage {
	base := &floatImage{
		pix:  make([]float64, len(img.Pix)),
		rows: img.Rows,
		cols: img.Cols,
	}
	for i, v := range img.Pix {
		base.pix[i] = float64(v)
	}
	pyr := []*floatImage{base}
	for lev := 0; lev < levels; lev++ {
		cur := pyr[len(pyr)-1]
		rows, cols := cur.rows/2, cur.cols/2
		if rows < 4 || cols < 4 {
			break
		}
		down := &floatImage{
			pix:  make([]float64, rows*cols),
			rows: rows,
			cols: cols,
		}
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				down.pix[r*cols+c] = (cur.pix[2*r*cur.cols+2*c] +
					cur.pix[2*r*cur.cols+2*c+1] +
					cur.pix[(2*r+1)*cur.cols+2*c] +
					cur.pix[(2*r+1)*cur.cols+2*c+1]) / 4
			}
		}
		pyr = append(pyr, down)
	}
	return pyr
}
