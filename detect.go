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
	"fmt"
	"math"
	"sort"
)

// DetectConfig holds the parameters of the Shi-Tomasi corner detector.
type DetectConfig struct {
	// MaxCorners caps the number of returned features, strongest
	// first. A nonpositive value returns all features that pass the
	// quality and distance tests.
	MaxCorners int

	// QualityLevel rejects corners whose minimum-eigenvalue score is
	// not above QualityLevel times the best score in the image.
	QualityLevel float64

	// MinDistance is the smallest allowed Euclidean distance in
	// pixels between two returned features.
	MinDistance float64

	// BlockSize is the side length of the window over which the
	// gradient structure tensor is summed at each pixel.
	BlockSize int
}

// DetectFeatures locates corner-like points in the 8-bit image img
// using the Shi-Tomasi minimum-eigenvalue score: Sobel gradients are
// accumulated into a structure tensor over a BlockSize window, pixels
// scoring above QualityLevel times the image maximum and locally
// maximal in their 3x3 neighborhood become candidates, and candidates
// are accepted in order of decreasing score subject to the MinDistance
// separation and the MaxCorners cap. Finding no corners at all is an
// error because downstream tracking needs at least one seed point.
func DetectFeatures(img *ByteImage, cfg DetectConfig) ([]Point, error) {
	rows, cols := img.Rows, img.Cols
	eig := minEigenScores(img, cfg.BlockSize)

	maxEig := 0.0
	for _, v := range eig {
		if v > maxEig {
			maxEig = v
		}
	}
	thr := maxEig * cfg.QualityLevel

	type candidate struct {
		row, col int
		score    float64
	}
	var cands []candidate
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			v := eig[r*cols+c]
			if v <= thr || v <= 0 {
				continue
			}
			localMax := true
			for dr := -1; dr <= 1 && localMax; dr++ {
				for dc := -1; dc <= 1; dc++ {
					if dr == 0 && dc == 0 {
						continue
					}
					rr, cc := r+dr, c+dc
					if rr < 0 || rr >= rows || cc < 0 || cc >= cols {
						continue
					}
					if eig[rr*cols+cc] > v {
						localMax = false
						break
					}
				}
			}
			if localMax {
				cands = append(cands, candidate{r, c, v})
			}
		}
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].row*cols+cands[i].col < cands[j].row*cols+cands[j].col
	})

	minDist2 := cfg.MinDistance * cfg.MinDistance
	var pts []Point
	for _, cand := range cands {
		p := Point{X: float64(cand.col), Y: float64(cand.row)}
		ok := true
		for _, q := range pts {
			dx, dy := p.X-q.X, p.Y-q.Y
			if dx*dx+dy*dy < minDist2 {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		pts = append(pts, p)
		if cfg.MaxCorners > 0 && len(pts) == cfg.MaxCorners {
			break
		}
	}
	if len(pts) == 0 {
		return nil, fmt.Errorf("nowcast: feature detection found no trackable corners")
	}
	return pts, nil
}

// minEigenScores returns the per-pixel minimum eigenvalue of the Sobel
// gradient structure tensor summed over a blockSize window.
func minEigenScores(img *ByteImage, blockSize int) []float64 {
	rows, cols := img.Rows, img.Cols
	ix, iy := sobel(img)

	// Summed-area tables of the tensor products.
	sxx := integralOfProduct(ix, ix, rows, cols)
	sxy := integralOfProduct(ix, iy, rows, cols)
	syy := integralOfProduct(iy, iy, rows, cols)

	half := blockSize / 2
	eig := make([]float64, rows*cols)
	for r := 0; r < rows; r++ {
		r0, r1 := r-half, r-half+blockSize-1
		if r0 < 0 {
			r0 = 0
		}
		if r1 > rows-1 {
			r1 = rows - 1
		}
		for c := 0; c < cols; c++ {
			c0, c1 := c-half, c-half+blockSize-1
			if c0 < 0 {
				c0 = 0
			}
			if c1 > cols-1 {
				c1 = cols - 1
			}
			a := boxSum(sxx, cols, r0, c0, r1, c1)
			b := boxSum(sxy, cols, r0, c0, r1, c1)
			d := boxSum(syy, cols, r0, c0, r1, c1)
			eig[r*cols+c] = (a+d)/2 - math.Sqrt((a-d)*(a-d)/4+b*b)
		}
	}
	return eig
}

// sobel computes 3x3 Sobel gradients of img with edge pixels
// replicated across the border.
func sobel(img *ByteImage) (ix, iy []float64) {
	rows, cols := img.Rows, img.Cols
	at := func(r, c int) float64 {
		if r < 0 {
			r = 0
		} else if r > rows-1 {
			r = rows - 1
		}
		if c < 0 {
			c = 0
		} else if c > cols-1 {
			c = cols - 1
		}
		return float64(img.Pix[r*cols+c])
	}
	ix = make([]float64, rows*cols)
	iy = make([]float64, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			ix[r*cols+c] = at(r-1, c+1) - at(r-1, c-1) +
				2*(at(r, c+1)-at(r, c-1)) +
				at(r+1, c+1) - at(r+1, c-1)
			iy[r*cols+c] = at(r+1, c-1) - at(r-1, c-1) +
				2*(at(r+1, c)-at(r-1, c)) +
				at(r+1, c+1) - at(r-1, c+1)
		}
	}
	return ix, iy
}

// integralOfProduct returns the summed-area table of a[i]*b[i]. The
// table has an extra zero row and column so that sums over any
// rectangle become four lookups.
func integralOfProduct(a, b []float64, rows, cols int) []float64 {
	s := make([]float64, (rows+1)*(cols+1))
	for r := 0; r < rows; r++ {
		rowSum := 0.0
		for c := 0; c < cols; c++ {
			rowSum += a[r*cols+c] * b[r*cols+c]
			s[(r+1)*(cols+1)+c+1] = s[r*(cols+1)+c+1] + rowSum
		}
	}
	return s
}

// boxSum returns the sum over the inclusive rectangle [r0,r1]x[c0,c1]
// of the field underlying the summed-area table s.
func boxSum(s []float64, cols, r0, c0, r1, c1 int) float64 {
	w := cols + 1
	return s[(r1+1)*w+c1+1] - s[r0*w+c1+1] - s[(r1+1)*w+c0] + s[r0*w+c0]
}
