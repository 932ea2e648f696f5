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

// Package nowcast is a precipitation-nowcasting toolkit. It estimates
// short-term atmospheric motion from sequences of radar-derived
// precipitation fields, perturbs the motion field stochastically for
// ensemble forecasting, and advects precipitation forward in time to
// produce deterministic or probabilistic nowcasts.
//
// The central piece is the sparse-to-dense motion estimator
// (EstimateMotion): corner-like features are detected in successive
// quantized precipitation images, tracked frame-to-frame with pyramidal
// Lucas-Kanade optical flow, filtered for outliers and spatial
// redundancy, and interpolated into a dense per-pixel velocity field.
// The remaining components (advection, motion perturbation, stochastic
// noise, file import/export, verification) consume or feed that
// estimator's output.
//
// All raster data are held in sparse.DenseArray containers:
// precipitation sequences have shape (time, y, x), motion and
// perturbation fields have shape (2, y, x) with the u (east-west,
// column-direction) component first, and nowcast cubes have shape
// (steps, y, x). Pixel coordinates place (0,0) at the upper-left
// corner, with x increasing along columns and y along rows.
package nowcast

import (
	"io"
	"math"
	"sort"

	"github.com/ctessum/sparse"
	"github.com/sirupsen/logrus"
)

// Version gives the version number of this version of Nowcast.
const Version = "0.1.0"

// Point is a pixel-space location, x along columns and y along rows.
type Point struct {
	X, Y float64
}

// Vector is a sparse motion sample: the pixel-space position of a
// tracked feature and its estimated velocity in pixels per frame
// interval.
type Vector struct {
	X, Y float64 // position
	U, V float64 // velocity
}

// Speed returns the velocity magnitude of the sample in pixels per
// frame interval.
func (v Vector) Speed() float64 {
	return math.Hypot(v.U, v.V)
}

// discardLog is used in place of a caller-supplied logger when none is
// given.
var discardLog logrus.FieldLogger

func init() {
	l := logrus.New()
	l.Out = io.Discard
	discardLog = l
}

// sortedCopy returns the values of x sorted in increasing order,
// leaving x itself unchanged.
func sortedCopy(x []float64) []float64 {
	s := make([]float64, len(x))
	copy(s, x)
	sort.Float64s(s)
	return s
}

// quantileSorted returns the q-th percentile (0 ≤ q ≤ 100) of the
// sorted values s, linearly interpolating between order statistics so
// that, for example, the 50th percentile of an even-length sample is
// the average of the two middle values.
func quantileSorted(s []float64, q float64) float64 {
	if len(s) == 1 {
		return s[0]
	}
	rank := q / 100 * float64(len(s)-1)
	lo := int(math.Floor(rank))
	if lo >= len(s)-1 {
		return s[len(s)-1]
	}
	frac := rank - float64(lo)
	return s[lo] + frac*(s[lo+1]-s[lo])
}

// median returns the median of x, averaging the two middle values when
// the length of x is even.
func median(x []float64) float64 {
	return quantileSorted(sortedCopy(x), 50)
}

// minMax returns the smallest and largest values in x.
func minMax(x []float64) (min, max float64) {
	min, max = x[0], x[0]
	for _, v := range x[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

// frame copies time slice i of a (time, y, x) sequence into a new
// 2-dimensional array.
func frame(seq *sparse.DenseArray, i int) *sparse.DenseArray {
	rows, cols := seq.Shape[1], seq.Shape[2]
	f := sparse.ZerosDense(rows, cols)
	copy(f.Elements, seq.Elements[i*rows*cols:(i+1)*rows*cols])
	return f
}

// allFinite reports whether every value in x is neither NaN nor
// infinite.
func allFinite(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
