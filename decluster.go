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

// Decluster thins spatially redundant samples by partitioning pixel
// space into square cells of side cellSize (which must be positive) and
// replacing the members of each cell holding at least minSamples
// samples with a single representative whose x, y, u and v are the
// component-wise medians of the members. Cells with fewer samples are
// dropped entirely; that is intentional thinning, not a fault. The
// order of the returned samples is unspecified and need not be stable
// across runs.
func Decluster(vs []Vector, cellSize float64, minSamples int) []Vector {
	cells := make(map[[2]int][]Vector)
	for _, v := range vs {
		key := [2]int{
			int(math.Floor(v.X / cellSize)),
			int(math.Floor(v.Y / cellSize)),
		}
		cells[key] = append(cells[key], v)
	}

	var out []Vector
	for _, members := range cells {
		if len(members) < minSamples {
			continue
		}
		xs := make([]float64, len(members))
		ys := make([]float64, len(members))
		us := make([]float64, len(members))
		ws := make([]float64, len(members))
		for i, m := range members {
			xs[i], ys[i], us[i], ws[i] = m.X, m.Y, m.U, m.V
		}
		out = append(out, Vector{
			X: median(xs),
			Y: median(ys),
			U: median(us),
			V: median(ws),
		})
	}
	return out
}
