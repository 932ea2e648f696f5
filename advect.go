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

	"github.com/ctessum/atmos/advect"
	"github.com/ctessum/sparse"
)

// Scheme selects the numerical method used to advect a precipitation
// field along a motion field.
type Scheme string

const (
	// SchemeSemiLagrangian is the backward semi-Lagrangian scheme of
	// Germann and Zawadzki (2002): each output pixel is filled by
	// sampling the input field at its upstream departure point.
	SchemeSemiLagrangian Scheme = "semilagrangian"
	// SchemeUpwind is a conservative flux-form first-order upwind
	// scheme with zero-gradient boundaries and CFL substepping.
	SchemeUpwind Scheme = "upwind"
)

// ExtrapConfig holds the parameters of field extrapolation.
type ExtrapConfig struct {
	// Scheme is the advection scheme; see the Scheme constants.
	Scheme Scheme

	// NIter is the number of midpoint refinement iterations used by
	// the semi-Lagrangian scheme when locating departure points.
	// Values below one are treated as one.
	NIter int

	// FillValue is assigned wherever a semi-Lagrangian departure
	// point falls outside the domain.
	FillValue float64
}

// DefaultExtrapConfig returns the standard extrapolation parameters.
func DefaultExtrapConfig() ExtrapConfig {
	return ExtrapConfig{
		Scheme: SchemeSemiLagrangian,
		NIter:  3,
	}
}

// Extrapolate advects a 2-dimensional field along a (2, y, x) motion
// field for the given number of unit time steps, returning the
// sequence of advected fields with shape (steps, y, x). The motion
// field is in pixels per time step and is held constant over the
// forecast. Shape mismatches, nonpositive step counts, and
// unrecognized schemes are rejected before any work is done.
func Extrapolate(field, motion *sparse.DenseArray, steps int, cfg ExtrapConfig) (*sparse.DenseArray, error) {
	if field == nil || len(field.Shape) != 2 {
		return nil, fmt.Errorf("nowcast: extrapolation requires a 2-dimensional (y, x) field")
	}
	if motion == nil || len(motion.Shape) != 3 || motion.Shape[0] != 2 ||
		motion.Shape[1] != field.Shape[0] || motion.Shape[2] != field.Shape[1] {
		var shape []int
		if motion != nil {
			shape = motion.Shape
		}
		return nil, fmt.Errorf("nowcast: motion field shape %v does not match (2, y, x) for field shape %v",
			shape, field.Shape)
	}
	if steps < 1 {
		return nil, fmt.Errorf("nowcast: extrapolation requires at least 1 step; got %d", steps)
	}
	switch cfg.Scheme {
	case SchemeSemiLagrangian:
		return extrapolateSemiLagrangian(field, motion, steps, cfg), nil
	case SchemeUpwind:
		return extrapolateUpwind(field, motion, steps), nil
	default:
		return nil, fmt.Errorf("nowcast: unknown advection scheme %q", cfg.Scheme)
	}
}

// Forecast produces a deterministic advection nowcast: the last
// observed frame is extrapolated along the motion field for the given
// number of lead steps. It is a naming convenience for Extrapolate.
func Forecast(lastFrame, motion *sparse.DenseArray, steps int, cfg ExtrapConfig) (*sparse.DenseArray, error) {
	return Extrapolate(lastFrame, motion, steps, cfg)
}

func extrapolateSemiLagrangian(field, motion *sparse.DenseArray, steps int, cfg ExtrapConfig) *sparse.DenseArray {
	rows, cols := field.Shape[0], field.Shape[1]
	grid := rows * cols
	u := &floatImage{pix: motion.Elements[:grid], rows: rows, cols: cols}
	v := &floatImage{pix: motion.Elements[grid:], rows: rows, cols: cols}
	src := &floatImage{pix: field.Elements, rows: rows, cols: cols}
	niter := cfg.NIter
	if niter < 1 {
		niter = 1
	}

	out := sparse.ZerosDense(steps, rows, cols)
	// Accumulated upstream displacement of each pixel's departure
	// point, grown by one velocity increment per step.
	dx := make([]float64, grid)
	dy := make([]float64, grid)
	for step := 0; step < steps; step++ {
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				i := r*cols + c
				var incX, incY float64
				for k := 0; k < niter; k++ {
					px := float64(c) + dx[i] - incX/2
					py := float64(r) + dy[i] - incY/2
					incX = u.sample(px, py)
					incY = v.sample(px, py)
				}
				dx[i] -= incX
				dy[i] -= incY
				out.Set(sampleOrFill(src, float64(c)+dx[i], float64(r)+dy[i], cfg.FillValue),
					step, r, c)
			}
		}
	}
	return out
}

// sampleOrFill bilinearly samples img at (x, y), returning fill for
// coordinates outside the domain.
func sampleOrFill(img *floatImage, x, y, fill float64) float64 {
	if x < 0 || y < 0 || x > float64(img.cols-1) || y > float64(img.rows-1) {
		return fill
	}
	return img.sample(x, y)
}

func extrapolateUpwind(field, motion *sparse.DenseArray, steps int) *sparse.DenseArray {
	rows, cols := field.Shape[0], field.Shape[1]
	grid := rows * cols
	u := motion.Elements[:grid]
	v := motion.Elements[grid:]

	// Substep so that the combined Courant number |u|+|v| stays at or
	// below one per substep (the 2-D CFL condition for Δx = 1).
	var maxCourant float64
	for i := 0; i < grid; i++ {
		if s := math.Abs(u[i]) + math.Abs(v[i]); s > maxCourant {
			maxCourant = s
		}
	}
	nsub := int(math.Max(1, math.Ceil(maxCourant)))
	Δt := 1 / float64(nsub)

	cur := make([]float64, grid)
	copy(cur, field.Elements)
	next := make([]float64, grid)
	out := sparse.ZerosDense(steps, rows, cols)
	for step := 0; step < steps; step++ {
		for sub := 0; sub < nsub; sub++ {
			for r := 0; r < rows; r++ {
				for c := 0; c < cols; c++ {
					i := r*cols + c
					C := cur[i]

					// Neighbor values and face velocities, with
					// zero-gradient boundaries.
					cw, uw := C, u[i]
					if c > 0 {
						cw, uw = cur[i-1], 0.5*(u[i-1]+u[i])
					}
					ce, ue := C, u[i]
					if c < cols-1 {
						ce, ue = cur[i+1], 0.5*(u[i+1]+u[i])
					}
					cn, vn := C, v[i]
					if r > 0 {
						cn, vn = cur[i-cols], 0.5*(v[i-cols]+v[i])
					}
					cs, vs := C, v[i]
					if r < rows-1 {
						cs, vs = cur[i+cols], 0.5*(v[i+cols]+v[i])
					}

					next[i] = C + Δt*(advect.UpwindFlux(uw, cw, C, 1)-
						advect.UpwindFlux(ue, C, ce, 1)+
						advect.UpwindFlux(vn, cn, C, 1)-
						advect.UpwindFlux(vs, C, cs, 1))
				}
			}
			cur, next = next, cur
		}
		copy(out.Elements[step*grid:(step+1)*grid], cur)
	}
	return out
}
