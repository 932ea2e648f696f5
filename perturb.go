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
	"math/rand/v2"

	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/stat/distuv"
)

// BPSConfig holds the parameters of the Bowler et al. (2006) motion
// perturbator.
type BPSConfig struct {
	// PixelsPerKm is the spatial resolution of the motion field.
	PixelsPerKm float64
	// Timestep is the time interval of the motion vectors in minutes.
	Timestep float64

	// ParToVel holds the parameters a, b, c of the standard deviation
	// g(t) = a*t^b + c of the perturbations parallel to the motion
	// vectors, with the lead time t in minutes.
	ParToVel [3]float64
	// PerpToVel holds the corresponding parameters for the
	// perturbations perpendicular to the motion vectors.
	PerpToVel [3]float64
}

// DefaultBPSConfig returns the perturbation parameters fitted by
// Bowler et al. (2006), with a 1 pixel/km, 5 minute resolution.
func DefaultBPSConfig() BPSConfig {
	return BPSConfig{
		PixelsPerKm: 1,
		Timestep:    5,
		ParToVel:    [3]float64{10.88, 0.23, -7.68},
		PerpToVel:   [3]float64{5.76, 0.31, -2.72},
	}
}

// BPS perturbs a motion field following Bowler et al. (2006): STEPS: A
// probabilistic precipitation forecasting scheme which merges an
// extrapolation nowcast with downscaled NWP. A constant random vector,
// drawn once from a Laplace distribution, is decomposed into components
// parallel and perpendicular to the motion field; Generate scales each
// component by a lead-time-dependent magnitude. The bias adjustment
// procedure of the reference is not implemented.
type BPS struct {
	// VSF converts the motion field's pixels-per-timestep velocity
	// unit into km/h.
	VSF float64
	// Par and Perp are the (2, y, x) components of the sampled
	// perturbation vector parallel and perpendicular to the motion
	// field, in km/h.
	Par, Perp *sparse.DenseArray

	cfg BPSConfig
}

// NewBPS draws a perturbation vector from src and decomposes it along
// the given (2, y, x) motion field. Pixels with zero velocity have no
// parallel direction; the whole perturbation is treated as
// perpendicular there.
func NewBPS(motion *sparse.DenseArray, cfg BPSConfig, src rand.Source) (*BPS, error) {
	if motion == nil || len(motion.Shape) != 3 || motion.Shape[0] != 2 {
		return nil, fmt.Errorf("nowcast: motion perturbation requires a (2, y, x) motion field")
	}
	if cfg.PixelsPerKm <= 0 || cfg.Timestep <= 0 {
		return nil, fmt.Errorf("nowcast: motion perturbation requires positive resolution descriptors; got %g pixels/km and %g minutes",
			cfg.PixelsPerKm, cfg.Timestep)
	}
	if src == nil {
		return nil, fmt.Errorf("nowcast: motion perturbation requires an explicit random source")
	}
	rows, cols := motion.Shape[1], motion.Shape[2]
	grid := rows * cols

	laplace := distuv.Laplace{Mu: 0, Scale: 1, Src: src}
	px := laplace.Rand()
	py := laplace.Rand()

	vsf := 60 / (cfg.Timestep * cfg.PixelsPerKm)

	par := sparse.ZerosDense(2, rows, cols)
	perp := sparse.ZerosDense(2, rows, cols)
	for i := 0; i < grid; i++ {
		u := motion.Elements[i] * vsf
		v := motion.Elements[grid+i] * vsf
		n := math.Hypot(u, v)
		var nx, ny float64
		if n > 0 {
			nx, ny = u/n, v/n
		}
		dp := px*nx + py*ny
		par.Elements[i] = nx * dp
		par.Elements[grid+i] = ny * dp
		perp.Elements[i] = px - nx*dp
		perp.Elements[grid+i] = py - ny*dp
	}
	return &BPS{VSF: vsf, Par: par, Perp: perp, cfg: cfg}, nil
}

// Generate returns the (2, y, x) motion perturbation field for the
// given lead time in minutes, in pixels per timestep.
func (b *BPS) Generate(leadTime float64) *sparse.DenseArray {
	gpar := b.cfg.ParToVel[0]*math.Pow(leadTime, b.cfg.ParToVel[1]) + b.cfg.ParToVel[2]
	gperp := b.cfg.PerpToVel[0]*math.Pow(leadTime, b.cfg.PerpToVel[1]) + b.cfg.PerpToVel[2]
	out := sparse.ZerosDense(b.Par.Shape...)
	for i := range out.Elements {
		out.Elements[i] = (gpar*b.Par.Elements[i] + gperp*b.Perp.Elements[i]) / b.VSF
	}
	return out
}
