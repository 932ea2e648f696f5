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
	"math/rand/v2"
	"testing"

	"github.com/ctessum/sparse"
)

// perturbTestMotion returns a small motion field with varied directions
// and one zero-velocity pixel at (0, 0).
func perturbTestMotion() *sparse.DenseArray {
	m := sparse.ZerosDense(2, 3, 3)
	uv := [][2]float64{
		{0, 0}, {1, 0}, {0, 1},
		{-2, 1}, {3, -4}, {0.5, 0.5},
		{-1, -1}, {2, 0.1}, {-0.3, 2},
	}
	for i, w := range uv {
		m.Elements[i] = w[0]
		m.Elements[9+i] = w[1]
	}
	return m
}

func TestNewBPSDecomposition(t *testing.T) {
	motion := perturbTestMotion()
	b, err := NewBPS(motion, DefaultBPSConfig(), rand.NewPCG(1, 2))
	if err != nil {
		t.Fatal(err)
	}
	if b.VSF != 12 {
		t.Errorf("VSF = %g; want 60/(5*1) = 12", b.VSF)
	}

	// The parallel and perpendicular components must sum to the same
	// sampled perturbation vector at every pixel.
	px := b.Par.Elements[0] + b.Perp.Elements[0]
	py := b.Par.Elements[9] + b.Perp.Elements[9]
	if px == 0 && py == 0 {
		t.Fatal("sampled perturbation vector is zero")
	}
	for i := 0; i < 9; i++ {
		if sx := b.Par.Elements[i] + b.Perp.Elements[i]; absDifferent(sx, px, 1e-12) {
			t.Errorf("pixel %d: x components sum to %g; want %g", i, sx, px)
		}
		if sy := b.Par.Elements[9+i] + b.Perp.Elements[9+i]; absDifferent(sy, py, 1e-12) {
			t.Errorf("pixel %d: y components sum to %g; want %g", i, sy, py)
		}

		u := motion.Elements[i]
		v := motion.Elements[9+i]
		// Par is aligned with the motion vector and Perp is normal to
		// it.
		if cross := u*b.Par.Elements[9+i] - v*b.Par.Elements[i]; absDifferent(cross, 0, 1e-12) {
			t.Errorf("pixel %d: parallel component not aligned with motion (cross %g)", i, cross)
		}
		if dot := u*b.Perp.Elements[i] + v*b.Perp.Elements[9+i]; absDifferent(dot, 0, 1e-12) {
			t.Errorf("pixel %d: perpendicular component not normal to motion (dot %g)", i, dot)
		}
	}

	// The zero-velocity pixel has no parallel direction.
	if b.Par.Elements[0] != 0 || b.Par.Elements[9] != 0 {
		t.Errorf("zero-velocity pixel: parallel component = (%g,%g); want (0,0)",
			b.Par.Elements[0], b.Par.Elements[9])
	}
}

func TestBPSGenerate(t *testing.T) {
	cfg := DefaultBPSConfig()
	b, err := NewBPS(perturbTestMotion(), cfg, rand.NewPCG(7, 11))
	if err != nil {
		t.Fatal(err)
	}
	const leadTime = 30.0
	out := b.Generate(leadTime)
	if len(out.Shape) != 3 || out.Shape[0] != 2 || out.Shape[1] != 3 || out.Shape[2] != 3 {
		t.Fatalf("perturbation shape = %v; want [2 3 3]", out.Shape)
	}
	gpar := cfg.ParToVel[0]*math.Pow(leadTime, cfg.ParToVel[1]) + cfg.ParToVel[2]
	gperp := cfg.PerpToVel[0]*math.Pow(leadTime, cfg.PerpToVel[1]) + cfg.PerpToVel[2]
	for i := range out.Elements {
		want := (gpar*b.Par.Elements[i] + gperp*b.Perp.Elements[i]) / b.VSF
		if absDifferent(out.Elements[i], want, 1e-12) {
			t.Errorf("element %d = %g; want %g", i, out.Elements[i], want)
		}
	}
}

func TestBPSGenerateSeeded(t *testing.T) {
	motion := perturbTestMotion()
	cfg := DefaultBPSConfig()
	a, err := NewBPS(motion, cfg, rand.NewPCG(42, 54))
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewBPS(motion, cfg, rand.NewPCG(42, 54))
	if err != nil {
		t.Fatal(err)
	}
	av := a.Generate(15)
	bv := b.Generate(15)
	for i := range av.Elements {
		if av.Elements[i] != bv.Elements[i] {
			t.Fatalf("same seed produced different perturbations at element %d", i)
		}
	}

	c, err := NewBPS(motion, cfg, rand.NewPCG(43, 54))
	if err != nil {
		t.Fatal(err)
	}
	cv := c.Generate(15)
	same := true
	for i := range av.Elements {
		if cv.Elements[i] != av.Elements[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different seeds produced identical perturbations")
	}
}

func TestNewBPSValidation(t *testing.T) {
	cfg := DefaultBPSConfig()
	src := rand.NewPCG(1, 1)
	if _, err := NewBPS(nil, cfg, src); err == nil {
		t.Error("nil motion: expected an error")
	}
	if _, err := NewBPS(sparse.ZerosDense(3, 3), cfg, src); err == nil {
		t.Error("2-dimensional motion: expected an error")
	}
	if _, err := NewBPS(sparse.ZerosDense(3, 3, 3), cfg, src); err == nil {
		t.Error("first dimension != 2: expected an error")
	}
	bad := cfg
	bad.PixelsPerKm = 0
	if _, err := NewBPS(perturbTestMotion(), bad, src); err == nil {
		t.Error("zero pixels/km: expected an error")
	}
	bad = cfg
	bad.Timestep = -1
	if _, err := NewBPS(perturbTestMotion(), bad, src); err == nil {
		t.Error("negative timestep: expected an error")
	}
	if _, err := NewBPS(perturbTestMotion(), cfg, nil); err == nil {
		t.Error("nil random source: expected an error")
	}
}
