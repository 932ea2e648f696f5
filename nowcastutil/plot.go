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

package nowcastutil

import (
	"fmt"
	"image/color"
	"math"

	"github.com/ctessum/sparse"
	"github.com/sirupsen/logrus"
	"github.com/stormmodel/nowcast"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// fieldGrid adapts a 2-dimensional array to the plotter.GridXYZ
// interface, flipping the rows so that row zero of the raster is drawn
// at the top of the plot.
type fieldGrid struct {
	field *sparse.DenseArray
}

func (g fieldGrid) Dims() (c, r int) { return g.field.Shape[1], g.field.Shape[0] }

func (g fieldGrid) Z(c, r int) float64 { return g.field.Get(g.field.Shape[0]-1-r, c) }

func (g fieldGrid) X(c int) float64 { return float64(c) }

func (g fieldGrid) Y(r int) float64 { return float64(r) }

// Plot draws a heat map of the observations in InputFile to OutputFile
// as a PNG image. Quantity chooses what to draw: "rain" draws the
// precipitation frame with index Frame (negative indexes count back
// from the most recent frame), while "u", "v", and "speed" draw a
// component of the estimated motion field. If Vectors is true, the
// declustered sparse motion vectors are overlaid as scatter points.
func Plot(log logrus.FieldLogger, InputFile, OutputFile, Quantity string,
	Frame int, Vectors bool, cfg nowcast.Config) error {

	switch Quantity {
	case "rain", "u", "v", "speed":
	default:
		return fmt.Errorf("nowcastutil: unknown plot quantity %q; want rain, u, v, or speed", Quantity)
	}
	cfg.Logger = log

	r, err := nowcast.ReadFile(InputFile)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"file":   InputFile,
		"frames": r.Data.Shape[0],
	}).Info("read observations")
	rows, cols := r.Data.Shape[1], r.Data.Shape[2]

	var samples []nowcast.Vector
	if Quantity != "rain" || Vectors {
		samples, err = nowcast.SparseMotion(r.Data, cfg)
		if err != nil {
			return err
		}
	}

	var field *sparse.DenseArray
	var title string
	switch Quantity {
	case "rain":
		i := Frame
		if i < 0 {
			i += r.Data.Shape[0]
		}
		field, err = r.Frame(i)
		if err != nil {
			return err
		}
		title = fmt.Sprintf("precipitation frame %d (%s)", i, r.Meta.Unit)
	default: // u, v, speed
		motion := sparse.ZerosDense(2, rows, cols)
		if len(samples) > 0 {
			motion, err = nowcast.Interpolate(samples, rows, cols, cfg.Interp)
			if err != nil {
				return err
			}
		}
		grid := rows * cols
		field = sparse.ZerosDense(rows, cols)
		switch Quantity {
		case "u":
			copy(field.Elements, motion.Elements[:grid])
			title = "motion u component (pixels per timestep)"
		case "v":
			copy(field.Elements, motion.Elements[grid:])
			title = "motion v component (pixels per timestep)"
		case "speed":
			for i := 0; i < grid; i++ {
				field.Elements[i] = math.Hypot(motion.Elements[i], motion.Elements[grid+i])
			}
			title = "motion speed (pixels per timestep)"
		}
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "x (pixels)"
	p.Y.Label.Text = "y (pixels)"

	cm := moreland.ExtendedBlackBody()
	cm.SetMin(0)
	cm.SetMax(1)
	h := plotter.NewHeatMap(fieldGrid{field}, cm.Palette(255))
	if h.Min == h.Max {
		// A constant field would make the color scale degenerate.
		h.Max = h.Min + 1
	}
	p.Add(h)

	if Vectors {
		pts := make(plotter.XYs, len(samples))
		for i, v := range samples {
			pts[i].X = v.X
			pts[i].Y = float64(rows-1) - v.Y
		}
		s, err := plotter.NewScatter(pts)
		if err != nil {
			return fmt.Errorf("nowcastutil: building vector overlay: %v", err)
		}
		s.Color = color.NRGBA{0, 255, 255, 255}
		s.Radius = 1.5
		s.Shape = draw.CircleGlyph{}
		p.Add(s)
	}

	width := 7 * vg.Inch
	height := width * vg.Length(float64(rows)/float64(cols))
	if err := p.Save(width, height, OutputFile); err != nil {
		return fmt.Errorf("nowcastutil: saving plot: %v", err)
	}
	log.WithField("file", OutputFile).Info("wrote plot")
	return nil
}
