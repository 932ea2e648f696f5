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
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/ctessum/cdf"
	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/ctessum/sparse"
)

const testProjection = "+proj=stere +lon_0=25 +lat_0=90 +lat_ts=60 +x_0=500000 +y_0=500000"

// testMetadata returns a fully populated Metadata whose extent is
// consistent with a raster of ny rows and nx columns, using power-of-two
// resolutions so that coordinate arithmetic is exact.
func testMetadata(ny, nx int) Metadata {
	return Metadata{
		Projection:  testProjection,
		X1:          -2048,
		Y1:          0,
		X2:          -2048 + float64(nx)*1024,
		Y2:          float64(ny) * 512,
		XPixelSize:  1024,
		YPixelSize:  512,
		YOrigin:     "upper",
		Institution: "Nowcast test suite",
		Timestep:    5,
		Unit:        "mm/h",
		Transform:   "dB",
		AccuTime:    5,
		Threshold:   0.25,
		ZeroValue:   0,
	}
}

func TestWriteReadFile(t *testing.T) {
	const tol = 1.e-10

	data := sparse.ZerosDense(2, 4, 5)
	for i := range data.Elements {
		data.Elements[i] = 0.25 * float64(i)
	}
	meta := testMetadata(4, 5)

	fname := filepath.Join(t.TempDir(), "rain.nc")
	if err := WriteFile(fname, data, meta); err != nil {
		t.Fatal(err)
	}
	r, err := ReadFile(fname)
	if err != nil {
		t.Fatal(err)
	}

	if len(r.Data.Shape) != 3 || r.Data.Shape[0] != 2 || r.Data.Shape[1] != 4 || r.Data.Shape[2] != 5 {
		t.Fatalf("shape: want [2 4 5] but have %v", r.Data.Shape)
	}
	for i, v := range data.Elements {
		if absDifferent(r.Data.Elements[i], v, tol) {
			t.Errorf("element %d: want %g but have %g", i, v, r.Data.Elements[i])
		}
	}
	if r.Meta != meta {
		t.Errorf("metadata: want %+v but have %+v", meta, r.Meta)
	}
}

func TestWriteReadFileLowerOrigin(t *testing.T) {
	const tol = 1.e-10

	data := sparse.ZerosDense(1, 3, 4)
	for i := range data.Elements {
		data.Elements[i] = 0.5 * float64(i+1)
	}
	meta := Metadata{
		X1:         0,
		Y1:         0,
		X2:         4000,
		Y2:         3000,
		XPixelSize: 1000,
		YPixelSize: 1000,
		YOrigin:    "lower",
		Timestep:   10,
		Unit:       "mm",
		AccuTime:   15,
		Threshold:  0.5,
		ZeroValue:  0,
	}

	fname := filepath.Join(t.TempDir(), "accum.nc")
	if err := WriteFile(fname, data, meta); err != nil {
		t.Fatal(err)
	}
	r, err := ReadFile(fname)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range data.Elements {
		if absDifferent(r.Data.Elements[i], v, tol) {
			t.Errorf("element %d: want %g but have %g", i, v, r.Data.Elements[i])
		}
	}
	if r.Meta != meta {
		t.Errorf("metadata: want %+v but have %+v", meta, r.Meta)
	}
}

func TestWriteFileBadShape(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "bad.nc")
	if err := WriteFile(fname, sparse.ZerosDense(3, 4), Metadata{}); err == nil {
		t.Error("want an error for a 2-dimensional argument")
	}
	if err := WriteFile(fname, nil, Metadata{}); err == nil {
		t.Error("want an error for a nil argument")
	}
}

func TestReadFileMissingVariable(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "other.nc")

	h := cdf.NewHeader([]string{"y", "x"}, []int{2, 2})
	h.AddVariable("foo", []string{"y", "x"}, []float32{0})
	h.Define()
	ff, err := os.Create(fname)
	if err != nil {
		t.Fatal(err)
	}
	f, err := cdf.Create(ff, h)
	if err != nil {
		t.Fatal(err)
	}
	w := f.Writer("foo", []int{0, 0}, []int{2, 2})
	if _, err := w.Write([]float32{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	ff.Close()

	_, err = ReadFile(fname)
	if err == nil {
		t.Fatal("want an error for a file without a supported variable name")
	}
	if !strings.Contains(err.Error(), "does not contain any supported variable name") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestWriteMotionFile(t *testing.T) {
	const tol = 1.e-10

	motion := sparse.ZerosDense(2, 3, 4)
	for i := range motion.Elements {
		motion.Elements[i] = float64(i) - 5
	}
	meta := testMetadata(3, 4)

	fname := filepath.Join(t.TempDir(), "motion.nc")
	if err := WriteMotionFile(fname, motion, meta); err != nil {
		t.Fatal(err)
	}

	ff, err := os.Open(fname)
	if err != nil {
		t.Fatal(err)
	}
	defer ff.Close()
	f, err := cdf.Open(ff)
	if err != nil {
		t.Fatal(err)
	}
	grid := 3 * 4
	u, err := readFloats(f, "U", grid)
	if err != nil {
		t.Fatal(err)
	}
	v, err := readFloats(f, "V", grid)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < grid; i++ {
		if absDifferent(u[i], motion.Elements[i], tol) {
			t.Errorf("U element %d: want %g but have %g", i, motion.Elements[i], u[i])
		}
		if absDifferent(v[i], motion.Elements[grid+i], tol) {
			t.Errorf("V element %d: want %g but have %g", i, motion.Elements[grid+i], v[i])
		}
	}

	p, err := projFromGridMapping(f.Header, "polar_stereographic")
	if err != nil {
		t.Fatal(err)
	}
	if p != meta.Projection {
		t.Errorf("projection: want %q but have %q", meta.Projection, p)
	}
	if s, _ := attrString(f.Header, "", "yorigin"); s != "upper" {
		t.Errorf("yorigin: want %q but have %q", "upper", s)
	}
	xc, err := readFloats(f, "xc", 4)
	if err != nil {
		t.Fatal(err)
	}
	if want := meta.X1 + 0.5*meta.XPixelSize; absDifferent(xc[0], want, tol) {
		t.Errorf("xc[0]: want %g but have %g", want, xc[0])
	}

	if err := WriteMotionFile(fname, sparse.ZerosDense(3, 3, 4), meta); err == nil {
		t.Error("want an error for a motion field that is not (2, y, x)")
	}
}

func TestNewOutputterErrors(t *testing.T) {
	cases := []struct {
		name string
		vars map[string]string
		want string
	}{
		{"undefined variable", map[string]string{"bad": "R + bogus"}, "undefined variable name 'bogus'"},
		{"long name", map[string]string{"averyverylongname": "R"}, "exceeds 10 characters"},
		{"bad characters", map[string]string{"p-1": "R"}, "unsupported characters"},
		{"no variables", nil, "no output variables"},
		{"parse failure", map[string]string{"bad": "(R"}, ""},
	}
	for _, c := range cases {
		_, err := NewOutputter("out.shp", c.vars, nil)
		if err == nil {
			t.Errorf("%s: want an error", c.name)
			continue
		}
		if !strings.Contains(err.Error(), c.want) {
			t.Errorf("%s: unexpected error: %v", c.name, err)
		}
	}
}

func TestOutputterOutput(t *testing.T) {
	const tol = 1.e-6

	field := sparse.ZerosDense(2, 3)
	copy(field.Elements, []float64{1, 4, 9, 16, 25, 36})
	motion := sparse.ZerosDense(2, 2, 3)
	copy(motion.Elements, []float64{
		1, 2, 3, 4, 5, 6, // U
		2, 2, 2, 1, 1, 1, // V
	})

	fname := filepath.Join(t.TempDir(), "out.shp")
	o, err := NewOutputter(fname, map[string]string{
		"scaled":  "sqrt(R)",
		"speedsq": "U*U + V*V",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := o.Output(sparse.ZerosDense(2, 3, 4), motion, Metadata{}); err == nil {
		t.Error("want an error for a 3-dimensional field")
	}
	if err := o.Output(field, motion, Metadata{}); err != nil {
		t.Fatal(err)
	}

	d, err := shp.NewDecoder(fname)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	if n := d.AttributeCount(); n != 6 {
		t.Fatalf("want 6 records but have %d", n)
	}
	for i := 0; i < 6; i++ {
		g, fields, more := d.DecodeRowFields("scaled", "speedsq")
		if !more {
			t.Fatal("ran out of rows")
		}
		r, c := i/3, i%3
		pt := g.(geom.Point)
		if absDifferent(pt.X, float64(c), tol) || absDifferent(pt.Y, float64(r), tol) {
			t.Errorf("row %d: want point (%d, %d) but have (%g, %g)", i, c, r, pt.X, pt.Y)
		}
		u := motion.Get(0, r, c)
		v := motion.Get(1, r, c)
		for name, valStr := range fields {
			got, err := strconv.ParseFloat(valStr, 64)
			if err != nil {
				t.Fatal(err)
			}
			var want float64
			switch name {
			case "scaled":
				want = math.Sqrt(field.Get(r, c))
			case "speedsq":
				want = u*u + v*v
			default:
				t.Fatalf("unexpected field %s", name)
			}
			if absDifferent(got, want, tol) {
				t.Errorf("row %d field %s: want %g but have %g", i, name, want, got)
			}
		}
	}
	if err := d.Error(); err != nil {
		t.Fatal(err)
	}
}

func TestWriteVectorShapefile(t *testing.T) {
	const tol = 1.e-6

	meta := testMetadata(4, 5)
	vectors := []Vector{
		{X: 1, Y: 2, U: 0.375, V: -1},
		{X: 2, Y: 0, U: -0.375, V: 1},
	}
	want := [][]float64{
		{-512, 768, 384, 512, 640},
		{512, 1792, -384, -512, 640},
	}

	dir := t.TempDir()
	fname := filepath.Join(dir, "vectors.shp")
	if err := WriteVectorShapefile(fname, vectors, meta); err != nil {
		t.Fatal(err)
	}

	d, err := shp.NewDecoder(fname)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	if n := d.AttributeCount(); n != len(vectors) {
		t.Fatalf("want %d records but have %d", len(vectors), n)
	}
	names := []string{"x", "y", "u", "v", "speed"}
	for i := 0; i < len(vectors); i++ {
		g, fields, more := d.DecodeRowFields(names...)
		if !more {
			t.Fatal("ran out of rows")
		}
		pt := g.(geom.Point)
		if absDifferent(pt.X, want[i][0], tol) || absDifferent(pt.Y, want[i][1], tol) {
			t.Errorf("row %d: want point (%g, %g) but have (%g, %g)", i, want[i][0], want[i][1], pt.X, pt.Y)
		}
		for j, name := range names {
			got, err := strconv.ParseFloat(fields[name], 64)
			if err != nil {
				t.Fatal(err)
			}
			if absDifferent(got, want[i][j], tol) {
				t.Errorf("row %d field %s: want %g but have %g", i, name, want[i][j], got)
			}
		}
	}
	if err := d.Error(); err != nil {
		t.Fatal(err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "vectors.prj"))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != meta.Projection {
		t.Errorf("prj: want %q but have %q", meta.Projection, string(b))
	}

	if err := WriteVectorShapefile(filepath.Join(dir, "empty.shp"), nil, meta); err == nil {
		t.Error("want an error for an empty vector set")
	}
}
