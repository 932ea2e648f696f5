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
	"os"
	"strconv"
	"strings"

	"github.com/ctessum/cdf"
	"github.com/ctessum/geom/proj"
	"github.com/ctessum/sparse"
)

// rainVariables are the NetCDF variable names that are searched for
// precipitation data, in order of preference.
var rainVariables = []string{"precip_intensity", "hourly_precip_accum", "reflectivity"}

// rainVariableUnits gives the measurement unit implied by each
// precipitation variable name.
var rainVariableUnits = map[string]string{
	"precip_intensity":    "mm/h",
	"hourly_precip_accum": "mm",
	"reflectivity":        "dBZ",
}

// Metadata describes the georeferencing and physical properties of a
// precipitation raster sequence.
type Metadata struct {
	// Projection is a PROJ.4-compatible projection definition, or ""
	// when the file carries none.
	Projection string

	// X1, Y1 give the lower-left and X2, Y2 the upper-right corner of
	// the data raster in projected coordinates (meters).
	X1, Y1, X2, Y2 float64

	// XPixelSize and YPixelSize give the grid resolution in the x and
	// y directions (meters).
	XPixelSize, YPixelSize float64

	// YOrigin specifies the location of row 0 of the raster with
	// respect to the y axis: "upper" for the upper border or "lower"
	// for the lower border.
	YOrigin string

	// Institution names the provider of the data.
	Institution string

	// Timestep is the time between consecutive frames in minutes.
	Timestep float64

	// Unit is the physical unit of the data: "mm/h", "mm" or "dBZ".
	Unit string

	// Transform names the transformation applied to the data, such as
	// "dB" or "Box-Cox"; "" means none.
	Transform string

	// AccuTime is the accumulation time of the data in minutes.
	AccuTime float64

	// Threshold is the rain/no-rain threshold in the same unit and
	// transformation as the data.
	Threshold float64

	// ZeroValue is the value assigned to no-rain pixels in the same
	// unit and transformation as the data.
	ZeroValue float64
}

// RainSequence is a time series of precipitation rasters with shape
// (time, y, x), together with the metadata needed to georeference and
// interpret it.
type RainSequence struct {
	Data *sparse.DenseArray
	Meta Metadata
}

// Frame returns a copy of observation i of the sequence as a
// 2-dimensional (y, x) field.
func (s *RainSequence) Frame(i int) (*sparse.DenseArray, error) {
	if s.Data == nil || len(s.Data.Shape) != 3 {
		return nil, fmt.Errorf("nowcast: extracting a frame requires a 3-dimensional (time, y, x) sequence")
	}
	if i < 0 || i >= s.Data.Shape[0] {
		return nil, fmt.Errorf("nowcast: frame index %d out of range [0, %d)", i, s.Data.Shape[0])
	}
	return frame(s.Data, i), nil
}

// ReadFile reads a precipitation sequence from a CF-style NetCDF file.
// The file must contain one of the variables named by rainVariables
// with shape (time, y, x); a single 2-dimensional frame is accepted
// and returned with a time dimension of length one.
//
// The projection definition is reconstructed from a
// "polar_stereographic" grid-mapping variable when one is present,
// otherwise from a global "projection" attribute. The raster extent
// and resolution come from the "xc" and "yc" cell-center coordinate
// variables. When the rain/no-rain threshold and no-rain value are not
// stored as attributes they are derived from the data: the no-rain
// value is the smallest finite value, and the threshold is the
// smallest finite value above it.
func ReadFile(filename string) (*RainSequence, error) {
	ff, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("nowcast: opening NetCDF file: %v", err)
	}
	defer ff.Close()
	f, err := cdf.Open(ff)
	if err != nil {
		return nil, fmt.Errorf("nowcast: reading NetCDF file %s: %v", filename, err)
	}

	varName := ""
	for _, v := range rainVariables {
		if f.Header.Lengths(v) != nil {
			varName = v
			break
		}
	}
	if varName == "" {
		return nil, fmt.Errorf("nowcast: %s does not contain any supported variable name (%s)",
			filename, strings.Join(rainVariables, ", "))
	}

	dims := f.Header.Lengths(varName)
	var nt, ny, nx int
	switch len(dims) {
	case 2:
		nt, ny, nx = 1, dims[0], dims[1]
	case 3:
		nt, ny, nx = dims[0], dims[1], dims[2]
		if nt == 0 { // time is the record dimension; count records from the file size.
			fi, err := ff.Stat()
			if err != nil {
				return nil, fmt.Errorf("nowcast: reading NetCDF file %s: %v", filename, err)
			}
			nt = int(f.Header.NumRecs(fi.Size()))
		}
	default:
		return nil, fmt.Errorf("nowcast: variable %s in %s has %d dimensions; want 2 or 3",
			varName, filename, len(dims))
	}
	if nt < 1 || ny < 1 || nx < 1 {
		return nil, fmt.Errorf("nowcast: variable %s in %s has empty shape (%d, %d, %d)",
			varName, filename, nt, ny, nx)
	}

	vals, err := readFloats(f, varName, nt*ny*nx)
	if err != nil {
		return nil, err
	}
	data := sparse.ZerosDense(nt, ny, nx)
	copy(data.Elements, vals)

	meta, err := readMetadata(f, varName, data)
	if err != nil {
		return nil, err
	}
	return &RainSequence{Data: data, Meta: meta}, nil
}

// readMetadata assembles the Metadata for data variable varName from
// the attributes and coordinate variables of f, filling in defaults
// for whatever the file does not carry.
func readMetadata(f *cdf.File, varName string, data *sparse.DenseArray) (Metadata, error) {
	var meta Metadata
	var err error

	const gridMapping = "polar_stereographic"
	if f.Header.Lengths(gridMapping) != nil {
		meta.Projection, err = projFromGridMapping(f.Header, gridMapping)
		if err != nil {
			return meta, err
		}
	} else if p, ok := attrString(f.Header, "", "projection"); ok {
		if _, err := proj.Parse(p); err != nil {
			return meta, fmt.Errorf("nowcast: invalid projection %q: %v", p, err)
		}
		meta.Projection = p
	}

	ny, nx := data.Shape[1], data.Shape[2]
	var yc []float64
	if f.Header.Lengths("xc") != nil {
		xc, err := readFloats(f, "xc", nx)
		if err != nil {
			return meta, err
		}
		meta.X1, meta.X2, meta.XPixelSize = coordExtent(xc)
	}
	if f.Header.Lengths("yc") != nil {
		yc, err = readFloats(f, "yc", ny)
		if err != nil {
			return meta, err
		}
		meta.Y1, meta.Y2, meta.YPixelSize = coordExtent(yc)
	}

	if s, ok := attrString(f.Header, "", "yorigin"); ok {
		meta.YOrigin = s
	} else if len(yc) > 1 && yc[0] < yc[len(yc)-1] {
		meta.YOrigin = "lower"
	} else {
		meta.YOrigin = "upper"
	}
	meta.Institution, _ = attrString(f.Header, "", "institution")

	if ts, ok := attrFloat(f.Header, "", "timestep"); ok {
		meta.Timestep = ts
	} else if f.Header.Lengths("time") != nil && data.Shape[0] > 1 {
		// Fall back on the spacing of the time coordinate, which is
		// in seconds.
		if t, err := readFloats(f, "time", 2); err == nil {
			meta.Timestep = (t[1] - t[0]) / 60
		}
	}

	if s, ok := attrString(f.Header, varName, "units"); ok {
		meta.Unit = s
	} else {
		meta.Unit = rainVariableUnits[varName]
	}
	meta.Transform, _ = attrString(f.Header, varName, "transform")
	meta.AccuTime, _ = attrFloat(f.Header, varName, "accutime")

	zv, zvOK := attrFloat(f.Header, varName, "zerovalue")
	if !zvOK {
		zv, _ = finiteMin(data.Elements, math.Inf(-1))
	}
	meta.ZeroValue = zv
	if thr, ok := attrFloat(f.Header, varName, "threshold"); ok {
		meta.Threshold = thr
	} else if thr, ok := finiteMin(data.Elements, zv); ok {
		meta.Threshold = thr
	} else {
		meta.Threshold = zv
	}
	return meta, nil
}

// projFromGridMapping builds a PROJ.4 projection definition from the
// attributes of a CF grid-mapping variable. Only the
// polar_stereographic mapping is currently supported.
func projFromGridMapping(h *cdf.Header, v string) (string, error) {
	name, _ := attrString(h, v, "grid_mapping_name")
	if name != "polar_stereographic" {
		return "", fmt.Errorf("nowcast: unsupported grid mapping %q for variable %s", name, v)
	}
	var b strings.Builder
	b.WriteString("+proj=stere")
	for _, p := range []struct {
		attr, param string
		optional    bool
	}{
		{attr: "straight_vertical_longitude_from_pole", param: "lon_0"},
		{attr: "latitude_of_projection_origin", param: "lat_0"},
		{attr: "standard_parallel", param: "lat_ts", optional: true},
		{attr: "scale_factor_at_projection_origin", param: "k_0", optional: true},
		{attr: "false_easting", param: "x_0"},
		{attr: "false_northing", param: "y_0"},
	} {
		val, ok := attrFloat(h, v, p.attr)
		if !ok {
			if p.optional {
				continue
			}
			return "", fmt.Errorf("nowcast: grid-mapping variable %s is missing attribute %s", v, p.attr)
		}
		fmt.Fprintf(&b, " +%s=%s", p.param, strconv.FormatFloat(val, 'g', -1, 64))
	}
	code := b.String()
	if _, err := proj.Parse(code); err != nil {
		return "", fmt.Errorf("nowcast: invalid projection %q: %v", code, err)
	}
	return code, nil
}

// readFloats reads n values of NetCDF variable v as float64s.
func readFloats(f *cdf.File, v string, n int) ([]float64, error) {
	r := f.Reader(v, nil, nil)
	buf := r.Zero(n)
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("nowcast: reading NetCDF variable %s: %v", v, err)
	}
	out := make([]float64, n)
	switch b := buf.(type) {
	case []float64:
		copy(out, b)
	case []float32:
		for i, x := range b {
			out[i] = float64(x)
		}
	case []int32:
		for i, x := range b {
			out[i] = float64(x)
		}
	case []int16:
		for i, x := range b {
			out[i] = float64(x)
		}
	default:
		return nil, fmt.Errorf("nowcast: NetCDF variable %s has unsupported type %T", v, buf)
	}
	return out, nil
}

// attrString returns the string value of attribute a of variable v
// (global when v is ""), and whether the attribute exists.
func attrString(h *cdf.Header, v, a string) (string, bool) {
	s, ok := h.GetAttribute(v, a).(string)
	return s, ok
}

// attrFloat returns the value of a numeric single-element attribute a
// of variable v (global when v is ""), and whether such an attribute
// exists.
func attrFloat(h *cdf.Header, v, a string) (float64, bool) {
	switch b := h.GetAttribute(v, a).(type) {
	case []float64:
		if len(b) == 1 {
			return b[0], true
		}
	case []float32:
		if len(b) == 1 {
			return float64(b[0]), true
		}
	case []int32:
		if len(b) == 1 {
			return float64(b[0]), true
		}
	case []int16:
		if len(b) == 1 {
			return float64(b[0]), true
		}
	}
	return 0, false
}

// coordExtent converts cell-center coordinates along one axis to the
// outer corner positions of the raster and its grid resolution.
func coordExtent(centers []float64) (lo, hi, size float64) {
	min, max := minMax(centers)
	if len(centers) > 1 {
		size = (max - min) / float64(len(centers)-1)
	}
	return min - size/2, max + size/2, size
}

// finiteMin returns the smallest finite value in x that is greater
// than floor, and whether one exists.
func finiteMin(x []float64, floor float64) (float64, bool) {
	min, ok := math.Inf(1), false
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= floor {
			continue
		}
		if v < min {
			min, ok = v, true
		}
	}
	if !ok {
		return math.NaN(), false
	}
	return min, true
}
