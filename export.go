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
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Knetic/govaluate"
	"github.com/ctessum/cdf"
	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/ctessum/sparse"
	goshp "github.com/jonas-p/go-shp"
)

// WriteFile writes a (time, y, x) precipitation sequence to a CF-style
// NetCDF file that ReadFile can read back. The data variable is named
// after the measurement unit in meta ("mm/h" gives precip_intensity,
// "mm" gives hourly_precip_accum, "dBZ" gives reflectivity), time is
// the record dimension, and the georeferencing in meta is stored as
// coordinate variables, global attributes and, for stereographic
// projections, a polar_stereographic grid-mapping variable.
func WriteFile(filename string, data *sparse.DenseArray, meta Metadata) error {
	if data == nil || len(data.Shape) != 3 {
		return fmt.Errorf("nowcast: writing a NetCDF file requires a 3-dimensional (time, y, x) sequence")
	}
	nt, ny, nx := data.Shape[0], data.Shape[1], data.Shape[2]

	var varName string
	switch meta.Unit {
	case "mm":
		varName = "hourly_precip_accum"
	case "dBZ":
		varName = "reflectivity"
	default:
		varName = "precip_intensity"
	}
	unit := meta.Unit
	if unit == "" {
		unit = rainVariableUnits[varName]
	}

	h := cdf.NewHeader([]string{"time", "y", "x"}, []int{0, ny, nx})
	addGlobalAttributes(h, meta)

	h.AddVariable("time", []string{"time"}, []float64{0})
	h.AddAttribute("time", "long_name", "forecast time")
	h.AddAttribute("time", "units", "seconds")

	addCoordVariables(h)

	h.AddVariable(varName, []string{"time", "y", "x"}, []float32{0})
	h.AddAttribute(varName, "units", unit)
	if meta.Transform != "" {
		h.AddAttribute(varName, "transform", meta.Transform)
	}
	h.AddAttribute(varName, "accutime", []float64{meta.AccuTime})
	h.AddAttribute(varName, "threshold", []float64{meta.Threshold})
	h.AddAttribute(varName, "zerovalue", []float64{meta.ZeroValue})
	addGridMapping(h, meta.Projection, varName)

	h.Define()
	for _, err := range h.Check() {
		return fmt.Errorf("nowcast: constructing NetCDF header: %v", err)
	}
	ff, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("nowcast: creating NetCDF file: %v", err)
	}
	defer ff.Close()
	f, err := cdf.Create(ff, h)
	if err != nil {
		return fmt.Errorf("nowcast: creating NetCDF file %s: %v", filename, err)
	}

	times := make([]float64, nt)
	for i := range times {
		times[i] = float64(i) * meta.Timestep * 60
	}
	w := f.Writer("time", nil, nil)
	if _, err := w.Write(times); err != nil {
		return fmt.Errorf("nowcast: writing NetCDF variable time: %v", err)
	}
	if err := writeCoordVariables(f, meta, ny, nx); err != nil {
		return err
	}

	data32 := make([]float32, len(data.Elements))
	for i, e := range data.Elements {
		data32[i] = float32(e)
	}
	w = f.Writer(varName, nil, nil)
	if _, err := w.Write(data32); err != nil {
		return fmt.Errorf("nowcast: writing NetCDF variable %s: %v", varName, err)
	}

	if err := cdf.UpdateNumRecs(ff); err != nil {
		return fmt.Errorf("nowcast: finalizing NetCDF file %s: %v", filename, err)
	}
	return nil
}

// WriteMotionFile writes a (2, y, x) motion field to a NetCDF file
// with float64 variables U and V holding the east-west and
// north-south velocity components in pixels per frame interval,
// georeferenced the same way as WriteFile output.
func WriteMotionFile(filename string, motion *sparse.DenseArray, meta Metadata) error {
	if motion == nil || len(motion.Shape) != 3 || motion.Shape[0] != 2 {
		return fmt.Errorf("nowcast: writing a motion file requires a (2, y, x) motion field")
	}
	ny, nx := motion.Shape[1], motion.Shape[2]

	h := cdf.NewHeader([]string{"y", "x"}, []int{ny, nx})
	addGlobalAttributes(h, meta)
	addCoordVariables(h)
	h.AddVariable("U", []string{"y", "x"}, []float64{0})
	h.AddAttribute("U", "long_name", "motion east-west component")
	h.AddAttribute("U", "units", "pixels per timestep")
	h.AddVariable("V", []string{"y", "x"}, []float64{0})
	h.AddAttribute("V", "long_name", "motion north-south component")
	h.AddAttribute("V", "units", "pixels per timestep")
	addGridMapping(h, meta.Projection, "U", "V")

	h.Define()
	for _, err := range h.Check() {
		return fmt.Errorf("nowcast: constructing NetCDF header: %v", err)
	}
	ff, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("nowcast: creating NetCDF file: %v", err)
	}
	defer ff.Close()
	f, err := cdf.Create(ff, h)
	if err != nil {
		return fmt.Errorf("nowcast: creating NetCDF file %s: %v", filename, err)
	}

	grid := ny * nx
	if err := writeCoordVariables(f, meta, ny, nx); err != nil {
		return err
	}
	if err := writeFloatVar(f, "U", motion.Elements[:grid]); err != nil {
		return err
	}
	if err := writeFloatVar(f, "V", motion.Elements[grid:]); err != nil {
		return err
	}
	return nil
}

// addGlobalAttributes stores the scalar parts of meta as global
// attributes.
func addGlobalAttributes(h *cdf.Header, meta Metadata) {
	h.AddAttribute("", "Conventions", "CF-1.7")
	if meta.Institution != "" {
		h.AddAttribute("", "institution", meta.Institution)
	}
	yorigin := meta.YOrigin
	if yorigin != "lower" {
		yorigin = "upper"
	}
	h.AddAttribute("", "yorigin", yorigin)
	h.AddAttribute("", "timestep", []float64{meta.Timestep})
	if meta.Projection != "" {
		h.AddAttribute("", "projection", meta.Projection)
	}
}

// addCoordVariables defines the xc and yc cell-center coordinate
// variables.
func addCoordVariables(h *cdf.Header) {
	h.AddVariable("xc", []string{"x"}, []float64{0})
	h.AddAttribute("xc", "standard_name", "projection_x_coordinate")
	h.AddAttribute("xc", "axis", "X")
	h.AddAttribute("xc", "units", "m")
	h.AddVariable("yc", []string{"y"}, []float64{0})
	h.AddAttribute("yc", "standard_name", "projection_y_coordinate")
	h.AddAttribute("yc", "axis", "Y")
	h.AddAttribute("yc", "units", "m")
}

// writeCoordVariables writes the cell-center coordinate values implied
// by meta for a raster with ny rows and nx columns. For an "upper" y
// origin the yc values decrease with the row index.
func writeCoordVariables(f *cdf.File, meta Metadata, ny, nx int) error {
	xc := make([]float64, nx)
	for j := range xc {
		xc[j] = meta.X1 + (float64(j)+0.5)*meta.XPixelSize
	}
	if err := writeFloatVar(f, "xc", xc); err != nil {
		return err
	}
	yc := make([]float64, ny)
	for r := range yc {
		if meta.YOrigin == "lower" {
			yc[r] = meta.Y1 + (float64(r)+0.5)*meta.YPixelSize
		} else {
			yc[r] = meta.Y2 - (float64(r)+0.5)*meta.YPixelSize
		}
	}
	return writeFloatVar(f, "yc", yc)
}

// writeFloatVar writes vals to the fixed-size float64 NetCDF variable v.
func writeFloatVar(f *cdf.File, v string, vals []float64) error {
	end := f.Header.Lengths(v)
	start := make([]int, len(end))
	w := f.Writer(v, start, end)
	if _, err := w.Write(vals); err != nil {
		return fmt.Errorf("nowcast: writing NetCDF variable %s: %v", v, err)
	}
	return nil
}

// stereParams maps PROJ.4 stereographic parameters to the equivalent
// CF grid-mapping attribute names.
var stereParams = []struct {
	param, attr string
	optional    bool
}{
	{param: "lon_0", attr: "straight_vertical_longitude_from_pole"},
	{param: "lat_0", attr: "latitude_of_projection_origin"},
	{param: "lat_ts", attr: "standard_parallel", optional: true},
	{param: "k_0", attr: "scale_factor_at_projection_origin", optional: true},
	{param: "x_0", attr: "false_easting"},
	{param: "y_0", attr: "false_northing"},
}

// addGridMapping adds a polar_stereographic grid-mapping variable
// describing projection when it is a PROJ.4 stereographic definition,
// and points the grid_mapping attribute of each of dataVars at it.
// Other projections are carried by the global projection attribute
// alone.
func addGridMapping(h *cdf.Header, projection string, dataVars ...string) {
	params := make(map[string]string)
	for _, tok := range strings.Fields(projection) {
		tok = strings.TrimPrefix(tok, "+")
		if eq := strings.Index(tok, "="); eq >= 0 {
			params[tok[:eq]] = tok[eq+1:]
		}
	}
	if params["proj"] != "stere" {
		return
	}
	const gm = "polar_stereographic"
	h.AddVariable(gm, nil, []int32{0})
	h.AddAttribute(gm, "grid_mapping_name", gm)
	for _, p := range stereParams {
		s, ok := params[p.param]
		if !ok {
			if p.optional {
				continue
			}
			s = "0" // PROJ.4 defaults omitted numeric parameters to zero.
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			continue
		}
		h.AddAttribute(gm, p.attr, []float64{v})
	}
	for _, v := range dataVars {
		h.AddAttribute(v, "grid_mapping", gm)
	}
}

// projectPixel converts a pixel-space position to projected
// coordinates using the raster georeferencing in m. When m carries no
// resolution information the pixel coordinates are returned unchanged.
func (m Metadata) projectPixel(px, py float64) (x, y float64) {
	if m.XPixelSize == 0 || m.YPixelSize == 0 {
		return px, py
	}
	x = m.X1 + (px+0.5)*m.XPixelSize
	if m.YOrigin == "lower" {
		y = m.Y1 + (py+0.5)*m.YPixelSize
	} else {
		y = m.Y2 - (py+0.5)*m.YPixelSize
	}
	return x, y
}

// projectVelocity converts a pixel-space velocity to projected meters
// per frame interval. For an "upper" y origin the row direction points
// south, so the y component changes sign.
func (m Metadata) projectVelocity(u, v float64) (float64, float64) {
	if m.XPixelSize == 0 || m.YPixelSize == 0 {
		return u, v
	}
	if m.YOrigin == "lower" {
		return u * m.XPixelSize, v * m.YPixelSize
	}
	return u * m.XPixelSize, -v * m.YPixelSize
}

// WriteVectorShapefile writes sparse motion vectors to an ESRI point
// shapefile with fields x, y, u, v and speed, accompanied by a .prj
// file when meta carries a projection. Positions and velocities are
// converted from pixel space to projected coordinates when meta
// carries raster georeferencing.
func WriteVectorShapefile(filename string, vectors []Vector, meta Metadata) error {
	if len(vectors) == 0 {
		return fmt.Errorf("nowcast: no motion vectors to write")
	}
	fields := []goshp.Field{
		goshp.FloatField("x", 14, 8),
		goshp.FloatField("y", 14, 8),
		goshp.FloatField("u", 14, 8),
		goshp.FloatField("v", 14, 8),
		goshp.FloatField("speed", 14, 8),
	}
	fileBase := strings.TrimSuffix(filename, filepath.Ext(filename))
	shape, err := shp.NewEncoderFromFields(fileBase+".shp", goshp.POINT, fields...)
	if err != nil {
		return fmt.Errorf("nowcast: creating vector shapefile: %v", err)
	}
	for _, vec := range vectors {
		x, y := meta.projectPixel(vec.X, vec.Y)
		u, v := meta.projectVelocity(vec.U, vec.V)
		err := shape.EncodeFields(geom.Point{X: x, Y: y}, x, y, u, v, math.Hypot(u, v))
		if err != nil {
			return fmt.Errorf("nowcast: writing vector shapefile: %v", err)
		}
	}
	shape.Close()
	return writePrj(fileBase, meta.Projection)
}

// DeleteShapefile deletes the named shapefile and its auxiliary files
// (.dbf, .shx, .prj), ignoring files that do not exist.
func DeleteShapefile(fname string) error {
	fileBase := strings.TrimSuffix(fname, filepath.Ext(fname))
	for _, ext := range []string{".shp", ".dbf", ".shx", ".prj"} {
		if err := os.Remove(fileBase + ext); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// writePrj stores the projection definition next to a shapefile.
func writePrj(fileBase, projection string) error {
	if projection == "" {
		return nil
	}
	f, err := os.Create(fileBase + ".prj")
	if err != nil {
		return fmt.Errorf("nowcast: creating output prj file: %v", err)
	}
	fmt.Fprint(f, projection)
	return f.Close()
}

// cellVariables are the per-cell bindings available to output variable
// expressions.
var cellVariables = map[string]string{
	"R":     "precipitation value at the cell",
	"U":     "motion east-west component (pixels per timestep)",
	"V":     "motion north-south component (pixels per timestep)",
	"speed": "motion magnitude (pixels per timestep)",
	"x":     "cell-center x coordinate",
	"y":     "cell-center y coordinate",
}

// Outputter is a holder for output parameters.
//
// fileName contains the path where the output will be saved.
//
// outputVariables maps the names of the variables for which data
// should be returned to expressions that define how the requested data
// should be calculated. The expressions can use the per-cell bindings
// listed in cellVariables and the functions in outputFunctions.
type Outputter struct {
	fileName        string
	outputVariables map[string]string
	outputFunctions map[string]govaluate.ExpressionFunction
	expressions     map[string]*govaluate.EvaluableExpression
}

// NewOutputter initializes a new Outputter holder and adds a set of
// default output functions: 'sqrt(x)', 'log(x)', 'exp(x)' and
// 'abs(x)'. Every variable referenced by an output expression must be
// one of the per-cell bindings in cellVariables.
func NewOutputter(fileName string, outputVariables map[string]string, outputFunctions map[string]govaluate.ExpressionFunction) (*Outputter, error) {
	defaultOutputFuncs := map[string]govaluate.ExpressionFunction{
		"sqrt": func(arg ...interface{}) (interface{}, error) {
			if len(arg) != 1 {
				return nil, fmt.Errorf("nowcast: got %d arguments for function 'sqrt', but needs 1", len(arg))
			}
			return (float64)(math.Sqrt(arg[0].(float64))), nil
		},
		"log": func(arg ...interface{}) (interface{}, error) {
			if len(arg) != 1 {
				return nil, fmt.Errorf("nowcast: got %d arguments for function 'log', but needs 1", len(arg))
			}
			return (float64)(math.Log(arg[0].(float64))), nil
		},
		"exp": func(arg ...interface{}) (interface{}, error) {
			if len(arg) != 1 {
				return nil, fmt.Errorf("nowcast: got %d arguments for function 'exp', but needs 1", len(arg))
			}
			return (float64)(math.Exp(arg[0].(float64))), nil
		},
		"abs": func(arg ...interface{}) (interface{}, error) {
			if len(arg) != 1 {
				return nil, fmt.Errorf("nowcast: got %d arguments for function 'abs', but needs 1", len(arg))
			}
			return (float64)(math.Abs(arg[0].(float64))), nil
		},
	}
	for key, val := range outputFunctions {
		defaultOutputFuncs[key] = val
	}

	if len(outputVariables) == 0 {
		return nil, fmt.Errorf("nowcast: no output variables specified")
	}
	if err := checkOutputNames(outputVariables); err != nil {
		return nil, err
	}

	o := &Outputter{
		fileName:        fileName,
		outputVariables: outputVariables,
		outputFunctions: defaultOutputFuncs,
		expressions:     make(map[string]*govaluate.EvaluableExpression, len(outputVariables)),
	}
	for key, val := range outputVariables {
		expression, err := govaluate.NewEvaluableExpressionWithFunctions(val, o.outputFunctions)
		if err != nil {
			return nil, fmt.Errorf("nowcast: output variable %s: %v", key, err)
		}
		for _, v := range removeDuplicates(expression.Vars()) {
			if _, ok := cellVariables[v]; !ok {
				return nil, fmt.Errorf("nowcast: undefined variable name '%s' in output variable %s", v, key)
			}
		}
		o.expressions[key] = expression
	}
	return o, nil
}

// removeDuplicates removes all duplicated strings from a slice,
// returning a slice that contains only unique strings.
func removeDuplicates(s []string) []string {
	result := make([]string, 0, len(s))
	seen := make(map[string]string)
	for _, val := range s {
		if _, ok := seen[val]; !ok {
			result = append(result, val)
			seen[val] = val
		}
	}
	return result
}

// checkOutputNames checks (1) if any output variable names exceed 10
// characters and (2) if any output variable names include characters
// that are unsupported in shapefile field names.
func checkOutputNames(o map[string]string) error {
	for key := range o {
		long := len(key) > 10
		noCharError, err := regexp.MatchString("^[A-Za-z]\\w*$", key)
		if err != nil {
			panic(err)
		}
		if long && !noCharError {
			return fmt.Errorf("nowcast: output variable name '%s' exceeds 10 characters and includes unsupported character(s)", key)
		} else if long {
			return fmt.Errorf("nowcast: output variable name '%s' exceeds 10 characters", key)
		} else if !noCharError {
			return fmt.Errorf("nowcast: output variable name '%s' includes unsupported characters", key)
		}
	}
	return nil
}

// Output evaluates the output variable expressions for every grid cell
// of field and writes one point-shapefile record per cell, positioned
// at the projected cell center. motion supplies the U, V and speed
// bindings; it may be nil, in which case those bindings are zero.
func (o *Outputter) Output(field, motion *sparse.DenseArray, meta Metadata) error {
	if field == nil || len(field.Shape) != 2 {
		return fmt.Errorf("nowcast: shapefile output requires a 2-dimensional field")
	}
	ny, nx := field.Shape[0], field.Shape[1]
	if motion != nil && (len(motion.Shape) != 3 || motion.Shape[0] != 2 ||
		motion.Shape[1] != ny || motion.Shape[2] != nx) {
		return fmt.Errorf("nowcast: motion field shape %v does not match (2, %d, %d)", motion.Shape, ny, nx)
	}

	vars := make([]string, 0, len(o.expressions))
	for v := range o.expressions {
		vars = append(vars, v)
	}
	sort.Strings(vars)
	fields := make([]goshp.Field, len(vars))
	for i, v := range vars {
		fields[i] = goshp.FloatField(v, 14, 8)
	}

	fileBase := strings.TrimSuffix(o.fileName, filepath.Ext(o.fileName))
	shape, err := shp.NewEncoderFromFields(fileBase+".shp", goshp.POINT, fields...)
	if err != nil {
		return fmt.Errorf("nowcast: creating output shapefile: %v", err)
	}

	params := make(map[string]interface{}, len(cellVariables))
	outFields := make([]interface{}, len(vars))
	for r := 0; r < ny; r++ {
		for c := 0; c < nx; c++ {
			x, y := meta.projectPixel(float64(c), float64(r))
			var u, v float64
			if motion != nil {
				u = motion.Get(0, r, c)
				v = motion.Get(1, r, c)
			}
			params["R"] = field.Get(r, c)
			params["U"] = u
			params["V"] = v
			params["speed"] = math.Hypot(u, v)
			params["x"] = x
			params["y"] = y
			for i, name := range vars {
				result, err := o.expressions[name].Evaluate(params)
				if err != nil {
					return fmt.Errorf("nowcast: evaluating output variable %s: %v", name, err)
				}
				val, ok := result.(float64)
				if !ok {
					return fmt.Errorf("nowcast: output variable %s evaluated to %T; want a number", name, result)
				}
				outFields[i] = val
			}
			if err := shape.EncodeFields(geom.Point{X: x, Y: y}, outFields...); err != nil {
				return fmt.Errorf("nowcast: writing output shapefile: %v", err)
			}
		}
	}
	shape.Close()
	return writePrj(fileBase, meta.Projection)
}
