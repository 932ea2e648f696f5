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
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
	"github.com/stormmodel/nowcast"
)

// checkOutputVars removes end lines and expands environment
// variables in the output variables.
func checkOutputVars(vars map[string]string) (map[string]string, error) {
	if len(vars) == 0 {
		return nil, fmt.Errorf("nowcastutil: there are no variables specified for output. Please fill in " +
			"the OutputVariables configuration and try again.")
	}
	for k, v := range vars {
		v = strings.Replace(v, "\r\n", " ", -1)
		v = strings.Replace(v, "\n", " ", -1)
		vars[os.ExpandEnv(k)] = os.ExpandEnv(v)
	}
	return vars, nil
}

// checkOutputFile makes sure that the output file is specified and its
// directory exists, and expands any environment variables.
func checkOutputFile(f string) (string, error) {
	if f == "" {
		return "", fmt.Errorf(`nowcastutil: you need to specify an output file configuration variable (for example: OutputFile="forecast.nc")`)
	}
	f = os.ExpandEnv(f)
	outdir := filepath.Dir(f)
	if _, err := os.Stat(outdir); err != nil {
		return f, fmt.Errorf("nowcastutil: the OutputFile directory doesn't exist: %v", err)
	}
	return f, nil
}

// GetStringMapString returns a map[string]string from a viper configuration,
// accounting for the fact that it might be a json object if it was set
// from a command line argument.
func GetStringMapString(varName string, cfg *viper.Viper) map[string]string {
	i := cfg.Get(varName)
	switch i.(type) {
	case map[string]string:
		return i.(map[string]string)
	case map[string]interface{}:
		return cast.ToStringMapString(i)
	case string:
		b := bytes.NewBuffer(([]byte)(i.(string)))
		d := json.NewDecoder(b)
		o := make(map[string]string)
		if err := d.Decode(&o); err != nil {
			panic(err)
		}
		return o
	default:
		panic(fmt.Errorf("invalid type for GetStringMapString variable %s: %#v", varName, i))
	}
}

// toFloat3E converts a configuration list into the three parameters of
// a perturbation magnitude curve.
func toFloat3E(s []string) ([3]float64, error) {
	var p [3]float64
	if len(s) != 3 {
		return p, fmt.Errorf("expected 3 elements but got %d", len(s))
	}
	for i, v := range s {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return p, err
		}
		p[i] = f
	}
	return p, nil
}

// motionConfig unmarshals a viper configuration for motion estimation.
func motionConfig(cfg *viper.Viper) (nowcast.Config, error) {
	c := nowcast.Config{
		Detect: nowcast.DetectConfig{
			MaxCorners:   cfg.GetInt("Motion.MaxCorners"),
			QualityLevel: cfg.GetFloat64("Motion.QualityLevel"),
			MinDistance:  cfg.GetFloat64("Motion.MinDistance"),
			BlockSize:    cfg.GetInt("Motion.BlockSize"),
		},
		Track: nowcast.TrackConfig{
			PyramidLevels: cfg.GetInt("Motion.PyramidLevels"),
			MaxIterations: cfg.GetInt("Motion.MaxIterations"),
			Epsilon:       cfg.GetFloat64("Motion.Epsilon"),
		},
		MaxSpeed:      cfg.GetFloat64("Motion.MaxSpeed"),
		OutlierK:      cfg.GetFloat64("Motion.OutlierK"),
		OpeningSize:   cfg.GetInt("Motion.OpeningSize"),
		DeclusterGrid: cfg.GetFloat64("Motion.DeclusterGrid"),
		MinSamples:    cfg.GetInt("Motion.MinSamples"),
		Interp: nowcast.InterpConfig{
			Kernel:  nowcast.Kernel(cfg.GetString("Interp.Kernel")),
			K:       cfg.GetInt("Interp.K"),
			Epsilon: cfg.GetFloat64("Interp.Epsilon"),
			Chunks:  cfg.GetInt("Interp.Chunks"),
		},
	}

	window, err := cast.ToIntSliceE(cfg.Get("Motion.WindowSize"))
	if err != nil {
		return c, fmt.Errorf("nowcastutil: reading 'Motion.WindowSize': %v", err)
	}
	if len(window) != 2 {
		return c, fmt.Errorf("nowcastutil: 'Motion.WindowSize' needs 2 elements (rows, cols) but has %d", len(window))
	}
	c.Track.WindowSize = [2]int{window[0], window[1]}
	return c, nil
}

// extrapConfig unmarshals a viper configuration for extrapolation.
func extrapConfig(cfg *viper.Viper) nowcast.ExtrapConfig {
	return nowcast.ExtrapConfig{
		Scheme:    nowcast.Scheme(cfg.GetString("Extrap.Scheme")),
		NIter:     cfg.GetInt("Extrap.NIter"),
		FillValue: cfg.GetFloat64("Extrap.FillValue"),
	}
}

// bpsConfig unmarshals a viper configuration for motion perturbation.
func bpsConfig(cfg *viper.Viper) (nowcast.BPSConfig, error) {
	c := nowcast.BPSConfig{
		PixelsPerKm: cfg.GetFloat64("BPS.PixelsPerKm"),
		Timestep:    cfg.GetFloat64("BPS.Timestep"),
	}
	var err error
	if c.ParToVel, err = toFloat3E(cfg.GetStringSlice("BPS.ParToVel")); err != nil {
		return c, fmt.Errorf("nowcastutil: reading 'BPS.ParToVel': %v", err)
	}
	if c.PerpToVel, err = toFloat3E(cfg.GetStringSlice("BPS.PerpToVel")); err != nil {
		return c, fmt.Errorf("nowcastutil: reading 'BPS.PerpToVel': %v", err)
	}
	return c, nil
}
