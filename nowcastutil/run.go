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
	"math/rand/v2"
	"strings"
	"time"

	"github.com/ctessum/sparse"
	"github.com/sirupsen/logrus"
	"github.com/stormmodel/nowcast"
)

// Run produces a deterministic nowcast.
//
// InputFile is the path to the NetCDF file holding the sequence of
// precipitation observations.
//
// OutputFile is the path where the forecast sequence is written as a
// NetCDF file.
//
// ShapefileOutput is the path to an optional point shapefile of the
// final forecast frame. It is skipped if empty; otherwise
// OutputVariables maps its field names to expressions over the
// per-cell variables R, U, V, speed, x, and y.
//
// NumTimesteps is the number of future frames to forecast, each one
// observation interval apart.
func Run(log logrus.FieldLogger, InputFile, OutputFile, ShapefileOutput string,
	OutputVariables map[string]string, NumTimesteps int,
	cfg nowcast.Config, ecfg nowcast.ExtrapConfig) error {

	startTime := time.Now()
	cfg.Logger = log

	r, err := nowcast.ReadFile(InputFile)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"file":   InputFile,
		"frames": r.Data.Shape[0],
	}).Info("read observations")

	motion, err := nowcast.EstimateMotion(r.Data, cfg)
	if err != nil {
		return err
	}
	last, err := r.Frame(r.Data.Shape[0] - 1)
	if err != nil {
		return err
	}
	fc, err := nowcast.Forecast(last, motion, NumTimesteps, ecfg)
	if err != nil {
		return err
	}
	if err := nowcast.WriteFile(OutputFile, fc, r.Meta); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"file":  OutputFile,
		"steps": NumTimesteps,
	}).Info("wrote forecast")

	if ShapefileOutput != "" {
		o, err := nowcast.NewOutputter(ShapefileOutput, OutputVariables, nil)
		if err != nil {
			return err
		}
		forecast := &nowcast.RainSequence{Data: fc, Meta: r.Meta}
		final, err := forecast.Frame(NumTimesteps - 1)
		if err != nil {
			return err
		}
		if err := o.Output(final, motion, r.Meta); err != nil {
			return err
		}
		log.WithField("file", ShapefileOutput).Info("wrote output shapefile")
	}

	log.WithField("elapsed", time.Since(startTime)).Info("finished nowcast")
	return nil
}

// Motion estimates a dense motion field from the observations in
// InputFile and writes it to OutputFile as a NetCDF file with
// variables U and V. If VectorShapefile is not empty, the declustered
// sparse motion vectors behind the dense field are also written there
// as a point shapefile.
func Motion(log logrus.FieldLogger, InputFile, OutputFile, VectorShapefile string,
	cfg nowcast.Config) error {

	cfg.Logger = log

	r, err := nowcast.ReadFile(InputFile)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"file":   InputFile,
		"frames": r.Data.Shape[0],
	}).Info("read observations")

	samples, err := nowcast.SparseMotion(r.Data, cfg)
	if err != nil {
		return err
	}
	rows, cols := r.Data.Shape[1], r.Data.Shape[2]
	var field *sparse.DenseArray
	if len(samples) == 0 {
		log.Warn("no sparse motion vectors survived thinning; writing a zero motion field")
		field = sparse.ZerosDense(2, rows, cols)
	} else {
		field, err = nowcast.Interpolate(samples, rows, cols, cfg.Interp)
		if err != nil {
			return err
		}
	}
	if err := nowcast.WriteMotionFile(OutputFile, field, r.Meta); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"file":    OutputFile,
		"samples": len(samples),
	}).Info("wrote motion field")

	if VectorShapefile != "" {
		if err := nowcast.WriteVectorShapefile(VectorShapefile, samples, r.Meta); err != nil {
			return err
		}
		log.WithField("file", VectorShapefile).Info("wrote motion vector shapefile")
	}
	return nil
}

// Perturb estimates a motion field from the observations in InputFile
// and writes Members randomly perturbed copies of it, one NetCDF file
// per ensemble member. OutputFile needs a [MEMBER] wild card that is
// replaced with the member number unless only one member is requested.
// Seed makes the ensemble reproducible and LeadTime is the forecast
// lead time in minutes at which the perturbation magnitudes are
// evaluated.
func Perturb(log logrus.FieldLogger, InputFile, OutputFile string,
	Members int, Seed uint64, LeadTime float64,
	cfg nowcast.Config, bcfg nowcast.BPSConfig) error {

	if Members < 1 {
		return fmt.Errorf("nowcastutil: the number of ensemble members must be positive; got %d", Members)
	}
	if Members > 1 && !strings.Contains(OutputFile, "[MEMBER]") {
		return fmt.Errorf("nowcastutil: OutputFile needs a [MEMBER] wild card to write %d ensemble members", Members)
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
	if bcfg.Timestep <= 0 {
		bcfg.Timestep = r.Meta.Timestep
	}

	motion, err := nowcast.EstimateMotion(r.Data, cfg)
	if err != nil {
		return err
	}
	for m := 0; m < Members; m++ {
		bps, err := nowcast.NewBPS(motion, bcfg, rand.NewPCG(Seed, uint64(m)))
		if err != nil {
			return err
		}
		member := motion.Copy()
		member.AddDense(bps.Generate(LeadTime))
		fname := strings.Replace(OutputFile, "[MEMBER]", fmt.Sprintf("%02d", m), -1)
		if err := nowcast.WriteMotionFile(fname, member, r.Meta); err != nil {
			return err
		}
		log.WithFields(logrus.Fields{
			"member": m,
			"file":   fname,
		}).Info("wrote perturbed motion field")
	}
	return nil
}
