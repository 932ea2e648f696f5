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

	"github.com/ctessum/sparse"
	"github.com/sirupsen/logrus"
)

// Config holds the parameters of the dense motion estimation pipeline.
type Config struct {
	// Detect configures corner detection on each frame.
	Detect DetectConfig
	// Track configures the pyramidal Lucas-Kanade tracker.
	Track TrackConfig

	// MaxSpeed is the hard upper bound, in pixels per frame interval,
	// on the speed of a sparse sample.
	MaxSpeed float64
	// OutlierK is the interquartile-range multiplier of the outlier
	// filter.
	OutlierK float64

	// OpeningSize is the structuring element size in pixels of the
	// morphological opening applied to each frame before detection.
	// Nonpositive disables the opening.
	OpeningSize int

	// DeclusterGrid is the decluster cell size in pixels. Values of
	// one or less disable declustering.
	DeclusterGrid float64
	// MinSamples is the minimum number of samples a decluster cell
	// needs to emit a representative.
	MinSamples int

	// Interp configures the sparse-to-dense interpolation.
	Interp InterpConfig

	// ExtraVectors are externally supplied sparse samples. They join
	// the tracked samples after outlier filtering and declustering,
	// immediately before interpolation, so they are never thinned.
	ExtraVectors []Vector

	// Logger receives progress information. If nil, logging is
	// discarded.
	Logger logrus.FieldLogger
}

// DefaultConfig returns the standard pipeline parameters.
func DefaultConfig() Config {
	return Config{
		Detect: DetectConfig{
			MaxCorners:   500,
			QualityLevel: 0.1,
			MinDistance:  5,
			BlockSize:    15,
		},
		Track: TrackConfig{
			WindowSize:    [2]int{50, 50},
			PyramidLevels: 2,
			MaxIterations: 10,
			Epsilon:       0.01,
		},
		MaxSpeed:      10,
		OutlierK:      3,
		OpeningSize:   3,
		DeclusterGrid: 20,
		MinSamples:    2,
		Interp: InterpConfig{
			Kernel: KernelInverse,
			K:      20,
			Chunks: 5,
		},
	}
}

func (c Config) logger() logrus.FieldLogger {
	if c.Logger != nil {
		return c.Logger
	}
	return discardLog
}

// SparseMotion computes the sparse motion samples of a sequence of
// precipitation frames of shape (time, y, x) with at least two frames
// and only finite values. Sparse motion vectors are tracked between
// every pair of consecutive frames and accumulated; the combined
// sample set is declustered once and any extra vectors are appended.
//
// Per-point tracking failures, outlier exclusions and sub-threshold
// decluster cells are expected thinning, not errors, so the result may
// be empty.
func SparseMotion(seq *sparse.DenseArray, cfg Config) ([]Vector, error) {
	if seq == nil || len(seq.Shape) != 3 {
		return nil, fmt.Errorf("nowcast: motion estimation requires a 3-dimensional (time, y, x) sequence")
	}
	steps := seq.Shape[0]
	if steps < 2 {
		return nil, fmt.Errorf("nowcast: motion estimation requires at least 2 frames; got %d", steps)
	}
	if !allFinite(seq.Elements) {
		return nil, fmt.Errorf("nowcast: input sequence contains non-finite values")
	}
	log := cfg.logger()

	var samples []Vector
	prev := prepFrame(seq, 0, cfg)
	for i := 0; i < steps-1; i++ {
		next := prepFrame(seq, i+1, cfg)
		pts, err := DetectFeatures(prev, cfg.Detect)
		if err != nil {
			return nil, err
		}
		tracked := TrackFeatures(prev, next, pts, cfg.Track)
		kept := FilterOutliers(tracked, cfg.MaxSpeed, cfg.OutlierK)
		log.WithFields(logrus.Fields{
			"pair":     i,
			"detected": len(pts),
			"tracked":  len(tracked),
			"kept":     len(kept),
		}).Debug("tracked sparse motion vectors")
		samples = append(samples, kept...)
		prev = next
	}

	if cfg.DeclusterGrid > 1 {
		n := len(samples)
		samples = Decluster(samples, cfg.DeclusterGrid, cfg.MinSamples)
		log.WithFields(logrus.Fields{
			"before": n,
			"after":  len(samples),
		}).Debug("declustered sparse motion vectors")
	}
	return append(samples, cfg.ExtraVectors...), nil
}

// EstimateMotion computes a dense motion field from a sequence of
// precipitation frames of shape (time, y, x), interpolating the sample
// set produced by SparseMotion onto the frame grid. The result has
// shape (2, y, x) with the u component first, in pixels per frame
// interval.
//
// If every sample is thinned away and no extra vectors were supplied,
// the zero motion field is returned; callers invoking Interpolate
// directly receive ErrNoVectors instead.
func EstimateMotion(seq *sparse.DenseArray, cfg Config) (*sparse.DenseArray, error) {
	samples, err := SparseMotion(seq, cfg)
	if err != nil {
		return nil, err
	}
	rows, cols := seq.Shape[1], seq.Shape[2]
	if len(samples) == 0 {
		cfg.logger().Debug("no sparse motion vectors survived thinning; returning zero motion field")
		return sparse.ZerosDense(2, rows, cols), nil
	}
	return Interpolate(samples, rows, cols, cfg.Interp)
}

// prepFrame rescales time slice i of seq to 8-bit intensities and,
// when configured, removes isolated echoes by morphological opening.
func prepFrame(seq *sparse.DenseArray, i int, cfg Config) *ByteImage {
	img := ToByteImage(frame(seq, i))
	if cfg.OpeningSize > 0 {
		img = Opening(img, cfg.OpeningSize)
	}
	return img
}
