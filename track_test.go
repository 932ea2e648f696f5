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
	"testing"
)

// shiftImage returns img translated by (dx, dy) pixels, with vacated
// pixels left at zero.
func shiftImage(img *ByteImage, dx, dy int) *ByteImage {
	out := newByteImage(img.Rows, img.Cols)
	for r := 0; r < img.Rows; r++ {
		for c := 0; c < img.Cols; c++ {
			rr, cc := r+dy, c+dx
			if rr < 0 || rr >= img.Rows || cc < 0 || cc >= img.Cols {
				continue
			}
			out.set(rr, cc, img.at(r, c))
		}
	}
	return out
}

func TestTrackFeatures(t *testing.T) {
	const tolerance = 0.5

	prev := blockImage(80, 80, 12, [][2]int{{14, 14}, {14, 50}, {50, 14}, {50, 50}})
	next := shiftImage(prev, 2, 1)

	pts, err := DetectFeatures(prev, DetectConfig{
		MaxCorners:   40,
		QualityLevel: 0.1,
		MinDistance:  5,
		BlockSize:    5,
	})
	if err != nil {
		t.Fatal(err)
	}
	cfg := TrackConfig{
		WindowSize:    [2]int{21, 21},
		PyramidLevels: 2,
		MaxIterations: 10,
	}
	vecs := TrackFeatures(prev, next, pts, cfg)
	if len(vecs) == 0 {
		t.Fatal("no features were tracked")
	}
	for _, v := range vecs {
		if math.Abs(v.U-2) > tolerance || math.Abs(v.V-1) > tolerance {
			t.Errorf("point (%g,%g): displacement (%g,%g), want (2,1)",
				v.X, v.Y, v.U, v.V)
		}
	}
}

// Tracking a frame against itself must return zero displacement: the
// first refinement step has a zero residual everywhere.
func TestTrackFeaturesIdenticalFrames(t *testing.T) {
	const tolerance = 1e-12

	img := blockImage(60, 60, 10, [][2]int{{12, 12}, {36, 36}})
	pts, err := DetectFeatures(img, DetectConfig{
		MaxCorners:   20,
		QualityLevel: 0.1,
		MinDistance:  5,
		BlockSize:    5,
	})
	if err != nil {
		t.Fatal(err)
	}
	vecs := TrackFeatures(img, img, pts, TrackConfig{
		WindowSize:    [2]int{21, 21},
		PyramidLevels: 2,
		MaxIterations: 10,
	})
	if len(vecs) != len(pts) {
		t.Fatalf("tracked %d of %d points", len(vecs), len(pts))
	}
	for _, v := range vecs {
		if math.Abs(v.U) > tolerance || math.Abs(v.V) > tolerance {
			t.Errorf("point (%g,%g): displacement (%g,%g), want (0,0)",
				v.X, v.Y, v.U, v.V)
		}
	}
}

// Seed points in featureless regions have ill-conditioned tracking
// windows and are dropped without error.
func TestTrackFeaturesDropsFlatWindows(t *testing.T) {
	img := blockImage(60, 60, 10, [][2]int{{30, 30}})
	vecs := TrackFeatures(img, img, []Point{{X: 5, Y: 5}}, TrackConfig{
		WindowSize:    [2]int{11, 11},
		PyramidLevels: 0,
		MaxIterations: 10,
	})
	if len(vecs) != 0 {
		t.Fatalf("got %d vectors for an untrackable point, want 0", len(vecs))
	}
}
