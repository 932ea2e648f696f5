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
	"testing"

	"github.com/ctessum/sparse"
)

func TestToByteImage(t *testing.T) {
	frame := sparse.ZerosDense(2, 3)
	for i, v := range []float64{1, 2, 3, 4, 5, 6} {
		frame.Elements[i] = v
	}
	b := ToByteImage(frame)
	want := []uint8{0, 51, 102, 153, 204, 255}
	for i, v := range want {
		if b.Pix[i] != v {
			t.Errorf("pixel %d: got %d, want %d", i, b.Pix[i], v)
		}
	}
}

// A constant frame has no intensity range to rescale, so it quantizes
// to all zeros.
func TestToByteImageConstant(t *testing.T) {
	frame := sparse.ZerosDense(4, 4)
	for i := range frame.Elements {
		frame.Elements[i] = 7.3
	}
	b := ToByteImage(frame)
	for i, v := range b.Pix {
		if v != 0 {
			t.Fatalf("pixel %d of constant frame: got %d, want 0", i, v)
		}
	}
}

func TestEllipseOffsets(t *testing.T) {
	// A size-3 elliptical element is the 4-connected cross.
	off := ellipseOffsets(3)
	want := map[[2]int]bool{
		{-1, 0}: true,
		{0, -1}: true, {0, 0}: true, {0, 1}: true,
		{1, 0}: true,
	}
	if len(off) != len(want) {
		t.Fatalf("got %d offsets, want %d", len(off), len(want))
	}
	for _, o := range off {
		if !want[o] {
			t.Errorf("unexpected offset %v", o)
		}
	}
}

func TestOpening(t *testing.T) {
	img := newByteImage(9, 9)
	// A 5x5 echo block and one isolated pixel.
	for r := 2; r <= 6; r++ {
		for c := 2; c <= 6; c++ {
			img.set(r, c, 200)
		}
	}
	img.set(0, 8, 150)

	out := Opening(img, 3)

	if got := out.at(0, 8); got != 0 {
		t.Errorf("isolated pixel: got %d, want 0", got)
	}
	if got := out.at(4, 4); got != 200 {
		t.Errorf("block center: got %d, want 200", got)
	}
	// Opening with the cross-shaped element shaves the block corners.
	for _, p := range [][2]int{{2, 2}, {2, 6}, {6, 2}, {6, 6}} {
		if got := out.at(p[0], p[1]); got != 0 {
			t.Errorf("block corner %v: got %d, want 0", p, got)
		}
	}
	var n int
	for _, v := range out.Pix {
		if v != 0 {
			n++
		}
	}
	if n != 21 {
		t.Errorf("surviving pixels: got %d, want 21", n)
	}
	// The input image is not modified.
	if img.at(0, 8) != 150 {
		t.Error("Opening modified its input")
	}
}
