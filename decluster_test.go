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

import "testing"

// The output order is unspecified, so tests look representatives up by
// the cell they summarize.
func findVector(vs []Vector, cellX, cellY int, cellSize float64) (Vector, bool) {
	for _, v := range vs {
		if int(v.X/cellSize) == cellX && int(v.Y/cellSize) == cellY {
			return v, true
		}
	}
	return Vector{}, false
}

func TestDecluster(t *testing.T) {
	const cellSize = 10.0
	vs := []Vector{
		// Three samples in cell (0,0): odd count, exact middle values.
		{X: 1, Y: 2, U: 1.5, V: -1},
		{X: 3, Y: 4, U: 2.5, V: -3},
		{X: 5, Y: 9, U: 9.5, V: -2},
		// Two samples in cell (1,0): even count, averaged middles.
		{X: 12, Y: 4, U: 1, V: 1},
		{X: 14, Y: 6, U: 3, V: 2},
		// A lone sample in cell (3,3) falls below minSamples.
		{X: 35, Y: 35, U: 7, V: 7},
	}
	out := Decluster(vs, cellSize, 2)
	if len(out) != 2 {
		t.Fatalf("got %d representatives, want 2", len(out))
	}

	a, ok := findVector(out, 0, 0, cellSize)
	if !ok {
		t.Fatal("no representative for cell (0,0)")
	}
	if a.X != 3 || a.Y != 4 || a.U != 2.5 || a.V != -2 {
		t.Errorf("cell (0,0): got %+v, want {3 4 2.5 -2}", a)
	}

	b, ok := findVector(out, 1, 0, cellSize)
	if !ok {
		t.Fatal("no representative for cell (1,0)")
	}
	if b.X != 13 || b.Y != 5 || b.U != 2 || b.V != 1.5 {
		t.Errorf("cell (1,0): got %+v, want {13 5 2 1.5}", b)
	}

	if _, ok := findVector(out, 3, 3, cellSize); ok {
		t.Error("sub-threshold cell (3,3) contributed a representative")
	}
}

func TestDeclusterMinSamplesOne(t *testing.T) {
	vs := []Vector{
		{X: 1, Y: 1, U: 1, V: 1},
		{X: 55, Y: 55, U: 2, V: 2},
	}
	out := Decluster(vs, 10, 1)
	if len(out) != 2 {
		t.Fatalf("got %d representatives, want 2", len(out))
	}
}
