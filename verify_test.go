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

	"github.com/ctessum/sparse"
)

func TestVerifyPerfectForecast(t *testing.T) {
	const tol = 1.e-12

	observed := sparse.ZerosDense(3, 4)
	for i := range observed.Elements {
		observed.Elements[i] = 0.5 * float64(i)
	}
	forecast := observed.Copy()

	v, err := Verify(forecast, observed, 2)
	if err != nil {
		t.Fatal(err)
	}
	if v.RMSE != 0 || v.MeanError != 0 || v.ErrStdDev != 0 || v.MAE != 0 {
		t.Errorf("want zero errors but have %+v", v)
	}
	if absDifferent(v.Correlation, 1, tol) {
		t.Errorf("correlation: want 1 but have %g", v.Correlation)
	}
	if v.Hits != 8 || v.Misses != 0 || v.FalseAlarms != 0 || v.CorrectNegatives != 4 {
		t.Errorf("contingency table: %+v", v)
	}
	if v.POD != 1 || v.FAR != 0 || v.CSI != 1 {
		t.Errorf("want POD 1, FAR 0, CSI 1 but have %g, %g, %g", v.POD, v.FAR, v.CSI)
	}
}

func TestVerifyBias(t *testing.T) {
	const tol = 1.e-12

	observed := sparse.ZerosDense(2, 3)
	for i := range observed.Elements {
		observed.Elements[i] = float64(i)
	}
	forecast := observed.Copy()
	for i := range forecast.Elements {
		forecast.Elements[i]++
	}

	v, err := Verify(forecast, observed, 100)
	if err != nil {
		t.Fatal(err)
	}
	if absDifferent(v.RMSE, 1, tol) {
		t.Errorf("RMSE: want 1 but have %g", v.RMSE)
	}
	if absDifferent(v.MeanError, 1, tol) {
		t.Errorf("mean error: want 1 but have %g", v.MeanError)
	}
	if absDifferent(v.ErrStdDev, 0, tol) {
		t.Errorf("error standard deviation: want 0 but have %g", v.ErrStdDev)
	}
	if absDifferent(v.MAE, 1, tol) {
		t.Errorf("MAE: want 1 but have %g", v.MAE)
	}
	if absDifferent(v.Correlation, 1, 1.e-10) {
		t.Errorf("correlation: want 1 but have %g", v.Correlation)
	}
	// No cell reaches the threshold, leaving the categorical scores
	// undefined.
	if !math.IsNaN(v.POD) || !math.IsNaN(v.FAR) || !math.IsNaN(v.CSI) {
		t.Errorf("want NaN categorical scores but have %g, %g, %g", v.POD, v.FAR, v.CSI)
	}
}

func TestVerifyCategorical(t *testing.T) {
	const tol = 1.e-12

	observed := sparse.ZerosDense(2, 2)
	copy(observed.Elements, []float64{3, 3, 0, 0})
	forecast := sparse.ZerosDense(2, 2)
	copy(forecast.Elements, []float64{0, 3, 3, 0})

	v, err := Verify(forecast, observed, 1)
	if err != nil {
		t.Fatal(err)
	}
	if v.Hits != 1 || v.Misses != 1 || v.FalseAlarms != 1 || v.CorrectNegatives != 1 {
		t.Errorf("contingency table: %+v", v)
	}
	if absDifferent(v.POD, 0.5, tol) {
		t.Errorf("POD: want 0.5 but have %g", v.POD)
	}
	if absDifferent(v.FAR, 0.5, tol) {
		t.Errorf("FAR: want 0.5 but have %g", v.FAR)
	}
	if absDifferent(v.CSI, 1./3., tol) {
		t.Errorf("CSI: want 1/3 but have %g", v.CSI)
	}
}

func TestVerifyNaN(t *testing.T) {
	observed := sparse.ZerosDense(1, 3)
	copy(observed.Elements, []float64{1, math.NaN(), 3})
	forecast := sparse.ZerosDense(1, 3)
	copy(forecast.Elements, []float64{1, 2, 3})

	v, err := Verify(forecast, observed, 2)
	if err != nil {
		t.Fatal(err)
	}
	if v.Hits != 1 || v.Misses != 0 || v.FalseAlarms != 0 || v.CorrectNegatives != 1 {
		t.Errorf("contingency table: %+v", v)
	}
	if v.RMSE != 0 {
		t.Errorf("RMSE: want 0 but have %g", v.RMSE)
	}
}

func TestVerifyErrors(t *testing.T) {
	if _, err := Verify(sparse.ZerosDense(2, 3), sparse.ZerosDense(3, 2), 1); err == nil {
		t.Error("want an error for mismatched shapes")
	}
	if _, err := Verify(nil, sparse.ZerosDense(2, 2), 1); err == nil {
		t.Error("want an error for a nil forecast")
	}
	allNaN := sparse.ZerosDense(2, 2)
	for i := range allNaN.Elements {
		allNaN.Elements[i] = math.NaN()
	}
	if _, err := Verify(allNaN, sparse.ZerosDense(2, 2), 1); err == nil {
		t.Error("want an error when no finite pairs exist")
	}
}
