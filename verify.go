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

	"github.com/GaryBoone/GoStats/stats"
	"github.com/ctessum/atmos/evalstats"
	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/stat"
)

// VerifyStats holds continuous and categorical skill scores for a
// forecast compared against observations.
type VerifyStats struct {
	// RMSE is the root-mean-square error.
	RMSE float64
	// MeanError is the mean signed error (forecast minus observed),
	// i.e. the forecast bias.
	MeanError float64
	// ErrStdDev is the population standard deviation of the error.
	ErrStdDev float64
	// MAE is the mean absolute error.
	MAE float64
	// Correlation is the Pearson correlation coefficient between
	// forecast and observed values.
	Correlation float64

	// Hits, Misses, FalseAlarms and CorrectNegatives form the
	// contingency table of rain events (values at or above the
	// threshold) in the forecast and the observations.
	Hits, Misses, FalseAlarms, CorrectNegatives int

	// POD is the probability of detection, hits/(hits+misses).
	POD float64
	// FAR is the false alarm ratio, falseAlarms/(hits+falseAlarms).
	FAR float64
	// CSI is the critical success index,
	// hits/(hits+misses+falseAlarms).
	CSI float64
}

// Verify compares a forecast against observations of the same shape
// and returns continuous error statistics together with the
// categorical POD, FAR and CSI scores of rain exceedance at threshold.
// Cells where either value is NaN are ignored; the categorical scores
// are NaN when their contingency-table denominator is empty.
func Verify(forecast, observed *sparse.DenseArray, threshold float64) (VerifyStats, error) {
	var v VerifyStats
	if forecast == nil || observed == nil {
		return v, fmt.Errorf("nowcast: verification requires non-nil forecast and observed fields")
	}
	if len(forecast.Shape) != len(observed.Shape) {
		return v, fmt.Errorf("nowcast: forecast shape %v does not match observed shape %v",
			forecast.Shape, observed.Shape)
	}
	for i, n := range forecast.Shape {
		if observed.Shape[i] != n {
			return v, fmt.Errorf("nowcast: forecast shape %v does not match observed shape %v",
				forecast.Shape, observed.Shape)
		}
	}

	var errStats, sqStats stats.Stats
	var fVals, oVals []float64
	for i, f := range forecast.Elements {
		o := observed.Elements[i]
		if math.IsNaN(f) || math.IsNaN(o) {
			continue
		}
		e := f - o
		errStats.Update(e)
		sqStats.Update(e * e)
		fVals = append(fVals, f)
		oVals = append(oVals, o)

		fRain, oRain := f >= threshold, o >= threshold
		switch {
		case fRain && oRain:
			v.Hits++
		case !fRain && oRain:
			v.Misses++
		case fRain && !oRain:
			v.FalseAlarms++
		default:
			v.CorrectNegatives++
		}
	}
	if len(fVals) == 0 {
		return v, fmt.Errorf("nowcast: no cells with finite forecast and observed values")
	}

	v.RMSE = math.Sqrt(sqStats.Mean())
	v.MeanError = errStats.Mean()
	v.ErrStdDev = errStats.PopulationStandardDeviation()
	v.MAE = evalstats.ME(oVals, fVals)
	v.Correlation = stat.Correlation(fVals, oVals, nil)

	v.POD = float64(v.Hits) / float64(v.Hits+v.Misses)
	v.FAR = float64(v.FalseAlarms) / float64(v.Hits+v.FalseAlarms)
	v.CSI = float64(v.Hits) / float64(v.Hits+v.Misses+v.FalseAlarms)
	return v, nil
}
