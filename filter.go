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

// FilterOutliers drops velocity samples with implausible speeds using
// quartile statistics, which are robust to the heavy-tailed speed
// distributions natural imagery produces. With q1, q2, q3 the 25th,
// 50th and 75th percentiles of the sample speeds, samples are retained
// when their speed lies strictly between
//
//	max(0, q2-2*(q3-q1)) and min(maxSpeed, q2+k*(q3-q1)).
//
// Exclusion here is intentional thinning, not a fault: the survivors
// are returned, in input order, even when none survive.
func FilterOutliers(vs []Vector, maxSpeed, k float64) []Vector {
	if len(vs) == 0 {
		return nil
	}
	speed := make([]float64, len(vs))
	for i, v := range vs {
		speed[i] = v.Speed()
	}
	s := sortedCopy(speed)
	q1 := quantileSorted(s, 25)
	q2 := quantileSorted(s, 50)
	q3 := quantileSorted(s, 75)

	maxThr := q2 + k*(q3-q1)
	if maxSpeed < maxThr {
		maxThr = maxSpeed
	}
	minThr := q2 - 2*(q3-q1)
	if minThr < 0 {
		minThr = 0
	}

	var keep []Vector
	for i, v := range vs {
		if speed[i] > minThr && speed[i] < maxThr {
			keep = append(keep, v)
		}
	}
	return keep
}
