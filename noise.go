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
	"math/rand/v2"

	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Window names a tapering function applied to a field before its
// Fourier transform, suppressing the spectral leakage of the domain
// edges.
type Window string

const (
	// WindowNone applies no tapering.
	WindowNone Window = ""
	// WindowHanning is the cosine-bell Hann window.
	WindowHanning Window = "hanning"
	// WindowFlatHanning is a Hann window with a flat central plateau
	// covering half of the domain.
	WindowFlatHanning Window = "flat-hanning"
)

// FilterConfig holds the parameters of the Fourier noise filter
// builders.
type FilterConfig struct {
	// Window tapers the field before the transform. Tapering also
	// shifts the field so that its minimum becomes zero, removing the
	// rain/no-rain discontinuity.
	Window Window

	// Weighted weights the parametric spectral fit by the ring power,
	// emphasizing the energetic low frequencies.
	Weighted bool

	// Normalize standardizes the real and imaginary spectral parts of
	// a nonparametric filter separately before taking magnitudes.
	Normalize bool
}

// DefaultFilterConfig returns the standard filter parameters.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		Window:   WindowFlatHanning,
		Weighted: true,
	}
}

// ParamFilter builds a parametric Fourier filter from a square
// precipitation field: a power law R^(-beta) in radial wavenumber R,
// with beta fitted to the log-log radially averaged power spectrum of
// the tapered field. Nonfinite filter values, including the zero-
// wavenumber bin, are set to one. The result can be passed to
// GenerateNoise.
func ParamFilter(field *sparse.DenseArray, cfg FilterConfig) (*sparse.DenseArray, error) {
	if field == nil || len(field.Shape) != 2 {
		return nil, fmt.Errorf("nowcast: noise filter requires a 2-dimensional field")
	}
	if !allFinite(field.Elements) {
		return nil, fmt.Errorf("nowcast: noise filter field contains non-finite values")
	}
	L := field.Shape[0]
	if field.Shape[1] != L {
		return nil, fmt.Errorf("nowcast: parametric noise filter requires a square field; got shape %v", field.Shape)
	}

	x, err := taperedCopy(field.Elements, L, L, cfg.Window)
	if err != nil {
		return nil, err
	}
	psd := rapsdElements(x, L)

	// Fit log power against log wavenumber over the nonzero
	// wavenumbers.
	logw := make([]float64, len(psd)-1)
	logp := make([]float64, len(psd)-1)
	var weights []float64
	if cfg.Weighted {
		weights = psd[1:]
	}
	for k := 1; k < len(psd); k++ {
		logw[k-1] = math.Log(float64(k))
		logp[k-1] = math.Log(psd[k])
	}
	_, slope := stat.LinearRegression(logw, logp, weights, false)
	beta := -slope

	F := sparse.ZerosDense(L, L)
	for i := 0; i < L; i++ {
		for j := 0; j < L; j++ {
			fi := float64(freqIndex(i, L))
			fj := float64(freqIndex(j, L))
			v := math.Pow(math.Hypot(fi, fj), -beta)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				v = 1
			}
			F.Elements[i*L+j] = v
		}
	}
	return F, nil
}

// NonParamFilter builds a nonparametric Fourier filter, the spectral
// magnitudes of the tapered field, preserving the full anisotropic
// correlation structure. The result can be passed to GenerateNoise.
func NonParamFilter(field *sparse.DenseArray, cfg FilterConfig) (*sparse.DenseArray, error) {
	if field == nil || len(field.Shape) != 2 {
		return nil, fmt.Errorf("nowcast: noise filter requires a 2-dimensional field")
	}
	if !allFinite(field.Elements) {
		return nil, fmt.Errorf("nowcast: noise filter field contains non-finite values")
	}
	rows, cols := field.Shape[0], field.Shape[1]

	x, err := taperedCopy(field.Elements, rows, cols, cfg.Window)
	if err != nil {
		return nil, err
	}
	buf := make([]complex128, len(x))
	for i, v := range x {
		buf[i] = complex(v, 0)
	}
	fft2(buf, rows, cols)

	if cfg.Normalize {
		re := make([]float64, len(buf))
		im := make([]float64, len(buf))
		for i, c := range buf {
			re[i] = real(c)
			im[i] = imag(c)
		}
		meanRe, sdRe := stat.Mean(re, nil), stat.PopStdDev(re, nil)
		meanIm, sdIm := stat.Mean(im, nil), stat.PopStdDev(im, nil)
		for i := range buf {
			buf[i] = complex((re[i]-meanRe)/sdRe, (im[i]-meanIm)/sdIm)
		}
	}

	F := sparse.ZerosDense(rows, cols)
	for i, c := range buf {
		F.Elements[i] = math.Hypot(real(c), imag(c))
	}
	return F, nil
}

// GenerateNoise draws a field of spatially correlated noise by
// filtering white Gaussian noise with the given spectral filter. The
// result has the filter's shape and is standardized to zero mean and
// unit variance.
func GenerateNoise(filter *sparse.DenseArray, src rand.Source) (*sparse.DenseArray, error) {
	if filter == nil || len(filter.Shape) != 2 {
		return nil, fmt.Errorf("nowcast: noise generation requires a 2-dimensional filter")
	}
	if !allFinite(filter.Elements) {
		return nil, fmt.Errorf("nowcast: noise filter contains non-finite values")
	}
	if src == nil {
		return nil, fmt.Errorf("nowcast: noise generation requires an explicit random source")
	}
	rows, cols := filter.Shape[0], filter.Shape[1]

	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	buf := make([]complex128, rows*cols)
	for i := range buf {
		buf[i] = complex(normal.Rand(), 0)
	}
	fft2(buf, rows, cols)
	for i := range buf {
		buf[i] *= complex(filter.Elements[i], 0)
	}
	ifft2(buf, rows, cols)

	out := sparse.ZerosDense(rows, cols)
	for i, c := range buf {
		out.Elements[i] = real(c)
	}
	mean := stat.Mean(out.Elements, nil)
	sd := stat.PopStdDev(out.Elements, nil)
	floats.AddConst(-mean, out.Elements)
	floats.Scale(1/sd, out.Elements)
	return out, nil
}

// RAPSD computes the radially averaged power spectral density of a
// square field: the mean squared spectral magnitude over rings of
// integer-truncated radial wavenumber, from zero up to the Nyquist
// wavenumber for even field sizes and one ring fewer for odd sizes.
func RAPSD(field *sparse.DenseArray) ([]float64, error) {
	if field == nil || len(field.Shape) != 2 {
		return nil, fmt.Errorf("nowcast: power spectrum requires a 2-dimensional field")
	}
	L := field.Shape[0]
	if field.Shape[1] != L {
		return nil, fmt.Errorf("nowcast: power spectrum requires a square field; got shape %v", field.Shape)
	}
	if !allFinite(field.Elements) {
		return nil, fmt.Errorf("nowcast: power spectrum field contains non-finite values")
	}
	return rapsdElements(field.Elements, L), nil
}

func rapsdElements(x []float64, L int) []float64 {
	buf := make([]complex128, len(x))
	for i, v := range x {
		buf[i] = complex(v, 0)
	}
	fft2(buf, L, L)

	nr := L / 2
	if L%2 == 0 {
		nr++
	}
	sums := make([]float64, nr)
	counts := make([]float64, nr)
	for i := 0; i < L; i++ {
		for j := 0; j < L; j++ {
			fi := float64(freqIndex(i, L))
			fj := float64(freqIndex(j, L))
			r := int(math.Sqrt(fi*fi + fj*fj))
			if r < nr {
				c := buf[i*L+j]
				sums[r] += real(c)*real(c) + imag(c)*imag(c)
				counts[r]++
			}
		}
	}
	out := make([]float64, nr)
	for r := range out {
		out[r] = sums[r] / counts[r]
	}
	return out
}

// taperedCopy returns a copy of the rows×cols field x, shifted so its
// minimum is zero and multiplied by the tapering window. WindowNone
// returns a plain copy.
func taperedCopy(x []float64, rows, cols int, w Window) ([]float64, error) {
	out := make([]float64, len(x))
	copy(out, x)
	if w == WindowNone {
		return out, nil
	}
	wr, err := taper1d(rows, w)
	if err != nil {
		return nil, err
	}
	wc, err := taper1d(cols, w)
	if err != nil {
		return nil, err
	}
	min, _ := minMax(out)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			out[r*cols+c] = (out[r*cols+c] - min) * wr[r] * wc[c]
		}
	}
	return out, nil
}

func taper1d(size int, w Window) ([]float64, error) {
	out := make([]float64, size)
	if size == 1 {
		out[0] = 1
		return out, nil
	}
	switch w {
	case WindowHanning:
		for i := range out {
			out[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(size-1))
		}
	case WindowFlatHanning:
		T := float64(size) / 4
		W := float64(size) / 2
		for i := range out {
			b := -W + 2*W*float64(i)/float64(size-1)
			r := math.Abs(b) - T
			if r < 0 {
				r = 0
			}
			a := 0.5 * (1 + math.Cos(math.Pi*r/T))
			if math.Abs(b) > 2*T {
				a = 0
			}
			out[i] = a
		}
	default:
		return nil, fmt.Errorf("nowcast: unknown tapering window %q", w)
	}
	return out, nil
}

// freqIndex converts FFT bin i of an axis of length n into its signed
// frequency index.
func freqIndex(i, n int) int {
	if i <= (n-1)/2 {
		return i
	}
	return i - n
}

// fft2 computes the unnormalized forward 2-dimensional discrete
// Fourier transform of the rows×cols grid x, in place.
func fft2(x []complex128, rows, cols int) {
	rowFFT := fourier.NewCmplxFFT(cols)
	for r := 0; r < rows; r++ {
		s := x[r*cols : (r+1)*cols]
		rowFFT.Coefficients(s, s)
	}
	colFFT := fourier.NewCmplxFFT(rows)
	col := make([]complex128, rows)
	for c := 0; c < cols; c++ {
		for r := 0; r < rows; r++ {
			col[r] = x[r*cols+c]
		}
		colFFT.Coefficients(col, col)
		for r := 0; r < rows; r++ {
			x[r*cols+c] = col[r]
		}
	}
}

// ifft2 computes the normalized inverse 2-dimensional discrete Fourier
// transform of the rows×cols grid x, in place.
func ifft2(x []complex128, rows, cols int) {
	rowFFT := fourier.NewCmplxFFT(cols)
	for r := 0; r < rows; r++ {
		s := x[r*cols : (r+1)*cols]
		rowFFT.Sequence(s, s)
	}
	colFFT := fourier.NewCmplxFFT(rows)
	col := make([]complex128, rows)
	for c := 0; c < cols; c++ {
		for r := 0; r < rows; r++ {
			col[r] = x[r*cols+c]
		}
		colFFT.Sequence(col, col)
		for r := 0; r < rows; r++ {
			x[r*cols+c] = col[r]
		}
	}
	scale := complex(1/float64(rows*cols), 0)
	for i := range x {
		x[i] *= scale
	}
}
