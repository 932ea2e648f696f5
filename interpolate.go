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
	"errors"
	"fmt"
	"math"

	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// Kernel selects the radial basis function used to weight neighboring
// samples during sparse-to-dense interpolation.
type Kernel string

const (
	// KernelNearest assigns each grid point the velocity of its
	// single closest sample.
	KernelNearest Kernel = "nearest"
	// KernelInverse weights neighbors by 1/sqrt((d/epsilon)²+1).
	KernelInverse Kernel = "inverse"
	// KernelGaussian weights neighbors by exp(-0.5*(d/epsilon)²).
	KernelGaussian Kernel = "gaussian"
)

// KAll is a sentinel neighbor count that uses every sparse sample for
// each grid point, preserving exactness for small problems.
const KAll = 0

// ErrNoVectors is returned when interpolation is asked to build a dense
// field from an empty sample set, for example because every tracked
// point was rejected as an outlier.
var ErrNoVectors = errors.New("nowcast: no sparse motion vectors to interpolate")

// InterpConfig holds the parameters of the sparse-to-dense
// interpolator.
type InterpConfig struct {
	// Kernel is the radial basis function; see the Kernel constants.
	Kernel Kernel

	// K is the number of nearest samples consulted per grid point.
	// KAll (or any nonpositive value) uses every sample. Restricting
	// to k neighbors trades a small accuracy loss for large speedups
	// on big grids.
	K int

	// Epsilon is the kernel bandwidth in pixels. A nonpositive value
	// selects the bandwidth automatically as the median pairwise
	// distance between the sample positions. The nearest kernel
	// ignores Epsilon entirely; that asymmetry is intentional.
	Epsilon float64

	// Chunks splits the grid into this many contiguous batches that
	// are resolved independently, bounding peak memory. Chunking is
	// purely a resource control: any chunk count produces bit-identical
	// results.
	Chunks int
}

// Interpolate converts sparse velocity samples into a dense motion
// field of shape (2, rows, cols), u component first, by distance-
// weighted averaging of each grid point's k nearest samples. An empty
// sample set returns ErrNoVectors and an unrecognized kernel is
// rejected immediately.
func Interpolate(vs []Vector, rows, cols int, cfg InterpConfig) (*sparse.DenseArray, error) {
	if len(vs) == 0 {
		return nil, ErrNoVectors
	}
	switch cfg.Kernel {
	case KernelNearest, KernelInverse, KernelGaussian:
	default:
		return nil, fmt.Errorf("nowcast: unknown interpolation kernel %q", cfg.Kernel)
	}

	n := len(vs)
	k := cfg.K
	if k <= 0 || k > n {
		k = n
	}

	eps := cfg.Epsilon
	if eps <= 0 && cfg.Kernel != KernelNearest {
		eps = medianPairwiseDistance(vs)
		if eps <= 0 {
			// All samples share one position; any bandwidth yields
			// the same weighted average.
			eps = 1
		}
	}

	// The tree serves single-nearest queries and k-nearest queries
	// with k below the sample count; the exact all-samples case scans
	// the samples directly.
	var tree *kdtree.Tree
	if cfg.Kernel == KernelNearest || k < n {
		nodes := make(sampleNodes, n)
		for i, v := range vs {
			nodes[i] = sampleNode{x: v.X, y: v.Y, i: i}
		}
		tree = kdtree.New(nodes, false)
	}

	grid := rows * cols
	out := sparse.ZerosDense(2, rows, cols)
	u := out.Elements[:grid]
	v := out.Elements[grid:]

	nchunks := cfg.Chunks
	if nchunks < 1 {
		nchunks = 1
	}
	base, rem := grid/nchunks, grid%nchunks
	start := 0
	for chunk := 0; chunk < nchunks; chunk++ {
		size := base
		if chunk < rem {
			size++
		}
		for idx := start; idx < start+size; idx++ {
			q := sampleNode{
				x: float64(idx % cols),
				y: float64(idx / cols),
			}
			switch {
			case cfg.Kernel == KernelNearest:
				got, _ := tree.Nearest(q)
				s := vs[got.(sampleNode).i]
				u[idx], v[idx] = s.U, s.V
			case k < n:
				keeper := kdtree.NewNKeeper(k)
				tree.NearestSet(keeper, q)
				var wsum, usum, vsum float64
				for _, c := range keeper.Heap {
					if c.Comparable == nil {
						continue
					}
					s := vs[c.Comparable.(sampleNode).i]
					w := kernelWeight(cfg.Kernel, math.Sqrt(c.Dist), eps)
					wsum += w
					usum += w * s.U
					vsum += w * s.V
				}
				if wsum == 0 {
					// All weights underflowed; fall back to the
					// unweighted neighbor mean.
					for _, c := range keeper.Heap {
						if c.Comparable == nil {
							continue
						}
						s := vs[c.Comparable.(sampleNode).i]
						wsum++
						usum += s.U
						vsum += s.V
					}
				}
				u[idx] = usum / wsum
				v[idx] = vsum / wsum
			default:
				var wsum, usum, vsum float64
				for _, s := range vs {
					w := kernelWeight(cfg.Kernel, math.Hypot(q.x-s.X, q.y-s.Y), eps)
					wsum += w
					usum += w * s.U
					vsum += w * s.V
				}
				if wsum == 0 {
					for _, s := range vs {
						wsum++
						usum += s.U
						vsum += s.V
					}
				}
				u[idx] = usum / wsum
				v[idx] = vsum / wsum
			}
		}
		start += size
	}
	return out, nil
}

func kernelWeight(kernel Kernel, d, eps float64) float64 {
	switch kernel {
	case KernelInverse:
		r := d / eps
		return 1 / math.Sqrt(r*r+1)
	default: // KernelGaussian
		r := d / eps
		return math.Exp(-0.5 * r * r)
	}
}

// medianPairwiseDistance returns the median Euclidean distance over all
// sample position pairs, or zero when there are fewer than two samples.
func medianPairwiseDistance(vs []Vector) float64 {
	if len(vs) < 2 {
		return 0
	}
	d := make([]float64, 0, len(vs)*(len(vs)-1)/2)
	for i := 0; i < len(vs); i++ {
		for j := i + 1; j < len(vs); j++ {
			d = append(d, math.Hypot(vs[i].X-vs[j].X, vs[i].Y-vs[j].Y))
		}
	}
	return median(d)
}

// sampleNode is a sample position in the k-d tree, carrying the index
// of the sample it came from.
type sampleNode struct {
	x, y float64
	i    int
}

func (p sampleNode) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(sampleNode)
	switch d {
	case 0:
		return p.x - q.x
	default:
		return p.y - q.y
	}
}

func (p sampleNode) Dims() int { return 2 }

// Distance returns the squared Euclidean distance between p and c.
func (p sampleNode) Distance(c kdtree.Comparable) float64 {
	q := c.(sampleNode)
	dx := p.x - q.x
	dy := p.y - q.y
	return dx*dx + dy*dy
}

// sampleNodes implements kdtree.Interface.
type sampleNodes []sampleNode

func (p sampleNodes) Index(i int) kdtree.Comparable { return p[i] }

func (p sampleNodes) Len() int { return len(p) }

func (p sampleNodes) Pivot(d kdtree.Dim) int {
	return samplePlane{sampleNodes: p, Dim: d}.Pivot()
}

func (p sampleNodes) Slice(start, end int) kdtree.Interface { return p[start:end] }

// samplePlane sorts sampleNodes along a coordinate dimension.
type samplePlane struct {
	kdtree.Dim
	sampleNodes
}

func (p samplePlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.sampleNodes[i].x < p.sampleNodes[j].x
	default:
		return p.sampleNodes[i].y < p.sampleNodes[j].y
	}
}

func (p samplePlane) Pivot() int {
	return kdtree.Partition(p, kdtree.MedianOfMedians(p))
}

func (p samplePlane) Slice(start, end int) kdtree.SortSlicer {
	p.sampleNodes = p.sampleNodes[start:end]
	return p
}

func (p samplePlane) Swap(i, j int) {
	p.sampleNodes[i], p.sampleNodes[j] = p.sampleNodes[j], p.sampleNodes[i]
}
