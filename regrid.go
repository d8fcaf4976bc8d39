/*
Copyright © 2021 the PolarGrid authors.
This file is part of PolarGrid.

PolarGrid is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

PolarGrid is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with PolarGrid.  If not, see <http://www.gnu.org/licenses/>.
*/

package polargrid

import (
	"fmt"
	"math"
	"sort"

	"github.com/ctessum/geom"
	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/spatial/kdtree"
)

const (
	// idwNeighbors is the number of nearest source samples blended
	// into each destination cell.
	idwNeighbors = 4

	// idwMaxDist is the farthest [m] a source sample may be from a
	// destination cell and still contribute to it.
	idwMaxDist = 3000.

	// kdpSmoothLength is the range window [m] over which measured
	// specific differential phase is smoothed before interpolation.
	kdpSmoothLength = 5000.
)

// dwdToCRSIM maps the variable names of the German Weather Service
// radar products onto the schema of the CR-SIM forward operator, so
// that observation and model fields come out of the regridder with
// identical variable sets.
var dwdToCRSIM = map[string]string{
	"DBZH":  "Zhh",
	"ZDR":   "Zdr",
	"LDR":   "LDRh",
	"RHOHV": "RHOhv",
	"KDP":   "Kdp",
	"AH":    "Ah",
	"ADP":   "Adp",
}

// CanonicalName returns the CR-SIM schema name of a source variable.
// Model variable names pass through unchanged.
func CanonicalName(v string) string {
	if mapped, ok := dwdToCRSIM[v]; ok {
		return mapped
	}
	return v
}

// beamSample is one source sample position in the local Cartesian
// frame, carrying its flattened source index. It implements
// kdtree.Comparable with squared Euclidean distances.
type beamSample struct {
	X, Y, Z float64
	Idx     int
}

func (s beamSample) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(beamSample)
	switch d {
	case 0:
		return s.X - q.X
	case 1:
		return s.Y - q.Y
	default:
		return s.Z - q.Z
	}
}

func (s beamSample) Dims() int { return 3 }

func (s beamSample) Distance(c kdtree.Comparable) float64 {
	q := c.(beamSample)
	dx, dy, dz := s.X-q.X, s.Y-q.Y, s.Z-q.Z
	return dx*dx + dy*dy + dz*dz
}

// beamSamples implements kdtree.Interface.
type beamSamples []beamSample

func (s beamSamples) Index(i int) kdtree.Comparable { return s[i] }
func (s beamSamples) Len() int                      { return len(s) }
func (s beamSamples) Slice(start, end int) kdtree.Interface {
	return s[start:end]
}
func (s beamSamples) Pivot(d kdtree.Dim) int {
	return samplePlane{beamSamples: s, Dim: d}.Pivot()
}

// samplePlane implements kdtree.SortSlicer for beamSamples along one
// dimension.
type samplePlane struct {
	beamSamples
	kdtree.Dim
}

func (p samplePlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.beamSamples[i].X < p.beamSamples[j].X
	case 1:
		return p.beamSamples[i].Y < p.beamSamples[j].Y
	default:
		return p.beamSamples[i].Z < p.beamSamples[j].Z
	}
}
func (p samplePlane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p samplePlane) Slice(start, end int) kdtree.SortSlicer {
	p.beamSamples = p.beamSamples[start:end]
	return p
}
func (p samplePlane) Swap(i, j int) {
	p.beamSamples[i], p.beamSamples[j] = p.beamSamples[j], p.beamSamples[i]
}

// neighbor is one source sample contributing to a destination cell.
type neighbor struct {
	idx  int
	dist float64
}

// nearestSamples returns up to k source samples within maxDist of the
// query point, ordered by ascending distance with ties broken by
// ascending source index.
func nearestSamples(t *kdtree.Tree, q beamSample, k int, maxDist float64) []neighbor {
	keep := kdtree.NewNKeeper(k)
	t.NearestSet(keep, q)
	found := make([]neighbor, 0, k)
	for _, cd := range keep.Heap {
		if cd.Comparable == nil {
			continue
		}
		d := math.Sqrt(cd.Dist)
		if d > maxDist {
			continue
		}
		found = append(found, neighbor{idx: cd.Comparable.(beamSample).Idx, dist: d})
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].dist != found[j].dist {
			return found[i].dist < found[j].dist
		}
		return found[i].idx < found[j].idx
	})
	return found
}

// Regridder interpolates fields from a source sampling geometry onto a
// Cartesian grid by inverse-distance weighting of the four nearest
// source samples. The neighbor mapping is computed once, then reused
// across variables and time steps.
type Regridder struct {
	src SourceGrid
	dst *CartesianGrid

	// neighbors holds, per destination cell in (height, y, x) order,
	// the contributing source samples.
	neighbors [][]neighbor
}

// NewRegridder precomputes the interpolation mapping from src onto
// dst. If src is a radar volume, its antenna site must coincide with
// the grid origin; regridding a radar's bins toward a foreign origin
// is a configuration mistake, not a geometry problem.
func NewRegridder(src SourceGrid, dst *CartesianGrid, msgChan chan string) (*Regridder, error) {
	if err := dst.Check(); err != nil {
		return nil, err
	}
	if sph, ok := src.(*SphericalGrid); ok {
		if err := sph.Check(); err != nil {
			return nil, err
		}
		if GreatCircleDistance(sph.Site, dst.Origin) > 1 || math.Abs(sph.SiteAlt-dst.OriginAlt) > 1 {
			return nil, fmt.Errorf("polargrid: radar %s site does not coincide with the grid origin",
				sph.Name)
		}
	}
	if mg, ok := src.(*ModelGrid); ok {
		if err := mg.Check(); err != nil {
			return nil, err
		}
	}

	x, y, z := src.SampleCoords(dst.Origin, dst.OriginAlt)
	samples := make(beamSamples, 0, len(x))
	for i := range x {
		if math.IsNaN(x[i]) || math.IsNaN(y[i]) || math.IsNaN(z[i]) {
			continue
		}
		samples = append(samples, beamSample{X: x[i], Y: y[i], Z: z[i], Idx: i})
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("polargrid: source grid has no usable samples")
	}
	tree := kdtree.New(samples, false)

	nz, ny, nx := dst.Nz(), dst.Ny(), dst.Nx()
	heights := dst.Heights()
	r := &Regridder{
		src:       src,
		dst:       dst,
		neighbors: make([][]neighbor, nz*ny*nx),
	}
	cell := 0
	for k := 0; k < nz; k++ {
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				p := geom.Point{X: dst.Lons.Get(j, i), Y: dst.Lats.Get(j, i)}
				cx, cy, cz := ToLocalCartesian(p, dst.OriginAlt+heights[k], dst.Origin, dst.OriginAlt)
				r.neighbors[cell] = nearestSamples(tree,
					beamSample{X: cx, Y: cy, Z: cz, Idx: -1}, idwNeighbors, idwMaxDist)
				cell++
			}
		}
		if msgChan != nil {
			msgChan <- fmt.Sprintf("Mapped interpolation neighbors for level %d of %d", k+1, nz)
		}
	}
	return r, nil
}

// Source returns the sampling geometry the mapping was built for.
// Callers reusing a regridder across files must make sure each file's
// geometry matches it.
func (r *Regridder) Source() SourceGrid { return r.src }

// Interpolate maps one flattened source variable onto the destination
// grid. Cells without any valid source sample in reach become NaN; a
// source sample exactly at a cell center is used directly.
func (r *Regridder) Interpolate(src []float64) (*sparse.DenseArray, error) {
	if len(src) != r.src.NumSamples() {
		return nil, fmt.Errorf("polargrid: interpolating %d values on a %d-sample source grid",
			len(src), r.src.NumSamples())
	}
	out := sparse.ZerosDense(r.dst.Nz(), r.dst.Ny(), r.dst.Nx())
	for cell, nbrs := range r.neighbors {
		out.Elements[cell] = interpolateCell(src, nbrs)
	}
	return out, nil
}

func interpolateCell(src []float64, nbrs []neighbor) float64 {
	var wSum, vSum float64
	n := 0
	for _, nb := range nbrs {
		v := src[nb.idx]
		if math.IsNaN(v) {
			continue
		}
		if nb.dist == 0 {
			// Coincident sample: neighbors are ordered by index on
			// ties, so this is the lowest-index exact hit.
			return v
		}
		w := 1 / nb.dist
		wSum += w
		vSum += w * v
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return vSum / wSum
}

// Regrid interpolates every variable of f onto the destination grid,
// returning a new field with CR-SIM schema variable names. Specific
// differential phase is smoothed along range before interpolation
// when the source is a radar volume.
func (r *Regridder) Regrid(f *Field) (*Field, error) {
	out := &Field{
		Time:   f.Time,
		Source: f.Source,
		Radar:  f.Radar,
		MP:     f.MP,
		Data:   make(map[string]*sparse.DenseArray, len(f.Data)),
	}
	srcShape := r.src.Shape()
	for name, data := range f.Data {
		if !sameShape(data.Shape, srcShape) {
			return nil, fmt.Errorf("polargrid: variable %s shape %v does not match source grid shape %v",
				name, data.Shape, srcShape)
		}
		if CanonicalName(name) == "Kdp" {
			if sph, ok := r.src.(*SphericalGrid); ok {
				data = SmoothAlongRange(data, sph.RangeRes, kdpSmoothLength)
			}
		}
		gridded, err := r.Interpolate(data.Elements)
		if err != nil {
			return nil, err
		}
		out.Data[CanonicalName(name)] = gridded
	}
	return out, nil
}

// SmoothAlongRange applies a running mean of the given window length
// [m] along the last (range) axis of data, whose bins are res [m]
// apart. Missing bins are excluded from each window mean and stay
// missing in the result.
func SmoothAlongRange(data *sparse.DenseArray, res, length float64) *sparse.DenseArray {
	size := int(length / res)
	if size < 2 {
		return data.Copy()
	}
	half := size / 2
	nr := data.Shape[len(data.Shape)-1]
	nRays := len(data.Elements) / nr
	out := data.Copy()
	for ray := 0; ray < nRays; ray++ {
		row := data.Elements[ray*nr : (ray+1)*nr]
		smoothed := out.Elements[ray*nr : (ray+1)*nr]
		for i := range row {
			if math.IsNaN(row[i]) {
				continue
			}
			lo := i - half
			if lo < 0 {
				lo = 0
			}
			hi := i + (size - half - 1)
			if hi >= nr {
				hi = nr - 1
			}
			var sum float64
			n := 0
			for j := lo; j <= hi; j++ {
				if math.IsNaN(row[j]) {
					continue
				}
				sum += row[j]
				n++
			}
			smoothed[i] = sum / float64(n)
		}
	}
	return out
}
