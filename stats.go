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
	"time"

	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// CellArea is the horizontal area of one grid cell [km²] of the
// canonical 400 m grid.
const CellArea = 0.4 * 0.4

// PSDStats accumulates mean particle size distributions over cells
// whose hydrometeor mixing ratio exceeds given thresholds, averaged
// over time steps.
type PSDStats struct {
	// Thresholds are the mixing-ratio thresholds [kg kg-1] that
	// select the cells entering each mean.
	Thresholds []float64

	sum   *sparse.DenseArray // (threshold, bin)
	steps int
}

// NewPSDStats returns an accumulator for PSDs with nBins size bins.
func NewPSDStats(thresholds []float64, nBins int) (*PSDStats, error) {
	if len(thresholds) == 0 || nBins <= 0 {
		return nil, fmt.Errorf("polargrid: particle size statistics need thresholds and a positive bin count")
	}
	return &PSDStats{
		Thresholds: thresholds,
		sum:        sparse.ZerosDense(len(thresholds), nBins),
	}, nil
}

// Add accumulates one time step. psd holds the per-cell size
// distribution, shaped (bin, y, x); q is the hydrometeor mixing ratio
// [kg kg-1] per cell, shaped (y, x). Masked cells are skipped.
func (p *PSDStats) Add(psd, q *sparse.DenseArray, mask *Mask) error {
	nBins := p.sum.Shape[1]
	if len(psd.Shape) != 3 || psd.Shape[0] != nBins {
		return fmt.Errorf("polargrid: particle size array shape %v does not have %d bins", psd.Shape, nBins)
	}
	if len(q.Shape) != 2 || q.Shape[0] != psd.Shape[1] || q.Shape[1] != psd.Shape[2] {
		return fmt.Errorf("polargrid: mixing-ratio shape %v does not match distribution shape %v",
			q.Shape, psd.Shape)
	}
	ny, nx := q.Shape[0], q.Shape[1]
	for t, thresh := range p.Thresholds {
		var n int
		binSum := make([]float64, nBins)
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				if mask != nil && mask.Excluded[j*nx+i] {
					continue
				}
				v := q.Get(j, i)
				if math.IsNaN(v) || v <= thresh {
					continue
				}
				n++
				for b := 0; b < nBins; b++ {
					if d := psd.Get(b, j, i); !math.IsNaN(d) {
						binSum[b] += d
					}
				}
			}
		}
		if n == 0 {
			continue
		}
		for b := 0; b < nBins; b++ {
			p.sum.AddVal(binSum[b]/float64(n), t, b)
		}
	}
	p.steps++
	return nil
}

// Mean returns the accumulated distributions averaged over the added
// time steps, shaped (threshold, bin).
func (p *PSDStats) Mean() (*sparse.DenseArray, error) {
	if p.steps == 0 {
		return nil, fmt.Errorf("polargrid: no time steps accumulated")
	}
	out := p.sum.Copy()
	floats.Scale(1/float64(p.steps), out.Elements)
	return out, nil
}

// HIWStats accumulates high-impact-weather statistics at one height
// level: per hydrometeor class and intensity threshold, how often and
// over how much area the threshold is exceeded during one day.
type HIWStats struct {
	// Start and End bound the accumulation day.
	Start, End time.Time
	// Thresholds are the per-class intensity thresholds, each list in
	// ascending order.
	Thresholds map[string][]float64
	// CellArea is the horizontal area of one grid cell [km²].
	CellArea float64

	// exceeding and valid count cells over all added steps; area is
	// the accumulated exceeding area [km²].
	exceeding map[string][]int
	valid     map[string][]int
	area      map[string][]float64
	steps     int
}

// NewHIWStats returns an accumulator for the day starting at start.
// The analysis window must span exactly one full day, from midnight
// to one second before the next; partial days would bias
// frequency-of-occurrence comparisons between days.
func NewHIWStats(start, end time.Time, thresholds map[string][]float64, cellArea float64) (*HIWStats, error) {
	if start.Hour() != 0 || start.Minute() != 0 || start.Second() != 0 {
		return nil, fmt.Errorf("polargrid: statistics window must start at midnight, got %v", start)
	}
	if wantEnd := start.Add(24*time.Hour - time.Second); !end.Equal(wantEnd) {
		return nil, fmt.Errorf("polargrid: statistics window must end at 23:59:59 of the start day, got %v", end)
	}
	if len(thresholds) == 0 {
		return nil, fmt.Errorf("polargrid: no threshold classes given")
	}
	for class, list := range thresholds {
		if len(list) == 0 {
			return nil, fmt.Errorf("polargrid: class %s has no thresholds", class)
		}
		if !sort.Float64sAreSorted(list) {
			return nil, fmt.Errorf("polargrid: class %s thresholds are not ascending", class)
		}
	}
	if cellArea <= 0 {
		return nil, fmt.Errorf("polargrid: cell area %g km² must be positive", cellArea)
	}
	s := &HIWStats{
		Start:      start,
		End:        end,
		Thresholds: thresholds,
		CellArea:   cellArea,
		exceeding:  make(map[string][]int),
		valid:      make(map[string][]int),
		area:       make(map[string][]float64),
	}
	for class, list := range thresholds {
		s.exceeding[class] = make([]int, len(list))
		s.valid[class] = make([]int, len(list))
		s.area[class] = make([]float64, len(list))
	}
	return s, nil
}

// Add accumulates one time step. values maps each class to its
// intensity per cell at the analysis height, shaped (y, x), with NaN
// where the class is absent or the cell unobserved. mask, if not nil,
// excludes cells using the same (y, x) pattern at any height level.
func (s *HIWStats) Add(t time.Time, values map[string]*sparse.DenseArray, mask *Mask) error {
	if t.Before(s.Start) || t.After(s.End) {
		return fmt.Errorf("polargrid: time %v outside statistics window [%v, %v]", t, s.Start, s.End)
	}
	for class, data := range values {
		thresholds, ok := s.Thresholds[class]
		if !ok {
			return fmt.Errorf("polargrid: unknown class %s", class)
		}
		if len(data.Shape) != 2 {
			return fmt.Errorf("polargrid: class %s values are not a horizontal slice", class)
		}
		ny, nx := data.Shape[0], data.Shape[1]
		if mask != nil && (mask.Shape[1] != ny || mask.Shape[2] != nx) {
			return fmt.Errorf("polargrid: mask shape %v does not match values shape %v", mask.Shape, data.Shape)
		}
		for ti, thresh := range thresholds {
			for j := 0; j < ny; j++ {
				for i := 0; i < nx; i++ {
					if mask != nil && mask.Excluded[j*nx+i] {
						continue
					}
					v := data.Get(j, i)
					if math.IsNaN(v) {
						continue
					}
					s.valid[class][ti]++
					if v > thresh {
						s.exceeding[class][ti]++
						s.area[class][ti] += s.CellArea
					}
				}
			}
		}
	}
	s.steps++
	return nil
}

// Frequency returns, per class and threshold, the fraction of valid
// cell observations exceeding the threshold over the accumulated day.
func (s *HIWStats) Frequency() map[string][]float64 {
	out := make(map[string][]float64, len(s.Thresholds))
	for class, counts := range s.exceeding {
		f := make([]float64, len(counts))
		for i, n := range counts {
			if v := s.valid[class][i]; v > 0 {
				f[i] = float64(n) / float64(v)
			}
		}
		out[class] = f
	}
	return out
}

// Area returns, per class and threshold, the total area [km²]
// exceeding the threshold, summed over the accumulated time steps.
func (s *HIWStats) Area() map[string][]float64 {
	out := make(map[string][]float64, len(s.area))
	for class, a := range s.area {
		out[class] = append([]float64(nil), a...)
	}
	return out
}

// Steps returns the number of accumulated time steps.
func (s *HIWStats) Steps() int { return s.steps }

// ClassValues extracts the per-cell intensity of one hydrometeor
// class at height level heightIndex: cells whose classification (hid)
// is one of ids take the corresponding intensity value, all others
// are NaN.
func ClassValues(hid, intensity *sparse.DenseArray, heightIndex int, ids []int) (*sparse.DenseArray, error) {
	if !sameShape(hid.Shape, intensity.Shape) || len(hid.Shape) != 3 {
		return nil, fmt.Errorf("polargrid: classification shape %v does not match intensity shape %v",
			hid.Shape, intensity.Shape)
	}
	if heightIndex < 0 || heightIndex >= hid.Shape[0] {
		return nil, fmt.Errorf("polargrid: height index %d outside [0, %d)", heightIndex, hid.Shape[0])
	}
	ny, nx := hid.Shape[1], hid.Shape[2]
	out := sparse.ZerosDense(ny, nx)
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			out.Set(math.NaN(), j, i)
			class := hid.Get(heightIndex, j, i)
			if math.IsNaN(class) {
				continue
			}
			for _, id := range ids {
				if int(math.Round(class)) == id {
					out.Set(intensity.Get(heightIndex, j, i), j, i)
					break
				}
			}
		}
	}
	return out, nil
}

// CFAD accumulates contoured frequency by altitude diagrams:
// per-height histograms of a variable over time.
type CFAD struct {
	// Dividers are the histogram bin edges, ascending.
	Dividers []float64
	// Counts holds the accumulated histogram, shaped (height, bin).
	Counts *sparse.DenseArray
}

// NewCFAD returns a CFAD accumulator for nz height levels with bins
// of width res between min and max.
func NewCFAD(min, max, res float64, nz int) (*CFAD, error) {
	if res <= 0 || max <= min {
		return nil, fmt.Errorf("polargrid: invalid histogram range [%g, %g] at width %g", min, max, res)
	}
	if nz <= 0 {
		return nil, fmt.Errorf("polargrid: histogram needs a positive level count")
	}
	nBins := int(math.Ceil((max - min) / res))
	dividers := make([]float64, nBins+1)
	for i := range dividers {
		dividers[i] = min + float64(i)*res
	}
	return &CFAD{
		Dividers: dividers,
		Counts:   sparse.ZerosDense(nz, nBins),
	}, nil
}

// Add accumulates one time step of a gridded variable shaped
// (height, y, x). Masked and missing cells are skipped, as are values
// outside the histogram range.
func (c *CFAD) Add(data *sparse.DenseArray, mask *Mask) error {
	nz := c.Counts.Shape[0]
	if len(data.Shape) != 3 || data.Shape[0] != nz {
		return fmt.Errorf("polargrid: histogram input shape %v does not have %d levels", data.Shape, nz)
	}
	if mask != nil && !sameShape(mask.Shape, data.Shape) {
		return fmt.Errorf("polargrid: mask shape %v does not match input shape %v", mask.Shape, data.Shape)
	}
	ny, nx := data.Shape[1], data.Shape[2]
	lo, hi := c.Dividers[0], c.Dividers[len(c.Dividers)-1]
	nBins := c.Counts.Shape[1]
	count := make([]float64, nBins)
	for k := 0; k < nz; k++ {
		var values []float64
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				if mask != nil && mask.Excluded[(k*ny+j)*nx+i] {
					continue
				}
				v := data.Get(k, j, i)
				if math.IsNaN(v) || v < lo || v >= hi {
					continue
				}
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			continue
		}
		sort.Float64s(values)
		for i := range count {
			count[i] = 0
		}
		stat.Histogram(count, c.Dividers, values, nil)
		for b := 0; b < nBins; b++ {
			c.Counts.AddVal(count[b], k, b)
		}
	}
	return nil
}
