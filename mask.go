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
	"io"
	"math"
	"os"

	"github.com/ctessum/cdf"
	"github.com/ctessum/geom"
)

// Mask marks grid cells to be excluded from comparisons and
// statistics. Cells where Excluded is true are outside the commonly
// observed volume.
type Mask struct {
	// Shape is the (height, y, x) shape of the grid the mask
	// belongs to.
	Shape []int
	// Excluded is the flattened exclusion flag per cell.
	Excluded []bool
}

// NewMask returns an all-inclusive mask for a grid with nz height
// levels and ny × nx columns.
func NewMask(nz, ny, nx int) *Mask {
	return &Mask{
		Shape:    []int{nz, ny, nx},
		Excluded: make([]bool, nz*ny*nx),
	}
}

// Or combines m with other in place, excluding every cell that either
// mask excludes.
func (m *Mask) Or(other *Mask) error {
	if !sameShape(m.Shape, other.Shape) {
		return fmt.Errorf("polargrid: cannot combine masks of shapes %v and %v",
			m.Shape, other.Shape)
	}
	for i, e := range other.Excluded {
		if e {
			m.Excluded[i] = true
		}
	}
	return nil
}

// Count returns the number of excluded cells.
func (m *Mask) Count() int {
	n := 0
	for _, e := range m.Excluded {
		if e {
			n++
		}
	}
	return n
}

// DistanceMask excludes every column of grid whose great-circle
// distance from site exceeds maxDist [m], at all heights.
func DistanceMask(grid *CartesianGrid, site geom.Point, maxDist float64) (*Mask, error) {
	if err := grid.Check(); err != nil {
		return nil, err
	}
	if maxDist <= 0 {
		return nil, fmt.Errorf("polargrid: distance mask: maximum distance %g m must be positive", maxDist)
	}
	nz, ny, nx := grid.Nz(), grid.Ny(), grid.Nx()
	m := NewMask(nz, ny, nx)
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			p := geom.Point{X: grid.Lons.Get(j, i), Y: grid.Lats.Get(j, i)}
			if GreatCircleDistance(site, p) <= maxDist {
				continue
			}
			for k := 0; k < nz; k++ {
				m.Excluded[(k*ny+j)*nx+i] = true
			}
		}
	}
	return m, nil
}

// HeightMask excludes the cells of grid that lie below the lowest or
// above the highest beam of the radar volume scan described by sph.
// For each column, the scan's elevation angles are swept at the
// column's surface distance; a beam steeper than the slant geometry
// allows (near vertical incidence) leaves the column open at the top,
// and a column beyond every beam's range is excluded entirely.
func HeightMask(grid *CartesianGrid, sph *SphericalGrid) (*Mask, error) {
	if err := grid.Check(); err != nil {
		return nil, err
	}
	if err := sph.Check(); err != nil {
		return nil, err
	}
	nz, ny, nx := grid.Nz(), grid.Ny(), grid.Nx()
	heights := grid.Heights()
	m := NewMask(nz, ny, nx)
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			p := geom.Point{X: grid.Lons.Get(j, i), Y: grid.Lats.Get(j, i)}
			s := GreatCircleDistance(sph.Site, p)
			low, high := math.Inf(1), math.Inf(-1)
			for _, elev := range sph.Elevations {
				cosE := math.Cos(elev * math.Pi / 180)
				if cosE < 1e-9 {
					// Near-vertical beam: the column is only
					// reachable directly overhead, where it is
					// covered without an upper bound.
					if s < sph.RangeRes {
						high = math.Inf(1)
						if bh := beamHeight(0, elev, sph.SiteAlt); bh < low {
							low = bh
						}
					}
					continue
				}
				r := s / cosE
				if r > sph.MaxRange {
					continue
				}
				h := beamHeight(r, elev, sph.SiteAlt)
				if h < low {
					low = h
				}
				if h > high {
					high = h
				}
			}
			for k, hgt := range heights {
				alt := grid.OriginAlt + hgt
				if alt < low || alt > high {
					m.Excluded[(k*ny+j)*nx+i] = true
				}
			}
		}
	}
	return m, nil
}

// RotationMask derives an empirical mask from a reference field on
// which the cells never reached by the scan are already missing: the
// NaN pattern of the named variable at height level heightIndex is
// taken as excluded, at all heights. The reference is typically a
// polarimetric variable from a scan known to cover the full sector.
func RotationMask(f *Field, variable string, heightIndex int) (*Mask, error) {
	d, ok := f.Data[variable]
	if !ok {
		return nil, fmt.Errorf("polargrid: rotation mask: field has no variable %s", variable)
	}
	if len(d.Shape) != 3 {
		return nil, fmt.Errorf("polargrid: rotation mask: variable %s is not a gridded volume", variable)
	}
	nz, ny, nx := d.Shape[0], d.Shape[1], d.Shape[2]
	if heightIndex < 0 || heightIndex >= nz {
		return nil, fmt.Errorf("polargrid: rotation mask: height index %d outside [0, %d)", heightIndex, nz)
	}
	m := NewMask(nz, ny, nx)
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			if !math.IsNaN(d.Get(heightIndex, j, i)) {
				continue
			}
			for k := 0; k < nz; k++ {
				m.Excluded[(k*ny+j)*nx+i] = true
			}
		}
	}
	return m, nil
}

// Write saves the mask to w as NetCDF.
func (m *Mask) Write(w *os.File) error {
	if len(m.Shape) != 3 {
		return fmt.Errorf("polargrid: cannot write mask of shape %v", m.Shape)
	}
	h := cdf.NewHeader([]string{"height", "y", "x"}, m.Shape)
	h.AddVariable("mask", []string{"height", "y", "x"}, []int32{0})
	h.AddAttribute("mask", "description", "1 where the cell is excluded from the commonly observed volume")
	h.Define()
	f, err := cdf.Create(w, h)
	if err != nil {
		return fmt.Errorf("polargrid: writing mask: %v", err)
	}
	data := make([]int32, len(m.Excluded))
	for i, e := range m.Excluded {
		if e {
			data[i] = 1
		}
	}
	// cdf Writers signal completion of a fixed-size variable with
	// io.EOF; only a short write is an error.
	if n, err := f.Writer("mask", nil, nil).Write(data); err != nil && !(err == io.EOF && n == len(data)) {
		return fmt.Errorf("polargrid: writing mask: %v", err)
	}
	return cdf.UpdateNumRecs(w)
}

// ReadMask loads a mask saved by Write.
func ReadMask(r *os.File) (*Mask, error) {
	f, err := cdf.Open(r)
	if err != nil {
		return nil, fmt.Errorf("polargrid: reading mask: %v", err)
	}
	dims := f.Header.Lengths("mask")
	if len(dims) != 3 {
		return nil, fmt.Errorf("polargrid: reading mask: unexpected shape %v", dims)
	}
	n := dims[0] * dims[1] * dims[2]
	rdr := f.Reader("mask", nil, nil)
	buf := rdr.Zero(n)
	if _, err := rdr.Read(buf); err != nil {
		return nil, fmt.Errorf("polargrid: reading mask: %v", err)
	}
	m := NewMask(dims[0], dims[1], dims[2])
	for i, v := range buf.([]int32) {
		m.Excluded[i] = v != 0
	}
	return m, nil
}

// OpenMask loads the mask stored at path. If no file exists there yet,
// the mask is computed with compute and persisted before returning.
func OpenMask(path string, compute func() (*Mask, error)) (*Mask, error) {
	if f, err := os.Open(path); err == nil {
		defer f.Close()
		return ReadMask(f)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("polargrid: opening mask %s: %v", path, err)
	}
	m, err := compute()
	if err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("polargrid: creating mask %s: %v", path, err)
	}
	defer f.Close()
	if err := m.Write(f); err != nil {
		return nil, err
	}
	return m, nil
}
