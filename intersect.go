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
	"gonum.org/v1/gonum/spatial/kdtree"
)

// IntersectionMatrix records, per (azimuth, range) bin of a reference
// radar, the point where its beams pass closest to the beams of a
// second radar, when that closest approach is within tolerance.
// Coordinates are in the local Cartesian frame of the reference
// radar's site; entries without a close enough approach are NaN.
type IntersectionMatrix struct {
	// NAzimuth and NRange are the reference radar's ray and bin
	// counts; the matrix is flattened in (azimuth, range) order.
	NAzimuth, NRange int
	// Tolerance is the maximum accepted beam separation [m].
	Tolerance float64
	// X, Y, Z are the matched points [m].
	X, Y, Z []float64
}

// Valid reports whether the bin at ray a and range bin r has a
// matched intersection point.
func (m *IntersectionMatrix) Valid(a, r int) bool {
	return !math.IsNaN(m.X[a*m.NRange+r])
}

// Point returns the matched point for ray a and range bin r.
func (m *IntersectionMatrix) Point(a, r int) (x, y, z float64) {
	i := a*m.NRange + r
	return m.X[i], m.Y[i], m.Z[i]
}

// ComputeIntersections finds, for every (azimuth, range) bin of radar
// a swept over its elevation angles, the nearest bin of radar b in 3-D
// space, and records the matched location when the two beams pass
// within tolerance [m] of each other. Radar b's bins are indexed with
// a k-d tree so each lookup is logarithmic instead of a scan over the
// full volume. If msgChan is not nil, status messages are sent to it.
func ComputeIntersections(a, b *SphericalGrid, tolerance float64, msgChan chan string) (*IntersectionMatrix, error) {
	if err := a.Check(); err != nil {
		return nil, err
	}
	if err := b.Check(); err != nil {
		return nil, err
	}
	if tolerance <= 0 {
		return nil, fmt.Errorf("polargrid: intersection tolerance %g m must be positive", tolerance)
	}

	// Radar b's bins, re-projected into a's local frame.
	bx, by, bz := b.SampleCoords(a.Site, a.SiteAlt)
	samples := make(beamSamples, len(bx))
	for i := range bx {
		samples[i] = beamSample{X: bx[i], Y: by[i], Z: bz[i], Idx: i}
	}
	tree := kdtree.New(samples, false)

	nAz, nR := a.NAzimuth(), a.NRange()
	m := &IntersectionMatrix{
		NAzimuth:  nAz,
		NRange:    nR,
		Tolerance: tolerance,
		X:         make([]float64, nAz*nR),
		Y:         make([]float64, nAz*nR),
		Z:         make([]float64, nAz*nR),
	}
	azimuths := a.Azimuths()
	ranges := a.Ranges()
	for i, az := range azimuths {
		for j, r := range ranges {
			best := math.Inf(1)
			cell := i*nR + j
			m.X[cell], m.Y[cell], m.Z[cell] = math.NaN(), math.NaN(), math.NaN()
			for _, elev := range a.Elevations {
				x, y, z := sphericalToCartesian(r, az, elev, a.SiteAlt)
				got, dist := tree.Nearest(beamSample{X: x, Y: y, Z: z, Idx: -1})
				if got == nil {
					continue
				}
				if d := math.Sqrt(dist); d < best && d <= tolerance {
					best = d
					match := got.(beamSample)
					m.X[cell], m.Y[cell], m.Z[cell] = match.X, match.Y, match.Z
				}
			}
		}
		if msgChan != nil && (i+1)%90 == 0 {
			msgChan <- fmt.Sprintf("Intersected %d of %d rays of %s with %s", i+1, nAz, a.Name, b.Name)
		}
	}
	return m, nil
}

// Write saves the matrix to w as NetCDF.
func (m *IntersectionMatrix) Write(w *os.File) error {
	h := cdf.NewHeader([]string{"azimuth", "range"}, []int{m.NAzimuth, m.NRange})
	for _, v := range []string{"x", "y", "z"} {
		h.AddVariable(v, []string{"azimuth", "range"}, []float64{0})
		h.AddAttribute(v, "units", "m")
	}
	h.AddAttribute("", "tolerance", []float64{m.Tolerance})
	h.Define()
	f, err := cdf.Create(w, h)
	if err != nil {
		return fmt.Errorf("polargrid: writing intersections: %v", err)
	}
	for v, data := range map[string][]float64{"x": m.X, "y": m.Y, "z": m.Z} {
		// cdf Writers signal completion of a fixed-size variable with
		// io.EOF; only a short write is an error.
		if n, err := f.Writer(v, nil, nil).Write(data); err != nil && !(err == io.EOF && n == len(data)) {
			return fmt.Errorf("polargrid: writing intersections: %v", err)
		}
	}
	return cdf.UpdateNumRecs(w)
}

// ReadIntersections loads a matrix saved by Write.
func ReadIntersections(r *os.File) (*IntersectionMatrix, error) {
	f, err := cdf.Open(r)
	if err != nil {
		return nil, fmt.Errorf("polargrid: reading intersections: %v", err)
	}
	dims := f.Header.Lengths("x")
	if len(dims) != 2 {
		return nil, fmt.Errorf("polargrid: reading intersections: unexpected shape %v", dims)
	}
	m := &IntersectionMatrix{NAzimuth: dims[0], NRange: dims[1]}
	tol, ok := f.Header.GetAttribute("", "tolerance").([]float64)
	if !ok || len(tol) == 0 {
		return nil, fmt.Errorf("polargrid: reading intersections: missing tolerance attribute")
	}
	m.Tolerance = tol[0]
	n := dims[0] * dims[1]
	for v, dst := range map[string]*[]float64{"x": &m.X, "y": &m.Y, "z": &m.Z} {
		rdr := f.Reader(v, nil, nil)
		buf := rdr.Zero(n)
		if _, err := rdr.Read(buf); err != nil {
			return nil, fmt.Errorf("polargrid: reading intersections: %v", err)
		}
		data := make([]float64, n)
		copy(data, buf.([]float64))
		*dst = data
	}
	return m, nil
}

// OpenIntersections loads the matrix stored at path, computing and
// persisting it first if no file exists there yet.
func OpenIntersections(path string, compute func() (*IntersectionMatrix, error)) (*IntersectionMatrix, error) {
	if f, err := os.Open(path); err == nil {
		defer f.Close()
		return ReadIntersections(f)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("polargrid: opening intersections %s: %v", path, err)
	}
	m, err := compute()
	if err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("polargrid: creating intersections %s: %v", path, err)
	}
	defer f.Close()
	if err := m.Write(f); err != nil {
		return nil, err
	}
	return m, nil
}
