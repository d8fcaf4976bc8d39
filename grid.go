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
	"time"

	"github.com/ctessum/geom"
	"github.com/ctessum/sparse"
)

// Source identifies where a field's values come from.
type Source int

const (
	// Model marks fields derived from weather-model output
	// (WRF itself or a radar forward operator run on it).
	Model Source = iota
	// Observation marks fields measured by a radar.
	Observation
)

func (s Source) String() string {
	switch s {
	case Model:
		return "MODEL"
	case Observation:
		return "OBS"
	default:
		return fmt.Sprintf("Source(%d)", int(s))
	}
}

// ParseSource converts the string representation used in persisted
// files back to a Source.
func ParseSource(s string) (Source, error) {
	switch s {
	case "MODEL":
		return Model, nil
	case "OBS":
		return Observation, nil
	default:
		return 0, fmt.Errorf("polargrid: unknown data source %q", s)
	}
}

// SphericalGrid describes the native sampling geometry of a scanning
// radar: bins ordered by elevation, azimuth and slant range around a
// fixed antenna site.
type SphericalGrid struct {
	// Name identifies the radar (e.g. "Isen", "Mira35", "Poldirad").
	Name string

	// Site is the antenna longitude/latitude [degrees] and SiteAlt
	// its altitude above mean sea level [m].
	Site    geom.Point
	SiteAlt float64

	// MaxRange is the farthest bin center [m] and RangeRes the bin
	// spacing [m]; bin centers lie at RangeRes, 2·RangeRes, ….
	MaxRange, RangeRes float64

	// MinAzimuth (inclusive) and MaxAzimuth (exclusive) bound the
	// scanned sector [degrees clockwise from north], with rays every
	// AzRes degrees. MaxAzimuth ≤ MinAzimuth means the sector wraps
	// through north.
	MinAzimuth, MaxAzimuth, AzRes float64

	// Elevations are the antenna elevation angles [degrees] of the
	// volume scan, in ascending order.
	Elevations []float64
}

// Check returns an error if the grid description is inconsistent.
func (g *SphericalGrid) Check() error {
	if g.RangeRes <= 0 || g.MaxRange < g.RangeRes {
		return fmt.Errorf("polargrid: grid %s: invalid range extent %g m at %g m resolution",
			g.Name, g.MaxRange, g.RangeRes)
	}
	if g.AzRes <= 0 || g.AzRes > 360 {
		return fmt.Errorf("polargrid: grid %s: invalid azimuth resolution %g°", g.Name, g.AzRes)
	}
	if g.MinAzimuth < 0 || g.MinAzimuth >= 360 || g.MaxAzimuth < 0 || g.MaxAzimuth > 360 {
		return fmt.Errorf("polargrid: grid %s: azimuth sector [%g°, %g°) outside [0°, 360°]",
			g.Name, g.MinAzimuth, g.MaxAzimuth)
	}
	if len(g.Elevations) == 0 {
		return fmt.Errorf("polargrid: grid %s: no elevation angles", g.Name)
	}
	// Duplicate elevations are allowed: a volume scan may revisit an
	// angle.
	for i, e := range g.Elevations {
		if e < minElevation || e > maxElevation {
			return fmt.Errorf("polargrid: grid %s: elevation %g° outside [%g°, %g°]",
				g.Name, e, minElevation, maxElevation)
		}
		if i > 0 && e < g.Elevations[i-1] {
			return fmt.Errorf("polargrid: grid %s: elevations not in ascending order", g.Name)
		}
	}
	return nil
}

// NRange returns the number of range bins per ray.
func (g *SphericalGrid) NRange() int {
	return int(math.Round(g.MaxRange / g.RangeRes))
}

// NAzimuth returns the number of rays per elevation sweep.
func (g *SphericalGrid) NAzimuth() int {
	span := g.MaxAzimuth - g.MinAzimuth
	if span <= 0 {
		span += 360
	}
	return int(math.Round(span / g.AzRes))
}

// Ranges returns the slant-range bin centers [m].
func (g *SphericalGrid) Ranges() []float64 {
	r := make([]float64, g.NRange())
	for i := range r {
		r[i] = float64(i+1) * g.RangeRes
	}
	return r
}

// Azimuths returns the ray azimuths [degrees], normalized to [0, 360).
func (g *SphericalGrid) Azimuths() []float64 {
	az := make([]float64, g.NAzimuth())
	for i := range az {
		az[i] = math.Mod(g.MinAzimuth+float64(i)*g.AzRes, 360)
	}
	return az
}

// NumSamples implements SourceGrid.
func (g *SphericalGrid) NumSamples() int {
	return len(g.Elevations) * g.NAzimuth() * g.NRange()
}

// Shape returns the sample array shape (elevation, azimuth, range).
func (g *SphericalGrid) Shape() []int {
	return []int{len(g.Elevations), g.NAzimuth(), g.NRange()}
}

// Origin implements SourceGrid.
func (g *SphericalGrid) Origin() (geom.Point, float64) {
	return g.Site, g.SiteAlt
}

// Equal reports whether g and o describe the same scan geometry.
// Successive volumes of one radar can start at slightly different
// angles, so a shared name and array shape do not imply a shared
// geometry.
func (g *SphericalGrid) Equal(o *SphericalGrid) bool {
	if o == nil || g.Site != o.Site || g.SiteAlt != o.SiteAlt ||
		g.MaxRange != o.MaxRange || g.RangeRes != o.RangeRes ||
		g.MinAzimuth != o.MinAzimuth || g.MaxAzimuth != o.MaxAzimuth ||
		g.AzRes != o.AzRes || len(g.Elevations) != len(o.Elevations) {
		return false
	}
	for i, e := range g.Elevations {
		if e != o.Elevations[i] {
			return false
		}
	}
	return true
}

// SampleCoords implements SourceGrid: it returns the local Cartesian
// coordinates of every bin, in the frame centered on origin, ordered
// by elevation, azimuth, then range.
func (g *SphericalGrid) SampleCoords(origin geom.Point, originAlt float64) ([]float64, []float64, []float64) {
	n := g.NumSamples()
	x := make([]float64, n)
	y := make([]float64, n)
	z := make([]float64, n)
	azimuths := g.Azimuths()
	ranges := g.Ranges()
	i := 0
	for _, elev := range g.Elevations {
		for _, az := range azimuths {
			for _, r := range ranges {
				bx, by, bz := sphericalToCartesian(r, az, elev, g.SiteAlt)
				// Shift into the requested frame. The antenna
				// site and the grid origin usually coincide;
				// when they do not, re-project through lon/lat.
				if origin != g.Site || originAlt != g.SiteAlt {
					p, alt := FromLocalCartesian(bx, by, bz, g.Site, g.SiteAlt)
					bx, by, bz = ToLocalCartesian(p, alt, origin, originAlt)
				}
				x[i], y[i], z[i] = bx, by, bz
				i++
			}
		}
	}
	return x, y, z
}

// CartesianGrid is the regular lon/lat/height grid that all sources are
// regridded onto. The horizontal layout is taken from the weather
// model, so cell positions are stored as explicit 2-D longitude and
// latitude arrays rather than derived from a spacing.
type CartesianGrid struct {
	// Origin is the reference radar site the local Cartesian frame is
	// centered on, with its altitude OriginAlt [m].
	Origin    geom.Point
	OriginAlt float64

	// ZMin and ZMax bound the height levels [m, relative to
	// OriginAlt], spaced VertRes apart.
	ZMin, ZMax, VertRes float64

	// Lons and Lats hold the cell longitudes and latitudes [degrees],
	// both shaped (ny, nx).
	Lons, Lats *sparse.DenseArray
}

// Check returns an error if the grid description is inconsistent.
func (g *CartesianGrid) Check() error {
	if g.VertRes <= 0 {
		return fmt.Errorf("polargrid: grid: vertical resolution %g m must be positive", g.VertRes)
	}
	if g.ZMin > g.ZMax {
		return fmt.Errorf("polargrid: grid: z_min %g m above z_max %g m", g.ZMin, g.ZMax)
	}
	if g.Lons == nil || g.Lats == nil {
		return fmt.Errorf("polargrid: grid: missing longitude or latitude coordinates")
	}
	if len(g.Lons.Shape) != 2 || len(g.Lats.Shape) != 2 ||
		g.Lons.Shape[0] != g.Lats.Shape[0] || g.Lons.Shape[1] != g.Lats.Shape[1] {
		return fmt.Errorf("polargrid: grid: longitude shape %v does not match latitude shape %v",
			g.Lons.Shape, g.Lats.Shape)
	}
	return nil
}

// Heights returns the height levels [m, relative to OriginAlt].
func (g *CartesianGrid) Heights() []float64 {
	n := g.Nz()
	h := make([]float64, n)
	for i := range h {
		h[i] = g.ZMin + float64(i)*g.VertRes
	}
	return h
}

// Nz returns the number of height levels.
func (g *CartesianGrid) Nz() int {
	return int(math.Floor((g.ZMax-g.ZMin)/g.VertRes)) + 1
}

// Ny returns the number of grid rows.
func (g *CartesianGrid) Ny() int { return g.Lons.Shape[0] }

// Nx returns the number of grid columns.
func (g *CartesianGrid) Nx() int { return g.Lons.Shape[1] }

// HeightIndex returns the index of the height level closest to
// alt [m, relative to OriginAlt], clamped to the grid.
func (g *CartesianGrid) HeightIndex(alt float64) int {
	k := int(math.Round((alt - g.ZMin) / g.VertRes))
	if k < 0 {
		return 0
	}
	if n := g.Nz(); k >= n {
		return n - 1
	}
	return k
}

// ModelGrid describes the native sampling of weather-model output:
// columns at the model's lon/lat locations with model-level altitudes
// that vary per column.
type ModelGrid struct {
	// Lons and Lats are the column positions [degrees], shaped (ny, nx).
	Lons, Lats *sparse.DenseArray
	// Heights are the sample altitudes above mean sea level [m],
	// shaped (nz, ny, nx).
	Heights *sparse.DenseArray
}

// Check returns an error if the grid description is inconsistent.
func (g *ModelGrid) Check() error {
	if g.Lons == nil || g.Lats == nil || g.Heights == nil {
		return fmt.Errorf("polargrid: model grid: missing coordinate arrays")
	}
	if len(g.Heights.Shape) != 3 || len(g.Lons.Shape) != 2 ||
		g.Heights.Shape[1] != g.Lons.Shape[0] || g.Heights.Shape[2] != g.Lons.Shape[1] ||
		g.Lons.Shape[0] != g.Lats.Shape[0] || g.Lons.Shape[1] != g.Lats.Shape[1] {
		return fmt.Errorf("polargrid: model grid: height shape %v does not match horizontal shape %v",
			g.Heights.Shape, g.Lons.Shape)
	}
	return nil
}

// NumSamples implements SourceGrid.
func (g *ModelGrid) NumSamples() int {
	return g.Heights.Shape[0] * g.Heights.Shape[1] * g.Heights.Shape[2]
}

// Shape returns the sample array shape (level, row, column).
func (g *ModelGrid) Shape() []int {
	return []int{g.Heights.Shape[0], g.Heights.Shape[1], g.Heights.Shape[2]}
}

// Origin implements SourceGrid. A model grid has no antenna site, so
// fields on it may be regridded toward any origin.
func (g *ModelGrid) Origin() (geom.Point, float64) {
	return geom.Point{X: math.NaN(), Y: math.NaN()}, math.NaN()
}

// SampleCoords implements SourceGrid, ordered by level, row, column.
func (g *ModelGrid) SampleCoords(origin geom.Point, originAlt float64) ([]float64, []float64, []float64) {
	nz, ny, nx := g.Heights.Shape[0], g.Heights.Shape[1], g.Heights.Shape[2]
	n := nz * ny * nx
	x := make([]float64, n)
	y := make([]float64, n)
	z := make([]float64, n)
	i := 0
	for k := 0; k < nz; k++ {
		for j := 0; j < ny; j++ {
			for l := 0; l < nx; l++ {
				p := geom.Point{X: g.Lons.Get(j, l), Y: g.Lats.Get(j, l)}
				x[i], y[i], z[i] = ToLocalCartesian(p, g.Heights.Get(k, j, l), origin, originAlt)
				i++
			}
		}
	}
	return x, y, z
}

// SourceGrid describes the native sampling geometry of a source field:
// either a radar volume scan (SphericalGrid) or weather-model columns
// (ModelGrid).
type SourceGrid interface {
	// SampleCoords returns the local Cartesian coordinates of every
	// sample in the frame centered on origin/originAlt, in the same
	// flattened order that Shape describes.
	SampleCoords(origin geom.Point, originAlt float64) (x, y, z []float64)
	// Shape is the sample array shape; its product is NumSamples.
	Shape() []int
	// NumSamples is the total sample count.
	NumSamples() int
	// Origin is the natural frame center of the grid; NaN when the
	// grid has none.
	Origin() (geom.Point, float64)
}

// Field holds a set of physical variables sampled on a common grid at
// one instant. Missing values are NaN.
type Field struct {
	// Time is the valid time of the data.
	Time time.Time
	// Source tags where the values come from.
	Source Source
	// Radar names the radar the field belongs to (the measuring radar
	// for observations, the simulated one for forward-operator output).
	Radar string
	// MP is the WRF microphysics scheme identifier for model data,
	// zero for observations.
	MP int
	// Data maps variable names to their arrays. All arrays share one
	// shape.
	Data map[string]*sparse.DenseArray
}

// AddVariable adds an array under name, enforcing that all variables
// of the field share one shape.
func (f *Field) AddVariable(name string, data *sparse.DenseArray) error {
	for v, d := range f.Data {
		if !sameShape(d.Shape, data.Shape) {
			return fmt.Errorf("polargrid: variable %s shape %v does not match %s shape %v",
				name, data.Shape, v, d.Shape)
		}
		break
	}
	if f.Data == nil {
		f.Data = make(map[string]*sparse.DenseArray)
	}
	f.Data[name] = data
	return nil
}

// ApplyMask sets every masked cell of every variable to NaN.
func (f *Field) ApplyMask(m *Mask) error {
	return f.applyMask(m, nil)
}

// ApplyMaskExcept is ApplyMask, skipping the named variables.
func (f *Field) ApplyMaskExcept(m *Mask, except ...string) error {
	skip := make(map[string]bool, len(except))
	for _, v := range except {
		skip[v] = true
	}
	return f.applyMask(m, skip)
}

func (f *Field) applyMask(m *Mask, skip map[string]bool) error {
	for v, d := range f.Data {
		if skip[v] {
			continue
		}
		if !sameShape(d.Shape, m.Shape) {
			return fmt.Errorf("polargrid: mask shape %v does not match variable %s shape %v",
				m.Shape, v, d.Shape)
		}
		for i, excluded := range m.Excluded {
			if excluded {
				d.Elements[i] = math.NaN()
			}
		}
	}
	return nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i, v := range a {
		if v != b[i] {
			return false
		}
	}
	return true
}
