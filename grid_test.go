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
	"math"
	"testing"

	"github.com/ctessum/geom"
	"github.com/ctessum/sparse"
)

// testSphericalGrid is a small scanning-radar geometry reused across
// tests: two sweeps, four rays, three bins.
func testSphericalGrid() *SphericalGrid {
	return &SphericalGrid{
		Name:       "Isen",
		Site:       geom.Point{X: 12.101779, Y: 48.174705},
		SiteAlt:    678,
		MaxRange:   1500,
		RangeRes:   500,
		MinAzimuth: 0,
		MaxAzimuth: 360,
		AzRes:      90,
		Elevations: []float64{0.5, 1.5},
	}
}

// testCartesianGrid is a small destination grid centered on the given
// site with an evenly spaced lon/lat layout.
func testCartesianGrid(origin geom.Point, originAlt float64, ny, nx int) *CartesianGrid {
	lons := sparse.ZerosDense(ny, nx)
	lats := sparse.ZerosDense(ny, nx)
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			lons.Set(origin.X+0.004*float64(i-nx/2), j, i)
			lats.Set(origin.Y+0.003*float64(j-ny/2), j, i)
		}
	}
	return &CartesianGrid{
		Origin:    origin,
		OriginAlt: originAlt,
		ZMin:      0,
		ZMax:      1000,
		VertRes:   500,
		Lons:      lons,
		Lats:      lats,
	}
}

func TestSphericalGridCheck(t *testing.T) {
	g := testSphericalGrid()
	if err := g.Check(); err != nil {
		t.Fatal(err)
	}

	bad := testSphericalGrid()
	bad.RangeRes = 0
	if err := bad.Check(); err == nil {
		t.Error("zero range resolution should fail validation")
	}

	bad = testSphericalGrid()
	bad.Elevations = nil
	if err := bad.Check(); err == nil {
		t.Error("empty elevation list should fail validation")
	}

	bad = testSphericalGrid()
	bad.Elevations = []float64{1.5, 0.5}
	if err := bad.Check(); err == nil {
		t.Error("descending elevations should fail validation")
	}

	// A revisited elevation angle is a valid scan.
	dup := testSphericalGrid()
	dup.Elevations = []float64{0.5, 0.5, 1.5}
	if err := dup.Check(); err != nil {
		t.Errorf("duplicate elevation should pass validation: %v", err)
	}

	bad = testSphericalGrid()
	bad.Elevations = []float64{0.5, 95}
	if err := bad.Check(); err == nil {
		t.Error("out-of-range elevation should fail validation")
	}
}

func TestSphericalGridEqual(t *testing.T) {
	a := testSphericalGrid()
	if !a.Equal(testSphericalGrid()) {
		t.Error("identical scan geometries should compare equal")
	}
	if a.Equal(nil) {
		t.Error("nil geometry should not compare equal")
	}

	// Different elevation angles keep the array shape but change
	// every sample position, so the scans must not be interchangeable.
	b := testSphericalGrid()
	b.Elevations = []float64{5, 40}
	if !sameShape(a.Shape(), b.Shape()) {
		t.Fatal("test scans should share one array shape")
	}
	if a.Equal(b) {
		t.Error("scans with different elevations should not compare equal")
	}

	// A volume starting at a slightly different angle is a different
	// geometry too.
	c := testSphericalGrid()
	c.MinAzimuth, c.MaxAzimuth = 0.5, 0.5
	if !sameShape(a.Shape(), c.Shape()) {
		t.Fatal("test scans should share one array shape")
	}
	if a.Equal(c) {
		t.Error("scans with shifted start angles should not compare equal")
	}

	d := testSphericalGrid()
	d.Site.X += 0.01
	if a.Equal(d) {
		t.Error("scans at different sites should not compare equal")
	}
}

func TestSphericalGridCoordinates(t *testing.T) {
	g := testSphericalGrid()
	if n := g.NRange(); n != 3 {
		t.Errorf("range bins: want 3, got %d", n)
	}
	if n := g.NAzimuth(); n != 4 {
		t.Errorf("rays: want 4, got %d", n)
	}
	wantRanges := []float64{500, 1000, 1500}
	for i, r := range g.Ranges() {
		if r != wantRanges[i] {
			t.Errorf("range bin %d: want %g, got %g", i, wantRanges[i], r)
		}
	}
	wantAz := []float64{0, 90, 180, 270}
	for i, az := range g.Azimuths() {
		if az != wantAz[i] {
			t.Errorf("ray %d: want %g°, got %g°", i, wantAz[i], az)
		}
	}
	if n := g.NumSamples(); n != 2*4*3 {
		t.Errorf("samples: want 24, got %d", n)
	}
}

func TestSphericalGridSectorWrap(t *testing.T) {
	g := testSphericalGrid()
	g.MinAzimuth, g.MaxAzimuth, g.AzRes = 270, 90, 90
	if err := g.Check(); err != nil {
		t.Fatal(err)
	}
	if n := g.NAzimuth(); n != 2 {
		t.Fatalf("wrapped sector rays: want 2, got %d", n)
	}
	wantAz := []float64{270, 0}
	for i, az := range g.Azimuths() {
		if az != wantAz[i] {
			t.Errorf("wrapped ray %d: want %g°, got %g°", i, wantAz[i], az)
		}
	}
}

func TestCartesianGridCheck(t *testing.T) {
	g := testCartesianGrid(geom.Point{X: 11.27, Y: 48.09}, 541, 3, 4)
	if err := g.Check(); err != nil {
		t.Fatal(err)
	}
	if g.Nz() != 3 || g.Ny() != 3 || g.Nx() != 4 {
		t.Errorf("shape: want (3, 3, 4), got (%d, %d, %d)", g.Nz(), g.Ny(), g.Nx())
	}
	wantHeights := []float64{0, 500, 1000}
	for i, h := range g.Heights() {
		if h != wantHeights[i] {
			t.Errorf("height %d: want %g, got %g", i, wantHeights[i], h)
		}
	}

	bad := testCartesianGrid(geom.Point{X: 11.27, Y: 48.09}, 541, 3, 4)
	bad.VertRes = -1
	if err := bad.Check(); err == nil {
		t.Error("negative vertical resolution should fail validation")
	}

	bad = testCartesianGrid(geom.Point{X: 11.27, Y: 48.09}, 541, 3, 4)
	bad.ZMin, bad.ZMax = 100, 0
	if err := bad.Check(); err == nil {
		t.Error("inverted height bounds should fail validation")
	}

	bad = testCartesianGrid(geom.Point{X: 11.27, Y: 48.09}, 541, 3, 4)
	bad.Lats = sparse.ZerosDense(2, 4)
	if err := bad.Check(); err == nil {
		t.Error("mismatched coordinate shapes should fail validation")
	}
}

func TestHeightIndex(t *testing.T) {
	g := testCartesianGrid(geom.Point{X: 11.27, Y: 48.09}, 541, 2, 2)
	for _, tc := range []struct {
		alt  float64
		want int
	}{
		{0, 0}, {240, 0}, {260, 1}, {500, 1}, {1000, 2},
		{-500, 0},  // below the grid clamps to the bottom
		{9000, 2},  // above the grid clamps to the top
	} {
		if got := g.HeightIndex(tc.alt); got != tc.want {
			t.Errorf("height index of %g m: want %d, got %d", tc.alt, tc.want, got)
		}
	}
}

func TestSourceString(t *testing.T) {
	for _, tc := range []struct {
		s    Source
		want string
	}{
		{Model, "MODEL"},
		{Observation, "OBS"},
	} {
		if got := tc.s.String(); got != tc.want {
			t.Errorf("source string: want %s, got %s", tc.want, got)
		}
		back, err := ParseSource(tc.want)
		if err != nil {
			t.Fatal(err)
		}
		if back != tc.s {
			t.Errorf("source round trip: want %v, got %v", tc.s, back)
		}
	}
	if _, err := ParseSource("DWD"); err == nil {
		t.Error("unknown source string should fail to parse")
	}
}

func TestFieldAddVariable(t *testing.T) {
	f := new(Field)
	if err := f.AddVariable("Zhh", sparse.ZerosDense(2, 3, 4)); err != nil {
		t.Fatal(err)
	}
	if err := f.AddVariable("Zdr", sparse.ZerosDense(2, 3, 4)); err != nil {
		t.Fatal(err)
	}
	if err := f.AddVariable("Kdp", sparse.ZerosDense(2, 3, 5)); err == nil {
		t.Error("mismatched variable shape should be rejected")
	}
}

func TestApplyMask(t *testing.T) {
	f := new(Field)
	zhh := sparse.ZerosDense(1, 2, 2)
	for i := range zhh.Elements {
		zhh.Elements[i] = float64(i + 1)
	}
	if err := f.AddVariable("Zhh", zhh); err != nil {
		t.Fatal(err)
	}
	m := NewMask(1, 2, 2)
	m.Excluded[1] = true
	m.Excluded[3] = true
	if err := f.ApplyMask(m); err != nil {
		t.Fatal(err)
	}
	want := []float64{1, math.NaN(), 3, math.NaN()}
	for i, w := range want {
		if different(zhh.Elements[i], w, testTolerance) {
			t.Errorf("masked element %d: want %g, got %g", i, w, zhh.Elements[i])
		}
	}

	other := NewMask(2, 2, 2)
	if err := f.ApplyMask(other); err == nil {
		t.Error("mismatched mask shape should be rejected")
	}
}

func TestModelGridCheck(t *testing.T) {
	g := &ModelGrid{
		Lons:    sparse.ZerosDense(2, 3),
		Lats:    sparse.ZerosDense(2, 3),
		Heights: sparse.ZerosDense(4, 2, 3),
	}
	if err := g.Check(); err != nil {
		t.Fatal(err)
	}
	if n := g.NumSamples(); n != 24 {
		t.Errorf("samples: want 24, got %d", n)
	}

	g.Heights = sparse.ZerosDense(4, 3, 3)
	if err := g.Check(); err == nil {
		t.Error("mismatched height shape should fail validation")
	}
}
