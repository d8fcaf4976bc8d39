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
)

const testTolerance = 1.e-6

func different(a, b, tolerance float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return !(math.IsNaN(a) && math.IsNaN(b))
	}
	if a == b {
		return false
	}
	return math.Abs((a-b)/math.Max(math.Abs(a), math.Abs(b))) > tolerance
}

func absDifferent(a, b, tolerance float64) bool {
	return math.Abs(a-b) > tolerance
}

func TestBeamHeight(t *testing.T) {
	// At zero range the beam is at the antenna.
	h, err := BeamHeight(0, 10, 541)
	if err != nil {
		t.Fatal(err)
	}
	if different(h, 541, testTolerance) {
		t.Errorf("zero-range height: want 541, got %g", h)
	}

	// A vertically pointing beam climbs exactly its slant range.
	h, err = BeamHeight(1000, 90, 0)
	if err != nil {
		t.Fatal(err)
	}
	if different(h, 1000, testTolerance) {
		t.Errorf("vertical beam height: want 1000, got %g", h)
	}

	// Beam height grows with elevation at fixed range.
	prev := -math.MaxFloat64
	for _, elev := range []float64{0, 1, 5, 10, 45, 80} {
		h, err := BeamHeight(20000, elev, 0)
		if err != nil {
			t.Fatal(err)
		}
		if h <= prev {
			t.Errorf("height at %g° (%g m) not above height at lower elevation (%g m)",
				elev, h, prev)
		}
		prev = h
	}

	// Even a horizontal beam ends above the antenna because the
	// earth curves away beneath it. At 20 km the 4/3-earth model
	// puts it roughly 23.5 m up.
	h, err = BeamHeight(20000, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if h < 20 || h > 30 {
		t.Errorf("horizontal beam at 20 km: want ≈23.5 m, got %g", h)
	}

	if _, err := BeamHeight(-5, 10, 0); err == nil {
		t.Error("negative range should be a domain error")
	}
	if _, err := BeamHeight(1000, 95, 0); err == nil {
		t.Error("elevation above 90° should be a domain error")
	}
	if _, err := BeamHeight(1000, -3, 0); err == nil {
		t.Error("elevation below -2° should be a domain error")
	}
}

func TestBeamDistance(t *testing.T) {
	// A vertical beam covers no ground.
	s, err := BeamDistance(5000, 90, 0)
	if err != nil {
		t.Fatal(err)
	}
	if absDifferent(s, 0, 1e-6) {
		t.Errorf("vertical beam surface distance: want 0, got %g", s)
	}

	// A horizontal beam's surface distance is slightly less than its
	// slant range.
	s, err = BeamDistance(20000, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if s <= 0 || s > 20000 {
		t.Errorf("horizontal beam surface distance: want within (0, 20000], got %g", s)
	}
	if 20000-s > 10 {
		t.Errorf("horizontal beam surface distance %g too far from slant range", s)
	}

	if _, err := BeamDistance(-1, 0, 0); err == nil {
		t.Error("negative range should be a domain error")
	}
}

func TestGreatCircleDistance(t *testing.T) {
	munich := geom.Point{X: 11.57, Y: 48.14}
	if d := GreatCircleDistance(munich, munich); d != 0 {
		t.Errorf("distance to self: want 0, got %g", d)
	}

	// One degree of latitude along a meridian.
	d := GreatCircleDistance(geom.Point{X: 0, Y: 0}, geom.Point{X: 0, Y: 1})
	want := earthRadius * math.Pi / 180
	if different(d, want, testTolerance) {
		t.Errorf("one degree of latitude: want %g, got %g", want, d)
	}

	// Symmetry.
	a := geom.Point{X: 11.57, Y: 48.14}
	b := geom.Point{X: 12.1, Y: 47.8}
	if different(GreatCircleDistance(a, b), GreatCircleDistance(b, a), testTolerance) {
		t.Error("distance is not symmetric")
	}
}

func TestPointAtDistance(t *testing.T) {
	site := geom.Point{X: 11.57, Y: 48.14}
	for _, tc := range []struct {
		dist, azimuth float64
	}{
		{1000, 0}, {12345, 57}, {50000, 135}, {80000, 272},
	} {
		p := PointAtDistance(site, tc.dist, tc.azimuth)
		if d := GreatCircleDistance(site, p); different(d, tc.dist, testTolerance) {
			t.Errorf("distance to destination at %g°: want %g, got %g", tc.azimuth, tc.dist, d)
		}
		want := math.Mod(tc.azimuth+360, 360)
		got := math.Mod(bearing(site, p)+360, 360)
		if absDifferent(got, want, 1e-4) {
			t.Errorf("bearing to destination: want %g°, got %g°", want, got)
		}
	}
}

func TestLocalCartesianRoundTrip(t *testing.T) {
	origin := geom.Point{X: 11.2735, Y: 48.0865}
	const originAlt = 541.
	for _, tc := range []struct {
		lon, lat, alt float64
	}{
		{11.2735, 48.0865, 541}, // the origin itself
		{11.3, 48.1, 600},
		{11.0, 48.3, 1500},
		{12.1, 47.7, 3000},
		{10.5, 48.0865, 0},
	} {
		x, y, z := ToLocalCartesian(geom.Point{X: tc.lon, Y: tc.lat}, tc.alt, origin, originAlt)
		p, alt := FromLocalCartesian(x, y, z, origin, originAlt)
		if different(p.X, tc.lon, testTolerance) || different(p.Y, tc.lat, testTolerance) {
			t.Errorf("round trip of (%g, %g): got (%g, %g)", tc.lon, tc.lat, p.X, p.Y)
		}
		if different(alt, tc.alt, testTolerance) {
			t.Errorf("round trip altitude of %g: got %g", tc.alt, alt)
		}
	}
}

func TestToLocalCartesianAxes(t *testing.T) {
	origin := geom.Point{X: 11.2735, Y: 48.0865}

	// A point due north has positive y and (nearly) zero x.
	north := PointAtDistance(origin, 10000, 0)
	x, y, z := ToLocalCartesian(north, 0, origin, 0)
	if absDifferent(x, 0, 1e-3) || different(y, 10000, testTolerance) || z != 0 {
		t.Errorf("point 10 km north: got (%g, %g, %g)", x, y, z)
	}

	// A point due east has positive x and (nearly) zero y.
	east := PointAtDistance(origin, 10000, 90)
	x, y, _ = ToLocalCartesian(east, 0, origin, 0)
	if different(x, 10000, testTolerance) || absDifferent(y, 0, 1e-3) {
		t.Errorf("point 10 km east: got (%g, %g)", x, y)
	}
}

func TestSphericalToCartesian(t *testing.T) {
	// Vertical beam: all on the z axis.
	x, y, z, err := SphericalToCartesian(2000, 123, 90, 541)
	if err != nil {
		t.Fatal(err)
	}
	if absDifferent(x, 0, 1e-6) || absDifferent(y, 0, 1e-6) {
		t.Errorf("vertical bin: want on z axis, got (%g, %g)", x, y)
	}
	if different(z, 2000, testTolerance) {
		t.Errorf("vertical bin height: want 2000, got %g", z)
	}

	// A bin due north lies on the y axis; due east on the x axis.
	x, y, _, err = SphericalToCartesian(10000, 0, 1, 541)
	if err != nil {
		t.Fatal(err)
	}
	if absDifferent(x, 0, 1e-6) || y <= 0 {
		t.Errorf("northern bin: got (%g, %g)", x, y)
	}
	x, y, _, err = SphericalToCartesian(10000, 90, 1, 541)
	if err != nil {
		t.Fatal(err)
	}
	if x <= 0 || absDifferent(y, 0, 1e-6) {
		t.Errorf("eastern bin: got (%g, %g)", x, y)
	}

	if _, _, _, err := SphericalToCartesian(-1, 0, 1, 0); err == nil {
		t.Error("negative range should be a domain error")
	}
}
