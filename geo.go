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

	"github.com/ctessum/geom"
)

const (
	// earthRadius is the mean earth radius [m].
	earthRadius = 6371000.

	// refractionK is the effective earth radius multiplier of the
	// standard-refraction beam propagation model (Doviak and Zrnić).
	refractionK = 4. / 3.

	// minElevation and maxElevation bound the antenna elevation
	// angles [degrees] for which the propagation model is valid.
	minElevation = -2.
	maxElevation = 90.
)

// BeamHeight returns the altitude above mean sea level [m] of a radar bin
// at slant range r [m] and antenna elevation elev [degrees], emitted from
// an antenna at altitude siteAlt [m], assuming standard atmospheric
// refraction over a 4/3-effective-radius spherical earth.
func BeamHeight(r, elev, siteAlt float64) (float64, error) {
	if err := checkBeam(r, elev); err != nil {
		return math.NaN(), err
	}
	return beamHeight(r, elev, siteAlt), nil
}

// beamHeight is BeamHeight without the domain check, for callers that
// have validated their inputs and handle invalid bins per-cell.
func beamHeight(r, elev, siteAlt float64) float64 {
	ka := refractionK * earthRadius
	return math.Sqrt(r*r+ka*ka+2*r*ka*math.Sin(elev*math.Pi/180)) - ka + siteAlt
}

// BeamDistance returns the great-circle distance [m] along the earth
// surface from the antenna to the point below a radar bin at slant range
// r [m] and elevation elev [degrees], for an antenna at altitude
// siteAlt [m].
func BeamDistance(r, elev, siteAlt float64) (float64, error) {
	if err := checkBeam(r, elev); err != nil {
		return math.NaN(), err
	}
	return beamDistance(r, elev, siteAlt), nil
}

func beamDistance(r, elev, siteAlt float64) float64 {
	ka := refractionK * earthRadius
	h := beamHeight(r, elev, siteAlt)
	return ka * math.Asin(r*math.Cos(elev*math.Pi/180)/(ka+h))
}

func checkBeam(r, elev float64) error {
	if r < 0 {
		return fmt.Errorf("polargrid: negative beam range %g m", r)
	}
	if elev < minElevation || elev > maxElevation {
		return fmt.Errorf("polargrid: beam elevation %g° outside [%g°, %g°]",
			elev, minElevation, maxElevation)
	}
	return nil
}

// GreatCircleDistance returns the haversine distance [m] between two
// lon/lat points [degrees] on a spherical earth.
func GreatCircleDistance(a, b geom.Point) float64 {
	lat1 := a.Y * math.Pi / 180
	lat2 := b.Y * math.Pi / 180
	dLat := (b.Y - a.Y) * math.Pi / 180
	dLon := (b.X - a.X) * math.Pi / 180
	s := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadius * math.Asin(math.Min(1, math.Sqrt(s)))
}

// PointAtDistance returns the lon/lat point [degrees] reached by
// traveling dist [m] from site along the great circle with initial
// bearing azimuth [degrees clockwise from north].
func PointAtDistance(site geom.Point, dist, azimuth float64) geom.Point {
	lat1 := site.Y * math.Pi / 180
	lon1 := site.X * math.Pi / 180
	brng := azimuth * math.Pi / 180
	d := dist / earthRadius
	lat2 := math.Asin(math.Sin(lat1)*math.Cos(d) +
		math.Cos(lat1)*math.Sin(d)*math.Cos(brng))
	lon2 := lon1 + math.Atan2(math.Sin(brng)*math.Sin(d)*math.Cos(lat1),
		math.Cos(d)-math.Sin(lat1)*math.Sin(lat2))
	return geom.Point{X: lon2 * 180 / math.Pi, Y: lat2 * 180 / math.Pi}
}

// bearing returns the initial great-circle bearing [degrees clockwise
// from north] from a to b.
func bearing(a, b geom.Point) float64 {
	lat1 := a.Y * math.Pi / 180
	lat2 := b.Y * math.Pi / 180
	dLon := (b.X - a.X) * math.Pi / 180
	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	return math.Atan2(y, x) * 180 / math.Pi
}

// ToLocalCartesian projects the lon/lat point p [degrees] at altitude
// alt [m] into the azimuthal-equidistant Cartesian frame centered on
// origin at altitude originAlt [m]. x points east, y north and z up
// [m]; z is relative to originAlt.
func ToLocalCartesian(p geom.Point, alt float64, origin geom.Point, originAlt float64) (x, y, z float64) {
	d := GreatCircleDistance(origin, p)
	az := bearing(origin, p) * math.Pi / 180
	return d * math.Sin(az), d * math.Cos(az), alt - originAlt
}

// FromLocalCartesian is the inverse of ToLocalCartesian: it returns the
// lon/lat point [degrees] and altitude [m] of local coordinates
// (x, y, z) in the frame centered on origin at altitude originAlt.
func FromLocalCartesian(x, y, z float64, origin geom.Point, originAlt float64) (geom.Point, float64) {
	d := math.Hypot(x, y)
	if d == 0 {
		return origin, z + originAlt
	}
	az := math.Atan2(x, y) * 180 / math.Pi
	return PointAtDistance(origin, d, az), z + originAlt
}

// SphericalToCartesian returns the local Cartesian coordinates [m] of a
// radar bin at slant range r [m], azimuth az [degrees clockwise from
// north] and elevation elev [degrees], in the frame centered on the
// antenna site at altitude siteAlt [m]. The vertical coordinate follows
// the refraction model of BeamHeight and is relative to siteAlt.
func SphericalToCartesian(r, az, elev, siteAlt float64) (x, y, z float64, err error) {
	if err := checkBeam(r, elev); err != nil {
		return math.NaN(), math.NaN(), math.NaN(), err
	}
	x, y, z = sphericalToCartesian(r, az, elev, siteAlt)
	return x, y, z, nil
}

func sphericalToCartesian(r, az, elev, siteAlt float64) (x, y, z float64) {
	s := beamDistance(r, elev, siteAlt)
	azRad := az * math.Pi / 180
	return s * math.Sin(azRad), s * math.Cos(azRad), beamHeight(r, elev, siteAlt) - siteAlt
}
