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

package polargridutil

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/ctessum/geom"
	"github.com/spatialmodel/polargrid"
)

// Config holds the settings of one analysis campaign, decoded from a
// TOML file.
type Config struct {
	// WRFOut is the location of the WRF output files, with [DATE] as
	// a wild card for the time stamp.
	WRFOut string

	// MP is the WRF microphysics scheme identifier.
	MP int

	// StartDate and EndDate bound the simulation period, format
	// YYYYMMDD.
	StartDate, EndDate string

	// OutputDir is where regridded fields and statistics are written.
	OutputDir string

	Grid          GridConfig
	Radars        map[string]RadarConfig
	Masks         MaskConfig
	Intersections IntersectConfig
	PSD           PSDConfig
	HIW           HIWConfig
	CFAD          CFADConfig
}

// GridConfig describes the canonical Cartesian grid.
type GridConfig struct {
	// WRFFile is a WRF output file whose XLONG/XLAT coordinates
	// define the horizontal cell layout.
	WRFFile string
	// Origin names the radar the local frame is centered on.
	Origin string
	// ZMin, ZMax and VertRes define the height levels [m, relative
	// to the origin radar's altitude].
	ZMin, ZMax, VertRes float64
}

// RadarConfig describes one radar site and scan geometry.
type RadarConfig struct {
	Lon, Lat, Alt          float64
	MaxRange, RangeRes     float64
	MinAzimuth, MaxAzimuth float64
	AzRes                  float64
	Elevations             []float64
}

// MaskConfig locates the persisted masks.
type MaskConfig struct {
	// Distance, Height and Rotation are file locations; each mask is
	// computed and saved there on first use.
	Distance, Height, Rotation string
	// MaxDistance is the distance-mask radius [m].
	MaxDistance float64
	// HeightRadar names the scan geometry the height mask follows.
	HeightRadar string
	// RotationVariable and RotationHeightIndex select the reference
	// slice the rotation mask samples.
	RotationVariable    string
	RotationHeightIndex int
}

// IntersectConfig describes the beam-intersection computation.
type IntersectConfig struct {
	// Path is the persisted matrix location.
	Path string
	// RadarA is the reference radar, RadarB the intersecting one.
	RadarA, RadarB string
	// Tolerance is the maximum accepted beam separation [m].
	Tolerance float64
}

// PSDConfig describes particle size distribution averaging.
type PSDConfig struct {
	// Thresholds are mixing-ratio thresholds [kg kg-1].
	Thresholds []float64
	// Bins is the number of size bins.
	Bins int
}

// HIWConfig describes high-impact-weather statistics.
type HIWConfig struct {
	// HeightIndex selects the analysis level.
	HeightIndex int
	// Thresholds maps hydrometeor classes to ascending intensity
	// thresholds.
	Thresholds map[string][]float64
}

// CFADConfig describes the histogram accumulation.
type CFADConfig struct {
	// Variable is the field variable histogrammed.
	Variable string
	// Min, Max and Res define the histogram bins.
	Min, Max, Res float64
}

// LoadConfig reads the configuration file at path.
func LoadConfig(path string) (*Config, error) {
	c := new(Config)
	if _, err := toml.DecodeFile(path, c); err != nil {
		return nil, fmt.Errorf("polargrid: decoding configuration %s: %v", path, err)
	}
	c.WRFOut = os.ExpandEnv(c.WRFOut)
	c.OutputDir = os.ExpandEnv(c.OutputDir)
	c.Grid.WRFFile = os.ExpandEnv(c.Grid.WRFFile)
	c.Masks.Distance = os.ExpandEnv(c.Masks.Distance)
	c.Masks.Height = os.ExpandEnv(c.Masks.Height)
	c.Masks.Rotation = os.ExpandEnv(c.Masks.Rotation)
	c.Intersections.Path = os.ExpandEnv(c.Intersections.Path)
	return c, nil
}

// SphericalGrid builds the scan geometry of the named radar.
func (c *Config) SphericalGrid(name string) (*polargrid.SphericalGrid, error) {
	r, ok := c.Radars[name]
	if !ok {
		return nil, fmt.Errorf("polargrid: radar %s is not configured", name)
	}
	g := &polargrid.SphericalGrid{
		Name:       name,
		Site:       geom.Point{X: r.Lon, Y: r.Lat},
		SiteAlt:    r.Alt,
		MaxRange:   r.MaxRange,
		RangeRes:   r.RangeRes,
		MinAzimuth: r.MinAzimuth,
		MaxAzimuth: r.MaxAzimuth,
		AzRes:      r.AzRes,
		Elevations: r.Elevations,
	}
	if err := g.Check(); err != nil {
		return nil, err
	}
	return g, nil
}

// CartesianGrid builds the canonical Cartesian grid from the
// configured WRF coordinate file and origin radar.
func (c *Config) CartesianGrid() (*polargrid.CartesianGrid, error) {
	origin, ok := c.Radars[c.Grid.Origin]
	if !ok {
		return nil, fmt.Errorf("polargrid: grid origin radar %s is not configured", c.Grid.Origin)
	}
	return polargrid.CartesianGridFromWRF(c.Grid.WRFFile,
		geom.Point{X: origin.Lon, Y: origin.Lat}, origin.Alt,
		c.Grid.ZMin, c.Grid.ZMax, c.Grid.VertRes)
}
