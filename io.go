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
	"os"
	"sort"
	"time"

	"github.com/ctessum/cdf"
	"github.com/ctessum/geom"
	"github.com/ctessum/sparse"
)

// timeFormat is the format field valid times are stored in.
const timeFormat = "2006-01-02 15:04:05"

// Write saves a regridded field and its grid to w as NetCDF. The
// payload is stored as double precision so missing values survive the
// round trip unchanged.
func (f *Field) Write(w *os.File, grid *CartesianGrid) error {
	if err := grid.Check(); err != nil {
		return err
	}
	nz, ny, nx := grid.Nz(), grid.Ny(), grid.Nx()
	for v, d := range f.Data {
		if !sameShape(d.Shape, []int{nz, ny, nx}) {
			return fmt.Errorf("polargrid: writing field: variable %s shape %v does not match grid shape [%d %d %d]",
				v, d.Shape, nz, ny, nx)
		}
	}

	h := cdf.NewHeader([]string{"height", "y", "x"}, []int{nz, ny, nx})
	h.AddAttribute("", "source", f.Source.String())
	h.AddAttribute("", "time", f.Time.Format(timeFormat))
	h.AddAttribute("", "radar", f.Radar)
	h.AddAttribute("", "mp", []int32{int32(f.MP)})
	h.AddAttribute("", "origin_lon", []float64{grid.Origin.X})
	h.AddAttribute("", "origin_lat", []float64{grid.Origin.Y})
	h.AddAttribute("", "origin_alt", []float64{grid.OriginAlt})
	h.AddAttribute("", "z_min", []float64{grid.ZMin})
	h.AddAttribute("", "z_max", []float64{grid.ZMax})
	h.AddAttribute("", "vert_res", []float64{grid.VertRes})

	h.AddVariable("height", []string{"height"}, []float64{0})
	h.AddAttribute("height", "units", "m")
	h.AddVariable("lon", []string{"y", "x"}, []float64{0})
	h.AddAttribute("lon", "units", "degrees_east")
	h.AddVariable("lat", []string{"y", "x"}, []float64{0})
	h.AddAttribute("lat", "units", "degrees_north")

	names := make([]string, 0, len(f.Data))
	for v := range f.Data {
		names = append(names, v)
	}
	sort.Strings(names)
	for _, v := range names {
		h.AddVariable(v, []string{"height", "y", "x"}, []float64{0})
	}
	h.Define()

	ff, err := cdf.Create(w, h)
	if err != nil {
		return fmt.Errorf("polargrid: writing field: %v", err)
	}
	if err := writeVar(ff, "height", grid.Heights()); err != nil {
		return err
	}
	if err := writeVar(ff, "lon", grid.Lons.Elements); err != nil {
		return err
	}
	if err := writeVar(ff, "lat", grid.Lats.Elements); err != nil {
		return err
	}
	for _, v := range names {
		if err := writeVar(ff, v, f.Data[v].Elements); err != nil {
			return err
		}
	}
	return cdf.UpdateNumRecs(w)
}

func writeVar(f *cdf.File, name string, data []float64) error {
	// cdf Writers signal completion of a fixed-size variable with
	// io.EOF; only a short write is an error.
	if n, err := f.Writer(name, nil, nil).Write(data); err != nil && !(err == io.EOF && n == len(data)) {
		return fmt.Errorf("polargrid: writing variable %s: %v", name, err)
	}
	return nil
}

// ReadField loads a field saved by Write, reconstructing its grid.
func ReadField(r *os.File) (*Field, *CartesianGrid, error) {
	ff, err := cdf.Open(r)
	if err != nil {
		return nil, nil, fmt.Errorf("polargrid: reading field: %v", err)
	}
	f := new(Field)
	f.Source, err = ParseSource(attrString(ff, "source"))
	if err != nil {
		return nil, nil, err
	}
	f.Time, err = time.Parse(timeFormat, attrString(ff, "time"))
	if err != nil {
		return nil, nil, fmt.Errorf("polargrid: reading field: %v", err)
	}
	f.Radar = attrString(ff, "radar")
	if mp, ok := ff.Header.GetAttribute("", "mp").([]int32); ok && len(mp) > 0 {
		f.MP = int(mp[0])
	}

	grid := &CartesianGrid{
		Origin: geom.Point{
			X: attrFloat(ff, "origin_lon"),
			Y: attrFloat(ff, "origin_lat"),
		},
		OriginAlt: attrFloat(ff, "origin_alt"),
		ZMin:      attrFloat(ff, "z_min"),
		ZMax:      attrFloat(ff, "z_max"),
		VertRes:   attrFloat(ff, "vert_res"),
	}

	nz := ff.Header.Lengths("height")[0]
	horiz := ff.Header.Lengths("lon")
	ny, nx := horiz[0], horiz[1]
	if grid.Lons, err = readVar(ff, "lon", ny, nx); err != nil {
		return nil, nil, err
	}
	if grid.Lats, err = readVar(ff, "lat", ny, nx); err != nil {
		return nil, nil, err
	}
	if err := grid.Check(); err != nil {
		return nil, nil, err
	}

	f.Data = make(map[string]*sparse.DenseArray)
	for _, v := range ff.Header.Variables() {
		switch v {
		case "height", "lon", "lat":
			continue
		}
		if f.Data[v], err = readVar(ff, v, nz, ny, nx); err != nil {
			return nil, nil, err
		}
	}
	return f, grid, nil
}

// WriteSpherical saves a radar-native field and its scan geometry to
// w as NetCDF.
func (f *Field) WriteSpherical(w *os.File, grid *SphericalGrid) error {
	if err := grid.Check(); err != nil {
		return err
	}
	shape := grid.Shape()
	for v, d := range f.Data {
		if !sameShape(d.Shape, shape) {
			return fmt.Errorf("polargrid: writing field: variable %s shape %v does not match scan shape %v",
				v, d.Shape, shape)
		}
	}

	h := cdf.NewHeader([]string{"elevation", "azimuth", "range"}, shape)
	h.AddAttribute("", "source", f.Source.String())
	h.AddAttribute("", "time", f.Time.Format(timeFormat))
	h.AddAttribute("", "radar", f.Radar)
	h.AddAttribute("", "mp", []int32{int32(f.MP)})
	h.AddAttribute("", "site_lon", []float64{grid.Site.X})
	h.AddAttribute("", "site_lat", []float64{grid.Site.Y})
	h.AddAttribute("", "site_alt", []float64{grid.SiteAlt})
	h.AddAttribute("", "max_range", []float64{grid.MaxRange})
	h.AddAttribute("", "range_res", []float64{grid.RangeRes})
	h.AddAttribute("", "min_azimuth", []float64{grid.MinAzimuth})
	h.AddAttribute("", "max_azimuth", []float64{grid.MaxAzimuth})
	h.AddAttribute("", "azimuth_res", []float64{grid.AzRes})

	h.AddVariable("elevation", []string{"elevation"}, []float64{0})
	h.AddAttribute("elevation", "units", "degrees")

	names := make([]string, 0, len(f.Data))
	for v := range f.Data {
		names = append(names, v)
	}
	sort.Strings(names)
	for _, v := range names {
		h.AddVariable(v, []string{"elevation", "azimuth", "range"}, []float64{0})
	}
	h.Define()

	ff, err := cdf.Create(w, h)
	if err != nil {
		return fmt.Errorf("polargrid: writing field: %v", err)
	}
	if err := writeVar(ff, "elevation", grid.Elevations); err != nil {
		return err
	}
	for _, v := range names {
		if err := writeVar(ff, v, f.Data[v].Elements); err != nil {
			return err
		}
	}
	return cdf.UpdateNumRecs(w)
}

// ReadSpherical loads a field saved by WriteSpherical, reconstructing
// the scan geometry.
func ReadSpherical(r *os.File) (*Field, *SphericalGrid, error) {
	ff, err := cdf.Open(r)
	if err != nil {
		return nil, nil, fmt.Errorf("polargrid: reading field: %v", err)
	}
	f := new(Field)
	f.Source, err = ParseSource(attrString(ff, "source"))
	if err != nil {
		return nil, nil, err
	}
	f.Time, err = time.Parse(timeFormat, attrString(ff, "time"))
	if err != nil {
		return nil, nil, fmt.Errorf("polargrid: reading field: %v", err)
	}
	f.Radar = attrString(ff, "radar")
	if mp, ok := ff.Header.GetAttribute("", "mp").([]int32); ok && len(mp) > 0 {
		f.MP = int(mp[0])
	}

	grid := &SphericalGrid{
		Name: f.Radar,
		Site: geom.Point{
			X: attrFloat(ff, "site_lon"),
			Y: attrFloat(ff, "site_lat"),
		},
		SiteAlt:    attrFloat(ff, "site_alt"),
		MaxRange:   attrFloat(ff, "max_range"),
		RangeRes:   attrFloat(ff, "range_res"),
		MinAzimuth: attrFloat(ff, "min_azimuth"),
		MaxAzimuth: attrFloat(ff, "max_azimuth"),
		AzRes:      attrFloat(ff, "azimuth_res"),
	}
	nElev := ff.Header.Lengths("elevation")[0]
	elev, err := readVar(ff, "elevation", nElev)
	if err != nil {
		return nil, nil, err
	}
	grid.Elevations = elev.Elements
	if err := grid.Check(); err != nil {
		return nil, nil, err
	}

	shape := grid.Shape()
	f.Data = make(map[string]*sparse.DenseArray)
	for _, v := range ff.Header.Variables() {
		if v == "elevation" {
			continue
		}
		if f.Data[v], err = readVar(ff, v, shape...); err != nil {
			return nil, nil, err
		}
	}
	return f, grid, nil
}

func attrString(f *cdf.File, name string) string {
	if s, ok := f.Header.GetAttribute("", name).(string); ok {
		return s
	}
	return ""
}

func attrFloat(f *cdf.File, name string) float64 {
	if v, ok := f.Header.GetAttribute("", name).([]float64); ok && len(v) > 0 {
		return v[0]
	}
	return 0
}

// ReadVariable reads one whole variable out of the NetCDF file at
// path, converting single-precision payloads to float64.
func ReadVariable(path, name string) (*sparse.DenseArray, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("polargrid: opening %s: %v", path, err)
	}
	defer f.Close()
	ff, err := cdf.Open(f)
	if err != nil {
		return nil, fmt.Errorf("polargrid: reading %s: %v", path, err)
	}
	dims := ff.Header.Lengths(name)
	if len(dims) == 0 {
		return nil, fmt.Errorf("polargrid: variable %s not in %s", name, path)
	}
	n := 1
	for _, d := range dims {
		n *= d
	}
	r := ff.Reader(name, nil, nil)
	buf := r.Zero(n)
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("polargrid: reading variable %s from %s: %v", name, path, err)
	}
	data := sparse.ZerosDense(dims...)
	switch v := buf.(type) {
	case []float64:
		copy(data.Elements, v)
	case []float32:
		for i, val := range v {
			data.Elements[i] = float64(val)
		}
	default:
		return nil, fmt.Errorf("polargrid: variable %s in %s is not floating point", name, path)
	}
	return data, nil
}

func readVar(f *cdf.File, name string, shape ...int) (*sparse.DenseArray, error) {
	n := 1
	for _, s := range shape {
		n *= s
	}
	r := f.Reader(name, nil, nil)
	buf := r.Zero(n)
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("polargrid: reading variable %s: %v", name, err)
	}
	data := sparse.ZerosDense(shape...)
	copy(data.Elements, buf.([]float64))
	return data, nil
}
