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
	"strings"
	"time"

	"github.com/ctessum/cdf"
	"github.com/ctessum/geom"
	"github.com/ctessum/sparse"
)

// wrfFormat is the date format embedded in WRF output file names.
const wrfFormat = "2006-01-02_150405"

// inDateFormat is the format start and end dates are given in.
const inDateFormat = "20060102"

// gravity is the standard gravitational acceleration [m s-2], for
// converting geopotential to altitude.
const gravity = 9.81

// P3 is the WRF microphysics scheme identifier of the predicted
// particle properties scheme, which carries frozen hydrometeors in a
// single ice category.
const P3 = 50

// NextData is an iterator over the time steps of a gridded variable.
// It returns io.EOF after the last step.
type NextData func() (*sparse.DenseArray, error)

// WRF reads hydrometeor mixing ratios and grid geometry from WRF
// output files, one file per output time step.
type WRF struct {
	// wrfOut is the location of the WRF output files, with [DATE]
	// used as a wild card for the time stamp.
	wrfOut string

	// mp is the WRF microphysics scheme identifier; it decides which
	// frozen-hydrometeor variables exist in the output.
	mp int

	start, end time.Time

	fileDelta time.Duration

	msgChan chan string
}

// NewWRF initializes a WRF output reader.
// wrfOut is the location of the output files, with [DATE] as a wild
// card for the time stamp. mp is the microphysics scheme identifier.
// startDate and endDate bound the simulation period in the format
// "YYYYMMDD". If msgChan is not nil, status messages are sent to it.
func NewWRF(wrfOut string, mp int, startDate, endDate string, msgChan chan string) (*WRF, error) {
	w := WRF{
		wrfOut:    wrfOut,
		mp:        mp,
		fileDelta: 10 * time.Minute,
		msgChan:   msgChan,
	}
	var err error
	w.start, err = time.Parse(inDateFormat, startDate)
	if err != nil {
		return nil, fmt.Errorf("polargrid: parsing start date: %v", err)
	}
	w.end, err = time.Parse(inDateFormat, endDate)
	if err != nil {
		return nil, fmt.Errorf("polargrid: parsing end date: %v", err)
	}
	if !w.end.After(w.start) {
		return nil, fmt.Errorf("polargrid: end date %v is not after start date %v", w.end, w.start)
	}
	return &w, nil
}

// QCloud returns an iterator over the cloud water mixing ratio
// [kg kg-1].
func (w *WRF) QCloud() NextData { return w.read("QCLOUD") }

// QRain returns an iterator over the rain mixing ratio [kg kg-1].
func (w *WRF) QRain() NextData { return w.read("QRAIN") }

// QIce returns an iterator over the frozen-hydrometeor ice mixing
// ratio [kg kg-1]. Under the P3 scheme this is the combined ice
// category; other schemes carry cloud ice here.
func (w *WRF) QIce() NextData { return w.read("QICE") }

// QSnow returns an iterator over the snow mixing ratio [kg kg-1].
// The P3 scheme has no separate snow category.
func (w *WRF) QSnow() NextData {
	if w.mp == P3 {
		return func() (*sparse.DenseArray, error) {
			return nil, fmt.Errorf("polargrid: microphysics scheme %d carries no snow category", w.mp)
		}
	}
	return w.read("QSNOW")
}

// QGraup returns an iterator over the graupel mixing ratio [kg kg-1].
// The P3 scheme has no separate graupel category.
func (w *WRF) QGraup() NextData {
	if w.mp == P3 {
		return func() (*sparse.DenseArray, error) {
			return nil, fmt.Errorf("polargrid: microphysics scheme %d carries no graupel category", w.mp)
		}
	}
	return w.read("QGRAUP")
}

// Var returns an iterator over an arbitrary 3-D variable.
func (w *WRF) Var(name string) NextData { return w.read(name) }

// read iterates over the files of the simulation period, reading
// varName's first (and only) record from each.
func (w *WRF) read(varName string) NextData {
	date := w.start
	return func() (*sparse.DenseArray, error) {
		if !date.Before(w.end) {
			return nil, io.EOF
		}
		f, ff, err := ncfFromTemplate(w.wrfOut, wrfFormat, date)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		data, err := readNCF(varName, ff, 0)
		if err != nil {
			return nil, err
		}
		if w.msgChan != nil {
			w.msgChan <- fmt.Sprintf("Read %s for %v", varName, date.Format(wrfFormat))
		}
		date = date.Add(w.fileDelta)
		return data, nil
	}
}

// ncfFromTemplate opens the NetCDF file corresponding to the given
// date, based on the given file name template.
func ncfFromTemplate(fileTemplate, dateFormat string, date time.Time) (*os.File, *cdf.File, error) {
	file := strings.Replace(fileTemplate, "[DATE]", date.Format(dateFormat), -1)
	f, err := os.Open(file)
	if err != nil {
		return nil, nil, fmt.Errorf("polargrid: opening model output: %v", err)
	}
	ff, err := cdf.Open(f)
	if err != nil {
		return nil, nil, fmt.Errorf("polargrid: reading model output %s: %v", file, err)
	}
	return f, ff, nil
}

// readNCF reads variable name out of NetCDF file ff at the given
// record index, dropping the record dimension.
func readNCF(name string, ff *cdf.File, record int) (*sparse.DenseArray, error) {
	dims := ff.Header.Lengths(name)
	if len(dims) == 0 {
		return nil, fmt.Errorf("polargrid: read netcdf: variable %v not in file", name)
	}
	dims = dims[1:]
	nread := 1
	for _, dim := range dims {
		nread *= dim
	}
	start, end := make([]int, len(dims)+1), make([]int, len(dims)+1)
	start[0], end[0] = record, record+1
	r := ff.Reader(name, start, end)
	buf := r.Zero(nread)
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("polargrid: read netcdf variable %s: %v", name, err)
	}
	data := sparse.ZerosDense(dims...)
	for i, val := range buf.([]float32) {
		data.Elements[i] = float64(val)
	}
	return data, nil
}

// CartesianGridFromWRF builds the canonical Cartesian grid from the
// XLONG/XLAT coordinates of the WRF output file at path, centered on
// the given radar site, with height levels every vertRes [m] from
// zMin to zMax [m, relative to originAlt].
func CartesianGridFromWRF(path string, origin geom.Point, originAlt, zMin, zMax, vertRes float64) (*CartesianGrid, error) {
	f, ff, err := ncfFromTemplate(path, wrfFormat, time.Time{})
	if err != nil {
		return nil, err
	}
	defer f.Close()
	lons, err := readNCF("XLONG", ff, 0)
	if err != nil {
		return nil, err
	}
	lats, err := readNCF("XLAT", ff, 0)
	if err != nil {
		return nil, err
	}
	g := &CartesianGrid{
		Origin:    origin,
		OriginAlt: originAlt,
		ZMin:      zMin,
		ZMax:      zMax,
		VertRes:   vertRes,
		Lons:      lons,
		Lats:      lats,
	}
	if err := g.Check(); err != nil {
		return nil, err
	}
	return g, nil
}

// ModelGridFromWRF builds the native model sampling geometry from the
// WRF output file at path: column positions from XLONG/XLAT and
// per-column mass-level altitudes from the geopotential (PH + PHB),
// de-staggered to the mass levels.
func ModelGridFromWRF(path string) (*ModelGrid, error) {
	f, ff, err := ncfFromTemplate(path, wrfFormat, time.Time{})
	if err != nil {
		return nil, err
	}
	defer f.Close()
	lons, err := readNCF("XLONG", ff, 0)
	if err != nil {
		return nil, err
	}
	lats, err := readNCF("XLAT", ff, 0)
	if err != nil {
		return nil, err
	}
	ph, err := readNCF("PH", ff, 0)
	if err != nil {
		return nil, err
	}
	phb, err := readNCF("PHB", ff, 0)
	if err != nil {
		return nil, err
	}
	heights, err := staggeredGeopotentialToHeight(ph, phb)
	if err != nil {
		return nil, err
	}
	g := &ModelGrid{Lons: lons, Lats: lats, Heights: heights}
	if err := g.Check(); err != nil {
		return nil, err
	}
	return g, nil
}

// staggeredGeopotentialToHeight converts the vertically staggered
// perturbation and base-state geopotentials to altitudes [m] at the
// mass levels.
func staggeredGeopotentialToHeight(ph, phb *sparse.DenseArray) (*sparse.DenseArray, error) {
	if !sameShape(ph.Shape, phb.Shape) || len(ph.Shape) != 3 {
		return nil, fmt.Errorf("polargrid: geopotential shapes %v and %v do not match", ph.Shape, phb.Shape)
	}
	nzStag, ny, nx := ph.Shape[0], ph.Shape[1], ph.Shape[2]
	if nzStag < 2 {
		return nil, fmt.Errorf("polargrid: geopotential has %d staggered levels", nzStag)
	}
	h := sparse.ZerosDense(nzStag-1, ny, nx)
	for k := 0; k < nzStag-1; k++ {
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				lower := (ph.Get(k, j, i) + phb.Get(k, j, i)) / gravity
				upper := (ph.Get(k+1, j, i) + phb.Get(k+1, j, i)) / gravity
				h.Set((lower+upper)/2, k, j, i)
			}
		}
	}
	return h, nil
}

// TotalFrozen sums the frozen-hydrometeor mixing ratios appropriate
// for the scheme: the single P3 ice category, or ice, snow and
// graupel for schemes that carry them separately.
func TotalFrozen(mp int, qice, qsnow, qgraup *sparse.DenseArray) (*sparse.DenseArray, error) {
	if qice == nil {
		return nil, fmt.Errorf("polargrid: total frozen hydrometeors: missing ice mixing ratio")
	}
	total := qice.Copy()
	if mp == P3 {
		return total, nil
	}
	if qsnow == nil || qgraup == nil {
		return nil, fmt.Errorf("polargrid: total frozen hydrometeors: scheme %d needs snow and graupel", mp)
	}
	if !sameShape(total.Shape, qsnow.Shape) || !sameShape(total.Shape, qgraup.Shape) {
		return nil, fmt.Errorf("polargrid: total frozen hydrometeors: mismatched shapes %v, %v, %v",
			qice.Shape, qsnow.Shape, qgraup.Shape)
	}
	total.AddDense(qsnow)
	total.AddDense(qgraup)
	return total, nil
}
