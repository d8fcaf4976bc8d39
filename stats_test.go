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
	"time"

	"github.com/ctessum/sparse"
)

func TestPSDStats(t *testing.T) {
	stats, err := NewPSDStats([]float64{0, 1e-5}, 2)
	if err != nil {
		t.Fatal(err)
	}

	// Two columns: the first precipitating (q above both thresholds),
	// the second dry.
	psd := sparse.ZerosDense(2, 1, 2)
	psd.Set(10, 0, 0, 0) // bin 0, precipitating cell
	psd.Set(20, 1, 0, 0) // bin 1, precipitating cell
	psd.Set(99, 0, 0, 1) // dry cell, must not contribute
	psd.Set(99, 1, 0, 1)
	q := sparse.ZerosDense(1, 2)
	q.Set(1e-4, 0, 0)
	q.Set(0, 0, 1)

	if err := stats.Add(psd, q, nil); err != nil {
		t.Fatal(err)
	}
	mean, err := stats.Mean()
	if err != nil {
		t.Fatal(err)
	}
	// Both thresholds select only the first column.
	for ti := 0; ti < 2; ti++ {
		if different(mean.Get(ti, 0), 10, testTolerance) {
			t.Errorf("threshold %d bin 0: want 10, got %g", ti, mean.Get(ti, 0))
		}
		if different(mean.Get(ti, 1), 20, testTolerance) {
			t.Errorf("threshold %d bin 1: want 20, got %g", ti, mean.Get(ti, 1))
		}
	}

	// A second, empty step halves the mean.
	dry := sparse.ZerosDense(1, 2)
	if err := stats.Add(psd, dry, nil); err != nil {
		t.Fatal(err)
	}
	mean, err = stats.Mean()
	if err != nil {
		t.Fatal(err)
	}
	if different(mean.Get(0, 0), 5, testTolerance) {
		t.Errorf("mean over two steps: want 5, got %g", mean.Get(0, 0))
	}
}

func TestPSDStatsMasked(t *testing.T) {
	stats, err := NewPSDStats([]float64{0}, 1)
	if err != nil {
		t.Fatal(err)
	}
	psd := sparse.ZerosDense(1, 1, 2)
	psd.Set(10, 0, 0, 0)
	psd.Set(30, 0, 0, 1)
	q := sparse.ZerosDense(1, 2)
	q.Set(1, 0, 0)
	q.Set(1, 0, 1)
	mask := NewMask(1, 1, 2)
	mask.Excluded[1] = true

	if err := stats.Add(psd, q, mask); err != nil {
		t.Fatal(err)
	}
	mean, err := stats.Mean()
	if err != nil {
		t.Fatal(err)
	}
	if different(mean.Get(0, 0), 10, testTolerance) {
		t.Errorf("masked mean: want 10, got %g", mean.Get(0, 0))
	}
}

func TestPSDStatsEmpty(t *testing.T) {
	stats, err := NewPSDStats([]float64{0}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := stats.Mean(); err == nil {
		t.Error("mean without accumulated steps should be an error")
	}
}

func TestHIWStatsWindowValidation(t *testing.T) {
	thresholds := map[string][]float64{"rain": {5, 10}}
	day := time.Date(2019, 5, 28, 0, 0, 0, 0, time.UTC)

	if _, err := NewHIWStats(day, day.Add(24*time.Hour-time.Second), thresholds, CellArea); err != nil {
		t.Errorf("full day should be accepted: %v", err)
	}
	if _, err := NewHIWStats(day, day.Add(12*time.Hour), thresholds, CellArea); err == nil {
		t.Error("half day should be rejected")
	}
	if _, err := NewHIWStats(day.Add(time.Hour), day.Add(25*time.Hour-time.Second), thresholds, CellArea); err == nil {
		t.Error("window not starting at midnight should be rejected")
	}
	if _, err := NewHIWStats(day, day.Add(48*time.Hour-time.Second), thresholds, CellArea); err == nil {
		t.Error("two days should be rejected")
	}
	if _, err := NewHIWStats(day, day.Add(24*time.Hour-time.Second),
		map[string][]float64{"rain": {10, 5}}, CellArea); err == nil {
		t.Error("descending thresholds should be rejected")
	}
	if _, err := NewHIWStats(day, day.Add(24*time.Hour-time.Second), nil, CellArea); err == nil {
		t.Error("missing threshold classes should be rejected")
	}
}

func TestHIWStats(t *testing.T) {
	day := time.Date(2019, 5, 28, 0, 0, 0, 0, time.UTC)
	stats, err := NewHIWStats(day, day.Add(24*time.Hour-time.Second),
		map[string][]float64{"rain": {5, 10}}, CellArea)
	if err != nil {
		t.Fatal(err)
	}

	values := sparse.ZerosDense(2, 2)
	values.Set(6, 0, 0)
	values.Set(12, 0, 1)
	values.Set(math.NaN(), 1, 0)
	values.Set(3, 1, 1)
	if err := stats.Add(day.Add(12*time.Hour),
		map[string]*sparse.DenseArray{"rain": values}, nil); err != nil {
		t.Fatal(err)
	}

	freq := stats.Frequency()["rain"]
	// Three valid cells; two exceed 5, one exceeds 10.
	if different(freq[0], 2./3., testTolerance) {
		t.Errorf("frequency above 5: want 2/3, got %g", freq[0])
	}
	if different(freq[1], 1./3., testTolerance) {
		t.Errorf("frequency above 10: want 1/3, got %g", freq[1])
	}
	area := stats.Area()["rain"]
	if different(area[0], 2*CellArea, testTolerance) {
		t.Errorf("area above 5: want %g km², got %g", 2*CellArea, area[0])
	}
	if different(area[1], CellArea, testTolerance) {
		t.Errorf("area above 10: want %g km², got %g", CellArea, area[1])
	}

	// A time outside the window is rejected.
	if err := stats.Add(day.Add(25*time.Hour),
		map[string]*sparse.DenseArray{"rain": values}, nil); err == nil {
		t.Error("time outside the window should be rejected")
	}
	// An unknown class is rejected.
	if err := stats.Add(day.Add(12*time.Hour),
		map[string]*sparse.DenseArray{"hail": values}, nil); err == nil {
		t.Error("unknown class should be rejected")
	}
}

func TestClassValues(t *testing.T) {
	hid := sparse.ZerosDense(2, 1, 3)
	refl := sparse.ZerosDense(2, 1, 3)
	// At level 1: classes 2, 5, NaN with reflectivities 30, 40, 50.
	hid.Set(2, 1, 0, 0)
	hid.Set(5, 1, 0, 1)
	hid.Set(math.NaN(), 1, 0, 2)
	refl.Set(30, 1, 0, 0)
	refl.Set(40, 1, 0, 1)
	refl.Set(50, 1, 0, 2)

	// Rain is classes 2 and 10.
	out, err := ClassValues(hid, refl, 1, []int{2, 10})
	if err != nil {
		t.Fatal(err)
	}
	if v := out.Get(0, 0); v != 30 {
		t.Errorf("class cell: want 30, got %g", v)
	}
	if !math.IsNaN(out.Get(0, 1)) {
		t.Errorf("other-class cell: want NaN, got %g", out.Get(0, 1))
	}
	if !math.IsNaN(out.Get(0, 2)) {
		t.Errorf("unclassified cell: want NaN, got %g", out.Get(0, 2))
	}

	if _, err := ClassValues(hid, refl, 7, []int{2}); err == nil {
		t.Error("out-of-range height index should be an error")
	}
}

func TestCFAD(t *testing.T) {
	cfad, err := NewCFAD(0, 10, 5, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfad.Dividers) != 3 {
		t.Fatalf("dividers: want 3, got %d", len(cfad.Dividers))
	}

	data := sparse.ZerosDense(2, 1, 2)
	data.Set(1, 0, 0, 0)  // level 0, first bin
	data.Set(6, 0, 0, 1)  // level 0, second bin
	data.Set(11, 1, 0, 0) // out of range, dropped
	data.Set(math.NaN(), 1, 0, 1)
	if err := cfad.Add(data, nil); err != nil {
		t.Fatal(err)
	}

	if v := cfad.Counts.Get(0, 0); v != 1 {
		t.Errorf("level 0 bin 0: want 1, got %g", v)
	}
	if v := cfad.Counts.Get(0, 1); v != 1 {
		t.Errorf("level 0 bin 1: want 1, got %g", v)
	}
	if v := cfad.Counts.Get(1, 0) + cfad.Counts.Get(1, 1); v != 0 {
		t.Errorf("level 1: want no counts, got %g", v)
	}

	// Accumulation adds across steps.
	if err := cfad.Add(data, nil); err != nil {
		t.Fatal(err)
	}
	if v := cfad.Counts.Get(0, 0); v != 2 {
		t.Errorf("accumulated level 0 bin 0: want 2, got %g", v)
	}
}

func TestCFADMasked(t *testing.T) {
	cfad, err := NewCFAD(0, 10, 5, 1)
	if err != nil {
		t.Fatal(err)
	}
	data := sparse.ZerosDense(1, 1, 2)
	data.Set(1, 0, 0, 0)
	data.Set(2, 0, 0, 1)
	mask := NewMask(1, 1, 2)
	mask.Excluded[1] = true
	if err := cfad.Add(data, mask); err != nil {
		t.Fatal(err)
	}
	if v := cfad.Counts.Get(0, 0); v != 1 {
		t.Errorf("masked histogram: want 1 count, got %g", v)
	}
}

func TestCFADValidation(t *testing.T) {
	if _, err := NewCFAD(10, 0, 5, 1); err == nil {
		t.Error("inverted histogram range should be rejected")
	}
	if _, err := NewCFAD(0, 10, -1, 1); err == nil {
		t.Error("negative bin width should be rejected")
	}
	if _, err := NewCFAD(0, 10, 5, 0); err == nil {
		t.Error("zero levels should be rejected")
	}
}
