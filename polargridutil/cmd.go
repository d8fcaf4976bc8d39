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

// Package polargridutil wires the polargrid library into a command
// line interface.
package polargridutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
	log "github.com/sirupsen/logrus"
	"github.com/spatialmodel/polargrid"
	"github.com/spf13/cobra"
)

var configFile string

// Root is the main command.
var Root = &cobra.Command{
	Use:   "polargrid",
	Short: "polargrid regrids radar and weather-model data onto a common grid",
	Long: `polargrid transforms weather-model output and polarimetric radar
observations onto a shared Cartesian grid and derives comparison
statistics from the regridded fields.`,
	SilenceUsage: true,
}

func init() {
	Root.PersistentFlags().StringVar(&configFile, "config", "polargrid.toml",
		"configuration file location")

	Root.AddCommand(distanceMaskCmd)
	Root.AddCommand(heightMaskCmd)
	Root.AddCommand(rotationMaskCmd)
	Root.AddCommand(intersectCmd)
	Root.AddCommand(regridCmd)
	Root.AddCommand(wrfFieldCmd)
	Root.AddCommand(psdCmd)
	Root.AddCommand(hiwCmd)
	Root.AddCommand(cfadCmd)

	rotationMaskCmd.Flags().StringVar(&rotationReference, "reference", "",
		"regridded field file whose missing-value pattern defines the mask")
	wrfFieldCmd.Flags().StringVar(&wrfVariable, "var", "QRAIN",
		"WRF variable to regrid")
	psdCmd.Flags().StringVar(&psdDistTemplate, "dist", "",
		"size-distribution file template with a [DATE] wild card")
	psdCmd.Flags().StringVar(&psdQTemplate, "q", "",
		"mixing-ratio file template with a [DATE] wild card")
	hiwCmd.Flags().StringVar(&hiwDay, "day", "", "analysis day, format YYYYMMDD")
}

var (
	rotationReference string
	wrfVariable       string
	psdDistTemplate   string
	psdQTemplate      string
	hiwDay            string
)

// progress forwards status messages from long-running computations to
// the log. It returns the channel and a function that drains it.
func progress() (chan string, func()) {
	c := make(chan string)
	done := make(chan struct{})
	go func() {
		for msg := range c {
			log.Info(msg)
		}
		close(done)
	}()
	return c, func() {
		close(c)
		<-done
	}
}

var distanceMaskCmd = &cobra.Command{
	Use:   "distance-mask",
	Short: "Compute and save the maximum-range mask",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(configFile)
		if err != nil {
			return err
		}
		grid, err := cfg.CartesianGrid()
		if err != nil {
			return err
		}
		m, err := polargrid.OpenMask(cfg.Masks.Distance, func() (*polargrid.Mask, error) {
			log.Infof("Computing distance mask at %g m", cfg.Masks.MaxDistance)
			return polargrid.DistanceMask(grid, grid.Origin, cfg.Masks.MaxDistance)
		})
		if err != nil {
			return err
		}
		log.Infof("Distance mask excludes %d cells", m.Count())
		return nil
	},
}

var heightMaskCmd = &cobra.Command{
	Use:   "height-mask",
	Short: "Compute and save the scan-coverage height mask",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(configFile)
		if err != nil {
			return err
		}
		grid, err := cfg.CartesianGrid()
		if err != nil {
			return err
		}
		sph, err := cfg.SphericalGrid(cfg.Masks.HeightRadar)
		if err != nil {
			return err
		}
		m, err := polargrid.OpenMask(cfg.Masks.Height, func() (*polargrid.Mask, error) {
			log.Infof("Computing height mask for %s", sph.Name)
			return polargrid.HeightMask(grid, sph)
		})
		if err != nil {
			return err
		}
		log.Infof("Height mask excludes %d cells", m.Count())
		return nil
	},
}

var rotationMaskCmd = &cobra.Command{
	Use:   "rotation-mask",
	Short: "Derive the scan-rotation mask from a reference field",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(configFile)
		if err != nil {
			return err
		}
		if rotationReference == "" {
			return fmt.Errorf("polargrid: rotation-mask needs a --reference field file")
		}
		m, err := polargrid.OpenMask(cfg.Masks.Rotation, func() (*polargrid.Mask, error) {
			f, err := os.Open(rotationReference)
			if err != nil {
				return nil, err
			}
			defer f.Close()
			field, _, err := polargrid.ReadField(f)
			if err != nil {
				return nil, err
			}
			log.Infof("Sampling rotation mask from %s level %d of %s",
				cfg.Masks.RotationVariable, cfg.Masks.RotationHeightIndex, rotationReference)
			return polargrid.RotationMask(field, cfg.Masks.RotationVariable,
				cfg.Masks.RotationHeightIndex)
		})
		if err != nil {
			return err
		}
		log.Infof("Rotation mask excludes %d cells", m.Count())
		return nil
	},
}

var intersectCmd = &cobra.Command{
	Use:   "intersect",
	Short: "Compute and save the beam-intersection matrix",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(configFile)
		if err != nil {
			return err
		}
		a, err := cfg.SphericalGrid(cfg.Intersections.RadarA)
		if err != nil {
			return err
		}
		b, err := cfg.SphericalGrid(cfg.Intersections.RadarB)
		if err != nil {
			return err
		}
		m, err := polargrid.OpenIntersections(cfg.Intersections.Path,
			func() (*polargrid.IntersectionMatrix, error) {
				msgChan, wait := progress()
				defer wait()
				log.Infof("Intersecting %s beams with %s at %g m tolerance",
					a.Name, b.Name, cfg.Intersections.Tolerance)
				return polargrid.ComputeIntersections(a, b, cfg.Intersections.Tolerance, msgChan)
			})
		if err != nil {
			return err
		}
		matched := 0
		for i := 0; i < m.NAzimuth; i++ {
			for j := 0; j < m.NRange; j++ {
				if m.Valid(i, j) {
					matched++
				}
			}
		}
		log.Infof("Matched %d of %d bins", matched, m.NAzimuth*m.NRange)
		return nil
	},
}

var regridCmd = &cobra.Command{
	Use:   "regrid [radar volume files]",
	Short: "Interpolate radar-native volumes onto the Cartesian grid",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(configFile)
		if err != nil {
			return err
		}
		grid, err := cfg.CartesianGrid()
		if err != nil {
			return err
		}
		// Scan geometries usually repeat between time steps, so the
		// interpolation mapping is cached per radar. Successive
		// volumes can start at slightly different angles, so the
		// cached mapping is only reused when the file's geometry
		// matches it.
		regridders := make(map[string]*polargrid.Regridder)
		for _, path := range args {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			field, sph, err := polargrid.ReadSpherical(f)
			f.Close()
			if err != nil {
				return err
			}
			rg, ok := regridders[sph.Name]
			if ok {
				cached, _ := rg.Source().(*polargrid.SphericalGrid)
				if cached == nil || !cached.Equal(sph) {
					ok = false
				}
			}
			if !ok {
				msgChan, wait := progress()
				log.Infof("Building interpolation mapping for %s", sph.Name)
				rg, err = polargrid.NewRegridder(sph, grid, msgChan)
				wait()
				if err != nil {
					return err
				}
				regridders[sph.Name] = rg
			}
			out, err := rg.Regrid(field)
			if err != nil {
				return err
			}
			if err := writeField(cfg, out, grid, path); err != nil {
				return err
			}
		}
		return nil
	},
}

var wrfFieldCmd = &cobra.Command{
	Use:   "wrf-field",
	Short: "Interpolate a WRF variable from model levels onto the Cartesian grid",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(configFile)
		if err != nil {
			return err
		}
		grid, err := cfg.CartesianGrid()
		if err != nil {
			return err
		}
		mg, err := polargrid.ModelGridFromWRF(cfg.Grid.WRFFile)
		if err != nil {
			return err
		}
		msgChan, wait := progress()
		rg, err := polargrid.NewRegridder(mg, grid, msgChan)
		wait()
		if err != nil {
			return err
		}
		w, err := polargrid.NewWRF(cfg.WRFOut, cfg.MP, cfg.StartDate, cfg.EndDate, nil)
		if err != nil {
			return err
		}
		next := w.Var(wrfVariable)
		start, err := time.Parse("20060102", cfg.StartDate)
		if err != nil {
			return err
		}
		for step := 0; ; step++ {
			data, err := next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
			t := start.Add(time.Duration(10*step) * time.Minute)
			field := &polargrid.Field{
				Time:   t,
				Source: polargrid.Model,
				MP:     cfg.MP,
			}
			if err := field.AddVariable(wrfVariable, data); err != nil {
				return err
			}
			out, err := rg.Regrid(field)
			if err != nil {
				return err
			}
			name := fmt.Sprintf("%s_%s.nc", wrfVariable, t.Format("20060102_150405"))
			if err := writeField(cfg, out, grid, name); err != nil {
				return err
			}
			log.Infof("Regridded %s for %v", wrfVariable, t)
		}
		return nil
	},
}

var psdCmd = &cobra.Command{
	Use:   "psd",
	Short: "Average particle size distributions over precipitating cells",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(configFile)
		if err != nil {
			return err
		}
		if psdDistTemplate == "" || psdQTemplate == "" {
			return fmt.Errorf("polargrid: psd needs --dist and --q file templates")
		}
		stats, err := polargrid.NewPSDStats(cfg.PSD.Thresholds, cfg.PSD.Bins)
		if err != nil {
			return err
		}
		mask, err := loadCombinedMask(cfg)
		if err != nil {
			return err
		}
		err = eachTimeStep(cfg, func(t time.Time) error {
			dist, err := polargrid.ReadVariable(expandDate(psdDistTemplate, t), "dist")
			if err != nil {
				return err
			}
			q, err := polargrid.ReadVariable(expandDate(psdQTemplate, t), "q")
			if err != nil {
				return err
			}
			return stats.Add(dist, q, mask)
		})
		if err != nil {
			return err
		}
		mean, err := stats.Mean()
		if err != nil {
			return err
		}
		return writeStats(filepath.Join(cfg.OutputDir, "psd.nc"),
			map[string]*sparse.DenseArray{"psd_mean": mean},
			[]string{"threshold", "bin"})
	},
}

var hiwCmd = &cobra.Command{
	Use:   "hiw [regridded field files]",
	Short: "Accumulate high-impact-weather frequency and area for one day",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(configFile)
		if err != nil {
			return err
		}
		if hiwDay == "" {
			return fmt.Errorf("polargrid: hiw needs a --day")
		}
		day, err := time.Parse("20060102", hiwDay)
		if err != nil {
			return err
		}
		stats, err := polargrid.NewHIWStats(day, day.Add(24*time.Hour-time.Second),
			cfg.HIW.Thresholds, polargrid.CellArea)
		if err != nil {
			return err
		}
		mask, err := loadCombinedMask(cfg)
		if err != nil {
			return err
		}
		for _, path := range args {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			field, _, err := polargrid.ReadField(f)
			f.Close()
			if err != nil {
				return err
			}
			values := make(map[string]*sparse.DenseArray)
			for class := range cfg.HIW.Thresholds {
				data, ok := field.Data[class]
				if !ok {
					return fmt.Errorf("polargrid: field %s has no class variable %s", path, class)
				}
				if cfg.HIW.HeightIndex < 0 || cfg.HIW.HeightIndex >= data.Shape[0] {
					return fmt.Errorf("polargrid: analysis height index %d outside [0, %d)",
						cfg.HIW.HeightIndex, data.Shape[0])
				}
				slice := sparse.ZerosDense(data.Shape[1], data.Shape[2])
				for j := 0; j < data.Shape[1]; j++ {
					for i := 0; i < data.Shape[2]; i++ {
						slice.Set(data.Get(cfg.HIW.HeightIndex, j, i), j, i)
					}
				}
				values[class] = slice
			}
			if err := stats.Add(field.Time, values, mask); err != nil {
				return err
			}
		}
		log.Infof("Accumulated %d time steps for %s", stats.Steps(), hiwDay)
		// Threshold counts differ between classes, so each class gets
		// its own file.
		frequency, area := stats.Frequency(), stats.Area()
		for class := range cfg.HIW.Thresholds {
			freq := sparse.ZerosDense(len(frequency[class]))
			copy(freq.Elements, frequency[class])
			a := sparse.ZerosDense(len(area[class]))
			copy(a.Elements, area[class])
			err := writeStats(filepath.Join(cfg.OutputDir, "hiw_"+hiwDay+"_"+class+".nc"),
				map[string]*sparse.DenseArray{"frequency": freq, "area": a},
				[]string{"threshold"})
			if err != nil {
				return err
			}
		}
		return nil
	},
}

var cfadCmd = &cobra.Command{
	Use:   "cfad [regridded field files]",
	Short: "Accumulate per-height histograms of a field variable",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(configFile)
		if err != nil {
			return err
		}
		grid, err := cfg.CartesianGrid()
		if err != nil {
			return err
		}
		cfad, err := polargrid.NewCFAD(cfg.CFAD.Min, cfg.CFAD.Max, cfg.CFAD.Res, grid.Nz())
		if err != nil {
			return err
		}
		mask, err := loadCombinedMask(cfg)
		if err != nil {
			return err
		}
		for _, path := range args {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			field, _, err := polargrid.ReadField(f)
			f.Close()
			if err != nil {
				return err
			}
			data, ok := field.Data[cfg.CFAD.Variable]
			if !ok {
				return fmt.Errorf("polargrid: field %s has no variable %s", path, cfg.CFAD.Variable)
			}
			if err := cfad.Add(data, mask); err != nil {
				return err
			}
		}
		return writeStats(filepath.Join(cfg.OutputDir, "cfad_"+cfg.CFAD.Variable+".nc"),
			map[string]*sparse.DenseArray{"counts": cfad.Counts},
			[]string{"height", "bin"})
	},
}

// loadCombinedMask loads and ORs whichever of the configured masks
// already exist on disk.
func loadCombinedMask(cfg *Config) (*polargrid.Mask, error) {
	var combined *polargrid.Mask
	for _, path := range []string{cfg.Masks.Distance, cfg.Masks.Height, cfg.Masks.Rotation} {
		if path == "" {
			continue
		}
		f, err := os.Open(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		m, err := polargrid.ReadMask(f)
		f.Close()
		if err != nil {
			return nil, err
		}
		if combined == nil {
			combined = m
			continue
		}
		if err := combined.Or(m); err != nil {
			return nil, err
		}
	}
	return combined, nil
}

func writeField(cfg *Config, f *polargrid.Field, grid *polargrid.CartesianGrid, inPath string) error {
	if err := os.MkdirAll(cfg.OutputDir, os.ModePerm); err != nil {
		return err
	}
	out := filepath.Join(cfg.OutputDir, filepath.Base(inPath))
	w, err := os.Create(out)
	if err != nil {
		return err
	}
	defer w.Close()
	if err := f.Write(w, grid); err != nil {
		return err
	}
	log.Infof("Wrote %s", out)
	return nil
}

// writeStats saves small statistics arrays that share one shape.
func writeStats(path string, arrays map[string]*sparse.DenseArray, dims []string) error {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return err
	}
	var shape []int
	for name, a := range arrays {
		if shape == nil {
			shape = a.Shape
		} else if len(a.Shape) != len(shape) {
			return fmt.Errorf("polargrid: statistics array %s shape %v does not match %v",
				name, a.Shape, shape)
		} else {
			for i, n := range a.Shape {
				if n != shape[i] {
					return fmt.Errorf("polargrid: statistics array %s shape %v does not match %v",
						name, a.Shape, shape)
				}
			}
		}
	}
	h := cdf.NewHeader(dims, shape)
	for name := range arrays {
		h.AddVariable(name, dims, []float64{0})
	}
	h.Define()
	w, err := os.Create(path)
	if err != nil {
		return err
	}
	defer w.Close()
	f, err := cdf.Create(w, h)
	if err != nil {
		return err
	}
	for name, a := range arrays {
		// cdf Writers signal completion of a fixed-size variable with
		// io.EOF; only a short write is an error.
		if n, err := f.Writer(name, nil, nil).Write(a.Elements); err != nil && !(err == io.EOF && n == len(a.Elements)) {
			return err
		}
	}
	if err := cdf.UpdateNumRecs(w); err != nil {
		return err
	}
	log.Infof("Wrote %s", path)
	return nil
}

// eachTimeStep calls fn for every 10-minute step of the configured
// simulation period.
func eachTimeStep(cfg *Config, fn func(time.Time) error) error {
	start, err := time.Parse("20060102", cfg.StartDate)
	if err != nil {
		return fmt.Errorf("polargrid: parsing start date: %v", err)
	}
	end, err := time.Parse("20060102", cfg.EndDate)
	if err != nil {
		return fmt.Errorf("polargrid: parsing end date: %v", err)
	}
	for t := start; t.Before(end); t = t.Add(10 * time.Minute) {
		if err := fn(t); err != nil {
			return err
		}
	}
	return nil
}

func expandDate(template string, t time.Time) string {
	return strings.Replace(template, "[DATE]", t.Format("2006-01-02_150405"), -1)
}
