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

// Command polargrid is a command-line interface for regridding radar
// and weather-model data onto a common Cartesian grid.
package main

import (
	"os"

	"github.com/spatialmodel/polargrid/polargridutil"
)

func main() {
	if err := polargridutil.Root.Execute(); err != nil {
		os.Exit(1)
	}
}
