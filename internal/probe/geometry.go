// Package probe generates electrode tables for the neuropixels probe families.
//
// Coordinates are in micrometres with (0, 0) at the bottom-left corner of the
// first shank, ignoring the tip. Electrode, shank, column and row numbers are
// all 1-based.
package probe

import (
	"fmt"
	"sort"
)

const (
	Neuropixels10_3A = "neuropixels 1.0 - 3A"
	Neuropixels10_3B = "neuropixels 1.0 - 3B"
	Neuropixels20_SS = "neuropixels 2.0 - SS"
	Neuropixels20_MS = "neuropixels 2.0 - MS"
)

type Electrode struct {
	Electrode int
	Shank     int
	ShankCol  int
	ShankRow  int
	X         float64
	Y         float64
	Z         float64
}

// Geometry describes one probe family's tiling.
type Geometry struct {
	SiteCount    int     // sites per shank
	ColSpacing   float64 // horizontal spacing between the two columns
	RowSpacing   float64 // vertical spacing between rows
	WhiteSpacing float64 // x offset applied to every other pair of rows
	ColCount     int
	ShankCount   int
	ShankSpacing float64
}

var catalog = map[string]Geometry{
	Neuropixels10_3A: {SiteCount: 960, ColSpacing: 32, RowSpacing: 20, WhiteSpacing: 16, ColCount: 2, ShankCount: 1, ShankSpacing: 250},
	Neuropixels10_3B: {SiteCount: 960, ColSpacing: 32, RowSpacing: 20, WhiteSpacing: 16, ColCount: 2, ShankCount: 1, ShankSpacing: 250},
	Neuropixels20_SS: {SiteCount: 1280, ColSpacing: 32, RowSpacing: 15, WhiteSpacing: 0, ColCount: 2, ShankCount: 1, ShankSpacing: 250},
	Neuropixels20_MS: {SiteCount: 1280, ColSpacing: 32, RowSpacing: 15, WhiteSpacing: 0, ColCount: 2, ShankCount: 4, ShankSpacing: 250},
}

// Lookup returns the catalog geometry for probeType.
func Lookup(probeType string) (Geometry, bool) {
	g, ok := catalog[probeType]
	return g, ok
}

// Types lists the catalog probe types in a stable order.
func Types() []string {
	out := make([]string, 0, len(catalog))
	for k := range catalog {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build returns the full electrode table of a catalog probe type.
func Build(probeType string) ([]Electrode, error) {
	g, ok := catalog[probeType]
	if !ok {
		return nil, fmt.Errorf("unknown probe type %q", probeType)
	}
	return g.Electrodes(), nil
}

// Electrodes lays out the sites: two columns per row, row pairs alternately
// shifted by WhiteSpacing, shanks repeated at ShankSpacing.
func (g Geometry) Electrodes() []Electrode {
	colCount := g.ColCount
	if colCount <= 0 {
		colCount = 2
	}
	shanks := g.ShankCount
	if shanks <= 0 {
		shanks = 1
	}
	rowCount := g.SiteCount / colCount
	perShank := rowCount * 2

	out := make([]Electrode, 0, perShank*shanks)
	for shank := 0; shank < shanks; shank++ {
		for e := 0; e < perShank; e++ {
			col := e % 2
			row := e / 2
			x := float64(col) * g.ColSpacing
			// offset pattern repeats every four sites: [w, w, 0, 0]
			if (e/2)%2 == 0 {
				x += g.WhiteSpacing
			}
			out = append(out, Electrode{
				Electrode: g.SiteCount*shank + e + 1,
				Shank:     shank + 1,
				ShankCol:  col + 1,
				ShankRow:  row + 1,
				X:         x + float64(shank)*g.ShankSpacing,
				Y:         float64(row) * g.RowSpacing,
				Z:         0,
			})
		}
	}
	return out
}
