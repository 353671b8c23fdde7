package loader

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Adapter is a parsed JRCLUST probe (.prb) file.
type Adapter struct {
	Channels []int
	Shank    []int
	// Geometry is one (x, y) row per site.
	Geometry [][2]float64
	Values   map[string]string
}

// ParseAdapter reads "key = [..]" assignments; '%' lines are comments.
// Matrix rows are separated by ';', values by spaces or commas.
func ParseAdapter(r io.Reader) (*Adapter, error) {
	a := &Adapter{Values: map[string]string{}}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "%") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSuffix(strings.TrimSpace(val), ";")
		a.Values[key] = val

		rows, isMatrix := parseMatrix(val)
		if !isMatrix {
			continue
		}
		var err error
		switch key {
		case "channels":
			a.Channels, err = flatInts(rows)
		case "shank":
			a.Shank, err = flatInts(rows)
		case "geometry":
			a.Geometry, err = pairs(rows)
		}
		if err != nil {
			return nil, fmt.Errorf("prb %s: %w", key, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(a.Channels) == 0 {
		return nil, fmt.Errorf("prb: no channels")
	}
	return a, nil
}

// Electrodes describes every mapped site.
func (a *Adapter) Electrodes() []ProbeElectrode {
	out := make([]ProbeElectrode, len(a.Channels))
	for i, ch := range a.Channels {
		e := ProbeElectrode{Electrode: ch, Shank: 1}
		if i < len(a.Shank) {
			e.Shank = a.Shank[i]
		}
		if i < len(a.Geometry) {
			x, y := a.Geometry[i][0], a.Geometry[i][1]
			e.X, e.Y = &x, &y
		}
		out[i] = e
	}
	return out
}

func parseMatrix(v string) ([][]float64, bool) {
	start, end := strings.Index(v, "["), strings.LastIndex(v, "]")
	if start < 0 || end < start {
		return nil, false
	}
	var rows [][]float64
	for _, row := range strings.Split(v[start+1:end], ";") {
		fields := strings.FieldsFunc(row, func(r rune) bool {
			return r == ' ' || r == ',' || r == '\t'
		})
		if len(fields) == 0 {
			continue
		}
		vals := make([]float64, len(fields))
		for i, f := range fields {
			x, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, false
			}
			vals[i] = x
		}
		rows = append(rows, vals)
	}
	return rows, true
}

func flatInts(rows [][]float64) ([]int, error) {
	var out []int
	for _, row := range rows {
		for _, v := range row {
			if v != float64(int(v)) {
				return nil, fmt.Errorf("non-integer value %v", v)
			}
			out = append(out, int(v))
		}
	}
	return out, nil
}

func pairs(rows [][]float64) ([][2]float64, error) {
	out := make([][2]float64, len(rows))
	for i, row := range rows {
		if len(row) != 2 {
			return nil, fmt.Errorf("row %d has %d columns", i, len(row))
		}
		out[i] = [2]float64{row[0], row[1]}
	}
	return out, nil
}
