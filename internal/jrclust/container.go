package jrclust

import (
	"fmt"
	"sort"
	"strings"
)

// Container is a read-only view over a MATLAB v7.3 (HDF5) result file.
// Names are slash separated paths ("S_clu/viClu"). Arrays come back in file
// (row-major) order, so a MATLAB column vector reads as a 1×N array.
type Container interface {
	Has(name string) bool
	Float64s(name string) (Array[float64], error)
	// Strings reads a dataset of object references and decodes every
	// referenced char array.
	Strings(name string) (Array[string], error)
	Close() error
}

// Opener opens the container stored at path.
type Opener func(path string) (Container, error)

type Array[T any] struct {
	Data []T
	Dims []int
}

// Row returns the i-th slice along the first dimension.
func (a Array[T]) Row(i int) ([]T, error) {
	if len(a.Dims) == 0 {
		if i == 0 {
			return a.Data, nil
		}
		return nil, fmt.Errorf("jrclust: row %d of scalar", i)
	}
	stride := 1
	for _, d := range a.Dims[1:] {
		stride *= d
	}
	if i < 0 || i >= a.Dims[0] || (i+1)*stride > len(a.Data) {
		return nil, fmt.Errorf("jrclust: row %d out of range %v", i, a.Dims)
	}
	return a.Data[i*stride : (i+1)*stride], nil
}

// CharString decodes a MATLAB char array (one code unit per element).
func CharString(a Array[float64]) string {
	var b strings.Builder
	for _, c := range a.Data {
		b.WriteRune(rune(int(c)))
	}
	return b.String()
}

// MemContainer is an in-memory Container, used for synthetic result files.
type MemContainer struct {
	Numeric map[string]Array[float64]
	Text    map[string]Array[string]
	closed  bool
}

func NewMemContainer() *MemContainer {
	return &MemContainer{
		Numeric: map[string]Array[float64]{},
		Text:    map[string]Array[string]{},
	}
}

// Set stores a numeric dataset; dims default to a single row.
func (m *MemContainer) Set(name string, data []float64, dims ...int) *MemContainer {
	if len(dims) == 0 {
		dims = []int{1, len(data)}
	}
	m.Numeric[name] = Array[float64]{Data: data, Dims: dims}
	return m
}

func (m *MemContainer) SetStrings(name string, data []string, dims ...int) *MemContainer {
	if len(dims) == 0 {
		dims = []int{1, len(data)}
	}
	m.Text[name] = Array[string]{Data: data, Dims: dims}
	return m
}

func (m *MemContainer) Has(name string) bool {
	if _, ok := m.Numeric[name]; ok {
		return true
	}
	if _, ok := m.Text[name]; ok {
		return true
	}
	prefix := name + "/"
	for _, k := range m.names() {
		if strings.HasPrefix(k, prefix) {
			return true
		}
	}
	return false
}

func (m *MemContainer) Float64s(name string) (Array[float64], error) {
	a, ok := m.Numeric[name]
	if !ok {
		return Array[float64]{}, fmt.Errorf("jrclust: dataset %q not found", name)
	}
	return a, nil
}

func (m *MemContainer) Strings(name string) (Array[string], error) {
	a, ok := m.Text[name]
	if !ok {
		return Array[string]{}, fmt.Errorf("jrclust: dataset %q not found", name)
	}
	return a, nil
}

func (m *MemContainer) Close() error {
	m.closed = true
	return nil
}

func (m *MemContainer) names() []string {
	out := make([]string, 0, len(m.Numeric)+len(m.Text))
	for k := range m.Numeric {
		out = append(out, k)
	}
	for k := range m.Text {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Closed reports whether Close has been called.
func (m *MemContainer) Closed() bool {
	return m.closed
}
