// Package h5 opens MATLAB v7.3 result files through libhdf5.
package h5

/*
#cgo LDFLAGS: -lhdf5
#include <stdlib.h>
#include <hdf5.h>

static int ephys_read_refs(hid_t dset, hobj_ref_t *buf) {
	return (int)H5Dread(dset, H5T_STD_REF_OBJ, H5S_ALL, H5S_ALL, H5P_DEFAULT, buf);
}

static long ephys_ref_len(hid_t file, hobj_ref_t *ref) {
	hid_t obj = H5Rdereference2(file, H5P_DEFAULT, H5R_OBJECT, ref);
	if (obj < 0) {
		return -1;
	}
	hid_t space = H5Dget_space(obj);
	hssize_t n = H5Sget_simple_extent_npoints(space);
	H5Sclose(space);
	H5Dclose(obj);
	return (long)n;
}

static int ephys_ref_read(hid_t file, hobj_ref_t *ref, double *out) {
	hid_t obj = H5Rdereference2(file, H5P_DEFAULT, H5R_OBJECT, ref);
	if (obj < 0) {
		return -1;
	}
	herr_t err = H5Dread(obj, H5T_NATIVE_DOUBLE, H5S_ALL, H5S_ALL, H5P_DEFAULT, out);
	H5Dclose(obj);
	return (int)err;
}
*/
import "C"

import (
	"fmt"
	"strings"

	"gonum.org/v1/hdf5"

	"ephyspipe/internal/jrclust"
)

type File struct {
	path string
	f    *hdf5.File
}

var _ jrclust.Container = (*File)(nil)

// Open is a jrclust.Opener.
func Open(path string) (jrclust.Container, error) {
	f, err := hdf5.OpenFile(path, hdf5.F_ACC_RDONLY)
	if err != nil {
		return nil, fmt.Errorf("h5: open %s: %w", path, err)
	}
	return &File{path: path, f: f}, nil
}

func (h *File) Has(name string) bool {
	parts := strings.Split(strings.Trim(name, "/"), "/")
	for i := range parts {
		if !h.f.LinkExists(strings.Join(parts[:i+1], "/")) {
			return false
		}
	}
	return true
}

func (h *File) Float64s(name string) (jrclust.Array[float64], error) {
	ds, err := h.f.OpenDataset(name)
	if err != nil {
		return jrclust.Array[float64]{}, fmt.Errorf("h5: %s: %w", name, err)
	}
	defer ds.Close()

	dims, n, err := extent(ds)
	if err != nil {
		return jrclust.Array[float64]{}, fmt.Errorf("h5: %s: %w", name, err)
	}
	buf := make([]float64, n)
	if n > 0 {
		if err := ds.Read(&buf); err != nil {
			return jrclust.Array[float64]{}, fmt.Errorf("h5: read %s: %w", name, err)
		}
	}
	return jrclust.Array[float64]{Data: buf, Dims: dims}, nil
}

func (h *File) Strings(name string) (jrclust.Array[string], error) {
	ds, err := h.f.OpenDataset(name)
	if err != nil {
		return jrclust.Array[string]{}, fmt.Errorf("h5: %s: %w", name, err)
	}
	defer ds.Close()

	dims, n, err := extent(ds)
	if err != nil {
		return jrclust.Array[string]{}, fmt.Errorf("h5: %s: %w", name, err)
	}
	out := make([]string, n)
	if n == 0 {
		return jrclust.Array[string]{Data: out, Dims: dims}, nil
	}
	refs := make([]C.hobj_ref_t, n)
	if C.ephys_read_refs(C.hid_t(ds.ID()), &refs[0]) < 0 {
		return jrclust.Array[string]{}, fmt.Errorf("h5: read references %s", name)
	}
	fid := C.hid_t(h.f.ID())
	for i := range refs {
		size := C.ephys_ref_len(fid, &refs[i])
		if size < 0 {
			return jrclust.Array[string]{}, fmt.Errorf("h5: dereference %s[%d]", name, i)
		}
		if size == 0 {
			continue
		}
		chars := make([]float64, int(size))
		if C.ephys_ref_read(fid, &refs[i], (*C.double)(&chars[0])) < 0 {
			return jrclust.Array[string]{}, fmt.Errorf("h5: read %s[%d]", name, i)
		}
		out[i] = jrclust.CharString(jrclust.Array[float64]{Data: chars})
	}
	return jrclust.Array[string]{Data: out, Dims: dims}, nil
}

func (h *File) Close() error {
	if h.f == nil {
		return nil
	}
	err := h.f.Close()
	h.f = nil
	return err
}

func extent(ds *hdf5.Dataset) ([]int, int, error) {
	space := ds.Space()
	defer space.Close()
	raw, _, err := space.SimpleExtentDims()
	if err != nil {
		return nil, 0, err
	}
	dims := make([]int, len(raw))
	for i, d := range raw {
		dims[i] = int(d)
	}
	return dims, space.SimpleExtentNPoints(), nil
}
