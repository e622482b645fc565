package object

import (
	"bufio"
	"errors"
	"io"
	"os"

	"github.com/notargets/FAS/compute"
	"github.com/notargets/FAS/field"
)

// LoadVoxelMap reads a raw material map from path. The file holds size.Z
// slices of size.X*size.Y bytes each; zero bytes leave the grid untouched.
func LoadVoxelMap(f *field.Field, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return &compute.FileIOError{Path: path, Frame: -1, Err: err}
	}
	defer file.Close()
	return LoadVoxelMapFrom(f, file, path)
}

// LoadVoxelMapFrom applies a voxel map read from r. name labels errors.
func LoadVoxelMapFrom(f *field.Field, r io.Reader, name string) error {
	if err := f.Check(); err != nil {
		return err
	}
	m, err := f.MapMaterialForWrite()
	if err != nil {
		return err
	}
	ids, err := m.Bytes()
	if err != nil {
		return err
	}

	size := f.Size()
	plane := int(size.X) * int(size.Y)
	slice := make([]byte, plane)
	br := bufio.NewReader(r)
	for z := 0; z < int(size.Z); z++ {
		if _, err = io.ReadFull(br, slice); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			// slices read so far stay applied
			if rerr := m.Release(); rerr != nil {
				return rerr
			}
			return &compute.FileIOError{Path: name, Frame: z, Err: err}
		}
		dst := ids[z*plane : (z+1)*plane]
		for i, id := range slice {
			if id != 0 {
				dst[i] = id
			}
		}
	}
	return m.Release()
}
