package object

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/notargets/FAS/compute"
	"github.com/notargets/FAS/compute/cpu"
	"github.com/notargets/FAS/field"
	"github.com/notargets/FAS/geometry"
	"github.com/notargets/FAS/material"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newField(t *testing.T, size geometry.UVec3) *field.Field {
	t.Helper()
	f := field.New(cpu.New(cpu.Config{Workers: 2}), field.Config{
		Size:      size,
		Dx:        1e-3,
		Dt:        1e-7,
		Materials: []material.Material{material.Air, material.Water},
	})
	require.NoError(t, f.Prepare(false))
	t.Cleanup(f.Close)
	return f
}

func readMaterial(t *testing.T, f *field.Field) []byte {
	t.Helper()
	m, err := f.MapMaterialForRead()
	require.NoError(t, err)
	ids, err := m.Bytes()
	require.NoError(t, err)
	out := append([]byte(nil), ids...)
	require.NoError(t, m.Release())
	return out
}

func painted(ids []byte, id byte) int {
	return bytes.Count(ids, []byte{id})
}

func TestCreateRectAxisAligned(t *testing.T) {
	f := newField(t, geometry.UVec3{X: 8, Y: 8, Z: 4})
	require.NoError(t, CreateRect(f, geometry.UVec3{X: 1, Y: 1, Z: 1}, geometry.Vec3{}, geometry.UVec2{X: 3, Y: 2}, 5))

	ids := readMaterial(t, f)
	size := f.Size()
	assert.Equal(t, 6, painted(ids, 5))
	for x := uint32(1); x < 4; x++ {
		for y := uint32(1); y < 3; y++ {
			assert.Equal(t, byte(5), ids[size.Index(geometry.UVec3{X: x, Y: y, Z: 1})])
		}
	}
}

func TestCreateRectRotated(t *testing.T) {
	f := newField(t, geometry.UVec3{X: 10, Y: 10, Z: 10})
	require.NoError(t, CreateRect(f, geometry.UVec3{X: 5, Y: 5, Z: 5}, geometry.Vec3{Z: math.Pi / 2},
		geometry.UVec2{X: 3, Y: 1}, 9))

	ids := readMaterial(t, f)
	size := f.Size()
	assert.Equal(t, byte(9), ids[size.Index(geometry.UVec3{X: 5, Y: 5, Z: 5})])
	assert.Equal(t, byte(9), ids[size.Index(geometry.UVec3{X: 5, Y: 7, Z: 5})])
	assert.Zero(t, ids[size.Index(geometry.UVec3{X: 5, Y: 8, Z: 5})])
	assert.Zero(t, ids[size.Index(geometry.UVec3{X: 6, Y: 5, Z: 5})])
}

func TestCreateBoxClipsToGrid(t *testing.T) {
	f := newField(t, geometry.UVec3{X: 6, Y: 6, Z: 6})
	require.NoError(t, CreateBox(f, geometry.UVec3{}, geometry.Vec3{}, geometry.UVec3{X: 2, Y: 3, Z: 4}, 1))
	assert.Equal(t, 24, painted(readMaterial(t, f), 1))

	require.NoError(t, CreateBox(f, geometry.UVec3{X: 5, Y: 5, Z: 5}, geometry.Vec3{}, geometry.UVec3{X: 4, Y: 4, Z: 4}, 2))
	ids := readMaterial(t, f)
	assert.Equal(t, 1, painted(ids, 2))
	assert.Equal(t, byte(2), ids[len(ids)-1])
}

func TestCreateEllipse(t *testing.T) {
	f := newField(t, geometry.UVec3{X: 16, Y: 16, Z: 8})
	center := geometry.UVec3{X: 8, Y: 8, Z: 4}
	require.NoError(t, CreateEllipse(f, center, geometry.Vec3{}, geometry.UVec2{X: 3, Y: 3}, 1))

	ids := readMaterial(t, f)
	size := f.Size()
	assert.Equal(t, byte(1), ids[size.Index(center)])
	assert.Zero(t, ids[size.Index(geometry.UVec3{X: 12, Y: 8, Z: 4})])
	for i, id := range ids {
		if id == 0 {
			continue
		}
		x, y, z := i%16, (i/16)%16, i/256
		assert.Equal(t, 4, z)
		assert.LessOrEqual(t, math.Abs(float64(x-8)), 3.)
		assert.LessOrEqual(t, math.Abs(float64(y-8)), 3.)
	}
}

func TestCreateEllipsoid(t *testing.T) {
	f := newField(t, geometry.UVec3{X: 16, Y: 16, Z: 16})
	center := geometry.UVec3{X: 8, Y: 8, Z: 8}
	require.NoError(t, CreateEllipsoid(f, center, geometry.Vec3{}, geometry.UVec3{X: 3, Y: 3, Z: 3}, 1))

	ids := readMaterial(t, f)
	size := f.Size()
	assert.Equal(t, byte(1), ids[size.Index(center)])
	assert.Equal(t, byte(1), ids[size.Index(geometry.UVec3{X: 8, Y: 8, Z: 5})])
	assert.Zero(t, ids[size.Index(geometry.UVec3{X: 8, Y: 8, Z: 12})])
	assert.Zero(t, ids[size.Index(geometry.UVec3{X: 5, Y: 5, Z: 5})])
}

func TestCreateCylinder(t *testing.T) {
	f := newField(t, geometry.UVec3{X: 16, Y: 16, Z: 16})
	require.NoError(t, CreateCylinder(f, geometry.UVec3{X: 8, Y: 8, Z: 2}, geometry.Vec3{},
		geometry.UVec3{X: 2, Y: 2, Z: 5}, 1))

	ids := readMaterial(t, f)
	size := f.Size()
	for z := uint32(2); z < 7; z++ {
		assert.Equal(t, byte(1), ids[size.Index(geometry.UVec3{X: 8, Y: 8, Z: z})], "z=%d", z)
	}
	assert.Zero(t, ids[size.Index(geometry.UVec3{X: 8, Y: 8, Z: 7})])
	assert.Zero(t, ids[size.Index(geometry.UVec3{X: 8, Y: 8, Z: 1})])
}

func TestCreateBeforePrepare(t *testing.T) {
	f := field.New(cpu.New(cpu.Config{}), field.Config{Size: geometry.UVec3{X: 4, Y: 4, Z: 4}})
	err := CreateBox(f, geometry.UVec3{}, geometry.Vec3{}, geometry.UVec3{X: 1, Y: 1, Z: 1}, 1)
	assert.ErrorIs(t, err, compute.ErrNotPrepared)
}

func TestLoadVoxelMap(t *testing.T) {
	f := newField(t, geometry.UVec3{X: 4, Y: 3, Z: 3})
	require.NoError(t, CreateBox(f, geometry.UVec3{}, geometry.Vec3{}, geometry.UVec3{X: 4, Y: 3, Z: 3}, 1))

	data := make([]byte, 36)
	data[0] = 7
	data[13] = 7
	data[35] = 3
	path := filepath.Join(t.TempDir(), "map.raw")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	require.NoError(t, LoadVoxelMap(f, path))

	ids := readMaterial(t, f)
	assert.Equal(t, byte(7), ids[0])
	assert.Equal(t, byte(7), ids[13])
	assert.Equal(t, byte(3), ids[35])
	assert.Equal(t, 33, painted(ids, 1))
}

func TestLoadVoxelMapShortFile(t *testing.T) {
	f := newField(t, geometry.UVec3{X: 4, Y: 3, Z: 3})
	data := bytes.Repeat([]byte{2}, 18)
	err := LoadVoxelMapFrom(f, bytes.NewReader(data), "short.raw")

	var ferr *compute.FileIOError
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, 1, ferr.Frame)
	assert.Equal(t, "short.raw", ferr.Path)
	// the complete first slice was applied
	assert.Equal(t, 12, painted(readMaterial(t, f), 2))
}

func TestLoadVoxelMapMissingFile(t *testing.T) {
	f := newField(t, geometry.UVec3{X: 4, Y: 4, Z: 4})
	err := LoadVoxelMap(f, filepath.Join(t.TempDir(), "missing.raw"))
	var ferr *compute.FileIOError
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, -1, ferr.Frame)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
