//go:build opencl

package opencl

import (
	"testing"

	"github.com/notargets/FAS/compute"
	"github.com/notargets/FAS/compute/cpu"
	"github.com/notargets/FAS/field"
	"github.com/notargets/FAS/geometry"
	"github.com/notargets/FAS/material"
	"github.com/notargets/FAS/object"
	"github.com/notargets/FAS/transducer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := New(Config{})
	if err != nil {
		t.Skipf("no OpenCL device: %v", err)
	}
	t.Cleanup(b.Release)
	return b
}

func collect(t *testing.T, b compute.Backend) []geometry.UVec3 {
	t.Helper()
	f := field.New(b, field.Config{
		Size:      geometry.UVec3{X: 9, Y: 7, Z: 5},
		Materials: []material.Material{material.Air},
	})
	require.NoError(t, f.Prepare(false))
	defer f.Close()
	require.NoError(t, object.CreateEllipsoid(f, geometry.UVec3{X: 4, Y: 3, Z: 2}, geometry.Vec3{Z: 0.4},
		geometry.UVec3{X: 3, Y: 2, Z: 2}, compute.TagBit))
	set, err := transducer.Collect(f)
	require.NoError(t, err)
	defer set.Release()
	coords, err := set.Coords()
	require.NoError(t, err)
	return coords
}

func TestCollectMatchesCPU(t *testing.T) {
	b := newBackend(t)
	want := collect(t, cpu.New(cpu.Config{}))
	require.NotEmpty(t, want)
	assert.Equal(t, want, collect(t, b))
}

func TestStepMatchesCPU(t *testing.T) {
	b := newBackend(t)
	run := func(b compute.Backend) []float32 {
		f := field.New(b, field.Config{
			Size:      geometry.UVec3{X: 8, Y: 8, Z: 8},
			Dx:        1e-3,
			Dt:        2e-7,
			Materials: []material.Material{material.Air, material.Water},
		})
		require.NoError(t, f.Prepare(false))
		defer f.Close()
		require.NoError(t, object.CreateBox(f, geometry.UVec3{Z: 5}, geometry.Vec3{}, geometry.UVec3{X: 8, Y: 8, Z: 3}, 1))
		m, err := f.MapCurrentForWrite()
		require.NoError(t, err)
		p, err := m.Float32s()
		require.NoError(t, err)
		p[f.Index(4, 4, 3)] = 1
		require.NoError(t, m.Release())
		for i := 0; i < 10; i++ {
			require.NoError(t, f.SimStep())
		}
		m, err = f.MapCurrentForRead()
		require.NoError(t, err)
		p, err = m.Float32s()
		require.NoError(t, err)
		return append([]float32(nil), p...)
	}
	assert.InDeltaSlice(t, run(cpu.New(cpu.Config{})), run(b), 1e-5)
}
