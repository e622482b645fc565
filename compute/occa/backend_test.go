package occa

import (
	"testing"

	"github.com/notargets/FAS/compute"
	"github.com/notargets/FAS/compute/cpu"
	"github.com/notargets/FAS/field"
	"github.com/notargets/FAS/geometry"
	"github.com/notargets/FAS/material"
	"github.com/notargets/FAS/object"
	"github.com/notargets/FAS/transducer"
	"github.com/notargets/FAS/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// simulate runs a small driven field and returns the final pressure and the
// collected element coordinates
func simulate(t *testing.T, b compute.Backend) ([]float32, []geometry.UVec3) {
	t.Helper()
	f := field.New(b, field.Config{
		Size:      geometry.UVec3{X: 16, Y: 12, Z: 10},
		Dx:        1e-3,
		Dt:        2e-7,
		Materials: []material.Material{material.Air, material.Water},
		RmsWindow: field.RectWindow(20),
	})
	require.NoError(t, f.Prepare(true))
	defer f.Close()

	require.NoError(t, object.CreateBox(f, geometry.UVec3{Z: 7}, geometry.Vec3{},
		geometry.UVec3{X: 16, Y: 12, Z: 3}, 1))
	require.NoError(t, object.CreateCylinder(f, geometry.UVec3{X: 8, Y: 6, Z: 2}, geometry.Vec3{},
		geometry.UVec3{X: 2, Y: 2, Z: 1}, compute.TagBit))
	d, err := transducer.CollectDriver(f)
	require.NoError(t, err)
	defer d.Release()
	coords, err := d.Elements().Coords()
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		require.NoError(t, d.Drive(float32(i%5)-2))
		require.NoError(t, f.SimStep())
	}
	m, err := f.MapCurrentForRead()
	require.NoError(t, err)
	p, err := m.Float32s()
	require.NoError(t, err)
	return append([]float32(nil), p...), coords
}

func TestOCCAMatchesCPU(t *testing.T) {
	device := utils.CreateTestDevice()
	defer device.Free()

	b, err := New(device, Config{})
	require.NoError(t, err)
	defer b.Release()

	want, wantCoords := simulate(t, cpu.New(cpu.Config{}))
	got, gotCoords := simulate(t, b)
	assert.Equal(t, wantCoords, gotCoords)
	assert.InDeltaSlice(t, want, got, 1e-4)
}

func TestBuildKernelFailure(t *testing.T) {
	device := utils.CreateTestDevice()
	defer device.Free()

	b, err := New(device, Config{})
	require.NoError(t, err)
	defer b.Release()

	_, err = b.BuildKernel("@kernel void broken(const int n) { this is not okl }", "broken")
	var berr *compute.BackendError
	require.ErrorAs(t, err, &berr)
	assert.NotEmpty(t, berr.Log)
}
