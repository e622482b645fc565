package field

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/notargets/FAS/compute"
	"github.com/notargets/FAS/compute/cpu"
	"github.com/notargets/FAS/geometry"
	"github.com/notargets/FAS/material"
	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestField(t *testing.T, size geometry.UVec3, withRms bool, window []float32) *Field {
	t.Helper()
	f := New(cpu.New(cpu.Config{Workers: 3}), Config{
		Size:      size,
		Dx:        1e-3,
		Dt:        1e-6,
		Materials: []material.Material{material.Air},
		RmsWindow: window,
	})
	require.NoError(t, f.Prepare(withRms))
	t.Cleanup(f.Close)
	return f
}

func readCurrent(t *testing.T, f *Field) []float32 {
	t.Helper()
	m, err := f.MapCurrentForRead()
	require.NoError(t, err)
	v, err := m.Float32s()
	require.NoError(t, err)
	out := append([]float32(nil), v...)
	require.NoError(t, m.Release())
	return out
}

func TestNewClampsParameters(t *testing.T) {
	f := New(cpu.New(cpu.Config{}), Config{Size: geometry.UVec3{X: 1, Y: 1, Z: 1}})
	assert.Equal(t, geometry.UVec3{X: 3, Y: 3, Z: 3}, f.Size())
	assert.Equal(t, float32(MinDx), f.Dx())
	assert.Equal(t, float32(MinDt), f.Dt())

	f = New(cpu.New(cpu.Config{}), Config{Size: geometry.UVec3{X: 8, Y: 4, Z: 3}, Dx: 1e-7, Dt: 2e-9})
	assert.Equal(t, geometry.UVec3{X: 8, Y: 4, Z: 3}, f.Size())
	assert.Equal(t, float32(MinDx), f.Dx())
	assert.Equal(t, float32(2e-9), f.Dt())
}

func TestOperationsBeforePrepare(t *testing.T) {
	f := New(cpu.New(cpu.Config{}), Config{Size: geometry.UVec3{X: 4, Y: 4, Z: 4}})
	assert.ErrorIs(t, f.SimStep(), compute.ErrNotPrepared)
	assert.ErrorIs(t, f.Clear(), compute.ErrNotPrepared)
	assert.ErrorIs(t, f.FinishRms(), compute.ErrNotPrepared)
	_, err := f.MapCurrentForRead()
	assert.ErrorIs(t, err, compute.ErrNotPrepared)
}

func TestPrepareZeroesEverything(t *testing.T) {
	f := newTestField(t, geometry.UVec3{X: 5, Y: 4, Z: 3}, true, RectWindow(4))
	assert.Equal(t, uint64(0), f.StepsCalculated())
	assert.Equal(t, 0, f.ActiveBuffer())

	for _, v := range readCurrent(t, f) {
		require.Zero(t, v)
	}
	rm, err := f.MapRmsForRead()
	require.NoError(t, err)
	rms, err := rm.Float32s()
	require.NoError(t, err)
	assert.Len(t, rms, 60)
	for _, v := range rms {
		require.Zero(t, v)
	}
	mm, err := f.MapMaterialForRead()
	require.NoError(t, err)
	ids, err := mm.Bytes()
	require.NoError(t, err)
	for _, id := range ids {
		require.Zero(t, id)
	}
}

func TestPrepareTwice(t *testing.T) {
	f := newTestField(t, geometry.UVec3{X: 4, Y: 4, Z: 4}, false, nil)
	var verr *compute.ValidationError
	assert.True(t, errors.As(f.Prepare(false), &verr))
}

func TestZeroFieldStaysZero(t *testing.T) {
	f := newTestField(t, geometry.UVec3{X: 6, Y: 5, Z: 4}, true, RectWindow(7))
	const steps = 7
	for i := 0; i < steps; i++ {
		require.NoError(t, f.SimStep())
	}
	assert.Equal(t, uint64(steps), f.StepsCalculated())
	assert.Equal(t, steps%2, f.ActiveBuffer())
	for _, v := range readCurrent(t, f) {
		require.Zero(t, v)
	}
	require.NoError(t, f.FinishRms())
	rm, err := f.MapRmsForRead()
	require.NoError(t, err)
	rms, err := rm.Float32s()
	require.NoError(t, err)
	for _, v := range rms {
		require.Zero(t, v)
	}
}

func TestClearResetsSteps(t *testing.T) {
	f := newTestField(t, geometry.UVec3{X: 4, Y: 4, Z: 4}, false, nil)
	for i := 0; i < 3; i++ {
		require.NoError(t, f.SimStep())
	}
	require.NoError(t, f.Clear())
	assert.Equal(t, uint64(0), f.StepsCalculated())
	assert.Equal(t, 0, f.ActiveBuffer())
}

func TestTruncationWarnedOnce(t *testing.T) {
	var out bytes.Buffer
	logger := pterm.DefaultLogger.WithWriter(&out)
	entries := make([]material.Material, compute.MaterialSlots+10)
	for i := range entries {
		entries[i] = material.Air
	}
	f := New(cpu.New(cpu.Config{Logger: logger}), Config{
		Size:      geometry.UVec3{X: 3, Y: 3, Z: 3},
		Dx:        1e-3,
		Dt:        1e-7,
		Materials: entries,
		Logger:    logger,
	})
	require.NoError(t, f.Prepare(false))
	defer f.Close()
	assert.Equal(t, 1, strings.Count(out.String(), "truncated"))
}

func TestInvalidMaterialFailsBeforeUpload(t *testing.T) {
	b := cpu.New(cpu.Config{})
	f := New(b, Config{
		Size:      geometry.UVec3{X: 4, Y: 4, Z: 4},
		Materials: []material.Material{material.Air, {Name: "bad", SpeedOfSound: 0, Density: 1}},
	})
	defer f.Close()
	var verr *compute.ValidationError
	require.True(t, errors.As(f.Prepare(true), &verr))
	assert.Zero(t, b.Allocated())
	assert.ErrorIs(t, f.Check(), compute.ErrNotPrepared)

	// the field is still usable once the materials are fixed
	require.NoError(t, f.SetMaterials([]material.Material{material.Air}))
	require.NoError(t, f.Prepare(true))
}

func TestAllocationFailureIsFatal(t *testing.T) {
	f := New(cpu.New(cpu.Config{MemoryLimit: 1024}), Config{
		Size:      geometry.UVec3{X: 32, Y: 32, Z: 32},
		Materials: []material.Material{material.Air},
	})
	defer f.Close()
	err := f.Prepare(false)
	var aerr *compute.AllocationError
	require.True(t, errors.As(err, &aerr))
	assert.ErrorAs(t, f.SimStep(), &aerr)
}

func TestSingleStepImpulse(t *testing.T) {
	f := newTestField(t, geometry.UVec3{X: 5, Y: 5, Z: 5}, false, nil)
	size := f.Size()
	center := size.Index(geometry.UVec3{X: 2, Y: 2, Z: 2})

	m, err := f.MapCurrentForWrite()
	require.NoError(t, err)
	p, err := m.Float32s()
	require.NoError(t, err)
	p[center] = 1
	require.NoError(t, m.Release())

	require.NoError(t, f.SimStep())
	got := readCurrent(t, f)

	k := float64(343 * f.Dt() / f.Dx())
	assert.InDelta(t, 2-6*k*k, got[center], 1e-5)
	for _, n := range []geometry.UVec3{
		{X: 1, Y: 2, Z: 2}, {X: 3, Y: 2, Z: 2},
		{X: 2, Y: 1, Z: 2}, {X: 2, Y: 3, Z: 2},
		{X: 2, Y: 2, Z: 1}, {X: 2, Y: 2, Z: 3},
	} {
		assert.InDelta(t, k*k, got[size.Index(n)], 1e-6)
	}
	assert.Zero(t, got[size.Index(geometry.UVec3{})])
}

func TestMappingInvalidatedByStep(t *testing.T) {
	f := newTestField(t, geometry.UVec3{X: 4, Y: 4, Z: 4}, false, nil)
	m, err := f.MapCurrentForRead()
	require.NoError(t, err)
	require.NoError(t, f.SimStep())

	_, err = m.Float32s()
	var merr *compute.MapConflictError
	assert.True(t, errors.As(err, &merr))
	assert.NoError(t, m.Release())
}

func TestNewMappingReplacesPrevious(t *testing.T) {
	f := newTestField(t, geometry.UVec3{X: 4, Y: 4, Z: 4}, false, nil)
	first, err := f.MapCurrentForRead()
	require.NoError(t, err)
	second, err := f.MapCurrentForWrite()
	require.NoError(t, err)

	_, err = first.Float32s()
	assert.Error(t, err)
	_, err = second.Float32s()
	assert.NoError(t, err)
	require.NoError(t, f.Unmap())
	_, err = second.Float32s()
	assert.Error(t, err)
}

func TestRmsDisabled(t *testing.T) {
	f := newTestField(t, geometry.UVec3{X: 4, Y: 4, Z: 4}, false, RectWindow(2))
	require.NoError(t, f.SimStep())
	assert.NoError(t, f.FinishRms())
	_, err := f.MapRmsForRead()
	var merr *compute.MapConflictError
	assert.True(t, errors.As(err, &merr))
}

func TestFinishRmsDivideByZero(t *testing.T) {
	f := newTestField(t, geometry.UVec3{X: 4, Y: 4, Z: 4}, true, RectWindow(4))
	assert.ErrorIs(t, f.FinishRms(), compute.ErrDivideByZero)

	f = newTestField(t, geometry.UVec3{X: 4, Y: 4, Z: 4}, true, nil)
	require.NoError(t, f.SimStep())
	assert.ErrorIs(t, f.FinishRms(), compute.ErrDivideByZero)
}

func TestFinishRmsOfHeldValue(t *testing.T) {
	f := newTestField(t, geometry.UVec3{X: 4, Y: 4, Z: 4}, true, []float32{1})
	idx := f.Size().Index(geometry.UVec3{X: 1, Y: 1, Z: 1})

	m, err := f.MapCurrentForWrite()
	require.NoError(t, err)
	p, err := m.Float32s()
	require.NoError(t, err)
	p[idx] = -2
	require.NoError(t, m.Release())

	require.NoError(t, f.SimStep())
	require.NoError(t, f.FinishRms())
	rm, err := f.MapRmsForRead()
	require.NoError(t, err)
	rms, err := rm.Float32s()
	require.NoError(t, err)
	assert.InDelta(t, 2, rms[idx], 1e-6)
	require.NoError(t, rm.Release())

	// finished values stay put until Clear
	var verr *compute.ValidationError
	assert.ErrorAs(t, f.FinishRms(), &verr)
	require.NoError(t, f.SimStep())
	rm, err = f.MapRmsForRead()
	require.NoError(t, err)
	rms, err = rm.Float32s()
	require.NoError(t, err)
	assert.InDelta(t, 2, rms[idx], 1e-6)
	require.NoError(t, rm.Release())

	require.NoError(t, f.Clear())
	require.NoError(t, f.SimStep())
	assert.NoError(t, f.FinishRms())
}

func runImpulse(t *testing.T) []float32 {
	f := newTestField(t, geometry.UVec3{X: 9, Y: 8, Z: 7}, true, HannWindow(12))
	m, err := f.MapCurrentForWrite()
	require.NoError(t, err)
	p, err := m.Float32s()
	require.NoError(t, err)
	p[f.Size().Index(geometry.UVec3{X: 4, Y: 4, Z: 3})] = 1
	require.NoError(t, m.Release())
	for i := 0; i < 12; i++ {
		require.NoError(t, f.SimStep())
	}
	require.NoError(t, f.FinishRms())
	rm, err := f.MapRmsForRead()
	require.NoError(t, err)
	rms, err := rm.Float32s()
	require.NoError(t, err)
	return append([]float32(nil), rms...)
}

func TestFinishRmsDeterministic(t *testing.T) {
	a, b := runImpulse(t), runImpulse(t)
	require.Equal(t, len(a), len(b))
	for i := range a {
		require.Equal(t, math.Float32bits(a[i]), math.Float32bits(b[i]), "voxel %d", i)
		require.GreaterOrEqual(t, a[i], float32(0))
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	b := cpu.New(cpu.Config{})
	f := New(b, Config{Size: geometry.UVec3{X: 4, Y: 4, Z: 4}, Materials: []material.Material{material.Air}})
	require.NoError(t, f.Prepare(true))
	_, err := f.MapCurrentForRead()
	require.NoError(t, err)
	f.Close()
	f.Close()
	assert.Zero(t, b.Allocated())
	assert.Error(t, f.SimStep())
}

func TestWindows(t *testing.T) {
	assert.Equal(t, []float32{1, 1, 1}, RectWindow(3))
	h := HannWindow(5)
	assert.InDelta(t, 0, h[0], 1e-7)
	assert.InDelta(t, 1, h[2], 1e-7)
	assert.InDelta(t, 0, h[4], 1e-7)
	hm := HammingWindow(5)
	assert.InDelta(t, 0.08, hm[0], 1e-6)
	assert.Equal(t, []float32{1}, HannWindow(1))
}
