package mesh

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/notargets/FAS/compute"
	"github.com/notargets/FAS/geometry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestSTLRoundTrip(t *testing.T) {
	box := Box(r3.Vec{X: 1, Y: 2, Z: 3}, r3.Vec{X: 4, Y: 6, Z: 8})
	var buf bytes.Buffer
	require.NoError(t, WriteSTL(&buf, box))
	assert.Equal(t, 80+4+12*50, buf.Len())

	m, err := ReadSTL(&buf)
	require.NoError(t, err)
	assert.Equal(t, "box", m.Header)
	require.Len(t, m.Triangles, 12)
	assert.InDelta(t, -1, m.Triangles[0].Normal.Z, 1e-12)
	for _, tri := range m.Triangles {
		assert.InDelta(t, 1, r3.Norm(tri.Normal), 1e-9)
	}

	lo, hi := m.Bounds()
	assert.Equal(t, r3.Vec{X: 1, Y: 2, Z: 3}, lo)
	assert.Equal(t, r3.Vec{X: 4, Y: 6, Z: 8}, hi)
}

func TestReadSTLTruncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSTL(&buf, Box(r3.Vec{}, r3.Vec{X: 1, Y: 1, Z: 1})))
	short := buf.Bytes()[:80+4+5*50+10]
	_, err := ReadSTL(bytes.NewReader(short))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestLoadSTLMissing(t *testing.T) {
	_, err := LoadSTL(filepath.Join(t.TempDir(), "none.stl"))
	var ferr *compute.FileIOError
	assert.True(t, errors.As(err, &ferr))
}

func TestVoxelizeBox(t *testing.T) {
	m := Box(r3.Vec{X: 1, Y: 1, Z: 1}, r3.Vec{X: 5, Y: 5, Z: 5})
	size := geometry.UVec3{X: 8, Y: 8, Z: 8}
	vox := m.Voxelize(size, r3.Vec{}, 1, 3)
	require.Len(t, vox, 512)
	assert.Equal(t, 64, bytes.Count(vox, []byte{3}))
	assert.Equal(t, byte(3), vox[size.Index(geometry.UVec3{X: 1, Y: 1, Z: 1})])
	assert.Equal(t, byte(3), vox[size.Index(geometry.UVec3{X: 4, Y: 4, Z: 4})])
	assert.Zero(t, vox[size.Index(geometry.UVec3{X: 5, Y: 4, Z: 4})])
	assert.Zero(t, vox[size.Index(geometry.UVec3{})])
}

func TestVoxelizeScaledOrigin(t *testing.T) {
	// a 2mm cube sampled at 0.5mm from an origin of -1mm
	m := Box(r3.Vec{}, r3.Vec{X: 2e-3, Y: 2e-3, Z: 2e-3})
	size := geometry.UVec3{X: 8, Y: 8, Z: 8}
	vox := m.Voxelize(size, r3.Vec{X: -1e-3, Y: -1e-3, Z: -1e-3}, 0.5e-3, 1)
	assert.Equal(t, 4*4*4, bytes.Count(vox, []byte{1}))
	assert.Equal(t, byte(1), vox[size.Index(geometry.UVec3{X: 2, Y: 2, Z: 2})])
	assert.Zero(t, vox[size.Index(geometry.UVec3{X: 1, Y: 2, Z: 2})])
}
