// Package geometry holds the grid vector types and the object placement transform.
package geometry

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Vec3 is a real valued triple. Rotations use it for Euler angles in radians.
type Vec3 struct {
	X, Y, Z float64
}

// UVec3 is a grid position or extent in voxels
type UVec3 struct {
	X, Y, Z uint32
}

// Count returns the number of voxels spanned by the extent
func (v UVec3) Count() int { return int(v.X) * int(v.Y) * int(v.Z) }

// Index returns the linear grid index of p inside a grid of extent v
func (v UVec3) Index(p UVec3) int {
	return int(p.Z)*int(v.X)*int(v.Y) + int(p.Y)*int(v.X) + int(p.X)
}

// UVec2 is a planar extent in voxels
type UVec2 struct {
	X, Y uint32
}

// RotationMatrix returns Rz(rot.Z) * Ry(rot.Y) * Rx(rot.X)
func RotationMatrix(rot Vec3) *mat.Dense {
	sx, cx := math.Sincos(rot.X)
	sy, cy := math.Sincos(rot.Y)
	sz, cz := math.Sincos(rot.Z)
	rx := mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, cx, -sx,
		0, sx, cx,
	})
	ry := mat.NewDense(3, 3, []float64{
		cy, 0, sy,
		0, 1, 0,
		-sy, 0, cy,
	})
	rz := mat.NewDense(3, 3, []float64{
		cz, -sz, 0,
		sz, cz, 0,
		0, 0, 1,
	})
	var zy, r mat.Dense
	zy.Mul(rz, ry)
	r.Mul(&zy, rx)
	return &r
}

// Transform places an object's local frame in the grid
type Transform struct {
	Rotation *mat.Dense
	Position UVec3
}

func NewTransform(pos UVec3, rot Vec3) Transform {
	return Transform{Rotation: RotationMatrix(rot), Position: pos}
}

// Apply maps a local point (u, v, w) to grid coordinates
func (t Transform) Apply(u, v, w float64) (x, y, z float64) {
	local := mat.NewVecDense(3, []float64{u, v, w})
	var out mat.VecDense
	out.MulVec(t.Rotation, local)
	return out.AtVec(0) + float64(t.Position.X),
		out.AtVec(1) + float64(t.Position.Y),
		out.AtVec(2) + float64(t.Position.Z)
}

// Pack returns the kernel layout of the transform: the rotation in
// row-major order (a11..a33) followed by the position.
func (t Transform) Pack() [12]float32 {
	var p [12]float32
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			p[i*3+j] = float32(t.Rotation.At(i, j))
		}
	}
	p[9] = float32(t.Position.X)
	p[10] = float32(t.Position.Y)
	p[11] = float32(t.Position.Z)
	return p
}

// Clamp truncates a grid coordinate into [0, limit-1]
func Clamp(v float64, limit uint32) uint32 {
	if !(v > 0) || limit == 0 {
		return 0
	}
	if v >= float64(limit-1) {
		return limit - 1
	}
	return uint32(v)
}
