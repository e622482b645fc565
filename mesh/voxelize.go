package mesh

import (
	"sort"

	"github.com/notargets/FAS/geometry"
	"gonum.org/v1/gonum/spatial/r3"
)

// Voxelize fills the interior of a closed mesh into a voxel map laid out x
// fastest, then y, then z. Voxel (i, j, k) covers the cube of edge scale
// starting at origin + scale*(i, j, k); it is inside when its centre is.
// Each x line is classified by the parity of its crossings with the surface.
func (m *Mesh) Voxelize(size geometry.UVec3, origin r3.Vec, scale float64, id uint8) []byte {
	out := make([]byte, size.Count())
	if scale <= 0 || id == 0 {
		return out
	}
	sx, sy := int(size.X), int(size.Y)
	// the offsets keep sample lines off shared triangle edges
	eu, ev := 1.17e-7*scale, 2.31e-7*scale
	var hits []float64
	for k := 0; k < int(size.Z); k++ {
		pz := origin.Z + (float64(k)+0.5)*scale + ev
		for j := 0; j < sy; j++ {
			py := origin.Y + (float64(j)+0.5)*scale + eu
			hits = hits[:0]
			for _, t := range m.Triangles {
				if x, ok := crossX(t, py, pz); ok {
					hits = append(hits, x)
				}
			}
			if len(hits) < 2 {
				continue
			}
			sort.Float64s(hits)
			line := out[(k*sy+j)*sx : (k*sy+j+1)*sx]
			for h := 0; h+1 < len(hits); h += 2 {
				fill(line, hits[h], hits[h+1], origin.X, scale, id)
			}
		}
	}
	return out
}

// crossX intersects the line {y = py, z = pz} with a triangle and returns
// the x coordinate of the crossing
func crossX(t Triangle, py, pz float64) (float64, bool) {
	v0, v1, v2 := t.V[0], t.V[1], t.V[2]
	e1u, e1v := v1.Y-v0.Y, v1.Z-v0.Z
	e2u, e2v := v2.Y-v0.Y, v2.Z-v0.Z
	det := e1u*e2v - e2u*e1v
	if det == 0 {
		return 0, false
	}
	du, dv := py-v0.Y, pz-v0.Z
	l1 := (du*e2v - e2u*dv) / det
	l2 := (e1u*dv - du*e1v) / det
	l0 := 1 - l1 - l2
	if l0 < 0 || l1 < 0 || l2 < 0 {
		return 0, false
	}
	return l0*v0.X + l1*v1.X + l2*v2.X, true
}

func fill(line []byte, x0, x1, originX, scale float64, id uint8) {
	for i := range line {
		cx := originX + (float64(i)+0.5)*scale
		if cx >= x0 && cx < x1 {
			line[i] = id
		}
	}
}

// Box returns the closed, outward wound mesh of an axis aligned box
func Box(lo, hi r3.Vec) *Mesh {
	c := [8]r3.Vec{
		{X: lo.X, Y: lo.Y, Z: lo.Z}, {X: hi.X, Y: lo.Y, Z: lo.Z},
		{X: hi.X, Y: hi.Y, Z: lo.Z}, {X: lo.X, Y: hi.Y, Z: lo.Z},
		{X: lo.X, Y: lo.Y, Z: hi.Z}, {X: hi.X, Y: lo.Y, Z: hi.Z},
		{X: hi.X, Y: hi.Y, Z: hi.Z}, {X: lo.X, Y: hi.Y, Z: hi.Z},
	}
	quads := [6][4]int{
		{0, 3, 2, 1}, {4, 5, 6, 7}, // -z, +z
		{0, 1, 5, 4}, {3, 7, 6, 2}, // -y, +y
		{0, 4, 7, 3}, {1, 2, 6, 5}, // -x, +x
	}
	m := &Mesh{Header: "box"}
	for _, q := range quads {
		for _, tri := range [2][3]int{{q[0], q[1], q[2]}, {q[0], q[2], q[3]}} {
			v := [3]r3.Vec{c[tri[0]], c[tri[1]], c[tri[2]]}
			m.Triangles = append(m.Triangles, Triangle{Normal: faceNormal(v), V: v})
		}
	}
	return m
}
