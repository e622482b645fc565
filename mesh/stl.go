// Package mesh reads binary STL meshes and voxelises them into material maps.
package mesh

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/notargets/FAS/compute"
	"gonum.org/v1/gonum/spatial/r3"
)

type Triangle struct {
	Normal r3.Vec
	V      [3]r3.Vec
}

type Mesh struct {
	Header    string
	Triangles []Triangle
}

// stlTriangle is the 50 byte on-disk record
type stlTriangle struct {
	Normal    [3]float32
	Vertices  [9]float32
	Attribute uint16
}

// LoadSTL reads a binary STL file
func LoadSTL(path string) (*Mesh, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, &compute.FileIOError{Path: path, Frame: -1, Err: err}
	}
	defer file.Close()
	m, err := ReadSTL(file)
	if err != nil {
		return nil, &compute.FileIOError{Path: path, Frame: -1, Err: err}
	}
	return m, nil
}

// ReadSTL parses a binary STL stream: an 80 byte header, a little endian
// uint32 triangle count and one 50 byte record per triangle. Normals are
// recomputed from the vertex winding.
func ReadSTL(r io.Reader) (*Mesh, error) {
	br := bufio.NewReader(r)
	var header [80]byte
	if _, err := io.ReadFull(br, header[:]); err != nil {
		return nil, fmt.Errorf("stl header: %w", eofIsUnexpected(err))
	}
	var count uint32
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("stl triangle count: %w", eofIsUnexpected(err))
	}
	m := &Mesh{Header: trimHeader(header[:])}
	var raw stlTriangle
	for i := uint32(0); i < count; i++ {
		if err := binary.Read(br, binary.LittleEndian, &raw); err != nil {
			return nil, fmt.Errorf("stl triangle %d of %d: %w", i, count, eofIsUnexpected(err))
		}
		var t Triangle
		for v := 0; v < 3; v++ {
			t.V[v] = r3.Vec{
				X: float64(raw.Vertices[3*v]),
				Y: float64(raw.Vertices[3*v+1]),
				Z: float64(raw.Vertices[3*v+2]),
			}
		}
		t.Normal = faceNormal(t.V)
		if t.Normal == (r3.Vec{}) {
			t.Normal = r3.Vec{X: float64(raw.Normal[0]), Y: float64(raw.Normal[1]), Z: float64(raw.Normal[2])}
		}
		m.Triangles = append(m.Triangles, t)
	}
	return m, nil
}

// WriteSTL writes m as a binary STL stream
func WriteSTL(w io.Writer, m *Mesh) error {
	var header [80]byte
	copy(header[:], m.Header)
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(header[:]); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(m.Triangles))); err != nil {
		return err
	}
	for _, t := range m.Triangles {
		raw := stlTriangle{Normal: [3]float32{float32(t.Normal.X), float32(t.Normal.Y), float32(t.Normal.Z)}}
		for v := 0; v < 3; v++ {
			raw.Vertices[3*v] = float32(t.V[v].X)
			raw.Vertices[3*v+1] = float32(t.V[v].Y)
			raw.Vertices[3*v+2] = float32(t.V[v].Z)
		}
		if err := binary.Write(bw, binary.LittleEndian, &raw); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Bounds returns the axis aligned bounding box of the mesh
func (m *Mesh) Bounds() (lo, hi r3.Vec) {
	if len(m.Triangles) == 0 {
		return
	}
	lo, hi = m.Triangles[0].V[0], m.Triangles[0].V[0]
	for _, t := range m.Triangles {
		for _, v := range t.V {
			lo = r3.Vec{X: min(lo.X, v.X), Y: min(lo.Y, v.Y), Z: min(lo.Z, v.Z)}
			hi = r3.Vec{X: max(hi.X, v.X), Y: max(hi.Y, v.Y), Z: max(hi.Z, v.Z)}
		}
	}
	return
}

func faceNormal(v [3]r3.Vec) r3.Vec {
	n := r3.Cross(r3.Sub(v[1], v[0]), r3.Sub(v[2], v[0]))
	if r3.Norm(n) == 0 {
		return r3.Vec{}
	}
	return r3.Unit(n)
}

func eofIsUnexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

func trimHeader(h []byte) string {
	for i, c := range h {
		if c == 0 {
			return string(h[:i])
		}
	}
	return string(h)
}
