// Package transducer extracts tagged voxels into element sets, drives
// pressure values onto them and samples the field on scanner planes.
package transducer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/notargets/FAS/compute"
	"github.com/notargets/FAS/field"
	"github.com/notargets/FAS/geometry"
)

// ElementSet is the list of voxel coordinates collected from tagged
// material, stored on the device as three planes: x[n], y[n], z[n].
type ElementSet struct {
	field  *field.Field
	coords compute.Buffer
	count  int
}

// Count returns the number of elements
func (s *ElementSet) Count() int { return s.count }

// Buffer returns the SoA coordinate buffer, nil for an empty set
func (s *ElementSet) Buffer() compute.Buffer { return s.coords }

// Release frees the coordinate buffer
func (s *ElementSet) Release() {
	if s.coords != nil {
		s.coords.Release()
		s.coords = nil
	}
}

// Coords downloads the element coordinates
func (s *ElementSet) Coords() ([]geometry.UVec3, error) {
	raw, err := s.planes()
	if err != nil {
		return nil, err
	}
	n := s.count
	out := make([]geometry.UVec3, n)
	for i := range out {
		out[i] = geometry.UVec3{X: raw[i], Y: raw[i+n], Z: raw[i+2*n]}
	}
	return out, nil
}

func (s *ElementSet) planes() ([]uint32, error) {
	if s.count == 0 {
		return nil, nil
	}
	if s.coords == nil {
		return nil, &compute.ValidationError{Subject: "element set", Reason: "released"}
	}
	raw := make([]uint32, 3*s.count)
	if err := compute.Download(s.field.Queue(), s.coords, compute.Bytes(raw)); err != nil {
		return nil, s.field.Fail(err)
	}
	return raw, nil
}

// WriteTo stores the set as a uint64 element count followed by the x, y and
// z planes as uint32 values in host byte order.
func (s *ElementSet) WriteTo(w io.Writer) (int64, error) {
	raw, err := s.planes()
	if err != nil {
		return 0, err
	}
	if err = binary.Write(w, binary.NativeEndian, uint64(s.count)); err != nil {
		return 0, err
	}
	n, err := w.Write(compute.Bytes(raw))
	return int64(8 + n), err
}

// readChunk is the most plane values read, and allocated, at once
const readChunk = 1 << 14

// ReadElements parses a stream written by ElementSet.WriteTo. A stream
// shorter than its count announces fails with io.ErrUnexpectedEOF.
func ReadElements(r io.Reader) ([]geometry.UVec3, error) {
	var count uint64
	if err := binary.Read(r, binary.NativeEndian, &count); err != nil {
		return nil, fmt.Errorf("reading element count: %w", err)
	}
	var planes [3][]uint32
	for p := range planes {
		for remaining := count; remaining > 0; {
			n := min(remaining, readChunk)
			chunk := make([]uint32, n)
			if err := binary.Read(r, binary.NativeEndian, chunk); err != nil {
				if errors.Is(err, io.EOF) {
					err = io.ErrUnexpectedEOF
				}
				return nil, fmt.Errorf("reading plane %d of %d elements: %w", p, count, err)
			}
			planes[p] = append(planes[p], chunk...)
			remaining -= n
		}
	}
	out := make([]geometry.UVec3, count)
	for i := range out {
		out[i] = geometry.UVec3{X: planes[0][i], Y: planes[1][i], Z: planes[2][i]}
	}
	return out, nil
}

// Collect gathers every voxel whose material id carries the tag bit into a
// new element set, ordered by z, then y, then x, and clears the tag bits.
// If it fails before the final pass the tags stay set.
func Collect(f *field.Field) (*ElementSet, error) {
	if err := f.Check(); err != nil {
		return nil, err
	}
	if err := f.UnmapMaterial(); err != nil {
		return nil, err
	}
	b, q, size := f.Backend(), f.Queue(), f.Size()
	sx, sy, sz := int(size.X), int(size.Y), int(size.Z)
	mat := f.MaterialBuffer()

	count, err := b.Alloc(compute.Uint32, sy*sz)
	if err != nil {
		return nil, f.Fail(err)
	}
	defer count.Release()
	psum, err := b.Alloc(compute.Uint64, sy*sz)
	if err != nil {
		return nil, f.Fail(err)
	}
	defer psum.Release()
	rowTotal, err := b.Alloc(compute.Uint64, sz)
	if err != nil {
		return nil, f.Fail(err)
	}
	defer rowTotal.Release()

	run := func(kernel string, global compute.Range, args ...interface{}) error {
		if err := q.Enqueue(kernel, global, args...); err != nil {
			return f.Fail(err)
		}
		return f.Fail(q.Barrier())
	}

	// per line counts, then an exclusive prefix within each z plane
	if err = run(compute.KernelCountTaggedPerLine, compute.Range{sy, sz}, mat, count, size.X); err != nil {
		return nil, err
	}
	if err = run(compute.KernelHorizontalPrefixSum, compute.Range{sz}, count, psum, rowTotal, size.Y); err != nil {
		return nil, err
	}

	// plane totals become running offsets on the host
	region, err := q.Map(rowTotal, compute.MapRead|compute.MapWrite)
	if err != nil {
		return nil, f.Fail(err)
	}
	rows := compute.Uint64s(region)
	for z := 1; z < sz; z++ {
		rows[z] += rows[z-1]
	}
	total := rows[sz-1]
	if err = q.Unmap(rowTotal, region, compute.MapRead|compute.MapWrite); err == nil {
		err = q.Barrier()
	}
	if err != nil {
		return nil, f.Fail(err)
	}

	set := &ElementSet{field: f, count: int(total)}
	if total == 0 {
		return set, nil
	}
	if err = run(compute.KernelVerticalPrefixSum, compute.Range{sy}, psum, rowTotal, size.Y, size.Z); err != nil {
		return nil, err
	}
	if set.coords, err = b.Alloc(compute.Uint32, 3*int(total)); err != nil {
		return nil, f.Fail(err)
	}
	if err = run(compute.KernelCollectTagged, compute.Range{sy, sz}, mat, psum, set.coords, size.X, total); err != nil {
		set.Release()
		return nil, err
	}
	if err = run(compute.KernelClearTagBits, compute.Range{sx, sy, sz}, mat); err == nil {
		err = f.Fail(q.Finish())
	}
	if err != nil {
		set.Release()
		return nil, err
	}
	f.Logger().Debug("collected transducer elements", f.Logger().Args("count", total))
	return set, nil
}
