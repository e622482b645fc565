// Package object paints geometric primitives and voxel maps into the
// material grid of a prepared field.
package object

import (
	"github.com/notargets/FAS/compute"
	"github.com/notargets/FAS/field"
	"github.com/notargets/FAS/geometry"
)

// CreateRect paints a planar rectangle anchored at pos, spanning size in the
// local u-v plane.
func CreateRect(f *field.Field, pos geometry.UVec3, rot geometry.Vec3, size geometry.UVec2, id uint8) error {
	return rasterize(f, compute.KernelRasterizeRect,
		compute.Range{2 * int(size.X), 2 * int(size.Y)}, geometry.NewTransform(pos, rot), id)
}

// CreateBox paints a solid box anchored at pos
func CreateBox(f *field.Field, pos geometry.UVec3, rot geometry.Vec3, size geometry.UVec3, id uint8) error {
	return rasterize(f, compute.KernelRasterizeBox,
		compute.Range{2 * int(size.X), 2 * int(size.Y), 2 * int(size.Z)}, geometry.NewTransform(pos, rot), id)
}

// CreateEllipse paints a planar ellipse centred on pos with the given semi-axes
func CreateEllipse(f *field.Field, pos geometry.UVec3, rot geometry.Vec3, size geometry.UVec2, id uint8) error {
	return rasterize(f, compute.KernelRasterizeEllipse,
		compute.Range{4 * int(size.X), 4 * int(size.Y)}, geometry.NewTransform(pos, rot), id)
}

// CreateEllipsoid paints a solid ellipsoid centred on pos with the given semi-axes
func CreateEllipsoid(f *field.Field, pos geometry.UVec3, rot geometry.Vec3, size geometry.UVec3, id uint8) error {
	return rasterize(f, compute.KernelRasterizeEllipsoid,
		compute.Range{4 * int(size.X), 4 * int(size.Y), 4 * int(size.Z)}, geometry.NewTransform(pos, rot), id)
}

// CreateCylinder paints an elliptic cylinder whose base is centred on pos.
// size.X and size.Y are the semi-axes of the base, size.Z the height along
// the local w axis.
func CreateCylinder(f *field.Field, pos geometry.UVec3, rot geometry.Vec3, size geometry.UVec3, id uint8) error {
	return rasterize(f, compute.KernelRasterizeCylinder,
		compute.Range{4 * int(size.X), 4 * int(size.Y)}, geometry.NewTransform(pos, rot), id, 2*size.Z)
}

func rasterize(f *field.Field, kernel string, global compute.Range, t geometry.Transform, id uint8, extra ...interface{}) error {
	if err := f.Check(); err != nil {
		return err
	}
	if err := f.UnmapMaterial(); err != nil {
		return err
	}
	if global.Total() == 0 {
		return nil
	}
	q := f.Queue()
	packed := t.Pack()
	transform, err := f.Backend().Alloc(compute.Float32, len(packed))
	if err != nil {
		return f.Fail(err)
	}
	defer transform.Release()
	if err = compute.Upload(q, transform, compute.Bytes(packed[:])); err != nil {
		return f.Fail(err)
	}

	size := f.Size()
	args := []interface{}{f.MaterialBuffer(), transform, size.X, size.Y, size.Z, id}
	if err = q.Enqueue(kernel, global, append(args, extra...)...); err != nil {
		return f.Fail(err)
	}
	return f.Fail(q.Barrier())
}
