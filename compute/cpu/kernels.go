package cpu

import (
	"fmt"
	"math"

	"github.com/notargets/FAS/compute"
)

type kernelFunc func(global compute.Range, a *arguments) error

func (b *Backend) kernelTable() map[string]kernelFunc {
	return map[string]kernelFunc{
		compute.KernelClear:               b.clearField,
		compute.KernelStencilStep:         b.stencilStep,
		compute.KernelRmsAccumulate:       b.rmsAccumulate,
		compute.KernelRmsFinalize:         b.rmsFinalize,
		compute.KernelRasterizeRect:       rasterizeRect,
		compute.KernelRasterizeBox:        rasterizeBox,
		compute.KernelRasterizeEllipse:    rasterizeEllipse,
		compute.KernelRasterizeEllipsoid:  rasterizeEllipsoid,
		compute.KernelRasterizeCylinder:   rasterizeCylinder,
		compute.KernelCountTaggedPerLine:  b.countTaggedPerLine,
		compute.KernelHorizontalPrefixSum: b.horizontalPrefixSum,
		compute.KernelVerticalPrefixSum:   b.verticalPrefixSum,
		compute.KernelCollectTagged:       b.collectTagged,
		compute.KernelClearTagBits:        b.clearTagBits,
		compute.KernelDriveWrite:          b.driveWrite,
		compute.KernelScanGather:          b.scanGather,
	}
}

// dims pads a range to three dimensions
func dims(global compute.Range) (nx, ny, nz int) {
	nx, ny, nz = 1, 1, 1
	if len(global) > 0 {
		nx = global[0]
	}
	if len(global) > 1 {
		ny = global[1]
	}
	if len(global) > 2 {
		nz = global[2]
	}
	return
}

// need fails when any slice length is below n
func need(n int, lens ...int) error {
	for i, l := range lens {
		if l < n {
			return fmt.Errorf("buffer %d holds %d elements, kernel needs %d", i, l, n)
		}
	}
	return nil
}

func (b *Backend) clearField(global compute.Range, a *arguments) error {
	p0, p1, mat := a.float32s(0), a.float32s(1), a.bytes(2)
	var rms []float32
	if a.u32(4) != 0 {
		rms = compute.Float32s(a.optionalBuffer(3, compute.Float32))
	}
	if a.err != nil {
		return a.err
	}
	n := global.Total()
	if err := need(n, len(p0), len(p1), len(mat)); err != nil {
		return err
	}
	if rms != nil {
		if err := need(n, len(rms)); err != nil {
			return err
		}
	}
	return b.parallelFor(n, func(lo, hi int) {
		clear(p0[lo:hi])
		clear(p1[lo:hi])
		clear(mat[lo:hi])
		if rms != nil {
			clear(rms[lo:hi])
		}
	})
}

// couple is the pressure exchange with one neighbour, weighted by the
// impedance contrast across the shared face
func couple(rc, rn, pn, p float32) float32 {
	s := rc + rn
	if s <= 0 {
		return 0
	}
	return 2 * rc / s * (pn - p)
}

func (b *Backend) stencilStep(global compute.Range, a *arguments) error {
	curr, prev, mat := a.float32s(0), a.float32s(1), a.bytes(2)
	r, c := a.float32s(3), a.float32s(4)
	sz := int(a.u32(5))
	dx, dt := a.f32(6), a.f32(7)
	if a.err != nil {
		return a.err
	}
	sx, sy, _ := dims(global)
	sxy := sx * sy
	if err := need(sxy*sz, len(curr), len(prev), len(mat)); err != nil {
		return err
	}
	if err := need(compute.MaterialSlots, len(r), len(c)); err != nil {
		return err
	}
	ratio := dt / dx
	return b.parallelFor(sy*sz, func(lo, hi int) {
		for row := lo; row < hi; row++ {
			z, y := row/sy, row%sy
			base := z*sxy + y*sx
			for x := 0; x < sx; x++ {
				idx := base + x
				m := mat[idx]
				cc := c[m]
				if cc == 0 {
					prev[idx] = 0
					continue
				}
				rc, p := r[m], curr[idx]
				var lap float32
				if x > 0 {
					lap += couple(rc, r[mat[idx-1]], curr[idx-1], p)
				}
				if x+1 < sx {
					lap += couple(rc, r[mat[idx+1]], curr[idx+1], p)
				}
				if y > 0 {
					lap += couple(rc, r[mat[idx-sx]], curr[idx-sx], p)
				}
				if y+1 < sy {
					lap += couple(rc, r[mat[idx+sx]], curr[idx+sx], p)
				}
				if z > 0 {
					lap += couple(rc, r[mat[idx-sxy]], curr[idx-sxy], p)
				}
				if z+1 < sz {
					lap += couple(rc, r[mat[idx+sxy]], curr[idx+sxy], p)
				}
				k := cc * ratio
				prev[idx] = 2*p - prev[idx] + k*k*lap
			}
		}
	})
}

func (b *Backend) rmsAccumulate(global compute.Range, a *arguments) error {
	curr, rms, w := a.float32s(0), a.float32s(1), a.f32(2)
	if a.err != nil {
		return a.err
	}
	n := global.Total()
	if err := need(n, len(curr), len(rms)); err != nil {
		return err
	}
	return b.parallelFor(n, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			rms[i] += w * curr[i] * curr[i]
		}
	})
}

func (b *Backend) rmsFinalize(global compute.Range, a *arguments) error {
	rms, invSteps, invSqrtNnpg := a.float32s(0), a.f32(1), a.f32(2)
	if a.err != nil {
		return a.err
	}
	n := global.Total()
	if err := need(n, len(rms)); err != nil {
		return err
	}
	return b.parallelFor(n, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			rms[i] = float32(math.Sqrt(float64(rms[i]*invSteps))) * invSqrtNnpg
		}
	})
}

// raster paints transformed sample points into the material grid. Rotated
// samples from different rows can land on the same voxel, so rasterisation
// runs on a single goroutine.
type raster struct {
	mat        []byte
	t          []float32
	sx, sy, sz int
	id         uint8
}

func newRaster(a *arguments) (*raster, error) {
	r := &raster{
		mat: a.bytes(0),
		t:   a.float32s(1),
		sx:  int(a.u32(2)),
		sy:  int(a.u32(3)),
		sz:  int(a.u32(4)),
		id:  a.u8(5),
	}
	if a.err != nil {
		return nil, a.err
	}
	if len(r.t) < 12 {
		return nil, fmt.Errorf("transform holds %d values, need 12", len(r.t))
	}
	if err := need(r.sx*r.sy*r.sz, len(r.mat)); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *raster) paint(u, v, w float32) {
	t := r.t
	x := t[0]*u + t[1]*v + t[2]*w + t[9]
	y := t[3]*u + t[4]*v + t[5]*w + t[10]
	z := t[6]*u + t[7]*v + t[8]*w + t[11]
	if !(x >= 0 && y >= 0 && z >= 0) {
		return
	}
	if x >= float32(r.sx) || y >= float32(r.sy) || z >= float32(r.sz) {
		return
	}
	r.mat[int(z)*r.sx*r.sy+int(y)*r.sx+int(x)] = r.id
}

func rasterizeRect(global compute.Range, a *arguments) error {
	r, err := newRaster(a)
	if err != nil {
		return err
	}
	nx, ny, _ := dims(global)
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			r.paint(float32(i)*0.5, float32(j)*0.5, 0)
		}
	}
	return nil
}

func rasterizeBox(global compute.Range, a *arguments) error {
	r, err := newRaster(a)
	if err != nil {
		return err
	}
	nx, ny, nz := dims(global)
	for k := 0; k < nz; k++ {
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				r.paint(float32(i)*0.5, float32(j)*0.5, float32(k)*0.5)
			}
		}
	}
	return nil
}

func rasterizeEllipse(global compute.Range, a *arguments) error {
	r, err := newRaster(a)
	if err != nil {
		return err
	}
	nx, ny, _ := dims(global)
	ra, rb := float32(nx)/4, float32(ny)/4
	for j := 0; j < ny; j++ {
		v := float32(j)*0.5 - rb
		for i := 0; i < nx; i++ {
			u := float32(i)*0.5 - ra
			if (u/ra)*(u/ra)+(v/rb)*(v/rb) <= 1 {
				r.paint(u, v, 0)
			}
		}
	}
	return nil
}

func rasterizeEllipsoid(global compute.Range, a *arguments) error {
	r, err := newRaster(a)
	if err != nil {
		return err
	}
	nx, ny, nz := dims(global)
	ra, rb, rc := float32(nx)/4, float32(ny)/4, float32(nz)/4
	for k := 0; k < nz; k++ {
		w := float32(k)*0.5 - rc
		for j := 0; j < ny; j++ {
			v := float32(j)*0.5 - rb
			for i := 0; i < nx; i++ {
				u := float32(i)*0.5 - ra
				if (u/ra)*(u/ra)+(v/rb)*(v/rb)+(w/rc)*(w/rc) <= 1 {
					r.paint(u, v, w)
				}
			}
		}
	}
	return nil
}

func rasterizeCylinder(global compute.Range, a *arguments) error {
	r, err := newRaster(a)
	if err != nil {
		return err
	}
	height2 := int(a.u32(6))
	if a.err != nil {
		return a.err
	}
	nx, ny, _ := dims(global)
	ra, rb := float32(nx)/4, float32(ny)/4
	for j := 0; j < ny; j++ {
		v := float32(j)*0.5 - rb
		for i := 0; i < nx; i++ {
			u := float32(i)*0.5 - ra
			if (u/ra)*(u/ra)+(v/rb)*(v/rb) > 1 {
				continue
			}
			for k := 0; k < height2; k++ {
				r.paint(u, v, float32(k)*0.5)
			}
		}
	}
	return nil
}

func (b *Backend) countTaggedPerLine(global compute.Range, a *arguments) error {
	mat, count, sx := a.bytes(0), a.uint32s(1), int(a.u32(2))
	if a.err != nil {
		return a.err
	}
	sy, sz, _ := dims(global)
	if err := need(sy*sz, len(count)); err != nil {
		return err
	}
	if err := need(sx*sy*sz, len(mat)); err != nil {
		return err
	}
	return b.parallelFor(sy*sz, func(lo, hi int) {
		for line := lo; line < hi; line++ {
			var n uint32
			for _, m := range mat[line*sx : (line+1)*sx] {
				if m&compute.TagBit != 0 {
					n++
				}
			}
			count[line] = n
		}
	})
}

func (b *Backend) horizontalPrefixSum(global compute.Range, a *arguments) error {
	count, psum, rowTotal, sy := a.uint32s(0), a.uint64s(1), a.uint64s(2), int(a.u32(3))
	if a.err != nil {
		return a.err
	}
	sz := global.Total()
	if err := need(sy*sz, len(count), len(psum)); err != nil {
		return err
	}
	if err := need(sz, len(rowTotal)); err != nil {
		return err
	}
	return b.parallelFor(sz, func(lo, hi int) {
		for z := lo; z < hi; z++ {
			var acc uint64
			for y := 0; y < sy; y++ {
				psum[z*sy+y] = acc
				acc += uint64(count[z*sy+y])
			}
			rowTotal[z] = acc
		}
	})
}

func (b *Backend) verticalPrefixSum(global compute.Range, a *arguments) error {
	psum, rowOffset := a.uint64s(0), a.uint64s(1)
	sy, sz := int(a.u32(2)), int(a.u32(3))
	if a.err != nil {
		return a.err
	}
	if err := need(sy*sz, len(psum)); err != nil {
		return err
	}
	if err := need(sz, len(rowOffset)); err != nil {
		return err
	}
	return b.parallelFor(global.Total(), func(lo, hi int) {
		for y := lo; y < hi; y++ {
			for z := 1; z < sz; z++ {
				psum[z*sy+y] += rowOffset[z-1]
			}
		}
	})
}

func (b *Backend) collectTagged(global compute.Range, a *arguments) error {
	mat, psum, coords := a.bytes(0), a.uint64s(1), a.uint32s(2)
	sx, n := int(a.u32(3)), a.u64(4)
	if a.err != nil {
		return a.err
	}
	sy, sz, _ := dims(global)
	if err := need(sy*sz, len(psum)); err != nil {
		return err
	}
	if err := need(sx*sy*sz, len(mat)); err != nil {
		return err
	}
	if err := need(int(3*n), len(coords)); err != nil {
		return err
	}
	return b.parallelFor(sy*sz, func(lo, hi int) {
		for line := lo; line < hi; line++ {
			y, z := line%sy, line/sy
			off := psum[line]
			for x, m := range mat[line*sx : (line+1)*sx] {
				if m&compute.TagBit == 0 || off >= n {
					continue
				}
				coords[off] = uint32(x)
				coords[off+n] = uint32(y)
				coords[off+2*n] = uint32(z)
				off++
			}
		}
	})
}

func (b *Backend) clearTagBits(global compute.Range, a *arguments) error {
	mat := a.bytes(0)
	if a.err != nil {
		return a.err
	}
	n := global.Total()
	if err := need(n, len(mat)); err != nil {
		return err
	}
	return b.parallelFor(n, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			mat[i] &^= compute.TagBit
		}
	})
}

// gridIndex maps an SoA coordinate to a linear grid index, -1 when outside
func gridIndex(coords []uint32, i int, n, sx, sy, total int) int {
	idx := int(coords[i+2*n])*sx*sy + int(coords[i+n])*sx + int(coords[i])
	if idx >= total {
		return -1
	}
	return idx
}

func (b *Backend) driveWrite(global compute.Range, a *arguments) error {
	p, signal, coords := a.float32s(0), a.f32(1), a.uint32s(2)
	n, sx, sy := int(a.u64(3)), int(a.u32(4)), int(a.u32(5))
	if a.err != nil {
		return a.err
	}
	if err := need(3*n, len(coords)); err != nil {
		return err
	}
	return b.parallelFor(min(global.Total(), n), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			if idx := gridIndex(coords, i, n, sx, sy, len(p)); idx >= 0 {
				p[idx] = signal
			}
		}
	})
}

func (b *Backend) scanGather(global compute.Range, a *arguments) error {
	p, coords, out := a.float32s(0), a.uint32s(1), a.float32s(2)
	n, sx, sy := int(a.u64(3)), int(a.u32(4)), int(a.u32(5))
	if a.err != nil {
		return a.err
	}
	if err := need(3*n, len(coords)); err != nil {
		return err
	}
	if err := need(n, len(out)); err != nil {
		return err
	}
	return b.parallelFor(min(global.Total(), n), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			if idx := gridIndex(coords, i, n, sx, sy, len(p)); idx >= 0 {
				out[i] = p[idx]
			}
		}
	})
}
