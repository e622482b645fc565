// Package field owns the pressure grids, the material grid and the RMS
// accumulator of one simulation and advances them with the stencil kernel.
package field

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/notargets/FAS/compute"
	"github.com/notargets/FAS/geometry"
	"github.com/notargets/FAS/material"
	"github.com/pterm/pterm"
)

const (
	MinSize = 3
	MinDx   = 1e-6
	MinDt   = 1e-9
)

// Config describes a field before it is prepared. Size, Dx and Dt are
// clamped to their minimums by New.
type Config struct {
	Size      geometry.UVec3
	Dx        float32
	Dt        float32
	Materials []material.Material
	RmsWindow []float32
	// Profile blocks after every step and logs its duration at debug level
	Profile bool
	Logger  *pterm.Logger
}

type Field struct {
	backend   compute.Backend
	logger    *pterm.Logger
	size      geometry.UVec3
	dx, dt    float32
	materials []material.Material
	window    []float32
	profile   bool

	prepared bool
	failed   error
	queue    compute.Queue
	pressure [2]compute.Buffer
	matIdx   compute.Buffer
	rms      compute.Buffer
	// rmsDone is set by FinishRms and cleared by Clear
	rmsDone bool
	table   *material.Table
	active  int
	steps   uint64
	maps    [numKinds]*Mapping
}

// New creates an unprepared field on the backend
func New(b compute.Backend, cfg Config) *Field {
	logger := cfg.Logger
	if logger == nil {
		logger = &pterm.DefaultLogger
	}
	size := cfg.Size
	size.X = max(size.X, MinSize)
	size.Y = max(size.Y, MinSize)
	size.Z = max(size.Z, MinSize)
	dx, dt := cfg.Dx, cfg.Dt
	if !(dx >= MinDx) {
		dx = MinDx
	}
	if !(dt >= MinDt) {
		dt = MinDt
	}
	if size != cfg.Size || dx != cfg.Dx || dt != cfg.Dt {
		logger.Debug("field parameters clamped",
			logger.Args("size", fmt.Sprintf("%dx%dx%d", size.X, size.Y, size.Z), "dx", dx, "dt", dt))
	}
	return &Field{
		backend:   b,
		logger:    logger,
		size:      size,
		dx:        dx,
		dt:        dt,
		materials: cfg.Materials,
		window:    cfg.RmsWindow,
		profile:   cfg.Profile,
	}
}

// SetMaterials replaces the material list. It takes effect at Prepare.
func (f *Field) SetMaterials(entries []material.Material) error {
	if f.prepared {
		return &compute.ValidationError{Subject: "materials", Reason: "field already prepared"}
	}
	f.materials = entries
	return nil
}

// SetRmsWindow replaces the per-step RMS weights. Steps beyond the window
// are weighted zero.
func (f *Field) SetRmsWindow(window []float32) { f.window = window }

// Prepare validates the materials, allocates the device buffers, uploads the
// material tables and clears the grids. When withRms is false no RMS buffer
// is allocated and RMS accumulation is skipped.
func (f *Field) Prepare(withRms bool) error {
	if f.failed != nil {
		return f.failed
	}
	if f.prepared {
		return &compute.ValidationError{Subject: "field", Reason: "already prepared"}
	}
	if err := material.Validate(f.materials); err != nil {
		return err
	}
	f.checkStability()

	q, err := f.backend.NewQueue()
	if err != nil {
		return f.fail(asBackendError("create queue", err))
	}
	f.queue = q
	n := f.size.Count()
	for i := range f.pressure {
		if f.pressure[i], err = f.backend.Alloc(compute.Float32, n); err != nil {
			return f.fail(err)
		}
	}
	if f.matIdx, err = f.backend.Alloc(compute.Uint8, n); err != nil {
		return f.fail(err)
	}
	if withRms {
		if f.rms, err = f.backend.Alloc(compute.Float32, n); err != nil {
			return f.fail(err)
		}
	}
	table, result, err := material.Upload(f.backend, f.queue, f.materials, f.logger)
	if err != nil {
		return f.fail(err)
	}
	f.table = table
	f.prepared = true
	if err = f.Clear(); err != nil {
		return err
	}
	f.logger.Info("field prepared", f.logger.Args(
		"backend", f.backend.Name(),
		"size", fmt.Sprintf("%dx%dx%d", f.size.X, f.size.Y, f.size.Z),
		"materials", result.Uploaded,
		"rms", withRms,
	))
	return nil
}

// checkStability warns when the fastest material breaks the 3-D CFL limit
func (f *Field) checkStability() {
	var cmax float32
	for _, m := range f.materials {
		cmax = max(cmax, m.SpeedOfSound)
	}
	courant := float64(cmax * f.dt / f.dx)
	if courant > 1/math.Sqrt(3) {
		f.logger.Warn("time step exceeds the stability limit",
			f.logger.Args("courant", courant, "limit", 1/math.Sqrt(3)))
	}
}

// Clear zeroes both pressure grids, the material grid and the RMS buffer
// and resets the step counter.
func (f *Field) Clear() error {
	if err := f.Check(); err != nil {
		return err
	}
	if err := f.releaseMappings(); err != nil {
		return err
	}
	var rms interface{}
	hasRms := uint32(0)
	if f.rms != nil {
		rms, hasRms = f.rms, 1
	}
	err := f.queue.Enqueue(compute.KernelClear, f.grid(),
		f.pressure[0], f.pressure[1], f.matIdx, rms, hasRms)
	if err == nil {
		err = f.queue.Barrier()
	}
	if err != nil {
		return f.fail(err)
	}
	f.active = 0
	f.steps = 0
	f.rmsDone = false
	return nil
}

// SimStep accumulates the RMS contribution of the current grid and advances
// the pressure by one time step. Outstanding mappings are released first.
func (f *Field) SimStep() error {
	if err := f.Check(); err != nil {
		return err
	}
	if err := f.releaseMappings(); err != nil {
		return err
	}
	var start time.Time
	if f.profile {
		start = time.Now()
	}
	curr, prev := f.pressure[f.active], f.pressure[1-f.active]
	if f.rms != nil && !f.rmsDone {
		var w float32
		if f.steps < uint64(len(f.window)) {
			w = f.window[f.steps]
		}
		if err := f.queue.Enqueue(compute.KernelRmsAccumulate, f.grid(), curr, f.rms, w); err != nil {
			return f.fail(err)
		}
	}
	f.steps++
	if err := f.queue.Barrier(); err != nil {
		return f.fail(err)
	}
	err := f.queue.Enqueue(compute.KernelStencilStep, compute.Range{int(f.size.X), int(f.size.Y)},
		curr, prev, f.matIdx, f.table.Impedance, f.table.Speed, f.size.Z, f.dx, f.dt)
	if err == nil {
		err = f.queue.Barrier()
	}
	if err != nil {
		return f.fail(err)
	}
	f.active = 1 - f.active
	if f.profile {
		if err = f.queue.Finish(); err != nil {
			return f.fail(err)
		}
		f.logger.Debug("step", f.logger.Args("n", f.steps, "elapsed", time.Since(start)))
	}
	return nil
}

// FinishRms converts the accumulated weighted squares into normalised RMS
// values. It is a no-op when RMS tracking is disabled. The result is final
// until the next Clear: later steps do not accumulate and a second call is
// rejected.
func (f *Field) FinishRms() error {
	if err := f.Check(); err != nil {
		return err
	}
	if f.rms == nil {
		return nil
	}
	if f.rmsDone {
		return &compute.ValidationError{Subject: "rms", Reason: "already finished, Clear starts a new accumulation"}
	}
	if f.steps == 0 {
		return fmt.Errorf("finish rms after zero steps: %w", compute.ErrDivideByZero)
	}
	used := min(uint64(len(f.window)), f.steps)
	var energy float64
	for _, w := range f.window[:used] {
		energy += float64(w) * float64(w)
	}
	nnpg := energy / float64(f.steps)
	if nnpg == 0 {
		return fmt.Errorf("finish rms with an all-zero window: %w", compute.ErrDivideByZero)
	}
	if m := f.maps[kindRms]; m != nil {
		if err := m.Release(); err != nil {
			return err
		}
	}
	err := f.queue.Enqueue(compute.KernelRmsFinalize, f.grid(), f.rms,
		float32(1/float64(f.steps)), float32(1/math.Sqrt(nnpg)))
	if err == nil {
		err = f.queue.Barrier()
	}
	if err != nil {
		return f.fail(err)
	}
	f.rmsDone = true
	return nil
}

// Close releases every mapping, buffer and the queue. It is safe to call
// more than once.
func (f *Field) Close() {
	if f.queue != nil {
		for _, m := range f.maps {
			if m != nil {
				_ = m.Release()
			}
		}
		_ = f.queue.Finish()
	}
	for i, b := range f.pressure {
		if b != nil {
			b.Release()
			f.pressure[i] = nil
		}
	}
	for _, b := range []*compute.Buffer{&f.matIdx, &f.rms} {
		if *b != nil {
			(*b).Release()
			*b = nil
		}
	}
	f.table.Release()
	f.table = nil
	if f.queue != nil {
		f.queue.Release()
		f.queue = nil
	}
	f.prepared = false
	if f.failed == nil {
		f.failed = errors.New("field closed")
	}
}

// Check returns nil when the field is prepared and has not failed
func (f *Field) Check() error {
	if f.failed != nil {
		return f.failed
	}
	if !f.prepared {
		return compute.ErrNotPrepared
	}
	return nil
}

// Fail records a fatal backend or allocation error. Later operations on the
// field return it. Other errors pass through unchanged.
func (f *Field) Fail(err error) error {
	if err == nil || !compute.IsFatal(err) {
		return err
	}
	return f.fail(err)
}

func (f *Field) fail(err error) error {
	if f.failed == nil {
		f.failed = err
		f.logger.Error("field failed", f.logger.Args("error", err))
	}
	return err
}

func asBackendError(op string, err error) error {
	if compute.IsFatal(err) {
		return err
	}
	return &compute.BackendError{Op: op, Err: err}
}

func (f *Field) grid() compute.Range {
	return compute.Range{int(f.size.X), int(f.size.Y), int(f.size.Z)}
}

func (f *Field) Backend() compute.Backend { return f.backend }
func (f *Field) Queue() compute.Queue     { return f.queue }
func (f *Field) Logger() *pterm.Logger    { return f.logger }
func (f *Field) Size() geometry.UVec3     { return f.size }
func (f *Field) Dx() float32              { return f.dx }
func (f *Field) Dt() float32              { return f.dt }
func (f *Field) Materials() []material.Material {
	return f.materials
}

// StepsCalculated returns the number of steps since the last Clear
func (f *Field) StepsCalculated() uint64 { return f.steps }

// ActiveBuffer returns the index of the pressure buffer holding the current step
func (f *Field) ActiveBuffer() int { return f.active }

// CurrentBuffer returns the pressure buffer holding the current step
func (f *Field) CurrentBuffer() compute.Buffer { return f.pressure[f.active] }

// MaterialBuffer returns the per-voxel material id grid
func (f *Field) MaterialBuffer() compute.Buffer { return f.matIdx }

// PreviousBuffer returns the pressure buffer holding the previous step
func (f *Field) PreviousBuffer() compute.Buffer { return f.pressure[1-f.active] }

// RmsBuffer returns the RMS accumulator, nil when RMS tracking is disabled
func (f *Field) RmsBuffer() compute.Buffer { return f.rms }

// Index returns the linear grid index of voxel (x, y, z)
func (f *Field) Index(x, y, z uint32) int {
	return f.size.Index(geometry.UVec3{X: x, Y: y, Z: z})
}

// Voxels returns the number of voxels in the grid
func (f *Field) Voxels() int { return f.size.Count() }

// Finish blocks until all work submitted to the field's queue has completed
func (f *Field) Finish() error {
	if err := f.Check(); err != nil {
		return err
	}
	return f.Fail(f.queue.Finish())
}

// RmsEnabled reports whether Prepare allocated the RMS buffer
func (f *Field) RmsEnabled() bool { return f.rms != nil }
