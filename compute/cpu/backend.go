// Package cpu runs the field kernels on host goroutines.
package cpu

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/notargets/FAS/compute"
	"github.com/pterm/pterm"
	"golang.org/x/sync/errgroup"
)

// Config controls the CPU backend
type Config struct {
	// Workers bounds the goroutines used per kernel, zero selects GOMAXPROCS
	Workers int
	// MemoryLimit caps the total bytes allocated, zero is unlimited
	MemoryLimit int64
	Logger      *pterm.Logger
}

// Backend executes kernels on the host. Commands run eagerly in submission
// order, so barriers only check that the queue is still usable.
type Backend struct {
	workers   int
	limit     int64
	allocated atomic.Int64
	logger    *pterm.Logger
	kernels   map[string]kernelFunc
}

func New(cfg Config) *Backend {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = &pterm.DefaultLogger
	}
	b := &Backend{
		workers: workers,
		limit:   cfg.MemoryLimit,
		logger:  logger,
	}
	b.kernels = b.kernelTable()
	logger.Debug("cpu backend ready", logger.Args("workers", workers, "memory_limit", cfg.MemoryLimit))
	return b
}

func (b *Backend) Name() string { return fmt.Sprintf("CPU(%d workers)", b.workers) }

func (b *Backend) Alloc(dt compute.DataType, n int) (compute.Buffer, error) {
	if n < 0 {
		return nil, &compute.ValidationError{Subject: "allocation size", Reason: fmt.Sprintf("negative element count %d", n)}
	}
	size := compute.SizeOfType(dt) * int64(n)
	if size == 0 && n > 0 {
		return nil, &compute.AllocationError{What: dt.String(), Bytes: size,
			Err: fmt.Errorf("unsupported data type %v", dt)}
	}
	if b.limit > 0 && b.allocated.Load()+size > b.limit {
		return nil, &compute.AllocationError{What: dt.String(), Bytes: size,
			Err: fmt.Errorf("limit of %d bytes exceeded", b.limit)}
	}
	b.allocated.Add(size)
	return &buffer{owner: b, dt: dt, n: n, data: compute.HostBytes(dt, n)}, nil
}

func (b *Backend) NewQueue() (compute.Queue, error) {
	return &queue{backend: b}, nil
}

// Allocated returns the number of bytes currently held by live buffers
func (b *Backend) Allocated() int64 { return b.allocated.Load() }

func (b *Backend) Release() {}

// parallelFor splits [0, n) into contiguous chunks run on the worker pool
func (b *Backend) parallelFor(n int, fn func(lo, hi int)) error {
	if n <= 0 {
		return nil
	}
	workers := min(b.workers, n)
	chunk := (n + workers - 1) / workers
	var g errgroup.Group
	g.SetLimit(workers)
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		g.Go(func() error {
			fn(lo, hi)
			return nil
		})
	}
	return g.Wait()
}

type buffer struct {
	owner    *Backend
	dt       compute.DataType
	n        int
	data     []byte
	released bool
}

func (buf *buffer) Type() compute.DataType { return buf.dt }
func (buf *buffer) Len() int               { return buf.n }

func (buf *buffer) Release() {
	if buf.released {
		return
	}
	buf.released = true
	buf.owner.allocated.Add(-int64(len(buf.data)))
	buf.data = nil
}

type queue struct {
	backend  *Backend
	mu       sync.Mutex
	mapped   map[*buffer]compute.MapMode
	released bool
}

func (q *queue) Enqueue(name string, global compute.Range, args ...interface{}) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.released {
		return &compute.BackendError{Op: "enqueue " + name, Err: compute.ErrReleased}
	}
	kernel, ok := q.backend.kernels[name]
	if !ok {
		return &compute.BackendError{Op: "enqueue " + name, Err: fmt.Errorf("unknown kernel")}
	}
	if global.Total() == 0 {
		return nil
	}
	if err := kernel(global, &arguments{kernel: name, values: args}); err != nil {
		return &compute.BackendError{Op: "run " + name, Err: err}
	}
	return nil
}

func (q *queue) Barrier() error { return q.check("barrier") }
func (q *queue) Finish() error  { return q.check("finish") }

func (q *queue) check(op string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.released {
		return &compute.BackendError{Op: op, Err: compute.ErrReleased}
	}
	return nil
}

// Map returns the buffer storage itself
func (q *queue) Map(b compute.Buffer, mode compute.MapMode) ([]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.released {
		return nil, &compute.BackendError{Op: "map", Err: compute.ErrReleased}
	}
	buf, ok := b.(*buffer)
	if !ok || buf.released {
		return nil, &compute.BackendError{Op: "map", Err: fmt.Errorf("invalid buffer")}
	}
	if q.mapped == nil {
		q.mapped = make(map[*buffer]compute.MapMode)
	}
	q.mapped[buf] = mode
	return buf.data, nil
}

func (q *queue) Unmap(b compute.Buffer, region []byte, mode compute.MapMode) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	buf, ok := b.(*buffer)
	if !ok {
		return &compute.BackendError{Op: "unmap", Err: fmt.Errorf("invalid buffer")}
	}
	if _, ok := q.mapped[buf]; !ok {
		return &compute.MapConflictError{Buffer: buf.dt.String(), Reason: "buffer is not mapped"}
	}
	delete(q.mapped, buf)
	return nil
}

func (q *queue) Release() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.released = true
	q.mapped = nil
}
