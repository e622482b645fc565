// Package occa runs the field kernels through an OCCA device (OpenMP, CUDA,
// Serial, ...).
package occa

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/notargets/FAS/compute"
	"github.com/notargets/gocca"
	"github.com/pterm/pterm"
)

type Config struct {
	Logger *pterm.Logger
}

// Backend owns the compiled kernels of one OCCA device. The device itself
// stays owned by the caller.
type Backend struct {
	Device  *gocca.OCCADevice
	Kernels map[string]*gocca.OCCAKernel
	logger  *pterm.Logger
	// placeholder bound to optional buffer arguments passed as nil
	placeholder *gocca.OCCAMemory
}

// New compiles every field kernel on device
func New(device *gocca.OCCADevice, cfg Config) (*Backend, error) {
	if device == nil {
		return nil, &compute.BackendError{Op: "create occa backend", Err: fmt.Errorf("nil device")}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = &pterm.DefaultLogger
	}
	b := &Backend{
		Device:  device,
		Kernels: make(map[string]*gocca.OCCAKernel),
		logger:  logger,
	}
	for _, name := range compute.KernelNames {
		if _, err := b.BuildKernel(KernelSource, name); err != nil {
			b.Release()
			return nil, err
		}
	}
	var zero [8]byte
	b.placeholder = device.Malloc(int64(len(zero)), unsafe.Pointer(&zero[0]), nil)
	logger.Info("occa backend ready", logger.Args("mode", device.Mode(), "kernels", len(b.Kernels)))
	return b, nil
}

func (b *Backend) Name() string { return "OCCA(" + b.Device.Mode() + ")" }

// BuildKernel compiles and registers a kernel
func (b *Backend) BuildKernel(kernelSource, kernelName string) (*gocca.OCCAKernel, error) {
	var kernel *gocca.OCCAKernel
	var err error
	if b.Device.Mode() == "OpenMP" {
		// Workaround for OCCA bug: OpenMP doesn't get default -O3 flag
		props := gocca.JsonParse(`{"compiler_flags": "-O3"}`)
		defer props.Free()
		kernel, err = b.Device.BuildKernelFromString(kernelSource, kernelName, props)
	} else {
		kernel, err = b.Device.BuildKernelFromString(kernelSource, kernelName, nil)
	}
	if err != nil {
		return nil, &compute.BackendError{Op: "build kernel " + kernelName, Log: err.Error(), Err: err}
	}
	if kernel == nil {
		return nil, &compute.BackendError{Op: "build kernel " + kernelName, Err: fmt.Errorf("build returned nil")}
	}
	b.Kernels[kernelName] = kernel
	return kernel, nil
}

func (b *Backend) Alloc(dt compute.DataType, n int) (compute.Buffer, error) {
	size := compute.SizeOfType(dt) * int64(n)
	if n < 0 || (size == 0 && n > 0) {
		return nil, &compute.ValidationError{Subject: "allocation",
			Reason: fmt.Sprintf("%d elements of %v", n, dt)}
	}
	buf := &buffer{dt: dt, n: n, size: size}
	if n == 0 {
		return buf, nil
	}
	zeros := compute.HostBytes(dt, n)
	buf.mem = b.Device.Malloc(size, unsafe.Pointer(&zeros[0]), nil)
	if buf.mem == nil {
		return nil, &compute.AllocationError{What: dt.String(), Bytes: size}
	}
	return buf, nil
}

// NewQueue returns a queue on the device's default stream
func (b *Backend) NewQueue() (compute.Queue, error) {
	return &queue{backend: b}, nil
}

// Release frees the kernels. The device is left to its owner.
func (b *Backend) Release() {
	for name, kernel := range b.Kernels {
		kernel.Free()
		delete(b.Kernels, name)
	}
	if b.placeholder != nil {
		b.placeholder.Free()
		b.placeholder = nil
	}
}

type buffer struct {
	dt   compute.DataType
	n    int
	size int64
	mem  *gocca.OCCAMemory
}

func (buf *buffer) Type() compute.DataType { return buf.dt }
func (buf *buffer) Len() int               { return buf.n }

func (buf *buffer) Release() {
	if buf.mem != nil {
		buf.mem.Free()
		buf.mem = nil
	}
}

// queue issues kernels on the default stream, which executes them in order.
// Mappings go through host staging copies.
type queue struct {
	backend  *Backend
	mu       sync.Mutex
	released bool
}

func (q *queue) Enqueue(name string, global compute.Range, args ...interface{}) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.released {
		return &compute.BackendError{Op: "enqueue " + name, Err: compute.ErrReleased}
	}
	kernel, ok := q.backend.Kernels[name]
	if !ok {
		return &compute.BackendError{Op: "enqueue " + name, Err: fmt.Errorf("kernel not built")}
	}
	if global.Total() == 0 {
		return nil
	}
	occaArgs, err := q.translate(global, args)
	if err != nil {
		return &compute.BackendError{Op: "enqueue " + name, Err: err}
	}
	if err = kernel.RunWithArgs(occaArgs...); err != nil {
		return &compute.BackendError{Op: "run " + name, Err: err}
	}
	return nil
}

// translate prefixes the three range dimensions and narrows every scalar to
// the int and float types the OKL signatures declare
func (q *queue) translate(global compute.Range, args []interface{}) ([]interface{}, error) {
	out := make([]interface{}, 0, 3+len(args))
	for i := 0; i < 3; i++ {
		d := 1
		if i < len(global) {
			d = global[i]
		}
		out = append(out, int32(d))
	}
	for i, a := range args {
		switch v := a.(type) {
		case nil:
			out = append(out, q.backend.placeholder)
		case *buffer:
			if v.mem == nil {
				return nil, fmt.Errorf("argument %d: empty or released buffer", i)
			}
			out = append(out, v.mem)
		case float32:
			out = append(out, v)
		case float64:
			out = append(out, float32(v))
		case uint8:
			out = append(out, int32(v))
		case uint32:
			out = append(out, int32(v))
		case uint64:
			out = append(out, int32(v))
		case int:
			out = append(out, int32(v))
		case int32:
			out = append(out, v)
		default:
			return nil, fmt.Errorf("argument %d: unsupported type %T", i, a)
		}
	}
	return out, nil
}

// Barrier waits for the device, OCCA offers no finer grained fence
func (q *queue) Barrier() error { return q.Finish() }

func (q *queue) Finish() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.released {
		return &compute.BackendError{Op: "finish", Err: compute.ErrReleased}
	}
	q.backend.Device.Finish()
	return nil
}

func (q *queue) Map(b compute.Buffer, mode compute.MapMode) ([]byte, error) {
	buf, ok := b.(*buffer)
	if !ok {
		return nil, &compute.BackendError{Op: "map", Err: fmt.Errorf("foreign buffer %T", b)}
	}
	if err := q.Finish(); err != nil {
		return nil, err
	}
	region := compute.HostBytes(buf.dt, buf.n)
	if buf.mem != nil && len(region) > 0 {
		buf.mem.CopyTo(unsafe.Pointer(&region[0]), buf.size)
	}
	return region, nil
}

func (q *queue) Unmap(b compute.Buffer, region []byte, mode compute.MapMode) error {
	buf, ok := b.(*buffer)
	if !ok {
		return &compute.BackendError{Op: "unmap", Err: fmt.Errorf("foreign buffer %T", b)}
	}
	if !mode.Writes() || buf.mem == nil || len(region) == 0 {
		return nil
	}
	if int64(len(region)) != buf.size {
		return &compute.MapConflictError{Buffer: buf.dt.String(), Reason: "region does not match buffer size"}
	}
	buf.mem.CopyFrom(unsafe.Pointer(&region[0]), buf.size)
	return nil
}

func (q *queue) Release() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.released = true
}
