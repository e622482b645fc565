//go:build opencl

// Package opencl runs the field kernels on an OpenCL device. It is compiled
// only with the opencl build tag.
package opencl

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unsafe"

	"github.com/jgillich/go-opencl/cl"
	"github.com/notargets/FAS/compute"
	"github.com/pterm/pterm"
)

type Config struct {
	// PreferCPU selects a CPU device even when a GPU is present
	PreferCPU bool
	Logger    *pterm.Logger
}

type Backend struct {
	device  *cl.Device
	context *cl.Context
	program *cl.Program
	kernels map[string]*cl.Kernel
	setup   *cl.CommandQueue
	logger  *pterm.Logger
	// kernel arguments are per kernel object, so launches are serialised
	launch      sync.Mutex
	placeholder *cl.MemObject
}

// New picks the first GPU (or CPU) device, builds the field program and
// creates every kernel
func New(cfg Config) (*Backend, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = &pterm.DefaultLogger
	}
	device, err := pickDevice(cfg.PreferCPU)
	if err != nil {
		return nil, &compute.BackendError{Op: "select OpenCL device", Err: err}
	}
	b := &Backend{device: device, logger: logger, kernels: make(map[string]*cl.Kernel)}
	if err = b.init(); err != nil {
		b.Release()
		return nil, err
	}
	logger.Info("opencl backend ready", logger.Args("device", device.Name(), "kernels", len(b.kernels)))
	return b, nil
}

func pickDevice(preferCPU bool) (*cl.Device, error) {
	platforms, err := cl.GetPlatforms()
	if err != nil {
		msg := "querying OpenCL platforms"
		if strings.Contains(err.Error(), "-1001") {
			msg += ": no ICD loader reported any platforms"
		}
		return nil, fmt.Errorf("%s: %w", msg, err)
	}
	if len(platforms) == 0 {
		return nil, errors.New("no OpenCL platforms available")
	}
	order := []cl.DeviceType{cl.DeviceTypeGPU, cl.DeviceTypeCPU}
	if preferCPU {
		order[0], order[1] = order[1], order[0]
	}
	for _, kind := range order {
		for _, p := range platforms {
			devices, derr := p.GetDevices(kind)
			if derr != nil && derr != cl.ErrDeviceNotFound {
				continue
			}
			if len(devices) > 0 {
				return devices[0], nil
			}
		}
	}
	return nil, errors.New("no suitable OpenCL devices found")
}

func (b *Backend) init() error {
	var err error
	if b.context, err = cl.CreateContext([]*cl.Device{b.device}); err != nil {
		return &compute.BackendError{Op: "create context", Err: err}
	}
	if b.setup, err = b.context.CreateCommandQueue(b.device, 0); err != nil {
		return &compute.BackendError{Op: "create setup queue", Err: err}
	}
	if b.program, err = b.context.CreateProgramWithSource([]string{KernelSource}); err != nil {
		return &compute.BackendError{Op: "create program", Err: err}
	}
	if err = b.program.BuildProgram([]*cl.Device{b.device}, ""); err != nil {
		if buildErr, ok := err.(cl.BuildError); ok {
			return &compute.BackendError{Op: "build program", Log: string(buildErr), Err: err}
		}
		return &compute.BackendError{Op: "build program", Err: err}
	}
	for _, name := range compute.KernelNames {
		kernel, kerr := b.program.CreateKernel(name)
		if kerr != nil {
			return &compute.BackendError{Op: "create kernel " + name, Err: kerr}
		}
		b.kernels[name] = kernel
	}
	if b.placeholder, err = b.context.CreateEmptyBuffer(cl.MemReadWrite, 8); err != nil {
		return &compute.AllocationError{What: "placeholder", Bytes: 8, Err: err}
	}
	return nil
}

func (b *Backend) Name() string { return "OpenCL(" + b.device.Name() + ")" }

func (b *Backend) Alloc(dt compute.DataType, n int) (compute.Buffer, error) {
	size := compute.SizeOfType(dt) * int64(n)
	if n < 0 || (size == 0 && n > 0) {
		return nil, &compute.ValidationError{Subject: "allocation",
			Reason: fmt.Sprintf("%d elements of %v", n, dt)}
	}
	buf := &buffer{dt: dt, n: n, size: int(size)}
	if n == 0 {
		return buf, nil
	}
	mem, err := b.context.CreateEmptyBuffer(cl.MemReadWrite, int(size))
	if err != nil {
		return nil, &compute.AllocationError{What: dt.String(), Bytes: size, Err: err}
	}
	zeros := compute.HostBytes(dt, n)
	if _, err = b.setup.EnqueueWriteBuffer(mem, true, 0, int(size), unsafe.Pointer(&zeros[0]), nil); err != nil {
		mem.Release()
		return nil, &compute.AllocationError{What: dt.String(), Bytes: size, Err: err}
	}
	buf.mem = mem
	return buf, nil
}

func (b *Backend) NewQueue() (compute.Queue, error) {
	q, err := b.context.CreateCommandQueue(b.device, 0)
	if err != nil {
		return nil, &compute.BackendError{Op: "create command queue", Err: err}
	}
	return &queue{backend: b, cq: q}, nil
}

func (b *Backend) Release() {
	if b.placeholder != nil {
		b.placeholder.Release()
		b.placeholder = nil
	}
	for name, k := range b.kernels {
		k.Release()
		delete(b.kernels, name)
	}
	if b.program != nil {
		b.program.Release()
		b.program = nil
	}
	if b.setup != nil {
		b.setup.Release()
		b.setup = nil
	}
	if b.context != nil {
		b.context.Release()
		b.context = nil
	}
}

type buffer struct {
	dt   compute.DataType
	n    int
	size int
	mem  *cl.MemObject
}

func (buf *buffer) Type() compute.DataType { return buf.dt }
func (buf *buffer) Len() int               { return buf.n }

func (buf *buffer) Release() {
	if buf.mem != nil {
		buf.mem.Release()
		buf.mem = nil
	}
}

// queue wraps an in-order command queue, so commands already execute in
// submission order and Barrier only flushes.
type queue struct {
	backend *Backend
	cq      *cl.CommandQueue
}

func (q *queue) Enqueue(name string, global compute.Range, args ...interface{}) error {
	if q.cq == nil {
		return &compute.BackendError{Op: "enqueue " + name, Err: compute.ErrReleased}
	}
	kernel, ok := q.backend.kernels[name]
	if !ok {
		return &compute.BackendError{Op: "enqueue " + name, Err: fmt.Errorf("unknown kernel")}
	}
	if global.Total() == 0 {
		return nil
	}
	clArgs, err := q.translate(args)
	if err != nil {
		return &compute.BackendError{Op: "enqueue " + name, Err: err}
	}

	q.backend.launch.Lock()
	defer q.backend.launch.Unlock()
	if err = kernel.SetArgs(clArgs...); err != nil {
		return &compute.BackendError{Op: "set arguments of " + name, Err: err}
	}
	if _, err = q.cq.EnqueueNDRangeKernel(kernel, nil, []int(global), nil, nil); err != nil {
		return &compute.BackendError{Op: "run " + name, Err: err}
	}
	return nil
}

func (q *queue) translate(args []interface{}) ([]interface{}, error) {
	out := make([]interface{}, 0, len(args))
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

func (q *queue) Barrier() error {
	if q.cq == nil {
		return &compute.BackendError{Op: "barrier", Err: compute.ErrReleased}
	}
	if err := q.cq.Flush(); err != nil {
		return &compute.BackendError{Op: "barrier", Err: err}
	}
	return nil
}

func (q *queue) Finish() error {
	if q.cq == nil {
		return &compute.BackendError{Op: "finish", Err: compute.ErrReleased}
	}
	if err := q.cq.Finish(); err != nil {
		return &compute.BackendError{Op: "finish", Err: err}
	}
	return nil
}

// Map reads the buffer into a host staging region with a blocking read
func (q *queue) Map(b compute.Buffer, mode compute.MapMode) ([]byte, error) {
	buf, ok := b.(*buffer)
	if !ok {
		return nil, &compute.BackendError{Op: "map", Err: fmt.Errorf("foreign buffer %T", b)}
	}
	if q.cq == nil {
		return nil, &compute.BackendError{Op: "map", Err: compute.ErrReleased}
	}
	region := compute.HostBytes(buf.dt, buf.n)
	if buf.mem == nil || len(region) == 0 {
		return region, nil
	}
	if _, err := q.cq.EnqueueReadBuffer(buf.mem, true, 0, buf.size, unsafe.Pointer(&region[0]), nil); err != nil {
		return nil, &compute.BackendError{Op: "map", Err: err}
	}
	return region, nil
}

// Unmap writes a write mapping back with a blocking write
func (q *queue) Unmap(b compute.Buffer, region []byte, mode compute.MapMode) error {
	buf, ok := b.(*buffer)
	if !ok {
		return &compute.BackendError{Op: "unmap", Err: fmt.Errorf("foreign buffer %T", b)}
	}
	if !mode.Writes() || buf.mem == nil || len(region) == 0 {
		return nil
	}
	if len(region) != buf.size {
		return &compute.MapConflictError{Buffer: buf.dt.String(), Reason: "region does not match buffer size"}
	}
	if _, err := q.cq.EnqueueWriteBuffer(buf.mem, true, 0, buf.size, unsafe.Pointer(&region[0]), nil); err != nil {
		return &compute.BackendError{Op: "unmap", Err: err}
	}
	return nil
}

func (q *queue) Release() {
	if q.cq != nil {
		q.cq.Release()
		q.cq = nil
	}
}
