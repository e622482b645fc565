//go:build !opencl

package opencl

import (
	"errors"

	"github.com/notargets/FAS/compute"
	"github.com/pterm/pterm"
)

var errDisabled = errors.New("OpenCL support is not enabled; rebuild with -tags opencl")

type Config struct {
	PreferCPU bool
	Logger    *pterm.Logger
}

type Backend struct{}

func New(cfg Config) (*Backend, error) {
	return nil, &compute.BackendError{Op: "create OpenCL backend", Err: errDisabled}
}

func (b *Backend) Name() string { return "OpenCL(disabled)" }

func (b *Backend) Alloc(dt compute.DataType, n int) (compute.Buffer, error) {
	return nil, &compute.BackendError{Op: "alloc", Err: errDisabled}
}

func (b *Backend) NewQueue() (compute.Queue, error) {
	return nil, &compute.BackendError{Op: "create queue", Err: errDisabled}
}

func (b *Backend) Release() {}
