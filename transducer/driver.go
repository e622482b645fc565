package transducer

import (
	"github.com/notargets/FAS/compute"
	"github.com/notargets/FAS/field"
)

// Driver writes a pressure value onto every element of a set
type Driver struct {
	field *field.Field
	set   *ElementSet
}

func NewDriver(f *field.Field, set *ElementSet) *Driver {
	return &Driver{field: f, set: set}
}

// CollectDriver collects the tagged voxels of f and returns a driver for them
func CollectDriver(f *field.Field) (*Driver, error) {
	set, err := Collect(f)
	if err != nil {
		return nil, err
	}
	return NewDriver(f, set), nil
}

// Elements returns the driven element set
func (d *Driver) Elements() *ElementSet { return d.set }

// Drive enqueues the write of signal into the current pressure grid. It does
// not wait for completion.
func (d *Driver) Drive(signal float32) error {
	f := d.field
	if err := f.Check(); err != nil {
		return err
	}
	n := d.set.Count()
	if n == 0 {
		return nil
	}
	if d.set.Buffer() == nil {
		return &compute.ValidationError{Subject: "driver", Reason: "element set released"}
	}
	if err := f.Unmap(); err != nil {
		return err
	}
	size := f.Size()
	err := f.Queue().Enqueue(compute.KernelDriveWrite, compute.Range{n},
		f.CurrentBuffer(), signal, d.set.Buffer(), uint64(n), size.X, size.Y)
	return f.Fail(err)
}

// Release frees the element set
func (d *Driver) Release() { d.set.Release() }
