package cpu

import (
	"fmt"

	"github.com/notargets/FAS/compute"
)

// arguments decodes positional kernel arguments. The first decoding failure
// is kept in err and later accessors return zero values.
type arguments struct {
	kernel string
	values []interface{}
	err    error
}

func (a *arguments) fail(i int, format string, v ...interface{}) {
	if a.err == nil {
		a.err = fmt.Errorf("argument %d: %s", i, fmt.Sprintf(format, v...))
	}
}

func (a *arguments) value(i int) interface{} {
	if i >= len(a.values) {
		a.fail(i, "missing (got %d arguments)", len(a.values))
		return nil
	}
	return a.values[i]
}

func (a *arguments) buffer(i int, dt compute.DataType) []byte {
	v := a.value(i)
	if v == nil {
		return nil
	}
	buf, ok := v.(*buffer)
	if !ok {
		a.fail(i, "expected %v buffer, got %T", dt, v)
		return nil
	}
	if buf.released {
		a.fail(i, "buffer released")
		return nil
	}
	if buf.dt != dt {
		a.fail(i, "expected %v buffer, got %v", dt, buf.dt)
		return nil
	}
	return buf.data
}

// optionalBuffer accepts a nil argument for kernels with an optional output
func (a *arguments) optionalBuffer(i int, dt compute.DataType) []byte {
	if i < len(a.values) && a.values[i] == nil {
		return nil
	}
	return a.buffer(i, dt)
}

func (a *arguments) bytes(i int) []byte       { return a.buffer(i, compute.Uint8) }
func (a *arguments) float32s(i int) []float32 { return compute.Float32s(a.buffer(i, compute.Float32)) }
func (a *arguments) uint32s(i int) []uint32   { return compute.Uint32s(a.buffer(i, compute.Uint32)) }
func (a *arguments) uint64s(i int) []uint64   { return compute.Uint64s(a.buffer(i, compute.Uint64)) }

func (a *arguments) f32(i int) float32 {
	switch v := a.value(i).(type) {
	case float32:
		return v
	case float64:
		return float32(v)
	case nil:
		if i < len(a.values) {
			a.fail(i, "expected float32, got nil")
		}
		return 0
	default:
		a.fail(i, "expected float32, got %T", v)
		return 0
	}
}

func (a *arguments) u64(i int) uint64 {
	raw := a.value(i)
	switch v := raw.(type) {
	case uint8:
		return uint64(v)
	case uint32:
		return uint64(v)
	case uint64:
		return v
	case int:
		if v >= 0 {
			return uint64(v)
		}
	case int32:
		if v >= 0 {
			return uint64(v)
		}
	}
	if i < len(a.values) {
		a.fail(i, "expected unsigned integer, got %T(%v)", raw, raw)
	}
	return 0
}

func (a *arguments) u32(i int) uint32 { return uint32(a.u64(i)) }
func (a *arguments) u8(i int) uint8   { return uint8(a.u64(i)) }
