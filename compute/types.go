package compute

import (
	"fmt"
	"unsafe"
)

// DataType identifies the element type of a device buffer
type DataType uint8

const (
	Float32 DataType = iota + 1
	Uint8
	Uint32
	Uint64
)

// SizeOfType returns the size in bytes of a data type
func SizeOfType(dt DataType) int64 {
	switch dt {
	case Uint8:
		return 1
	case Float32, Uint32:
		return 4
	case Uint64:
		return 8
	default:
		return 0
	}
}

func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Uint8:
		return "uint8"
	case Uint32:
		return "uint32"
	case Uint64:
		return "uint64"
	default:
		return fmt.Sprintf("DataType(%d)", uint8(dt))
	}
}

// CTypeName returns the C type name used for a buffer element in kernel source
func CTypeName(dt DataType) string {
	switch dt {
	case Uint8:
		return "unsigned char"
	case Float32:
		return "float"
	case Uint32:
		return "unsigned int"
	case Uint64:
		return "unsigned long"
	default:
		return "void"
	}
}

// HostBytes allocates a host byte slice for n elements of dt. The backing
// store is 8-byte aligned so any typed view over it is valid.
func HostBytes(dt DataType, n int) []byte {
	size := int(SizeOfType(dt)) * n
	if size == 0 {
		return nil
	}
	words := make([]uint64, (size+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size)
}

// Float32s reinterprets a mapped region as float32 values
func Float32s(b []byte) []float32 {
	if len(b) < 4 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), len(b)/4)
}

// Uint32s reinterprets a mapped region as uint32 values
func Uint32s(b []byte) []uint32 {
	if len(b) < 4 {
		return nil
	}
	return unsafe.Slice((*uint32)(unsafe.Pointer(&b[0])), len(b)/4)
}

// Uint64s reinterprets a mapped region as uint64 values
func Uint64s(b []byte) []uint64 {
	if len(b) < 8 {
		return nil
	}
	return unsafe.Slice((*uint64)(unsafe.Pointer(&b[0])), len(b)/8)
}

// Bytes returns the raw byte view of a typed slice
func Bytes[T any](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	var sample T
	return unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*int(unsafe.Sizeof(sample)))
}
