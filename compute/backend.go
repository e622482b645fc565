package compute

// Range is the global work size of a kernel launch, one entry per dimension
type Range []int

// Total returns the number of work items in the range
func (r Range) Total() int {
	if len(r) == 0 {
		return 0
	}
	n := 1
	for _, d := range r {
		n *= d
	}
	return n
}

// MapMode selects the direction of a host mapping
type MapMode uint8

const (
	MapRead MapMode = 1 << iota
	MapWrite
)

func (m MapMode) Reads() bool  { return m&MapRead != 0 }
func (m MapMode) Writes() bool { return m&MapWrite != 0 }

// Buffer is a typed region of device memory
type Buffer interface {
	Type() DataType
	Len() int
	Release()
}

// Queue is an in-order command queue on a backend. Enqueued kernels execute
// in submission order relative to barriers; Barrier guarantees every earlier
// command completes before any later command starts.
type Queue interface {
	// Enqueue submits the named kernel over the global range. Scalar
	// arguments are float32, uint8, uint32 or uint64 values, buffers are
	// passed as Buffer.
	Enqueue(kernel string, global Range, args ...interface{}) error
	Barrier() error
	// Finish blocks until all submitted work has completed
	Finish() error
	// Map makes the buffer contents visible to the host. The region stays
	// valid until Unmap, which publishes host writes when mode includes
	// MapWrite.
	Map(buf Buffer, mode MapMode) ([]byte, error)
	Unmap(buf Buffer, region []byte, mode MapMode) error
	Release()
}

// Backend is a compute device able to run the field kernels
type Backend interface {
	Name() string
	// Alloc returns a zero-initialised buffer of n elements
	Alloc(dt DataType, n int) (Buffer, error)
	NewQueue() (Queue, error)
	Release()
}

// Upload copies host bytes into buf through a write mapping
func Upload(q Queue, buf Buffer, src []byte) error {
	region, err := q.Map(buf, MapWrite)
	if err != nil {
		return err
	}
	copy(region, src)
	return q.Unmap(buf, region, MapWrite)
}

// Download copies the contents of buf into dst through a read mapping
func Download(q Queue, buf Buffer, dst []byte) error {
	region, err := q.Map(buf, MapRead)
	if err != nil {
		return err
	}
	copy(dst, region)
	return q.Unmap(buf, region, MapRead)
}
