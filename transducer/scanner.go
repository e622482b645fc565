package transducer

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/notargets/FAS/compute"
	"github.com/notargets/FAS/field"
	"github.com/notargets/FAS/geometry"
)

// Scanner samples the current pressure on a rectangular plane every
// stride steps and appends each sample set to a file as raw float32 values.
type Scanner struct {
	field   *field.Field
	path    string
	stride  uint64
	count   int
	coords  compute.Buffer
	results compute.Buffer
	dst     io.Writer
	out     *bufio.Writer
	records int
}

// NewScanner places a size.X by size.Y sampling plane at pos, rotated by
// rot, and truncates the output file at path. Plane points falling outside
// the grid are clamped to its faces.
func NewScanner(f *field.Field, pos geometry.UVec3, rot geometry.Vec3, size geometry.UVec2, path string, stride uint32) (*Scanner, error) {
	s, err := newScanner(f, pos, rot, size, path, stride)
	if err != nil {
		return nil, err
	}
	file, err := os.Create(path)
	if err != nil {
		s.releaseBuffers()
		return nil, &compute.FileIOError{Path: path, Frame: -1, Err: err}
	}
	s.attach(file)
	return s, nil
}

// NewScannerTo is NewScanner writing records to w, with name used in
// errors. Close and a failed write close w when it is an io.Closer.
func NewScannerTo(f *field.Field, pos geometry.UVec3, rot geometry.Vec3, size geometry.UVec2, w io.Writer, name string, stride uint32) (*Scanner, error) {
	s, err := newScanner(f, pos, rot, size, name, stride)
	if err != nil {
		return nil, err
	}
	s.attach(w)
	return s, nil
}

func newScanner(f *field.Field, pos geometry.UVec3, rot geometry.Vec3, size geometry.UVec2, path string, stride uint32) (*Scanner, error) {
	if err := f.Check(); err != nil {
		return nil, err
	}
	if size.X == 0 || size.Y == 0 {
		return nil, &compute.ValidationError{Subject: "scanner size", Reason: "must be non-zero"}
	}
	if stride == 0 {
		return nil, &compute.ValidationError{Subject: "scanner stride", Reason: "must be at least 1"}
	}

	grid := f.Size()
	t := geometry.NewTransform(pos, rot)
	n := int(size.X) * int(size.Y)
	planes := make([]uint32, 3*n)
	for y := 0; y < int(size.Y); y++ {
		for x := 0; x < int(size.X); x++ {
			i := y*int(size.X) + x
			gx, gy, gz := t.Apply(float64(x), float64(y), 0)
			planes[i] = geometry.Clamp(gx, grid.X)
			planes[i+n] = geometry.Clamp(gy, grid.Y)
			planes[i+2*n] = geometry.Clamp(gz, grid.Z)
		}
	}

	s := &Scanner{field: f, path: path, stride: uint64(stride), count: n}
	var err error
	if s.coords, err = f.Backend().Alloc(compute.Uint32, 3*n); err != nil {
		return nil, f.Fail(err)
	}
	if s.results, err = f.Backend().Alloc(compute.Float32, n); err != nil {
		s.releaseBuffers()
		return nil, f.Fail(err)
	}
	if err = compute.Upload(f.Queue(), s.coords, compute.Bytes(planes)); err != nil {
		s.releaseBuffers()
		return nil, f.Fail(err)
	}
	return s, nil
}

func (s *Scanner) attach(w io.Writer) {
	s.dst = w
	s.out = bufio.NewWriter(w)
}

// Count returns the number of sample points per record
func (s *Scanner) Count() int { return s.count }

// Records returns the number of records written so far
func (s *Scanner) Records() int { return s.records }

// Path returns the output file
func (s *Scanner) Path() string { return s.path }

func (s *Scanner) due() bool { return s.field.StepsCalculated()%s.stride == 0 }

// ScanToDeviceBuffer gathers the current pressure at the sample points
// into the scanner's device buffer. Off-stride steps are skipped.
func (s *Scanner) ScanToDeviceBuffer() error {
	f := s.field
	if err := f.Check(); err != nil {
		return err
	}
	if !s.due() {
		return nil
	}
	if s.results == nil {
		return &compute.ValidationError{Subject: "scanner", Reason: "closed"}
	}
	if err := f.Unmap(); err != nil {
		return err
	}
	size := f.Size()
	err := f.Queue().Enqueue(compute.KernelScanGather, compute.Range{s.count},
		f.CurrentBuffer(), s.coords, s.results, uint64(s.count), size.X, size.Y)
	return f.Fail(err)
}

// ScanToFile appends the gathered samples to the output file. Off-stride
// steps are skipped. A failed write flushes what it can, closes the output
// and reports the simulation step as the frame; later calls report the
// scanner closed.
func (s *Scanner) ScanToFile() error {
	f := s.field
	if err := f.Check(); err != nil {
		return err
	}
	if !s.due() {
		return nil
	}
	if s.out == nil {
		return &compute.ValidationError{Subject: "scanner", Reason: "closed"}
	}
	q := f.Queue()
	region, err := q.Map(s.results, compute.MapRead)
	if err != nil {
		return f.Fail(err)
	}
	// earlier records leave the buffer before this one is accepted
	var werr error
	if s.out.Buffered() > 0 && s.out.Available() < len(region) {
		werr = s.out.Flush()
	}
	if werr == nil {
		_, werr = s.out.Write(region)
	}
	if err = q.Unmap(s.results, region, compute.MapRead); err != nil {
		return f.Fail(err)
	}
	if werr != nil {
		return s.abort(werr)
	}
	s.records++
	return nil
}

func (s *Scanner) abort(werr error) error {
	step := int(s.field.StepsCalculated())
	_ = s.shut()
	return &compute.FileIOError{Path: s.path, Frame: step, Err: werr}
}

// shut flushes and closes the output, leaving the scanner closed
func (s *Scanner) shut() error {
	if s.out == nil {
		return nil
	}
	err := s.out.Flush()
	if c, ok := s.dst.(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	s.dst, s.out = nil, nil
	return err
}

// Scan gathers and writes one record
func (s *Scanner) Scan() error {
	if err := s.ScanToDeviceBuffer(); err != nil {
		return err
	}
	return s.ScanToFile()
}

// Close flushes and closes the output file and frees the device buffers
func (s *Scanner) Close() error {
	s.releaseBuffers()
	if err := s.shut(); err != nil {
		return &compute.FileIOError{Path: s.path, Frame: -1, Err: fmt.Errorf("close: %w", err)}
	}
	return nil
}

func (s *Scanner) releaseBuffers() {
	if s.coords != nil {
		s.coords.Release()
		s.coords = nil
	}
	if s.results != nil {
		s.results.Release()
		s.results = nil
	}
}
