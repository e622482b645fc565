package transducer

import (
	"fmt"
	"io"
	"os"

	"github.com/notargets/FAS/compute"
)

// ScanFile reads back the records written by a Scanner
type ScanFile struct {
	path     string
	file     *os.File
	elements int
	stride   uint64
	records  int
}

// OpenScanFile opens a scanner output holding records of elements samples
// written every stride steps.
func OpenScanFile(path string, elements int, stride uint32) (*ScanFile, error) {
	if elements <= 0 || stride == 0 {
		return nil, &compute.ValidationError{Subject: "scan file layout",
			Reason: fmt.Sprintf("elements %d, stride %d", elements, stride)}
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, &compute.FileIOError{Path: path, Frame: -1, Err: err}
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, &compute.FileIOError{Path: path, Frame: -1, Err: err}
	}
	return &ScanFile{
		path:     path,
		file:     file,
		elements: elements,
		stride:   uint64(stride),
		records:  int(info.Size() / int64(4*elements)),
	}, nil
}

// NumFrames returns the number of complete records in the file
func (s *ScanFile) NumFrames() int { return s.records }

// ReadRecord returns record i
func (s *ScanFile) ReadRecord(i int) ([]float32, error) {
	if i < 0 || i >= s.records {
		return nil, &compute.FileIOError{Path: s.path, Frame: i,
			Err: fmt.Errorf("record out of range [0, %d)", s.records)}
	}
	out := make([]float32, s.elements)
	size := int64(4 * s.elements)
	if _, err := s.file.ReadAt(compute.Bytes(out), int64(i)*size); err != nil && err != io.EOF {
		return nil, &compute.FileIOError{Path: s.path, Frame: i, Err: err}
	}
	return out, nil
}

// ReadFrame returns the record captured at simulation step step, which
// must be a multiple of the stride.
func (s *ScanFile) ReadFrame(step uint64) ([]float32, error) {
	if step%s.stride != 0 {
		return nil, &compute.ValidationError{Subject: "scan step",
			Reason: fmt.Sprintf("step %d is not a multiple of stride %d", step, s.stride)}
	}
	return s.ReadRecord(int(step / s.stride))
}

func (s *ScanFile) Close() error { return s.file.Close() }
