package field

import (
	"github.com/notargets/FAS/compute"
)

type kind int

const (
	kindPressure kind = iota
	kindRms
	kindMaterial
	numKinds
)

func (k kind) String() string {
	switch k {
	case kindPressure:
		return "pressure"
	case kindRms:
		return "rms"
	default:
		return "material"
	}
}

// Mapping is a host view of one field buffer. It is invalidated by Release,
// by the next mapping of the same buffer kind and by any operation that
// rewrites the buffer on the device (SimStep, Clear, rasterisation).
type Mapping struct {
	field    *Field
	kind     kind
	buf      compute.Buffer
	mode     compute.MapMode
	region   []byte
	released bool
}

// Float32s returns the mapped pressure or RMS values in grid order
func (m *Mapping) Float32s() ([]float32, error) {
	if err := m.valid(); err != nil {
		return nil, err
	}
	if m.kind == kindMaterial {
		return nil, &compute.MapConflictError{Buffer: m.kind.String(), Reason: "material grid holds bytes"}
	}
	return compute.Float32s(m.region), nil
}

// Bytes returns the raw mapped region
func (m *Mapping) Bytes() ([]byte, error) {
	if err := m.valid(); err != nil {
		return nil, err
	}
	return m.region, nil
}

// Writable reports whether host writes are published on Release
func (m *Mapping) Writable() bool { return m.mode.Writes() }

func (m *Mapping) valid() error {
	if m.released {
		return &compute.MapConflictError{Buffer: m.kind.String(), Reason: "mapping already released"}
	}
	return nil
}

// Release publishes host writes and ends the mapping. Releasing twice is a no-op.
func (m *Mapping) Release() error {
	if m.released {
		return nil
	}
	m.released = true
	f := m.field
	if f.maps[m.kind] == m {
		f.maps[m.kind] = nil
	}
	if f.queue == nil {
		return nil
	}
	err := f.queue.Unmap(m.buf, m.region, m.mode)
	if err == nil && m.mode.Writes() {
		err = f.queue.Barrier()
	}
	m.region = nil
	return f.Fail(err)
}

func (f *Field) mapBuffer(k kind, buf compute.Buffer, mode compute.MapMode) (*Mapping, error) {
	if err := f.Check(); err != nil {
		return nil, err
	}
	if prev := f.maps[k]; prev != nil {
		if err := prev.Release(); err != nil {
			return nil, err
		}
	}
	region, err := f.queue.Map(buf, mode)
	if err != nil {
		return nil, f.Fail(err)
	}
	m := &Mapping{field: f, kind: k, buf: buf, mode: mode, region: region}
	f.maps[k] = m
	return m, nil
}

// MapCurrentForRead maps the pressure of the current step for reading
func (f *Field) MapCurrentForRead() (*Mapping, error) {
	return f.mapBuffer(kindPressure, f.pressure[f.active], compute.MapRead)
}

// MapCurrentForWrite maps the pressure of the current step for writing.
// The region holds the current values; writes reach the device on Release.
func (f *Field) MapCurrentForWrite() (*Mapping, error) {
	return f.mapBuffer(kindPressure, f.pressure[f.active], compute.MapRead|compute.MapWrite)
}

// MapRmsForRead maps the RMS buffer for reading
func (f *Field) MapRmsForRead() (*Mapping, error) {
	if err := f.Check(); err != nil {
		return nil, err
	}
	if f.rms == nil {
		return nil, &compute.MapConflictError{Buffer: kindRms.String(), Reason: "rms tracking is disabled"}
	}
	return f.mapBuffer(kindRms, f.rms, compute.MapRead)
}

// MapMaterialForRead maps the material id grid for reading
func (f *Field) MapMaterialForRead() (*Mapping, error) {
	return f.mapBuffer(kindMaterial, f.matIdx, compute.MapRead)
}

// MapMaterialForWrite maps the material id grid for direct editing
func (f *Field) MapMaterialForWrite() (*Mapping, error) {
	return f.mapBuffer(kindMaterial, f.matIdx, compute.MapRead|compute.MapWrite)
}

// Unmap releases the outstanding pressure mapping, if any
func (f *Field) Unmap() error { return f.release(kindPressure) }

// UnmapRms releases the outstanding RMS mapping, if any
func (f *Field) UnmapRms() error { return f.release(kindRms) }

// UnmapMaterial releases the outstanding material mapping, if any
func (f *Field) UnmapMaterial() error { return f.release(kindMaterial) }

func (f *Field) release(k kind) error {
	if m := f.maps[k]; m != nil {
		return m.Release()
	}
	return nil
}

func (f *Field) releaseMappings() error {
	for k := range f.maps {
		if err := f.release(kind(k)); err != nil {
			return err
		}
	}
	return nil
}
