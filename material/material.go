// Package material validates acoustic materials and uploads the per-material
// lookup tables used by the stencil.
package material

import (
	"fmt"

	"github.com/notargets/FAS/compute"
	"github.com/pterm/pterm"
)

// Material is an acoustic medium. Impedance is derived by Validate.
type Material struct {
	Name         string  `yaml:"name"`
	SpeedOfSound float32 `yaml:"speedOfSound"`
	Density      float32 `yaml:"density"`
	Impedance    float32 `yaml:"-"`
}

var (
	Air   = Material{Name: "air", SpeedOfSound: 343, Density: 1.204}
	Water = Material{Name: "water", SpeedOfSound: 1482, Density: 998}
)

// Recalc checks the medium and derives its impedance
func (m *Material) Recalc() error {
	if !(m.SpeedOfSound > 0) {
		return &compute.ValidationError{Subject: "material " + m.label(),
			Reason: fmt.Sprintf("speed of sound must be positive, got %g", m.SpeedOfSound)}
	}
	if !(m.Density > 0) {
		return &compute.ValidationError{Subject: "material " + m.label(),
			Reason: fmt.Sprintf("density must be positive, got %g", m.Density)}
	}
	m.Impedance = m.Density * m.SpeedOfSound
	return nil
}

func (m *Material) label() string {
	if m.Name == "" {
		return "(unnamed)"
	}
	return fmt.Sprintf("%q", m.Name)
}

// Validate recalculates every entry, stopping at the first invalid one
func Validate(entries []Material) error {
	for i := range entries {
		if err := entries[i].Recalc(); err != nil {
			return fmt.Errorf("material %d: %w", i, err)
		}
	}
	return nil
}

// UploadResult reports how much of the material list reached the tables
type UploadResult struct {
	Uploaded int
	Dropped  int
}

// Warning returns ErrTableTruncated when entries were dropped
func (r UploadResult) Warning() error {
	if r.Dropped == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d entries beyond slot %d ignored",
		compute.ErrTableTruncated, r.Dropped, compute.MaterialSlots-1)
}

// Table is the pair of device lookup tables indexed by material id
type Table struct {
	Speed     compute.Buffer
	Impedance compute.Buffer
}

func (t *Table) Release() {
	if t == nil {
		return
	}
	if t.Speed != nil {
		t.Speed.Release()
	}
	if t.Impedance != nil {
		t.Impedance.Release()
	}
}

// Upload validates the first 256 entries, recalculating their impedance in
// place, and writes the speed and impedance tables. Unused slots are zero.
func Upload(b compute.Backend, q compute.Queue, entries []Material, logger *pterm.Logger) (*Table, UploadResult, error) {
	var result UploadResult
	kept := entries
	if len(kept) > compute.MaterialSlots {
		kept = kept[:compute.MaterialSlots]
		result.Dropped = len(entries) - compute.MaterialSlots
	}
	result.Uploaded = len(kept)
	if err := Validate(kept); err != nil {
		return nil, UploadResult{}, err
	}
	if result.Dropped > 0 && logger != nil {
		logger.Warn("material table truncated",
			logger.Args("entries", len(entries), "dropped", result.Dropped))
	}

	speed := make([]float32, compute.MaterialSlots)
	impedance := make([]float32, compute.MaterialSlots)
	for i, m := range kept {
		speed[i] = m.SpeedOfSound
		impedance[i] = m.Impedance
	}

	t := &Table{}
	var err error
	if t.Speed, err = b.Alloc(compute.Float32, compute.MaterialSlots); err != nil {
		return nil, UploadResult{}, err
	}
	if t.Impedance, err = b.Alloc(compute.Float32, compute.MaterialSlots); err != nil {
		t.Release()
		return nil, UploadResult{}, err
	}
	if err = compute.Upload(q, t.Speed, compute.Bytes(speed)); err == nil {
		err = compute.Upload(q, t.Impedance, compute.Bytes(impedance))
	}
	if err != nil {
		t.Release()
		return nil, UploadResult{}, err
	}
	return t, result, nil
}

// Index returns the id of the named material
func Index(entries []Material, name string) (uint8, bool) {
	for i, m := range entries {
		if i >= compute.MaterialSlots {
			break
		}
		if m.Name == name {
			return uint8(i), true
		}
	}
	return 0, false
}
