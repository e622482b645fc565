package scenario

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/notargets/FAS/compute"
	"github.com/notargets/FAS/field"
	"github.com/notargets/FAS/material"
	"github.com/notargets/FAS/mesh"
	"github.com/notargets/FAS/object"
	"github.com/notargets/FAS/transducer"
	"github.com/pterm/pterm"
	"gonum.org/v1/gonum/spatial/r3"
)

// Simulation is a prepared field with its drivers and scanners in place
type Simulation struct {
	Scenario *Scenario
	Field    *field.Field
	drivers  []namedDriver
	scanners []*transducer.Scanner
	logger   *pterm.Logger
}

type namedDriver struct {
	name   string
	signal SignalSpec
	*transducer.Driver
}

// Result summarises a completed run
type Result struct {
	Steps    uint64
	Elements map[string]int
	Records  map[string]int
	// PeakRms is the largest normalised RMS value, zero without RMS tracking
	PeakRms float32
}

// Build prepares a field on b and paints, collects and opens everything
// the scenario describes.
func (s *Scenario) Build(b compute.Backend, logger *pterm.Logger) (*Simulation, error) {
	if logger == nil {
		logger = &pterm.DefaultLogger
	}
	cfg := field.Config{
		Size:      uvec3(s.Size),
		Dx:        s.Dx,
		Dt:        s.Dt,
		Materials: append([]material.Material(nil), s.Materials...),
		Profile:   s.Profile,
		Logger:    logger,
	}
	if s.Rms != nil {
		w, err := s.Rms.window(s.Steps)
		if err != nil {
			return nil, err
		}
		cfg.RmsWindow = w
	}
	f := field.New(b, cfg)
	sim := &Simulation{Scenario: s, Field: f, logger: logger}
	if err := sim.build(); err != nil {
		_ = sim.Close()
		return nil, err
	}
	return sim, nil
}

func (sim *Simulation) build() error {
	s, f := sim.Scenario, sim.Field
	if err := f.Prepare(s.Rms != nil); err != nil {
		return err
	}
	for i, o := range s.Objects {
		if err := s.paint(f, o, 0); err != nil {
			return fmt.Errorf("object %d: %w", i, err)
		}
	}
	for _, d := range s.Drivers {
		for j, o := range d.Objects {
			if err := s.paint(f, o, compute.TagBit); err != nil {
				return fmt.Errorf("driver %s object %d: %w", d.Name, j, err)
			}
		}
		drv, err := transducer.CollectDriver(f)
		if err != nil {
			return fmt.Errorf("driver %s: %w", d.Name, err)
		}
		sim.drivers = append(sim.drivers, namedDriver{name: d.Name, signal: d.Signal, Driver: drv})
		if drv.Elements().Count() == 0 {
			sim.logger.Warn("driver has no elements inside the grid", sim.logger.Args("driver", d.Name))
		}
		if s.Elements != "" {
			if err = s.exportElements(d.Name, drv.Elements()); err != nil {
				return err
			}
		}
	}
	for _, sc := range s.Scanners {
		scanner, err := transducer.NewScanner(f, uvec3(sc.Position), radians(sc.Rotation),
			uvec2(sc.Size), s.path(sc.Output), sc.Stride)
		if err != nil {
			return fmt.Errorf("scanner %s: %w", sc.Name, err)
		}
		sim.scanners = append(sim.scanners, scanner)
	}
	return nil
}

// paint rasterises one object with its material id combined with tag
func (s *Scenario) paint(f *field.Field, o ObjectSpec, tag uint8) error {
	if o.Shape == "voxelmap" {
		return object.LoadVoxelMap(f, s.path(o.Path))
	}
	id, _ := material.Index(s.Materials, o.Material)
	id |= tag
	pos, rot, size := uvec3(o.Position), radians(o.Rotation), uvec3(o.Size)
	switch o.Shape {
	case "rect":
		return object.CreateRect(f, pos, rot, uvec2([2]uint32{o.Size[0], o.Size[1]}), id)
	case "box":
		return object.CreateBox(f, pos, rot, size, id)
	case "ellipse":
		return object.CreateEllipse(f, pos, rot, uvec2([2]uint32{o.Size[0], o.Size[1]}), id)
	case "ellipsoid":
		return object.CreateEllipsoid(f, pos, rot, size, id)
	case "cylinder":
		return object.CreateCylinder(f, pos, rot, size, id)
	case "stl":
		m, err := mesh.LoadSTL(s.path(o.Path))
		if err != nil {
			return err
		}
		origin := r3.Vec{X: o.Origin[0], Y: o.Origin[1], Z: o.Origin[2]}
		voxels := m.Voxelize(f.Size(), origin, o.Scale, id)
		return object.LoadVoxelMapFrom(f, bytes.NewReader(voxels), o.Path)
	}
	return &compute.ValidationError{Subject: "object", Reason: fmt.Sprintf("unknown shape %q", o.Shape)}
}

func (s *Scenario) exportElements(name string, set *transducer.ElementSet) error {
	dir := s.path(s.Elements)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &compute.FileIOError{Path: dir, Frame: -1, Err: err}
	}
	path := filepath.Join(dir, name+".elements")
	file, err := os.Create(path)
	if err != nil {
		return &compute.FileIOError{Path: path, Frame: -1, Err: err}
	}
	_, err = set.WriteTo(file)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return &compute.FileIOError{Path: path, Frame: -1, Err: err}
	}
	return nil
}

// Run drives, scans and steps the field for the configured number of steps,
// scans the final state and finalises RMS tracking.
func (sim *Simulation) Run(ctx context.Context) (*Result, error) {
	s, f := sim.Scenario, sim.Field
	dt := float64(f.Dt())
	progress := max(s.Steps/10, 1)
	for n := 0; n < s.Steps; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, d := range sim.drivers {
			if err := d.Drive(d.signal.Value(n, dt)); err != nil {
				return nil, fmt.Errorf("step %d: driver %s: %w", n, d.name, err)
			}
		}
		if err := sim.scan(); err != nil {
			return nil, fmt.Errorf("step %d: %w", n, err)
		}
		if err := f.SimStep(); err != nil {
			return nil, fmt.Errorf("step %d: %w", n, err)
		}
		if (n+1)%progress == 0 {
			sim.logger.Info("simulating", sim.logger.Args("step", n+1, "of", s.Steps))
		}
	}
	if err := sim.scan(); err != nil {
		return nil, err
	}

	result := &Result{
		Steps:    f.StepsCalculated(),
		Elements: map[string]int{},
		Records:  map[string]int{},
	}
	for _, d := range sim.drivers {
		result.Elements[d.name] = d.Elements().Count()
	}
	for i, sc := range sim.scanners {
		result.Records[s.Scanners[i].Name] = sc.Records()
	}
	if f.RmsEnabled() {
		peak, err := sim.finishRms()
		if err != nil {
			return nil, err
		}
		result.PeakRms = peak
	}
	return result, nil
}

func (sim *Simulation) scan() error {
	for _, sc := range sim.scanners {
		if err := sc.ScanToDeviceBuffer(); err != nil {
			return err
		}
	}
	for _, sc := range sim.scanners {
		if err := sc.ScanToFile(); err != nil {
			return err
		}
	}
	return nil
}

func (sim *Simulation) finishRms() (float32, error) {
	f := sim.Field
	if err := f.FinishRms(); err != nil {
		return 0, err
	}
	m, err := f.MapRmsForRead()
	if err != nil {
		return 0, err
	}
	defer m.Release()
	values, err := m.Float32s()
	if err != nil {
		return 0, err
	}
	var peak float32
	for _, v := range values {
		peak = max(peak, v)
	}
	if out := sim.Scenario.Rms.Output; out != "" {
		path := sim.Scenario.path(out)
		if err = os.WriteFile(path, compute.Bytes(values), 0o644); err != nil {
			return 0, &compute.FileIOError{Path: path, Frame: -1, Err: err}
		}
	}
	return peak, nil
}

// Close flushes the scanners and releases every device resource
func (sim *Simulation) Close() error {
	var first error
	for _, sc := range sim.scanners {
		if err := sc.Close(); err != nil && first == nil {
			first = err
		}
	}
	for _, d := range sim.drivers {
		d.Release()
	}
	sim.Field.Close()
	return first
}
