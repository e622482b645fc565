// Package scenario describes a complete simulation in YAML and runs it.
package scenario

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/notargets/FAS/compute"
	"github.com/notargets/FAS/field"
	"github.com/notargets/FAS/geometry"
	"github.com/notargets/FAS/material"
	"gopkg.in/yaml.v3"
)

type Scenario struct {
	Name      string              `yaml:"name"`
	Size      [3]uint32           `yaml:"size"`
	Dx        float32             `yaml:"dx"`
	Dt        float32             `yaml:"dt"`
	Steps     int                 `yaml:"steps"`
	Profile   bool                `yaml:"profile"`
	Materials []material.Material `yaml:"materials"`
	Objects   []ObjectSpec        `yaml:"objects"`
	Drivers   []DriverSpec        `yaml:"drivers"`
	Scanners  []ScannerSpec       `yaml:"scanners"`
	Rms       *RmsSpec            `yaml:"rms"`
	// Elements, when set, receives one element file per driver
	Elements string `yaml:"elements"`

	// BaseDir resolves relative paths, it is the directory of the loaded file
	BaseDir string `yaml:"-"`
}

// ObjectSpec places one primitive, voxel map or STL mesh. Rotation is in
// degrees about X, then Y, then Z.
type ObjectSpec struct {
	Shape    string     `yaml:"shape"`
	Material string     `yaml:"material"`
	Position [3]uint32  `yaml:"position"`
	Rotation [3]float64 `yaml:"rotation"`
	Size     [3]uint32  `yaml:"size"`
	Path     string     `yaml:"path"`
	// Origin and Scale map STL coordinates to voxels: voxel (i,j,k) starts
	// at Origin + Scale*(i,j,k) in mesh units
	Origin [3]float64 `yaml:"origin"`
	Scale  float64    `yaml:"scale"`
}

type DriverSpec struct {
	Name    string       `yaml:"name"`
	Objects []ObjectSpec `yaml:"objects"`
	Signal  SignalSpec   `yaml:"signal"`
}

type ScannerSpec struct {
	Name     string     `yaml:"name"`
	Position [3]uint32  `yaml:"position"`
	Rotation [3]float64 `yaml:"rotation"`
	Size     [2]uint32  `yaml:"size"`
	Output   string     `yaml:"output"`
	Stride   uint32     `yaml:"stride"`
}

// RmsSpec enables RMS tracking with a window spanning the whole run
type RmsSpec struct {
	Window string `yaml:"window"`
	Output string `yaml:"output"`
}

// Load reads and validates a scenario file
func Load(path string) (*Scenario, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, &compute.FileIOError{Path: path, Frame: -1, Err: err}
	}
	defer file.Close()
	s, err := Decode(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.BaseDir = filepath.Dir(path)
	return s, nil
}

// Decode parses a scenario, rejecting unknown keys, and applies defaults
func Decode(r io.Reader) (*Scenario, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	s := &Scenario{}
	if err := dec.Decode(s); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Parse decodes a scenario held in memory
func Parse(data []byte) (*Scenario, error) { return Decode(bytes.NewReader(data)) }

// Validate applies defaults and checks references between sections
func (s *Scenario) Validate() error {
	if s.Steps <= 0 {
		return &compute.ValidationError{Subject: "steps", Reason: "must be positive"}
	}
	if len(s.Materials) == 0 {
		return &compute.ValidationError{Subject: "materials", Reason: "at least one material is required"}
	}
	check := func(owner string, o *ObjectSpec) error {
		switch o.Shape {
		case "rect", "box", "ellipse", "ellipsoid", "cylinder":
		case "voxelmap":
			if o.Path == "" {
				return &compute.ValidationError{Subject: owner, Reason: "voxelmap needs a path"}
			}
			return nil
		case "stl":
			if o.Path == "" {
				return &compute.ValidationError{Subject: owner, Reason: "stl needs a path"}
			}
			if o.Scale == 0 {
				o.Scale = 1
			}
		default:
			return &compute.ValidationError{Subject: owner, Reason: fmt.Sprintf("unknown shape %q", o.Shape)}
		}
		if _, ok := material.Index(s.Materials, o.Material); !ok {
			return &compute.ValidationError{Subject: owner, Reason: fmt.Sprintf("unknown material %q", o.Material)}
		}
		return nil
	}
	for i := range s.Objects {
		if err := check(fmt.Sprintf("object %d", i), &s.Objects[i]); err != nil {
			return err
		}
	}
	// ids from TagBit up already read as tagged, so collection would pick them up
	if len(s.Drivers) > 0 && len(s.Materials) > int(compute.TagBit) {
		return &compute.ValidationError{Subject: "materials",
			Reason: fmt.Sprintf("%d entries, scenarios with drivers allow at most %d", len(s.Materials), compute.TagBit)}
	}
	for i := range s.Drivers {
		d := &s.Drivers[i]
		if d.Name == "" {
			d.Name = fmt.Sprintf("driver%d", i)
		}
		if len(d.Objects) == 0 {
			return &compute.ValidationError{Subject: "driver " + d.Name, Reason: "no objects"}
		}
		for j := range d.Objects {
			if d.Objects[j].Shape == "voxelmap" {
				return &compute.ValidationError{Subject: "driver " + d.Name, Reason: "voxel maps cannot be tagged"}
			}
			if err := check(fmt.Sprintf("driver %s object %d", d.Name, j), &d.Objects[j]); err != nil {
				return err
			}
		}
		if err := d.Signal.validate(); err != nil {
			return fmt.Errorf("driver %s: %w", d.Name, err)
		}
	}
	for i := range s.Scanners {
		sc := &s.Scanners[i]
		if sc.Name == "" {
			sc.Name = fmt.Sprintf("scanner%d", i)
		}
		if sc.Output == "" {
			return &compute.ValidationError{Subject: "scanner " + sc.Name, Reason: "no output"}
		}
		if sc.Stride == 0 {
			sc.Stride = 1
		}
	}
	if s.Rms != nil {
		if _, err := s.Rms.window(1); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scenario) path(p string) string {
	if p == "" || filepath.IsAbs(p) || s.BaseDir == "" {
		return p
	}
	return filepath.Join(s.BaseDir, p)
}

func (r *RmsSpec) window(n int) ([]float32, error) {
	switch r.Window {
	case "", "rect":
		return field.RectWindow(n), nil
	case "hann":
		return field.HannWindow(n), nil
	case "hamming":
		return field.HammingWindow(n), nil
	}
	return nil, &compute.ValidationError{Subject: "rms window", Reason: fmt.Sprintf("unknown window %q", r.Window)}
}

func uvec3(v [3]uint32) geometry.UVec3 { return geometry.UVec3{X: v[0], Y: v[1], Z: v[2]} }

func radians(deg [3]float64) geometry.Vec3 {
	return geometry.Vec3{X: deg[0] * math.Pi / 180, Y: deg[1] * math.Pi / 180, Z: deg[2] * math.Pi / 180}
}

func uvec2(v [2]uint32) geometry.UVec2 { return geometry.UVec2{X: v[0], Y: v[1]} }
