package scenario

import (
	"fmt"
	"math"

	"github.com/notargets/FAS/compute"
)

// SignalSpec is the pressure waveform applied by a driver
type SignalSpec struct {
	// Type is one of sine, burst or impulse
	Type      string  `yaml:"type"`
	Frequency float64 `yaml:"frequency"`
	Amplitude float32 `yaml:"amplitude"`
	// Cycles bounds a burst
	Cycles float64 `yaml:"cycles"`
	// Delay holds the signal at zero for the first Delay steps
	Delay int `yaml:"delay"`
}

func (s *SignalSpec) validate() error {
	switch s.Type {
	case "sine", "burst":
		if !(s.Frequency > 0) {
			return &compute.ValidationError{Subject: "signal frequency", Reason: "must be positive"}
		}
		if s.Type == "burst" && !(s.Cycles > 0) {
			return &compute.ValidationError{Subject: "signal cycles", Reason: "must be positive"}
		}
	case "impulse":
	default:
		return &compute.ValidationError{Subject: "signal type", Reason: fmt.Sprintf("unknown type %q", s.Type)}
	}
	if s.Amplitude == 0 {
		s.Amplitude = 1
	}
	return nil
}

// Value returns the signal at simulation step n for a time step of dt seconds
func (s SignalSpec) Value(n int, dt float64) float32 {
	n -= s.Delay
	if n < 0 {
		return 0
	}
	t := float64(n) * dt
	switch s.Type {
	case "impulse":
		if n == 0 {
			return s.Amplitude
		}
		return 0
	case "burst":
		if t*s.Frequency >= s.Cycles {
			return 0
		}
	}
	return s.Amplitude * float32(math.Sin(2*math.Pi*s.Frequency*t))
}
