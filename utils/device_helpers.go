package utils

import (
	"fmt"
	"os"
	"strings"

	"github.com/notargets/gocca"
	"github.com/pterm/pterm"
)

// DeviceModes lists the OCCA device properties tried in order, parallel
// backends first
var DeviceModes = []string{
	`{"mode": "OpenMP"}`,
	`{"mode": "CUDA", "device_id": 0}`,
	`{"mode": "Serial"}`,
}

// CreateDevice creates the first OCCA device that initialises. A mode name
// such as "CUDA" restricts the search to that mode, "" tries all of them.
func CreateDevice(mode string) (*gocca.OCCADevice, error) {
	var tried []string
	for _, props := range DeviceModes {
		if mode != "" && !strings.Contains(props, `"`+mode+`"`) {
			continue
		}
		device, err := gocca.NewDevice(props)
		if err == nil {
			pterm.Info.Printfln("Created %s device", device.Mode())
			return device, nil
		}
		tried = append(tried, fmt.Sprintf("%s: %v", props, err))
	}
	if len(tried) == 0 {
		return nil, fmt.Errorf("unknown OCCA mode %q", mode)
	}
	return nil, fmt.Errorf("no OCCA device available:\n  %s", strings.Join(tried, "\n  "))
}

// CreateTestDevice creates a device for testing. FAS_OCCA_MODE selects a
// specific mode.
func CreateTestDevice() *gocca.OCCADevice {
	device, err := CreateDevice(os.Getenv("FAS_OCCA_MODE"))
	if err != nil {
		panic(err)
	}
	return device
}
