// Package device declares the hardware collaborators acquisition plans are
// built against, plus simulated stand-ins for tests and dry runs.
package device

import (
	"errors"
	"fmt"
)

// ErrNoDetector is returned when a plan is materialized without a detector.
var ErrNoDetector = errors.New("device: no detector configured")

// Detector is an area detector acquiring fixed-length frames that are summed
// into one image per set.
type Detector interface {
	Name() string
	// AcquireTime is the per-frame acquisition time in seconds.
	AcquireTime() float64
	ImagesPerSet() int
	SetImagesPerSet(n int) error
}

// TemperatureController drives the sample environment temperature.
type TemperatureController interface {
	Name() string
	SetTemperature(kelvin float64) error
}

// Shutter blocks the beam for dark exposures.
type Shutter interface {
	Name() string
	Close() error
	Open() error
}

// Context is the hardware configured at the moment a plan is materialized.
type Context struct {
	Detector Detector
	TempCtrl TemperatureController
	Shutter  Shutter // optional
}

// RequireDetector returns the detector or ErrNoDetector.
func (c Context) RequireDetector() (Detector, error) {
	if c.Detector == nil {
		return nil, ErrNoDetector
	}
	return c.Detector, nil
}

// RequireTempCtrl returns the temperature controller or an error naming plan.
func (c Context) RequireTempCtrl(plan string) (TemperatureController, error) {
	if c.TempCtrl == nil {
		return nil, fmt.Errorf("device: %s needs a temperature controller", plan)
	}
	return c.TempCtrl, nil
}

// Exposure returns the detector's currently configured exposure in seconds.
func Exposure(d Detector) float64 {
	return float64(d.ImagesPerSet()) * d.AcquireTime()
}
