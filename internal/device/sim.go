package device

import "fmt"

// SimDetector is an in-memory Detector.
type SimDetector struct {
	DetName string
	AcqTime float64
	images  int
}

// NewSimDetector returns a simulated detector with the given frame time.
func NewSimDetector(name string, acqTime float64) *SimDetector {
	return &SimDetector{DetName: name, AcqTime: acqTime, images: 1}
}

func (d *SimDetector) Name() string         { return d.DetName }
func (d *SimDetector) AcquireTime() float64 { return d.AcqTime }
func (d *SimDetector) ImagesPerSet() int    { return d.images }

func (d *SimDetector) SetImagesPerSet(n int) error {
	if n < 1 {
		return fmt.Errorf("device: %s: images per set must be positive, got %d", d.DetName, n)
	}
	d.images = n
	return nil
}

// SimTempCtrl records the last requested temperature.
type SimTempCtrl struct {
	CtrlName string
	Setpoint float64
	History  []float64
}

func (c *SimTempCtrl) Name() string { return c.CtrlName }

func (c *SimTempCtrl) SetTemperature(kelvin float64) error {
	c.Setpoint = kelvin
	c.History = append(c.History, kelvin)
	return nil
}

// SimShutter tracks open/closed state.
type SimShutter struct {
	ShutterName string
	Closed      bool
}

func (s *SimShutter) Name() string { return s.ShutterName }
func (s *SimShutter) Close() error { s.Closed = true; return nil }
func (s *SimShutter) Open() error  { s.Closed = false; return nil }

// SimContext returns a fully simulated hardware context using the XPD
// device names.
func SimContext(acqTime float64) Context {
	return Context{
		Detector: NewSimDetector("pe1c", acqTime),
		TempCtrl: &SimTempCtrl{CtrlName: "cs700"},
		Shutter:  &SimShutter{ShutterName: "shctl1"},
	}
}
