package attitude

import (
	"sync"

	"github.com/w1xm/mount_control/rotator"
)

// Offset corrects a source for how the sensor is mounted.
type Offset struct {
	rotator.Source
	mu sync.Mutex
	// offsetAz and offsetAlt are added to the reported orientation.
	offsetAz, offsetAlt float64
}

func add(angle, offset float64) float64 {
	return rotator.WrapAzimuth(angle + offset)
}

func NewOffset(src rotator.Source, offsetAz, offsetAlt float64) *Offset {
	return &Offset{Source: src, offsetAz: offsetAz, offsetAlt: offsetAlt}
}

func (o *Offset) Attitude() rotator.Orientation {
	a := o.Source.Attitude()
	o.mu.Lock()
	defer o.mu.Unlock()
	return rotator.Orientation{
		Azimuth:  add(a.Azimuth, o.offsetAz),
		Altitude: a.Altitude + o.offsetAlt,
	}
}

func (o *Offset) Ready() bool {
	return rotator.Ready(o.Source)
}

func (o *Offset) SetAzimuthOffset(offset float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.offsetAz = offset
}

func (o *Offset) SetAltitudeOffset(offset float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.offsetAlt = offset
}

func (o *Offset) Offsets() (az, alt float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.offsetAz, o.offsetAlt
}
