package rotator

import (
	"errors"
	"math"
)

// ErrConnection reports that a transport or sensor bus could not be opened.
var ErrConnection = errors.New("connection failed")

const (
	// MinAltitude and MaxAltitude are the mechanical elevation limits of the mount, in degrees.
	MinAltitude = 20.0
	MaxAltitude = 90.0
)

// Orientation is a pointing direction in decimal degrees.
type Orientation struct {
	Azimuth  float64 `json:"azimuth"`
	Altitude float64 `json:"altitude"`
}

// Normalize wraps the azimuth into [0,360) and clamps the altitude to the mount limits.
func (o Orientation) Normalize() Orientation {
	return Orientation{
		Azimuth:  WrapAzimuth(o.Azimuth),
		Altitude: ClampAltitude(o.Altitude),
	}
}

// Source reports the current orientation of the mount.
// Simulated sources follow the commands passed to ProcessCommand; sources backed by a
// sensor report ground truth and ignore them.
type Source interface {
	Attitude() Orientation
	ProcessCommand(cmd Command)
}

// Readier is implemented by sources that have no reading until their first sample.
type Readier interface {
	Ready() bool
}

// Ready reports whether src has a reading. Sources that are not a Readier always do.
func Ready(src Source) bool {
	if r, ok := src.(Readier); ok {
		return r.Ready()
	}
	return true
}

// Target selects a pointing target either directly in horizontal coordinates or as an
// equatorial position to be resolved for an observer. Exactly one must be set.
type Target struct {
	Horizontal *Orientation
	Equatorial *Equatorial
}

// WrapAzimuth returns angle modulo 360 in [0,360).
func WrapAzimuth(angle float64) float64 {
	angle = math.Mod(angle, 360)
	if angle < 0 {
		angle += 360
	}
	// A tiny negative remainder rounds up to exactly 360.
	if angle >= 360 {
		angle -= 360
	}
	return angle
}

func ClampAltitude(angle float64) float64 {
	return math.Max(MinAltitude, math.Min(MaxAltitude, angle))
}

// AltitudeInRange reports whether angle lies within the mount limits.
func AltitudeInRange(angle float64) bool {
	return angle >= MinAltitude && angle <= MaxAltitude
}
