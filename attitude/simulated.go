// Package attitude provides the orientation sources the controller closes its loop on.
package attitude

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/w1xm/mount_control/rotator"
)

const (
	DefaultAzimuthRate  = 30.0
	DefaultAltitudeRate = 50.0
)

type SimulatedConfig struct {
	// AzimuthRate and AltitudeRate are slew rates in degrees per second.
	AzimuthRate  float64 `yaml:"azimuth_rate"`
	AltitudeRate float64 `yaml:"altitude_rate"`
	// Initial is the starting orientation. A nil Initial starts at azimuth 0, altitude 90.
	Initial *rotator.Orientation `yaml:"initial"`
}

// Simulated models a mount that slews at a constant rate in whichever direction each
// axis was last commanded.
type Simulated struct {
	clock        clock.Clock
	azRate       float64
	altRate      float64
	mu           sync.Mutex
	orientation  rotator.Orientation
	azDirection  rotator.Direction
	altDirection rotator.Direction
	lastUpdate   time.Time
}

func NewSimulated(cfg SimulatedConfig, clk clock.Clock) *Simulated {
	if clk == nil {
		clk = clock.New()
	}
	s := &Simulated{
		clock:        clk,
		azRate:       cfg.AzimuthRate,
		altRate:      cfg.AltitudeRate,
		orientation:  rotator.Orientation{Azimuth: 0, Altitude: rotator.MaxAltitude},
		azDirection:  rotator.Stop,
		altDirection: rotator.Stop,
		lastUpdate:   clk.Now(),
	}
	if s.azRate == 0 {
		s.azRate = DefaultAzimuthRate
	}
	if s.altRate == 0 {
		s.altRate = DefaultAltitudeRate
	}
	if cfg.Initial != nil {
		s.orientation = cfg.Initial.Normalize()
	}
	return s
}

func (s *Simulated) Attitude() rotator.Orientation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orientation
}

// ProcessCommand latches the directions in cmd, then advances both axes by the time
// elapsed since the previous command. Axes on Hold keep their previous direction.
func (s *Simulated) ProcessCommand(cmd rotator.Command) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cmd.Azimuth != rotator.Hold {
		s.azDirection = cmd.Azimuth
	}
	if cmd.Elevation != rotator.Hold {
		s.altDirection = cmd.Elevation
	}
	now := s.clock.Now()
	dt := now.Sub(s.lastUpdate).Seconds()
	s.lastUpdate = now

	switch s.azDirection {
	case rotator.Clockwise:
		s.orientation.Azimuth = rotator.WrapAzimuth(s.orientation.Azimuth + s.azRate*dt)
	case rotator.CounterClockwise:
		s.orientation.Azimuth = rotator.WrapAzimuth(s.orientation.Azimuth - s.azRate*dt)
	}
	switch s.altDirection {
	case rotator.Raise:
		s.orientation.Altitude = rotator.ClampAltitude(s.orientation.Altitude + s.altRate*dt)
	case rotator.Lower:
		s.orientation.Altitude = rotator.ClampAltitude(s.orientation.Altitude - s.altRate*dt)
	}
}

// Directions returns the currently latched azimuth and altitude directions.
func (s *Simulated) Directions() (az, alt rotator.Direction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.azDirection, s.altDirection
}
