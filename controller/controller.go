// Package controller closes the loop between an attitude source and the relay board
// with a bang-bang law: each axis is driven at full rate toward the target until it
// is within the tolerance band.
package controller

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/w1xm/mount_control/attitude"
	"github.com/w1xm/mount_control/internal/metrics"
	"github.com/w1xm/mount_control/rotator"
	"go.uber.org/zap"
)

const (
	DefaultPeriod    = 5 * time.Millisecond
	DefaultStopBurst = 10
	DefaultTolerance = 1.0
)

// Transport carries commands to the relay board.
type Transport interface {
	Send(cmd rotator.Command) error
	Close() error
}

type Config struct {
	Mode Mode
	// Source provides feedback. Simulation and Hybrid need a simulated source.
	Source rotator.Source
	// Dial opens the relay board in Hybrid and Real modes.
	Dial func() (Transport, error)
	// Fallback builds the source used when Real mode falls back to Simulation.
	// Defaults to a simulated source with default rates.
	Fallback func() rotator.Source
	// Strict disables the fallback from Real to Simulation.
	Strict bool
	// Target is the initial target. It is not normalized, so an out of range
	// altitude is reported when the loop starts.
	Target *rotator.Orientation

	Period    time.Duration
	StopBurst int
	Tolerance float64
	Clock     clock.Clock
	Metrics   *metrics.Collector
}

type Controller struct {
	mode      Mode
	transport Transport
	period    time.Duration
	stopBurst int
	tolerance float64
	clock     clock.Clock
	metrics   *metrics.Collector
	logger    *zap.SugaredLogger

	mu          sync.Mutex
	source      rotator.Source
	target      rotator.Orientation
	state       State
	lastCommand rotator.Command

	closeOnce sync.Once
	closeErr  error
}

// New builds a controller, opening the relay board when the mode needs one.
// If the board cannot be opened, Hybrid fails with ErrConnection and Real falls back
// to Simulation unless cfg.Strict is set.
func New(cfg Config, logger *zap.SugaredLogger) (*Controller, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	c := &Controller{
		mode:        cfg.Mode,
		source:      cfg.Source,
		period:      cfg.Period,
		stopBurst:   cfg.StopBurst,
		tolerance:   cfg.Tolerance,
		clock:       cfg.Clock,
		metrics:     cfg.Metrics,
		logger:      logger,
		target:      rotator.Orientation{Azimuth: 0, Altitude: rotator.MinAltitude},
		lastCommand: rotator.Command{Azimuth: rotator.Hold, Elevation: rotator.Hold},
	}
	if _, ok := modeNames[c.mode]; !ok {
		return nil, fmt.Errorf("%w: unknown mode %d", ErrInvalidArgument, int(c.mode))
	}
	if c.period == 0 {
		c.period = DefaultPeriod
	}
	if c.stopBurst == 0 {
		c.stopBurst = DefaultStopBurst
	}
	if c.tolerance == 0 {
		c.tolerance = DefaultTolerance
	}
	if c.clock == nil {
		c.clock = clock.New()
	}
	if cfg.Target != nil {
		c.target = *cfg.Target
	}

	if c.mode.Actuates() {
		t, err := dial(cfg.Dial)
		switch {
		case err == nil:
			c.transport = t
			if c.mode == Hybrid {
				logger.Infof("hybrid mode: simulated feedback with relay board actuation")
			}
		case c.mode == Hybrid || cfg.Strict:
			return nil, err
		default:
			logger.Errorf("%v; falling back to simulation", err)
			c.mode = Simulation
			if cfg.Fallback != nil {
				c.source = cfg.Fallback()
			} else {
				c.source = attitude.NewSimulated(attitude.SimulatedConfig{}, c.clock)
			}
		}
	}
	logger.Infof("controller ready in %v mode", c.mode)
	return c, nil
}

func dial(d func() (Transport, error)) (Transport, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: no relay board configured", ErrConnection)
	}
	t, err := d()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return t, nil
}

// SetTarget resolves and stores the target. Azimuth is wrapped and altitude clamped
// to the mount limits.
func (c *Controller) SetTarget(t rotator.Target) error {
	var o rotator.Orientation
	switch {
	case t.Horizontal != nil && t.Equatorial != nil:
		return fmt.Errorf("%w: both horizontal and equatorial target given", ErrInvalidArgument)
	case t.Horizontal != nil:
		o = *t.Horizontal
	case t.Equatorial != nil:
		eq := *t.Equatorial
		if eq.Time.IsZero() {
			return fmt.Errorf("%w: equatorial target needs an observation time", ErrInvalidArgument)
		}
		for _, v := range []float64{eq.RightAscension, eq.Declination, eq.Latitude, eq.Longitude} {
			if !finite(v) {
				return fmt.Errorf("%w: non-finite equatorial coordinate", ErrInvalidArgument)
			}
		}
		o = rotator.EquatorialToHorizontal(eq)
	default:
		return fmt.Errorf("%w: no target given", ErrInvalidArgument)
	}
	if !finite(o.Azimuth) || !finite(o.Altitude) {
		return fmt.Errorf("%w: non-finite target %+v", ErrInvalidArgument, o)
	}
	o = o.Normalize()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Running {
		return ErrBusy
	}
	c.target = o
	c.logger.Infof("target set: azimuth=%.2f° altitude=%.2f°", o.Azimuth, o.Altitude)
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// azimuthDirection drives clockwise unless the wrapped error is inside the band.
// The error is taken modulo 360 first, so counter-clockwise is only chosen for an
// error of exactly the tolerance.
func azimuthDirection(target, current, tol float64) rotator.Direction {
	e := rotator.WrapAzimuth(target - current)
	switch {
	case math.Abs(e) < tol:
		return rotator.Stop
	case e > tol:
		return rotator.Clockwise
	default:
		return rotator.CounterClockwise
	}
}

func altitudeDirection(target, current, tol float64) rotator.Direction {
	e := target - current
	switch {
	case math.Abs(e) < tol:
		return rotator.Stop
	case e > tol:
		return rotator.Raise
	default:
		return rotator.Lower
	}
}

// Run drives the mount until it arrives at the target, the target is found to be
// invalid, or ctx is canceled. It returns nil on arrival.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.state == Running {
		c.mu.Unlock()
		return ErrBusy
	}
	c.state = Running
	target := c.target
	src := c.source
	c.mu.Unlock()

	c.logger.Infof("slewing to azimuth=%.2f° altitude=%.2f° in %v mode", target.Azimuth, target.Altitude, c.mode)
	ticker := c.clock.Ticker(c.period)
	defer ticker.Stop()
	waiting := false
	for {
		if err := ctx.Err(); err != nil {
			c.setState(Stopped)
			c.logger.Infof("control loop stopped")
			return err
		}
		if src == nil {
			c.logger.Errorf("no attitude source in %v mode", c.mode)
			c.setState(Failed)
			return ErrNoAttitudeSource
		}
		if !rotator.Ready(src) {
			// No commands go out until the source has a real reading.
			if !waiting {
				c.logger.Infof("waiting for the first attitude sample")
				waiting = true
			}
			select {
			case <-ctx.Done():
			case <-ticker.C:
			}
			continue
		}
		current := src.Attitude()
		c.metrics.Cycle()
		c.metrics.Observe(current, target)
		c.logger.Debugf("current (%.2f°, %.2f°) target (%.2f°, %.2f°)", current.Azimuth, current.Altitude, target.Azimuth, target.Altitude)

		az := azimuthDirection(target.Azimuth, current.Azimuth, c.tolerance)
		if !rotator.AltitudeInRange(target.Altitude) {
			c.logger.Errorf("target altitude %.2f° is outside [%v, %v]", target.Altitude, rotator.MinAltitude, rotator.MaxAltitude)
			c.setState(Failed)
			return fmt.Errorf("%w: target altitude %.2f° outside [%v, %v]", ErrConfiguration, target.Altitude, rotator.MinAltitude, rotator.MaxAltitude)
		}
		alt := altitudeDirection(target.Altitude, current.Altitude, c.tolerance)

		if az == rotator.Stop && alt == rotator.Stop {
			c.logger.Infof("arrived at azimuth=%.2f° altitude=%.2f°", current.Azimuth, current.Altitude)
			for i := 0; i < c.stopBurst; i++ {
				c.send(rotator.StopCommand)
				<-ticker.C
			}
			c.setState(Arrived)
			return nil
		}

		c.send(rotator.Command{Azimuth: az, Elevation: alt})
		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
}

// send writes cmd to the relay board when the mode actuates and forwards it to the
// simulated source when the mode simulates. Write errors are logged and dropped.
func (c *Controller) send(cmd rotator.Command) {
	c.metrics.Command(cmd)
	c.mu.Lock()
	c.lastCommand = cmd
	src := c.source
	c.mu.Unlock()
	if c.mode.Actuates() && c.transport != nil {
		if err := c.transport.Send(cmd); err != nil {
			c.logger.Errorf("sending %s: %v", cmd, err)
			c.metrics.TransportError()
		}
	}
	if c.mode.Simulates() && src != nil {
		src.ProcessCommand(cmd)
	}
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// Close stops the mount and releases the relay board. It is safe to call more than once.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		if c.transport == nil {
			return
		}
		if err := c.transport.Send(rotator.StopCommand); err != nil {
			c.logger.Errorf("sending final stop: %v", err)
		}
		c.closeErr = c.transport.Close()
		if c.closeErr == nil {
			c.logger.Infof("relay board closed")
		}
	})
	return c.closeErr
}

func (c *Controller) Mode() Mode {
	return c.mode
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Target() rotator.Orientation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

func (c *Controller) Source() rotator.Source {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.source
}

// Attitude reads the current orientation, or the zero orientation without a source.
func (c *Controller) Attitude() rotator.Orientation {
	src := c.Source()
	if src == nil {
		return rotator.Orientation{}
	}
	return src.Attitude()
}

// LastCommand returns the most recent command sent, with both axes on Hold before the first.
func (c *Controller) LastCommand() rotator.Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCommand
}
