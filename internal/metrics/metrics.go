// Package metrics holds the Prometheus collectors for the mount controller.
//
// All methods are safe to call on a nil *Collector, so components can be built
// without metrics in tests.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/w1xm/mount_control/rotator"
)

type Collector struct {
	ControlCycles   prometheus.Counter
	Commands        *prometheus.CounterVec
	TransportErrors prometheus.Counter
	Sessions        *prometheus.CounterVec

	AttitudeErrors prometheus.Counter
	Frames         prometheus.Counter
	DroppedTokens  prometheus.Counter

	Orientation *prometheus.GaugeVec
}

// New registers the collectors against reg, defaulting to the global registry when nil.
// Registering twice against the same registry returns the existing collectors.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	var (
		c   Collector
		err error
	)
	if c.ControlCycles, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mount_control_cycles_total",
		Help: "Control loop iterations.",
	}), "mount_control_cycles_total"); err != nil {
		return nil, err
	}
	if c.Commands, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mount_commands_total",
		Help: "Commands issued by the controller, labeled by command text.",
	}, []string{"command"}), "mount_commands_total"); err != nil {
		return nil, err
	}
	if c.TransportErrors, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mount_transport_errors_total",
		Help: "Failed writes to the relay link.",
	}), "mount_transport_errors_total"); err != nil {
		return nil, err
	}
	if c.Sessions, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mount_sessions_total",
		Help: "Finished control sessions, labeled by final state.",
	}, []string{"state"}), "mount_sessions_total"); err != nil {
		return nil, err
	}
	if c.AttitudeErrors, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mount_attitude_read_errors_total",
		Help: "Sensor register reads that failed and fell back to a zero orientation.",
	}), "mount_attitude_read_errors_total"); err != nil {
		return nil, err
	}
	if c.Frames, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "imu_frames_total",
		Help: "Sensor frames decoded from the stream.",
	}), "imu_frames_total"); err != nil {
		return nil, err
	}
	if c.DroppedTokens, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "imu_dropped_tokens_total",
		Help: "Stream tokens discarded while resynchronising on a frame header.",
	}), "imu_dropped_tokens_total"); err != nil {
		return nil, err
	}
	if c.Orientation, err = registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mount_orientation_degrees",
		Help: "Current and target orientation.",
	}, []string{"kind", "axis"}), "mount_orientation_degrees"); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Collector) Cycle() {
	if c == nil {
		return
	}
	c.ControlCycles.Inc()
}

func (c *Collector) Command(cmd rotator.Command) {
	if c == nil {
		return
	}
	c.Commands.WithLabelValues(cmd.String()).Inc()
}

func (c *Collector) TransportError() {
	if c == nil {
		return
	}
	c.TransportErrors.Inc()
}

func (c *Collector) SessionEnded(state string) {
	if c == nil {
		return
	}
	c.Sessions.WithLabelValues(state).Inc()
}

func (c *Collector) AttitudeError() {
	if c == nil {
		return
	}
	c.AttitudeErrors.Inc()
}

func (c *Collector) Frame() {
	if c == nil {
		return
	}
	c.Frames.Inc()
}

func (c *Collector) Dropped(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.DroppedTokens.Add(float64(n))
}

// Observe records the current and target orientation.
func (c *Collector) Observe(current, target rotator.Orientation) {
	if c == nil {
		return
	}
	c.Orientation.WithLabelValues("current", "azimuth").Set(current.Azimuth)
	c.Orientation.WithLabelValues("current", "altitude").Set(current.Altitude)
	c.Orientation.WithLabelValues("target", "azimuth").Set(target.Azimuth)
	c.Orientation.WithLabelValues("target", "altitude").Set(target.Altitude)
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
