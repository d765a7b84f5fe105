package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/w1xm/mount_control/rotator"
)

func TestCollectorRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.Cycle()
	c.Cycle()
	c.Command(rotator.Command{Azimuth: rotator.Clockwise, Elevation: rotator.Raise})
	c.Command(rotator.StopCommand)
	c.Command(rotator.StopCommand)
	c.Dropped(3)
	c.Dropped(0)
	c.Observe(rotator.Orientation{Azimuth: 10, Altitude: 30}, rotator.Orientation{Azimuth: 90, Altitude: 45})

	if got := testutil.ToFloat64(c.ControlCycles); got != 2 {
		t.Errorf("cycles = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.Commands.WithLabelValues("AZ0EL0")); got != 2 {
		t.Errorf("stop commands = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.DroppedTokens); got != 3 {
		t.Errorf("dropped = %v, want 3", got)
	}
	if got := testutil.ToFloat64(c.Orientation.WithLabelValues("target", "altitude")); got != 45 {
		t.Errorf("target altitude gauge = %v, want 45", got)
	}
}

func TestCollectorReRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := New(reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := New(reg)
	if err != nil {
		t.Fatalf("second New: %v", err)
	}
	a.Cycle()
	if got := testutil.ToFloat64(b.ControlCycles); got != 1 {
		t.Errorf("collectors not shared: got %v", got)
	}
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	c.Cycle()
	c.Command(rotator.StopCommand)
	c.TransportError()
	c.SessionEnded("arrived")
	c.AttitudeError()
	c.Frame()
	c.Dropped(1)
	c.Observe(rotator.Orientation{}, rotator.Orientation{})
}
