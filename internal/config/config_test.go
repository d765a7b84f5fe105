package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/w1xm/mount_control/controller"
	"github.com/w1xm/mount_control/rotator"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := ControllerConfig{
		Mode:        controller.Simulation,
		Period:      5 * time.Millisecond,
		StopBurst:   10,
		Tolerance:   1,
		SampleEvery: 500 * time.Millisecond,
	}
	if diff := cmp.Diff(want, cfg.Controller); diff != "" {
		t.Errorf("controller got(-)/want(+):\n%s", diff)
	}
	if cfg.Relay.Baud != 115200 || cfg.Relay.ReadTimeout != 100*time.Millisecond {
		t.Errorf("relay defaults = %+v", cfg.Relay)
	}
	r := cfg.Sensor.Register
	if r.BaudRate != 4800 || r.Parity != "N" || r.Timeout != time.Second || r.SlaveID != 1 || r.Settle != 2*time.Second {
		t.Errorf("register defaults = %+v", r)
	}
	if cfg.Sensor.Kind != SensorRegister {
		t.Errorf("sensor.kind = %q", cfg.Sensor.Kind)
	}
	if cfg.Simulator.AzimuthRate != 30 || cfg.Simulator.AltitudeRate != 50 {
		t.Errorf("simulator defaults = %+v", cfg.Simulator)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
controller:
  mode: hybrid
  period: 10ms
  target:
    azimuth: 120
    altitude: 95
relay:
  port: /dev/ttyUSB0
sensor:
  kind: stream
  stream:
    port: /dev/ttyUSB1
  azimuth_offset: 12.5
simulator:
  azimuth_rate: 5
  initial:
    azimuth: 10
    altitude: 45
observer:
  latitude: 42.36
  longitude: -71.09
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Controller.Mode != controller.Hybrid {
		t.Errorf("mode = %v, want hybrid", cfg.Controller.Mode)
	}
	if cfg.Controller.Period != 10*time.Millisecond {
		t.Errorf("period = %v", cfg.Controller.Period)
	}
	// Out of range targets are kept for the control loop to reject.
	if diff := cmp.Diff(&rotator.Orientation{Azimuth: 120, Altitude: 95}, cfg.Controller.Target); diff != "" {
		t.Errorf("target got(-)/want(+):\n%s", diff)
	}
	if cfg.Sensor.Kind != SensorStream || cfg.Sensor.Stream.Port != "/dev/ttyUSB1" || cfg.Sensor.Stream.Baud != 115200 {
		t.Errorf("sensor = %+v", cfg.Sensor)
	}
	if cfg.Sensor.AzimuthOffset != 12.5 {
		t.Errorf("azimuth offset = %v", cfg.Sensor.AzimuthOffset)
	}
	if cfg.Simulator.AzimuthRate != 5 || cfg.Simulator.AltitudeRate != 50 {
		t.Errorf("simulator = %+v", cfg.Simulator)
	}
	if diff := cmp.Diff(&rotator.Orientation{Azimuth: 10, Altitude: 45}, cfg.Simulator.Initial); diff != "" {
		t.Errorf("initial got(-)/want(+):\n%s", diff)
	}
	if cfg.Observer.Latitude != 42.36 {
		t.Errorf("observer = %+v", cfg.Observer)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name, body, want string
	}{
		{"bad mode", "controller:\n  mode: warp\n", "unknown mode"},
		{"bad sensor", "sensor:\n  kind: lidar\n", "sensor.kind"},
		{"negative tolerance", "controller:\n  tolerance: -1\n", "controller.tolerance"},
		{"strict without port", "controller:\n  mode: real\n  strict: true\n", "relay.port"},
		{"bad latitude", "observer:\n  latitude: 91\n", "observer.latitude"},
		{"bad yaml", "controller: [\n", "parsing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load of missing file succeeded")
	}
}
