package config

import (
	"fmt"
	"os"
	"time"

	"github.com/w1xm/mount_control/attitude"
	"github.com/w1xm/mount_control/controller"
	"github.com/w1xm/mount_control/relay"
	"github.com/w1xm/mount_control/rotator"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Controller ControllerConfig         `yaml:"controller"`
	Relay      relay.Config             `yaml:"relay"`
	Sensor     SensorConfig             `yaml:"sensor"`
	Simulator  attitude.SimulatedConfig `yaml:"simulator"`
	Observer   ObserverConfig           `yaml:"observer"`
	HTTP       HTTPConfig               `yaml:"http"`
	Influx     InfluxConfig             `yaml:"influx"`
}

type ControllerConfig struct {
	Mode controller.Mode `yaml:"mode"`
	// Strict keeps real mode from falling back to simulation when the relay board is missing.
	Strict      bool          `yaml:"strict"`
	Period      time.Duration `yaml:"period"`
	StopBurst   int           `yaml:"stop_burst"`
	Tolerance   float64       `yaml:"tolerance"`
	SampleEvery time.Duration `yaml:"sample_every"`
	// Target is used when a start request carries none. It is not clamped.
	Target *rotator.Orientation `yaml:"target"`
}

const (
	SensorRegister = "register"
	SensorStream   = "stream"
)

type SensorConfig struct {
	Kind           string                  `yaml:"kind"`
	Register       attitude.RegisterConfig `yaml:"register"`
	Stream         StreamConfig            `yaml:"stream"`
	AzimuthOffset  float64                 `yaml:"azimuth_offset"`
	AltitudeOffset float64                 `yaml:"altitude_offset"`
}

type StreamConfig struct {
	Port        string        `yaml:"port"`
	Baud        int           `yaml:"baud"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	Settle      time.Duration `yaml:"settle"`
}

// ObserverConfig is the default site for equatorial targets.
type ObserverConfig struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
	// Rotctld, if set, is the listen address of the hamlib rotctld protocol server.
	Rotctld string `yaml:"rotctld"`
}

type InfluxConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
	// Status is the websocket URL of the status stream to record.
	Status string `yaml:"status"`
}

// Load reads a YAML config file. An empty path returns the defaults.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	if err := cfg.applyDefaults(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults() error {
	c := &cfg.Controller
	if c.Period < 0 {
		return fmt.Errorf("controller.period must be > 0")
	}
	if c.Period == 0 {
		c.Period = controller.DefaultPeriod
	}
	if c.StopBurst < 0 {
		return fmt.Errorf("controller.stop_burst must be > 0")
	}
	if c.StopBurst == 0 {
		c.StopBurst = controller.DefaultStopBurst
	}
	if c.Tolerance < 0 {
		return fmt.Errorf("controller.tolerance must be > 0")
	}
	if c.Tolerance == 0 {
		c.Tolerance = controller.DefaultTolerance
	}
	if c.SampleEvery <= 0 {
		c.SampleEvery = 500 * time.Millisecond
	}

	if cfg.Relay.Baud <= 0 {
		cfg.Relay.Baud = 115200
	}
	if cfg.Relay.ReadTimeout <= 0 {
		cfg.Relay.ReadTimeout = 100 * time.Millisecond
	}
	if cfg.Relay.WriteTimeout <= 0 {
		cfg.Relay.WriteTimeout = time.Second
	}
	if c.Mode != controller.Simulation && cfg.Relay.Port == "" && c.Strict {
		return fmt.Errorf("relay.port is required when controller.strict is true")
	}

	s := &cfg.Sensor
	switch s.Kind {
	case "":
		s.Kind = SensorRegister
	case SensorRegister, SensorStream:
	default:
		return fmt.Errorf("sensor.kind must be %q or %q, got %q", SensorRegister, SensorStream, s.Kind)
	}
	if s.Register.BaudRate <= 0 {
		s.Register.BaudRate = 4800
	}
	if s.Register.Parity == "" {
		s.Register.Parity = "N"
	}
	if s.Register.Timeout <= 0 {
		s.Register.Timeout = time.Second
	}
	if s.Register.SlaveID == 0 {
		s.Register.SlaveID = 1
	}
	if s.Register.Settle <= 0 {
		s.Register.Settle = 2 * time.Second
	}
	if s.Stream.Baud <= 0 {
		s.Stream.Baud = 115200
	}
	if s.Stream.ReadTimeout <= 0 {
		s.Stream.ReadTimeout = time.Second
	}
	if s.Stream.Settle <= 0 {
		s.Stream.Settle = time.Second
	}

	if cfg.Simulator.AzimuthRate < 0 || cfg.Simulator.AltitudeRate < 0 {
		return fmt.Errorf("simulator rates must be > 0")
	}
	if cfg.Simulator.AzimuthRate == 0 {
		cfg.Simulator.AzimuthRate = attitude.DefaultAzimuthRate
	}
	if cfg.Simulator.AltitudeRate == 0 {
		cfg.Simulator.AltitudeRate = attitude.DefaultAltitudeRate
	}

	if cfg.Observer.Latitude < -90 || cfg.Observer.Latitude > 90 {
		return fmt.Errorf("observer.latitude must be within [-90, 90]")
	}

	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.Influx.Bucket == "" {
		cfg.Influx.Bucket = "telescope"
	}
	return nil
}
