package attitude

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/w1xm/mount_control/internal/metrics"
	"github.com/w1xm/mount_control/internal/modbus"
	"github.com/w1xm/mount_control/rotator"
	"go.uber.org/zap"
)

// Register map of the angle sensor.
const (
	AngleRegister       = 0x03
	angleRegisterCount  = 3
	CalibrateXYRegister = 0x06
	CalibrateZRegister  = 0x07
)

type RegisterConfig struct {
	Port     string        `yaml:"port"`
	URL      string        `yaml:"url"`
	BaudRate int           `yaml:"baud_rate"`
	Parity   string        `yaml:"parity"`
	StopBits int           `yaml:"stop_bits"`
	DataBits int           `yaml:"data_bits"`
	Timeout  time.Duration `yaml:"timeout"`
	SlaveID  byte          `yaml:"slave_id"`
	// Settle is the pause after a calibration trigger. Defaults to 2s.
	Settle time.Duration `yaml:"settle"`
	Clock  clock.Clock   `yaml:"-"`
}

// Register reads per-axis angles from a modbus angle sensor.
//
// A failed read is logged and reported as a zero orientation so that the control
// loop keeps running; callers that need to know about sensor faults should watch
// the attitude error counter.
type Register struct {
	client  *modbus.Client
	settle  time.Duration
	clock   clock.Clock
	logger  *zap.SugaredLogger
	metrics *metrics.Collector
}

// DialRegister opens the sensor bus. Failures wrap rotator.ErrConnection.
func DialRegister(ctx context.Context, cfg RegisterConfig, logger *zap.SugaredLogger, m *metrics.Collector) (*Register, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	client := &modbus.Client{
		Port:     cfg.Port,
		URL:      cfg.URL,
		BaudRate: cfg.BaudRate,
		Parity:   cfg.Parity,
		StopBits: cfg.StopBits,
		DataBits: cfg.DataBits,
		Timeout:  cfg.Timeout,
		SlaveId:  cfg.SlaveID,
		Logger:   logger,
	}
	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("%w: %v", rotator.ErrConnection, err)
	}
	r := &Register{
		client:  client,
		settle:  cfg.Settle,
		clock:   cfg.Clock,
		logger:  logger,
		metrics: m,
	}
	if r.settle == 0 {
		r.settle = 2 * time.Second
	}
	if r.clock == nil {
		r.clock = clock.New()
	}
	return r, nil
}

func registerAngle(raw uint16) float64 {
	v := int(raw)
	if v > 32767 {
		v -= 65536
	}
	return float64(v) / 10.0
}

// Angles returns the raw x, y, z angles in degrees.
func (r *Register) Angles() (x, y, z float64, err error) {
	regs, err := r.client.ReadHoldingRegisters(AngleRegister, angleRegisterCount)
	if err != nil {
		return 0, 0, 0, err
	}
	return registerAngle(regs[0]), registerAngle(regs[1]), registerAngle(regs[2]), nil
}

// Attitude maps the z axis to azimuth and the y axis to altitude.
func (r *Register) Attitude() rotator.Orientation {
	_, y, z, err := r.Angles()
	if err != nil {
		r.logger.Errorf("reading angles: %v", err)
		r.metrics.AttitudeError()
		return rotator.Orientation{}
	}
	return rotator.Orientation{Azimuth: rotator.WrapAzimuth(z), Altitude: y}
}

// ProcessCommand does nothing; the sensor reports where the mount actually points.
func (r *Register) ProcessCommand(rotator.Command) {}

func (r *Register) calibrate(ctx context.Context, register uint16) error {
	if err := r.client.WriteRegister(register, 1); err != nil {
		return fmt.Errorf("writing calibration register %#02x: %w", register, err)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.clock.After(r.settle):
	}
	r.logger.Infof("calibration register %#02x settled", register)
	return nil
}

func (r *Register) CalibrateXY(ctx context.Context) error {
	return r.calibrate(ctx, CalibrateXYRegister)
}

func (r *Register) CalibrateZ(ctx context.Context) error {
	return r.calibrate(ctx, CalibrateZRegister)
}

func (r *Register) Close() error {
	return r.client.Close()
}
