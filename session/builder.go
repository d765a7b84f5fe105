package session

import (
	"context"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/w1xm/mount_control/attitude"
	"github.com/w1xm/mount_control/controller"
	"github.com/w1xm/mount_control/imu"
	"github.com/w1xm/mount_control/internal/config"
	"github.com/w1xm/mount_control/internal/metrics"
	"github.com/w1xm/mount_control/relay"
	"github.com/w1xm/mount_control/relay/simulator"
	"github.com/w1xm/mount_control/rotator"
	"go.uber.org/zap"
)

// SimulatorPort selects the in-process relay board simulator instead of a serial port.
const SimulatorPort = "sim"

// StartRequest is an operator's request to slew the mount.
type StartRequest struct {
	Mode controller.Mode
	// Port overrides the configured relay port.
	Port string
	// Target may be left empty to use the configured target.
	Target rotator.Target
}

// Manager builds controllers from the configuration and runs at most one session
// at a time.
type Manager struct {
	Config  config.Config
	Clock   clock.Clock
	Logger  *zap.SugaredLogger
	Metrics *metrics.Collector
	// OpenStream opens the frame stream sensor port. Defaults to imu.Open.
	OpenStream func(imu.Config) (io.ReadWriteCloser, error)

	board *Board

	mu      sync.Mutex
	current *Session
	// offset is the mounting correction of the most recent sensor source.
	offset *attitude.Offset
}

func NewManager(cfg config.Config, logger *zap.SugaredLogger, m *metrics.Collector) *Manager {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Manager{
		Config:     cfg,
		Clock:      clock.New(),
		Logger:     logger,
		Metrics:    m,
		OpenStream: imu.Open,
		board:      NewBoard(Status{Mode: cfg.Controller.Mode.String(), Status: controller.Idle.String()}),
	}
}

// Board returns the status board fed by every session the manager starts.
func (m *Manager) Board() *Board {
	return m.board
}

func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Start builds a controller for req and starts a session. It fails with
// controller.ErrBusy while another session is running.
func (m *Manager) Start(ctx context.Context, req StartRequest) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		select {
		case <-m.current.Done():
		default:
			return nil, controller.ErrBusy
		}
	}

	var workers []Worker
	src, worker, err := m.source(ctx, req.Mode)
	if err != nil {
		return nil, err
	}
	if worker != nil {
		workers = append(workers, worker)
	}

	cc := m.Config.Controller
	ctrl, err := controller.New(controller.Config{
		Mode:   req.Mode,
		Source: src,
		Dial:   m.dialer(ctx, req.Port),
		Fallback: func() rotator.Source {
			return attitude.NewSimulated(m.Config.Simulator, m.Clock)
		},
		Strict:    cc.Strict,
		Target:    cc.Target,
		Period:    cc.Period,
		StopBurst: cc.StopBurst,
		Tolerance: cc.Tolerance,
		Clock:     m.Clock,
		Metrics:   m.Metrics,
	}, m.Logger)
	if err != nil {
		closeSource(src)
		return nil, err
	}
	if req.Target.Horizontal != nil || req.Target.Equatorial != nil {
		if err := ctrl.SetTarget(req.Target); err != nil {
			ctrl.Close()
			closeSource(src)
			return nil, err
		}
	}

	s := Start(context.WithoutCancel(ctx), ctrl, Options{
		SampleEvery: cc.SampleEvery,
		Clock:       m.Clock,
		Logger:      m.Logger,
		Metrics:     m.Metrics,
		OnStatus:    m.board.Publish,
		Workers:     workers,
	})
	go func() {
		<-s.Done()
		closeSource(src)
	}()
	m.current = s
	return s, nil
}

// Stop stops the running session, if any.
func (m *Manager) Stop() error {
	s := m.Current()
	if s == nil {
		return nil
	}
	return s.Stop()
}

func closeSource(src rotator.Source) {
	if o, ok := src.(*attitude.Offset); ok {
		src = o.Source
	}
	if c, ok := src.(interface{ Close() error }); ok {
		c.Close()
	}
}

// source builds the attitude source for mode. Stream sensors also return the worker
// that feeds them.
func (m *Manager) source(ctx context.Context, mode controller.Mode) (rotator.Source, Worker, error) {
	if mode.Simulates() {
		return attitude.NewSimulated(m.Config.Simulator, m.Clock), nil, nil
	}
	sc := m.Config.Sensor
	var (
		src    rotator.Source
		worker Worker
	)
	switch sc.Kind {
	case config.SensorStream:
		port, err := m.OpenStream(imu.Config{Port: sc.Stream.Port, Baud: sc.Stream.Baud, ReadTimeout: sc.Stream.ReadTimeout})
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", rotator.ErrConnection, err)
		}
		stream := attitude.NewStream(&imu.Reader{
			Port:      port,
			Assembler: imu.NewAssembler(m.Clock, m.Logger, m.Metrics),
			Settle:    sc.Stream.Settle,
			Logger:    m.Logger,
		})
		src, worker = stream, stream.Run
	default:
		reg, err := attitude.DialRegister(ctx, sc.Register, m.Logger, m.Metrics)
		if err != nil {
			return nil, nil, err
		}
		src = reg
	}
	m.offset = attitude.NewOffset(src, sc.AzimuthOffset, sc.AltitudeOffset)
	return m.offset, worker, nil
}

// Offsets returns the sensor mounting offsets in degrees.
func (m *Manager) Offsets() (az, alt float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offset != nil {
		return m.offset.Offsets()
	}
	return m.Config.Sensor.AzimuthOffset, m.Config.Sensor.AltitudeOffset
}

// SetOffsets changes the sensor mounting offsets, including those of a running
// session. Offsets must be finite.
func (m *Manager) SetOffsets(az, alt float64) error {
	if math.IsNaN(az) || math.IsInf(az, 0) || math.IsNaN(alt) || math.IsInf(alt, 0) {
		return fmt.Errorf("%w: non-finite offset", controller.ErrInvalidArgument)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Config.Sensor.AzimuthOffset = az
	m.Config.Sensor.AltitudeOffset = alt
	if m.offset != nil {
		m.offset.SetAzimuthOffset(az)
		m.offset.SetAltitudeOffset(alt)
	}
	m.Logger.Infof("sensor offsets set: azimuth=%.2f° altitude=%.2f°", az, alt)
	return nil
}

func (m *Manager) dialer(ctx context.Context, port string) func() (controller.Transport, error) {
	rc := m.Config.Relay
	if port != "" {
		rc.Port = port
	}
	if rc.Port == "" {
		return nil
	}
	if rc.Port == SimulatorPort {
		return func() (controller.Transport, error) {
			sim, conn := simulator.New(m.Logger)
			go sim.Run(context.WithoutCancel(ctx))
			return relay.NewLink(conn, m.Logger), nil
		}
	}
	return func() (controller.Transport, error) {
		l, err := relay.Open(rc, m.Logger)
		if err != nil {
			return nil, err
		}
		return l, nil
	}
}
