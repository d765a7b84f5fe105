// Command imu_monitor prints live readings from the mount's attitude sensor and
// triggers its calibration.
//
// With sensor.kind "stream" it prints every decoded frame together with the
// integrated angles. With the register sensor it polls the angle registers, or with
// -calibrate writes the XY or Z calibration trigger and waits for it to settle.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/w1xm/mount_control/attitude"
	"github.com/w1xm/mount_control/imu"
	"github.com/w1xm/mount_control/internal/config"
	"github.com/w1xm/mount_control/internal/metrics"
	"go.uber.org/zap"
)

var (
	configPath = flag.String("config", "", "YAML config file")
	port       = flag.String("port", "", "sensor serial port (overrides the config)")
	calibrate  = flag.String("calibrate", "", "calibrate the register sensor: xy or z")
	every      = flag.Duration("every", 500*time.Millisecond, "register polling period")
	debug      = flag.Bool("debug", false, "log at debug level")
)

type calibrator interface {
	CalibrateXY(ctx context.Context) error
	CalibrateZ(ctx context.Context) error
}

func runCalibration(ctx context.Context, c calibrator, axes string) error {
	switch strings.ToLower(axes) {
	case "xy":
		return c.CalibrateXY(ctx)
	case "z":
		return c.CalibrateZ(ctx)
	}
	return fmt.Errorf("unknown calibration %q, want xy or z", axes)
}

func formatSample(s imu.Sample, angles [3]float64) string {
	return fmt.Sprintf("accel %6d %6d %6d  rate %8.3f %8.3f %8.3f  angle %9.2f %9.2f %9.2f",
		s.Accel[0], s.Accel[1], s.Accel[2],
		s.Rate[0], s.Rate[1], s.Rate[2],
		angles[0], angles[1], angles[2])
}

type angleReader interface {
	Angles() (x, y, z float64, err error)
}

// poll prints the register angles every period until ctx is done.
func poll(ctx context.Context, r angleReader, clk clock.Clock, period time.Duration, out io.Writer, logger *zap.SugaredLogger) error {
	ticker := clk.Ticker(period)
	defer ticker.Stop()
	for {
		x, y, z, err := r.Angles()
		if err != nil {
			logger.Errorf("reading angles: %v", err)
		} else {
			fmt.Fprintf(out, "x %7.1f  y %7.1f  z %7.1f\n", x, y, z)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func main() {
	flag.Parse()
	cfg := zap.NewDevelopmentConfig()
	if !*debug {
		cfg.Level.SetLevel(zap.InfoLevel)
	}
	zl, err := cfg.Build()
	if err != nil {
		log.Fatal(err)
	}
	defer zl.Sync()
	logger := zl.Sugar()

	c, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("loading config: %v", err)
	}
	m, err := metrics.New(nil)
	if err != nil {
		logger.Fatal(err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc := c.Sensor
	if sc.Kind == config.SensorStream && *calibrate == "" {
		if *port != "" {
			sc.Stream.Port = *port
		}
		p, err := imu.Open(imu.Config{Port: sc.Stream.Port, Baud: sc.Stream.Baud, ReadTimeout: sc.Stream.ReadTimeout})
		if err != nil {
			logger.Fatal(err)
		}
		r := &imu.Reader{
			Port:      p,
			Assembler: imu.NewAssembler(clock.New(), logger, m),
			Settle:    sc.Stream.Settle,
			Logger:    logger,
		}
		err = r.Run(ctx, func(s imu.Sample, angles [3]float64) {
			fmt.Println(formatSample(s, angles))
		})
		if err != nil {
			logger.Fatal(err)
		}
		return
	}

	if *port != "" {
		sc.Register.Port = *port
	}
	reg, err := attitude.DialRegister(ctx, sc.Register, logger, m)
	if err != nil {
		logger.Fatal(err)
	}
	defer reg.Close()
	if *calibrate != "" {
		if err := runCalibration(ctx, reg, *calibrate); err != nil {
			logger.Fatalf("calibrating: %v", err)
		}
		logger.Infof("%s calibration done", *calibrate)
		return
	}
	if err := poll(ctx, reg, clock.New(), *every, os.Stdout, logger); err != nil {
		logger.Fatal(err)
	}
}
