package relay

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/w1xm/mount_control/relay/simulator"
	"github.com/w1xm/mount_control/rotator"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func waitForEchoes(t *testing.T, l *Link, n int) string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		echo, count := l.LastEcho()
		if count >= n {
			return echo
		}
		if time.Now().After(deadline) {
			t.Fatalf("saw %d echoes, want %d", count, n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestLinkWithSimulator(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	sim, conn := simulator.New(logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- sim.Run(ctx) }()

	l := NewLink(conn, logger)
	defer l.Close()

	tests := []struct {
		cmd  rotator.Command
		echo string
		pins simulator.Pins
	}{
		{
			cmd:  rotator.Command{Azimuth: rotator.Clockwise, Elevation: rotator.Lower},
			echo: "AZ1EL2",
			pins: simulator.Pins{AzimuthCW: false, AzimuthCCW: true, AltitudeUp: false, AltitudeDown: true},
		},
		{
			cmd:  rotator.Command{Azimuth: rotator.CounterClockwise, Elevation: rotator.Raise},
			echo: "AZ2EL1",
			pins: simulator.Pins{AzimuthCW: true, AzimuthCCW: false, AltitudeUp: true, AltitudeDown: false},
		},
		{
			cmd:  rotator.Command{Azimuth: rotator.Hold, Elevation: rotator.Stop},
			echo: "EL0",
			pins: simulator.Pins{AzimuthCW: true, AzimuthCCW: true, AltitudeUp: false, AltitudeDown: false},
		},
		{
			cmd:  rotator.StopCommand,
			echo: "AZ0EL0",
			pins: simulator.Pins{},
		},
	}
	for i, tt := range tests {
		if err := l.Send(tt.cmd); err != nil {
			t.Fatalf("Send(%v): %v", tt.cmd, err)
		}
		if got := waitForEchoes(t, l, i+1); got != tt.echo {
			t.Errorf("echo = %q, want %q", got, tt.echo)
		}
		if diff := cmp.Diff(tt.pins, sim.Pins()); diff != "" {
			t.Errorf("%s pins got(-)/want(+):\n%s", tt.echo, diff)
		}
	}

	var want []rotator.Command
	for _, tt := range tests {
		want = append(want, tt.cmd)
	}
	if diff := cmp.Diff(want, sim.Commands()); diff != "" {
		t.Errorf("commands got(-)/want(+):\n%s", diff)
	}

	if err := l.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := l.Send(rotator.StopCommand); err == nil {
		t.Error("Send after Close succeeded")
	}
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("simulator Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("simulator did not stop after the link closed")
	}
}

type followerSource struct {
	got []rotator.Command
}

func (f *followerSource) Attitude() rotator.Orientation     { return rotator.Orientation{} }
func (f *followerSource) ProcessCommand(cmd rotator.Command) { f.got = append(f.got, cmd) }

func TestSimulatorFollower(t *testing.T) {
	sim, conn := simulator.New(nil)
	f := &followerSource{}
	sim.Follower = f
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sim.Run(ctx)

	l := NewLink(conn, nil)
	defer l.Close()
	cmd := rotator.Command{Azimuth: rotator.Clockwise, Elevation: rotator.Stop}
	if err := l.Send(cmd); err != nil {
		t.Fatal(err)
	}
	waitForEchoes(t, l, 1)
	if diff := cmp.Diff([]rotator.Command{cmd}, f.got); diff != "" {
		t.Errorf("got(-)/want(+):\n%s", diff)
	}
}

func TestOpenFails(t *testing.T) {
	_, err := Open(Config{Port: "/nonexistent/tty"}, nil)
	if !errors.Is(err, rotator.ErrConnection) {
		t.Errorf("Open error = %v, want ErrConnection", err)
	}
}

// stuckConn never completes a write until it is closed.
type stuckConn struct {
	deadlineErr error

	once   sync.Once
	closed chan struct{}
}

func newStuckConn(deadlineErr error) *stuckConn {
	return &stuckConn{deadlineErr: deadlineErr, closed: make(chan struct{})}
}

func (c *stuckConn) Read([]byte) (int, error) {
	<-c.closed
	return 0, io.ErrClosedPipe
}

func (c *stuckConn) Write([]byte) (int, error) {
	<-c.closed
	return 0, io.ErrClosedPipe
}

func (c *stuckConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type stuckDeadlineConn struct {
	*stuckConn
}

func (c stuckDeadlineConn) SetWriteDeadline(time.Time) error {
	return c.deadlineErr
}

func TestSendTimesOut(t *testing.T) {
	tests := []struct {
		name     string
		conn     io.ReadWriteCloser
		wantWarn bool
	}{
		{name: "no deadline support", conn: newStuckConn(nil)},
		{name: "deadline rejected", conn: stuckDeadlineConn{newStuckConn(errors.New("not supported"))}, wantWarn: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.WarnLevel)
			l := NewLink(tt.conn, zap.New(core).Sugar())
			defer l.Close()
			l.writeTimeout = 20 * time.Millisecond

			cmd := rotator.Command{Azimuth: rotator.Clockwise, Elevation: rotator.Hold}
			start := time.Now()
			err := l.Send(cmd)
			if err == nil || !strings.Contains(err.Error(), "timed out") {
				t.Errorf("Send error = %v, want a timeout", err)
			}
			if elapsed := time.Since(start); elapsed > 2*time.Second {
				t.Errorf("Send took %v", elapsed)
			}
			// The first write is still stuck.
			if err := l.Send(cmd); err == nil || !strings.Contains(err.Error(), "pending") {
				t.Errorf("second Send error = %v, want pending write", err)
			}
			warnings := logs.FilterMessageSnippet("write deadline").Len()
			if tt.wantWarn && warnings != 1 {
				t.Errorf("logged %d deadline warnings, want 1", warnings)
			}
			if !tt.wantWarn && warnings != 0 {
				t.Errorf("logged %d deadline warnings, want 0", warnings)
			}
		})
	}
}
