// Package simulator emulates the relay board firmware over an in-memory connection.
package simulator

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/w1xm/mount_control/rotator"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Pins holds the output level of each relay; true is HIGH.
type Pins struct {
	AzimuthCW, AzimuthCCW    bool
	AltitudeUp, AltitudeDown bool
}

type Simulator struct {
	conn   io.ReadWriteCloser
	logger *zap.SugaredLogger
	// Follower, if set, receives every decoded command.
	Follower rotator.Source

	mu       sync.Mutex
	pins     Pins
	commands []rotator.Command
}

// New returns a simulator and the connection the controller should write to.
func New(logger *zap.SugaredLogger) (*Simulator, net.Conn) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	a, b := net.Pipe()
	return &Simulator{conn: a, logger: logger}, b
}

// pinsFor reproduces the firmware's decoding. An axis without a token is driven HIGH
// on both relays; the altitude relays are wired with the opposite sense to azimuth.
func pinsFor(line string) Pins {
	p := Pins{true, true, true, true}
	if i := strings.Index(line, "AZ"); i >= 0 && i+2 < len(line) {
		switch line[i+2] {
		case '1':
			p.AzimuthCW, p.AzimuthCCW = false, true
		case '2':
			p.AzimuthCW, p.AzimuthCCW = true, false
		case '0':
			p.AzimuthCW, p.AzimuthCCW = false, false
		}
	}
	if i := strings.Index(line, "EL"); i >= 0 && i+2 < len(line) {
		switch line[i+2] {
		case '1':
			p.AltitudeUp, p.AltitudeDown = true, false
		case '2':
			p.AltitudeUp, p.AltitudeDown = false, true
		case '0':
			p.AltitudeUp, p.AltitudeDown = false, false
		}
	}
	return p
}

func (s *Simulator) send(format string, args ...interface{}) error {
	_, err := fmt.Fprintf(s.conn, format+"\r\n", args...)
	return err
}

func (s *Simulator) handleLine(line string) error {
	line = strings.TrimSpace(line)
	pins := pinsFor(line)
	cmd, err := rotator.ParseCommand(line)
	s.mu.Lock()
	s.pins = pins
	if err == nil {
		s.commands = append(s.commands, cmd)
	}
	follower := s.Follower
	s.mu.Unlock()
	if err != nil {
		s.logger.Debugf("parsing %q: %v", line, err)
	} else if follower != nil {
		follower.ProcessCommand(cmd)
	}
	return s.send("Received command: %s", line)
}

// Run serves the connection until ctx is canceled or the controller hangs up.
func (s *Simulator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	g.Go(func() error {
		select {
		case <-ctx.Done():
		case <-done:
		}
		return s.conn.Close()
	})
	g.Go(func() error {
		defer close(done)
		if err := s.send("Relay Control Initialized"); err != nil {
			return nil
		}
		scanner := bufio.NewScanner(s.conn)
		for scanner.Scan() {
			s.logger.Debugf("ctl->sim: %s", scanner.Text())
			if err := s.handleLine(scanner.Text()); err != nil {
				// The controller closed its end.
				return nil
			}
		}
		return nil
	})
	return g.Wait()
}

func (s *Simulator) Pins() Pins {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pins
}

// Commands returns every command the board has decoded, oldest first.
func (s *Simulator) Commands() []rotator.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]rotator.Command(nil), s.commands...)
}
