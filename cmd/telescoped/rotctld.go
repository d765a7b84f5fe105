package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/w1xm/mount_control/controller"
	"github.com/w1xm/mount_control/rotator"
	"github.com/w1xm/mount_control/session"
)

// Hamlib RPRT codes.
const (
	rprtOK     = 0
	rprtEINVAL = -22
	rprtEIO    = -5
	rprtEBUSY  = -16
)

func (s *Server) ListenRotctld(ctx context.Context, addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		s.logger.Infof("shutdown; closing rotctld socket")
		ln.Close()
	}()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Errorf("failed to accept: %v", err)
				continue
			}
			go s.handleRotctld(conn)
		}
	}()
	return ln.Addr(), nil
}

// setPosition replaces any running session with one slewing to az, el.
func (s *Server) setPosition(az, el float64) int {
	if err := s.manager.Stop(); err != nil {
		s.logger.Warnf("stopping previous session: %v", err)
	}
	_, err := s.manager.Start(context.Background(), session.StartRequest{
		Mode:   s.manager.Config.Controller.Mode,
		Target: rotator.Target{Horizontal: &rotator.Orientation{Azimuth: az, Altitude: el}},
	})
	switch {
	case err == nil:
		return rprtOK
	case errors.Is(err, controller.ErrInvalidArgument):
		return rprtEINVAL
	case errors.Is(err, controller.ErrBusy):
		return rprtEBUSY
	default:
		s.logger.Errorf("rotctld set_pos: %v", err)
		return rprtEIO
	}
}

func (s *Server) handleRotctld(conn io.ReadWriteCloser) {
	defer conn.Close()
	remote := "rotctld client"
	if c, ok := conn.(net.Conn); ok {
		remote = c.RemoteAddr().String()
	}
	s.logger.Infof("accepted connection from %v", remote)
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		// Two forms of command: single character, or "+\" followed by command name.
		cmd := scanner.Text()
		var args []string
		var extended bool
		if len(cmd) == 0 {
			continue
		} else if len(cmd) > 2 && cmd[0:2] == `+\` {
			extended = true
			parts := strings.Fields(cmd)
			cmd = parts[0][2:]
			args = parts[1:]
			fmt.Fprintf(conn, "%s:\n", cmd)
		} else {
			// Space after command is optional.
			if len(cmd) > 1 {
				args = strings.Fields(cmd[1:])
			}
			cmd = string(cmd[0])
		}
		s.logger.Debugf("%v command: %q args: %#v", remote, cmd, args)
		rprt := rprtEINVAL
		switch cmd {
		case "1", "dump_caps":
			fmt.Fprintf(conn, `Model name: Mount control
Mfg name: W1XM
Rot type: Az-El
Min Azimuth: 0.00
Max Azimuth: 360.00
Min Elevation: %.2f
Max Elevation: %.2f
Can set Position: Y
Can get Position: Y
Can Stop: Y
Can Park: N
Can Reset: N
Can Move: N
Can get Info: Y
`, rotator.MinAltitude, rotator.MaxAltitude)
			rprt = rprtOK
		case "_", "get_info":
			st := s.manager.Board().Latest()
			if extended {
				fmt.Fprintf(conn, "Info: %s %s\n", st.Mode, st.Status)
			} else {
				fmt.Fprintf(conn, "%s %s\n", st.Mode, st.Status)
			}
			rprt = rprtOK
		case "S", "stop":
			extended = true // always print RPRT
			if err := s.manager.Stop(); err != nil {
				s.logger.Errorf("rotctld stop: %v", err)
				rprt = rprtEIO
				break
			}
			rprt = rprtOK
		case "P", "set_pos":
			extended = true // always print RPRT
			if len(args) != 2 {
				break
			}
			az, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				break
			}
			el, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				break
			}
			rprt = s.setPosition(az, el)
		case "p", "get_pos":
			st := s.manager.Board().Latest()
			if extended {
				fmt.Fprintf(conn, "Azimuth: %.6f\nElevation: %.6f\n", st.CurrentAz, st.CurrentAlt)
			} else {
				fmt.Fprintf(conn, "%.6f\n%.6f\n", st.CurrentAz, st.CurrentAlt)
			}
			rprt = rprtOK
		case "q", "Q":
			return
		}
		if extended || rprt != rprtOK {
			fmt.Fprintf(conn, "RPRT %d\n", rprt)
		}
	}
	if err := scanner.Err(); err != nil {
		s.logger.Errorf("reading from %v: %v", remote, err)
	}
}
