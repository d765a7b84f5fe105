package controller

import (
	"errors"
	"fmt"
	"strings"

	"github.com/w1xm/mount_control/rotator"
)

// Mode selects where commands go and where feedback comes from.
type Mode int

const (
	// Simulation drives a simulated source only.
	Simulation Mode = iota
	// Hybrid sends commands to the relay board but takes feedback from a simulated source.
	Hybrid
	// Real sends commands to the relay board and reads feedback from the sensor.
	Real
)

var modeNames = map[Mode]string{
	Simulation: "simulation",
	Hybrid:     "hybrid",
	Real:       "real",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

func ParseMode(s string) (Mode, error) {
	for m, name := range modeNames {
		if strings.EqualFold(s, name) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown mode %q", ErrInvalidArgument, s)
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Actuates reports whether commands are written to the relay board.
func (m Mode) Actuates() bool {
	return m == Hybrid || m == Real
}

// Simulates reports whether commands are forwarded to a simulated source.
func (m Mode) Simulates() bool {
	return m == Simulation || m == Hybrid
}

// State is the lifecycle of one control loop run.
type State int32

const (
	Idle State = iota
	Running
	Arrived
	Failed
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "ready"
	case Running:
		return "running"
	case Arrived:
		return "arrived"
	case Failed:
		return "failed"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var (
	ErrConnection       = rotator.ErrConnection
	ErrConfiguration    = errors.New("invalid configuration")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNoAttitudeSource = errors.New("no attitude source")
	ErrBusy             = errors.New("control loop already running")
)

// ExitCode maps the result of Run to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}
