package rotator

import (
	"errors"
	"fmt"
	"strings"
)

// Direction is the drive state of one axis. The values of Stop, Clockwise and
// CounterClockwise are the digits sent to the relay board.
type Direction int8

const (
	// Hold leaves the axis in whatever state it was last commanded to.
	Hold             Direction = -1
	Stop             Direction = 0
	Clockwise        Direction = 1
	CounterClockwise Direction = 2

	// Elevation uses the same digits.
	Raise = Clockwise
	Lower = CounterClockwise
)

// Command drives both axes for one control cycle.
type Command struct {
	Azimuth   Direction
	Elevation Direction
}

// StopCommand halts both axes.
var StopCommand = Command{Azimuth: Stop, Elevation: Stop}

// String returns the command without its line terminator, e.g. "AZ1EL2".
func (c Command) String() string {
	var b strings.Builder
	if c.Azimuth != Hold {
		fmt.Fprintf(&b, "AZ%d", c.Azimuth)
	}
	if c.Elevation != Hold {
		fmt.Fprintf(&b, "EL%d", c.Elevation)
	}
	return b.String()
}

// Line returns the command as written to the relay board.
func (c Command) Line() []byte {
	return []byte(c.String() + "\n")
}

// ParseCommand decodes a command line the way the relay firmware does: each axis is
// located by its AZ or EL token and an absent token leaves that axis on Hold.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)
	az, err := parseAxis(line, "AZ")
	if err != nil {
		return Command{}, err
	}
	el, err := parseAxis(line, "EL")
	if err != nil {
		return Command{}, err
	}
	if az == Hold && el == Hold {
		return Command{}, fmt.Errorf("no axis in command %q", line)
	}
	return Command{Azimuth: az, Elevation: el}, nil
}

func parseAxis(line, token string) (Direction, error) {
	i := strings.Index(line, token)
	if i < 0 {
		return Hold, nil
	}
	i += len(token)
	if i >= len(line) {
		return Hold, errors.New("truncated command")
	}
	switch line[i] {
	case '0':
		return Stop, nil
	case '1':
		return Clockwise, nil
	case '2':
		return CounterClockwise, nil
	}
	return Hold, fmt.Errorf("bad %s direction %q", token, line[i])
}
