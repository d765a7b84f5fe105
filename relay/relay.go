// Package relay drives the relay board that switches the mount's slew motors.
//
// The board reads one command line per cycle ("AZ1EL0\n") and echoes each line it
// receives as "Received command: AZ1EL0".
package relay

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tarm/serial"
	"github.com/w1xm/mount_control/rotator"
	"go.uber.org/zap"
)

const echoPrefix = "Received command: "

type Config struct {
	Port string `yaml:"port"`
	// Baud defaults to 115200
	Baud        int           `yaml:"baud"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	// WriteTimeout bounds each command write. Defaults to one second.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Link is an open connection to the relay board.
type Link struct {
	conn         io.ReadWriteCloser
	logger       *zap.SugaredLogger
	writeTimeout time.Duration

	// writing holds a token while a write without a deadline is in flight.
	writing        chan struct{}
	deadlineWarned atomic.Bool

	mu       sync.Mutex
	lastEcho string
	echoes   int

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// Open opens the board's serial port. Failures wrap rotator.ErrConnection.
func Open(cfg Config, logger *zap.SugaredLogger) (*Link, error) {
	c := &serial.Config{Name: cfg.Port, Baud: cfg.Baud, ReadTimeout: cfg.ReadTimeout}
	if c.Baud == 0 {
		c.Baud = 115200
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 100 * time.Millisecond
	}
	port, err := serial.OpenPort(c)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %q: %v", rotator.ErrConnection, cfg.Port, err)
	}
	l := NewLink(port, logger)
	if cfg.WriteTimeout > 0 {
		l.writeTimeout = cfg.WriteTimeout
	}
	if logger != nil {
		logger.Infof("opened %q", cfg.Port)
	}
	return l, nil
}

// NewLink wraps an already open connection and starts watching it for echoes.
func NewLink(conn io.ReadWriteCloser, logger *zap.SugaredLogger) *Link {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	l := &Link{
		conn:         conn,
		logger:       logger,
		writeTimeout: time.Second,
		writing:      make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	go l.watch()
	return l
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Send writes one command line.
func (l *Link) Send(cmd rotator.Command) error {
	if l.closed.Load() {
		return errors.New("relay link closed")
	}
	if err := l.write(cmd.Line()); err != nil {
		return fmt.Errorf("sending %s: %w", cmd, err)
	}
	l.logger.Debugf("sent %s", cmd)
	return nil
}

// write bounds a write by the connection's deadline when it has one and by a timer
// otherwise. A write abandoned by the timer keeps the link busy until it returns.
func (l *Link) write(line []byte) error {
	if l.writeTimeout <= 0 {
		_, err := l.conn.Write(line)
		return err
	}
	if d, ok := l.conn.(writeDeadliner); ok {
		err := d.SetWriteDeadline(time.Now().Add(l.writeTimeout))
		if err == nil {
			_, err = l.conn.Write(line)
			return err
		}
		if !l.deadlineWarned.Swap(true) {
			l.logger.Warnf("relay connection rejected a write deadline, timing writes instead: %v", err)
		}
	}
	select {
	case l.writing <- struct{}{}:
	default:
		return errors.New("previous write still pending")
	}
	errc := make(chan error, 1)
	go func() {
		defer func() { <-l.writing }()
		_, err := l.conn.Write(line)
		errc <- err
	}()
	t := time.NewTimer(l.writeTimeout)
	defer t.Stop()
	select {
	case err := <-errc:
		return err
	case <-t.C:
		return fmt.Errorf("write timed out after %v", l.writeTimeout)
	}
}

func (l *Link) watch() {
	defer close(l.done)
	r := bufio.NewReader(l.conn)
	var line []byte
	for {
		b, err := r.ReadBytes('\n')
		line = append(line, b...)
		if err == nil {
			l.handleLine(strings.TrimSpace(string(line)))
			line = line[:0]
			continue
		}
		if l.closed.Load() {
			return
		}
		if errors.Is(err, io.EOF) {
			// A serial port with a read timeout reports EOF when idle.
			time.Sleep(10 * time.Millisecond)
			continue
		}
		l.logger.Errorf("reading relay board: %v", err)
		return
	}
}

func (l *Link) handleLine(line string) {
	if line == "" {
		return
	}
	if !strings.HasPrefix(line, echoPrefix) {
		l.logger.Infof("relay board: %s", line)
		return
	}
	echo := strings.TrimPrefix(line, echoPrefix)
	l.mu.Lock()
	l.lastEcho = echo
	l.echoes++
	l.mu.Unlock()
	l.logger.Debugf("relay board echoed %s", echo)
}

// LastEcho returns the most recent command line echoed by the board and how many
// echoes have been seen.
func (l *Link) LastEcho() (string, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastEcho, l.echoes
}

// Close closes the connection and waits for the echo watcher to exit. It is safe to
// call more than once.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		l.closeErr = l.conn.Close()
		<-l.done
	})
	return l.closeErr
}
