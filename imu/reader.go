package imu

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Sampling control bytes understood by the sensor board.
const (
	StartSampling byte = 0x01
	StopSampling  byte = 0x00
)

type Config struct {
	Port string
	// Baud defaults to 115200
	Baud        int
	ReadTimeout time.Duration
}

// Open opens the sensor's serial port.
func Open(cfg Config) (io.ReadWriteCloser, error) {
	c := &serial.Config{Name: cfg.Port, Baud: cfg.Baud, ReadTimeout: cfg.ReadTimeout}
	if c.Baud == 0 {
		c.Baud = 115200
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = time.Second
	}
	port, err := serial.OpenPort(c)
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w", cfg.Port, err)
	}
	return port, nil
}

// SampleCallback is invoked with each decoded sample and the integrated angles after it.
type SampleCallback func(s Sample, angles [3]float64)

// Reader restarts sampling on a sensor port and feeds its token stream to an Assembler.
type Reader struct {
	Port      io.ReadWriteCloser
	Assembler *Assembler
	// Settle is the pause after each sampling control byte. Defaults to one second.
	Settle time.Duration
	Logger *zap.SugaredLogger
}

func (r *Reader) settle(ctx context.Context) error {
	d := r.Settle
	if d == 0 {
		d = time.Second
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.Assembler.Clock.After(d):
		return nil
	}
}

// Run reads until ctx is canceled or the port fails. The port is closed on return.
func (r *Reader) Run(ctx context.Context, cb SampleCallback) error {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	for _, b := range []byte{StopSampling, StartSampling} {
		if _, err := r.Port.Write([]byte{b}); err != nil {
			r.Port.Close()
			return fmt.Errorf("sending sampling control %#02x: %w", b, err)
		}
		logger.Debugf("sent sampling control %#02x", b)
		if err := r.settle(ctx); err != nil {
			r.Port.Close()
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	g.Go(func() error {
		// Wait for context to be canceled or the stream to end, then close the port.
		select {
		case <-ctx.Done():
		case <-done:
		}
		return r.Port.Close()
	})
	g.Go(func() error {
		defer close(done)
		scanner := bufio.NewScanner(&retryReader{ctx: ctx, r: r.Port})
		scanner.Split(bufio.ScanWords)
		var batch []string
		for scanner.Scan() {
			batch = append(batch[:0], scanner.Text())
			for _, s := range r.Assembler.Feed(batch) {
				if cb != nil {
					cb(s, r.Assembler.Angles())
				}
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			return err
		}
		return ctx.Err()
	})
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// retryReader turns the empty reads of a port with a read timeout into retries, so
// the scanner only stops on a real error or cancellation.
type retryReader struct {
	ctx context.Context
	r   io.Reader
}

func (rr *retryReader) Read(p []byte) (int, error) {
	for {
		n, err := rr.r.Read(p)
		if n > 0 {
			return n, nil
		}
		if err != nil && err != io.EOF {
			return 0, err
		}
		if rr.ctx.Err() != nil {
			return 0, rr.ctx.Err()
		}
	}
}
