package attitude

import (
	"context"
	"sync"

	"github.com/w1xm/mount_control/imu"
	"github.com/w1xm/mount_control/rotator"
)

// Stream reports the angles integrated from a sensor's rate stream.
//
// The sensor needs a couple of seconds after the sampling restart before its first
// frame. Until then Ready reports false and Attitude returns the zero orientation.
type Stream struct {
	reader *imu.Reader

	mu     sync.Mutex
	angles [3]float64
	rate   [3]float64
	ready  bool

	closeOnce sync.Once
	closeErr  error
}

func NewStream(reader *imu.Reader) *Stream {
	return &Stream{reader: reader}
}

// Run consumes the stream until ctx is canceled.
func (s *Stream) Run(ctx context.Context) error {
	return s.reader.Run(ctx, func(sample imu.Sample, angles [3]float64) {
		s.mu.Lock()
		s.angles = angles
		s.rate = sample.Rate
		s.ready = true
		s.mu.Unlock()
	})
}

// Ready reports whether a sample has arrived.
func (s *Stream) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *Stream) Attitude() rotator.Orientation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return rotator.Orientation{Azimuth: rotator.WrapAzimuth(s.angles[2]), Altitude: s.angles[1]}
}

// Rate returns the most recent angular rate in degrees per second.
func (s *Stream) Rate() [3]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}

func (s *Stream) ProcessCommand(rotator.Command) {}

// Close releases the sensor port whether or not Run was ever started.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.reader.Port.Close()
	})
	return s.closeErr
}
