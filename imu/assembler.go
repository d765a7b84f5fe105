package imu

import (
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/w1xm/mount_control/internal/metrics"
	"go.uber.org/zap"
)

// Assembler locates frames in a token stream and integrates the decoded rates.
// It is not safe for concurrent use; one producer feeds it.
type Assembler struct {
	Clock   clock.Clock
	Logger  *zap.SugaredLogger
	Metrics *metrics.Collector

	backlog  []string
	angles   [3]float64
	lastRate [3]float64
	last     time.Time
	seen     bool
}

func NewAssembler(clk clock.Clock, logger *zap.SugaredLogger, m *metrics.Collector) *Assembler {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Assembler{Clock: clk, Logger: logger, Metrics: m}
}

// Feed appends tokens to the backlog and returns every sample decoded as a result.
// Each iteration either consumes one whole frame or drops one leading token.
func (a *Assembler) Feed(tokens []string) []Sample {
	a.backlog = append(a.backlog, tokens...)
	var out []Sample
	dropped := 0
	for len(a.backlog) >= FrameSize {
		if !IsHeader(a.backlog) {
			a.backlog = a.backlog[1:]
			dropped++
			continue
		}
		s, err := Decode(a.backlog[:FrameSize])
		if err != nil {
			a.Logger.Debugf("resynchronising: %v", err)
			a.backlog = a.backlog[1:]
			dropped++
			continue
		}
		a.backlog = a.backlog[FrameSize:]
		a.integrate(s)
		a.Metrics.Frame()
		out = append(out, s)
	}
	a.Metrics.Dropped(dropped)
	if len(a.backlog) == 0 {
		a.backlog = nil
	}
	return out
}

// Rates arrive in degrees per second but are still scaled by 180/π here.
// Calibrated consumers account for that factor.
func (a *Assembler) integrate(s Sample) {
	now := a.Clock.Now()
	if a.seen {
		dt := now.Sub(a.last).Seconds()
		for i := range a.angles {
			a.angles[i] += s.Rate[i] * dt * (180 / math.Pi)
		}
	}
	a.last = now
	a.lastRate = s.Rate
	a.seen = true
}

// Angles returns the accumulated x, y, z angles. They are neither wrapped nor clamped.
func (a *Assembler) Angles() [3]float64 {
	return a.angles
}

func (a *Assembler) LastRate() [3]float64 {
	return a.lastRate
}

// Len returns the number of tokens waiting for a frame boundary.
func (a *Assembler) Len() int {
	return len(a.backlog)
}
