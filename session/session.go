// Package session runs one slew of the mount: the control loop plus a status sampler
// that publishes snapshots for operators.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/w1xm/mount_control/controller"
	"github.com/w1xm/mount_control/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Worker is a background task that lives as long as the control loop, such as a
// sensor stream reader.
type Worker func(ctx context.Context) error

type Options struct {
	// SampleEvery is the status sampling period. Defaults to 500ms.
	SampleEvery time.Duration
	Clock       clock.Clock
	Logger      *zap.SugaredLogger
	Metrics     *metrics.Collector
	// OnStatus receives every sampled snapshot.
	OnStatus func(Status)
	Workers  []Worker
}

type Session struct {
	id          string
	ctrl        *controller.Controller
	sampleEvery time.Duration
	clock       clock.Clock
	logger      *zap.SugaredLogger
	metrics     *metrics.Collector
	onStatus    func(Status)

	cancel   context.CancelFunc
	loopDone chan struct{}
	done     chan struct{}
	err      error

	mu     sync.RWMutex
	status Status
}

// Start launches the control loop and the status sampler. The controller is closed
// when the loop ends.
func Start(ctx context.Context, ctrl *controller.Controller, opts Options) *Session {
	s := &Session{
		id:          uuid.NewString(),
		ctrl:        ctrl,
		sampleEvery: opts.SampleEvery,
		clock:       opts.Clock,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		onStatus:    opts.OnStatus,
		loopDone:    make(chan struct{}),
		done:        make(chan struct{}),
	}
	if s.sampleEvery <= 0 {
		s.sampleEvery = 500 * time.Millisecond
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.logger == nil {
		s.logger = zap.NewNop().Sugar()
	}
	s.logger = s.logger.With("session", s.id)
	ctx, s.cancel = context.WithCancel(ctx)
	s.sample(controller.Running.String(), "")

	workerCtx, stopWorkers := context.WithCancel(ctx)
	var g errgroup.Group
	for _, w := range opts.Workers {
		w := w
		g.Go(func() error {
			if err := w(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Errorf("background worker: %v", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		defer close(s.loopDone)
		defer stopWorkers()
		err := ctrl.Run(ctx)
		if cerr := ctrl.Close(); cerr != nil {
			s.logger.Errorf("closing controller: %v", cerr)
		}
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		return nil
	})
	g.Go(func() error {
		s.sampler()
		return nil
	})
	go func() {
		g.Wait()
		s.cancel()
		state := ctrl.State()
		var msg string
		if s.err != nil && !errors.Is(s.err, context.Canceled) {
			msg = s.err.Error()
		}
		s.sample(state.String(), msg)
		s.metrics.SessionEnded(state.String())
		s.logger.Infof("session finished: %v", state)
		close(s.done)
	}()
	return s
}

func (s *Session) sampler() {
	ticker := s.clock.Ticker(s.sampleEvery)
	defer ticker.Stop()
	for {
		select {
		case <-s.loopDone:
			return
		case <-ticker.C:
		}
		s.sample(s.ctrl.State().String(), "")
	}
}

func (s *Session) sample(state, errMsg string) {
	current := s.ctrl.Attitude()
	target := s.ctrl.Target()
	st := Status{
		SessionID:   s.id,
		Mode:        s.ctrl.Mode().String(),
		Status:      state,
		CurrentAz:   round2(current.Azimuth),
		CurrentAlt:  round2(current.Altitude),
		TargetAz:    round2(target.Azimuth),
		TargetAlt:   round2(target.Altitude),
		CurrentTime: formatTime(s.clock.Now()),
		Error:       errMsg,
	}
	s.mu.Lock()
	st.Seq = s.status.Seq + 1
	s.status = st
	s.mu.Unlock()
	if s.onStatus != nil {
		s.onStatus(st)
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Controller() *controller.Controller {
	return s.ctrl
}

// Status returns the latest snapshot.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Done is closed once the loop has ended and the final snapshot is published.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session ends and returns the control loop's result.
func (s *Session) Wait() error {
	<-s.done
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Stop cancels the control loop and waits for it to wind down. Stopping an
// operator-cancelled session is not an error.
func (s *Session) Stop() error {
	s.cancel()
	err := s.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
