package session

import (
	"context"
	"math"
	"sync"
	"time"
)

// Status is a snapshot of one session as reported to operators.
type Status struct {
	SessionID   string  `json:"session_id"`
	Mode        string  `json:"mode"`
	Status      string  `json:"status"`
	CurrentAz   float64 `json:"current_az"`
	CurrentAlt  float64 `json:"current_alt"`
	TargetAz    float64 `json:"target_az"`
	TargetAlt   float64 `json:"target_alt"`
	CurrentTime string  `json:"current_time"`
	Error       string  `json:"error,omitempty"`
	// Seq increases with every published snapshot.
	Seq uint64 `json:"-"`
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func formatTime(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

// Board holds the latest status and wakes watchers when it changes.
type Board struct {
	mu   sync.RWMutex
	cond *sync.Cond
	last Status
}

func NewBoard(initial Status) *Board {
	b := &Board{last: initial}
	b.cond = sync.NewCond(b.mu.RLocker())
	return b
}

func (b *Board) Publish(s Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s.Seq = b.last.Seq + 1
	b.last = s
	b.cond.Broadcast()
}

func (b *Board) Latest() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.last
}

// Next blocks until a snapshot newer than seq is published or ctx is done.
func (b *Board) Next(ctx context.Context, seq uint64) (Status, error) {
	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.cond.Broadcast()
		b.mu.Unlock()
	})
	defer stop()
	b.mu.RLock()
	defer b.mu.RUnlock()
	for b.last.Seq <= seq {
		if err := ctx.Err(); err != nil {
			return Status{}, err
		}
		b.cond.Wait()
	}
	return b.last, nil
}
