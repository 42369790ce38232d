package fake

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chriscow/empathic-go/pkg/playback"
)

// FakePlayer is a playback.Player for tests. Each segment "plays" for Delay,
// or until Release when Hold is set.
type FakePlayer struct {
	Delay time.Duration
	Hold  bool
	Err   error

	started chan string
	release chan struct{}

	active    atomic.Int32
	maxActive atomic.Int32

	mu        sync.Mutex
	completed []string
	cancelled []string
}

// NewFakePlayer creates a fake player with the given per-segment duration.
func NewFakePlayer(delay time.Duration) *FakePlayer {
	return &FakePlayer{
		Delay:   delay,
		started: make(chan string, 100),
		release: make(chan struct{}),
	}
}

// Play records the segment and blocks for its fake duration.
func (p *FakePlayer) Play(ctx context.Context, seg playback.Segment) error {
	n := p.active.Add(1)
	defer p.active.Add(-1)
	for {
		max := p.maxActive.Load()
		if n <= max || p.maxActive.CompareAndSwap(max, n) {
			break
		}
	}

	select {
	case p.started <- seg.ID:
	default:
	}

	var wait <-chan time.Time
	if !p.Hold {
		timer := time.NewTimer(p.Delay)
		defer timer.Stop()
		wait = timer.C
	}

	select {
	case <-wait:
	case <-p.release:
	case <-ctx.Done():
		p.mu.Lock()
		p.cancelled = append(p.cancelled, seg.ID)
		p.mu.Unlock()
		return ctx.Err()
	}

	p.mu.Lock()
	p.completed = append(p.completed, seg.ID)
	p.mu.Unlock()
	return p.Err
}

// Started delivers segment IDs as playback begins.
func (p *FakePlayer) Started() <-chan string {
	return p.started
}

// Release finishes the currently held segment.
func (p *FakePlayer) Release() {
	p.release <- struct{}{}
}

// Completed returns IDs of segments that played to the end, in order.
func (p *FakePlayer) Completed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.completed...)
}

// Cancelled returns IDs of segments cut short by an interrupt.
func (p *FakePlayer) Cancelled() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.cancelled...)
}

// MaxConcurrent is the highest number of simultaneous Play calls observed.
func (p *FakePlayer) MaxConcurrent() int {
	return int(p.maxActive.Load())
}
