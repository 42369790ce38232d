// Package playback serializes synthesized audio segments so they play
// strictly in arrival order and never overlap.
package playback

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Segment is one opaque audio blob ready for playback.
type Segment struct {
	ID       string
	Data     []byte
	MimeType string
}

// Player renders a single segment. Play blocks until the segment finished
// or ctx is cancelled, and must return promptly after cancellation.
type Player interface {
	Play(ctx context.Context, seg Segment) error
}

// Config configures a Queue.
type Config struct {
	Player Player
	Logger *slog.Logger

	// OnStateChange is called with true when playback starts from idle and
	// false when the queue drains or is interrupted. Calls are serialized and
	// the last one always matches Playing once the queue settles.
	OnStateChange func(playing bool)

	// OnPlayed is called after each segment finishes, err is the player result.
	OnPlayed func(seg Segment, err error)
}

// Queue is a FIFO of segments with a single playback worker.
type Queue struct {
	player   Player
	logger   *slog.Logger
	onState  func(bool)
	onPlayed func(Segment, error)

	mu      sync.Mutex
	pending []Segment
	current *Segment
	playing bool
	cancel  context.CancelFunc
	// last is closed once the most recent playback run has fully stopped.
	last chan struct{}

	// stateMu orders OnStateChange calls; reported is the last value sent.
	stateMu  sync.Mutex
	reported bool
}

// NewQueue creates an idle Queue.
func NewQueue(cfg Config) (*Queue, error) {
	if cfg.Player == nil {
		return nil, errors.New("player is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Queue{
		player:   cfg.Player,
		logger:   cfg.Logger,
		onState:  cfg.OnStateChange,
		onPlayed: cfg.OnPlayed,
	}, nil
}

// Enqueue appends seg and starts playback if nothing is playing.
func (q *Queue) Enqueue(seg Segment) {
	q.mu.Lock()
	q.pending = append(q.pending, seg)
	if q.playing {
		q.mu.Unlock()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	prev := q.last
	done := make(chan struct{})
	q.playing = true
	q.cancel = cancel
	q.last = done
	q.mu.Unlock()

	q.notify()
	go q.run(ctx, prev, done)
}

// Interrupt stops the current segment, discards everything pending, and
// returns once the player has let go of the segment. It must not be called
// from OnStateChange or OnPlayed.
func (q *Queue) Interrupt() {
	q.mu.Lock()
	dropped := len(q.pending)
	q.pending = nil
	cancel, done, wasPlaying := q.cancel, q.last, q.playing
	q.cancel = nil
	q.playing = false
	q.mu.Unlock()

	if !wasPlaying {
		return
	}

	q.logger.Debug("Interrupting playback", slog.Int("dropped", dropped))
	cancel()
	<-done
	q.notify()
}

// Playing reports whether a segment is currently being played.
func (q *Queue) Playing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing
}

// Len returns the number of segments waiting behind the current one.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Current returns the segment being played, if any.
func (q *Queue) Current() (Segment, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current == nil {
		return Segment{}, false
	}
	return *q.current, true
}

func (q *Queue) run(ctx context.Context, prev <-chan struct{}, done chan struct{}) {
	defer close(done)

	// never overlap a run that is still unwinding from an interrupt
	if prev != nil {
		<-prev
	}

	for {
		q.mu.Lock()
		if ctx.Err() != nil {
			q.current = nil
			q.mu.Unlock()
			return
		}
		if len(q.pending) == 0 {
			q.current = nil
			q.playing = false
			if q.cancel != nil {
				q.cancel()
				q.cancel = nil
			}
			q.mu.Unlock()
			q.notify()
			return
		}
		seg := q.pending[0]
		q.pending[0] = Segment{}
		q.pending = q.pending[1:]
		q.current = &seg
		q.mu.Unlock()

		err := q.player.Play(ctx, seg)
		if ctx.Err() != nil {
			err = nil
		}
		if err != nil {
			q.logger.Error("Playback failed, skipping segment",
				slog.String("segment", seg.ID),
				slog.String("error", err.Error()))
		}
		if q.onPlayed != nil && ctx.Err() == nil {
			q.onPlayed(seg, err)
		}
	}
}

// notify reports the current playing state if it differs from the last
// report. The state is read under stateMu so a stale caller cannot overwrite
// a newer transition.
func (q *Queue) notify() {
	if q.onState == nil {
		return
	}
	q.stateMu.Lock()
	defer q.stateMu.Unlock()

	q.mu.Lock()
	playing := q.playing
	q.mu.Unlock()
	if playing == q.reported {
		return
	}
	q.reported = playing
	q.onState(playing)
}
