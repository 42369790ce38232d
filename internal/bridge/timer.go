package bridge

import (
	"fmt"
	"sync"
	"time"
)

// recordingTimer measures how long capture has been running.
type recordingTimer struct {
	now func() time.Time

	mu    sync.Mutex
	since time.Time
}

func (t *recordingTimer) start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.since.IsZero() {
		t.since = t.now()
	}
}

func (t *recordingTimer) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.since = time.Time{}
}

func (t *recordingTimer) elapsed() (time.Time, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.since.IsZero() {
		return time.Time{}, 0
	}
	return t.since, t.now().Sub(t.since)
}

// formatElapsed renders d as mm:ss.
func formatElapsed(d time.Duration) string {
	secs := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}
