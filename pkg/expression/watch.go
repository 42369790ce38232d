package expression

import (
	"context"
	"log/slog"
	"time"
)

// DefaultWatchInterval is how often Watch polls its text source.
const DefaultWatchInterval = 5 * time.Second

// TextSource returns the current text of whatever is being watched.
type TextSource func(ctx context.Context) (string, error)

// Watch polls src every interval and submits its text to the language model
// whenever it is non-empty and differs from the last submission. It returns
// when ctx is done.
func (s *Stream) Watch(ctx context.Context, src TextSource, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var latest string
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			text, err := src(ctx)
			if err != nil {
				s.logger.Warn("Text source failed", slog.String("error", err.Error()))
				continue
			}
			if text == "" || text == latest {
				continue
			}
			if err := s.SendText(ctx, text); err != nil {
				s.logger.Debug("Text not sent", slog.String("error", err.Error()))
				continue
			}
			latest = text
		}
	}
}
