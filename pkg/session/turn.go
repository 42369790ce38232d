package session

import (
	"log/slog"

	"github.com/chriscow/empathic-go/pkg/classify"
	"github.com/chriscow/empathic-go/pkg/emotion"
)

// TimestampLayout is ISO-8601 in UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Turn is a speech turn as delivered to listeners.
type Turn struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Timestamp string           `json:"timestamp"`
	Emotions  []emotion.Ranked `json:"emotions"`
}

// NewTurn converts a classified speech turn.
func NewTurn(st classify.SpeechTurn) Turn {
	emotions := st.Emotions
	if emotions == nil {
		emotions = []emotion.Ranked{}
	}
	return Turn{
		Role:      string(st.Role),
		Content:   st.Content,
		Timestamp: st.Timestamp.UTC().Format(TimestampLayout),
		Emotions:  emotions,
	}
}

// Listener consumes speech turns.
type Listener func(Turn)

// TranscriptListener consumes the raw text of each speech turn.
type TranscriptListener func(text string)

// FrameListener consumes the top emotions measured on one video frame or
// text passage.
type FrameListener func(scores []emotion.Score)

// Notifier surfaces user-facing errors.
type Notifier interface {
	Notify(err error)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(err error)

func (f NotifierFunc) Notify(err error) { f(err) }

type logNotifier struct {
	logger *slog.Logger
}

func (n logNotifier) Notify(err error) {
	n.logger.Error("Session error", slog.String("error", err.Error()))
}
