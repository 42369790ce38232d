package classify

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/chriscow/empathic-go/pkg/emotion"
)

// ErrEncoding marks an inbound payload that could not be decoded. The
// message is dropped; the channel stays open.
var ErrEncoding = errors.New("malformed inbound message")

const (
	// DefaultDedupTTL is how long a speech-turn fingerprint suppresses repeats.
	DefaultDedupTTL = 5 * time.Second

	// DefaultDedupBucket is the timestamp granularity of a fingerprint.
	DefaultDedupBucket = time.Millisecond

	// DefaultAudioMimeType tags decoded audio_output payloads.
	DefaultAudioMimeType = "audio/wav"
)

// Config configures a Classifier. Zero values select the defaults.
type Config struct {
	DedupTTL      time.Duration
	DedupBucket   time.Duration
	AudioMimeType string

	// Now drives dedup expiry. Defaults to time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

// Classifier maps raw voice-channel payloads to events.
type Classifier struct {
	bucket   time.Duration
	mimeType string
	dedup    *Dedup
	logger   *slog.Logger
}

// New creates a Classifier.
func New(cfg Config) *Classifier {
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = DefaultDedupTTL
	}
	if cfg.DedupBucket <= 0 {
		cfg.DedupBucket = DefaultDedupBucket
	}
	if cfg.AudioMimeType == "" {
		cfg.AudioMimeType = DefaultAudioMimeType
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Classifier{
		bucket:   cfg.DedupBucket,
		mimeType: cfg.AudioMimeType,
		dedup:    NewDedup(cfg.DedupTTL, cfg.Now),
		logger:   cfg.Logger,
	}
}

type wireMessage struct {
	Type        string          `json:"type"`
	ID          string          `json:"id"`
	ChatGroupID string          `json:"chat_group_id"`
	ChatID      string          `json:"chat_id"`
	RequestID   string          `json:"request_id"`
	Data        string          `json:"data"`
	Code        string          `json:"code"`
	Message     json.RawMessage `json:"message"`
	Models      *wireModels     `json:"models"`
}

type wireChatMessage struct {
	Role    string      `json:"role"`
	Content string      `json:"content"`
	Models  *wireModels `json:"models"`
}

type wireModels struct {
	Prosody *struct {
		Scores emotion.Scores `json:"scores"`
	} `json:"prosody"`
}

func (m *wireModels) scores() emotion.Scores {
	if m == nil || m.Prosody == nil {
		return nil
	}
	return m.Prosody.Scores
}

// Classify decodes raw, received at time at, into an event. A nil event with
// a nil error means the message was recognised but produces nothing
// (duplicate, empty turn, or unknown type).
func (c *Classifier) Classify(raw []byte, at time.Time) (Event, error) {
	var msg wireMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}

	switch msg.Type {
	case TypeChatMetadata:
		return Metadata{
			ChatGroupID: msg.ChatGroupID,
			ChatID:      msg.ChatID,
			RequestID:   msg.RequestID,
		}, nil

	case TypeUserMessage, TypeAssistantMessage:
		return c.speechTurn(msg, at)

	case TypeAudioOutput:
		if msg.Data == "" {
			return nil, nil
		}
		data, err := base64.StdEncoding.DecodeString(msg.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: audio_output %s: %v", ErrEncoding, msg.ID, err)
		}
		return AudioChunk{ID: msg.ID, Data: data, MimeType: c.mimeType}, nil

	case TypeUserInterruption:
		return Interruption{}, nil

	case TypeError:
		var text string
		if len(msg.Message) > 0 {
			// usually a plain string; keep anything else verbatim
			if err := json.Unmarshal(msg.Message, &text); err != nil {
				text = string(msg.Message)
			}
		}
		return TransportError{Code: msg.Code, Message: text}, nil

	default:
		c.logger.Debug("Ignoring unknown message type", slog.String("type", msg.Type))
		return nil, nil
	}
}

func (c *Classifier) speechTurn(msg wireMessage, at time.Time) (Event, error) {
	var chat wireChatMessage
	if len(msg.Message) > 0 {
		if err := json.Unmarshal(msg.Message, &chat); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrEncoding, msg.Type, err)
		}
	}
	if chat.Content == "" {
		return nil, nil
	}

	if c.dedup.Seen(c.fingerprint(msg.Type, at)) {
		c.logger.Debug("Suppressing duplicate speech turn", slog.String("type", msg.Type))
		return nil, nil
	}

	scores := msg.Models.scores()
	if scores == nil {
		scores = chat.Models.scores()
	}

	role := Role(chat.Role)
	if role == "" && msg.Type == TypeAssistantMessage {
		role = RoleAssistant
	} else if role == "" {
		role = RoleUser
	}

	return SpeechTurn{
		Role:      role,
		Content:   chat.Content,
		Timestamp: at,
		Emotions:  emotion.Rank(scores, MaxTurnEmotions),
	}, nil
}

func (c *Classifier) fingerprint(kind string, at time.Time) string {
	bucket := at.UnixNano() / int64(c.bucket)
	return kind + "-" + strconv.FormatInt(bucket, 10)
}
