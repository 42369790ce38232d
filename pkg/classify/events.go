// Package classify turns raw inbound voice-channel messages into a closed
// set of typed events and suppresses duplicate speech turns.
package classify

import (
	"fmt"
	"time"

	"github.com/chriscow/empathic-go/pkg/emotion"
)

// Message types on the wire.
const (
	TypeChatMetadata     = "chat_metadata"
	TypeUserMessage      = "user_message"
	TypeAssistantMessage = "assistant_message"
	TypeAudioOutput      = "audio_output"
	TypeUserInterruption = "user_interruption"
	TypeError            = "error"
)

// Kind identifies an inbound event variant.
type Kind int

const (
	KindMetadata Kind = iota
	KindSpeechTurn
	KindAudioChunk
	KindInterruption
	KindTransportError
	KindTransportClosed
)

func (k Kind) String() string {
	switch k {
	case KindMetadata:
		return "metadata"
	case KindSpeechTurn:
		return "speech_turn"
	case KindAudioChunk:
		return "audio_chunk"
	case KindInterruption:
		return "interruption"
	case KindTransportError:
		return "transport_error"
	case KindTransportClosed:
		return "transport_closed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// Role of the speaker in a speech turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MaxTurnEmotions is the number of emotions attached to a speech turn.
const MaxTurnEmotions = 3

// Event is one classified inbound message.
type Event interface {
	Kind() Kind
}

// Metadata is sent once per connection and carries the resumable chat group.
type Metadata struct {
	ChatGroupID string
	ChatID      string
	RequestID   string
}

// SpeechTurn is one user or assistant utterance.
type SpeechTurn struct {
	Role      Role
	Content   string
	Timestamp time.Time
	// Emotions holds up to MaxTurnEmotions entries, highest score first.
	Emotions []emotion.Ranked
}

// AudioChunk is one synthesized audio segment, already base64-decoded.
type AudioChunk struct {
	ID       string
	Data     []byte
	MimeType string
}

// Interruption signals the user started speaking over assistant audio.
type Interruption struct{}

// TransportError reports a channel failure or a server-side error message.
type TransportError struct {
	Code    string
	Message string
	Err     error
}

// TransportClosed reports the channel went away.
type TransportClosed struct {
	Code   int
	Reason string
}

func (Metadata) Kind() Kind { return KindMetadata }
func (SpeechTurn) Kind() Kind { return KindSpeechTurn }
func (AudioChunk) Kind() Kind { return KindAudioChunk }
func (Interruption) Kind() Kind { return KindInterruption }
func (TransportError) Kind() Kind { return KindTransportError }
func (TransportClosed) Kind() Kind { return KindTransportClosed }

func (e TransportError) Error() string {
	switch {
	case e.Err != nil:
		return e.Err.Error()
	case e.Code != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	default:
		return e.Message
	}
}

func (e TransportError) Unwrap() error { return e.Err }

func (e TransportClosed) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("channel closed (%d)", e.Code)
	}
	return fmt.Sprintf("channel closed (%d): %s", e.Code, e.Reason)
}
