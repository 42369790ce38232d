package transport

import "encoding/base64"

// Outbound message types.
const (
	TypeAudioInput      = "audio_input"
	TypeUserInput       = "user_input"
	TypeSessionSettings = "session_settings"
)

// AudioInput carries one base64 encoded audio slice.
type AudioInput struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// NewAudioInput encodes raw audio bytes.
func NewAudioInput(raw []byte) AudioInput {
	return AudioInput{Type: TypeAudioInput, Data: base64.StdEncoding.EncodeToString(raw)}
}

// UserInput is a typed user message.
type UserInput struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func NewUserInput(text string) UserInput {
	return UserInput{Type: TypeUserInput, Text: text}
}

// AudioSettings describes raw PCM input.
type AudioSettings struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// SessionSettings configures the chat after connect.
type SessionSettings struct {
	Type  string         `json:"type"`
	Audio *AudioSettings `json:"audio,omitempty"`
}

func NewSessionSettings(audio AudioSettings) SessionSettings {
	return SessionSettings{Type: TypeSessionSettings, Audio: &audio}
}
