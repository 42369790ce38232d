// Package voice gates microphone capture against assistant playback.
package voice

import "sync/atomic"

// AudioGate decides whether captured microphone audio should be dropped
// because assistant audio is currently audible. Without echo cancellation
// the remote service would otherwise hear its own voice and interrupt itself.
type AudioGate interface {
	// SetPlaying records whether assistant audio is currently playing.
	SetPlaying(playing bool)

	// ShouldDiscardAudio returns true if microphone chunks should be dropped.
	ShouldDiscardAudio() bool

	// Discarded returns how many chunks the gate has rejected.
	Discarded() int64
}

// NewAudioGate creates a gate. When mute is false the gate never discards,
// so users can barge in over the assistant.
func NewAudioGate(mute bool) AudioGate {
	return &defaultGate{mute: mute}
}

type defaultGate struct {
	mute      bool
	playing   atomic.Bool
	discarded atomic.Int64
}

func (g *defaultGate) SetPlaying(playing bool) {
	g.playing.Store(playing)
}

func (g *defaultGate) ShouldDiscardAudio() bool {
	if g.mute && g.playing.Load() {
		g.discarded.Add(1)
		return true
	}
	return false
}

func (g *defaultGate) Discarded() int64 {
	return g.discarded.Load()
}
