package voice

import (
	"sync"
	"testing"
)

func TestNewAudioGate(t *testing.T) {
	gate := NewAudioGate(true)

	if gate.ShouldDiscardAudio() {
		t.Error("NewAudioGate() should initially not discard audio")
	}

	gate.SetPlaying(true)
	if !gate.ShouldDiscardAudio() {
		t.Error("Should discard audio while assistant audio is playing")
	}

	gate.SetPlaying(false)
	if gate.ShouldDiscardAudio() {
		t.Error("Should not discard audio once playback stops")
	}

	if got := gate.Discarded(); got != 1 {
		t.Errorf("Discarded() = %d, want 1", got)
	}
}

func TestAudioGateBargeIn(t *testing.T) {
	gate := NewAudioGate(false)
	gate.SetPlaying(true)

	if gate.ShouldDiscardAudio() {
		t.Error("gate without muting must let audio through during playback")
	}
}

func TestAudioGateConcurrency(t *testing.T) {
	gate := NewAudioGate(true)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(playing bool) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				gate.SetPlaying(playing)
			}
		}(i%2 == 0)
	}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = gate.ShouldDiscardAudio()
			}
		}()
	}
	wg.Wait()
}
