package engine

import (
	"github.com/normanking/avatarsync/internal/audio"
)

// AssistantEvent is a producer event resolved once at the transport boundary.
// Downstream code switches on the concrete variant instead of inspecting raw
// payload shapes.
type AssistantEvent interface {
	// ResponseID identifies the logical utterance the event belongs to.
	ResponseID() string

	isAssistantEvent()
}

// AudioStarted announces a new response: the producer will start streaming
// audio for this id.
type AudioStarted struct {
	ID string
}

// AudioDelta carries one chunk of raw response audio.
type AudioDelta struct {
	ID    string
	Chunk *audio.Chunk
}

// AudioStopped is the producer's explicit end-of-audio signal.
type AudioStopped struct {
	ID string
}

// AudioDoneFallback marks a response as finished because no audio arrived
// within the silence window. It carries the same completion semantics as
// AudioStopped but records that the explicit signal was missed.
type AudioDoneFallback struct {
	ID string
}

func (e AudioStarted) ResponseID() string      { return e.ID }
func (e AudioDelta) ResponseID() string        { return e.ID }
func (e AudioStopped) ResponseID() string      { return e.ID }
func (e AudioDoneFallback) ResponseID() string { return e.ID }

func (AudioStarted) isAssistantEvent()      {}
func (AudioDelta) isAssistantEvent()        {}
func (AudioStopped) isAssistantEvent()      {}
func (AudioDoneFallback) isAssistantEvent() {}
